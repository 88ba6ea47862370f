// Package policyengine implements the controller-side packet-matching
// state machine (C8): priority-ordered policy matching, ACL allow/deny
// semantics, and action-synonym normalization.
package policyengine

import "time"

// PolicyStatus gates whether a policy is considered during matching.
type PolicyStatus string

const (
	StatusActive   PolicyStatus = "active"
	StatusInactive PolicyStatus = "inactive"
)

// Conditions is the full controller-side condition schema. Every
// non-empty field must equal its packet-derived counterpart for the
// policy to match; an empty field is not checked.
type Conditions struct {
	SrcIP    string `json:"src_ip,omitempty"`
	DstIP    string `json:"dst_ip,omitempty"`
	SrcMAC   string `json:"src_mac,omitempty"`
	DstMAC   string `json:"dst_mac,omitempty"`
	Protocol string `json:"protocol,omitempty"`
	DstPort  *int   `json:"dst_port,omitempty"`

	AllowedIPs []string `json:"allowed_ips,omitempty"`
	DeniedIPs  []string `json:"denied_ips,omitempty"`
}

// Scope pins a policy to a specific host by MAC, via either scope.target_id
// or a legacy root target_id.
type Scope struct {
	TargetID string `json:"target_id,omitempty"`
}

// RedirectTarget is one entry of the nested redirect target list shape.
type RedirectTarget struct {
	IP   string `json:"ip"`
	Port int    `json:"port,omitempty"`
}

// ActionParams carries the action-specific parameters in both the nested
// (actions.primary_action) and legacy flat shapes.
type ActionParams struct {
	RateLimit      *int             `json:"rate_limit,omitempty"`
	BandwidthMbps  *float64         `json:"bandwidth_mbps,omitempty"`
	Burst          *int             `json:"burst,omitempty"`
	Targets        []RedirectTarget `json:"targets,omitempty"`
	RedirectTarget string           `json:"redirect_target,omitempty"`
}

// PrimaryAction is the nested actions.primary_action shape.
type PrimaryAction struct {
	ActionType   string       `json:"action_type"`
	ActionParams ActionParams `json:"action_params"`
}

// Actions is the nested action container, an alternative to the flat
// Action/ActionParams fields on Policy.
type Actions struct {
	PrimaryAction *PrimaryAction `json:"primary_action,omitempty"`
}

// Policy is the controller-side policy record.
type Policy struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Priority   int          `json:"priority"`
	Status     PolicyStatus `json:"status"`
	Scope      Scope        `json:"scope"`
	TargetID   string       `json:"target_id,omitempty"` // legacy root-level shape
	Conditions Conditions   `json:"conditions"`

	Action       string       `json:"action,omitempty"` // flat shape, preferred
	ActionParams ActionParams `json:"action_params,omitempty"`
	Actions      Actions      `json:"actions,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// seq is the insertion sequence number, used to implement a
	// deterministic last-wins tiebreak among equal-priority matches
	// (see Design Notes: priority ties resolve to the most-recently
	// inserted policy).
	seq uint64
}

func (s Scope) targetID(p *Policy) string {
	if s.TargetID != "" {
		return s.TargetID
	}
	return p.TargetID
}

// NormalizedAction is the seven-valued action set the caller consumes.
type NormalizedAction string

const (
	ActionAllow    NormalizedAction = "allow"
	ActionDrop     NormalizedAction = "drop"
	ActionThrottle NormalizedAction = "throttle"
	ActionRedirect NormalizedAction = "redirect"
	ActionLog      NormalizedAction = "log"
	ActionInspect  NormalizedAction = "inspect"
	ActionIsolate  NormalizedAction = "isolate"
)

// normalizeAction maps a raw action string through the documented synonym
// table, falling back to allow for anything unrecognized.
func normalizeAction(raw string) NormalizedAction {
	switch raw {
	case "deny", "block", "drop":
		return ActionDrop
	case "throttle":
		return ActionThrottle
	case "redirect":
		return ActionRedirect
	case "log":
		return ActionLog
	case "inspect":
		return ActionInspect
	case "isolate":
		return ActionIsolate
	default:
		return ActionAllow
	}
}
