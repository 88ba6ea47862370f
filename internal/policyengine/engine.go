package policyengine

import (
	"strconv"
	"strings"
	"sync"
)

// Packet is the packet-derived match input to CheckPacket.
type Packet struct {
	DPID     string
	SrcMAC   string
	DstMAC   string
	SrcIP    string
	DstIP    string
	Protocol string
	DstPort  int
}

// Decision is the resolved outcome of CheckPacket.
type Decision struct {
	Action       NormalizedAction
	PolicyID     string
	Reason       string
	RateLimit    int
	BurstKB      int
	RedirectIP   string
	RedirectPort int
}

// Engine holds the controller's live policy set.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*Policy
	nextSeq  uint64
}

// New constructs an empty policy engine.
func New() *Engine {
	return &Engine{policies: make(map[string]*Policy)}
}

// Create adds a new policy, assigning it the next insertion sequence
// number for tie-break purposes.
func (e *Engine) Create(p *Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextSeq++
	p.seq = e.nextSeq
	e.policies[p.ID] = p
}

// Get returns a policy by id.
func (e *Engine) Get(id string) (*Policy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.policies[id]
	return p, ok
}

// Update replaces a policy in place, bumping its sequence number so it
// wins any new tie as the most recently touched policy.
func (e *Engine) Update(p *Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextSeq++
	p.seq = e.nextSeq
	e.policies[p.ID] = p
}

// Delete removes a policy.
func (e *Engine) Delete(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.policies, id)
}

// List returns every policy, in no particular order.
func (e *Engine) List() []*Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Policy, 0, len(e.policies))
	for _, p := range e.policies {
		out = append(out, p)
	}
	return out
}

// CheckPacket implements the five-step matching algorithm: iterate active
// policies, match conditions and ACL semantics, resolve the
// highest-priority match (ties won by most-recently-inserted/updated),
// and normalize its action.
func (e *Engine) CheckPacket(pkt Packet) Decision {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var best *Policy
	var bestForcedDrop bool

	for _, p := range e.policies {
		if p.Status == StatusInactive {
			continue
		}
		matched, forcedDrop := matchPolicy(p, pkt)
		if !matched {
			continue
		}
		if best == nil || higherPriority(p, best) {
			best = p
			bestForcedDrop = forcedDrop
		}
	}

	if best == nil {
		return Decision{Action: ActionAllow, Reason: "no matching policy"}
	}

	if bestForcedDrop {
		return Decision{Action: ActionDrop, PolicyID: best.ID, Reason: "acl denied"}
	}
	return extractAction(best)
}

// higherPriority reports whether candidate should replace current as the
// best match: strictly higher priority wins outright; equal priority is
// won by the more recently inserted/updated policy (P5/Design Notes).
func higherPriority(candidate, current *Policy) bool {
	if candidate.Priority != current.Priority {
		return candidate.Priority > current.Priority
	}
	return candidate.seq >= current.seq
}

// matchPolicy implements steps 2-3: condition matching and ACL semantics.
// The second return value reports whether the match resolves the policy
// as a forced BLOCK via ACL deny (P6), which dominates the policy's own
// configured action.
func matchPolicy(p *Policy, pkt Packet) (matched bool, forcedDrop bool) {
	c := p.Conditions

	if c.SrcIP != "" && c.SrcIP != pkt.SrcIP {
		return false, false
	}
	if c.DstIP != "" && c.DstIP != pkt.DstIP {
		return false, false
	}
	if c.Protocol != "" && !strings.EqualFold(c.Protocol, pkt.Protocol) {
		return false, false
	}
	if c.DstPort != nil && *c.DstPort != pkt.DstPort {
		return false, false
	}
	if c.SrcMAC != "" && c.SrcMAC != pkt.SrcMAC {
		return false, false
	}
	if c.DstMAC != "" && c.DstMAC != pkt.DstMAC {
		return false, false
	}

	target := p.Scope.targetID(p)
	if target != "" && target != pkt.SrcMAC && target != pkt.DstMAC {
		return false, false
	}

	if len(c.AllowedIPs) > 0 || len(c.DeniedIPs) > 0 {
		remoteIPs := selectRemoteIPs(target, pkt)
		for _, remote := range remoteIPs {
			if contains(c.DeniedIPs, remote) {
				return true, true
			}
		}
		if len(c.AllowedIPs) > 0 {
			anyAllowed := false
			for _, remote := range remoteIPs {
				if contains(c.AllowedIPs, remote) {
					anyAllowed = true
					break
				}
			}
			if !anyAllowed {
				return true, true
			}
		}
		// Allowed and not denied: the ACL abstains rather than matching.
		return false, false
	}

	return true, false
}

// selectRemoteIPs implements "if target_id equals src_mac, remote=dst_ip;
// if target_id equals dst_mac, remote=src_ip; else both IPs are checked".
func selectRemoteIPs(target string, pkt Packet) []string {
	switch {
	case target != "" && target == pkt.SrcMAC:
		return []string{pkt.DstIP}
	case target != "" && target == pkt.DstMAC:
		return []string{pkt.SrcIP}
	default:
		return []string{pkt.SrcIP, pkt.DstIP}
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// extractAction implements step 5: flat action field first, else the
// nested actions.primary_action shape, with synonym normalization and
// throttle/redirect parameter extraction covering both nested and legacy
// shapes.
func extractAction(p *Policy) Decision {
	raw := p.Action
	params := p.ActionParams
	if raw == "" && p.Actions.PrimaryAction != nil {
		raw = p.Actions.PrimaryAction.ActionType
		params = p.Actions.PrimaryAction.ActionParams
	}

	action := normalizeAction(raw)
	dec := Decision{Action: action, PolicyID: p.ID, Reason: "policy matched"}

	switch action {
	case ActionThrottle:
		if params.RateLimit != nil {
			dec.RateLimit = *params.RateLimit
		} else if params.BandwidthMbps != nil {
			rate := int(*params.BandwidthMbps * 1000)
			if rate < 1000 {
				rate = 1000
			}
			dec.RateLimit = rate
		}
		if params.Burst != nil {
			dec.BurstKB = *params.Burst
		}
	case ActionRedirect:
		if len(params.Targets) > 0 {
			dec.RedirectIP = params.Targets[0].IP
			dec.RedirectPort = params.Targets[0].Port
		} else if params.RedirectTarget != "" {
			dec.RedirectIP = params.RedirectTarget
		}
	}

	return dec
}

// ParseDstPort parses a dst_port condition value that may arrive as a
// string in a loosely-typed wire payload, matching the spec's
// integer-parse requirement.
func ParseDstPort(raw string) (int, error) {
	return strconv.Atoi(raw)
}
