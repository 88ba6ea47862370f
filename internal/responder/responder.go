// Package responder implements the auto-responder (C6): once per flow_id,
// synthesizes and applies a containment policy for a block/redirect
// decision, preferring redirection to a honeypot when the topology offers
// one.
package responder

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ics-guard/icsguard/internal/controllerclient"
	"github.com/ics-guard/icsguard/internal/eventbus"
	"github.com/ics-guard/icsguard/internal/flowstore"
)

const autoPolicyPriority = 100

// Publisher is the narrow interface needed to announce a response.
type Publisher interface {
	Publish(evt eventbus.Event)
}

// Applier is the narrow controller-client surface the responder needs.
type Applier interface {
	FindHoneypot(ctx context.Context) (ip string, ok bool, err error)
	CreatePolicy(ctx context.Context, policy controllerclient.Policy) (controllerclient.Policy, error)
	ApplyPolicy(ctx context.Context, policyID, flowID string) error
}

// Responder applies the once-per-flow auto-response gate.
type Responder struct {
	applier   Applier
	publisher Publisher
	logger    *zap.Logger

	// responded is a process-local set of flow_ids already responded to.
	// LoadOrStore implements the atomic once-per-flow gate in a single
	// call; Delete on failure lets a later observation retry.
	responded sync.Map
}

// New constructs a Responder.
func New(applier Applier, publisher Publisher, logger *zap.Logger) *Responder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Responder{applier: applier, publisher: publisher, logger: logger.Named("responder")}
}

// Respond is the C5 hook: given a block/redirect decision for flow_id, it
// applies the gate, selects and synthesizes a policy, and applies it
// through the controller. Safe to call from multiple goroutines for
// different or the same flow_id.
func (r *Responder) Respond(ctx context.Context, flowID string, snapshot *flowstore.Flow, level flowstore.DecisionLevel) {
	if _, already := r.responded.LoadOrStore(flowID, struct{}{}); already {
		return
	}

	if err := r.respond(ctx, flowID, snapshot, level); err != nil {
		r.logger.Error("auto-response failed, allowing retry", zap.String("flow_id", flowID), zap.Error(err))
		r.responded.Delete(flowID)
	}
}

func (r *Responder) respond(ctx context.Context, flowID string, snapshot *flowstore.Flow, level flowstore.DecisionLevel) error {
	action := r.selectAction(ctx, level)

	var redirectTo string
	if action == controllerclient.ActionRedirect {
		if honeypot, ok, err := r.applier.FindHoneypot(ctx); err == nil && ok {
			redirectTo = honeypot
		} else {
			// No honeypot available: downgrade to block.
			action = controllerclient.ActionBlock
		}
	}

	conditions := controllerclient.PolicyConditions{
		SrcIP: snapshot.SrcIP,
		DstIP: snapshot.DstIP,
	}
	if snapshot.Protocol != "" {
		conditions.Protocol = snapshot.Protocol
	}
	if snapshot.DstPort != 0 {
		conditions.DstPort = snapshot.DstPort
	}

	policy := controllerclient.Policy{
		Name:       "Auto-" + string(action) + "-" + shortID(flowID),
		Priority:   autoPolicyPriority,
		Action:     string(action),
		Conditions: conditions,
		RedirectTo: redirectTo,
	}

	created, err := r.applier.CreatePolicy(ctx, policy)
	if err != nil {
		return err
	}
	if err := r.applier.ApplyPolicy(ctx, created.ID, flowID); err != nil {
		return err
	}

	if r.publisher != nil {
		eventType := eventbus.EventTrafficBlock
		if created.Action == string(controllerclient.ActionRedirect) {
			eventType = eventbus.EventTrafficRedirect
		}
		r.publisher.Publish(eventbus.Event{
			Type:      eventType,
			Timestamp: time.Now().UTC(),
			Data: map[string]interface{}{
				"flow_id":   flowID,
				"policy_id": created.ID,
				"action":    created.Action,
			},
		})
	}
	return nil
}

// selectAction maps a decision level to the action the auto-responder
// attempts first; redirect is only attempted for the redirect level, and
// downgrades to block when no honeypot is available.
func (r *Responder) selectAction(ctx context.Context, level flowstore.DecisionLevel) controllerclient.Action {
	if level == flowstore.LevelRedirect {
		return controllerclient.ActionRedirect
	}
	return controllerclient.ActionBlock
}

// shortID returns the first 8 characters of id, or the whole string if
// shorter.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
