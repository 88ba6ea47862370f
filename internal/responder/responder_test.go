package responder

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ics-guard/icsguard/internal/controllerclient"
	"github.com/ics-guard/icsguard/internal/eventbus"
	"github.com/ics-guard/icsguard/internal/flowstore"
)

type fakeApplier struct {
	honeypot      string
	honeypotFound bool
	honeypotErr   error

	createErr error
	applyErr  error

	mu           sync.Mutex
	created      []controllerclient.Policy
	applied      []string
	appliedFlows []string
}

func (a *fakeApplier) FindHoneypot(ctx context.Context) (string, bool, error) {
	return a.honeypot, a.honeypotFound, a.honeypotErr
}

func (a *fakeApplier) CreatePolicy(ctx context.Context, policy controllerclient.Policy) (controllerclient.Policy, error) {
	if a.createErr != nil {
		return controllerclient.Policy{}, a.createErr
	}
	policy.ID = "auto-" + policy.Name
	a.mu.Lock()
	a.created = append(a.created, policy)
	a.mu.Unlock()
	return policy, nil
}

func (a *fakeApplier) ApplyPolicy(ctx context.Context, policyID, flowID string) error {
	if a.applyErr != nil {
		return a.applyErr
	}
	a.mu.Lock()
	a.applied = append(a.applied, policyID)
	a.appliedFlows = append(a.appliedFlows, flowID)
	a.mu.Unlock()
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *fakePublisher) Publish(evt eventbus.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

// TestRespond_OncePerFlow covers P2: concurrent Respond calls for the same
// flow_id must result in exactly one created policy.
func TestRespond_OncePerFlow(t *testing.T) {
	applier := &fakeApplier{honeypotFound: false}
	pub := &fakePublisher{}
	r := New(applier, pub, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Respond(context.Background(), "flow-1", &flowstore.Flow{FlowID: "flow-1"}, flowstore.LevelBlock)
		}()
	}
	wg.Wait()

	applier.mu.Lock()
	defer applier.mu.Unlock()
	assert.Len(t, applier.created, 1)
	assert.Len(t, applier.applied, 1)
}

func TestRespond_RedirectsToHoneypotWhenAvailable(t *testing.T) {
	applier := &fakeApplier{honeypot: "honeypot-1", honeypotFound: true}
	r := New(applier, nil, nil)

	r.Respond(context.Background(), "flow-2", &flowstore.Flow{FlowID: "flow-2"}, flowstore.LevelRedirect)

	require.Len(t, applier.created, 1)
	assert.Equal(t, "redirect", applier.created[0].Action)
	assert.Equal(t, "honeypot-1", applier.created[0].RedirectTo)
}

func TestRespond_DowngradesToBlockWithoutHoneypot(t *testing.T) {
	applier := &fakeApplier{honeypotFound: false}
	r := New(applier, nil, nil)

	r.Respond(context.Background(), "flow-3", &flowstore.Flow{FlowID: "flow-3"}, flowstore.LevelRedirect)

	require.Len(t, applier.created, 1)
	assert.Equal(t, "drop", applier.created[0].Action)
	assert.Equal(t, "Auto-drop-flow-3", applier.created[0].Name, "name must reflect the post-downgrade action, not redirect")
}

// TestRespond_AppliesWithTargetFlows covers spec step 5: apply must scope
// the policy to the triggering flow.
func TestRespond_AppliesWithTargetFlows(t *testing.T) {
	applier := &fakeApplier{}
	r := New(applier, nil, nil)

	r.Respond(context.Background(), "flow-5", &flowstore.Flow{FlowID: "flow-5"}, flowstore.LevelBlock)

	require.Len(t, applier.appliedFlows, 1)
	assert.Equal(t, "flow-5", applier.appliedFlows[0])
}

// TestRespond_SynthesizesFullConditions covers spec step 4: protocol and
// dst_port must be carried when present on the flow snapshot.
func TestRespond_SynthesizesFullConditions(t *testing.T) {
	applier := &fakeApplier{}
	r := New(applier, nil, nil)

	snapshot := &flowstore.Flow{
		FlowID:   "flow-6",
		SrcIP:    "10.0.0.1",
		DstIP:    "10.0.0.2",
		Protocol: "tcp",
		DstPort:  502,
	}
	r.Respond(context.Background(), "flow-6", snapshot, flowstore.LevelBlock)

	require.Len(t, applier.created, 1)
	cond := applier.created[0].Conditions
	assert.Equal(t, "10.0.0.1", cond.SrcIP)
	assert.Equal(t, "10.0.0.2", cond.DstIP)
	assert.Equal(t, "tcp", cond.Protocol)
	assert.Equal(t, 502, cond.DstPort)
}

func TestRespond_PolicyNameUsesFirst8CharsOfFlowID(t *testing.T) {
	applier := &fakeApplier{}
	r := New(applier, nil, nil)

	r.Respond(context.Background(), "0123456789abcdef", &flowstore.Flow{FlowID: "0123456789abcdef"}, flowstore.LevelBlock)

	require.Len(t, applier.created, 1)
	assert.Equal(t, "Auto-drop-01234567", applier.created[0].Name)
}

// TestRespond_RetriesAfterFailure covers the Delete-on-failure retry path:
// a failed apply clears the gate so a later observation can retry.
func TestRespond_RetriesAfterFailure(t *testing.T) {
	applier := &fakeApplier{}
	applier.applyErr = errors.New("boom")
	r := New(applier, nil, nil)

	r.Respond(context.Background(), "flow-4", &flowstore.Flow{FlowID: "flow-4"}, flowstore.LevelBlock)
	assert.Empty(t, applier.applied, "failed apply must not count as applied")

	applier.applyErr = nil
	r.Respond(context.Background(), "flow-4", &flowstore.Flow{FlowID: "flow-4"}, flowstore.LevelBlock)

	assert.Len(t, applier.applied, 1, "second attempt must succeed and apply exactly once")
}
