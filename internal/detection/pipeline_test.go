package detection

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ics-guard/icsguard/internal/eventbus"
	"github.com/ics-guard/icsguard/internal/flowstore"
)

type fakeStore struct {
	mu      sync.Mutex
	upserts []*flowstore.Flow
	updates map[string]flowstore.DetectionResult
	logs    []*flowstore.DetectionLog
}

func newFakeStore() *fakeStore {
	return &fakeStore{updates: map[string]flowstore.DetectionResult{}}
}

func (s *fakeStore) UpsertFlowBase(flow *flowstore.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, flow)
	return nil
}

func (s *fakeStore) UpdateDetection(flowID string, result flowstore.DetectionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates[flowID] = result
	return nil
}

func (s *fakeStore) AppendDetectionLog(log *flowstore.DetectionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, log)
	return nil
}

type fakePredictor struct{}

func (fakePredictor) PredictBatch(flows []*flowstore.Flow) []flowstore.DetectionResult {
	out := make([]flowstore.DetectionResult, len(flows))
	for i := range flows {
		out[i] = flowstore.DetectionResult{DecisionLevel: flowstore.LevelNormal}
	}
	return out
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

func TestDedupLastWins_PreservesFirstAppearanceOrderAndLastValue(t *testing.T) {
	batch := []*FlowTask{
		{Flow: &flowstore.Flow{FlowID: "a", PktRate: 1}},
		{Flow: &flowstore.Flow{FlowID: "b", PktRate: 1}},
		{Flow: &flowstore.Flow{FlowID: "a", PktRate: 2}},
	}
	deduped := dedupLastWins(batch)

	require.Len(t, deduped, 2)
	assert.Equal(t, "a", deduped[0].Flow.FlowID)
	assert.Equal(t, 2.0, deduped[0].Flow.PktRate)
	assert.Equal(t, "b", deduped[1].Flow.FlowID)
}

func TestPipeline_ProcessBatch_DedupsAndWritesBack(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	p := New(store, fakePredictor{}, pub, nil, nil)

	ctx := context.Background()
	p.processBatch(ctx, []*FlowTask{
		{Flow: &flowstore.Flow{FlowID: "f1", PktRate: 1}},
		{Flow: &flowstore.Flow{FlowID: "f1", PktRate: 2}},
	})

	assert.Len(t, store.upserts, 1)
	assert.Len(t, store.logs, 1)
	assert.Contains(t, store.updates, "f1")
}

func TestPipeline_Enqueue_DropsWhenFull(t *testing.T) {
	store := newFakeStore()
	p := New(store, fakePredictor{}, nil, nil, nil)
	// Fill the queue without starting the dispatcher.
	for i := 0; i < QueueDepth; i++ {
		ok := p.Enqueue(FlowTask{Flow: &flowstore.Flow{FlowID: "x"}})
		require.True(t, ok)
	}
	ok := p.Enqueue(FlowTask{Flow: &flowstore.Flow{FlowID: "overflow"}})
	assert.False(t, ok, "enqueue must drop rather than block once the queue is full")
}

func TestPipeline_StartStop_DrainsQueuedTasks(t *testing.T) {
	store := newFakeStore()
	p := New(store, fakePredictor{}, nil, nil, nil, WithWorkers(2), WithBatchSize(8))

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	for i := 0; i < 20; i++ {
		p.Enqueue(FlowTask{Flow: &flowstore.Flow{FlowID: fmt.Sprintf("f%d", i)}})
	}

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.upserts) >= 20
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	p.Stop()
}
