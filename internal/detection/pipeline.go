// Package detection implements the bounded, batched detection pipeline
// (C5): a dispatcher that drains a task queue into dedup'd batches, and a
// fixed worker pool that runs inference and writes back results.
package detection

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ics-guard/icsguard/internal/eventbus"
	"github.com/ics-guard/icsguard/internal/flowstore"
)

const (
	// QueueDepth bounds the dispatcher's inbound channel.
	QueueDepth = 10000

	// DefaultBatchSize is the maximum number of queued tasks drained into one
	// batch, counted before dedup.
	DefaultBatchSize = 64

	// DefaultWorkers is the size of the fixed worker pool.
	DefaultWorkers = 4

	// uiEmitProbThreshold gates flow_detection_result emission for results
	// that did not already cross into suspicious/dangerous, to avoid
	// flooding UI clients with high-volume normal traffic.
	uiEmitProbThreshold = 0.1
)

// FlowTask is one ingestion observation queued for detection.
type FlowTask struct {
	Flow *flowstore.Flow
}

// Responder is the narrow interface the pipeline needs from the
// auto-responder (C6), kept separate to avoid an import cycle and to let
// tests supply a stub.
type Responder interface {
	Respond(ctx context.Context, flowID string, snapshot *flowstore.Flow, level flowstore.DecisionLevel)
}

// Store is the narrow interface the pipeline needs from the flow store.
type Store interface {
	UpsertFlowBase(flow *flowstore.Flow) error
	UpdateDetection(flowID string, result flowstore.DetectionResult) error
	AppendDetectionLog(log *flowstore.DetectionLog) error
}

// Predictor is the narrow interface the pipeline needs from the inference
// service.
type Predictor interface {
	PredictBatch(flows []*flowstore.Flow) []flowstore.DetectionResult
}

// Publisher is the narrow interface the pipeline needs from the UI fan-out
// hub.
type Publisher interface {
	Publish(evt eventbus.Event)
}

// Pipeline is the detection pipeline (C5).
type Pipeline struct {
	store     Store
	predictor Predictor
	publisher Publisher
	responder Responder
	logger    *zap.Logger

	batchSize int
	workers   int

	queue   chan FlowTask
	batches chan []*FlowTask

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Option configures a Pipeline at construction.
type Option func(*Pipeline)

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithWorkers overrides DefaultWorkers.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// New constructs a Pipeline. Responder may be nil if auto-response is
// disabled.
func New(store Store, predictor Predictor, publisher Publisher, responder Responder, logger *zap.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		store:     store,
		predictor: predictor,
		publisher: publisher,
		responder: responder,
		logger:    logger.Named("detection"),
		batchSize: DefaultBatchSize,
		workers:   DefaultWorkers,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.queue = make(chan FlowTask, QueueDepth)
	p.batches = make(chan []*FlowTask, p.workers)
	return p
}

// Enqueue offers a task to the pipeline without blocking. It returns false
// if the queue is full, in which case the observation is dropped — the
// pipeline favors freshness over completeness under overload.
func (p *Pipeline) Enqueue(task FlowTask) bool {
	select {
	case p.queue <- task:
		return true
	default:
		p.logger.Warn("detection queue full, dropping task", zap.String("flow_id", task.Flow.FlowID))
		return false
	}
}

// Start launches the dispatcher and worker goroutines. Stop must be called
// to release them.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.dispatch(ctx)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx)
	}
}

// Stop cancels dispatcher and workers and waits for them to drain.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// dispatch drains the inbound queue into batches of up to batchSize tasks,
// using a blocking receive for the first task of a batch and a
// non-blocking greedy drain for the remainder so a quiet queue doesn't
// spin.
func (p *Pipeline) dispatch(ctx context.Context) {
	defer p.wg.Done()
	defer close(p.batches)

	for {
		var first FlowTask
		select {
		case <-ctx.Done():
			return
		case first = <-p.queue:
		}

		batch := []*FlowTask{&first}
	drain:
		for len(batch) < p.batchSize {
			select {
			case t := <-p.queue:
				cp := t
				batch = append(batch, &cp)
			default:
				break drain
			}
		}

		select {
		case p.batches <- batch:
		case <-ctx.Done():
			return
		}
	}
}

// work is one worker pool goroutine: dedup, store write, inference,
// write-back, UI emission, and async auto-response dispatch.
func (p *Pipeline) work(ctx context.Context) {
	defer p.wg.Done()

	for {
		var batch []*FlowTask
		var ok bool
		select {
		case <-ctx.Done():
			return
		case batch, ok = <-p.batches:
			if !ok {
				return
			}
		}
		p.processBatch(ctx, batch)
	}
}

func (p *Pipeline) processBatch(ctx context.Context, batch []*FlowTask) {
	deduped := dedupLastWins(batch)
	if len(deduped) == 0 {
		return
	}

	flows := make([]*flowstore.Flow, 0, len(deduped))
	for _, t := range deduped {
		if err := p.store.UpsertFlowBase(t.Flow); err != nil {
			p.logger.Error("upsert flow base failed", zap.String("flow_id", t.Flow.FlowID), zap.Error(err))
			continue
		}
		flows = append(flows, t.Flow)
	}
	if len(flows) == 0 {
		return
	}

	results := p.predictor.PredictBatch(flows)

	for i, flow := range flows {
		result := results[i]
		p.writeBack(ctx, flow, result)
	}
}

func (p *Pipeline) writeBack(ctx context.Context, flow *flowstore.Flow, result flowstore.DetectionResult) {
	if err := p.store.UpdateDetection(flow.FlowID, result); err != nil {
		p.logger.Error("update detection failed", zap.String("flow_id", flow.FlowID), zap.Error(err))
		return
	}

	status := result.DecisionLevel.MapToDetectStatus()
	logErr := p.store.AppendDetectionLog(&flowstore.DetectionLog{
		FlowID:          flow.FlowID,
		Prob:            result.Prob,
		Label:           result.Label,
		AnomalyScore:    result.AnomalyScore,
		DecisionLevel:   result.DecisionLevel,
		PayloadSnapshot: flow,
		CreatedAt:       time.Now().UTC(),
	})
	if logErr != nil {
		p.logger.Error("append detection log failed", zap.String("flow_id", flow.FlowID), zap.Error(logErr))
	}

	if p.publisher != nil && shouldEmit(status, result.Prob) {
		p.publisher.Publish(eventbus.Event{
			Type:      eventbus.EventFlowDetectionResult,
			Timestamp: time.Now().UTC(),
			Data: map[string]interface{}{
				"flow_id":        flow.FlowID,
				"detect_status":  string(status),
				"decision_level": string(result.DecisionLevel),
				"prob":           result.Prob,
			},
		})
	}

	if p.responder != nil && (result.DecisionLevel == flowstore.LevelBlock || result.DecisionLevel == flowstore.LevelRedirect) {
		go p.responder.Respond(ctx, flow.FlowID, flow, result.DecisionLevel)
	}
}

// shouldEmit implements the UI-flooding guard: emit on suspicious/dangerous
// status, or on any prob above a low-signal threshold.
func shouldEmit(status flowstore.DetectStatus, prob float64) bool {
	if status == flowstore.DetectSuspicious || status == flowstore.DetectDangerous {
		return true
	}
	return prob > uiEmitProbThreshold
}

// dedupLastWins collapses a batch to the last observation per flow_id,
// preserving the order of first appearance (P7).
func dedupLastWins(batch []*FlowTask) []*FlowTask {
	index := make(map[string]int, len(batch))
	order := make([]string, 0, len(batch))
	last := make(map[string]*FlowTask, len(batch))

	for _, t := range batch {
		id := t.Flow.FlowID
		if _, seen := index[id]; !seen {
			index[id] = len(order)
			order = append(order, id)
		}
		last[id] = t
	}

	out := make([]*FlowTask, len(order))
	for i, id := range order {
		out[i] = last[id]
	}
	return out
}
