// Package core wires the event bus, flow store, inference service,
// detection pipeline, auto-responder, policy engine, and controller
// client into the single Controller the REST surface calls into.
package core

import (
	"context"

	"go.uber.org/zap"

	"github.com/ics-guard/icsguard/internal/controllerclient"
	"github.com/ics-guard/icsguard/internal/detection"
	"github.com/ics-guard/icsguard/internal/eventbus"
	"github.com/ics-guard/icsguard/internal/flowstore"
	"github.com/ics-guard/icsguard/internal/inference"
	"github.com/ics-guard/icsguard/internal/policyengine"
	"github.com/ics-guard/icsguard/internal/responder"
)

// Core is the application's assembled runtime, satisfying
// httpapi.Controller.
type Core struct {
	Store      *flowstore.Store
	Inference  *inference.Service
	Engine     *policyengine.Engine
	Controller *controllerclient.Client
	Cache      *eventbus.Cache
	UIStream   *eventbus.UIStream
	Bus        *eventbus.Client
	Pipeline   *detection.Pipeline
	Responder  *responder.Responder

	logger *zap.Logger
}

// New assembles every component. The caller still owns Start/Stop
// sequencing (event bus client, detection pipeline).
func New(
	store *flowstore.Store,
	inferenceSvc *inference.Service,
	policies *policyengine.Engine,
	controller *controllerclient.Client,
	cache *eventbus.Cache,
	uiStream *eventbus.UIStream,
	bus *eventbus.Client,
	logger *zap.Logger,
) *Core {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Core{
		Store:      store,
		Inference:  inferenceSvc,
		Engine:     policies,
		Controller: controller,
		Cache:      cache,
		UIStream:   uiStream,
		Bus:        bus,
		logger:     logger.Named("core"),
	}

	cache.SetDerivedEventSink(uiStream.Publish)

	respond := responder.New(controller, uiStream, logger)
	c.Responder = respond

	c.Pipeline = detection.New(store, inferenceAdapter{inferenceSvc}, uiStream, responderAdapter{respond}, logger)
	return c
}

// inferenceAdapter satisfies detection.Predictor.
type inferenceAdapter struct{ svc *inference.Service }

func (a inferenceAdapter) PredictBatch(flows []*flowstore.Flow) []flowstore.DetectionResult {
	return a.svc.PredictBatch(flows)
}

// responderAdapter satisfies detection.Responder.
type responderAdapter struct{ r *responder.Responder }

func (a responderAdapter) Respond(ctx context.Context, flowID string, snapshot *flowstore.Flow, level flowstore.DecisionLevel) {
	a.r.Respond(ctx, flowID, snapshot, level)
}

// IngestControllerEvent is the eventbus.Handler registered for every
// controller-originated event type: it runs the C2 cache/split rules,
// publishes to UI clients, and for flow_update events enqueues a
// detection task.
func (c *Core) IngestControllerEvent(evt eventbus.Event) {
	cached, ok := c.Cache.Ingest(evt)
	if ok {
		c.UIStream.Publish(cached)
	}

	if evt.Type == eventbus.EventFlowUpdate {
		flow := flowFromEventData(evt.Data)
		if flow != nil {
			c.Pipeline.Enqueue(detection.FlowTask{Flow: flow})
		}
	}
}

// --- httpapi.Controller ---

func (c *Core) Topology(ctx context.Context) (controllerclient.Topology, error) {
	return c.Controller.GetTopology(ctx)
}

func (c *Core) Alerts(ctx context.Context) ([]controllerclient.Alert, error) {
	return c.Controller.GetAlerts(ctx)
}

func (c *Core) HoneypotLogs(ctx context.Context) ([]controllerclient.HoneypotLog, error) {
	return c.Controller.GetHoneypotLogs(ctx)
}

func (c *Core) Policies() []*policyengine.Policy { return c.Engine.List() }

func (c *Core) GetPolicy(id string) (*policyengine.Policy, bool) { return c.Engine.Get(id) }

func (c *Core) CreatePolicy(p *policyengine.Policy) { c.Engine.Create(p) }

func (c *Core) UpdatePolicy(p *policyengine.Policy) { c.Engine.Update(p) }

func (c *Core) DeletePolicy(id string) { c.Engine.Delete(id) }

func (c *Core) PredictFlow(flow *flowstore.Flow) flowstore.DetectionResult {
	return c.Inference.PredictFlow(flow)
}

func (c *Core) PredictBatch(flows []*flowstore.Flow) []flowstore.DetectionResult {
	return c.Inference.PredictBatch(flows)
}

func (c *Core) ModelMeta() inference.Artifacts {
	return c.Inference.Meta()
}

func (c *Core) RecentEvents(limit int, typeFilter eventbus.EventType) []eventbus.Event {
	return c.Cache.Query(limit, typeFilter)
}
