package eventbus

import "sync"

// Cache is a process-wide, bounded, most-recent-N ring buffer of events
// across all types, with the ingest-time splitting and defaulting rules
// applied before an event is stored or forwarded.
type Cache struct {
	mu       sync.Mutex
	buf      []Event
	capacity int
	cursor   int
	size     int

	onDerived func(Event) // called for events synthesized by the split rule
}

// NewCache creates a ring buffer holding up to capacity events.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 200
	}
	return &Cache{
		buf:      make([]Event, capacity),
		capacity: capacity,
	}
}

// SetDerivedEventSink registers the callback invoked with a derived event
// (currently only node_metrics_update, split out of network_status_update)
// that is forwarded to the UI stream but never itself cached.
func (c *Cache) SetDerivedEventSink(fn func(Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDerived = fn
}

// metricsKeys are the fields whose presence on a network_status_update
// triggers the node_metrics_update split.
var metricsKeys = []string{"cpu_usage", "memory_usage", "network_throughput"}

// Ingest applies the defaulting and splitting rules and appends the
// (possibly consumed) event to the ring buffer. It returns the event that
// was actually cached, or false if the event was fully consumed by the
// split rule and must not be cached.
func (c *Cache) Ingest(evt Event) (Event, bool) {
	if evt.Type == EventFlowUpdate {
		if evt.Data == nil {
			evt.Data = map[string]interface{}{}
		}
		if _, ok := evt.Data["detect_status"]; !ok {
			evt.Data["detect_status"] = "pending"
		}
	}

	if evt.Type == EventNetworkStatusUpdate {
		metricsOnly, derived, consumed := splitNetworkStatus(evt)
		if derived != nil {
			c.mu.Lock()
			sink := c.onDerived
			c.mu.Unlock()
			if sink != nil {
				sink(*derived)
			}
		}
		if consumed {
			return Event{}, false
		}
		evt = metricsOnly
	}

	c.append(evt)
	return evt, true
}

// splitNetworkStatus implements the C2 splitting rule: when data carries any
// of the metrics keys, emit a derived node_metrics_update carrying only
// {node_id, metrics}. If the original event carries only metrics + node_id,
// it is fully consumed by the split (not re-cached).
func splitNetworkStatus(evt Event) (remaining Event, derived *Event, consumed bool) {
	if evt.Data == nil {
		return evt, nil, false
	}

	hasMetric := false
	metrics := map[string]interface{}{}
	for _, k := range metricsKeys {
		if v, ok := evt.Data[k]; ok {
			hasMetric = true
			metrics[k] = v
		}
	}
	if !hasMetric {
		return evt, nil, false
	}

	nodeID := evt.Data["node_id"]
	d := Event{
		Type:      EventNodeMetricsUpdate,
		Timestamp: evt.Timestamp,
		Data: map[string]interface{}{
			"node_id": nodeID,
			"metrics": metrics,
		},
	}

	// Determine whether anything beyond {node_id, metrics...} is present.
	onlyMetricsAndNodeID := true
	for k := range evt.Data {
		if k == "node_id" {
			continue
		}
		isMetricKey := false
		for _, mk := range metricsKeys {
			if k == mk {
				isMetricKey = true
				break
			}
		}
		if !isMetricKey {
			onlyMetricsAndNodeID = false
			break
		}
	}

	return evt, &d, onlyMetricsAndNodeID
}

func (c *Cache) append(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf[c.cursor] = evt
	c.cursor = (c.cursor + 1) % c.capacity
	if c.size < c.capacity {
		c.size++
	}
}

// Query returns up to limit events, most-recent-first, optionally filtered
// by type. limit <= 0 means "no limit" (bounded only by current size).
func (c *Cache) Query(limit int, typeFilter EventType) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Event
	for i := 0; i < c.size; i++ {
		idx := (c.cursor - 1 - i + c.capacity*2) % c.capacity
		evt := c.buf[idx]
		if typeFilter != "" && evt.Type != typeFilter {
			continue
		}
		out = append(out, evt)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Len returns the current number of cached events (never exceeds capacity).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}
