// Package eventbus implements the reconnecting controller event-bus client
// (C1), the bounded event cache with its splitting/defaulting rules, and the
// outbound UI fan-out WebSocket server (C2).
package eventbus

import (
	"encoding/json"
	"time"
)

// EventType names a category of event flowing through the bus, matching
// the controller's one-WS-endpoint-per-type wire contract.
type EventType string

// The six controller-originated event types, one per inbound WS endpoint,
// plus the types synthesized internally and pushed only to the UI stream.
const (
	EventNetworkStatusUpdate EventType = "network_status_update"
	EventNodeMetricsUpdate   EventType = "node_metrics_update"
	EventTrafficAnomaly      EventType = "traffic_anomaly"
	EventHoneypotInteraction EventType = "honeypot_interaction"
	EventTopologyChange      EventType = "topology_change"
	EventFlowUpdate          EventType = "flow_update"

	// Synthesized by the detection pipeline / auto-responder, never received
	// from a controller WS endpoint.
	EventFlowDetectionResult EventType = "flow_detection_result"
	EventTrafficBlock        EventType = "traffic_block"
	EventTrafficRedirect     EventType = "traffic_redirect"
)

// wsEndpoints maps each controller-originated event type to its WS path,
// per the specification's inbound-WS-endpoints contract.
var wsEndpoints = map[EventType]string{
	EventNetworkStatusUpdate: "/ws/network-status",
	EventNodeMetricsUpdate:   "/ws/node-metrics",
	EventTrafficAnomaly:      "/ws/traffic-anomalies",
	EventHoneypotInteraction: "/ws/honeypot-alerts",
	EventTopologyChange:      "/ws/topology-changes",
	EventFlowUpdate:          "/ws/flow-updates",
}

// Event is the tagged record shared by the ingestion side and the UI fan-out
// side, identical in shape for native and derived event types.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Raw       json.RawMessage        `json:"raw,omitempty"`
}
