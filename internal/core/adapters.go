package core

import (
	"encoding/json"

	"github.com/ics-guard/icsguard/internal/flowstore"
)

// flowFromEventData decodes a flow_update event's data payload into a
// flowstore.Flow by round-tripping through JSON, since the wire event's
// Data map and Flow share the same field names and JSON tags. Returns nil
// if the payload can't be decoded or is missing its flow_id.
func flowFromEventData(data map[string]interface{}) *flowstore.Flow {
	if data == nil {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	var flow flowstore.Flow
	if err := json.Unmarshal(raw, &flow); err != nil {
		return nil
	}
	if flow.FlowID == "" {
		return nil
	}
	return &flow
}
