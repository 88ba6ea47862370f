// Package flowstore implements the idempotent flow store (C3): upsert of
// flow rows keyed by flow_id, and the append-only detection-log history,
// backed by an embedded bbolt database.
package flowstore

import (
	"encoding/json"
	"time"
)

// Bucket names within the bbolt database file.
const (
	BucketFlows         = "flows"
	BucketDetectionLogs = "flow_detection_logs"
)

// DetectStatus is the three-plus-valued summary shown to operators.
type DetectStatus string

const (
	DetectPending    DetectStatus = "pending"
	DetectSafe       DetectStatus = "safe"
	DetectSuspicious DetectStatus = "suspicious"
	DetectDangerous  DetectStatus = "dangerous"
	DetectError      DetectStatus = "error"
	DetectSkipped    DetectStatus = "skipped"
)

// DecisionLevel is the five-valued classifier-derived severity.
type DecisionLevel string

const (
	LevelNormal   DecisionLevel = "normal"
	LevelAlert    DecisionLevel = "alert"
	LevelThrottle DecisionLevel = "throttle"
	LevelBlock    DecisionLevel = "block"
	LevelRedirect DecisionLevel = "redirect"
)

// levelOrder gives the total order normal < alert < throttle < block < redirect.
var levelOrder = map[DecisionLevel]int{
	LevelNormal:   0,
	LevelAlert:    1,
	LevelThrottle: 2,
	LevelBlock:    3,
	LevelRedirect: 4,
}

// Less reports whether a is strictly less severe than b.
func (a DecisionLevel) Less(b DecisionLevel) bool {
	return levelOrder[a] < levelOrder[b]
}

// MapToDetectStatus implements the P4 status-mapping invariant:
// normal->safe, alert->suspicious, {throttle,block,redirect}->dangerous.
func (l DecisionLevel) MapToDetectStatus() DetectStatus {
	switch l {
	case LevelNormal:
		return DetectSafe
	case LevelAlert:
		return DetectSuspicious
	case LevelThrottle, LevelBlock, LevelRedirect:
		return DetectDangerous
	default:
		return DetectError
	}
}

// Flow is the mutable, idempotently-upserted flow record. Ingestion-owned
// fields are overwritten wholesale on every observation of the same
// flow_id; detection-owned fields are written only by the detection
// pipeline (see Flow.ingestionFields, used by Store.UpsertFlowBase, and
// Store.UpdateDetection).
type Flow struct {
	FlowID string `json:"flow_id"`

	// 5-tuple
	SrcIP    string `json:"src_ip"`
	DstIP    string `json:"dst_ip"`
	SrcPort  int    `json:"src_port"`
	DstPort  int    `json:"dst_port"`
	Protocol string `json:"protocol"`

	// Timestamps
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	// Counters / rates
	PktCount  *int64  `json:"pkt_count,omitempty"`
	ByteCount *int64  `json:"byte_count,omitempty"`
	PktRate   float64 `json:"pkt_rate"`
	ByteRate  float64 `json:"byte_rate"`

	// Domain features
	FuncCodeEntropy float64 `json:"func_code_entropy"`
	RegAddrStd      float64 `json:"reg_addr_std"`

	// Optional policy-outcome snapshot
	Effects      []string `json:"effects,omitempty"`
	RedirectTo   string   `json:"redirect_to,omitempty"`
	Blocked      bool     `json:"blocked"`
	BlockedAt    *time.Time `json:"blocked_at,omitempty"`
	BlockReason  string   `json:"block_reason,omitempty"`
	PathHops     []string `json:"path_hops,omitempty"`

	// Mutable detection fields — ingestion must never touch these.
	DetectStatus  DetectStatus  `json:"detect_status"`
	DecisionLevel DecisionLevel `json:"decision_level"`
	Prob          float64       `json:"prob"`
	AnomalyScore  float64       `json:"anomaly_score"`
	DetectedAt    *time.Time    `json:"detected_at,omitempty"`
}

// MarshalBinary implements bbolt's value-codec convention.
func (f *Flow) MarshalBinary() ([]byte, error) { return json.Marshal(f) }

// UnmarshalBinary implements bbolt's value-codec convention.
func (f *Flow) UnmarshalBinary(data []byte) error { return json.Unmarshal(data, f) }

// ingestionFields copies every field ingestion owns from src into f,
// leaving detection fields (DetectStatus, DecisionLevel, Prob,
// AnomalyScore, DetectedAt) untouched. Used by Store.UpsertFlowBase for the
// upsert path of an already-seen flow_id.
func (f *Flow) ingestionFields(src *Flow) {
	f.SrcIP, f.DstIP = src.SrcIP, src.DstIP
	f.SrcPort, f.DstPort = src.SrcPort, src.DstPort
	f.Protocol = src.Protocol
	f.StartTime, f.EndTime = src.StartTime, src.EndTime
	f.PktCount, f.ByteCount = src.PktCount, src.ByteCount
	f.PktRate, f.ByteRate = src.PktRate, src.ByteRate
	f.FuncCodeEntropy, f.RegAddrStd = src.FuncCodeEntropy, src.RegAddrStd
	f.Effects = src.Effects
	f.RedirectTo = src.RedirectTo
	f.Blocked = src.Blocked
	f.BlockedAt = src.BlockedAt
	f.BlockReason = src.BlockReason
	f.PathHops = src.PathHops
}

// DetectionLog is an append-only record of one completed prediction.
type DetectionLog struct {
	ID              string        `json:"id"`
	FlowID          string        `json:"flow_id"`
	Prob            float64       `json:"prob"`
	Label           string        `json:"label"`
	AnomalyScore    float64       `json:"anomaly_score"`
	DecisionLevel   DecisionLevel `json:"decision_level"`
	PayloadSnapshot *Flow         `json:"payload_snapshot,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// MarshalBinary implements bbolt's value-codec convention.
func (l *DetectionLog) MarshalBinary() ([]byte, error) { return json.Marshal(l) }

// UnmarshalBinary implements bbolt's value-codec convention.
func (l *DetectionLog) UnmarshalBinary(data []byte) error { return json.Unmarshal(data, l) }

// DetectionResult is the outcome of a single prediction, as produced by the
// inference service and consumed by the detection pipeline's write-back.
type DetectionResult struct {
	Prob          float64
	Label         string
	AnomalyScore  float64
	DecisionLevel DecisionLevel
}
