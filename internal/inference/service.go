package inference

import (
	"go.uber.org/zap"

	"github.com/ics-guard/icsguard/internal/flowstore"
)

// synRateHighRate and synRateByteRatio parameterize the sSynRate heuristic:
// a flow synthesizes sSynRate=1.0 when its packet rate exceeds this
// threshold and its average byte-per-packet size is below the ratio,
// characteristic of small-packet SYN-flood traffic.
const (
	synRateHighRate  = 1000.0
	synRateByteRatio = 120.0

	lowRatePktRate    = 5.0
	lowRateEntropy    = 0.1
	lowRateRegAddrStd = 5.0

	insufficientDataPktRate = 1000.0
)

// Service is the classifier inference service (C4).
type Service struct {
	artifacts *Artifacts
	logger    *zap.Logger
}

// NewService wraps loaded artifacts into a prediction service.
func NewService(artifacts *Artifacts, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{artifacts: artifacts, logger: logger.Named("inference")}
}

// IsLoaded reports whether a classifier file was actually parsed.
func (s *Service) IsLoaded() bool { return s.artifacts.IsLoaded }

// Meta returns the loaded artifacts, for the model/meta endpoint.
func (s *Service) Meta() Artifacts { return *s.artifacts }

// synthesizeFeatures derives controller-absent training-schema columns from
// the flow's present fields, including the sSynRate heuristic.
func synthesizeFeatures(flow *flowstore.Flow) map[string]float64 {
	f := map[string]float64{
		"pkt_rate":          flow.PktRate,
		"byte_rate":         flow.ByteRate,
		"func_code_entropy": flow.FuncCodeEntropy,
		"reg_addr_std":      flow.RegAddrStd,
	}
	if flow.PktCount != nil {
		f["pkt_count"] = float64(*flow.PktCount)
	}
	if flow.ByteCount != nil {
		f["byte_count"] = float64(*flow.ByteCount)
	}

	sSynRate := 0.0
	if flow.PktRate > synRateHighRate && flow.PktRate > 0 {
		if flow.ByteRate/flow.PktRate < synRateByteRatio {
			sSynRate = 1.0
		}
	}
	f["s_syn_rate"] = sSynRate
	return f
}

// fillMissing zero-fills any feature column named in the schema but absent
// from the synthesized vector.
func fillMissing(features map[string]float64, columns []string) map[string]float64 {
	if len(columns) == 0 {
		return features
	}
	filled := make(map[string]float64, len(columns))
	for _, col := range columns {
		if v, ok := features[col]; ok {
			filled[col] = v
		} else {
			filled[col] = 0
		}
	}
	return filled
}

// PredictFlow runs the full prediction sequence for one flow: feature
// synthesis, missing-value fill, the two whitelist short-circuits, the
// model call, and threshold-based decision-level mapping. Model errors
// never propagate; the service has no model-call failure mode beyond a
// missing classifier, handled by the is-loaded check below.
func (s *Service) PredictFlow(flow *flowstore.Flow) flowstore.DetectionResult {
	// Smart low-rate whitelist: evaluated on raw flow fields, before fill.
	if flow.PktRate < lowRatePktRate && flow.FuncCodeEntropy < lowRateEntropy && flow.RegAddrStd < lowRateRegAddrStd {
		return flowstore.DetectionResult{Prob: 0.01, Label: "Normal", DecisionLevel: flowstore.LevelNormal}
	}

	// Insufficient-data whitelist: pkt_count absent and rate not itself
	// suspicious short-circuits to normal; absent-but-high-rate proceeds to
	// the model, since the rate itself is the signal.
	if flow.PktCount == nil && flow.PktRate <= insufficientDataPktRate {
		return flowstore.DetectionResult{Prob: 0, Label: "Normal", DecisionLevel: flowstore.LevelNormal}
	}

	if !s.artifacts.IsLoaded || s.artifacts.Model == nil {
		return flowstore.DetectionResult{Prob: 0, Label: "Error", DecisionLevel: flowstore.LevelNormal}
	}

	features := fillMissing(synthesizeFeatures(flow), s.artifacts.Features)
	prob := s.artifacts.Model.score(features)
	level := s.artifacts.Thresholds.DecisionLevel(prob)

	label := "Normal"
	if level != flowstore.LevelNormal {
		label = "Anomaly"
	}

	return flowstore.DetectionResult{
		Prob:          prob,
		Label:         label,
		AnomalyScore:  prob,
		DecisionLevel: level,
	}
}

// PredictBatch is a vectorized convenience over PredictFlow; result
// ordering matches input ordering.
func (s *Service) PredictBatch(flows []*flowstore.Flow) []flowstore.DetectionResult {
	out := make([]flowstore.DetectionResult, len(flows))
	for i, f := range flows {
		out[i] = s.PredictFlow(f)
	}
	return out
}
