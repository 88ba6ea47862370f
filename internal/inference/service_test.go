package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ics-guard/icsguard/internal/flowstore"
)

func i64(v int64) *int64 { return &v }

func TestThresholds_DecisionLevel_Monotonic(t *testing.T) {
	th := Thresholds{Alert: 0.2, Throttle: 0.5, Block: 0.8, Redirect: 0.95}

	assert.Equal(t, flowstore.LevelNormal, th.DecisionLevel(0.1))
	assert.Equal(t, flowstore.LevelAlert, th.DecisionLevel(0.3))
	assert.Equal(t, flowstore.LevelThrottle, th.DecisionLevel(0.6))
	assert.Equal(t, flowstore.LevelBlock, th.DecisionLevel(0.85))
	assert.Equal(t, flowstore.LevelRedirect, th.DecisionLevel(0.99))
}

func TestDecisionLevel_MapsToDetectStatus(t *testing.T) {
	assert.Equal(t, flowstore.DetectSafe, flowstore.LevelNormal.MapToDetectStatus())
	assert.Equal(t, flowstore.DetectSuspicious, flowstore.LevelAlert.MapToDetectStatus())
	assert.Equal(t, flowstore.DetectDangerous, flowstore.LevelThrottle.MapToDetectStatus())
	assert.Equal(t, flowstore.DetectDangerous, flowstore.LevelBlock.MapToDetectStatus())
	assert.Equal(t, flowstore.DetectDangerous, flowstore.LevelRedirect.MapToDetectStatus())
}

// TestPredictFlow_WhitelistsLowRateNormal covers scenario 1.
func TestPredictFlow_WhitelistsLowRateNormal(t *testing.T) {
	svc := NewService(&Artifacts{IsLoaded: true, Model: &LinearModel{Bias: 10}}, nil)

	flow := &flowstore.Flow{
		PktRate:         0.8,
		FuncCodeEntropy: 0.0,
		RegAddrStd:      1.2,
		PktCount:        i64(10),
	}
	result := svc.PredictFlow(flow)

	assert.Equal(t, 0.01, result.Prob)
	assert.Equal(t, "Normal", result.Label)
	assert.Equal(t, flowstore.LevelNormal, result.DecisionLevel)
}

func TestPredictFlow_LowRateButElevatedEntropyNotWhitelisted(t *testing.T) {
	svc := NewService(&Artifacts{IsLoaded: true, Model: &LinearModel{Bias: 10}}, nil)

	flow := &flowstore.Flow{
		PktRate:         0.8,
		FuncCodeEntropy: 0.9,
		RegAddrStd:      1.2,
		PktCount:        i64(10),
	}
	result := svc.PredictFlow(flow)

	assert.NotEqual(t, 0.01, result.Prob)
}

func TestPredictFlow_InsufficientDataWhitelistedWhenRateLow(t *testing.T) {
	svc := NewService(&Artifacts{IsLoaded: true, Model: &LinearModel{Bias: 10}}, nil)

	flow := &flowstore.Flow{PktRate: 500, FuncCodeEntropy: 0.5, RegAddrStd: 8}
	result := svc.PredictFlow(flow)

	require.Equal(t, 0.0, result.Prob)
	assert.Equal(t, flowstore.LevelNormal, result.DecisionLevel)
}

// TestPredictFlow_SynFlood covers scenario 2: pkt_count absent but
// pkt_rate > 1000 proceeds to the model, sSynRate synthesizes to 1.0, and a
// model biased toward the synthesized feature crosses the block threshold.
func TestPredictFlow_SynFlood(t *testing.T) {
	artifacts := &Artifacts{
		IsLoaded:   true,
		Model:      &LinearModel{Weights: map[string]float64{"s_syn_rate": 8}, Bias: -4},
		Features:   []string{"pkt_rate", "byte_rate", "func_code_entropy", "reg_addr_std", "s_syn_rate"},
		Thresholds: Thresholds{Alert: 0.2, Throttle: 0.5, Block: 0.8, Redirect: 0.95},
	}
	svc := NewService(artifacts, nil)

	flow := &flowstore.Flow{
		PktRate:  5000,
		ByteRate: 300000, // byte_rate/pkt_rate == 60 < 120
		Protocol: "TCP",
		DstIP:    "10.0.4.20",
		DstPort:  80,
		SrcIP:    "10.0.3.20",
	}
	result := svc.PredictFlow(flow)

	assert.GreaterOrEqual(t, result.Prob, artifacts.Thresholds.Block)
	assert.Contains(t, []flowstore.DecisionLevel{flowstore.LevelBlock, flowstore.LevelRedirect}, result.DecisionLevel)
	assert.Equal(t, flowstore.DetectDangerous, result.DecisionLevel.MapToDetectStatus())
}

func TestPredictFlow_UnloadedModelCollapsesToError(t *testing.T) {
	svc := NewService(&Artifacts{IsLoaded: false}, nil)
	flow := &flowstore.Flow{PktRate: 5000, FuncCodeEntropy: 0.8, RegAddrStd: 9, PktCount: i64(100)}
	result := svc.PredictFlow(flow)
	assert.Equal(t, "Error", result.Label)
}

func TestPredictBatch_PreservesOrder(t *testing.T) {
	svc := NewService(&Artifacts{IsLoaded: true, Model: &LinearModel{Bias: 10}}, nil)
	flows := []*flowstore.Flow{
		{PktRate: 0.1, PktCount: i64(1)},
		{PktRate: 0.2, PktCount: i64(2)},
	}
	results := svc.PredictBatch(flows)
	require.Len(t, results, 2)
}
