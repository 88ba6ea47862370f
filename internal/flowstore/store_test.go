package flowstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flows.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertFlowBase_NewFlowDefaultsPending(t *testing.T) {
	s := openTestStore(t)

	err := s.UpsertFlowBase(&Flow{FlowID: "f1", SrcIP: "10.0.0.1", PktRate: 5})
	require.NoError(t, err)

	row, err := s.GetFlow("f1")
	require.NoError(t, err)
	assert.Equal(t, DetectPending, row.DetectStatus)
	assert.Equal(t, LevelNormal, row.DecisionLevel)
	assert.Equal(t, "10.0.0.1", row.SrcIP)
}

// TestUpsertFlowBase_PreservesDetectionFields covers invariant P1: a second
// ingestion observation for the same flow_id must overwrite ingestion-owned
// fields but leave detection fields exactly as the pipeline last set them.
func TestUpsertFlowBase_PreservesDetectionFields(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.UpsertFlowBase(&Flow{FlowID: "f1", PktRate: 5}))
	require.NoError(t, s.UpdateDetection("f1", DetectionResult{
		Prob: 0.9, Label: "anomaly", AnomalyScore: 0.8, DecisionLevel: LevelBlock,
	}))

	require.NoError(t, s.UpsertFlowBase(&Flow{FlowID: "f1", PktRate: 500, SrcIP: "10.0.0.9"}))

	row, err := s.GetFlow("f1")
	require.NoError(t, err)
	assert.Equal(t, 500.0, row.PktRate)
	assert.Equal(t, "10.0.0.9", row.SrcIP)

	assert.Equal(t, LevelBlock, row.DecisionLevel)
	assert.Equal(t, DetectDangerous, row.DetectStatus)
	assert.Equal(t, 0.9, row.Prob)
	assert.Equal(t, 0.8, row.AnomalyScore)
}

func TestUpdateDetection_UnknownFlowReturnsNotFound(t *testing.T) {
	s := openTestStore(t)
	err := s.UpdateDetection("missing", DetectionResult{DecisionLevel: LevelAlert})
	require.Error(t, err)
}

func TestAppendDetectionLog_AndList(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertFlowBase(&Flow{FlowID: "f1"}))

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendDetectionLog(&DetectionLog{
			FlowID: "f1", Prob: float64(i) / 10, DecisionLevel: LevelAlert,
		}))
	}

	logs, err := s.ListDetectionLogs("f1")
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, 0.0, logs[0].Prob)
	assert.Equal(t, 0.2, logs[2].Prob)
}

func TestDecisionLevel_Ordering(t *testing.T) {
	assert.True(t, LevelNormal.Less(LevelAlert))
	assert.True(t, LevelAlert.Less(LevelThrottle))
	assert.True(t, LevelThrottle.Less(LevelBlock))
	assert.True(t, LevelBlock.Less(LevelRedirect))
	assert.False(t, LevelRedirect.Less(LevelNormal))
}
