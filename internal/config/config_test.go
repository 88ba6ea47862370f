package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 200, cfg.EventCacheSize)
}

func TestValidateDetailed_ThresholdOrdering(t *testing.T) {
	cfg := Default()
	cfg.Thresholds.Block = 0.2 // now out of order: throttle(0.5) > block(0.2)
	errs := cfg.ValidateDetailed()
	require.NotEmpty(t, errs)
	found := false
	for _, e := range errs {
		if e.Field == "thresholds" {
			found = true
		}
	}
	assert.True(t, found, "expected a thresholds ordering error")
}

func TestLoad_BindsEnvVars(t *testing.T) {
	t.Setenv("CONTROLLER_BASE_URL", "https://controller.example:9000")
	t.Setenv("THRESHOLD_ALERT", "0.1")
	t.Setenv("THRESHOLD_THROTTLE", "0.2")
	t.Setenv("THRESHOLD_BLOCK", "0.3")
	t.Setenv("THRESHOLD_REDIRECT", "0.4")
	t.Setenv("EVENT_CACHE_SIZE", "500")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://controller.example:9000", cfg.Controller.BaseURL)
	assert.Equal(t, 0.1, cfg.Thresholds.Alert)
	assert.Equal(t, 500, cfg.EventCacheSize)
}

func TestLoad_RejectsBadThresholds(t *testing.T) {
	t.Setenv("THRESHOLD_ALERT", "0.9")
	t.Setenv("THRESHOLD_REDIRECT", "0.1")
	defer os.Unsetenv("THRESHOLD_ALERT")
	defer os.Unsetenv("THRESHOLD_REDIRECT")

	_, err := Load()
	require.Error(t, err)
}
