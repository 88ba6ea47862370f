// Package config loads and validates ICS-Guard's process-wide configuration
// from environment variables, following the nested-struct-with-defaults
// shape used throughout this codebase.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Duration wraps time.Duration so it can be bound from a plain env-var
// string ("30s", "1m") without a custom decode hook at every call site.
type Duration struct {
	time.Duration
}

// MarshalJSON serializes the duration as its string form, e.g. "30s".
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Duration.String() + `"`), nil
}

// UnmarshalJSON parses either a duration string or a bare number of
// nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		parsed, err := time.ParseDuration(s[1 : len(s)-1])
		if err != nil {
			return err
		}
		d.Duration = parsed
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	d.Duration = time.Duration(n)
	return nil
}

// ControllerConfig describes how to reach the OpenFlow controller's REST
// and WebSocket surfaces.
type ControllerConfig struct {
	BaseURL      string `mapstructure:"base_url" json:"base_url"`
	WSBaseURL    string `mapstructure:"ws_base_url" json:"ws_base_url"`
	ClientID     string `mapstructure:"client_id" json:"client_id"`
	ClientSecret string `mapstructure:"client_secret" json:"-"`
	EnableWS     bool   `mapstructure:"enable_ws" json:"enable_ws"`
}

// DefaultControllerConfig returns sane defaults for local development.
func DefaultControllerConfig() *ControllerConfig {
	return &ControllerConfig{
		BaseURL:   "http://localhost:8181",
		WSBaseURL: "ws://localhost:8181",
		EnableWS:  true,
	}
}

// UIConfig describes the outbound UI event stream's bind address.
type UIConfig struct {
	Host string `mapstructure:"host" json:"host"`
	Port int    `mapstructure:"port" json:"port"`
}

// DefaultUIConfig returns sane defaults.
func DefaultUIConfig() *UIConfig {
	return &UIConfig{Host: "0.0.0.0", Port: 8282}
}

// ModelConfig locates the classifier artifacts on disk.
type ModelConfig struct {
	Dir            string `mapstructure:"dir" json:"dir"`
	ModelFile      string `mapstructure:"model_file" json:"model_file"`
	FeaturesFile   string `mapstructure:"features_file" json:"features_file"`
	ThresholdsFile string `mapstructure:"thresholds_file" json:"thresholds_file"`
}

// DefaultModelConfig returns sane defaults.
func DefaultModelConfig() *ModelConfig {
	return &ModelConfig{
		Dir:            "./models",
		ModelFile:      "model.json",
		FeaturesFile:   "features.json",
		ThresholdsFile: "thresholds.json",
	}
}

// ThresholdsConfig holds the fallback decision thresholds used when
// thresholds.json is absent. Must satisfy alert <= throttle <= block <= redirect.
type ThresholdsConfig struct {
	Alert    float64 `mapstructure:"alert" json:"alert"`
	Throttle float64 `mapstructure:"throttle" json:"throttle"`
	Block    float64 `mapstructure:"block" json:"block"`
	Redirect float64 `mapstructure:"redirect" json:"redirect"`
}

// DefaultThresholdsConfig returns the spec's documented defaults.
func DefaultThresholdsConfig() *ThresholdsConfig {
	return &ThresholdsConfig{Alert: 0.3, Throttle: 0.5, Block: 0.7, Redirect: 0.9}
}

// StorageConfig locates the embedded flow store database file.
type StorageConfig struct {
	DatabaseURL string `mapstructure:"database_url" json:"database_url"`
}

// DefaultStorageConfig returns sane defaults.
func DefaultStorageConfig() *StorageConfig {
	return &StorageConfig{DatabaseURL: "./data/icsguard.db"}
}

// LogConfig controls the ambient logging stack.
type LogConfig struct {
	Level     string `mapstructure:"level" json:"level"`
	ToFile    bool   `mapstructure:"to_file" json:"to_file"`
	Dir       string `mapstructure:"dir" json:"dir"`
	MaxSizeMB int    `mapstructure:"max_size_mb" json:"max_size_mb"`
}

// DefaultLogConfig returns sane defaults.
func DefaultLogConfig() *LogConfig {
	return &LogConfig{Level: "info", ToFile: false, Dir: "./logs", MaxSizeMB: 50}
}

// Config is the root process configuration, assembled from environment
// variables named in the external interfaces section of the specification.
type Config struct {
	Controller     *ControllerConfig `mapstructure:"controller" json:"controller"`
	UI             *UIConfig         `mapstructure:"ui" json:"ui"`
	Model          *ModelConfig      `mapstructure:"model" json:"model"`
	Thresholds     *ThresholdsConfig `mapstructure:"thresholds" json:"thresholds"`
	Storage        *StorageConfig    `mapstructure:"storage" json:"storage"`
	Log            *LogConfig        `mapstructure:"log" json:"log"`
	SecretKey      string            `mapstructure:"secret_key" json:"-"`
	EventCacheSize int               `mapstructure:"event_cache_size" json:"event_cache_size"`
	APIKey         string            `mapstructure:"api_key" json:"-"`
}

// ValidationError reports a single field-level configuration problem.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Default returns a fully-populated Config with every default applied.
func Default() *Config {
	return &Config{
		Controller:     DefaultControllerConfig(),
		UI:             DefaultUIConfig(),
		Model:          DefaultModelConfig(),
		Thresholds:     DefaultThresholdsConfig(),
		Storage:        DefaultStorageConfig(),
		Log:            DefaultLogConfig(),
		EventCacheSize: 200,
	}
}

// Load builds a Config from environment variables using the names given in
// the specification's process-configuration section, applying defaults for
// anything unset.
func Load() (*Config, error) {
	cfg := Default()

	bind := func(dst *string, env string) {
		if val := os.Getenv(env); val != "" {
			*dst = val
		}
	}
	bindInt := func(dst *int, env string) {
		if val := os.Getenv(env); val != "" {
			if n, err := strconv.Atoi(val); err == nil {
				*dst = n
			}
		}
	}
	bindBool := func(dst *bool, env string) {
		if val := os.Getenv(env); val != "" {
			if b, err := strconv.ParseBool(val); err == nil {
				*dst = b
			}
		}
	}
	bindFloat := func(dst *float64, env string) {
		if val := os.Getenv(env); val != "" {
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				*dst = f
			}
		}
	}

	bind(&cfg.Controller.BaseURL, "CONTROLLER_BASE_URL")
	bind(&cfg.Controller.ClientID, "CONTROLLER_CLIENT_ID")
	bind(&cfg.Controller.ClientSecret, "CONTROLLER_CLIENT_SECRET")
	bind(&cfg.Controller.WSBaseURL, "CONTROLLER_WS_BASE_URL")
	bindBool(&cfg.Controller.EnableWS, "ENABLE_CONTROLLER_WS")

	bind(&cfg.UI.Host, "UI_WS_HOST")
	bindInt(&cfg.UI.Port, "UI_WS_PORT")

	bind(&cfg.Model.Dir, "MODEL_DIR")
	bind(&cfg.Model.ModelFile, "MODEL_FILE")
	bind(&cfg.Model.FeaturesFile, "FEATURES_FILE")
	bind(&cfg.Model.ThresholdsFile, "THRESHOLDS_FILE")

	bindFloat(&cfg.Thresholds.Alert, "THRESHOLD_ALERT")
	bindFloat(&cfg.Thresholds.Throttle, "THRESHOLD_THROTTLE")
	bindFloat(&cfg.Thresholds.Block, "THRESHOLD_BLOCK")
	bindFloat(&cfg.Thresholds.Redirect, "THRESHOLD_REDIRECT")

	bind(&cfg.Storage.DatabaseURL, "DATABASE_URL")
	bind(&cfg.SecretKey, "SECRET_KEY")

	if val := os.Getenv("EVENT_CACHE_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.EventCacheSize = n
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateDetailed accumulates every configuration problem instead of
// stopping at the first, so operators see the whole picture at once.
func (c *Config) ValidateDetailed() []ValidationError {
	var errs []ValidationError

	if c.Controller == nil || c.Controller.BaseURL == "" {
		errs = append(errs, ValidationError{"controller.base_url", "must not be empty"})
	}
	t := c.Thresholds
	if t == nil {
		errs = append(errs, ValidationError{"thresholds", "must not be nil"})
	} else {
		if !(t.Alert <= t.Throttle && t.Throttle <= t.Block && t.Block <= t.Redirect) {
			errs = append(errs, ValidationError{
				"thresholds",
				"must satisfy alert <= throttle <= block <= redirect",
			})
		}
		for name, v := range map[string]float64{
			"alert": t.Alert, "throttle": t.Throttle, "block": t.Block, "redirect": t.Redirect,
		} {
			if v < 0 || v > 1 {
				errs = append(errs, ValidationError{"thresholds." + name, "must be within [0,1]"})
			}
		}
	}
	if c.EventCacheSize <= 0 {
		errs = append(errs, ValidationError{"event_cache_size", "must be positive"})
	}
	return errs
}

// Validate applies defaults for anything left nil and returns the first
// validation error, if any, for callers that only need a boolean signal.
func (c *Config) Validate() error {
	if c.Controller == nil {
		c.Controller = DefaultControllerConfig()
	}
	if c.UI == nil {
		c.UI = DefaultUIConfig()
	}
	if c.Model == nil {
		c.Model = DefaultModelConfig()
	}
	if c.Thresholds == nil {
		c.Thresholds = DefaultThresholdsConfig()
	}
	if c.Storage == nil {
		c.Storage = DefaultStorageConfig()
	}
	if c.Log == nil {
		c.Log = DefaultLogConfig()
	}
	if c.EventCacheSize == 0 {
		c.EventCacheSize = 200
	}

	if errs := c.ValidateDetailed(); len(errs) > 0 {
		return errs[0]
	}
	return nil
}
