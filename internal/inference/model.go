// Package inference implements the classifier inference service (C4):
// artifact loading, feature synthesis, whitelist pre-filters, and
// threshold-based decision-level mapping.
package inference

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"

	"github.com/ics-guard/icsguard/internal/flowstore"
)

// LinearModel is a generalized-linear-model weight vector: a serialized
// classifier in place of a framework-specific binary blob, since no ML
// runtime ships in the reference corpus. Score is a logistic function of
// the dot product of Weights (keyed by feature name) against the feature
// vector, plus Bias.
type LinearModel struct {
	Weights map[string]float64 `json:"weights"`
	Bias    float64            `json:"bias"`
}

func (m *LinearModel) score(features map[string]float64) float64 {
	z := m.Bias
	for name, w := range m.Weights {
		z += w * features[name]
	}
	return 1.0 / (1.0 + math.Exp(-z))
}

// Thresholds define the total order alert <= throttle <= block <= redirect
// on [0,1].
type Thresholds struct {
	Alert    float64 `json:"alert"`
	Throttle float64 `json:"throttle"`
	Block    float64 `json:"block"`
	Redirect float64 `json:"redirect"`
}

// DefaultThresholds returns the zero-valued threshold set (everything maps
// to normal) used when no thresholds file is present.
func DefaultThresholds() Thresholds {
	return Thresholds{}
}

// DecisionLevel returns the most severe level whose threshold p meets, or
// normal if none do.
func (t Thresholds) DecisionLevel(p float64) flowstore.DecisionLevel {
	switch {
	case p >= t.Redirect && t.Redirect > 0:
		return flowstore.LevelRedirect
	case p >= t.Block && t.Block > 0:
		return flowstore.LevelBlock
	case p >= t.Throttle && t.Throttle > 0:
		return flowstore.LevelThrottle
	case p >= t.Alert && t.Alert > 0:
		return flowstore.LevelAlert
	default:
		return flowstore.LevelNormal
	}
}

// Artifacts bundles the three files the service loads from MODEL_DIR.
type Artifacts struct {
	Model      *LinearModel
	Features   []string
	Thresholds Thresholds
	IsLoaded   bool
}

// LoadArtifacts reads model.json, features.json, and thresholds.json from
// dir. A missing file falls back to an identity default; is_loaded is true
// only once a classifier file is actually parsed, matching the teacher's
// Default*Config() fallback idiom.
func LoadArtifacts(dir, modelFile, featuresFile, thresholdsFile string) (*Artifacts, error) {
	a := &Artifacts{Thresholds: DefaultThresholds()}

	if modelFile == "" {
		modelFile = "model.json"
	}
	if featuresFile == "" {
		featuresFile = "features.json"
	}
	if thresholdsFile == "" {
		thresholdsFile = "thresholds.json"
	}

	if data, err := os.ReadFile(filepath.Join(dir, modelFile)); err == nil {
		var m LinearModel
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		a.Model = &m
		a.IsLoaded = true
	}

	if data, err := os.ReadFile(filepath.Join(dir, featuresFile)); err == nil {
		var cols []string
		if err := json.Unmarshal(data, &cols); err != nil {
			return nil, err
		}
		a.Features = cols
	}

	if data, err := os.ReadFile(filepath.Join(dir, thresholdsFile)); err == nil {
		var th Thresholds
		if err := json.Unmarshal(data, &th); err != nil {
			return nil, err
		}
		a.Thresholds = th
	}

	return a, nil
}
