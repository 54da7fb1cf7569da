package validation

import (
	"fmt"
	"math"
)

// Decision is the outcome of a single gate check.
type Decision int

const (
	DecisionAdmit        Decision = iota // Passes the gate
	DecisionManualReview                 // Low confidence, needs a human
	DecisionIgnored                      // Below minimum area, treated as noise
)

func (d Decision) String() string {
	switch d {
	case DecisionAdmit:
		return "admit"
	case DecisionManualReview:
		return "manual_review"
	case DecisionIgnored:
		return "ignored"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Config holds the gate thresholds.
type Config struct {
	ConfidenceThreshold float64 // Masks scoring below this go to manual review (default 0.85)
	MinAreaSqFt         float64 // Features smaller than this are noise (default 1.0)
	MaxDeviation        float64 // Allowed relative area change from simplification (default 0.01)
}

// DefaultConfig returns the documented default thresholds.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.85,
		MinAreaSqFt:         1.0,
		MaxDeviation:        0.01,
	}
}

// Validate reports thresholds that cannot be used.
func (c Config) Validate() error {
	if math.IsNaN(c.ConfidenceThreshold) || c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold %v outside [0,1]", c.ConfidenceThreshold)
	}
	if math.IsNaN(c.MinAreaSqFt) || c.MinAreaSqFt < 0 {
		return fmt.Errorf("minimum area %v must be non-negative", c.MinAreaSqFt)
	}
	if math.IsNaN(c.MaxDeviation) || c.MaxDeviation <= 0 {
		return fmt.Errorf("max deviation %v must be positive", c.MaxDeviation)
	}
	return nil
}

// Gate applies confidence admission before geometry work and area
// classification after measurement. Gate is a value type with no mutable
// state and is safe for concurrent use.
type Gate struct {
	cfg Config
}

// NewGate creates a gate with the given thresholds.
func NewGate(cfg Config) Gate {
	return Gate{cfg: cfg}
}

// Config returns the thresholds in use.
func (g Gate) Config() Config {
	return g.cfg
}

// AdmitConfidence routes scores below the threshold to manual review.
// Scores that are NaN or outside [0,1] are malformed detector output and
// also go to manual review.
func (g Gate) AdmitConfidence(score float64) Decision {
	if math.IsNaN(score) || score < 0 || score > 1 {
		return DecisionManualReview
	}
	if score < g.cfg.ConfidenceThreshold {
		return DecisionManualReview
	}
	return DecisionAdmit
}

// ClassifyArea marks features under the minimum area as ignored noise.
// A NaN area never passes.
func (g Gate) ClassifyArea(areaSqFt float64) Decision {
	if !(areaSqFt >= g.cfg.MinAreaSqFt) {
		return DecisionIgnored
	}
	return DecisionAdmit
}

// Deviation is the relative area change caused by simplification.
type Deviation struct {
	Relative float64
	Bound    float64 // MaxDeviation in effect
	Exceeded bool
}

// CheckDeviation compares the raw and simplified measurements of the same
// mask. A zero raw area yields no deviation.
func (g Gate) CheckDeviation(rawSqFt, simplifiedSqFt float64) Deviation {
	if rawSqFt == 0 {
		return Deviation{Bound: g.cfg.MaxDeviation}
	}
	rel := math.Abs(rawSqFt-simplifiedSqFt) / rawSqFt
	return Deviation{
		Relative: rel,
		Bound:    g.cfg.MaxDeviation,
		Exceeded: rel >= g.cfg.MaxDeviation,
	}
}
