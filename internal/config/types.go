package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration that reads and writes Go duration strings
// ("1s", "5m") in JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"1s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Config is the top-level configuration.
type Config struct {
	// Measurement
	SimplifyTolerance   float64            `json:"simplify_tolerance"`   // Douglas-Peucker tolerance in decimal degrees
	ConfidenceThreshold float64            `json:"confidence_threshold"` // Masks below this go to manual review
	MinAreaSqFt         float64            `json:"min_area_sq_ft"`       // Features below this are noise
	MaxDeviation        float64            `json:"max_deviation"`        // Relative area change that raises a quality alert
	Rates               map[string]float64 `json:"rates"`                // Price per square foot by feature type

	// Task execution
	Workers        int      `json:"workers"`
	MaxRetries     int      `json:"max_retries"`
	BackoffBase    Duration `json:"backoff_base"`
	BackoffMax     Duration `json:"backoff_max"`
	AttemptTimeout Duration `json:"attempt_timeout"` // 0 disables

	// Collaborator circuit breakers
	BreakerFailures uint32   `json:"breaker_failures"`
	BreakerTimeout  Duration `json:"breaker_timeout"`

	DatabasePath string `json:"database_path"`
}
