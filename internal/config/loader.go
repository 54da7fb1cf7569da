package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/estimate"
	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/orchestrator"
	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/pipeline"
	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/validation"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed JSON or invalid values return an error.
func Load(globalPath, projectPath string) (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	// Merge global config if exists
	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	// Merge project config if exists (highest precedence)
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GlobalPath returns ~/.landscape-measure/config.json.
func GlobalPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, DirName, "config.json"), nil
}

// ProjectPath returns .landscape-measure/config.json relative to cwd.
func ProjectPath() string {
	return filepath.Join(DirName, "config.json")
}

// LoadDefault loads configuration from conventional paths.
func LoadDefault() (*Config, error) {
	globalPath, err := GlobalPath()
	if err != nil {
		return nil, err
	}
	return Load(globalPath, ProjectPath())
}

// mergeConfigFile reads a JSON config file and merges it into the base config.
// Only keys present in the file override; rates merge per feature type.
// Missing files are silently skipped. Malformed JSON returns an error.
func mergeConfigFile(base *Config, path string) error {
	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // Missing file is not an error
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	// Decoding into the populated struct keeps fields the file leaves out,
	// and adds rate entries to the existing map.
	if err := json.Unmarshal(data, base); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	return nil
}

// Validate checks every value is usable.
func (c *Config) Validate() error {
	if math.IsNaN(c.SimplifyTolerance) || math.IsInf(c.SimplifyTolerance, 0) || c.SimplifyTolerance < 0 {
		return fmt.Errorf("simplify_tolerance %v must be a non-negative number", c.SimplifyTolerance)
	}
	if err := c.ValidationConfig().Validate(); err != nil {
		return err
	}
	for featureType, rate := range c.Rates {
		if math.IsNaN(rate) || rate < 0 {
			return fmt.Errorf("rate for %q must be non-negative, got %v", featureType, rate)
		}
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative, got %d", c.MaxRetries)
	}
	if c.BackoffBase <= 0 {
		return fmt.Errorf("backoff_base must be positive, got %s", time.Duration(c.BackoffBase))
	}
	if c.BackoffMax < c.BackoffBase {
		return fmt.Errorf("backoff_max %s is below backoff_base %s", time.Duration(c.BackoffMax), time.Duration(c.BackoffBase))
	}
	if c.AttemptTimeout < 0 {
		return fmt.Errorf("attempt_timeout must not be negative, got %s", time.Duration(c.AttemptTimeout))
	}
	return nil
}

// ValidationConfig returns the gate thresholds.
func (c *Config) ValidationConfig() validation.Config {
	return validation.Config{
		ConfidenceThreshold: c.ConfidenceThreshold,
		MinAreaSqFt:         c.MinAreaSqFt,
		MaxDeviation:        c.MaxDeviation,
	}
}

// RateTable returns a copy of the configured rates.
func (c *Config) RateTable() estimate.RateTable {
	rates := make(estimate.RateTable, len(c.Rates))
	for k, v := range c.Rates {
		rates[k] = v
	}
	return rates
}

// PipelineConfig returns the per-mask pipeline settings.
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		Tolerance:  c.SimplifyTolerance,
		Validation: c.ValidationConfig(),
		Rates:      c.RateTable(),
	}
}

// RunnerConfig returns the runner settings. Collaborators are left for the
// caller to wire.
func (c *Config) RunnerConfig() orchestrator.RunnerConfig {
	return orchestrator.RunnerConfig{
		Workers:        c.Workers,
		AttemptTimeout: time.Duration(c.AttemptTimeout),
		Retry: orchestrator.RetryConfig{
			BaseDelay:  time.Duration(c.BackoffBase),
			MaxDelay:   time.Duration(c.BackoffMax),
			MaxRetries: c.MaxRetries,
		},
		Breaker: orchestrator.BreakerConfig{
			ConsecutiveFailures: c.BreakerFailures,
			OpenTimeout:         time.Duration(c.BreakerTimeout),
		},
		Processor: pipeline.New(c.PipelineConfig()),
	}
}
