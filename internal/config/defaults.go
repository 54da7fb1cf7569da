package config

import (
	"path/filepath"
	"time"

	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/estimate"
	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/geometry"
	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/validation"
)

// DirName is the per-user and per-project configuration directory.
const DirName = ".landscape-measure"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	v := validation.DefaultConfig()
	return &Config{
		SimplifyTolerance:   geometry.DefaultTolerance,
		ConfidenceThreshold: v.ConfidenceThreshold,
		MinAreaSqFt:         v.MinAreaSqFt,
		MaxDeviation:        v.MaxDeviation,
		Rates:               estimate.DefaultRates(),

		Workers:     4,
		MaxRetries:  3,
		BackoffBase: Duration(time.Second),
		BackoffMax:  Duration(5 * time.Minute),

		BreakerFailures: 5,
		BreakerTimeout:  Duration(30 * time.Second),

		DatabasePath: filepath.Join(DirName, "landscape.db"),
	}
}
