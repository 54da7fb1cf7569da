package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/estimate"
	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/geometry"
	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/validation"
)

// Known feature types. Any other string is accepted and priced at zero.
const (
	FeatureMulch = "mulch"
	FeatureLawn  = "lawn"
	FeaturePatio = "patio"
)

// RawMask is one detection from the segmentation model.
type RawMask struct {
	Coordinates [][2]float64    `json:"coordinates"` // [lon, lat] pairs in decimal degrees
	Confidence  float64         `json:"confidence"`
	FeatureType string          `json:"feature_type"`
	Metadata    json.RawMessage `json:"metadata,omitempty"` // Opaque model output kept for audit
}

// MeasuredFeature is a mask that passed both gates. It is never modified
// after creation.
type MeasuredFeature struct {
	FeatureType     string
	ConfidenceScore float64
	Geometry        geometry.Polygon
	AreaSqFt        float64
	RawMetadata     json.RawMessage
}

type measuredFeatureJSON struct {
	FeatureType     string            `json:"feature_type"`
	ConfidenceScore float64           `json:"confidence_score"`
	Geometry        *geojson.Geometry `json:"geometry"`
	AreaSqFt        float64           `json:"area_sq_ft"`
	RawMetadata     json.RawMessage   `json:"raw_metadata,omitempty"`
}

// MarshalJSON encodes the geometry as a GeoJSON polygon.
func (f MeasuredFeature) MarshalJSON() ([]byte, error) {
	return json.Marshal(measuredFeatureJSON{
		FeatureType:     f.FeatureType,
		ConfidenceScore: f.ConfidenceScore,
		Geometry:        geojson.NewGeometry(f.Geometry.Orb()),
		AreaSqFt:        f.AreaSqFt,
		RawMetadata:     f.RawMetadata,
	})
}

// UnmarshalJSON decodes and re-validates the GeoJSON geometry.
func (f *MeasuredFeature) UnmarshalJSON(data []byte) error {
	var raw measuredFeatureJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Geometry == nil {
		return fmt.Errorf("%w: missing geometry", geometry.ErrInvalidGeometry)
	}
	p, err := PolygonFromGeoJSON(raw.Geometry)
	if err != nil {
		return err
	}
	*f = MeasuredFeature{
		FeatureType:     raw.FeatureType,
		ConfidenceScore: raw.ConfidenceScore,
		Geometry:        p,
		AreaSqFt:        raw.AreaSqFt,
		RawMetadata:     raw.RawMetadata,
	}
	return nil
}

// PolygonFromGeoJSON validates a single-ring GeoJSON polygon.
func PolygonFromGeoJSON(g *geojson.Geometry) (geometry.Polygon, error) {
	poly, ok := g.Geometry().(orb.Polygon)
	if !ok {
		return geometry.Polygon{}, fmt.Errorf("%w: expected Polygon, got %s", geometry.ErrInvalidGeometry, g.Type)
	}
	if len(poly) != 1 {
		return geometry.Polygon{}, fmt.Errorf("%w: polygon has %d rings, only single-ring polygons are supported", geometry.ErrInvalidGeometry, len(poly))
	}
	return geometry.NewPolygon(poly[0])
}

// OutcomeKind classifies what happened to a single mask.
type OutcomeKind int

const (
	OutcomeMeasured      OutcomeKind = iota // Passed both gates
	OutcomeLowConfidence                    // LowConfidenceReview: routed to manual review
	OutcomeNoise                            // NoiseRejected: below minimum area
	OutcomeDegenerate                       // DegenerateGeometry
	OutcomeInvalid                          // InvalidGeometry
	OutcomeTransient                        // TransientProcessingFailure, retry the task
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeMeasured:
		return "measured"
	case OutcomeLowConfidence:
		return "low_confidence_review"
	case OutcomeNoise:
		return "noise_rejected"
	case OutcomeDegenerate:
		return "degenerate_geometry"
	case OutcomeInvalid:
		return "invalid_geometry"
	case OutcomeTransient:
		return "transient_failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// MaskOutcome is the explicit result of processing one mask.
type MaskOutcome struct {
	Index       int
	Kind        OutcomeKind
	FeatureType string
	Confidence  float64

	Feature  *MeasuredFeature       // Set only for OutcomeMeasured
	Estimate *estimate.CostEstimate // Set only for OutcomeMeasured

	RawAreaSqFt float64 // Area of the unsimplified ring
	AreaSqFt    float64 // Area of the simplified ring
	PerimeterM  float64
	VerticesIn  int
	VerticesOut int
	Deviation   validation.Deviation

	Err error // Geometry or transient failure
}

// Retryable reports whether the outcome should fail the task attempt.
func (o MaskOutcome) Retryable() bool {
	return o.Kind == OutcomeTransient
}

// ErrTransient marks failures worth retrying at task level, such as resource
// exhaustion or a downstream timeout.
var ErrTransient = errors.New("transient processing failure")

// Transient wraps err so IsTransient reports true.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}
