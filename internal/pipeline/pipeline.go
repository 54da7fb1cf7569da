package pipeline

import (
	"context"
	"errors"

	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/estimate"
	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/geodesy"
	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/geometry"
	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/validation"
)

// Config configures a Pipeline.
type Config struct {
	Tolerance  float64 // Simplification tolerance in decimal degrees
	Validation validation.Config
	Rates      estimate.RateTable
}

// Pipeline measures and prices individual masks. It holds no mutable state,
// so one Pipeline can serve every worker and identical input always yields
// identical output.
type Pipeline struct {
	tolerance float64
	gate      validation.Gate
	estimator estimate.Estimator
}

// New builds a Pipeline from cfg.
func New(cfg Config) *Pipeline {
	return &Pipeline{
		tolerance: cfg.Tolerance,
		gate:      validation.NewGate(cfg.Validation),
		estimator: estimate.NewEstimator(cfg.Rates),
	}
}

// Process runs one mask through the confidence gate, simplification,
// geodesic measurement, the area gate and cost estimation.
func (p *Pipeline) Process(ctx context.Context, mask RawMask) MaskOutcome {
	out := MaskOutcome{
		FeatureType: mask.FeatureType,
		Confidence:  mask.Confidence,
		VerticesIn:  len(mask.Coordinates),
	}

	if err := ctx.Err(); err != nil {
		out.Kind = OutcomeTransient
		out.Err = Transient(err)
		return out
	}

	// Low confidence is a data-quality condition, never retried.
	if p.gate.AdmitConfidence(mask.Confidence) == validation.DecisionManualReview {
		out.Kind = OutcomeLowConfidence
		return out
	}

	raw, err := geometry.FromPairs(mask.Coordinates)
	if err != nil {
		return geometryFailure(out, err)
	}
	rawMeasure, err := geodesy.Measure(raw)
	if err != nil {
		return geometryFailure(out, err)
	}

	simplified := geometry.Simplify(raw, p.tolerance)
	measure, err := geodesy.Measure(simplified)
	if err != nil {
		return geometryFailure(out, err)
	}

	out.RawAreaSqFt = rawMeasure.AreaSqFt
	out.AreaSqFt = measure.AreaSqFt
	out.PerimeterM = measure.PerimeterM
	out.VerticesOut = simplified.NumVertices()
	out.Deviation = p.gate.CheckDeviation(rawMeasure.AreaSqFt, measure.AreaSqFt)

	if p.gate.ClassifyArea(measure.AreaSqFt) == validation.DecisionIgnored {
		out.Kind = OutcomeNoise
		return out
	}

	feature := &MeasuredFeature{
		FeatureType:     mask.FeatureType,
		ConfidenceScore: mask.Confidence,
		Geometry:        simplified,
		AreaSqFt:        measure.AreaSqFt,
		RawMetadata:     mask.Metadata,
	}
	est := p.estimator.Estimate(mask.FeatureType, measure.AreaSqFt)

	out.Kind = OutcomeMeasured
	out.Feature = feature
	out.Estimate = &est
	return out
}

func geometryFailure(out MaskOutcome, err error) MaskOutcome {
	out.Err = err
	if errors.Is(err, geometry.ErrDegenerateGeometry) {
		out.Kind = OutcomeDegenerate
	} else {
		out.Kind = OutcomeInvalid
	}
	return out
}
