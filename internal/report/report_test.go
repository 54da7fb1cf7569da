package report

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/estimate"
	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/geometry"
	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/persistence"
	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/pipeline"
	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/scheduler"
)

type staticSource struct {
	features []pipeline.MeasuredFeature
	err      error
}

func (s staticSource) GetFeaturesByTask(context.Context, string, string) ([]pipeline.MeasuredFeature, error) {
	return s.features, s.err
}

func feature(t *testing.T, featureType string, area float64) pipeline.MeasuredFeature {
	t.Helper()
	poly, err := geometry.FromPairs([][2]float64{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}})
	if err != nil {
		t.Fatal(err)
	}
	return pipeline.MeasuredFeature{FeatureType: featureType, ConfidenceScore: 0.9, Geometry: poly, AreaSqFt: area}
}

func TestGenerate(t *testing.T) {
	svc := NewService(staticSource{features: []pipeline.MeasuredFeature{
		feature(t, pipeline.FeatureMulch, 100),
		feature(t, "gravel", 50),
		feature(t, pipeline.FeaturePatio, 10),
	}}, estimate.DefaultRates())

	r, err := svc.Generate(context.Background(), "task-1", "acme")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if r.TaskID != "task-1" || r.TenantID != "acme" {
		t.Errorf("report ids = %q/%q", r.TaskID, r.TenantID)
	}
	if len(r.Estimates) != 3 {
		t.Fatalf("got %d estimates, want 3", len(r.Estimates))
	}
	if r.TotalCost != 350+150 {
		t.Errorf("TotalCost = %v, want 500", r.TotalCost)
	}
	if !reflect.DeepEqual(r.UnknownTypes, []string{"gravel"}) {
		t.Errorf("UnknownTypes = %v", r.UnknownTypes)
	}
}

func TestGenerate_NoFeatures(t *testing.T) {
	svc := NewService(staticSource{}, estimate.DefaultRates())

	_, err := svc.Generate(context.Background(), "task-1", "acme")
	if !errors.Is(err, ErrNoFeatures) {
		t.Errorf("expected ErrNoFeatures, got %v", err)
	}
}

func TestGenerate_SourceError(t *testing.T) {
	boom := errors.New("disk I/O error")
	svc := NewService(staticSource{err: boom}, estimate.DefaultRates())

	_, err := svc.Generate(context.Background(), "task-1", "acme")
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped source error, got %v", err)
	}
}

func TestGenerate_FromStore(t *testing.T) {
	ctx := context.Background()
	store, err := persistence.NewMemoryStore(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ref := scheduler.TaskRef{TaskID: "task-1", TenantID: "acme"}
	if err := store.SaveFeatures(ctx, ref, []pipeline.MeasuredFeature{feature(t, pipeline.FeatureLawn, 200)}); err != nil {
		t.Fatal(err)
	}

	svc := NewService(store, estimate.DefaultRates())
	r, err := svc.Generate(ctx, "task-1", "acme")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if r.TotalCost != 250 {
		t.Errorf("TotalCost = %v, want 250", r.TotalCost)
	}

	// Another tenant cannot see the task
	if _, err := svc.Generate(ctx, "task-1", "globex"); !errors.Is(err, ErrNoFeatures) {
		t.Errorf("expected ErrNoFeatures for other tenant, got %v", err)
	}
}

func TestFromResult(t *testing.T) {
	e := estimate.NewEstimator(estimate.DefaultRates())
	res := scheduler.TaskResult{
		Task:     scheduler.TaskRef{TaskID: "task-1", TenantID: "acme"},
		Status:   scheduler.TaskSucceeded,
		Features: []pipeline.MeasuredFeature{feature(t, pipeline.FeatureMulch, 100), feature(t, "unknown_type", 50)},
		Estimates: []estimate.CostEstimate{
			e.Estimate(pipeline.FeatureMulch, 100),
			e.Estimate("unknown_type", 50),
		},
	}

	r := FromResult(res)
	if r.Status != "success" || r.TotalCost != 350 {
		t.Errorf("report = %+v", r)
	}
	if !reflect.DeepEqual(r.UnknownTypes, []string{"unknown_type"}) {
		t.Errorf("UnknownTypes = %v", r.UnknownTypes)
	}

	empty := FromResult(scheduler.TaskResult{Task: scheduler.TaskRef{TaskID: "t2"}, Status: scheduler.TaskManualReview})
	if empty.Features == nil || empty.Estimates == nil || empty.TotalCost != 0 {
		t.Errorf("empty report = %+v", empty)
	}
}
