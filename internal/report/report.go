// Package report assembles per-task measurement reports.
package report

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/estimate"
	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/pipeline"
	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/scheduler"
)

// ErrNoFeatures is returned when a task has no validated features to report.
var ErrNoFeatures = errors.New("no validated features found for task")

// Report is the material estimate for one task.
type Report struct {
	TaskID       string                     `json:"task_id"`
	TenantID     string                     `json:"tenant_id,omitempty"`
	Status       string                     `json:"status,omitempty"`
	Features     []pipeline.MeasuredFeature `json:"features"`
	Estimates    []estimate.CostEstimate    `json:"estimates"`
	TotalCost    float64                    `json:"total_cost"`
	UnknownTypes []string                   `json:"unknown_types,omitempty"`
}

// FeatureSource looks up the stored features of a task.
type FeatureSource interface {
	GetFeaturesByTask(ctx context.Context, taskID, tenantID string) ([]pipeline.MeasuredFeature, error)
}

// Service builds reports from stored features, re-pricing them with the
// current rate table.
type Service struct {
	source    FeatureSource
	estimator estimate.Estimator
}

// NewService creates a report service.
func NewService(source FeatureSource, rates estimate.RateTable) *Service {
	return &Service{source: source, estimator: estimate.NewEstimator(rates)}
}

// Generate builds the report for taskID within tenantID.
func (s *Service) Generate(ctx context.Context, taskID, tenantID string) (*Report, error) {
	features, err := s.source.GetFeaturesByTask(ctx, taskID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load features for task %s: %w", taskID, err)
	}
	if len(features) == 0 {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNoFeatures)
	}

	r := build(s.estimator, features)
	r.TaskID = taskID
	r.TenantID = tenantID
	return r, nil
}

// FromResult builds a report straight from a runner result, using the
// estimates computed while the task ran.
func FromResult(res scheduler.TaskResult) *Report {
	r := &Report{
		TaskID:    res.Task.TaskID,
		TenantID:  res.Task.TenantID,
		Status:    res.Status.String(),
		Features:  res.Features,
		Estimates: res.Estimates,
		TotalCost: estimate.Total(res.Estimates),
	}
	seen := make(map[string]bool)
	for _, est := range res.Estimates {
		if est.UnknownType && !seen[est.FeatureType] {
			seen[est.FeatureType] = true
			r.UnknownTypes = append(r.UnknownTypes, est.FeatureType)
		}
	}
	sort.Strings(r.UnknownTypes)
	if r.Features == nil {
		r.Features = []pipeline.MeasuredFeature{}
	}
	if r.Estimates == nil {
		r.Estimates = []estimate.CostEstimate{}
	}
	return r
}

func build(e estimate.Estimator, features []pipeline.MeasuredFeature) *Report {
	items := make([]estimate.Item, len(features))
	for i, f := range features {
		items[i] = estimate.Item{FeatureType: f.FeatureType, AreaSqFt: f.AreaSqFt}
	}
	estimates, unknown := e.EstimateAll(items)
	return &Report{
		Features:     features,
		Estimates:    estimates,
		TotalCost:    estimate.Total(estimates),
		UnknownTypes: unknown,
	}
}
