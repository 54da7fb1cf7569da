// Package metrics exposes Prometheus collectors for the measurement runner.
package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "landscape"

// Metrics holds the collectors reported by the runner and pipeline.
// All methods are safe on a nil receiver.
type Metrics struct {
	maskOutcomes      *prometheus.CounterVec
	taskStatuses      *prometheus.CounterVec
	retries           prometheus.Counter
	deviation         prometheus.Histogram
	deviationBreaches prometheus.Counter
	unknownTypes      *prometheus.CounterVec
	taskDuration      *prometheus.HistogramVec
	tasksActive       prometheus.Gauge
}

var (
	defaultOnce sync.Once
	shared      *Metrics
)

// Default returns metrics registered with the global Prometheus registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		shared = MustNew(prometheus.DefaultRegisterer)
	})
	return shared
}

// MustNew constructs Metrics against reg. Collectors that are already
// registered with reg are reused; any other registration error panics.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Metrics{
		maskOutcomes: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "mask_outcomes_total",
				Help:      "Masks processed, by outcome kind.",
			},
			[]string{"outcome"},
		)),
		taskStatuses: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "runner",
				Name:      "tasks_total",
				Help:      "Tasks reaching a terminal status.",
			},
			[]string{"status"},
		)),
		retries: register(reg, prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "runner",
				Name:      "retries_total",
				Help:      "Task retries scheduled after transient failures.",
			},
		)),
		deviation: register(reg, prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "area_deviation_ratio",
				Help:      "Relative area change introduced by simplification.",
				Buckets:   []float64{0.0001, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
			},
		)),
		deviationBreaches: register(reg, prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "deviation_breaches_total",
				Help:      "Measured features whose simplification deviation exceeded the bound.",
			},
		)),
		unknownTypes: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "estimate",
				Name:      "unknown_feature_types_total",
				Help:      "Features priced at zero because their type has no rate.",
			},
			[]string{"feature_type"},
		)),
		taskDuration: register(reg, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "runner",
				Name:      "task_duration_seconds",
				Help:      "Wall time from first attempt to terminal status.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		)),
		tasksActive: register(reg, prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "runner",
				Name:      "tasks_active",
				Help:      "Tasks currently executing on a worker.",
			},
		)),
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveMask counts one mask outcome.
func (m *Metrics) ObserveMask(outcome string) {
	if m == nil {
		return
	}
	m.maskOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveDeviation records the relative area deviation of a measured feature.
func (m *Metrics) ObserveDeviation(relative float64, exceeded bool) {
	if m == nil {
		return
	}
	m.deviation.Observe(relative)
	if exceeded {
		m.deviationBreaches.Inc()
	}
}

// IncUnknownType counts a feature priced without a rate.
func (m *Metrics) IncUnknownType(featureType string) {
	if m == nil {
		return
	}
	m.unknownTypes.WithLabelValues(featureType).Inc()
}

// IncRetry counts a scheduled retry.
func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

// ObserveTask records a terminal task status and its total duration.
func (m *Metrics) ObserveTask(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.taskStatuses.WithLabelValues(status).Inc()
	m.taskDuration.WithLabelValues(status).Observe(d.Seconds())
}

// IncActive marks a task attempt as executing.
func (m *Metrics) IncActive() {
	if m == nil {
		return
	}
	m.tasksActive.Inc()
}

// DecActive marks a task attempt as finished.
func (m *Metrics) DecActive() {
	if m == nil {
		return
	}
	m.tasksActive.Dec()
}
