package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/pipeline"
)

// RetryConfig configures task-level exponential backoff.
//
// The delay scheduled after the n-th failed attempt is BaseDelay * 2^n,
// capped at MaxDelay. At most MaxRetries retries are scheduled.
type RetryConfig struct {
	BaseDelay           time.Duration // Default 1s
	MaxDelay            time.Duration // Default 5m
	MaxRetries          int           // Default 3
	RandomizationFactor float64       // Jitter factor (default 0)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		BaseDelay:           time.Second,
		MaxDelay:            5 * time.Minute,
		MaxRetries:          3,
		RandomizationFactor: 0,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RandomizationFactor < 0 {
		c.RandomizationFactor = 0
	}
	return c
}

// NewBackOff returns a fresh per-task backoff policy. NextBackOff returns
// backoff.Stop once MaxRetries delays have been handed out.
func (c RetryConfig) NewBackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	// The attempt counter is incremented before the delay is computed, so the
	// first retry waits base*2.
	exp.InitialInterval = 2 * c.BaseDelay
	exp.MaxInterval = c.MaxDelay
	exp.MaxElapsedTime = 0
	exp.Multiplier = 2.0
	exp.RandomizationFactor = c.RandomizationFactor
	exp.Reset()

	return backoff.WithMaxRetries(exp, uint64(c.MaxRetries))
}

// BreakerConfig configures the circuit breakers guarding collaborators.
type BreakerConfig struct {
	ConsecutiveFailures uint32        // Trip after this many failures in a row (default 5)
	OpenTimeout         time.Duration // Stay open this long before probing (default 30s)
	HalfOpenRequests    uint32        // Probe requests allowed while half-open (default 3)
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    3,
	}
}

// CircuitBreakerRegistry manages one circuit breaker per collaborator.
type CircuitBreakerRegistry struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewCircuitBreakerRegistry creates a new circuit breaker registry.
func NewCircuitBreakerRegistry(cfg BreakerConfig) *CircuitBreakerRegistry {
	d := DefaultBreakerConfig()
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = d.ConsecutiveFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = d.OpenTimeout
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = d.HalfOpenRequests
	}
	return &CircuitBreakerRegistry{
		cfg:      cfg,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the circuit breaker for the named collaborator.
// Creates a new one if it doesn't exist.
func (r *CircuitBreakerRegistry) Get(name string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	threshold := r.cfg.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: r.cfg.HalfOpenRequests,
		Interval:    0, // Don't clear counts automatically
		Timeout:     r.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			// Our own cancellation says nothing about the collaborator's health
			if err == nil {
				return true
			}
			return errors.Is(err, context.Canceled)
		},
	})

	r.breakers[name] = cb
	return cb
}

// callThrough invokes fn behind the named breaker. Any failure, including an
// open breaker, is reported as a transient processing failure so the task is
// retried.
func (r *CircuitBreakerRegistry) callThrough(ctx context.Context, name string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return pipeline.Transient(fmt.Errorf("%s: %w", name, err))
	}

	_, err := r.Get(name).Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if err != nil {
		return pipeline.Transient(fmt.Errorf("%s: %w", name, err))
	}
	return nil
}
