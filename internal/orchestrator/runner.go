package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/estimate"
	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/events"
	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/geometry"
	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/metrics"
	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/pipeline"
	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/scheduler"
	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/validation"
)

// Collaborator names, also used as circuit breaker names.
const (
	collaboratorFeatures = "feature_sink"
	collaboratorReviews  = "review_sink"
)

var (
	ErrNotStarted     = errors.New("runner not started")
	ErrAlreadyStarted = errors.New("runner already started")
	ErrStopped        = errors.New("runner stopped")
	ErrDuplicateTask  = errors.New("duplicate task id")
)

// MaskProcessor turns one raw mask into an explicit outcome.
// *pipeline.Pipeline is the production implementation.
type MaskProcessor interface {
	Process(ctx context.Context, mask pipeline.RawMask) pipeline.MaskOutcome
}

// FeatureSink receives the measured features of a successful task. Calls
// for the same task replace earlier deliveries.
type FeatureSink interface {
	SaveFeatures(ctx context.Context, task scheduler.TaskRef, features []pipeline.MeasuredFeature) error
}

// ReviewSink receives masks that need a human decision.
type ReviewSink interface {
	RequestReview(ctx context.Context, task scheduler.TaskRef, masks []pipeline.RawMask) error
}

// ResultRecorder audits every terminal task result.
type ResultRecorder interface {
	RecordTaskResult(ctx context.Context, result scheduler.TaskResult) error
}

// PermanentFailure is returned when a task exhausted its retries.
type PermanentFailure struct {
	TaskID   string
	Attempts int
	History  []scheduler.AttemptRecord
	LastErr  error
}

func (e *PermanentFailure) Error() string {
	return fmt.Sprintf("task %q failed permanently after %d attempts: %v", e.TaskID, e.Attempts, e.LastErr)
}

func (e *PermanentFailure) Unwrap() error { return e.LastErr }

// RunnerConfig configures the task runner.
type RunnerConfig struct {
	Workers        int           // Concurrent task executions (default 4)
	QueueSize      int           // Buffered queue capacity (default 1024)
	AttemptTimeout time.Duration // Per-attempt deadline, 0 disables
	Retry          RetryConfig
	Breaker        BreakerConfig

	Processor MaskProcessor    // Defaults to a pipeline with default settings
	Features  FeatureSink      // Optional
	Reviews   ReviewSink       // Optional
	Recorder  ResultRecorder   // Optional
	Events    *events.Bus      // Optional (nil disables)
	Metrics   *metrics.Metrics // Optional (nil disables)

	NewID func() string // Task ID generator for tasks submitted without one
}

type taskState struct {
	task         scheduler.Task
	attempt      scheduler.TaskAttempt
	policy       backoff.BackOff
	history      []scheduler.AttemptRecord
	timer        *time.Timer
	supersededBy string
	submittedAt  time.Time
}

// Runner executes measurement tasks on a fixed worker pool, retrying
// transient failures with exponential backoff. A newer task for the same
// source supersedes any older one that has not delivered yet.
type Runner struct {
	cfg      RunnerConfig
	breakers *CircuitBreakerRegistry
	locks    *scheduler.SourceLocks
	queue    chan string

	mu      sync.Mutex
	tasks   map[string]*taskState // Live tasks only; removed on a terminal status
	seen    map[string]struct{}   // Every submitted ID, for duplicate detection
	latest  map[string]string // sourceID -> newest taskID
	results []scheduler.TaskResult
	pending int
	waiters []chan struct{}
	started bool
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewRunner creates a runner. Call Start before submitting tasks.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	cfg.Retry = cfg.Retry.withDefaults()
	if cfg.Processor == nil {
		cfg.Processor = pipeline.New(pipeline.Config{
			Tolerance:  geometry.DefaultTolerance,
			Validation: validation.DefaultConfig(),
			Rates:      estimate.DefaultRates(),
		})
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}

	return &Runner{
		cfg:      cfg,
		breakers: NewCircuitBreakerRegistry(cfg.Breaker),
		locks:    scheduler.NewSourceLocks(),
		queue:    make(chan string, cfg.QueueSize),
		tasks:    make(map[string]*taskState),
		seen:     make(map[string]struct{}),
		latest:   make(map[string]string),
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled or
// Stop is called.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return ErrAlreadyStarted
	}
	r.started = true
	r.ctx, r.cancel = context.WithCancel(ctx)

	g, gctx := errgroup.WithContext(r.ctx)
	for range r.cfg.Workers {
		g.Go(func() error {
			r.worker(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		r.abandon(gctx.Err())
		return nil
	})
	r.group = g
	return nil
}

// Submit queues a task and returns its ID. Tasks without an ID get a
// generated one. Any live task for the same SourceID is superseded.
func (r *Runner) Submit(task scheduler.Task) (string, error) {
	if task.ID == "" {
		task.ID = r.cfg.NewID()
	}

	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return "", ErrNotStarted
	}
	if r.stopped || r.ctx.Err() != nil {
		r.mu.Unlock()
		return "", ErrStopped
	}
	if _, dup := r.seen[task.ID]; dup {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: %q", ErrDuplicateTask, task.ID)
	}

	st := &taskState{
		task: task,
		attempt: scheduler.TaskAttempt{
			TaskID:     task.ID,
			MaxRetries: r.cfg.Retry.MaxRetries,
			Status:     scheduler.TaskPending,
		},
		policy:      r.cfg.Retry.NewBackOff(),
		submittedAt: time.Now(),
	}
	r.tasks[task.ID] = st
	r.seen[task.ID] = struct{}{}
	r.pending++

	var finished []finishedTask
	if task.SourceID != "" {
		if prevID, ok := r.latest[task.SourceID]; ok {
			if res, done := r.supersedeLocked(prevID, task.ID); done {
				finished = append(finished, res)
			}
		}
		r.latest[task.SourceID] = task.ID
	}
	r.mu.Unlock()

	for _, f := range finished {
		r.afterFinalize(f)
	}

	r.enqueue(task.ID)
	return task.ID, nil
}

// supersedeLocked marks prevID as replaced by newID. A task waiting out a
// retry delay is finalised immediately; queued and running tasks are
// finalised by their worker.
func (r *Runner) supersedeLocked(prevID, newID string) (finishedTask, bool) {
	prev := r.tasks[prevID]
	if prev == nil || prev.attempt.Status.Terminal() {
		return finishedTask{}, false
	}
	prev.supersededBy = newID

	if prev.attempt.Status == scheduler.TaskRetryScheduled && prev.timer != nil && prev.timer.Stop() {
		return r.finalizeLocked(prev, scheduler.TaskSuperseded, nil, nil), true
	}
	return finishedTask{}, false
}

// Wait blocks until every submitted task reached a terminal status or ctx
// is done.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	if r.pending == 0 {
		r.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	r.waiters = append(r.waiters, ch)
	r.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels pending retries and waits for the workers to exit. Queued
// and retry-waiting tasks end FailedPermanently; running attempts finish
// first and then fail permanently unless they succeeded.
func (r *Runner) Stop() error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return ErrNotStarted
	}
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	r.cancel()
	g := r.group
	r.mu.Unlock()

	return g.Wait()
}

// Results returns the terminal results in completion order.
func (r *Runner) Results() []scheduler.TaskResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]scheduler.TaskResult, len(r.results))
	copy(out, r.results)
	return out
}

// Attempt returns the retry state of a live task. Tasks that reached a
// terminal status are no longer tracked; see Results.
func (r *Runner) Attempt(taskID string) (scheduler.TaskAttempt, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.tasks[taskID]
	if !ok {
		return scheduler.TaskAttempt{}, false
	}
	return st.attempt, true
}

// Run starts the runner, submits tasks in order, waits for all of them and
// stops. It returns the terminal results.
func (r *Runner) Run(ctx context.Context, tasks []scheduler.Task) ([]scheduler.TaskResult, error) {
	if err := r.Start(ctx); err != nil {
		return nil, err
	}

	for _, task := range tasks {
		if _, err := r.Submit(task); err != nil {
			_ = r.Stop()
			return r.Results(), err
		}
	}

	waitErr := r.Wait(ctx)
	if err := r.Stop(); err != nil && waitErr == nil {
		waitErr = err
	}
	return r.Results(), waitErr
}

// abandon finalises every task that is not in a worker's hands once the
// runner's context is done.
func (r *Runner) abandon(cause error) {
	r.mu.Lock()
	var finished []finishedTask
	for _, st := range r.tasks {
		switch st.attempt.Status {
		case scheduler.TaskPending, scheduler.TaskRetryScheduled:
		default:
			continue
		}
		if st.supersededBy != "" {
			finished = append(finished, r.finalizeLocked(st, scheduler.TaskSuperseded, nil, nil))
			continue
		}
		lastErr := cause
		if n := len(st.history); n > 0 && st.history[n-1].Err != "" {
			lastErr = fmt.Errorf("%w (last attempt: %s)", cause, st.history[n-1].Err)
		}
		failure := &PermanentFailure{
			TaskID:   st.task.ID,
			Attempts: len(st.history),
			History:  append([]scheduler.AttemptRecord(nil), st.history...),
			LastErr:  lastErr,
		}
		finished = append(finished, r.finalizeLocked(st, scheduler.TaskFailedPermanently, failure, nil))
	}
	r.mu.Unlock()

	for _, f := range finished {
		r.afterFinalize(f)
	}
}

func (r *Runner) enqueue(taskID string) {
	select {
	case r.queue <- taskID:
	case <-r.ctx.Done():
	}
}

func (r *Runner) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-r.queue:
			if ctx.Err() != nil {
				return
			}
			r.execute(ctx, id)
		}
	}
}

// attemptOutput is what one successful pass over a task's masks produced.
type attemptOutput struct {
	outcomes  []pipeline.MaskOutcome
	features  []pipeline.MeasuredFeature
	estimates []estimate.CostEstimate
	review    []int
	admitted  int // Masks that passed the confidence gate
}

// execute runs one attempt of a task.
func (r *Runner) execute(ctx context.Context, taskID string) {
	r.mu.Lock()
	st := r.tasks[taskID]
	if st == nil || st.attempt.Status.Terminal() {
		r.mu.Unlock()
		return
	}
	if st.supersededBy != "" {
		f := r.finalizeLocked(st, scheduler.TaskSuperseded, nil, nil)
		r.mu.Unlock()
		r.afterFinalize(f)
		return
	}
	if err := st.attempt.Transition(scheduler.TaskRunning); err != nil {
		r.mu.Unlock()
		log.Printf("ERROR: %v", err)
		return
	}
	st.timer = nil
	task := st.task
	record := scheduler.AttemptRecord{Attempt: len(st.history) + 1, StartedAt: time.Now()}
	r.mu.Unlock()

	r.cfg.Metrics.IncActive()
	defer r.cfg.Metrics.DecActive()

	r.cfg.Events.Publish(events.TaskStartedEvent{
		ID:        task.ID,
		SourceID:  task.SourceID,
		Attempt:   record.Attempt,
		Masks:     len(task.Masks),
		Timestamp: record.StartedAt,
	})

	actx := ctx
	if r.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, r.cfg.AttemptTimeout)
		defer cancel()
	}

	out, err := r.processMasks(actx, task)
	if err == nil {
		err = r.deliver(actx, st, out)
	}
	record.FinishedAt = time.Now()

	if errors.Is(err, errSuperseded) {
		r.mu.Lock()
		st.history = append(st.history, record)
		f := r.finalizeLocked(st, scheduler.TaskSuperseded, nil, nil)
		r.mu.Unlock()
		r.afterFinalize(f)
		return
	}
	if err != nil {
		r.handleFailure(ctx, st, record, err)
		return
	}

	r.observeOutcomes(task.ID, out.outcomes)

	status := scheduler.TaskSucceeded
	if out.admitted == 0 {
		status = scheduler.TaskManualReview
	}

	r.mu.Lock()
	st.history = append(st.history, record)
	f := r.finalizeLocked(st, status, nil, &out)
	r.mu.Unlock()

	r.afterFinalize(f)
}

// processMasks runs every mask through the processor. The first retryable
// outcome aborts the attempt; every other outcome is recorded on its mask.
func (r *Runner) processMasks(ctx context.Context, task scheduler.Task) (attemptOutput, error) {
	out := attemptOutput{outcomes: make([]pipeline.MaskOutcome, 0, len(task.Masks))}

	for i, mask := range task.Masks {
		o := r.cfg.Processor.Process(ctx, mask)
		o.Index = i
		if o.Retryable() {
			err := o.Err
			if err == nil {
				err = pipeline.ErrTransient
			}
			return attemptOutput{}, fmt.Errorf("mask %d: %w", i, err)
		}

		out.outcomes = append(out.outcomes, o)
		switch o.Kind {
		case pipeline.OutcomeLowConfidence:
			out.review = append(out.review, i)
		case pipeline.OutcomeMeasured:
			out.admitted++
			if o.Feature != nil {
				out.features = append(out.features, *o.Feature)
			}
			if o.Estimate != nil {
				out.estimates = append(out.estimates, *o.Estimate)
			}
		default:
			out.admitted++
		}
	}
	return out, nil
}

var errSuperseded = errors.New("superseded")

// deliver hands results to the collaborators. Delivery for a source is
// serialised, and a task superseded before its turn delivers nothing.
func (r *Runner) deliver(ctx context.Context, st *taskState, out attemptOutput) error {
	task := st.task
	if task.SourceID != "" {
		r.locks.Lock(task.SourceID)
		defer r.locks.Unlock(task.SourceID)
	}

	r.mu.Lock()
	superseded := st.supersededBy != ""
	r.mu.Unlock()
	if superseded {
		return errSuperseded
	}

	ref := task.Ref()

	if out.admitted == 0 {
		// Nothing passed the confidence gate: the whole batch goes to review.
		if r.cfg.Reviews == nil {
			return nil
		}
		return r.breakers.callThrough(ctx, collaboratorReviews, func(ctx context.Context) error {
			return r.cfg.Reviews.RequestReview(ctx, ref, task.Masks)
		})
	}

	if r.cfg.Features != nil {
		err := r.breakers.callThrough(ctx, collaboratorFeatures, func(ctx context.Context) error {
			return r.cfg.Features.SaveFeatures(ctx, ref, out.features)
		})
		if err != nil {
			return err
		}
	}

	if len(out.review) > 0 && r.cfg.Reviews != nil {
		masks := make([]pipeline.RawMask, len(out.review))
		for i, idx := range out.review {
			masks[i] = task.Masks[idx]
		}
		return r.breakers.callThrough(ctx, collaboratorReviews, func(ctx context.Context) error {
			return r.cfg.Reviews.RequestReview(ctx, ref, masks)
		})
	}
	return nil
}

// handleFailure schedules a retry or finalises the task as permanently failed.
func (r *Runner) handleFailure(ctx context.Context, st *taskState, record scheduler.AttemptRecord, cause error) {
	record.Err = cause.Error()

	r.mu.Lock()
	id := st.task.ID

	if st.supersededBy != "" {
		st.history = append(st.history, record)
		f := r.finalizeLocked(st, scheduler.TaskSuperseded, nil, nil)
		r.mu.Unlock()
		r.afterFinalize(f)
		return
	}

	delay := backoff.Stop
	if ctx.Err() == nil && r.ctx.Err() == nil && !r.stopped {
		delay = st.policy.NextBackOff()
	}

	if delay == backoff.Stop {
		st.history = append(st.history, record)
		history := append([]scheduler.AttemptRecord(nil), st.history...)
		failure := &PermanentFailure{
			TaskID:   id,
			Attempts: len(history),
			History:  history,
			LastErr:  cause,
		}
		f := r.finalizeLocked(st, scheduler.TaskFailedPermanently, failure, nil)
		r.mu.Unlock()
		r.afterFinalize(f)
		return
	}

	st.attempt.AttemptCount++
	record.RetryDelay = delay
	st.history = append(st.history, record)
	if err := st.attempt.Transition(scheduler.TaskRetryScheduled); err != nil {
		log.Printf("ERROR: %v", err)
	}
	attemptCount := st.attempt.AttemptCount
	st.timer = time.AfterFunc(delay, func() { r.enqueue(id) })
	r.mu.Unlock()

	log.Printf("WARNING: task %q attempt %d failed: %v; retry %d/%d in %s",
		id, record.Attempt, cause, attemptCount, r.cfg.Retry.MaxRetries, delay)
	r.cfg.Metrics.IncRetry()
	r.cfg.Events.Publish(events.TaskRetryScheduledEvent{
		ID:           id,
		AttemptCount: attemptCount,
		Delay:        delay,
		Err:          cause,
		Timestamp:    time.Now(),
	})
}

// finishedTask carries what afterFinalize reports about a task whose state
// has already been dropped.
type finishedTask struct {
	res          scheduler.TaskResult
	elapsed      time.Duration
	supersededBy string
}

// finalizeLocked moves st to a terminal status, appends its result and stops
// tracking it. Must be called with r.mu held.
func (r *Runner) finalizeLocked(st *taskState, status scheduler.TaskStatus, cause error, out *attemptOutput) finishedTask {
	if err := st.attempt.Transition(status); err != nil {
		log.Printf("ERROR: %v", err)
		st.attempt.Status = status
	}
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	if src := st.task.SourceID; src != "" && r.latest[src] == st.task.ID {
		delete(r.latest, src)
	}
	delete(r.tasks, st.task.ID)

	res := scheduler.TaskResult{
		Task:     st.task.Ref(),
		Status:   status,
		Attempts: len(st.history),
		History:  append([]scheduler.AttemptRecord(nil), st.history...),
		Err:      cause,
	}
	if out != nil {
		res.Outcomes = out.outcomes
		res.Features = out.features
		res.Estimates = out.estimates
		res.ReviewMask = out.review
	}
	r.results = append(r.results, res)

	r.pending--
	if r.pending == 0 {
		for _, ch := range r.waiters {
			close(ch)
		}
		r.waiters = nil
	}
	return finishedTask{
		res:          res,
		elapsed:      time.Since(st.submittedAt),
		supersededBy: st.supersededBy,
	}
}

// afterFinalize reports a terminal result. Must be called without r.mu held.
func (r *Runner) afterFinalize(f finishedTask) {
	res, elapsed, supersededBy := f.res, f.elapsed, f.supersededBy

	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()

	r.cfg.Metrics.ObserveTask(res.Status.String(), elapsed)

	now := time.Now()
	switch res.Status {
	case scheduler.TaskSuperseded:
		log.Printf("Task %q superseded by %q", res.Task.TaskID, supersededBy)
		r.cfg.Events.Publish(events.TaskSupersededEvent{
			ID:           res.Task.TaskID,
			SourceID:     res.Task.SourceID,
			SupersededBy: supersededBy,
			Timestamp:    now,
		})
	case scheduler.TaskFailedPermanently:
		log.Printf("ERROR: task %q failed permanently after %d attempts: %v", res.Task.TaskID, res.Attempts, res.Err)
		r.cfg.Events.Publish(events.TaskFailedEvent{
			ID:        res.Task.TaskID,
			Attempts:  res.Attempts,
			Err:       res.Err,
			Duration:  elapsed,
			Timestamp: now,
		})
	default:
		counts := res.Counts()
		r.cfg.Events.Publish(events.TaskCompletedEvent{
			ID:        res.Task.TaskID,
			Status:    res.Status.String(),
			Features:  len(res.Features),
			Ignored:   counts[pipeline.OutcomeNoise],
			Review:    len(res.ReviewMask),
			Rejected:  counts[pipeline.OutcomeDegenerate] + counts[pipeline.OutcomeInvalid],
			TotalCost: estimate.Total(res.Estimates),
			Duration:  elapsed,
			Timestamp: now,
		})
	}

	if r.cfg.Recorder != nil {
		if err := r.cfg.Recorder.RecordTaskResult(context.WithoutCancel(ctx), res); err != nil {
			log.Printf("WARNING: failed to record result for task %q: %v", res.Task.TaskID, err)
		}
	}
}

// observeOutcomes publishes per-mask quality signals for a completed attempt.
func (r *Runner) observeOutcomes(taskID string, outcomes []pipeline.MaskOutcome) {
	now := time.Now()
	for _, o := range outcomes {
		r.cfg.Metrics.ObserveMask(o.Kind.String())

		switch o.Kind {
		case pipeline.OutcomeDegenerate, pipeline.OutcomeInvalid:
			r.cfg.Events.Publish(events.MaskRejectedEvent{
				ID:        taskID,
				MaskIndex: o.Index,
				Reason:    o.Kind.String(),
				Err:       o.Err,
				Timestamp: now,
			})

		case pipeline.OutcomeMeasured:
			r.cfg.Metrics.ObserveDeviation(o.Deviation.Relative, o.Deviation.Exceeded)
			if o.Deviation.Exceeded {
				log.Printf("WARNING: task %q mask %d: simplification changed area by %.4f (%.2f -> %.2f sq ft)",
					taskID, o.Index, o.Deviation.Relative, o.RawAreaSqFt, o.AreaSqFt)
				r.cfg.Events.Publish(events.DeviationExceededEvent{
					ID:             taskID,
					MaskIndex:      o.Index,
					RawAreaSqFt:    o.RawAreaSqFt,
					SimplifiedSqFt: o.AreaSqFt,
					Relative:       o.Deviation.Relative,
					Bound:          o.Deviation.Bound,
					Timestamp:      now,
				})
			}
			if o.Estimate != nil && o.Estimate.UnknownType {
				log.Printf("WARNING: task %q mask %d: no rate for feature type %q", taskID, o.Index, o.FeatureType)
				r.cfg.Metrics.IncUnknownType(o.FeatureType)
				r.cfg.Events.Publish(events.UnknownFeatureTypeEvent{
					ID:          taskID,
					FeatureType: o.FeatureType,
					Timestamp:   now,
				})
			}
		}
	}
}
