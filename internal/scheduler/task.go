package scheduler

import (
	"fmt"
	"time"

	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/estimate"
	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/pipeline"
)

// TaskStatus represents the current state of a task.
type TaskStatus int

const (
	TaskPending           TaskStatus = iota // Submitted, waiting for a worker
	TaskRunning                             // Masks being processed
	TaskRetryScheduled                      // Transient failure, waiting out backoff
	TaskManualReview                        // No mask passed the confidence gate
	TaskSucceeded                           // Results delivered
	TaskFailedPermanently                   // Retries exhausted
	TaskSuperseded                          // A newer task for the same source replaced this one
)

func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskRetryScheduled:
		return "retry_scheduled"
	case TaskManualReview:
		return "manual_review"
	case TaskSucceeded:
		return "success"
	case TaskFailedPermanently:
		return "failed_permanently"
	case TaskSuperseded:
		return "superseded"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ParseTaskStatus is the inverse of TaskStatus.String.
func ParseTaskStatus(s string) (TaskStatus, error) {
	for st := TaskPending; st <= TaskSuperseded; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown task status %q", s)
}

// Terminal reports whether no further transitions are possible.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskManualReview, TaskSucceeded, TaskFailedPermanently, TaskSuperseded:
		return true
	}
	return false
}

// validTransitions lists every allowed status change.
var validTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:        {TaskRunning, TaskSuperseded, TaskFailedPermanently},
	TaskRunning:        {TaskSucceeded, TaskRetryScheduled, TaskManualReview, TaskFailedPermanently, TaskSuperseded},
	TaskRetryScheduled: {TaskRunning, TaskSuperseded, TaskFailedPermanently},
}

// CanTransition reports whether from -> to is a legal state change.
func CanTransition(from, to TaskStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Task is one batch of masks detected in a single source image.
type Task struct {
	ID       string             `json:"id"`        // Unique identifier, generated when empty
	SourceID string             `json:"source_id"` // Source image; newer tasks for the same source win
	TenantID string             `json:"tenant_id"`
	Masks    []pipeline.RawMask `json:"masks"`
}

// Ref returns the identifying fields of t.
func (t Task) Ref() TaskRef {
	return TaskRef{TaskID: t.ID, SourceID: t.SourceID, TenantID: t.TenantID}
}

// TaskRef identifies a task to collaborators.
type TaskRef struct {
	TaskID   string
	SourceID string
	TenantID string
}

// TaskAttempt is the runner's per-task retry state.
type TaskAttempt struct {
	TaskID       string
	AttemptCount int // Retries scheduled so far
	MaxRetries   int
	Status       TaskStatus
}

// Transition moves the attempt to status to, rejecting illegal changes.
func (a *TaskAttempt) Transition(to TaskStatus) error {
	if !CanTransition(a.Status, to) {
		return fmt.Errorf("task %q: invalid transition %s -> %s", a.TaskID, a.Status, to)
	}
	a.Status = to
	return nil
}

// AttemptRecord captures one execution of a task.
type AttemptRecord struct {
	Attempt    int           `json:"attempt"` // 1-based execution number
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Err        string        `json:"error,omitempty"`
	RetryDelay time.Duration `json:"retry_delay,omitempty"` // Backoff scheduled after this attempt
}

// TaskResult is the terminal outcome of a task.
type TaskResult struct {
	Task       TaskRef
	Status     TaskStatus
	Attempts   int // Executions performed
	History    []AttemptRecord
	Outcomes   []pipeline.MaskOutcome
	Features   []pipeline.MeasuredFeature
	Estimates  []estimate.CostEstimate
	ReviewMask []int // Indexes of masks handed to manual review
	Err        error
}

// Counts tallies outcomes by kind.
func (r TaskResult) Counts() map[pipeline.OutcomeKind]int {
	counts := make(map[pipeline.OutcomeKind]int)
	for _, o := range r.Outcomes {
		counts[o.Kind]++
	}
	return counts
}
