package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	Topic() string
	TaskID() string
}

// Topic constants
const (
	TopicTask    = "task"
	TopicQuality = "quality"
)

// Event type constants
const (
	EventTypeTaskStarted        = "task.started"
	EventTypeTaskRetryScheduled = "task.retry_scheduled"
	EventTypeTaskCompleted      = "task.completed"
	EventTypeTaskFailed         = "task.failed"
	EventTypeTaskSuperseded     = "task.superseded"
	EventTypeMaskRejected       = "quality.mask_rejected"
	EventTypeDeviationExceeded  = "quality.deviation_exceeded"
	EventTypeUnknownFeature     = "quality.unknown_feature_type"
)

// TaskStartedEvent is published when an attempt begins.
type TaskStartedEvent struct {
	ID        string
	SourceID  string
	Attempt   int // 1-based execution number
	Masks     int
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) Topic() string     { return TopicTask }
func (e TaskStartedEvent) TaskID() string    { return e.ID }

// TaskRetryScheduledEvent is published when a transient failure schedules a retry.
type TaskRetryScheduledEvent struct {
	ID           string
	AttemptCount int
	Delay        time.Duration
	Err          error
	Timestamp    time.Time
}

func (e TaskRetryScheduledEvent) EventType() string { return EventTypeTaskRetryScheduled }
func (e TaskRetryScheduledEvent) Topic() string     { return TopicTask }
func (e TaskRetryScheduledEvent) TaskID() string    { return e.ID }

// TaskCompletedEvent is published when a task ends in success or manual review.
type TaskCompletedEvent struct {
	ID        string
	Status    string
	Features  int
	Ignored   int
	Review    int
	Rejected  int
	TotalCost float64
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) Topic() string     { return TopicTask }
func (e TaskCompletedEvent) TaskID() string    { return e.ID }

// TaskFailedEvent is published when retries are exhausted.
type TaskFailedEvent struct {
	ID        string
	Attempts  int
	Err       error
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) Topic() string     { return TopicTask }
func (e TaskFailedEvent) TaskID() string    { return e.ID }

// TaskSupersededEvent is published when a newer submission replaces a task.
type TaskSupersededEvent struct {
	ID           string
	SourceID     string
	SupersededBy string
	Timestamp    time.Time
}

func (e TaskSupersededEvent) EventType() string { return EventTypeTaskSuperseded }
func (e TaskSupersededEvent) Topic() string     { return TopicTask }
func (e TaskSupersededEvent) TaskID() string    { return e.ID }

// MaskRejectedEvent is published for masks with degenerate or invalid geometry.
type MaskRejectedEvent struct {
	ID        string
	MaskIndex int
	Reason    string
	Err       error
	Timestamp time.Time
}

func (e MaskRejectedEvent) EventType() string { return EventTypeMaskRejected }
func (e MaskRejectedEvent) Topic() string     { return TopicQuality }
func (e MaskRejectedEvent) TaskID() string    { return e.ID }

// DeviationExceededEvent is published when simplification moved a mask's
// area by more than the configured bound.
type DeviationExceededEvent struct {
	ID             string
	MaskIndex      int
	RawAreaSqFt    float64
	SimplifiedSqFt float64
	Relative       float64
	Bound          float64
	Timestamp      time.Time
}

func (e DeviationExceededEvent) EventType() string { return EventTypeDeviationExceeded }
func (e DeviationExceededEvent) Topic() string     { return TopicQuality }
func (e DeviationExceededEvent) TaskID() string    { return e.ID }

// UnknownFeatureTypeEvent is published when a measured feature has no rate.
type UnknownFeatureTypeEvent struct {
	ID          string
	FeatureType string
	Timestamp   time.Time
}

func (e UnknownFeatureTypeEvent) EventType() string { return EventTypeUnknownFeature }
func (e UnknownFeatureTypeEvent) Topic() string     { return TopicQuality }
func (e UnknownFeatureTypeEvent) TaskID() string    { return e.ID }
