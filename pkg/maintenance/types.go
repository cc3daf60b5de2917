package maintenance

import (
	"context"
	"time"
)

// ScheduleKind represents the type of schedule
type ScheduleKind string

const (
	ScheduleKindAt    ScheduleKind = "at"
	ScheduleKindEvery ScheduleKind = "every"
	ScheduleKindCron  ScheduleKind = "cron"
)

// Schedule represents a time specification for job execution
type Schedule struct {
	Kind ScheduleKind `json:"kind"`

	// For "at" schedule
	At string `json:"at,omitempty"` // ISO 8601 timestamp

	// For "every" schedule
	EveryMs  int64  `json:"everyMs,omitempty"`  // Interval in milliseconds
	AnchorMs *int64 `json:"anchorMs,omitempty"` // Optional anchor point

	// For "cron" schedule
	Expr string `json:"expr,omitempty"` // Cron expression (5-field format)
	TZ   string `json:"tz,omitempty"`   // Optional timezone
}

// Every is shorthand for an interval schedule
func Every(interval time.Duration) Schedule {
	return Schedule{Kind: ScheduleKindEvery, EveryMs: interval.Milliseconds()}
}

// Cron is shorthand for a cron-expression schedule
func Cron(expr string) Schedule {
	return Schedule{Kind: ScheduleKindCron, Expr: expr}
}

// TaskFunc is the work a maintenance job performs
type TaskFunc func(ctx context.Context) error

// JobState tracks runtime state of a job
type JobState struct {
	NextRunAtMs       *int64 `json:"nextRunAtMs,omitempty"`
	RunningAtMs       *int64 `json:"runningAtMs,omitempty"`
	LastRunAtMs       *int64 `json:"lastRunAtMs,omitempty"`
	LastStatus        string `json:"lastStatus,omitempty"` // "ok" or "error"
	LastError         string `json:"lastError,omitempty"`
	LastDurationMs    *int64 `json:"lastDurationMs,omitempty"`
	ConsecutiveErrors int    `json:"consecutiveErrors,omitempty"`
}

// Job is one registered maintenance job. The task function itself is
// held by the service and never serialized.
type Job struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Enabled     bool     `json:"enabled"`
	CreatedAtMs int64    `json:"createdAtMs"`
	Schedule    Schedule `json:"schedule"`
	State       JobState `json:"state"`
}

// EventAction represents the type of event
type EventAction string

const (
	EventActionFinished   EventAction = "finished"
	EventActionRegistered EventAction = "registered"
)

// Event reports a job lifecycle transition
type Event struct {
	Action      EventAction `json:"action"`
	Job         string      `json:"job"`
	Status      string      `json:"status,omitempty"`
	Error       string      `json:"error,omitempty"`
	DurationMs  *int64      `json:"durationMs,omitempty"`
	NextRunAtMs *int64      `json:"nextRunAtMs,omitempty"`
}

// ServiceOptions configures the maintenance service
type ServiceOptions struct {
	StorePath string          // Path to job state file; empty disables persistence
	OnEvent   func(evt Event) // Optional event callback
}

// Now returns current time in milliseconds
func Now() int64 {
	return time.Now().UnixMilli()
}

// Int64Ptr returns a pointer to an int64 value
func Int64Ptr(v int64) *int64 {
	return &v
}
