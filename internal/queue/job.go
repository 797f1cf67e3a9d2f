// Package queue implements named, priority-ordered, concurrency-bounded
// job queues with retryable execution.
package queue

import (
	"context"
	"time"
)

// Payload is the closed set of job kinds. Each kind carries a typed payload
// and is dispatched by type switch in the Executor.
type Payload interface {
	Kind() string
}

// LocationFix is one raw position report from a device.
type LocationFix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LocationBatch persists a batch of fixes for one user through the
// breaker-guarded store writer.
type LocationBatch struct {
	UserID string
	Fixes  []LocationFix
}

func (LocationBatch) Kind() string { return "location-batch" }

// NotifyUser delivers an event to a user through the realtime hub,
// queueing offline when no connection is live.
type NotifyUser struct {
	UserID string
	Event  string
	Data   map[string]any
}

func (NotifyUser) Kind() string { return "notify-user" }

// AnalyticsRollup aggregates a day of activity.
type AnalyticsRollup struct {
	Day string
}

func (AnalyticsRollup) Kind() string { return "analytics-rollup" }

// Func is an ad-hoc closure job for callers that need one-off async work.
type Func struct {
	Name string
	Run  func(ctx context.Context) error
}

func (Func) Kind() string { return "func" }

// Job is a unit of queued work. A job is owned by exactly one named queue
// at a time and moves pending -> in-flight -> completed or re-queued.
type Job struct {
	ID          string
	Payload     Payload
	Priority    int
	Attempts    int
	MaxAttempts int
	CreatedAt   time.Time

	seq uint64 // insertion order, for stable priority ties
}
