package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Admission path metrics
	EventAdmitted()
	EventRejected(reason string)
	EnqueueError()
	ReportServedHTTP(status int)

	// Worker metrics
	JobProcessed(outcome string, duration time.Duration)
	JobsInFlightIncr()
	JobsInFlightDecr()
	DequeueError()

	// Queue metrics
	QueueDepth(state string, depth int64)

	// Reaper metrics
	JobsRequeued(count int)

	// Leader lock metrics
	LeaderStatusChanged(isLeader bool)

	// Report metrics
	ReportServed(duration time.Duration)
}

// Outcome constants for JobProcessed.
const (
	OutcomePersisted   = "persisted"
	OutcomeFailed      = "failed"
	OutcomeBreakerOpen = "breaker_open"
)

// State constants for QueueDepth.
const (
	StateWaiting = "waiting"
	StateDelayed = "delayed"
	StateActive  = "active"
	StateFailed  = "failed"
)
