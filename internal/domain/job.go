package domain

import (
	"time"

	"github.com/google/uuid"
)

// Job is the delivery envelope the queue wraps around an event.
//
// The queue exclusively owns the delivery state (Attempts, backoff timing,
// visibility) for the job's queued lifetime. Attempts counts deliveries,
// so it is 1 on the first time a consumer sees the job.
type Job struct {
	ID       uuid.UUID
	Event    Event
	Priority int // lower value delivered first

	Attempts   int
	EnqueuedAt time.Time
	LastError  string
}
