package domain

import "time"

// Event is a single page-view event emitted by a client site.
//
// ID is assigned by storage at persistence time and is zero for events
// that have not been persisted yet. ProcessedAt is stamped by the worker
// immediately before the storage write and is never altered afterwards.
// Timestamp is client-supplied; ProcessedAt >= Timestamp is not guaranteed
// (clock skew is permitted).
type Event struct {
	ID          int64
	SiteID      string
	EventType   string
	Path        string
	UserID      string
	Timestamp   time.Time
	ProcessedAt time.Time
}
