package api

import (
	"errors"
	"time"

	"github.com/sitepulse-io/sitepulse/internal/domain"
)

// Validation errors double as client-facing messages, so their wording is
// part of the API contract.
var (
	ErrMissingSiteFields  = errors.New("site_id and event_type are required")
	ErrMissingEventFields = errors.New("path, user_id, and timestamp are required")
	ErrInvalidTimestamp   = errors.New("timestamp must be a valid RFC 3339 or date string")
)

// timestampLayouts are tried in order. RFC 3339 is canonical; the rest
// cover the date strings client snippets commonly send.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// validateEvent checks required fields and parses the timestamp. Pure:
// no normalization, no side effects. The two presence tiers are distinct
// errors with distinct messages.
func validateEvent(req EventRequest) (domain.Event, error) {
	if req.SiteID == "" || req.EventType == "" {
		return domain.Event{}, ErrMissingSiteFields
	}
	if req.Path == "" || req.UserID == "" || req.Timestamp == "" {
		return domain.Event{}, ErrMissingEventFields
	}

	ts, err := parseTimestamp(req.Timestamp)
	if err != nil {
		return domain.Event{}, ErrInvalidTimestamp
	}

	return domain.Event{
		SiteID:    req.SiteID,
		EventType: req.EventType,
		Path:      req.Path,
		UserID:    req.UserID,
		Timestamp: ts,
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
