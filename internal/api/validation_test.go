package api

import (
	"errors"
	"testing"
	"time"
)

func validRequest() EventRequest {
	return EventRequest{
		SiteID:    "site-001",
		EventType: "page_view",
		Path:      "/pricing",
		UserID:    "user-42",
		Timestamp: "2026-08-28T10:15:00Z",
	}
}

func TestValidateEvent_Valid(t *testing.T) {
	event, err := validateEvent(validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if event.SiteID != "site-001" {
		t.Errorf("expected site id site-001, got %s", event.SiteID)
	}
	if event.EventType != "page_view" {
		t.Errorf("expected event type page_view, got %s", event.EventType)
	}
	want := time.Date(2026, 8, 28, 10, 15, 0, 0, time.UTC)
	if !event.Timestamp.Equal(want) {
		t.Errorf("expected timestamp %v, got %v", want, event.Timestamp)
	}
}

func TestValidateEvent_MissingSiteID(t *testing.T) {
	req := validRequest()
	req.SiteID = ""

	_, err := validateEvent(req)
	if !errors.Is(err, ErrMissingSiteFields) {
		t.Fatalf("expected ErrMissingSiteFields, got %v", err)
	}
}

func TestValidateEvent_MissingEventType(t *testing.T) {
	req := validRequest()
	req.EventType = ""

	_, err := validateEvent(req)
	if !errors.Is(err, ErrMissingSiteFields) {
		t.Fatalf("expected ErrMissingSiteFields, got %v", err)
	}
}

func TestValidateEvent_FirstTierWins(t *testing.T) {
	// An empty request fails the site tier, not the event tier.
	_, err := validateEvent(EventRequest{})
	if !errors.Is(err, ErrMissingSiteFields) {
		t.Fatalf("expected ErrMissingSiteFields, got %v", err)
	}
}

func TestValidateEvent_MissingPath(t *testing.T) {
	req := validRequest()
	req.Path = ""

	_, err := validateEvent(req)
	if !errors.Is(err, ErrMissingEventFields) {
		t.Fatalf("expected ErrMissingEventFields, got %v", err)
	}
}

func TestValidateEvent_MissingUserID(t *testing.T) {
	req := validRequest()
	req.UserID = ""

	_, err := validateEvent(req)
	if !errors.Is(err, ErrMissingEventFields) {
		t.Fatalf("expected ErrMissingEventFields, got %v", err)
	}
}

func TestValidateEvent_MissingTimestamp(t *testing.T) {
	req := validRequest()
	req.Timestamp = ""

	_, err := validateEvent(req)
	if !errors.Is(err, ErrMissingEventFields) {
		t.Fatalf("expected ErrMissingEventFields, got %v", err)
	}
}

func TestValidateEvent_InvalidTimestamp(t *testing.T) {
	req := validRequest()
	req.Timestamp = "not-a-date"

	_, err := validateEvent(req)
	if !errors.Is(err, ErrInvalidTimestamp) {
		t.Fatalf("expected ErrInvalidTimestamp, got %v", err)
	}
}

func TestParseTimestamp_AcceptedLayouts(t *testing.T) {
	cases := []struct {
		input string
		want  time.Time
	}{
		{"2026-08-28T10:15:00Z", time.Date(2026, 8, 28, 10, 15, 0, 0, time.UTC)},
		{"2026-08-28T10:15:00.250Z", time.Date(2026, 8, 28, 10, 15, 0, 250000000, time.UTC)},
		{"2026-08-28T10:15:00+02:00", time.Date(2026, 8, 28, 8, 15, 0, 0, time.UTC)},
		{"2026-08-28T10:15:00", time.Date(2026, 8, 28, 10, 15, 0, 0, time.UTC)},
		{"2026-08-28 10:15:00", time.Date(2026, 8, 28, 10, 15, 0, 0, time.UTC)},
		{"2026-08-28", time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)},
	}

	for _, tc := range cases {
		got, err := parseTimestamp(tc.input)
		if err != nil {
			t.Errorf("parseTimestamp(%q): unexpected error: %v", tc.input, err)
			continue
		}
		if !got.Equal(tc.want) {
			t.Errorf("parseTimestamp(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestParseTimestamp_Rejected(t *testing.T) {
	for _, input := range []string{"yesterday", "28/08/2026", "1693212900", ""} {
		if _, err := parseTimestamp(input); err == nil {
			t.Errorf("parseTimestamp(%q): expected error, got nil", input)
		}
	}
}
