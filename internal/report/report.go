// Package report computes site analytics over the persisted event log.
package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sitepulse-io/sitepulse/internal/domain"
)

// AllTime is the date label used when no date filter was requested.
const AllTime = "all-time"

var (
	// ErrMissingSiteID is returned when the caller supplied no site id.
	ErrMissingSiteID = errors.New("report: site_id is required")

	// ErrInvalidDate is returned when the date filter is not YYYY-MM-DD.
	ErrInvalidDate = errors.New("report: date must be formatted YYYY-MM-DD")
)

// Stats is the raw aggregate a store computes over one filtered scan.
// All three facets are computed against the same filter, so they are
// mutually consistent.
type Stats struct {
	TotalViews  int64
	UniqueUsers int64
	TopPaths    []domain.PathCount
}

// Store answers aggregate queries over persisted events. A nil from/to
// means no bound on that side.
type Store interface {
	SiteStats(ctx context.Context, siteID string, from, to *time.Time) (Stats, error)
}

// MetricsSink defines the interface for recording report metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	ReportServed(duration time.Duration)
}

// Engine turns stats requests into SiteReports.
type Engine struct {
	store   Store
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

// NewEngine creates an Engine over the given store.
func NewEngine(store Store) *Engine {
	return &Engine{store: store, clock: time.Now}
}

// WithMetrics attaches a metrics sink to the engine.
func (e *Engine) WithMetrics(sink MetricsSink) *Engine {
	e.metrics = sink
	return e
}

// SiteReport aggregates views for a site, optionally restricted to one
// calendar day. date is either empty (all-time) or YYYY-MM-DD; the window
// is [00:00:00.000, 23:59:59.999] UTC inclusive. Zero matching events is
// a valid result with zero counts, not an error.
func (e *Engine) SiteReport(ctx context.Context, siteID, date string) (domain.SiteReport, error) {
	if siteID == "" {
		return domain.SiteReport{}, ErrMissingSiteID
	}

	var from, to *time.Time
	label := AllTime
	if date != "" {
		day, err := time.ParseInLocation("2006-01-02", date, time.UTC)
		if err != nil {
			return domain.SiteReport{}, ErrInvalidDate
		}
		start := day
		end := day.Add(24*time.Hour - time.Millisecond)
		from, to = &start, &end
		label = date
	}

	start := e.clock()
	stats, err := e.store.SiteStats(ctx, siteID, from, to)
	if err != nil {
		return domain.SiteReport{}, fmt.Errorf("aggregate site %s: %w", siteID, err)
	}
	if e.metrics != nil {
		e.metrics.ReportServed(e.clock().Sub(start))
	}

	topPaths := stats.TopPaths
	if topPaths == nil {
		topPaths = []domain.PathCount{}
	}

	return domain.SiteReport{
		SiteID:      siteID,
		Date:        label,
		TotalViews:  stats.TotalViews,
		UniqueUsers: stats.UniqueUsers,
		TopPaths:    topPaths,
	}, nil
}
