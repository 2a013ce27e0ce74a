// Package postgres persists events and answers aggregate queries.
//
// Expected schema:
//
//	CREATE TABLE events (
//	    id           bigserial PRIMARY KEY,
//	    site_id      text        NOT NULL,
//	    event_type   text        NOT NULL,
//	    path         text        NOT NULL,
//	    user_id      text        NOT NULL,
//	    "timestamp"  timestamptz NOT NULL,
//	    processed_at timestamptz NOT NULL
//	);
//	CREATE INDEX events_site_time_idx ON events (site_id, "timestamp");
//	CREATE INDEX events_site_user_idx ON events (site_id, user_id);
//
// Rows are append-only; there is no update or delete path.
package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/sitepulse-io/sitepulse/internal/domain"
	"github.com/sitepulse-io/sitepulse/internal/report"
	"github.com/sitepulse-io/sitepulse/internal/worker"
)

// Store implements worker.Store and report.Store using PostgreSQL.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// New creates a new PostgreSQL store. opTimeout bounds every database
// operation; zero disables the bound.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout}
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// InsertEvent appends one event and returns its storage-assigned id.
// There is no dedup key: inserting the same event twice stores two rows.
func (s *Store) InsertEvent(ctx context.Context, event domain.Event) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var id int64
	err := s.db.QueryRowContext(ctx, queryInsertEvent,
		event.SiteID,
		event.EventType,
		event.Path,
		event.UserID,
		event.Timestamp,
		event.ProcessedAt,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// SiteStats computes all three report facets inside one repeatable-read
// transaction, so every facet sees the same snapshot of the event log.
// from and to are inclusive bounds on the event timestamp; nil means
// unbounded on that side.
func (s *Store) SiteStats(ctx context.Context, siteID string, from, to *time.Time) (report.Stats, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelRepeatableRead,
		ReadOnly:  true,
	})
	if err != nil {
		return report.Stats{}, err
	}
	defer tx.Rollback()

	var stats report.Stats

	if err := tx.QueryRowContext(ctx, queryTotalViews, siteID, from, to).Scan(&stats.TotalViews); err != nil {
		return report.Stats{}, err
	}

	if err := tx.QueryRowContext(ctx, queryUniqueUsers, siteID, from, to).Scan(&stats.UniqueUsers); err != nil {
		return report.Stats{}, err
	}

	rows, err := tx.QueryContext(ctx, queryTopPaths, siteID, from, to)
	if err != nil {
		return report.Stats{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var pc domain.PathCount
		if err := rows.Scan(&pc.Path, &pc.Views); err != nil {
			return report.Stats{}, err
		}
		stats.TopPaths = append(stats.TopPaths, pc)
	}
	if err := rows.Err(); err != nil {
		return report.Stats{}, err
	}

	if err := tx.Commit(); err != nil {
		return report.Stats{}, err
	}

	return stats, nil
}

// Ping verifies database connectivity for health checks.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Compile-time interface assertions
var (
	_ worker.Store = (*Store)(nil)
	_ report.Store = (*Store)(nil)
)
