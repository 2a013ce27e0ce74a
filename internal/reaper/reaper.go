// Package reaper returns stalled in-flight jobs to the waiting set.
//
// A job becomes stalled when its consumer dies between dequeue and ack:
// it sits in the active set past its visibility deadline and would
// otherwise never be delivered again. The reaper periodically sweeps such
// jobs back to waiting, completing the queue's at-least-once guarantee.
// If the consumer had already written the event, the redelivery stores a
// duplicate row; that is the documented trade-off.
package reaper

import (
	"context"
	"log"
	"time"
)

// Queue is the slice of the durable queue the reaper drives.
type Queue interface {
	RequeueExpired(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

// MetricsSink defines the interface for recording reaper metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	JobsRequeued(count int)
}

// Config holds reaper configuration.
type Config struct {
	// Interval is how often the reaper sweeps.
	// Default: 1 minute.
	Interval time.Duration

	// BatchSize is the maximum number of stalled jobs per sweep.
	// Default: 100.
	BatchSize int
}

// DefaultConfig returns the default reaper configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  time.Minute,
		BatchSize: 100,
	}
}

// Reaper sweeps stalled jobs back into delivery.
type Reaper struct {
	cfg     Config
	queue   Queue
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

// New creates a Reaper.
func New(cfg Config, queue Queue) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Reaper{
		cfg:   cfg,
		queue: queue,
		clock: time.Now,
	}
}

// WithMetrics attaches a metrics sink to the reaper.
func (r *Reaper) WithMetrics(sink MetricsSink) *Reaper {
	r.metrics = sink
	return r
}

// WithClock overrides the reaper's time source. Tests only.
func (r *Reaper) WithClock(clock func() time.Time) *Reaper {
	r.clock = clock
	return r
}

// Run starts the sweep loop. It blocks until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	log.Printf("reaper: started (interval=%s, batch=%d)", r.cfg.Interval, r.cfg.BatchSize)

	// Sweep immediately on startup, then on ticker.
	r.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("reaper: stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep executes one requeue cycle.
func (r *Reaper) sweep(ctx context.Context) {
	now := r.clock().UTC()

	moved, err := r.queue.RequeueExpired(ctx, now, r.cfg.BatchSize)
	if err != nil {
		// Queue error: log and abort the cycle. Will retry next interval.
		log.Printf("reaper: sweep failed: %v", err)
		return
	}

	if moved == 0 {
		return
	}

	log.Printf("reaper: requeued %d stalled jobs", moved)
	if r.metrics != nil {
		r.metrics.JobsRequeued(moved)
	}
}
