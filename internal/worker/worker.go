// Package worker drains the durable queue into event storage.
//
// The worker performs no retry looping of its own: a failed storage write
// is reported back to the queue, whose backoff policy schedules the
// redelivery. Redelivery of a job whose write already committed produces a
// duplicate row; with no dedup key that is the accepted at-least-once
// behavior.
package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sitepulse-io/sitepulse/internal/domain"
)

// ErrNoJob is returned by Queue.Dequeue when nothing is ready for delivery.
var ErrNoJob = errors.New("queue: no job ready")

// Queue is the slice of the durable queue the worker consumes.
type Queue interface {
	Dequeue(ctx context.Context) (domain.Job, error)
	Ack(ctx context.Context, id uuid.UUID) error
	Fail(ctx context.Context, id uuid.UUID, cause error) error
}

// Store persists events. InsertEvent returns the storage-assigned id.
type Store interface {
	InsertEvent(ctx context.Context, event domain.Event) (int64, error)
}

// Breaker guards the storage write. When open, jobs fail fast and the
// queue's backoff spaces out the retries instead of hammering a down store.
type Breaker interface {
	Allow() error
	RecordSuccess()
	RecordFailure()
}

// MetricsSink defines the interface for recording worker metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	JobProcessed(outcome string, duration time.Duration)
	JobsInFlightIncr()
	JobsInFlightDecr()
	DequeueError()
}

// Config holds worker pool tuning.
type Config struct {
	// Workers is the number of concurrent persistence goroutines.
	Workers int

	// PollInterval is the sleep between dequeue attempts when the queue
	// is empty.
	PollInterval time.Duration

	// DrainTimeout bounds how long buffered jobs may keep processing
	// after shutdown is requested.
	DrainTimeout time.Duration

	// BufferSize is the capacity of the internal handoff channel between
	// the poller and the pool.
	BufferSize int
}

// DefaultConfig returns the default worker configuration.
func DefaultConfig() Config {
	return Config{
		Workers:      4,
		PollInterval: 250 * time.Millisecond,
		DrainTimeout: 30 * time.Second,
		BufferSize:   8,
	}
}

// Worker owns the job-to-stored-event transition.
type Worker struct {
	cfg     Config
	queue   Queue
	store   Store
	breaker Breaker     // optional, nil = disabled
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

// New creates a Worker.
func New(cfg Config, queue Queue, store Store) *Worker {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	return &Worker{
		cfg:   cfg,
		queue: queue,
		store: store,
		clock: time.Now,
	}
}

// WithBreaker attaches a circuit breaker around the storage write.
func (w *Worker) WithBreaker(b Breaker) *Worker {
	w.breaker = b
	return w
}

// WithMetrics attaches a metrics sink to the worker.
func (w *Worker) WithMetrics(sink MetricsSink) *Worker {
	w.metrics = sink
	return w
}

// WithClock overrides the worker's time source. Tests only.
func (w *Worker) WithClock(clock func() time.Time) *Worker {
	w.clock = clock
	return w
}

// Run pulls jobs until ctx is cancelled, then lets buffered jobs finish
// within the drain timeout. Jobs interrupted mid-write are redelivered by
// the queue once their visibility deadline passes.
func (w *Worker) Run(ctx context.Context) {
	jobs := make(chan domain.Job, w.cfg.BufferSize)

	var pollWg sync.WaitGroup
	pollWg.Add(1)
	go func() {
		defer pollWg.Done()
		defer close(jobs)
		w.poll(ctx, jobs)
	}()

	var poolWg sync.WaitGroup
	for i := 0; i < w.cfg.Workers; i++ {
		poolWg.Add(1)
		go func() {
			defer poolWg.Done()
			w.consume(ctx, jobs)
		}()
	}

	log.Printf("worker: started (workers=%d, poll=%s)", w.cfg.Workers, w.cfg.PollInterval)
	pollWg.Wait()
	poolWg.Wait()
	log.Println("worker: stopped")
}

// poll feeds the pool. It stops dequeuing as soon as ctx is cancelled.
func (w *Worker) poll(ctx context.Context, jobs chan<- domain.Job) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, ErrNoJob) {
				w.sleep(ctx, w.cfg.PollInterval)
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Printf("worker: dequeue error: %v", err)
			if w.metrics != nil {
				w.metrics.DequeueError()
			}
			w.sleep(ctx, w.cfg.PollInterval)
			continue
		}

		select {
		case jobs <- job:
		case <-ctx.Done():
			// Job stays in the active set; the reaper redelivers it
			// after the visibility timeout.
			log.Printf("worker: shutdown with job=%s in hand, leaving it for redelivery", job.ID)
			return
		}
	}
}

// consume processes jobs until the handoff channel is closed. After
// shutdown, remaining buffered jobs run against a bounded drain context.
func (w *Worker) consume(ctx context.Context, jobs <-chan domain.Job) {
	for job := range jobs {
		if ctx.Err() != nil {
			drainCtx, cancel := context.WithTimeout(context.Background(), w.cfg.DrainTimeout)
			w.process(drainCtx, job)
			cancel()
			continue
		}
		w.process(ctx, job)
	}
}

// process writes one job's event to storage and reports the outcome back
// to the queue.
func (w *Worker) process(ctx context.Context, job domain.Job) {
	if w.metrics != nil {
		w.metrics.JobsInFlightIncr()
		defer w.metrics.JobsInFlightDecr()
	}
	start := w.clock()

	if w.breaker != nil {
		if err := w.breaker.Allow(); err != nil {
			w.fail(ctx, job, err, "breaker_open", start)
			return
		}
	}

	event := job.Event
	event.ProcessedAt = w.clock().UTC()

	id, err := w.store.InsertEvent(ctx, event)
	if err != nil {
		if w.breaker != nil {
			w.breaker.RecordFailure()
		}
		w.fail(ctx, job, err, "failed", start)
		return
	}
	if w.breaker != nil {
		w.breaker.RecordSuccess()
	}

	if err := w.queue.Ack(ctx, job.ID); err != nil {
		// The write committed but the ack did not: the job will be
		// redelivered and stored again. Accepted duplication.
		log.Printf("worker: ack failed for job=%s (event=%d), expect redelivery: %v", job.ID, id, err)
	}

	log.Printf("worker: persisted event=%d site=%s type=%s job=%s attempt=%d",
		id, event.SiteID, event.EventType, job.ID, job.Attempts)
	if w.metrics != nil {
		w.metrics.JobProcessed("persisted", w.clock().Sub(start))
	}
}

func (w *Worker) fail(ctx context.Context, job domain.Job, cause error, outcome string, start time.Time) {
	log.Printf("worker: job=%s attempt=%d failed: %v", job.ID, job.Attempts, cause)
	if err := w.queue.Fail(ctx, job.ID, cause); err != nil {
		log.Printf("worker: could not report failure for job=%s: %v", job.ID, err)
	}
	if w.metrics != nil {
		w.metrics.JobProcessed(outcome, w.clock().Sub(start))
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
