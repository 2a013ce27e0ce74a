package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sitepulse-io/sitepulse/internal/domain"
	"github.com/sitepulse-io/sitepulse/internal/testutil"
	"github.com/sitepulse-io/sitepulse/internal/worker"
)

type memStore struct {
	mu       sync.Mutex
	events   []domain.Event
	failNext int
	nextID   int64
}

func (s *memStore) InsertEvent(_ context.Context, event domain.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return 0, errors.New("pq: connection refused")
	}
	s.events = append(s.events, event)
	s.nextID++
	return s.nextID, nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// The admission-to-storage path: events enqueued through the queue are
// eventually persisted by the pool, and the queue ends up empty.
func TestPipeline_EnqueueToStorage(t *testing.T) {
	q, _ := newTestQueue(t, Config{})
	ctx := testutil.TestContext(t)
	store := &memStore{}

	for _, path := range []string{"/", "/docs", "/pricing"} {
		if _, err := q.Enqueue(ctx, testEvent(path, "user-1"), 1); err != nil {
			t.Fatalf("enqueue %s: %v", path, err)
		}
	}

	w := worker.New(worker.Config{Workers: 2, PollInterval: 5 * time.Millisecond}, q, store)

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(runCtx)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for store.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if store.count() != 3 {
		t.Fatalf("expected 3 persisted events, got %d", store.count())
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Waiting != 0 || stats.Active != 0 || stats.Delayed != 0 || stats.Failed != 0 {
		t.Errorf("expected drained queue, got %+v", stats)
	}
}

// Storage fails on every attempt but the last one; exactly one row lands.
func TestPipeline_RetryAfterTransientFailure(t *testing.T) {
	q, clock := newTestQueue(t, Config{BackoffBase: 20 * time.Millisecond, MaxAttempts: 3})
	ctx := testutil.TestContext(t)
	store := &memStore{failNext: 2}

	if _, err := q.Enqueue(ctx, testEvent("/flaky", "user-1"), 1); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	w := worker.New(worker.Config{Workers: 1, PollInterval: 5 * time.Millisecond}, q, store)

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(runCtx)
	}()

	// The failed attempt lands in the delayed set; advancing the queue
	// clock past the backoff makes it deliverable again.
	deadline := time.Now().Add(3 * time.Second)
	for store.count() < 1 && time.Now().Before(deadline) {
		clock.Advance(20 * time.Millisecond)
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if store.count() != 1 {
		t.Fatalf("expected event persisted after retry, got %d", store.count())
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Failed != 0 {
		t.Errorf("expected no parked jobs, got %d", stats.Failed)
	}
}

// Storage fails on every attempt: nothing is persisted and the job is
// parked, not dropped.
func TestPipeline_ExhaustedJobRetained(t *testing.T) {
	q, clock := newTestQueue(t, Config{BackoffBase: 20 * time.Millisecond, MaxAttempts: 2})
	ctx := testutil.TestContext(t)
	store := &memStore{failNext: 1 << 30}

	if _, err := q.Enqueue(ctx, testEvent("/down", "user-1"), 1); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	w := worker.New(worker.Config{Workers: 1, PollInterval: 5 * time.Millisecond}, q, store)

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(runCtx)
	}()

	var stats Stats
	deadline := time.Now().Add(3 * time.Second)
	for stats.Failed == 0 && time.Now().Before(deadline) {
		clock.Advance(20 * time.Millisecond)
		time.Sleep(10 * time.Millisecond)
		var err error
		stats, err = q.Stats(ctx)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
	}
	cancel()
	<-done

	if stats.Failed != 1 {
		t.Fatalf("expected 1 retained failed job, got %d", stats.Failed)
	}
	if store.count() != 0 {
		t.Errorf("expected no persisted events, got %d", store.count())
	}

	failed, err := q.FailedJobs(ctx, 10)
	if err != nil {
		t.Fatalf("failed jobs: %v", err)
	}
	if len(failed) != 1 || failed[0].Attempts != 2 {
		t.Fatalf("unexpected failed listing: %+v", failed)
	}
}

// A consumer that writes the event but dies before acking causes a
// duplicate row on redelivery. No dedup key exists, so two rows is the
// current behavior this pipeline promises.
func TestPipeline_RedeliveryDuplicatesWrite(t *testing.T) {
	q, clock := newTestQueue(t, Config{VisibilityTimeout: 30 * time.Second})
	ctx := testutil.TestContext(t)
	store := &memStore{}

	if _, err := q.Enqueue(ctx, testEvent("/dup", "user-1"), 1); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// First consumer: write committed, ack never sent.
	job, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if _, err := store.InsertEvent(ctx, job.Event); err != nil {
		t.Fatalf("insert: %v", err)
	}

	clock.Advance(31 * time.Second)
	if _, err := q.RequeueExpired(ctx, clock.Now(), 100); err != nil {
		t.Fatalf("requeue expired: %v", err)
	}

	// Second consumer processes the redelivery normally.
	w := worker.New(worker.Config{Workers: 1, PollInterval: 5 * time.Millisecond}, q, store)

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(runCtx)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for store.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if store.count() != 2 {
		t.Fatalf("expected duplicate row on redelivery, got %d rows", store.count())
	}
}
