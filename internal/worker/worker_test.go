package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sitepulse-io/sitepulse/internal/domain"
)

type fakeQueue struct {
	mu    sync.Mutex
	jobs  []domain.Job
	acked []uuid.UUID
	fails map[uuid.UUID]error
}

func newFakeQueue(jobs ...domain.Job) *fakeQueue {
	return &fakeQueue{jobs: jobs, fails: make(map[uuid.UUID]error)}
}

func (q *fakeQueue) Dequeue(context.Context) (domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return domain.Job{}, ErrNoJob
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return job, nil
}

func (q *fakeQueue) Ack(_ context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, id)
	return nil
}

func (q *fakeQueue) Fail(_ context.Context, id uuid.UUID, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.fails[id] = cause
	return nil
}

func (q *fakeQueue) ackedIDs() []uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]uuid.UUID(nil), q.acked...)
}

func (q *fakeQueue) failCause(id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fails[id]
}

type fakeStore struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
	nextID int64
}

func (s *fakeStore) InsertEvent(_ context.Context, event domain.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.events = append(s.events, event)
	s.nextID++
	return s.nextID, nil
}

func (s *fakeStore) stored() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Event(nil), s.events...)
}

type fakeBreaker struct {
	mu        sync.Mutex
	allowErr  error
	successes int
	failures  int
}

func (b *fakeBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allowErr
}

func (b *fakeBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.successes++
}

func (b *fakeBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
}

func testJob(path string) domain.Job {
	return domain.Job{
		ID: uuid.New(),
		Event: domain.Event{
			SiteID:    "site-001",
			EventType: "page_view",
			Path:      path,
			UserID:    "user-1",
			Timestamp: time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC),
		},
		Priority: 1,
		Attempts: 1,
	}
}

// runUntil runs the worker and polls cond until it holds or the deadline
// passes, then shuts the worker down.
func runUntil(t *testing.T, w *Worker, cond func() bool) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !cond() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}

	if !cond() {
		t.Fatal("condition not reached before deadline")
	}
}

func TestWorker_PersistsAndAcks(t *testing.T) {
	job := testJob("/docs")
	queue := newFakeQueue(job)
	store := &fakeStore{}

	w := New(Config{Workers: 1, PollInterval: 5 * time.Millisecond}, queue, store)
	runUntil(t, w, func() bool { return len(queue.ackedIDs()) == 1 })

	events := store.stored()
	if len(events) != 1 {
		t.Fatalf("expected 1 stored event, got %d", len(events))
	}
	if events[0].Path != "/docs" {
		t.Errorf("stored event path wrong: %q", events[0].Path)
	}
	if events[0].ProcessedAt.IsZero() {
		t.Error("expected ProcessedAt to be stamped")
	}
	if queue.ackedIDs()[0] != job.ID {
		t.Errorf("acked wrong job: %s", queue.ackedIDs()[0])
	}
}

func TestWorker_StoreFailureReportsToQueue(t *testing.T) {
	job := testJob("/fail")
	queue := newFakeQueue(job)
	store := &fakeStore{err: errors.New("pq: connection refused")}

	w := New(Config{Workers: 1, PollInterval: 5 * time.Millisecond}, queue, store)
	runUntil(t, w, func() bool { return queue.failCause(job.ID) != nil })

	if len(queue.ackedIDs()) != 0 {
		t.Errorf("expected no acks, got %d", len(queue.ackedIDs()))
	}
	if cause := queue.failCause(job.ID); cause.Error() != "pq: connection refused" {
		t.Errorf("unexpected fail cause: %v", cause)
	}
}

func TestWorker_BreakerOpenFailsFast(t *testing.T) {
	job := testJob("/blocked")
	queue := newFakeQueue(job)
	store := &fakeStore{}
	breaker := &fakeBreaker{allowErr: errors.New("circuit breaker is open")}

	w := New(Config{Workers: 1, PollInterval: 5 * time.Millisecond}, queue, store).
		WithBreaker(breaker)
	runUntil(t, w, func() bool { return queue.failCause(job.ID) != nil })

	if len(store.stored()) != 0 {
		t.Errorf("expected no storage writes while breaker open, got %d", len(store.stored()))
	}
}

func TestWorker_BreakerRecordsOutcomes(t *testing.T) {
	good := testJob("/good")
	queue := newFakeQueue(good)
	store := &fakeStore{}
	breaker := &fakeBreaker{}

	w := New(Config{Workers: 1, PollInterval: 5 * time.Millisecond}, queue, store).
		WithBreaker(breaker)
	runUntil(t, w, func() bool { return len(queue.ackedIDs()) == 1 })

	breaker.mu.Lock()
	defer breaker.mu.Unlock()
	if breaker.successes != 1 {
		t.Errorf("expected 1 recorded success, got %d", breaker.successes)
	}
	if breaker.failures != 0 {
		t.Errorf("expected 0 recorded failures, got %d", breaker.failures)
	}
}

func TestWorker_ProcessesAllJobs(t *testing.T) {
	jobs := []domain.Job{testJob("/a"), testJob("/b"), testJob("/c"), testJob("/d")}
	queue := newFakeQueue(jobs...)
	store := &fakeStore{}

	w := New(Config{Workers: 3, PollInterval: 5 * time.Millisecond}, queue, store)
	runUntil(t, w, func() bool { return len(queue.ackedIDs()) == len(jobs) })

	if got := len(store.stored()); got != len(jobs) {
		t.Errorf("expected %d stored events, got %d", len(jobs), got)
	}
}

func TestWorker_StopsOnCancel(t *testing.T) {
	queue := newFakeQueue()
	store := &fakeStore{}

	w := New(Config{Workers: 2, PollInterval: 5 * time.Millisecond}, queue, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
