// Package redis implements the durable event queue on Redis.
//
// Layout mirrors a classic delayed-job queue: per-job hash plus four
// sorted sets under a shared name prefix.
//
//	<name>:jobs:<id>  hash   payload, priority, order, attempts, enqueued_at, last_error
//	<name>:waiting    zset   score = priority<<40 | enqueue sequence
//	<name>:delayed    zset   score = unix-ms time the retry becomes due
//	<name>:active     zset   score = unix-ms visibility deadline
//	<name>:failed     zset   score = unix-ms failure time (retained)
//
// Delivery is at-least-once: a consumer that dies mid-processing leaves
// the job in the active set, and RequeueExpired moves it back to waiting
// once its visibility deadline passes. Completed jobs are deleted; jobs
// that exhaust their attempts are retained in the failed set and never
// requeued automatically.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/sitepulse-io/sitepulse/internal/api"
	"github.com/sitepulse-io/sitepulse/internal/domain"
	"github.com/sitepulse-io/sitepulse/internal/reaper"
	"github.com/sitepulse-io/sitepulse/internal/worker"
)

// Defaults match the original deployment of this pipeline.
const (
	DefaultName              = "analytics-events"
	DefaultMaxAttempts       = 3
	DefaultBackoffBase       = 2 * time.Second
	DefaultVisibilityTimeout = 30 * time.Second
)

// Config holds queue tuning. Zero values fall back to the defaults above.
type Config struct {
	// Name prefixes every Redis key this queue touches.
	Name string

	// MaxAttempts is the number of deliveries before a job is parked
	// in the failed set.
	MaxAttempts int

	// BackoffBase is the delay before the second delivery; each further
	// retry doubles it.
	BackoffBase time.Duration

	// VisibilityTimeout is how long a dequeued job may stay unacked
	// before RequeueExpired considers its consumer dead.
	VisibilityTimeout time.Duration
}

// Queue is a durable, prioritized work queue backed by Redis.
type Queue struct {
	client *goredis.Client
	cfg    Config
	clock  func() time.Time

	keyWaiting string
	keyDelayed string
	keyActive  string
	keyFailed  string
	keySeq     string
	jobPrefix  string
}

// New creates a Queue on the given client.
func New(client *goredis.Client, cfg Config) *Queue {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = DefaultVisibilityTimeout
	}
	return &Queue{
		client:     client,
		cfg:        cfg,
		clock:      time.Now,
		keyWaiting: cfg.Name + ":waiting",
		keyDelayed: cfg.Name + ":delayed",
		keyActive:  cfg.Name + ":active",
		keyFailed:  cfg.Name + ":failed",
		keySeq:     cfg.Name + ":seq",
		jobPrefix:  cfg.Name + ":jobs:",
	}
}

// WithClock overrides the queue's time source. Tests only.
func (q *Queue) WithClock(clock func() time.Time) *Queue {
	q.clock = clock
	return q
}

// jobPayload is the wire form of an event inside a job hash.
type jobPayload struct {
	SiteID    string    `json:"site_id"`
	EventType string    `json:"event_type"`
	Path      string    `json:"path"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Enqueue durably records the event and returns once Redis acknowledges
// the write. It never waits on a consumer. Lower priority values are
// delivered first; equal priorities are FIFO.
func (q *Queue) Enqueue(ctx context.Context, event domain.Event, priority int) (uuid.UUID, error) {
	payload, err := json.Marshal(jobPayload{
		SiteID:    event.SiteID,
		EventType: event.EventType,
		Path:      event.Path,
		UserID:    event.UserID,
		Timestamp: event.Timestamp,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal payload: %w", err)
	}

	seq, err := q.client.Incr(ctx, q.keySeq).Result()
	if err != nil {
		return uuid.Nil, fmt.Errorf("allocate sequence: %w", err)
	}

	id := uuid.New()
	now := q.clock().UTC()
	order := orderScore(priority, seq)

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.jobPrefix+id.String(),
		"payload", string(payload),
		"priority", priority,
		"order", strconv.FormatFloat(order, 'f', -1, 64),
		"attempts", 0,
		"enqueued_at", now.Format(time.RFC3339Nano),
		"last_error", "",
	)
	pipe.ZAdd(ctx, q.keyWaiting, goredis.Z{Score: order, Member: id.String()})
	if _, err := pipe.Exec(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("enqueue job: %w", err)
	}

	return id, nil
}

// dequeueScript promotes due delayed jobs, pops the lowest-scored waiting
// job, moves it to the active set with a visibility deadline, and bumps
// its attempt counter. Atomic, so a delivery attempt reaches exactly one
// consumer.
//
// KEYS: waiting, active, delayed. ARGV: now-ms, deadline-ms, job prefix.
var dequeueScript = goredis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1], 'LIMIT', 0, 100)
for _, id in ipairs(due) do
    redis.call('ZREM', KEYS[3], id)
    local order = redis.call('HGET', ARGV[3] .. id, 'order')
    if order then
        redis.call('ZADD', KEYS[1], tonumber(order), id)
    end
end
local popped = redis.call('ZPOPMIN', KEYS[1])
if #popped == 0 then
    return false
end
local id = popped[1]
local job = ARGV[3] .. id
local payload = redis.call('HGET', job, 'payload')
if not payload then
    return false
end
redis.call('ZADD', KEYS[2], tonumber(ARGV[2]), id)
local attempts = redis.call('HINCRBY', job, 'attempts', 1)
local priority = redis.call('HGET', job, 'priority')
local enqueued = redis.call('HGET', job, 'enqueued_at')
local lasterr = redis.call('HGET', job, 'last_error')
if not lasterr then
    lasterr = ''
end
return {id, payload, attempts, priority, enqueued, lasterr}
`)

// Dequeue delivers the next ready job, or worker.ErrNoJob when neither the
// waiting set nor the due part of the delayed set has anything.
func (q *Queue) Dequeue(ctx context.Context) (domain.Job, error) {
	now := q.clock().UTC()
	deadline := now.Add(q.cfg.VisibilityTimeout)

	res, err := dequeueScript.Run(ctx, q.client,
		[]string{q.keyWaiting, q.keyActive, q.keyDelayed},
		now.UnixMilli(), deadline.UnixMilli(), q.jobPrefix,
	).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return domain.Job{}, worker.ErrNoJob
		}
		return domain.Job{}, fmt.Errorf("dequeue: %w", err)
	}

	fields, ok := res.([]interface{})
	if !ok || len(fields) < 6 {
		return domain.Job{}, fmt.Errorf("dequeue: unexpected script reply %T", res)
	}

	return q.jobFromReply(fields)
}

func (q *Queue) jobFromReply(fields []interface{}) (domain.Job, error) {
	id, err := uuid.Parse(asString(fields[0]))
	if err != nil {
		return domain.Job{}, fmt.Errorf("parse job id: %w", err)
	}

	var payload jobPayload
	if err := json.Unmarshal([]byte(asString(fields[1])), &payload); err != nil {
		return domain.Job{}, fmt.Errorf("unmarshal payload: %w", err)
	}

	attempts, _ := fields[2].(int64)
	priority, _ := strconv.Atoi(asString(fields[3]))
	enqueuedAt, _ := time.Parse(time.RFC3339Nano, asString(fields[4]))

	return domain.Job{
		ID: id,
		Event: domain.Event{
			SiteID:    payload.SiteID,
			EventType: payload.EventType,
			Path:      payload.Path,
			UserID:    payload.UserID,
			Timestamp: payload.Timestamp,
		},
		Priority:   priority,
		Attempts:   int(attempts),
		EnqueuedAt: enqueuedAt,
		LastError:  asString(fields[5]),
	}, nil
}

// Ack removes a completed job. Completed jobs are not retained.
func (q *Queue) Ack(ctx context.Context, id uuid.UUID) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.keyActive, id.String())
	pipe.Del(ctx, q.jobPrefix+id.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack job %s: %w", id, err)
	}
	return nil
}

// Fail reports a failed delivery attempt. The job is rescheduled with
// exponential backoff until MaxAttempts deliveries have been consumed,
// after which it is parked in the failed set for operator inspection.
func (q *Queue) Fail(ctx context.Context, id uuid.UUID, cause error) error {
	jobKey := q.jobPrefix + id.String()

	attempts, err := q.client.HGet(ctx, jobKey, "attempts").Int()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return fmt.Errorf("fail job %s: job not found", id)
		}
		return fmt.Errorf("fail job %s: %w", id, err)
	}

	now := q.clock().UTC()
	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	}

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.keyActive, id.String())
	pipe.HSet(ctx, jobKey, "last_error", lastError)
	if attempts >= q.cfg.MaxAttempts {
		pipe.ZAdd(ctx, q.keyFailed, goredis.Z{
			Score:  float64(now.UnixMilli()),
			Member: id.String(),
		})
	} else {
		retryAt := now.Add(Backoff(q.cfg.BackoffBase, attempts))
		pipe.ZAdd(ctx, q.keyDelayed, goredis.Z{
			Score:  float64(retryAt.UnixMilli()),
			Member: id.String(),
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("fail job %s: %w", id, err)
	}
	return nil
}

// requeueScript moves active jobs whose visibility deadline passed back to
// the waiting set. KEYS: active, waiting. ARGV: now-ms, limit, job prefix.
var requeueScript = goredis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local moved = 0
for _, id in ipairs(expired) do
    redis.call('ZREM', KEYS[1], id)
    local order = redis.call('HGET', ARGV[3] .. id, 'order')
    if order then
        redis.call('ZADD', KEYS[2], tonumber(order), id)
        moved = moved + 1
    end
end
return moved
`)

// RequeueExpired returns expired in-flight jobs to the waiting set so they
// are redelivered. This is the redelivery half of at-least-once: a consumer
// crash after the storage write but before Ack leads to a duplicate row.
func (q *Queue) RequeueExpired(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	moved, err := requeueScript.Run(ctx, q.client,
		[]string{q.keyActive, q.keyWaiting},
		olderThan.UTC().UnixMilli(), limit, q.jobPrefix,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("requeue expired: %w", err)
	}
	return moved, nil
}

// FailedJobs lists retained failed jobs, oldest first.
func (q *Queue) FailedJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.keyFailed, &goredis.ZRangeBy{
		Min: "-inf", Max: "+inf",
		Offset: 0, Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list failed jobs: %w", err)
	}

	jobs := make([]domain.Job, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		fields, err := q.client.HGetAll(ctx, q.jobPrefix+raw).Result()
		if err != nil || len(fields) == 0 {
			continue
		}

		var payload jobPayload
		if err := json.Unmarshal([]byte(fields["payload"]), &payload); err != nil {
			continue
		}
		attempts, _ := strconv.Atoi(fields["attempts"])
		priority, _ := strconv.Atoi(fields["priority"])
		enqueuedAt, _ := time.Parse(time.RFC3339Nano, fields["enqueued_at"])

		jobs = append(jobs, domain.Job{
			ID: id,
			Event: domain.Event{
				SiteID:    payload.SiteID,
				EventType: payload.EventType,
				Path:      payload.Path,
				UserID:    payload.UserID,
				Timestamp: payload.Timestamp,
			},
			Priority:   priority,
			Attempts:   attempts,
			EnqueuedAt: enqueuedAt,
			LastError:  fields["last_error"],
		})
	}
	return jobs, nil
}

// Stats reports the size of each job state set.
type Stats struct {
	Waiting int64
	Delayed int64
	Active  int64
	Failed  int64
}

// Stats returns current queue depths.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	waiting := pipe.ZCard(ctx, q.keyWaiting)
	delayed := pipe.ZCard(ctx, q.keyDelayed)
	active := pipe.ZCard(ctx, q.keyActive)
	failed := pipe.ZCard(ctx, q.keyFailed)
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{
		Waiting: waiting.Val(),
		Delayed: delayed.Val(),
		Active:  active.Val(),
		Failed:  failed.Val(),
	}, nil
}

// Ping verifies the queue medium is reachable.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Backoff returns the delay before the next delivery after the given
// 1-based attempt: base * 2^(attempt-1).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// orderScore packs priority and enqueue sequence into one zset score.
// float64 represents integers exactly up to 2^53, so priorities up to 2^13
// and sequences up to 2^40 never collide.
func orderScore(priority int, seq int64) float64 {
	return float64(priority)*float64(int64(1)<<40) + float64(seq)
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

// Compile-time interface assertions
var (
	_ worker.Queue = (*Queue)(nil)
	_ api.Enqueuer = (*Queue)(nil)
	_ reaper.Queue = (*Queue)(nil)
)
