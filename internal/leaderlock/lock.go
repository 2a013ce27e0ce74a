// Package leaderlock provides Redis-based mutual exclusion for singleton
// duties (the reaper) across worker instances.
//
// The lock is a single key written with SET NX PX and refreshed at a
// fraction of its TTL. A token unique to this instance guards the refresh
// and release paths, so an instance that lost the lock cannot clobber the
// new holder. If the process dies, the TTL expires and another instance
// takes over within one retry interval.
package leaderlock

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// MetricsSink defines the interface for recording lock metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
}

// Elector manages leadership for singleton duties using a Redis lock.
type Elector struct {
	client        *goredis.Client
	key           string
	token         string
	ttl           time.Duration
	retryInterval time.Duration
	onElected     func(ctx context.Context)
	onDemoted     func()
	metrics       MetricsSink // optional, nil = disabled
}

// New creates an Elector.
//
// onElected is called in a new goroutine when this instance acquires the
// lock; the provided context is cancelled when leadership is lost.
// onDemoted is called synchronously when leadership ends and must block
// until leader duties have stopped. It must be idempotent.
func New(
	client *goredis.Client,
	key string,
	ttl, retryInterval time.Duration,
	onElected func(ctx context.Context),
	onDemoted func(),
) *Elector {
	return &Elector{
		client:        client,
		key:           key,
		token:         uuid.NewString(),
		ttl:           ttl,
		retryInterval: retryInterval,
		onElected:     onElected,
		onDemoted:     onDemoted,
	}
}

// WithMetrics attaches a metrics sink to the elector.
func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

// releaseScript deletes the lock only if this instance still holds it.
var releaseScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// refreshScript extends the TTL only if this instance still holds the lock.
var refreshScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// Run starts the election loop. It blocks until ctx is cancelled.
func (e *Elector) Run(ctx context.Context) {
	log.Printf("leader: starting election loop (key=%s, ttl=%s, retry=%s)",
		e.key, e.ttl, e.retryInterval)

	for {
		if ctx.Err() != nil {
			log.Println("leader: election loop stopped")
			return
		}

		e.runOnce(ctx)

		select {
		case <-ctx.Done():
			log.Println("leader: election loop stopped")
			return
		case <-time.After(e.retryInterval):
		}
	}
}

// runOnce attempts to acquire the lock and, on success, holds it by
// refreshing the TTL until the refresh fails or ctx is cancelled.
func (e *Elector) runOnce(ctx context.Context) {
	acquired, err := e.client.SetNX(ctx, e.key, e.token, e.ttl).Result()
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("leader: lock attempt failed: %v", err)
		}
		return
	}
	if !acquired {
		return
	}

	log.Printf("leader: acquired lock %s", e.key)
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(true)
	}

	leaderCtx, cancelLeader := context.WithCancel(ctx)
	go e.onElected(leaderCtx)

	reason := e.hold(ctx)

	cancelLeader()
	e.onDemoted()
	e.release()

	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(false)
	}
	log.Printf("leader: released lock %s (reason=%s)", e.key, reason)
}

// hold refreshes the lock TTL until ctx is cancelled or a refresh fails.
// Returns the reason leadership ended.
func (e *Elector) hold(ctx context.Context) string {
	interval := e.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "shutdown"
		case <-ticker.C:
			ok, err := refreshScript.Run(ctx, e.client, []string{e.key}, e.token, e.ttl.Milliseconds()).Int()
			if err != nil {
				if ctx.Err() != nil {
					return "shutdown"
				}
				log.Printf("leader: refresh failed: %v", err)
				return "refresh_error"
			}
			if ok == 0 {
				log.Printf("leader: lock %s taken over by another instance", e.key)
				return "lock_lost"
			}
		}
	}
}

// release deletes the lock if still held. Uses a background context since
// the run context is usually already cancelled during shutdown.
func (e *Elector) release() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, e.client, []string{e.key}, e.token).Err(); err != nil {
		log.Printf("leader: release failed (lock will expire by TTL): %v", err)
	}
}
