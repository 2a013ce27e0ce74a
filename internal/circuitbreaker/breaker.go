// Package circuitbreaker provides a consecutive-failure breaker used to
// stop hammering event storage while it is down. A tripped breaker makes
// the worker fail jobs fast, which hands the pacing problem to the
// queue's backoff schedule.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

// CircuitBreaker tracks consecutive failures against a single resource.
// After threshold consecutive failures it opens for the cooldown period,
// then admits one probe (half-open); a success closes it again.
type CircuitBreaker struct {
	mu                  sync.Mutex
	state               state
	consecutiveFailures int
	openedAt            time.Time

	threshold int
	cooldown  time.Duration
	clock     func() time.Time
}

func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

// WithClock overrides the breaker's time source. Tests only.
func (cb *CircuitBreaker) WithClock(clock func() time.Time) *CircuitBreaker {
	cb.clock = clock
	return cb
}

// Allow reports whether a call may proceed. In the open state it returns
// ErrCircuitOpen until the cooldown elapses, then admits a single probe.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case stateClosed:
		return nil
	case stateOpen:
		if cb.clock().Sub(cb.openedAt) >= cb.cooldown {
			cb.state = stateHalfOpen
			return nil
		}
		return ErrCircuitOpen
	case stateHalfOpen:
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = stateClosed
	cb.consecutiveFailures = 0
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	if cb.consecutiveFailures >= cb.threshold {
		cb.state = stateOpen
		cb.openedAt = cb.clock()
	}
}
