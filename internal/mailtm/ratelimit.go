package mailtm

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Clock abstracts time operations for testability.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// DefaultMinInterval keeps us at 4 requests per second, under Mail.tm's
// 8 QPS per-IP ceiling.
const DefaultMinInterval = 250 * time.Millisecond

// realClock implements Clock using the standard time package.
type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// Throttle spaces outbound calls at least a fixed interval apart.
// Callers that arrive back-to-back queue behind each other's reservations.
// It is safe for concurrent use.
type Throttle struct {
	mu       sync.Mutex
	clock    Clock
	interval time.Duration
	limiter  *rate.Limiter
}

// NewThrottle creates a throttle with the given minimum interval.
// Non-positive intervals disable throttling.
func NewThrottle(interval time.Duration) *Throttle {
	return NewThrottleWithClock(realClock{}, interval)
}

// NewThrottleWithClock creates a throttle driven by clk.
// Panics if clk is nil.
func NewThrottleWithClock(clk Clock, interval time.Duration) *Throttle {
	if clk == nil {
		panic("mailtm: Throttle requires a non-nil Clock")
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Throttle{
		clock:    clk,
		interval: interval,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// Interval returns the configured minimum spacing.
func (t *Throttle) Interval() time.Duration {
	return t.interval
}

// reserve books the next slot and returns how long the caller must wait.
func (t *Throttle) reserve() (*rate.Reservation, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	r := t.limiter.ReserveN(now, 1)
	return r, r.DelayFrom(now)
}

// Wait blocks until the caller's slot comes up.
// Returns an error if the context is cancelled first; the slot is released.
func (t *Throttle) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r, delay := t.reserve()
	if delay <= 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		r.CancelAt(t.clock.Now())
		return ctx.Err()
	case <-t.clock.After(delay):
		return nil
	}
}
