package mailtm

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

const (
	defaultBackoffBase   = time.Second
	defaultBackoffJitter = time.Second
	defaultBackoffCap    = 10 * time.Second
	defaultMaxAttempts   = 3
)

// Backoff describes exponential backoff with additive jitter:
// min(Base*2^attempt + jitter, Cap) where jitter is uniform in [0, Jitter).
type Backoff struct {
	Base        time.Duration
	Jitter      time.Duration
	Cap         time.Duration
	MaxAttempts int

	// Rand returns a value in [0, 1). Defaults to math/rand.
	Rand func() float64
}

// DefaultBackoff returns the provider-friendly policy: 1s base, up to 1s
// jitter, 10s cap, 3 attempts.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:        defaultBackoffBase,
		Jitter:      defaultBackoffJitter,
		Cap:         defaultBackoffCap,
		MaxAttempts: defaultMaxAttempts,
	}
}

// Attempts returns MaxAttempts, defaulting to 3.
func (b Backoff) Attempts() int {
	if b.MaxAttempts < 1 {
		return defaultMaxAttempts
	}
	return b.MaxAttempts
}

// Delay returns the wait before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		attempt = 30
	}

	limit := time.Duration(math.MaxInt64)
	if b.Cap > 0 {
		limit = b.Cap
	}

	// Compare before shifting so large bases cannot wrap.
	d := limit
	if b.Base <= limit>>uint(attempt) {
		d = b.Base << uint(attempt)
	}
	if b.Jitter > 0 {
		rnd := b.Rand
		if rnd == nil {
			rnd = rand.Float64
		}
		j := time.Duration(rnd() * float64(b.Jitter))
		if d > limit-j {
			d = limit
		} else {
			d += j
		}
	}
	return d
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// ClockSleep returns a SleepFunc backed by clk.
func ClockSleep(clk Clock) SleepFunc {
	return func(ctx context.Context, d time.Duration) error {
		if d <= 0 {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clk.After(d):
			return nil
		}
	}
}

// Retry runs op until it succeeds, fails with something other than
// ErrRateLimited, or b.Attempts() attempts have been made. Between
// rate-limited attempts it sleeps b.Delay(n). The last error is returned
// on exhaustion.
func Retry[T any](ctx context.Context, b Backoff, sleep SleepFunc, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := b.Attempts()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrRateLimited) {
			return zero, err
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		if err := sleep(ctx, b.Delay(attempt)); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}
