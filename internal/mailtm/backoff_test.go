package mailtm

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func fixedRand(v float64) func() float64 {
	return func() float64 { return v }
}

// recordingSleep returns a SleepFunc that records requested delays.
func recordingSleep(delays *[]time.Duration) SleepFunc {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

func TestBackoff_Delay(t *testing.T) {
	tests := []struct {
		name    string
		rand    float64
		attempt int
		want    time.Duration
	}{
		{"first", 0, 1, 2 * time.Second},
		{"second", 0, 2, 4 * time.Second},
		{"third", 0, 3, 8 * time.Second},
		{"capped", 0, 4, 10 * time.Second},
		{"with jitter", 0.5, 1, 2500 * time.Millisecond},
		{"jitter capped", 0.9, 3, 8900 * time.Millisecond},
		{"jitter over cap", 0.9, 4, 10 * time.Second},
		{"zero attempt clamps", 0, 0, 2 * time.Second},
		{"huge attempt", 0, 1000, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := DefaultBackoff()
			b.Rand = fixedRand(tt.rand)
			if got := b.Delay(tt.attempt); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestBackoff_DelayLargeBase(t *testing.T) {
	tests := []struct {
		name string
		b    Backoff
		want time.Duration
	}{
		{"capped", Backoff{Base: 1 << 40, Cap: 10 * time.Second}, 10 * time.Second},
		{"capped with jitter", Backoff{Base: time.Hour, Cap: time.Minute, Jitter: time.Second}, time.Minute},
		{"uncapped saturates", Backoff{Base: time.Hour}, time.Duration(math.MaxInt64)},
		{"uncapped jitter saturates", Backoff{Base: time.Hour, Jitter: time.Hour}, time.Duration(math.MaxInt64)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.b.Rand = fixedRand(0.5)
			if got := tt.b.Delay(30); got != tt.want {
				t.Errorf("Delay(30) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBackoff_Attempts(t *testing.T) {
	if got := (Backoff{}).Attempts(); got != 3 {
		t.Errorf("zero Backoff.Attempts() = %d, want 3", got)
	}
	if got := (Backoff{MaxAttempts: 5}).Attempts(); got != 5 {
		t.Errorf("Attempts() = %d, want 5", got)
	}
}

func TestRetry_ExhaustsOnRateLimit(t *testing.T) {
	b := DefaultBackoff()
	b.Rand = fixedRand(0)
	var delays []time.Duration

	calls := 0
	_, err := Retry(context.Background(), b, recordingSleep(&delays), func(ctx context.Context) (int, error) {
		calls++
		return 0, &APIError{Method: "GET", Path: "/messages", StatusCode: 429, Kind: ErrRateLimited}
	})

	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Retry() error = %v, want ErrRateLimited", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if diff := cmp.Diff([]time.Duration{2 * time.Second, 4 * time.Second}, delays); diff != "" {
		t.Errorf("delays mismatch (-want +got):\n%s", diff)
	}
}

func TestRetry_SucceedsAfterRateLimit(t *testing.T) {
	var delays []time.Duration
	calls := 0
	got, err := Retry(context.Background(), DefaultBackoff(), recordingSleep(&delays), func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", ErrRateLimited
		}
		return "ok", nil
	})

	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if got != "ok" {
		t.Errorf("Retry() = %q, want %q", got, "ok")
	}
	if calls != 2 || len(delays) != 1 {
		t.Errorf("calls = %d, sleeps = %d; want 2, 1", calls, len(delays))
	}
}

func TestRetry_OtherErrorsNotRetried(t *testing.T) {
	var delays []time.Duration
	calls := 0
	_, err := Retry(context.Background(), DefaultBackoff(), recordingSleep(&delays), func(ctx context.Context) (int, error) {
		calls++
		return 0, &APIError{Method: "GET", Path: "/me", StatusCode: 401, Kind: ErrUnauthorized}
	})

	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Retry() error = %v, want ErrUnauthorized", err)
	}
	if calls != 1 || len(delays) != 0 {
		t.Errorf("calls = %d, sleeps = %d; want 1, 0", calls, len(delays))
	}
}

func TestRetry_SleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Retry(ctx, DefaultBackoff(), func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}, func(ctx context.Context) (int, error) {
		calls++
		return 0, ErrRateLimited
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
