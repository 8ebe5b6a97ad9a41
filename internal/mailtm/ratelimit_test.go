package mailtm

import (
	"context"
	"testing"
	"time"

	"github.com/wesm/tempmail/internal/testutil"
)

// waitAsync runs th.Wait in the background and returns its result channel.
func waitAsync(ctx context.Context, th *Throttle) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- th.Wait(ctx) }()
	return ch
}

func assertPending(t *testing.T, ch <-chan error) {
	t.Helper()
	select {
	case err := <-ch:
		t.Fatalf("Wait() returned early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
}

func assertDone(t *testing.T, ch <-chan error) {
	t.Helper()
	select {
	case err := <-ch:
		if err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait() did not return")
	}
}

func TestThrottle_FirstCallImmediate(t *testing.T) {
	clk := testutil.NewFakeClock()
	th := NewThrottleWithClock(clk, DefaultMinInterval)

	if err := th.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if n := clk.TimerCount(); n != 0 {
		t.Errorf("TimerCount() = %d, want 0", n)
	}
}

func TestThrottle_SpacesCalls(t *testing.T) {
	clk := testutil.NewFakeClock()
	th := NewThrottleWithClock(clk, DefaultMinInterval)
	ctx := context.Background()

	testutil.MustNoErr(t, th.Wait(ctx), "first Wait")

	done := waitAsync(ctx, th)
	clk.WaitForTimers(t, 1)
	assertPending(t, done)

	clk.Advance(DefaultMinInterval - time.Millisecond)
	assertPending(t, done)

	clk.Advance(time.Millisecond)
	assertDone(t, done)
}

func TestThrottle_SlotFreesAfterInterval(t *testing.T) {
	clk := testutil.NewFakeClock()
	th := NewThrottleWithClock(clk, DefaultMinInterval)
	ctx := context.Background()

	testutil.MustNoErr(t, th.Wait(ctx), "first Wait")
	clk.Advance(DefaultMinInterval)

	if err := th.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if n := clk.TimerCount(); n != 0 {
		t.Errorf("TimerCount() = %d, want 0 after interval elapsed", n)
	}
}

func TestThrottle_ContextCancelled(t *testing.T) {
	clk := testutil.NewFakeClock()
	th := NewThrottleWithClock(clk, DefaultMinInterval)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := th.Wait(ctx); err != context.Canceled {
		t.Errorf("Wait() with cancelled context = %v, want context.Canceled", err)
	}
}

func TestThrottle_CancelWhileWaiting(t *testing.T) {
	clk := testutil.NewFakeClock()
	th := NewThrottleWithClock(clk, DefaultMinInterval)

	testutil.MustNoErr(t, th.Wait(context.Background()), "first Wait")

	ctx, cancel := context.WithCancel(context.Background())
	done := waitAsync(ctx, th)
	clk.WaitForTimers(t, 1)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Wait() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait() did not return after cancel")
	}
}

func TestThrottle_Disabled(t *testing.T) {
	clk := testutil.NewFakeClock()
	th := NewThrottleWithClock(clk, 0)

	for i := 0; i < 5; i++ {
		if err := th.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() #%d error = %v", i, err)
		}
	}
	if n := clk.TimerCount(); n != 0 {
		t.Errorf("TimerCount() = %d, want 0", n)
	}
}

func TestNewThrottleWithClock_NilClockPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewThrottleWithClock(nil, ...) should panic")
		}
	}()
	NewThrottleWithClock(nil, DefaultMinInterval)
}
