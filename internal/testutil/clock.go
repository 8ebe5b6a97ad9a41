package testutil

import (
	"sync"
	"testing"
	"time"
)

// FakeClock is a manually advanced clock. It satisfies the Clock
// interfaces used across tempmail.
type FakeClock struct {
	mu          sync.Mutex
	current     time.Time
	timers      []fakeTimer
	timerNotify chan struct{}
}

type fakeTimer struct {
	deadline time.Time
	ch       chan time.Time
}

// NewFakeClock returns a clock set to 2024-01-01 00:00 UTC.
func NewFakeClock() *FakeClock {
	return &FakeClock{
		current:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		timerNotify: make(chan struct{}, 1),
	}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	deadline := c.current.Add(d)
	if !c.current.Before(deadline) {
		ch <- c.current
		return ch
	}
	c.timers = append(c.timers, fakeTimer{deadline: deadline, ch: ch})
	select {
	case c.timerNotify <- struct{}{}:
	default:
	}
	return ch
}

// TimerCount returns the number of pending timers.
func (c *FakeClock) TimerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Advance moves the clock forward and fires any pending timers.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	now := c.current
	var remaining []fakeTimer
	for _, t := range c.timers {
		if !now.Before(t.deadline) {
			t.ch <- now
		} else {
			remaining = append(remaining, t)
		}
	}
	c.timers = remaining
}

// Set jumps the clock to t without firing timers scheduled after it.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

// WaitForTimers blocks until the clock has at least n pending timers.
func (c *FakeClock) WaitForTimers(t *testing.T, n int) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for c.TimerCount() < n {
		select {
		case <-c.timerNotify:
		case <-time.After(10 * time.Millisecond):
		case <-timeout:
			t.Fatalf("timed out waiting for %d timer(s); have %d", n, c.TimerCount())
		}
	}
}
