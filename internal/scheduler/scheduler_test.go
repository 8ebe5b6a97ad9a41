package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func noopPoll(ctx context.Context, email string) error { return nil }

func waitStopped(t *testing.T, ctx context.Context) {
	t.Helper()
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not complete in time")
	}
}

func TestNew(t *testing.T) {
	s := New(noopPoll)

	if s == nil {
		t.Fatal("New() returned nil")
	}
	if s.cron == nil {
		t.Error("cron is nil")
	}
	if s.jobs == nil {
		t.Error("jobs map is nil")
	}
}

func TestWatch(t *testing.T) {
	s := New(noopPoll)

	if err := s.Watch("a@example.test", "*/5 * * * *"); err != nil {
		t.Fatalf("Watch() = %v", err)
	}
	if !s.IsWatched("a@example.test") {
		t.Error("inbox not watched after Watch()")
	}
}

func TestWatchDefaultSchedule(t *testing.T) {
	s := New(noopPoll)

	if err := s.Watch("a@example.test", ""); err != nil {
		t.Fatalf("Watch() = %v", err)
	}
	st := s.Status()
	if len(st) != 1 || st[0].Schedule != DefaultSchedule {
		t.Errorf("Status() = %+v, want schedule %q", st, DefaultSchedule)
	}
}

func TestWatchInvalidSchedule(t *testing.T) {
	s := New(noopPoll)

	if err := s.Watch("a@example.test", "not a schedule"); err == nil {
		t.Error("Watch() with invalid schedule = nil, want error")
	}
	if s.IsWatched("a@example.test") {
		t.Error("invalid schedule left a job behind")
	}
}

func TestWatchReplacesExisting(t *testing.T) {
	s := New(noopPoll)

	if err := s.Watch("a@example.test", "0 2 * * *"); err != nil {
		t.Fatalf("Watch() = %v", err)
	}
	s.mu.RLock()
	firstID := s.jobs["a@example.test"]
	s.mu.RUnlock()

	if err := s.Watch("a@example.test", "@every 30s"); err != nil {
		t.Fatalf("Watch() replacement = %v", err)
	}
	s.mu.RLock()
	secondID := s.jobs["a@example.test"]
	sched := s.schedules["a@example.test"]
	s.mu.RUnlock()

	if firstID == secondID {
		t.Error("job ID was not updated after replacement")
	}
	if sched != "@every 30s" {
		t.Errorf("schedule = %q, want @every 30s", sched)
	}
	if n := len(s.cron.Entries()); n != 1 {
		t.Errorf("cron entries = %d, want 1", n)
	}
}

func TestFollowDropsOtherInboxes(t *testing.T) {
	s := New(noopPoll)

	for _, email := range []string{"a@example.test", "b@example.test"} {
		if err := s.Watch(email, ""); err != nil {
			t.Fatalf("Watch(%s) = %v", email, err)
		}
	}
	if err := s.Follow("c@example.test", ""); err != nil {
		t.Fatalf("Follow() = %v", err)
	}

	var got []string
	for _, st := range s.Status() {
		got = append(got, st.Email)
	}
	if diff := cmp.Diff([]string{"c@example.test"}, got); diff != "" {
		t.Errorf("watched inboxes mismatch (-want +got):\n%s", diff)
	}
}

func TestFollowInvalidKeepsExisting(t *testing.T) {
	s := New(noopPoll)

	if err := s.Watch("a@example.test", ""); err != nil {
		t.Fatalf("Watch() = %v", err)
	}
	if err := s.Follow("b@example.test", "bogus"); err == nil {
		t.Fatal("Follow() with invalid schedule = nil, want error")
	}
	if !s.IsWatched("a@example.test") {
		t.Error("existing inbox dropped by failed Follow()")
	}
}

func TestUnwatch(t *testing.T) {
	s := New(noopPoll)

	if err := s.Watch("a@example.test", ""); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	s.Unwatch("a@example.test")
	if s.IsWatched("a@example.test") {
		t.Error("inbox still watched after Unwatch()")
	}

	// Unknown inboxes are a no-op.
	s.Unwatch("nobody@example.test")
}

func TestUnwatchAll(t *testing.T) {
	s := New(noopPoll)
	_ = s.Watch("a@example.test", "")
	_ = s.Watch("b@example.test", "")

	s.UnwatchAll()

	if n := len(s.Status()); n != 0 {
		t.Errorf("len(Status()) = %d after UnwatchAll, want 0", n)
	}
	if n := len(s.cron.Entries()); n != 0 {
		t.Errorf("cron entries = %d, want 0", n)
	}
}

func TestIsRunning(t *testing.T) {
	s := New(noopPoll)

	if s.IsRunning() {
		t.Error("IsRunning() = true before Start()")
	}
	s.Start()
	if !s.IsRunning() {
		t.Error("IsRunning() = false after Start()")
	}
	ctx := s.Stop()
	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop()")
	}
	waitStopped(t, ctx)
}

func TestStopCancelsRunningPoll(t *testing.T) {
	started := make(chan struct{})
	s := New(func(ctx context.Context, email string) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	if err := s.Watch("a@example.test", "0 0 1 1 *"); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := s.Trigger("a@example.test"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("poll did not start")
	}

	waitStopped(t, s.Stop())

	st := s.Status()
	if len(st) != 1 || st[0].LastError == "" {
		t.Errorf("Status() = %+v, want a recorded error", st)
	}
}

func TestTrigger(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	s := New(func(ctx context.Context, email string) error {
		calls.Add(1)
		<-release
		return nil
	})

	if err := s.Watch("a@example.test", "0 0 1 1 *"); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := s.Trigger("a@example.test"); err != nil {
		t.Fatalf("Trigger() = %v", err)
	}
	if err := s.Trigger("a@example.test"); err == nil {
		t.Error("Trigger() while running = nil, want error")
	}
	close(release)
	waitStopped(t, s.Stop())

	if got := calls.Load(); got != 1 {
		t.Errorf("poll called %d times, want 1", got)
	}
}

func TestTriggerUnwatched(t *testing.T) {
	s := New(noopPoll)
	if err := s.Trigger("a@example.test"); err == nil {
		t.Error("Trigger() on unwatched inbox = nil, want error")
	}
}

func TestTriggerAfterStop(t *testing.T) {
	s := New(noopPoll)
	if err := s.Watch("a@example.test", ""); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	waitStopped(t, s.Stop())

	if err := s.Trigger("a@example.test"); !errors.Is(err, ErrStopped) {
		t.Errorf("Trigger() after Stop() = %v, want ErrStopped", err)
	}
}

func TestFireSkipsWhileRunning(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	s := New(func(ctx context.Context, email string) error {
		calls.Add(1)
		close(started)
		<-release
		return nil
	})
	if err := s.Watch("a@example.test", "0 0 1 1 *"); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	go s.fire("a@example.test")
	<-started

	s.fire("a@example.test")
	s.fire("a@example.test")

	close(release)
	waitStopped(t, s.Stop())

	if got := calls.Load(); got != 1 {
		t.Errorf("poll called %d times, want 1", got)
	}
	st := s.Status()
	if len(st) != 1 || st[0].Skipped != 2 {
		t.Errorf("Status() = %+v, want Skipped=2", st)
	}
}

func TestStatus(t *testing.T) {
	s := New(noopPoll)

	if err := s.Watch("b@example.test", "0 3 * * *"); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := s.Watch("a@example.test", "0 2 * * *"); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	s.Start()
	defer s.Stop()

	st := s.Status()
	if len(st) != 2 {
		t.Fatalf("len(Status()) = %d, want 2", len(st))
	}
	if st[0].Email != "a@example.test" || st[1].Email != "b@example.test" {
		t.Errorf("Status() not sorted: %s, %s", st[0].Email, st[1].Email)
	}
	for _, x := range st {
		if x.Running {
			t.Errorf("%s: Running = true, want false", x.Email)
		}
		if x.NextRun.IsZero() {
			t.Errorf("%s: NextRun is zero", x.Email)
		}
	}
}

func TestStatusAfterPoll(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"success", nil, false},
		{"failure", errors.New("poll failed"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(func(ctx context.Context, email string) error { return tt.err })
			if err := s.Watch("a@example.test", "0 0 1 1 *"); err != nil {
				t.Fatalf("Watch: %v", err)
			}
			if err := s.Trigger("a@example.test"); err != nil {
				t.Fatalf("Trigger: %v", err)
			}
			waitStopped(t, s.Stop())

			st := s.Status()
			if len(st) != 1 {
				t.Fatalf("len(Status()) = %d, want 1", len(st))
			}
			if got := st[0].LastError != ""; got != tt.wantErr {
				t.Errorf("LastError = %q, wantErr %v", st[0].LastError, tt.wantErr)
			}
			if !tt.wantErr && st[0].LastRun.IsZero() {
				t.Error("LastRun should be set after a successful poll")
			}
		})
	}
}

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		spec    string
		wantErr bool
	}{
		{"0 2 * * *", false},
		{"*/15 * * * *", false},
		{"@every 15s", false},
		{"@hourly", false},
		{"invalid", true},
		{"* * * * * *", true},
		{"@every nope", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			err := ValidateSchedule(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSchedule(%q) error = %v, wantErr = %v", tt.spec, err, tt.wantErr)
			}
		})
	}
}
