// Package scheduler polls inboxes in the background on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule polls the active inbox every 15 seconds.
const DefaultSchedule = "@every 15s"

// ErrStopped is returned by Trigger after Stop.
var ErrStopped = errors.New("scheduler is stopped")

// parser accepts standard 5-field expressions and @every/@hourly descriptors.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// PollFunc is invoked for each scheduled poll of an inbox.
type PollFunc func(ctx context.Context, email string) error

// InboxStatus reports the polling state of one inbox.
type InboxStatus struct {
	Email     string    `json:"email"`
	Schedule  string    `json:"schedule"`
	Running   bool      `json:"running"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run"`
	Skipped   int       `json:"skipped"`
	LastError string    `json:"last_error,omitempty"`
}

// Scheduler runs one cron job per watched inbox. A poll that fires while
// the previous one for the same inbox is still running is skipped.
type Scheduler struct {
	cron   *cron.Cron
	poll   PollFunc
	logger *slog.Logger

	mu        sync.RWMutex
	jobs      map[string]cron.EntryID
	schedules map[string]string
	running   map[string]bool
	lastRun   map[string]time.Time
	lastErr   map[string]error
	skipped   map[string]int

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped bool
}

// New creates a Scheduler that calls poll for each due inbox.
func New(poll PollFunc) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:      cron.New(cron.WithParser(parser)),
		poll:      poll,
		logger:    slog.Default(),
		jobs:      make(map[string]cron.EntryID),
		schedules: make(map[string]string),
		running:   make(map[string]bool),
		lastRun:   make(map[string]time.Time),
		lastErr:   make(map[string]error),
		skipped:   make(map[string]int),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// WithLogger sets the logger for the scheduler.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// Watch schedules polling of email. An empty spec means DefaultSchedule.
// Watching an email again replaces its schedule.
func (s *Scheduler) Watch(email, spec string) error {
	if strings.TrimSpace(spec) == "" {
		spec = DefaultSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watchLocked(email, spec)
}

// Follow makes email the only watched inbox, dropping every other job.
// It is used when a new inbox replaces the active one.
func (s *Scheduler) Follow(email, spec string) error {
	if strings.TrimSpace(spec) == "" {
		spec = DefaultSchedule
	}
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for other := range s.jobs {
		if other != email {
			s.unwatchLocked(other)
		}
	}
	return s.watchLocked(email, spec)
}

func (s *Scheduler) watchLocked(email, spec string) error {
	sched, err := parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	if id, ok := s.jobs[email]; ok {
		s.cron.Remove(id)
	}

	id := s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(email) }))
	s.jobs[email] = id
	s.schedules[email] = spec
	s.logger.Info("watching inbox", "email", email, "schedule", spec)
	return nil
}

// Unwatch stops polling email.
func (s *Scheduler) Unwatch(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unwatchLocked(email)
}

// UnwatchAll stops polling every inbox.
func (s *Scheduler) UnwatchAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for email := range s.jobs {
		s.unwatchLocked(email)
	}
}

func (s *Scheduler) unwatchLocked(email string) {
	id, ok := s.jobs[email]
	if !ok {
		return
	}
	s.cron.Remove(id)
	delete(s.jobs, email)
	delete(s.schedules, email)
	delete(s.lastRun, email)
	delete(s.lastErr, email)
	delete(s.skipped, email)
	s.logger.Info("stopped watching inbox", "email", email)
}

// IsWatched reports whether email has a job.
func (s *Scheduler) IsWatched(email string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.jobs[email]
	return ok
}

// Start begins executing scheduled polls.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.started = true
	s.stopped = false
	n := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "inboxes", n)
}

// IsRunning returns true between Start and Stop.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started && !s.stopped
}

// Stop halts the cron loop, cancels in-flight polls and returns a context
// that is done once they have all returned.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("scheduler stopping")

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	s.cancel()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		cancel()
	}()
	return ctx
}

// fire is the cron callback.
func (s *Scheduler) fire(email string) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if s.running[email] {
		s.skipped[email]++
		s.mu.Unlock()
		s.logger.Debug("poll still running, skipping", "email", email)
		return
	}
	s.running[email] = true
	s.wg.Add(1)
	s.mu.Unlock()
	s.run(email)
}

// run polls one inbox. The caller has set running[email] and called wg.Add.
func (s *Scheduler) run(email string) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.running[email] = false
		s.mu.Unlock()
	}()

	start := time.Now()
	err := s.poll(s.ctx, email)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[email]; !ok {
		return
	}
	if err != nil {
		s.lastErr[email] = err
		s.logger.Warn("inbox poll failed", "email", email, "duration", time.Since(start), "error", err)
		return
	}
	s.lastRun[email] = time.Now()
	s.lastErr[email] = nil
	s.logger.Debug("inbox polled", "email", email, "duration", time.Since(start))
}

// Trigger polls email now, outside its schedule.
func (s *Scheduler) Trigger(email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if _, ok := s.jobs[email]; !ok {
		return fmt.Errorf("inbox %s is not watched", email)
	}
	if s.running[email] {
		return fmt.Errorf("poll already running for %s", email)
	}

	s.running[email] = true
	s.wg.Add(1)
	go s.run(email)
	return nil
}

// Status returns the state of every watched inbox, sorted by email.
func (s *Scheduler) Status() []InboxStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]InboxStatus, 0, len(s.jobs))
	for email, id := range s.jobs {
		st := InboxStatus{
			Email:    email,
			Schedule: s.schedules[email],
			Running:  s.running[email],
			LastRun:  s.lastRun[email],
			NextRun:  s.cron.Entry(id).Next,
			Skipped:  s.skipped[email],
		}
		if err := s.lastErr[email]; err != nil {
			st.LastError = err.Error()
		}
		statuses = append(statuses, st)
	}
	slices.SortFunc(statuses, func(a, b InboxStatus) int {
		return strings.Compare(a.Email, b.Email)
	})
	return statuses
}

// ValidateSchedule checks a cron expression or descriptor without
// scheduling anything.
func ValidateSchedule(spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}
	return nil
}
