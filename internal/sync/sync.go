// Package sync keeps an inbox snapshot current for one email address.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/wesm/tempmail/internal/mailtm"
	"github.com/wesm/tempmail/internal/store"
)

// DefaultManualInterval is the minimum gap between a sync attempt and a
// user-requested refresh.
const DefaultManualInterval = 5000 * time.Millisecond

// ErrThrottled is matched by *ThrottledError.
var ErrThrottled = errors.New("manual refresh throttled")

// ThrottledError rejects a manual refresh that came too soon.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("manual refresh throttled: retry in %s", e.RetryAfter.Round(time.Millisecond))
}

func (e *ThrottledError) Unwrap() error { return ErrThrottled }

// State is the synchronizer's activity state.
type State int

const (
	Idle State = iota
	Refreshing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Refreshing:
		return "refreshing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Gateway lists an inbox's messages.
type Gateway interface {
	ListMessages(ctx context.Context, token string) ([]mailtm.Message, error)
}

// Session supplies the live account and refreshes its token.
type Session interface {
	AccountFor(email string) (*store.Account, uint64, error)
	Live(gen uint64) bool
	RefreshToken(ctx context.Context, email, staleToken string) (*store.Account, error)
}

// Update is delivered to the update callback on every publication.
type Update struct {
	Snapshot *Snapshot
	NewIDs   []string
}

// Options configures a Synchronizer.
type Options struct {
	// ManualInterval is the minimum gap before ManualRefresh (default: 5s)
	ManualInterval time.Duration

	// Clock drives throttling and snapshot timestamps (default: wall clock)
	Clock mailtm.Clock
}

// DefaultOptions returns the default synchronizer options.
func DefaultOptions() *Options {
	return &Options{
		ManualInterval: DefaultManualInterval,
		Clock:          mailtm.RealClock(),
	}
}

// Synchronizer fetches and publishes inbox snapshots for one email.
// Overlapping syncs collapse into the one already running.
type Synchronizer struct {
	email    string
	gw       Gateway
	sess     Session
	opts     *Options
	logger   *slog.Logger
	onUpdate func(Update)

	mu          stdsync.Mutex
	state       State
	published   *Snapshot
	latest      *Snapshot
	lastAttempt time.Time
	forgotten   map[string]bool
}

// New creates a synchronizer for email.
func New(email string, gw Gateway, sess Session, opts *Options) *Synchronizer {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Clock == nil {
		opts.Clock = mailtm.RealClock()
	}
	if opts.ManualInterval <= 0 {
		opts.ManualInterval = DefaultManualInterval
	}

	empty := EmptySnapshot(email)
	return &Synchronizer{
		email:     email,
		gw:        gw,
		sess:      sess,
		opts:      opts,
		logger:    slog.Default(),
		published: empty,
		latest:    empty,
		forgotten: make(map[string]bool),
	}
}

// WithLogger sets the logger for the synchronizer.
func (s *Synchronizer) WithLogger(logger *slog.Logger) *Synchronizer {
	s.logger = logger
	return s
}

// OnUpdate registers fn to receive every published snapshot. fn runs on
// the syncing goroutine and must not block.
func (s *Synchronizer) OnUpdate(fn func(Update)) *Synchronizer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = fn
	return s
}

// Email returns the address this synchronizer serves.
func (s *Synchronizer) Email() string { return s.email }

// Snapshot returns the last published snapshot.
func (s *Synchronizer) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.published
}

// Latest returns the most recently fetched snapshot, published or not.
func (s *Synchronizer) Latest() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// State returns the current activity state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastAttempt returns when the last sync started; zero if never.
func (s *Synchronizer) LastAttempt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAttempt
}

// Sync fetches the inbox and returns the published snapshot. A new
// snapshot is published when force is set or new message ids appeared.
// Failures are logged and leave the published snapshot in place.
func (s *Synchronizer) Sync(ctx context.Context, force bool) *Snapshot {
	s.mu.Lock()
	if s.state == Refreshing {
		snap := s.published
		s.mu.Unlock()
		s.logger.Debug("sync already running", "email", s.email)
		return snap
	}
	s.state = Refreshing
	s.lastAttempt = s.opts.Clock.Now()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.state = Idle
		s.mu.Unlock()
	}()

	acct, gen, err := s.sess.AccountFor(s.email)
	if err != nil {
		s.logger.Debug("no account for inbox", "email", s.email, "error", err)
		return s.Snapshot()
	}

	msgs, err := s.fetch(ctx, acct)
	if err != nil {
		s.logger.Warn("inbox sync failed", "email", s.email, "error", err)
		return s.Snapshot()
	}
	fetchedAt := s.opts.Clock.Now()

	s.mu.Lock()
	if !s.sess.Live(gen) {
		snap := s.published
		s.mu.Unlock()
		s.logger.Debug("discarding sync for superseded account", "email", s.email)
		return snap
	}
	next := newSnapshot(s.email, s.dropForgotten(msgs), fetchedAt)
	fresh := newIDs(s.published, next)
	s.latest = next
	publish := force || len(fresh) > 0
	if publish {
		s.published = next
	}
	snap := s.published
	notify := s.onUpdate
	s.mu.Unlock()

	if publish {
		s.logger.Debug("published snapshot", "email", s.email, "messages", len(next.Messages), "new", len(fresh), "forced", force)
		if notify != nil {
			notify(Update{Snapshot: next, NewIDs: fresh})
		}
	}
	return snap
}

// dropForgotten filters out deleted ids. Callers hold s.mu.
func (s *Synchronizer) dropForgotten(msgs []mailtm.Message) []mailtm.Message {
	if len(s.forgotten) == 0 {
		return msgs
	}
	kept := make([]mailtm.Message, 0, len(msgs))
	for _, m := range msgs {
		if !s.forgotten[m.ID] {
			kept = append(kept, m)
		}
	}
	return kept
}

// Forget removes a deleted message from the published and latest
// snapshots and from every later sync, so a listing fetched before the
// deletion cannot bring it back as a new message.
func (s *Synchronizer) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forgotten[id] = true
	s.published = s.published.without(id)
	s.latest = s.latest.without(id)
}

// Checkpoint is the state a synchronizer carries between processes.
type Checkpoint struct {
	Snapshot    *Snapshot `json:"snapshot"`
	LastAttempt time.Time `json:"lastAttempt"`
}

// Checkpoint returns the published snapshot and the last attempt time.
func (s *Synchronizer) Checkpoint() Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Checkpoint{Snapshot: s.published, LastAttempt: s.lastAttempt}
}

// Restore seeds a synchronizer from a saved checkpoint. Checkpoints for
// another email are ignored. It reports whether cp was applied.
func (s *Synchronizer) Restore(cp *Checkpoint) bool {
	if cp == nil || cp.Snapshot == nil || cp.Snapshot.Email != s.email {
		return false
	}
	snap := *cp.Snapshot
	if snap.Messages == nil {
		snap.Messages = []mailtm.Message{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = &snap
	s.latest = &snap
	if cp.LastAttempt.After(s.lastAttempt) {
		s.lastAttempt = cp.LastAttempt
	}
	return true
}

// fetch lists messages, refreshing the token once if it was rejected.
func (s *Synchronizer) fetch(ctx context.Context, acct *store.Account) ([]mailtm.Message, error) {
	msgs, err := s.gw.ListMessages(ctx, acct.Token)
	if err == nil {
		return msgs, nil
	}
	if !errors.Is(err, mailtm.ErrUnauthorized) && !errors.Is(err, mailtm.ErrAuthFailed) {
		return nil, err
	}

	s.logger.Info("token rejected, refreshing", "email", s.email)
	refreshed, rerr := s.sess.RefreshToken(ctx, s.email, acct.Token)
	if rerr != nil {
		return nil, fmt.Errorf("refresh after %v: %w", err, rerr)
	}
	return s.gw.ListMessages(ctx, refreshed.Token)
}

// ManualRefresh runs a forced sync unless the previous attempt was less
// than the manual interval ago, in which case it returns a
// *ThrottledError without contacting the provider.
func (s *Synchronizer) ManualRefresh(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	last := s.lastAttempt
	s.mu.Unlock()

	if !last.IsZero() {
		elapsed := s.opts.Clock.Now().Sub(last)
		if elapsed < s.opts.ManualInterval {
			return nil, &ThrottledError{RetryAfter: s.opts.ManualInterval - elapsed}
		}
	}
	return s.Sync(ctx, true), nil
}
