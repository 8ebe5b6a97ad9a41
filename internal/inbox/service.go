// Package inbox is the boundary every front end (CLI, HTTP API, MCP)
// talks to: it provisions inboxes, serves snapshots, reads and deletes
// messages, and fans out new-mail updates.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/microcosm-cc/bluemonday"

	"github.com/wesm/tempmail/internal/mailtm"
	"github.com/wesm/tempmail/internal/session"
	"github.com/wesm/tempmail/internal/store"
	syncpkg "github.com/wesm/tempmail/internal/sync"
)

// subscriberBuffer bounds each subscriber's queue; updates to a full
// subscriber are dropped.
const subscriberBuffer = 16

// Provisioner creates new accounts.
type Provisioner interface {
	Provision(ctx context.Context) (*store.Account, error)
}

// CheckpointCache persists synchronizer state between processes.
type CheckpointCache interface {
	Load(email string) (*syncpkg.Checkpoint, error)
	Save(cp syncpkg.Checkpoint) error
	Clear() error
}

// Service coordinates provisioning, sessions and synchronizers.
type Service struct {
	api      mailtm.API
	sess     *session.Session
	prov     Provisioner
	syncOpts *syncpkg.Options
	sanitize bool
	policy   *bluemonday.Policy
	logger   *slog.Logger
	cache    CheckpointCache
	cacheMu  sync.Mutex

	mu      sync.Mutex
	syncers map[string]*syncpkg.Synchronizer
	subs    map[int]chan syncpkg.Update
	nextSub int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithSanitizeHTML toggles HTML sanitizing in ReadMessage (default on).
func WithSanitizeHTML(on bool) Option {
	return func(s *Service) {
		s.sanitize = on
	}
}

// WithSyncOptions sets the options for every synchronizer created.
func WithSyncOptions(opts *syncpkg.Options) Option {
	return func(s *Service) {
		s.syncOpts = opts
	}
}

// WithCheckpointCache restores each synchronizer from cache and saves
// its state after every sync.
func WithCheckpointCache(cache CheckpointCache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

// New creates a Service.
func New(api mailtm.API, sess *session.Session, prov Provisioner, opts ...Option) *Service {
	s := &Service{
		api:      api,
		sess:     sess,
		prov:     prov,
		sanitize: true,
		policy:   newMessagePolicy(),
		logger:   slog.Default(),
		syncers:  make(map[string]*syncpkg.Synchronizer),
		subs:     make(map[int]chan syncpkg.Update),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.syncOpts == nil {
		s.syncOpts = syncpkg.DefaultOptions()
	}
	return s
}

// ProvisionNewInbox creates a new account and makes it the live one. The
// previous account is neither reused nor deleted at the provider.
func (s *Service) ProvisionNewInbox(ctx context.Context) (*store.Account, error) {
	acct, err := s.prov.Provision(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.sess.Replace(acct); err != nil {
		return nil, err
	}

	s.mu.Lock()
	for email := range s.syncers {
		if email != acct.Email {
			delete(s.syncers, email)
		}
	}
	s.mu.Unlock()

	return acct.Clone(), nil
}

// Account returns the live account, or store.ErrNoAccount.
func (s *Service) Account() (*store.Account, error) {
	return s.sess.Current()
}

// Logout clears the live account and drops all synchronizers.
func (s *Service) Logout() error {
	if err := s.sess.Clear(); err != nil {
		return err
	}
	s.mu.Lock()
	clear(s.syncers)
	s.mu.Unlock()

	if s.cache != nil {
		s.cacheMu.Lock()
		defer s.cacheMu.Unlock()
		if err := s.cache.Clear(); err != nil {
			s.logger.Warn("failed to clear inbox checkpoint", "error", err)
		}
	}
	return nil
}

// synchronizer returns the synchronizer for email if email is the live
// account, creating it on first use.
func (s *Service) synchronizer(email string) (*syncpkg.Synchronizer, bool) {
	if _, _, err := s.sess.AccountFor(email); err != nil {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sy, ok := s.syncers[email]; ok {
		return sy, true
	}
	opts := *s.syncOpts
	sy := syncpkg.New(email, s.api, s.sess, &opts).
		WithLogger(s.logger.With("inbox", email)).
		OnUpdate(s.broadcast)
	if s.cache != nil {
		cp, err := s.cache.Load(email)
		if err != nil {
			s.logger.Warn("failed to load inbox checkpoint", "email", email, "error", err)
		} else if sy.Restore(cp) {
			s.logger.Debug("restored inbox checkpoint", "email", email, "last_attempt", cp.LastAttempt)
		}
	}
	s.syncers[email] = sy
	return sy, true
}

// persist saves the synchronizer's checkpoint when a cache is configured.
func (s *Service) persist(sy *syncpkg.Synchronizer) {
	if s.cache == nil {
		return
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if err := s.cache.Save(sy.Checkpoint()); err != nil {
		s.logger.Warn("failed to save inbox checkpoint", "email", sy.Email(), "error", err)
	}
}

// InboxSnapshot syncs and returns the published snapshot for email. It
// never fails: unknown or stale emails get an empty snapshot.
func (s *Service) InboxSnapshot(ctx context.Context, email string) *syncpkg.Snapshot {
	sy, ok := s.synchronizer(email)
	if !ok {
		return syncpkg.EmptySnapshot(email)
	}
	snap := sy.Sync(ctx, false)
	s.persist(sy)
	return snap
}

// CachedSnapshot returns the published snapshot without contacting the
// provider.
func (s *Service) CachedSnapshot(email string) *syncpkg.Snapshot {
	sy, ok := s.synchronizer(email)
	if !ok {
		return syncpkg.EmptySnapshot(email)
	}
	return sy.Snapshot()
}

// ManualRefresh forces a sync unless one ran too recently, in which case
// the error matches syncpkg.ErrThrottled.
func (s *Service) ManualRefresh(ctx context.Context, email string) (*syncpkg.Snapshot, error) {
	sy, ok := s.synchronizer(email)
	if !ok {
		return syncpkg.EmptySnapshot(email), nil
	}
	snap, err := sy.ManualRefresh(ctx)
	if err != nil {
		return nil, err
	}
	s.persist(sy)
	return snap, nil
}

// Poll runs an unforced sync of email for background schedulers. Unlike
// InboxSnapshot it reports a missing account.
func (s *Service) Poll(ctx context.Context, email string) (*syncpkg.Snapshot, error) {
	sy, ok := s.synchronizer(email)
	if !ok {
		return nil, fmt.Errorf("poll %s: %w", email, store.ErrNoAccount)
	}
	snap := sy.Sync(ctx, false)
	s.persist(sy)
	return snap, nil
}

// SyncStatus describes one synchronizer.
type SyncStatus struct {
	Email    string
	State    syncpkg.State
	Messages int
	Unread   int
}

// Status lists the active synchronizers ordered by email.
func (s *Service) Status() []SyncStatus {
	s.mu.Lock()
	syncers := make([]*syncpkg.Synchronizer, 0, len(s.syncers))
	for _, sy := range s.syncers {
		syncers = append(syncers, sy)
	}
	s.mu.Unlock()

	out := make([]SyncStatus, 0, len(syncers))
	for _, sy := range syncers {
		snap := sy.Snapshot()
		out = append(out, SyncStatus{
			Email:    sy.Email(),
			State:    sy.State(),
			Messages: len(snap.Messages),
			Unread:   snap.Unread(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out
}

// ReadMessage fetches a message in full and marks it read. A rejected
// token is refreshed once.
func (s *Service) ReadMessage(ctx context.Context, email, id string) (*mailtm.Message, error) {
	msg, err := withToken(ctx, s, email, func(token string) (*mailtm.Message, error) {
		return s.api.GetMessage(ctx, token, id)
	})
	if err != nil {
		return nil, err
	}
	if s.sanitize {
		msg.HTML = s.policy.Sanitize(msg.HTML)
	}
	return msg, nil
}

// DeleteMessage removes a message; a message already gone counts as
// deleted. On success the message is dropped from the snapshot and the
// inbox is re-synced.
func (s *Service) DeleteMessage(ctx context.Context, email, id string) error {
	_, err := withToken(ctx, s, email, func(token string) (struct{}, error) {
		return struct{}{}, s.api.DeleteMessage(ctx, token, id)
	})
	if err != nil {
		return err
	}

	if sy, ok := s.synchronizer(email); ok {
		sy.Forget(id)
		sy.Sync(ctx, true)
		s.persist(sy)
	}
	return nil
}

// withToken runs op with the live token for email, refreshing the token
// once if the provider rejects it.
func withToken[T any](ctx context.Context, s *Service, email string, op func(token string) (T, error)) (T, error) {
	var zero T
	acct, _, err := s.sess.AccountFor(email)
	if err != nil {
		return zero, err
	}

	v, err := op(acct.Token)
	if err == nil || !isAuthError(err) {
		return v, err
	}

	s.logger.Info("token rejected, refreshing", "email", email)
	refreshed, rerr := s.sess.RefreshToken(ctx, email, acct.Token)
	if rerr != nil {
		return zero, fmt.Errorf("%w (token refresh: %w)", err, rerr)
	}
	return op(refreshed.Token)
}

func isAuthError(err error) bool {
	return errors.Is(err, mailtm.ErrUnauthorized) || errors.Is(err, mailtm.ErrAuthFailed)
}

// Subscribe returns a channel of published updates and a function that
// cancels the subscription.
func (s *Service) Subscribe() (<-chan syncpkg.Update, func()) {
	ch := make(chan syncpkg.Update, subscriberBuffer)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Service) broadcast(u syncpkg.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- u:
		default:
			s.logger.Debug("subscriber full, dropping update", "subscriber", id)
		}
	}
}
