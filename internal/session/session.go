// Package session owns the live inbox account: it persists it through an
// AccountStore, tracks a generation that changes whenever the account is
// replaced or cleared, and serializes bearer token refreshes.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/wesm/tempmail/internal/store"
)

// ErrSuperseded means the account changed while an operation was in
// flight and its result was discarded.
var ErrSuperseded = errors.New("session superseded by a newer account")

// TokenIssuer exchanges account credentials for a bearer token.
type TokenIssuer interface {
	GetToken(ctx context.Context, address, password string) (string, error)
}

// Session holds at most one live account.
type Session struct {
	store  store.AccountStore
	issuer TokenIssuer
	logger *slog.Logger

	mu    sync.Mutex // guards store read-modify-write
	gen   atomic.Uint64
	group singleflight.Group
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// New creates a session over st. issuer is used for token refreshes.
func New(st store.AccountStore, issuer TokenIssuer, opts ...Option) *Session {
	s := &Session{
		store:  st,
		issuer: issuer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generation returns the current generation.
func (s *Session) Generation() uint64 {
	return s.gen.Load()
}

// Live reports whether gen is still the current generation.
func (s *Session) Live(gen uint64) bool {
	return s.gen.Load() == gen
}

// Current returns a copy of the live account, or store.ErrNoAccount.
func (s *Session) Current() (*store.Account, error) {
	a, _, err := s.Snapshot()
	return a, err
}

// Snapshot returns the live account together with the generation it
// belongs to.
func (s *Session) Snapshot() (*store.Account, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gen := s.gen.Load()
	a, err := s.store.Load()
	if err != nil {
		return nil, gen, err
	}
	return a, gen, nil
}

// AccountFor returns the live account when its email is email.
func (s *Session) AccountFor(email string) (*store.Account, uint64, error) {
	a, gen, err := s.Snapshot()
	if err != nil {
		return nil, gen, err
	}
	if a.Email != email {
		return nil, gen, fmt.Errorf("account for %s: %w", email, store.ErrNoAccount)
	}
	return a, gen, nil
}

// Replace persists a as the live account and starts a new generation.
func (s *Session) Replace(a *store.Account) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Save(a); err != nil {
		return s.gen.Load(), fmt.Errorf("save account: %w", err)
	}
	gen := s.gen.Add(1)
	s.logger.Debug("session replaced", "email", a.Email, "generation", gen)
	return gen, nil
}

// Clear removes the live account and starts a new generation.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Clear(); err != nil {
		return fmt.Errorf("clear account: %w", err)
	}
	gen := s.gen.Add(1)
	s.logger.Debug("session cleared", "generation", gen)
	return nil
}

// RefreshToken obtains a new token for email and persists it. staleToken
// is the token the caller saw rejected; if the stored token already
// differs, another caller refreshed it and the stored account is returned
// without contacting the provider. Concurrent refreshes for one email
// share a single provider call.
func (s *Session) RefreshToken(ctx context.Context, email, staleToken string) (*store.Account, error) {
	ch := s.group.DoChan(email, func() (any, error) {
		return s.refresh(context.WithoutCancel(ctx), email, staleToken)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*store.Account).Clone(), nil
	}
}

func (s *Session) refresh(ctx context.Context, email, staleToken string) (*store.Account, error) {
	s.mu.Lock()
	a, err := s.store.Load()
	gen := s.gen.Load()
	s.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if a.Email != email {
		return nil, fmt.Errorf("refresh token for %s: %w", email, store.ErrNoAccount)
	}
	if staleToken != "" && a.Token != staleToken {
		return a, nil
	}

	token, err := s.issuer.GetToken(ctx, a.Email, a.Password)
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen.Load() != gen {
		return nil, ErrSuperseded
	}
	a.Token = token
	if err := s.store.Save(a); err != nil {
		return nil, fmt.Errorf("save refreshed token: %w", err)
	}
	s.logger.Info("refreshed token", "email", email)
	return a, nil
}
