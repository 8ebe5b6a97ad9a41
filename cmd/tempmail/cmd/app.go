package cmd

import (
	"errors"
	"fmt"

	"github.com/wesm/tempmail/internal/config"
	"github.com/wesm/tempmail/internal/inbox"
	"github.com/wesm/tempmail/internal/mailtm"
	"github.com/wesm/tempmail/internal/provision"
	"github.com/wesm/tempmail/internal/session"
	"github.com/wesm/tempmail/internal/store"
	syncpkg "github.com/wesm/tempmail/internal/sync"
)

// app holds the components every command shares.
type app struct {
	client *mailtm.Client
	store  store.AccountStore
	sess   *session.Session
	inbox  *inbox.Service
}

// providerBackoff builds the retry policy from config.
func providerBackoff(c *config.Config) mailtm.Backoff {
	return mailtm.Backoff{
		Base:        c.Provider.BackoffBase,
		Jitter:      c.Provider.Jitter,
		Cap:         c.Provider.BackoffCap,
		MaxAttempts: c.Provider.MaxAttempts,
	}
}

// newClient returns a Mail.tm client configured from cfg.
func newClient(c *config.Config) *mailtm.Client {
	return mailtm.NewClient(
		mailtm.WithBaseURL(c.Provider.BaseURL),
		mailtm.WithTimeout(c.Provider.Timeout),
		mailtm.WithThrottle(mailtm.NewThrottle(c.Provider.MinInterval)),
		mailtm.WithBackoff(providerBackoff(c)),
		mailtm.WithLogger(logger.With("component", "mailtm")),
	)
}

// openApp wires the client, account store, session and inbox service.
func openApp(c *config.Config) (*app, error) {
	client := newClient(c)

	st, err := store.Open(c.StoreOptions())
	if err != nil {
		return nil, fmt.Errorf("open account store: %w", err)
	}

	sess := session.New(st, client, session.WithLogger(logger))
	prov := provision.New(client,
		provision.WithFallbackDomains(c.Provision.FallbackDomains),
		provision.WithAttemptsPerDomain(c.Provision.AttemptsPerDomain),
		provision.WithBackoff(providerBackoff(c)),
		provision.WithLogger(logger.With("component", "provision")),
	)
	opts := []inbox.Option{
		inbox.WithLogger(logger),
		inbox.WithSanitizeHTML(c.Inbox.SanitizeHTML),
		inbox.WithSyncOptions(&syncpkg.Options{
			ManualInterval: c.Inbox.ManualInterval,
			Clock:          mailtm.RealClock(),
		}),
	}
	// The memory backend forgets the account on exit, so there is nothing
	// to resume.
	if c.Storage.Backend != store.BackendMemory {
		opts = append(opts, inbox.WithCheckpointCache(syncpkg.NewFileCache(c.CachePath())))
	}
	svc := inbox.New(client, sess, prov, opts...)

	return &app{client: client, store: st, sess: sess, inbox: svc}, nil
}

// Close releases the account store.
func (a *app) Close() error {
	return a.store.Close()
}

// currentAccount returns the live account or a hint to create one.
func (a *app) currentAccount() (*store.Account, error) {
	acct, err := a.inbox.Account()
	if errors.Is(err, store.ErrNoAccount) {
		return nil, errors.New("no inbox yet, run 'tempmail new' to create one")
	}
	return acct, err
}
