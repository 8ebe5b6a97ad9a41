// Package provision creates disposable Mail.tm accounts, walking provider
// and fallback domains until one accepts a new mailbox.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wesm/tempmail/internal/mailtm"
	"github.com/wesm/tempmail/internal/store"
)

// ErrProvisioningFailed means every candidate domain was exhausted.
var ErrProvisioningFailed = errors.New("provisioning failed")

// DefaultFallbackDomains are tried after the provider's active domains.
var DefaultFallbackDomains = []string{"punkproof.com", "indigobook.com"}

// DefaultAttemptsPerDomain bounds account creation attempts per domain.
const DefaultAttemptsPerDomain = 5

// Gateway is the subset of the provider API used for provisioning.
type Gateway interface {
	ListDomains(ctx context.Context) ([]mailtm.Domain, error)
	CreateAccount(ctx context.Context, address, password string) (*mailtm.AccountInfo, error)
	GetToken(ctx context.Context, address, password string) (string, error)
}

// Provisioner creates accounts.
type Provisioner struct {
	gw          Gateway
	fallback    []string
	attempts    int
	backoff     mailtm.Backoff
	sleep       mailtm.SleepFunc
	clock       mailtm.Clock
	newUsername func(now time.Time) string
	newPassword func() string
	logger      *slog.Logger
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithFallbackDomains replaces the fallback domain list.
func WithFallbackDomains(domains []string) Option {
	return func(p *Provisioner) {
		p.fallback = append([]string(nil), domains...)
	}
}

// WithAttemptsPerDomain sets the per-domain attempt budget.
func WithAttemptsPerDomain(n int) Option {
	return func(p *Provisioner) {
		if n > 0 {
			p.attempts = n
		}
	}
}

// WithBackoff sets the policy used to wait after a rate-limited create.
func WithBackoff(b mailtm.Backoff) Option {
	return func(p *Provisioner) {
		p.backoff = b
	}
}

// WithSleep replaces the wait function.
func WithSleep(sleep mailtm.SleepFunc) Option {
	return func(p *Provisioner) {
		p.sleep = sleep
	}
}

// WithClock sets the clock used for username timestamps and sleeping.
func WithClock(clk mailtm.Clock) Option {
	return func(p *Provisioner) {
		p.clock = clk
	}
}

// WithUsernameFunc replaces the username generator.
func WithUsernameFunc(fn func(now time.Time) string) Option {
	return func(p *Provisioner) {
		p.newUsername = fn
	}
}

// WithPasswordFunc replaces the password generator.
func WithPasswordFunc(fn func() string) Option {
	return func(p *Provisioner) {
		p.newPassword = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provisioner) {
		p.logger = logger
	}
}

// New creates a Provisioner.
func New(gw Gateway, opts ...Option) *Provisioner {
	p := &Provisioner{
		gw:          gw,
		fallback:    DefaultFallbackDomains,
		attempts:    DefaultAttemptsPerDomain,
		backoff:     mailtm.DefaultBackoff(),
		clock:       mailtm.RealClock(),
		newUsername: Username,
		newPassword: Password,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.sleep == nil {
		p.sleep = mailtm.ClockSleep(p.clock)
	}
	return p
}

// Provision creates a new account and obtains its token. Provider
// domains are tried first, then the fallback list; each domain gets its
// own attempt budget.
func (p *Provisioner) Provision(ctx context.Context) (*store.Account, error) {
	domains := p.candidates(ctx)
	if len(domains) == 0 {
		return nil, fmt.Errorf("%w: no candidate domains", ErrProvisioningFailed)
	}

	var lastErr error
	for _, domain := range domains {
		acct, err := p.tryDomain(ctx, domain)
		if err == nil {
			p.logger.Info("provisioned inbox", "email", acct.Email)
			return acct, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		p.logger.Warn("domain failed, trying next", "domain", domain, "error", err)
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %w", ErrProvisioningFailed, lastErr)
}

// candidates returns provider domains followed by fallbacks, without
// duplicates. A failed listing is logged and skipped.
func (p *Provisioner) candidates(ctx context.Context) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(d string) {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" || seen[d] {
			return
		}
		seen[d] = true
		out = append(out, d)
	}

	domains, err := p.gw.ListDomains(ctx)
	if err != nil {
		p.logger.Warn("listing domains failed, using fallbacks", "error", err)
	}
	for _, d := range domains {
		add(d.Domain)
	}
	for _, d := range p.fallback {
		add(d)
	}
	return out
}

func (p *Provisioner) tryDomain(ctx context.Context, domain string) (*store.Account, error) {
	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		username := p.newUsername(p.clock.Now())
		password := p.newPassword()
		address := username + "@" + domain

		info, err := p.gw.CreateAccount(ctx, address, password)
		switch {
		case err == nil:
			token, err := p.gw.GetToken(ctx, info.Address, password)
			if err != nil {
				// The provider account is left orphaned.
				return nil, fmt.Errorf("token for new account %s: %w", info.Address, err)
			}
			return &store.Account{
				ID:       info.ID,
				Email:    info.Address,
				Username: username,
				Password: password,
				Token:    token,
				Provider: mailtm.ProviderName,
			}, nil

		case errors.Is(err, mailtm.ErrUsernameConflict):
			p.logger.Debug("username conflict, regenerating", "address", address, "attempt", attempt)
			lastErr = err

		case errors.Is(err, mailtm.ErrRateLimited):
			lastErr = err
			if attempt == p.attempts {
				break
			}
			delay := p.backoff.Delay(attempt)
			p.logger.Debug("rate limited creating account", "domain", domain, "attempt", attempt, "delay", delay)
			if err := p.sleep(ctx, delay); err != nil {
				return nil, err
			}

		default:
			return nil, err
		}
	}
	return nil, fmt.Errorf("domain %s: %d attempts exhausted: %w", domain, p.attempts, lastErr)
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// Username returns 6 random base36 characters, the last 4 base36 digits
// of now in milliseconds, and 4 random hex characters.
func Username(now time.Time) string {
	id := uuid.New()
	var b strings.Builder
	for i := 0; i < 6; i++ {
		b.WriteByte(base36[int(id[i])%len(base36)])
	}

	ts := strconv.FormatInt(now.UnixMilli(), 36)
	if len(ts) > 4 {
		ts = ts[len(ts)-4:]
	}
	b.WriteString(ts)

	b.WriteString(strings.ReplaceAll(uuid.NewString(), "-", "")[:4])
	return b.String()
}

// Password returns a random password that satisfies the provider's
// complexity rules.
func Password() string {
	return "Password" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12] + "!23"
}
