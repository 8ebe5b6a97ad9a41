package provision

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/wesm/tempmail/internal/mailtm"
	"github.com/wesm/tempmail/internal/testutil"
)

type provisionFixture struct {
	api    *mailtm.MockAPI
	sleeps []time.Duration
	n      int
}

func newProvisionFixture(domains ...string) *provisionFixture {
	api := mailtm.NewMockAPI()
	api.Domains = nil
	for i, d := range domains {
		api.Domains = append(api.Domains, mailtm.Domain{ID: fmt.Sprint(i), Domain: d, IsActive: true})
	}
	return &provisionFixture{api: api}
}

func (f *provisionFixture) provisioner(opts ...Option) *Provisioner {
	base := []Option{
		WithFallbackDomains(nil),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			f.sleeps = append(f.sleeps, d)
			return ctx.Err()
		}),
		WithUsernameFunc(func(time.Time) string {
			f.n++
			return fmt.Sprintf("user%d", f.n)
		}),
		WithPasswordFunc(func() string { return "pw" }),
	}
	return New(f.api, append(base, opts...)...)
}

func TestProvision_Success(t *testing.T) {
	f := newProvisionFixture("d1.test")

	acct, err := f.provisioner().Provision(context.Background())
	testutil.MustNoErr(t, err, "Provision")

	if acct.Email != "user1@d1.test" || acct.Username != "user1" || acct.Password != "pw" {
		t.Errorf("account = %+v", acct)
	}
	if acct.Token == "" || acct.ID == "" || acct.Provider != mailtm.ProviderName {
		t.Errorf("account missing token/id/provider: %+v", acct)
	}
}

func TestProvision_ConflictOnFirstDomainMovesOn(t *testing.T) {
	f := newProvisionFixture("d1.test", "d2.test")
	f.api.CreateAccountErr = func(address string) error {
		if strings.HasSuffix(address, "@d1.test") {
			return mailtm.ErrUsernameConflict
		}
		return nil
	}

	acct, err := f.provisioner().Provision(context.Background())
	testutil.MustNoErr(t, err, "Provision")

	if !strings.HasSuffix(acct.Email, "@d2.test") {
		t.Errorf("Email = %q, want @d2.test", acct.Email)
	}
	var d1, d2 int
	for _, a := range f.api.CreateAccountCalls {
		switch {
		case strings.HasSuffix(a, "@d1.test"):
			d1++
		case strings.HasSuffix(a, "@d2.test"):
			d2++
		}
	}
	if d1 != DefaultAttemptsPerDomain || d2 != 1 {
		t.Errorf("create attempts d1=%d d2=%d, want %d and 1", d1, d2, DefaultAttemptsPerDomain)
	}
}

func TestProvision_ConflictRegeneratesUsername(t *testing.T) {
	f := newProvisionFixture("d1.test")
	f.api.Accounts["user1@d1.test"] = "taken"

	acct, err := f.provisioner().Provision(context.Background())
	testutil.MustNoErr(t, err, "Provision")
	if acct.Email != "user2@d1.test" {
		t.Errorf("Email = %q, want user2@d1.test", acct.Email)
	}
}

func TestProvision_RateLimitedBacksOff(t *testing.T) {
	f := newProvisionFixture("d1.test")
	calls := 0
	f.api.CreateAccountErr = func(string) error {
		calls++
		if calls <= 2 {
			return mailtm.ErrRateLimited
		}
		return nil
	}

	b := mailtm.DefaultBackoff()
	b.Rand = func() float64 { return 0 }
	_, err := f.provisioner(WithBackoff(b)).Provision(context.Background())
	testutil.MustNoErr(t, err, "Provision")

	if len(f.sleeps) != 2 || f.sleeps[0] != 2*time.Second || f.sleeps[1] != 4*time.Second {
		t.Errorf("sleeps = %v, want [2s 4s]", f.sleeps)
	}
}

func TestProvision_ListingFailureUsesFallbacks(t *testing.T) {
	f := newProvisionFixture()
	f.api.DomainsError = errors.New("network down")

	acct, err := f.provisioner(WithFallbackDomains([]string{"punkproof.com"})).Provision(context.Background())
	testutil.MustNoErr(t, err, "Provision")
	if acct.Email != "user1@punkproof.com" {
		t.Errorf("Email = %q, want fallback domain", acct.Email)
	}
}

func TestProvision_TokenFailureTriesNextDomain(t *testing.T) {
	f := newProvisionFixture("d1.test", "d2.test")
	tokenErr := fmt.Errorf("get token: %w", mailtm.ErrAuthFailed)
	f.api.TokenError = tokenErr

	_, err := f.provisioner().Provision(context.Background())
	if !errors.Is(err, ErrProvisioningFailed) || !errors.Is(err, mailtm.ErrAuthFailed) {
		t.Fatalf("Provision() error = %v, want ErrProvisioningFailed wrapping ErrAuthFailed", err)
	}
	if n := len(f.api.CreateAccountCalls); n != 2 {
		t.Errorf("create calls = %d, want one per domain", n)
	}
}

func TestProvision_AllDomainsExhausted(t *testing.T) {
	f := newProvisionFixture("d1.test")
	f.api.CreateAccountErr = func(string) error { return mailtm.ErrUsernameConflict }

	_, err := f.provisioner(WithFallbackDomains([]string{"D1.test", "f.test"})).Provision(context.Background())
	if !errors.Is(err, ErrProvisioningFailed) || !errors.Is(err, mailtm.ErrUsernameConflict) {
		t.Fatalf("Provision() error = %v", err)
	}
	// d1.test is listed twice but only tried once.
	if n := len(f.api.CreateAccountCalls); n != 2*DefaultAttemptsPerDomain {
		t.Errorf("create calls = %d, want %d", n, 2*DefaultAttemptsPerDomain)
	}
}

func TestProvision_NoCandidates(t *testing.T) {
	f := newProvisionFixture()
	_, err := f.provisioner().Provision(context.Background())
	if !errors.Is(err, ErrProvisioningFailed) {
		t.Errorf("Provision() error = %v, want ErrProvisioningFailed", err)
	}
}

func TestProvision_ContextCancelled(t *testing.T) {
	f := newProvisionFixture("d1.test", "d2.test")
	ctx, cancel := context.WithCancel(context.Background())
	f.api.CreateAccountErr = func(string) error {
		cancel()
		return context.Canceled
	}

	_, err := f.provisioner().Provision(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Provision() error = %v, want context.Canceled", err)
	}
	if n := len(f.api.CreateAccountCalls); n != 1 {
		t.Errorf("create calls = %d, want 1", n)
	}
}

func TestUsername(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	u := Username(now)
	if len(u) != 14 {
		t.Fatalf("Username() = %q, want 14 chars", u)
	}
	for _, r := range u {
		if !strings.ContainsRune(base36, r) {
			t.Errorf("Username() = %q contains %q", u, r)
		}
	}
	ts := strconv.FormatInt(now.UnixMilli(), 36)
	if got := u[6:10]; got != ts[len(ts)-4:] {
		t.Errorf("timestamp part = %q, want %q", got, ts[len(ts)-4:])
	}
	if Username(now) == u {
		t.Error("two usernames should differ")
	}
}

func TestPassword(t *testing.T) {
	p := Password()
	if !strings.HasPrefix(p, "Password") || !strings.HasSuffix(p, "!23") || len(p) != 23 {
		t.Errorf("Password() = %q", p)
	}
}
