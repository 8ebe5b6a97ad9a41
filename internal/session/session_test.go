package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wesm/tempmail/internal/store"
	"github.com/wesm/tempmail/internal/testutil"
)

// fakeIssuer returns tokens "t1", "t2", ... and can block until released.
type fakeIssuer struct {
	calls   atomic.Int32
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeIssuer) GetToken(ctx context.Context, address, password string) (string, error) {
	n := f.calls.Add(1)
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return "", f.err
	}
	return "t" + string(rune('0'+n)), nil
}

func newTestSession(t *testing.T, issuer TokenIssuer) *Session {
	t.Helper()
	s := New(store.NewMemory(), issuer)
	_, err := s.Replace(&store.Account{Email: "a@example.test", Password: "pw", Token: "t0"})
	testutil.MustNoErr(t, err, "Replace")
	return s
}

func TestSession_ReplaceBumpsGeneration(t *testing.T) {
	s := New(store.NewMemory(), &fakeIssuer{})
	if _, err := s.Current(); !errors.Is(err, store.ErrNoAccount) {
		t.Fatalf("Current() on new session error = %v, want ErrNoAccount", err)
	}

	g0 := s.Generation()
	g1, err := s.Replace(&store.Account{Email: "a@example.test"})
	testutil.MustNoErr(t, err, "Replace")
	if g1 == g0 || !s.Live(g1) || s.Live(g0) {
		t.Errorf("generation after Replace: g0=%d g1=%d current=%d", g0, g1, s.Generation())
	}

	testutil.MustNoErr(t, s.Clear(), "Clear")
	if s.Live(g1) {
		t.Error("Clear should end generation g1")
	}
	_, err = s.Current()
	testutil.AssertErrorIs(t, err, store.ErrNoAccount)
}

func TestSession_AccountFor(t *testing.T) {
	s := newTestSession(t, &fakeIssuer{})

	a, gen, err := s.AccountFor("a@example.test")
	testutil.MustNoErr(t, err, "AccountFor")
	if a.Email != "a@example.test" || !s.Live(gen) {
		t.Errorf("AccountFor() = %+v gen %d", a, gen)
	}

	_, _, err = s.AccountFor("other@example.test")
	testutil.AssertErrorIs(t, err, store.ErrNoAccount)
}

func TestSession_RefreshToken(t *testing.T) {
	issuer := &fakeIssuer{}
	s := newTestSession(t, issuer)

	a, err := s.RefreshToken(context.Background(), "a@example.test", "t0")
	testutil.MustNoErr(t, err, "RefreshToken")
	if a.Token != "t1" {
		t.Errorf("Token = %q, want t1", a.Token)
	}

	stored, err := s.Current()
	testutil.MustNoErr(t, err, "Current")
	if stored.Token != "t1" {
		t.Errorf("stored Token = %q, want t1", stored.Token)
	}
}

func TestSession_RefreshToken_AlreadyRefreshed(t *testing.T) {
	issuer := &fakeIssuer{}
	s := newTestSession(t, issuer)

	_, err := s.RefreshToken(context.Background(), "a@example.test", "t0")
	testutil.MustNoErr(t, err, "first RefreshToken")

	// A second caller that also saw t0 rejected must not refresh again.
	a, err := s.RefreshToken(context.Background(), "a@example.test", "t0")
	testutil.MustNoErr(t, err, "second RefreshToken")
	if a.Token != "t1" {
		t.Errorf("Token = %q, want t1", a.Token)
	}
	if n := issuer.calls.Load(); n != 1 {
		t.Errorf("issuer calls = %d, want 1", n)
	}
}

func TestSession_RefreshToken_Concurrent(t *testing.T) {
	issuer := &fakeIssuer{started: make(chan struct{}, 1), release: make(chan struct{})}
	s := newTestSession(t, issuer)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.RefreshToken(context.Background(), "a@example.test", "t0")
			errs <- err
		}()
	}

	select {
	case <-issuer.started:
	case <-time.After(2 * time.Second):
		t.Fatal("issuer never called")
	}
	close(issuer.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("RefreshToken() error = %v", err)
		}
	}
	if n := issuer.calls.Load(); n != 1 {
		t.Errorf("issuer calls = %d, want 1", n)
	}
}

func TestSession_RefreshToken_Superseded(t *testing.T) {
	issuer := &fakeIssuer{started: make(chan struct{}, 1), release: make(chan struct{})}
	s := newTestSession(t, issuer)

	done := make(chan error, 1)
	go func() {
		_, err := s.RefreshToken(context.Background(), "a@example.test", "t0")
		done <- err
	}()
	<-issuer.started

	_, err := s.Replace(&store.Account{Email: "b@example.test", Token: "b0"})
	testutil.MustNoErr(t, err, "Replace")
	close(issuer.release)

	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Errorf("RefreshToken() error = %v, want ErrSuperseded", err)
	}
	a, err := s.Current()
	testutil.MustNoErr(t, err, "Current")
	if a.Email != "b@example.test" || a.Token != "b0" {
		t.Errorf("Current() = %+v, want untouched new account", a)
	}
}

func TestSession_RefreshToken_Errors(t *testing.T) {
	failing := errors.New("auth failed")
	s := newTestSession(t, &fakeIssuer{err: failing})

	if _, err := s.RefreshToken(context.Background(), "a@example.test", "t0"); !errors.Is(err, failing) {
		t.Errorf("RefreshToken() error = %v, want %v", err, failing)
	}
	_, err := s.RefreshToken(context.Background(), "other@example.test", "")
	testutil.AssertErrorIs(t, err, store.ErrNoAccount)
}
