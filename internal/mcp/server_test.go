package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/wesm/tempmail/internal/inbox"
	"github.com/wesm/tempmail/internal/mailtm"
	"github.com/wesm/tempmail/internal/provision"
	"github.com/wesm/tempmail/internal/session"
	"github.com/wesm/tempmail/internal/store"
	syncpkg "github.com/wesm/tempmail/internal/sync"
	"github.com/wesm/tempmail/internal/testutil"
)

// toolHandler is the function signature for MCP tool handler methods.
type toolHandler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

// callToolDirect invokes a handler directly with the given arguments and returns the raw result.
func callToolDirect(t *testing.T, name string, fn toolHandler, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	result, err := fn(context.Background(), req)
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	return result
}

func resultText(t *testing.T, r *mcp.CallToolResult) string {
	t.Helper()
	if len(r.Content) == 0 {
		t.Fatal("empty content")
	}
	tc, ok := r.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", r.Content[0])
	}
	return tc.Text
}

// runTool invokes a handler, asserts no error, and unmarshals the JSON result into T.
func runTool[T any](t *testing.T, name string, fn toolHandler, args map[string]any) T {
	t.Helper()
	r := callToolDirect(t, name, fn, args)
	if r.IsError {
		t.Fatalf("unexpected error: %s", resultText(t, r))
	}
	var out T
	if err := json.Unmarshal([]byte(resultText(t, r)), &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	return out
}

// runToolExpectError invokes a handler and asserts it returns an error result.
func runToolExpectError(t *testing.T, name string, fn toolHandler, args map[string]any) string {
	t.Helper()
	r := callToolDirect(t, name, fn, args)
	if !r.IsError {
		t.Fatalf("expected error result, got %s", resultText(t, r))
	}
	return resultText(t, r)
}

type toolEnv struct {
	Mock *mailtm.MockAPI
	Svc  *inbox.Service
	H    *handlers
}

func newToolEnv(t *testing.T) *toolEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mock := mailtm.NewMockAPI()
	clk := testutil.NewFakeClock()
	n := 0
	prov := provision.New(mock,
		provision.WithFallbackDomains(nil),
		provision.WithClock(clk),
		provision.WithUsernameFunc(func(time.Time) string {
			n++
			return fmt.Sprintf("bot%d", n)
		}),
		provision.WithLogger(logger),
	)
	sess := session.New(store.NewMemory(), mock, session.WithLogger(logger))
	svc := inbox.New(mock, sess, prov,
		inbox.WithSyncOptions(&syncpkg.Options{Clock: clk}),
		inbox.WithLogger(logger),
	)
	return &toolEnv{Mock: mock, Svc: svc, H: &handlers{svc: svc}}
}

func (e *toolEnv) newInbox(t *testing.T) accountResult {
	t.Helper()
	return runTool[accountResult](t, ToolNewInbox, e.H.newInbox, nil)
}

func TestNewInbox(t *testing.T) {
	env := newToolEnv(t)

	acct := env.newInbox(t)
	if acct.Email != "bot1@example.test" || acct.Password == "" || acct.Provider != mailtm.ProviderName {
		t.Errorf("account = %+v", acct)
	}

	t.Run("provisioning failure", func(t *testing.T) {
		env.Mock.CreateAccountErr = func(string) error { return mailtm.ErrUsernameConflict }
		msg := runToolExpectError(t, ToolNewInbox, env.H.newInbox, nil)
		if !strings.Contains(msg, "create inbox failed") {
			t.Errorf("error = %q", msg)
		}
	})
}

func TestToolsRequireInbox(t *testing.T) {
	env := newToolEnv(t)

	tests := []struct {
		name string
		fn   toolHandler
		args map[string]any
	}{
		{ToolGetInbox, env.H.getInbox, nil},
		{ToolReadMessage, env.H.readMessage, map[string]any{"id": "m1"}},
		{ToolDeleteMessage, env.H.deleteMessage, map[string]any{"id": "m1"}},
		{ToolRefreshInbox, env.H.refreshInbox, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := runToolExpectError(t, tt.name, tt.fn, tt.args)
			if !strings.Contains(msg, "new_inbox") {
				t.Errorf("error = %q, want a hint to call new_inbox", msg)
			}
		})
	}
}

func TestGetInbox(t *testing.T) {
	env := newToolEnv(t)
	env.newInbox(t)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= 3; i++ {
		env.Mock.AddMessage(mailtm.Message{
			ID:      fmt.Sprintf("m%d", i),
			Subject: fmt.Sprintf("Message %d", i),
			Text:    "body",
			Date:    base.Add(time.Duration(i) * time.Hour),
			Read:    i == 1,
		})
	}

	t.Run("all", func(t *testing.T) {
		res := runTool[inboxResult](t, ToolGetInbox, env.H.getInbox, nil)
		if res.Total != 3 || res.Unread != 2 || len(res.Messages) != 3 {
			t.Fatalf("result = %+v", res)
		}
		if res.Messages[0].ID != "m3" {
			t.Errorf("first message = %s, want newest m3", res.Messages[0].ID)
		}
	})

	t.Run("limit", func(t *testing.T) {
		res := runTool[inboxResult](t, ToolGetInbox, env.H.getInbox, map[string]any{"limit": float64(1)})
		if res.Total != 3 || len(res.Messages) != 1 {
			t.Errorf("result = %+v, want 1 of 3", res)
		}
	})

	t.Run("unknown email", func(t *testing.T) {
		calls := env.Mock.ListMessagesCalls
		res := runTool[inboxResult](t, ToolGetInbox, env.H.getInbox, map[string]any{"email": "other@example.test"})
		if res.Email != "other@example.test" || res.Total != 0 || res.Messages == nil {
			t.Errorf("result = %+v, want empty inbox", res)
		}
		if env.Mock.ListMessagesCalls != calls {
			t.Error("provider contacted for an unknown email")
		}
	})
}

func TestReadMessage(t *testing.T) {
	env := newToolEnv(t)
	env.newInbox(t)
	env.Mock.AddMessage(mailtm.Message{ID: "m1", Subject: "Hi", HTML: `<p>Hello <b>there</b></p><script>alert(1)</script>`})

	t.Run("text from html", func(t *testing.T) {
		msg := runTool[messageResult](t, ToolReadMessage, env.H.readMessage, map[string]any{"id": "m1"})
		if msg.Format != "text" || msg.Body != "Hello there" {
			t.Errorf("message = %+v, want plain text body", msg)
		}
	})

	t.Run("html sanitized", func(t *testing.T) {
		msg := runTool[messageResult](t, ToolReadMessage, env.H.readMessage, map[string]any{"id": "m1", "format": "html"})
		if !strings.Contains(msg.Body, "<b>there</b>") || strings.Contains(msg.Body, "script") {
			t.Errorf("html body = %q", msg.Body)
		}
	})

	t.Run("invalid format", func(t *testing.T) {
		runToolExpectError(t, ToolReadMessage, env.H.readMessage, map[string]any{"id": "m1", "format": "pdf"})
	})

	t.Run("missing id", func(t *testing.T) {
		runToolExpectError(t, ToolReadMessage, env.H.readMessage, map[string]any{})
	})

	t.Run("not found", func(t *testing.T) {
		msg := runToolExpectError(t, ToolReadMessage, env.H.readMessage, map[string]any{"id": "nope"})
		if !strings.Contains(msg, "not found") {
			t.Errorf("error = %q", msg)
		}
	})
}

func TestDeleteMessage(t *testing.T) {
	env := newToolEnv(t)
	env.newInbox(t)
	env.Mock.AddMessage(mailtm.Message{ID: "m1", Text: "x"})

	for i := 0; i < 2; i++ {
		res := runTool[map[string]string](t, ToolDeleteMessage, env.H.deleteMessage, map[string]any{"id": "m1"})
		if res["deleted"] != "m1" {
			t.Errorf("delete #%d result = %v", i+1, res)
		}
	}
	if ids := env.Mock.MessageIDs(); len(ids) != 0 {
		t.Errorf("messages left = %v", ids)
	}

	runToolExpectError(t, ToolDeleteMessage, env.H.deleteMessage, map[string]any{})
}

func TestRefreshInbox(t *testing.T) {
	env := newToolEnv(t)
	env.newInbox(t)
	env.Mock.AddMessage(mailtm.Message{ID: "m1", Text: "x"})

	res := runTool[inboxResult](t, ToolRefreshInbox, env.H.refreshInbox, nil)
	if res.Total != 1 {
		t.Errorf("first refresh = %+v", res)
	}

	msg := runToolExpectError(t, ToolRefreshInbox, env.H.refreshInbox, nil)
	if !strings.Contains(msg, "try again in 5s") {
		t.Errorf("throttled error = %q", msg)
	}
	if env.Mock.ListMessagesCalls != 1 {
		t.Errorf("ListMessages calls = %d, want 1", env.Mock.ListMessagesCalls)
	}
}

func TestLimitArg(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want int
	}{
		{"missing", map[string]any{}, defaultLimit},
		{"wrong type", map[string]any{"limit": "5"}, defaultLimit},
		{"normal", map[string]any{"limit": float64(5)}, 5},
		{"negative", map[string]any{"limit": float64(-1)}, 0},
		{"nan", map[string]any{"limit": math.NaN()}, 0},
		{"too large", map[string]any{"limit": float64(1e9)}, maxLimit},
		{"inf", map[string]any{"limit": math.Inf(1)}, maxLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := limitArg(tt.args, "limit", defaultLimit); got != tt.want {
				t.Errorf("limitArg() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNewServerRegistersTools(t *testing.T) {
	env := newToolEnv(t)
	s := NewServer(env.Svc, "test")

	tools := s.ListTools()
	for _, name := range []string{ToolNewInbox, ToolGetInbox, ToolReadMessage, ToolDeleteMessage, ToolRefreshInbox} {
		if _, ok := tools[name]; !ok {
			t.Errorf("tool %s not registered", name)
		}
	}
	if len(tools) != 5 {
		t.Errorf("registered %d tools, want 5", len(tools))
	}
}
