package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/wesm/tempmail/internal/inbox"
	"github.com/wesm/tempmail/internal/store"
	syncpkg "github.com/wesm/tempmail/internal/sync"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
)

type handlers struct {
	svc InboxService
}

// accountResult is the new_inbox response; the bearer token is omitted.
type accountResult struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Provider string `json:"provider"`
}

// messageSummary is one entry in a get_inbox response.
type messageSummary struct {
	ID      string    `json:"id"`
	From    string    `json:"from"`
	Subject string    `json:"subject"`
	Intro   string    `json:"intro,omitempty"`
	Date    time.Time `json:"date"`
	Read    bool      `json:"read"`
}

type inboxResult struct {
	Email     string           `json:"email"`
	Total     int              `json:"total"`
	Unread    int              `json:"unread"`
	FetchedAt time.Time        `json:"fetched_at"`
	Messages  []messageSummary `json:"messages"`
}

type messageResult struct {
	ID      string    `json:"id"`
	From    string    `json:"from"`
	To      string    `json:"to,omitempty"`
	Subject string    `json:"subject"`
	Date    time.Time `json:"date"`
	Format  string    `json:"format"`
	Body    string    `json:"body"`
}

// emailArg returns the email argument, or the current inbox address.
func (h *handlers) emailArg(args map[string]any) (string, error) {
	if v, _ := args["email"].(string); v != "" {
		return v, nil
	}
	acct, err := h.svc.Account()
	if err != nil {
		if errors.Is(err, store.ErrNoAccount) {
			return "", errors.New("no inbox yet: call new_inbox first")
		}
		return "", err
	}
	return acct.Email, nil
}

func (h *handlers) newInbox(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	acct, err := h.svc.ProvisionNewInbox(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("create inbox failed: %v", err)), nil
	}
	return jsonResult(accountResult{Email: acct.Email, Password: acct.Password, Provider: acct.Provider})
}

func (h *handlers) getInbox(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	email, err := h.emailArg(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(summarize(h.svc.InboxSnapshot(ctx, email), limitArg(args, "limit", defaultLimit)))
}

func (h *handlers) readMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	id, _ := args["id"].(string)
	if id == "" {
		return mcp.NewToolResultError("id parameter is required"), nil
	}
	format, _ := args["format"].(string)
	if format == "" {
		format = "text"
	}
	if format != "text" && format != "html" {
		return mcp.NewToolResultError(fmt.Sprintf("invalid format %q: expected text or html", format)), nil
	}
	email, err := h.emailArg(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	msg, err := h.svc.ReadMessage(ctx, email, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read message failed: %v", err)), nil
	}

	body := msg.HTML
	if format == "text" {
		body = msg.Text
		if body == "" {
			body = inbox.PlainText(msg.HTML)
		}
	}
	return jsonResult(messageResult{
		ID:      msg.ID,
		From:    msg.From,
		To:      msg.To,
		Subject: msg.Subject,
		Date:    msg.Date,
		Format:  format,
		Body:    body,
	})
}

func (h *handlers) deleteMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	id, _ := args["id"].(string)
	if id == "" {
		return mcp.NewToolResultError("id parameter is required"), nil
	}
	email, err := h.emailArg(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := h.svc.DeleteMessage(ctx, email, id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("delete message failed: %v", err)), nil
	}
	return jsonResult(map[string]any{"deleted": id})
}

func (h *handlers) refreshInbox(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	email, err := h.emailArg(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	snap, err := h.svc.ManualRefresh(ctx, email)
	if err != nil {
		var throttled *syncpkg.ThrottledError
		if errors.As(err, &throttled) {
			return mcp.NewToolResultError(fmt.Sprintf("refreshed too recently, try again in %s", throttled.RetryAfter.Round(time.Second))), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("refresh failed: %v", err)), nil
	}
	return jsonResult(summarize(snap, defaultLimit))
}

func summarize(snap *syncpkg.Snapshot, limit int) inboxResult {
	out := inboxResult{
		Email:     snap.Email,
		Total:     len(snap.Messages),
		Unread:    snap.Unread(),
		FetchedAt: snap.FetchedAt,
		Messages:  []messageSummary{},
	}
	for i, m := range snap.Messages {
		if i >= limit {
			break
		}
		out.Messages = append(out.Messages, messageSummary{
			ID:      m.ID,
			From:    m.From,
			Subject: m.Subject,
			Intro:   m.Intro,
			Date:    m.Date,
			Read:    m.Read,
		})
	}
	return out
}

func limitArg(args map[string]any, key string, def int) int {
	v, ok := args[key].(float64)
	if !ok {
		return def
	}
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if math.IsInf(v, 1) || v > float64(maxLimit) {
		return maxLimit
	}
	return int(v)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal error: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
