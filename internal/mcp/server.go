// Package mcp exposes the inbox over the Model Context Protocol (stdio).
package mcp

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wesm/tempmail/internal/mailtm"
	"github.com/wesm/tempmail/internal/store"
	syncpkg "github.com/wesm/tempmail/internal/sync"
)

// Tool name constants.
const (
	ToolNewInbox      = "new_inbox"
	ToolGetInbox      = "get_inbox"
	ToolReadMessage   = "read_message"
	ToolDeleteMessage = "delete_message"
	ToolRefreshInbox  = "refresh_inbox"
)

// InboxService defines the inbox operations the tools need.
type InboxService interface {
	ProvisionNewInbox(ctx context.Context) (*store.Account, error)
	Account() (*store.Account, error)
	InboxSnapshot(ctx context.Context, email string) *syncpkg.Snapshot
	ManualRefresh(ctx context.Context, email string) (*syncpkg.Snapshot, error)
	ReadMessage(ctx context.Context, email, id string) (*mailtm.Message, error)
	DeleteMessage(ctx context.Context, email, id string) error
}

func withEmail() mcp.ToolOption {
	return mcp.WithString("email",
		mcp.Description("Inbox address (default: the current inbox)"),
	)
}

func withMessageID() mcp.ToolOption {
	return mcp.WithString("id",
		mcp.Required(),
		mcp.Description("Message ID (from get_inbox)"),
	)
}

// NewServer builds the MCP server with the inbox tools registered.
func NewServer(svc InboxService, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"tempmail",
		version,
		server.WithToolCapabilities(false),
	)

	h := &handlers{svc: svc}

	s.AddTool(newInboxTool(), h.newInbox)
	s.AddTool(getInboxTool(), h.getInbox)
	s.AddTool(readMessageTool(), h.readMessage)
	s.AddTool(deleteMessageTool(), h.deleteMessage)
	s.AddTool(refreshInboxTool(), h.refreshInbox)
	return s
}

// Serve serves the inbox tools over stdio. It blocks until stdin is
// closed or the context is cancelled.
func Serve(ctx context.Context, svc InboxService, version string) error {
	stdio := server.NewStdioServer(NewServer(svc, version))
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

func newInboxTool() mcp.Tool {
	return mcp.NewTool(ToolNewInbox,
		mcp.WithDescription("Create a new disposable inbox. Replaces the current inbox; returns the address and password."),
		mcp.WithDestructiveHintAnnotation(true),
	)
}

func getInboxTool() mcp.Tool {
	return mcp.NewTool(ToolGetInbox,
		mcp.WithDescription("Sync and list messages in the inbox, newest first. Returns an empty list for an unknown address."),
		mcp.WithReadOnlyHintAnnotation(true),
		withEmail(),
		mcp.WithNumber("limit",
			mcp.Description("Maximum messages to return (default 50)"),
		),
	)
}

func readMessageTool() mcp.Tool {
	return mcp.NewTool(ToolReadMessage,
		mcp.WithDescription("Get a full message by ID and mark it read."),
		withMessageID(),
		withEmail(),
		mcp.WithString("format",
			mcp.Description("Body format: text (default) or html"),
			mcp.Enum("text", "html"),
		),
	)
}

func deleteMessageTool() mcp.Tool {
	return mcp.NewTool(ToolDeleteMessage,
		mcp.WithDescription("Delete a message by ID. Deleting a message that is already gone succeeds."),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		withMessageID(),
		withEmail(),
	)
}

func refreshInboxTool() mcp.Tool {
	return mcp.NewTool(ToolRefreshInbox,
		mcp.WithDescription("Force a sync of the inbox. Refused when the previous sync was only a few seconds ago."),
		withEmail(),
	)
}
