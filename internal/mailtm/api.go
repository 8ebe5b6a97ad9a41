// Package mailtm provides a Mail.tm API client with throttling and retry logic.
package mailtm

import (
	"context"
	"time"
)

// DomainLister discovers the domains new accounts can be created under.
type DomainLister interface {
	// ListDomains returns the active domains offered by the provider.
	// Fails with ErrNoDomainsAvailable if none are active.
	ListDomains(ctx context.Context) ([]Domain, error)
}

// Registrar creates accounts and issues bearer tokens for them.
type Registrar interface {
	// CreateAccount registers address with password.
	CreateAccount(ctx context.Context, address, password string) (*AccountInfo, error)

	// GetToken exchanges credentials for a bearer token.
	GetToken(ctx context.Context, address, password string) (string, error)

	// Me returns the account the token belongs to.
	Me(ctx context.Context, token string) (*AccountInfo, error)
}

// MessageReader provides read access to an inbox.
type MessageReader interface {
	// ListMessages returns normalized messages in provider order.
	ListMessages(ctx context.Context, token string) ([]Message, error)

	// GetMessage returns a single message in full and marks it read.
	GetMessage(ctx context.Context, token, id string) (*Message, error)

	// MarkRead flags a message as seen.
	MarkRead(ctx context.Context, token, id string) error
}

// MessageDeleter removes messages. Deleting a message that no longer
// exists succeeds.
type MessageDeleter interface {
	DeleteMessage(ctx context.Context, token, id string) error
}

// API defines the interface for Mail.tm operations.
// This interface enables mocking for tests without hitting the real API.
type API interface {
	DomainLister
	Registrar
	MessageReader
	MessageDeleter
}

// ProviderName identifies Mail.tm in persisted accounts and snapshots.
const ProviderName = "mail.tm"

// Domain is a mail domain offered by the provider.
type Domain struct {
	ID        string `json:"id"`
	Domain    string `json:"domain"`
	IsActive  bool   `json:"isActive"`
	IsPrivate bool   `json:"isPrivate"`
}

// AccountInfo is the provider's view of a created account.
type AccountInfo struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Quota   int64  `json:"quota,omitempty"`
	Used    int64  `json:"used,omitempty"`
}

// Message is a normalized inbox message.
type Message struct {
	ID             string    `json:"id"`
	From           string    `json:"from"`
	To             string    `json:"to,omitempty"`
	Subject        string    `json:"subject"`
	Intro          string    `json:"intro,omitempty"`
	Text           string    `json:"text"`
	HTML           string    `json:"html"`
	Date           time.Time `json:"date"`
	Read           bool      `json:"read"`
	HasAttachments bool      `json:"hasAttachments,omitempty"`
	Size           int64     `json:"size,omitempty"`
}
