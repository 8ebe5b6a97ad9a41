package mailtm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockAPI is an in-memory implementation of the Mail.tm API for testing.
type MockAPI struct {
	mu sync.Mutex

	// Domains to return from ListDomains
	Domains []Domain

	// Registered accounts, address -> password
	Accounts map[string]string

	// Messages in inbox order
	Messages []Message

	// Error injection
	DomainsError     error
	CreateAccountErr func(address string) error
	TokenError       error
	MeError          error
	// ListMessagesErrors is consumed one entry per call; a nil entry
	// means that call succeeds.
	ListMessagesErrors []error
	GetMessageError    map[string]error
	MarkReadError      error
	DeleteError        map[string]error

	// Call tracking for assertions
	ListDomainsCalls   int
	CreateAccountCalls []string
	TokenCalls         []string
	MeCalls            int
	ListMessagesCalls  int
	ListMessagesTokens []string
	GetMessageCalls    []string
	MarkReadCalls      []string
	DeleteCalls        []string

	tokens  map[string]string // token -> address
	issued  int
	nextAcc int
}

// NewMockAPI creates a new mock API with one active domain.
func NewMockAPI() *MockAPI {
	return &MockAPI{
		Domains:         []Domain{{ID: "d1", Domain: "example.test", IsActive: true}},
		Accounts:        make(map[string]string),
		GetMessageError: make(map[string]error),
		DeleteError:     make(map[string]error),
		tokens:          make(map[string]string),
	}
}

// ListDomains returns the active configured domains.
func (m *MockAPI) ListDomains(ctx context.Context) ([]Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListDomainsCalls++

	if m.DomainsError != nil {
		return nil, m.DomainsError
	}
	var active []Domain
	for _, d := range m.Domains {
		if d.IsActive {
			active = append(active, d)
		}
	}
	if len(active) == 0 {
		return nil, ErrNoDomainsAvailable
	}
	return active, nil
}

// CreateAccount registers address unless it already exists.
func (m *MockAPI) CreateAccount(ctx context.Context, address, password string) (*AccountInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateAccountCalls = append(m.CreateAccountCalls, address)

	if m.CreateAccountErr != nil {
		if err := m.CreateAccountErr(address); err != nil {
			return nil, err
		}
	}
	if _, exists := m.Accounts[address]; exists {
		return nil, fmt.Errorf("create account %s: %w", address, ErrUsernameConflict)
	}
	m.Accounts[address] = password
	m.nextAcc++
	return &AccountInfo{ID: fmt.Sprintf("acc-%d", m.nextAcc), Address: address}, nil
}

// GetToken issues a fresh token for a known account.
func (m *MockAPI) GetToken(ctx context.Context, address, password string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TokenCalls = append(m.TokenCalls, address)

	if m.TokenError != nil {
		return "", m.TokenError
	}
	if pw, ok := m.Accounts[address]; ok && pw != password {
		return "", fmt.Errorf("get token for %s: %w", address, ErrAuthFailed)
	}
	m.issued++
	token := fmt.Sprintf("token-%d-%s", m.issued, address)
	m.tokens[token] = address
	return token, nil
}

// Me resolves the account a token was issued for.
func (m *MockAPI) Me(ctx context.Context, token string) (*AccountInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MeCalls++

	if m.MeError != nil {
		return nil, m.MeError
	}
	address, ok := m.tokens[token]
	if !ok {
		return nil, ErrUnauthorized
	}
	return &AccountInfo{ID: "acc-" + address, Address: address}, nil
}

// ListMessages returns a copy of the inbox.
func (m *MockAPI) ListMessages(ctx context.Context, token string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListMessagesCalls++
	m.ListMessagesTokens = append(m.ListMessagesTokens, token)

	if len(m.ListMessagesErrors) > 0 {
		err := m.ListMessagesErrors[0]
		m.ListMessagesErrors = m.ListMessagesErrors[1:]
		if err != nil {
			return nil, err
		}
	}
	out := make([]Message, len(m.Messages))
	copy(out, m.Messages)
	return out, nil
}

// GetMessage returns one message and marks it read.
func (m *MockAPI) GetMessage(ctx context.Context, token, id string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetMessageCalls = append(m.GetMessageCalls, id)

	if err, ok := m.GetMessageError[id]; ok && err != nil {
		return nil, err
	}
	for i := range m.Messages {
		if m.Messages[i].ID == id {
			m.Messages[i].Read = true
			msg := m.Messages[i]
			return &msg, nil
		}
	}
	return nil, &NotFoundError{Path: "/messages/" + id}
}

// MarkRead records the call and flags the message.
func (m *MockAPI) MarkRead(ctx context.Context, token, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MarkReadCalls = append(m.MarkReadCalls, id)

	if m.MarkReadError != nil {
		return m.MarkReadError
	}
	for i := range m.Messages {
		if m.Messages[i].ID == id {
			m.Messages[i].Read = true
		}
	}
	return nil
}

// DeleteMessage removes a message. Unknown ids succeed, matching Client.
func (m *MockAPI) DeleteMessage(ctx context.Context, token, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls = append(m.DeleteCalls, id)

	if err, ok := m.DeleteError[id]; ok && err != nil {
		return err
	}
	kept := m.Messages[:0]
	for _, msg := range m.Messages {
		if msg.ID != id {
			kept = append(kept, msg)
		}
	}
	m.Messages = kept
	return nil
}

// AddMessage appends a message with sensible defaults for unset fields.
func (m *MockAPI) AddMessage(msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.Subject == "" {
		msg.Subject = NoSubject
	}
	if msg.From == "" {
		msg.From = UnknownSender
	}
	if msg.HTML == "" && msg.Text != "" {
		msg.HTML = "<p>" + msg.Text + "</p>"
	}
	m.Messages = append(m.Messages, msg)
}

// MessageIDs returns the ids currently in the inbox.
func (m *MockAPI) MessageIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, len(m.Messages))
	for i, msg := range m.Messages {
		ids[i] = msg.ID
	}
	return ids
}

// TokenCallCount returns how many tokens were requested for addresses
// containing substr (all addresses when substr is empty).
func (m *MockAPI) TokenCallCount(substr string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.TokenCalls {
		if strings.Contains(a, substr) {
			n++
		}
	}
	return n
}

// Ensure MockAPI implements API interface.
var _ API = (*MockAPI)(nil)
