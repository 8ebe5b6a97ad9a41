// Package store persists the active inbox account.
//
// Every backend keeps a single JSON-encoded Account under AccountKey and
// overwrites it wholesale on Save.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
)

// AccountKey is the fixed key the account is stored under.
const AccountKey = "mail_tm_account"

// ErrNoAccount is returned by Load when nothing is stored.
var ErrNoAccount = errors.New("no account stored")

// Account is a provisioned inbox and its credentials.
type Account struct {
	ID       string `json:"id,omitempty"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
	Token    string `json:"token"`
	Provider string `json:"provider"`
}

// Clone returns a copy that can be modified independently.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// AccountStore loads, saves and clears the single persisted account.
// Implementations are safe for concurrent use.
type AccountStore interface {
	// Load returns the stored account, or ErrNoAccount.
	Load() (*Account, error)
	// Save replaces the stored account.
	Save(a *Account) error
	// Clear removes the stored account. Clearing an empty store succeeds.
	Clear() error
	// Close releases backend resources.
	Close() error
}

func encodeAccount(a *Account) ([]byte, error) {
	if a == nil {
		return nil, errors.New("save account: nil account")
	}
	if a.Email == "" {
		return nil, errors.New("save account: email is required")
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode account: %w", err)
	}
	return data, nil
}

func decodeAccount(data []byte) (*Account, error) {
	var a Account
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	if a.Email == "" {
		return nil, fmt.Errorf("decode account: %w", ErrNoAccount)
	}
	return &a, nil
}
