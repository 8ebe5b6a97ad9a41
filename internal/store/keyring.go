package store

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/99designs/keyring"
)

// KeyringServiceName namespaces tempmail items in the OS keyring.
const KeyringServiceName = "tempmail"

// Keyring stores the account in the OS credential store (Keychain,
// Secret Service, WinCred, pass) with an encrypted-file fallback.
type Keyring struct {
	ring keyring.Keyring
}

// OpenKeyring opens the OS keyring. fileDir holds the encrypted-file
// fallback, which is keyed by filePassword.
func OpenKeyring(fileDir, filePassword string) (*Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: KeyringServiceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  filepath.Join(fileDir, "keyring"),
		FilePasswordFunc:         keyring.FixedStringPrompt(filePassword),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &Keyring{ring: ring}, nil
}

// NewKeyring wraps an already opened keyring.
func NewKeyring(ring keyring.Keyring) *Keyring {
	return &Keyring{ring: ring}
}

func (k *Keyring) Load() (*Account, error) {
	item, err := k.ring.Get(AccountKey)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, ErrNoAccount
	}
	if err != nil {
		return nil, fmt.Errorf("getting credential %q: %w", AccountKey, err)
	}
	return decodeAccount(item.Data)
}

func (k *Keyring) Save(a *Account) error {
	data, err := encodeAccount(a)
	if err != nil {
		return err
	}
	err = k.ring.Set(keyring.Item{
		Key:         AccountKey,
		Data:        data,
		Label:       "tempmail inbox " + a.Email,
		Description: "Disposable inbox credentials",
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", AccountKey, err)
	}
	return nil
}

func (k *Keyring) Clear() error {
	err := k.ring.Remove(AccountKey)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", AccountKey, err)
	}
	return nil
}

func (k *Keyring) Close() error { return nil }

var _ AccountStore = (*Keyring)(nil)
