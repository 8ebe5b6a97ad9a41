package store

import (
	"fmt"
	"path/filepath"
)

// Backend names accepted by Open.
const (
	BackendMemory  = "memory"
	BackendFile    = "file"
	BackendSQLite  = "sqlite"
	BackendKeyring = "keyring"
)

// Options configures Open.
type Options struct {
	// Backend is one of the Backend* constants. Empty means file.
	Backend string
	// Dir holds file-based backends.
	Dir string
	// Path overrides the default file or database path.
	Path string
	// KeyringPassword protects the keyring's encrypted-file fallback.
	KeyringPassword string
}

// Open returns the AccountStore selected by opts.
func Open(opts Options) (AccountStore, error) {
	switch opts.Backend {
	case BackendMemory:
		return NewMemory(), nil
	case "", BackendFile:
		path := opts.Path
		if path == "" {
			path = filepath.Join(opts.Dir, "account.json")
		}
		return NewFile(path), nil
	case BackendSQLite:
		path := opts.Path
		if path == "" {
			path = filepath.Join(opts.Dir, "tempmail.db")
		}
		return OpenSQLite(path)
	case BackendKeyring:
		return OpenKeyring(opts.Dir, opts.KeyringPassword)
	default:
		return nil, fmt.Errorf("unknown storage backend %q (want memory, file, sqlite or keyring)", opts.Backend)
	}
}
