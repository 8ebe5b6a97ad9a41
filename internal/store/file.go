package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/wesm/tempmail/internal/fileutil"
)

// File stores the account in a JSON document keyed by AccountKey.
// Writes are atomic and owner-only.
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile returns a store backed by the JSON file at path. The file is
// created on first Save.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the backing file path.
func (f *File) Path() string { return f.path }

func (f *File) readAll() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	doc := map[string]json.RawMessage{}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.path, err)
	}
	return doc, nil
}

func (f *File) writeAll(doc map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", f.path, err)
	}
	if err := fileutil.WriteFileAtomic(f.path, data, 0600); err != nil {
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	return nil
}

func (f *File) Load() (*Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.readAll()
	if err != nil {
		return nil, err
	}
	raw, ok := doc[AccountKey]
	if !ok {
		return nil, ErrNoAccount
	}
	return decodeAccount(raw)
}

func (f *File) Save(a *Account) error {
	data, err := encodeAccount(a)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.readAll()
	if err != nil {
		// A corrupt document is replaced rather than blocking new inboxes.
		doc = map[string]json.RawMessage{}
	}
	doc[AccountKey] = data
	return f.writeAll(doc)
}

func (f *File) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.readAll()
	if err != nil {
		return err
	}
	if _, ok := doc[AccountKey]; !ok {
		return nil
	}
	delete(doc, AccountKey)
	return f.writeAll(doc)
}

func (f *File) Close() error { return nil }

var _ AccountStore = (*File)(nil)
