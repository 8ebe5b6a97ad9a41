package sync

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	stdsync "sync"

	"github.com/wesm/tempmail/internal/fileutil"
)

// FileCache keeps the checkpoint of the current inbox in a JSON file so
// separate CLI runs share the last snapshot and the refresh throttle.
type FileCache struct {
	path string
	mu   stdsync.Mutex
}

// NewFileCache returns a cache stored at path.
func NewFileCache(path string) *FileCache {
	return &FileCache{path: path}
}

// Path returns the cache file path.
func (c *FileCache) Path() string { return c.path }

// Load returns the checkpoint saved for email, or nil when there is none.
func (c *FileCache) Load(email string) (*Checkpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c.path, err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse %s: %w", c.path, err)
	}
	if cp.Snapshot == nil || cp.Snapshot.Email != email {
		return nil, nil
	}
	return &cp, nil
}

// Save replaces the saved checkpoint.
func (c *FileCache) Save(cp Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := fileutil.WriteFileAtomic(c.path, data, 0600); err != nil {
		return fmt.Errorf("write %s: %w", c.path, err)
	}
	return nil
}

// Clear removes the saved checkpoint.
func (c *FileCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", c.path, err)
	}
	return nil
}
