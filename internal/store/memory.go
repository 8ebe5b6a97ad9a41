package store

import "sync"

// Memory keeps the account in process memory. It is the default for
// tests and for sessions that should not outlive the process.
type Memory struct {
	mu   sync.Mutex
	data []byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Load() (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, ErrNoAccount
	}
	return decodeAccount(m.data)
}

func (m *Memory) Save(a *Account) error {
	data, err := encodeAccount(a)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data
	return nil
}

func (m *Memory) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	return nil
}

func (m *Memory) Close() error { return nil }

var _ AccountStore = (*Memory)(nil)
