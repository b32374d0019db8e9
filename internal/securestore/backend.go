package securestore

import (
	"context"
	"sync"
)

// Backend persists sealed records. It never sees plaintext.
type Backend interface {
	// Get returns the sealed record stored under vault/item and whether it exists.
	Get(ctx context.Context, vault, item string) ([]byte, bool, error)
	// Put stores data under vault/item, replacing any previous value.
	Put(ctx context.Context, vault, item string, data []byte) error
	// DeleteAll removes every record of vault.
	DeleteAll(ctx context.Context, vault string) error
	// Count reports how many records vault holds.
	Count(ctx context.Context, vault string) (int, error)
}

// MemoryBackend keeps sealed records in process memory.
type MemoryBackend struct {
	mu      sync.Mutex
	records map[string]map[string][]byte
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string]map[string][]byte)}
}

func (m *MemoryBackend) Get(_ context.Context, vault, item string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.records[vault][item]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

func (m *MemoryBackend) Put(_ context.Context, vault, item string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records[vault] == nil {
		m.records[vault] = make(map[string][]byte)
	}
	m.records[vault][item] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryBackend) DeleteAll(_ context.Context, vault string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, vault)
	return nil
}

func (m *MemoryBackend) Count(_ context.Context, vault string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records[vault]), nil
}
