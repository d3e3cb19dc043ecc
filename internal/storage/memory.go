package storage

import (
	"context"
	"errors"
	"sync"
)

// MemoryStore keeps objects in memory. Used by tests and by the server when
// no storage path is configured.
type MemoryStore struct {
	BaseURL string

	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore serving under baseURL.
func NewMemoryStore(baseURL string) *MemoryStore {
	if baseURL == "" {
		baseURL = "memory://assets"
	}
	return &MemoryStore{BaseURL: baseURL, objects: make(map[string][]byte)}
}

// Store implements ObjectStore.
func (m *MemoryStore) Store(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", errors.New("storage: empty payload")
	}
	key := KeyFor(data)
	cp := append([]byte(nil), data...)
	m.mu.Lock()
	m.objects[key] = cp
	m.mu.Unlock()
	return JoinURL(m.BaseURL, key), nil
}

// Get returns the bytes stored under key.
func (m *MemoryStore) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objects[key]
	return b, ok
}

// Len reports the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

var _ ObjectStore = (*MemoryStore)(nil)
