package media

import (
	"context"
	"fmt"
	"sync"
)

// Storage persists simulation images and returns a URL the gateway can serve
// to patients.
type Storage interface {
	// Upload stores data under key and returns its public URL.
	Upload(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// MemoryStorage keeps uploads in a map. It backs unit tests.
type MemoryStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string][]byte)}
}

// Upload stores data under key.
func (m *MemoryStorage) Upload(_ context.Context, key, _ string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	m.objects[key] = buf
	return fmt.Sprintf("memory://%s", key), nil
}

// Get returns a stored object. Test helper.
func (m *MemoryStorage) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	return data, ok
}

// Count returns the number of stored objects. Test helper.
func (m *MemoryStorage) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
