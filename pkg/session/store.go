package session

import (
	"context"
	"sync"
)

// WatermarkStore persists watermarks by session key.
type WatermarkStore interface {
	// Load returns the stored watermark for key, or 0 if none is stored.
	Load(ctx context.Context, key string) (int64, error)

	// Save stores id for key. A store never lowers a stored watermark.
	Save(ctx context.Context, key string, id int64) error
}

// MemoryStore is an in-process WatermarkStore.
type MemoryStore struct {
	mu    sync.RWMutex
	marks map[string]int64
}

var _ WatermarkStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{marks: make(map[string]int64)}
}

// Load implements WatermarkStore.
func (s *MemoryStore) Load(ctx context.Context, key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.marks[key], nil
}

// Save implements WatermarkStore.
func (s *MemoryStore) Save(ctx context.Context, key string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id > s.marks[key] {
		s.marks[key] = id
	}
	return nil
}
