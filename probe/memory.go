package probe

import (
	"context"
	"sync"

	cachepurge "github.com/wolfeidau/cache-purge"
)

// MemoryStore keeps the verdict in process memory.
type MemoryStore struct {
	mu sync.RWMutex
	c  cachepurge.Capability
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) LoadCapability(context.Context) (cachepurge.Capability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.c, nil
}

func (s *MemoryStore) SaveCapability(_ context.Context, c cachepurge.Capability) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c = c
	return nil
}
