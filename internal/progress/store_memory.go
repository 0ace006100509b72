package progress

import (
	"context"
	"sync"
)

// MemoryStore is a DurableStore fake for dev mode and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Snapshot
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Snapshot)}
}

func (s *MemoryStore) Upsert(ctx context.Context, jobID string, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[jobID] = snap
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, jobID string) (Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.data[jobID]
	return snap, ok, nil
}
