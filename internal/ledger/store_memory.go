package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryStore struct {
	mu       sync.RWMutex
	balances map[string]int
	entries  []Entry
}

func newMemoryStore() *memoryStore {
	return &memoryStore{balances: make(map[string]int)}
}

func (s *memoryStore) Balance(ctx context.Context, identity string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[identity], nil
}

func (s *memoryStore) Apply(ctx context.Context, entry Entry) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-read inside the lock so the check and the write are one step.
	next := s.balances[entry.Identity] + entry.Delta
	if next < 0 {
		return Entry{}, ErrInsufficientFunds
	}

	entry.ID = uuid.NewString()
	entry.Balance = next
	entry.CreatedAt = time.Now().UTC()

	s.balances[entry.Identity] = next
	s.entries = append(s.entries, entry)
	return entry, nil
}

func (s *memoryStore) Entries(ctx context.Context, identity string, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].Identity != identity {
			continue
		}
		out = append(out, s.entries[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *memoryStore) EntriesForJob(ctx context.Context, jobID string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if jobID == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out, nil
}
