package artifacts

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo stores artifacts in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu    sync.RWMutex
	byJob map[string][]Artifact
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byJob: make(map[string][]Artifact)}
}

// Create stores the artifact.
func (r *MemoryRepo) Create(ctx context.Context, artifact Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byJob[artifact.JobID] = append(r.byJob[artifact.JobID], artifact)
	return nil
}

// ListByJob returns the job's artifacts in creation order.
func (r *MemoryRepo) ListByJob(ctx context.Context, jobID string) ([]Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored := r.byJob[jobID]
	out := make([]Artifact, len(stored))
	copy(out, stored)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// GetByKind returns the first artifact of the given kind for the job.
func (r *MemoryRepo) GetByKind(ctx context.Context, jobID, kind string) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.byJob[jobID] {
		if a.Kind == kind {
			return a, nil
		}
	}
	return Artifact{}, ErrNotFound
}

// CountByKind returns how many artifacts of the given kind exist for the job.
func (r *MemoryRepo) CountByKind(ctx context.Context, jobID, kind string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, a := range r.byJob[jobID] {
		if a.Kind == kind {
			count++
		}
	}
	return count, nil
}
