package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRepo stores jobs in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu   sync.RWMutex
	byID map[string]Job
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]Job)}
}

// Create stores the job.
func (r *MemoryRepo) Create(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[job.ID] = job
	return nil
}

// GetByID returns a job by its ID.
func (r *MemoryRepo) GetByID(ctx context.Context, jobID string) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.byID[jobID]
	if !ok {
		return Job{}, ErrNotFound
	}
	return job, nil
}

// AdvanceStage moves the job forward to stage. Moving backwards is rejected;
// re-entering a failed job is allowed since retry resumes mid-pipeline.
func (r *MemoryRepo) AdvanceStage(ctx context.Context, jobID, stage string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rank, ok := StageRank(stage)
	if !ok {
		return fmt.Errorf("unknown stage %q", stage)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	job, found := r.byID[jobID]
	if !found {
		return ErrNotFound
	}
	if current, ok := StageRank(job.Stage); ok && rank < current {
		return fmt.Errorf("stage %q would regress job %s from %q", stage, jobID, job.Stage)
	}

	job.Stage = stage
	job.LastError = ""
	job.UpdatedAt = time.Now().UTC()
	if stage == StageCompleted {
		now := job.UpdatedAt
		job.CompletedAt = &now
	}
	r.byID[jobID] = job
	return nil
}

// MarkFailed records the failure on the job.
func (r *MemoryRepo) MarkFailed(ctx context.Context, jobID, lastError string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.byID[jobID]
	if !ok {
		return ErrNotFound
	}
	if job.Stage == StageCompleted {
		return fmt.Errorf("job %s already completed", jobID)
	}
	job.Stage = StageFailed
	job.LastError = lastError
	job.UpdatedAt = time.Now().UTC()
	r.byID[jobID] = job
	return nil
}

// ListByIdentity returns the identity's jobs, newest first, with limit/offset.
func (r *MemoryRepo) ListByIdentity(ctx context.Context, identity string, limit, offset int) ([]Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}

	r.mu.RLock()
	var out []Job
	for _, job := range r.byID {
		if job.Identity == identity {
			out = append(out, job)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if offset >= len(out) {
		return []Job{}, nil
	}
	end := len(out)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return out[offset:end], nil
}
