package jobs

import "context"

// Repo defines persistence operations for jobs.
type Repo interface {
	Create(ctx context.Context, job Job) error
	GetByID(ctx context.Context, jobID string) (Job, error)
	// AdvanceStage moves the job's stage forward. Implementations reject
	// transitions that would move the stage backwards so a stale writer can
	// never regress an already-advanced job.
	AdvanceStage(ctx context.Context, jobID, stage string) error
	MarkFailed(ctx context.Context, jobID, lastError string) error
	ListByIdentity(ctx context.Context, identity string, limit, offset int) ([]Job, error)
}
