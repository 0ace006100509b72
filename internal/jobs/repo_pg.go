package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const jobColumns = `id, COALESCE(identity, ''), title, document_key, section_count, cost_credits, stage, COALESCE(last_error, ''), created_at, updated_at, completed_at`

// Create inserts a new job row.
func (r *PGRepo) Create(ctx context.Context, job Job) error {
	var identity any
	if job.Identity != "" {
		identity = job.Identity
	}
	_, err := r.DB.ExecContext(ctx, `
INSERT INTO jobs (id, identity, title, document_key, section_count, cost_credits, stage, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, identity, job.Title, job.DocumentKey, job.SectionCount,
		job.CostCredits, job.Stage, job.CreatedAt, job.UpdatedAt)
	return err
}

// GetByID returns a job by its ID.
func (r *PGRepo) GetByID(ctx context.Context, jobID string) (Job, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	return scanJob(row)
}

// AdvanceStage moves the job forward to stage. The guard clause in the UPDATE
// rejects regressions without a read-modify-write round trip.
func (r *PGRepo) AdvanceStage(ctx context.Context, jobID, stage string) error {
	rank, ok := StageRank(stage)
	if !ok {
		return fmt.Errorf("unknown stage %q", stage)
	}

	var completedAt any
	if stage == StageCompleted {
		completedAt = time.Now().UTC()
	}
	res, err := r.DB.ExecContext(ctx, `
UPDATE jobs SET stage = $1, last_error = NULL, updated_at = $2, completed_at = COALESCE($3, completed_at)
WHERE id = $4 AND (CASE stage
	WHEN 'created' THEN 0
	WHEN 'summary_done' THEN 1
	WHEN 'artifacts_done' THEN 2
	WHEN 'hero_image_done' THEN 3
	WHEN 'section_images_done' THEN 4
	WHEN 'completed' THEN 5
	ELSE -1 END) <= $5`,
		stage, time.Now().UTC(), completedAt, jobID, rank)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Either the job is missing or a newer writer already advanced it.
		if _, getErr := r.GetByID(ctx, jobID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("stage %q would regress job %s", stage, jobID)
	}
	return nil
}

// MarkFailed records the failure on the job.
func (r *PGRepo) MarkFailed(ctx context.Context, jobID, lastError string) error {
	res, err := r.DB.ExecContext(ctx, `
UPDATE jobs SET stage = $1, last_error = $2, updated_at = $3
WHERE id = $4 AND stage <> $5`,
		StageFailed, lastError, time.Now().UTC(), jobID, StageCompleted)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, getErr := r.GetByID(ctx, jobID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("job %s already completed", jobID)
	}
	return nil
}

// ListByIdentity returns the identity's jobs, newest first, with limit/offset.
func (r *PGRepo) ListByIdentity(ctx context.Context, identity string, limit, offset int) ([]Job, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.DB.QueryContext(ctx, `
SELECT `+jobColumns+` FROM jobs WHERE identity = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		identity, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var job Job
	var completedAt sql.NullTime
	err := row.Scan(&job.ID, &job.Identity, &job.Title, &job.DocumentKey, &job.SectionCount,
		&job.CostCredits, &job.Stage, &job.LastError, &job.CreatedAt, &job.UpdatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return job, nil
}
