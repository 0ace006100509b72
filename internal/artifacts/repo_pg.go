package artifacts

import (
	"context"
	"database/sql"
	"errors"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// Create inserts a new artifact row.
func (r *PGRepo) Create(ctx context.Context, artifact Artifact) error {
	_, err := r.DB.ExecContext(ctx, `
INSERT INTO artifacts (id, job_id, kind, section, content, url, tokens_used, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		artifact.ID, artifact.JobID, artifact.Kind, artifact.Section,
		artifact.Content, artifact.URL, artifact.TokensUsed, artifact.CreatedAt)
	return err
}

// ListByJob returns the job's artifacts in creation order.
func (r *PGRepo) ListByJob(ctx context.Context, jobID string) ([]Artifact, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT id, job_id, kind, section, content, url, tokens_used, created_at
FROM artifacts WHERE job_id = $1 ORDER BY created_at ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.ID, &a.JobID, &a.Kind, &a.Section, &a.Content, &a.URL, &a.TokensUsed, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetByKind returns the first artifact of the given kind for the job.
func (r *PGRepo) GetByKind(ctx context.Context, jobID, kind string) (Artifact, error) {
	var a Artifact
	err := r.DB.QueryRowContext(ctx, `
SELECT id, job_id, kind, section, content, url, tokens_used, created_at
FROM artifacts WHERE job_id = $1 AND kind = $2 ORDER BY created_at ASC LIMIT 1`, jobID, kind).
		Scan(&a.ID, &a.JobID, &a.Kind, &a.Section, &a.Content, &a.URL, &a.TokensUsed, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Artifact{}, ErrNotFound
	}
	if err != nil {
		return Artifact{}, err
	}
	return a, nil
}

// CountByKind returns how many artifacts of the given kind exist for the job.
func (r *PGRepo) CountByKind(ctx context.Context, jobID, kind string) (int, error) {
	var count int
	err := r.DB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM artifacts WHERE job_id = $1 AND kind = $2`, jobID, kind).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}
