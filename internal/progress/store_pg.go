package progress

import (
	"context"
	"database/sql"
	"errors"
)

// PGStore persists snapshots in Postgres, one row per job.
type PGStore struct {
	DB *sql.DB
}

// NewPGStore constructs a Postgres-backed snapshot store.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{DB: db}
}

func (s *PGStore) Upsert(ctx context.Context, jobID string, snap Snapshot) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO progress_snapshots (job_id, stage, step, total_steps, message, complete, error, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (job_id) DO UPDATE SET
	stage = EXCLUDED.stage,
	step = EXCLUDED.step,
	total_steps = EXCLUDED.total_steps,
	message = EXCLUDED.message,
	complete = EXCLUDED.complete,
	error = EXCLUDED.error,
	updated_at = EXCLUDED.updated_at`,
		jobID, snap.Stage, snap.Step, snap.TotalSteps, snap.Message, snap.Complete, snap.Error, snap.UpdatedAt)
	return err
}

func (s *PGStore) Get(ctx context.Context, jobID string) (Snapshot, bool, error) {
	var snap Snapshot
	err := s.DB.QueryRowContext(ctx, `
SELECT stage, step, total_steps, message, complete, error, updated_at
FROM progress_snapshots WHERE job_id = $1`, jobID).
		Scan(&snap.Stage, &snap.Step, &snap.TotalSteps, &snap.Message, &snap.Complete, &snap.Error, &snap.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}
