package artifacts

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no artifact matches.
var ErrNotFound = errors.New("artifact not found")

// Repo defines persistence operations for generated artifacts.
type Repo interface {
	Create(ctx context.Context, artifact Artifact) error
	ListByJob(ctx context.Context, jobID string) ([]Artifact, error)
	GetByKind(ctx context.Context, jobID, kind string) (Artifact, error)
	CountByKind(ctx context.Context, jobID, kind string) (int, error)
}
