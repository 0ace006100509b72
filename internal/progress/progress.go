// Package progress tracks the latest-wins status of each job. Every publish
// overwrites an ephemeral process-local snapshot and mirrors it to a durable
// store so a freshly-connecting observer can recover state after a restart.
package progress

import (
	"context"
	"sync"
	"time"

	"docbrief-backend/internal/shared/telemetry"
)

// Snapshot is the current status of one job. Exactly one snapshot is current
// per job at any instant; observers may miss intermediate states but counters
// only ever increase and a terminal snapshot is always published.
type Snapshot struct {
	Stage      string    `json:"stage"`
	Step       int       `json:"step"`
	TotalSteps int       `json:"totalSteps"`
	Message    string    `json:"message"`
	Complete   bool      `json:"complete"`
	Error      string    `json:"error,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Terminal reports whether polling can stop on this snapshot.
func (s Snapshot) Terminal() bool {
	return s.Complete || s.Error != ""
}

// DurableStore persists the latest snapshot per job.
type DurableStore interface {
	Upsert(ctx context.Context, jobID string, snap Snapshot) error
	Get(ctx context.Context, jobID string) (Snapshot, bool, error)
}

// Publisher is the dual-write progress state. It is injected into the
// coordinator rather than held as package state so tests can substitute an
// in-memory fake.
type Publisher struct {
	mu      sync.RWMutex
	latest  map[string]Snapshot
	durable DurableStore
}

// NewPublisher constructs a Publisher. durable may be nil, in which case only
// the ephemeral map is maintained.
func NewPublisher(durable DurableStore) *Publisher {
	return &Publisher{
		latest:  make(map[string]Snapshot),
		durable: durable,
	}
}

// Publish overwrites the job's current snapshot. The durable mirror is
// best-effort; its failure is logged and never fails the publish, since a
// stalled progress write must not stall the pipeline.
func (p *Publisher) Publish(ctx context.Context, jobID string, snap Snapshot) {
	if jobID == "" {
		return
	}
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}

	p.mu.Lock()
	p.latest[jobID] = snap
	p.mu.Unlock()

	if p.durable == nil {
		return
	}
	if err := p.durable.Upsert(ctx, jobID, snap); err != nil {
		telemetry.Error("progress.durable_write_failed", map[string]any{
			"job_id": jobID,
			"stage":  snap.Stage,
			"error":  err.Error(),
		})
	}
}

// Peek returns the job's current snapshot from the ephemeral map.
func (p *Publisher) Peek(jobID string) (Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	snap, ok := p.latest[jobID]
	return snap, ok
}

// PeekDurable returns the last durably-recorded snapshot, for observers
// connecting after a process restart.
func (p *Publisher) PeekDurable(ctx context.Context, jobID string) (Snapshot, bool, error) {
	if p.durable == nil {
		return Snapshot{}, false, nil
	}
	return p.durable.Get(ctx, jobID)
}

// Resolve reads the ephemeral snapshot and falls back to the durable store
// when the process has no local state for the job.
func (p *Publisher) Resolve(ctx context.Context, jobID string) (Snapshot, bool, error) {
	if snap, ok := p.Peek(jobID); ok {
		return snap, true, nil
	}
	return p.PeekDurable(ctx, jobID)
}
