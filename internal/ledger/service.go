package ledger

import (
	"context"
	"errors"
)

type store interface {
	Balance(ctx context.Context, identity string) (int, error)
	// Apply re-reads the current balance, refuses the mutation if the
	// resulting balance would go negative, and otherwise writes the entry
	// and the new balance together. Entry.Balance is filled in by the store.
	Apply(ctx context.Context, entry Entry) (Entry, error)
	Entries(ctx context.Context, identity string, limit int) ([]Entry, error)
	EntriesForJob(ctx context.Context, jobID string) ([]Entry, error)
}

// Service manages credit balances through an underlying store.
type Service struct {
	store store
}

// NewService constructs a Service with an in-memory store.
func NewService() *Service {
	return &Service{store: newMemoryStore()}
}

// NewPostgresService constructs a Service backed by Postgres.
func NewPostgresService(pgStore store) *Service {
	return &Service{store: pgStore}
}

// Balance returns the identity's current balance. Unknown identities have balance 0.
func (s *Service) Balance(ctx context.Context, identity string) (int, error) {
	if identity == "" {
		return 0, errors.New("identity is required")
	}
	return s.store.Balance(ctx, identity)
}

// Debit charges amount against the identity's balance and records one entry
// referencing jobID. It returns ErrInsufficientFunds without writing anything
// if the balance cannot cover the amount.
func (s *Service) Debit(ctx context.Context, identity string, amount int, jobID string) (int, error) {
	if identity == "" {
		return 0, errors.New("identity is required")
	}
	if amount <= 0 {
		return 0, errors.New("debit amount must be positive")
	}
	entry, err := s.store.Apply(ctx, Entry{
		Identity: identity,
		Delta:    -amount,
		Category: CategoryDebitForJob,
		JobID:    jobID,
	})
	if err != nil {
		return 0, err
	}
	return entry.Balance, nil
}

// Credit grants amount to the identity and records one entry.
func (s *Service) Credit(ctx context.Context, identity string, amount int, category string) (int, error) {
	if identity == "" {
		return 0, errors.New("identity is required")
	}
	if amount <= 0 {
		return 0, errors.New("credit amount must be positive")
	}
	if category == "" {
		category = CategoryCreditGrant
	}
	entry, err := s.store.Apply(ctx, Entry{
		Identity: identity,
		Delta:    amount,
		Category: category,
	})
	if err != nil {
		return 0, err
	}
	return entry.Balance, nil
}

// History returns the identity's entries, newest first.
func (s *Service) History(ctx context.Context, identity string, limit int) ([]Entry, error) {
	if identity == "" {
		return nil, errors.New("identity is required")
	}
	return s.store.Entries(ctx, identity, limit)
}

// EntriesForJob returns every entry referencing the given job.
func (s *Service) EntriesForJob(ctx context.Context, jobID string) ([]Entry, error) {
	return s.store.EntriesForJob(ctx, jobID)
}
