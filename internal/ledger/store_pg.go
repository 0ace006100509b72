package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

type pgStore struct {
	DB *sql.DB
}

// NewPGStore constructs a Postgres-backed ledger store.
func NewPGStore(db *sql.DB) *pgStore {
	return &pgStore{DB: db}
}

func (s *pgStore) Balance(ctx context.Context, identity string) (int, error) {
	var balance int
	err := s.DB.QueryRowContext(ctx, `
SELECT balance FROM credit_balances WHERE identity = $1`, identity).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Apply writes the entry and the balance mutation in one transaction. The
// balance row is locked for the duration so the re-read and the write cannot
// interleave with another debit for the same identity on this database.
func (s *pgStore) Apply(ctx context.Context, entry Entry) (Entry, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var balance int
	row := tx.QueryRowContext(ctx, `
SELECT balance FROM credit_balances WHERE identity = $1 FOR UPDATE`, entry.Identity)
	if err = row.Scan(&balance); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		balance = 0
		if _, err = tx.ExecContext(ctx, `
INSERT INTO credit_balances (identity, balance) VALUES ($1, 0)`, entry.Identity); err != nil {
			return Entry{}, err
		}
	}

	next := balance + entry.Delta
	if next < 0 {
		err = ErrInsufficientFunds
		return Entry{}, err
	}

	entry.ID = uuid.NewString()
	entry.Balance = next
	entry.CreatedAt = time.Now().UTC()

	var jobID any
	if entry.JobID != "" {
		jobID = entry.JobID
	}
	if _, err = tx.ExecContext(ctx, `
INSERT INTO ledger_entries (id, identity, delta, balance, category, job_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.Identity, entry.Delta, entry.Balance, entry.Category, jobID, entry.CreatedAt); err != nil {
		return Entry{}, err
	}
	if _, err = tx.ExecContext(ctx, `
UPDATE credit_balances SET balance = $1 WHERE identity = $2`, next, entry.Identity); err != nil {
		return Entry{}, err
	}
	if err = tx.Commit(); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func (s *pgStore) Entries(ctx context.Context, identity string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, identity, delta, balance, category, COALESCE(job_id, ''), created_at
FROM ledger_entries WHERE identity = $1 ORDER BY created_at DESC LIMIT $2`, identity, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *pgStore) EntriesForJob(ctx context.Context, jobID string) ([]Entry, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, identity, delta, balance, category, COALESCE(job_id, ''), created_at
FROM ledger_entries WHERE job_id = $1 ORDER BY created_at ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Identity, &e.Delta, &e.Balance, &e.Category, &e.JobID, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
