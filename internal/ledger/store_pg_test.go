package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPGStoreApplyCommitsEntryAndBalanceTogether(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := NewPGStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT balance FROM credit_balances").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(30))
	mock.ExpectExec("INSERT INTO ledger_entries").
		WithArgs(sqlmock.AnyArg(), "user-1", -10, 20, CategoryDebitForJob, "job-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE credit_balances SET balance").
		WithArgs(20, "user-1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	entry, err := store.Apply(context.Background(), Entry{
		Identity: "user-1",
		Delta:    -10,
		Category: CategoryDebitForJob,
		JobID:    "job-1",
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if entry.Balance != 20 {
		t.Fatalf("expected balance 20, got %d", entry.Balance)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGStoreApplyRollsBackOnInsufficientFunds(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := NewPGStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT balance FROM credit_balances").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(5))
	mock.ExpectRollback()

	_, err = store.Apply(context.Background(), Entry{
		Identity: "user-1",
		Delta:    -10,
		Category: CategoryDebitForJob,
		JobID:    "job-1",
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGStoreBalanceUnknownIdentityIsZero(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := NewPGStore(db)

	mock.ExpectQuery("SELECT balance FROM credit_balances").
		WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}))

	balance, err := store.Balance(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected 0, got %d", balance)
	}
}
