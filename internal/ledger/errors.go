package ledger

import "errors"

var (
	// ErrInsufficientFunds is returned when a debit would take the balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")
)
