package ledger

import "time"

const (
	CategoryDebitForJob     = "debit-for-job"
	CategoryCreditGrant     = "credit-grant"
	CategoryAdminAdjustment = "admin-adjustment"
)

// Entry is one immutable row in the append-only credit log. Balance is the
// identity's balance after applying Delta.
type Entry struct {
	ID        string    `json:"id"`
	Identity  string    `json:"identity"`
	Delta     int       `json:"delta"`
	Balance   int       `json:"balance"`
	Category  string    `json:"category"`
	JobID     string    `json:"jobId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
