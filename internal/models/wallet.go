package models

import "time"

// Wallet holds a user's balance in minor currency units (santim, 100 = 1 ETB).
// Balance is only ever changed together with a LedgerEntry in the same
// database transaction.
type Wallet struct {
	ID                int64      `json:"id"`
	UserID            int64      `json:"user_id"`
	Balance           int64      `json:"balance"`
	Currency          string     `json:"currency"`
	TotalEarnings     int64      `json:"total_earnings"`
	TotalWithdrawn    int64      `json:"total_withdrawn"`
	PendingWithdrawal int64      `json:"pending_withdrawal"`
	LastTransactionAt *time.Time `json:"last_transaction_at,omitempty"`
	IsActive          bool       `json:"is_active"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}
