package repository

import (
	"context"

	"github.com/zemenaye/askexpert/internal/models"
)

type WalletRepository interface {
	Create(ctx context.Context, userID int64, currency string) (*models.Wallet, error)
	GetByUser(ctx context.Context, userID int64) (*models.Wallet, error)
	GetBalance(ctx context.Context, userID int64) (int64, error)
	// ApplyDelta atomically shifts the wallet balance by entry.Signed() and
	// appends the ledger entry with the post-mutation balance, both inside one
	// database transaction. A debit that would drive the balance negative
	// fails with ErrInsufficientFunds; a reused entry reference fails with
	// ErrDuplicateEntry and leaves the balance untouched.
	ApplyDelta(ctx context.Context, entry *models.LedgerEntry) (int64, error)
	// ReservePending marks amount as pending withdrawal iff no other
	// withdrawal is pending and the balance covers it.
	ReservePending(ctx context.Context, userID, amount int64) error
	// ReleasePending clears the pending withdrawal reservation.
	ReleasePending(ctx context.Context, userID, amount int64) error
}
