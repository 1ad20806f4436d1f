package repository

import (
	"context"

	"github.com/zemenaye/askexpert/internal/models"
)

type LedgerRepository interface {
	GetByReference(ctx context.Context, reference string) (*models.LedgerEntry, error)
	History(ctx context.Context, userID int64, page, limit int) ([]models.LedgerEntry, int64, error)
	// ReplayBalance sums every entry for the wallet, credits positive and
	// debits negative, in creation order.
	ReplayBalance(ctx context.Context, userID int64) (int64, error)
}
