package repository

import (
	"context"
	"time"

	"github.com/zemenaye/askexpert/internal/models"
)

type WithdrawalRepository interface {
	Create(ctx context.Context, req *models.WithdrawalRequest) error
	GetByID(ctx context.Context, id int64) (*models.WithdrawalRequest, error)
	ListByUser(ctx context.Context, userID int64, page, limit int) ([]models.WithdrawalRequest, error)
	// SetStatus transitions conditionally from the expected statuses.
	SetStatus(ctx context.Context, id int64, from []models.WithdrawalStatus, to models.WithdrawalStatus, processedBy int64, reason string, now time.Time) error
}
