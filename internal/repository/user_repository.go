package repository

import (
	"context"

	"github.com/zemenaye/askexpert/internal/models"
)

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByReferralCode(ctx context.Context, code string) (*models.User, error)
	IncrementAnswered(ctx context.Context, userID int64) error
}
