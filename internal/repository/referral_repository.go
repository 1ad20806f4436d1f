package repository

import (
	"context"
	"time"

	"github.com/zemenaye/askexpert/internal/models"
)

type ReferralRepository interface {
	Create(ctx context.Context, link *models.ReferralLink) error
	// GetActiveByReferred finds the active, unexpired link for a referred
	// user, ErrReferralNotFound when none exists.
	GetActiveByReferred(ctx context.Context, referredID int64, now time.Time) (*models.ReferralLink, error)
	// Accrue bumps the cumulative earning and commission counters.
	Accrue(ctx context.Context, linkID, earning, commission int64, now time.Time) error
	// ExpireDue flips overdue active links to expired, returning how many.
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
}
