package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zemenaye/askexpert/internal/models"
	pkgerrors "github.com/zemenaye/askexpert/pkg/errors"
)

type PostgresReferralRepository struct {
	db *sql.DB
}

func NewPostgresReferralRepository(db *sql.DB) *PostgresReferralRepository {
	return &PostgresReferralRepository{db: db}
}

func (r *PostgresReferralRepository) Create(ctx context.Context, link *models.ReferralLink) error {
	if link == nil {
		return fmt.Errorf("%w: link is nil", pkgerrors.ErrValidation)
	}
	if link.ReferrerID == link.ReferredID {
		return fmt.Errorf("%w: cannot refer yourself", pkgerrors.ErrValidation)
	}
	query := `
		INSERT INTO referral_links (referrer_id, referred_id, commission_rate_bps, status, expires_at)
		VALUES ($1, $2, $3, 'active', $4)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		link.ReferrerID, link.ReferredID, link.CommissionRateBps, link.ExpiresAt,
	).Scan(&link.ID, &link.CreatedAt)
	if err != nil {
		slog.Error("failed to create referral link", "referrer_id", link.ReferrerID, "referred_id", link.ReferredID, "error", err)
		return fmt.Errorf("failed to create referral link: %w", err)
	}
	link.Status = models.ReferralActive

	slog.Info("referral link created", "link_id", link.ID, "referrer_id", link.ReferrerID, "referred_id", link.ReferredID)
	return nil
}

func (r *PostgresReferralRepository) GetActiveByReferred(ctx context.Context, referredID int64, now time.Time) (*models.ReferralLink, error) {
	var (
		link     models.ReferralLink
		lastComm sql.NullTime
	)
	query := `
		SELECT id, referrer_id, referred_id, commission_rate_bps, total_earnings,
		       total_commission, status, expires_at, last_commission_at, created_at
		FROM referral_links
		WHERE referred_id = $1 AND status = 'active' AND expires_at > $2
	`
	err := r.db.QueryRowContext(ctx, query, referredID, now).Scan(
		&link.ID, &link.ReferrerID, &link.ReferredID, &link.CommissionRateBps,
		&link.TotalEarnings, &link.TotalCommission, &link.Status, &link.ExpiresAt,
		&lastComm, &link.CreatedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrReferralNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get referral link: %w", err)
	}
	if lastComm.Valid {
		link.LastCommissionAt = &lastComm.Time
	}
	return &link, nil
}

func (r *PostgresReferralRepository) Accrue(ctx context.Context, linkID, earning, commission int64, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE referral_links
		SET total_earnings = total_earnings + $2,
		    total_commission = total_commission + $3,
		    last_commission_at = $4
		WHERE id = $1 AND status = 'active'
	`, linkID, earning, commission, now)
	if err != nil {
		return fmt.Errorf("failed to accrue commission: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to accrue commission: %w", err)
	}
	if n == 0 {
		return pkgerrors.ErrReferralNotFound
	}
	return nil
}

func (r *PostgresReferralRepository) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE referral_links
		SET status = 'expired'
		WHERE status = 'active' AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire referral links: %w", err)
	}
	return res.RowsAffected()
}
