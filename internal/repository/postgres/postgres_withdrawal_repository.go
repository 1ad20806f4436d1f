package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/zemenaye/askexpert/internal/models"
	pkgerrors "github.com/zemenaye/askexpert/pkg/errors"
)

type PostgresWithdrawalRepository struct {
	db *sql.DB
}

func NewPostgresWithdrawalRepository(db *sql.DB) *PostgresWithdrawalRepository {
	return &PostgresWithdrawalRepository{db: db}
}

func (r *PostgresWithdrawalRepository) Create(ctx context.Context, req *models.WithdrawalRequest) error {
	if req == nil {
		return fmt.Errorf("%w: request is nil", pkgerrors.ErrValidation)
	}
	dest, err := json.Marshal(req.Destination)
	if err != nil {
		return fmt.Errorf("failed to marshal destination: %w", err)
	}
	query := `
		INSERT INTO withdrawal_requests
			(user_id, amount, fee, net_amount, currency, method, destination, status, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8)
		RETURNING id
	`
	err = r.db.QueryRowContext(ctx, query,
		req.UserID, req.Amount, req.Fee, req.NetAmount, req.Currency,
		req.Method, dest, req.RequestedAt,
	).Scan(&req.ID)
	if err != nil {
		slog.Error("failed to create withdrawal request", "user_id", req.UserID, "error", err)
		return fmt.Errorf("failed to create withdrawal request: %w", err)
	}
	req.Status = models.WithdrawalPending
	return nil
}

const withdrawalColumns = `id, user_id, amount, fee, net_amount, currency, method, destination,
	status, COALESCE(rejection_reason, ''), COALESCE(processed_by, 0), requested_at, processed_at`

func scanWithdrawal(row interface{ Scan(...any) error }) (*models.WithdrawalRequest, error) {
	var (
		req         models.WithdrawalRequest
		dest        []byte
		processedAt sql.NullTime
	)
	err := row.Scan(
		&req.ID, &req.UserID, &req.Amount, &req.Fee, &req.NetAmount, &req.Currency,
		&req.Method, &dest, &req.Status, &req.RejectionReason, &req.ProcessedBy,
		&req.RequestedAt, &processedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(dest) > 0 {
		if err := json.Unmarshal(dest, &req.Destination); err != nil {
			return nil, fmt.Errorf("failed to unmarshal destination: %w", err)
		}
	}
	if processedAt.Valid {
		req.ProcessedAt = &processedAt.Time
	}
	return &req, nil
}

func (r *PostgresWithdrawalRepository) GetByID(ctx context.Context, id int64) (*models.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE id = $1`
	req, err := scanWithdrawal(r.db.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrWithdrawalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get withdrawal request: %w", err)
	}
	return req, nil
}

func (r *PostgresWithdrawalRepository) ListByUser(ctx context.Context, userID int64, page, limit int) ([]models.WithdrawalRequest, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests
		WHERE user_id = $1 ORDER BY requested_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawal requests: %w", err)
	}
	defer rows.Close()

	var out []models.WithdrawalRequest
	for rows.Next() {
		req, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal request: %w", err)
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

func (r *PostgresWithdrawalRepository) SetStatus(ctx context.Context, id int64, from []models.WithdrawalStatus, to models.WithdrawalStatus, processedBy int64, reason string, now time.Time) error {
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE withdrawal_requests
		SET status = $2, processed_by = NULLIF($3, 0), rejection_reason = NULLIF($4, ''), processed_at = $5
		WHERE id = $1 AND status = ANY($6)
	`, id, to, processedBy, reason, now, pq.Array(fromStrs))
	if err != nil {
		return fmt.Errorf("failed to update withdrawal status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update withdrawal status: %w", err)
	}
	if n == 0 {
		return pkgerrors.ErrInvalidState
	}
	return nil
}
