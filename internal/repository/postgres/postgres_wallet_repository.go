package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/zemenaye/askexpert/internal/infrastructure/observability"
	"github.com/zemenaye/askexpert/internal/models"
	pkgerrors "github.com/zemenaye/askexpert/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type PostgresWalletRepository struct {
	db *sql.DB
}

func NewPostgresWalletRepository(db *sql.DB) *PostgresWalletRepository {
	return &PostgresWalletRepository{db: db}
}

func (r *PostgresWalletRepository) Create(ctx context.Context, userID int64, currency string) (*models.Wallet, error) {
	var err error
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		observability.RepositoryCalls.WithLabelValues("CreateWallet", status).Inc()
		observability.RepositoryDuration.WithLabelValues("CreateWallet").Observe(time.Since(start).Seconds())
	}()

	wallet := &models.Wallet{
		UserID:   userID,
		Currency: currency,
		IsActive: true,
	}
	query := `
		INSERT INTO wallets (user_id, balance, currency, is_active)
		VALUES ($1, 0, $2, TRUE)
		RETURNING id, created_at, updated_at
	`
	err = r.db.QueryRowContext(ctx, query, userID, currency).Scan(&wallet.ID, &wallet.CreatedAt, &wallet.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			err = pkgerrors.ErrWalletExists
			return nil, err
		}
		slog.Error("failed to create wallet", "method", "CreateWallet", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	slog.Info("wallet created", "method", "CreateWallet", "user_id", userID, "wallet_id", wallet.ID)
	return wallet, nil
}

func (r *PostgresWalletRepository) GetByUser(ctx context.Context, userID int64) (*models.Wallet, error) {
	var w models.Wallet
	var lastTxn sql.NullTime
	query := `
		SELECT id, user_id, balance, currency, total_earnings, total_withdrawn,
		       pending_withdrawal, last_transaction_at, is_active, created_at, updated_at
		FROM wallets WHERE user_id = $1
	`
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&w.ID, &w.UserID, &w.Balance, &w.Currency, &w.TotalEarnings, &w.TotalWithdrawn,
		&w.PendingWithdrawal, &lastTxn, &w.IsActive, &w.CreatedAt, &w.UpdatedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	if lastTxn.Valid {
		w.LastTransactionAt = &lastTxn.Time
	}
	return &w, nil
}

func (r *PostgresWalletRepository) GetBalance(ctx context.Context, userID int64) (int64, error) {
	var balance int64
	err := r.db.QueryRowContext(ctx, `SELECT balance FROM wallets WHERE user_id = $1`, userID).Scan(&balance)
	if stderrors.Is(err, sql.ErrNoRows) {
		return 0, pkgerrors.ErrWalletNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// ApplyDelta runs the conditional balance update and the ledger append inside
// one database transaction. The balance guard `balance + delta >= 0` makes the
// mutation safe under concurrent debits without any application-level lock.
func (r *PostgresWalletRepository) ApplyDelta(ctx context.Context, entry *models.LedgerEntry) (int64, error) {
	var err error
	tracer := otel.Tracer("wallet-repository")
	ctx, span := tracer.Start(ctx, "ApplyDelta")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("ApplyDelta", status).Inc()
		observability.RepositoryDuration.WithLabelValues("ApplyDelta").Observe(time.Since(start).Seconds())
	}()

	if entry == nil {
		err = fmt.Errorf("%w: entry is nil", pkgerrors.ErrValidation)
		return 0, err
	}
	if entry.Amount <= 0 {
		err = fmt.Errorf("%w: amount must be positive", pkgerrors.ErrValidation)
		return 0, err
	}
	if entry.Type != models.EntryCredit && entry.Type != models.EntryDebit {
		err = fmt.Errorf("%w: unknown entry type %q", pkgerrors.ErrValidation, entry.Type)
		return 0, err
	}
	if !entry.Category.Valid() {
		err = fmt.Errorf("%w: unknown category %q", pkgerrors.ErrValidation, entry.Category)
		return 0, err
	}
	if entry.Reference == "" {
		err = fmt.Errorf("%w: reference is required", pkgerrors.ErrValidation)
		return 0, err
	}

	span.SetAttributes(
		attribute.Int64("user_id", entry.UserID),
		attribute.Int64("amount", entry.Amount),
		attribute.String("type", string(entry.Type)),
		attribute.String("category", string(entry.Category)),
	)

	delta := entry.Signed()
	var earningsDelta, withdrawnDelta int64
	if entry.Type == models.EntryCredit &&
		(entry.Category == models.CategoryExpertEarning || entry.Category == models.CategoryReferralBonus) {
		earningsDelta = entry.Amount
	}
	if entry.Type == models.EntryDebit && entry.Category == models.CategoryWithdrawal {
		withdrawnDelta = entry.Amount
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "ApplyDelta", "error", err)
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	var newBalance int64
	updateQuery := `
		UPDATE wallets
		SET balance = balance + $1,
		    total_earnings = total_earnings + $2,
		    total_withdrawn = total_withdrawn + $3,
		    last_transaction_at = NOW(),
		    updated_at = NOW()
		WHERE user_id = $4 AND balance + $1 >= 0
		RETURNING balance
	`
	err = dbTx.QueryRowContext(ctx, updateQuery, delta, earningsDelta, withdrawnDelta, entry.UserID).Scan(&newBalance)
	if stderrors.Is(err, sql.ErrNoRows) {
		dbTx.Rollback()
		var exists bool
		if checkErr := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM wallets WHERE user_id = $1)`, entry.UserID).Scan(&exists); checkErr == nil && !exists {
			err = pkgerrors.ErrWalletNotFound
			return 0, err
		}
		err = pkgerrors.ErrInsufficientFunds
		slog.Warn("debit rejected", "method", "ApplyDelta", "user_id", entry.UserID, "amount", entry.Amount)
		return 0, err
	}
	if err != nil {
		dbTx.Rollback()
		slog.Error("failed to update balance", "method", "ApplyDelta", "user_id", entry.UserID, "error", err)
		return 0, fmt.Errorf("failed to update balance: %w", err)
	}

	insertQuery := `
		INSERT INTO ledger_entries
			(user_id, type, category, amount, currency, description, reference,
			 question_id, related_user, balance_after, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, 0), NULLIF($9, 0), $10, $11)
		RETURNING id, created_at
	`
	entry.BalanceAfter = newBalance
	if entry.Status == "" {
		entry.Status = models.EntryStatusCompleted
	}
	err = dbTx.QueryRowContext(ctx, insertQuery,
		entry.UserID, entry.Type, entry.Category, entry.Amount, entry.Currency,
		entry.Description, entry.Reference, entry.QuestionID, entry.RelatedUser,
		entry.BalanceAfter, entry.Status,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		if rbErr := dbTx.Rollback(); rbErr != nil {
			slog.Error("rollback failed", "method", "ApplyDelta", "error", rbErr)
		}
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			err = pkgerrors.ErrDuplicateEntry
			return 0, err
		}
		slog.Error("failed to append ledger entry", "method", "ApplyDelta", "user_id", entry.UserID, "reference", entry.Reference, "error", err)
		return 0, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "ApplyDelta", "error", err)
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("balance updated", "method", "ApplyDelta",
		"user_id", entry.UserID, "delta", delta, "balance", newBalance,
		"category", entry.Category, "reference", entry.Reference)
	return newBalance, nil
}

func (r *PostgresWalletRepository) ReservePending(ctx context.Context, userID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", pkgerrors.ErrValidation)
	}
	query := `
		UPDATE wallets
		SET pending_withdrawal = $1, updated_at = NOW()
		WHERE user_id = $2 AND pending_withdrawal = 0 AND balance >= $1
	`
	res, err := r.db.ExecContext(ctx, query, amount, userID)
	if err != nil {
		return fmt.Errorf("failed to reserve withdrawal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to reserve withdrawal: %w", err)
	}
	if n == 0 {
		w, getErr := r.GetByUser(ctx, userID)
		if getErr != nil {
			return getErr
		}
		if w.PendingWithdrawal != 0 {
			return pkgerrors.ErrWithdrawalPending
		}
		return pkgerrors.ErrInsufficientFunds
	}
	return nil
}

func (r *PostgresWalletRepository) ReleasePending(ctx context.Context, userID, amount int64) error {
	query := `
		UPDATE wallets
		SET pending_withdrawal = 0, updated_at = NOW()
		WHERE user_id = $1 AND pending_withdrawal = $2
	`
	res, err := r.db.ExecContext(ctx, query, userID, amount)
	if err != nil {
		return fmt.Errorf("failed to release withdrawal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to release withdrawal: %w", err)
	}
	if n == 0 {
		return pkgerrors.ErrInvalidState
	}
	return nil
}
