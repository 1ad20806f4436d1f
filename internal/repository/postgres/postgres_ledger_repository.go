package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/zemenaye/askexpert/internal/infrastructure/observability"
	"github.com/zemenaye/askexpert/internal/models"
	pkgerrors "github.com/zemenaye/askexpert/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type PostgresLedgerRepository struct {
	db *sql.DB
}

func NewPostgresLedgerRepository(db *sql.DB) *PostgresLedgerRepository {
	return &PostgresLedgerRepository{db: db}
}

const entryColumns = `id, user_id, type, category, amount, currency, description,
	reference, COALESCE(question_id, 0), COALESCE(related_user, 0), balance_after, status, created_at`

func scanEntry(row interface{ Scan(...any) error }) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := row.Scan(&e.ID, &e.UserID, &e.Type, &e.Category, &e.Amount, &e.Currency,
		&e.Description, &e.Reference, &e.QuestionID, &e.RelatedUser, &e.BalanceAfter,
		&e.Status, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *PostgresLedgerRepository) GetByReference(ctx context.Context, reference string) (*models.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE reference = $1`
	entry, err := scanEntry(r.db.QueryRowContext(ctx, query, reference))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return entry, nil
}

func (r *PostgresLedgerRepository) History(ctx context.Context, userID int64, page, limit int) ([]models.LedgerEntry, int64, error) {
	var err error
	tracer := otel.Tracer("ledger-repository")
	ctx, span := tracer.Start(ctx, "History")
	span.SetAttributes(attribute.Int64("user_id", userID))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("LedgerHistory", status).Inc()
		observability.RepositoryDuration.WithLabelValues("LedgerHistory").Observe(time.Since(start).Seconds())
	}()

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	query := `SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		entry, scanErr := scanEntry(rows)
		if scanErr != nil {
			err = scanErr
			return nil, 0, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate history: %w", err)
	}

	var total int64
	if err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_entries WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count history: %w", err)
	}
	return entries, total, nil
}

// ReplayBalance recomputes the balance from the full ledger. Used by the
// audit endpoint and tests to check the replay invariant.
func (r *PostgresLedgerRepository) ReplayBalance(ctx context.Context, userID int64) (int64, error) {
	var balance int64
	query := `
		SELECT COALESCE(SUM(
			CASE WHEN type = 'credit' THEN amount ELSE -amount END
		), 0)
		FROM ledger_entries
		WHERE user_id = $1 AND status = 'completed'
	`
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("failed to replay balance: %w", err)
	}
	return balance, nil
}
