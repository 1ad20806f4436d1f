package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zemenaye/askexpert/internal/infrastructure/observability"
	"github.com/zemenaye/askexpert/internal/models"
	pkgerrors "github.com/zemenaye/askexpert/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type PostgresQuestionRepository struct {
	db *sql.DB
}

func NewPostgresQuestionRepository(db *sql.DB) *PostgresQuestionRepository {
	return &PostgresQuestionRepository{db: db}
}

func (r *PostgresQuestionRepository) Create(ctx context.Context, q *models.Question) error {
	var err error
	tracer := otel.Tracer("question-repository")
	ctx, span := tracer.Start(ctx, "CreateQuestion")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("CreateQuestion", status).Inc()
		observability.RepositoryDuration.WithLabelValues("CreateQuestion").Observe(time.Since(start).Seconds())
	}()

	if q == nil {
		err = fmt.Errorf("%w: question is nil", pkgerrors.ErrValidation)
		return err
	}
	if q.Text == "" {
		err = fmt.Errorf("%w: question text is required", pkgerrors.ErrValidation)
		return err
	}
	if !q.Format.Valid() {
		err = fmt.Errorf("%w: unknown response format %q", pkgerrors.ErrValidation, q.Format)
		return err
	}

	span.SetAttributes(
		attribute.Int64("client_id", q.ClientID),
		attribute.Int64("expert_id", q.ExpertID),
		attribute.String("format", string(q.Format)),
		attribute.Int64("amount", q.Pricing.Amount),
	)

	attachments, err := json.Marshal(q.Attachments)
	if err != nil {
		return fmt.Errorf("failed to marshal attachments: %w", err)
	}

	query := `
		INSERT INTO questions
			(client_id, expert_id, format, text, attachments, status,
			 amount, client_fee, client_charge, expert_earning, platform_commission, currency,
			 submitted_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at
	`
	err = r.db.QueryRowContext(ctx, query,
		q.ClientID, q.ExpertID, q.Format, q.Text, attachments,
		q.Pricing.Amount, q.Pricing.ClientFee, q.Pricing.ClientCharge,
		q.Pricing.ExpertEarning, q.Pricing.PlatformCommission, q.Pricing.Currency,
		q.Timeline.SubmittedAt, q.Timeline.ExpiresAt,
	).Scan(&q.ID, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		slog.Error("failed to create question", "method", "CreateQuestion", "client_id", q.ClientID, "expert_id", q.ExpertID, "error", err)
		return fmt.Errorf("failed to create question: %w", err)
	}
	q.Status = models.StatusPending

	slog.Info("question created", "method", "CreateQuestion", "question_id", q.ID, "client_id", q.ClientID, "expert_id", q.ExpertID)
	return nil
}

const questionColumns = `id, client_id, expert_id, format, text, attachments, answer, status,
	amount, client_fee, client_charge, expert_earning, platform_commission, currency,
	submitted_at, accepted_at, declined_at, completed_at, cancelled_at, expired_at, refunded_at, expires_at,
	decline_reason, rating_stars, rating_feedback, rated_at, COALESCE(expired_from, ''), created_at, updated_at`

func scanQuestion(row interface{ Scan(...any) error }) (*models.Question, error) {
	var (
		q           models.Question
		attachments []byte
		answer      []byte
		acceptedAt  sql.NullTime
		declinedAt  sql.NullTime
		completedAt sql.NullTime
		cancelledAt sql.NullTime
		expiredAt   sql.NullTime
		refundedAt  sql.NullTime
		declReason  sql.NullString
		ratingStars sql.NullInt64
		ratingText  sql.NullString
		ratedAt     sql.NullTime
		expiredFrom string
	)
	err := row.Scan(
		&q.ID, &q.ClientID, &q.ExpertID, &q.Format, &q.Text, &attachments, &answer, &q.Status,
		&q.Pricing.Amount, &q.Pricing.ClientFee, &q.Pricing.ClientCharge,
		&q.Pricing.ExpertEarning, &q.Pricing.PlatformCommission, &q.Pricing.Currency,
		&q.Timeline.SubmittedAt, &acceptedAt, &declinedAt, &completedAt, &cancelledAt,
		&expiredAt, &refundedAt, &q.Timeline.ExpiresAt,
		&declReason, &ratingStars, &ratingText, &ratedAt, &expiredFrom,
		&q.CreatedAt, &q.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &q.Attachments); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attachments: %w", err)
		}
	}
	if len(answer) > 0 {
		var a models.Answer
		if err := json.Unmarshal(answer, &a); err != nil {
			return nil, fmt.Errorf("failed to unmarshal answer: %w", err)
		}
		q.Answer = &a
	}
	if acceptedAt.Valid {
		q.Timeline.AcceptedAt = &acceptedAt.Time
	}
	if declinedAt.Valid {
		q.Timeline.DeclinedAt = &declinedAt.Time
	}
	if completedAt.Valid {
		q.Timeline.CompletedAt = &completedAt.Time
	}
	if cancelledAt.Valid {
		q.Timeline.CancelledAt = &cancelledAt.Time
	}
	if expiredAt.Valid {
		q.Timeline.ExpiredAt = &expiredAt.Time
	}
	if refundedAt.Valid {
		q.Timeline.RefundedAt = &refundedAt.Time
	}
	q.DeclineReason = declReason.String
	if ratingStars.Valid {
		q.Rating = &models.Rating{
			Stars:    int(ratingStars.Int64),
			Feedback: ratingText.String,
			RatedAt:  ratedAt.Time,
		}
	}
	q.ExpiredFrom = models.QuestionStatus(expiredFrom)
	return &q, nil
}

func (r *PostgresQuestionRepository) GetByID(ctx context.Context, id int64) (*models.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions WHERE id = $1`
	q, err := scanQuestion(r.db.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrQuestionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get question: %w", err)
	}
	return q, nil
}

func (r *PostgresQuestionRepository) list(ctx context.Context, column string, ownerID int64, page, limit int) ([]models.Question, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	query := `SELECT ` + questionColumns + ` FROM questions WHERE ` + column + ` = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, query, ownerID, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	defer rows.Close()

	var out []models.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}

func (r *PostgresQuestionRepository) ListByClient(ctx context.Context, clientID int64, page, limit int) ([]models.Question, error) {
	return r.list(ctx, "client_id", clientID, page, limit)
}

func (r *PostgresQuestionRepository) ListByExpert(ctx context.Context, expertID int64, page, limit int) ([]models.Question, error) {
	return r.list(ctx, "expert_id", expertID, page, limit)
}

// transition executes a conditional status update; zero affected rows means
// the caller lost a race or the question is already terminal.
func (r *PostgresQuestionRepository) transition(ctx context.Context, method, query string, args ...any) error {
	var err error
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		observability.RepositoryCalls.WithLabelValues(method, status).Inc()
		observability.RepositoryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}()

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		slog.Error("transition failed", "method", method, "error", err)
		return fmt.Errorf("failed to update question: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update question: %w", err)
	}
	if n == 0 {
		err = pkgerrors.ErrInvalidState
		return err
	}
	return nil
}

func (r *PostgresQuestionRepository) Accept(ctx context.Context, id int64, now time.Time) error {
	return r.transition(ctx, "AcceptQuestion", `
		UPDATE questions
		SET status = 'accepted', accepted_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, now)
}

func (r *PostgresQuestionRepository) Decline(ctx context.Context, id int64, reason string, now time.Time) error {
	return r.transition(ctx, "DeclineQuestion", `
		UPDATE questions
		SET status = 'declined', declined_at = $2, decline_reason = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, now, reason)
}

func (r *PostgresQuestionRepository) Complete(ctx context.Context, id int64, answer *models.Answer, now time.Time) error {
	payload, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("failed to marshal answer: %w", err)
	}
	return r.transition(ctx, "CompleteQuestion", `
		UPDATE questions
		SET status = 'completed', completed_at = $2, answer = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'accepted'
	`, id, now, payload)
}

func (r *PostgresQuestionRepository) Cancel(ctx context.Context, id int64, reason string, now time.Time) error {
	return r.transition(ctx, "CancelQuestion", `
		UPDATE questions
		SET status = 'cancelled', cancelled_at = $2, decline_reason = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, now, reason)
}

// Expire wins only against pending or accepted questions. The status the row
// held before expiry is kept in expired_from for audit.
func (r *PostgresQuestionRepository) Expire(ctx context.Context, id int64, now time.Time) (models.QuestionStatus, error) {
	var from models.QuestionStatus
	query := `
		UPDATE questions
		SET status = 'expired', expired_at = $2, expired_from = status, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'accepted')
		RETURNING expired_from
	`
	err := r.db.QueryRowContext(ctx, query, id, now).Scan(&from)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", pkgerrors.ErrInvalidState
	}
	if err != nil {
		return "", fmt.Errorf("failed to expire question: %w", err)
	}
	return from, nil
}

func (r *PostgresQuestionRepository) MarkRefunded(ctx context.Context, id int64, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE questions
		SET refunded_at = COALESCE(refunded_at, $2), updated_at = NOW()
		WHERE id = $1
	`, id, now)
	if err != nil {
		return fmt.Errorf("failed to mark refunded: %w", err)
	}
	return nil
}

func (r *PostgresQuestionRepository) SetRating(ctx context.Context, id int64, stars int, feedback string, now time.Time) error {
	if stars < 1 || stars > 5 {
		return fmt.Errorf("%w: rating must be between 1 and 5", pkgerrors.ErrValidation)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE questions
		SET rating_stars = $2, rating_feedback = $3, rated_at = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'completed' AND rating_stars IS NULL
	`, id, stars, feedback, now)
	if err != nil {
		return fmt.Errorf("failed to set rating: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to set rating: %w", err)
	}
	if n == 0 {
		q, getErr := r.GetByID(ctx, id)
		if getErr != nil {
			return getErr
		}
		if q.Rating != nil {
			return pkgerrors.ErrAlreadyRated
		}
		return pkgerrors.ErrInvalidState
	}
	return nil
}

func (r *PostgresQuestionRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Question, error) {
	if limit < 1 {
		limit = 100
	}
	query := `SELECT ` + questionColumns + ` FROM questions
		WHERE status IN ('pending', 'accepted') AND expires_at <= $1
		ORDER BY expires_at ASC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired questions: %w", err)
	}
	defer rows.Close()

	var out []models.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}

// ListRefundDue finds questions the lifecycle left holding client money: the
// terminal transition committed but the refund never landed. The fixed
// refund reference keeps re-driving these safe.
func (r *PostgresQuestionRepository) ListRefundDue(ctx context.Context, limit int) ([]models.Question, error) {
	if limit < 1 {
		limit = 100
	}
	query := `SELECT ` + questionColumns + ` FROM questions
		WHERE status IN ('declined', 'cancelled', 'expired') AND refunded_at IS NULL
		ORDER BY updated_at ASC LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unrefunded questions: %w", err)
	}
	defer rows.Close()

	var out []models.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}

// ListPayoutDue finds completed questions whose expert was never credited.
func (r *PostgresQuestionRepository) ListPayoutDue(ctx context.Context, limit int) ([]models.Question, error) {
	if limit < 1 {
		limit = 100
	}
	query := `SELECT ` + questionColumns + ` FROM questions
		WHERE status = 'completed'
		AND NOT EXISTS (
			SELECT 1 FROM ledger_entries le
			WHERE le.reference = 'earn:' || questions.id
		)
		ORDER BY updated_at ASC LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unpaid questions: %w", err)
	}
	defer rows.Close()

	var out []models.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}

func (r *PostgresQuestionRepository) ListExpiringWithin(ctx context.Context, now time.Time, window time.Duration) ([]models.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions
		WHERE status IN ('pending', 'accepted') AND expires_at > $1 AND expires_at <= $2
		ORDER BY expires_at ASC`
	rows, err := r.db.QueryContext(ctx, query, now, now.Add(window))
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring questions: %w", err)
	}
	defer rows.Close()

	var out []models.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}
