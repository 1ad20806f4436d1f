package repository_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/zemenaye/askexpert/internal/models"
	repository "github.com/zemenaye/askexpert/internal/repository/postgres"
	pkgerrors "github.com/zemenaye/askexpert/pkg/errors"
)

var questionTestColumns = []string{
	"id", "client_id", "expert_id", "format", "text", "attachments", "answer", "status",
	"amount", "client_fee", "client_charge", "expert_earning", "platform_commission", "currency",
	"submitted_at", "accepted_at", "declined_at", "completed_at", "cancelled_at", "expired_at", "refunded_at", "expires_at",
	"decline_reason", "rating_stars", "rating_feedback", "rated_at", "expired_from", "created_at", "updated_at",
}

// pendingQuestionRow mirrors the column list the repository selects, with all
// nullable fields empty.
func pendingQuestionRow(id int64, submittedAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(questionTestColumns).AddRow(
		id, int64(3), int64(7), "text", "How do I price my service?", []byte(`[]`), nil, "pending",
		int64(100000), int64(5000), int64(105000), int64(90000), int64(10000), "ETB",
		submittedAt, nil, nil, nil, nil, nil, nil, submittedAt.Add(12*time.Hour),
		nil, nil, nil, nil, "", submittedAt, submittedAt,
	)
}

func TestPostgresQuestionRepository_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresQuestionRepository(db)
	ctx := context.Background()

	newQuestion := func() *models.Question {
		submitted := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		return &models.Question{
			ClientID: 3,
			ExpertID: 7,
			Format:   models.FormatText,
			Text:     "How do I price my service?",
			Attachments: []models.Attachment{
				{URL: "https://cdn.example.com/brief.pdf", FileName: "brief.pdf", MIMEType: "application/pdf"},
			},
			Pricing: models.ComputePricing(100000, 500, 1000, "ETB"),
			Timeline: models.Timeline{
				SubmittedAt: submitted,
				ExpiresAt:   submitted.Add(12 * time.Hour),
			},
		}
	}

	t.Run("NilQuestion", func(t *testing.T) {
		err := repo.Create(ctx, nil)
		assert.ErrorIs(t, err, pkgerrors.ErrValidation)
	})

	t.Run("MissingText", func(t *testing.T) {
		q := newQuestion()
		q.Text = ""
		err := repo.Create(ctx, q)
		assert.ErrorIs(t, err, pkgerrors.ErrValidation)
		assert.Contains(t, err.Error(), "question text is required")
	})

	t.Run("InvalidFormat", func(t *testing.T) {
		q := newQuestion()
		q.Format = "hologram"
		err := repo.Create(ctx, q)
		assert.ErrorIs(t, err, pkgerrors.ErrValidation)
	})

	t.Run("Success", func(t *testing.T) {
		q := newQuestion()
		attachments, marshalErr := json.Marshal(q.Attachments)
		assert.NoError(t, marshalErr)
		createdAt := time.Now().UTC()
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO questions`)).
			WithArgs(q.ClientID, q.ExpertID, q.Format, q.Text, attachments,
				q.Pricing.Amount, q.Pricing.ClientFee, q.Pricing.ClientCharge,
				q.Pricing.ExpertEarning, q.Pricing.PlatformCommission, q.Pricing.Currency,
				q.Timeline.SubmittedAt, q.Timeline.ExpiresAt).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(42), createdAt, createdAt))

		err := repo.Create(ctx, q)
		assert.NoError(t, err)
		assert.Equal(t, int64(42), q.ID)
		assert.Equal(t, models.StatusPending, q.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DatabaseError", func(t *testing.T) {
		q := newQuestion()
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO questions`)).
			WillReturnError(fmt.Errorf("database error"))

		err := repo.Create(ctx, q)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create question")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresQuestionRepository_GetByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresQuestionRepository(db)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		submitted := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		mock.ExpectQuery(regexp.QuoteMeta(`FROM questions WHERE id = $1`)).
			WithArgs(int64(42)).
			WillReturnRows(pendingQuestionRow(42, submitted))

		q, err := repo.GetByID(ctx, 42)
		assert.NoError(t, err)
		assert.Equal(t, int64(42), q.ID)
		assert.Equal(t, models.StatusPending, q.Status)
		assert.Equal(t, int64(90000), q.Pricing.ExpertEarning)
		assert.Equal(t, submitted.Add(12*time.Hour), q.Timeline.ExpiresAt)
		assert.Nil(t, q.Answer)
		assert.Nil(t, q.Rating)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("AnswerAndRatingPresent", func(t *testing.T) {
		submitted := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		answered := submitted.Add(2 * time.Hour)
		answer := []byte(`{"text":"Charge per engagement, not per hour."}`)
		rows := sqlmock.NewRows(questionTestColumns).AddRow(
			int64(42), int64(3), int64(7), "text", "How do I price my service?", []byte(`[]`), answer, "completed",
			int64(100000), int64(5000), int64(105000), int64(90000), int64(10000), "ETB",
			submitted, answered, nil, answered, nil, nil, nil, submitted.Add(12*time.Hour),
			nil, int64(5), "very helpful", answered, "", submitted, answered,
		)
		mock.ExpectQuery(regexp.QuoteMeta(`FROM questions WHERE id = $1`)).
			WithArgs(int64(42)).
			WillReturnRows(rows)

		q, err := repo.GetByID(ctx, 42)
		assert.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, q.Status)
		assert.NotNil(t, q.Answer)
		assert.Equal(t, "Charge per engagement, not per hour.", q.Answer.Text)
		assert.NotNil(t, q.Rating)
		assert.Equal(t, 5, q.Rating.Stars)
		assert.Equal(t, "very helpful", q.Rating.Feedback)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("QuestionNotFound", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`FROM questions WHERE id = $1`)).
			WithArgs(int64(99)).
			WillReturnError(sql.ErrNoRows)

		q, err := repo.GetByID(ctx, 99)
		assert.Nil(t, q)
		assert.ErrorIs(t, err, pkgerrors.ErrQuestionNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresQuestionRepository_Transitions(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresQuestionRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("AcceptSuccess", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`SET status = 'accepted', accepted_at = $2`)).
			WithArgs(int64(42), now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.Accept(ctx, 42, now)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("AcceptLostRace", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`SET status = 'accepted', accepted_at = $2`)).
			WithArgs(int64(42), now).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.Accept(ctx, 42, now)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidState)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("AcceptDatabaseError", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`SET status = 'accepted', accepted_at = $2`)).
			WithArgs(int64(42), now).
			WillReturnError(fmt.Errorf("database error"))

		err := repo.Accept(ctx, 42, now)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to update question")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DeclineSuccess", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`SET status = 'declined', declined_at = $2, decline_reason = $3`)).
			WithArgs(int64(42), now, "outside my expertise").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.Decline(ctx, 42, "outside my expertise", now)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("CompleteSuccess", func(t *testing.T) {
		answer := &models.Answer{Text: "Charge per engagement, not per hour."}
		payload, marshalErr := json.Marshal(answer)
		assert.NoError(t, marshalErr)
		mock.ExpectExec(regexp.QuoteMeta(`SET status = 'completed', completed_at = $2, answer = $3`)).
			WithArgs(int64(42), now, payload).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.Complete(ctx, 42, answer, now)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("CompleteNotAccepted", func(t *testing.T) {
		answer := &models.Answer{Text: "too late"}
		mock.ExpectExec(regexp.QuoteMeta(`SET status = 'completed', completed_at = $2, answer = $3`)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.Complete(ctx, 42, answer, now)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidState)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("CancelSuccess", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`SET status = 'cancelled', cancelled_at = $2, decline_reason = $3`)).
			WithArgs(int64(42), now, "asked by mistake").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.Cancel(ctx, 42, "asked by mistake", now)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresQuestionRepository_Expire(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresQuestionRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)

	t.Run("Success", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SET status = 'expired', expired_at = $2, expired_from = status`)).
			WithArgs(int64(42), now).
			WillReturnRows(sqlmock.NewRows([]string{"expired_from"}).AddRow("accepted"))

		from, err := repo.Expire(ctx, 42, now)
		assert.NoError(t, err)
		assert.Equal(t, models.StatusAccepted, from)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("AlreadyTerminal", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SET status = 'expired', expired_at = $2, expired_from = status`)).
			WithArgs(int64(42), now).
			WillReturnError(sql.ErrNoRows)

		from, err := repo.Expire(ctx, 42, now)
		assert.Equal(t, models.QuestionStatus(""), from)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidState)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresQuestionRepository_MarkRefunded(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresQuestionRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`SET refunded_at = COALESCE(refunded_at, $2)`)).
			WithArgs(int64(42), now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.MarkRefunded(ctx, 42, now)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("AlreadyRefundedIsIdempotent", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`SET refunded_at = COALESCE(refunded_at, $2)`)).
			WithArgs(int64(42), now).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.MarkRefunded(ctx, 42, now)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresQuestionRepository_SetRating(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresQuestionRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	t.Run("InvalidStars", func(t *testing.T) {
		err := repo.SetRating(ctx, 42, 0, "", now)
		assert.ErrorIs(t, err, pkgerrors.ErrValidation)

		err = repo.SetRating(ctx, 42, 6, "", now)
		assert.ErrorIs(t, err, pkgerrors.ErrValidation)
	})

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`SET rating_stars = $2, rating_feedback = $3, rated_at = $4`)).
			WithArgs(int64(42), 5, "very helpful", now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.SetRating(ctx, 42, 5, "very helpful", now)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("AlreadyRated", func(t *testing.T) {
		submitted := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		rated := sqlmock.NewRows(questionTestColumns).AddRow(
			int64(42), int64(3), int64(7), "text", "How do I price my service?", []byte(`[]`), nil, "completed",
			int64(100000), int64(5000), int64(105000), int64(90000), int64(10000), "ETB",
			submitted, nil, nil, submitted.Add(time.Hour), nil, nil, nil, submitted.Add(12*time.Hour),
			nil, int64(4), "ok", submitted.Add(2*time.Hour), "", submitted, submitted,
		)
		mock.ExpectExec(regexp.QuoteMeta(`SET rating_stars = $2, rating_feedback = $3, rated_at = $4`)).
			WithArgs(int64(42), 3, "", now).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta(`FROM questions WHERE id = $1`)).
			WithArgs(int64(42)).
			WillReturnRows(rated)

		err := repo.SetRating(ctx, 42, 3, "", now)
		assert.ErrorIs(t, err, pkgerrors.ErrAlreadyRated)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotCompleted", func(t *testing.T) {
		submitted := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		mock.ExpectExec(regexp.QuoteMeta(`SET rating_stars = $2, rating_feedback = $3, rated_at = $4`)).
			WithArgs(int64(42), 3, "", now).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta(`FROM questions WHERE id = $1`)).
			WithArgs(int64(42)).
			WillReturnRows(pendingQuestionRow(42, submitted))

		err := repo.SetRating(ctx, 42, 3, "", now)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidState)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresQuestionRepository_ListExpired(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresQuestionRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)

	t.Run("Success", func(t *testing.T) {
		submitted := now.Add(-13 * time.Hour)
		mock.ExpectQuery(regexp.QuoteMeta(`WHERE status IN ('pending', 'accepted') AND expires_at <= $1`)).
			WithArgs(now, 100).
			WillReturnRows(pendingQuestionRow(42, submitted))

		out, err := repo.ListExpired(ctx, now, 100)
		assert.NoError(t, err)
		assert.Len(t, out, 1)
		assert.Equal(t, int64(42), out[0].ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NothingDue", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`WHERE status IN ('pending', 'accepted') AND expires_at <= $1`)).
			WithArgs(now, 100).
			WillReturnRows(sqlmock.NewRows(questionTestColumns))

		out, err := repo.ListExpired(ctx, now, 100)
		assert.NoError(t, err)
		assert.Empty(t, out)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresQuestionRepository_ListRefundDue(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresQuestionRepository(db)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		submitted := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
		mock.ExpectQuery(regexp.QuoteMeta(`WHERE status IN ('declined', 'cancelled', 'expired') AND refunded_at IS NULL`)).
			WithArgs(100).
			WillReturnRows(pendingQuestionRow(42, submitted))

		out, err := repo.ListRefundDue(ctx, 100)
		assert.NoError(t, err)
		assert.Len(t, out, 1)
		assert.Equal(t, int64(42), out[0].ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NothingDue", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`refunded_at IS NULL`)).
			WithArgs(100).
			WillReturnRows(sqlmock.NewRows(questionTestColumns))

		out, err := repo.ListRefundDue(ctx, 100)
		assert.NoError(t, err)
		assert.Empty(t, out)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresQuestionRepository_ListPayoutDue(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresQuestionRepository(db)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		submitted := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
		mock.ExpectQuery(regexp.QuoteMeta(`WHERE le.reference = 'earn:' || questions.id`)).
			WithArgs(100).
			WillReturnRows(pendingQuestionRow(42, submitted))

		out, err := repo.ListPayoutDue(ctx, 100)
		assert.NoError(t, err)
		assert.Len(t, out, 1)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DatabaseError", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`WHERE status = 'completed'`)).
			WithArgs(100).
			WillReturnError(assert.AnError)

		_, err := repo.ListPayoutDue(ctx, 100)
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresQuestionRepository_ListExpiringWithin(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresQuestionRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC)

	t.Run("Success", func(t *testing.T) {
		submitted := now.Add(-11*time.Hour - 30*time.Minute)
		mock.ExpectQuery(regexp.QuoteMeta(`AND expires_at > $1 AND expires_at <= $2`)).
			WithArgs(now, now.Add(time.Hour)).
			WillReturnRows(pendingQuestionRow(42, submitted))

		out, err := repo.ListExpiringWithin(ctx, now, time.Hour)
		assert.NoError(t, err)
		assert.Len(t, out, 1)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
