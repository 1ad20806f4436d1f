package repository

import (
	"context"
	"time"

	"github.com/zemenaye/askexpert/internal/models"
)

// QuestionRepository owns question rows. Every status transition is a
// conditional update keyed on the expected current status, so two racing
// callers cannot both win; the loser sees ErrInvalidState.
type QuestionRepository interface {
	Create(ctx context.Context, q *models.Question) error
	GetByID(ctx context.Context, id int64) (*models.Question, error)
	ListByClient(ctx context.Context, clientID int64, page, limit int) ([]models.Question, error)
	ListByExpert(ctx context.Context, expertID int64, page, limit int) ([]models.Question, error)

	Accept(ctx context.Context, id int64, now time.Time) error
	Decline(ctx context.Context, id int64, reason string, now time.Time) error
	Complete(ctx context.Context, id int64, answer *models.Answer, now time.Time) error
	Cancel(ctx context.Context, id int64, reason string, now time.Time) error
	// Expire transitions from pending or accepted and returns the pre-state
	// for audit.
	Expire(ctx context.Context, id int64, now time.Time) (models.QuestionStatus, error)
	// MarkRefunded records the refund timestamp; a second call is a no-op.
	MarkRefunded(ctx context.Context, id int64, now time.Time) error
	SetRating(ctx context.Context, id int64, stars int, feedback string, now time.Time) error

	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Question, error)
	ListExpiringWithin(ctx context.Context, now time.Time, window time.Duration) ([]models.Question, error)
	// ListRefundDue returns terminal questions whose client money is still
	// held: declined, cancelled or expired with no refund recorded.
	ListRefundDue(ctx context.Context, limit int) ([]models.Question, error)
	// ListPayoutDue returns completed questions with no earning ledger entry.
	ListPayoutDue(ctx context.Context, limit int) ([]models.Question, error)
}
