package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/zemenaye/askexpert/internal/events"
	eventmocks "github.com/zemenaye/askexpert/internal/events/mocks"
	redismocks "github.com/zemenaye/askexpert/internal/infrastructure/redis/mocks"
	"github.com/zemenaye/askexpert/internal/models"
	repositorymocks "github.com/zemenaye/askexpert/internal/repository/mocks"
	pkgerrors "github.com/zemenaye/askexpert/pkg/errors"
	"github.com/stretchr/testify/assert"
)

type sweeperFixture struct {
	questionRepo *repositorymocks.MockQuestionRepository
	referralRepo *repositorymocks.MockReferralRepository
	walletRepo   *repositorymocks.MockWalletRepository
	ledgerRepo   *repositorymocks.MockLedgerRepository
	userRepo     *repositorymocks.MockUserRepository
	redisClient  *redismocks.MockRedisClient
	emitter      *eventmocks.MockEmitter
	sweeper      *Sweeper
	now          time.Time
}

func newSweeperFixture(t *testing.T) *sweeperFixture {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	f := &sweeperFixture{
		questionRepo: repositorymocks.NewMockQuestionRepository(ctrl),
		referralRepo: repositorymocks.NewMockReferralRepository(ctrl),
		walletRepo:   repositorymocks.NewMockWalletRepository(ctrl),
		ledgerRepo:   repositorymocks.NewMockLedgerRepository(ctrl),
		userRepo:     repositorymocks.NewMockUserRepository(ctrl),
		redisClient:  redismocks.NewMockRedisClient(ctrl),
		emitter:      eventmocks.NewMockEmitter(ctrl),
		now:          time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	wallet := NewWalletService(f.walletRepo, f.ledgerRepo, f.redisClient, f.emitter, "ETB")
	referrals := NewReferralService(f.referralRepo, wallet, ReferralConfig{RateBps: 500, Window: 90 * 24 * time.Hour})
	questions := NewQuestionService(f.questionRepo, f.userRepo, wallet, referrals, f.emitter, QuestionConfig{
		FeeBps:        500,
		CommissionBps: 1000,
		TTL:           12 * time.Hour,
		Currency:      "ETB",
	})
	f.sweeper = NewSweeper(questions, f.questionRepo, referrals, f.redisClient, f.emitter, 5*time.Minute)
	f.sweeper.now = func() time.Time { return f.now }
	return f
}

func overdueQuestion(id int64) models.Question {
	return models.Question{
		ID:       id,
		ClientID: 1,
		ExpertID: 7,
		Status:   models.StatusPending,
		Pricing:  models.ComputePricing(100000, 500, 1000, "ETB"),
		Timeline: models.Timeline{
			SubmittedAt: time.Date(2026, 2, 28, 20, 0, 0, 0, time.UTC),
			ExpiresAt:   time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		},
	}
}

func TestSweeper_ExpiresOverdueQuestions(t *testing.T) {
	f := newSweeperFixture(t)
	q := overdueQuestion(42)

	f.questionRepo.EXPECT().ListExpired(gomock.Any(), f.now, 100).Return([]models.Question{q}, nil)
	f.questionRepo.EXPECT().GetByID(gomock.Any(), int64(42)).Return(&q, nil)
	f.questionRepo.EXPECT().Expire(gomock.Any(), int64(42), gomock.Any()).Return(models.StatusPending, nil)
	f.walletRepo.EXPECT().ApplyDelta(gomock.Any(), gomock.Any()).Return(int64(500000), nil)
	f.redisClient.EXPECT().Del(gomock.Any(), "user:1:balance").Return(nil)
	f.questionRepo.EXPECT().MarkRefunded(gomock.Any(), int64(42), gomock.Any()).Return(nil)
	f.emitter.EXPECT().EmitQuestion(gomock.Any(), gomock.Any())

	f.questionRepo.EXPECT().ListRefundDue(gomock.Any(), 100).Return(nil, nil)
	f.questionRepo.EXPECT().ListPayoutDue(gomock.Any(), 100).Return(nil, nil)
	f.questionRepo.EXPECT().ListExpiringWithin(gomock.Any(), f.now, time.Hour).Return(nil, nil)
	f.referralRepo.EXPECT().ExpireDue(gomock.Any(), gomock.Any()).Return(int64(0), nil)

	f.sweeper.Sweep(context.Background())
}

func TestSweeper_OneFailureDoesNotAbortTheBatch(t *testing.T) {
	f := newSweeperFixture(t)
	bad := overdueQuestion(41)
	good := overdueQuestion(42)

	f.questionRepo.EXPECT().ListExpired(gomock.Any(), f.now, 100).Return([]models.Question{bad, good}, nil)

	// First question fails at load, the second still expires.
	f.questionRepo.EXPECT().GetByID(gomock.Any(), int64(41)).Return(nil, errors.New("db down"))
	f.questionRepo.EXPECT().GetByID(gomock.Any(), int64(42)).Return(&good, nil)
	f.questionRepo.EXPECT().Expire(gomock.Any(), int64(42), gomock.Any()).Return(models.StatusAccepted, nil)
	f.walletRepo.EXPECT().ApplyDelta(gomock.Any(), gomock.Any()).Return(int64(500000), nil)
	f.redisClient.EXPECT().Del(gomock.Any(), "user:1:balance").Return(nil)
	f.questionRepo.EXPECT().MarkRefunded(gomock.Any(), int64(42), gomock.Any()).Return(nil)
	f.emitter.EXPECT().EmitQuestion(gomock.Any(), gomock.Any())

	f.questionRepo.EXPECT().ListRefundDue(gomock.Any(), 100).Return(nil, nil)
	f.questionRepo.EXPECT().ListPayoutDue(gomock.Any(), 100).Return(nil, nil)
	f.questionRepo.EXPECT().ListExpiringWithin(gomock.Any(), f.now, time.Hour).Return(nil, nil)
	f.referralRepo.EXPECT().ExpireDue(gomock.Any(), gomock.Any()).Return(int64(0), nil)

	f.sweeper.Sweep(context.Background())
}

// A refund that failed after decline, cancel or expiry leaves the question
// terminal and unrefunded; the sweeper must keep re-driving it until the
// client's money comes back.
func TestSweeper_RetriesOutstandingRefunds(t *testing.T) {
	f := newSweeperFixture(t)
	q := overdueQuestion(42)
	q.Status = models.StatusDeclined

	f.questionRepo.EXPECT().ListExpired(gomock.Any(), f.now, 100).Return(nil, nil)
	f.questionRepo.EXPECT().ListRefundDue(gomock.Any(), 100).Return([]models.Question{q}, nil)
	f.questionRepo.EXPECT().GetByID(gomock.Any(), int64(42)).Return(&q, nil)
	f.walletRepo.EXPECT().ApplyDelta(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, entry *models.LedgerEntry) (int64, error) {
			assert.Equal(t, models.EntryCredit, entry.Type)
			assert.Equal(t, "refund:42", entry.Reference)
			assert.Equal(t, int64(105000), entry.Amount)
			return 500000, nil
		})
	f.redisClient.EXPECT().Del(gomock.Any(), "user:1:balance").Return(nil)
	f.questionRepo.EXPECT().MarkRefunded(gomock.Any(), int64(42), gomock.Any()).Return(nil)

	f.questionRepo.EXPECT().ListPayoutDue(gomock.Any(), 100).Return(nil, nil)
	f.questionRepo.EXPECT().ListExpiringWithin(gomock.Any(), f.now, time.Hour).Return(nil, nil)
	f.referralRepo.EXPECT().ExpireDue(gomock.Any(), gomock.Any()).Return(int64(0), nil)

	f.sweeper.Sweep(context.Background())
}

// A completed question whose earning credit never landed is settled by the
// sweeper, including the follow-on referral lookup and expert stats.
func TestSweeper_SettlesUnpaidCompletions(t *testing.T) {
	f := newSweeperFixture(t)
	q := overdueQuestion(42)
	q.Status = models.StatusCompleted

	f.questionRepo.EXPECT().ListExpired(gomock.Any(), f.now, 100).Return(nil, nil)
	f.questionRepo.EXPECT().ListRefundDue(gomock.Any(), 100).Return(nil, nil)
	f.questionRepo.EXPECT().ListPayoutDue(gomock.Any(), 100).Return([]models.Question{q}, nil)
	f.questionRepo.EXPECT().GetByID(gomock.Any(), int64(42)).Return(&q, nil)
	f.walletRepo.EXPECT().ApplyDelta(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, entry *models.LedgerEntry) (int64, error) {
			assert.Equal(t, models.EntryCredit, entry.Type)
			assert.Equal(t, "earn:42", entry.Reference)
			assert.Equal(t, int64(90000), entry.Amount)
			return 90000, nil
		})
	f.redisClient.EXPECT().Del(gomock.Any(), "user:7:balance").Return(nil)
	f.walletRepo.EXPECT().GetByUser(gomock.Any(), int64(7)).Return(&models.Wallet{UserID: 7, Balance: 90000, TotalEarnings: 90000}, nil)
	f.emitter.EXPECT().EmitEarnings(gomock.Any(), gomock.Any())
	f.referralRepo.EXPECT().GetActiveByReferred(gomock.Any(), int64(7), gomock.Any()).Return(nil, pkgerrors.ErrReferralNotFound)
	f.userRepo.EXPECT().IncrementAnswered(gomock.Any(), int64(7)).Return(nil)

	f.questionRepo.EXPECT().ListExpiringWithin(gomock.Any(), f.now, time.Hour).Return(nil, nil)
	f.referralRepo.EXPECT().ExpireDue(gomock.Any(), gomock.Any()).Return(int64(0), nil)

	f.sweeper.Sweep(context.Background())
}

func TestSweeper_ExpiryWarnings(t *testing.T) {
	t.Run("warns once per threshold", func(t *testing.T) {
		f := newSweeperFixture(t)
		q := overdueQuestion(42)
		q.Timeline.ExpiresAt = f.now.Add(25 * time.Minute)

		f.questionRepo.EXPECT().ListExpired(gomock.Any(), f.now, 100).Return(nil, nil)
		f.questionRepo.EXPECT().ListRefundDue(gomock.Any(), 100).Return(nil, nil)
		f.questionRepo.EXPECT().ListPayoutDue(gomock.Any(), 100).Return(nil, nil)
		f.questionRepo.EXPECT().ListExpiringWithin(gomock.Any(), f.now, time.Hour).Return([]models.Question{q}, nil)
		f.redisClient.EXPECT().SetNX(gomock.Any(), "qwarn:42:30", "1", gomock.Any()).Return(true, nil)
		f.emitter.EXPECT().EmitQuestion(gomock.Any(), gomock.Any()).Do(
			func(_ context.Context, ev events.QuestionEvent) {
				assert.Equal(t, events.TypeExpiryWarning, ev.Type)
				assert.Equal(t, int64(42), ev.QuestionID)
				assert.Equal(t, 25, ev.MinutesRemaining)
			})
		f.referralRepo.EXPECT().ExpireDue(gomock.Any(), gomock.Any()).Return(int64(0), nil)

		f.sweeper.Sweep(context.Background())
	})

	t.Run("deduped warning is not re-emitted", func(t *testing.T) {
		f := newSweeperFixture(t)
		q := overdueQuestion(42)
		q.Timeline.ExpiresAt = f.now.Add(45 * time.Minute)

		f.questionRepo.EXPECT().ListExpired(gomock.Any(), f.now, 100).Return(nil, nil)
		f.questionRepo.EXPECT().ListRefundDue(gomock.Any(), 100).Return(nil, nil)
		f.questionRepo.EXPECT().ListPayoutDue(gomock.Any(), 100).Return(nil, nil)
		f.questionRepo.EXPECT().ListExpiringWithin(gomock.Any(), f.now, time.Hour).Return([]models.Question{q}, nil)
		f.redisClient.EXPECT().SetNX(gomock.Any(), "qwarn:42:60", "1", gomock.Any()).Return(false, nil)
		f.referralRepo.EXPECT().ExpireDue(gomock.Any(), gomock.Any()).Return(int64(0), nil)

		f.sweeper.Sweep(context.Background())
	})
}

func TestSweeper_ExpiresReferralLinks(t *testing.T) {
	f := newSweeperFixture(t)

	f.questionRepo.EXPECT().ListExpired(gomock.Any(), f.now, 100).Return(nil, nil)
	f.questionRepo.EXPECT().ListRefundDue(gomock.Any(), 100).Return(nil, nil)
	f.questionRepo.EXPECT().ListPayoutDue(gomock.Any(), 100).Return(nil, nil)
	f.questionRepo.EXPECT().ListExpiringWithin(gomock.Any(), f.now, time.Hour).Return(nil, nil)
	f.referralRepo.EXPECT().ExpireDue(gomock.Any(), gomock.Any()).Return(int64(3), nil)

	f.sweeper.Sweep(context.Background())
}
