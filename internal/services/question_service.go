package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/zemenaye/askexpert/internal/events"
	"github.com/zemenaye/askexpert/internal/models"
	"github.com/zemenaye/askexpert/internal/repository"
	pkgerrors "github.com/zemenaye/askexpert/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

type SubmitParams struct {
	ClientID    int64
	ExpertID    int64
	Format      models.ResponseFormat
	Text        string
	Attachments []models.Attachment
	// Amount the client expects to pay; must match the expert's listed price
	// for the format.
	Amount int64
}

// QuestionService is the sole authority over question status transitions. No
// other component writes the status column.
type QuestionService interface {
	Submit(ctx context.Context, p SubmitParams) (*models.Question, error)
	Accept(ctx context.Context, questionID, expertID int64) (*models.Question, error)
	Decline(ctx context.Context, questionID, expertID int64, reason string) (*models.Question, error)
	Complete(ctx context.Context, questionID, expertID int64, answer *models.Answer) (*models.Question, error)
	Cancel(ctx context.Context, questionID, clientID int64) (*models.Question, error)
	Expire(ctx context.Context, questionID int64) error
	// Refund re-drives the client refund for a terminal question whose money
	// is still held. Idempotent; driven by the sweeper.
	Refund(ctx context.Context, questionID int64) error
	// Settle re-drives the expert payout for a completed question that was
	// never credited. Idempotent; driven by the sweeper.
	Settle(ctx context.Context, questionID int64) error
	Rate(ctx context.Context, questionID, clientID int64, stars int, feedback string) error
	Get(ctx context.Context, questionID int64) (*models.Question, error)
	ListByClient(ctx context.Context, clientID int64, page, limit int) ([]models.Question, error)
	ListByExpert(ctx context.Context, expertID int64, page, limit int) ([]models.Question, error)
}

type QuestionConfig struct {
	FeeBps        int64
	CommissionBps int64
	TTL           time.Duration
	Currency      string
}

type questionService struct {
	questionRepo repository.QuestionRepository
	userRepo     repository.UserRepository
	wallet       WalletService
	referrals    ReferralService
	emitter      events.Emitter
	cfg          QuestionConfig
	now          func() time.Time
}

func NewQuestionService(
	questionRepo repository.QuestionRepository,
	userRepo repository.UserRepository,
	wallet WalletService,
	referrals ReferralService,
	emitter events.Emitter,
	cfg QuestionConfig,
) *questionService {
	return &questionService{
		questionRepo: questionRepo,
		userRepo:     userRepo,
		wallet:       wallet,
		referrals:    referrals,
		emitter:      emitter,
		cfg:          cfg,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Submit debits the client for the fee-inclusive charge, then creates the
// question. The question is never created if the debit fails; if the create
// fails after a successful debit, the debit is reversed.
func (s *questionService) Submit(ctx context.Context, p SubmitParams) (*models.Question, error) {
	tracer := otel.Tracer("question-service")
	ctx, span := tracer.Start(ctx, "Submit")
	defer span.End()

	if p.Text == "" {
		return nil, fmt.Errorf("%w: question text is required", pkgerrors.ErrValidation)
	}
	if !p.Format.Valid() {
		return nil, fmt.Errorf("%w: unknown response format %q", pkgerrors.ErrValidation, p.Format)
	}

	expert, err := s.userRepo.GetByID(ctx, p.ExpertID)
	if err != nil {
		return nil, err
	}
	if !expert.Supports(p.Format) {
		span.SetStatus(codes.Error, "unsupported format")
		return nil, fmt.Errorf("%w: %s", pkgerrors.ErrUnsupportedFormat, p.Format)
	}
	price := expert.PriceFor(p.Format)
	if price <= 0 {
		return nil, fmt.Errorf("%w: expert has no price for %s responses", pkgerrors.ErrValidation, p.Format)
	}
	if p.Amount != 0 && p.Amount != price {
		return nil, fmt.Errorf("%w: expected amount %d, expert charges %d", pkgerrors.ErrValidation, p.Amount, price)
	}

	pricing := models.ComputePricing(price, s.cfg.FeeBps, s.cfg.CommissionBps, s.cfg.Currency)
	paymentRef := "qpay:" + uuid.NewString()

	if _, err := s.wallet.Debit(ctx, MoveParams{
		UserID:      p.ClientID,
		Amount:      pricing.ClientCharge,
		Category:    models.CategoryQuestionPayment,
		Description: fmt.Sprintf("payment for %s question to %s", p.Format, expert.DisplayName),
		Reference:   paymentRef,
		RelatedUser: p.ExpertID,
	}); err != nil && !stderrors.Is(err, pkgerrors.ErrDuplicateEntry) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "payment debit failed")
		return nil, err
	}

	now := s.now()
	q := &models.Question{
		ClientID:    p.ClientID,
		ExpertID:    p.ExpertID,
		Format:      p.Format,
		Text:        p.Text,
		Attachments: p.Attachments,
		Pricing:     pricing,
		Timeline: models.Timeline{
			SubmittedAt: now,
			ExpiresAt:   now.Add(s.cfg.TTL),
		},
	}
	if err := s.questionRepo.Create(ctx, q); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "question create failed, reversing payment")
		slog.Error("question create failed after debit, reversing", "client_id", p.ClientID, "reference", paymentRef, "error", err)
		if _, revErr := s.wallet.Credit(ctx, MoveParams{
			UserID:      p.ClientID,
			Amount:      pricing.ClientCharge,
			Category:    models.CategoryRefund,
			Description: "reversal of question payment",
			Reference:   paymentRef + ":reversal",
			RelatedUser: p.ExpertID,
		}); revErr != nil && !stderrors.Is(revErr, pkgerrors.ErrDuplicateEntry) {
			slog.Error("payment reversal failed, ledger requires attention", "reference", paymentRef, "error", revErr)
		}
		return nil, err
	}

	s.emitter.EmitQuestion(ctx, events.QuestionEvent{
		Type:       events.TypeNewQuestion,
		QuestionID: q.ID,
		ClientID:   q.ClientID,
		ExpertID:   q.ExpertID,
		Amount:     q.Pricing.Amount,
		At:         now,
	})

	slog.Info("question submitted", "question_id", q.ID, "client_id", q.ClientID,
		"expert_id", q.ExpertID, "charge", pricing.ClientCharge, "expires_at", q.Timeline.ExpiresAt)
	return q, nil
}

func (s *questionService) Accept(ctx context.Context, questionID, expertID int64) (*models.Question, error) {
	q, err := s.ownedByExpert(ctx, questionID, expertID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if q.ExpiredNow(now) {
		return nil, fmt.Errorf("%w: question has expired", pkgerrors.ErrInvalidState)
	}
	if err := s.questionRepo.Accept(ctx, questionID, now); err != nil {
		return nil, err
	}
	q.Status = models.StatusAccepted
	q.Timeline.AcceptedAt = &now

	s.emitter.EmitQuestion(ctx, events.QuestionEvent{
		Type:       events.TypeQuestionAccepted,
		QuestionID: q.ID,
		ClientID:   q.ClientID,
		ExpertID:   q.ExpertID,
		At:         now,
	})
	slog.Info("question accepted", "question_id", q.ID, "expert_id", expertID)
	return q, nil
}

func (s *questionService) Decline(ctx context.Context, questionID, expertID int64, reason string) (*models.Question, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: decline reason is required", pkgerrors.ErrValidation)
	}
	q, err := s.ownedByExpert(ctx, questionID, expertID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.questionRepo.Decline(ctx, questionID, reason, now); err != nil {
		return nil, err
	}
	q.Status = models.StatusDeclined
	q.DeclineReason = reason
	q.Timeline.DeclinedAt = &now

	refundErr := s.refund(ctx, q)
	if refundErr != nil {
		slog.Error("refund after decline failed, sweeper will retry", "question_id", q.ID, "error", refundErr)
	}

	s.emitter.EmitQuestion(ctx, events.QuestionEvent{
		Type:       events.TypeQuestionDeclined,
		QuestionID: q.ID,
		ClientID:   q.ClientID,
		ExpertID:   q.ExpertID,
		Reason:     reason,
		At:         now,
	})
	slog.Info("question declined", "question_id", q.ID, "expert_id", expertID, "reason", reason)
	if refundErr != nil {
		return q, fmt.Errorf("question declined but refund pending: %w", refundErr)
	}
	return q, nil
}

func (s *questionService) Complete(ctx context.Context, questionID, expertID int64, answer *models.Answer) (*models.Question, error) {
	tracer := otel.Tracer("question-service")
	ctx, span := tracer.Start(ctx, "Complete")
	defer span.End()

	if answer.Empty() {
		return nil, fmt.Errorf("%w: answer content is required", pkgerrors.ErrValidation)
	}
	q, err := s.ownedByExpert(ctx, questionID, expertID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.questionRepo.Complete(ctx, questionID, answer, now); err != nil {
		span.RecordError(err)
		return nil, err
	}
	q.Status = models.StatusCompleted
	q.Answer = answer
	q.Timeline.CompletedAt = &now

	payoutErr := s.payout(ctx, q)
	if payoutErr != nil {
		span.RecordError(payoutErr)
		slog.Error("expert earning credit failed, sweeper will settle", "question_id", q.ID, "expert_id", q.ExpertID, "error", payoutErr)
	}

	s.emitter.EmitQuestion(ctx, events.QuestionEvent{
		Type:       events.TypeQuestionCompleted,
		QuestionID: q.ID,
		ClientID:   q.ClientID,
		ExpertID:   q.ExpertID,
		Amount:     q.Pricing.ExpertEarning,
		At:         now,
	})
	slog.Info("question completed", "question_id", q.ID, "expert_id", expertID, "earning", q.Pricing.ExpertEarning)
	if payoutErr != nil {
		return q, fmt.Errorf("question completed but expert payout pending: %w", payoutErr)
	}
	return q, nil
}

// payout credits the expert's earning and runs the follow-on effects. The
// fixed earn reference makes it idempotent: if the credit already landed, the
// referral commission and stats ran with it and are not repeated.
func (s *questionService) payout(ctx context.Context, q *models.Question) error {
	_, err := s.wallet.Credit(ctx, MoveParams{
		UserID:      q.ExpertID,
		Amount:      q.Pricing.ExpertEarning,
		Category:    models.CategoryExpertEarning,
		Description: "earning from completed question",
		Reference:   fmt.Sprintf("earn:%d", q.ID),
		QuestionID:  q.ID,
		RelatedUser: q.ClientID,
	})
	if stderrors.Is(err, pkgerrors.ErrDuplicateEntry) {
		return nil
	}
	if err != nil {
		return err
	}

	// Referral payout is best-effort and never blocks the earning credit.
	s.referrals.OnExpertEarning(ctx, q.ExpertID, q.Pricing.ExpertEarning, q.ID)

	if err := s.userRepo.IncrementAnswered(ctx, q.ExpertID); err != nil {
		slog.Error("failed to bump expert stats", "expert_id", q.ExpertID, "error", err)
	}
	return nil
}

// Settle re-drives the payout for a completed question the earning credit
// never reached.
func (s *questionService) Settle(ctx context.Context, questionID int64) error {
	q, err := s.questionRepo.GetByID(ctx, questionID)
	if err != nil {
		return err
	}
	if q.Status != models.StatusCompleted {
		return fmt.Errorf("%w: only completed questions can be settled", pkgerrors.ErrInvalidState)
	}
	return s.payout(ctx, q)
}

func (s *questionService) Cancel(ctx context.Context, questionID, clientID int64) (*models.Question, error) {
	q, err := s.questionRepo.GetByID(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if q.ClientID != clientID {
		return nil, pkgerrors.ErrNotOwner
	}
	now := s.now()
	if err := s.questionRepo.Cancel(ctx, questionID, "cancelled by client", now); err != nil {
		return nil, err
	}
	q.Status = models.StatusCancelled
	q.Timeline.CancelledAt = &now

	refundErr := s.refund(ctx, q)
	if refundErr != nil {
		slog.Error("refund after cancel failed, sweeper will retry", "question_id", q.ID, "error", refundErr)
	}

	s.emitter.EmitQuestion(ctx, events.QuestionEvent{
		Type:       events.TypeQuestionDeclined,
		QuestionID: q.ID,
		ClientID:   q.ClientID,
		ExpertID:   q.ExpertID,
		Reason:     "cancelled by client",
		At:         now,
	})
	slog.Info("question cancelled", "question_id", q.ID, "client_id", clientID)
	if refundErr != nil {
		return q, fmt.Errorf("question cancelled but refund pending: %w", refundErr)
	}
	return q, nil
}

// Expire is driven only by the sweeper. Losing the race against a concurrent
// accept/decline surfaces ErrInvalidState and must not refund.
func (s *questionService) Expire(ctx context.Context, questionID int64) error {
	q, err := s.questionRepo.GetByID(ctx, questionID)
	if err != nil {
		return err
	}
	now := s.now()
	from, err := s.questionRepo.Expire(ctx, questionID, now)
	if err != nil {
		return err
	}
	q.Status = models.StatusExpired
	q.ExpiredFrom = from
	q.Timeline.ExpiredAt = &now

	if err := s.refund(ctx, q); err != nil {
		slog.Error("refund after expiry failed, next sweep will retry", "question_id", q.ID, "error", err)
		return err
	}

	s.emitter.EmitQuestion(ctx, events.QuestionEvent{
		Type:       events.TypeQuestionExpired,
		QuestionID: q.ID,
		ClientID:   q.ClientID,
		ExpertID:   q.ExpertID,
		Amount:     q.Pricing.ClientCharge,
		Reason:     string(from),
		At:         now,
	})
	slog.Info("question expired", "question_id", q.ID, "expired_from", from)
	return nil
}

// Refund re-drives the client refund for a question whose terminal transition
// committed without one. Anything not declined, cancelled or expired is
// rejected; an already recorded refund is a no-op.
func (s *questionService) Refund(ctx context.Context, questionID int64) error {
	q, err := s.questionRepo.GetByID(ctx, questionID)
	if err != nil {
		return err
	}
	switch q.Status {
	case models.StatusDeclined, models.StatusCancelled, models.StatusExpired:
	default:
		return fmt.Errorf("%w: question is not refundable in status %s", pkgerrors.ErrInvalidState, q.Status)
	}
	if q.Timeline.RefundedAt != nil {
		return nil
	}
	return s.refund(ctx, q)
}

// refund credits the client with the full charge. The fixed reference makes it
// idempotent: a second refund of the same question resolves to the first entry
// and is reported as success.
func (s *questionService) refund(ctx context.Context, q *models.Question) error {
	_, err := s.wallet.Credit(ctx, MoveParams{
		UserID:      q.ClientID,
		Amount:      q.Pricing.ClientCharge,
		Category:    models.CategoryRefund,
		Description: "refund for declined/expired question",
		Reference:   fmt.Sprintf("refund:%d", q.ID),
		QuestionID:  q.ID,
		RelatedUser: q.ExpertID,
	})
	if err != nil && !stderrors.Is(err, pkgerrors.ErrDuplicateEntry) {
		return err
	}
	if err := s.questionRepo.MarkRefunded(ctx, q.ID, s.now()); err != nil {
		slog.Error("failed to mark question refunded", "question_id", q.ID, "error", err)
	}
	return nil
}

func (s *questionService) Rate(ctx context.Context, questionID, clientID int64, stars int, feedback string) error {
	if stars < 1 || stars > 5 {
		return fmt.Errorf("%w: rating must be between 1 and 5", pkgerrors.ErrValidation)
	}
	q, err := s.questionRepo.GetByID(ctx, questionID)
	if err != nil {
		return err
	}
	if q.ClientID != clientID {
		return pkgerrors.ErrNotOwner
	}
	return s.questionRepo.SetRating(ctx, questionID, stars, feedback, s.now())
}

func (s *questionService) Get(ctx context.Context, questionID int64) (*models.Question, error) {
	return s.questionRepo.GetByID(ctx, questionID)
}

func (s *questionService) ListByClient(ctx context.Context, clientID int64, page, limit int) ([]models.Question, error) {
	return s.questionRepo.ListByClient(ctx, clientID, page, limit)
}

func (s *questionService) ListByExpert(ctx context.Context, expertID int64, page, limit int) ([]models.Question, error) {
	return s.questionRepo.ListByExpert(ctx, expertID, page, limit)
}

func (s *questionService) ownedByExpert(ctx context.Context, questionID, expertID int64) (*models.Question, error) {
	q, err := s.questionRepo.GetByID(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if q.ExpertID != expertID {
		return nil, pkgerrors.ErrNotOwner
	}
	return q, nil
}
