package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zemenaye/askexpert/internal/models"
	"github.com/zemenaye/askexpert/internal/repository"
	pkgerrors "github.com/zemenaye/askexpert/pkg/errors"
)

type ReferralService interface {
	CreateLink(ctx context.Context, referrerID, referredID int64) (*models.ReferralLink, error)
	// OnExpertEarning pays the referrer's cut of one expert earning. Missing
	// or expired links are a silent no-op; failures never propagate to the
	// caller so the expert's own credit is never blocked.
	OnExpertEarning(ctx context.Context, expertID, earning, questionID int64)
	ExpireDue(ctx context.Context) (int64, error)
}

type ReferralConfig struct {
	RateBps int64
	Window  time.Duration
}

type referralService struct {
	referralRepo repository.ReferralRepository
	wallet       WalletService
	cfg          ReferralConfig
	now          func() time.Time
}

func NewReferralService(referralRepo repository.ReferralRepository, wallet WalletService, cfg ReferralConfig) *referralService {
	return &referralService{
		referralRepo: referralRepo,
		wallet:       wallet,
		cfg:          cfg,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *referralService) CreateLink(ctx context.Context, referrerID, referredID int64) (*models.ReferralLink, error) {
	link := &models.ReferralLink{
		ReferrerID:        referrerID,
		ReferredID:        referredID,
		CommissionRateBps: s.cfg.RateBps,
		ExpiresAt:         s.now().Add(s.cfg.Window),
	}
	if err := s.referralRepo.Create(ctx, link); err != nil {
		return nil, err
	}
	return link, nil
}

func (s *referralService) OnExpertEarning(ctx context.Context, expertID, earning, questionID int64) {
	link, err := s.referralRepo.GetActiveByReferred(ctx, expertID, s.now())
	if stderrors.Is(err, pkgerrors.ErrReferralNotFound) {
		return
	}
	if err != nil {
		slog.Error("referral lookup failed", "expert_id", expertID, "question_id", questionID, "error", err)
		return
	}

	commission := link.Commission(earning)
	if commission <= 0 {
		return
	}

	if _, err := s.wallet.Credit(ctx, MoveParams{
		UserID:      link.ReferrerID,
		Amount:      commission,
		Category:    models.CategoryReferralBonus,
		Description: fmt.Sprintf("referral commission (%d.%02d%%)", link.CommissionRateBps/100, link.CommissionRateBps%100),
		Reference:   fmt.Sprintf("refbonus:%d", questionID),
		QuestionID:  questionID,
		RelatedUser: expertID,
	}); err != nil && !stderrors.Is(err, pkgerrors.ErrDuplicateEntry) {
		slog.Error("referral commission credit failed", "referrer_id", link.ReferrerID, "question_id", questionID, "error", err)
		return
	}

	if err := s.referralRepo.Accrue(ctx, link.ID, earning, commission, s.now()); err != nil {
		slog.Error("referral accrual failed", "link_id", link.ID, "error", err)
		return
	}
	slog.Info("referral commission paid", "referrer_id", link.ReferrerID,
		"referred_id", expertID, "question_id", questionID, "commission", commission)
}

func (s *referralService) ExpireDue(ctx context.Context) (int64, error) {
	return s.referralRepo.ExpireDue(ctx, s.now())
}
