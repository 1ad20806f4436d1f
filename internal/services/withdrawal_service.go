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

type WithdrawalService interface {
	// Request reserves amount against the wallet. At most one request may be
	// pending per wallet at a time.
	Request(ctx context.Context, userID, amount int64, method models.WithdrawalMethod, dest models.Destination) (*models.WithdrawalRequest, error)
	// Complete debits the wallet and finalizes the request (operator action).
	Complete(ctx context.Context, requestID, operatorID int64) (*models.WithdrawalRequest, error)
	Reject(ctx context.Context, requestID, operatorID int64, reason string) (*models.WithdrawalRequest, error)
	CancelByUser(ctx context.Context, requestID, userID int64) (*models.WithdrawalRequest, error)
	ListByUser(ctx context.Context, userID int64, page, limit int) ([]models.WithdrawalRequest, error)
}

type WithdrawalConfig struct {
	MinAmount int64
	FeeBps    int64
	Currency  string
}

type withdrawalService struct {
	withdrawalRepo repository.WithdrawalRepository
	walletRepo     repository.WalletRepository
	wallet         WalletService
	cfg            WithdrawalConfig
	now            func() time.Time
}

func NewWithdrawalService(
	withdrawalRepo repository.WithdrawalRepository,
	walletRepo repository.WalletRepository,
	wallet WalletService,
	cfg WithdrawalConfig,
) *withdrawalService {
	return &withdrawalService{
		withdrawalRepo: withdrawalRepo,
		walletRepo:     walletRepo,
		wallet:         wallet,
		cfg:            cfg,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (s *withdrawalService) Request(ctx context.Context, userID, amount int64, method models.WithdrawalMethod, dest models.Destination) (*models.WithdrawalRequest, error) {
	if amount < s.cfg.MinAmount {
		return nil, fmt.Errorf("%w: minimum withdrawal is %d", pkgerrors.ErrValidation, s.cfg.MinAmount)
	}
	if method != models.MethodBankTransfer && method != models.MethodMobileWallet {
		return nil, fmt.Errorf("%w: unknown withdrawal method %q", pkgerrors.ErrValidation, method)
	}

	if err := s.walletRepo.ReservePending(ctx, userID, amount); err != nil {
		return nil, err
	}

	fee := amount * s.cfg.FeeBps / 10000
	req := &models.WithdrawalRequest{
		UserID:      userID,
		Amount:      amount,
		Fee:         fee,
		NetAmount:   amount - fee,
		Currency:    s.cfg.Currency,
		Method:      method,
		Destination: dest,
		RequestedAt: s.now(),
	}
	if err := s.withdrawalRepo.Create(ctx, req); err != nil {
		if relErr := s.walletRepo.ReleasePending(ctx, userID, amount); relErr != nil {
			slog.Error("failed to release reservation after create failure", "user_id", userID, "error", relErr)
		}
		return nil, err
	}
	slog.Info("withdrawal requested", "request_id", req.ID, "user_id", userID, "amount", amount)
	return req, nil
}

func (s *withdrawalService) Complete(ctx context.Context, requestID, operatorID int64) (*models.WithdrawalRequest, error) {
	req, err := s.withdrawalRepo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != models.WithdrawalPending && req.Status != models.WithdrawalProcessing {
		return nil, pkgerrors.ErrInvalidState
	}

	if _, err := s.wallet.Debit(ctx, MoveParams{
		UserID:      req.UserID,
		Amount:      req.Amount,
		Category:    models.CategoryWithdrawal,
		Description: fmt.Sprintf("withdrawal via %s", req.Method),
		Reference:   fmt.Sprintf("wd:%d", req.ID),
	}); err != nil && !stderrors.Is(err, pkgerrors.ErrDuplicateEntry) {
		return nil, err
	}

	if err := s.walletRepo.ReleasePending(ctx, req.UserID, req.Amount); err != nil {
		slog.Error("failed to release withdrawal reservation", "request_id", req.ID, "error", err)
	}

	now := s.now()
	if err := s.withdrawalRepo.SetStatus(ctx, requestID,
		[]models.WithdrawalStatus{models.WithdrawalPending, models.WithdrawalProcessing},
		models.WithdrawalCompleted, operatorID, "", now); err != nil {
		return nil, err
	}
	req.Status = models.WithdrawalCompleted
	req.ProcessedBy = operatorID
	req.ProcessedAt = &now
	slog.Info("withdrawal completed", "request_id", req.ID, "user_id", req.UserID, "amount", req.Amount)
	return req, nil
}

func (s *withdrawalService) Reject(ctx context.Context, requestID, operatorID int64, reason string) (*models.WithdrawalRequest, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", pkgerrors.ErrValidation)
	}
	return s.release(ctx, requestID, operatorID, models.WithdrawalRejected, reason)
}

func (s *withdrawalService) CancelByUser(ctx context.Context, requestID, userID int64) (*models.WithdrawalRequest, error) {
	req, err := s.withdrawalRepo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.UserID != userID {
		return nil, pkgerrors.ErrNotOwner
	}
	return s.release(ctx, requestID, 0, models.WithdrawalCancelled, "")
}

func (s *withdrawalService) release(ctx context.Context, requestID, operatorID int64, to models.WithdrawalStatus, reason string) (*models.WithdrawalRequest, error) {
	req, err := s.withdrawalRepo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.withdrawalRepo.SetStatus(ctx, requestID,
		[]models.WithdrawalStatus{models.WithdrawalPending, models.WithdrawalProcessing},
		to, operatorID, reason, now); err != nil {
		return nil, err
	}
	if err := s.walletRepo.ReleasePending(ctx, req.UserID, req.Amount); err != nil {
		slog.Error("failed to release withdrawal reservation", "request_id", req.ID, "error", err)
	}
	req.Status = to
	req.RejectionReason = reason
	req.ProcessedAt = &now
	slog.Info("withdrawal released", "request_id", req.ID, "status", to)
	return req, nil
}

func (s *withdrawalService) ListByUser(ctx context.Context, userID int64, page, limit int) ([]models.WithdrawalRequest, error) {
	return s.withdrawalRepo.ListByUser(ctx, userID, page, limit)
}
