package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zemenaye/askexpert/internal/events"
	"github.com/zemenaye/askexpert/internal/infrastructure/redis"
	"github.com/zemenaye/askexpert/internal/models"
	"github.com/zemenaye/askexpert/internal/repository"
	pkgerrors "github.com/zemenaye/askexpert/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// MoveParams describes one balance mutation. Reference is the caller's
// idempotency key for the logical operation; retrying with the same reference
// can never apply the same movement twice.
type MoveParams struct {
	UserID      int64
	Amount      int64
	Category    models.EntryCategory
	Description string
	Reference   string
	QuestionID  int64
	RelatedUser int64
}

type WalletService interface {
	InitializeWallet(ctx context.Context, userID int64) (*models.Wallet, error)
	GetWallet(ctx context.Context, userID int64) (*models.Wallet, error)
	GetBalance(ctx context.Context, userID int64) (int64, error)
	Credit(ctx context.Context, p MoveParams) (*models.LedgerEntry, error)
	Debit(ctx context.Context, p MoveParams) (*models.LedgerEntry, error)
	Transfer(ctx context.Context, from, to MoveParams) (*models.LedgerEntry, *models.LedgerEntry, error)
	Deposit(ctx context.Context, userID, amount int64, reference, description string) (*models.LedgerEntry, error)
	GetHistory(ctx context.Context, userID int64, page, limit int) ([]models.LedgerEntry, int64, error)
	VerifyLedger(ctx context.Context, userID int64) (bool, error)
}

type walletService struct {
	walletRepo repository.WalletRepository
	ledgerRepo repository.LedgerRepository
	redis      redis.RedisClient
	emitter    events.Emitter
	currency   string
}

func NewWalletService(
	walletRepo repository.WalletRepository,
	ledgerRepo repository.LedgerRepository,
	redisClient redis.RedisClient,
	emitter events.Emitter,
	currency string,
) *walletService {
	return &walletService{
		walletRepo: walletRepo,
		ledgerRepo: ledgerRepo,
		redis:      redisClient,
		emitter:    emitter,
		currency:   currency,
	}
}

const balanceCacheTTL = 5 * time.Minute

func balanceKey(userID int64) string {
	return fmt.Sprintf("user:%d:balance", userID)
}

// retryable reports whether an error is a transient storage failure worth
// retrying. Business errors from the taxonomy are always surfaced as-is.
func retryable(err error) bool {
	switch {
	case err == nil,
		stderrors.Is(err, pkgerrors.ErrValidation),
		stderrors.Is(err, pkgerrors.ErrInsufficientFunds),
		stderrors.Is(err, pkgerrors.ErrWalletNotFound),
		stderrors.Is(err, pkgerrors.ErrDuplicateEntry):
		return false
	}
	return true
}

// withRetry runs fn up to three times with exponential backoff. Safe only
// because every mutation carries a reference key: an attempt whose outcome was
// unknown either did not apply, or the retry surfaces ErrDuplicateEntry which
// the caller resolves to the prior success.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	backoff := 100 * time.Millisecond
	for attempt := 0; attempt < 3; attempt++ {
		if err = fn(); !retryable(err) {
			return err
		}
		slog.Warn("storage operation failed, retrying", "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

func (s *walletService) InitializeWallet(ctx context.Context, userID int64) (*models.Wallet, error) {
	wallet, err := s.walletRepo.Create(ctx, userID, s.currency)
	if stderrors.Is(err, pkgerrors.ErrWalletExists) {
		return s.walletRepo.GetByUser(ctx, userID)
	}
	if err != nil {
		return nil, err
	}
	slog.Info("wallet initialized", "user_id", userID, "wallet_id", wallet.ID)
	return wallet, nil
}

func (s *walletService) GetWallet(ctx context.Context, userID int64) (*models.Wallet, error) {
	return s.walletRepo.GetByUser(ctx, userID)
}

func (s *walletService) GetBalance(ctx context.Context, userID int64) (int64, error) {
	key := balanceKey(userID)
	if cached, err := s.redis.Get(ctx, key); err == nil {
		var balance int64
		if _, scanErr := fmt.Sscanf(cached, "%d", &balance); scanErr == nil {
			return balance, nil
		}
	}

	balance, err := s.walletRepo.GetBalance(ctx, userID)
	if err != nil {
		return 0, err
	}
	if err := s.redis.Set(ctx, key, balance, balanceCacheTTL); err != nil {
		slog.Error("failed to cache balance", "user_id", userID, "error", err)
	}
	return balance, nil
}

func (s *walletService) Credit(ctx context.Context, p MoveParams) (*models.LedgerEntry, error) {
	return s.move(ctx, models.EntryCredit, p)
}

func (s *walletService) Debit(ctx context.Context, p MoveParams) (*models.LedgerEntry, error) {
	return s.move(ctx, models.EntryDebit, p)
}

func (s *walletService) move(ctx context.Context, direction models.EntryType, p MoveParams) (*models.LedgerEntry, error) {
	tracer := otel.Tracer("wallet-service")
	ctx, span := tracer.Start(ctx, string(direction))
	defer span.End()

	if p.Amount <= 0 {
		span.SetStatus(codes.Error, "amount must be positive")
		return nil, fmt.Errorf("%w: amount must be positive", pkgerrors.ErrValidation)
	}
	if p.Reference == "" {
		span.SetStatus(codes.Error, "reference required")
		return nil, fmt.Errorf("%w: reference is required", pkgerrors.ErrValidation)
	}

	entry := &models.LedgerEntry{
		UserID:      p.UserID,
		Type:        direction,
		Category:    p.Category,
		Amount:      p.Amount,
		Currency:    s.currency,
		Description: p.Description,
		Reference:   p.Reference,
		QuestionID:  p.QuestionID,
		RelatedUser: p.RelatedUser,
		Status:      models.EntryStatusCompleted,
	}

	err := withRetry(ctx, func() error {
		_, applyErr := s.walletRepo.ApplyDelta(ctx, entry)
		return applyErr
	})
	if stderrors.Is(err, pkgerrors.ErrDuplicateEntry) {
		// Reference already applied: resolve the retry to the prior success.
		prior, getErr := s.ledgerRepo.GetByReference(ctx, p.Reference)
		if getErr != nil {
			return nil, fmt.Errorf("duplicate reference %s but entry unreadable: %w", p.Reference, getErr)
		}
		slog.Info("duplicate reference resolved to prior entry", "reference", p.Reference, "entry_id", prior.ID)
		return prior, pkgerrors.ErrDuplicateEntry
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if stderrors.Is(err, pkgerrors.ErrInsufficientFunds) {
			if balance, balErr := s.walletRepo.GetBalance(ctx, p.UserID); balErr == nil {
				return nil, fmt.Errorf("%w: need %d, have %d (short %d)",
					pkgerrors.ErrInsufficientFunds, p.Amount, balance, p.Amount-balance)
			}
		}
		return nil, err
	}

	if delErr := s.redis.Del(ctx, balanceKey(p.UserID)); delErr != nil {
		slog.Error("failed to invalidate balance cache", "user_id", p.UserID, "error", delErr)
	}

	if direction == models.EntryCredit && p.Category == models.CategoryExpertEarning {
		s.emitEarnings(ctx, entry)
	}
	return entry, nil
}

func (s *walletService) emitEarnings(ctx context.Context, entry *models.LedgerEntry) {
	wallet, err := s.walletRepo.GetByUser(ctx, entry.UserID)
	if err != nil {
		slog.Error("failed to load wallet for earnings event", "user_id", entry.UserID, "error", err)
		return
	}
	s.emitter.EmitEarnings(ctx, events.EarningsEvent{
		Type:          events.TypeEarningsUpdate,
		UserID:        entry.UserID,
		Amount:        entry.Amount,
		Balance:       wallet.Balance,
		TotalEarnings: wallet.TotalEarnings,
		QuestionID:    entry.QuestionID,
		At:            time.Now().UTC(),
	})
}

// Transfer debits from and credits to as two ledger movements sharing a
// logical reference. If the credit leg fails the debit is reversed with a
// compensating credit, retried until confirmed, so a partial failure can
// neither create nor destroy money.
func (s *walletService) Transfer(ctx context.Context, from, to MoveParams) (*models.LedgerEntry, *models.LedgerEntry, error) {
	tracer := otel.Tracer("wallet-service")
	ctx, span := tracer.Start(ctx, "Transfer")
	defer span.End()

	if from.Amount != to.Amount {
		return nil, nil, fmt.Errorf("%w: transfer legs must move the same amount", pkgerrors.ErrValidation)
	}

	debit, err := s.Debit(ctx, from)
	if err != nil && !stderrors.Is(err, pkgerrors.ErrDuplicateEntry) {
		return nil, nil, err
	}

	credit, err := s.Credit(ctx, to)
	if err != nil && !stderrors.Is(err, pkgerrors.ErrDuplicateEntry) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "credit leg failed, reversing debit")
		slog.Error("transfer credit leg failed, reversing", "from", from.UserID, "to", to.UserID, "reference", from.Reference, "error", err)

		reversal := MoveParams{
			UserID:      from.UserID,
			Amount:      from.Amount,
			Category:    models.CategoryRefund,
			Description: "reversal: " + from.Description,
			Reference:   from.Reference + ":reversal",
			QuestionID:  from.QuestionID,
			RelatedUser: from.RelatedUser,
		}
		if _, revErr := s.Credit(ctx, reversal); revErr != nil && !stderrors.Is(revErr, pkgerrors.ErrDuplicateEntry) {
			slog.Error("transfer reversal failed, ledger requires attention",
				"from", from.UserID, "reference", reversal.Reference, "error", revErr)
			return nil, nil, fmt.Errorf("transfer failed and reversal unconfirmed: %w", revErr)
		}
		return nil, nil, fmt.Errorf("transfer failed: %w", err)
	}
	return debit, credit, nil
}

// Deposit credits external funds. The reference is the caller's idempotency
// key for the deposit, so a retried request resolves to the original entry
// instead of crediting twice.
func (s *walletService) Deposit(ctx context.Context, userID, amount int64, reference, description string) (*models.LedgerEntry, error) {
	if reference == "" {
		return nil, fmt.Errorf("%w: deposit reference is required", pkgerrors.ErrValidation)
	}
	if description == "" {
		description = "funds deposited"
	}
	entry, err := s.Credit(ctx, MoveParams{
		UserID:      userID,
		Amount:      amount,
		Category:    models.CategoryDeposit,
		Description: description,
		Reference:   fmt.Sprintf("deposit:%d:%s", userID, reference),
	})
	if stderrors.Is(err, pkgerrors.ErrDuplicateEntry) {
		return entry, nil
	}
	return entry, err
}

func (s *walletService) GetHistory(ctx context.Context, userID int64, page, limit int) ([]models.LedgerEntry, int64, error) {
	return s.ledgerRepo.History(ctx, userID, page, limit)
}

// VerifyLedger checks the replay invariant: summing all completed entries must
// reproduce the stored balance.
func (s *walletService) VerifyLedger(ctx context.Context, userID int64) (bool, error) {
	wallet, err := s.walletRepo.GetByUser(ctx, userID)
	if err != nil {
		return false, err
	}
	replayed, err := s.ledgerRepo.ReplayBalance(ctx, userID)
	if err != nil {
		return false, err
	}
	if replayed != wallet.Balance {
		slog.Error("ledger replay mismatch", "user_id", userID, "balance", wallet.Balance, "replayed", replayed)
		return false, nil
	}
	return true, nil
}
