package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	eventmocks "github.com/zemenaye/askexpert/internal/events/mocks"
	redismocks "github.com/zemenaye/askexpert/internal/infrastructure/redis/mocks"
	"github.com/zemenaye/askexpert/internal/models"
	repositorymocks "github.com/zemenaye/askexpert/internal/repository/mocks"
	pkgerrors "github.com/zemenaye/askexpert/pkg/errors"
	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/bcrypt"
)

type userFixture struct {
	userRepo     *repositorymocks.MockUserRepository
	walletRepo   *repositorymocks.MockWalletRepository
	referralRepo *repositorymocks.MockReferralRepository
	redisClient  *redismocks.MockRedisClient
	svc          *userService
}

func newUserFixture(t *testing.T) *userFixture {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	f := &userFixture{
		userRepo:     repositorymocks.NewMockUserRepository(ctrl),
		walletRepo:   repositorymocks.NewMockWalletRepository(ctrl),
		referralRepo: repositorymocks.NewMockReferralRepository(ctrl),
		redisClient:  redismocks.NewMockRedisClient(ctrl),
	}
	ledgerRepo := repositorymocks.NewMockLedgerRepository(ctrl)
	emitter := eventmocks.NewMockEmitter(ctrl)
	wallet := NewWalletService(f.walletRepo, ledgerRepo, f.redisClient, emitter, "ETB")
	referrals := NewReferralService(f.referralRepo, wallet, ReferralConfig{RateBps: 500, Window: 90 * 24 * time.Hour})
	f.svc = NewUserService(f.userRepo, wallet, referrals, f.redisClient, "secret")
	return f
}

func TestUserService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("creates user with wallet and referral code", func(t *testing.T) {
		f := newUserFixture(t)
		f.userRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, user *models.User) error {
				assert.NotEmpty(t, user.PasswordHash)
				assert.NotEqual(t, "secret123", user.PasswordHash)
				assert.Len(t, user.ReferralCode, 8)
				user.ID = 1
				return nil
			})
		f.walletRepo.EXPECT().Create(gomock.Any(), int64(1), "ETB").Return(&models.Wallet{ID: 10, UserID: 1}, nil)

		user, err := f.svc.Register(ctx, RegisterParams{
			Username: "abebe",
			Password: "secret123",
			Role:     models.RoleClient,
		})
		assert.NoError(t, err)
		assert.Equal(t, int64(1), user.ID)
	})

	t.Run("valid referral code creates a link", func(t *testing.T) {
		f := newUserFixture(t)
		referrer := &models.User{ID: 5, Username: "tigist", ReferralCode: "ab12cd34"}
		f.userRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, user *models.User) error {
				user.ID = 7
				return nil
			})
		f.walletRepo.EXPECT().Create(gomock.Any(), int64(7), "ETB").Return(&models.Wallet{ID: 11, UserID: 7}, nil)
		f.userRepo.EXPECT().GetByReferralCode(gomock.Any(), "ab12cd34").Return(referrer, nil)
		f.referralRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, link *models.ReferralLink) error {
				assert.Equal(t, int64(5), link.ReferrerID)
				assert.Equal(t, int64(7), link.ReferredID)
				assert.Equal(t, int64(500), link.CommissionRateBps)
				return nil
			})

		_, err := f.svc.Register(ctx, RegisterParams{
			Username:     "meles",
			Password:     "secret123",
			Role:         models.RoleExpert,
			ReferralCode: "ab12cd34",
		})
		assert.NoError(t, err)
	})

	t.Run("unknown referral code is ignored", func(t *testing.T) {
		f := newUserFixture(t)
		f.userRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, user *models.User) error {
				user.ID = 7
				return nil
			})
		f.walletRepo.EXPECT().Create(gomock.Any(), int64(7), "ETB").Return(&models.Wallet{ID: 11, UserID: 7}, nil)
		f.userRepo.EXPECT().GetByReferralCode(gomock.Any(), "nosuch00").Return(nil, pkgerrors.ErrUserNotFound)

		_, err := f.svc.Register(ctx, RegisterParams{
			Username:     "meles",
			Password:     "secret123",
			Role:         models.RoleExpert,
			ReferralCode: "nosuch00",
		})
		assert.NoError(t, err)
	})

	t.Run("wallet failure does not lose the registration", func(t *testing.T) {
		f := newUserFixture(t)
		f.userRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, user *models.User) error {
				user.ID = 1
				return nil
			})
		f.walletRepo.EXPECT().Create(gomock.Any(), int64(1), "ETB").Return(nil, errors.New("db down"))

		// The user row committed; blocking here would strand the username
		// with no wallet and no way to re-register.
		user, err := f.svc.Register(ctx, RegisterParams{
			Username: "abebe",
			Password: "secret123",
			Role:     models.RoleClient,
		})
		assert.NoError(t, err)
		assert.Equal(t, int64(1), user.ID)
	})

	t.Run("duplicate username is surfaced", func(t *testing.T) {
		f := newUserFixture(t)
		f.userRepo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(pkgerrors.ErrUserExists)

		_, err := f.svc.Register(ctx, RegisterParams{
			Username: "abebe",
			Password: "secret123",
			Role:     models.RoleClient,
		})
		assert.ErrorIs(t, err, pkgerrors.ErrUserExists)
	})

	t.Run("missing credentials are rejected", func(t *testing.T) {
		f := newUserFixture(t)
		_, err := f.svc.Register(ctx, RegisterParams{Username: "abebe", Role: models.RoleClient})
		assert.ErrorIs(t, err, pkgerrors.ErrValidation)
	})
}

func TestUserService_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("issues a token and caches it", func(t *testing.T) {
		f := newUserFixture(t)
		hash, _ := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.DefaultCost)
		user := &models.User{ID: 1, Username: "abebe", PasswordHash: string(hash)}

		f.userRepo.EXPECT().GetByUsername(gomock.Any(), "abebe").Return(user, nil)
		f.walletRepo.EXPECT().Create(gomock.Any(), int64(1), "ETB").Return(nil, pkgerrors.ErrWalletExists)
		f.walletRepo.EXPECT().GetByUser(gomock.Any(), int64(1)).Return(&models.Wallet{ID: 10, UserID: 1}, nil)
		f.redisClient.EXPECT().Set(gomock.Any(), "user:1:token", gomock.Any(), time.Hour).Return(nil)

		token, err := f.svc.Login(ctx, "abebe", "secret123")
		assert.NoError(t, err)
		assert.NotEmpty(t, token)
	})

	t.Run("login creates a wallet the registration missed", func(t *testing.T) {
		f := newUserFixture(t)
		hash, _ := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.DefaultCost)
		user := &models.User{ID: 1, Username: "abebe", PasswordHash: string(hash)}

		f.userRepo.EXPECT().GetByUsername(gomock.Any(), "abebe").Return(user, nil)
		f.walletRepo.EXPECT().Create(gomock.Any(), int64(1), "ETB").Return(&models.Wallet{ID: 10, UserID: 1}, nil)
		f.redisClient.EXPECT().Set(gomock.Any(), "user:1:token", gomock.Any(), time.Hour).Return(nil)

		token, err := f.svc.Login(ctx, "abebe", "secret123")
		assert.NoError(t, err)
		assert.NotEmpty(t, token)
	})

	t.Run("wrong password", func(t *testing.T) {
		f := newUserFixture(t)
		hash, _ := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.DefaultCost)
		user := &models.User{ID: 1, Username: "abebe", PasswordHash: string(hash)}

		f.userRepo.EXPECT().GetByUsername(gomock.Any(), "abebe").Return(user, nil)

		_, err := f.svc.Login(ctx, "abebe", "wrongpass")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidCredentials)
	})

	t.Run("unknown user", func(t *testing.T) {
		f := newUserFixture(t)
		f.userRepo.EXPECT().GetByUsername(gomock.Any(), "ghost").Return(nil, pkgerrors.ErrUserNotFound)

		_, err := f.svc.Login(ctx, "ghost", "whatever")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidCredentials)
	})
}
