package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/zemenaye/askexpert/internal/infrastructure/redis"
	"github.com/zemenaye/askexpert/internal/models"
	"github.com/zemenaye/askexpert/internal/repository"
	pkgerrors "github.com/zemenaye/askexpert/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

type RegisterParams struct {
	Username    string
	Password    string
	DisplayName string
	Role        models.UserRole
	// ReferralCode of an existing user, optional.
	ReferralCode     string
	SupportedFormats []models.ResponseFormat
	Prices           map[models.ResponseFormat]int64
}

type UserService interface {
	Register(ctx context.Context, p RegisterParams) (*models.User, error)
	Login(ctx context.Context, username, password string) (string, error)
	Get(ctx context.Context, userID int64) (*models.User, error)
}

type userService struct {
	userRepo  repository.UserRepository
	wallet    WalletService
	referrals ReferralService
	redis     redis.RedisClient
	jwtSecret string
}

func NewUserService(
	userRepo repository.UserRepository,
	wallet WalletService,
	referrals ReferralService,
	redisClient redis.RedisClient,
	jwtSecret string,
) *userService {
	return &userService{
		userRepo:  userRepo,
		wallet:    wallet,
		referrals: referrals,
		redis:     redisClient,
		jwtSecret: jwtSecret,
	}
}

func (s *userService) Register(ctx context.Context, p RegisterParams) (*models.User, error) {
	if p.Username == "" || p.Password == "" {
		return nil, fmt.Errorf("%w: username and password are required", pkgerrors.ErrValidation)
	}
	if p.Role != models.RoleClient && p.Role != models.RoleExpert {
		return nil, fmt.Errorf("%w: unknown role %q", pkgerrors.ErrValidation, p.Role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(p.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash password", "username", p.Username, "error", err)
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username:         p.Username,
		PasswordHash:     string(hash),
		DisplayName:      p.DisplayName,
		Role:             p.Role,
		ReferralCode:     strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		SupportedFormats: p.SupportedFormats,
		Prices:           p.Prices,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}

	// The account stands even if the wallet row fails here; login creates the
	// missing wallet on the next successful sign-in.
	if _, err := s.wallet.InitializeWallet(ctx, user.ID); err != nil {
		slog.Error("failed to initialize wallet, deferring to login", "user_id", user.ID, "error", err)
	}

	if p.ReferralCode != "" {
		referrer, err := s.userRepo.GetByReferralCode(ctx, p.ReferralCode)
		switch {
		case stderrors.Is(err, pkgerrors.ErrUserNotFound):
			slog.Warn("unknown referral code ignored", "code", p.ReferralCode, "user_id", user.ID)
		case err != nil:
			slog.Error("referral code lookup failed", "code", p.ReferralCode, "error", err)
		case referrer.ID == user.ID:
			// self-referral, ignore
		default:
			if _, err := s.referrals.CreateLink(ctx, referrer.ID, user.ID); err != nil {
				slog.Error("failed to create referral link", "referrer_id", referrer.ID, "referred_id", user.ID, "error", err)
			}
		}
	}

	slog.Info("user registered", "user_id", user.ID, "username", user.Username, "role", user.Role)
	return user, nil
}

func (s *userService) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.userRepo.GetByUsername(ctx, username)
	if err != nil {
		slog.Error("failed to login", "username", username, "error", err)
		return "", pkgerrors.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		slog.Error("invalid password", "username", username)
		return "", pkgerrors.ErrInvalidCredentials
	}

	// Repairs accounts that registered without a wallet row; a no-op when the
	// wallet already exists.
	if _, err := s.wallet.InitializeWallet(ctx, user.ID); err != nil {
		slog.Error("failed to initialize wallet on login", "user_id", user.ID, "error", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": user.ID,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		slog.Error("failed to generate JWT", "error", err)
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	if err := s.redis.Set(ctx, fmt.Sprintf("user:%d:token", user.ID), tokenString, time.Hour); err != nil {
		slog.Error("failed to cache JWT", "user_id", user.ID, "error", err)
	}

	slog.Info("user logged in", "username", username, "user_id", user.ID)
	return tokenString, nil
}

func (s *userService) Get(ctx context.Context, userID int64) (*models.User, error) {
	return s.userRepo.GetByID(ctx, userID)
}
