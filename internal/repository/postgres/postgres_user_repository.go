package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
	"github.com/zemenaye/askexpert/internal/models"
	pkgerrors "github.com/zemenaye/askexpert/pkg/errors"
)

type PostgresUserRepository struct {
	db *sql.DB
}

func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) Create(ctx context.Context, user *models.User) error {
	if user == nil {
		return fmt.Errorf("%w: user is nil", pkgerrors.ErrValidation)
	}
	if user.Username == "" || user.PasswordHash == "" {
		return fmt.Errorf("%w: username and password are required", pkgerrors.ErrValidation)
	}

	formats, err := json.Marshal(user.SupportedFormats)
	if err != nil {
		return fmt.Errorf("failed to marshal formats: %w", err)
	}
	prices, err := json.Marshal(user.Prices)
	if err != nil {
		return fmt.Errorf("failed to marshal prices: %w", err)
	}

	query := `
		INSERT INTO users (username, password_hash, display_name, role, referral_code, supported_formats, prices)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err = r.db.QueryRowContext(ctx, query,
		user.Username, user.PasswordHash, user.DisplayName, user.Role,
		user.ReferralCode, formats, prices,
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return pkgerrors.ErrUserExists
		}
		slog.Error("failed to create user", "username", user.Username, "error", err)
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

const userColumns = `id, username, password_hash, display_name, role, referral_code,
	supported_formats, prices, questions_answered, created_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var (
		u       models.User
		formats []byte
		prices  []byte
	)
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.DisplayName, &u.Role,
		&u.ReferralCode, &formats, &prices, &u.QuestionsAnswered, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(formats) > 0 {
		if err := json.Unmarshal(formats, &u.SupportedFormats); err != nil {
			return nil, fmt.Errorf("failed to unmarshal formats: %w", err)
		}
	}
	if len(prices) > 0 {
		if err := json.Unmarshal(prices, &u.Prices); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prices: %w", err)
		}
	}
	return &u, nil
}

func (r *PostgresUserRepository) getBy(ctx context.Context, where string, arg any) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where
	u, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return r.getBy(ctx, "id = $1", id)
}

func (r *PostgresUserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	if username == "" {
		return nil, fmt.Errorf("%w: username cannot be empty", pkgerrors.ErrValidation)
	}
	return r.getBy(ctx, "username = $1", username)
}

func (r *PostgresUserRepository) GetByReferralCode(ctx context.Context, code string) (*models.User, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: referral code cannot be empty", pkgerrors.ErrValidation)
	}
	return r.getBy(ctx, "referral_code = $1", code)
}

func (r *PostgresUserRepository) IncrementAnswered(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET questions_answered = questions_answered + 1 WHERE id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to increment answered count: %w", err)
	}
	return nil
}
