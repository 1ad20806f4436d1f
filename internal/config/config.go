package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr         string
	PostgresDSN  string
	RedisAddr    string
	KafkaBrokers []string
	JWTSecret    string

	Currency string
	// Percentage rates in basis points so pricing math stays integral.
	ClientFeeBps       int64
	PlatformCommission int64
	ReferralRateBps    int64

	QuestionTTL      time.Duration
	SweepInterval    time.Duration
	ReferralWindow   time.Duration
	MinWithdrawal    int64
	WithdrawalFeeBps int64
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using default values", "error", err)
	}

	cfg := &Config{
		Addr:               envStr("ADDR", ":8080"),
		PostgresDSN:        envStr("POSTGRES_DSN", "host=localhost user=postgres password=postgres dbname=askexpert sslmode=disable"),
		RedisAddr:          envStr("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers:       []string{envStr("KAFKA_BROKER", "localhost:9092")},
		JWTSecret:          envStr("JWT_SECRET", "supersecret"),
		Currency:           envStr("CURRENCY", "ETB"),
		ClientFeeBps:       envInt("CLIENT_FEE_BPS", 500),
		PlatformCommission: envInt("PLATFORM_COMMISSION_BPS", 1000),
		ReferralRateBps:    envInt("REFERRAL_RATE_BPS", 500),
		QuestionTTL:        envDur("QUESTION_TTL", 12*time.Hour),
		SweepInterval:      envDur("SWEEP_INTERVAL", 5*time.Minute),
		ReferralWindow:     envDur("REFERRAL_WINDOW", 90*24*time.Hour),
		MinWithdrawal:      envInt("MIN_WITHDRAWAL", 30000),
		WithdrawalFeeBps:   envInt("WITHDRAWAL_FEE_BPS", 0),
	}

	slog.Info("config loaded",
		"addr", cfg.Addr,
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.KafkaBrokers,
		"question_ttl", cfg.QuestionTTL,
		"sweep_interval", cfg.SweepInterval)
	return cfg
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		slog.Warn("invalid integer env value, using default", "key", key, "value", v)
	}
	return def
}

func envDur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		slog.Warn("invalid duration env value, using default", "key", key, "value", v)
	}
	return def
}
