package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zemenaye/askexpert/internal/api"
	"github.com/zemenaye/askexpert/internal/config"
	"github.com/zemenaye/askexpert/internal/events"
	"github.com/zemenaye/askexpert/internal/infrastructure/kafka"
	"github.com/zemenaye/askexpert/internal/infrastructure/redis"
	"github.com/zemenaye/askexpert/internal/observability"
	core "github.com/zemenaye/askexpert/internal/repository/postgres"
	service "github.com/zemenaye/askexpert/internal/services"
	_ "github.com/lib/pq"
)

func main() {
	cfg := config.Load()

	// Инициализируем логи, метрики, трейсы
	shutdown, _ := observability.Setup("askexpert")
	defer shutdown(context.Background())

	// Подключаемся к Postgres
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer db.Close()

	// Инициализируем зависимости
	userRepo := core.NewPostgresUserRepository(db)
	walletRepo := core.NewPostgresWalletRepository(db)
	ledgerRepo := core.NewPostgresLedgerRepository(db)
	questionRepo := core.NewPostgresQuestionRepository(db)
	referralRepo := core.NewPostgresReferralRepository(db)
	withdrawalRepo := core.NewPostgresWithdrawalRepository(db)

	redisClient := redis.NewClient(cfg.RedisAddr)
	defer redisClient.Close()
	producer := kafka.NewProducer(cfg.KafkaBrokers)
	defer producer.Close()
	emitter := events.NewKafkaEmitter(producer)

	// Инициализируем сервисы
	walletSvc := service.NewWalletService(walletRepo, ledgerRepo, redisClient, emitter, cfg.Currency)
	referralSvc := service.NewReferralService(referralRepo, walletSvc, service.ReferralConfig{
		RateBps: cfg.ReferralRateBps,
		Window:  cfg.ReferralWindow,
	})
	questionSvc := service.NewQuestionService(questionRepo, userRepo, walletSvc, referralSvc, emitter, service.QuestionConfig{
		FeeBps:        cfg.ClientFeeBps,
		CommissionBps: cfg.PlatformCommission,
		TTL:           cfg.QuestionTTL,
		Currency:      cfg.Currency,
	})
	withdrawalSvc := service.NewWithdrawalService(withdrawalRepo, walletRepo, walletSvc, service.WithdrawalConfig{
		MinAmount: cfg.MinWithdrawal,
		FeeBps:    cfg.WithdrawalFeeBps,
		Currency:  cfg.Currency,
	})
	userSvc := service.NewUserService(userRepo, walletSvc, referralSvc, redisClient, cfg.JWTSecret)

	// Запускаем свипер истечения вопросов
	sweeper := service.NewSweeper(questionSvc, questionRepo, referralSvc, redisClient, emitter, cfg.SweepInterval)
	if err := sweeper.Start(); err != nil {
		log.Fatalf("Failed to start sweeper: %v", err)
	}
	defer sweeper.Stop()

	// Настраиваем роутер
	handler := api.NewHandler(userSvc, walletSvc, questionSvc, withdrawalSvc)
	router := api.SetupRouter(handler, redisClient, cfg.JWTSecret)

	// Запускаем сервер
	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}
	go func() {
		log.Printf("Starting server on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}
	log.Println("Server stopped")
}
