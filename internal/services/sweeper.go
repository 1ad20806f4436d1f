package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zemenaye/askexpert/internal/events"
	"github.com/zemenaye/askexpert/internal/infrastructure/observability"
	"github.com/zemenaye/askexpert/internal/infrastructure/redis"
	"github.com/zemenaye/askexpert/internal/repository"
)

// Sweeper periodically expires overdue questions, emits expiring-soon
// warnings, and retires overdue referral links. Every item is handled
// independently: one failure is logged and retried on the next sweep, never
// aborting the batch.
type Sweeper struct {
	questions QuestionService
	questRepo repository.QuestionRepository
	referrals ReferralService
	redis     redis.RedisClient
	emitter   events.Emitter
	interval  time.Duration
	batchSize int
	cron      *cron.Cron
	now       func() time.Time
}

// Warning marks before expiry, minutes.
var warnThresholds = []int{60, 30}

func NewSweeper(
	questions QuestionService,
	questRepo repository.QuestionRepository,
	referrals ReferralService,
	redisClient redis.RedisClient,
	emitter events.Emitter,
	interval time.Duration,
) *Sweeper {
	return &Sweeper{
		questions: questions,
		questRepo: questRepo,
		referrals: referrals,
		redis:     redisClient,
		emitter:   emitter,
		interval:  interval,
		batchSize: 100,
		cron:      cron.New(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Sweeper) Start() error {
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.interval)
		defer cancel()
		s.Sweep(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}
	s.cron.Start()
	slog.Info("expiry sweeper started", "interval", s.interval)
	return nil
}

func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("expiry sweeper stopped")
}

// Sweep runs one sweep cycle. Exported so tests and operators can drive it
// directly.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.expireOverdue(ctx)
	s.retryRefunds(ctx)
	s.settlePayouts(ctx)
	s.warnExpiring(ctx)
	s.expireReferrals(ctx)
}

func (s *Sweeper) expireOverdue(ctx context.Context) {
	now := s.now()
	expired, err := s.questRepo.ListExpired(ctx, now, s.batchSize)
	if err != nil {
		slog.Error("failed to list expired questions", "error", err)
		return
	}

	var done, failed int
	for _, q := range expired {
		if err := s.questions.Expire(ctx, q.ID); err != nil {
			failed++
			observability.SweeperProcessed.WithLabelValues("error").Inc()
			slog.Error("failed to expire question, will retry next sweep", "question_id", q.ID, "error", err)
			continue
		}
		done++
		observability.SweeperProcessed.WithLabelValues("expired").Inc()
	}
	if done > 0 || failed > 0 {
		slog.Info("expiry sweep finished", "expired", done, "failed", failed)
	}
}

// retryRefunds re-drives refunds for terminal questions still holding client
// money. These are declines, cancels and expiries whose refund leg failed
// after the status transition committed.
func (s *Sweeper) retryRefunds(ctx context.Context) {
	due, err := s.questRepo.ListRefundDue(ctx, s.batchSize)
	if err != nil {
		slog.Error("failed to list unrefunded questions", "error", err)
		return
	}

	for _, q := range due {
		if err := s.questions.Refund(ctx, q.ID); err != nil {
			observability.SweeperProcessed.WithLabelValues("error").Inc()
			slog.Error("refund retry failed, will retry next sweep", "question_id", q.ID, "error", err)
			continue
		}
		observability.SweeperProcessed.WithLabelValues("refunded").Inc()
		slog.Info("outstanding refund recovered", "question_id", q.ID)
	}
}

// settlePayouts re-drives earning credits for completed questions whose
// expert was never paid.
func (s *Sweeper) settlePayouts(ctx context.Context) {
	due, err := s.questRepo.ListPayoutDue(ctx, s.batchSize)
	if err != nil {
		slog.Error("failed to list unpaid questions", "error", err)
		return
	}

	for _, q := range due {
		if err := s.questions.Settle(ctx, q.ID); err != nil {
			observability.SweeperProcessed.WithLabelValues("error").Inc()
			slog.Error("payout settle failed, will retry next sweep", "question_id", q.ID, "error", err)
			continue
		}
		observability.SweeperProcessed.WithLabelValues("settled").Inc()
		slog.Info("outstanding payout settled", "question_id", q.ID)
	}
}

// warnExpiring emits expiry warnings without mutating question state. Redis
// SETNX keys keep each threshold's warning to a single emission.
func (s *Sweeper) warnExpiring(ctx context.Context) {
	now := s.now()
	soon, err := s.questRepo.ListExpiringWithin(ctx, now, time.Duration(warnThresholds[0])*time.Minute)
	if err != nil {
		slog.Error("failed to list expiring questions", "error", err)
		return
	}

	for _, q := range soon {
		remaining := int(q.Timeline.ExpiresAt.Sub(now).Minutes())
		threshold := 0
		for _, t := range warnThresholds {
			if remaining <= t {
				threshold = t
			}
		}
		if threshold == 0 {
			continue
		}

		key := fmt.Sprintf("qwarn:%d:%d", q.ID, threshold)
		ttl := q.Timeline.ExpiresAt.Sub(now) + time.Hour
		fresh, err := s.redis.SetNX(ctx, key, "1", ttl)
		if err != nil {
			slog.Error("failed to dedupe expiry warning", "question_id", q.ID, "error", err)
			continue
		}
		if !fresh {
			continue
		}

		s.emitter.EmitQuestion(ctx, events.QuestionEvent{
			Type:             events.TypeExpiryWarning,
			QuestionID:       q.ID,
			ClientID:         q.ClientID,
			ExpertID:         q.ExpertID,
			MinutesRemaining: remaining,
			At:               now,
		})
		slog.Info("expiry warning emitted", "question_id", q.ID, "minutes_remaining", remaining)
	}
}

func (s *Sweeper) expireReferrals(ctx context.Context) {
	n, err := s.referrals.ExpireDue(ctx)
	if err != nil {
		slog.Error("failed to expire referral links", "error", err)
		return
	}
	if n > 0 {
		slog.Info("referral links expired", "count", n)
	}
}
