package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/zemenaye/askexpert/internal/infrastructure/kafka"
)

// Emitter decouples lifecycle transitions from notification delivery. Emit
// calls must never fail the business operation that triggered them.
type Emitter interface {
	EmitQuestion(ctx context.Context, ev QuestionEvent)
	EmitEarnings(ctx context.Context, ev EarningsEvent)
}

type KafkaEmitter struct {
	producer kafka.KafkaProducer
}

func NewKafkaEmitter(producer kafka.KafkaProducer) *KafkaEmitter {
	return &KafkaEmitter{producer: producer}
}

func (e *KafkaEmitter) EmitQuestion(ctx context.Context, ev QuestionEvent) {
	e.send(TopicQuestions, ev.QuestionID, ev)
}

func (e *KafkaEmitter) EmitEarnings(ctx context.Context, ev EarningsEvent) {
	e.send(TopicWallets, ev.UserID, ev)
}

func (e *KafkaEmitter) send(topic string, key int64, ev any) {
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to marshal event", "topic", topic, "error", err)
		return
	}
	go func() {
		retries := 3
		for i := 0; i < retries; i++ {
			if err := e.producer.Send(context.Background(), topic, key, payload); err == nil {
				return
			}
			time.Sleep(time.Second * time.Duration(i+1))
		}
		slog.Error("failed to send event after retries", "topic", topic, "key", key)
	}()
}
