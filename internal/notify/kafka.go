package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/xaenox/lesson-monitor/internal/models"
	"go.uber.org/zap"
)

// KafkaSink publishes alerts as JSON, keyed by dedup key, for downstream
// consumers.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string, logger *zap.Logger) *KafkaSink {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: 10 * time.Second,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), zap.String("component", "kafka-writer"))
		}),
	}
	return &KafkaSink{writer: writer}
}

func (s *KafkaSink) Name() string {
	return "kafka"
}

func (s *KafkaSink) Deliver(ctx context.Context, alert models.Alert) error {
	msg, err := alertMessage(alert)
	if err != nil {
		return err
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

func alertMessage(alert models.Alert) (kafka.Message, error) {
	alert.Channel.LastMessage = nil
	value, err := json.Marshal(alert)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode alert: %w", err)
	}
	return kafka.Message{
		Key:   []byte(alert.Key().String()),
		Value: value,
		Time:  alert.CreatedAt,
	}, nil
}
