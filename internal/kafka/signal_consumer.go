package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/Codetivate/social-trading-webapp-sub000/internal/bus"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/config"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/domain"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// SignalConsumer consumes master trade signals from Kafka.
type SignalConsumer struct {
	reader *kafka.Reader
	logger *zap.Logger
}

// NewSignalConsumer creates a new Kafka consumer for master signals.
func NewSignalConsumer(cfg config.Config, logger *zap.Logger) *SignalConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.KafkaBrokers,
		GroupID: cfg.KafkaGroupID,
		Topic:   cfg.KafkaTopicSignals,
	})
	return &SignalConsumer{reader: reader, logger: logger}
}

// Consume reads messages from Kafka and passes them to the provided handler.
// Undecodable messages are logged and skipped; a handler error stops consumption.
func (c *SignalConsumer) Consume(ctx context.Context, handler func(context.Context, domain.Signal) error) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			return fmt.Errorf("kafka read: %w", err)
		}

		sig, err := bus.DecodeSignal(msg.Value)
		if err != nil {
			c.logger.Warn("skipping undecodable signal",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			continue
		}

		if err := handler(ctx, sig); err != nil {
			return err
		}
	}
}

// Close closes the underlying Kafka reader.
func (c *SignalConsumer) Close() error {
	return c.reader.Close()
}
