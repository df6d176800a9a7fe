package kafka

import (
	"context"
	"fmt"

	"github.com/Codetivate/social-trading-webapp-sub000/internal/bus"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/config"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/domain"
	"github.com/segmentio/kafka-go"
)

// ExecutionRequestPublisher publishes ExecutionRequest messages to Kafka.
type ExecutionRequestPublisher struct {
	writer *kafka.Writer
	Topic  string
}

// NewExecutionRequestPublisher creates a new Kafka publisher for execution requests.
func NewExecutionRequestPublisher(cfg config.Config) *ExecutionRequestPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopicExecRequests,
		RequiredAcks:           kafka.RequireAll,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &ExecutionRequestPublisher{writer: writer, Topic: cfg.KafkaTopicExecRequests}
}

// executionMessage keys by follower so one follower's orders stay ordered on
// a single partition.
func executionMessage(r domain.ExecutionRequest) (kafka.Message, error) {
	value, err := bus.EncodeExecutionRequest(r)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode execution request: %w", err)
	}

	key := []byte(r.FollowerID)
	if len(key) == 0 {
		key = []byte(r.MasterID)
	}

	return kafka.Message{
		Key:   key,
		Value: value,
		Headers: []kafka.Header{
			{Key: "lane", Value: []byte(r.Lane)},
		},
	}, nil
}

// Publish sends an ExecutionRequest to the configured Kafka topic.
func (p *ExecutionRequestPublisher) Publish(ctx context.Context, r domain.ExecutionRequest) error {
	msg, err := executionMessage(r)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close closes the underlying Kafka writer.
func (p *ExecutionRequestPublisher) Close() error {
	return p.writer.Close()
}
