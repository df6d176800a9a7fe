package kafka

import (
	"context"
	"fmt"

	"github.com/Codetivate/social-trading-webapp-sub000/internal/bus"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/config"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/domain"
	"github.com/segmentio/kafka-go"
)

// EventPublisher broadcasts master stats and score changes. Messages are
// keyed by master id so consumers observe each master's updates in order.
type EventPublisher struct {
	stats  *kafka.Writer
	scores *kafka.Writer
}

func newWriter(cfg config.Config, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.KafkaBrokers...),
		Topic:                  topic,
		RequiredAcks:           kafka.RequireAll,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
}

func NewEventPublisher(cfg config.Config) *EventPublisher {
	return &EventPublisher{
		stats:  newWriter(cfg, cfg.KafkaTopicMasterStats),
		scores: newWriter(cfg, cfg.KafkaTopicMasterScores),
	}
}

func (p *EventPublisher) PublishStats(ctx context.Context, e domain.StatsChanged) error {
	value, err := bus.EncodeStats(e)
	if err != nil {
		return fmt.Errorf("encode stats event: %w", err)
	}
	if err := p.stats.WriteMessages(ctx, kafka.Message{Key: []byte(e.MasterID), Value: value}); err != nil {
		return fmt.Errorf("kafka write stats: %w", err)
	}
	return nil
}

func (p *EventPublisher) PublishScore(ctx context.Context, e domain.ScoreChanged) error {
	value, err := bus.EncodeScore(e)
	if err != nil {
		return fmt.Errorf("encode score event: %w", err)
	}
	if err := p.scores.WriteMessages(ctx, kafka.Message{Key: []byte(e.MasterID), Value: value}); err != nil {
		return fmt.Errorf("kafka write score: %w", err)
	}
	return nil
}

func (p *EventPublisher) Close() error {
	statsErr := p.stats.Close()
	scoresErr := p.scores.Close()
	if statsErr != nil {
		return statsErr
	}
	return scoresErr
}
