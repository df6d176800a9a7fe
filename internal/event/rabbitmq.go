package event

import (
	"context"
	"fmt"
	"time"

	"github.com/Codetivate/social-trading-webapp-sub000/internal/bus"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	Exchange         = "copytrade.events"
	StatsRoutingKey  = "master.stats"
	ScoreRoutingKey  = "master.score"
	protobufMimeType = "application/x-protobuf"
)

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitPublisher broadcasts master stats and score changes on a topic exchange.
type RabbitPublisher struct {
	conn    *amqp.Connection
	channel Channel
	logger  *zap.Logger
}

// DialRabbit connects, opens a channel and declares the events exchange.
func DialRabbit(url string, logger *zap.Logger) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	p, err := NewRabbitPublisher(ch, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	logger.Info("connected to RabbitMQ", zap.String("exchange", Exchange))
	return p, nil
}

func NewRabbitPublisher(ch Channel, logger *zap.Logger) (*RabbitPublisher, error) {
	if err := ch.ExchangeDeclare(
		Exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	); err != nil {
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	return &RabbitPublisher{channel: ch, logger: logger}, nil
}

func (p *RabbitPublisher) publish(ctx context.Context, key, masterID string, body []byte) error {
	err := p.channel.PublishWithContext(
		ctx,
		Exchange, // exchange
		key,      // routing key
		false,    // mandatory
		false,    // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  protobufMimeType,
			MessageId:    masterID,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", key, err)
	}
	return nil
}

func (p *RabbitPublisher) PublishStats(ctx context.Context, e domain.StatsChanged) error {
	body, err := bus.EncodeStats(e)
	if err != nil {
		return fmt.Errorf("encode stats event: %w", err)
	}
	return p.publish(ctx, StatsRoutingKey, e.MasterID, body)
}

func (p *RabbitPublisher) PublishScore(ctx context.Context, e domain.ScoreChanged) error {
	body, err := bus.EncodeScore(e)
	if err != nil {
		return fmt.Errorf("encode score event: %w", err)
	}
	return p.publish(ctx, ScoreRoutingKey, e.MasterID, body)
}

// Close closes the channel and, when owned, the connection.
func (p *RabbitPublisher) Close() error {
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.logger.Error("failed to close RabbitMQ channel", zap.Error(err))
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return fmt.Errorf("close RabbitMQ connection: %w", err)
		}
	}
	return nil
}
