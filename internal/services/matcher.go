package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Codetivate/social-trading-webapp-sub000/internal/clock"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/domain"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/metrics"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type SignalSource interface {
	Consume(ctx context.Context, handler func(context.Context, domain.Signal) error) error
}

type ExecutionPublisher interface {
	Publish(ctx context.Context, r domain.ExecutionRequest) error
}

// SubscriptionLister reads the mirrored active set of a master.
type SubscriptionLister interface {
	ListByMaster(ctx context.Context, masterID string) ([]domain.Subscription, error)
}

// MatcherService consumes master signals and fans them out into
// per-follower execution requests.
type MatcherService struct {
	store     SubscriptionLister
	feed      BrokerFeed
	consumer  SignalSource
	publisher ExecutionPublisher
	clock     clock.Clock
	minLot    decimal.Decimal
	logger    *zap.Logger
}

// NewMatcherService constructs a MatcherService with its dependencies.
func NewMatcherService(store SubscriptionLister, feed BrokerFeed, consumer SignalSource, publisher ExecutionPublisher, c clock.Clock, minLot decimal.Decimal, logger *zap.Logger) *MatcherService {
	return &MatcherService{
		store:     store,
		feed:      feed,
		consumer:  consumer,
		publisher: publisher,
		clock:     c,
		minLot:    minLot,
		logger:    logger,
	}
}

// Start consumes master signals until ctx is cancelled.
func (s *MatcherService) Start(ctx context.Context) error {
	handler := func(ctx context.Context, sig domain.Signal) error {
		if _, err := s.Handle(ctx, sig); err != nil {
			s.logger.Warn("signal fan-out failed",
				zap.String("signal_id", sig.SignalID),
				zap.String("master_id", sig.MasterID),
				zap.Error(err))
		}
		return nil
	}

	if err := s.consumer.Consume(ctx, handler); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("consume signals: %w", err)
	}
	return nil
}

// Handle publishes one execution request per eligible subscription and
// returns how many were published.
func (s *MatcherService) Handle(ctx context.Context, sig domain.Signal) (int, error) {
	subs, err := s.store.ListByMaster(ctx, sig.MasterID)
	if err != nil {
		return 0, fmt.Errorf("list subscriptions: %w", err)
	}

	at := sig.Timestamp
	if at.IsZero() {
		at = s.clock.Now()
	}

	published := 0
	for _, sub := range subs {
		req, ok := s.build(ctx, sig, sub, at)
		if !ok {
			continue
		}
		if err := s.publisher.Publish(ctx, req); err != nil {
			s.logger.Warn("publish execution request failed",
				zap.String("subscription_id", req.SubscriptionID),
				zap.Error(err))
			continue
		}
		metrics.ExecutionRequestsTotal.WithLabelValues(string(req.Lane)).Inc()
		published++
	}
	return published, nil
}

func (s *MatcherService) build(ctx context.Context, sig domain.Signal, sub domain.Subscription, at time.Time) (domain.ExecutionRequest, bool) {
	if !sub.IsActive || sub.FollowerID == sub.MasterID || sub.Expired(at) {
		return domain.ExecutionRequest{}, false
	}
	if !sub.TradingWindow.Allows(at) {
		return domain.ExecutionRequest{}, false
	}

	var followerEquity float64
	if sub.TradingWindow.Mode == domain.SizingEquityRatio {
		snap, err := s.feed.Snapshot(ctx, sub.FollowerID)
		if err != nil {
			s.logger.Warn("follower equity unavailable",
				zap.String("follower_id", sub.FollowerID),
				zap.Error(err))
			return domain.ExecutionRequest{}, false
		}
		followerEquity = snap.Equity
	}

	lots, err := FollowerLots(sig.Lots, sub, followerEquity, sig.MasterEquity)
	if err != nil {
		s.logger.Warn("lot sizing failed",
			zap.String("subscription_id", sub.ID.String()),
			zap.Error(err))
		return domain.ExecutionRequest{}, false
	}
	lots = FloorLots(lots, s.minLot)
	if lots == 0 {
		return domain.ExecutionRequest{}, false
	}

	order := Order{Side: sig.Side, Price: sig.Price, StopLoss: sig.StopLoss, TakeProfit: sig.TakeProfit}
	if sub.InvertDirection {
		order = Invert(order)
	}

	return domain.ExecutionRequest{
		RequestID:      uuid.NewString(),
		SignalID:       sig.SignalID,
		SubscriptionID: sub.ID.String(),
		FollowerID:     sub.FollowerID,
		MasterID:       sub.MasterID,
		Symbol:         sig.Symbol,
		Side:           order.Side,
		Lots:           lots,
		Price:          order.Price,
		StopLoss:       order.StopLoss,
		TakeProfit:     order.TakeProfit,
		Lane:           sub.ExecutionLane,
		Shard:          sub.Shard,
		CreatedAt:      s.clock.Now(),
	}, true
}
