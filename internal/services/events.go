package services

import (
	"context"

	"github.com/Codetivate/social-trading-webapp-sub000/internal/domain"
)

// EventPublisher broadcasts master changes to external consumers.
type EventPublisher interface {
	PublishStats(ctx context.Context, e domain.StatsChanged) error
	PublishScore(ctx context.Context, e domain.ScoreChanged) error
}

// Mirror keeps a read-optimized copy of each master's active subscriptions.
type Mirror interface {
	ReplaceMaster(ctx context.Context, masterID string, subs []domain.Subscription) error
}

type noopEvents struct{}

func (noopEvents) PublishStats(context.Context, domain.StatsChanged) error { return nil }
func (noopEvents) PublishScore(context.Context, domain.ScoreChanged) error { return nil }

func orNoop(p EventPublisher) EventPublisher {
	if p == nil {
		return noopEvents{}
	}
	return p
}
