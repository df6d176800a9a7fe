package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Codetivate/social-trading-webapp-sub000/internal/domain"
	redis "github.com/redis/go-redis/v9"
)

// SubscriptionStore mirrors each master's active subscriptions into a Redis
// hash keyed by subscription id so the matcher can fan out without touching
// the relational store.
type SubscriptionStore struct {
	client *redis.Client
	prefix string
}

// NewSubscriptionStore creates a new SubscriptionStore backed by Redis.
func NewSubscriptionStore(client *redis.Client, prefix string) *SubscriptionStore {
	return &SubscriptionStore{client: client, prefix: prefix}
}

func (s *SubscriptionStore) key(masterID string) string {
	return s.prefix + ":" + masterID
}

// ReplaceMaster atomically swaps the mirrored set for masterID with subs.
func (s *SubscriptionStore) ReplaceMaster(ctx context.Context, masterID string, subs []domain.Subscription) error {
	if s.prefix == "" {
		return fmt.Errorf("subscription key prefix is not configured")
	}
	fields := make([]any, 0, len(subs)*2)
	for _, sub := range subs {
		data, err := json.Marshal(sub)
		if err != nil {
			return fmt.Errorf("marshal subscription: %w", err)
		}
		fields = append(fields, sub.ID.String(), string(data))
	}

	key := s.key(masterID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(fields) > 0 {
			pipe.HSet(ctx, key, fields...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis replace %s: %w", key, err)
	}
	return nil
}

// ListByMaster loads the mirrored subscriptions for a master.
func (s *SubscriptionStore) ListByMaster(ctx context.Context, masterID string) ([]domain.Subscription, error) {
	if s.prefix == "" {
		return nil, fmt.Errorf("subscription key prefix is not configured")
	}
	key := s.key(masterID)
	members, err := s.client.HVals(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HVALS %s: %w", key, err)
	}

	res := make([]domain.Subscription, 0, len(members))
	for _, m := range members {
		var sub domain.Subscription
		if err := json.Unmarshal([]byte(m), &sub); err != nil {
			// Skip malformed entries but continue.
			continue
		}
		if sub.MasterID != masterID || !sub.IsActive {
			continue
		}
		res = append(res, sub)
	}
	return res, nil
}
