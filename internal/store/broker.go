package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Codetivate/social-trading-webapp-sub000/internal/domain"
	"github.com/Codetivate/social-trading-webapp-sub000/libs/go/numbers"
	redis "github.com/redis/go-redis/v9"
)

// TradeSource lists a master's closed trades ordered by close time.
type TradeSource interface {
	ListClosedTrades(ctx context.Context, masterID string) ([]domain.TradeRecord, error)
}

// BrokerFeed reads account snapshots that the terminal bridge writes to Redis
// hashes (balance, equity, leverage, updated_at in unix millis) and closed
// trade history from the repository.
type BrokerFeed struct {
	client *redis.Client
	prefix string
	trades TradeSource
}

func NewBrokerFeed(client *redis.Client, prefix string, trades TradeSource) *BrokerFeed {
	return &BrokerFeed{client: client, prefix: prefix, trades: trades}
}

func (f *BrokerFeed) Snapshot(ctx context.Context, accountID string) (domain.AccountSnapshot, error) {
	key := f.prefix + ":" + accountID
	raw, err := f.client.HGetAll(ctx, key).Result()
	if err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("redis HGETALL %s: %w", key, err)
	}
	if len(raw) == 0 {
		return domain.AccountSnapshot{}, fmt.Errorf("broker snapshot %s: %w", accountID, ErrNotFound)
	}

	snap := domain.AccountSnapshot{AccountID: accountID}
	if snap.Balance, err = numbers.ExtractFloat(raw["balance"]); err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("broker snapshot %s balance: %w", accountID, err)
	}
	snap.Equity = snap.Balance
	if v, ok := raw["equity"]; ok {
		if snap.Equity, err = numbers.ExtractFloat(v); err != nil {
			return domain.AccountSnapshot{}, fmt.Errorf("broker snapshot %s equity: %w", accountID, err)
		}
	}
	if v, ok := raw["leverage"]; ok {
		if snap.Leverage, err = numbers.ExtractFloat(v); err != nil {
			return domain.AccountSnapshot{}, fmt.Errorf("broker snapshot %s leverage: %w", accountID, err)
		}
	}
	if v, ok := raw["updated_at"]; ok {
		ms, err := numbers.ExtractInt(v)
		if err != nil {
			return domain.AccountSnapshot{}, fmt.Errorf("broker snapshot %s updated_at: %w", accountID, err)
		}
		snap.UpdatedAt = time.UnixMilli(ms).UTC()
	}
	return snap, nil
}

func (f *BrokerFeed) ClosedTrades(ctx context.Context, masterID string) ([]domain.TradeRecord, error) {
	return f.trades.ListClosedTrades(ctx, masterID)
}
