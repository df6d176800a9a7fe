package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatsChanged is emitted after a master's aggregates were rewritten.
type StatsChanged struct {
	MasterID       string          `json:"master_id"`
	FollowersCount int             `json:"followers_count"`
	AUM            decimal.Decimal `json:"aum"`
	At             time.Time       `json:"at"`
}

// ScoreChanged is emitted after a successful score refresh.
type ScoreChanged struct {
	MasterID string      `json:"master_id"`
	Score    MasterScore `json:"score"`
	At       time.Time   `json:"at"`
}

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Signal is a master's trade as published by the signal feed.
type Signal struct {
	SignalID     string    `json:"signal_id"`
	MasterID     string    `json:"master_id"`
	Symbol       string    `json:"symbol"`
	Side         Side      `json:"side"`
	Lots         float64   `json:"lots"`
	Price        float64   `json:"price"`
	StopLoss     float64   `json:"stop_loss,omitempty"`
	TakeProfit   float64   `json:"take_profit,omitempty"`
	MasterEquity float64   `json:"master_equity"`
	Timestamp    time.Time `json:"timestamp"`
}

// ExecutionRequest is the per-follower order handed to the execution scheduler.
type ExecutionRequest struct {
	RequestID      string        `json:"request_id"`
	SignalID       string        `json:"signal_id"`
	SubscriptionID string        `json:"subscription_id"`
	FollowerID     string        `json:"follower_id"`
	MasterID       string        `json:"master_id"`
	Symbol         string        `json:"symbol"`
	Side           Side          `json:"side"`
	Lots           float64       `json:"lots"`
	Price          float64       `json:"price"`
	StopLoss       float64       `json:"stop_loss,omitempty"`
	TakeProfit     float64       `json:"take_profit,omitempty"`
	Lane           ExecutionLane `json:"lane"`
	Shard          int           `json:"shard"`
	CreatedAt      time.Time     `json:"created_at"`
}
