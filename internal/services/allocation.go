package services

import (
	"fmt"
	"math"
	"time"

	"github.com/Codetivate/social-trading-webapp-sub000/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	defaultScalingPercent = 100.0
	maxScalingPercent     = 1000.0
)

// RiskParams is the caller's lot-sizing request.
type RiskParams struct {
	Mode            domain.SizingMode `json:"mode"`
	ScalingPercent  float64           `json:"scaling_percent"`
	OverrideScaling bool              `json:"override_scaling"`
}

func (p RiskParams) Validate() error {
	if p.Mode != "" && !p.Mode.Valid() {
		return fmt.Errorf("unknown sizing mode %q", p.Mode)
	}
	if p.ScalingPercent < 0 || p.ScalingPercent > maxScalingPercent || math.IsNaN(p.ScalingPercent) {
		return fmt.Errorf("scaling percent must be within [0, %v]", maxScalingPercent)
	}
	return nil
}

// EffectiveScaling is the percent stored as the subscription's risk factor.
// Equity ratio already normalizes size, so its scaling stays at 100 unless
// the caller explicitly overrides it.
func EffectiveScaling(p RiskParams) float64 {
	if p.ScalingPercent == 0 {
		return defaultScalingPercent
	}
	if p.Mode == domain.SizingEquityRatio && !p.OverrideScaling {
		return defaultScalingPercent
	}
	return p.ScalingPercent
}

// FollowerLots converts a master trade size into the follower's size.
// Equity ratio normalizes by the equity ratio first and scales second.
func FollowerLots(masterLots float64, sub domain.Subscription, followerEquity, masterEquity float64) (float64, error) {
	if masterLots <= 0 {
		return 0, fmt.Errorf("master lots must be positive, got %v", masterLots)
	}
	scale := sub.RiskFactor / 100
	if sub.RiskFactor <= 0 {
		scale = 1
	}

	switch sub.TradingWindow.Mode {
	case domain.SizingEquityRatio:
		if masterEquity <= 0 {
			return 0, fmt.Errorf("master equity must be positive, got %v", masterEquity)
		}
		if followerEquity <= 0 {
			return 0, nil
		}
		return masterLots * (followerEquity / masterEquity) * scale, nil
	case domain.SizingFixedRatio, "":
		return masterLots * scale, nil
	default:
		return 0, fmt.Errorf("unknown sizing mode %q", sub.TradingWindow.Mode)
	}
}

// FloorLots rounds lots down to the precision of minLot and returns 0 when
// the result is below minLot.
func FloorLots(lots float64, minLot decimal.Decimal) float64 {
	if lots <= 0 || math.IsNaN(lots) || math.IsInf(lots, 0) {
		return 0
	}
	floored := decimal.NewFromFloat(lots).Div(minLot).Floor().Mul(minLot)
	if floored.LessThan(minLot) {
		return 0
	}
	return floored.InexactFloat64()
}

// AssignLane picks the execution lane at subscribe time.
func AssignLane(t domain.SubscriptionType, tier domain.MasterTier) domain.ExecutionLane {
	if t == domain.SubscriptionPaid || t == domain.SubscriptionTrial {
		return domain.LaneTurbo
	}
	if tier == domain.TierPro || tier == domain.TierTycoon {
		return domain.LaneTurbo
	}
	return domain.LaneStandard
}

// Order is the directional part of an execution request.
type Order struct {
	Side       domain.Side
	Price      float64
	StopLoss   float64
	TakeProfit float64
}

// Invert flips the side and mirrors stop loss and take profit around the
// entry price. Levels that are unset, or would mirror to a non-positive
// price, are cleared.
func Invert(o Order) Order {
	out := Order{Side: o.Side.Opposite(), Price: o.Price}
	if o.Price <= 0 {
		return out
	}
	mirror := func(level float64) float64 {
		if level <= 0 {
			return 0
		}
		m := 2*o.Price - level
		if m <= 0 {
			return 0
		}
		return m
	}
	out.StopLoss = mirror(o.StopLoss)
	out.TakeProfit = mirror(o.TakeProfit)
	return out
}

// ExpiryFor returns the expiry a fresh subscription of type t gets at now.
func ExpiryFor(t domain.SubscriptionType, now time.Time) *time.Time {
	var expiry time.Time
	switch t {
	case domain.SubscriptionDaily:
		expiry = domain.NoExpiry
	case domain.SubscriptionTrial:
		expiry = now.AddDate(0, 0, 7)
	case domain.SubscriptionPaid:
		expiry = now.AddDate(0, 0, 30)
	default:
		return nil
	}
	return &expiry
}
