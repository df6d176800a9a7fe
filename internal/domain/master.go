package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MasterTier gates capacity and execution lane.
type MasterTier string

const (
	TierRookie MasterTier = "ROOKIE"
	TierPro    MasterTier = "PRO"
	TierTycoon MasterTier = "TYCOON"
)

// TierCapacity returns the followers and AUM limits for a tier. Zero means unlimited.
func TierCapacity(tier MasterTier) (followers int, aum decimal.Decimal) {
	switch tier {
	case TierPro:
		return 500, decimal.NewFromInt(1_000_000)
	case TierTycoon:
		return 0, decimal.Zero
	default:
		return 50, decimal.NewFromInt(100_000)
	}
}

// MasterProfile is the public record of a master. FollowersCount and AUM
// are derived from active subscriptions and only ever written by reconciliation.
type MasterProfile struct {
	UserID         string          `db:"user_id" json:"user_id"`
	Tier           MasterTier      `db:"tier" json:"tier"`
	FollowersCount int             `db:"followers_count" json:"followers_count"`
	AUM            decimal.Decimal `db:"aum" json:"aum"`
	FollowersLimit int             `db:"followers_limit" json:"followers_limit"`
	AUMLimit       decimal.Decimal `db:"aum_limit" json:"aum_limit"`
	MonthlyFee     decimal.Decimal `db:"monthly_fee" json:"monthly_fee"`
	RiskScore      int             `db:"risk_score" json:"risk_score"`
	MaxDrawdownPct float64         `db:"max_drawdown_pct" json:"max_drawdown_pct"`
	ROI            float64         `db:"roi" json:"roi"`
	IsPublic       bool            `db:"is_public" json:"is_public"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

func (m MasterProfile) IsPaid() bool {
	return m.MonthlyFee.IsPositive()
}

// Limits returns the effective capacity, falling back to the tier defaults
// when the profile carries no explicit limits.
func (m MasterProfile) Limits() (followers int, aum decimal.Decimal) {
	followers, aum = TierCapacity(m.Tier)
	if m.FollowersLimit > 0 {
		followers = m.FollowersLimit
	}
	if m.AUMLimit.IsPositive() {
		aum = m.AUMLimit
	}
	return followers, aum
}

// MasterScore is the output of a scoring run.
type MasterScore struct {
	RiskScore      int     `json:"risk_score"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	ROI            float64 `json:"roi"`
}

// MasterStats are the reconciled aggregates of a master.
type MasterStats struct {
	FollowersCount int             `db:"followers_count" json:"followers_count"`
	AUM            decimal.Decimal `db:"aum" json:"aum"`
}
