package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SubscriptionType is the ticket a subscription was opened with.
type SubscriptionType string

const (
	SubscriptionDaily SubscriptionType = "DAILY"
	SubscriptionTrial SubscriptionType = "TRIAL_7DAY"
	SubscriptionPaid  SubscriptionType = "PAID"
)

func (t SubscriptionType) Valid() bool {
	switch t {
	case SubscriptionDaily, SubscriptionTrial, SubscriptionPaid:
		return true
	}
	return false
}

// ExecutionLane is the priority class handed to the execution scheduler.
type ExecutionLane string

const (
	LaneStandard ExecutionLane = "STANDARD"
	LaneTurbo    ExecutionLane = "TURBO"
)

// SizingMode selects how master lots translate into follower lots.
type SizingMode string

const (
	SizingFixedRatio  SizingMode = "FIXED_RATIO"
	SizingEquityRatio SizingMode = "EQUITY_RATIO"
)

func (m SizingMode) Valid() bool {
	return m == SizingFixedRatio || m == SizingEquityRatio
}

// NoExpiry is stored for subscriptions that never lapse on their own.
var NoExpiry = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

// TradingWindow restricts copying to a time-of-day range in a timezone and
// carries the lot-sizing mode. StartMinute == EndMinute means all day.
type TradingWindow struct {
	Mode        SizingMode `json:"mode"`
	Timezone    string     `json:"timezone,omitempty"`
	StartMinute int        `json:"start_minute"`
	EndMinute   int        `json:"end_minute"`
}

func (w TradingWindow) Validate() error {
	if w.Mode != "" && !w.Mode.Valid() {
		return fmt.Errorf("unknown sizing mode %q", w.Mode)
	}
	if w.StartMinute < 0 || w.StartMinute >= 24*60 || w.EndMinute < 0 || w.EndMinute >= 24*60 {
		return fmt.Errorf("window minutes must be within [0, 1440)")
	}
	if w.Timezone != "" {
		if _, err := time.LoadLocation(w.Timezone); err != nil {
			return fmt.Errorf("unknown timezone %q: %w", w.Timezone, err)
		}
	}
	return nil
}

// Allows reports whether t falls inside the window. Windows whose end is
// before their start wrap past midnight.
func (w TradingWindow) Allows(t time.Time) bool {
	if w.StartMinute == w.EndMinute {
		return true
	}
	loc := time.UTC
	if w.Timezone != "" {
		if l, err := time.LoadLocation(w.Timezone); err == nil {
			loc = l
		}
	}
	local := t.In(loc)
	minute := local.Hour()*60 + local.Minute()
	if w.StartMinute < w.EndMinute {
		return minute >= w.StartMinute && minute < w.EndMinute
	}
	return minute >= w.StartMinute || minute < w.EndMinute
}

func (w TradingWindow) Value() (driver.Value, error) {
	return json.Marshal(w)
}

func (w *TradingWindow) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*w = TradingWindow{}
		return nil
	case []byte:
		return json.Unmarshal(v, w)
	case string:
		return json.Unmarshal([]byte(v), w)
	default:
		return fmt.Errorf("trading window: unsupported source %T", src)
	}
}

// Subscription is the single live row for a (follower, master) pair. It is
// reused across stop/restart cycles.
type Subscription struct {
	ID              uuid.UUID        `db:"id" json:"id"`
	FollowerID      string           `db:"follower_id" json:"follower_id"`
	MasterID        string           `db:"master_id" json:"master_id"`
	Allocation      decimal.Decimal  `db:"allocation" json:"allocation"`
	RiskFactor      float64          `db:"risk_factor" json:"risk_factor"`
	Type            SubscriptionType `db:"type" json:"type"`
	IsActive        bool             `db:"is_active" json:"is_active"`
	ExecutionLane   ExecutionLane    `db:"execution_lane" json:"execution_lane"`
	AutoRenew       bool             `db:"auto_renew" json:"auto_renew"`
	TradingWindow   TradingWindow    `db:"trading_window" json:"trading_window"`
	InvertDirection bool             `db:"invert_direction" json:"invert_direction"`
	Expiry          *time.Time       `db:"expiry" json:"expiry,omitempty"`
	CurrentEquity   decimal.Decimal  `db:"current_equity" json:"current_equity"`
	UnrealizedPnL   decimal.Decimal  `db:"unrealized_pnl" json:"unrealized_pnl"`
	Shard           int              `db:"shard" json:"shard"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
}

// Expired reports whether the subscription has a concrete expiry at or before now.
func (s Subscription) Expired(now time.Time) bool {
	return s.Expiry != nil && !s.Expiry.After(now)
}

// Account holds a user's spendable balance.
type Account struct {
	UserID    string          `db:"user_id" json:"user_id"`
	Balance   decimal.Decimal `db:"balance" json:"balance"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// Entitlement tracks a follower's free tickets.
type Entitlement struct {
	FollowerID         string     `db:"follower_id" json:"follower_id"`
	DailyUsed          bool       `db:"daily_used" json:"daily_used"`
	DailyActivatedAt   *time.Time `db:"daily_activated_at" json:"daily_activated_at,omitempty"`
	WelcomeTrialUsed   bool       `db:"welcome_trial_used" json:"welcome_trial_used"`
	WelcomeActivatedAt *time.Time `db:"welcome_activated_at" json:"welcome_activated_at,omitempty"`
}

type EntitlementStatus struct {
	DailyAvailable   bool `json:"daily_available"`
	WelcomeAvailable bool `json:"welcome_available"`
}

type LedgerKind string

const (
	LedgerCopySubscribe LedgerKind = "COPY_SUBSCRIBE"
	LedgerRenewal       LedgerKind = "RENEWAL"
)

type LedgerStatus string

const LedgerCompleted LedgerStatus = "COMPLETED"

// LedgerEntry is an append-only audit record of a balance movement.
type LedgerEntry struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	UserID         string          `db:"user_id" json:"user_id"`
	MasterID       string          `db:"master_id" json:"master_id"`
	SubscriptionID uuid.UUID       `db:"subscription_id" json:"subscription_id"`
	Kind           LedgerKind      `db:"kind" json:"kind"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	Status         LedgerStatus    `db:"status" json:"status"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// TradeRecord is one closed trade from a master's history.
type TradeRecord struct {
	MasterID  string    `db:"master_id" json:"master_id"`
	CloseTime time.Time `db:"close_time" json:"close_time"`
	NetProfit float64   `db:"net_profit" json:"net_profit"`
}

// AccountSnapshot is the broker bridge's latest view of an account.
type AccountSnapshot struct {
	AccountID string    `json:"account_id"`
	Balance   float64   `json:"balance"`
	Equity    float64   `json:"equity"`
	Leverage  float64   `json:"leverage"`
	UpdatedAt time.Time `json:"updated_at"`
}
