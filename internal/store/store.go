package store

import (
	"context"
	"errors"
	"time"

	"github.com/Codetivate/social-trading-webapp-sub000/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicatePair = errors.New("subscription for follower/master pair already exists")
)

// Repository is the transactional source of truth for subscriptions,
// balances, entitlements and master profiles.
type Repository interface {
	// InTx runs fn in one atomic transaction. A non-nil error from fn rolls
	// everything back, including work done inside released savepoints.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetSubscription(ctx context.Context, id uuid.UUID) (domain.Subscription, error)
	ListActiveByFollower(ctx context.Context, followerID string) ([]domain.Subscription, error)
	ListActiveByMaster(ctx context.Context, masterID string) ([]domain.Subscription, error)
	ListExpiredActive(ctx context.Context, now time.Time) ([]domain.Subscription, error)
	GetEntitlement(ctx context.Context, followerID string) (domain.Entitlement, error)
	GetMaster(ctx context.Context, masterID string) (domain.MasterProfile, error)
	ListMasterIDs(ctx context.Context) ([]string, error)
	SetMasterScore(ctx context.Context, masterID string, score domain.MasterScore) error
	ListClosedTrades(ctx context.Context, masterID string) ([]domain.TradeRecord, error)
}

// Tx is the set of operations available inside a transaction. Lock* methods
// take row locks held until commit or rollback.
type Tx interface {
	LockAccount(ctx context.Context, userID string) (domain.Account, error)
	DebitAccount(ctx context.Context, userID string, amount decimal.Decimal) error

	LockMaster(ctx context.Context, masterID string) (domain.MasterProfile, error)
	AggregateActive(ctx context.Context, masterID, excludeFollowerID string) (domain.MasterStats, error)
	SetMasterStats(ctx context.Context, masterID string, stats domain.MasterStats) error

	// GetEntitlement returns a zero record for followers that never used a ticket.
	GetEntitlement(ctx context.Context, followerID string) (domain.Entitlement, error)
	UpsertEntitlement(ctx context.Context, e domain.Entitlement) error

	// LockPair returns nil when the pair has never subscribed.
	LockPair(ctx context.Context, followerID, masterID string) (*domain.Subscription, error)
	LockSubscription(ctx context.Context, id uuid.UUID) (domain.Subscription, error)
	CountActiveByFollower(ctx context.Context, followerID, excludeMasterID string) (int, error)
	ListActiveByFollower(ctx context.Context, followerID string) ([]domain.Subscription, error)
	InsertSubscription(ctx context.Context, sub domain.Subscription) error
	UpdateSubscription(ctx context.Context, sub domain.Subscription) error
	DeactivateSubscription(ctx context.Context, id uuid.UUID, at time.Time) error
	DeactivateByFollower(ctx context.Context, followerID string, at time.Time) ([]domain.Subscription, error)
	DeactivateByMaster(ctx context.Context, masterID string, at time.Time) ([]domain.Subscription, error)

	AppendLedger(ctx context.Context, entry domain.LedgerEntry) error

	// Savepoint runs fn so that its writes can be undone without aborting
	// the surrounding transaction.
	Savepoint(ctx context.Context, name string, fn func() error) error
}
