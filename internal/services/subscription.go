package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"time"

	"github.com/Codetivate/social-trading-webapp-sub000/internal/clock"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/config"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/domain"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/errs"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/metrics"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SubscribeOptions are the per-subscription toggles.
type SubscribeOptions struct {
	AutoRenew       bool                 `json:"auto_renew"`
	InvertDirection bool                 `json:"invert_direction"`
	TradingWindow   domain.TradingWindow `json:"trading_window"`
}

type SubscribeRequest struct {
	FollowerID string
	MasterID   string
	Amount     decimal.Decimal
	Type       domain.SubscriptionType
	Risk       RiskParams
	Options    SubscribeOptions
}

type UnsubscribeResult struct {
	Changed bool   `json:"changed"`
	Message string `json:"message"`
}

// masterChange is a master touched by a committed transition.
type masterChange struct {
	masterID   string
	stats      domain.MasterStats
	reconciled bool
}

// SubscriptionService is the lifecycle manager for follower/master pairs.
// Every transition runs in one repository transaction; aggregates are
// reconciled inside it and re-broadcast after commit.
type SubscriptionService struct {
	repo   store.Repository
	gate   *EntitlementGate
	queue  *ReconcileQueue
	mirror Mirror
	events EventPublisher
	clock  clock.Clock
	logger *zap.Logger

	policy     config.BalancePolicy
	shardCount int
}

type SubscriptionServiceParams struct {
	Repo          store.Repository
	Gate          *EntitlementGate
	Queue         *ReconcileQueue
	Mirror        Mirror
	Events        EventPublisher
	Clock         clock.Clock
	Logger        *zap.Logger
	BalancePolicy config.BalancePolicy
	ShardCount    int
}

func NewSubscriptionService(p SubscriptionServiceParams) *SubscriptionService {
	if p.ShardCount < 1 {
		p.ShardCount = 1
	}
	if p.BalancePolicy == "" {
		p.BalancePolicy = config.BalanceStrict
	}
	return &SubscriptionService{
		repo:       p.Repo,
		gate:       p.Gate,
		queue:      p.Queue,
		mirror:     p.Mirror,
		events:     orNoop(p.Events),
		clock:      p.Clock,
		logger:     p.Logger,
		policy:     p.BalancePolicy,
		shardCount: p.ShardCount,
	}
}

func (r SubscribeRequest) validate() error {
	const op = "subscribe"
	if r.FollowerID == "" || r.MasterID == "" {
		return errs.New(errs.CodeValidation, op, "follower and master ids are required")
	}
	if !r.Amount.IsPositive() {
		return errs.New(errs.CodeValidation, op, "amount must be positive, got %s", r.Amount)
	}
	if r.Type != "" && !r.Type.Valid() {
		return errs.New(errs.CodeValidation, op, "unknown subscription type %q", r.Type)
	}
	if err := r.Risk.Validate(); err != nil {
		return errs.WrapWithCode(errs.CodeValidation, op, err)
	}
	if err := r.Options.TradingWindow.Validate(); err != nil {
		return errs.WrapWithCode(errs.CodeValidation, op, err)
	}
	if rm, wm := r.Risk.Mode, r.Options.TradingWindow.Mode; rm != "" && wm != "" && rm != wm {
		return errs.New(errs.CodeValidation, op, "risk mode %s conflicts with trading window mode %s", rm, wm)
	}
	return nil
}

// sizingMode is the mode named by either risk or the trading window,
// defaulting to fixed ratio. validate has already rejected a mismatch.
func (r SubscribeRequest) sizingMode() domain.SizingMode {
	switch {
	case r.Risk.Mode != "":
		return r.Risk.Mode
	case r.Options.TradingWindow.Mode != "":
		return r.Options.TradingWindow.Mode
	default:
		return domain.SizingFixedRatio
	}
}

// Subscribe creates or reactivates the pair's subscription, charges the
// follower and records entitlement usage atomically.
func (s *SubscriptionService) Subscribe(ctx context.Context, req SubscribeRequest) (domain.Subscription, error) {
	sub, change, err := s.subscribe(ctx, req)
	if err != nil {
		metrics.SubscribeTotal.WithLabelValues(string(errs.CodeOf(err))).Inc()
		return domain.Subscription{}, err
	}
	metrics.SubscribeTotal.WithLabelValues("ok").Inc()
	s.afterCommit(ctx, []masterChange{change})
	return sub, nil
}

func (s *SubscriptionService) subscribe(ctx context.Context, req SubscribeRequest) (domain.Subscription, masterChange, error) {
	const op = "subscribe"
	if err := req.validate(); err != nil {
		return domain.Subscription{}, masterChange{}, err
	}
	req.Risk.Mode = req.sizingMode()

	var (
		sub    domain.Subscription
		change = masterChange{masterID: req.MasterID}
	)
	err := s.repo.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		now := s.clock.Now()

		acc, err := tx.LockAccount(ctx, req.FollowerID)
		if err != nil {
			return storeErr(op, fmt.Errorf("follower: %w", err))
		}
		master, err := tx.LockMaster(ctx, req.MasterID)
		if err != nil {
			return storeErr(op, fmt.Errorf("master: %w", err))
		}
		ent, err := tx.GetEntitlement(ctx, req.FollowerID)
		if err != nil {
			return storeErr(op, err)
		}

		existing, err := tx.LockPair(ctx, req.FollowerID, req.MasterID)
		if err != nil {
			return storeErr(op, err)
		}
		if existing != nil && existing.IsActive {
			return errs.New(errs.CodeAlreadyActive, op, "follower %s already copies master %s", req.FollowerID, req.MasterID)
		}

		// a follower already copying another master hears about the
		// single-master rule before any ticket rule
		if s.gate.Resolve(master, ent, req.Type) != domain.SubscriptionPaid {
			active, err := tx.CountActiveByFollower(ctx, req.FollowerID, req.MasterID)
			if err != nil {
				return storeErr(op, err)
			}
			if active > 0 {
				return errs.New(errs.CodeConcurrencyLimit, op, "follower %s already has an active master; only paid plans may copy several", req.FollowerID)
			}
		}

		decision := s.gate.CanSubscribe(master, ent, req.Type)
		if !decision.Allow {
			return errs.New(decision.Code, op, "%s", decision.Reason)
		}
		subType := decision.ResolvedType

		if err := s.checkCapacity(ctx, tx, master, req); err != nil {
			return err
		}

		cost := req.Amount
		if subType == domain.SubscriptionPaid && master.IsPaid() {
			cost = cost.Add(master.MonthlyFee)
		}
		if acc.Balance.LessThan(cost) {
			if s.policy == config.BalanceStrict {
				return errs.New(errs.CodeInsufficientFunds, op, "balance %s below cost %s", acc.Balance, cost)
			}
			s.logger.Warn("insufficient balance, proceeding under permissive policy",
				zap.String("follower_id", req.FollowerID),
				zap.String("balance", acc.Balance.String()),
				zap.String("cost", cost.String()))
		}
		if err := tx.DebitAccount(ctx, req.FollowerID, cost); err != nil {
			return storeErr(op, err)
		}

		sub = s.buildSubscription(existing, req, subType, master.Tier, now)
		if existing != nil {
			err = tx.UpdateSubscription(ctx, sub)
		} else {
			err = tx.InsertSubscription(ctx, sub)
		}
		if errors.Is(err, store.ErrDuplicatePair) {
			return errs.WrapWithCode(errs.CodeAlreadyActive, op, err)
		}
		if err != nil {
			return storeErr(op, err)
		}

		if updated, changed := s.gate.Consume(ent, subType, now); changed {
			if err := tx.UpsertEntitlement(ctx, updated); err != nil {
				return storeErr(op, err)
			}
		}

		entry := domain.LedgerEntry{
			ID:             uuid.New(),
			UserID:         req.FollowerID,
			MasterID:       req.MasterID,
			SubscriptionID: sub.ID,
			Kind:           domain.LedgerCopySubscribe,
			Amount:         cost.Neg(),
			Status:         domain.LedgerCompleted,
			CreatedAt:      now,
		}
		if err := tx.AppendLedger(ctx, entry); err != nil {
			return storeErr(op, err)
		}

		change.stats, change.reconciled = reconcileInSavepoint(ctx, tx, req.MasterID, s.logger)
		return nil
	})
	if err != nil {
		return domain.Subscription{}, masterChange{}, err
	}
	return sub, change, nil
}

// checkCapacity rejects a subscribe that would push the master past its
// followers or AUM limit. Self-investment never counts.
func (s *SubscriptionService) checkCapacity(ctx context.Context, tx store.Tx, master domain.MasterProfile, req SubscribeRequest) error {
	const op = "subscribe"
	if req.FollowerID == req.MasterID {
		return nil
	}
	followersLimit, aumLimit := master.Limits()
	if followersLimit == 0 && aumLimit.IsZero() {
		return nil
	}
	current, err := tx.AggregateActive(ctx, master.UserID, master.UserID)
	if err != nil {
		return storeErr(op, err)
	}
	if followersLimit > 0 && current.FollowersCount+1 > followersLimit {
		return errs.New(errs.CodeCapacityExceeded, op, "master %s is at its follower limit of %d", master.UserID, followersLimit)
	}
	if aumLimit.IsPositive() && current.AUM.Add(req.Amount).GreaterThan(aumLimit) {
		return errs.New(errs.CodeCapacityExceeded, op, "master %s would exceed its AUM limit of %s", master.UserID, aumLimit)
	}
	return nil
}

// buildSubscription overwrites the mutable fields of an existing row, or
// creates a fresh one with a random shard.
func (s *SubscriptionService) buildSubscription(existing *domain.Subscription, req SubscribeRequest, t domain.SubscriptionType, tier domain.MasterTier, now time.Time) domain.Subscription {
	var sub domain.Subscription
	if existing != nil {
		sub = *existing
	} else {
		sub = domain.Subscription{
			ID:         uuid.New(),
			FollowerID: req.FollowerID,
			MasterID:   req.MasterID,
			Shard:      rand.Intn(s.shardCount),
			CreatedAt:  now,
		}
	}

	window := req.Options.TradingWindow
	window.Mode = req.sizingMode()

	sub.Allocation = req.Amount
	sub.RiskFactor = EffectiveScaling(req.Risk)
	sub.Type = t
	sub.IsActive = true
	sub.ExecutionLane = AssignLane(t, tier)
	sub.AutoRenew = req.Options.AutoRenew
	sub.TradingWindow = window
	sub.InvertDirection = req.Options.InvertDirection
	sub.Expiry = ExpiryFor(t, now)
	sub.CurrentEquity = req.Amount
	sub.UnrealizedPnL = decimal.Zero
	sub.UpdatedAt = now
	return sub
}

// Unsubscribe stops an active subscription. Stopping an inactive one is a
// no-op reported through the result.
func (s *SubscriptionService) Unsubscribe(ctx context.Context, id uuid.UUID) (UnsubscribeResult, error) {
	const op = "unsubscribe"
	current, err := s.repo.GetSubscription(ctx, id)
	if err != nil {
		return UnsubscribeResult{}, storeErr(op, err)
	}

	result := UnsubscribeResult{Message: "subscription is not active"}
	change := masterChange{masterID: current.MasterID}
	err = s.repo.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.LockMaster(ctx, current.MasterID); err != nil {
			return storeErr(op, err)
		}
		sub, err := tx.LockSubscription(ctx, id)
		if err != nil {
			return storeErr(op, err)
		}
		if !sub.IsActive {
			return nil
		}
		if err := tx.DeactivateSubscription(ctx, id, s.clock.Now()); err != nil {
			return storeErr(op, err)
		}
		result = UnsubscribeResult{Changed: true, Message: "subscription stopped"}
		change.stats, change.reconciled = reconcileInSavepoint(ctx, tx, current.MasterID, s.logger)
		return nil
	})
	if err != nil {
		return UnsubscribeResult{}, err
	}

	if result.Changed {
		metrics.UnsubscribeTotal.WithLabelValues("single").Inc()
		s.afterCommit(ctx, []masterChange{change})
	}
	return result, nil
}

// UnsubscribeAll stops every active subscription of a follower and
// reconciles each affected master once.
func (s *SubscriptionService) UnsubscribeAll(ctx context.Context, followerID string) (int, error) {
	const op = "unsubscribe all"
	if followerID == "" {
		return 0, errs.New(errs.CodeValidation, op, "follower id is required")
	}

	var (
		changes     []masterChange
		deactivated int
	)
	err := s.repo.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		changes, deactivated = nil, 0
		if _, err := tx.LockAccount(ctx, followerID); err != nil {
			return storeErr(op, fmt.Errorf("follower: %w", err))
		}
		active, err := tx.ListActiveByFollower(ctx, followerID)
		if err != nil {
			return storeErr(op, err)
		}
		masters := distinctMasters(active)
		// lock masters in a stable order before touching rows
		for _, masterID := range masters {
			if _, err := tx.LockMaster(ctx, masterID); err != nil {
				return storeErr(op, err)
			}
		}

		hit, err := tx.DeactivateByFollower(ctx, followerID, s.clock.Now())
		if err != nil {
			return storeErr(op, err)
		}
		deactivated = len(hit)

		for _, masterID := range distinctMasters(hit) {
			change := masterChange{masterID: masterID}
			change.stats, change.reconciled = reconcileInSavepoint(ctx, tx, masterID, s.logger)
			changes = append(changes, change)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	metrics.UnsubscribeTotal.WithLabelValues("follower_all").Add(float64(deactivated))
	s.afterCommit(ctx, changes)
	return deactivated, nil
}

// ForceUnsubscribeAllFollowersOf stops every subscription targeting a
// master. The master's aggregates are reset to zero directly.
func (s *SubscriptionService) ForceUnsubscribeAllFollowersOf(ctx context.Context, masterID string) (int, error) {
	const op = "force unsubscribe followers"
	if masterID == "" {
		return 0, errs.New(errs.CodeValidation, op, "master id is required")
	}

	var deactivated int
	zero := domain.MasterStats{AUM: decimal.Zero}
	err := s.repo.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.LockMaster(ctx, masterID); err != nil {
			return storeErr(op, err)
		}
		hit, err := tx.DeactivateByMaster(ctx, masterID, s.clock.Now())
		if err != nil {
			return storeErr(op, err)
		}
		deactivated = len(hit)
		if err := tx.SetMasterStats(ctx, masterID, zero); err != nil {
			return storeErr(op, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	metrics.UnsubscribeTotal.WithLabelValues("master_all").Add(float64(deactivated))
	s.afterCommit(ctx, []masterChange{{masterID: masterID, stats: zero, reconciled: true}})
	return deactivated, nil
}

func (s *SubscriptionService) ListActiveSubscriptions(ctx context.Context, followerID string) ([]domain.Subscription, error) {
	subs, err := s.repo.ListActiveByFollower(ctx, followerID)
	if err != nil {
		return nil, storeErr("list active subscriptions", err)
	}
	return subs, nil
}

func (s *SubscriptionService) EntitlementStatus(ctx context.Context, followerID string) (domain.EntitlementStatus, error) {
	ent, err := s.repo.GetEntitlement(ctx, followerID)
	if err != nil {
		return domain.EntitlementStatus{}, storeErr("entitlement status", err)
	}
	return s.gate.Status(ent), nil
}

// afterCommit broadcasts reconciled stats, queues failed reconciles and
// rebuilds the mirror. None of it can fail the committed transition.
func (s *SubscriptionService) afterCommit(ctx context.Context, changes []masterChange) {
	for _, c := range changes {
		if c.reconciled {
			s.publishStats(ctx, c.masterID, c.stats)
		} else if s.queue != nil {
			s.queue.Enqueue(c.masterID)
		}
		s.SyncMirror(ctx, c.masterID)
	}
}

func (s *SubscriptionService) publishStats(ctx context.Context, masterID string, stats domain.MasterStats) {
	event := domain.StatsChanged{
		MasterID:       masterID,
		FollowersCount: stats.FollowersCount,
		AUM:            stats.AUM,
		At:             s.clock.Now(),
	}
	if err := s.events.PublishStats(ctx, event); err != nil {
		s.logger.Warn("publish stats event failed", zap.String("master_id", masterID), zap.Error(err))
	}
}

// SyncMirror rebuilds the master's mirrored active set from the repository.
func (s *SubscriptionService) SyncMirror(ctx context.Context, masterID string) {
	if s.mirror == nil {
		return
	}
	subs, err := s.repo.ListActiveByMaster(ctx, masterID)
	if err == nil {
		err = s.mirror.ReplaceMaster(ctx, masterID, subs)
	}
	if err != nil {
		s.logger.Warn("mirror sync failed", zap.String("master_id", masterID), zap.Error(err))
	}
}

// OnReconciled is the retry queue callback: a late reconcile still
// broadcasts and refreshes the mirror.
func (s *SubscriptionService) OnReconciled(ctx context.Context, masterID string, stats domain.MasterStats) {
	s.publishStats(ctx, masterID, stats)
	s.SyncMirror(ctx, masterID)
}

func distinctMasters(subs []domain.Subscription) []string {
	ids := make([]string, 0, len(subs))
	for _, sub := range subs {
		ids = append(ids, sub.MasterID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}
