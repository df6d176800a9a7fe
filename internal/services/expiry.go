package services

import (
	"context"

	"github.com/Codetivate/social-trading-webapp-sub000/internal/clock"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/config"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/domain"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/metrics"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const renewalPeriodDays = 30

type SweepResult struct {
	Renewed int
	Expired int
	Failed  int
}

// ExpiryService renews or stops subscriptions whose expiry has passed.
type ExpiryService struct {
	repo   store.Repository
	subs   *SubscriptionService
	clock  clock.Clock
	policy config.BalancePolicy
	logger *zap.Logger
}

func NewExpiryService(repo store.Repository, subs *SubscriptionService, c clock.Clock, policy config.BalancePolicy, logger *zap.Logger) *ExpiryService {
	return &ExpiryService{repo: repo, subs: subs, clock: c, policy: policy, logger: logger}
}

// Sweep handles each expired subscription in its own transaction. Paid
// subscriptions with auto-renew are charged another period when the
// follower can pay; everything else is deactivated.
func (e *ExpiryService) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	expired, err := e.repo.ListExpiredActive(ctx, e.clock.Now())
	if err != nil {
		return result, err
	}

	for _, sub := range expired {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		renewed, change, err := e.handle(ctx, sub)
		switch {
		case err != nil:
			result.Failed++
			e.logger.Warn("expiry handling failed",
				zap.String("subscription_id", sub.ID.String()),
				zap.Error(err))
			continue
		case renewed:
			result.Renewed++
		case change != nil:
			result.Expired++
			metrics.UnsubscribeTotal.WithLabelValues("expired").Inc()
			e.subs.afterCommit(ctx, []masterChange{*change})
		}
	}
	return result, nil
}

func (e *ExpiryService) handle(ctx context.Context, candidate domain.Subscription) (bool, *masterChange, error) {
	var (
		renewed bool
		change  *masterChange
	)
	err := e.repo.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		renewed, change = false, nil
		now := e.clock.Now()

		acc, err := tx.LockAccount(ctx, candidate.FollowerID)
		if err != nil {
			return err
		}
		master, err := tx.LockMaster(ctx, candidate.MasterID)
		if err != nil {
			return err
		}
		sub, err := tx.LockSubscription(ctx, candidate.ID)
		if err != nil {
			return err
		}
		if !sub.IsActive || !sub.Expired(now) {
			return nil
		}

		if sub.Type == domain.SubscriptionPaid && sub.AutoRenew {
			fee := master.MonthlyFee
			canPay := !acc.Balance.LessThan(fee) || e.policy == config.BalancePermissive
			if canPay {
				if fee.IsPositive() {
					if err := tx.DebitAccount(ctx, sub.FollowerID, fee); err != nil {
						return err
					}
					entry := domain.LedgerEntry{
						ID:             uuid.New(),
						UserID:         sub.FollowerID,
						MasterID:       sub.MasterID,
						SubscriptionID: sub.ID,
						Kind:           domain.LedgerRenewal,
						Amount:         fee.Neg(),
						Status:         domain.LedgerCompleted,
						CreatedAt:      now,
					}
					if err := tx.AppendLedger(ctx, entry); err != nil {
						return err
					}
				}
				next := sub.Expiry.AddDate(0, 0, renewalPeriodDays)
				if !next.After(now) {
					next = now.AddDate(0, 0, renewalPeriodDays)
				}
				sub.Expiry = &next
				sub.UpdatedAt = now
				if err := tx.UpdateSubscription(ctx, sub); err != nil {
					return err
				}
				renewed = true
				return nil
			}
			e.logger.Info("auto-renew skipped, insufficient balance",
				zap.String("subscription_id", sub.ID.String()),
				zap.String("balance", acc.Balance.String()),
				zap.String("fee", fee.String()))
		}

		if err := tx.DeactivateSubscription(ctx, sub.ID, now); err != nil {
			return err
		}
		c := masterChange{masterID: sub.MasterID}
		c.stats, c.reconciled = reconcileInSavepoint(ctx, tx, sub.MasterID, e.logger)
		change = &c
		return nil
	})
	return renewed, change, err
}
