package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Codetivate/social-trading-webapp-sub000/internal/domain"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/metrics"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/store"
	"go.uber.org/zap"
)

// Reconcile rewrites a master's followers count and AUM from its active
// subscriptions. The master's own self-investment is excluded.
func Reconcile(ctx context.Context, tx store.Tx, masterID string) (domain.MasterStats, error) {
	stats, err := tx.AggregateActive(ctx, masterID, masterID)
	if err != nil {
		return domain.MasterStats{}, err
	}
	if err := tx.SetMasterStats(ctx, masterID, stats); err != nil {
		return domain.MasterStats{}, err
	}
	return stats, nil
}

// reconcileInSavepoint runs Reconcile so that a failure leaves the rest of
// the transaction intact. ok is false when the master needs a retry.
func reconcileInSavepoint(ctx context.Context, tx store.Tx, masterID string, logger *zap.Logger) (domain.MasterStats, bool) {
	var stats domain.MasterStats
	err := tx.Savepoint(ctx, "reconcile_stats", func() error {
		var err error
		stats, err = Reconcile(ctx, tx, masterID)
		return err
	})
	if err != nil {
		metrics.ReconcileFailuresTotal.WithLabelValues("inline").Inc()
		logger.Warn("stats reconcile failed, deferring to retry queue",
			zap.String("master_id", masterID), zap.Error(err))
		return domain.MasterStats{}, false
	}
	return stats, true
}

// ReconcileQueue retries reconciliation for masters whose inline reconcile
// failed. Pending masters are deduplicated.
type ReconcileQueue struct {
	repo     store.Repository
	attempts int
	backoff  time.Duration
	logger   *zap.Logger

	// onReconciled runs after each successful retry.
	onReconciled func(ctx context.Context, masterID string, stats domain.MasterStats)

	mu      sync.Mutex
	pending map[string]struct{}
	wake    chan struct{}
}

func NewReconcileQueue(repo store.Repository, attempts int, backoff time.Duration, logger *zap.Logger) *ReconcileQueue {
	if attempts < 1 {
		attempts = 1
	}
	return &ReconcileQueue{
		repo:     repo,
		attempts: attempts,
		backoff:  backoff,
		logger:   logger,
		pending:  map[string]struct{}{},
		wake:     make(chan struct{}, 1),
	}
}

// OnReconciled registers the success callback. Call before Run.
func (q *ReconcileQueue) OnReconciled(fn func(ctx context.Context, masterID string, stats domain.MasterStats)) {
	q.onReconciled = fn
}

func (q *ReconcileQueue) Enqueue(masterID string) {
	q.mu.Lock()
	q.pending[masterID] = struct{}{}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Pending returns how many masters await a retry.
func (q *ReconcileQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *ReconcileQueue) drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.pending))
	for id := range q.pending {
		ids = append(ids, id)
	}
	clear(q.pending)
	return ids
}

// Run processes the queue until ctx is done.
func (q *ReconcileQueue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.wake:
		}

		for _, masterID := range q.drain() {
			if err := q.retry(ctx, masterID); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				metrics.ReconcileFailuresTotal.WithLabelValues("retry_exhausted").Inc()
				q.logger.Error("stats reconcile retries exhausted",
					zap.String("master_id", masterID),
					zap.Int("attempts", q.attempts),
					zap.Error(err))
			}
		}
	}
}

// retry waits backoff*attempt before each attempt.
func (q *ReconcileQueue) retry(ctx context.Context, masterID string) error {
	var lastErr error
	for attempt := 1; attempt <= q.attempts; attempt++ {
		timer := time.NewTimer(q.backoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		var stats domain.MasterStats
		err := q.repo.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
			if _, err := tx.LockMaster(ctx, masterID); err != nil {
				return err
			}
			var err error
			stats, err = Reconcile(ctx, tx, masterID)
			return err
		})
		if err == nil {
			if q.onReconciled != nil {
				q.onReconciled(ctx, masterID, stats)
			}
			return nil
		}
		lastErr = err
		metrics.ReconcileFailuresTotal.WithLabelValues("retry").Inc()
		q.logger.Warn("stats reconcile retry failed",
			zap.String("master_id", masterID),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return fmt.Errorf("reconcile %s after %d attempts: %w", masterID, q.attempts, lastErr)
}
