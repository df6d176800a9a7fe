package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Codetivate/social-trading-webapp-sub000/internal/clock"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/config"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/domain"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testStart = time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)

type recordingEvents struct {
	mu     sync.Mutex
	stats  []domain.StatsChanged
	scores []domain.ScoreChanged
}

func (r *recordingEvents) PublishStats(_ context.Context, e domain.StatsChanged) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = append(r.stats, e)
	return nil
}

func (r *recordingEvents) PublishScore(_ context.Context, e domain.ScoreChanged) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scores = append(r.scores, e)
	return nil
}

func (r *recordingEvents) lastStats(t *testing.T) domain.StatsChanged {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.stats)
	return r.stats[len(r.stats)-1]
}

type recordingMirror struct {
	mu   sync.Mutex
	sets map[string][]domain.Subscription
}

func (m *recordingMirror) ReplaceMaster(_ context.Context, masterID string, subs []domain.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sets == nil {
		m.sets = map[string][]domain.Subscription{}
	}
	m.sets[masterID] = subs
	return nil
}

func (m *recordingMirror) get(masterID string) []domain.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets[masterID]
}

// flakyRepo fails the first n aggregate queries.
type flakyRepo struct {
	store.Repository
	mu    sync.Mutex
	fails int
}

func (f *flakyRepo) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return f.Repository.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, &flakyTx{Tx: tx, repo: f})
	})
}

type flakyTx struct {
	store.Tx
	repo *flakyRepo
}

func (t *flakyTx) AggregateActive(ctx context.Context, masterID, exclude string) (domain.MasterStats, error) {
	t.repo.mu.Lock()
	fail := t.repo.fails > 0
	if fail {
		t.repo.fails--
	}
	t.repo.mu.Unlock()
	if fail {
		return domain.MasterStats{}, errors.New("aggregate query timed out")
	}
	return t.Tx.AggregateActive(ctx, masterID, exclude)
}

type harness struct {
	mem    *store.Memory
	repo   store.Repository
	clock  *clock.Fixed
	gate   *EntitlementGate
	queue  *ReconcileQueue
	events *recordingEvents
	mirror *recordingMirror
	svc    *SubscriptionService
}

func newHarness(t *testing.T, opts ...func(*SubscriptionServiceParams)) *harness {
	t.Helper()
	h := &harness{
		clock:  clock.NewFixed(testStart),
		events: &recordingEvents{},
		mirror: &recordingMirror{},
	}
	h.mem = store.NewMemory(store.WithClock(h.clock))
	h.repo = h.mem
	logger := zaptest.NewLogger(t)
	h.gate = NewEntitlementGate(h.clock, 7*time.Hour)

	params := SubscriptionServiceParams{
		Repo:          h.repo,
		Gate:          h.gate,
		Mirror:        h.mirror,
		Events:        h.events,
		Clock:         h.clock,
		Logger:        logger,
		BalancePolicy: config.BalanceStrict,
		ShardCount:    16,
	}
	for _, opt := range opts {
		opt(&params)
	}
	h.repo = params.Repo
	h.queue = NewReconcileQueue(h.repo, 3, time.Millisecond, logger)
	params.Queue = h.queue
	h.svc = NewSubscriptionService(params)
	h.queue.OnReconciled(h.svc.OnReconciled)
	return h
}

func (h *harness) account(userID string, balance int64) {
	h.mem.PutAccount(domain.Account{UserID: userID, Balance: decimal.NewFromInt(balance)})
}

func (h *harness) master(userID string, tier domain.MasterTier, fee int64) {
	h.mem.PutMaster(domain.MasterProfile{
		UserID:     userID,
		Tier:       tier,
		MonthlyFee: decimal.NewFromInt(fee),
		AUM:        decimal.Zero,
		RiskScore:  1,
	})
}

func (h *harness) balance(t *testing.T, userID string) decimal.Decimal {
	t.Helper()
	acc, err := h.mem.Account(userID)
	require.NoError(t, err)
	return acc.Balance
}

func (h *harness) profile(t *testing.T, masterID string) domain.MasterProfile {
	t.Helper()
	p, err := h.mem.GetMaster(context.Background(), masterID)
	require.NoError(t, err)
	return p
}

func req(follower, master string, amount int64, t domain.SubscriptionType) SubscribeRequest {
	return SubscribeRequest{
		FollowerID: follower,
		MasterID:   master,
		Amount:     decimal.NewFromInt(amount),
		Type:       t,
	}
}
