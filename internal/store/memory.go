package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Codetivate/social-trading-webapp-sub000/internal/clock"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type pairKey struct {
	follower string
	master   string
}

type memState struct {
	accounts     map[string]domain.Account
	masters      map[string]domain.MasterProfile
	entitlements map[string]domain.Entitlement
	subs         map[uuid.UUID]domain.Subscription
	pairs        map[pairKey]uuid.UUID
	ledger       []domain.LedgerEntry
	trades       map[string][]domain.TradeRecord
}

func newMemState() *memState {
	return &memState{
		accounts:     map[string]domain.Account{},
		masters:      map[string]domain.MasterProfile{},
		entitlements: map[string]domain.Entitlement{},
		subs:         map[uuid.UUID]domain.Subscription{},
		pairs:        map[pairKey]uuid.UUID{},
		trades:       map[string][]domain.TradeRecord{},
	}
}

// clone copies every table. Values are plain structs; time pointers are
// never mutated in place so sharing them is safe.
func (s *memState) clone() *memState {
	return &memState{
		accounts:     maps.Clone(s.accounts),
		masters:      maps.Clone(s.masters),
		entitlements: maps.Clone(s.entitlements),
		subs:         maps.Clone(s.subs),
		pairs:        maps.Clone(s.pairs),
		ledger:       slices.Clone(s.ledger),
		trades:       maps.Clone(s.trades),
	}
}

// Memory is an in-process Repository. Transactions are serialized by a single
// lock and applied copy-on-write, which gives the same isolation the
// relational store provides through row locks.
type Memory struct {
	mu    sync.Mutex
	state *memState
	clock clock.Clock
}

type MemoryOption func(*Memory)

// WithClock sets the clock used to stamp updated_at columns.
func WithClock(c clock.Clock) MemoryOption {
	return func(m *Memory) { m.clock = c }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{state: newMemState(), clock: clock.System{}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) PutAccount(acc domain.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.accounts[acc.UserID] = acc
}

func (m *Memory) PutMaster(p domain.MasterProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.masters[p.UserID] = p
}

func (m *Memory) PutTrades(masterID string, trades []domain.TradeRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sorted := slices.Clone(trades)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CloseTime.Before(sorted[j].CloseTime) })
	m.state.trades[masterID] = sorted
}

func (m *Memory) Account(userID string) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.state.accounts[userID]
	if !ok {
		return domain.Account{}, fmt.Errorf("get account: %w", ErrNotFound)
	}
	return acc, nil
}

// Ledger returns a copy of every ledger entry in append order.
func (m *Memory) Ledger() []domain.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.state.ledger)
}

// PairCount returns how many rows exist for a pair, active or not.
func (m *Memory) PairCount(followerID, masterID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, sub := range m.state.subs {
		if sub.FollowerID == followerID && sub.MasterID == masterID {
			n++
		}
	}
	return n
}

func (m *Memory) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := m.state.clone()
	if err := fn(ctx, &memTx{state: work, now: m.clock.Now()}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *Memory) GetSubscription(_ context.Context, id uuid.UUID) (domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.state.subs[id]
	if !ok {
		return domain.Subscription{}, fmt.Errorf("get subscription: %w", ErrNotFound)
	}
	return sub, nil
}

func (m *Memory) ListActiveByFollower(_ context.Context, followerID string) ([]domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.filterSubs(func(s domain.Subscription) bool {
		return s.IsActive && s.FollowerID == followerID
	}), nil
}

func (m *Memory) ListActiveByMaster(_ context.Context, masterID string) ([]domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.filterSubs(func(s domain.Subscription) bool {
		return s.IsActive && s.MasterID == masterID
	}), nil
}

func (m *Memory) ListExpiredActive(_ context.Context, now time.Time) ([]domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.filterSubs(func(s domain.Subscription) bool {
		return s.IsActive && s.Expired(now)
	}), nil
}

func (m *Memory) GetEntitlement(_ context.Context, followerID string) (domain.Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.entitlement(followerID), nil
}

func (m *Memory) GetMaster(_ context.Context, masterID string) (domain.MasterProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.masters[masterID]
	if !ok {
		return domain.MasterProfile{}, fmt.Errorf("get master: %w", ErrNotFound)
	}
	return p, nil
}

func (m *Memory) ListMasterIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.state.masters))
	for id := range m.state.masters {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (m *Memory) SetMasterScore(_ context.Context, masterID string, score domain.MasterScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.masters[masterID]
	if !ok {
		return fmt.Errorf("update master score: %w", ErrNotFound)
	}
	p.RiskScore = score.RiskScore
	p.MaxDrawdownPct = score.MaxDrawdownPct
	p.ROI = score.ROI
	m.state.masters[masterID] = p
	return nil
}

func (m *Memory) ListClosedTrades(_ context.Context, masterID string) ([]domain.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.state.trades[masterID]), nil
}

func (s *memState) filterSubs(keep func(domain.Subscription) bool) []domain.Subscription {
	out := []domain.Subscription{}
	for _, sub := range s.subs {
		if keep(sub) {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *memState) entitlement(followerID string) domain.Entitlement {
	if e, ok := s.entitlements[followerID]; ok {
		return e
	}
	return domain.Entitlement{FollowerID: followerID}
}

type memTx struct {
	state *memState
	now   time.Time
}

func (t *memTx) LockAccount(_ context.Context, userID string) (domain.Account, error) {
	acc, ok := t.state.accounts[userID]
	if !ok {
		return domain.Account{}, fmt.Errorf("lock account: %w", ErrNotFound)
	}
	return acc, nil
}

func (t *memTx) DebitAccount(_ context.Context, userID string, amount decimal.Decimal) error {
	acc, ok := t.state.accounts[userID]
	if !ok {
		return fmt.Errorf("debit account: %w", ErrNotFound)
	}
	acc.Balance = acc.Balance.Sub(amount)
	acc.UpdatedAt = t.now
	t.state.accounts[userID] = acc
	return nil
}

func (t *memTx) LockMaster(_ context.Context, masterID string) (domain.MasterProfile, error) {
	p, ok := t.state.masters[masterID]
	if !ok {
		return domain.MasterProfile{}, fmt.Errorf("lock master: %w", ErrNotFound)
	}
	return p, nil
}

func (t *memTx) AggregateActive(_ context.Context, masterID, excludeFollowerID string) (domain.MasterStats, error) {
	stats := domain.MasterStats{AUM: decimal.Zero}
	for _, sub := range t.state.subs {
		if !sub.IsActive || sub.MasterID != masterID || sub.FollowerID == excludeFollowerID {
			continue
		}
		stats.FollowersCount++
		stats.AUM = stats.AUM.Add(sub.Allocation)
	}
	return stats, nil
}

func (t *memTx) SetMasterStats(_ context.Context, masterID string, stats domain.MasterStats) error {
	p, ok := t.state.masters[masterID]
	if !ok {
		return fmt.Errorf("update master stats: %w", ErrNotFound)
	}
	p.FollowersCount = stats.FollowersCount
	p.AUM = stats.AUM
	p.UpdatedAt = t.now
	t.state.masters[masterID] = p
	return nil
}

func (t *memTx) GetEntitlement(_ context.Context, followerID string) (domain.Entitlement, error) {
	return t.state.entitlement(followerID), nil
}

func (t *memTx) UpsertEntitlement(_ context.Context, e domain.Entitlement) error {
	prev := t.state.entitlement(e.FollowerID)
	if prev.WelcomeTrialUsed {
		e.WelcomeTrialUsed = true
		if prev.WelcomeActivatedAt != nil {
			e.WelcomeActivatedAt = prev.WelcomeActivatedAt
		}
	}
	t.state.entitlements[e.FollowerID] = e
	return nil
}

func (t *memTx) LockPair(_ context.Context, followerID, masterID string) (*domain.Subscription, error) {
	id, ok := t.state.pairs[pairKey{followerID, masterID}]
	if !ok {
		return nil, nil
	}
	sub := t.state.subs[id]
	return &sub, nil
}

func (t *memTx) LockSubscription(_ context.Context, id uuid.UUID) (domain.Subscription, error) {
	sub, ok := t.state.subs[id]
	if !ok {
		return domain.Subscription{}, fmt.Errorf("lock subscription: %w", ErrNotFound)
	}
	return sub, nil
}

func (t *memTx) CountActiveByFollower(_ context.Context, followerID, excludeMasterID string) (int, error) {
	n := 0
	for _, sub := range t.state.subs {
		if sub.IsActive && sub.FollowerID == followerID && sub.MasterID != excludeMasterID {
			n++
		}
	}
	return n, nil
}

func (t *memTx) ListActiveByFollower(_ context.Context, followerID string) ([]domain.Subscription, error) {
	return t.state.filterSubs(func(s domain.Subscription) bool {
		return s.IsActive && s.FollowerID == followerID
	}), nil
}

func (t *memTx) InsertSubscription(_ context.Context, sub domain.Subscription) error {
	key := pairKey{sub.FollowerID, sub.MasterID}
	if _, ok := t.state.pairs[key]; ok {
		return ErrDuplicatePair
	}
	if _, ok := t.state.subs[sub.ID]; ok {
		return fmt.Errorf("insert subscription: duplicate id %s", sub.ID)
	}
	t.state.subs[sub.ID] = sub
	t.state.pairs[key] = sub.ID
	return nil
}

func (t *memTx) UpdateSubscription(_ context.Context, sub domain.Subscription) error {
	prev, ok := t.state.subs[sub.ID]
	if !ok {
		return fmt.Errorf("update subscription: %w", ErrNotFound)
	}
	// pair and creation time are immutable
	sub.FollowerID = prev.FollowerID
	sub.MasterID = prev.MasterID
	sub.Shard = prev.Shard
	sub.CreatedAt = prev.CreatedAt
	t.state.subs[sub.ID] = sub
	return nil
}

func (t *memTx) DeactivateSubscription(_ context.Context, id uuid.UUID, at time.Time) error {
	sub, ok := t.state.subs[id]
	if !ok {
		return fmt.Errorf("deactivate subscription: %w", ErrNotFound)
	}
	sub.IsActive = false
	sub.UpdatedAt = at
	t.state.subs[id] = sub
	return nil
}

func (t *memTx) DeactivateByFollower(_ context.Context, followerID string, at time.Time) ([]domain.Subscription, error) {
	return t.deactivateWhere(func(s domain.Subscription) bool { return s.FollowerID == followerID }, at), nil
}

func (t *memTx) DeactivateByMaster(_ context.Context, masterID string, at time.Time) ([]domain.Subscription, error) {
	return t.deactivateWhere(func(s domain.Subscription) bool { return s.MasterID == masterID }, at), nil
}

func (t *memTx) deactivateWhere(match func(domain.Subscription) bool, at time.Time) []domain.Subscription {
	hit := t.state.filterSubs(func(s domain.Subscription) bool { return s.IsActive && match(s) })
	for i := range hit {
		hit[i].IsActive = false
		hit[i].UpdatedAt = at
		t.state.subs[hit[i].ID] = hit[i]
	}
	return hit
}

func (t *memTx) AppendLedger(_ context.Context, entry domain.LedgerEntry) error {
	t.state.ledger = append(t.state.ledger, entry)
	return nil
}

func (t *memTx) Savepoint(_ context.Context, name string, fn func() error) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("create savepoint: empty name")
	}
	snapshot := t.state.clone()
	if err := fn(); err != nil {
		*t.state = *snapshot
		return err
	}
	return nil
}
