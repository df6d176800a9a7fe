package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Codetivate/social-trading-webapp-sub000/internal/config"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/domain"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/errs"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeFreeMasterWithDailyTicket(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.account("F", 5000)
	h.master("M", domain.TierRookie, 0)

	sub, err := h.svc.Subscribe(ctx, req("F", "M", 1000, domain.SubscriptionDaily))
	require.NoError(t, err)

	assert.True(t, sub.IsActive)
	require.NotNil(t, sub.Expiry)
	assert.Equal(t, domain.NoExpiry, *sub.Expiry)
	assert.Equal(t, domain.LaneStandard, sub.ExecutionLane)
	assert.True(t, sub.CurrentEquity.Equal(decimal.NewFromInt(1000)))

	p := h.profile(t, "M")
	assert.Equal(t, 1, p.FollowersCount)
	assert.True(t, p.AUM.Equal(decimal.NewFromInt(1000)))
	assert.True(t, h.balance(t, "F").Equal(decimal.NewFromInt(4000)))

	ent, err := h.mem.GetEntitlement(ctx, "F")
	require.NoError(t, err)
	assert.True(t, ent.DailyUsed)
	require.NotNil(t, ent.DailyActivatedAt)
	assert.Equal(t, testStart, *ent.DailyActivatedAt)

	ledger := h.mem.Ledger()
	require.Len(t, ledger, 1)
	assert.True(t, ledger[0].Amount.Equal(decimal.NewFromInt(-1000)))
	assert.Equal(t, domain.LedgerCompleted, ledger[0].Status)
	assert.Equal(t, sub.ID, ledger[0].SubscriptionID)

	stats := h.events.lastStats(t)
	assert.Equal(t, "M", stats.MasterID)
	assert.Equal(t, 1, stats.FollowersCount)
	assert.Len(t, h.mirror.get("M"), 1)
}

func TestSubscribeSecondFreeMasterHitsConcurrencyLimit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.account("F", 5000)
	h.master("M", domain.TierRookie, 0)
	h.master("N", domain.TierRookie, 0)

	_, err := h.svc.Subscribe(ctx, req("F", "M", 1000, domain.SubscriptionDaily))
	require.NoError(t, err)

	_, err = h.svc.Subscribe(ctx, req("F", "N", 500, domain.SubscriptionDaily))
	require.Error(t, err)
	assert.Equal(t, errs.CodeConcurrencyLimit, errs.CodeOf(err))

	_, err = h.svc.Subscribe(ctx, req("F", "N", 500, domain.SubscriptionTrial))
	assert.Equal(t, errs.CodeConcurrencyLimit, errs.CodeOf(err))

	// rejected before any balance movement
	assert.True(t, h.balance(t, "F").Equal(decimal.NewFromInt(4000)))
	assert.Zero(t, h.profile(t, "N").FollowersCount)
}

func TestResubscribeReusesRow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.account("F", 5000)
	h.master("M", domain.TierRookie, 0)

	first, err := h.svc.Subscribe(ctx, req("F", "M", 1000, domain.SubscriptionDaily))
	require.NoError(t, err)

	res, err := h.svc.Unsubscribe(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	p := h.profile(t, "M")
	assert.Zero(t, p.FollowersCount)
	assert.True(t, p.AUM.IsZero())
	assert.Empty(t, h.mirror.get("M"))

	// daily ticket is spent for today, reactivate with a paid plan
	second, err := h.svc.Subscribe(ctx, req("F", "M", 2000, domain.SubscriptionPaid))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Shard, second.Shard)
	assert.True(t, second.Allocation.Equal(decimal.NewFromInt(2000)))
	assert.True(t, second.CurrentEquity.Equal(decimal.NewFromInt(2000)))
	assert.Equal(t, domain.LaneTurbo, second.ExecutionLane)
	assert.Equal(t, 1, h.mem.PairCount("F", "M"))

	p = h.profile(t, "M")
	assert.Equal(t, 1, p.FollowersCount)
	assert.True(t, p.AUM.Equal(decimal.NewFromInt(2000)))
}

func TestUnsubscribeInactiveIsNoop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.account("F", 5000)
	h.master("M", domain.TierRookie, 0)

	sub, err := h.svc.Subscribe(ctx, req("F", "M", 1000, domain.SubscriptionDaily))
	require.NoError(t, err)
	_, err = h.svc.Unsubscribe(ctx, sub.ID)
	require.NoError(t, err)

	res, err := h.svc.Unsubscribe(ctx, sub.ID)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.NotEmpty(t, res.Message)

	_, err = h.svc.Unsubscribe(ctx, uuid.New())
	assert.Equal(t, errs.CodeNotFound, errs.CodeOf(err))
}

func TestPaidMasterRejectsDailyTicket(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.account("F", 5000)
	h.master("P", domain.TierPro, 20)

	_, err := h.svc.Subscribe(ctx, req("F", "P", 1000, domain.SubscriptionDaily))
	require.Error(t, err)
	assert.Equal(t, errs.CodeEntitlementDenied, errs.CodeOf(err))
	assert.True(t, h.balance(t, "F").Equal(decimal.NewFromInt(5000)))
}

func TestPaidSubscriptionChargesFee(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.account("F", 5000)
	h.master("P", domain.TierPro, 20)

	sub, err := h.svc.Subscribe(ctx, req("F", "P", 1000, domain.SubscriptionPaid))
	require.NoError(t, err)

	assert.True(t, h.balance(t, "F").Equal(decimal.NewFromInt(3980)))
	assert.Equal(t, domain.LaneTurbo, sub.ExecutionLane)
	require.NotNil(t, sub.Expiry)
	assert.Equal(t, testStart.AddDate(0, 0, 30), *sub.Expiry)

	ledger := h.mem.Ledger()
	require.Len(t, ledger, 1)
	assert.True(t, ledger[0].Amount.Equal(decimal.NewFromInt(-1020)))

	// aum tracks allocation, not cost
	assert.True(t, h.profile(t, "P").AUM.Equal(decimal.NewFromInt(1000)))
}

func TestPaidPlanAllowsSeveralMasters(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.account("F", 10000)
	h.master("A", domain.TierRookie, 0)
	h.master("B", domain.TierRookie, 0)

	_, err := h.svc.Subscribe(ctx, req("F", "A", 1000, domain.SubscriptionDaily))
	require.NoError(t, err)
	_, err = h.svc.Subscribe(ctx, req("F", "B", 1000, domain.SubscriptionPaid))
	require.NoError(t, err)

	active, err := h.svc.ListActiveSubscriptions(ctx, "F")
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestTrialIsOneShot(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.account("F", 5000)
	h.master("M", domain.TierRookie, 0)

	sub, err := h.svc.Subscribe(ctx, req("F", "M", 1000, domain.SubscriptionTrial))
	require.NoError(t, err)
	require.NotNil(t, sub.Expiry)
	assert.Equal(t, testStart.AddDate(0, 0, 7), *sub.Expiry)
	assert.Equal(t, domain.LaneTurbo, sub.ExecutionLane)

	status, err := h.svc.EntitlementStatus(ctx, "F")
	require.NoError(t, err)
	assert.False(t, status.WelcomeAvailable)

	_, err = h.svc.Unsubscribe(ctx, sub.ID)
	require.NoError(t, err)
	h.clock.Advance(365 * 24 * time.Hour)

	_, err = h.svc.Subscribe(ctx, req("F", "M", 1000, domain.SubscriptionTrial))
	assert.Equal(t, errs.CodeEntitlementDenied, errs.CodeOf(err))

	// daily usage never clears the trial flag
	_, err = h.svc.Subscribe(ctx, req("F", "M", 1000, domain.SubscriptionDaily))
	require.NoError(t, err)
	ent, err := h.mem.GetEntitlement(ctx, "F")
	require.NoError(t, err)
	assert.True(t, ent.WelcomeTrialUsed)
}

func TestDailyTicketResetsAtBoundary(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.account("F", 5000)
	h.master("M", domain.TierRookie, 0)
	h.master("N", domain.TierRookie, 0)

	sub, err := h.svc.Subscribe(ctx, req("F", "M", 1000, domain.SubscriptionDaily))
	require.NoError(t, err)
	_, err = h.svc.Unsubscribe(ctx, sub.ID)
	require.NoError(t, err)

	status, err := h.svc.EntitlementStatus(ctx, "F")
	require.NoError(t, err)
	assert.False(t, status.DailyAvailable)

	_, err = h.svc.Subscribe(ctx, req("F", "N", 1000, domain.SubscriptionDaily))
	assert.Equal(t, errs.CodeEntitlementDenied, errs.CodeOf(err))

	// 10:00 UTC is 17:00 at UTC+7; the next reset is 17:00 UTC.
	h.clock.Advance(6*time.Hour + 59*time.Minute)
	status, err = h.svc.EntitlementStatus(ctx, "F")
	require.NoError(t, err)
	assert.False(t, status.DailyAvailable)

	h.clock.Advance(time.Minute)
	status, err = h.svc.EntitlementStatus(ctx, "F")
	require.NoError(t, err)
	assert.True(t, status.DailyAvailable)

	_, err = h.svc.Subscribe(ctx, req("F", "N", 1000, domain.SubscriptionDaily))
	require.NoError(t, err)
}

func TestAutoResolvedTicket(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.account("F", 5000)
	h.master("M", domain.TierRookie, 0)
	h.master("P", domain.TierRookie, 10)

	sub, err := h.svc.Subscribe(ctx, req("F", "M", 100, ""))
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionDaily, sub.Type)

	sub, err = h.svc.Subscribe(ctx, req("F", "P", 100, ""))
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionPaid, sub.Type)
}

func TestSubscribeValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.account("F", 5000)
	h.master("M", domain.TierRookie, 0)

	cases := map[string]SubscribeRequest{
		"zero amount":     req("F", "M", 0, domain.SubscriptionDaily),
		"negative amount": req("F", "M", -5, domain.SubscriptionDaily),
		"missing master":  req("F", "", 10, domain.SubscriptionDaily),
		"bad type":        req("F", "M", 10, "WEEKLY"),
	}
	badRisk := req("F", "M", 10, domain.SubscriptionDaily)
	badRisk.Risk.ScalingPercent = -1
	cases["bad scaling"] = badRisk
	badWindow := req("F", "M", 10, domain.SubscriptionDaily)
	badWindow.Options.TradingWindow.EndMinute = 5000
	cases["bad window"] = badWindow
	conflict := req("F", "M", 10, domain.SubscriptionDaily)
	conflict.Risk.Mode = domain.SizingFixedRatio
	conflict.Options.TradingWindow.Mode = domain.SizingEquityRatio
	cases["conflicting modes"] = conflict

	for name, r := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.svc.Subscribe(ctx, r)
			assert.Equal(t, errs.CodeValidation, errs.CodeOf(err))
		})
	}

	_, err := h.svc.Subscribe(ctx, req("ghost", "M", 10, domain.SubscriptionDaily))
	assert.Equal(t, errs.CodeNotFound, errs.CodeOf(err))
	_, err = h.svc.Subscribe(ctx, req("F", "ghost", 10, domain.SubscriptionDaily))
	assert.Equal(t, errs.CodeNotFound, errs.CodeOf(err))
}

func TestSubscribeTakesSizingModeFromEitherSource(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.account("F", 5000)
	h.account("G", 5000)
	h.account("K", 5000)
	h.master("M", domain.TierRookie, 0)

	fromWindow := req("F", "M", 100, domain.SubscriptionDaily)
	fromWindow.Risk.ScalingPercent = 250
	fromWindow.Options.TradingWindow.Mode = domain.SizingEquityRatio
	sub, err := h.svc.Subscribe(ctx, fromWindow)
	require.NoError(t, err)
	assert.Equal(t, domain.SizingEquityRatio, sub.TradingWindow.Mode)
	// equity ratio ignores scaling without an override
	assert.Equal(t, 100.0, sub.RiskFactor)

	fromRisk := req("G", "M", 100, domain.SubscriptionDaily)
	fromRisk.Risk.Mode = domain.SizingEquityRatio
	fromRisk.Options.TradingWindow.Mode = domain.SizingEquityRatio
	sub, err = h.svc.Subscribe(ctx, fromRisk)
	require.NoError(t, err)
	assert.Equal(t, domain.SizingEquityRatio, sub.TradingWindow.Mode)

	sub, err = h.svc.Subscribe(ctx, req("K", "M", 100, domain.SubscriptionDaily))
	require.NoError(t, err)
	assert.Equal(t, domain.SizingFixedRatio, sub.TradingWindow.Mode)
}

func TestBalancePolicy(t *testing.T) {
	ctx := context.Background()

	strict := newHarness(t)
	strict.account("F", 500)
	strict.master("M", domain.TierRookie, 0)
	_, err := strict.svc.Subscribe(ctx, req("F", "M", 1000, domain.SubscriptionDaily))
	assert.Equal(t, errs.CodeInsufficientFunds, errs.CodeOf(err))
	assert.True(t, strict.balance(t, "F").Equal(decimal.NewFromInt(500)))
	ent, err := strict.mem.GetEntitlement(ctx, "F")
	require.NoError(t, err)
	assert.False(t, ent.DailyUsed)

	permissive := newHarness(t, func(p *SubscriptionServiceParams) {
		p.BalancePolicy = config.BalancePermissive
	})
	permissive.account("F", 500)
	permissive.master("M", domain.TierRookie, 0)
	_, err = permissive.svc.Subscribe(ctx, req("F", "M", 1000, domain.SubscriptionDaily))
	require.NoError(t, err)
	assert.True(t, permissive.balance(t, "F").Equal(decimal.NewFromInt(-500)))
}

func TestSelfInvestmentExcludedFromAggregates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.account("M", 10000)
	h.account("F", 10000)
	h.master("M", domain.TierRookie, 0)

	_, err := h.svc.Subscribe(ctx, req("M", "M", 5000, domain.SubscriptionPaid))
	require.NoError(t, err)
	assert.Zero(t, h.profile(t, "M").FollowersCount)

	_, err = h.svc.Subscribe(ctx, req("F", "M", 1000, domain.SubscriptionDaily))
	require.NoError(t, err)
	p := h.profile(t, "M")
	assert.Equal(t, 1, p.FollowersCount)
	assert.True(t, p.AUM.Equal(decimal.NewFromInt(1000)))
}

func TestMasterCapacity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.account("F1", 10000)
	h.account("F2", 10000)
	h.mem.PutMaster(domain.MasterProfile{UserID: "M", Tier: domain.TierRookie, FollowersLimit: 1, AUM: decimal.Zero})

	_, err := h.svc.Subscribe(ctx, req("F1", "M", 100, domain.SubscriptionDaily))
	require.NoError(t, err)
	_, err = h.svc.Subscribe(ctx, req("F2", "M", 100, domain.SubscriptionDaily))
	assert.Equal(t, errs.CodeCapacityExceeded, errs.CodeOf(err))

	h.mem.PutMaster(domain.MasterProfile{UserID: "N", Tier: domain.TierRookie, AUM: decimal.Zero})
	_, err = h.svc.Subscribe(ctx, req("F2", "N", 100_001, domain.SubscriptionDaily))
	assert.Equal(t, errs.CodeCapacityExceeded, errs.CodeOf(err))
}

func TestConcurrentSubscribesKeepInvariants(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.account("F", 100000)
	masters := []string{"M1", "M2", "M3", "M4", "M5", "M6"}
	for _, m := range masters {
		h.master(m, domain.TierRookie, 0)
	}

	var wg sync.WaitGroup
	for _, m := range masters {
		wg.Add(1)
		go func(m string) {
			defer wg.Done()
			_, _ = h.svc.Subscribe(ctx, req("F", m, 100, domain.SubscriptionDaily))
		}(m)
	}
	wg.Wait()

	active, err := h.svc.ListActiveSubscriptions(ctx, "F")
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestConcurrentSamePairCreatesOneRow(t *testing.T) {
	for _, subType := range []domain.SubscriptionType{
		domain.SubscriptionDaily,
		domain.SubscriptionTrial,
		domain.SubscriptionPaid,
	} {
		t.Run(string(subType), func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t)
			h.account("F", 100000)
			h.master("M", domain.TierRookie, 0)

			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				successes int
				codes     []errs.Code
			)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := h.svc.Subscribe(ctx, req("F", "M", 100, subType))
					mu.Lock()
					defer mu.Unlock()
					if err == nil {
						successes++
						return
					}
					codes = append(codes, errs.CodeOf(err))
				}()
			}
			wg.Wait()

			assert.Equal(t, 1, successes)
			require.Len(t, codes, 7)
			for _, c := range codes {
				assert.Equal(t, errs.CodeAlreadyActive, c)
			}
			assert.Equal(t, 1, h.mem.PairCount("F", "M"))
			assert.Equal(t, 1, h.profile(t, "M").FollowersCount)
			assert.True(t, h.balance(t, "F").Equal(decimal.NewFromInt(99900)))
		})
	}
}

func TestRepeatSubscribeToActivePairIsAlreadyActive(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.account("F", 5000)
	h.master("M", domain.TierRookie, 0)

	_, err := h.svc.Subscribe(ctx, req("F", "M", 1000, domain.SubscriptionDaily))
	require.NoError(t, err)

	for _, subType := range []domain.SubscriptionType{domain.SubscriptionDaily, domain.SubscriptionTrial, domain.SubscriptionPaid, ""} {
		_, err := h.svc.Subscribe(ctx, req("F", "M", 500, subType))
		assert.Equal(t, errs.CodeAlreadyActive, errs.CodeOf(err), "type %q", subType)
	}
	assert.True(t, h.balance(t, "F").Equal(decimal.NewFromInt(4000)))
}

func TestUnsubscribeAll(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.account("F", 10000)
	h.account("G", 10000)
	h.master("A", domain.TierRookie, 0)
	h.master("B", domain.TierRookie, 0)

	_, err := h.svc.Subscribe(ctx, req("F", "A", 1000, domain.SubscriptionPaid))
	require.NoError(t, err)
	_, err = h.svc.Subscribe(ctx, req("F", "B", 2000, domain.SubscriptionPaid))
	require.NoError(t, err)
	_, err = h.svc.Subscribe(ctx, req("G", "A", 500, domain.SubscriptionDaily))
	require.NoError(t, err)

	n, err := h.svc.UnsubscribeAll(ctx, "F")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	a := h.profile(t, "A")
	assert.Equal(t, 1, a.FollowersCount)
	assert.True(t, a.AUM.Equal(decimal.NewFromInt(500)))
	assert.Zero(t, h.profile(t, "B").FollowersCount)

	n, err = h.svc.UnsubscribeAll(ctx, "F")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestForceUnsubscribeAllFollowersOf(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.account("F", 10000)
	h.account("G", 10000)
	h.master("M", domain.TierRookie, 0)

	_, err := h.svc.Subscribe(ctx, req("F", "M", 1000, domain.SubscriptionDaily))
	require.NoError(t, err)
	_, err = h.svc.Subscribe(ctx, req("G", "M", 3000, domain.SubscriptionDaily))
	require.NoError(t, err)

	n, err := h.svc.ForceUnsubscribeAllFollowersOf(ctx, "M")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	p := h.profile(t, "M")
	assert.Zero(t, p.FollowersCount)
	assert.True(t, p.AUM.IsZero())
	assert.Zero(t, h.events.lastStats(t).FollowersCount)
	assert.Empty(t, h.mirror.get("M"))

	active, err := h.mem.ListActiveByMaster(ctx, "M")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestReconcileFailureCommitsTransitionAndRetries(t *testing.T) {
	ctx := context.Background()
	var flaky *flakyRepo
	h := newHarness(t, func(p *SubscriptionServiceParams) {
		flaky = &flakyRepo{Repository: p.Repo, fails: 1}
		p.Repo = flaky
	})
	h.account("F", 5000)
	// unlimited tier so the capacity check does not query aggregates
	h.master("M", domain.TierTycoon, 0)

	sub, err := h.svc.Subscribe(ctx, req("F", "M", 1000, domain.SubscriptionDaily))
	require.NoError(t, err)
	assert.True(t, sub.IsActive)
	assert.True(t, h.balance(t, "F").Equal(decimal.NewFromInt(4000)))
	assert.Zero(t, h.profile(t, "M").FollowersCount)
	assert.Equal(t, 1, h.queue.Pending())

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- h.queue.Run(runCtx) }()

	require.Eventually(t, func() bool {
		h.events.mu.Lock()
		defer h.events.mu.Unlock()
		return len(h.events.stats) == 1
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	p := h.profile(t, "M")
	assert.Equal(t, 1, p.FollowersCount)
	assert.True(t, p.AUM.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, 1, h.events.lastStats(t).FollowersCount)
	assert.Zero(t, h.queue.Pending())
	assert.Len(t, h.mirror.get("M"), 1)
}

func TestAggregatesMatchActiveSetAfterMixedOperations(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	followers := []string{"F1", "F2", "F3", "F4"}
	for _, f := range followers {
		h.account(f, 100000)
	}
	h.master("M", domain.TierPro, 0)
	h.master("N", domain.TierPro, 0)

	ids := map[string]uuid.UUID{}
	for i, f := range followers {
		sub, err := h.svc.Subscribe(ctx, req(f, "M", int64(1000*(i+1)), domain.SubscriptionPaid))
		require.NoError(t, err)
		ids[f] = sub.ID
		_, err = h.svc.Subscribe(ctx, req(f, "N", 100, domain.SubscriptionPaid))
		require.NoError(t, err)
	}
	_, err := h.svc.Unsubscribe(ctx, ids["F2"])
	require.NoError(t, err)
	_, err = h.svc.UnsubscribeAll(ctx, "F4")
	require.NoError(t, err)

	for _, masterID := range []string{"M", "N"} {
		active, err := h.mem.ListActiveByMaster(ctx, masterID)
		require.NoError(t, err)
		sum := decimal.Zero
		for _, s := range active {
			sum = sum.Add(s.Allocation)
		}
		p := h.profile(t, masterID)
		assert.Equal(t, len(active), p.FollowersCount, masterID)
		assert.True(t, sum.Equal(p.AUM), masterID)
	}
	assert.True(t, h.profile(t, "M").AUM.Equal(decimal.NewFromInt(4000)))
}

var _ store.Repository = (*flakyRepo)(nil)
