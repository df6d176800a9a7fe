package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Codetivate/social-trading-webapp-sub000/internal/clock"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/config"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/domain"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/services"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type emptyFeed struct{}

func (emptyFeed) Snapshot(context.Context, string) (domain.AccountSnapshot, error) {
	return domain.AccountSnapshot{Balance: 10000, Equity: 10000}, nil
}

func (emptyFeed) ClosedTrades(context.Context, string) ([]domain.TradeRecord, error) {
	return nil, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	mem.PutAccount(domain.Account{UserID: "F", Balance: decimal.NewFromInt(5000)})
	mem.PutMaster(domain.MasterProfile{UserID: "M", Tier: domain.TierRookie, AUM: decimal.Zero})
	mem.PutMaster(domain.MasterProfile{UserID: "P", Tier: domain.TierPro, AUM: decimal.Zero, MonthlyFee: decimal.NewFromInt(20)})

	c := clock.NewFixed(time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC))
	logger := zap.NewNop()
	subs := services.NewSubscriptionService(services.SubscriptionServiceParams{
		Repo:          mem,
		Gate:          services.NewEntitlementGate(c, 7*time.Hour),
		Clock:         c,
		Logger:        logger,
		BalancePolicy: config.BalanceStrict,
		ShardCount:    4,
	})
	scoring := services.NewScoringService(mem, emptyFeed{}, nil, c, logger)

	r, _ := NewServer(config.Config{HTTPAddr: ":0"}, nil)
	NewSubscriptionController(subs, logger).RegisterSubscriptionRoutes(r.Group(""))
	NewMasterController(scoring, logger).RegisterMasterRoutes(r.Group(""))
	return r, mem
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSubscribeLifecycleOverHTTP(t *testing.T) {
	r, mem := newTestRouter(t)

	w := do(r, http.MethodPost, "/subscriptions", gin.H{
		"follower_id": "F",
		"master_id":   "M",
		"amount":      "1000",
		"type":        "DAILY",
		"risk":        gin.H{"mode": "FIXED_RATIO", "scaling_percent": 50},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var sub domain.Subscription
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sub))
	assert.True(t, sub.IsActive)
	assert.Equal(t, 50.0, sub.RiskFactor)

	w = do(r, http.MethodGet, "/followers/F/subscriptions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var active []domain.Subscription
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &active))
	assert.Len(t, active, 1)

	w = do(r, http.MethodGet, "/followers/F/entitlements", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"daily_available":false,"welcome_available":true}`, w.Body.String())

	w = do(r, http.MethodDelete, "/subscriptions/"+sub.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"changed":true,"message":"subscription stopped"}`, w.Body.String())

	p, err := mem.GetMaster(context.Background(), "M")
	require.NoError(t, err)
	assert.Zero(t, p.FollowersCount)
}

func TestErrorStatusMapping(t *testing.T) {
	r, _ := newTestRouter(t)

	tests := []struct {
		name   string
		body   gin.H
		status int
		code   string
	}{
		{"validation", gin.H{"follower_id": "F", "master_id": "M", "amount": "0"}, http.StatusBadRequest, "VALIDATION"},
		{"entitlement", gin.H{"follower_id": "F", "master_id": "P", "amount": "10", "type": "DAILY"}, http.StatusForbidden, "ENTITLEMENT_DENIED"},
		{"funds", gin.H{"follower_id": "F", "master_id": "M", "amount": "9000", "type": "DAILY"}, http.StatusPaymentRequired, "INSUFFICIENT_FUNDS"},
		{"not found", gin.H{"follower_id": "X", "master_id": "M", "amount": "10"}, http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/subscriptions", tt.body)
			assert.Equal(t, tt.status, w.Code)
			var resp map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp["code"])
		})
	}

	w := do(r, http.MethodPost, "/subscriptions", gin.H{"follower_id": "F", "master_id": "M", "amount": "100", "type": "PAID"})
	require.Equal(t, http.StatusCreated, w.Code)
	w = do(r, http.MethodPost, "/subscriptions", gin.H{"follower_id": "F", "master_id": "M", "amount": "100", "type": "PAID"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodDelete, "/subscriptions/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBatchUnsubscribeAndScore(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodPost, "/subscriptions", gin.H{"follower_id": "F", "master_id": "P", "amount": "100", "type": "PAID"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(r, http.MethodDelete, "/masters/P/followers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deactivated":1}`, w.Body.String())

	w = do(r, http.MethodDelete, "/followers/F/subscriptions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deactivated":0}`, w.Body.String())

	w = do(r, http.MethodPost, "/masters/P/score", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"risk_score":1,"max_drawdown_pct":0,"roi":0}`, w.Body.String())

	w = do(r, http.MethodPost, "/masters/ghost/score", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthReportsDegradedRoutines(t *testing.T) {
	healthy := true
	r, _ := NewServer(config.Config{}, func() (bool, gin.H) {
		return healthy, gin.H{"routines": []string{"matcher"}}
	})

	w := do(r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","routines":["matcher"]}`, w.Body.String())

	healthy = false
	w = do(r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"degraded","routines":["matcher"]}`, w.Body.String())
}
