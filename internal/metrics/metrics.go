package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SubscribeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copytrade_subscribe_total",
			Help: "Subscribe attempts by result code",
		},
		[]string{"result"},
	)

	UnsubscribeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copytrade_unsubscribe_total",
			Help: "Deactivated subscriptions by kind",
		},
		[]string{"kind"},
	)

	ReconcileFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copytrade_reconcile_failures_total",
			Help: "Stats reconciliation failures by stage",
		},
		[]string{"stage"},
	)

	ScoreRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copytrade_score_refresh_total",
			Help: "Master score refreshes by result",
		},
		[]string{"result"},
	)

	ExecutionRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copytrade_execution_requests_total",
			Help: "Execution requests published by lane",
		},
		[]string{"lane"},
	)
)
