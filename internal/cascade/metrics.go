package cascade

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// deletionsTotal counts deletion attempts by strategy.
	// Labels: path (primary, deferred, direct, deal_only), result (success, failure)
	deletionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sales",
		Subsystem: "deal_deletion",
		Name:      "attempts_total",
		Help:      "Deal deletion attempts by strategy and outcome",
	}, []string{"path", "result"})

	// residualRowsTotal counts dependent rows left behind by a fallback
	residualRowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sales",
		Subsystem: "deal_deletion",
		Name:      "residual_rows_total",
		Help:      "Dependent rows still present after a fallback deletion removed the deal",
	})

	// deletionDuration measures a full Execute call.
	// Labels: path (the strategy that finished the call)
	deletionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sales",
		Subsystem: "deal_deletion",
		Name:      "duration_seconds",
		Help:      "Time to delete a deal and its dependents",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"path"})

	// sweptRowsTotal counts orphans removed by the sweeper.
	// Labels: table
	sweptRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sales",
		Subsystem: "orphan_sweep",
		Name:      "rows_total",
		Help:      "Orphaned dependent rows removed by the sweeper",
	}, []string{"table"})
)
