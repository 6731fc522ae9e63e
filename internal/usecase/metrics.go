// internal/usecase/metrics.go
package usecase

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics
var (
	depositsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deposit_bot_deposits_submitted_total",
			Help: "Deposits submitted, by status after the STK push",
		},
		[]string{"status"},
	)

	statusChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deposit_bot_status_checks_total",
			Help: "Deposit status reconciliations, by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	aggregatorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deposit_bot_aggregator_request_duration_seconds",
			Help:    "Duration of payment aggregator calls",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30},
		},
		[]string{"operation"},
	)
)
