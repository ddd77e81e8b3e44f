// Package observability exposes the gateway's Prometheus metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costgate_requests_total",
			Help: "Total number of chat completion requests processed",
		},
		[]string{"provider", "model", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "costgate_request_duration_seconds",
			Help:    "End-to-end request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "model"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costgate_tokens_total",
			Help: "Total number of tokens processed",
		},
		[]string{"provider", "model", "type"},
	)

	CostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costgate_cost_usd_total",
			Help: "Total settled cost in USD",
		},
		[]string{"provider", "model"},
	)

	FallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costgate_fallbacks_total",
			Help: "Total number of requests served by a fallback provider",
		},
		[]string{"provider"},
	)

	BudgetUsageRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "costgate_budget_usage_ratio",
			Help: "Fraction of the budget window spent (0-1)",
		},
		[]string{"period"},
	)

	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costgate_provider_errors_total",
			Help: "Total number of provider errors by type",
		},
		[]string{"provider", "error_type"},
	)

	StreamingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costgate_streaming_requests_total",
			Help: "Total number of streaming requests",
		},
		[]string{"provider", "model"},
	)
)
