// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "settlement"

var defaultSecondsBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 90, 120}

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method and status",
	}, []string{"route", "method", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})

	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_events_total",
		Help:      "Webhook events by outcome (queued, already_paid, no_match, no_signature, error)",
	}, []string{"outcome"})

	Payouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payouts_total",
		Help:      "Payout attempts by side and outcome",
	}, []string{"side", "outcome"})

	PayoutDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "payout_duration_seconds",
		Help:      "Time from claim to recorded outcome",
		Buckets:   defaultSecondsBuckets,
	}, []string{"side", "fast"})

	OracleFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "oracle_fetches_total",
		Help:      "Price feed fetches by result",
	}, []string{"result"})

	OracleCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "oracle_cache_hits_total",
		Help:      "Index value reads served from cache",
	})

	IndexValue = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "index_value",
		Help:      "Last computed basket index value",
	})

	DispatchQueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_queued_total",
		Help:      "Payout jobs handed to the dispatcher by backend",
	}, []string{"backend"})

	ReconcilerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconciler_runs_total",
		Help:      "Reconciler sweeps by result",
	}, []string{"result"})

	ReconcilerRedriven = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconciler_redriven_total",
		Help:      "Pending settlements re-driven through the payout executor",
	})
)

// ObservePayout records a payout outcome and its latency
func ObservePayout(side, outcome string, fast bool, started time.Time) {
	Payouts.WithLabelValues(side, outcome).Inc()
	f := "false"
	if fast {
		f = "true"
	}
	PayoutDuration.WithLabelValues(side, f).Observe(time.Since(started).Seconds())
}
