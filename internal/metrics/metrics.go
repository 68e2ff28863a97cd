// Package metrics provides Prometheus metrics for the engine driver.
// Labels stay low-cardinality: no FEN, session id or request id.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AnalysesTotal counts finished analysis requests by outcome.
	AnalysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ucibridge_analyses_total",
		Help: "Total number of analysis requests, by outcome (ok, empty, channel_error, rejected).",
	}, []string{"outcome"})

	// AnalysisQueueWait observes how long requests waited for their session.
	AnalysisQueueWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ucibridge_analysis_queue_wait_seconds",
		Help:    "Time a request spent waiting for its engine session to become idle.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	// AnalysisDuration observes wall time of the engine search, from go to bestmove.
	AnalysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ucibridge_analysis_duration_seconds",
		Help:    "Wall time between sending go and receiving bestmove.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	// SessionsRunning tracks live engine processes.
	SessionsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ucibridge_sessions_running",
		Help: "Number of engine sessions currently running.",
	})

	// ForcedKillsTotal counts engines that ignored quit and had to be killed.
	ForcedKillsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ucibridge_engine_forced_kills_total",
		Help: "Engines terminated after the shutdown grace period expired.",
	})

	// NotationTotal counts SAN encodings by outcome (ok, illegal).
	NotationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ucibridge_notation_total",
		Help: "SAN encodings attempted, by outcome.",
	}, []string{"outcome"})

	// CacheLookupsTotal counts analysis history lookups by result (hit, miss).
	CacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ucibridge_cache_lookups_total",
		Help: "Stored analysis lookups, by result.",
	}, []string{"result"})
)

// PrunedTotal counts stored analyses removed by retention.
var PrunedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ucibridge_history_pruned_total",
	Help: "Stored analyses deleted after exceeding the retention period.",
})
