// Package metrics provides Prometheus instrumentation for the matcher. It
// exposes counters for match attempts and queue transitions, histograms for
// latency and compatibility scores, and a gauge for the waiting pool size.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MatchAttempts counts FindMatch calls by outcome: "matched",
	// "no_match", "timeout", "conflict", "not_found" or "invalid".
	MatchAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "peermatch_match_attempts_total",
		Help: "Total number of match attempts by outcome",
	}, []string{"outcome"})

	// MatchLatency records the wall time of one match attempt.
	MatchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "peermatch_match_latency_seconds",
		Help:    "Match attempt latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	// CompatibilityScore records the total score of returned matches.
	CompatibilityScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "peermatch_compatibility_score",
		Help:    "Compatibility score of selected matches",
		Buckets: []float64{.4, .5, .6, .7, .8, .9, 1},
	})

	// CandidatePoolSize records how many candidates each attempt scored.
	CandidatePoolSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "peermatch_candidate_pool_size",
		Help:    "Number of candidates considered per match attempt",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	// ClaimConflicts counts claims lost to a concurrent match attempt.
	ClaimConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "peermatch_claim_conflicts_total",
		Help: "Candidate claims lost to concurrent match attempts",
	})

	// QueueTransitions counts entries entering each status.
	QueueTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "peermatch_queue_transitions_total",
		Help: "Queue entries entering each status",
	}, []string{"status"}) // status = "waiting", "matched", "expired", "cancelled"

	// MatchQueueSize tracks the current number of waiting entries.
	MatchQueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "peermatch_queue_size",
		Help: "Current number of users in the waiting pool",
	})

	// AnalyticsDropped counts analytics events dropped because the buffer
	// was full, the writer was closed or the sink failed.
	AnalyticsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "peermatch_analytics_dropped_total",
		Help: "Analytics events that were not recorded",
	}, []string{"reason"}) // reason = "buffer_full", "closed", "sink_error"
)

func init() {
	prometheus.MustRegister(
		MatchAttempts,
		MatchLatency,
		CompatibilityScore,
		CandidatePoolSize,
		ClaimConflicts,
		QueueTransitions,
		MatchQueueSize,
		AnalyticsDropped,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
