// Package observability exposes Prometheus metrics for the settlement
// worker.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the worker's Prometheus collectors. A nil *Metrics is valid
// and records nothing, so wiring can leave metrics out in stripped-down
// modes.
type Metrics struct {
	settlements    *prometheus.CounterVec
	sweepRuns      *prometheus.CounterVec
	claimConflicts prometheus.Counter
	executorErrors prometheus.Counter
	feedErrors     prometheus.Counter
	settleDuration prometheus.Histogram
}

// New registers and returns the worker metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wagerd",
			Name:      "settlements_total",
			Help:      "Settlements completed, by outcome kind.",
		}, []string{"outcome"}),
		sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wagerd",
			Name:      "sweep_runs_total",
			Help:      "Sweep iterations, by sweep kind.",
		}, []string{"sweep"}),
		claimConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wagerd",
			Name:      "claim_conflicts_total",
			Help:      "Settlement claims lost to a concurrent claimant.",
		}),
		executorErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wagerd",
			Name:      "executor_errors_total",
			Help:      "Failed on-chain settlement instructions.",
		}),
		feedErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wagerd",
			Name:      "feed_errors_total",
			Help:      "Price/result feed failures.",
		}),
		settleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wagerd",
			Name:      "settlement_duration_seconds",
			Help:      "Wall time from claim to terminal store write.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.settlements, m.sweepRuns, m.claimConflicts,
		m.executorErrors, m.feedErrors, m.settleDuration,
	)
	return m
}

// SettlementRecorded counts a completed settlement by outcome kind.
func (m *Metrics) SettlementRecorded(outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(outcome).Inc()
	m.settleDuration.Observe(time.Since(started).Seconds())
}

// SweepRun counts one iteration of the named sweep.
func (m *Metrics) SweepRun(sweep string) {
	if m == nil {
		return
	}
	m.sweepRuns.WithLabelValues(sweep).Inc()
}

// ClaimConflict counts a claim lost to a concurrent claimant.
func (m *Metrics) ClaimConflict() {
	if m == nil {
		return
	}
	m.claimConflicts.Inc()
}

// ExecutorError counts a failed on-chain instruction.
func (m *Metrics) ExecutorError() {
	if m == nil {
		return
	}
	m.executorErrors.Inc()
}

// FeedError counts a price/result feed failure.
func (m *Metrics) FeedError() {
	if m == nil {
		return
	}
	m.feedErrors.Inc()
}
