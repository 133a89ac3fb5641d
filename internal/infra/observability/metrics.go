// Package observability defines the Prometheus metrics for the decision core:
// verification outcomes and latency, policy decisions, and the persistence
// ladder's tier usage.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Verification Metrics ───────────────────────────────────────────────────

// VerificationRequests counts classification calls by result
// (ok, network_error, service_error, parse_error).
var VerificationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "greenproof",
	Subsystem: "verification",
	Name:      "requests_total",
	Help:      "Total classification requests by result.",
}, []string{"result"})

// VerificationLatency tracks classification round-trip time.
var VerificationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "greenproof",
	Subsystem: "verification",
	Name:      "latency_seconds",
	Help:      "Classification request latency in seconds.",
	Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30},
})

// VerdictConfidence observes the confidence of returned verdicts.
var VerdictConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "greenproof",
	Subsystem: "verification",
	Name:      "confidence",
	Help:      "Confidence of classification verdicts (0-100).",
	Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
})

// ─── Decision Metrics ───────────────────────────────────────────────────────

// Decisions counts policy outcomes
// (accepted, rejected, pending_confirmation, on_cooldown, duplicate).
var Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "greenproof",
	Subsystem: "decision",
	Name:      "outcomes_total",
	Help:      "Total policy outcomes per verification attempt.",
}, []string{"outcome"})

// PointsAwarded accumulates points granted across all users.
var PointsAwarded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "greenproof",
	Subsystem: "decision",
	Name:      "points_awarded_total",
	Help:      "Total points awarded.",
})

// ─── Ledger Metrics ─────────────────────────────────────────────────────────

// LedgerSyncs counts remote persistence attempts by tier outcome
// (atomic, merge, offline).
var LedgerSyncs = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "greenproof",
	Subsystem: "ledger",
	Name:      "syncs_total",
	Help:      "Total remote persistence attempts by tier outcome.",
}, []string{"tier"})

// OutboxDepth tracks actions waiting for remote persistence.
var OutboxDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "greenproof",
	Subsystem: "ledger",
	Name:      "outbox_depth",
	Help:      "Actions recorded locally but not yet persisted remotely.",
})

// ResyncRuns counts background outbox replay runs by result (ok, partial).
var ResyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "greenproof",
	Subsystem: "ledger",
	Name:      "resync_runs_total",
	Help:      "Total background resync runs by result.",
}, []string{"result"})
