package command

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROMETHEUS METRICS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// sessionEvents counts session lifecycle operations.
	// Labels: op (start, heartbeat, end, reap), outcome (ok, ignored, error)
	sessionEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "engagement",
		Subsystem: "sessions",
		Name:      "events_total",
		Help:      "Session lifecycle operations by outcome",
	}, []string{"op", "outcome"})

	// clampedHeartbeats counts updates whose watch delta was clamped.
	clampedHeartbeats = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "engagement",
		Subsystem: "sessions",
		Name:      "clamped_updates_total",
		Help:      "Telemetry updates with an implausible watch delta",
	})

	// attentionScores records the distribution of scores at close.
	attentionScores = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "engagement",
		Subsystem: "attention",
		Name:      "score",
		Help:      "Attention score of closed sessions",
		Buckets:   prometheus.LinearBuckets(0, 10, 11),
	})

	// suspiciousSessions counts sessions flagged for review.
	suspiciousSessions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "engagement",
		Subsystem: "attention",
		Name:      "suspicious_total",
		Help:      "Closed sessions flagged as suspicious",
	})

	// leaseOutcomes counts lease attempts.
	// Labels: outcome (granted, exhausted, error)
	leaseOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "engagement",
		Subsystem: "lease_pool",
		Name:      "leases_total",
		Help:      "API key lease attempts by outcome",
	}, []string{"outcome"})

	// repairedSessions counts sessions whose span was rewritten.
	repairedSessions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "engagement",
		Subsystem: "sessions",
		Name:      "repaired_total",
		Help:      "Closed sessions whose implausible span was repaired",
	})

	// courseCompletions counts assignments that reached completed.
	courseCompletions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "engagement",
		Subsystem: "progress",
		Name:      "course_completions_total",
		Help:      "Course assignments that transitioned to completed",
	})
)
