// Waylog - Offline-first Location Synchronization Engine
// Copyright 2026 Waylog Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/waylog/waylog

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the sync engine:
// - Location queue depth and claim traffic
// - Sync attempt outcomes and latency
// - Admission filter decisions
// - Mutation queue and rollback activity
// - Eviction runs

var (
	// Queue Metrics
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "waylog_queue_depth",
			Help: "Current number of queued samples by status",
		},
		[]string{"status"}, // "pending", "syncing", "synced", "rejected"
	)

	QueueAdmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waylog_queue_admissions_total",
			Help: "Total number of samples accepted into the queue",
		},
		[]string{"source"}, // "passive", "user_invoked"
	)

	QueueEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waylog_queue_evictions_total",
			Help: "Total number of queue records removed by the eviction policy",
		},
		[]string{"reason"}, // "completed", "retention"
	)

	// Claim Protocol Metrics
	ClaimAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waylog_claim_attempts_total",
			Help: "Total number of conditional claim transitions attempted",
		},
		[]string{"result"}, // "won", "lost", "empty"
	)

	// Sync Outcome Metrics
	SyncOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waylog_sync_outcomes_total",
			Help: "Total number of sample sync attempts by outcome",
		},
		[]string{"outcome"}, // "synced", "retried", "rejected"
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "waylog_sync_duration_seconds",
			Help:    "Duration of a single sample submission in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "waylog_sync_last_success_timestamp",
			Help: "Unix timestamp of the last confirmed sample sync",
		},
	)

	// Admission Filter Metrics
	FilterDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waylog_filter_decisions_total",
			Help: "Total number of admission filter decisions",
		},
		[]string{"gate", "decision"}, // gate: "upload", "timeline"; decision: "admitted", "dropped"
	)

	// Timeline Metrics
	TimelineMerges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waylog_timeline_merge_rows_total",
			Help: "Total number of server rows processed by timeline merges",
		},
		[]string{"action"}, // "enriched", "inserted", "unchanged"
	)

	// Mutation Queue Metrics
	MutationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waylog_mutation_outcomes_total",
			Help: "Total number of mutation sync attempts by outcome",
		},
		[]string{"kind", "outcome"}, // kind: "update", "delete"; outcome: "confirmed", "retried", "rolled_back"
	)

	// Transport Metrics
	TransportRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waylog_transport_requests_total",
			Help: "Total number of remote calls by operation and result",
		},
		[]string{"operation", "result"}, // result: "ok", "rejected", "error"
	)

	BreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "waylog_transport_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)
)

// RecordFilterDecision records one gate decision.
func RecordFilterDecision(gate string, admitted bool) {
	decision := "dropped"
	if admitted {
		decision = "admitted"
	}
	FilterDecisions.WithLabelValues(gate, decision).Inc()
}

// RecordClaim records the result of one conditional claim transition.
func RecordClaim(result string) {
	ClaimAttempts.WithLabelValues(result).Inc()
}

// UpdateQueueDepth publishes a queue status snapshot as gauges.
func UpdateQueueDepth(pending, syncing, synced, rejected int) {
	QueueDepth.WithLabelValues("pending").Set(float64(pending))
	QueueDepth.WithLabelValues("syncing").Set(float64(syncing))
	QueueDepth.WithLabelValues("synced").Set(float64(synced))
	QueueDepth.WithLabelValues("rejected").Set(float64(rejected))
}
