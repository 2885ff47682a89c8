// Package metrics registers the Prometheus collectors shared across the
// daemon. All collectors use the default registry so promhttp serves them
// without extra wiring.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CapturesTotal counts capture attempts by source hook and outcome
	// (stored, duplicate, blocked, queued, failed).
	CapturesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memoryd_captures_total",
		Help: "Capture attempts by source hook and outcome.",
	}, []string{"source_hook", "outcome"})

	// DedupHitsTotal counts duplicates by detection layer (hash, semantic).
	DedupHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memoryd_dedup_hits_total",
		Help: "Duplicate detections by layer.",
	}, []string{"layer"})

	// SecurityOutcomesTotal counts scanner outcomes (passed, masked, blocked).
	SecurityOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memoryd_security_outcomes_total",
		Help: "Security scan outcomes.",
	}, []string{"outcome"})

	// RetrievalGateSkipsTotal counts session starts where injection was
	// skipped because no result cleared the confidence gate.
	RetrievalGateSkipsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memoryd_retrieval_gate_skips_total",
		Help: "Retrievals fully suppressed by the confidence gate.",
	})

	// RetrievalLatency observes end-to-end retrieval duration.
	RetrievalLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "memoryd_retrieval_duration_seconds",
		Help:    "End-to-end retrieval latency.",
		Buckets: prometheus.DefBuckets,
	})

	// QueueDepth tracks pending-queue records on disk.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "memoryd_queue_depth",
		Help: "Records waiting in the pending queue.",
	})

	// QueueDrainsTotal counts queue drain outcomes (stored, requeued,
	// dead_letter, quarantined).
	QueueDrainsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memoryd_queue_drains_total",
		Help: "Queue drain record outcomes.",
	}, []string{"outcome"})

	// SyncCyclesTotal counts sync cycles by result (ok, partial, breaker_open).
	SyncCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memoryd_sync_cycles_total",
		Help: "Sync cycles by result.",
	}, []string{"result"})

	// SyncItemsTotal counts synced items by kind and outcome.
	SyncItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memoryd_sync_items_total",
		Help: "Synced items by kind and outcome.",
	}, []string{"kind", "outcome"})

	// EmbeddingFailuresTotal counts embedding calls that exhausted retries.
	EmbeddingFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memoryd_embedding_failures_total",
		Help: "Embedding calls that exhausted retries.",
	})
)
