// Package metrics provides Prometheus metrics for the fern service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Ramsey-B/fern/pkg/apperror"
)

var (
	// OperationsTotal tracks core operations by outcome code ("OK" on success)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "core",
			Name:      "operations_total",
			Help:      "Total number of core operations by result code",
		},
		[]string{"operation", "code"},
	)

	// OperationDuration tracks core operation latency in seconds
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "core",
			Name:      "operation_duration_seconds",
			Help:      "Duration of core operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"operation"},
	)

	// SnapshotCacheTotal tracks snapshot cache lookups
	SnapshotCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "snapshot_cache",
			Name:      "lookups_total",
			Help:      "Snapshot cache lookups by result",
		},
		[]string{"result"},
	)

	// EventsEmitted tracks change events by emitter and status
	EventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "events",
			Name:      "emitted_total",
			Help:      "Total number of change events emitted",
		},
		[]string{"emitter", "type", "status"},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaPublishDuration tracks Kafka publish duration
	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "kafka",
			Name:      "publish_duration_seconds",
			Help:      "Duration of Kafka publish operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)

	// WorkerMessagesProcessed tracks snapshot worker messages by status
	WorkerMessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "worker",
			Name:      "messages_processed_total",
			Help:      "Total number of change events processed by the snapshot worker",
		},
		[]string{"type", "status"},
	)

	// IntegrityDangling is the dangling relationship count of the last scan
	IntegrityDangling = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fern",
			Subsystem: "integrity",
			Name:      "dangling_relationships",
			Help:      "Dangling relationships found by the last integrity scan",
		},
	)

	// IntegrityCycles is the cycle count of the last scan
	IntegrityCycles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fern",
			Subsystem: "integrity",
			Name:      "cycles",
			Help:      "Cycles among acyclic relationship types found by the last integrity scan",
		},
	)

	// IntegrityLastScan is the unix time of the last completed scan
	IntegrityLastScan = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fern",
			Subsystem: "integrity",
			Name:      "last_scan_timestamp_seconds",
			Help:      "Unix time of the last completed integrity scan",
		},
	)
)

// RecordOperation records the outcome and latency of a core operation. It is
// meant to be deferred with a pointer to the named error result.
func RecordOperation(operation string, start time.Time, err *error) {
	code := "OK"
	if err != nil && *err != nil {
		code = string(apperror.CodeOf(*err))
	}
	OperationsTotal.WithLabelValues(operation, code).Inc()
	OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// RecordCacheLookup records a snapshot cache hit or miss
func RecordCacheLookup(hit bool) {
	if hit {
		SnapshotCacheTotal.WithLabelValues("hit").Inc()
		return
	}
	SnapshotCacheTotal.WithLabelValues("miss").Inc()
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string, durationSeconds float64) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
	KafkaPublishDuration.Observe(durationSeconds)
}

// RecordIntegrityScan exports the counts of a completed scan
func RecordIntegrityScan(dangling, cycles int, at time.Time) {
	IntegrityDangling.Set(float64(dangling))
	IntegrityCycles.Set(float64(cycles))
	IntegrityLastScan.Set(float64(at.Unix()))
}
