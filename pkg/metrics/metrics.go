// Package metrics provides Prometheus metrics for the fern service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SourceRequestsTotal tracks outbound requests per upstream source
	SourceRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "source",
			Name:      "requests_total",
			Help:      "Total number of upstream source requests by outcome",
		},
		[]string{"source", "status"},
	)

	// SourceRequestDuration tracks upstream request duration, retries included
	SourceRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "source",
			Name:      "request_duration_seconds",
			Help:      "Duration of upstream source requests in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"source"},
	)

	// SourceRetriesTotal tracks retried upstream attempts
	SourceRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "source",
			Name:      "retries_total",
			Help:      "Total number of retried upstream attempts",
		},
		[]string{"source"},
	)

	// IngestRunsTotal tracks finished ingestion runs by terminal state
	IngestRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "ingest",
			Name:      "runs_total",
			Help:      "Total number of ingestion runs by terminal state",
		},
		[]string{"status"},
	)

	// IngestRunDuration tracks ingestion run duration
	IngestRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "ingest",
			Name:      "run_duration_seconds",
			Help:      "Duration of ingestion runs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	// IngestItemsTotal tracks per-item outcomes
	IngestItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "ingest",
			Name:      "items_total",
			Help:      "Total number of ingested items by outcome",
		},
		[]string{"outcome"},
	)

	// IngestStageTransitions tracks orchestrator state transitions
	IngestStageTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "ingest",
			Name:      "stage_transitions_total",
			Help:      "Total number of ingestion state machine transitions",
		},
		[]string{"stage"},
	)

	// IngestRunsInFlight tracks runs currently executing
	IngestRunsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fern",
			Subsystem: "ingest",
			Name:      "runs_in_flight",
			Help:      "Number of ingestion runs currently executing",
		},
	)

	// ResolverMatchesTotal tracks identity resolution by tier
	ResolverMatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "resolver",
			Name:      "matches_total",
			Help:      "Total number of resolved records by match tier",
		},
		[]string{"tier"},
	)

	// ConflictsTotal tracks cross-reference conflicts
	ConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "validator",
			Name:      "conflicts_total",
			Help:      "Total number of field conflicts by field and severity",
		},
		[]string{"field", "severity"},
	)

	// QualityScore tracks the distribution of computed quality scores
	QualityScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "scoring",
			Name:      "quality_score",
			Help:      "Distribution of computed quality scores",
			Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
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

	// PersistOutcomesTotal tracks gateway upsert outcomes
	PersistOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "gateway",
			Name:      "upserts_total",
			Help:      "Total number of canonical entity upserts by outcome",
		},
		[]string{"outcome"},
	)
)

// RecordSourceRequest records one upstream call, retries included
func RecordSourceRequest(source, status string, durationSeconds float64) {
	SourceRequestsTotal.WithLabelValues(source, status).Inc()
	SourceRequestDuration.WithLabelValues(source).Observe(durationSeconds)
}

// RecordSourceRetry records a retried upstream attempt
func RecordSourceRetry(source string) {
	SourceRetriesTotal.WithLabelValues(source).Inc()
}

// RecordRun records a finished ingestion run
func RecordRun(status string, durationSeconds float64) {
	IngestRunsTotal.WithLabelValues(status).Inc()
	IngestRunDuration.Observe(durationSeconds)
}

// RecordItem records one item outcome
func RecordItem(outcome string) {
	IngestItemsTotal.WithLabelValues(outcome).Inc()
}

// RecordTransition records a state machine transition
func RecordTransition(stage string) {
	IngestStageTransitions.WithLabelValues(stage).Inc()
}

// RecordMatch records a resolver match at the given tier
func RecordMatch(tier string) {
	ResolverMatchesTotal.WithLabelValues(tier).Inc()
}

// RecordConflict records a field conflict
func RecordConflict(field, severity string) {
	ConflictsTotal.WithLabelValues(field, severity).Inc()
}

// RecordQualityScore records a computed quality score
func RecordQualityScore(score float64) {
	QualityScore.Observe(score)
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string, durationSeconds float64) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
	KafkaPublishDuration.Observe(durationSeconds)
}

// RecordPersistOutcome records a gateway upsert outcome
func RecordPersistOutcome(outcome string) {
	PersistOutcomesTotal.WithLabelValues(outcome).Inc()
}
