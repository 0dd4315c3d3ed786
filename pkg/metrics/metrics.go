package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	OutboxMessagesEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_messages_enqueued_total",
			Help: "Total number of outbox rows created by the enqueue path (count)",
		},
		[]string{"topic"},
	)

	OutboxMessagesPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_messages_published_total",
			Help: "Total number of publish attempts made by the delivery pipeline (count)",
		},
		[]string{"topic", "status"},
	)

	OutboxAcknowledgmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_acknowledgments_total",
			Help: "Total number of acknowledgments received from consumers (count)",
		},
		[]string{"consumer_group", "result"},
	)

	OutboxRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_retries_total",
			Help: "Total number of retry rows spawned by the retry orchestrator (count)",
		},
		[]string{"consumer_group", "mode"},
	)

	OutboxExpiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_expired_total",
			Help: "Total number of rows expired after exhausting retries (count)",
		},
		[]string{"consumer_group"},
	)

	OutboxAckTimeoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_ack_timeouts_total",
			Help: "Total number of sent rows failed for missing acknowledgment (count)",
		},
		[]string{"consumer_group"},
	)

	OutboxMessagesByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "outbox_messages_by_status",
			Help: "Number of outbox rows per status, refreshed by the stats query (count)",
		},
		[]string{"status"},
	)

	OutboxCleanupDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_cleanup_deleted_total",
			Help: "Total number of terminal rows removed by the cleaner (count)",
		},
	)

	BatchingQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "batching_queue_depth",
			Help: "Number of submissions waiting in the batching queue (count)",
		},
	)

	BatchingFlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batching_flushes_total",
			Help: "Total number of non-empty batch flushes (count)",
		},
		[]string{"trigger", "status"},
	)

	BatchingFlushSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "batching_flush_size",
			Help:    "Number of requests per flushed batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	BatchingRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batching_rejected_total",
			Help: "Total number of submissions rejected before queuing (count)",
		},
		[]string{"reason"},
	)

	WorkerRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Total number of periodic worker runs (count)",
		},
		[]string{"worker", "status"},
	)

	WorkerRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "worker_run_duration_ms",
			Help:    "Duration of periodic worker runs in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"worker"},
	)

	ConsumerMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consumer_messages_total",
			Help: "Total number of records handled by the idempotent consumer (count)",
		},
		[]string{"consumer_group", "outcome"},
	)

	ConsumerHandlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "consumer_handler_duration_ms",
			Help:    "Business handler duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"topic"},
	)

	ConsumerAcksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consumer_acks_total",
			Help: "Total number of acknowledgments sent back to the producer (count)",
		},
		[]string{"result", "status"},
	)

	DedupCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_cache_lookups_total",
			Help: "Total number of processed-message cache lookups (count)",
		},
		[]string{"result"},
	)

	RegistryHeartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_heartbeats_total",
			Help: "Total number of agent heartbeats written to the registry (count)",
		},
		[]string{"status"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessageSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_message_size_bytes",
			Help:    "Size of Kafka messages in bytes",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000},
		},
		[]string{"service", "topic", "direction"},
	)

	KafkaWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_ms",
			Help:    "Duration of writing messages to Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"repository", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"repository", "operation"},
	)
)

func RegisterProducerMetrics() {
	prometheus.MustRegister(OutboxMessagesEnqueuedTotal)
	prometheus.MustRegister(OutboxMessagesPublishedTotal)
	prometheus.MustRegister(OutboxAcknowledgmentsTotal)
	prometheus.MustRegister(OutboxRetriesTotal)
	prometheus.MustRegister(OutboxExpiredTotal)
	prometheus.MustRegister(OutboxAckTimeoutsTotal)
	prometheus.MustRegister(OutboxMessagesByStatus)
	prometheus.MustRegister(OutboxCleanupDeletedTotal)
	prometheus.MustRegister(BatchingQueueDepth)
	prometheus.MustRegister(BatchingFlushesTotal)
	prometheus.MustRegister(BatchingFlushSize)
	prometheus.MustRegister(BatchingRejectedTotal)
	prometheus.MustRegister(RateLimitRequestsTotal)
	registerShared()
}

func RegisterConsumerMetrics() {
	prometheus.MustRegister(ConsumerMessagesTotal)
	prometheus.MustRegister(ConsumerHandlerDuration)
	prometheus.MustRegister(ConsumerAcksTotal)
	prometheus.MustRegister(DedupCacheLookupsTotal)
	prometheus.MustRegister(RegistryHeartbeatsTotal)
	registerShared()
}

func registerShared() {
	prometheus.MustRegister(WorkerRunsTotal)
	prometheus.MustRegister(WorkerRunDuration)
	prometheus.MustRegister(DatabaseQueriesTotal)
	prometheus.MustRegister(DatabaseQueryDuration)
}

func RegisterBrokerMetrics() {
	prometheus.MustRegister(KafkaMessagesReadTotal)
	prometheus.MustRegister(KafkaMessagesWrittenTotal)
	prometheus.MustRegister(KafkaMessageSizeBytes)
	prometheus.MustRegister(KafkaWriteDuration)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func IncEnqueued(topic string, rows int) {
	OutboxMessagesEnqueuedTotal.WithLabelValues(topic).Add(float64(rows))
}

func IncPublished(topic, status string) {
	OutboxMessagesPublishedTotal.WithLabelValues(topic, status).Inc()
}

func IncAcknowledgment(group string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	OutboxAcknowledgmentsTotal.WithLabelValues(group, result).Inc()
}

func IncRetrySpawned(group string, targeted bool) {
	mode := "broadcast"
	if targeted {
		mode = "targeted"
	}
	OutboxRetriesTotal.WithLabelValues(group, mode).Inc()
}

func IncExpired(group string) {
	OutboxExpiredTotal.WithLabelValues(group).Inc()
}

func IncAckTimeout(group string) {
	OutboxAckTimeoutsTotal.WithLabelValues(group).Inc()
}

func SetStatusCount(status string, count int64) {
	OutboxMessagesByStatus.WithLabelValues(status).Set(float64(count))
}

func AddCleanupDeleted(n int64) {
	OutboxCleanupDeletedTotal.Add(float64(n))
}

func SetBatchingQueueDepth(depth int) {
	BatchingQueueDepth.Set(float64(depth))
}

func ObserveFlush(trigger, status string, size int) {
	BatchingFlushesTotal.WithLabelValues(trigger, status).Inc()
	BatchingFlushSize.Observe(float64(size))
}

func IncBatchingRejected(reason string) {
	BatchingRejectedTotal.WithLabelValues(reason).Inc()
}

func ObserveWorkerRun(worker, status string, duration time.Duration) {
	WorkerRunsTotal.WithLabelValues(worker, status).Inc()
	if status != "skipped" {
		WorkerRunDuration.WithLabelValues(worker).Observe(float64(duration.Milliseconds()))
	}
}

func IncConsumerOutcome(group, outcome string) {
	ConsumerMessagesTotal.WithLabelValues(group, outcome).Inc()
}

func ObserveHandlerDuration(topic string, duration time.Duration) {
	ConsumerHandlerDuration.WithLabelValues(topic).Observe(float64(duration.Milliseconds()))
}

func IncConsumerAck(success bool, status string) {
	result := "success"
	if !success {
		result = "failure"
	}
	ConsumerAcksTotal.WithLabelValues(result, status).Inc()
}

func IncDedupCacheLookup(result string) {
	DedupCacheLookupsTotal.WithLabelValues(result).Inc()
}

func IncHeartbeat(status string) {
	RegistryHeartbeatsTotal.WithLabelValues(status).Inc()
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

func ObserveKafkaMessageSize(service, topic, direction string, sizeBytes int) {
	KafkaMessageSizeBytes.WithLabelValues(service, topic, direction).Observe(float64(sizeBytes))
}

func ObserveKafkaWriteDuration(service, topic string, duration time.Duration) {
	KafkaWriteDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}

// ObserveQuery records one repository call. Pass the error the call returned.
func ObserveQuery(repository, operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	DatabaseQueriesTotal.WithLabelValues(repository, operation, status).Inc()
	DatabaseQueryDuration.WithLabelValues(repository, operation).Observe(float64(time.Since(start).Milliseconds()))
}
