package constants

import "time"

const (
	ServiceNameProducer = "producer-service"
	ServiceNameConsumer = "consumer-service"
)

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
	KafkaMaxAttempts  = 5
)

const (
	DefaultHTTPTimeout = 10 * time.Second
	ShutdownTimeout    = 15 * time.Second
)

const (
	DefaultMaxBatchSize  = 500
	DefaultFlushInterval = 2 * time.Second
	DefaultQueueCapacity = 10000
	DefaultSubmitTimeout = 100 * time.Millisecond
)

const (
	DefaultDeliveryInterval  = 5 * time.Second
	DefaultDeliveryBatchSize = 100
	DefaultRetryInterval     = 10 * time.Second
	DefaultRetryBatchSize    = 100
	DefaultCleanupInterval   = time.Hour
	DefaultRetention         = 7 * 24 * time.Hour
)

const (
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultAgentStaleAfter   = 45 * time.Second
)

const (
	CacheKeyPrefixProcessed = "herald:processed:"
	CacheKeyPrefixAgent     = "herald:agent:"
	AgentIndexKey           = "herald:agents"
	DefaultDedupCacheTTL    = 24 * time.Hour
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Retry-After seconds sent with QUEUE_FULL responses.
const QueueFullRetryAfterSeconds = 1

const (
	UnknownTopicFail = "fail"
	UnknownTopicSkip = "skip"
)
