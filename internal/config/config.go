package config

import (
	"time"
)

type Config struct {
	Service        ServiceConfig        `mapstructure:"service"`
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	Batching       BatchingConfig       `mapstructure:"batching"`
	Delivery       DeliveryConfig       `mapstructure:"delivery"`
	Redelivery     RedeliveryConfig     `mapstructure:"retry"`
	Cleanup        CleanupConfig        `mapstructure:"cleanup"`
	Consumer       ConsumerConfig       `mapstructure:"consumer"`
	Registry       RegistryConfig       `mapstructure:"registry"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
	Logging        LoggingConfig        `mapstructure:"logging"`
}

// ServiceConfig is the identity of this process. It is resolved once by the
// loader and handed to constructors; nothing else reads the environment.
type ServiceConfig struct {
	ServiceID  string `mapstructure:"service_id"`
	InstanceID string `mapstructure:"instance_id"`
	BaseURL    string `mapstructure:"base_url"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// EnqueueWait is how long an enqueue request may wait for its batch flush,
// leaving a fifth of the write deadline to send the response. Zero means
// no write deadline.
func (c ServerConfig) EnqueueWait() time.Duration {
	if c.WriteTimeout <= 0 {
		return 0
	}
	return c.WriteTimeout * 4 / 5
}

type DatabaseConfig struct {
	Postgres      PostgresConfig `mapstructure:"postgres"`
	Redis         RedisConfig    `mapstructure:"redis"`
	RunMigrations bool           `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"dbname"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type BrokerConfig struct {
	Type  string      `mapstructure:"type"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	GroupID      string        `mapstructure:"group_id"`
	Topics       []string      `mapstructure:"topics"`
	RequiredAcks string        `mapstructure:"required_acks"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	Retry        RetryConfig   `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type BatchingConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	MaxBatchSize  int           `mapstructure:"max_batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	QueueCapacity int           `mapstructure:"queue_capacity"`
	SubmitTimeout time.Duration `mapstructure:"submit_timeout"`
}

type DeliveryConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

type RedeliveryConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
	Backoff   BackoffConfig `mapstructure:"backoff"`
}

// BackoffConfig delays retry rows. A zero initial interval schedules them
// for immediate delivery.
type BackoffConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
}

type CleanupConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	Retention time.Duration `mapstructure:"retention"`
}

type ConsumerConfig struct {
	Group              string        `mapstructure:"group"`
	Topics             []string      `mapstructure:"topics"`
	UnknownTopicPolicy string        `mapstructure:"unknown_topic_policy"` // "fail" or "skip"
	DedupCacheTTL      time.Duration `mapstructure:"dedup_cache_ttl"`
	Ack                AckConfig     `mapstructure:"ack"`
}

type AckConfig struct {
	ProducerURL string        `mapstructure:"producer_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Retry       RetryConfig   `mapstructure:"retry"`
}

// RegistryConfig locates the agent registry. Producers and consumers must
// agree on RedisDB; it is independent of database.redis.db so the consumer's
// dedup cache can live elsewhere.
type RegistryConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	RedisDB           int           `mapstructure:"redis_db"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	StaleAfter        time.Duration `mapstructure:"stale_after"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
