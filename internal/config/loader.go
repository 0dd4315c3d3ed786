package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"herald/internal/constants"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)
	resolveIdentity(&cfg.Service)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")

	viper.SetDefault("database.postgres.sslmode", "disable")
	viper.SetDefault("database.postgres.max_open_conns", 25)
	viper.SetDefault("database.postgres.max_idle_conns", 5)

	viper.SetDefault("broker.type", "kafka")
	viper.SetDefault("broker.kafka.required_acks", "all")
	viper.SetDefault("broker.kafka.max_attempts", constants.KafkaMaxAttempts)
	viper.SetDefault("broker.kafka.write_timeout", constants.KafkaWriteTimeout.String())
	viper.SetDefault("broker.kafka.batch_timeout", constants.KafkaBatchTimeout.String())
	viper.SetDefault("broker.kafka.retry.max_attempts", 3)
	viper.SetDefault("broker.kafka.retry.initial_interval", "1s")
	viper.SetDefault("broker.kafka.retry.max_interval", "10s")
	viper.SetDefault("broker.kafka.retry.multiplier", 2.0)

	viper.SetDefault("batching.enabled", true)
	viper.SetDefault("batching.max_batch_size", constants.DefaultMaxBatchSize)
	viper.SetDefault("batching.flush_interval", constants.DefaultFlushInterval.String())
	viper.SetDefault("batching.queue_capacity", constants.DefaultQueueCapacity)
	viper.SetDefault("batching.submit_timeout", constants.DefaultSubmitTimeout.String())

	viper.SetDefault("delivery.interval", constants.DefaultDeliveryInterval.String())
	viper.SetDefault("delivery.batch_size", constants.DefaultDeliveryBatchSize)

	viper.SetDefault("retry.interval", constants.DefaultRetryInterval.String())
	viper.SetDefault("retry.batch_size", constants.DefaultRetryBatchSize)
	viper.SetDefault("retry.backoff.initial_interval", "0s")
	viper.SetDefault("retry.backoff.max_interval", "5m")
	viper.SetDefault("retry.backoff.multiplier", 2.0)

	viper.SetDefault("cleanup.interval", constants.DefaultCleanupInterval.String())
	viper.SetDefault("cleanup.retention", constants.DefaultRetention.String())

	viper.SetDefault("consumer.unknown_topic_policy", constants.UnknownTopicFail)
	viper.SetDefault("consumer.dedup_cache_ttl", constants.DefaultDedupCacheTTL.String())
	viper.SetDefault("consumer.ack.timeout", constants.DefaultHTTPTimeout.String())
	viper.SetDefault("consumer.ack.retry.max_attempts", 3)
	viper.SetDefault("consumer.ack.retry.initial_interval", "200ms")
	viper.SetDefault("consumer.ack.retry.max_interval", "2s")
	viper.SetDefault("consumer.ack.retry.multiplier", 2.0)

	viper.SetDefault("registry.heartbeat_interval", constants.DefaultHeartbeatInterval.String())
	viper.SetDefault("registry.stale_after", constants.DefaultAgentStaleAfter.String())
	viper.SetDefault("registry.redis_db", 0)

	viper.SetDefault("circuit_breaker.max_requests", 3)
	viper.SetDefault("circuit_breaker.interval", "60s")
	viper.SetDefault("circuit_breaker.timeout", "30s")
	viper.SetDefault("circuit_breaker.failure_ratio", 0.5)
	viper.SetDefault("circuit_breaker.min_requests", 5)

	viper.SetDefault("logging.level", "info")
}

func bindEnvVariables() {
	viper.BindEnv("service.service_id", "SERVICE_ID")
	viper.BindEnv("service.instance_id", "SERVICE_INSTANCE_ID")
	viper.BindEnv("service.base_url", "SERVICE_BASE_URL")

	viper.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")

	viper.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	viper.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	viper.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	viper.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	viper.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	viper.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")
	viper.BindEnv("registry.redis_db", "REGISTRY_REDIS_DB")

	viper.BindEnv("server.port", "SERVER_PORT")

	viper.BindEnv("consumer.group", "CONSUMER_GROUP")
	viper.BindEnv("consumer.ack.producer_url", "CONSUMER_ACK_PRODUCER_URL")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")

	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
}

func applyEnvOverrides(cfg *Config) {
	if brokersEnv := viper.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		cfg.Broker.Kafka.Brokers = splitList(brokersEnv)
	}

	if topicsEnv := viper.GetString("CONSUMER_TOPICS"); topicsEnv != "" {
		cfg.Consumer.Topics = splitList(topicsEnv)
	}
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// resolveIdentity fills a missing instance id from the hostname, or a random
// id when the hostname is unavailable.
func resolveIdentity(svc *ServiceConfig) {
	if svc.InstanceID != "" {
		return
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		svc.InstanceID = host
		return
	}
	svc.InstanceID = uuid.NewString()
}
