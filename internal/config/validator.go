package config

import (
	"fmt"
	"net/url"
	"strings"

	"herald/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	validators := []func(*Config) error{
		func(c *Config) error { return validateService(c.Service) },
		func(c *Config) error { return validateServer(c.Server) },
		func(c *Config) error { return validateBroker(c.Broker) },
		func(c *Config) error { return validateDatabase(c.Database) },
		func(c *Config) error { return validateBatching(c.Batching) },
		func(c *Config) error { return validateFlushDeadline(c) },
		func(c *Config) error { return validateWorkers(c) },
		func(c *Config) error { return validateConsumer(c.Consumer) },
	}

	for _, validate := range validators {
		if err := validate(cfg); err != nil {
			errors = append(errors, err)
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateService(cfg ServiceConfig) error {
	if cfg.ServiceID == "" {
		return &ValidationError{
			Field:   "service.service_id",
			Message: "service id is required",
		}
	}

	if cfg.BaseURL != "" {
		if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
			return &ValidationError{
				Field:   "service.base_url",
				Message: fmt.Sprintf("invalid base url: %v", err),
			}
		}
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeout <= 0 || cfg.WriteTimeout <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout",
			Message: "read and write timeouts must be positive",
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if cfg.Type != "kafka" {
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %q (supported: kafka)", cfg.Type),
		}
	}
	return validateKafka(cfg.Kafka)
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	switch strings.ToLower(cfg.RequiredAcks) {
	case "all", "one", "none":
	default:
		return &ValidationError{
			Field:   "broker.kafka.required_acks",
			Message: fmt.Sprintf("invalid required_acks: %q (valid: all, one, none)", cfg.RequiredAcks),
		}
	}

	if cfg.MaxAttempts < 1 {
		return &ValidationError{
			Field:   "broker.kafka.max_attempts",
			Message: "max_attempts must be at least 1",
		}
	}

	return validateRetry("broker.kafka.retry", cfg.Retry)
}

func validateRetry(prefix string, cfg RetryConfig) error {
	if cfg.MaxAttempts < 0 {
		return &ValidationError{
			Field:   prefix + ".max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	if cfg.InitialInterval < 0 || cfg.MaxInterval < 0 {
		return &ValidationError{
			Field:   prefix + ".initial_interval",
			Message: "intervals must be non-negative",
		}
	}

	if cfg.MaxInterval > 0 && cfg.InitialInterval > 0 && cfg.MaxInterval < cfg.InitialInterval {
		return &ValidationError{
			Field:   prefix + ".max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if cfg.Multiplier <= 0 {
		return &ValidationError{
			Field:   prefix + ".multiplier",
			Message: "multiplier must be positive",
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if err := validatePostgres(cfg.Postgres); err != nil {
		return err
	}

	if cfg.Redis.Host != "" || cfg.Redis.Port > 0 {
		if err := validateRedis(cfg.Redis); err != nil {
			return err
		}
	}

	return nil
}

func validatePostgres(cfg PostgresConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.postgres.host",
			Message: "PostgreSQL host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.postgres.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.User == "" {
		return &ValidationError{
			Field:   "database.postgres.user",
			Message: "PostgreSQL user is required",
		}
	}

	if cfg.DBName == "" {
		return &ValidationError{
			Field:   "database.postgres.dbname",
			Message: "PostgreSQL database name is required",
		}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "database.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", cfg.SSLMode),
		}
	}

	return nil
}

func validateRedis(cfg RedisConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.redis.host",
			Message: "Redis host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	return nil
}

func validateBatching(cfg BatchingConfig) error {
	if cfg.MaxBatchSize < 1 {
		return &ValidationError{Field: "batching.max_batch_size", Message: "must be at least 1"}
	}
	if cfg.QueueCapacity < 1 {
		return &ValidationError{Field: "batching.queue_capacity", Message: "must be at least 1"}
	}
	if cfg.FlushInterval <= 0 {
		return &ValidationError{Field: "batching.flush_interval", Message: "must be positive"}
	}
	if cfg.SubmitTimeout < 0 {
		return &ValidationError{Field: "batching.submit_timeout", Message: "must be non-negative"}
	}
	return nil
}

// validateFlushDeadline keeps a lone request's timer flush inside the HTTP
// write deadline; otherwise the caller loses the response of a persisted
// message.
func validateFlushDeadline(cfg *Config) error {
	wait := cfg.Server.EnqueueWait()
	if !cfg.Batching.Enabled || wait <= 0 {
		return nil
	}
	if cfg.Batching.FlushInterval >= wait {
		return &ValidationError{
			Field: "batching.flush_interval",
			Message: fmt.Sprintf("must be shorter than %s (four fifths of server.write_timeout %s), got %s",
				wait, cfg.Server.WriteTimeout, cfg.Batching.FlushInterval),
		}
	}
	return nil
}

func validateWorkers(cfg *Config) error {
	if cfg.Delivery.Interval <= 0 || cfg.Delivery.BatchSize < 1 {
		return &ValidationError{Field: "delivery", Message: "interval must be positive and batch_size at least 1"}
	}
	if cfg.Redelivery.Interval <= 0 || cfg.Redelivery.BatchSize < 1 {
		return &ValidationError{Field: "retry", Message: "interval must be positive and batch_size at least 1"}
	}
	if cfg.Redelivery.Backoff.InitialInterval < 0 || cfg.Redelivery.Backoff.Multiplier < 1 {
		return &ValidationError{Field: "retry.backoff", Message: "initial_interval must be non-negative and multiplier at least 1"}
	}
	if cfg.Cleanup.Enabled && (cfg.Cleanup.Interval <= 0 || cfg.Cleanup.Retention <= 0) {
		return &ValidationError{Field: "cleanup", Message: "interval and retention must be positive when enabled"}
	}
	if cfg.Registry.Enabled && cfg.Registry.StaleAfter < cfg.Registry.HeartbeatInterval {
		return &ValidationError{Field: "registry.stale_after", Message: "must not be shorter than heartbeat_interval"}
	}
	return nil
}

// validateConsumer only applies to processes that consume; a producer
// leaves consumer.group empty.
func validateConsumer(cfg ConsumerConfig) error {
	if cfg.Group == "" {
		return nil
	}

	if len(cfg.Topics) == 0 {
		return &ValidationError{Field: "consumer.topics", Message: "at least one topic is required"}
	}

	switch cfg.UnknownTopicPolicy {
	case constants.UnknownTopicFail, constants.UnknownTopicSkip:
	default:
		return &ValidationError{
			Field:   "consumer.unknown_topic_policy",
			Message: fmt.Sprintf("invalid policy: %q (valid: fail, skip)", cfg.UnknownTopicPolicy),
		}
	}

	if _, err := url.ParseRequestURI(cfg.Ack.ProducerURL); err != nil {
		return &ValidationError{Field: "consumer.ack.producer_url", Message: "a valid producer url is required"}
	}

	return validateRetry("consumer.ack.retry", cfg.Ack.Retry)
}
