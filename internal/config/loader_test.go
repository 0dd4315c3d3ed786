package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadProducerConfigAppliesDefaults(t *testing.T) {
	cfg, err := Load("testdata/producer.yaml")
	require.NoError(t, err)

	assert.Equal(t, "orders-producer", cfg.Service.ServiceID)
	assert.NotEmpty(t, cfg.Service.InstanceID)
	assert.Equal(t, 250, cfg.Batching.MaxBatchSize)
	assert.Equal(t, 5*time.Second, cfg.Batching.FlushInterval)
	assert.Equal(t, 10000, cfg.Batching.QueueCapacity)
	assert.Equal(t, 5*time.Second, cfg.Delivery.Interval)
	assert.Equal(t, 20*time.Second, cfg.Redelivery.Interval)
	assert.Equal(t, time.Second, cfg.Redelivery.Backoff.InitialInterval)
	assert.Equal(t, "all", cfg.Broker.Kafka.RequiredAcks)
	assert.Equal(t, "", cfg.Consumer.Group)
}

func TestLoadConsumerConfig(t *testing.T) {
	cfg, err := Load("testdata/consumer.yaml")
	require.NoError(t, err)

	assert.Equal(t, "billing-1", cfg.Service.InstanceID)
	assert.Equal(t, []string{"orders"}, cfg.Consumer.Topics)
	assert.Equal(t, "fail", cfg.Consumer.UnknownTopicPolicy)
	assert.Equal(t, 3, cfg.Consumer.Ack.Retry.MaxAttempts)
	assert.True(t, cfg.Registry.Enabled)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SERVICE_ID", "from-env")
	t.Setenv("BROKER_KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg, err := Load("testdata/producer.yaml")
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Service.ServiceID)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Broker.Kafka.Brokers)
}

func TestValidateStatic(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("testdata/consumer.yaml")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{name: "missing service id", mutate: func(c *Config) { c.Service.ServiceID = "" }, field: "service.service_id"},
		{name: "bad acks", mutate: func(c *Config) { c.Broker.Kafka.RequiredAcks = "two" }, field: "broker.kafka.required_acks"},
		{name: "zero batch", mutate: func(c *Config) { c.Batching.MaxBatchSize = 0 }, field: "batching.max_batch_size"},
		{name: "consumer without topics", mutate: func(c *Config) { c.Consumer.Topics = nil }, field: "consumer.topics"},
		{name: "bad policy", mutate: func(c *Config) { c.Consumer.UnknownTopicPolicy = "drop" }, field: "consumer.unknown_topic_policy"},
		{name: "missing producer url", mutate: func(c *Config) { c.Consumer.Ack.ProducerURL = "" }, field: "consumer.ack.producer_url"},
		{name: "stale before heartbeat", mutate: func(c *Config) { c.Registry.StaleAfter = time.Second }, field: "registry.stale_after"},
		{name: "flush outlasts write deadline", mutate: func(c *Config) {
			c.Server.WriteTimeout = 10 * time.Second
			c.Batching.FlushInterval = 30 * time.Second
		}, field: "batching.flush_interval"},
		{name: "flush equals write deadline", mutate: func(c *Config) {
			c.Server.WriteTimeout = 10 * time.Second
			c.Batching.FlushInterval = 10 * time.Second
		}, field: "batching.flush_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := ValidateStatic(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestDefaultFlushFitsWriteDeadline(t *testing.T) {
	cfg, err := Load("testdata/consumer.yaml")
	require.NoError(t, err)

	require.True(t, cfg.Batching.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 8*time.Second, cfg.Server.EnqueueWait())
	assert.Less(t, cfg.Batching.FlushInterval, cfg.Server.EnqueueWait())
}

func TestFlushDeadlineIgnoredWithoutBatchingOrDeadline(t *testing.T) {
	cfg, err := Load("testdata/consumer.yaml")
	require.NoError(t, err)

	cfg.Batching.FlushInterval = time.Minute
	cfg.Batching.Enabled = false
	assert.NoError(t, ValidateStatic(cfg))

	cfg.Batching.Enabled = true
	cfg.Server.WriteTimeout = 0
	assert.Zero(t, cfg.Server.EnqueueWait())
	assert.NoError(t, ValidateStatic(cfg))
}

func TestSampleConfigsShareRegistryStore(t *testing.T) {
	producer, err := Load("../../configs/producer.yaml")
	require.NoError(t, err)
	consumer, err := Load("../../configs/consumer.yaml")
	require.NoError(t, err)

	require.True(t, producer.Registry.Enabled)
	require.True(t, consumer.Registry.Enabled)
	assert.Equal(t, producer.Database.Redis.Host, consumer.Database.Redis.Host)
	assert.Equal(t, producer.Database.Redis.Port, consumer.Database.Redis.Port)
	assert.Equal(t, producer.Registry.RedisDB, consumer.Registry.RedisDB)

	// The consumer's dedup cache may use its own database.
	assert.NotEqual(t, consumer.Database.Redis.DB, consumer.Registry.RedisDB)
}

func TestRegistryRedisDBEnvOverride(t *testing.T) {
	t.Setenv("REGISTRY_REDIS_DB", "3")

	cfg, err := Load("testdata/consumer.yaml")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Registry.RedisDB)
}
