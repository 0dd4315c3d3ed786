package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herald/internal/broker"
	"herald/internal/config"
	"herald/internal/logger"
)

func TestPostgresDSN(t *testing.T) {
	dsn := PostgresDSN(config.PostgresConfig{
		Host: "db", Port: 5432, User: "herald", Password: "secret", DBName: "outbox", SSLMode: "disable",
	})
	assert.Equal(t, "postgres://herald:secret@db:5432/outbox?sslmode=disable", dsn)
}

func TestInitRedisSkippedWithoutHost(t *testing.T) {
	dc := NewDatabaseConnector(&config.Config{}, logger.NopLogger())
	client, err := dc.InitRedis(context.Background())
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestRegistryRedisIndependentOfCacheDB(t *testing.T) {
	cfg := &config.Config{
		Database: config.DatabaseConfig{Redis: config.RedisConfig{Host: "redis", Port: 6379, DB: 1}},
		Registry: config.RegistryConfig{Enabled: true, RedisDB: 0},
	}
	dc := NewDatabaseConnector(cfg, logger.NopLogger())
	assert.False(t, dc.SharesRegistryRedis())

	opts := RedisOptions(cfg.Database.Redis, cfg.Registry.RedisDB)
	assert.Equal(t, "redis:6379", opts.Addr)
	assert.Equal(t, 0, opts.DB)

	cfg.Registry.RedisDB = 1
	assert.True(t, dc.SharesRegistryRedis())

	client, err := NewDatabaseConnector(&config.Config{}, logger.NopLogger()).InitRegistryRedis(context.Background())
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestShutdownDatabasesSkipsNilClients(t *testing.T) {
	dc := NewDatabaseConnector(&config.Config{}, logger.NopLogger())
	assert.Empty(t, dc.ShutdownDatabases(nil, nil, nil))
}

func TestInitProducerUnknownBroker(t *testing.T) {
	b := NewBase(&config.Config{Broker: config.BrokerConfig{Type: "rabbitmq"}}, logger.NopLogger())
	assert.Error(t, b.InitProducer())
	assert.Error(t, b.InitConsumer("consumer-service"))
}

func TestShutdownOrderAndErrors(t *testing.T) {
	b := NewBase(&config.Config{}, logger.NopLogger())
	mem := broker.NewMemoryProducer()
	b.Producer = mem

	var order []string
	err := b.Shutdown(context.Background(),
		func(ctx context.Context) []error {
			order = append(order, "before")
			return nil
		},
		func(ctx context.Context) []error {
			order = append(order, "after")
			return []error{errors.New("postgres close error")}
		},
	)

	assert.Equal(t, []string{"before", "after"}, order)
	assert.ErrorContains(t, err, "postgres close error")
}
