//go:build integration

package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herald/internal/logger"
	"herald/internal/testinfra"
)

func TestPostgresRepositoryDedup(t *testing.T) {
	db := testinfra.Postgres(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	p := ProcessedMessage{MessageID: "0b6f2d8e-6d8f-4a59-9d55-0a3c1f1f0a01", ConsumerGroup: "billing", IdempotencyKey: "order-1", Topic: "orders", ProcessedAt: now}

	inserted, err := repo.MarkProcessed(ctx, p)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.MarkProcessed(ctx, p)
	require.NoError(t, err)
	assert.False(t, inserted)

	found, err := repo.IsProcessed(ctx, "another-id", "order-1", "billing")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = repo.IsProcessed(ctx, p.MessageID, "", "audit")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPostgresRecordFailureCountsRepeats(t *testing.T) {
	db := testinfra.Postgres(t)
	repo := NewRepository(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.RecordFailure(ctx, FailedMessage{
			MessageID: "m-1", ConsumerGroup: "billing", IdempotencyKey: "k-1",
			Topic: "orders", ErrorMessage: "attempt failed", LastFailedAt: time.Now().UTC(),
		}))
	}

	f, err := repo.GetFailure(ctx, "m-1", "billing")
	require.NoError(t, err)
	assert.Equal(t, 2, f.RetryCount)
	assert.False(t, f.FirstFailedAt.After(f.LastFailedAt))
}

func TestCachedRepositoryServesHitsFromRedis(t *testing.T) {
	db := testinfra.Postgres(t)
	client := testinfra.Redis(t)
	ctx := context.Background()

	repo := NewCachedRepository(NewRepository(db), client, time.Minute, logger.NopLogger())

	_, err := repo.MarkProcessed(ctx, ProcessedMessage{MessageID: "m-1", ConsumerGroup: "billing", IdempotencyKey: "k-1", Topic: "orders", ProcessedAt: time.Now().UTC()})
	require.NoError(t, err)

	n, err := client.Exists(ctx, idKey("billing", "m-1"), idemKey("billing", "k-1")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	ttl, err := client.TTL(ctx, idKey("billing", "m-1")).Result()
	require.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= time.Minute)

	// Database gone: the cache alone answers for known keys.
	require.NoError(t, db.Close())
	found, err := repo.IsProcessed(ctx, "m-2", "k-1", "billing")
	require.NoError(t, err)
	assert.True(t, found)
}
