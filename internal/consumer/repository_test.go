package consumer

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herald/internal/logger"
	"herald/pkg/circuitbreaker"
	pkgerrors "herald/pkg/errors"
)

func newMockRepo(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db), mock
}

func TestPostgresIsProcessedMatchesIDOrKey(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("message_id = $1 OR idempotency_key = $2")).
		WithArgs("m-2", "k-1", "billing").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	found, err := repo.IsProcessed(context.Background(), "m-2", "k-1", "billing")
	require.NoError(t, err)
	assert.True(t, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMarkProcessed(t *testing.T) {
	now := time.Now().UTC()
	p := ProcessedMessage{MessageID: "m-1", ConsumerGroup: "billing", IdempotencyKey: "k-1", Topic: "orders", ProcessedAt: now}

	t.Run("inserted", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec("INSERT INTO processed_messages").
			WithArgs("m-1", "billing", "k-1", "orders", now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		inserted, err := repo.MarkProcessed(context.Background(), p)
		require.NoError(t, err)
		assert.True(t, inserted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already present", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec("INSERT INTO processed_messages").
			WillReturnError(&pq.Error{Code: "23505"})

		inserted, err := repo.MarkProcessed(context.Background(), p)
		require.NoError(t, err)
		assert.False(t, inserted)
	})

	t.Run("other error", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec("INSERT INTO processed_messages").
			WillReturnError(errors.New("connection reset"))

		_, err := repo.MarkProcessed(context.Background(), p)
		assert.ErrorContains(t, err, "connection reset")
	})
}

func TestPostgresRecordFailureUpserts(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("retry_count = failed_messages.retry_count + 1")).
		WithArgs("m-1", "billing", "k-1", "orders", "boom", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.RecordFailure(context.Background(), FailedMessage{
		MessageID: "m-1", ConsumerGroup: "billing", IdempotencyKey: "k-1",
		Topic: "orders", ErrorMessage: "boom", LastFailedAt: now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetFailureNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("FROM failed_messages").
		WithArgs("m-1", "billing").
		WillReturnRows(sqlmock.NewRows([]string{"message_id"}))

	_, err := repo.GetFailure(context.Background(), "m-1", "billing")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestCachedRepositoryFallsBackWhenRedisIsDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	inner := NewMemoryRepository()
	repo := NewCachedRepository(inner, client, time.Minute, logger.NopLogger())
	ctx := context.Background()

	found, err := repo.IsProcessed(ctx, "m-1", "k-1", "billing")
	require.NoError(t, err)
	assert.False(t, found)

	inserted, err := repo.MarkProcessed(ctx, ProcessedMessage{MessageID: "m-1", ConsumerGroup: "billing", IdempotencyKey: "k-1"})
	require.NoError(t, err)
	assert.True(t, inserted)

	found, err = repo.IsProcessed(ctx, "m-9", "k-1", "billing")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestCachedRepositoryBreakerOpensOnRedisOutage(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	cfg := circuitbreaker.DefaultConfig("redis-dedup")
	cfg.MinRequests = 1
	cfg.FailureThreshold = 1
	cfg.Timeout = time.Hour
	cb := circuitbreaker.NewWrapper(cfg)

	repo := NewCachedRepository(NewMemoryRepository(), client, time.Minute, logger.NopLogger()).WithBreaker(cb)
	ctx := context.Background()

	_, err := repo.IsProcessed(ctx, "m-1", "k-1", "billing")
	require.NoError(t, err)
	assert.True(t, cb.IsOpen())

	// Still answered by the database while the breaker is open.
	_, err = repo.MarkProcessed(ctx, ProcessedMessage{MessageID: "m-1", ConsumerGroup: "billing", IdempotencyKey: "k-1"})
	require.NoError(t, err)
	found, err := repo.IsProcessed(ctx, "m-1", "", "billing")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestCacheKeys(t *testing.T) {
	repo := &CachedRepository{}
	assert.Equal(t, []string{"herald:processed:billing:id:m-1", "herald:processed:billing:key:k-1"},
		repo.cacheKeys("m-1", "k-1", "billing"))
	assert.Equal(t, []string{"herald:processed:billing:id:m-1"}, repo.cacheKeys("m-1", "", "billing"))
}
