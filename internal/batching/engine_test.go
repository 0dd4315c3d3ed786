package batching

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herald/internal/logger"
	"herald/internal/outbox"
	"herald/internal/subscription"
	pkgerrors "herald/pkg/errors"
)

var testProducer = outbox.Producer{ServiceID: "producer-service", InstanceID: "p-1"}

func newGroups(t *testing.T, topic string, names ...string) *subscription.MemoryRepository {
	t.Helper()
	groups := subscription.NewMemoryRepository()
	for _, name := range names {
		_, err := groups.Register(context.Background(), subscription.Registration{
			Topic: topic, GroupName: name, AcknowledgmentTimeoutMinutes: 1, MaxRetries: 3,
		})
		require.NoError(t, err)
	}
	return groups
}

func newEngine(cfg Config, repo outbox.Repository, groups subscription.Repository) *Engine {
	return NewEngine(cfg, repo, groups, testProducer, logger.NopLogger())
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func isDone(f *Future) bool {
	select {
	case <-f.Done():
		return true
	default:
		return false
	}
}

func TestSizeTriggerFlushesWithoutTimer(t *testing.T) {
	repo := outbox.NewMemoryRepository()
	e := newEngine(Config{MaxBatchSize: 3, FlushInterval: time.Hour, QueueCapacity: 10, SubmitTimeout: time.Second},
		repo, newGroups(t, "orders", "billing", "audit"))
	e.Start()
	defer e.Shutdown(context.Background())

	var futures []*Future
	for i := 0; i < 3; i++ {
		f, err := e.Submit(context.Background(), outbox.EnqueueRequest{Topic: "orders", Payload: "{}"})
		require.NoError(t, err)
		futures = append(futures, f)
	}

	for _, f := range futures {
		res, err := f.Wait(waitCtx(t))
		require.NoError(t, err)
		assert.Equal(t, f.ID(), res.MessageID)
		assert.ElementsMatch(t, []string{"billing", "audit"}, res.TargetGroups)
	}
	assert.Len(t, repo.All(), 6)
}

func TestTimerTriggerFlushesSmallBatch(t *testing.T) {
	repo := outbox.NewMemoryRepository()
	e := newEngine(Config{MaxBatchSize: 100, FlushInterval: 300 * time.Millisecond, QueueCapacity: 10, SubmitTimeout: time.Second},
		repo, newGroups(t, "orders", "billing"))
	e.Start()
	defer e.Shutdown(context.Background())

	a, err := e.Submit(context.Background(), outbox.EnqueueRequest{Topic: "orders", Payload: "a"})
	require.NoError(t, err)
	b, err := e.Submit(context.Background(), outbox.EnqueueRequest{Topic: "orders", Payload: "b"})
	require.NoError(t, err)

	assert.False(t, isDone(a))
	assert.False(t, isDone(b))

	_, err = a.Wait(waitCtx(t))
	require.NoError(t, err)
	_, err = b.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Len(t, repo.All(), 2)
}

func TestFanOutSharesIdempotencyKey(t *testing.T) {
	repo := outbox.NewMemoryRepository()
	e := newEngine(Config{MaxBatchSize: 1, FlushInterval: time.Hour, QueueCapacity: 10, SubmitTimeout: time.Second},
		repo, newGroups(t, "orders", "billing", "audit", "search"))
	e.Start()
	defer e.Shutdown(context.Background())

	res, err := e.Enqueue(waitCtx(t), outbox.EnqueueRequest{Topic: "orders", Payload: `{"id":7}`, IdempotencyKey: "order-7"})
	require.NoError(t, err)
	require.Len(t, res.Messages, 3)

	ids := map[string]bool{}
	for _, m := range res.Messages {
		assert.Equal(t, "order-7", m.IdempotencyKey)
		assert.Equal(t, outbox.StatusPending, m.Status)
		assert.Equal(t, "producer-service", m.ProducerServiceID)
		ids[m.ID] = true
	}
	assert.Len(t, ids, 3)
}

func TestIdempotencyKeyDefaultsToCorrelationID(t *testing.T) {
	repo := outbox.NewMemoryRepository()
	e := newEngine(Config{MaxBatchSize: 1, FlushInterval: time.Hour, QueueCapacity: 10, SubmitTimeout: time.Second},
		repo, newGroups(t, "orders", "billing"))
	e.Start()
	defer e.Shutdown(context.Background())

	res, err := e.Enqueue(waitCtx(t), outbox.EnqueueRequest{Topic: "orders", Payload: "{}"})
	require.NoError(t, err)
	assert.Equal(t, res.MessageID, res.Messages[0].IdempotencyKey)
}

func TestNoConsumerGroups(t *testing.T) {
	e := newEngine(Config{MaxBatchSize: 1, FlushInterval: time.Hour, QueueCapacity: 10, SubmitTimeout: time.Second},
		outbox.NewMemoryRepository(), newGroups(t, "orders", "billing"))
	e.Start()
	defer e.Shutdown(context.Background())

	_, err := e.Enqueue(waitCtx(t), outbox.EnqueueRequest{Topic: "ghost", Payload: "{}"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, pkgerrors.ErrNoConsumerGroups))
}

func TestQueueFull(t *testing.T) {
	// Not started, so nothing drains the queue.
	e := newEngine(Config{MaxBatchSize: 10, FlushInterval: time.Hour, QueueCapacity: 1, SubmitTimeout: 10 * time.Millisecond},
		outbox.NewMemoryRepository(), newGroups(t, "orders", "billing"))

	_, err := e.Submit(context.Background(), outbox.EnqueueRequest{Topic: "orders", Payload: "{}"})
	require.NoError(t, err)

	_, err = e.Submit(context.Background(), outbox.EnqueueRequest{Topic: "orders", Payload: "{}"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrQueueFull))
	assert.True(t, pkgerrors.IsQueueFull(err))

	var appErr *pkgerrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.True(t, appErr.IsRetryable())
}

func TestPartialInsertRejectsOnlyAffectedRequests(t *testing.T) {
	repo := outbox.NewMemoryRepository()
	repo.DropOnInsert(func(m *outbox.Message) bool {
		return m.Topic == "orders" && m.ConsumerGroup == "audit"
	})

	groups := newGroups(t, "orders", "billing", "audit")
	_, err := groups.Register(context.Background(), subscription.Registration{
		Topic: "users", GroupName: "billing", AcknowledgmentTimeoutMinutes: 1,
	})
	require.NoError(t, err)

	e := newEngine(Config{MaxBatchSize: 2, FlushInterval: time.Hour, QueueCapacity: 10, SubmitTimeout: time.Second}, repo, groups)
	e.Start()
	defer e.Shutdown(context.Background())

	orders, err := e.Submit(context.Background(), outbox.EnqueueRequest{Topic: "orders", Payload: "{}"})
	require.NoError(t, err)
	users, err := e.Submit(context.Background(), outbox.EnqueueRequest{Topic: "users", Payload: "{}"})
	require.NoError(t, err)

	_, err = orders.Wait(waitCtx(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit")

	res, err := users.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"billing"}, res.TargetGroups)
}

type failingRepo struct {
	outbox.Repository
}

func (failingRepo) InsertBatch(ctx context.Context, msgs []*outbox.Message) ([]string, error) {
	return nil, errors.New("database is down")
}

func TestTotalFailureRejectsEveryFuture(t *testing.T) {
	e := newEngine(Config{MaxBatchSize: 2, FlushInterval: time.Hour, QueueCapacity: 10, SubmitTimeout: time.Second},
		failingRepo{outbox.NewMemoryRepository()}, newGroups(t, "orders", "billing"))
	e.Start()
	defer e.Shutdown(context.Background())

	a, err := e.Submit(context.Background(), outbox.EnqueueRequest{Topic: "orders", Payload: "a"})
	require.NoError(t, err)
	b, err := e.Submit(context.Background(), outbox.EnqueueRequest{Topic: "orders", Payload: "b"})
	require.NoError(t, err)

	for _, f := range []*Future{a, b} {
		_, err := f.Wait(waitCtx(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database is down")
	}
}

func TestShutdownFlushesPendingAndRejectsNewWork(t *testing.T) {
	repo := outbox.NewMemoryRepository()
	e := newEngine(Config{MaxBatchSize: 100, FlushInterval: time.Hour, QueueCapacity: 10, SubmitTimeout: time.Second},
		repo, newGroups(t, "orders", "billing"))
	e.Start()

	f, err := e.Submit(context.Background(), outbox.EnqueueRequest{Topic: "orders", Payload: "{}"})
	require.NoError(t, err)

	require.NoError(t, e.Shutdown(waitCtx(t)))

	res, err := f.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, f.ID(), res.MessageID)
	assert.Len(t, repo.All(), 1)

	_, err = e.Submit(context.Background(), outbox.EnqueueRequest{Topic: "orders", Payload: "{}"})
	assert.True(t, errors.Is(err, ErrClosed))

	assert.NoError(t, e.Shutdown(context.Background()))
}

func TestShutdownBeforeStartRejectsQueued(t *testing.T) {
	e := newEngine(Config{MaxBatchSize: 100, FlushInterval: time.Hour, QueueCapacity: 10, SubmitTimeout: time.Second},
		outbox.NewMemoryRepository(), newGroups(t, "orders", "billing"))

	f, err := e.Submit(context.Background(), outbox.EnqueueRequest{Topic: "orders", Payload: "{}"})
	require.NoError(t, err)

	require.NoError(t, e.Shutdown(waitCtx(t)))

	_, err = f.Wait(waitCtx(t))
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestSubmitValidates(t *testing.T) {
	e := newEngine(DefaultConfig(), outbox.NewMemoryRepository(), newGroups(t, "orders", "billing"))

	_, err := e.Submit(context.Background(), outbox.EnqueueRequest{Topic: " ", Payload: "{}"})
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestFutureResolvesOnce(t *testing.T) {
	f := newFuture("c1", outbox.EnqueueRequest{})
	f.resolve(&outbox.EnqueueResult{MessageID: "c1"})
	f.reject(errors.New("late"))

	res, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "c1", res.MessageID)
}

func TestEnqueueReturnsCorrelationIDWhenWaitEnds(t *testing.T) {
	repo := outbox.NewMemoryRepository()
	e := newEngine(Config{MaxBatchSize: 100, FlushInterval: time.Hour, QueueCapacity: 10, SubmitTimeout: time.Second},
		repo, newGroups(t, "orders", "billing", "audit"))
	e.Start()
	defer e.Shutdown(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res, err := e.Enqueue(ctx, outbox.EnqueueRequest{Topic: "orders", Payload: "{}"})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, pkgerrors.IsEnqueuePending(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	var appErr *pkgerrors.Error
	require.True(t, errors.As(err, &appErr))
	id, ok := appErr.Details["message_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, id)

	// The request was not withdrawn; its rows carry the returned id as key.
	e.Flush(triggerTimer)
	rows := repo.All()
	require.Len(t, rows, 2)
	for _, m := range rows {
		assert.Equal(t, id, m.IdempotencyKey)
	}
}
