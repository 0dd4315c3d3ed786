// Package batching absorbs single enqueue requests into bulk outbox inserts.
package batching

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"herald/internal/config"
	"herald/internal/constants"
	"herald/internal/logger"
	"herald/internal/outbox"
	"herald/internal/subscription"
	pkgerrors "herald/pkg/errors"
	"herald/pkg/metrics"
)

var (
	// ErrQueueFull is returned by Submit when the queue stayed full for the
	// whole submit timeout.
	ErrQueueFull = pkgerrors.ErrQueueFull

	// ErrClosed is returned once Shutdown has started, and resolves any
	// future left over after the final flush.
	// ErrPending is returned by Enqueue when ctx ended before the flush. It
	// carries the correlation id as detail "message_id".
	ErrPending = pkgerrors.ErrEnqueuePending

	ErrClosed = pkgerrors.NewError("ENGINE_CLOSED", "batching engine is shutting down", 503).AsRetryable()
)

const (
	triggerSize     = "size"
	triggerTimer    = "timer"
	triggerShutdown = "shutdown"
)

type Config struct {
	MaxBatchSize  int
	FlushInterval time.Duration
	QueueCapacity int
	SubmitTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxBatchSize:  constants.DefaultMaxBatchSize,
		FlushInterval: constants.DefaultFlushInterval,
		QueueCapacity: constants.DefaultQueueCapacity,
		SubmitTimeout: constants.DefaultSubmitTimeout,
	}
}

func ConfigFrom(cfg config.BatchingConfig) Config {
	out := DefaultConfig()
	if cfg.MaxBatchSize > 0 {
		out.MaxBatchSize = cfg.MaxBatchSize
	}
	if cfg.FlushInterval > 0 {
		out.FlushInterval = cfg.FlushInterval
	}
	if cfg.QueueCapacity > 0 {
		out.QueueCapacity = cfg.QueueCapacity
	}
	if cfg.SubmitTimeout > 0 {
		out.SubmitTimeout = cfg.SubmitTimeout
	}
	return out
}

// Engine queues enqueue requests on a bounded channel. A single consumer moves
// them into the current batch; the batch is flushed when it reaches
// MaxBatchSize or when the flush timer fires, whichever comes first.
type Engine struct {
	cfg      Config
	repo     outbox.Repository
	groups   subscription.Repository
	producer outbox.Producer
	logger   logger.Logger
	now      func() time.Time

	queue chan *Future

	// intake guards sends on queue against its close.
	intake sync.RWMutex
	closed bool

	// mu serialises every flush with batch appends.
	mu    sync.Mutex
	batch []*Future

	flushCtx    context.Context
	cancelFlush context.CancelFunc
	stopTimer   chan struct{}
	consumerWg  sync.WaitGroup
	timerWg     sync.WaitGroup
	startOnce   sync.Once
}

func NewEngine(cfg Config, repo outbox.Repository, groups subscription.Repository, producer outbox.Producer, log logger.Logger) *Engine {
	flushCtx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:         cfg,
		repo:        repo,
		groups:      groups,
		producer:    producer,
		logger:      log.With("component", "batching"),
		now:         func() time.Time { return time.Now().UTC() },
		queue:       make(chan *Future, cfg.QueueCapacity),
		flushCtx:    flushCtx,
		cancelFlush: cancel,
		stopTimer:   make(chan struct{}),
	}
}

// Start launches the queue consumer and the flush timer.
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		e.consumerWg.Add(1)
		go e.consume()

		e.timerWg.Add(1)
		go e.runTimer()

		e.logger.Infow("Batching engine started",
			"max_batch_size", e.cfg.MaxBatchSize,
			"flush_interval", e.cfg.FlushInterval.String(),
			"queue_capacity", e.cfg.QueueCapacity,
		)
	})
}

// Submit queues req, waiting at most SubmitTimeout for room.
func (e *Engine) Submit(ctx context.Context, req outbox.EnqueueRequest) (*Future, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	e.intake.RLock()
	defer e.intake.RUnlock()

	if e.closed {
		metrics.IncBatchingRejected("closed")
		return nil, ErrClosed
	}

	f := newFuture(uuid.NewString(), req)

	select {
	case e.queue <- f:
		metrics.SetBatchingQueueDepth(len(e.queue))
		return f, nil
	default:
	}

	timer := time.NewTimer(e.cfg.SubmitTimeout)
	defer timer.Stop()

	select {
	case e.queue <- f:
		metrics.SetBatchingQueueDepth(len(e.queue))
		return f, nil
	case <-timer.C:
		metrics.IncBatchingRejected("queue_full")
		return nil, ErrQueueFull.WithDetail("capacity", e.cfg.QueueCapacity)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Enqueue submits req and waits for its flush, or until ctx ends.
func (e *Engine) Enqueue(ctx context.Context, req outbox.EnqueueRequest) (*outbox.EnqueueResult, error) {
	f, err := e.Submit(ctx, req)
	if err != nil {
		return nil, err
	}

	res, err := f.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		metrics.IncBatchingRejected("wait_timeout")
		return nil, ErrPending.WithCause(err).WithDetail("message_id", f.ID())
	}
	return res, err
}

func (e *Engine) consume() {
	defer e.consumerWg.Done()

	for f := range e.queue {
		metrics.SetBatchingQueueDepth(len(e.queue))

		e.mu.Lock()
		e.batch = append(e.batch, f)
		if len(e.batch) >= e.cfg.MaxBatchSize {
			e.flushLocked(triggerSize)
		}
		e.mu.Unlock()
	}
}

func (e *Engine) runTimer() {
	defer e.timerWg.Done()

	ticker := time.NewTicker(e.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopTimer:
			return
		case <-ticker.C:
			e.Flush(triggerTimer)
		}
	}
}

// Flush writes whatever is batched. It is a no-op on an empty batch.
func (e *Engine) Flush(trigger string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flushLocked(trigger)
}

func (e *Engine) flushLocked(trigger string) {
	if len(e.batch) == 0 {
		return
	}

	batch := e.batch
	e.batch = nil

	start := time.Now()
	status := "ok"
	if err := e.write(e.flushCtx, batch); err != nil {
		status = "error"
	}
	metrics.ObserveFlush(trigger, status, len(batch))

	e.logger.Debugw("Batch flushed",
		"trigger", trigger,
		"requests", len(batch),
		"status", status,
		"duration", time.Since(start).String(),
	)
}

// write inserts every row of batch in one call and resolves every future
// exactly once. It returns the error of a total failure.
func (e *Engine) write(ctx context.Context, batch []*Future) error {
	now := e.now()

	byTopic := make(map[string][]*Future)
	for _, f := range batch {
		byTopic[f.req.Topic] = append(byTopic[f.req.Topic], f)
	}

	var (
		rows    []*outbox.Message
		pending []*Future
		rowsOf  = make(map[string][]*outbox.Message, len(batch))
	)

	for topic, futures := range byTopic {
		groups, err := e.groups.ActiveGroupsForTopic(ctx, topic)
		if err != nil {
			for _, f := range futures {
				f.reject(pkgerrors.ErrInternal.WithCause(err))
			}
			continue
		}
		if len(groups) == 0 {
			noGroups := outbox.NoGroupsError(topic)
			for _, f := range futures {
				f.reject(noGroups)
			}
			continue
		}

		for _, f := range futures {
			fanned := outbox.FanOut(f.id, f.req, groups, e.producer, now)
			rowsOf[f.id] = fanned
			rows = append(rows, fanned...)
			pending = append(pending, f)
		}
	}

	if len(rows) == 0 {
		return nil
	}

	ids, err := e.repo.InsertBatch(ctx, rows)
	if err != nil {
		e.logger.Errorw("Batch insert failed", "error", err, "requests", len(pending), "rows", len(rows))
		wrapped := pkgerrors.ErrInternal.WithCause(err)
		for _, f := range pending {
			f.reject(wrapped)
		}
		return err
	}

	persisted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		persisted[id] = struct{}{}
	}

	for _, f := range pending {
		fanned := rowsOf[f.id]

		var missing []string
		for _, m := range fanned {
			if _, ok := persisted[m.ID]; !ok {
				missing = append(missing, m.ConsumerGroup)
			}
		}

		if len(missing) > 0 {
			e.logger.Errorw("Outbox rows missing after batch insert",
				"message_id", f.id,
				"topic", f.req.Topic,
				"missing_groups", missing,
			)
			f.reject(pkgerrors.ErrInternal.
				WithMessage(fmt.Sprintf("rows for groups %s were not persisted", strings.Join(missing, ", "))).
				WithDetail("message_id", f.id))
			continue
		}

		metrics.IncEnqueued(f.req.Topic, len(fanned))
		f.resolve(outbox.NewEnqueueResult(f.id, fanned))
	}

	return nil
}

// Shutdown stops intake, drains the queue into one final flush, and fails
// anything still unresolved with ErrClosed.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.intake.Lock()
	if e.closed {
		e.intake.Unlock()
		return nil
	}
	e.closed = true
	close(e.queue)
	e.intake.Unlock()

	close(e.stopTimer)
	e.timerWg.Wait()

	drained := make(chan struct{})
	go func() {
		e.consumerWg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		e.cancelFlush()
		<-drained
	}

	e.mu.Lock()
	e.flushLocked(triggerShutdown)
	e.mu.Unlock()

	// Not started: queued futures never reached a batch.
	for f := range e.queue {
		f.reject(ErrClosed)
	}

	e.cancelFlush()
	e.logger.Infow("Batching engine stopped")
	return ctx.Err()
}
