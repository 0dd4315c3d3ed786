package consumer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"

	pkgerrors "herald/pkg/errors"
	"herald/pkg/metrics"
)

type Repository interface {
	// IsProcessed reports whether the group already handled this message id
	// or any message carrying idempotencyKey.
	IsProcessed(ctx context.Context, messageID, idempotencyKey, group string) (bool, error)
	// MarkProcessed returns false when the row already existed.
	MarkProcessed(ctx context.Context, p ProcessedMessage) (bool, error)
	RecordFailure(ctx context.Context, f FailedMessage) error
	GetFailure(ctx context.Context, messageID, group string) (*FailedMessage, error)
}

const pgUniqueViolation = "23505"

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func observe(op string, start time.Time, err *error) {
	metrics.ObserveQuery("consumer", op, start, *err)
}

func (r *PostgresRepository) IsProcessed(ctx context.Context, messageID, idempotencyKey, group string) (found bool, err error) {
	defer observe("is_processed", time.Now(), &err)

	err = r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM processed_messages
			WHERE consumer_group = $3 AND (message_id = $1 OR idempotency_key = $2)
		)
	`, messageID, idempotencyKey, group).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("failed to check processed message: %w", err)
	}
	return found, nil
}

func (r *PostgresRepository) MarkProcessed(ctx context.Context, p ProcessedMessage) (inserted bool, err error) {
	defer observe("mark_processed", time.Now(), &err)

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO processed_messages (message_id, consumer_group, idempotency_key, topic, processed_at)
		VALUES ($1, $2, $3, $4, $5)
	`, p.MessageID, p.ConsumerGroup, p.IdempotencyKey, p.Topic, p.ProcessedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to mark message processed: %w", err)
	}
	return true, nil
}

// RecordFailure upserts the failure row, bumping retry_count on repeats.
func (r *PostgresRepository) RecordFailure(ctx context.Context, f FailedMessage) (err error) {
	defer observe("record_failure", time.Now(), &err)

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO failed_messages (message_id, consumer_group, idempotency_key, topic, retry_count, error_message, first_failed_at, last_failed_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6, $6)
		ON CONFLICT (message_id, consumer_group) DO UPDATE SET
			retry_count = failed_messages.retry_count + 1,
			error_message = EXCLUDED.error_message,
			last_failed_at = EXCLUDED.last_failed_at
	`, f.MessageID, f.ConsumerGroup, f.IdempotencyKey, f.Topic, f.ErrorMessage, f.LastFailedAt)
	if err != nil {
		return fmt.Errorf("failed to record failed message: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetFailure(ctx context.Context, messageID, group string) (f *FailedMessage, err error) {
	defer observe("get_failure", time.Now(), &err)

	var out FailedMessage
	err = r.db.QueryRowContext(ctx, `
		SELECT message_id, consumer_group, idempotency_key, topic, retry_count, error_message, first_failed_at, last_failed_at
		FROM failed_messages WHERE message_id = $1 AND consumer_group = $2
	`, messageID, group).Scan(
		&out.MessageID, &out.ConsumerGroup, &out.IdempotencyKey, &out.Topic,
		&out.RetryCount, &out.ErrorMessage, &out.FirstFailedAt, &out.LastFailedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithMessage(fmt.Sprintf("no failure recorded for %s in %s", messageID, group))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get failed message: %w", err)
	}
	return &out, nil
}

type MemoryRepository struct {
	mu        sync.Mutex
	processed map[string]ProcessedMessage
	failed    map[string]FailedMessage
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		processed: make(map[string]ProcessedMessage),
		failed:    make(map[string]FailedMessage),
	}
}

func pairKey(id, group string) string {
	return id + "\x00" + group
}

func (r *MemoryRepository) IsProcessed(ctx context.Context, messageID, idempotencyKey, group string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.processed[pairKey(messageID, group)]; ok {
		return true, nil
	}
	if idempotencyKey == "" {
		return false, nil
	}
	for _, p := range r.processed {
		if p.ConsumerGroup == group && p.IdempotencyKey == idempotencyKey {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) MarkProcessed(ctx context.Context, p ProcessedMessage) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := pairKey(p.MessageID, p.ConsumerGroup)
	if _, ok := r.processed[key]; ok {
		return false, nil
	}
	r.processed[key] = p
	return true, nil
}

func (r *MemoryRepository) RecordFailure(ctx context.Context, f FailedMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := pairKey(f.MessageID, f.ConsumerGroup)
	if existing, ok := r.failed[key]; ok {
		existing.RetryCount++
		existing.ErrorMessage = f.ErrorMessage
		existing.LastFailedAt = f.LastFailedAt
		r.failed[key] = existing
		return nil
	}
	f.RetryCount = 0
	f.FirstFailedAt = f.LastFailedAt
	r.failed[key] = f
	return nil
}

func (r *MemoryRepository) GetFailure(ctx context.Context, messageID, group string) (*FailedMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.failed[pairKey(messageID, group)]
	if !ok {
		return nil, pkgerrors.ErrNotFound.WithMessage(fmt.Sprintf("no failure recorded for %s in %s", messageID, group))
	}
	return &f, nil
}

// Processed returns every processed row; test helper.
func (r *MemoryRepository) Processed() []ProcessedMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ProcessedMessage, 0, len(r.processed))
	for _, p := range r.processed {
		out = append(out, p)
	}
	return out
}

// Failed returns every failure row; test helper.
func (r *MemoryRepository) Failed() []FailedMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]FailedMessage, 0, len(r.failed))
	for _, f := range r.failed {
		out = append(out, f)
	}
	return out
}
