package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	pkgerrors "herald/pkg/errors"
	"herald/pkg/metrics"
)

// Repository persists outbox rows. Every status change is a conditional
// write on the expected current status so that concurrent workers commute:
// at most one transition wins per row.
type Repository interface {
	InsertBatch(ctx context.Context, msgs []*Message) ([]string, error)
	Insert(ctx context.Context, msg *Message) error
	Get(ctx context.Context, id string) (*Message, error)
	UpdateStatus(ctx context.Context, id string, from, to Status, errMsg string) (bool, error)
	SelectPending(ctx context.Context, now time.Time, limit int) ([]Message, error)
	SelectStaleUnacknowledged(ctx context.Context, topic, group string, sentBefore time.Time, limit int) ([]Message, error)
	SelectRetryCandidates(ctx context.Context, topic, group string, limit int) ([]Message, error)
	SpawnRetry(ctx context.Context, failedID string, retry *Message) (bool, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]Message, error)
	CountByStatus(ctx context.Context) (map[Status]int64, error)
	RecordAcknowledgment(ctx context.Context, ack Acknowledgment) error
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// insertChunkSize keeps a multi-row insert well below the 65535 bind
// parameter limit.
const insertChunkSize = 1000

const messageColumns = `id, topic, payload, consumer_group, status, created_at, processed_at, retry_count,
	last_retry_at, scheduled_retry_at, is_retry, original_message_id, target_consumer_service_id,
	idempotency_key, producer_service_id, producer_instance_id, error_message`

const messageColumnCount = 17

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func observe(op string, start time.Time, err *error) {
	metrics.ObserveQuery("outbox", op, start, *err)
}

type execer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// InsertBatch writes msgs in one transaction, one multi-row statement per
// chunk, and returns the ids that were actually persisted. Ids that already
// exist are skipped rather than failing the whole batch.
func (r *PostgresRepository) InsertBatch(ctx context.Context, msgs []*Message) (ids []string, err error) {
	defer observe("insert_batch", time.Now(), &err)

	if len(msgs) == 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ids = make([]string, 0, len(msgs))
	for start := 0; start < len(msgs); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(msgs) {
			end = len(msgs)
		}

		chunkIDs, err := insertRows(ctx, tx, msgs[start:end])
		if err != nil {
			return nil, err
		}
		ids = append(ids, chunkIDs...)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit outbox batch: %w", err)
	}
	return ids, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, msg *Message) (err error) {
	defer observe("insert", time.Now(), &err)

	ids, err := insertRows(ctx, r.db, []*Message{msg})
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return pkgerrors.ErrConflict.WithMessage(fmt.Sprintf("outbox message %s already exists", msg.ID))
	}
	return nil
}

func insertRows(ctx context.Context, db execer, msgs []*Message) ([]string, error) {
	var (
		sb   strings.Builder
		args = make([]interface{}, 0, len(msgs)*messageColumnCount)
	)

	sb.WriteString("INSERT INTO outbox_messages (")
	sb.WriteString(messageColumns)
	sb.WriteString(") VALUES ")

	for i, m := range msgs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for c := 0; c < messageColumnCount; c++ {
			if c > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*messageColumnCount+c+1)
		}
		sb.WriteString(")")

		args = append(args,
			m.ID, m.Topic, m.Payload, m.ConsumerGroup, string(m.Status), m.CreatedAt, nullTime(m.ProcessedAt), m.RetryCount,
			nullTime(m.LastRetryAt), nullTime(m.ScheduledRetryAt), m.IsRetry, nullString(m.OriginalMessageID), nullString(m.TargetConsumerServiceID),
			m.IdempotencyKey, m.ProducerServiceID, m.ProducerInstanceID, nullString(m.ErrorMessage),
		)
	}
	sb.WriteString(" ON CONFLICT (id) DO NOTHING RETURNING id")

	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to insert outbox messages: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, len(msgs))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan inserted id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (msg *Message, err error) {
	defer observe("get", time.Now(), &err)

	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM outbox_messages WHERE id = $1`, id)

	var m Message
	err = scanMessage(row, &m)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithMessage(fmt.Sprintf("outbox message %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox message: %w", err)
	}
	return &m, nil
}

// UpdateStatus applies from -> to only if the row is still in from. The
// boolean reports whether this call won the transition.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, from, to Status, errMsg string) (updated bool, err error) {
	defer observe("update_status", time.Now(), &err)

	if !CanTransition(from, to) {
		return false, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $3, processed_at = NOW(), error_message = COALESCE(NULLIF($4, ''), error_message)
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to), errMsg)
	if err != nil {
		return false, fmt.Errorf("failed to update outbox status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresRepository) SelectPending(ctx context.Context, now time.Time, limit int) (msgs []Message, err error) {
	defer observe("select_pending", time.Now(), &err)

	return r.list(ctx, `
		SELECT `+messageColumns+` FROM outbox_messages
		WHERE status = 'Pending' AND (scheduled_retry_at IS NULL OR scheduled_retry_at <= $1)
		ORDER BY created_at
		LIMIT $2
	`, now, limit)
}

func (r *PostgresRepository) SelectStaleUnacknowledged(ctx context.Context, topic, group string, sentBefore time.Time, limit int) (msgs []Message, err error) {
	defer observe("select_stale", time.Now(), &err)

	return r.list(ctx, `
		SELECT `+messageColumns+` FROM outbox_messages
		WHERE topic = $1 AND consumer_group = $2 AND status = 'Sent' AND processed_at < $3
		ORDER BY processed_at
		LIMIT $4
	`, topic, group, sentBefore, limit)
}

func (r *PostgresRepository) SelectRetryCandidates(ctx context.Context, topic, group string, limit int) (msgs []Message, err error) {
	defer observe("select_retry_candidates", time.Now(), &err)

	return r.list(ctx, `
		SELECT `+messageColumns+` FROM outbox_messages
		WHERE topic = $1 AND consumer_group = $2 AND status = 'Failed' AND last_retry_at IS NULL
		ORDER BY created_at
		LIMIT $3
	`, topic, group, limit)
}

// SpawnRetry marks the Failed row as superseded and inserts its retry in one
// transaction. It returns false without inserting when another worker got
// there first or the row is no longer Failed.
func (r *PostgresRepository) SpawnRetry(ctx context.Context, failedID string, retry *Message) (spawned bool, err error) {
	defer observe("spawn_retry", time.Now(), &err)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE outbox_messages SET last_retry_at = $2
		WHERE id = $1 AND status = 'Failed' AND last_retry_at IS NULL
	`, failedID, retry.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to mark message superseded: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return false, err
	}

	ids, err := insertRows(ctx, tx, []*Message{retry})
	if err != nil {
		return false, err
	}
	if len(ids) != 1 {
		return false, pkgerrors.ErrConflict.WithMessage(fmt.Sprintf("retry message %s already exists", retry.ID))
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit retry: %w", err)
	}
	return true, nil
}

func (r *PostgresRepository) ListByStatus(ctx context.Context, status Status, limit int) (msgs []Message, err error) {
	defer observe("list_by_status", time.Now(), &err)

	return r.list(ctx, `
		SELECT `+messageColumns+` FROM outbox_messages
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, string(status), limit)
}

func (r *PostgresRepository) CountByStatus(ctx context.Context) (counts map[Status]int64, err error) {
	defer observe("count_by_status", time.Now(), &err)

	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM outbox_messages GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count outbox messages: %w", err)
	}
	defer rows.Close()

	counts = make(map[Status]int64, len(AllStatuses))
	for _, s := range AllStatuses {
		counts[s] = 0
	}
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

// RecordAcknowledgment upserts on (message, registration); the latest verdict wins.
func (r *PostgresRepository) RecordAcknowledgment(ctx context.Context, ack Acknowledgment) (err error) {
	defer observe("record_acknowledgment", time.Now(), &err)

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO consumer_acknowledgments (message_id, consumer_group_registration_id, success, acknowledged_at, error_message)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (message_id, consumer_group_registration_id) DO UPDATE SET
			success = EXCLUDED.success,
			acknowledged_at = EXCLUDED.acknowledged_at,
			error_message = EXCLUDED.error_message
	`, ack.MessageID, ack.RegistrationID, ack.Success, ack.AcknowledgedAt, nullString(ack.ErrorMessage))
	if err != nil {
		return fmt.Errorf("failed to record acknowledgment: %w", err)
	}
	return nil
}

// DeleteTerminalBefore removes at most limit rows that can no longer change:
// Acknowledged, Expired, and superseded Failed rows.
func (r *PostgresRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time, limit int) (deleted int64, err error) {
	defer observe("delete_terminal", time.Now(), &err)

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM outbox_messages WHERE id IN (
			SELECT id FROM outbox_messages
			WHERE (status IN ('Acknowledged', 'Expired') OR (status = 'Failed' AND last_retry_at IS NOT NULL))
			  AND created_at < $1
			LIMIT $2
		)
	`, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete terminal messages: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...interface{}) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("failed to scan outbox message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(s scanner, m *Message) error {
	var (
		status                        string
		processedAt, lastRetryAt      sql.NullTime
		scheduledRetryAt              sql.NullTime
		originalID, target, errorText sql.NullString
	)

	if err := s.Scan(
		&m.ID, &m.Topic, &m.Payload, &m.ConsumerGroup, &status, &m.CreatedAt, &processedAt, &m.RetryCount,
		&lastRetryAt, &scheduledRetryAt, &m.IsRetry, &originalID, &target,
		&m.IdempotencyKey, &m.ProducerServiceID, &m.ProducerInstanceID, &errorText,
	); err != nil {
		return err
	}

	m.Status = Status(status)
	m.ProcessedAt = timePtr(processedAt)
	m.LastRetryAt = timePtr(lastRetryAt)
	m.ScheduledRetryAt = timePtr(scheduledRetryAt)
	m.OriginalMessageID = originalID.String
	m.TargetConsumerServiceID = target.String
	m.ErrorMessage = errorText.String
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
