package outbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	pkgerrors "herald/pkg/errors"
)

// MemoryRepository is an in-process Repository with the same conditional
// update semantics as the Postgres one. It backs tests and local runs.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[string]*Message
	acks map[string]Acknowledgment
	now  func() time.Time

	// failInsert, when set, is consulted for every row of InsertBatch; rows
	// for which it returns true are silently dropped.
	failInsert func(*Message) bool
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rows: make(map[string]*Message),
		acks: make(map[string]Acknowledgment),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source used for processed_at stamps.
func (r *MemoryRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// DropOnInsert makes InsertBatch skip rows matching fn, simulating a short
// bulk insert.
func (r *MemoryRepository) DropOnInsert(fn func(*Message) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failInsert = fn
}

func (r *MemoryRepository) InsertBatch(ctx context.Context, msgs []*Message) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if _, exists := r.rows[m.ID]; exists {
			continue
		}
		if r.failInsert != nil && r.failInsert(m) {
			continue
		}
		cp := *m
		r.rows[m.ID] = &cp
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (r *MemoryRepository) Insert(ctx context.Context, msg *Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rows[msg.ID]; exists {
		return pkgerrors.ErrConflict.WithMessage(fmt.Sprintf("outbox message %s already exists", msg.ID))
	}
	cp := *msg
	r.rows[msg.ID] = &cp
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.rows[id]
	if !ok {
		return nil, pkgerrors.ErrNotFound.WithMessage(fmt.Sprintf("outbox message %s not found", id))
	}
	cp := *m
	return &cp, nil
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, id string, from, to Status, errMsg string) (bool, error) {
	if !CanTransition(from, to) {
		return false, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.rows[id]
	if !ok || m.Status != from {
		return false, nil
	}

	now := r.now()
	m.Status = to
	m.ProcessedAt = &now
	if errMsg != "" {
		m.ErrorMessage = errMsg
	}
	return true, nil
}

func (r *MemoryRepository) SelectPending(ctx context.Context, now time.Time, limit int) ([]Message, error) {
	return r.selectRows(limit, func(m *Message) bool {
		return m.Status == StatusPending && (m.ScheduledRetryAt == nil || !m.ScheduledRetryAt.After(now))
	}, byCreatedAt), nil
}

func (r *MemoryRepository) SelectStaleUnacknowledged(ctx context.Context, topic, group string, sentBefore time.Time, limit int) ([]Message, error) {
	return r.selectRows(limit, func(m *Message) bool {
		return m.Topic == topic && m.ConsumerGroup == group && m.Status == StatusSent &&
			m.ProcessedAt != nil && m.ProcessedAt.Before(sentBefore)
	}, byCreatedAt), nil
}

func (r *MemoryRepository) SelectRetryCandidates(ctx context.Context, topic, group string, limit int) ([]Message, error) {
	return r.selectRows(limit, func(m *Message) bool {
		return m.Topic == topic && m.ConsumerGroup == group && m.Status == StatusFailed && m.LastRetryAt == nil
	}, byCreatedAt), nil
}

func (r *MemoryRepository) SpawnRetry(ctx context.Context, failedID string, retry *Message) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	failed, ok := r.rows[failedID]
	if !ok || failed.Status != StatusFailed || failed.LastRetryAt != nil {
		return false, nil
	}
	if _, exists := r.rows[retry.ID]; exists {
		return false, pkgerrors.ErrConflict.WithMessage(fmt.Sprintf("retry message %s already exists", retry.ID))
	}

	stamp := retry.CreatedAt
	failed.LastRetryAt = &stamp
	cp := *retry
	r.rows[retry.ID] = &cp
	return true, nil
}

func (r *MemoryRepository) ListByStatus(ctx context.Context, status Status, limit int) ([]Message, error) {
	return r.selectRows(limit, func(m *Message) bool { return m.Status == status }, func(a, b *Message) bool {
		return a.CreatedAt.After(b.CreatedAt)
	}), nil
}

func (r *MemoryRepository) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[Status]int64, len(AllStatuses))
	for _, s := range AllStatuses {
		counts[s] = 0
	}
	for _, m := range r.rows {
		counts[m.Status]++
	}
	return counts, nil
}

func (r *MemoryRepository) RecordAcknowledgment(ctx context.Context, ack Acknowledgment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.acks[ack.MessageID+"\x00"+ack.RegistrationID] = ack
	return nil
}

// Acknowledgments returns every recorded acknowledgment for messageID.
func (r *MemoryRepository) Acknowledgments(messageID string) []Acknowledgment {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Acknowledgment
	for _, a := range r.acks {
		if a.MessageID == messageID {
			out = append(out, a)
		}
	}
	return out
}

func (r *MemoryRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for id, m := range r.rows {
		if deleted >= int64(limit) {
			break
		}
		removable := m.Status.IsTerminal() || (m.Status == StatusFailed && m.LastRetryAt != nil)
		if removable && m.CreatedAt.Before(cutoff) {
			delete(r.rows, id)
			deleted++
		}
	}
	return deleted, nil
}

// All returns a snapshot of every row ordered by creation time.
func (r *MemoryRepository) All() []Message {
	return r.selectRows(0, func(*Message) bool { return true }, byCreatedAt)
}

func byCreatedAt(a, b *Message) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (r *MemoryRepository) selectRows(limit int, keep func(*Message) bool, less func(a, b *Message) bool) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := make([]*Message, 0)
	for _, m := range r.rows {
		if keep(m) {
			matched = append(matched, m)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return less(matched[i], matched[j]) })

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]Message, len(matched))
	for i, m := range matched {
		out[i] = *m
	}
	return out
}
