package outbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"herald/internal/logger"
	"herald/internal/subscription"
	pkgerrors "herald/pkg/errors"
	"herald/pkg/metrics"
)

func (r EnqueueRequest) Validate() error {
	if strings.TrimSpace(r.Topic) == "" {
		return pkgerrors.ErrValidation.WithMessage("topic is required")
	}
	if r.Payload == "" {
		return pkgerrors.ErrValidation.WithMessage("payload is required")
	}
	return nil
}

// FanOut builds one Pending row per group for the event identified by
// correlationID. The idempotency key defaults to the correlation id so every
// row of the event, and every later retry, deduplicates together.
func FanOut(correlationID string, req EnqueueRequest, groups []subscription.Group, producer Producer, now time.Time) []*Message {
	key := req.IdempotencyKey
	if key == "" {
		key = correlationID
	}

	rows := make([]*Message, 0, len(groups))
	for _, g := range groups {
		rows = append(rows, NewMessage(req.Topic, req.Payload, g.GroupName, key, producer, now))
	}
	return rows
}

// NewEnqueueResult describes rows that were all persisted.
func NewEnqueueResult(correlationID string, rows []*Message) *EnqueueResult {
	res := &EnqueueResult{
		MessageID:    correlationID,
		Status:       StatusPending,
		TargetGroups: make([]string, 0, len(rows)),
		Messages:     make([]Message, 0, len(rows)),
	}
	for _, m := range rows {
		res.TargetGroups = append(res.TargetGroups, m.ConsumerGroup)
		res.Messages = append(res.Messages, *m)
	}
	return res
}

// NoGroupsError is returned for topics without an active consumer group.
func NoGroupsError(topic string) error {
	return pkgerrors.ErrNoConsumerGroups.
		WithMessage(fmt.Sprintf("no active consumer groups registered for topic %s", topic)).
		WithDetail("topic", topic)
}

// DirectEnqueuer writes each request in its own insert, bypassing the
// batching queue.
type DirectEnqueuer struct {
	repo     Repository
	groups   subscription.Repository
	producer Producer
	logger   logger.Logger
}

func NewDirectEnqueuer(repo Repository, groups subscription.Repository, producer Producer, log logger.Logger) *DirectEnqueuer {
	return &DirectEnqueuer{
		repo:     repo,
		groups:   groups,
		producer: producer,
		logger:   log.With("component", "direct_enqueuer"),
	}
}

func (d *DirectEnqueuer) Enqueue(ctx context.Context, req EnqueueRequest) (*EnqueueResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	groups, err := d.groups.ActiveGroupsForTopic(ctx, req.Topic)
	if err != nil {
		return nil, pkgerrors.ErrInternal.WithCause(err)
	}
	if len(groups) == 0 {
		return nil, NoGroupsError(req.Topic)
	}

	correlationID := uuid.NewString()
	rows := FanOut(correlationID, req, groups, d.producer, time.Now().UTC())

	ids, err := d.repo.InsertBatch(ctx, rows)
	if err != nil {
		return nil, pkgerrors.ErrInternal.WithCause(err)
	}
	if len(ids) != len(rows) {
		return nil, pkgerrors.ErrInternal.WithMessage(
			fmt.Sprintf("persisted %d of %d outbox rows", len(ids), len(rows)))
	}

	metrics.IncEnqueued(req.Topic, len(rows))
	d.logger.InfowCtx(ctx, "Message enqueued", "message_id", correlationID, "topic", req.Topic, "groups", len(rows))
	return NewEnqueueResult(correlationID, rows), nil
}
