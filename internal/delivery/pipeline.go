// Package delivery publishes Pending outbox rows to the broker.
package delivery

import (
	"context"
	"errors"
	"time"

	"herald/internal/broker"
	"herald/internal/constants"
	"herald/internal/logger"
	"herald/internal/outbox"
	"herald/internal/subscription"
	"herald/pkg/circuitbreaker"
	"herald/pkg/logging"
	"herald/pkg/metrics"
)

// Pipeline runs one page of Pending rows per call to Run. Each row is
// published on its own so a failure only fails that row.
type Pipeline struct {
	repo      outbox.Repository
	groups    subscription.Repository
	producer  broker.Producer
	breaker   *circuitbreaker.Wrapper
	batchSize int
	logger    logger.Logger
	now       func() time.Time
}

type Option func(*Pipeline)

func WithBreaker(cb *circuitbreaker.Wrapper) Option {
	return func(p *Pipeline) {
		p.breaker = cb
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

func NewPipeline(repo outbox.Repository, groups subscription.Repository, producer broker.Producer, batchSize int, log logger.Logger, opts ...Option) *Pipeline {
	if batchSize <= 0 {
		batchSize = constants.DefaultDeliveryBatchSize
	}
	p := &Pipeline{
		repo:      repo,
		groups:    groups,
		producer:  producer,
		batchSize: batchSize,
		logger:    log.With("component", "delivery"),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run publishes up to one page of due Pending rows.
func (p *Pipeline) Run(ctx context.Context) error {
	rows, err := p.repo.SelectPending(ctx, p.now(), p.batchSize)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	ackPolicy := newAckPolicy(p.groups)

	var sent, failed, deferred int
loop:
	for i := range rows {
		if ctx.Err() != nil {
			break
		}
		switch p.deliver(ctx, &rows[i], ackPolicy) {
		case outcomeSent:
			sent++
		case outcomeFailed:
			failed++
		case outcomeDeferred:
			// The rest of the page would be rejected the same way.
			deferred = len(rows) - i
			break loop
		}
	}

	p.logger.Infow("Delivery run finished",
		"selected", len(rows),
		"sent", sent,
		"failed", failed,
		"deferred", deferred,
	)
	return nil
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeFailed
	// outcomeDeferred leaves the row Pending: nothing reached the broker, so
	// the attempt must not count against the group's retry budget.
	outcomeDeferred
)

func (p *Pipeline) deliver(ctx context.Context, msg *outbox.Message, ackPolicy *ackPolicy) outcome {
	ctx = logging.WithMessageID(ctx, msg.ID)
	ctx = logging.WithConsumerGroup(ctx, msg.ConsumerGroup)
	ctx = logging.WithTopic(ctx, msg.Topic)

	err := p.breaker.Do(ctx, func(ctx context.Context) error {
		return p.producer.Publish(ctx, msg.Topic, msg.Envelope())
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		metrics.IncPublished(msg.Topic, "deferred")
		p.logger.WarnwCtx(ctx, "Broker circuit open, leaving rows pending", "breaker", p.breaker.Name())
		return outcomeDeferred
	}
	if err != nil {
		metrics.IncPublished(msg.Topic, "error")
		p.logger.WarnwCtx(ctx, "Publish failed", "error", err)

		if ctx.Err() != nil {
			// Shutdown interrupted the write; leave the row Pending.
			return outcomeDeferred
		}
		if _, uerr := p.repo.UpdateStatus(ctx, msg.ID, outbox.StatusPending, outbox.StatusFailed, err.Error()); uerr != nil {
			p.logger.ErrorwCtx(ctx, "Failed to mark message failed", "error", uerr)
		}
		return outcomeFailed
	}
	metrics.IncPublished(msg.Topic, "ok")

	won, err := p.repo.UpdateStatus(ctx, msg.ID, outbox.StatusPending, outbox.StatusSent, "")
	if err != nil {
		p.logger.ErrorwCtx(ctx, "Failed to mark message sent", "error", err)
		return outcomeSent
	}
	if !won {
		// An acknowledgment got there first.
		p.logger.DebugwCtx(ctx, "Row moved before sent update")
		return outcomeSent
	}

	if !ackPolicy.requiresAck(ctx, msg.Topic, msg.ConsumerGroup) {
		// A failed auto-ack is settled by the redelivery sweep.
		if _, err := p.repo.UpdateStatus(ctx, msg.ID, outbox.StatusSent, outbox.StatusAcknowledged, ""); err != nil {
			p.logger.ErrorwCtx(ctx, "Failed to auto-acknowledge message", "error", err)
		}
	}
	return outcomeSent
}

// ackPolicy caches group settings for the duration of one run.
type ackPolicy struct {
	groups subscription.Repository
	cache  map[string]bool
}

func newAckPolicy(groups subscription.Repository) *ackPolicy {
	return &ackPolicy{groups: groups, cache: make(map[string]bool)}
}

// requiresAck defaults to true when the registration cannot be read, so the
// row stays under the retry orchestrator's watch.
func (a *ackPolicy) requiresAck(ctx context.Context, topic, group string) bool {
	key := topic + "\x00" + group
	if v, ok := a.cache[key]; ok {
		return v
	}

	v := true
	if g, err := a.groups.FindGroup(ctx, topic, group); err == nil {
		v = g.RequiresAcknowledgment
	}
	a.cache[key] = v
	return v
}
