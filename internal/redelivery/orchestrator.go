// Package redelivery turns failed and unacknowledged outbox rows into retry
// rows, or expires them once their group's retry budget is spent.
package redelivery

import (
	"context"
	"errors"
	"time"

	"herald/internal/constants"
	"herald/internal/logger"
	"herald/internal/outbox"
	"herald/internal/registry"
	"herald/internal/subscription"
	"herald/pkg/logging"
	"herald/pkg/metrics"
	"herald/pkg/retry"
)

const ackTimeoutReason = "acknowledgment timeout"

// AgentLocator finds a live consumer instance for targeted retries.
type AgentLocator interface {
	FindHealthyAgentForGroup(ctx context.Context, topic, group string) (*registry.Agent, error)
}

type Orchestrator struct {
	repo      outbox.Repository
	groups    subscription.Repository
	locator   AgentLocator
	schedule  retry.Schedule
	producer  outbox.Producer
	batchSize int
	logger    logger.Logger
	now       func() time.Time
}

type Option func(*Orchestrator)

// WithLocator enables targeted retries.
func WithLocator(l AgentLocator) Option {
	return func(o *Orchestrator) {
		o.locator = l
	}
}

func WithSchedule(s retry.Schedule) Option {
	return func(o *Orchestrator) {
		o.schedule = s
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

func NewOrchestrator(repo outbox.Repository, groups subscription.Repository, producer outbox.Producer, batchSize int, log logger.Logger, opts ...Option) *Orchestrator {
	if batchSize <= 0 {
		batchSize = constants.DefaultRetryBatchSize
	}
	o := &Orchestrator{
		repo:      repo,
		groups:    groups,
		producer:  producer,
		batchSize: batchSize,
		logger:    log.With("component", "redelivery"),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run sweeps every active group once. A failing group does not stop the
// others; their errors are joined.
func (o *Orchestrator) Run(ctx context.Context) error {
	groups, err := o.groups.ActiveGroups(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, g := range groups {
		if ctx.Err() != nil {
			break
		}
		gctx := logging.WithConsumerGroup(logging.WithTopic(ctx, g.Topic), g.GroupName)
		if err := o.sweepGroup(gctx, g); err != nil {
			o.logger.ErrorwCtx(gctx, "Retry sweep failed for group", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) sweepGroup(ctx context.Context, g subscription.Group) error {
	if g.RequiresAcknowledgment {
		if err := o.failStale(ctx, g); err != nil {
			return err
		}
	} else if err := o.settleUnacknowledged(ctx, g); err != nil {
		return err
	}

	candidates, err := o.repo.SelectRetryCandidates(ctx, g.Topic, g.GroupName, o.batchSize)
	if err != nil {
		return err
	}

	for i := range candidates {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.handleFailed(ctx, g, &candidates[i])
	}
	return nil
}

// failStale presumes acknowledgments lost for rows Sent longer than the
// group's timeout. They then take the same path as explicit failures.
func (o *Orchestrator) failStale(ctx context.Context, g subscription.Group) error {
	cutoff := o.now().Add(-g.AckTimeout())

	stale, err := o.repo.SelectStaleUnacknowledged(ctx, g.Topic, g.GroupName, cutoff, o.batchSize)
	if err != nil {
		return err
	}

	for _, m := range stale {
		won, err := o.repo.UpdateStatus(ctx, m.ID, outbox.StatusSent, outbox.StatusFailed, ackTimeoutReason)
		if err != nil {
			o.logger.ErrorwCtx(ctx, "Failed to time out unacknowledged message", "message_id", m.ID, "error", err)
			continue
		}
		if won {
			metrics.IncAckTimeout(g.GroupName)
			o.logger.WarnwCtx(ctx, "Acknowledgment timed out", "message_id", m.ID, "sent_at", m.ProcessedAt)
		}
	}
	return nil
}

// settleUnacknowledged finishes the auto-acknowledgment of fire-and-forget
// rows whose Sent→Acknowledged update was lost after publishing.
func (o *Orchestrator) settleUnacknowledged(ctx context.Context, g subscription.Group) error {
	sent, err := o.repo.SelectStaleUnacknowledged(ctx, g.Topic, g.GroupName, o.now(), o.batchSize)
	if err != nil {
		return err
	}

	for _, m := range sent {
		won, err := o.repo.UpdateStatus(ctx, m.ID, outbox.StatusSent, outbox.StatusAcknowledged, "")
		if err != nil {
			o.logger.ErrorwCtx(ctx, "Failed to settle fire-and-forget message", "message_id", m.ID, "error", err)
			continue
		}
		if won {
			o.logger.InfowCtx(ctx, "Settled fire-and-forget message left Sent", "message_id", m.ID)
		}
	}
	return nil
}

func (o *Orchestrator) handleFailed(ctx context.Context, g subscription.Group, m *outbox.Message) {
	ctx = logging.WithMessageID(ctx, m.ID)

	if g.RetriesExhausted(m.RetryCount) {
		won, err := o.repo.UpdateStatus(ctx, m.ID, outbox.StatusFailed, outbox.StatusExpired, "")
		if err != nil {
			o.logger.ErrorwCtx(ctx, "Failed to expire message", "error", err)
			return
		}
		if won {
			metrics.IncExpired(g.GroupName)
			o.logger.WarnwCtx(ctx, "Message expired after exhausting retries",
				"retry_count", m.RetryCount,
				"max_retries", g.MaxRetries,
				"last_error", m.ErrorMessage,
			)
		}
		return
	}

	now := o.now()
	target := o.pickTarget(ctx, g, m)
	next := m.NewRetry(target, o.schedule.Next(now, m.RetryCount), now, o.producer)

	spawned, err := o.repo.SpawnRetry(ctx, m.ID, next)
	if err != nil {
		o.logger.ErrorwCtx(ctx, "Failed to spawn retry", "error", err)
		return
	}
	if !spawned {
		return
	}

	metrics.IncRetrySpawned(g.GroupName, target != "")
	o.logger.InfowCtx(ctx, "Retry scheduled",
		"retry_id", next.ID,
		"retry_count", next.RetryCount,
		"target", target,
		"scheduled_at", next.ScheduledRetryAt,
	)
}

// pickTarget steers a retry to a healthy agent of the group. A targeted
// attempt that failed falls back to broadcast so a wedged instance cannot
// hold the row forever.
func (o *Orchestrator) pickTarget(ctx context.Context, g subscription.Group, m *outbox.Message) string {
	if o.locator == nil || m.TargetConsumerServiceID != "" {
		return ""
	}

	agent, err := o.locator.FindHealthyAgentForGroup(ctx, g.Topic, g.GroupName)
	if err != nil {
		o.logger.WarnwCtx(ctx, "Agent lookup failed, retrying as broadcast", "error", err)
		return ""
	}
	if agent == nil {
		return ""
	}
	return agent.ServiceID
}
