package consumer

import (
	"context"
	"errors"
	"time"

	"herald/internal/logger"
	pkgerrors "herald/pkg/errors"
	"herald/pkg/logging"
	"herald/pkg/metrics"
	"herald/pkg/models"
)

var errHandlerRejected = errors.New("handler reported failure")

// Service processes records for one consumer group on behalf of one service
// instance.
type Service struct {
	repo      Repository
	handlers  *HandlerRegistry
	acker     Acknowledger
	group     string
	serviceID string
	logger    logger.Logger
	now       func() time.Time
}

func NewService(repo Repository, handlers *HandlerRegistry, acker Acknowledger, group, serviceID string, log logger.Logger) *Service {
	return &Service{
		repo:      repo,
		handlers:  handlers,
		acker:     acker,
		group:     group,
		serviceID: serviceID,
		logger:    log.With("component", "consumer", "consumer_group", group),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Handle adapts Process to the broker reader. Only infrastructure errors are
// returned; the record is committed either way.
func (s *Service) Handle(ctx context.Context, msg models.MessageEnvelope) error {
	_, err := s.Process(ctx, msg)
	return err
}

// Process runs the handler for msg at most once per group. The processed
// marker is written only after the handler succeeded.
func (s *Service) Process(ctx context.Context, msg models.MessageEnvelope) (Outcome, error) {
	if err := models.ValidateMessageEnvelope(&msg); err != nil {
		s.logger.WarnwCtx(ctx, "Discarding malformed record", "topic", msg.Topic, "error", err)
		return s.count(OutcomeDiscarded), nil
	}

	ctx = logging.WithMessageID(ctx, msg.MessageID)
	ctx = logging.WithConsumerGroup(ctx, s.group)

	if msg.ConsumerGroup != s.group {
		return s.count(OutcomeSkipped), nil
	}
	if msg.IsTargeted() && msg.TargetConsumerServiceID != s.serviceID {
		s.logger.DebugwCtx(ctx, "Record targeted at another instance", "target", msg.TargetConsumerServiceID)
		return s.count(OutcomeSkipped), nil
	}

	done, err := s.repo.IsProcessed(ctx, msg.MessageID, msg.IdempotencyKey, s.group)
	if err != nil {
		// Without the dedup answer the handler must not run; the producer
		// will redeliver once the acknowledgment times out.
		s.logger.ErrorwCtx(ctx, "Dedup lookup failed", "error", err)
		return s.count(OutcomeFailed), err
	}
	if done {
		s.logger.InfowCtx(ctx, "Duplicate delivery, acknowledging without processing",
			"idempotency_key", msg.IdempotencyKey,
			"is_retry", msg.IsRetry,
		)
		s.ack(ctx, msg, true, "")
		return s.count(OutcomeDuplicate), nil
	}

	if handlerErr := s.runHandler(ctx, msg); handlerErr != nil {
		s.recordFailure(ctx, msg, handlerErr)
		s.ack(ctx, msg, false, handlerErr.Error())
		return s.count(OutcomeFailed), nil
	}

	inserted, err := s.repo.MarkProcessed(ctx, ProcessedMessage{
		MessageID:      msg.MessageID,
		ConsumerGroup:  s.group,
		IdempotencyKey: msg.IdempotencyKey,
		Topic:          msg.Topic,
		ProcessedAt:    s.now(),
	})
	if err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to record processed message", "error", err)
	} else if !inserted {
		s.logger.WarnwCtx(ctx, "Processed marker already present after handler ran")
	}

	s.ack(ctx, msg, true, "")
	return s.count(OutcomeProcessed), nil
}

func (s *Service) runHandler(ctx context.Context, msg models.MessageEnvelope) error {
	start := time.Now()
	defer func() {
		metrics.ObserveHandlerDuration(msg.Topic, time.Since(start))
	}()

	h := s.handlers.Lookup(msg.Topic)
	if h == nil {
		return errHandlerRejected
	}

	return pkgerrors.Safely(func() error {
		ok, err := h.Handle(ctx, msg)
		if err != nil {
			return err
		}
		if !ok {
			return errHandlerRejected
		}
		return nil
	})
}

func (s *Service) recordFailure(ctx context.Context, msg models.MessageEnvelope, cause error) {
	s.logger.WarnwCtx(ctx, "Handler failed", "error", cause, "retry_count", msg.RetryCount)

	err := s.repo.RecordFailure(ctx, FailedMessage{
		MessageID:      msg.MessageID,
		ConsumerGroup:  s.group,
		IdempotencyKey: msg.IdempotencyKey,
		Topic:          msg.Topic,
		ErrorMessage:   cause.Error(),
		LastFailedAt:   s.now(),
	})
	if err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to record failed message", "error", err)
	}
}

// ack is best-effort: an undelivered ack leaves the row to the producer's
// acknowledgment timeout.
func (s *Service) ack(ctx context.Context, msg models.MessageEnvelope, success bool, errMsg string) {
	if s.acker == nil {
		return
	}
	if err := s.acker.Acknowledge(ctx, msg.MessageID, s.group, success, errMsg); err != nil {
		s.logger.WarnwCtx(ctx, "Acknowledgment not delivered", "error", err, "success", success)
	}
}

func (s *Service) count(o Outcome) Outcome {
	metrics.IncConsumerOutcome(s.group, string(o))
	return o
}
