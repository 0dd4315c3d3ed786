package outbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"herald/internal/constants"
	"herald/internal/logger"
	"herald/internal/subscription"
	pkgerrors "herald/pkg/errors"
	"herald/pkg/logging"
	"herald/pkg/metrics"
)

// Service is the producer-side read and acknowledgment surface of the outbox.
type Service interface {
	Acknowledge(ctx context.Context, req AcknowledgeRequest) (*AcknowledgeResponse, error)
	Get(ctx context.Context, id string) (*Message, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]Message, error)
	Stats(ctx context.Context) (*Stats, error)
}

type service struct {
	repo   Repository
	groups subscription.Repository
	logger logger.Logger
	now    func() time.Time
}

type ServiceOption func(*service)

func WithClock(now func() time.Time) ServiceOption {
	return func(s *service) {
		s.now = now
	}
}

func NewService(repo Repository, groups subscription.Repository, log logger.Logger, opts ...ServiceOption) Service {
	s := &service{
		repo:   repo,
		groups: groups,
		logger: log.With("component", "outbox"),
		now:    func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Acknowledge applies a consumer group's verdict. It is idempotent: terminal
// and already-failed rows are left untouched and their current status is
// returned, so a late ack for a superseded row is a no-op.
func (s *service) Acknowledge(ctx context.Context, req AcknowledgeRequest) (*AcknowledgeResponse, error) {
	if strings.TrimSpace(req.MessageID) == "" || strings.TrimSpace(req.ConsumerGroup) == "" {
		return nil, pkgerrors.ErrValidation.WithMessage("message id and consumer group are required")
	}

	ctx = logging.WithMessageID(ctx, req.MessageID)
	ctx = logging.WithConsumerGroup(ctx, req.ConsumerGroup)

	msg, err := s.repo.Get(ctx, req.MessageID)
	if err != nil {
		return nil, err
	}

	if msg.ConsumerGroup != req.ConsumerGroup {
		return nil, pkgerrors.ErrNotFound.WithMessage(
			fmt.Sprintf("message %s is not addressed to consumer group %s", req.MessageID, req.ConsumerGroup))
	}

	if msg.Status.IsTerminal() || msg.Status == StatusFailed {
		s.logger.DebugwCtx(ctx, "Ignoring acknowledgment for settled message", "status", msg.Status, "success", req.Success)
		return &AcknowledgeResponse{MessageID: msg.ID, Status: msg.Status}, nil
	}

	s.recordAcknowledgment(ctx, msg, req)
	metrics.IncAcknowledgment(req.ConsumerGroup, req.Success)

	target := StatusAcknowledged
	if !req.Success {
		target = StatusFailed
	}

	// The ack can overtake the delivery pipeline's Pending -> Sent update.
	for _, from := range []Status{StatusSent, StatusPending} {
		won, err := s.repo.UpdateStatus(ctx, msg.ID, from, target, req.ErrorMessage)
		if err != nil {
			return nil, err
		}
		if won {
			s.logger.InfowCtx(ctx, "Acknowledgment applied", "from", from, "to", target)
			return &AcknowledgeResponse{MessageID: msg.ID, Status: target}, nil
		}
	}

	current, err := s.repo.Get(ctx, msg.ID)
	if err != nil {
		return nil, err
	}
	s.logger.InfowCtx(ctx, "Acknowledgment lost race, row already moved", "status", current.Status)
	return &AcknowledgeResponse{MessageID: current.ID, Status: current.Status}, nil
}

func (s *service) recordAcknowledgment(ctx context.Context, msg *Message, req AcknowledgeRequest) {
	group, err := s.groups.FindGroup(ctx, msg.Topic, msg.ConsumerGroup)
	if err != nil {
		s.logger.WarnwCtx(ctx, "Cannot record acknowledgment, group registration missing", "topic", msg.Topic, "error", err)
		return
	}

	err = s.repo.RecordAcknowledgment(ctx, Acknowledgment{
		MessageID:      msg.ID,
		RegistrationID: group.ID,
		Success:        req.Success,
		AcknowledgedAt: s.now(),
		ErrorMessage:   req.ErrorMessage,
	})
	if err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to record acknowledgment", "error", err)
	}
}

func (s *service) Get(ctx context.Context, id string) (*Message, error) {
	return s.repo.Get(ctx, id)
}

func (s *service) ListByStatus(ctx context.Context, status Status, limit int) ([]Message, error) {
	if !status.Valid() {
		return nil, pkgerrors.ErrValidation.WithMessage(fmt.Sprintf("unknown status %q", status))
	}
	return s.repo.ListByStatus(ctx, status, clampLimit(limit))
}

func (s *service) Stats(ctx context.Context) (*Stats, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{Counts: counts}
	for status, n := range counts {
		stats.Total += n
		metrics.SetStatusCount(string(status), n)
	}
	return stats, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return constants.DefaultLimit
	}
	if limit > constants.MaxLimit {
		return constants.MaxLimit
	}
	return limit
}
