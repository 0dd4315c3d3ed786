package consumer

import (
	"context"
	"fmt"
	"sync"

	"herald/internal/constants"
	"herald/internal/logger"
	"herald/pkg/models"
)

// Handler runs business logic for one record. Returning false or an error
// marks the delivery failed.
type Handler interface {
	Handle(ctx context.Context, msg models.MessageEnvelope) (bool, error)
}

type HandlerFunc func(ctx context.Context, msg models.MessageEnvelope) (bool, error)

func (f HandlerFunc) Handle(ctx context.Context, msg models.MessageEnvelope) (bool, error) {
	return f(ctx, msg)
}

// HandlerRegistry maps topics to handlers, with a fallback for topics nobody
// registered.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	fallback Handler
}

func NewHandlerRegistry(fallback Handler) *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string]Handler),
		fallback: fallback,
	}
}

func (r *HandlerRegistry) Register(topic string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[topic] = h
}

func (r *HandlerRegistry) Lookup(topic string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if h, ok := r.handlers[topic]; ok {
		return h
	}
	return r.fallback
}

func (r *HandlerRegistry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topics := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		topics = append(topics, t)
	}
	return topics
}

// UnknownTopicHandler is the fallback for unregistered topics. Under the
// "skip" policy the record counts as processed; under "fail" it is
// failed back to the producer.
func UnknownTopicHandler(policy string, log logger.Logger) Handler {
	return HandlerFunc(func(ctx context.Context, msg models.MessageEnvelope) (bool, error) {
		if policy == constants.UnknownTopicSkip {
			log.WarnwCtx(ctx, "No handler for topic, skipping", "topic", msg.Topic)
			return true, nil
		}
		return false, fmt.Errorf("no handler registered for topic %s", msg.Topic)
	})
}

// LoggingHandler accepts every record and logs it.
func LoggingHandler(log logger.Logger) Handler {
	return HandlerFunc(func(ctx context.Context, msg models.MessageEnvelope) (bool, error) {
		log.InfowCtx(ctx, "Message handled",
			"topic", msg.Topic,
			"is_retry", msg.IsRetry,
			"retry_count", msg.RetryCount,
			"payload_bytes", len(msg.Content),
		)
		return true, nil
	})
}
