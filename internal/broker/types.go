package broker

import (
	"context"

	"herald/pkg/models"
)

type Producer interface {
	Publish(ctx context.Context, topic string, msg models.MessageEnvelope) error
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

// HandlerFunc processes one decoded record. The record is committed whatever
// it returns; redelivery is driven by the producer's outbox, not by Kafka.
type HandlerFunc func(ctx context.Context, msg models.MessageEnvelope) error
