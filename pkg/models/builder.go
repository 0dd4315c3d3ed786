package models

import "time"

type MessageEnvelopeBuilder struct {
	envelope *MessageEnvelope
}

func NewMessageEnvelopeBuilder() *MessageEnvelopeBuilder {
	return &MessageEnvelopeBuilder{
		envelope: &MessageEnvelope{},
	}
}

func (b *MessageEnvelopeBuilder) WithID(id string) *MessageEnvelopeBuilder {
	b.envelope.MessageID = id
	return b
}

func (b *MessageEnvelopeBuilder) WithTopic(topic string) *MessageEnvelopeBuilder {
	b.envelope.Topic = topic
	return b
}

func (b *MessageEnvelopeBuilder) WithContent(content string) *MessageEnvelopeBuilder {
	b.envelope.Content = content
	return b
}

func (b *MessageEnvelopeBuilder) WithConsumerGroup(group string) *MessageEnvelopeBuilder {
	b.envelope.ConsumerGroup = group
	return b
}

func (b *MessageEnvelopeBuilder) WithProducer(serviceID, instanceID string) *MessageEnvelopeBuilder {
	b.envelope.ProducerServiceID = serviceID
	b.envelope.ProducerInstanceID = instanceID
	return b
}

func (b *MessageEnvelopeBuilder) WithIdempotencyKey(key string) *MessageEnvelopeBuilder {
	b.envelope.IdempotencyKey = key
	return b
}

// AsRetry marks the envelope as a re-delivery of originalID.
func (b *MessageEnvelopeBuilder) AsRetry(originalID string, retryCount int) *MessageEnvelopeBuilder {
	b.envelope.IsRetry = true
	b.envelope.OriginalMessageID = originalID
	b.envelope.RetryCount = retryCount
	return b
}

func (b *MessageEnvelopeBuilder) WithTarget(serviceID string) *MessageEnvelopeBuilder {
	b.envelope.TargetConsumerServiceID = serviceID
	return b
}

func (b *MessageEnvelopeBuilder) WithCreatedAt(createdAt time.Time) *MessageEnvelopeBuilder {
	b.envelope.CreatedAt = createdAt
	return b
}

func (b *MessageEnvelopeBuilder) Build() MessageEnvelope {
	if b.envelope.CreatedAt.IsZero() {
		b.envelope.CreatedAt = time.Now().UTC()
	}
	if b.envelope.IdempotencyKey == "" {
		b.envelope.IdempotencyKey = b.envelope.MessageID
	}
	return *b.envelope
}
