package models

import "time"

// MessageEnvelope is the record value published to Kafka for one outbox row.
// The Kafka key is MessageID.
type MessageEnvelope struct {
	MessageID               string    `json:"messageId"`
	Topic                   string    `json:"topic"`
	Content                 string    `json:"content"`
	ConsumerGroup           string    `json:"consumerGroup"`
	ProducerServiceID       string    `json:"producerServiceId"`
	ProducerInstanceID      string    `json:"producerInstanceId"`
	IsRetry                 bool      `json:"isRetry"`
	TargetConsumerServiceID string    `json:"targetConsumerServiceId,omitempty"`
	OriginalMessageID       string    `json:"originalMessageId,omitempty"`
	IdempotencyKey          string    `json:"idempotencyKey"`
	RetryCount              int       `json:"retryCount"`
	CreatedAt               time.Time `json:"createdAt"`
}

// IsTargeted reports whether only one consumer instance should act on it.
func (e *MessageEnvelope) IsTargeted() bool {
	return e.TargetConsumerServiceID != ""
}
