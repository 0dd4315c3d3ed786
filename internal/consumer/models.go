// Package consumer implements the receiving side: deduplicated dispatch of
// broker records to topic handlers, with acknowledgments back to the producer.
package consumer

import "time"

// ProcessedMessage marks a (message, group) pair whose handler succeeded.
// Its existence is the dedup signal.
type ProcessedMessage struct {
	MessageID      string    `json:"message_id"`
	ConsumerGroup  string    `json:"consumer_group"`
	IdempotencyKey string    `json:"idempotency_key"`
	Topic          string    `json:"topic"`
	ProcessedAt    time.Time `json:"processed_at"`
}

// FailedMessage counts local failures of one delivered copy.
type FailedMessage struct {
	MessageID      string    `json:"message_id"`
	ConsumerGroup  string    `json:"consumer_group"`
	IdempotencyKey string    `json:"idempotency_key"`
	Topic          string    `json:"topic"`
	RetryCount     int       `json:"retry_count"`
	ErrorMessage   string    `json:"error_message"`
	FirstFailedAt  time.Time `json:"first_failed_at"`
	LastFailedAt   time.Time `json:"last_failed_at"`
}

// Outcome labels what Handle did with a record.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeDiscarded Outcome = "discarded"
)
