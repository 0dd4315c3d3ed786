package outbox

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"herald/pkg/models"
)

type Status string

const (
	StatusPending      Status = "Pending"
	StatusSent         Status = "Sent"
	StatusAcknowledged Status = "Acknowledged"
	StatusFailed       Status = "Failed"
	StatusExpired      Status = "Expired"
)

var AllStatuses = []Status{StatusPending, StatusSent, StatusAcknowledged, StatusFailed, StatusExpired}

var ErrIllegalTransition = errors.New("illegal status transition")

// transitions lists every permitted from -> to move. A retry never moves a
// row back to Pending; it inserts a new row instead.
var transitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusSent:         true,
		StatusAcknowledged: true,
		StatusFailed:       true,
		StatusExpired:      true,
	},
	StatusSent: {
		StatusAcknowledged: true,
		StatusFailed:       true,
		StatusExpired:      true,
	},
	StatusFailed: {
		StatusExpired: true,
	},
}

func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

func (s Status) IsTerminal() bool {
	return s == StatusAcknowledged || s == StatusExpired
}

func (s Status) Valid() bool {
	for _, st := range AllStatuses {
		if s == st {
			return true
		}
	}
	return false
}

func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return s, nil
}

// Message is one outbox row: one logical event addressed to one consumer group.
type Message struct {
	ID                      string     `json:"id"`
	Topic                   string     `json:"topic"`
	Payload                 string     `json:"payload"`
	ConsumerGroup           string     `json:"consumer_group"`
	Status                  Status     `json:"status"`
	CreatedAt               time.Time  `json:"created_at"`
	ProcessedAt             *time.Time `json:"processed_at,omitempty"`
	RetryCount              int        `json:"retry_count"`
	LastRetryAt             *time.Time `json:"last_retry_at,omitempty"`
	ScheduledRetryAt        *time.Time `json:"scheduled_retry_at,omitempty"`
	IsRetry                 bool       `json:"is_retry"`
	OriginalMessageID       string     `json:"original_message_id,omitempty"`
	TargetConsumerServiceID string     `json:"target_consumer_service_id,omitempty"`
	IdempotencyKey          string     `json:"idempotency_key"`
	ProducerServiceID       string     `json:"producer_service_id"`
	ProducerInstanceID      string     `json:"producer_instance_id"`
	ErrorMessage            string     `json:"error_message,omitempty"`
}

// Producer identifies the process that creates outbox rows.
type Producer struct {
	ServiceID  string
	InstanceID string
}

// NewMessage builds a Pending row with a fresh id.
func NewMessage(topic, payload, group, idempotencyKey string, producer Producer, now time.Time) *Message {
	return &Message{
		ID:                 uuid.NewString(),
		Topic:              topic,
		Payload:            payload,
		ConsumerGroup:      group,
		Status:             StatusPending,
		CreatedAt:          now,
		IdempotencyKey:     idempotencyKey,
		ProducerServiceID:  producer.ServiceID,
		ProducerInstanceID: producer.InstanceID,
	}
}

// IsSuperseded reports whether a retry row has already been spawned from m.
func (m *Message) IsSuperseded() bool {
	return m.LastRetryAt != nil
}

// NewRetry derives the next attempt of m. The retry shares the idempotency
// key so consumers still deduplicate it.
func (m *Message) NewRetry(target string, scheduledAt, now time.Time, producer Producer) *Message {
	retry := NewMessage(m.Topic, m.Payload, m.ConsumerGroup, m.IdempotencyKey, producer, now)
	retry.IsRetry = true
	retry.OriginalMessageID = m.ID
	retry.RetryCount = m.RetryCount + 1
	retry.TargetConsumerServiceID = target
	if scheduledAt.After(now) {
		retry.ScheduledRetryAt = &scheduledAt
	}
	return retry
}

// Envelope is the Kafka record value for m.
func (m *Message) Envelope() models.MessageEnvelope {
	b := models.NewMessageEnvelopeBuilder().
		WithID(m.ID).
		WithTopic(m.Topic).
		WithContent(m.Payload).
		WithConsumerGroup(m.ConsumerGroup).
		WithProducer(m.ProducerServiceID, m.ProducerInstanceID).
		WithIdempotencyKey(m.IdempotencyKey).
		WithTarget(m.TargetConsumerServiceID).
		WithCreatedAt(m.CreatedAt)
	if m.IsRetry {
		b.AsRetry(m.OriginalMessageID, m.RetryCount)
	}
	return b.Build()
}

// Acknowledgment records a consumer group's verdict on one message.
type Acknowledgment struct {
	MessageID      string    `json:"message_id"`
	RegistrationID string    `json:"consumer_group_registration_id"`
	Success        bool      `json:"success"`
	AcknowledgedAt time.Time `json:"acknowledged_at"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

type AcknowledgeRequest struct {
	MessageID     string `json:"-"`
	ConsumerGroup string `json:"consumer_group" binding:"required"`
	Success       bool   `json:"success"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

type AcknowledgeResponse struct {
	MessageID string `json:"message_id"`
	Status    Status `json:"status"`
}

// EnqueueRequest is one application event submitted for delivery.
type EnqueueRequest struct {
	Topic          string `json:"topic" binding:"required"`
	Payload        string `json:"payload" binding:"required"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// EnqueueResult describes the rows created for one request. MessageID is the
// correlation id assigned at submission.
type EnqueueResult struct {
	MessageID    string    `json:"message_id"`
	Status       Status    `json:"status"`
	TargetGroups []string  `json:"target_groups"`
	Messages     []Message `json:"messages"`
}

type Stats struct {
	Counts map[Status]int64 `json:"counts"`
	Total  int64            `json:"total"`
}
