package outbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		allowed  bool
	}{
		{StatusPending, StatusSent, true},
		{StatusPending, StatusAcknowledged, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusExpired, true},
		{StatusSent, StatusAcknowledged, true},
		{StatusSent, StatusFailed, true},
		{StatusSent, StatusExpired, true},
		{StatusFailed, StatusExpired, true},
		{StatusFailed, StatusPending, false},
		{StatusFailed, StatusSent, false},
		{StatusSent, StatusPending, false},
		{StatusAcknowledged, StatusFailed, false},
		{StatusAcknowledged, StatusExpired, false},
		{StatusExpired, StatusPending, false},
		{StatusExpired, StatusAcknowledged, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range AllStatuses {
		terminal := s == StatusAcknowledged || s == StatusExpired
		assert.Equal(t, terminal, s.IsTerminal(), s)
		if terminal {
			for _, to := range AllStatuses {
				assert.False(t, CanTransition(s, to), "%s must not move to %s", s, to)
			}
		}
	}
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("Expired")
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, s)

	_, err = ParseStatus("expired")
	assert.Error(t, err)
}

func TestNewRetry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	producer := Producer{ServiceID: "orders", InstanceID: "pod-2"}

	failed := NewMessage("orders", "{}", "billing", "key-1", Producer{ServiceID: "orders", InstanceID: "pod-1"}, now)
	failed.Status = StatusFailed
	failed.RetryCount = 2

	retry := failed.NewRetry("billing-1", now.Add(time.Minute), now, producer)
	assert.NotEqual(t, failed.ID, retry.ID)
	assert.True(t, retry.IsRetry)
	assert.Equal(t, failed.ID, retry.OriginalMessageID)
	assert.Equal(t, "key-1", retry.IdempotencyKey)
	assert.Equal(t, 3, retry.RetryCount)
	assert.Equal(t, StatusPending, retry.Status)
	assert.Equal(t, "billing-1", retry.TargetConsumerServiceID)
	assert.Equal(t, "pod-2", retry.ProducerInstanceID)
	require.NotNil(t, retry.ScheduledRetryAt)
	assert.Equal(t, now.Add(time.Minute), *retry.ScheduledRetryAt)

	immediate := failed.NewRetry("", now, now, producer)
	assert.Nil(t, immediate.ScheduledRetryAt)
}

func TestEnvelope(t *testing.T) {
	now := time.Now().UTC()
	m := NewMessage("orders", `{"id":7}`, "billing", "key-1", Producer{ServiceID: "orders", InstanceID: "pod-1"}, now)
	retry := m.NewRetry("billing-1", now, now, Producer{ServiceID: "orders", InstanceID: "pod-1"})

	env := retry.Envelope()
	assert.Equal(t, retry.ID, env.MessageID)
	assert.Equal(t, "orders", env.Topic)
	assert.Equal(t, `{"id":7}`, env.Content)
	assert.Equal(t, "billing", env.ConsumerGroup)
	assert.True(t, env.IsRetry)
	assert.Equal(t, m.ID, env.OriginalMessageID)
	assert.Equal(t, "billing-1", env.TargetConsumerServiceID)
	assert.Equal(t, "key-1", env.IdempotencyKey)
	assert.Equal(t, 1, env.RetryCount)

	plain := m.Envelope()
	assert.False(t, plain.IsRetry)
	assert.Empty(t, plain.OriginalMessageID)
}
