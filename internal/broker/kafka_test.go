package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herald/internal/config"
	"herald/internal/constants"
	"herald/internal/logger"
	"herald/pkg/models"
)

func TestParseRequiredAcks(t *testing.T) {
	tests := []struct {
		raw     string
		want    kafka.RequiredAcks
		wantErr bool
	}{
		{raw: "", want: kafka.RequireAll},
		{raw: "all", want: kafka.RequireAll},
		{raw: "-1", want: kafka.RequireAll},
		{raw: "one", want: kafka.RequireOne},
		{raw: "0", want: kafka.RequireNone},
		{raw: "quorum", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseRequiredAcks(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewKafkaProducerDefaults(t *testing.T) {
	p, err := NewKafkaProducer(config.KafkaConfig{Brokers: []string{"localhost:9092"}}, logger.NopLogger())
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, kafka.RequireAll, p.writer.RequiredAcks)
	assert.Equal(t, constants.KafkaMaxAttempts, p.writer.MaxAttempts)
	assert.IsType(t, &kafka.Hash{}, p.writer.Balancer)
	assert.False(t, p.writer.Async)
}

func TestFactoryRejectsUnknownBroker(t *testing.T) {
	_, err := NewProducer(config.BrokerConfig{Type: "rabbitmq"}, logger.NopLogger())
	assert.Error(t, err)

	_, err = NewConsumer(config.BrokerConfig{Type: "rabbitmq"}, logger.NopLogger())
	assert.Error(t, err)
}

func TestHandleRecordRecoversPanics(t *testing.T) {
	c := NewKafkaConsumer(config.KafkaConfig{}, logger.NopLogger())

	called := false
	assert.NotPanics(t, func() {
		c.handleRecord(context.Background(), kafka.Message{Value: []byte(`{"messageId":"m1"}`)}, "orders",
			func(ctx context.Context, msg models.MessageEnvelope) error {
				called = true
				panic("boom")
			})
	})
	assert.True(t, called)
}

func TestHandleRecordSkipsUndecodable(t *testing.T) {
	c := NewKafkaConsumer(config.KafkaConfig{}, logger.NopLogger())

	c.handleRecord(context.Background(), kafka.Message{Value: []byte("not json")}, "orders",
		func(ctx context.Context, msg models.MessageEnvelope) error {
			t.Fatal("handler must not run for undecodable records")
			return nil
		})
}

func TestMemoryProducer(t *testing.T) {
	p := NewMemoryProducer()
	p.FailWith(func(env models.MessageEnvelope) error {
		if env.ConsumerGroup == "audit" {
			return errors.New("partition offline")
		}
		return nil
	})

	require.NoError(t, p.Publish(context.Background(), "orders", models.MessageEnvelope{MessageID: "a", ConsumerGroup: "billing"}))
	assert.Error(t, p.Publish(context.Background(), "orders", models.MessageEnvelope{MessageID: "b", ConsumerGroup: "audit"}))

	drained := p.Drain()
	require.Len(t, drained, 1)
	assert.Equal(t, "a", drained[0].Envelope.MessageID)
	assert.Empty(t, p.Published())
}
