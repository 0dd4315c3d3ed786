package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetLogFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetLogFields(ctx))

	ctx = WithMessageID(ctx, "m-1")
	ctx = WithConsumerGroup(ctx, "billing")
	ctx = WithServiceName(ctx, "consumer-service")

	fields := GetLogFields(ctx)
	assert.Equal(t, []interface{}{
		"message_id", "m-1",
		"consumer_group", "billing",
		"service_name", "consumer-service",
	}, fields)
}

func TestContextKeysDoNotCollideWithStrings(t *testing.T) {
	ctx := context.WithValue(context.Background(), "message_id", "plain")
	assert.Equal(t, "", GetMessageID(ctx))
}
