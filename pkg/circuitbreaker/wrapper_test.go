package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herald/internal/config"
)

func TestWrapperTripsAfterFailures(t *testing.T) {
	cfg := DefaultConfig("test-trip")
	cfg.MinRequests = 2
	cfg.Timeout = time.Hour
	w := NewWrapper(cfg)

	boom := errors.New("broker down")
	for i := 0; i < 2; i++ {
		err := w.Do(context.Background(), func(context.Context) error { return boom })
		assert.ErrorIs(t, err, boom)
	}

	require.True(t, w.IsOpen())

	called := false
	err := w.Do(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestWrapperIgnoresCancellation(t *testing.T) {
	cfg := DefaultConfig("test-cancel")
	cfg.MinRequests = 1
	w := NewWrapper(cfg)

	for i := 0; i < 3; i++ {
		_ = w.Do(context.Background(), func(context.Context) error { return context.Canceled })
	}
	assert.False(t, w.IsOpen())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.Do(ctx, func(context.Context) error { return nil }), context.Canceled)
}

func TestFromConfigDisabledPassesThrough(t *testing.T) {
	w := FromConfig("kafka-publish", config.CircuitBreakerConfig{Enabled: false})
	assert.Nil(t, w)

	called := false
	require.NoError(t, w.Do(context.Background(), func(context.Context) error {
		called = true
		return nil
	}))
	assert.True(t, called)
	assert.False(t, w.IsOpen())
	assert.Equal(t, "disabled", w.Name())
}

func TestFromConfigOverrides(t *testing.T) {
	w := FromConfig("from-config", config.CircuitBreakerConfig{
		Enabled: true, MinRequests: 1, FailureRatio: 1, Timeout: time.Hour,
	})
	require.NotNil(t, w)

	_ = w.Do(context.Background(), func(context.Context) error { return errors.New("down") })
	assert.True(t, w.IsOpen())
}
