package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herald/internal/config"
	"herald/internal/logger"
)

func testAckConfig(url string) config.AckConfig {
	return config.AckConfig{
		ProducerURL: url + "/",
		Timeout:     time.Second,
		Retry: config.RetryConfig{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			Multiplier:      1,
			MaxElapsedTime:  time.Second,
		},
	}
}

func TestAckClientPostsVerdict(t *testing.T) {
	var got ackRequest
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewAckClient(testAckConfig(srv.URL), nil, logger.NopLogger())
	err := client.Acknowledge(context.Background(), "m-1", "billing", false, "db constraint")
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/messages/m-1/acknowledge", path)
	assert.Equal(t, ackRequest{ConsumerGroup: "billing", Success: false, ErrorMessage: "db constraint"}, got)
}

func TestAckClientRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewAckClient(testAckConfig(srv.URL), nil, logger.NopLogger())
	require.NoError(t, client.Acknowledge(context.Background(), "m-1", "billing", true, ""))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestAckClientDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error_code":"NOT_FOUND"}`))
	}))
	defer srv.Close()

	client := NewAckClient(testAckConfig(srv.URL), nil, logger.NopLogger())
	err := client.Acknowledge(context.Background(), "missing", "billing", true, "")
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Contains(t, se.Body, "NOT_FOUND")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestAckClientGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewAckClient(testAckConfig(srv.URL), nil, logger.NopLogger())
	err := client.Acknowledge(context.Background(), "m-1", "billing", true, "")
	assert.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}
