package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"herald/internal/config"
	"herald/internal/constants"
	"herald/internal/logger"
	"herald/pkg/circuitbreaker"
	"herald/pkg/metrics"
	"herald/pkg/retry"
)

// Acknowledger reports a processing verdict back to the producer.
type Acknowledger interface {
	Acknowledge(ctx context.Context, messageID, group string, success bool, errMsg string) error
}

type ackRequest struct {
	ConsumerGroup string `json:"consumer_group"`
	Success       bool   `json:"success"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// StatusError is a non-2xx answer from the producer.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("acknowledge returned status %d: %s", e.Code, e.Body)
}

// AckClient calls the producer's acknowledge endpoint with bounded retries
// behind a circuit breaker. 4xx answers are not retried.
type AckClient struct {
	baseURL string
	client  *http.Client
	policy  retry.Policy
	breaker *circuitbreaker.Wrapper
	logger  logger.Logger
}

func NewAckClient(cfg config.AckConfig, breaker *circuitbreaker.Wrapper, log logger.Logger) *AckClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeout
	}

	policy := retry.DefaultPolicy()
	if cfg.Retry.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.Retry.MaxAttempts
	}
	if cfg.Retry.InitialInterval > 0 {
		policy.InitialInterval = cfg.Retry.InitialInterval
	}
	if cfg.Retry.MaxInterval > 0 {
		policy.MaxInterval = cfg.Retry.MaxInterval
	}
	if cfg.Retry.Multiplier > 0 {
		policy.Multiplier = cfg.Retry.Multiplier
	}
	if cfg.Retry.MaxElapsedTime > 0 {
		policy.MaxElapsedTime = cfg.Retry.MaxElapsedTime
	}

	return &AckClient{
		baseURL: strings.TrimRight(cfg.ProducerURL, "/"),
		client:  &http.Client{Timeout: timeout},
		policy:  policy,
		breaker: breaker,
		logger:  log.With("component", "ack_client"),
	}
}

func (c *AckClient) Acknowledge(ctx context.Context, messageID, group string, success bool, errMsg string) error {
	body, err := json.Marshal(ackRequest{ConsumerGroup: group, Success: success, ErrorMessage: errMsg})
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/api/v1/messages/%s/acknowledge", c.baseURL, url.PathEscape(messageID))

	err = retry.RetryWithCallback(ctx, c.policy, func() error {
		err := c.breaker.Do(ctx, func(ctx context.Context) error {
			return c.post(ctx, endpoint, body)
		})
		var se *StatusError
		if errors.As(err, &se) && se.Code < http.StatusInternalServerError {
			return retry.Permanent(err)
		}
		return err
	}, func(attempt int, err error, next time.Duration) {
		c.logger.WarnwCtx(ctx, "Retrying acknowledgment",
			"attempt", attempt,
			"next_delay", next.String(),
			"error", err,
		)
	})

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.IncConsumerAck(success, status)
	return err
}

func (c *AckClient) post(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	text, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(text))}
}
