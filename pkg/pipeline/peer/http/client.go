package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// RetryConfig holds retry settings for failed webhook attempts
type RetryConfig struct {
	MaxRetries  uint64 `json:"maxRetries"`
	InitialWait string `json:"initialWait"`
	MaxWait     string `json:"maxWait"`
}

func (r RetryConfig) backOff() (backoff.BackOff, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	if r.InitialWait != "" {
		d, err := time.ParseDuration(r.InitialWait)
		if err != nil {
			return nil, fmt.Errorf("invalid initialWait: %w", err)
		}
		b.InitialInterval = d
	}
	if r.MaxWait != "" {
		d, err := time.ParseDuration(r.MaxWait)
		if err != nil {
			return nil, fmt.Errorf("invalid maxWait: %w", err)
		}
		b.MaxInterval = d
	}
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, r.MaxRetries), nil
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d, body: %s", e.StatusCode, e.Body)
}

// send delivers payload to the endpoint, retrying transport errors, 429 and
// 5xx responses. Other 4xx responses are permanent.
func send(ctx context.Context, client *http.Client, b backoff.BackOff, logger *zap.Logger,
	endpoint EndpointConfig, headers http.Header, payload []byte) error {
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, endpoint.Method, endpoint.URL, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header = headers.Clone()
		if req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: body}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return statusErr
		}
		return backoff.Permanent(statusErr)
	}

	notify := func(err error, wait time.Duration) {
		logger.Warn("retrying webhook",
			zap.String("endpoint", endpoint.URL),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	return backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify)
}
