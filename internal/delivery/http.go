package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"fieldq/internal/config"
	"fieldq/internal/outbox"
)

const defaultRequestTimeout = 30 * time.Second

// HTTPClient submits debriefs over HTTP. Each attempt POSTs the payload as-is
// with an idempotency key derived from the item id, so the backend can dedupe
// redelivered items.
type HTTPClient struct {
	endpoint  string
	authToken string
	client    *http.Client
}

// NewHTTPClient builds a delivery client from the delivery configuration
// section.
func NewHTTPClient(cfg config.Delivery) *HTTPClient {
	timeout := defaultRequestTimeout
	if cfg.RequestTimeout > 0 {
		timeout = time.Duration(cfg.RequestTimeout) * time.Second
	}
	return &HTTPClient{
		endpoint:  cfg.Endpoint,
		authToken: cfg.AuthToken,
		client:    &http.Client{Timeout: timeout},
	}
}

// Submit POSTs the item payload to the configured endpoint. The returned
// error, when non-nil, is always a *Error carrying the retryable/terminal
// classification.
func (c *HTTPClient) Submit(ctx context.Context, item *outbox.Item) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(item.Payload))
	if err != nil {
		return terminalError("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idempotency-Key", item.ID)
	req.Header.Set("X-Meeting-ID", item.MeetingID)
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Transport failures and timeouts never confirm what the backend
		// saw, so they re-enter the retry schedule.
		if errors.Is(err, context.Canceled) {
			return retryableError("attempt canceled", err)
		}
		return retryableError("request failed", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	return classifyStatus(resp.StatusCode)
}

func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusRequestTimeout,
		code == http.StatusTooManyRequests,
		code >= 500:
		return retryableError(fmt.Sprintf("server returned %d", code), nil)
	default:
		// Remaining 4xx responses mean the backend understood the request
		// and rejected the payload; resending the same bytes cannot help.
		return terminalError(fmt.Sprintf("server rejected submission with %d", code), nil)
	}
}

var _ Client = (*HTTPClient)(nil)
