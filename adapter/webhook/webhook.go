// Package webhook forwards envelopes to an HTTP endpoint as JSON POSTs.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/pithecene-io/zotel/adapter"
	"github.com/pithecene-io/zotel/iox"
	"github.com/pithecene-io/zotel/types"
)

// DefaultTimeout bounds a request when Config.Timeout is unset.
const DefaultTimeout = 10 * time.Second

// APIKeyHeader carries the bridge's shared key.
const APIKeyHeader = "X-API-Key"

// Config configures a webhook Adapter.
type Config struct {
	URL    string
	APIKey string
	// Headers are added to every request after Content-Type and the key.
	Headers map[string]string
	// Timeout bounds each request (default 10s).
	Timeout time.Duration
	Retries int
	Backoff time.Duration
	// Accept lists non-2xx codes that still mean delivered, such as 409
	// from a receiver that already holds the event.
	Accept []int
}

// Adapter POSTs envelopes. Network errors and 5xx responses are retried;
// other statuses outside Accept fail at once.
type Adapter struct {
	config Config
	policy adapter.Policy
	client *http.Client
}

// New validates cfg and fills in defaults.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook adapter requires a URL")
	}
	policy := adapter.Policy{Retries: cfg.Retries, Backoff: cfg.Backoff}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Adapter{
		config: cfg,
		policy: policy,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// StatusError reports a response that did not count as delivered.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Publish implements adapter.Adapter.
func (a *Adapter) Publish(ctx context.Context, env *types.EventEnvelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("webhook: marshal envelope: %w", err)
	}
	return adapter.Deliver(ctx, "webhook", a.policy, func(ctx context.Context) error {
		err := a.post(ctx, body)
		var se *StatusError
		if errors.As(err, &se) && se.Code < 500 {
			return adapter.Permanent(err)
		}
		return err
	})
}

func (a *Adapter) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.config.APIKey != "" {
		req.Header.Set(APIKeyHeader, a.config.APIKey)
	}
	for k, v := range a.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)
	// Drained so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 == 2 || slices.Contains(a.config.Accept, resp.StatusCode) {
		return nil
	}
	return &StatusError{Code: resp.StatusCode}
}

// Close drops idle connections.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

var _ adapter.Adapter = (*Adapter)(nil)
