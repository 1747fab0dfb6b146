package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/zotel/iox"
	"github.com/pithecene-io/zotel/server"
)

// maxResponseBytes caps bridge responses read by the CLI.
const maxResponseBytes = 32 << 20

// bridgeClient issues read requests against a running bridge.
type bridgeClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func newBridgeClient(c *cli.Context) *bridgeClient {
	return &bridgeClient{
		baseURL: strings.TrimRight(c.String("url"), "/"),
		apiKey:  c.String("api-key"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// getJSON GETs path with query and decodes the JSON body into out.
func (b *bridgeClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := b.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if b.apiKey != "" {
		req.Header.Set(server.APIKeyHeader, b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("bridge request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	body, err := iox.ReadAllLimit(resp.Body, maxResponseBytes)
	if err != nil {
		return fmt.Errorf("failed to read bridge response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return bridgeError(resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("invalid bridge response: %w", err)
	}
	return nil
}

func bridgeError(status int, body []byte) error {
	var e struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
		return fmt.Errorf("bridge returned %d %s: %s", status, e.Error.Code, e.Error.Message)
	}
	return fmt.Errorf("bridge returned %d: %s", status, strings.TrimSpace(string(body)))
}
