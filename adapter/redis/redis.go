// Package redis announces ingested envelopes on a Redis pub/sub channel.
// Each message is a JSON adapter.Notification.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/zotel/adapter"
	"github.com/pithecene-io/zotel/types"
)

// Defaults for Config.
const (
	DefaultChannel = "zotel:events"
	DefaultTimeout = 5 * time.Second
	DefaultRetries = 3
)

// Config configures a notifier.
type Config struct {
	// URL is redis://[:password@]host:port[/db].
	URL     string
	Channel string
	// Timeout bounds each PUBLISH (default 5s).
	Timeout time.Duration
	Retries int
	Backoff time.Duration
}

// Adapter publishes a Notification per envelope.
type Adapter struct {
	config Config
	policy adapter.Policy
	client *goredis.Client
}

// New parses the URL and fills in defaults. It does not dial.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}
	policy := adapter.Policy{Retries: cfg.Retries, Backoff: cfg.Backoff}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Adapter{config: cfg, policy: policy, client: goredis.NewClient(opts)}, nil
}

// Publish implements adapter.Adapter.
func (a *Adapter) Publish(ctx context.Context, env *types.EventEnvelope) error {
	msg, err := json.Marshal(adapter.NotificationFor(env))
	if err != nil {
		return fmt.Errorf("redis: marshal notification: %w", err)
	}
	return adapter.Deliver(ctx, "redis", a.policy, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
		err := a.client.Publish(ctx, a.config.Channel, msg).Err()
		if errors.Is(err, goredis.ErrClosed) {
			return adapter.Permanent(err)
		}
		return err
	})
}

// Channel is the channel notifications go to.
func (a *Adapter) Channel() string { return a.config.Channel }

// Close closes the client.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
