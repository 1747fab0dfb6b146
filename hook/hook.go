// Package hook implements the short-lived hook process.
//
// A hook reads one JSON object from stdin, maps it to envelope parameters
// according to its kind, builds the envelope, appends it to the local
// spool and forwards it to the bridge. Spool and forwarding failures are
// logged and swallowed: a hook must never block or fail the agent it
// observes. Only unreadable input is reported as an error.
package hook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pithecene-io/zotel/adapter"
	"github.com/pithecene-io/zotel/envelope"
	"github.com/pithecene-io/zotel/log"
	"github.com/pithecene-io/zotel/types"
)

// Spooler records envelopes locally.
type Spooler interface {
	Append(ctx context.Context, env *types.EventEnvelope) error
}

// Config configures a Hook.
type Config struct {
	Builder *envelope.Builder
	Mapper  Mapper
	// Spool is optional.
	Spool Spooler
	// Forward is optional; nil keeps events local.
	Forward adapter.Adapter
	// Endpoint is shown in injected context. Empty means local-only.
	Endpoint string
	Logger   *log.Logger
	// MaxInputBytes defaults to DefaultMaxInputBytes.
	MaxInputBytes int64
}

// Hook processes hook invocations.
type Hook struct {
	cfg Config
}

// New creates a Hook.
func New(cfg Config) *Hook {
	if cfg.Builder == nil {
		cfg.Builder = envelope.NewBuilder(envelope.Config{})
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Nop()
	}
	if cfg.MaxInputBytes <= 0 {
		cfg.MaxInputBytes = DefaultMaxInputBytes
	}
	return &Hook{cfg: cfg}
}

// Run handles one invocation of kind. It returns the emitted envelope, or
// nil when the kind skipped the input. The error is non-nil only when
// stdin could not be decoded or the envelope could not be built.
func (h *Hook) Run(ctx context.Context, kind Kind, stdin io.Reader, stdout io.Writer) (*types.EventEnvelope, error) {
	in, err := Decode(stdin, h.cfg.MaxInputBytes)
	if err != nil {
		return nil, err
	}
	env, err := h.Emit(ctx, kind, in)
	if err != nil || env == nil {
		return env, err
	}

	if out, ok := Output(kind, in, env, h.cfg.Endpoint); ok {
		enc := json.NewEncoder(stdout)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(out); err != nil {
			h.cfg.Logger.Warn("failed to write hook output", map[string]any{"error": err.Error()})
		}
	}
	return env, nil
}

// Emit builds the envelope for in, spools it and forwards it.
func (h *Hook) Emit(ctx context.Context, kind Kind, in Input) (*types.EventEnvelope, error) {
	p, ok, err := h.cfg.Mapper.Params(kind, in)
	if err != nil {
		return nil, err
	}
	if !ok {
		h.cfg.Logger.Debug("hook input skipped", map[string]any{"kind": string(kind)})
		return nil, nil
	}
	env, err := h.cfg.Builder.Build(p)
	if err != nil {
		return nil, fmt.Errorf("build %s envelope: %w", kind, err)
	}

	fields := map[string]any{
		"kind":       string(kind),
		"event_id":   env.EventID,
		"event_type": string(env.EventType),
	}
	if h.cfg.Spool != nil {
		if err := h.cfg.Spool.Append(ctx, env); err != nil {
			h.cfg.Logger.Warn("spool append failed", withErr(fields, err))
		}
	}
	if h.cfg.Forward != nil {
		if err := h.cfg.Forward.Publish(ctx, env); err != nil {
			h.cfg.Logger.Warn("forward failed", withErr(fields, err))
		}
	}
	return env, nil
}

func withErr(fields map[string]any, err error) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["error"] = err.Error()
	return out
}
