// Package main provides the zotel-hook entrypoint.
//
// Usage:
//
//	zotel-hook <kind> < input.json
//
// Kinds: report, session-start, worker-spawn, artifact, error, mcp, heartbeat.
//
// Exit codes:
//   - 0: event recorded, skipped, or delivery failed (failures go to stderr)
//   - 1: stdin is not a JSON object
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/zotel/adapter"
	"github.com/pithecene-io/zotel/adapter/webhook"
	"github.com/pithecene-io/zotel/envelope"
	"github.com/pithecene-io/zotel/hook"
	"github.com/pithecene-io/zotel/lode"
	"github.com/pithecene-io/zotel/log"
	"github.com/pithecene-io/zotel/types"
)

// Exit codes.
const (
	exitSuccess      = 0
	exitInvalidInput = 1
)

// Hook processes run inline with the agent; bound the whole invocation.
const invocationTimeout = 15 * time.Second

// commit is set with -ldflags "-X main.commit=...".
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "zotel-hook",
		Usage:          "Record an agent lifecycle event from hook input on stdin",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		Commands:       kindCommands(),
		ExitErrHandler: func(*cli.Context, error) {},
	}
	code, msg := exitStatus(app.Run(os.Args))
	if msg != "" {
		fmt.Fprintln(os.Stderr, msg)
	}
	os.Exit(code)
}

// exitStatus keeps explicit cli.Exit codes. Any other failure is reported
// but exits 0 so the agent is never blocked by telemetry.
func exitStatus(err error) (int, string) {
	if err == nil {
		return exitSuccess, ""
	}
	var ec cli.ExitCoder
	if !errors.As(err, &ec) {
		return exitSuccess, "[zotel-hook] " + err.Error()
	}
	if msg := ec.Error(); msg != fmt.Sprintf("exit status %d", ec.ExitCode()) {
		return ec.ExitCode(), msg
	}
	return ec.ExitCode(), ""
}

func kindFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "spool-dir",
			Usage:   "Spool directory (default ~/.zo/claude-events)",
			EnvVars: []string{hook.EnvLogDir},
		},
		&cli.BoolFlag{
			Name:  "no-spool",
			Usage: "Do not append to the local spool",
		},
		&cli.BoolFlag{
			Name:  "no-forward",
			Usage: "Do not forward to the bridge",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Diagnostic log level on stderr (debug, info, warn, error)",
			Value: "warn",
		},
	}
}

func kindCommands() []*cli.Command {
	kinds := hook.Kinds()
	cmds := make([]*cli.Command, 0, len(kinds))
	for _, k := range kinds {
		cmds = append(cmds, &cli.Command{
			Name:   string(k),
			Usage:  fmt.Sprintf("Record a %s event", k),
			Flags:  kindFlags(),
			Action: kindAction(k),
		})
	}
	return cmds
}

func kindAction(kind hook.Kind) cli.ActionFunc {
	return func(c *cli.Context) error {
		logger, err := log.NewLogger("hook").WithLevel(c.String("log-level"))
		if err != nil {
			return cli.Exit(err.Error(), exitInvalidInput)
		}
		defer func() { _ = logger.Sync() }()

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		ctx, cancelTimeout := context.WithTimeout(ctx, invocationTimeout)
		defer cancelTimeout()

		h, cleanup := buildHook(c, kind, logger)
		defer cleanup()

		if _, err := h.Run(ctx, kind, os.Stdin, os.Stdout); err != nil {
			if errors.Is(err, hook.ErrInvalidInput) {
				return cli.Exit(fmt.Sprintf("[zotel-hook] %v", err), exitInvalidInput)
			}
			logger.Error("hook failed", map[string]any{"kind": string(kind), "error": err.Error()})
		}
		return nil
	}
}

// buildHook wires the builder, spool and forwarder from the environment.
// Every optional piece that fails to initialize is logged and left out.
func buildHook(c *cli.Context, kind hook.Kind, logger *log.Logger) (*hook.Hook, func()) {
	var closers []func() error
	cleanup := func() {
		for _, fn := range closers {
			_ = fn()
		}
	}

	envCfg, err := envelope.ConfigFromEnv()
	if err != nil {
		logger.Warn("falling back to strict redaction", map[string]any{"error": err.Error()})
		_ = os.Unsetenv(envelope.EnvRedactionMode)
		envCfg, _ = envelope.ConfigFromEnv()
	}

	cfg := hook.Config{
		Builder: envelope.NewBuilder(envCfg),
		Mapper: hook.Mapper{
			RunID:   envelope.RunIDFromEnv(),
			User:    hook.User(os.LookupEnv),
			HomeDir: envCfg.HomeDir,
		},
		Logger: logger,
	}

	if !c.Bool("no-spool") {
		dir := c.String("spool-dir")
		if dir == "" {
			dir = hook.LogDir(os.LookupEnv, envCfg.HomeDir)
		}
		if spool, err := openSpool(dir); err != nil {
			logger.Warn("spool unavailable", map[string]any{"dir": dir, "error": err.Error()})
		} else {
			cfg.Spool = spool
			closers = append(closers, spool.Close)
		}
	}

	endpoint := hook.EndpointFor(kind, os.LookupEnv)
	cfg.Endpoint = endpoint
	if endpoint != "" && !c.Bool("no-forward") {
		fwd, err := newForwarder(endpoint, os.Getenv(hook.EnvAPIKey))
		if err != nil {
			logger.Warn("forwarding disabled", map[string]any{"endpoint": endpoint, "error": err.Error()})
		} else {
			cfg.Forward = fwd
			closers = append(closers, fwd.Close)
		}
	}

	return hook.New(cfg), cleanup
}

func openSpool(dir string) (*lode.Spool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return lode.NewFSSpool(dir)
}

// newForwarder posts to the bridge. The bridge answers 409 for events it
// already holds; that counts as delivered.
func newForwarder(endpoint, apiKey string) (adapter.Adapter, error) {
	return webhook.New(webhook.Config{
		URL:     endpoint,
		APIKey:  apiKey,
		Timeout: 4 * time.Second,
		Retries: 2,
		Accept:  []int{409},
	})
}
