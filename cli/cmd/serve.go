package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/zotel/adapter"
	redisadapter "github.com/pithecene-io/zotel/adapter/redis"
	"github.com/pithecene-io/zotel/cli/config"
	"github.com/pithecene-io/zotel/envelope"
	"github.com/pithecene-io/zotel/hook"
	"github.com/pithecene-io/zotel/ingest"
	"github.com/pithecene-io/zotel/log"
	"github.com/pithecene-io/zotel/metrics"
	"github.com/pithecene-io/zotel/redact"
	"github.com/pithecene-io/zotel/server"
	"github.com/pithecene-io/zotel/storage"
	"github.com/pithecene-io/zotel/storage/memory"
	redisstorage "github.com/pithecene-io/zotel/storage/redis"
	"github.com/pithecene-io/zotel/storage/sqlite"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// ServeCommand returns the serve command, which runs the ingestion bridge.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP ingestion bridge",
		Flags: []cli.Flag{
			ConfigFlag(),
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Listen address",
				Value: config.DefaultListen,
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "Require this key in X-API-Key (empty disables auth)",
				EnvVars: []string{hook.EnvAPIKey},
			},
			&cli.IntFlag{
				Name:  "max-payload-mb",
				Usage: "Reject request bodies larger than this",
				Value: 10,
			},
			&cli.DurationFlag{
				Name:  "request-timeout",
				Usage: "Per-request deadline",
				Value: server.DefaultRequestTimeout,
			},
			// Storage flags
			&cli.StringFlag{
				Name:  "storage-backend",
				Usage: "Storage backend: memory, sqlite, or redis",
				Value: config.BackendMemory,
			},
			&cli.StringFlag{
				Name:  "storage-path",
				Usage: "SQLite database file (sqlite backend)",
			},
			&cli.StringFlag{
				Name:  "storage-redis-url",
				Usage: "Redis URL (redis backend)",
			},
			// Envelope flags
			&cli.StringFlag{
				Name:    "redaction-mode",
				Usage:   "Redaction for /hooks envelopes: strict, lenient, or disabled",
				Value:   string(redact.ModeStrict),
				EnvVars: []string{envelope.EnvRedactionMode},
			},
			&cli.StringFlag{
				Name:    "host-salt",
				Usage:   "Salt for host identifiers on /hooks envelopes",
				EnvVars: []string{envelope.EnvHostSalt},
			},
			&cli.StringSliceFlag{
				Name:  "schema-version",
				Usage: "Accepted schema_version (repeatable; default 1.0 and empty)",
			},
			&cli.StringFlag{
				Name:  "dedup-failure-policy",
				Usage: "When the duplicate check fails: open or closed",
				Value: string(ingest.FailOpen),
			},
			// Notify flags
			&cli.StringFlag{
				Name:  "notify-redis-url",
				Usage: "Publish ingested events to Redis pub/sub",
			},
			&cli.StringFlag{
				Name:  "notify-channel",
				Usage: "Redis pub/sub channel",
				Value: redisadapter.DefaultChannel,
			},
			// Metrics flags
			&cli.BoolFlag{
				Name:  "otel",
				Usage: "Export metrics over OTLP gRPC",
			},
			&cli.StringFlag{
				Name:    "otel-endpoint",
				Usage:   "OTLP collector address",
				EnvVars: []string{"OTEL_EXPORTER_OTLP_ENDPOINT"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
				Value: "info",
			},
		},
		Action: serveAction,
	}
}

// serveSettings is the resolved flag and config state for serve.
type serveSettings struct {
	Listen         string
	APIKey         string
	MaxBodyBytes   int64
	RequestTimeout time.Duration
	Storage        config.StorageConfig
	RedactionMode  redact.Mode
	HostSalt       string
	SchemaVersions []string
	FailurePolicy  ingest.FailurePolicy
	Notify         config.NotifyConfig
	OTel           config.OTelConfig
	LogLevel       string
}

func resolveServe(c *cli.Context, cfg *config.Config) (serveSettings, error) {
	s := serveSettings{
		Listen:         resolveString(c, "listen", configVal(cfg, func(c *config.Config) string { return c.Listen })),
		APIKey:         resolveString(c, "api-key", configVal(cfg, func(c *config.Config) string { return c.APIKey })),
		MaxBodyBytes:   int64(resolveInt(c, "max-payload-mb", configVal(cfg, func(c *config.Config) int { return c.MaxPayloadMB }))) << 20,
		RequestTimeout: resolveDuration(c, "request-timeout", configVal(cfg, func(c *config.Config) time.Duration { return c.RequestTimeout.Duration })),
		HostSalt:       resolveString(c, "host-salt", configVal(cfg, func(c *config.Config) string { return c.HostSalt })),
		LogLevel:       resolveString(c, "log-level", configVal(cfg, func(c *config.Config) string { return c.LogLevel })),
		Storage: config.StorageConfig{
			Backend:  resolveString(c, "storage-backend", configVal(cfg, func(c *config.Config) string { return c.Storage.Backend })),
			Path:     resolveString(c, "storage-path", configVal(cfg, func(c *config.Config) string { return c.Storage.Path })),
			RedisURL: resolveString(c, "storage-redis-url", configVal(cfg, func(c *config.Config) string { return c.Storage.RedisURL })),
			Prefix:   configVal(cfg, func(c *config.Config) string { return c.Storage.Prefix }),
		},
		Notify: configVal(cfg, func(c *config.Config) config.NotifyConfig { return c.Notify }),
		OTel:   configVal(cfg, func(c *config.Config) config.OTelConfig { return c.OTel }),
	}
	s.Notify.RedisURL = resolveString(c, "notify-redis-url", s.Notify.RedisURL)
	s.Notify.Channel = resolveString(c, "notify-channel", s.Notify.Channel)
	s.OTel.Enabled = resolveBool(c, "otel", s.OTel.Enabled)
	s.OTel.Endpoint = resolveString(c, "otel-endpoint", s.OTel.Endpoint)

	s.SchemaVersions = c.StringSlice("schema-version")
	if len(s.SchemaVersions) == 0 {
		s.SchemaVersions = configVal(cfg, func(c *config.Config) []string { return c.SchemaVersions })
	}

	mode, err := redact.ParseMode(resolveString(c, "redaction-mode", configVal(cfg, func(c *config.Config) string { return c.RedactionMode })))
	if err != nil {
		return s, err
	}
	s.RedactionMode = mode

	policy, err := ingest.ParseFailurePolicy(resolveString(c, "dedup-failure-policy", configVal(cfg, func(c *config.Config) string { return c.Dedup.FailurePolicy })))
	if err != nil {
		return s, err
	}
	s.FailurePolicy = policy

	if s.MaxBodyBytes <= 0 {
		return s, fmt.Errorf("--max-payload-mb must be > 0")
	}
	return s, nil
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	settings, err := resolveServe(c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	logger, err := log.NewLogger("bridge").WithLevel(settings.LogLevel)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	b, err := buildBridge(ctx, settings, logger)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer b.close()

	srv := &http.Server{
		Addr:              settings.Listen,
		Handler:           b.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("bridge listening", map[string]any{
		"listen":  settings.Listen,
		"backend": settings.Storage.Backend,
		"auth":    settings.APIKey != "",
		"notify":  settings.Notify.RedisURL != "",
		"otel":    settings.OTel.Enabled,
	})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("bridge stopped", nil)
	return nil
}

// bridge is a fully wired HTTP handler plus the resources it owns.
type bridge struct {
	handler  http.Handler
	recorder *metrics.Recorder
	backend  storage.Backend
	closers  []func() error
}

func (b *bridge) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		_ = b.closers[i]()
	}
}

// buildBridge opens storage and wires the pipeline, metrics, notifier and
// HTTP handler. On error everything opened so far is released.
func buildBridge(ctx context.Context, s serveSettings, logger *log.Logger) (_ *bridge, err error) {
	b := &bridge{recorder: metrics.NewRecorder()}
	defer func() {
		if err != nil {
			b.close()
		}
	}()

	b.backend, err = openBackend(ctx, s.Storage)
	if err != nil {
		return nil, err
	}
	b.closers = append(b.closers, b.backend.Close)

	var sink metrics.Sink = b.recorder
	if s.OTel.Enabled {
		provider, err := metrics.NewExportingProvider(ctx, metrics.ExporterConfig{
			Endpoint: s.OTel.Endpoint,
			Insecure: s.OTel.Insecure,
			Interval: s.OTel.Interval.Duration,
		})
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return provider.Shutdown(shutdownCtx)
		})
		otelSink, err := metrics.NewOTelSink(provider.Meter("github.com/pithecene-io/zotel"))
		if err != nil {
			return nil, err
		}
		sink = metrics.Multi(b.recorder, otelSink)
	}

	var notifier adapter.Adapter
	if s.Notify.RedisURL != "" {
		cfg := redisadapter.Config{
			URL:     s.Notify.RedisURL,
			Channel: s.Notify.Channel,
			Timeout: s.Notify.Timeout.Duration,
			Retries: redisadapter.DefaultRetries,
		}
		if s.Notify.Retries != nil {
			cfg.Retries = *s.Notify.Retries
		}
		n, err := redisadapter.New(cfg)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, n.Close)
		notifier = n
	}

	home, _ := os.UserHomeDir()
	builder := envelope.NewBuilder(envelope.Config{
		RedactionMode: s.RedactionMode,
		HostSalt:      s.HostSalt,
		HomeDir:       home,
	})

	pipeline := ingest.New(ingest.Config{
		Backend:        b.backend,
		Metrics:        sink,
		Logger:         logger.With("component", "ingest"),
		SchemaVersions: s.SchemaVersions,
		FailurePolicy:  s.FailurePolicy,
	})

	b.handler, err = server.New(server.Config{
		Pipeline: pipeline,
		Backend:  b.backend,
		Builder:  builder,
		Mapper: hook.Mapper{
			User:    hook.User(os.LookupEnv),
			HomeDir: home,
		},
		Recorder:       b.recorder,
		Sink:           sink,
		Notifier:       notifier,
		Logger:         logger,
		APIKey:         s.APIKey,
		MaxBodyBytes:   s.MaxBodyBytes,
		RequestTimeout: s.RequestTimeout,
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func openBackend(ctx context.Context, cfg config.StorageConfig) (storage.Backend, error) {
	switch cfg.Backend {
	case "", config.BackendMemory:
		return memory.New(), nil
	case config.BackendSQLite:
		if cfg.Path == "" {
			return nil, errors.New("--storage-path is required for the sqlite backend")
		}
		return sqlite.Open(cfg.Path)
	case config.BackendRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("--storage-redis-url is required for the redis backend")
		}
		return redisstorage.New(ctx, redisstorage.Config{URL: cfg.RedisURL, Prefix: cfg.Prefix})
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s (must be memory, sqlite, or redis)", cfg.Backend)
	}
}
