package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/zotel/cli/config"
	"github.com/pithecene-io/zotel/cli/render"
	"github.com/pithecene-io/zotel/envelope"
	"github.com/pithecene-io/zotel/hook"
	"github.com/pithecene-io/zotel/lode"
	"github.com/pithecene-io/zotel/types"
)

// TailCommand returns the tail command.
// Tail reads the local hook spool directly; no bridge is needed.
func TailCommand() *cli.Command {
	flags := append(ReadOnlyFlags(),
		ConfigFlag(),
		&cli.IntFlag{
			Name:    "n",
			Aliases: []string{"lines"},
			Usage:   "Number of most recent events (0 for all)",
			Value:   20,
		},
		// Filter flags
		&cli.StringFlag{Name: "day", Usage: "Only events from this UTC day (YYYY-MM-DD)"},
		&cli.StringFlag{Name: "event-type", Usage: "Only events of this type"},
		&cli.StringFlag{Name: "run-id", Usage: "Only events from this run"},
		&cli.StringFlag{Name: "session-id", Usage: "Only events from this session"},
		// Spool flags
		&cli.StringFlag{
			Name:  "spool-backend",
			Usage: "Spool backend: fs or s3",
			Value: config.SpoolFS,
		},
		&cli.StringFlag{
			Name:    "spool-path",
			Usage:   "Spool location (fs: directory, s3: bucket/prefix)",
			EnvVars: []string{hook.EnvLogDir},
		},
		&cli.StringFlag{Name: "spool-region", Usage: "AWS region for the s3 spool"},
		&cli.StringFlag{Name: "spool-endpoint", Usage: "Custom S3 endpoint (R2, MinIO)"},
		&cli.BoolFlag{Name: "spool-path-style", Usage: "Force path-style S3 addressing"},
	)
	return &cli.Command{
		Name:   "tail",
		Usage:  "Show the most recent events recorded by zotel-hook",
		Flags:  flags,
		Action: tailAction,
	}
}

// TailRow is the table view of one spooled envelope.
type TailRow struct {
	Ts        string `json:"ts"`
	EventType string `json:"event_type"`
	Level     string `json:"level"`
	RunID     string `json:"run_id"`
	WorkerID  string `json:"worker_id"`
	Msg       string `json:"msg"`
}

func tailAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
	defer cancel()

	spool, err := openReadSpool(ctx, resolveSpool(c, cfg))
	if err != nil {
		return fmt.Errorf("failed to open spool: %w", err)
	}
	defer func() { _ = spool.Close() }()

	envs, err := spool.Tail(ctx, lode.Filter{
		Day:       c.String("day"),
		EventType: c.String("event-type"),
		RunID:     c.String("run-id"),
		SessionID: c.String("session-id"),
	}, c.Int("n"))
	if err != nil {
		return err
	}

	if r.Format() == render.FormatTable {
		return r.Render(tailRows(envs))
	}
	if envs == nil {
		envs = []*types.EventEnvelope{}
	}
	return r.Render(envs)
}

func resolveSpool(c *cli.Context, cfg *config.Config) config.SpoolConfig {
	s := configVal(cfg, func(c *config.Config) config.SpoolConfig { return c.Spool })
	s.Backend = resolveString(c, "spool-backend", s.Backend)
	s.Path = resolveString(c, "spool-path", s.Path)
	s.Region = resolveString(c, "spool-region", s.Region)
	s.Endpoint = resolveString(c, "spool-endpoint", s.Endpoint)
	s.S3PathStyle = resolveBool(c, "spool-path-style", s.S3PathStyle)
	return s
}

func openReadSpool(ctx context.Context, s config.SpoolConfig) (*lode.Spool, error) {
	switch s.Backend {
	case "", config.SpoolFS:
		dir := s.Path
		if dir == "" {
			home, _ := os.UserHomeDir()
			dir = hook.LogDir(os.LookupEnv, home)
		}
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
		return lode.NewFSSpool(dir)
	case config.SpoolS3:
		bucket, prefix := lode.ParseS3Path(s.Path)
		return lode.NewS3Spool(ctx, lode.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       s.Region,
			Endpoint:     s.Endpoint,
			UsePathStyle: s.S3PathStyle,
		})
	default:
		return nil, fmt.Errorf("unsupported spool backend: %s (must be fs or s3)", s.Backend)
	}
}

func tailRows(envs []*types.EventEnvelope) []TailRow {
	rows := make([]TailRow, 0, len(envs))
	for _, env := range envs {
		rows = append(rows, TailRow{
			Ts:        env.Ts,
			EventType: string(env.EventType),
			Level:     string(env.Level),
			RunID:     env.RunID,
			WorkerID:  env.WorkerID,
			Msg:       envelope.Truncate(env.Msg, 80),
		})
	}
	return rows
}
