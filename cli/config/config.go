package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/zotel/ingest"
	"github.com/pithecene-io/zotel/redact"
)

// Storage backends accepted by storage.backend.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Spool backends accepted by spool.backend.
const (
	SpoolFS = "fs"
	SpoolS3 = "s3"
)

// Default listen address of the bridge.
const DefaultListen = "127.0.0.1:9000"

// Config represents a zotel.yaml configuration file.
// All values are optional and act as defaults for zotel flags.
// CLI flags always override config values.
type Config struct {
	Listen         string        `yaml:"listen"`
	APIKey         string        `yaml:"api_key"`
	MaxPayloadMB   int           `yaml:"max_payload_mb"`
	RequestTimeout Duration      `yaml:"request_timeout"`
	RedactionMode  string        `yaml:"redaction_mode"`
	HostSalt       string        `yaml:"host_salt"`
	SchemaVersions []string      `yaml:"schema_versions"`
	LogLevel       string        `yaml:"log_level"`
	Storage        StorageConfig `yaml:"storage"`
	Dedup          DedupConfig   `yaml:"dedup"`
	Notify         NotifyConfig  `yaml:"notify"`
	OTel           OTelConfig    `yaml:"otel"`
	Spool          SpoolConfig   `yaml:"spool"`
}

// StorageConfig selects the bridge's storage backend.
type StorageConfig struct {
	Backend  string `yaml:"backend"`
	Path     string `yaml:"path"`
	RedisURL string `yaml:"redis_url"`
	Prefix   string `yaml:"prefix"`
}

// DedupConfig holds deduplication settings.
type DedupConfig struct {
	// FailurePolicy is open or closed.
	FailurePolicy string `yaml:"failure_policy"`
}

// NotifyConfig holds the Redis pub/sub notifier settings.
// The notifier is disabled when RedisURL is empty.
type NotifyConfig struct {
	RedisURL string   `yaml:"redis_url"`
	Channel  string   `yaml:"channel"`
	Timeout  Duration `yaml:"timeout,omitempty"`
	Retries  *int     `yaml:"retries,omitempty"`
}

// OTelConfig enables OTLP metric export.
type OTelConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Endpoint string   `yaml:"endpoint"`
	Insecure bool     `yaml:"insecure"`
	Interval Duration `yaml:"interval,omitempty"`
}

// SpoolConfig locates the hook spool read by zotel tail.
type SpoolConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MaxBodyBytes converts max_payload_mb to bytes; 0 when unset.
func (c *Config) MaxBodyBytes() int64 {
	if c.MaxPayloadMB <= 0 {
		return 0
	}
	return int64(c.MaxPayloadMB) << 20
}

// Validate rejects enumerated values the bridge does not understand.
// Empty values are valid and mean "use the default".
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case "", BackendMemory:
	case BackendSQLite:
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for the sqlite backend"))
		}
	case BackendRedis:
		if c.Storage.RedisURL == "" {
			errs = append(errs, errors.New("storage.redis_url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid storage.backend %q (must be memory, sqlite or redis)", c.Storage.Backend))
	}
	switch c.Spool.Backend {
	case "", SpoolFS:
	case SpoolS3:
		if c.Spool.Path == "" {
			errs = append(errs, errors.New("spool.path is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid spool.backend %q (must be fs or s3)", c.Spool.Backend))
	}
	if _, err := redact.ParseMode(c.RedactionMode); err != nil {
		errs = append(errs, fmt.Errorf("redaction_mode: %w", err))
	}
	if _, err := ingest.ParseFailurePolicy(c.Dedup.FailurePolicy); err != nil {
		errs = append(errs, fmt.Errorf("dedup.failure_policy: %w", err))
	}
	if c.MaxPayloadMB < 0 {
		errs = append(errs, fmt.Errorf("max_payload_mb must be >= 0, got %d", c.MaxPayloadMB))
	}
	if c.Notify.Retries != nil && *c.Notify.Retries < 0 {
		errs = append(errs, fmt.Errorf("notify.retries must be >= 0, got %d", *c.Notify.Retries))
	}
	return errors.Join(errs...)
}
