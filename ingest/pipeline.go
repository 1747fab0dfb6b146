// Package ingest turns finalized envelopes into storage writes.
//
// Ingest runs the duplicate gate, routes the envelope into partition
// writes, and executes them: the events-log write is primary and its
// failure fails the ingestion; every other write is best-effort and
// reported per write. The pipeline holds no locks. Two concurrent
// ingestions of the same hash may both pass the gate.
package ingest

import (
	"context"
	"slices"
	"time"

	"github.com/pithecene-io/zotel/envelope"
	"github.com/pithecene-io/zotel/log"
	"github.com/pithecene-io/zotel/metrics"
	"github.com/pithecene-io/zotel/storage"
	"github.com/pithecene-io/zotel/types"
)

// Status is the user-visible outcome of one ingestion.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusDuplicate Status = "duplicate"
	StatusError     Status = "error"
)

// DefaultSchemaVersions are accepted when Config.SchemaVersions is empty.
// The empty version covers producers that predate versioning.
var DefaultSchemaVersions = []string{types.SchemaVersion, ""}

// WriteResult is the outcome of one partition write.
type WriteResult struct {
	Write PartitionWrite
	Err   error
}

// Report describes one ingestion.
type Report struct {
	Status  Status
	EventID string
	// Partitions lists the partitions written successfully, primary first.
	Partitions []string
	Writes     []WriteResult
	Latency    time.Duration
}

// Failed returns the best-effort writes that failed.
func (r *Report) Failed() []WriteResult {
	var out []WriteResult
	for _, w := range r.Writes {
		if w.Err != nil {
			out = append(out, w)
		}
	}
	return out
}

// Config configures a Pipeline.
type Config struct {
	Backend storage.Backend
	// Metrics receives ingest, duplicate, error and latency updates.
	// Nil discards them.
	Metrics metrics.Sink
	// Logger defaults to a no-op logger.
	Logger         *log.Logger
	SchemaVersions []string
	FailurePolicy  FailurePolicy
	// Now defaults to time.Now; used to measure latency.
	Now func() time.Time
}

// Pipeline ingests envelopes into a storage backend.
type Pipeline struct {
	backend  storage.Backend
	gate     *Gate
	metrics  metrics.Sink
	logger   *log.Logger
	versions []string
	policy   FailurePolicy
	now      func() time.Time
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		backend:  cfg.Backend,
		gate:     NewGate(cfg.Backend),
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		versions: cfg.SchemaVersions,
		policy:   cfg.FailurePolicy,
		now:      cfg.Now,
	}
	if p.metrics == nil {
		p.metrics = metrics.Nop{}
	}
	if p.logger == nil {
		p.logger = log.Nop()
	}
	if len(p.versions) == 0 {
		p.versions = DefaultSchemaVersions
	}
	if p.policy == "" {
		p.policy = FailOpen
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Ingest validates env, checks for duplicates and writes it to every
// partition it routes to. Derived fields missing from env are filled in
// place before the duplicate check.
//
// A duplicate is reported with StatusDuplicate and a nil error. Validation
// failures (*SchemaVersionError, *envelope.ValidationError) return before
// any I/O. A failed primary write returns *BackendError; failed secondary
// writes only appear in Report.Writes.
func (p *Pipeline) Ingest(ctx context.Context, env *types.EventEnvelope) (*Report, error) {
	start := p.now()
	report := &Report{EventID: env.EventID}

	if err := p.validate(env); err != nil {
		return p.fail(report, err)
	}

	res := p.gate.Check(ctx, env.Hash)
	switch res.Outcome {
	case Duplicate:
		report.Status = StatusDuplicate
		p.metrics.Increment(metrics.DuplicateCount)
		p.logger.Debug("duplicate event", map[string]any{"event_id": env.EventID, "hash": env.Hash})
		return report, nil
	case CheckFailed:
		p.logger.Warn("duplicate check failed", map[string]any{
			"event_id": env.EventID,
			"policy":   string(p.policy),
			"error":    res.Err.Error(),
		})
		if p.policy == FailClosed {
			return p.fail(report, &DedupError{Err: res.Err})
		}
	}

	writes, err := Route(env)
	if err != nil {
		return p.fail(report, err)
	}

	for _, w := range writes {
		err := p.apply(ctx, w)
		if w.Primary {
			if err != nil {
				return p.fail(report, &BackendError{Partition: w.Partition, Op: w.Mode, Err: err})
			}
			report.Partitions = append(report.Partitions, string(w.Partition))
			continue
		}
		report.Writes = append(report.Writes, WriteResult{Write: w, Err: err})
		if err != nil {
			p.logger.Warn("partition write failed", map[string]any{
				"event_id":  env.EventID,
				"partition": string(w.Partition),
				"id":        w.ID,
				"error":     err.Error(),
			})
			continue
		}
		if !slices.Contains(report.Partitions, string(w.Partition)) {
			report.Partitions = append(report.Partitions, string(w.Partition))
		}
	}

	report.Status = StatusSuccess
	report.Latency = p.now().Sub(start)
	p.metrics.Increment(metrics.IngestCount)
	p.metrics.Observe(metrics.Latency, report.Latency.Seconds())
	p.logger.Debug("event ingested", map[string]any{
		"event_id":   env.EventID,
		"event_type": string(env.EventType),
		"partitions": report.Partitions,
	})
	return report, nil
}

func (p *Pipeline) validate(env *types.EventEnvelope) error {
	if !slices.Contains(p.versions, env.SchemaVersion) {
		return &SchemaVersionError{Version: env.SchemaVersion, Accepted: p.versions}
	}
	if env.EventID == "" {
		return &envelope.ValidationError{Field: "event_id", Value: ""}
	}
	if err := envelope.Normalize(env); err != nil {
		return err
	}
	return envelope.Validate(env.EventType, env.Level, env.AgentRole)
}

func (p *Pipeline) apply(ctx context.Context, w PartitionWrite) error {
	if w.Mode == ModeUpsert {
		return p.backend.Upsert(ctx, w.Partition, w.record())
	}
	return p.backend.Add(ctx, w.Partition, w.record())
}

func (p *Pipeline) fail(report *Report, err error) (*Report, error) {
	report.Status = StatusError
	p.metrics.Increment(metrics.ErrorCount)
	return report, err
}
