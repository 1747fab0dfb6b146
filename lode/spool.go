// Package lode spools envelopes to a local (or S3) Lode dataset.
//
// The hook appends every envelope it emits before forwarding it, so the
// spool is the record of what a machine produced even when the bridge is
// unreachable. Records are Hive-partitioned by day and event_type.
package lode

import (
	"context"
	"encoding/json"
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/zotel/types"
)

// DefaultDataset is the dataset ID envelopes are spooled under.
const DefaultDataset = "zotel-events"

// Partition keys, outermost first.
const (
	KeyDay       = "day"
	KeyEventType = "event_type"
)

// keySeq orders records across partition files. Values are zero-padded
// nanosecond stamps so they compare as strings.
const keySeq = "seq"

// DeriveDay computes the partition day of t.
// Format: YYYY-MM-DD in UTC.
func DeriveDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// dayOf takes the partition day from an envelope timestamp, falling back
// to now for timestamps that do not start with a date.
func dayOf(ts string, now time.Time) string {
	if len(ts) >= 10 {
		if _, err := time.Parse("2006-01-02", ts[:10]); err == nil {
			return ts[:10]
		}
	}
	return DeriveDay(now)
}

// Spool appends envelopes to a Lode dataset.
type Spool struct {
	dataset lode.Dataset
	name    string
	now     func() time.Time

	mu sync.Mutex
	// last is the most recent sequence stamp handed out. Stamps are
	// strictly increasing within a process and follow the wall clock
	// across processes.
	last int64
}

// NewDataset opens the spool dataset over factory. The read and write
// paths share codec and layout.
func NewDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout(KeyDay, KeyEventType),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// NewSpool creates a spool over factory.
// Use lode.NewMemoryFactory() for testing.
func NewSpool(dataset string, factory lode.StoreFactory) (*Spool, error) {
	if dataset == "" {
		dataset = DefaultDataset
	}
	ds, err := NewDataset(dataset, factory)
	if err != nil {
		return nil, wrap("init", dataset, err)
	}
	return &Spool{dataset: ds, name: dataset, now: time.Now}, nil
}

// NewFSSpool creates a spool rooted at dir.
func NewFSSpool(dir string) (*Spool, error) {
	return NewSpool(DefaultDataset, lode.NewFSFactory(dir))
}

// Append writes env as one record.
func (s *Spool) Append(ctx context.Context, env *types.EventEnvelope) error {
	return s.AppendBatch(ctx, []*types.EventEnvelope{env})
}

// AppendBatch writes envs as one snapshot. Read returns them in slice
// order even though the Hive layout splits them across partition files.
func (s *Spool) AppendBatch(ctx context.Context, envs []*types.EventEnvelope) error {
	if len(envs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stamp := max(now.UnixNano(), s.last+1)
	records := make([]any, 0, len(envs))
	for i, env := range envs {
		rec, err := toRecord(env, now)
		if err != nil {
			return err
		}
		rec[keySeq] = fmt.Sprintf("%019d", stamp+int64(i))
		records = append(records, rec)
	}

	if _, err := s.dataset.Write(ctx, records, lode.Metadata{}); err != nil {
		return wrap("append", s.name, err)
	}
	s.last = stamp + int64(len(envs)) - 1
	return nil
}

// toRecord flattens env into a spool record. The envelope itself is kept
// as a JSON string so it round-trips without loss; the other fields exist
// for partitioning and filtering.
func toRecord(env *types.EventEnvelope, now time.Time) (map[string]any, error) {
	doc, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("spool: encode envelope %s: %w", env.EventID, err)
	}
	return map[string]any{
		KeyDay:       dayOf(env.Ts, now),
		KeyEventType: string(env.EventType),
		"event_id":   env.EventID,
		"run_id":     env.RunID,
		"session_id": env.SessionID,
		"ts":         env.Ts,
		"envelope":   string(doc),
	}, nil
}

// Filter selects spooled envelopes. Empty fields match everything.
type Filter struct {
	Day       string
	EventType string
	RunID     string
	SessionID string
}

func (f Filter) matches(rec map[string]any) bool {
	return matchField(rec, KeyDay, f.Day) &&
		matchField(rec, KeyEventType, f.EventType) &&
		matchField(rec, "run_id", f.RunID) &&
		matchField(rec, "session_id", f.SessionID)
}

func matchField(rec map[string]any, key, want string) bool {
	return want == "" || toString(rec[key]) == want
}

type spooled struct {
	seq string
	env *types.EventEnvelope
}

// Read returns spooled envelopes matching f in append order.
func (s *Spool) Read(ctx context.Context, f Filter) ([]*types.EventEnvelope, error) {
	snapshots, err := s.dataset.Snapshots(ctx)
	if err != nil {
		return nil, wrap("read", s.name+"/snapshots", err)
	}

	var found []spooled
	for _, snap := range snapshots {
		if !snapshotMatchesFilter(snap, KeyDay, f.Day) || !snapshotMatchesFilter(snap, KeyEventType, f.EventType) {
			continue
		}
		data, err := s.dataset.Read(ctx, snap.ID)
		if err != nil {
			return nil, wrap("read", fmt.Sprintf("%s/snapshot/%s", s.name, snap.ID), err)
		}
		// Manifest paths are a coarse pre-filter; record fields are
		// authoritative.
		for _, item := range data {
			rec, ok := item.(map[string]any)
			if !ok || !f.matches(rec) {
				continue
			}
			env, err := fromRecord(rec)
			if err != nil {
				return nil, err
			}
			found = append(found, spooled{seq: toString(rec[keySeq]), env: env})
		}
	}

	// Snapshots come back by creation time, and records within one
	// snapshot grouped by partition file.
	slices.SortStableFunc(found, func(a, b spooled) int { return cmp.Compare(a.seq, b.seq) })
	out := make([]*types.EventEnvelope, len(found))
	for i, sp := range found {
		out[i] = sp.env
	}
	return out, nil
}

// Tail returns the last n envelopes matching f, oldest first.
// n <= 0 returns all of them.
func (s *Spool) Tail(ctx context.Context, f Filter, n int) ([]*types.EventEnvelope, error) {
	all, err := s.Read(ctx, f)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

// Close releases spool resources.
func (s *Spool) Close() error {
	// Dataset doesn't require explicit close in current Lode API
	return nil
}

func fromRecord(rec map[string]any) (*types.EventEnvelope, error) {
	doc := toString(rec["envelope"])
	if doc == "" {
		return nil, fmt.Errorf("spool: record %v has no envelope", rec["event_id"])
	}
	var env types.EventEnvelope
	if err := json.Unmarshal([]byte(doc), &env); err != nil {
		return nil, fmt.Errorf("spool: decode envelope %v: %w", rec["event_id"], err)
	}
	return &env, nil
}

// snapshotMatchesFilter checks if a snapshot's file paths match
// the given partition key=value filter.
func snapshotMatchesFilter(snap *lode.DatasetSnapshot, key, value string) bool {
	if value == "" {
		return true
	}
	for _, f := range snap.Manifest.Files {
		if matchesPartitionValue(f.Path, key, value) {
			return true
		}
	}
	return false
}

// matchesPartitionValue checks if a Hive-partitioned path contains an exact
// key=value segment, so day=2026-01-1 does not match day=2026-01-10.
func matchesPartitionValue(path, key, value string) bool {
	segment := key + "=" + value
	for _, part := range strings.Split(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}

// toString converts a value to string, returning empty string for nil/non-string.
func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
