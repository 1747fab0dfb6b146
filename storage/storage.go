// Package storage defines the partitioned document store the ingestion
// pipeline writes into.
//
// A Backend holds four independent partitions. Each record has an id, a
// document body and flat scalar metadata used for equality filtering.
// Only the embeddings partition supports relevance-ranked text queries.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// Partition names a logical collection within a Backend.
type Partition string

// Partitions written by the router.
const (
	PartitionEvents     Partition = "events"
	PartitionEmbeddings Partition = "embeddings"
	PartitionArtifacts  Partition = "artifacts"
	PartitionAgentState Partition = "agent_state"
)

var partitions = []Partition{
	PartitionEvents,
	PartitionEmbeddings,
	PartitionArtifacts,
	PartitionAgentState,
}

// Partitions returns all partitions in a stable order.
func Partitions() []Partition {
	out := make([]Partition, len(partitions))
	copy(out, partitions)
	return out
}

// ParsePartition validates a partition name.
func ParsePartition(s string) (Partition, error) {
	for _, p := range partitions {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPartition, s)
}

// Query paging limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// ClampLimit maps a requested page size onto [1, MaxLimit], treating
// non-positive values as DefaultLimit.
func ClampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultLimit
	case n > MaxLimit:
		return MaxLimit
	default:
		return n
	}
}

// Sentinel errors. Use errors.Is for classification.
var (
	// ErrExists is returned by Add when the id is already present.
	ErrExists = errors.New("record already exists")
	// ErrUnsupported is returned for operations a partition does not offer.
	ErrUnsupported = errors.New("operation not supported")
	// ErrInvalidMetadata is returned when metadata holds a non-scalar value.
	ErrInvalidMetadata = errors.New("metadata values must be scalar")
	// ErrUnknownPartition is returned for unrecognised partition names.
	ErrUnknownPartition = errors.New("unknown partition")
)

// Metadata is flat, scalar-valued record metadata.
type Metadata map[string]any

// Record is one stored document.
type Record struct {
	ID       string   `json:"id"`
	Document string   `json:"document"`
	Metadata Metadata `json:"metadata"`
	// Distance is set by Query; lower is more relevant.
	Distance float64 `json:"distance,omitempty"`
}

// Filter selects records whose metadata equals every given value.
// Values are compared in their string form.
type Filter map[string]string

// Backend is a partitioned document store. Implementations must be safe
// for concurrent use.
type Backend interface {
	// Add inserts rec and fails with ErrExists if the id is taken.
	Add(ctx context.Context, p Partition, rec Record) error
	// Upsert inserts or replaces rec.
	Upsert(ctx context.Context, p Partition, rec Record) error
	// Get returns records matching filter in insertion order.
	Get(ctx context.Context, p Partition, filter Filter, limit, offset int) ([]Record, error)
	// Query ranks records by relevance to text. Only PartitionEmbeddings
	// supports it; others return ErrUnsupported.
	Query(ctx context.Context, p Partition, text string, filter Filter, limit int) ([]Record, error)
	// Count returns the number of records in p.
	Count(ctx context.Context, p Partition) (int, error)
	// Close releases backend resources.
	Close() error
}

// ValidateMetadata rejects non-scalar metadata values.
func ValidateMetadata(m Metadata) error {
	for k, v := range m {
		switch v.(type) {
		case nil, string, bool, int, int32, int64, float32, float64:
		default:
			return fmt.Errorf("%w: key %q has type %T", ErrInvalidMetadata, k, v)
		}
	}
	return nil
}

// ValidateRecord checks the invariants every backend enforces on writes.
func ValidateRecord(p Partition, rec Record) error {
	if _, err := ParsePartition(string(p)); err != nil {
		return err
	}
	if rec.ID == "" {
		return errors.New("record id is required")
	}
	return ValidateMetadata(rec.Metadata)
}

// FormatValue renders a scalar metadata value for filter comparison.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// Matches reports whether m satisfies every condition in f.
func (f Filter) Matches(m Metadata) bool {
	for k, want := range f {
		if FormatValue(m[k]) != want {
			return false
		}
	}
	return true
}

// Page applies offset and limit to an already filtered slice.
func Page(recs []Record, limit, offset int) []Record {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(recs) {
		return []Record{}
	}
	recs = recs[offset:]
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs
}

// CloneMetadata copies m so callers cannot alias stored state.
func CloneMetadata(m Metadata) Metadata {
	if m == nil {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
