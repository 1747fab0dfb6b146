package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/pithecene-io/zotel/storage"
)

// Outcome is the result class of a duplicate check.
type Outcome int

const (
	// NotDuplicate means no stored event carries the hash.
	NotDuplicate Outcome = iota
	// Duplicate means an event with the hash is already stored.
	Duplicate
	// CheckFailed means the backend lookup failed.
	CheckFailed
)

func (o Outcome) String() string {
	switch o {
	case NotDuplicate:
		return "not_duplicate"
	case Duplicate:
		return "duplicate"
	case CheckFailed:
		return "check_failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// DedupResult reports a duplicate check. Err is set only for CheckFailed.
type DedupResult struct {
	Outcome Outcome
	Err     error
}

// FailurePolicy decides how the pipeline treats CheckFailed.
type FailurePolicy string

const (
	// FailOpen ingests as if the event were new.
	FailOpen FailurePolicy = "open"
	// FailClosed rejects the ingestion.
	FailClosed FailurePolicy = "closed"
)

// ParseFailurePolicy accepts "open" or "closed" (case-insensitive).
// Empty means FailOpen.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", FailOpen:
		return FailOpen, nil
	case FailClosed:
		return FailClosed, nil
	default:
		return "", fmt.Errorf("invalid dedup failure policy %q (want open or closed)", s)
	}
}

// Gate looks up content hashes in the events partition.
// There is no freshness window: any stored event with the hash matches.
type Gate struct {
	backend storage.Backend
}

// NewGate creates a Gate over backend.
func NewGate(backend storage.Backend) *Gate {
	return &Gate{backend: backend}
}

// Check reports whether hash is already stored. An empty hash is never a
// duplicate.
func (g *Gate) Check(ctx context.Context, hash string) DedupResult {
	if hash == "" {
		return DedupResult{Outcome: NotDuplicate}
	}
	recs, err := g.backend.Get(ctx, storage.PartitionEvents, storage.Filter{"hash": hash}, 1, 0)
	if err != nil {
		return DedupResult{Outcome: CheckFailed, Err: err}
	}
	if len(recs) > 0 {
		return DedupResult{Outcome: Duplicate}
	}
	return DedupResult{Outcome: NotDuplicate}
}
