package ingest

import (
	"fmt"
	"strings"

	"github.com/pithecene-io/zotel/storage"
)

// SchemaVersionError rejects an envelope with an unsupported schema_version.
type SchemaVersionError struct {
	Version  string
	Accepted []string
}

func (e *SchemaVersionError) Error() string {
	return fmt.Sprintf("unsupported schema version %q (accepted: %s)", e.Version, strings.Join(quoteAll(e.Accepted), ", "))
}

// BackendError wraps a failed storage call for one partition.
type BackendError struct {
	Partition storage.Partition
	Op        Mode
	Err       error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Partition, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// DedupError rejects an ingestion whose duplicate check failed under
// FailClosed.
type DedupError struct {
	Err error
}

func (e *DedupError) Error() string {
	return fmt.Sprintf("duplicate check failed: %v", e.Err)
}

func (e *DedupError) Unwrap() error { return e.Err }

func quoteAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = fmt.Sprintf("%q", s)
	}
	return out
}
