// Package metrics records pipeline health counters.
//
// Components depend on the Sink interface and receive an instance at
// construction. There is no package-level state: a process owns one
// Recorder (optionally fanned out to OpenTelemetry with Multi) for its
// lifetime, and counters reset on restart.
package metrics

// Counter names.
const (
	TotalRequests  = "total_requests"
	IngestCount    = "ingest_count"
	QueryCount     = "query_count"
	ErrorCount     = "error_count"
	DuplicateCount = "duplicate_count"
)

// Latency is the observation name for request latency in seconds.
const Latency = "latency_seconds"

// Counters lists every counter name in exposition order.
func Counters() []string {
	return []string{TotalRequests, IngestCount, QueryCount, ErrorCount, DuplicateCount}
}

// Sink receives counter increments and observations.
// Implementations must be safe for concurrent use.
type Sink interface {
	Increment(name string)
	Observe(name string, value float64)
}

// Nop discards everything.
type Nop struct{}

// Increment implements Sink.
func (Nop) Increment(string) {}

// Observe implements Sink.
func (Nop) Observe(string, float64) {}

type multi []Sink

func (m multi) Increment(name string) {
	for _, s := range m {
		s.Increment(name)
	}
}

func (m multi) Observe(name string, value float64) {
	for _, s := range m {
		s.Observe(name, value)
	}
}

// Multi fans out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}
