package metrics

import (
	"sync"
	"time"
)

// Snapshot is an immutable point-in-time view of the Recorder.
// Safe to read concurrently after creation.
type Snapshot struct {
	TotalRequests  int64 `json:"total_requests"`
	IngestCount    int64 `json:"ingest_count"`
	QueryCount     int64 `json:"query_count"`
	ErrorCount     int64 `json:"error_count"`
	DuplicateCount int64 `json:"duplicate_count"`

	// LatencySum is the total observed latency in seconds.
	LatencySum   float64 `json:"latency_sum_seconds"`
	LatencyCount int64   `json:"latency_count"`

	StartedAt time.Time `json:"started_at"`
}

// AverageLatency returns the mean observed latency in seconds, or 0 when
// nothing has been observed.
func (s Snapshot) AverageLatency() float64 {
	if s.LatencyCount == 0 {
		return 0
	}
	return s.LatencySum / float64(s.LatencyCount)
}

// Counter returns the value of a named counter.
func (s Snapshot) Counter(name string) int64 {
	switch name {
	case TotalRequests:
		return s.TotalRequests
	case IngestCount:
		return s.IngestCount
	case QueryCount:
		return s.QueryCount
	case ErrorCount:
		return s.ErrorCount
	case DuplicateCount:
		return s.DuplicateCount
	}
	return 0
}

// Recorder accumulates counters in memory.
// Thread-safe via sync.Mutex, held only for the duration of an update.
// All methods are nil-receiver safe. The zero value is ready to use but
// reports a zero StartedAt.
type Recorder struct {
	mu sync.Mutex

	counters     map[string]int64
	latencySum   float64
	latencyCount int64
	startedAt    time.Time
}

// NewRecorder creates a Recorder with every counter at zero.
func NewRecorder() *Recorder {
	return &Recorder{
		counters:  make(map[string]int64),
		startedAt: time.Now().UTC(),
	}
}

// Increment adds one to the named counter. Unknown names are kept but
// only the known counters appear in Snapshot.
func (r *Recorder) Increment(name string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	if r.counters == nil {
		r.counters = make(map[string]int64)
	}
	r.counters[name]++
	r.mu.Unlock()
}

// Observe accumulates value under name. Only Latency is retained.
func (r *Recorder) Observe(name string, value float64) {
	if r == nil || name != Latency {
		return
	}
	r.mu.Lock()
	r.latencySum += value
	r.latencyCount++
	r.mu.Unlock()
}

// ObserveLatency records d as a latency observation.
func (r *Recorder) ObserveLatency(d time.Duration) {
	r.Observe(Latency, d.Seconds())
}

// Snapshot returns a point-in-time copy of all counters.
func (r *Recorder) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	return Snapshot{
		TotalRequests:  r.counters[TotalRequests],
		IngestCount:    r.counters[IngestCount],
		QueryCount:     r.counters[QueryCount],
		ErrorCount:     r.counters[ErrorCount],
		DuplicateCount: r.counters[DuplicateCount],
		LatencySum:     r.latencySum,
		LatencyCount:   r.latencyCount,
		StartedAt:      r.startedAt,
	}
}

// Verify Recorder implements Sink.
var _ Sink = (*Recorder)(nil)
