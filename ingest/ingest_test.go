package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/zotel/envelope"
	"github.com/pithecene-io/zotel/metrics"
	"github.com/pithecene-io/zotel/storage"
	"github.com/pithecene-io/zotel/storage/memory"
	"github.com/pithecene-io/zotel/types"
)

// faultyBackend wraps a backend and fails selected operations.
type faultyBackend struct {
	storage.Backend

	mu       sync.Mutex
	failGet  error
	failPart map[storage.Partition]error
	calls    int
}

func (f *faultyBackend) fault(p storage.Partition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.failPart[p]
}

func (f *faultyBackend) Add(ctx context.Context, p storage.Partition, rec storage.Record) error {
	if err := f.fault(p); err != nil {
		return err
	}
	return f.Backend.Add(ctx, p, rec)
}

func (f *faultyBackend) Upsert(ctx context.Context, p storage.Partition, rec storage.Record) error {
	if err := f.fault(p); err != nil {
		return err
	}
	return f.Backend.Upsert(ctx, p, rec)
}

func (f *faultyBackend) Get(ctx context.Context, p storage.Partition, filter storage.Filter, limit, offset int) ([]storage.Record, error) {
	f.mu.Lock()
	f.calls++
	err := f.failGet
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Backend.Get(ctx, p, filter, limit, offset)
}

func newFaulty() *faultyBackend {
	return &faultyBackend{Backend: memory.New(), failPart: map[storage.Partition]error{}}
}

func testBuilder() *envelope.Builder {
	var n int
	return envelope.NewBuilder(envelope.Config{
		Hostname: func() (string, error) { return "devbox", nil },
		Getwd:    func() (string, error) { return "/work", nil },
		Now:      func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) },
		NewID: func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		},
	})
}

func build(t *testing.T, b *envelope.Builder, p envelope.Params) *types.EventEnvelope {
	t.Helper()
	env, err := b.Build(p)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return env
}

func count(t *testing.T, b storage.Backend, p storage.Partition) int {
	t.Helper()
	n, err := b.Count(t.Context(), p)
	if err != nil {
		t.Fatalf("count %s: %v", p, err)
	}
	return n
}

func TestRoute_ArtifactWithTwoRefs(t *testing.T) {
	env := build(t, testBuilder(), envelope.Params{
		EventType: types.EventTypeArtifact,
		SessionID: "s1",
		RunID:     "r1",
		Msg:       "Artifact produced: out.txt",
		ArtifactRefs: []types.ArtifactRef{
			{Path: "~/out.txt", Type: "file", Hash: "sha256:abc", SizeBytes: 5},
			{Path: "~/gone.txt", Type: "file", Hash: envelope.UnknownArtifactHash},
		},
	})

	writes, err := Route(env)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	got := make([]string, len(writes))
	for i, w := range writes {
		got[i] = string(w.Partition) + ":" + w.ID
	}
	want := []string{
		"events:" + env.EventID,
		"embeddings:" + env.EventID + "_emb",
		"artifacts:sha256:abc",
		"artifacts:" + env.EventID + "_artifact_1",
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("writes = %v, want %v", got, want)
	}

	if !writes[0].Primary || writes[0].Mode != ModeInsert {
		t.Errorf("events write = %+v, want primary insert", writes[0])
	}
	for _, w := range writes[1:] {
		if w.Primary {
			t.Errorf("%s write marked primary", w.Partition)
		}
	}
	if writes[2].Mode != ModeUpsert {
		t.Errorf("artifact mode = %s, want upsert", writes[2].Mode)
	}
	if writes[2].Metadata["size_bytes"] != int64(5) || writes[2].Metadata["event_id"] != env.EventID {
		t.Errorf("artifact metadata = %v", writes[2].Metadata)
	}
	if writes[1].Document != env.IndexableText {
		t.Errorf("embedding document = %q, want indexable text", writes[1].Document)
	}

	var decoded types.EventEnvelope
	if err := json.Unmarshal([]byte(writes[0].Document), &decoded); err != nil {
		t.Fatalf("events document is not an envelope: %v", err)
	}
	if decoded.Hash != env.Hash {
		t.Errorf("decoded hash = %q, want %q", decoded.Hash, env.Hash)
	}
}

func TestRoute_EventMetadataFillsMissing(t *testing.T) {
	env := build(t, testBuilder(), envelope.Params{EventType: types.EventTypeProgress, SessionID: "s1"})
	writes, err := Route(env)
	if err != nil {
		t.Fatal(err)
	}
	if len(writes) != 1 {
		t.Fatalf("progress without worker: %d writes, want 1", len(writes))
	}
	meta := writes[0].Metadata
	for _, k := range []string{"event_id", "ts", "event_type", "level", "run_id", "session_id", "worker_id", "task_id", "tool_name", "hash"} {
		if _, ok := meta[k]; !ok {
			t.Errorf("metadata missing %q", k)
		}
	}
	if meta["worker_id"] != "" || meta["level"] != "info" {
		t.Errorf("metadata = %v", meta)
	}
}

func TestRoute_AgentState(t *testing.T) {
	env := build(t, testBuilder(), envelope.Params{
		EventType: types.EventTypeWorkerSpawn,
		RunID:     "r1",
		WorkerID:  "w1",
		TaskID:    "t1",
		Msg:       "spawned",
	})
	writes, err := Route(env)
	if err != nil {
		t.Fatal(err)
	}

	// worker_spawn is both semantic and state-tracking.
	if len(writes) != 3 {
		t.Fatalf("got %d writes, want 3", len(writes))
	}
	st := writes[2]
	if st.Partition != storage.PartitionAgentState || st.ID != "r1_w1" || st.Mode != ModeUpsert {
		t.Fatalf("agent state write = %+v", st)
	}
	var snap types.AgentStateSnapshot
	if err := json.Unmarshal([]byte(st.Document), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Status != "spawned" || snap.TaskID != "t1" || snap.LastHeartbeat != env.Ts {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestRoute_AgentStateStatusIsMsg(t *testing.T) {
	env := build(t, testBuilder(), envelope.Params{
		EventType: types.EventTypeWorkerHeartbeat,
		RunID:     "r1",
		WorkerID:  "w1",
		Msg:       "busy",
		Data:      types.Object(map[string]types.Value{"status": types.String("idle")}),
	})
	writes, err := Route(env)
	if err != nil {
		t.Fatal(err)
	}
	st := writes[len(writes)-1]
	if st.Partition != storage.PartitionAgentState {
		t.Fatalf("last write = %+v, want agent_state", st)
	}
	var snap types.AgentStateSnapshot
	if err := json.Unmarshal([]byte(st.Document), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Status != "busy" {
		t.Errorf("status = %q, want msg busy", snap.Status)
	}

	env.Msg = ""
	writes, err = Route(env)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(writes[len(writes)-1].Document), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Status != "" {
		t.Errorf("status without msg = %q, want empty", snap.Status)
	}
}

func TestRoute_NonSemanticSkipsEmbeddings(t *testing.T) {
	env := build(t, testBuilder(), envelope.Params{EventType: types.EventTypeToolInvocation, Msg: "ran tool"})
	writes, err := Route(env)
	if err != nil {
		t.Fatal(err)
	}
	if len(writes) != 1 || writes[0].Partition != storage.PartitionEvents {
		t.Errorf("writes = %+v, want events only", writes)
	}
}

func TestGate_Check(t *testing.T) {
	backend := memory.New()
	ctx := t.Context()
	if err := backend.Add(ctx, storage.PartitionEvents, storage.Record{ID: "e1", Metadata: storage.Metadata{"hash": "h1"}}); err != nil {
		t.Fatal(err)
	}
	g := NewGate(backend)

	if got := g.Check(ctx, "h1").Outcome; got != Duplicate {
		t.Errorf("h1 = %s, want duplicate", got)
	}
	if got := g.Check(ctx, "h2").Outcome; got != NotDuplicate {
		t.Errorf("h2 = %s, want not_duplicate", got)
	}
	if got := g.Check(ctx, "").Outcome; got != NotDuplicate {
		t.Errorf("empty hash = %s, want not_duplicate", got)
	}

	faulty := newFaulty()
	faulty.failGet = errors.New("connection refused")
	res := NewGate(faulty).Check(ctx, "h1")
	if res.Outcome != CheckFailed || res.Err == nil {
		t.Errorf("failing backend = %+v, want check_failed with error", res)
	}
}

func TestParseFailurePolicy(t *testing.T) {
	for in, want := range map[string]FailurePolicy{"": FailOpen, "open": FailOpen, " Closed ": FailClosed} {
		got, err := ParseFailurePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParseFailurePolicy(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseFailurePolicy("maybe"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestPipeline_ArtifactWrites(t *testing.T) {
	backend := memory.New()
	p := New(Config{Backend: backend})
	env := build(t, testBuilder(), envelope.Params{
		EventType: types.EventTypeArtifact,
		Msg:       "Artifact produced: a",
		ArtifactRefs: []types.ArtifactRef{
			{Path: "a", Hash: "sha256:1"},
			{Path: "b", Hash: "sha256:2"},
		},
	})

	report, err := p.Ingest(t.Context(), env)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if report.Status != StatusSuccess {
		t.Fatalf("status = %s", report.Status)
	}
	if fmt.Sprint(report.Partitions) != "[events embeddings artifacts]" {
		t.Errorf("partitions = %v", report.Partitions)
	}
	if len(report.Writes) != 3 || len(report.Failed()) != 0 {
		t.Errorf("writes = %+v", report.Writes)
	}
	for p, want := range map[storage.Partition]int{
		storage.PartitionEvents:     1,
		storage.PartitionEmbeddings: 1,
		storage.PartitionArtifacts:  2,
		storage.PartitionAgentState: 0,
	} {
		if got := count(t, backend, p); got != want {
			t.Errorf("%s count = %d, want %d", p, got, want)
		}
	}
}

func TestPipeline_HeartbeatsKeepLatestState(t *testing.T) {
	backend := memory.New()
	p := New(Config{Backend: backend})
	b := testBuilder()

	for _, status := range []string{"busy", "idle"} {
		env := build(t, b, envelope.Params{
			EventType: types.EventTypeWorkerHeartbeat,
			RunID:     "r1",
			WorkerID:  "w1",
			Msg:       status,
		})
		if _, err := p.Ingest(t.Context(), env); err != nil {
			t.Fatalf("ingest %s: %v", status, err)
		}
	}

	recs, err := backend.Get(t.Context(), storage.PartitionAgentState, nil, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].ID != "r1_w1" {
		t.Fatalf("agent_state = %+v, want one r1_w1 row", recs)
	}
	var snap types.AgentStateSnapshot
	if err := json.Unmarshal([]byte(recs[0].Document), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Status != "idle" {
		t.Errorf("status = %q, want idle", snap.Status)
	}
	if got := count(t, backend, storage.PartitionEvents); got != 2 {
		t.Errorf("events count = %d, want 2", got)
	}
}

func TestPipeline_Duplicate(t *testing.T) {
	backend := memory.New()
	rec := metrics.NewRecorder()
	p := New(Config{Backend: backend, Metrics: rec})
	b := testBuilder()
	params := envelope.Params{
		EventType: types.EventTypeDecision,
		SessionID: "s1",
		Data:      types.Object(map[string]types.Value{"reasoning": types.String("use cache")}),
	}

	first := build(t, b, params)
	second := build(t, b, params)
	if first.EventID == second.EventID || first.Hash != second.Hash {
		t.Fatalf("setup: ids %s/%s hashes %s/%s", first.EventID, second.EventID, first.Hash, second.Hash)
	}

	if r, err := p.Ingest(t.Context(), first); err != nil || r.Status != StatusSuccess {
		t.Fatalf("first = %+v, %v", r, err)
	}
	r, err := p.Ingest(t.Context(), second)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if r.Status != StatusDuplicate || r.EventID != second.EventID {
		t.Errorf("second = %+v, want duplicate", r)
	}
	if got := count(t, backend, storage.PartitionEvents); got != 1 {
		t.Errorf("events count = %d, want 1", got)
	}

	s := rec.Snapshot()
	if s.IngestCount != 1 || s.DuplicateCount != 1 || s.ErrorCount != 0 {
		t.Errorf("metrics = %+v", s)
	}
	if s.LatencyCount != 1 {
		t.Errorf("latency observations = %d, want 1", s.LatencyCount)
	}
}

func TestPipeline_SecondaryFailureIsIsolated(t *testing.T) {
	backend := newFaulty()
	backend.failPart[storage.PartitionEmbeddings] = errors.New("index down")
	p := New(Config{Backend: backend})
	env := build(t, testBuilder(), envelope.Params{
		EventType: types.EventTypeWorkerSpawn,
		RunID:     "r1",
		WorkerID:  "w1",
		Msg:       "spawned",
	})

	report, err := p.Ingest(t.Context(), env)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if report.Status != StatusSuccess {
		t.Errorf("status = %s, want success", report.Status)
	}
	failed := report.Failed()
	if len(failed) != 1 || failed[0].Write.Partition != storage.PartitionEmbeddings {
		t.Fatalf("failed = %+v", failed)
	}
	if fmt.Sprint(report.Partitions) != "[events agent_state]" {
		t.Errorf("partitions = %v", report.Partitions)
	}
	if got := count(t, backend, storage.PartitionAgentState); got != 1 {
		t.Errorf("agent_state written after embeddings failure: count = %d", got)
	}
}

func TestPipeline_PrimaryFailure(t *testing.T) {
	backend := newFaulty()
	backend.failPart[storage.PartitionEvents] = errors.New("disk full")
	rec := metrics.NewRecorder()
	p := New(Config{Backend: backend, Metrics: rec})
	env := build(t, testBuilder(), envelope.Params{EventType: types.EventTypeError, Msg: "boom"})

	report, err := p.Ingest(t.Context(), env)
	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want *BackendError", err)
	}
	if be.Partition != storage.PartitionEvents || be.Op != ModeInsert {
		t.Errorf("BackendError = %+v", be)
	}
	if report.Status != StatusError {
		t.Errorf("status = %s, want error", report.Status)
	}
	if got := count(t, backend, storage.PartitionEmbeddings); got != 0 {
		t.Errorf("embeddings written after primary failure: %d", got)
	}
	if s := rec.Snapshot(); s.ErrorCount != 1 || s.IngestCount != 0 {
		t.Errorf("metrics = %+v", s)
	}
}

func TestPipeline_CheckFailedPolicy(t *testing.T) {
	tests := []struct {
		policy  FailurePolicy
		wantErr bool
	}{
		{FailOpen, false},
		{FailClosed, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			backend := newFaulty()
			backend.failGet = errors.New("timeout")
			p := New(Config{Backend: backend, FailurePolicy: tt.policy})
			env := build(t, testBuilder(), envelope.Params{EventType: types.EventTypeProgress})

			report, err := p.Ingest(t.Context(), env)
			if tt.wantErr {
				var de *DedupError
				if !errors.As(err, &de) {
					t.Fatalf("err = %v, want *DedupError", err)
				}
				if got := count(t, backend, storage.PartitionEvents); got != 0 {
					t.Errorf("events count = %d, want 0", got)
				}
				return
			}
			if err != nil || report.Status != StatusSuccess {
				t.Fatalf("report = %+v, err = %v", report, err)
			}
			if got := count(t, backend, storage.PartitionEvents); got != 1 {
				t.Errorf("events count = %d, want 1", got)
			}
		})
	}
}

func TestPipeline_ValidationBeforeIO(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*types.EventEnvelope)
		check  func(error) bool
	}{
		{
			name:   "schema version",
			mutate: func(e *types.EventEnvelope) { e.SchemaVersion = "2.0" },
			check: func(err error) bool {
				var se *SchemaVersionError
				return errors.As(err, &se) && se.Version == "2.0"
			},
		},
		{
			name:   "event type",
			mutate: func(e *types.EventEnvelope) { e.EventType = "reboot" },
			check: func(err error) bool {
				var ve *envelope.ValidationError
				return errors.As(err, &ve) && ve.Field == "event_type"
			},
		},
		{
			name:   "agent role",
			mutate: func(e *types.EventEnvelope) { e.AgentRole = "boss" },
			check: func(err error) bool {
				var ve *envelope.ValidationError
				return errors.As(err, &ve) && ve.Field == "agent_role"
			},
		},
		{
			name:   "missing event id",
			mutate: func(e *types.EventEnvelope) { e.EventID = "" },
			check: func(err error) bool {
				var ve *envelope.ValidationError
				return errors.As(err, &ve) && ve.Field == "event_id"
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFaulty()
			p := New(Config{Backend: backend})
			env := build(t, testBuilder(), envelope.Params{EventType: types.EventTypeProgress})
			tt.mutate(env)

			report, err := p.Ingest(t.Context(), env)
			if !tt.check(err) {
				t.Fatalf("unexpected error: %v", err)
			}
			if report.Status != StatusError {
				t.Errorf("status = %s", report.Status)
			}
			if backend.calls != 0 {
				t.Errorf("backend called %d times before validation failed", backend.calls)
			}
		})
	}
}

func TestPipeline_NormalizesLegacyEnvelope(t *testing.T) {
	backend := memory.New()
	p := New(Config{Backend: backend})
	env := &types.EventEnvelope{
		EventID:   "legacy-1",
		Ts:        "2026-01-01T00:00:00.000Z",
		EventType: types.EventTypeDecision,
		Msg:       "picked sqlite",
	}

	report, err := p.Ingest(t.Context(), env)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if report.Status != StatusSuccess {
		t.Fatalf("status = %s", report.Status)
	}
	if env.SchemaVersion != types.SchemaVersion || env.Level != types.LevelInfo || env.Hash == "" {
		t.Errorf("envelope not normalized: %+v", env)
	}
	if got := count(t, backend, storage.PartitionEmbeddings); got != 1 {
		t.Errorf("embeddings count = %d, want 1", got)
	}
}

func TestPipeline_ConcurrentDistinctEvents(t *testing.T) {
	backend := memory.New()
	p := New(Config{Backend: backend, Metrics: metrics.NewRecorder()})

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env := &types.EventEnvelope{
				EventID:       fmt.Sprintf("e-%d", i),
				Ts:            "2026-01-01T00:00:00.000Z",
				SchemaVersion: types.SchemaVersion,
				SessionID:     fmt.Sprintf("s-%d", i),
				EventType:     types.EventTypeProgress,
				Level:         types.LevelInfo,
			}
			if _, err := p.Ingest(context.Background(), env); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("ingest: %v", err)
	}
	if got := count(t, backend, storage.PartitionEvents); got != n {
		t.Errorf("events count = %d, want %d", got, n)
	}
}
