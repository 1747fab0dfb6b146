// Package storagetest holds a behavioural suite shared by every
// storage.Backend implementation.
package storagetest

import (
	"errors"
	"fmt"
	"testing"

	"github.com/pithecene-io/zotel/storage"
)

// Factory returns a fresh, empty backend. The suite closes it.
type Factory func(t *testing.T) storage.Backend

// Run exercises the storage.Backend contract against backends from f.
func Run(t *testing.T, f Factory) {
	t.Helper()

	t.Run("AddThenGet", func(t *testing.T) { testAddThenGet(t, f(t)) })
	t.Run("AddDuplicate", func(t *testing.T) { testAddDuplicate(t, f(t)) })
	t.Run("UpsertReplaces", func(t *testing.T) { testUpsertReplaces(t, f(t)) })
	t.Run("FilterAndPage", func(t *testing.T) { testFilterAndPage(t, f(t)) })
	t.Run("PartitionsIsolated", func(t *testing.T) { testPartitionsIsolated(t, f(t)) })
	t.Run("QueryEmbeddings", func(t *testing.T) { testQueryEmbeddings(t, f(t)) })
	t.Run("QueryUnsupported", func(t *testing.T) { testQueryUnsupported(t, f(t)) })
	t.Run("RejectsInvalidMetadata", func(t *testing.T) { testRejectsInvalidMetadata(t, f(t)) })
}

func closeBackend(t *testing.T, b storage.Backend) {
	t.Cleanup(func() {
		if err := b.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	})
}

func testAddThenGet(t *testing.T, b storage.Backend) {
	closeBackend(t, b)
	ctx := t.Context()

	rec := storage.Record{
		ID:       "e1",
		Document: `{"event_id":"e1"}`,
		Metadata: storage.Metadata{"event_type": "progress", "size_bytes": int64(12), "remote": true},
	}
	if err := b.Add(ctx, storage.PartitionEvents, rec); err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := b.Get(ctx, storage.PartitionEvents, storage.Filter{"event_type": "progress"}, 10, 0)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
	if got[0].ID != "e1" || got[0].Document != rec.Document {
		t.Errorf("record = %+v", got[0])
	}
	if storage.FormatValue(got[0].Metadata["size_bytes"]) != "12" {
		t.Errorf("size_bytes = %#v", got[0].Metadata["size_bytes"])
	}
	if storage.FormatValue(got[0].Metadata["remote"]) != "true" {
		t.Errorf("remote = %#v", got[0].Metadata["remote"])
	}

	n, err := b.Count(ctx, storage.PartitionEvents)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func testAddDuplicate(t *testing.T, b storage.Backend) {
	closeBackend(t, b)
	ctx := t.Context()

	rec := storage.Record{ID: "dup", Document: "first"}
	if err := b.Add(ctx, storage.PartitionEvents, rec); err != nil {
		t.Fatalf("add: %v", err)
	}
	rec.Document = "second"
	err := b.Add(ctx, storage.PartitionEvents, rec)
	if !errors.Is(err, storage.ErrExists) {
		t.Fatalf("second add err = %v, want ErrExists", err)
	}

	got, err := b.Get(ctx, storage.PartitionEvents, nil, 10, 0)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 1 || got[0].Document != "first" {
		t.Errorf("records = %+v, want the first write only", got)
	}
}

func testUpsertReplaces(t *testing.T, b storage.Backend) {
	closeBackend(t, b)
	ctx := t.Context()

	for _, status := range []string{"active", "blocked"} {
		rec := storage.Record{
			ID:       "r1_w1",
			Document: status,
			Metadata: storage.Metadata{"run_id": "r1", "worker_id": "w1", "status": status},
		}
		if err := b.Upsert(ctx, storage.PartitionAgentState, rec); err != nil {
			t.Fatalf("upsert %s: %v", status, err)
		}
	}

	got, err := b.Get(ctx, storage.PartitionAgentState, storage.Filter{"run_id": "r1"}, 10, 0)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
	if got[0].Document != "blocked" || storage.FormatValue(got[0].Metadata["status"]) != "blocked" {
		t.Errorf("record = %+v, want latest write", got[0])
	}
}

func testFilterAndPage(t *testing.T, b storage.Backend) {
	closeBackend(t, b)
	ctx := t.Context()

	for i := range 5 {
		level := "info"
		if i%2 == 1 {
			level = "error"
		}
		rec := storage.Record{
			ID:       fmt.Sprintf("e%d", i),
			Document: "doc",
			Metadata: storage.Metadata{"level": level, "run_id": "r"},
		}
		if err := b.Add(ctx, storage.PartitionEvents, rec); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}

	info, err := b.Get(ctx, storage.PartitionEvents, storage.Filter{"level": "info", "run_id": "r"}, 10, 0)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ids := recordIDs(info); fmt.Sprint(ids) != "[e0 e2 e4]" {
		t.Errorf("info ids = %v, want [e0 e2 e4]", ids)
	}

	page, err := b.Get(ctx, storage.PartitionEvents, nil, 2, 1)
	if err != nil {
		t.Fatalf("get page: %v", err)
	}
	if ids := recordIDs(page); fmt.Sprint(ids) != "[e1 e2]" {
		t.Errorf("page ids = %v, want [e1 e2]", ids)
	}

	none, err := b.Get(ctx, storage.PartitionEvents, storage.Filter{"level": "debug"}, 10, 0)
	if err != nil {
		t.Fatalf("get none: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no records, got %v", recordIDs(none))
	}
}

func testPartitionsIsolated(t *testing.T, b storage.Backend) {
	closeBackend(t, b)
	ctx := t.Context()

	if err := b.Add(ctx, storage.PartitionEvents, storage.Record{ID: "x", Document: "event"}); err != nil {
		t.Fatalf("add events: %v", err)
	}
	if err := b.Add(ctx, storage.PartitionEmbeddings, storage.Record{ID: "x", Document: "embedding"}); err != nil {
		t.Fatalf("same id in another partition must succeed: %v", err)
	}
	n, err := b.Count(ctx, storage.PartitionArtifacts)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("artifacts count = %d, want 0", n)
	}
}

func testQueryEmbeddings(t *testing.T, b storage.Backend) {
	closeBackend(t, b)
	ctx := t.Context()

	docs := map[string]string{
		"a_emb": "database migration failed | Worker: w1",
		"b_emb": "wrote readme | Worker: w2",
		"c_emb": "migration rollback migration plan | Worker: w1",
	}
	for _, id := range []string{"a_emb", "b_emb", "c_emb"} {
		worker := "w1"
		if id == "b_emb" {
			worker = "w2"
		}
		rec := storage.Record{ID: id, Document: docs[id], Metadata: storage.Metadata{"worker_id": worker}}
		if err := b.Add(ctx, storage.PartitionEmbeddings, rec); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}

	got, err := b.Query(ctx, storage.PartitionEmbeddings, "migration", nil, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if ids := recordIDs(got); fmt.Sprint(ids) != "[c_emb a_emb]" {
		t.Errorf("ids = %v, want [c_emb a_emb]", ids)
	}
	if len(got) == 2 && !(got[0].Distance < got[1].Distance) {
		t.Errorf("distances not ascending: %v, %v", got[0].Distance, got[1].Distance)
	}

	filtered, err := b.Query(ctx, storage.PartitionEmbeddings, "wrote", storage.Filter{"worker_id": "w1"}, 10)
	if err != nil {
		t.Fatalf("filtered query: %v", err)
	}
	if len(filtered) != 0 {
		t.Errorf("filter ignored: %v", recordIDs(filtered))
	}
}

func testQueryUnsupported(t *testing.T, b storage.Backend) {
	closeBackend(t, b)
	_, err := b.Query(t.Context(), storage.PartitionEvents, "anything", nil, 10)
	if !errors.Is(err, storage.ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
}

func testRejectsInvalidMetadata(t *testing.T, b storage.Backend) {
	closeBackend(t, b)
	rec := storage.Record{ID: "bad", Metadata: storage.Metadata{"nested": map[string]any{"a": 1}}}
	err := b.Add(t.Context(), storage.PartitionEvents, rec)
	if !errors.Is(err, storage.ErrInvalidMetadata) {
		t.Errorf("err = %v, want ErrInvalidMetadata", err)
	}
}

func recordIDs(recs []storage.Record) []string {
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return ids
}
