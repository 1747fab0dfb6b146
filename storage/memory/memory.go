// Package memory is an in-process storage.Backend for tests and
// single-node deployments that do not need durability.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/pithecene-io/zotel/storage"
)

type partition struct {
	order []string
	recs  map[string]storage.Record
}

// Backend keeps every partition in memory behind a single RWMutex.
type Backend struct {
	mu    sync.RWMutex
	parts map[storage.Partition]*partition
}

// New returns an empty Backend.
func New() *Backend {
	b := &Backend{parts: make(map[storage.Partition]*partition)}
	for _, p := range storage.Partitions() {
		b.parts[p] = &partition{recs: make(map[string]storage.Record)}
	}
	return b
}

// Add inserts rec, failing with storage.ErrExists on an id collision.
func (b *Backend) Add(ctx context.Context, p storage.Partition, rec storage.Record) error {
	return b.put(ctx, p, rec, false)
}

// Upsert inserts or replaces rec. A replaced record keeps its position.
func (b *Backend) Upsert(ctx context.Context, p storage.Partition, rec storage.Record) error {
	return b.put(ctx, p, rec, true)
}

func (b *Backend) put(ctx context.Context, p storage.Partition, rec storage.Record, replace bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.ValidateRecord(p, rec); err != nil {
		return err
	}
	rec.Metadata = storage.CloneMetadata(rec.Metadata)
	rec.Distance = 0

	b.mu.Lock()
	defer b.mu.Unlock()
	part := b.parts[p]
	if _, ok := part.recs[rec.ID]; ok {
		if !replace {
			return fmt.Errorf("%s/%s: %w", p, rec.ID, storage.ErrExists)
		}
	} else {
		part.order = append(part.order, rec.ID)
	}
	part.recs[rec.ID] = rec
	return nil
}

// Get returns matching records in insertion order.
func (b *Backend) Get(ctx context.Context, p storage.Partition, filter storage.Filter, limit, offset int) ([]storage.Record, error) {
	recs, err := b.filtered(ctx, p, filter)
	if err != nil {
		return nil, err
	}
	return storage.Page(recs, limit, offset), nil
}

// Query ranks matching embeddings by relevance to text.
func (b *Backend) Query(ctx context.Context, p storage.Partition, text string, filter storage.Filter, limit int) ([]storage.Record, error) {
	if err := storage.CheckQueryable(p); err != nil {
		return nil, err
	}
	recs, err := b.filtered(ctx, p, filter)
	if err != nil {
		return nil, err
	}
	return storage.RankRecords(text, recs, limit), nil
}

// Count returns the number of records in p.
func (b *Backend) Count(ctx context.Context, p storage.Partition) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if _, err := storage.ParsePartition(string(p)); err != nil {
		return 0, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.parts[p].recs), nil
}

// Close is a no-op.
func (b *Backend) Close() error { return nil }

func (b *Backend) filtered(ctx context.Context, p storage.Partition, filter storage.Filter) ([]storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := storage.ParsePartition(string(p)); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	part := b.parts[p]
	var out []storage.Record
	for _, id := range part.order {
		rec := part.recs[id]
		if filter.Matches(rec.Metadata) {
			rec.Metadata = storage.CloneMetadata(rec.Metadata)
			out = append(out, rec)
		}
	}
	return out, nil
}

// Verify Backend implements storage.Backend.
var _ storage.Backend = (*Backend)(nil)
