// Package redis is a shared storage.Backend on Redis.
//
// Each partition uses two keys: a hash of msgpack-encoded records keyed by
// id, and a sorted set recording first-insertion order. Several bridge
// instances may share one Redis.
package redis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/zotel/storage"
)

// DefaultPrefix namespaces every key written by the backend.
const DefaultPrefix = "zotel"

// Config configures the Redis backend.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Prefix namespaces keys (default: zotel).
	Prefix string
}

// Backend stores partitions in Redis.
type Backend struct {
	client *goredis.Client
	prefix string
}

type storedRecord struct {
	ID       string         `msgpack:"id"`
	Document string         `msgpack:"document"`
	Metadata map[string]any `msgpack:"metadata"`
}

// New connects to Redis. The connection is verified with PING.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis backend requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis backend: invalid URL: %w", err)
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis backend: ping: %w", err)
	}
	return &Backend{client: client, prefix: cfg.Prefix}, nil
}

func (b *Backend) recordsKey(p storage.Partition) string { return b.prefix + ":" + string(p) + ":records" }
func (b *Backend) orderKey(p storage.Partition) string   { return b.prefix + ":" + string(p) + ":order" }
func (b *Backend) seqKey() string                        { return b.prefix + ":seq" }

// Add inserts rec, failing with storage.ErrExists on an id collision.
func (b *Backend) Add(ctx context.Context, p storage.Partition, rec storage.Record) error {
	payload, err := encode(p, rec)
	if err != nil {
		return err
	}
	created, err := b.client.HSetNX(ctx, b.recordsKey(p), rec.ID, payload).Result()
	if err != nil {
		return fmt.Errorf("redis backend: add %s/%s: %w", p, rec.ID, err)
	}
	if !created {
		return fmt.Errorf("%s/%s: %w", p, rec.ID, storage.ErrExists)
	}
	return b.recordOrder(ctx, p, rec.ID)
}

// Upsert inserts or replaces rec. A replaced record keeps its position.
func (b *Backend) Upsert(ctx context.Context, p storage.Partition, rec storage.Record) error {
	payload, err := encode(p, rec)
	if err != nil {
		return err
	}
	if err := b.client.HSet(ctx, b.recordsKey(p), rec.ID, payload).Err(); err != nil {
		return fmt.Errorf("redis backend: upsert %s/%s: %w", p, rec.ID, err)
	}
	return b.recordOrder(ctx, p, rec.ID)
}

// recordOrder adds id to the order set unless it is already there.
func (b *Backend) recordOrder(ctx context.Context, p storage.Partition, id string) error {
	seq, err := b.client.Incr(ctx, b.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("redis backend: sequence: %w", err)
	}
	err = b.client.ZAddNX(ctx, b.orderKey(p), goredis.Z{Score: float64(seq), Member: id}).Err()
	if err != nil {
		return fmt.Errorf("redis backend: order %s/%s: %w", p, id, err)
	}
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
	if _, err := storage.ParsePartition(string(p)); err != nil {
		return 0, err
	}
	n, err := b.client.HLen(ctx, b.recordsKey(p)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis backend: count %s: %w", p, err)
	}
	return int(n), nil
}

// Close releases the client.
func (b *Backend) Close() error {
	return b.client.Close()
}

func (b *Backend) filtered(ctx context.Context, p storage.Partition, filter storage.Filter) ([]storage.Record, error) {
	if _, err := storage.ParsePartition(string(p)); err != nil {
		return nil, err
	}
	ids, err := b.client.ZRange(ctx, b.orderKey(p), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis backend: order %s: %w", p, err)
	}
	if len(ids) == 0 {
		return []storage.Record{}, nil
	}
	values, err := b.client.HMGet(ctx, b.recordsKey(p), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis backend: load %s: %w", p, err)
	}

	out := make([]storage.Record, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			// Order entry without a record: a concurrent Add has not
			// finished, or the hash was edited out of band.
			continue
		}
		rec, err := decode([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("redis backend: decode %s/%s: %w", p, ids[i], err)
		}
		if filter.Matches(rec.Metadata) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func encode(p storage.Partition, rec storage.Record) ([]byte, error) {
	if err := storage.ValidateRecord(p, rec); err != nil {
		return nil, err
	}
	b, err := msgpack.Marshal(storedRecord{
		ID:       rec.ID,
		Document: rec.Document,
		Metadata: storage.CloneMetadata(rec.Metadata),
	})
	if err != nil {
		return nil, fmt.Errorf("redis backend: encode: %w", err)
	}
	return b, nil
}

func decode(data []byte) (storage.Record, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	var sr storedRecord
	if err := dec.Decode(&sr); err != nil {
		return storage.Record{}, err
	}
	meta := make(storage.Metadata, len(sr.Metadata))
	for k, v := range sr.Metadata {
		meta[k] = normalizeScalar(v)
	}
	return storage.Record{ID: sr.ID, Document: sr.Document, Metadata: meta}, nil
}

// normalizeScalar folds decoded integers onto int64 so metadata round-trips
// with the same types the memory and sqlite backends return.
func normalizeScalar(v any) any {
	switch t := v.(type) {
	case uint64:
		if t <= math.MaxInt64 {
			return int64(t)
		}
		return float64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

// Verify Backend implements storage.Backend.
var _ storage.Backend = (*Backend)(nil)
