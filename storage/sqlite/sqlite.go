// Package sqlite is a durable storage.Backend on an embedded SQLite file.
//
// Records live in one table keyed by (collection, id), where collection
// is the partition name. Metadata is kept twice: as a JSON column that
// preserves scalar types, and flattened into record_meta as strings so
// equality filters run in SQL.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/pithecene-io/zotel/storage"
)

// Backend stores partitions in a SQLite database.
type Backend struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies
// migrations. The parent directory is created.
func Open(path string) (*Backend, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// SQLite admits a single writer.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &Backend{db: db}, nil
}

// Add inserts rec, failing with storage.ErrExists on an id collision.
func (b *Backend) Add(ctx context.Context, p storage.Partition, rec storage.Record) error {
	return b.write(ctx, p, rec, false)
}

// Upsert inserts or replaces rec. A replaced record keeps its position.
func (b *Backend) Upsert(ctx context.Context, p storage.Partition, rec storage.Record) error {
	return b.write(ctx, p, rec, true)
}

func (b *Backend) write(ctx context.Context, p storage.Partition, rec storage.Record, replace bool) error {
	if err := storage.ValidateRecord(p, rec); err != nil {
		return err
	}
	meta, err := json.Marshal(storage.CloneMetadata(rec.Metadata))
	if err != nil {
		return fmt.Errorf("sqlite: marshal metadata: %w", err)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt := `INSERT INTO records(collection, id, document, metadata) VALUES (?, ?, ?, ?)
		ON CONFLICT(collection, id) DO NOTHING`
	if replace {
		stmt = `INSERT INTO records(collection, id, document, metadata) VALUES (?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET document = excluded.document, metadata = excluded.metadata`
	}
	res, err := tx.ExecContext(ctx, stmt, string(p), rec.ID, rec.Document, string(meta))
	if err != nil {
		return fmt.Errorf("sqlite: write %s/%s: %w", p, rec.ID, err)
	}
	if !replace {
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("sqlite: rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%s/%s: %w", p, rec.ID, storage.ErrExists)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM record_meta WHERE collection = ? AND id = ?`, string(p), rec.ID); err != nil {
		return fmt.Errorf("sqlite: clear metadata: %w", err)
	}
	for k, v := range rec.Metadata {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO record_meta(collection, id, meta_key, meta_value) VALUES (?, ?, ?, ?)`,
			string(p), rec.ID, k, storage.FormatValue(v)); err != nil {
			return fmt.Errorf("sqlite: index metadata: %w", err)
		}
	}
	return tx.Commit()
}

// Get returns matching records in insertion order.
func (b *Backend) Get(ctx context.Context, p storage.Partition, filter storage.Filter, limit, offset int) ([]storage.Record, error) {
	if _, err := storage.ParsePartition(string(p)); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}
	where, args := filterClause(p, filter)
	args = append(args, limit, offset)
	return b.selectRecords(ctx, `SELECT id, document, metadata FROM records r WHERE `+where+
		` ORDER BY seq LIMIT ? OFFSET ?`, args...)
}

// Query ranks matching embeddings by relevance to text.
func (b *Backend) Query(ctx context.Context, p storage.Partition, text string, filter storage.Filter, limit int) ([]storage.Record, error) {
	if err := storage.CheckQueryable(p); err != nil {
		return nil, err
	}
	where, args := filterClause(p, filter)
	recs, err := b.selectRecords(ctx, `SELECT id, document, metadata FROM records r WHERE `+where+` ORDER BY seq`, args...)
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
	var n int
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE collection = ?`, string(p)).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count %s: %w", p, err)
	}
	return n, nil
}

// Close closes the database.
func (b *Backend) Close() error {
	return b.db.Close()
}

func (b *Backend) selectRecords(ctx context.Context, query string, args ...any) ([]storage.Record, error) {
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: select: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []storage.Record{}
	for rows.Next() {
		var rec storage.Record
		var meta string
		if err := rows.Scan(&rec.ID, &rec.Document, &meta); err != nil {
			return nil, fmt.Errorf("sqlite: scan: %w", err)
		}
		rec.Metadata, err = decodeMetadata(meta)
		if err != nil {
			return nil, fmt.Errorf("sqlite: decode metadata of %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: rows: %w", err)
	}
	return out, nil
}

// filterClause builds the WHERE clause for partition p and filter f.
// An empty wanted value also matches records lacking the key.
func filterClause(p storage.Partition, f storage.Filter) (string, []any) {
	clauses := []string{"r.collection = ?"}
	args := []any{string(p)}

	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if f[k] == "" {
			clauses = append(clauses, `NOT EXISTS (SELECT 1 FROM record_meta m
				WHERE m.collection = r.collection AND m.id = r.id AND m.meta_key = ? AND m.meta_value <> '')`)
			args = append(args, k)
			continue
		}
		clauses = append(clauses, `EXISTS (SELECT 1 FROM record_meta m
			WHERE m.collection = r.collection AND m.id = r.id AND m.meta_key = ? AND m.meta_value = ?)`)
		args = append(args, k, f[k])
	}
	return strings.Join(clauses, " AND "), args
}

// decodeMetadata restores scalar types: integral numbers become int64,
// other numbers float64.
func decodeMetadata(s string) (storage.Metadata, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	out := make(storage.Metadata, len(raw))
	for k, v := range raw {
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				out[k] = i
				continue
			}
			f, err := n.Float64()
			if err != nil {
				return nil, err
			}
			out[k] = f
			continue
		}
		out[k] = v
	}
	return out, nil
}

// Verify Backend implements storage.Backend.
var _ storage.Backend = (*Backend)(nil)
