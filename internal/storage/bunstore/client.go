// Package bunstore is the relational storage backend: rows live in one
// table as CBOR blobs keyed by row id, with a side table indexing string
// fields for equality lookup. Works on SQLite and PostgreSQL through bun.
package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/uptrace/bun"

	"github.com/zathomas/sparsemapcontent/internal/db/bunx"
	"github.com/zathomas/sparsemapcontent/internal/db/models"
	"github.com/zathomas/sparsemapcontent/internal/errdefs"
	"github.com/zathomas/sparsemapcontent/internal/migrations"
	"github.com/zathomas/sparsemapcontent/internal/storage"
)

// maxIndexedValue bounds indexed string values; longer values are stored
// but can only be found by a scan.
const maxIndexedValue = 512

// Client implements storage.Client on a *bun.DB.
type Client struct {
	db      *bun.DB
	hasher  *storage.RowHasher
	backend string
	ownsDB  bool
}

var _ storage.Client = (*Client)(nil)

// New wraps an open database. The caller keeps ownership of db.
func New(db *bun.DB, hasher *storage.RowHasher) *Client {
	return &Client{db: db, hasher: hasher, backend: db.Dialect().Name().String()}
}

// Open connects to dsn, applies pending migrations and returns a client
// that closes the database on Close.
func Open(ctx context.Context, dsn string, maxConns int, hasher *storage.RowHasher) (*Client, error) {
	db, err := bunx.NewDB(dsn, maxConns)
	if err != nil {
		return nil, errdefs.Storage(string(bunx.DetectDatabaseType(dsn)), "open", err)
	}
	if err := migrations.Apply(ctx, db); err != nil {
		bunx.Close(db)
		return nil, errdefs.Storage(string(bunx.DetectDatabaseType(dsn)), "migrate", err)
	}
	c := New(db, hasher)
	c.ownsDB = true
	return c, nil
}

// DB exposes the underlying database for components sharing the pool.
func (c *Client) DB() *bun.DB {
	return c.db
}

func (c *Client) Get(ctx context.Context, keyspace, columnFamily, key string) (storage.Row, error) {
	rec := new(models.StorageRow)
	err := c.db.NewSelect().
		Model(rec).
		Where("rid = ?", c.hasher.RowID(keyspace, columnFamily, key)).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errdefs.Storage(c.backend, "get", err)
	}
	row, err := decodeRow(rec.Data)
	if err != nil {
		return nil, errdefs.Storage(c.backend, "get", fmt.Errorf("decode row %s: %w", key, err))
	}
	return row, nil
}

// Put merges row into the stored row inside one transaction. On PostgreSQL
// the existing row is locked for the duration; SQLite serialises writers.
func (c *Client) Put(ctx context.Context, keyspace, columnFamily, key string, row storage.Row) error {
	rid := c.hasher.RowID(keyspace, columnFamily, key)
	err := c.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := new(models.StorageRow)
		q := tx.NewSelect().Model(existing).Where("rid = ?", rid)
		if migrations.IsPostgreSQL(c.db) {
			q = q.For("UPDATE")
		}

		fields := storage.Row{}
		switch err := q.Scan(ctx); {
		case err == nil:
			decoded, err := decodeRow(existing.Data)
			if err != nil {
				return fmt.Errorf("decode row %s: %w", key, err)
			}
			fields = decoded
		case errors.Is(err, sql.ErrNoRows):
		default:
			return err
		}
		fields.Merge(row)

		data, err := encodeRow(fields)
		if err != nil {
			return fmt.Errorf("encode row %s: %w", key, err)
		}
		rec := &models.StorageRow{
			RowID:        rid,
			Keyspace:     keyspace,
			ColumnFamily: columnFamily,
			RowKey:       key,
			Data:         data,
			UpdatedAt:    time.Now().UTC(),
		}
		if _, err := tx.NewInsert().
			Model(rec).
			On("CONFLICT (rid) DO UPDATE").
			Set("data = EXCLUDED.data").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx); err != nil {
			return err
		}

		if _, err := tx.NewDelete().Model((*models.RowIndexEntry)(nil)).Where("rid = ?", rid).Exec(ctx); err != nil {
			return err
		}
		entries := indexEntries(rid, keyspace, columnFamily, fields)
		if len(entries) == 0 {
			return nil
		}
		_, err = tx.NewInsert().Model(&entries).On("CONFLICT DO NOTHING").Exec(ctx)
		return err
	})
	return errdefs.Storage(c.backend, "put", err)
}

// Insert adds the row unless its row id is taken. The conflict clause makes
// the existence check and the write one statement, so concurrent inserts of
// one key cannot both succeed.
func (c *Client) Insert(ctx context.Context, keyspace, columnFamily, key string, row storage.Row) (bool, error) {
	rid := c.hasher.RowID(keyspace, columnFamily, key)
	fields := storage.Row{}
	fields.Merge(row)
	data, err := encodeRow(fields)
	if err != nil {
		return false, errdefs.Storage(c.backend, "insert", fmt.Errorf("encode row %s: %w", key, err))
	}

	inserted := false
	err = c.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewInsert().
			Model(&models.StorageRow{
				RowID:        rid,
				Keyspace:     keyspace,
				ColumnFamily: columnFamily,
				RowKey:       key,
				Data:         data,
				UpdatedAt:    time.Now().UTC(),
			}).
			On("CONFLICT (rid) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil || n == 0 {
			return err
		}
		inserted = true

		entries := indexEntries(rid, keyspace, columnFamily, fields)
		if len(entries) == 0 {
			return nil
		}
		_, err = tx.NewInsert().Model(&entries).On("CONFLICT DO NOTHING").Exec(ctx)
		return err
	})
	if err != nil {
		return false, errdefs.Storage(c.backend, "insert", err)
	}
	return inserted, nil
}

func (c *Client) Remove(ctx context.Context, keyspace, columnFamily, key string) error {
	rid := c.hasher.RowID(keyspace, columnFamily, key)
	err := c.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*models.RowIndexEntry)(nil)).Where("rid = ?", rid).Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewDelete().Model((*models.StorageRow)(nil)).Where("rid = ?", rid).Exec(ctx)
		return err
	})
	return errdefs.Storage(c.backend, "remove", err)
}

// Find narrows candidates through the index on the first string criterion
// (by field name order), then loads and filters rows one at a time as the
// iterator advances. Without a string criterion the column family is
// scanned.
func (c *Client) Find(ctx context.Context, keyspace, columnFamily string, criteria map[string]any) (storage.RowIterator, error) {
	var rids []string
	q := c.db.NewSelect()

	if field, value, ok := indexedCriterion(criteria); ok {
		q = q.Model((*models.RowIndexEntry)(nil)).
			Column("rid").
			Where("keyspace = ?", keyspace).
			Where("column_family = ?", columnFamily).
			Where("field = ?", field).
			Where("value = ?", value)
	} else {
		q = q.Model((*models.StorageRow)(nil)).
			Column("rid").
			Where("keyspace = ?", keyspace).
			Where("column_family = ?", columnFamily)
	}
	if err := q.Scan(ctx, &rids); err != nil {
		return nil, errdefs.Storage(c.backend, "find", err)
	}

	i := 0
	return storage.NewFuncIterator(func() (string, storage.Row, bool, error) {
		for i < len(rids) {
			rid := rids[i]
			i++

			rec := new(models.StorageRow)
			err := c.db.NewSelect().Model(rec).Where("rid = ?", rid).Scan(ctx)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return "", nil, false, errdefs.Storage(c.backend, "find", err)
			}
			row, err := decodeRow(rec.Data)
			if err != nil {
				return "", nil, false, errdefs.Storage(c.backend, "find", err)
			}
			if !row.Matches(criteria) {
				continue
			}
			return rec.RowKey, row, true, nil
		}
		return "", nil, false, nil
	}, nil), nil
}

// Close closes the database if Open created it.
func (c *Client) Close() error {
	if !c.ownsDB {
		return nil
	}
	return bunx.Close(c.db)
}

func indexedCriterion(criteria map[string]any) (string, string, bool) {
	fields := make([]string, 0, len(criteria))
	for f := range criteria {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		if s, ok := criteria[f].(string); ok && len(s) <= maxIndexedValue {
			return f, s, true
		}
	}
	return "", "", false
}

func indexEntries(rid, keyspace, columnFamily string, row storage.Row) []models.RowIndexEntry {
	var entries []models.RowIndexEntry
	add := func(field, value string) {
		if len(value) > maxIndexedValue || len(field) > 255 {
			return
		}
		entries = append(entries, models.RowIndexEntry{
			RowID:        rid,
			Field:        field,
			Value:        value,
			Keyspace:     keyspace,
			ColumnFamily: columnFamily,
		})
	}
	for field, v := range row {
		switch tv := v.(type) {
		case string:
			add(field, tv)
		case []string:
			seen := map[string]bool{}
			for _, s := range tv {
				if !seen[s] {
					seen[s] = true
					add(field, s)
				}
			}
		}
	}
	return entries
}
