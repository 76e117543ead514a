package storage

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/zathomas/sparsemapcontent/internal/errdefs"
)

const memoryBackend = "memory"

var errClosed = errors.New("client closed")

type memoryRow struct {
	keyspace     string
	columnFamily string
	key          string
	fields       Row
}

// MemoryClient is a process-local backend. Rows are replaced copy-on-write
// under a per-key compute so concurrent puts to one row never interleave.
type MemoryClient struct {
	hasher *RowHasher
	rows   *xsync.MapOf[string, *memoryRow]
	closed atomic.Bool
}

// NewMemoryClient returns an empty in-memory backend.
func NewMemoryClient(hasher *RowHasher) *MemoryClient {
	return &MemoryClient{
		hasher: hasher,
		rows:   xsync.NewMapOf[string, *memoryRow](),
	}
}

func (c *MemoryClient) Get(ctx context.Context, keyspace, columnFamily, key string) (Row, error) {
	if err := c.check(ctx, "get"); err != nil {
		return nil, err
	}
	r, ok := c.rows.Load(c.hasher.RowID(keyspace, columnFamily, key))
	if !ok {
		return nil, nil
	}
	return r.fields.Clone(), nil
}

func (c *MemoryClient) Put(ctx context.Context, keyspace, columnFamily, key string, row Row) error {
	if err := c.check(ctx, "put"); err != nil {
		return err
	}
	rid := c.hasher.RowID(keyspace, columnFamily, key)
	c.rows.Compute(rid, func(old *memoryRow, loaded bool) (*memoryRow, bool) {
		fields := Row{}
		if loaded {
			fields = old.fields.Clone()
		}
		fields.Merge(row.Clone())
		return &memoryRow{
			keyspace:     keyspace,
			columnFamily: columnFamily,
			key:          key,
			fields:       fields,
		}, false
	})
	return nil
}

func (c *MemoryClient) Insert(ctx context.Context, keyspace, columnFamily, key string, row Row) (bool, error) {
	if err := c.check(ctx, "insert"); err != nil {
		return false, err
	}
	inserted := false
	c.rows.Compute(c.hasher.RowID(keyspace, columnFamily, key), func(old *memoryRow, loaded bool) (*memoryRow, bool) {
		if loaded {
			return old, false
		}
		inserted = true
		fields := Row{}
		fields.Merge(row.Clone())
		return &memoryRow{
			keyspace:     keyspace,
			columnFamily: columnFamily,
			key:          key,
			fields:       fields,
		}, false
	})
	return inserted, nil
}

func (c *MemoryClient) Remove(ctx context.Context, keyspace, columnFamily, key string) error {
	if err := c.check(ctx, "remove"); err != nil {
		return err
	}
	c.rows.Delete(c.hasher.RowID(keyspace, columnFamily, key))
	return nil
}

// Find scans the column family. Candidate row ids are collected up front;
// rows are loaded and filtered as the iterator advances, so rows removed
// in between are skipped.
func (c *MemoryClient) Find(ctx context.Context, keyspace, columnFamily string, criteria map[string]any) (RowIterator, error) {
	if err := c.check(ctx, "find"); err != nil {
		return nil, err
	}
	var ids []string
	c.rows.Range(func(rid string, r *memoryRow) bool {
		if r.keyspace == keyspace && r.columnFamily == columnFamily {
			ids = append(ids, rid)
		}
		return true
	})

	i := 0
	return NewFuncIterator(func() (string, Row, bool, error) {
		for i < len(ids) {
			rid := ids[i]
			i++
			r, ok := c.rows.Load(rid)
			if !ok || !r.fields.Matches(criteria) {
				continue
			}
			return r.key, r.fields.Clone(), true, nil
		}
		return "", nil, false, nil
	}, nil), nil
}

// Close marks the client unusable. Data is discarded with the client.
func (c *MemoryClient) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *MemoryClient) check(ctx context.Context, op string) error {
	if c.closed.Load() {
		return errdefs.Storage(memoryBackend, op, errClosed)
	}
	if err := ctx.Err(); err != nil {
		return errdefs.Storage(memoryBackend, op, err)
	}
	return nil
}
