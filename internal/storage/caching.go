package storage

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/zathomas/sparsemapcontent/internal/cache"
	"github.com/zathomas/sparsemapcontent/internal/errdefs"
)

// NoCacheCounter names the context counter that, while set, makes the
// caching layer read and write straight through to the backend.
const NoCacheCounter = "nocache"

const cacheBackend = "cache"

// WithoutCache bypasses the shared cache for the rest of the call chain
// until the returned release is called.
func WithoutCache(ctx context.Context) (context.Context, func()) {
	ctx, c := cache.BindCounter(ctx, NoCacheCounter)
	return ctx, c.Enter()
}

// CachingClient decorates a Client with the process-wide row cache. Reads
// are served from the cache when possible; writes go to the backend and
// invalidate the cached row. Cache keys are logical ("keyspace:cf:key") so
// a content subtree can be invalidated by path prefix.
type CachingClient struct {
	Client
	cache *cache.LRU[Row]
	loads singleflight.Group

	// writes is bumped before and after every backend mutation and on every
	// invalidation. A load that overlapped any of them is returned but not
	// cached, so a stale row can never be pinned after an invalidation.
	writes atomic.Uint64
}

// NewCachingClient wraps client with shared.
func NewCachingClient(client Client, shared *cache.LRU[Row]) *CachingClient {
	return &CachingClient{Client: client, cache: shared}
}

// CacheKey returns the logical cache key of a row.
func CacheKey(keyspace, columnFamily, key string) string {
	return keyspace + ":" + columnFamily + ":" + key
}

func (c *CachingClient) Get(ctx context.Context, keyspace, columnFamily, key string) (Row, error) {
	if cache.IsSet(ctx, NoCacheCounter) {
		return c.Client.Get(ctx, keyspace, columnFamily, key)
	}
	ck := CacheKey(keyspace, columnFamily, key)
	if row, ok := c.cache.Get(ck); ok {
		return row.Clone(), nil
	}

	// The shared load runs detached so one waiter's cancellation cannot
	// fail the others; each waiter still honours its own context.
	loadCtx := context.WithoutCancel(ctx)
	ch := c.loads.DoChan(ck, func() (any, error) {
		epoch := c.writes.Load()
		row, err := c.Client.Get(loadCtx, keyspace, columnFamily, key)
		if err != nil || row == nil {
			return row, err
		}
		if c.writes.Load() == epoch {
			c.cache.Put(ck, row.Clone())
		}
		return row, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		row, _ := res.Val.(Row)
		return row.Clone(), nil
	case <-ctx.Done():
		return nil, errdefs.Storage(cacheBackend, "get", ctx.Err())
	}
}

func (c *CachingClient) Put(ctx context.Context, keyspace, columnFamily, key string, row Row) error {
	c.writes.Add(1)
	err := c.Client.Put(ctx, keyspace, columnFamily, key, row)
	c.evict(CacheKey(keyspace, columnFamily, key))
	return err
}

func (c *CachingClient) Insert(ctx context.Context, keyspace, columnFamily, key string, row Row) (bool, error) {
	c.writes.Add(1)
	inserted, err := c.Client.Insert(ctx, keyspace, columnFamily, key, row)
	c.evict(CacheKey(keyspace, columnFamily, key))
	return inserted, err
}

func (c *CachingClient) Remove(ctx context.Context, keyspace, columnFamily, key string) error {
	c.writes.Add(1)
	err := c.Client.Remove(ctx, keyspace, columnFamily, key)
	c.evict(CacheKey(keyspace, columnFamily, key))
	return err
}

// evict closes a mutation: the second bump fails any load that read the
// row while the backend write was in flight.
func (c *CachingClient) evict(ck string) {
	c.writes.Add(1)
	c.cache.Remove(ck)
}

// Invalidate drops the cached copy of one row.
func (c *CachingClient) Invalidate(keyspace, columnFamily, key string) {
	c.writes.Add(1)
	c.evict(CacheKey(keyspace, columnFamily, key))
}

// InvalidateChildren drops the cached copy of key and every row below
// key + "/" in the same column family.
func (c *CachingClient) InvalidateChildren(keyspace, columnFamily, key string) {
	c.writes.Add(1)
	c.cache.RemoveChildren(CacheKey(keyspace, columnFamily, key))
	c.writes.Add(1)
}

// InvalidateColumnFamily drops every cached row of one column family.
func (c *CachingClient) InvalidateColumnFamily(keyspace, columnFamily string) {
	c.writes.Add(1)
	c.cache.RemovePrefix(CacheKey(keyspace, columnFamily, ""))
	c.writes.Add(1)
}

// InvalidateAll empties the shared cache.
func (c *CachingClient) InvalidateAll() {
	c.writes.Add(1)
	c.cache.Clear()
	c.writes.Add(1)
}

// Cache exposes the shared cache for statistics.
func (c *CachingClient) Cache() *cache.LRU[Row] {
	return c.cache
}
