package storage

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zathomas/sparsemapcontent/internal/cache"
	"github.com/zathomas/sparsemapcontent/internal/errdefs"
)

// countingClient counts backend reads.
type countingClient struct {
	Client
	gets atomic.Int64
}

func (c *countingClient) Get(ctx context.Context, keyspace, columnFamily, key string) (Row, error) {
	c.gets.Add(1)
	return c.Client.Get(ctx, keyspace, columnFamily, key)
}

func newTestCaching() (*CachingClient, *countingClient) {
	backend := &countingClient{Client: newTestMemory()}
	return NewCachingClient(backend, cache.New[Row](100)), backend
}

func TestCachingClient_ReadThrough(t *testing.T) {
	ctx := context.Background()
	c, backend := newTestCaching()

	require.NoError(t, c.Put(ctx, "n", "au", "alice", Row{"name": "Alice"}))

	for i := 0; i < 3; i++ {
		row, err := c.Get(ctx, "n", "au", "alice")
		require.NoError(t, err)
		assert.Equal(t, "Alice", row.String("name"))
	}
	assert.Equal(t, int64(1), backend.gets.Load())

	// misses are not cached
	for i := 0; i < 2; i++ {
		row, err := c.Get(ctx, "n", "au", "nobody")
		require.NoError(t, err)
		assert.Nil(t, row)
	}
	assert.Equal(t, int64(3), backend.gets.Load())
}

func TestCachingClient_WriteInvalidates(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCaching()

	require.NoError(t, c.Put(ctx, "n", "au", "alice", Row{"name": "Alice"}))
	_, err := c.Get(ctx, "n", "au", "alice")
	require.NoError(t, err)

	require.NoError(t, c.Put(ctx, "n", "au", "alice", Row{"name": "Alice B"}))
	row, err := c.Get(ctx, "n", "au", "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice B", row.String("name"))

	require.NoError(t, c.Remove(ctx, "n", "au", "alice"))
	row, err = c.Get(ctx, "n", "au", "alice")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestCachingClient_CachedRowsAreCopies(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCaching()

	require.NoError(t, c.Put(ctx, "n", "au", "alice", Row{"tags": []string{"a"}}))
	row, err := c.Get(ctx, "n", "au", "alice")
	require.NoError(t, err)
	row["tags"].([]string)[0] = "mutated"

	row, err = c.Get(ctx, "n", "au", "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, row["tags"])
}

func TestCachingClient_InvalidateChildren(t *testing.T) {
	ctx := context.Background()
	c, backend := newTestCaching()

	for _, k := range []string{"a/b", "a/b/c", "a/bc"} {
		require.NoError(t, c.Put(ctx, "n", "cn", k, Row{"path": k}))
		_, err := c.Get(ctx, "n", "cn", k)
		require.NoError(t, err)
	}
	before := backend.gets.Load()

	c.InvalidateChildren("n", "cn", "a/b")
	assert.Equal(t, 1, c.Cache().Len())

	_, err := c.Get(ctx, "n", "cn", "a/bc")
	require.NoError(t, err)
	assert.Equal(t, before, backend.gets.Load(), "a/bc still cached")

	_, err = c.Get(ctx, "n", "cn", "a/b/c")
	require.NoError(t, err)
	assert.Equal(t, before+1, backend.gets.Load())
}

func TestCachingClient_Bypass(t *testing.T) {
	ctx := context.Background()
	c, backend := newTestCaching()
	require.NoError(t, c.Put(ctx, "n", "au", "alice", Row{"name": "Alice"}))

	bypass, release := WithoutCache(ctx)
	_, err := c.Get(bypass, "n", "au", "alice")
	require.NoError(t, err)
	_, err = c.Get(bypass, "n", "au", "alice")
	require.NoError(t, err)
	release()

	assert.Equal(t, int64(2), backend.gets.Load())
	assert.Zero(t, c.Cache().Len())

	_, err = c.Get(bypass, "n", "au", "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Cache().Len(), "released bypass caches again")
}

func TestCachingClient_InvalidateColumnFamily(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCaching()

	require.NoError(t, c.Put(ctx, "n", "au", "alice", Row{"name": "Alice"}))
	require.NoError(t, c.Put(ctx, "n", "cn", "doc", Row{"title": "T"}))
	_, err := c.Get(ctx, "n", "au", "alice")
	require.NoError(t, err)
	_, err = c.Get(ctx, "n", "cn", "doc")
	require.NoError(t, err)
	require.Equal(t, 2, c.Cache().Len())

	c.InvalidateColumnFamily("n", "au")
	assert.Equal(t, 1, c.Cache().Len())
	_, ok := c.Cache().Get(CacheKey("n", "cn", "doc"))
	assert.True(t, ok)
}

// parkedWriteClient holds a Put until a concurrent Get has read the old
// row, then holds that Get until the test releases it.
type parkedWriteClient struct {
	Client
	armed   atomic.Bool
	parked  chan struct{}
	read    chan struct{}
	release chan struct{}
}

func (c *parkedWriteClient) Get(ctx context.Context, keyspace, columnFamily, key string) (Row, error) {
	row, err := c.Client.Get(ctx, keyspace, columnFamily, key)
	if c.armed.CompareAndSwap(true, false) {
		close(c.read)
		<-c.release
	}
	return row, err
}

func (c *parkedWriteClient) Put(ctx context.Context, keyspace, columnFamily, key string, row Row) error {
	c.armed.Store(true)
	close(c.parked)
	<-c.read
	return c.Client.Put(ctx, keyspace, columnFamily, key, row)
}

func TestCachingClient_LoadRacingWriteIsNotCached(t *testing.T) {
	ctx := context.Background()
	mem := newTestMemory()
	require.NoError(t, mem.Put(ctx, "n", "ac", "content;/", Row{"v": "old"}))

	backend := &parkedWriteClient{
		Client:  mem,
		parked:  make(chan struct{}),
		read:    make(chan struct{}),
		release: make(chan struct{}),
	}
	c := NewCachingClient(backend, cache.New[Row](100))

	putDone := make(chan error, 1)
	go func() { putDone <- c.Put(ctx, "n", "ac", "content;/", Row{"v": "new"}) }()
	<-backend.parked

	getDone := make(chan Row, 1)
	go func() {
		row, _ := c.Get(ctx, "n", "ac", "content;/")
		getDone <- row
	}()

	require.NoError(t, <-putDone)
	close(backend.release)
	assert.Equal(t, "old", (<-getDone).String("v"))

	row, err := c.Get(ctx, "n", "ac", "content;/")
	require.NoError(t, err)
	assert.Equal(t, "new", row.String("v"))
}

// gatedClient blocks reads until open is closed, then fails them if the
// read's context has been cancelled.
type gatedClient struct {
	Client
	entered chan struct{}
	open    chan struct{}
}

func (c *gatedClient) Get(ctx context.Context, keyspace, columnFamily, key string) (Row, error) {
	select {
	case c.entered <- struct{}{}:
	default:
	}
	<-c.open
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.Client.Get(ctx, keyspace, columnFamily, key)
}

func TestCachingClient_CancelledWaiterDoesNotFailOthers(t *testing.T) {
	mem := newTestMemory()
	require.NoError(t, mem.Put(context.Background(), "n", "au", "alice", Row{"name": "Alice"}))
	backend := &gatedClient{Client: mem, entered: make(chan struct{}, 1), open: make(chan struct{})}
	c := NewCachingClient(backend, cache.New[Row](100))

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Get(first, "n", "au", "alice")
		firstErr <- err
	}()
	<-backend.entered

	second := make(chan Row, 1)
	go func() {
		row, _ := c.Get(context.Background(), "n", "au", "alice")
		second <- row
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	err := <-firstErr
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, errdefs.ErrStorage)

	close(backend.open)
	assert.Equal(t, "Alice", (<-second).String("name"))
}

func TestCachingClient_InsertInvalidates(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCaching()

	ok, err := c.Insert(ctx, "n", "au", "alice", Row{"name": "Alice"})
	require.NoError(t, err)
	require.True(t, ok)
	_, err = c.Get(ctx, "n", "au", "alice")
	require.NoError(t, err)

	ok, err = c.Insert(ctx, "n", "au", "alice", Row{"name": "Mallory"})
	require.NoError(t, err)
	assert.False(t, ok)

	row, err := c.Get(ctx, "n", "au", "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", row.String("name"))
}
