// Package cache provides the process-wide object cache shared by every
// session, and the nested reference counter used to scope elevation and
// cache bypass within one call chain.
package cache

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/zathomas/sparsemapcontent/internal/telemetry"
)

// DefaultMaxSize is used when a cache is built with a non-positive size.
const DefaultMaxSize = 100

type entry[V any] struct {
	value    V
	accessed atomic.Uint64
}

// LRU is a bounded concurrent map. Lookups and stores of different keys
// never contend on a shared lock. When a store pushes the size above the
// maximum, the least recently accessed entries are evicted until the size
// is at most 75% of the maximum.
type LRU[V any] struct {
	maxSize int
	items   *xsync.MapOf[string, *entry[V]]

	// clock is a logical access counter; wall time is too coarse to order
	// accesses made within the same millisecond.
	clock    atomic.Uint64
	trimming atomic.Bool

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	metrics   *telemetry.CacheMetrics
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Size      int
	MaxSize   int
	Hits      int64
	Misses    int64
	Evictions int64
}

// Option configures an LRU.
type Option func(*options)

type options struct {
	metrics *telemetry.CacheMetrics
}

// WithMetrics reports hits, misses and evictions to otel instruments.
func WithMetrics(m *telemetry.CacheMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// New creates an LRU holding at most maxSize entries.
func New[V any](maxSize int, opts ...Option) *LRU[V] {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &LRU[V]{
		maxSize: maxSize,
		items:   xsync.NewMapOf[string, *entry[V]](),
		metrics: o.metrics,
	}
}

// Get returns the cached value and refreshes its access time.
func (c *LRU[V]) Get(key string) (V, bool) {
	e, ok := c.items.Load(key)
	c.metrics.RecordLookup(context.Background(), ok)
	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	c.hits.Add(1)
	e.accessed.Store(c.clock.Add(1))
	return e.value, true
}

// Put stores value under key and returns the value it replaced, if any.
func (c *LRU[V]) Put(key string, value V) (V, bool) {
	e := &entry[V]{value: value}
	e.accessed.Store(c.clock.Add(1))

	prev, loaded := c.items.LoadAndStore(key, e)
	if c.items.Size() > c.maxSize {
		c.trim()
	}
	if !loaded {
		var zero V
		return zero, false
	}
	return prev.value, true
}

// Remove drops key.
func (c *LRU[V]) Remove(key string) {
	c.items.Delete(key)
}

// RemoveChildren drops prefix itself and every key below prefix + "/".
// "a/bc" is not a child of "a/b".
func (c *LRU[V]) RemoveChildren(prefix string) {
	c.items.Delete(prefix)
	childPrefix := prefix + "/"
	c.items.Range(func(key string, _ *entry[V]) bool {
		if strings.HasPrefix(key, childPrefix) {
			c.items.Delete(key)
		}
		return true
	})
}

// RemovePrefix drops every key starting with prefix.
func (c *LRU[V]) RemovePrefix(prefix string) {
	c.items.Range(func(key string, _ *entry[V]) bool {
		if strings.HasPrefix(key, prefix) {
			c.items.Delete(key)
		}
		return true
	})
}

// List returns a snapshot of the cached values in no particular order.
func (c *LRU[V]) List() []V {
	values := make([]V, 0, c.items.Size())
	c.items.Range(func(_ string, e *entry[V]) bool {
		values = append(values, e.value)
		return true
	})
	return values
}

// Clear removes every entry.
func (c *LRU[V]) Clear() {
	c.items.Clear()
}

// Len reports the number of entries.
func (c *LRU[V]) Len() int {
	return c.items.Size()
}

// Stats returns the current counters.
func (c *LRU[V]) Stats() Stats {
	return Stats{
		Size:      c.items.Size(),
		MaxSize:   c.maxSize,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

type candidate struct {
	key      string
	accessed uint64
}

// trim evicts least recently accessed entries down to 75% of maxSize.
// Only one goroutine evicts at a time. A put that loses the race returns at
// once; the evicting goroutine re-checks the size after releasing the flag,
// so that put's entry is never left over the limit.
func (c *LRU[V]) trim() {
	for c.items.Size() > c.maxSize {
		if !c.trimming.CompareAndSwap(false, true) {
			return
		}
		c.evict()
		c.trimming.Store(false)
	}
}

func (c *LRU[V]) evict() {
	target := c.maxSize * 3 / 4
	candidates := make([]candidate, 0, c.items.Size())
	c.items.Range(func(key string, e *entry[V]) bool {
		candidates = append(candidates, candidate{key: key, accessed: e.accessed.Load()})
		return true
	})
	if len(candidates) <= c.maxSize {
		return
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].accessed < candidates[j].accessed
	})

	evicted := 0
	for _, cand := range candidates {
		if c.items.Size() <= target {
			break
		}
		c.items.Delete(cand.key)
		evicted++
	}
	c.evictions.Add(int64(evicted))
	c.metrics.RecordEvictions(context.Background(), evicted)
}
