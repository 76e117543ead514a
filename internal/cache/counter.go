package cache

import "context"

// StackCounter is a nestable depth counter. Suspend parks the current depth
// so a nested call starts from zero; Resume restores it. Counters belong to
// a single call chain and are not safe for concurrent use.
type StackCounter struct {
	active    int
	suspended []int
}

// Inc increments the active depth.
func (c *StackCounter) Inc() {
	c.active++
}

// Dec decrements the active depth, never below zero.
func (c *StackCounter) Dec() {
	if c.active > 0 {
		c.active--
	}
}

// Suspend pushes the active depth and resets it to zero.
func (c *StackCounter) Suspend() {
	c.suspended = append(c.suspended, c.active)
	c.active = 0
}

// Resume pops the last suspended depth, or resets to zero when nothing was
// suspended.
func (c *StackCounter) Resume() {
	n := len(c.suspended)
	if n == 0 {
		c.active = 0
		return
	}
	c.active = c.suspended[n-1]
	c.suspended = c.suspended[:n-1]
}

// IsSet reports whether the active depth is above zero.
func (c *StackCounter) IsSet() bool {
	return c != nil && c.active > 0
}

// Count returns the active depth.
func (c *StackCounter) Count() int {
	if c == nil {
		return 0
	}
	return c.active
}

// Enter increments and returns the matching decrement, for use with defer.
func (c *StackCounter) Enter() func() {
	c.Inc()
	return c.Dec
}

// Isolate suspends and returns the matching resume, for use with defer.
func (c *StackCounter) Isolate() func() {
	c.Suspend()
	return c.Resume
}

type counterKey string

// BindCounter returns a context carrying the named counter, creating one if
// ctx does not already carry it. Goroutines spawned from a call chain must
// bind their own counter instead of sharing the parent's.
func BindCounter(ctx context.Context, name string) (context.Context, *StackCounter) {
	if c := CounterFrom(ctx, name); c != nil {
		return ctx, c
	}
	c := &StackCounter{}
	return context.WithValue(ctx, counterKey(name), c), c
}

// FreshCounter always binds a new counter, hiding any inherited one.
func FreshCounter(ctx context.Context, name string) (context.Context, *StackCounter) {
	c := &StackCounter{}
	return context.WithValue(ctx, counterKey(name), c), c
}

// CounterFrom returns the named counter carried by ctx, or nil.
func CounterFrom(ctx context.Context, name string) *StackCounter {
	c, _ := ctx.Value(counterKey(name)).(*StackCounter)
	return c
}

// IsSet reports whether ctx carries the named counter at a depth above zero.
func IsSet(ctx context.Context, name string) bool {
	return CounterFrom(ctx, name).IsSet()
}
