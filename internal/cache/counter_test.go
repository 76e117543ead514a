package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStackCounter_SuspendResumeRestores(t *testing.T) {
	var c StackCounter
	c.Inc()
	before := c.Count()

	c.Suspend()
	assert.False(t, c.IsSet())
	c.Inc()
	c.Inc()
	c.Dec()
	c.Resume()

	assert.Equal(t, before, c.Count())
	assert.True(t, c.IsSet())
}

func TestStackCounter_DecClampsAtZero(t *testing.T) {
	var c StackCounter
	c.Dec()
	assert.Equal(t, 0, c.Count())

	c.Inc()
	c.Dec()
	c.Dec()
	assert.Equal(t, 0, c.Count())
	assert.False(t, c.IsSet())
}

func TestStackCounter_ResumeWithoutSuspend(t *testing.T) {
	var c StackCounter
	c.Inc()
	c.Inc()
	c.Resume()
	assert.Equal(t, 0, c.Count())
}

func TestStackCounter_NestedSuspend(t *testing.T) {
	var c StackCounter
	c.Inc()
	c.Suspend() // [1]
	c.Inc()
	c.Inc()
	c.Suspend() // [1 2]
	c.Inc()

	c.Resume()
	assert.Equal(t, 2, c.Count())
	c.Resume()
	assert.Equal(t, 1, c.Count())
}

func TestStackCounter_ScopedHelpers(t *testing.T) {
	var c StackCounter

	func() {
		defer c.Enter()()
		assert.True(t, c.IsSet())
		func() {
			defer c.Isolate()()
			assert.False(t, c.IsSet())
		}()
		assert.True(t, c.IsSet())
	}()

	assert.False(t, c.IsSet())
}

func TestStackCounter_ScopedHelpersRestoreOnPanic(t *testing.T) {
	var c StackCounter
	c.Inc()

	require.Panics(t, func() {
		defer c.Isolate()()
		c.Inc()
		panic("boom")
	})

	assert.Equal(t, 1, c.Count())
}

func TestBindCounter(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, CounterFrom(ctx, "elevation"))
	assert.False(t, IsSet(ctx, "elevation"))

	ctx, c := BindCounter(ctx, "elevation")
	require.NotNil(t, c)

	same, c2 := BindCounter(ctx, "elevation")
	assert.Same(t, c, c2)
	assert.Equal(t, ctx, same)

	c.Inc()
	assert.True(t, IsSet(ctx, "elevation"))
	assert.False(t, IsSet(ctx, "nocache"))

	fresh, c3 := FreshCounter(ctx, "elevation")
	assert.NotSame(t, c, c3)
	assert.False(t, IsSet(fresh, "elevation"))
}
