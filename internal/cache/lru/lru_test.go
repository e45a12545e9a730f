package lru

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := New(3, time.Minute)
	for _, k := range []string{"a", "b", "c", "d"} {
		c.Set(k, k)
	}

	_, ok := c.Get("a")
	assert.False(t, ok, "a should have been evicted")
	for _, k := range []string{"b", "c", "d"} {
		v, ok := c.Get(k)
		require.True(t, ok, "expected hit for %s", k)
		assert.Equal(t, k, v)
	}
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestGetRefreshesRecency(t *testing.T) {
	c := New(2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)

	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("c", 3)

	_, ok = c.Get("b")
	assert.False(t, ok, "b was least recently used")
	_, ok = c.Get("a")
	assert.True(t, ok)
}

func TestResetExistingKeyMovesToFront(t *testing.T) {
	c := New(2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 10)
	c.Set("c", 3)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 10, v)
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestSizeNeverExceedsCapacity(t *testing.T) {
	c := New(5, time.Minute)
	for i := 0; i < 100; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
		require.LessOrEqual(t, c.Len(), 5)
	}
}

func TestSlidingTTL(t *testing.T) {
	clk := newFakeClock()
	c := New(4, 10*time.Second, WithClock(clk.now))
	c.Set("a", 1)

	clk.advance(8 * time.Second)
	_, ok := c.Get("a")
	require.True(t, ok, "within ttl")

	// The hit above refreshed the window.
	clk.advance(8 * time.Second)
	_, ok = c.Get("a")
	require.True(t, ok, "window should slide on access")

	clk.advance(11 * time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok, "expired after ttl without access")
	assert.Equal(t, 0, c.Len(), "expired entry is evicted on access")
	assert.Equal(t, uint64(1), c.Stats().Expired)
}

func TestPerEntryTTLOverride(t *testing.T) {
	clk := newFakeClock()
	c := New(4, time.Hour, WithClock(clk.now))
	c.Set("short", 1, time.Second)
	c.Set("long", 2)

	clk.advance(2 * time.Second)
	_, ok := c.Get("short")
	assert.False(t, ok)
	_, ok = c.Get("long")
	assert.True(t, ok)
}

func TestAgeEqualToTTLIsHit(t *testing.T) {
	clk := newFakeClock()
	c := New(1, 5*time.Second, WithClock(clk.now))
	c.Set("a", 1)
	clk.advance(5 * time.Second)
	_, ok := c.Get("a")
	assert.True(t, ok)
}

func TestDeleteAndClear(t *testing.T) {
	c := New(3, 0)
	c.Set("a", 1)
	c.Set("b", 2)

	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("b")
	assert.False(t, ok)
}

func TestCapacityFloor(t *testing.T) {
	c := New(0, 0)
	assert.Equal(t, 1, c.Capacity())
	c.Set("a", 1)
	c.Set("b", 2)
	assert.Equal(t, 1, c.Len())
}
