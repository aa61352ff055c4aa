package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests move time without sleeping
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestMemory(maxSize int) (*MemoryProvider, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	m := NewMemoryProvider(&Options{DefaultTTL: time.Minute, MaxSize: maxSize})
	m.now = clock.now
	return m, clock
}

func TestMemoryProvider_Expiry(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestMemory(10)

	require.NoError(t, m.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, m.Set(ctx, "b", []byte("2"), 10*time.Second))

	clock.advance(30 * time.Second)
	_, ok := m.Get(ctx, "b")
	assert.False(t, ok, "b should have expired")

	v, ok := m.Get(ctx, "a")
	assert.True(t, ok, "a uses the default ttl")
	assert.Equal(t, []byte("1"), v)

	clock.advance(time.Minute)
	assert.False(t, m.Exists(ctx, "a"))
	assert.Equal(t, 1, m.CleanExpired(ctx))
}

func TestMemoryProvider_LRUEviction(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestMemory(2)

	require.NoError(t, m.Set(ctx, "a", []byte("1"), 0))
	clock.advance(time.Second)
	require.NoError(t, m.Set(ctx, "b", []byte("2"), 0))
	clock.advance(time.Second)

	// Touch a so b becomes least recently used
	_, _ = m.Get(ctx, "a")
	clock.advance(time.Second)
	require.NoError(t, m.Set(ctx, "c", []byte("3"), 0))

	assert.True(t, m.Exists(ctx, "a"))
	assert.False(t, m.Exists(ctx, "b"))
	assert.True(t, m.Exists(ctx, "c"))
}

func TestMemoryProvider_DeleteByPattern(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory(100)

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Set(ctx, fmt.Sprintf("history:%d", i), []byte("x"), 0))
	}
	require.NoError(t, m.Set(ctx, "card:1", []byte("x"), 0))

	require.NoError(t, m.DeleteByPattern(ctx, "history:*"))
	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Keys)

	assert.Error(t, m.DeleteByPattern(ctx, "[bad"))
}

func TestMemoryProvider_StatsAndClear(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory(100)

	require.NoError(t, m.Set(ctx, "a", []byte("1"), 0))
	_, _ = m.Get(ctx, "a")
	_, _ = m.Get(ctx, "nope")

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
	assert.Equal(t, "memory", stats.ProviderType)

	require.NoError(t, m.Clear(ctx))
	stats, _ = m.Stats(ctx)
	assert.Zero(t, stats.Keys)
	assert.Zero(t, stats.Hits)
}

func TestMemoryProvider_Closed(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory(10)
	require.NoError(t, m.Close())

	assert.Error(t, m.Set(ctx, "a", []byte("1"), 0))
	_, ok := m.Get(ctx, "a")
	assert.False(t, ok)
}
