package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitechdev/tagstream/pkg/config"
)

type point struct {
	Tag   string `json:"tag"`
	Value string `json:"value"`
}

func TestCacheSetGet(t *testing.T) {
	ctx := context.Background()
	c := NewCache(NewMemoryProvider(nil))

	require.NoError(t, c.Set(ctx, "k", point{Tag: "1", Value: "3.5"}, time.Minute))

	var got point
	require.NoError(t, c.Get(ctx, "k", &got))
	assert.Equal(t, point{Tag: "1", Value: "3.5"}, got)

	err := c.Get(ctx, "missing", &got)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestGetOrLoad(t *testing.T) {
	ctx := context.Background()
	c := NewCache(NewMemoryProvider(nil))

	calls := 0
	loader := func(context.Context) ([]point, error) {
		calls++
		return []point{{Tag: "1", Value: "a"}}, nil
	}

	first, err := GetOrLoad(ctx, c, "history", time.Minute, loader)
	require.NoError(t, err)
	second, err := GetOrLoad(ctx, c, "history", time.Minute, loader)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls, "second call should be served from cache")
}

func TestGetOrLoad_LoaderError(t *testing.T) {
	c := NewCache(NewMemoryProvider(nil))
	boom := errors.New("db down")

	_, err := GetOrLoad(context.Background(), c, "k", time.Minute, func(context.Context) (int, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, c.Exists(context.Background(), "k"))
}

func TestBuildKey(t *testing.T) {
	a := BuildKey("history", []string{"1", "2"}, 100)
	b := BuildKey("history:", []string{"1", "2"}, 100)
	c := BuildKey("history", []string{"2", "1"}, 100)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Regexp(t, `^history:[0-9a-f]{64}$`, a)
}

func TestNewProviderFromConfig(t *testing.T) {
	p, err := NewProviderFromConfig(config.CacheConfig{})
	require.NoError(t, err)
	assert.Equal(t, "memory", p.Name())

	p, err = NewProviderFromConfig(config.CacheConfig{Provider: "Memory", TTL: time.Second})
	require.NoError(t, err)
	assert.Equal(t, time.Second, p.(*MemoryProvider).options.DefaultTTL)

	_, err = NewProviderFromConfig(config.CacheConfig{Provider: "bogus"})
	assert.Error(t, err)
}
