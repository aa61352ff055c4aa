//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bitechdev/tagstream/pkg/config"
)

func startRedis(t *testing.T) config.RedisConfig {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return config.RedisConfig{Host: host, Port: port.Int()}
}

func TestRedisProvider_Integration(t *testing.T) {
	cfg := startRedis(t)
	ctx := context.Background()

	p, err := NewRedisProvider(cfg, &Options{DefaultTTL: time.Minute})
	require.NoError(t, err)
	defer p.Close()

	c := NewCache(p)
	require.NoError(t, c.Set(ctx, "history:a", point{Tag: "1", Value: "2"}, 0))
	require.NoError(t, c.Set(ctx, "history:b", point{Tag: "1", Value: "3"}, 0))
	require.NoError(t, c.Set(ctx, "card:1", point{Tag: "1", Value: "4"}, 0))

	var got point
	require.NoError(t, c.Get(ctx, "history:a", &got))
	assert.Equal(t, "2", got.Value)

	require.NoError(t, c.DeleteByPattern(ctx, "history:*"))
	assert.False(t, c.Exists(ctx, "history:b"))
	assert.True(t, c.Exists(ctx, "card:1"))

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "redis", stats.ProviderType)
	assert.EqualValues(t, 1, stats.Keys)
	assert.GreaterOrEqual(t, stats.Hits, int64(1))
}
