package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client, err := Connect(ctx, fmt.Sprintf("redis://%s:%s/0", host, port.Port()))
	require.NoError(t, err)

	return client, func() {
		_ = client.Close()
		_ = container.Terminate(ctx)
	}
}

func TestRedisCache_InvalidateNamespace(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	c := NewRedisCache(client, "test")

	require.NoError(t, c.Set(ctx, "asset:a", "summary", point{Value: 1}, time.Minute))
	require.NoError(t, c.Set(ctx, "asset:a", "perf", point{Value: 2}, time.Minute))
	require.NoError(t, c.Set(ctx, "asset:b", "summary", point{Value: 3}, time.Minute))

	var got point
	ok, err := c.Get(ctx, "asset:a", "perf", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, got.Value)

	require.NoError(t, c.Invalidate(ctx, "asset:a", "asset:none"))

	ok, err = c.Get(ctx, "asset:a", "summary", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.Get(ctx, "asset:b", "summary", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, got.Value)
}

func TestRedisCache_SetIfGeneration(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	c := NewRedisCache(client, "test")

	gen, err := c.Generation(ctx, "asset:a")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), gen)

	require.NoError(t, c.Invalidate(ctx, "asset:a"))

	stored, err := c.SetIfGeneration(ctx, "asset:a", "view", point{Value: 1}, time.Minute, gen)
	require.NoError(t, err)
	assert.False(t, stored)

	var got point
	ok, err := c.Get(ctx, "asset:a", "view", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	gen, err = c.Generation(ctx, "asset:a")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen)

	stored, err = c.SetIfGeneration(ctx, "asset:a", "view", point{Value: 2}, time.Minute, gen)
	require.NoError(t, err)
	assert.True(t, stored)

	ok, err = c.Get(ctx, "asset:a", "view", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, got.Value)

	// The conditional write is indexed, so invalidation still drops it.
	require.NoError(t, c.Invalidate(ctx, "asset:a"))
	ok, err = c.Get(ctx, "asset:a", "view", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}
