package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

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
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	require.NoError(t, client.Ping(ctx).Err())
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisRateLimiter_CounterAlwaysCarriesTTL(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()

	frozen := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	limiter := NewRedisRateLimiter(client, WithClock(func() time.Time { return frozen }))

	decision, err := limiter.Acquire(ctx, "orders", "caller-1", 5)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 4, decision.Remaining)

	// The very first increment must leave a TTL behind; a counter
	// without one would linger in Redis past its hour bucket
	ttl, err := client.TTL(ctx, bucketKey("orders", "caller-1", frozen)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Hour)
}

func TestRedisRateLimiter_RejectsOverLimit(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()

	frozen := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	limiter := NewRedisRateLimiter(client, WithClock(func() time.Time { return frozen }))

	for i := 0; i < 3; i++ {
		decision, err := limiter.Acquire(ctx, "orders", "caller-2", 3)
		require.NoError(t, err)
		assert.True(t, decision.Allowed, "request %d", i+1)
	}

	decision, err := limiter.Acquire(ctx, "orders", "caller-2", 3)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Zero(t, decision.Remaining)

	// Repeated hits keep counting but never extend the bucket past its
	// original hour
	ttl, err := client.TTL(ctx, bucketKey("orders", "caller-2", frozen)).Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, time.Hour)
}
