package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a limiter against it.
func setupRedis(t *testing.T, cfg Config) *RedisLimiter {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	l, err := NewRedis("redis://"+host+":"+port.Port(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	require.NoError(t, l.Ping(ctx))
	return l
}

func TestNewRedisRejectsBadURL(t *testing.T) {
	t.Parallel()

	_, err := NewRedis("://nope", Config{})
	require.Error(t, err)
}

func TestWindowKey(t *testing.T) {
	t.Parallel()

	require.Equal(t, "ratelimit:ip:1.2.3.4:1700000000", windowKey("ip:1.2.3.4", time.Unix(1700000000, 0)))
}

func TestRedisLimiterFixedWindow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	l := setupRedis(t, Config{Requests: 2, Window: time.Minute})
	now := time.Unix(1700000000, 0)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := l.Allow(ctx, "user:1")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	d, err := l.Allow(ctx, "user:1")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Zero(t, d.Remaining)
	require.Equal(t, time.Unix(1700000040, 0), d.ResetAt)
	require.Equal(t, 40*time.Second, d.RetryAfter)

	now = now.Add(time.Minute)
	d, err = l.Allow(ctx, "user:1")
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, "redis", l.Backend())
}
