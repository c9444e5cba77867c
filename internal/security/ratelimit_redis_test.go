package security

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func newTestRedisLimiter(t *testing.T, rpm int) (*RedisRateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	limiter, err := NewRedisRateLimiter(&RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: rpm,
		WindowDuration:    time.Minute,
		RedisURL:          "redis://" + mr.Addr(),
	}, logrus.New())
	require.NoError(t, err)
	return limiter, mr
}

func TestRedisRateLimiter_AllowsUpToLimitThenDenies(t *testing.T) {
	limiter, mr := newTestRedisLimiter(t, 3)
	defer mr.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := limiter.Allow(ctx, "user:1")
		require.NoError(t, err)
		require.Truef(t, res.Allowed, "request %d should be allowed", i)
	}

	res, err := limiter.Allow(ctx, "user:1")
	require.NoError(t, err)
	require.False(t, res.Allowed, "4th request within the window should be denied")
	require.Positive(t, res.RetryAfter)
}

func TestRedisRateLimiter_WindowsAreIndependentPerKey(t *testing.T) {
	limiter, mr := newTestRedisLimiter(t, 1)
	defer mr.Close()
	ctx := context.Background()

	res, err := limiter.Allow(ctx, "user:a")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = limiter.Allow(ctx, "user:b")
	require.NoError(t, err)
	require.True(t, res.Allowed, "a distinct key must have its own counter")
}

func TestRedisRateLimiter_ResetClearsTheWindow(t *testing.T) {
	limiter, mr := newTestRedisLimiter(t, 1)
	defer mr.Close()
	ctx := context.Background()

	_, err := limiter.Allow(ctx, "user:1")
	require.NoError(t, err)
	res, err := limiter.Allow(ctx, "user:1")
	require.NoError(t, err)
	require.False(t, res.Allowed)

	require.NoError(t, limiter.Reset(ctx, "user:1"))

	res, err = limiter.Allow(ctx, "user:1")
	require.NoError(t, err)
	require.True(t, res.Allowed, "expected the window to be clear after Reset")
}

func TestRedisRateLimiter_GetLimitsReportsUsage(t *testing.T) {
	limiter, mr := newTestRedisLimiter(t, 5)
	defer mr.Close()
	ctx := context.Background()

	_, err := limiter.Allow(ctx, "user:1")
	require.NoError(t, err)
	_, err = limiter.Allow(ctx, "user:1")
	require.NoError(t, err)

	info, err := limiter.GetLimits(ctx, "user:1")
	require.NoError(t, err)
	require.Equal(t, 2, info.Used)
	require.Equal(t, 3, info.Remaining)
}

func TestRedisRateLimiter_DisabledAlwaysAllows(t *testing.T) {
	mr := miniredis.RunT(t)
	defer mr.Close()
	limiter, err := NewRedisRateLimiter(&RateLimitConfig{Enabled: false, RequestsPerMinute: 1, RedisURL: "redis://" + mr.Addr()}, logrus.New())
	require.NoError(t, err)

	res, err := limiter.Allow(context.Background(), "user:1")
	require.NoError(t, err)
	require.True(t, res.Allowed)
}
