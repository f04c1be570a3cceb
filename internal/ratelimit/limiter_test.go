package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLimiter_Allow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	l := NewLocalLimiter(1, 2, time.Minute)
	l.now = func() time.Time { return now }

	for i := range 2 {
		ok, err := l.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok, "request %d within burst should pass", i)
	}

	ok, _ := l.Allow(ctx, "10.0.0.1")
	assert.False(t, ok, "burst exhausted")

	ok, _ = l.Allow(ctx, "10.0.0.2")
	assert.True(t, ok, "keys are limited independently")

	now = now.Add(time.Second)
	ok, _ = l.Allow(ctx, "10.0.0.1")
	assert.True(t, ok, "bucket refills over time")
}

func TestLocalLimiter_Cleanup(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	l := NewLocalLimiter(1, 1, time.Minute)
	l.now = func() time.Time { return now }

	l.Allow(ctx, "old")
	now = now.Add(2 * time.Minute)
	l.Allow(ctx, "new")

	assert.Equal(t, 1, l.Cleanup())
	assert.Len(t, l.visitors, 1)
	assert.Contains(t, l.visitors, "new")
}

func TestNewLocalLimiter_Defaults(t *testing.T) {
	l := NewLocalLimiter(5, 0, 0)
	assert.Equal(t, 1, l.burst)
	assert.Equal(t, 10*time.Minute, l.idle)
}

func TestRedisLimiter_Allow(t *testing.T) {
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	t.Cleanup(func() { client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	l := NewRedisLimiter(client, "cloudclip-test:rate:", 2, time.Minute)
	key := "client-" + time.Now().Format(time.RFC3339Nano)
	t.Cleanup(func() { l.Reset(ctx, key) })

	for range 2 {
		ok, err := l.Allow(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := l.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "third request in the window should be rejected")

	require.NoError(t, l.Reset(ctx, key))
	ok, err = l.Allow(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok, "reset clears the window")
}
