package redis

import (
	"context"
	"testing"
	"time"

	"farm-payments/config"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return s, client
}

func TestRedisAddr(t *testing.T) {
	cfg := config.RedisConfig{Host: "redis.farm.internal", Port: 6380}
	assert.Equal(t, "redis.farm.internal:6380", cfg.Addr())
}

func TestNewClient(t *testing.T) {
	s := miniredis.RunT(t)
	host, port := s.Host(), s.Server().Addr().Port

	client, err := NewClient(context.Background(), config.RedisConfig{Host: host, Port: port}, zerolog.Nop())
	require.NoError(t, err)
	defer client.Close()

	h := NewHealthCheck(client)
	assert.NoError(t, h.Ping(context.Background()))
	assert.Equal(t, "redis", h.Name())
}

func TestNewClient_Unreachable(t *testing.T) {
	s := miniredis.RunT(t)
	host, port := s.Host(), s.Server().Addr().Port
	s.Close()

	_, err := NewClient(context.Background(), config.RedisConfig{Host: host, Port: port}, zerolog.Nop())
	assert.Error(t, err)
}

func TestSequenceGenerator_PerScope(t *testing.T) {
	_, client := newTestClient(t)
	seq := NewSequenceGenerator(client)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := seq.Next(ctx, "invoice:202407")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	n, err := seq.Next(ctx, "invoice:202408")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRateLimitStore_Allow(t *testing.T) {
	s, client := newTestClient(t)
	store := NewRateLimitStore(client)
	now := time.Date(2024, 7, 1, 9, 0, 10, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	t.Run("allows requests within limit", func(t *testing.T) {
		for i := int64(1); i <= 3; i++ {
			res, err := store.Allow(ctx, "user-1:payments", 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, res.Allowed, "request %d", i)
			assert.Equal(t, 3-i, res.Remaining)
		}
	})

	t.Run("blocks requests over limit", func(t *testing.T) {
		res, err := store.Allow(ctx, "user-1:payments", 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Zero(t, res.Remaining)
		assert.Equal(t, now.Truncate(time.Minute).Add(time.Minute).Unix(), res.ResetAt)
	})

	t.Run("keys are independent", func(t *testing.T) {
		res, err := store.Allow(ctx, "user-2:payments", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, int64(4), res.Remaining)
	})

	t.Run("next window resets", func(t *testing.T) {
		now = now.Add(time.Minute)
		s.FastForward(time.Minute)
		res, err := store.Allow(ctx, "user-1:payments", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	})
}
