package redis

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-authstate"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ authstate.ExpiringStorage = (*Store)(nil)

func newTestStore(t *testing.T) (*Store, *redis.Client) {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "127.0.0.1:6379",
		DB:   3,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() {
		client.FlushDB(ctx)
		client.Close()
	})

	s, err := New(Config{Client: client, KeyPrefix: "authstate-test:"})
	require.NoError(t, err)
	return s, client
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestBuildKey(t *testing.T) {
	s, err := New(Config{Client: redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})})
	require.NoError(t, err)
	assert.Equal(t, "authstate:pending_signin_email", s.buildKey(authstate.PendingEmailKey))
}

func TestRedisStore(t *testing.T) {
	s, client := newTestStore(t)
	ctx := context.Background()

	t.Run("read missing key", func(t *testing.T) {
		_, err := s.ReadString(ctx, "missing")
		assert.ErrorIs(t, err, authstate.ErrKeyNotFound)
	})

	t.Run("write read delete", func(t *testing.T) {
		require.NoError(t, s.WriteString(ctx, authstate.PendingEmailKey, "a@example.com"))

		got, err := s.ReadString(ctx, authstate.PendingEmailKey)
		require.NoError(t, err)
		assert.Equal(t, "a@example.com", got)

		require.NoError(t, s.Delete(ctx, authstate.PendingEmailKey))
		_, err = s.ReadString(ctx, authstate.PendingEmailKey)
		assert.ErrorIs(t, err, authstate.ErrKeyNotFound)
	})

	t.Run("ttl", func(t *testing.T) {
		require.NoError(t, s.WriteStringTTL(ctx, "ttl", "v", time.Minute))

		ttl, err := client.TTL(ctx, "authstate-test:ttl").Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))
	})

	t.Run("wrong type", func(t *testing.T) {
		require.NoError(t, client.LPush(ctx, "authstate-test:list", "x").Err())

		_, err := s.ReadString(ctx, "list")
		assert.ErrorIs(t, err, authstate.ErrStorageTypeMismatch)
	})
}
