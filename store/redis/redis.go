// Package redis provides an authstate.Storage on top of a Redis server using
// plain string keys, so values written by one process can be completed by
// another.
package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goliatone/go-authstate"
	goerrors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces every key written by the store.
const DefaultKeyPrefix = "authstate:"

// Config contains configuration options for the Redis store
type Config struct {
	// Client is the Redis client instance
	Client redis.UniversalClient

	// KeyPrefix is prepended to every key.
	// Default: "authstate:"
	KeyPrefix string
}

// Store implements authstate.ExpiringStorage.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
}

// New creates a Redis backed store.
func New(config Config) (*Store, error) {
	if config.Client == nil {
		return nil, goerrors.New("redis client is required", goerrors.CategoryBadInput)
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultKeyPrefix
	}

	return &Store{
		client:    config.Client,
		keyPrefix: config.KeyPrefix,
	}, nil
}

// NewFromConfig dials the server described by cfg and checks it responds.
func NewFromConfig(ctx context.Context, cfg authstate.Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "redis not reachable").
			WithMetadata(map[string]any{"addr": cfg.RedisAddr})
	}

	return New(Config{Client: client, KeyPrefix: cfg.RedisKeyPrefix})
}

// ReadString returns the string held under key.
func (s *Store) ReadString(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, s.buildKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", authstate.NewStorageError(authstate.ErrKeyNotFound, "read", key, nil)
		}
		return "", classify(authstate.ErrStorageRead, "read", key, err)
	}
	return val, nil
}

// WriteString stores value under key without expiry.
func (s *Store) WriteString(ctx context.Context, key, value string) error {
	return s.WriteStringTTL(ctx, key, value, 0)
}

// WriteStringTTL stores value under key, expiring after ttl when positive.
func (s *Store) WriteStringTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.buildKey(key), value, ttl).Err(); err != nil {
		return classify(authstate.ErrStorageWrite, "write", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.buildKey(key)).Err(); err != nil {
		return classify(authstate.ErrStorageDelete, "delete", key, err)
	}
	return nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) buildKey(key string) string {
	return s.keyPrefix + key
}

func classify(class *goerrors.Error, op, key string, err error) error {
	if strings.HasPrefix(err.Error(), "WRONGTYPE") {
		class = authstate.ErrStorageTypeMismatch
	}
	return authstate.NewStorageError(class, op, key, err)
}
