// Package memory is an in-process authstate.Storage backed by a bounded
// github.com/hashicorp/golang-lru/v2 cache with optional per key expiry.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-authstate"
	goerrors "github.com/goliatone/go-errors"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSize is used when New is given a non positive size.
const DefaultSize = 1024

type entry struct {
	value     any
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Store implements authstate.ExpiringStorage.
type Store struct {
	mu    sync.Mutex
	cache *lru.Cache[string, entry]
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a store holding at most size keys.
func New(size int, opts ...Option) (*Store, error) {
	if size <= 0 {
		size = DefaultSize
	}

	cache, err := lru.New[string, entry](size)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create LRU cache")
	}

	s := &Store{cache: cache, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// ReadString returns the string held under key.
func (s *Store) ReadString(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", authstate.NewStorageError(authstate.ErrStorageRead, "read", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.cache.Get(key)
	if !ok {
		return "", authstate.NewStorageError(authstate.ErrKeyNotFound, "read", key, nil)
	}
	if e.expired(s.now()) {
		s.cache.Remove(key)
		return "", authstate.NewStorageError(authstate.ErrKeyNotFound, "read", key, nil)
	}

	value, ok := e.value.(string)
	if !ok {
		return "", authstate.NewStorageError(authstate.ErrStorageTypeMismatch, "read", key, nil)
	}
	return value, nil
}

// WriteString stores value under key without expiry.
func (s *Store) WriteString(ctx context.Context, key, value string) error {
	return s.write(ctx, key, value, 0)
}

// WriteStringTTL stores value under key until ttl elapses.
func (s *Store) WriteStringTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.write(ctx, key, value, ttl)
}

// WriteValue stores an arbitrary value. Reading it back with ReadString
// fails with ErrStorageTypeMismatch unless it is a string.
func (s *Store) WriteValue(ctx context.Context, key string, value any) error {
	return s.write(ctx, key, value, 0)
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return authstate.NewStorageError(authstate.ErrStorageDelete, "delete", key, err)
	}

	s.mu.Lock()
	s.cache.Remove(key)
	s.mu.Unlock()
	return nil
}

// Len returns the number of keys held, expired ones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}

// Close drops every key.
func (s *Store) Close() error {
	s.mu.Lock()
	s.cache.Purge()
	s.mu.Unlock()
	return nil
}

func (s *Store) write(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return authstate.NewStorageError(authstate.ErrStorageWrite, "write", key, err)
	}

	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	s.cache.Add(key, e)
	s.mu.Unlock()
	return nil
}
