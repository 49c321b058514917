package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/redis/go-redis/v9"
)

// ErrRejected returned when the memory store drops an insert.
var ErrRejected = errors.New("cache store rejected entry")

// Store keeps packed messages by key until their ttl expires.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

type entry struct {
	key  string
	wire []byte
}

// MemoryStore is a bounded in-process store.
type MemoryStore struct {
	cache *ristretto.Cache[uint64, entry]
}

// NewMemoryStore returns a store holding at most maxEntries responses.
func NewMemoryStore(maxEntries int64) (*MemoryStore, error) {
	c, err := ristretto.NewCache(&ristretto.Config[uint64, entry]{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create memory cache: %w", err)
	}

	return &MemoryStore{cache: c}, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := s.cache.Get(hash(key))
	if !ok || e.key != key {
		return nil, false, nil
	}
	return e.wire, true, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if !s.cache.SetWithTTL(hash(key), entry{key: key, wire: value}, 1, ttl) {
		return ErrRejected
	}
	s.cache.Wait()
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.cache.Close()
	return nil
}

// RedisStore keeps responses in a shared redis server.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore returns a store using client, keys are prefixed with prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+key, value, ttl).Err()
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
