package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// IdempotencyCache implements ports.IdempotencyCache, the fast path in front of
// idempotency_logs. Values are the id of the transaction a key produced.
type IdempotencyCache struct {
	client goredis.UniversalClient
	keys   keyspace
}

func NewIdempotencyCache(client goredis.UniversalClient) *IdempotencyCache {
	return &IdempotencyCache{client: client, keys: "idem"}
}

// Get returns nil, nil on a miss.
func (c *IdempotencyCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.keys.key(key)).Bytes()
	switch {
	case errors.Is(err, goredis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("redis idempotency get: %w", err)
	}
	return val, nil
}

// Set keeps the first value stored for key; a key always maps to one transaction.
func (c *IdempotencyCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := c.client.SetArgs(ctx, c.keys.key(key), value, goredis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("redis idempotency set: %w", err)
	}
	return nil
}

// NonceStore implements ports.NonceStore with SET NX. Scopes keep two
// providers from colliding on the same nonce value.
type NonceStore struct {
	client goredis.UniversalClient
	keys   keyspace
}

func NewNonceStore(client goredis.UniversalClient) *NonceStore {
	return &NonceStore{client: client, keys: "nonce"}
}

// CheckAndSet returns true the first time (scope, nonce) is seen within ttl.
func (s *NonceStore) CheckAndSet(ctx context.Context, scope, nonce string, ttl time.Duration) (bool, error) {
	res, err := s.client.SetArgs(ctx, s.keys.key(scope, nonce), 1, goredis.SetArgs{Mode: "NX", TTL: ttl}).Result()
	switch {
	case errors.Is(err, goredis.Nil):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("redis nonce check: %w", err)
	}
	return res == "OK", nil
}
