package memory

import (
	"context"
	"sync"
	"time"

	"farm-payments/internal/core/ports"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Cache is a TTL map standing in for redis when redis is disabled.
// It implements ports.IdempotencyCache, ports.NonceStore and ports.RateLimitStore.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	counts  map[string]int64
	now     func() time.Time
}

func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		counts:  make(map[string]int64),
		now:     time.Now,
	}
}

func (c *Cache) get(key string) ([]byte, bool) {
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		delete(c.counts, key)
		return nil, false
	}
	return e.value, true
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, _ := c.get(key)
	return v, nil
}

// Set keeps the first live value for key.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.get(key); ok {
		return nil
	}
	v := make([]byte, len(value))
	copy(v, value)
	c.entries[key] = entry{value: v, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *Cache) CheckAndSet(_ context.Context, scope, nonce string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := "nonce:" + scope + ":" + nonce
	if _, ok := c.get(key); ok {
		return false, nil
	}
	c.entries[key] = entry{value: []byte{1}, expiresAt: c.now().Add(ttl)}
	return true, nil
}

// Allow counts key in a fixed window starting at its first hit.
func (c *Cache) Allow(_ context.Context, key string, limit int64, window time.Duration) (*ports.RateLimitResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := "ratelimit:" + key
	if _, ok := c.get(k); !ok {
		c.entries[k] = entry{expiresAt: c.now().Add(window)}
		c.counts[k] = 0
	}
	c.counts[k]++
	count := c.counts[k]

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return &ports.RateLimitResult{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   c.entries[k].expiresAt.Unix(),
	}, nil
}
