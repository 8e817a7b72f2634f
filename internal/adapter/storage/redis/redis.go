// Package redis backs idempotency replay, callback nonces, rate limits and
// invoice sequences with a shared redis instance. Every key lives under fpay:.
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"farm-payments/config"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	keyPrefix   = "fpay:"
	dialTimeout = 5 * time.Second
)

// keyspace namespaces one store's keys.
type keyspace string

func (k keyspace) key(parts ...string) string {
	return keyPrefix + string(k) + ":" + strings.Join(parts, ":")
}

// NewClient connects to redis and pings it once.
func NewClient(ctx context.Context, cfg config.RedisConfig, log zerolog.Logger) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr(),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dialTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", cfg.Addr(), err)
	}

	log.Info().
		Str("addr", cfg.Addr()).
		Int("db", cfg.DB).
		Msg("redis client ready")
	return client, nil
}

// HealthCheck implements ports.HealthChecker.
type HealthCheck struct {
	client goredis.UniversalClient
}

func NewHealthCheck(client goredis.UniversalClient) *HealthCheck {
	return &HealthCheck{client: client}
}

func (h *HealthCheck) Ping(ctx context.Context) error {
	return h.client.Ping(ctx).Err()
}

func (h *HealthCheck) Name() string { return "redis" }
