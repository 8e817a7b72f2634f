package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// SequenceGenerator implements ports.SequenceGenerator with INCR. Counters never expire.
type SequenceGenerator struct {
	client goredis.UniversalClient
	keys   keyspace
}

func NewSequenceGenerator(client goredis.UniversalClient) *SequenceGenerator {
	return &SequenceGenerator{client: client, keys: "seq"}
}

func (g *SequenceGenerator) Next(ctx context.Context, scope string) (int64, error) {
	n, err := g.client.Incr(ctx, g.keys.key(scope)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis sequence %s: %w", scope, err)
	}
	return n, nil
}
