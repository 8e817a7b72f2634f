package postgres

import (
	"context"
	"fmt"
)

// SequenceGenerator implements ports.SequenceGenerator with an upserted counter row per scope.
type SequenceGenerator struct {
	pool Pool
}

func NewSequenceGenerator(pool Pool) *SequenceGenerator {
	return &SequenceGenerator{pool: pool}
}

func (g *SequenceGenerator) Next(ctx context.Context, scope string) (int64, error) {
	query := `INSERT INTO sequences (scope, value) VALUES ($1, 1)
		ON CONFLICT (scope) DO UPDATE SET value = sequences.value + 1
		RETURNING value`

	var n int64
	if err := g.pool.QueryRow(ctx, query, scope).Scan(&n); err != nil {
		return 0, fmt.Errorf("next sequence %s: %w", scope, err)
	}
	return n, nil
}
