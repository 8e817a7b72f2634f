package postgres

import (
	"context"
	"errors"
	"fmt"
)

// schemaProbe is the table every write path touches; its absence means
// db/migrations has not been applied.
const schemaProbe = "payment_transactions"

var errSchemaMissing = errors.New("schema not migrated")

// HealthCheck implements ports.HealthChecker: the pool must answer and the schema must exist.
type HealthCheck struct {
	pool Pool
}

func NewHealthCheck(pool Pool) *HealthCheck {
	return &HealthCheck{pool: pool}
}

func (h *HealthCheck) Ping(ctx context.Context) error {
	if err := h.pool.Ping(ctx); err != nil {
		return err
	}
	var present bool
	if err := h.pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, schemaProbe).Scan(&present); err != nil {
		return fmt.Errorf("probe schema: %w", err)
	}
	if !present {
		return fmt.Errorf("%w: table %s is missing", errSchemaMissing, schemaProbe)
	}
	return nil
}

func (h *HealthCheck) Name() string {
	return "postgres"
}
