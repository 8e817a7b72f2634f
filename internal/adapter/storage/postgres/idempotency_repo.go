package postgres

import (
	"context"
	"errors"
	"fmt"

	"farm-payments/internal/core/domain"
	"farm-payments/internal/core/ports"

	"github.com/jackc/pgx/v5"
)

// IdempotencyRepo implements ports.IdempotencyRepository. It is the durable
// copy of the redis idempotency cache.
type IdempotencyRepo struct {
	pool Pool
}

func NewIdempotencyRepo(pool Pool) *IdempotencyRepo {
	return &IdempotencyRepo{pool: pool}
}

// Create claims key for the transaction. An expired row is taken over in
// place; a live one yields ports.ErrDuplicateKey.
func (r *IdempotencyRepo) Create(ctx context.Context, tx pgx.Tx, entry *domain.IdempotencyLog) error {
	query := `INSERT INTO idempotency_logs (key, transaction_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE
			SET transaction_id = EXCLUDED.transaction_id,
				created_at = EXCLUDED.created_at,
				expires_at = EXCLUDED.expires_at
			WHERE idempotency_logs.expires_at <= EXCLUDED.created_at`

	tag, err := on(r.pool, tx).Exec(ctx, query, entry.Key, entry.TransactionID, entry.CreatedAt, entry.ExpiresAt)
	if err != nil {
		return mapWriteErr("claim idempotency key", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrDuplicateKey
	}
	return nil
}

// Get returns the stored entry, expired or not. Callers check Expired.
func (r *IdempotencyRepo) Get(ctx context.Context, key string) (*domain.IdempotencyLog, error) {
	query := `SELECT key, transaction_id, created_at, expires_at FROM idempotency_logs WHERE key = $1`

	entry := &domain.IdempotencyLog{}
	err := r.pool.QueryRow(ctx, query, key).Scan(&entry.Key, &entry.TransactionID, &entry.CreatedAt, &entry.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get idempotency log: %w", err)
	}
	return entry, nil
}
