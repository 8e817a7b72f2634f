package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"farm-payments/internal/core/domain"
	"farm-payments/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const transactionColumns = `id, wallet_id, user_id, type, amount, currency, status, description,
		counterpart, counterpart_wallet_id, payment_method, reference, push_id,
		platform_fee, provider_fee, failure_reason, original_transaction_id,
		created_at, updated_at, completed_at`

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// Create inserts a new transaction. A reused reference yields ports.ErrDuplicateKey.
func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.PaymentTransaction) error {
	query := `INSERT INTO payment_transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	_, err := on(r.pool, tx).Exec(ctx, query,
		t.ID, t.WalletID, t.UserID, t.Type, t.Amount, t.Currency, t.Status, t.Description,
		t.Counterpart, t.CounterpartWalletID, t.PaymentMethod, t.Reference, t.PushID,
		t.Fees.PlatformFee, t.Fees.ProviderFee, t.FailureReason, t.OriginalTransactionID,
		t.CreatedAt, t.UpdatedAt, t.CompletedAt,
	)
	if err != nil {
		return mapWriteErr("insert transaction", err)
	}
	return nil
}

// GetByID fetches a transaction by UUID.
func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM payment_transactions WHERE id = $1`
	return scanTransaction(r.pool.QueryRow(ctx, query, id))
}

// GetByReference fetches a transaction by its payment reference.
func (r *TransactionRepo) GetByReference(ctx context.Context, reference string) (*domain.PaymentTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM payment_transactions WHERE reference = $1`
	return scanTransaction(r.pool.QueryRow(ctx, query, reference))
}

// GetByPushID fetches the transaction a provider push belongs to.
func (r *TransactionRepo) GetByPushID(ctx context.Context, pushID string) (*domain.PaymentTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM payment_transactions WHERE push_id = $1`
	return scanTransaction(r.pool.QueryRow(ctx, query, pushID))
}

// Update writes the mutable fields guarded by the expected current status.
func (r *TransactionRepo) Update(ctx context.Context, tx pgx.Tx, t *domain.PaymentTransaction, from domain.TransactionStatus) error {
	query := `UPDATE payment_transactions
		SET status = $1, push_id = $2, failure_reason = $3, updated_at = $4, completed_at = $5
		WHERE id = $6 AND status = $7`

	tag, err := on(r.pool, tx).Exec(ctx, query,
		t.Status, t.PushID, t.FailureReason, t.UpdatedAt, t.CompletedAt, t.ID, from,
	)
	if err != nil {
		return mapWriteErr("update transaction", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrStaleState
	}
	return nil
}

func (r *TransactionRepo) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.PaymentTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM payment_transactions
		WHERE status IN ('PENDING', 'PROCESSING') AND created_at < $1
		ORDER BY created_at LIMIT $2`

	rows, err := r.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale transactions: %w", err)
	}
	return collectTransactions(rows)
}

// List fetches transactions with filtering and pagination, newest first.
func (r *TransactionRepo) List(ctx context.Context, f domain.TransactionFilter) ([]domain.PaymentTransaction, int64, error) {
	var conditions []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if f.UserID != nil {
		add("user_id = $%d", *f.UserID)
	}
	if f.WalletID != nil {
		add("wallet_id = $%d", *f.WalletID)
	}
	if f.Type != nil {
		add("type = $%d", *f.Type)
	}
	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at < $%d", *f.To)
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM payment_transactions"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM payment_transactions%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		transactionColumns, where, len(args)+1, len(args)+2)
	args = append(args, f.PageSize, f.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	txns, err := collectTransactions(rows)
	if err != nil {
		return nil, 0, err
	}
	return txns, total, nil
}

// GetStats aggregates the user's transactions per currency.
func (r *TransactionRepo) GetStats(ctx context.Context, userID uuid.UUID, since *time.Time) ([]domain.TransactionStats, error) {
	args := []any{userID}
	condition := "user_id = $1"
	if since != nil {
		condition += " AND created_at >= $2"
		args = append(args, *since)
	}

	query := fmt.Sprintf(`SELECT currency,
		COUNT(*) AS total,
		COUNT(*) FILTER (WHERE status = 'COMPLETED') AS completed,
		COUNT(*) FILTER (WHERE status = 'FAILED') AS failed,
		COUNT(*) FILTER (WHERE status = 'EXPIRED') AS expired,
		COALESCE(SUM(amount) FILTER (WHERE status = 'COMPLETED'), 0) AS volume,
		COALESCE(SUM(platform_fee + provider_fee) FILTER (WHERE status = 'COMPLETED'), 0) AS fees
		FROM payment_transactions WHERE %s
		GROUP BY currency ORDER BY currency`, condition)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get transaction stats: %w", err)
	}
	defer rows.Close()

	var stats []domain.TransactionStats
	for rows.Next() {
		var s domain.TransactionStats
		if err := rows.Scan(&s.Currency, &s.TotalCount, &s.CompletedCount, &s.FailedCount,
			&s.ExpiredCount, &s.CompletedVolume, &s.FeesCollected); err != nil {
			return nil, fmt.Errorf("scan transaction stats: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func collectTransactions(rows pgx.Rows) ([]domain.PaymentTransaction, error) {
	defer rows.Close()
	var txns []domain.PaymentTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return txns, nil
}

func scanTransaction(row pgx.Row) (*domain.PaymentTransaction, error) {
	t := &domain.PaymentTransaction{}
	err := row.Scan(
		&t.ID, &t.WalletID, &t.UserID, &t.Type, &t.Amount, &t.Currency, &t.Status, &t.Description,
		&t.Counterpart, &t.CounterpartWalletID, &t.PaymentMethod, &t.Reference, &t.PushID,
		&t.Fees.PlatformFee, &t.Fees.ProviderFee, &t.FailureReason, &t.OriginalTransactionID,
		&t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	t.Fees = domain.NewFees(t.Fees.PlatformFee, t.Fees.ProviderFee)
	return t, nil
}
