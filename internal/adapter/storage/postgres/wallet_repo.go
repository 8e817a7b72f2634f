package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"farm-payments/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const walletColumns = `id, user_id, currency, balance, available_balance, reserved_balance,
		status, last_audit_hash, created_at, updated_at`

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	pool Pool
}

// NewWalletRepo creates a new WalletRepo.
func NewWalletRepo(pool Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// Create inserts a new wallet. (user_id, currency) is unique.
func (r *WalletRepo) Create(ctx context.Context, w *domain.Wallet) error {
	query := `INSERT INTO wallets (` + walletColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.pool.Exec(ctx, query,
		w.ID, w.UserID, w.Currency, w.Balance, w.AvailableBalance, w.ReservedBalance,
		w.Status, w.LastAuditHash, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return mapWriteErr("insert wallet", err)
	}
	return nil
}

// GetByID fetches a wallet by its UUID (without locking).
func (r *WalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1`
	return scanWallet(r.pool.QueryRow(ctx, query, id))
}

// GetByUser fetches the user's wallet in currency.
func (r *WalletRepo) GetByUser(ctx context.Context, userID uuid.UUID, currency string) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 AND currency = $2`
	return scanWallet(r.pool.QueryRow(ctx, query, userID, currency))
}

func (r *WalletRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 ORDER BY currency`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []domain.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallet rows: %w", err)
	}
	return wallets, nil
}

// GetByIDForUpdate fetches a wallet by ID with pessimistic locking.
// This MUST be called within a transaction.
func (r *WalletRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1 FOR UPDATE`
	return scanWallet(tx.QueryRow(ctx, query, id))
}

// UpdateBalance writes the three balances and the audit hash within a transaction.
func (r *WalletRepo) UpdateBalance(ctx context.Context, tx pgx.Tx, w *domain.Wallet) error {
	query := `UPDATE wallets SET balance = $1, available_balance = $2, reserved_balance = $3,
		last_audit_hash = $4, updated_at = $5 WHERE id = $6`

	tag, err := on(r.pool, tx).Exec(ctx, query,
		w.Balance, w.AvailableBalance, w.ReservedBalance, w.LastAuditHash, w.UpdatedAt, w.ID,
	)
	if err != nil {
		return fmt.Errorf("update wallet balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet not found: %s", w.ID)
	}
	return nil
}

func (r *WalletRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.WalletStatus, updatedAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE wallets SET status = $1, updated_at = $2 WHERE id = $3`, status, updatedAt, id)
	if err != nil {
		return fmt.Errorf("update wallet status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet not found: %s", id)
	}
	return nil
}

func (r *WalletRepo) AddLinkedAccount(ctx context.Context, a *domain.LinkedAccount) error {
	query := `INSERT INTO linked_accounts (id, wallet_id, provider, masked_number, encrypted_number, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		a.ID, a.WalletID, a.Provider, a.Number, a.EncryptedNumber, a.Verified, a.CreatedAt,
	)
	if err != nil {
		return mapWriteErr("insert linked account", err)
	}
	return nil
}

func (r *WalletRepo) ListLinkedAccounts(ctx context.Context, walletID uuid.UUID) ([]domain.LinkedAccount, error) {
	query := `SELECT id, wallet_id, provider, masked_number, encrypted_number, verified, created_at
		FROM linked_accounts WHERE wallet_id = $1 ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, walletID)
	if err != nil {
		return nil, fmt.Errorf("list linked accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.LinkedAccount
	for rows.Next() {
		var a domain.LinkedAccount
		if err := rows.Scan(&a.ID, &a.WalletID, &a.Provider, &a.Number, &a.EncryptedNumber, &a.Verified, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan linked account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *WalletRepo) VerifyLinkedAccount(ctx context.Context, walletID, accountID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE linked_accounts SET verified = TRUE WHERE id = $1 AND wallet_id = $2`, accountID, walletID)
	if err != nil {
		return fmt.Errorf("verify linked account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("linked account not found: %s", accountID)
	}
	return nil
}

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	w := &domain.Wallet{}
	err := row.Scan(
		&w.ID, &w.UserID, &w.Currency, &w.Balance, &w.AvailableBalance, &w.ReservedBalance,
		&w.Status, &w.LastAuditHash, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan wallet: %w", err)
	}
	return w, nil
}
