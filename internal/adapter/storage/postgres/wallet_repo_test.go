package postgres

import (
	"context"
	"testing"

	"farm-payments/internal/core/domain"
	"farm-payments/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWallet() *domain.Wallet {
	w := domain.NewWallet(uuid.New(), "KES", ts())
	w.Balance = decimal.NewFromInt(1000)
	w.AvailableBalance = decimal.NewFromInt(700)
	w.ReservedBalance = decimal.NewFromInt(300)
	w.LastAuditHash = strPtr("abc123")
	return w
}

func walletCols() []string {
	return []string{"id", "user_id", "currency", "balance", "available_balance", "reserved_balance",
		"status", "last_audit_hash", "created_at", "updated_at"}
}

func walletRow(w *domain.Wallet) *pgxmock.Rows {
	return pgxmock.NewRows(walletCols()).AddRow(
		w.ID, w.UserID, w.Currency, w.Balance, w.AvailableBalance, w.ReservedBalance,
		w.Status, w.LastAuditHash, w.CreatedAt, w.UpdatedAt,
	)
}

func TestWalletRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	w := newTestWallet()

	mock.ExpectExec("INSERT INTO wallets").
		WithArgs(w.ID, w.UserID, w.Currency, w.Balance, w.AvailableBalance, w.ReservedBalance,
			w.Status, w.LastAuditHash, w.CreatedAt, w.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	assert.NoError(t, repo.Create(context.Background(), w))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_Create_Duplicate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)

	mock.ExpectExec("INSERT INTO wallets").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "wallets_user_id_currency_key"})

	err = repo.Create(context.Background(), newTestWallet())
	assert.ErrorIs(t, err, ports.ErrDuplicateKey)
}

func TestWalletRepo_GetByUser(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	w := newTestWallet()

	mock.ExpectQuery("SELECT .+ FROM wallets WHERE user_id .+ AND currency").
		WithArgs(w.UserID, "KES").
		WillReturnRows(walletRow(w))

	got, err := repo.GetByUser(context.Background(), w.UserID, "KES")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, w.ID, got.ID)
	assert.True(t, got.ReservedBalance.Equal(decimal.NewFromInt(300)))
	require.NoError(t, got.CheckInvariant())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM wallets WHERE id").
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(walletCols()))

	got, err := repo.GetByID(context.Background(), uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestWalletRepo_ListByUser(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	a, b := newTestWallet(), newTestWallet()
	b.UserID, b.Currency = a.UserID, "UGX"

	rows := walletRow(a).AddRow(b.ID, b.UserID, b.Currency, b.Balance, b.AvailableBalance, b.ReservedBalance,
		b.Status, b.LastAuditHash, b.CreatedAt, b.UpdatedAt)
	mock.ExpectQuery("SELECT .+ FROM wallets WHERE user_id").
		WithArgs(a.UserID).
		WillReturnRows(rows)

	wallets, err := repo.ListByUser(context.Background(), a.UserID)
	require.NoError(t, err)
	require.Len(t, wallets, 2)
	assert.Equal(t, "UGX", wallets[1].Currency)
}

func TestWalletRepo_GetByIDForUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	w := newTestWallet()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM wallets WHERE id .+ FOR UPDATE").
		WithArgs(w.ID).
		WillReturnRows(walletRow(w))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	got, err := repo.GetByIDForUpdate(context.Background(), tx, w.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, w.ID, got.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_UpdateBalance(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	w := newTestWallet()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE wallets SET balance").
		WithArgs(w.Balance, w.AvailableBalance, w.ReservedBalance, w.LastAuditHash, w.UpdatedAt, w.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	assert.NoError(t, repo.UpdateBalance(context.Background(), tx, w))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_UpdateBalance_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)

	mock.ExpectExec("UPDATE wallets SET balance").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = repo.UpdateBalance(context.Background(), nil, newTestWallet())
	assert.Error(t, err)
}

func TestWalletRepo_UpdateStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	id := uuid.New()
	at := ts()

	mock.ExpectExec(`UPDATE wallets SET status = \$1, updated_at = \$2 WHERE id = \$3`).
		WithArgs(domain.WalletStatusSuspended, at, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	assert.NoError(t, repo.UpdateStatus(context.Background(), id, domain.WalletStatusSuspended, at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_LinkedAccounts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	acct := &domain.LinkedAccount{
		ID: uuid.New(), WalletID: uuid.New(), Provider: "mpesa",
		Number: "******5678", EncryptedNumber: "ciphertext", CreatedAt: ts(),
	}

	mock.ExpectExec("INSERT INTO linked_accounts").
		WithArgs(acct.ID, acct.WalletID, acct.Provider, acct.Number, acct.EncryptedNumber, false, acct.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT .+ FROM linked_accounts WHERE wallet_id").
		WithArgs(acct.WalletID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "wallet_id", "provider", "masked_number", "encrypted_number", "verified", "created_at"}).
			AddRow(acct.ID, acct.WalletID, acct.Provider, acct.Number, acct.EncryptedNumber, false, acct.CreatedAt))
	mock.ExpectExec("UPDATE linked_accounts SET verified").
		WithArgs(acct.ID, acct.WalletID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.AddLinkedAccount(context.Background(), acct))
	accounts, err := repo.ListLinkedAccounts(context.Background(), acct.WalletID)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "ciphertext", accounts[0].EncryptedNumber)
	require.NoError(t, repo.VerifyLinkedAccount(context.Background(), acct.WalletID, acct.ID))
	assert.NoError(t, mock.ExpectationsWereMet())
}
