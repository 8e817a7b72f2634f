package ports

//go:generate mockgen -source=repositories.go -destination=mocks/repositories.go -package=mocks

import (
	"context"
	"errors"
	"time"

	"farm-payments/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	// ErrDuplicateKey is returned by repositories when a unique constraint rejects an insert.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrStaleState is returned when a compare-and-set update finds the row no longer in the expected status.
	ErrStaleState = errors.New("stale state")
)

// WalletRepository defines persistence operations for wallets.
// Methods accepting pgx.Tx are used inside transaction blocks for pessimistic locking.
// Lookups return (nil, nil) when nothing matches.
type WalletRepository interface {
	Create(ctx context.Context, wallet *domain.Wallet) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	GetByUser(ctx context.Context, userID uuid.UUID, currency string) (*domain.Wallet, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Wallet, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error)
	UpdateBalance(ctx context.Context, tx pgx.Tx, wallet *domain.Wallet) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.WalletStatus, updatedAt time.Time) error
	AddLinkedAccount(ctx context.Context, account *domain.LinkedAccount) error
	ListLinkedAccounts(ctx context.Context, walletID uuid.UUID) ([]domain.LinkedAccount, error)
	VerifyLinkedAccount(ctx context.Context, walletID, accountID uuid.UUID) error
}

// TransactionRepository defines persistence operations for payment transactions.
// A nil tx runs the statement outside any transaction.
type TransactionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, txn *domain.PaymentTransaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error)
	GetByReference(ctx context.Context, reference string) (*domain.PaymentTransaction, error)
	GetByPushID(ctx context.Context, pushID string) (*domain.PaymentTransaction, error)
	// Update writes the mutable fields of txn only if its stored status is still from.
	// Returns ErrStaleState otherwise.
	Update(ctx context.Context, tx pgx.Tx, txn *domain.PaymentTransaction, from domain.TransactionStatus) error
	// ListStale returns PENDING or PROCESSING transactions created before cutoff.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.PaymentTransaction, error)
	List(ctx context.Context, filter domain.TransactionFilter) ([]domain.PaymentTransaction, int64, error)
	GetStats(ctx context.Context, userID uuid.UUID, since *time.Time) ([]domain.TransactionStats, error)
}

// InvoiceRepository defines persistence operations for invoices.
type InvoiceRepository interface {
	Create(ctx context.Context, inv *domain.Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Invoice, error)
	GetByPaymentReference(ctx context.Context, reference string) (*domain.Invoice, error)
	// Update writes inv only if its stored status is still from and its stored
	// version matches inv.Version, then advances inv.Version. Returns ErrStaleState otherwise.
	Update(ctx context.Context, inv *domain.Invoice, from domain.InvoiceStatus) error
	// List resolves the OVERDUE filter against now.
	List(ctx context.Context, filter domain.InvoiceFilter, now time.Time) ([]domain.Invoice, int64, error)
}

// PayrollRepository defines persistence operations for payroll periods and salary payments.
type PayrollRepository interface {
	CreatePeriod(ctx context.Context, period *domain.PayrollPeriod) error
	GetPeriod(ctx context.Context, id uuid.UUID) (*domain.PayrollPeriod, error)
	ListPeriods(ctx context.Context, orgID uuid.UUID) ([]domain.PayrollPeriod, error)
	// UpdatePeriod writes period only if its stored status is still from. Returns ErrStaleState otherwise.
	UpdatePeriod(ctx context.Context, tx pgx.Tx, period *domain.PayrollPeriod, from domain.PayrollStatus) error
	CreateSalaryPayments(ctx context.Context, tx pgx.Tx, payments []domain.SalaryPayment) error
	ListSalaryPayments(ctx context.Context, periodID uuid.UUID) ([]domain.SalaryPayment, error)
	UpdateSalaryPayment(ctx context.Context, payment *domain.SalaryPayment) error
}

// SequenceGenerator hands out monotonic numbers per scope, starting at 1.
type SequenceGenerator interface {
	Next(ctx context.Context, scope string) (int64, error)
}

// IdempotencyRepository defines persistence for idempotency logs (DB backup).
type IdempotencyRepository interface {
	Create(ctx context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error
	Get(ctx context.Context, key string) (*domain.IdempotencyLog, error)
}

// AuditRepository persists audit log entries.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
}

// WebhookRepository persists outbound notification delivery attempts.
type WebhookRepository interface {
	Create(ctx context.Context, log *domain.WebhookDeliveryLog) error
	Update(ctx context.Context, log *domain.WebhookDeliveryLog) error
	GetByTransactionID(ctx context.Context, txID uuid.UUID) ([]domain.WebhookDeliveryLog, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
