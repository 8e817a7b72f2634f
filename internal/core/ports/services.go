package ports

//go:generate mockgen -source=services.go -destination=mocks/services.go -package=mocks

import (
	"context"
	"time"

	"farm-payments/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EncryptionService handles AES-256-GCM encryption/decryption.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// HashService seals wallet balance snapshots into a tamper-evident chain.
type HashService interface {
	// Chain returns the hash of wallet's current balances linked to prev.
	Chain(prev string, wallet *domain.Wallet) string
}

// SignatureService handles HMAC-SHA256 signing and verification.
type SignatureService interface {
	Sign(secretKey string, payload string) string
	Verify(secretKey string, payload string, signature string) bool
	BuildCanonicalString(method, path string, timestamp int64, nonce string, body string) string
}

// TokenService validates bearer tokens issued by the identity service.
type TokenService interface {
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	UserID uuid.UUID
	OrgID  uuid.UUID
}

// IdempotencyCache is the Redis-layer idempotency check (fast path).
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached response JSON or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// NonceStore manages nonce uniqueness for replay attack prevention.
type NonceStore interface {
	// CheckAndSet atomically checks if nonce exists, sets it if not.
	// Returns true if nonce is new (valid), false if already used.
	CheckAndSet(ctx context.Context, scope string, nonce string, ttl time.Duration) (bool, error)
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   int64 // Unix timestamp
}

// RateLimitStore counts requests per key in fixed windows.
type RateLimitStore interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error)
}

// --- Service Ports (Business Logic) ---

// InitiateRequest holds validated input for starting a transaction.
type InitiateRequest struct {
	UserID              uuid.UUID
	Type                domain.TransactionType
	Amount              decimal.Decimal
	Currency            string
	Provider            string // Empty for wallet-to-wallet payments
	Phone               string // Payer for topups, recipient otherwise
	CounterpartWalletID *uuid.UUID
	Description         string
	IdempotencyKey      string
}

// RefundRequest holds validated input for refund processing.
type RefundRequest struct {
	UserID        uuid.UUID
	TransactionID uuid.UUID
	Reason        string
}

// TransactionEngine drives payment transactions through their state machine.
type TransactionEngine interface {
	Initiate(ctx context.Context, req InitiateRequest) (*domain.PaymentTransaction, error)
	// Process authorizes a pending transaction and blocks until it is terminal or ctx ends.
	Process(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error)
	// Submit initiates and authorizes in the background, returning the pending record.
	Submit(ctx context.Context, req InitiateRequest) (*domain.PaymentTransaction, error)
	HandleAuthorizationResult(ctx context.Context, result AuthorizationResult) error
	Cancel(ctx context.Context, userID, id uuid.UUID) (*domain.PaymentTransaction, error)
	Refund(ctx context.Context, req RefundRequest) (*domain.PaymentTransaction, error)
	Get(ctx context.Context, userID, id uuid.UUID) (*domain.PaymentTransaction, error)
	GetByReference(ctx context.Context, userID uuid.UUID, reference string) (*domain.PaymentTransaction, error)
	ExpireStale(ctx context.Context) (int, error)
}

// LinkAccountRequest attaches a mobile-money number to a wallet.
type LinkAccountRequest struct {
	UserID   uuid.UUID
	WalletID uuid.UUID
	Provider string
	Number   string
}

// WalletService exposes wallet reads and administrative operations.
type WalletService interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID, currency string) (*domain.Wallet, error)
	Get(ctx context.Context, userID, walletID uuid.UUID) (*domain.Wallet, error)
	List(ctx context.Context, userID uuid.UUID) ([]domain.Wallet, error)
	Suspend(ctx context.Context, userID, walletID uuid.UUID) (*domain.Wallet, error)
	Activate(ctx context.Context, userID, walletID uuid.UUID) (*domain.Wallet, error)
	LinkAccount(ctx context.Context, req LinkAccountRequest) (*domain.LinkedAccount, error)
	VerifyLinkedAccount(ctx context.Context, userID, walletID, accountID uuid.UUID) error
}

// LineItemInput is a caller-supplied invoice line.
type LineItemInput struct {
	Description string
	Quantity    decimal.Decimal
	Unit        string
	UnitPrice   decimal.Decimal
}

// CreateInvoiceRequest holds input for a new draft invoice.
type CreateInvoiceRequest struct {
	OrgID            uuid.UUID
	From             domain.Contact
	To               domain.Contact
	Items            []LineItemInput
	TaxRate          decimal.Decimal
	Currency         string
	PaymentTermsDays *int // nil uses the configured default
	Notes            string
}

// CollectRequest pushes an invoice's total to the payer's phone.
type CollectRequest struct {
	OrgID     uuid.UUID
	InvoiceID uuid.UUID
	Provider  string
	Phone     string
}

// InvoiceService manages the invoice lifecycle.
type InvoiceService interface {
	Create(ctx context.Context, req CreateInvoiceRequest) (*domain.Invoice, error)
	Get(ctx context.Context, orgID, id uuid.UUID) (*domain.Invoice, error)
	List(ctx context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, int64, error)
	AddItem(ctx context.Context, orgID, id uuid.UUID, item LineItemInput) (*domain.Invoice, error)
	RemoveItem(ctx context.Context, orgID, id, itemID uuid.UUID) (*domain.Invoice, error)
	SetTaxRate(ctx context.Context, orgID, id uuid.UUID, rate decimal.Decimal) (*domain.Invoice, error)
	Send(ctx context.Context, orgID, id uuid.UUID) (*domain.Invoice, error)
	Cancel(ctx context.Context, orgID, id uuid.UUID) (*domain.Invoice, error)
	RecordPayment(ctx context.Context, orgID, id uuid.UUID, reference string) (*domain.Invoice, error)
	Collect(ctx context.Context, req CollectRequest) (*domain.Invoice, *domain.PaymentTransaction, error)
}

// OpenPeriodRequest holds input for a new payroll period.
type OpenPeriodRequest struct {
	OrgID         uuid.UUID
	FundingUserID uuid.UUID
	StartDate     time.Time
	EndDate       time.Time
	PayDate       time.Time
	Currency      string
	TaxRate       *decimal.Decimal // nil uses the configured default
}

// PayrollEntry pairs an employee with their attendance for the period.
type PayrollEntry struct {
	Employee   domain.Employee
	Attendance domain.AttendanceRecord
}

// PayrollService computes salaries and drives payroll batches.
type PayrollService interface {
	OpenPeriod(ctx context.Context, req OpenPeriodRequest) (*domain.PayrollPeriod, error)
	Prepare(ctx context.Context, orgID, periodID uuid.UUID, entries []PayrollEntry) (*domain.PayrollPeriod, []domain.SalaryPayment, error)
	// Run moves a draft period to processing and blocks until every payment is terminal.
	Run(ctx context.Context, orgID, periodID uuid.UUID) (*domain.PayrollPeriod, []domain.SalaryPayment, error)
	// Start is Run in the background; it returns once the period is processing.
	Start(ctx context.Context, orgID, periodID uuid.UUID) (*domain.PayrollPeriod, error)
	Reopen(ctx context.Context, orgID, periodID uuid.UUID) (*domain.PayrollPeriod, error)
	Get(ctx context.Context, orgID, periodID uuid.UUID) (*domain.PayrollPeriod, []domain.SalaryPayment, error)
	List(ctx context.Context, orgID uuid.UUID) ([]domain.PayrollPeriod, error)
}

// WalletBalance is a wallet summary with display strings.
type WalletBalance struct {
	WalletID           uuid.UUID           `json:"wallet_id"`
	Currency           string              `json:"currency"`
	Status             domain.WalletStatus `json:"status"`
	Balance            decimal.Decimal     `json:"balance"`
	AvailableBalance   decimal.Decimal     `json:"available_balance"`
	ReservedBalance    decimal.Decimal     `json:"reserved_balance"`
	FormattedBalance   string              `json:"formatted_balance"`
	FormattedAvailable string              `json:"formatted_available"`
}

// ReportingService defines dashboard/reporting business logic.
type ReportingService interface {
	GetDashboardStats(ctx context.Context, userID uuid.UUID, period string) ([]domain.TransactionStats, error)
	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.PaymentTransaction, int64, error)
	GetWalletBalances(ctx context.Context, userID uuid.UUID) ([]WalletBalance, error)
}

// WebhookService delivers outbound transaction notifications.
type WebhookService interface {
	EnqueueWebhook(ctx context.Context, txn *domain.PaymentTransaction) error
}

// AuditService records audited actions.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}

type clientIPKey struct{}

// WithClientIP attaches the caller's address for audit entries.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIP returns the address set by WithClientIP, or "".
func ClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}
