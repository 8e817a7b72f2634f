package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType represents the kind of money movement.
type TransactionType string

const (
	TransactionTypePayment    TransactionType = "PAYMENT"
	TransactionTypeTopup      TransactionType = "TOPUP"
	TransactionTypeWithdrawal TransactionType = "WITHDRAWAL"
	TransactionTypeSalary     TransactionType = "SALARY"
	TransactionTypeRefund     TransactionType = "REFUND"
)

// Valid reports whether t is a type a caller may initiate. Refunds are created by the engine.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypePayment, TransactionTypeTopup, TransactionTypeWithdrawal, TransactionTypeSalary:
		return true
	}
	return false
}

// IsDebit reports whether the source wallet pays amount plus fees.
func (t TransactionType) IsDebit() bool {
	return t == TransactionTypePayment || t == TransactionTypeWithdrawal || t == TransactionTypeSalary
}

// TransactionStatus represents the lifecycle state of a transaction.
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "PENDING"
	TransactionStatusProcessing TransactionStatus = "PROCESSING"
	TransactionStatusCompleted  TransactionStatus = "COMPLETED"
	TransactionStatusFailed     TransactionStatus = "FAILED"
	TransactionStatusCancelled  TransactionStatus = "CANCELLED"
	TransactionStatusRefunded   TransactionStatus = "REFUNDED"
	TransactionStatusExpired    TransactionStatus = "EXPIRED"
)

var transactionTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending:    {TransactionStatusProcessing, TransactionStatusCancelled, TransactionStatusExpired},
	TransactionStatusProcessing: {TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusExpired},
	TransactionStatusCompleted:  {TransactionStatusRefunded},
}

// CanTransition reports whether from -> to is a legal edge of the transaction state machine.
func CanTransition(from, to TransactionStatus) bool {
	for _, next := range transactionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Fees is the fee breakdown captured at creation time.
type Fees struct {
	PlatformFee decimal.Decimal `json:"platform_fee"`
	ProviderFee decimal.Decimal `json:"provider_fee"`
	Total       decimal.Decimal `json:"total"`
}

// NewFees builds a breakdown whose Total is the sum of its parts.
func NewFees(platform, provider decimal.Decimal) Fees {
	return Fees{PlatformFee: platform, ProviderFee: provider, Total: platform.Add(provider)}
}

// PaymentTransaction is an append-only record of a single money movement.
type PaymentTransaction struct {
	ID                    uuid.UUID         `json:"id"`
	WalletID              uuid.UUID         `json:"wallet_id"`
	UserID                uuid.UUID         `json:"user_id"`
	Type                  TransactionType   `json:"type"`
	Amount                decimal.Decimal   `json:"amount"`
	Currency              string            `json:"currency"`
	Status                TransactionStatus `json:"status"`
	Description           string            `json:"description,omitempty"`
	Counterpart           string            `json:"counterpart,omitempty"` // MSISDN of recipient or sender
	CounterpartWalletID   *uuid.UUID        `json:"counterpart_wallet_id,omitempty"`
	PaymentMethod         string            `json:"payment_method"` // Provider id
	Reference             string            `json:"reference"`
	PushID                *string           `json:"push_id,omitempty"`
	Fees                  Fees              `json:"fees"`
	FailureReason         *string           `json:"failure_reason,omitempty"`
	OriginalTransactionID *uuid.UUID        `json:"original_transaction_id,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
	CompletedAt           *time.Time        `json:"completed_at,omitempty"`
}

// IsTerminal returns true if no further provider-driven transition is possible.
func (t *PaymentTransaction) IsTerminal() bool {
	switch t.Status {
	case TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusCancelled,
		TransactionStatusRefunded, TransactionStatusExpired:
		return true
	}
	return false
}

// IsRefundable returns true if this transaction can be compensated by a refund.
func (t *PaymentTransaction) IsRefundable() bool {
	return t.Type == TransactionTypePayment && t.Status == TransactionStatusCompleted
}

// HoldAmount is what the source wallet must reserve while authorization is pending.
func (t *PaymentTransaction) HoldAmount() decimal.Decimal {
	if t.Type.IsDebit() {
		return t.Amount.Add(t.Fees.Total)
	}
	return decimal.Zero
}

// Fail records a terminal failure with its reason.
func (t *PaymentTransaction) Fail(status TransactionStatus, reason string, now time.Time) {
	t.Status = status
	t.FailureReason = &reason
	t.UpdatedAt = now
}

// Complete marks the transaction completed at now.
func (t *PaymentTransaction) Complete(now time.Time) {
	t.Status = TransactionStatusCompleted
	t.UpdatedAt = now
	t.CompletedAt = &now
}

// TransactionFilter narrows transaction listings.
type TransactionFilter struct {
	UserID   *uuid.UUID
	WalletID *uuid.UUID
	Type     *TransactionType
	Status   *TransactionStatus
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

// Offset returns the row offset for the filter's page.
func (f TransactionFilter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.PageSize
}

// TransactionStats aggregates completed volume over a period.
type TransactionStats struct {
	Currency        string          `json:"currency"`
	TotalCount      int64           `json:"total_count"`
	CompletedCount  int64           `json:"completed_count"`
	FailedCount     int64           `json:"failed_count"`
	ExpiredCount    int64           `json:"expired_count"`
	CompletedVolume decimal.Decimal `json:"completed_volume"`
	FeesCollected   decimal.Decimal `json:"fees_collected"`
	FormattedVolume string          `json:"formatted_volume"`
}
