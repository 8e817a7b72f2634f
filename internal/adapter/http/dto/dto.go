package dto

import (
	"farm-payments/internal/core/domain"

	"github.com/shopspring/decimal"
)

// InitiateTransactionRequest is the request body for POST /api/v1/transactions.
type InitiateTransactionRequest struct {
	Type                string          `json:"type" binding:"required,oneof=PAYMENT TOPUP WITHDRAWAL SALARY"`
	Amount              decimal.Decimal `json:"amount" binding:"positive_amount"`
	Currency            string          `json:"currency" binding:"required,currency"`
	Provider            string          `json:"provider,omitempty" binding:"omitempty,safe_id,max=32"`
	Phone               string          `json:"phone,omitempty" binding:"omitempty,msisdn"`
	CounterpartWalletID *string         `json:"counterpart_wallet_id,omitempty" binding:"omitempty,uuid"`
	Description         string          `json:"description,omitempty" binding:"max=255"`
}

// RefundRequest is the request body for refunding a completed payment.
type RefundRequest struct {
	Reason string `json:"reason" binding:"required,max=255"`
}

// TransactionResponse is the response body for transaction results.
type TransactionResponse struct {
	ID                    string  `json:"id"`
	WalletID              string  `json:"wallet_id"`
	Type                  string  `json:"type"`
	Status                string  `json:"status"`
	Amount                string  `json:"amount"`
	Currency              string  `json:"currency"`
	PlatformFee           string  `json:"platform_fee"`
	ProviderFee           string  `json:"provider_fee"`
	TotalFees             string  `json:"total_fees"`
	Reference             string  `json:"reference"`
	Provider              string  `json:"provider,omitempty"`
	Counterpart           string  `json:"counterpart,omitempty"`
	CounterpartWalletID   *string `json:"counterpart_wallet_id,omitempty"`
	Description           string  `json:"description,omitempty"`
	FailureReason         *string `json:"failure_reason,omitempty"`
	OriginalTransactionID *string `json:"original_transaction_id,omitempty"`
	CreatedAt             string  `json:"created_at"`
	CompletedAt           *string `json:"completed_at,omitempty"`
}

// ListResponse wraps a page of items.
type ListResponse[T any] struct {
	Items      []T   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
}

// CreateWalletRequest opens (or returns) the caller's wallet in a currency.
type CreateWalletRequest struct {
	Currency string `json:"currency" binding:"required,currency"`
}

// LinkAccountRequest attaches a mobile-money number to a wallet.
type LinkAccountRequest struct {
	Provider string `json:"provider" binding:"required,safe_id,max=32"`
	Number   string `json:"number" binding:"required,msisdn"`
}

// ContactRequest is an invoice party.
type ContactRequest struct {
	Name    string `json:"name" binding:"required,max=120"`
	Email   string `json:"email,omitempty" binding:"omitempty,email,max=254"`
	Phone   string `json:"phone,omitempty" binding:"omitempty,msisdn"`
	Address string `json:"address,omitempty" binding:"max=255"`
}

// LineItemRequest is one invoice line.
type LineItemRequest struct {
	Description string          `json:"description" binding:"required,max=255"`
	Quantity    decimal.Decimal `json:"quantity" binding:"positive_amount"`
	Unit        string          `json:"unit,omitempty" binding:"max=20"`
	UnitPrice   decimal.Decimal `json:"unit_price" binding:"non_negative_amount"`
}

// CreateInvoiceRequest is the request body for a new draft invoice.
type CreateInvoiceRequest struct {
	From             ContactRequest    `json:"from"`
	To               ContactRequest    `json:"to"`
	Items            []LineItemRequest `json:"items" binding:"omitempty,max=200,dive"`
	TaxRate          decimal.Decimal   `json:"tax_rate" binding:"non_negative_amount"`
	Currency         string            `json:"currency" binding:"required,currency"`
	PaymentTermsDays *int              `json:"payment_terms_days,omitempty" binding:"omitempty,min=0,max=365"`
	Notes            string            `json:"notes,omitempty" binding:"max=1000"`
}

// SetTaxRateRequest replaces a draft invoice's tax rate.
type SetTaxRateRequest struct {
	TaxRate decimal.Decimal `json:"tax_rate" binding:"non_negative_amount"`
}

// RecordPaymentRequest marks a sent invoice paid by a completed transaction.
type RecordPaymentRequest struct {
	Reference string `json:"reference" binding:"required,safe_id,max=64"`
}

// CollectInvoiceRequest pushes an invoice's total to the payer's phone.
type CollectInvoiceRequest struct {
	Provider string `json:"provider" binding:"required,safe_id,max=32"`
	Phone    string `json:"phone" binding:"required,msisdn"`
}

// InvoiceCollectResponse pairs the invoice with the collection transaction.
type InvoiceCollectResponse struct {
	Invoice     *domain.Invoice     `json:"invoice"`
	Transaction TransactionResponse `json:"transaction"`
}

// OpenPayrollPeriodRequest opens a draft payroll period. Dates are YYYY-MM-DD.
type OpenPayrollPeriodRequest struct {
	FundingUserID *string          `json:"funding_user_id,omitempty" binding:"omitempty,uuid"`
	StartDate     string           `json:"start_date" binding:"required,datetime=2006-01-02"`
	EndDate       string           `json:"end_date" binding:"required,datetime=2006-01-02"`
	PayDate       string           `json:"pay_date" binding:"required,datetime=2006-01-02"`
	Currency      string           `json:"currency" binding:"required,currency"`
	TaxRate       *decimal.Decimal `json:"tax_rate,omitempty" binding:"omitempty,non_negative_amount"`
}

// PayrollEntryRequest is one employee and their attendance for the period.
type PayrollEntryRequest struct {
	EmployeeID    string          `json:"employee_id" binding:"required,uuid"`
	Name          string          `json:"name" binding:"required,max=120"`
	Phone         string          `json:"phone" binding:"required,msisdn"`
	Provider      string          `json:"provider" binding:"required,safe_id,max=32"`
	DailyRate     decimal.Decimal `json:"daily_rate" binding:"non_negative_amount"`
	OvertimeRate  decimal.Decimal `json:"overtime_rate" binding:"non_negative_amount"`
	DaysWorked    decimal.Decimal `json:"days_worked" binding:"non_negative_amount"`
	OvertimeHours decimal.Decimal `json:"overtime_hours" binding:"non_negative_amount"`
	Bonuses       decimal.Decimal `json:"bonuses" binding:"non_negative_amount"`
	Deductions    decimal.Decimal `json:"deductions" binding:"non_negative_amount"`
}

// PreparePayrollRequest computes salary payments for a draft period.
type PreparePayrollRequest struct {
	Entries []PayrollEntryRequest `json:"entries" binding:"required,min=1,max=1000,dive"`
}

// PayrollPeriodResponse is a period with its salary payments.
type PayrollPeriodResponse struct {
	Period   *domain.PayrollPeriod  `json:"period"`
	Payments []domain.SalaryPayment `json:"payments"`
}

// DashboardStatsResponse is the response for dashboard statistics.
type DashboardStatsResponse struct {
	Period     string                    `json:"period"`
	Currencies []domain.TransactionStats `json:"currencies"`
}

// CallbackRequest is a provider's authorization result.
type CallbackRequest struct {
	PushID    string `json:"push_id,omitempty" binding:"max=128"`
	Reference string `json:"reference,omitempty" binding:"omitempty,safe_id,max=64"`
	Outcome   string `json:"outcome" binding:"required,oneof=APPROVED DECLINED FAILED"`
	Reason    string `json:"reason,omitempty" binding:"max=255"`
}
