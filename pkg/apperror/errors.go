package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string   `json:"error_code"`
	Message    string   `json:"message"`
	Details    []string `json:"details,omitempty"`
	HTTPStatus int      `json:"-"`
	Err        error    `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	msg := e.Message
	if len(e.Details) > 0 {
		msg = msg + " (" + strings.Join(e.Details, "; ") + ")"
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// HasCode reports whether err (or anything it wraps) is an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Code returns the AppError code of err, or "" if err is not an AppError.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

const (
	CodeValidation           = "VAL_001"
	CodeInsufficientFunds    = "PAY_001"
	CodeInvalidAmount        = "PAY_002"
	CodeDuplicate            = "PAY_003"
	CodeNotFound             = "PAY_004"
	CodeLimitExceeded        = "PAY_005"
	CodeInvalidRefund        = "PAY_006"
	CodeInvalidTransition    = "PAY_007"
	CodeWalletSuspended      = "PAY_008"
	CodeProvider             = "PROV_001"
	CodeAuthorizationTimeout = "PROV_002"
	CodeInvoiceNotEditable   = "INV_001"
	CodeInvoicePayment       = "INV_002"
	CodePayrollState         = "PRL_001"
	CodePayrollInput         = "PRL_002"
	CodeInvariant            = "SYS_004"
)

// ---- Validation (VAL) ----

// ValidationFailed carries every collected validation message, not just the first.
func ValidationFailed(details []string) *AppError {
	e := New(CodeValidation, "Validation failed", http.StatusBadRequest)
	e.Details = append([]string(nil), details...)
	return e
}

// Validation returns a single-message validation error.
func Validation(message string) *AppError {
	return ValidationFailed([]string{message})
}

// ---- Security (SEC) ----

func ErrMissingSignature() *AppError {
	return New("SEC_001", "Missing signature headers", http.StatusUnauthorized)
}

func ErrInvalidSignature() *AppError {
	return New("SEC_002", "Invalid signature", http.StatusUnauthorized)
}

func ErrTimestampExpired() *AppError {
	return New("SEC_003", "Request timestamp expired", http.StatusForbidden)
}

func ErrNonceUsed() *AppError {
	return New("SEC_004", "Nonce has already been used", http.StatusForbidden)
}

// ---- Payment Business Logic (PAY) ----

func ErrInsufficientFunds() *AppError {
	return New(CodeInsufficientFunds, "Insufficient available balance in wallet", http.StatusPaymentRequired)
}

func ErrInvalidAmount() *AppError {
	return New(CodeInvalidAmount, "Invalid amount", http.StatusBadRequest)
}

func ErrDuplicateTransaction() *AppError {
	return New(CodeDuplicate, "Duplicate transaction", http.StatusConflict)
}

func ErrNotFound(entity string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrLimitExceeded(message string) *AppError {
	return New(CodeLimitExceeded, message, http.StatusUnprocessableEntity)
}

func ErrInvalidRefund() *AppError {
	return New(CodeInvalidRefund, "Original transaction not eligible for refund", http.StatusBadRequest)
}

func ErrInvalidTransition(entity, from, to string) *AppError {
	return New(CodeInvalidTransition,
		fmt.Sprintf("%s cannot move from %s to %s", entity, from, to),
		http.StatusConflict)
}

func ErrWalletSuspended() *AppError {
	return New(CodeWalletSuspended, "Wallet is suspended", http.StatusForbidden)
}

// ---- Provider (PROV) ----

func ErrProvider(reason string) *AppError {
	return New(CodeProvider, "Provider error: "+reason, http.StatusBadGateway)
}

func ErrAuthorizationExpired() *AppError {
	return New(CodeAuthorizationTimeout, "Authorization window elapsed without confirmation", http.StatusGatewayTimeout)
}

// ---- Invoices (INV) ----

func ErrInvoiceNotEditable(status string) *AppError {
	return New(CodeInvoiceNotEditable, "Invoice is not editable in status "+status, http.StatusConflict)
}

func ErrInvoiceConflict() *AppError {
	return New(CodeInvoiceNotEditable, "Invoice was modified concurrently, retry the request", http.StatusConflict)
}

func ErrInvoicePayment(message string) *AppError {
	return New(CodeInvoicePayment, message, http.StatusUnprocessableEntity)
}

// ---- Payroll (PRL) ----

func ErrPayrollState(message string) *AppError {
	return New(CodePayrollState, message, http.StatusConflict)
}

func ErrPayrollInput(details []string) *AppError {
	e := New(CodePayrollInput, "Invalid payroll input", http.StatusBadRequest)
	e.Details = append([]string(nil), details...)
	return e
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New("AUTH_003", "Invalid or expired token", http.StatusUnauthorized)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

func ErrEncryptionFailure(err error) *AppError {
	return Wrap("SYS_003", "Encryption service failure", http.StatusInternalServerError, err)
}

// ErrInvariantViolation signals a broken ledger or totals invariant. Callers must abort.
func ErrInvariantViolation(err error) *AppError {
	return Wrap(CodeInvariant, "Invariant violation", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}
