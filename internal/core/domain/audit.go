package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionInitiate       AuditAction = "TRANSACTION_INITIATE"
	AuditActionCancel         AuditAction = "TRANSACTION_CANCEL"
	AuditActionRefund         AuditAction = "TRANSACTION_REFUND"
	AuditActionCallback       AuditAction = "PROVIDER_CALLBACK"
	AuditActionWalletSuspend  AuditAction = "WALLET_SUSPEND"
	AuditActionWalletActivate AuditAction = "WALLET_ACTIVATE"
	AuditActionLinkAccount    AuditAction = "LINK_ACCOUNT"
	AuditActionInvoiceCreate  AuditAction = "INVOICE_CREATE"
	AuditActionInvoiceUpdate  AuditAction = "INVOICE_UPDATE"
	AuditActionInvoiceSend    AuditAction = "INVOICE_SEND"
	AuditActionInvoicePay     AuditAction = "INVOICE_PAY"
	AuditActionInvoiceCancel  AuditAction = "INVOICE_CANCEL"
	AuditActionPayrollOpen    AuditAction = "PAYROLL_OPEN"
	AuditActionPayrollPrepare AuditAction = "PAYROLL_PREPARE"
	AuditActionPayrollRun     AuditAction = "PAYROLL_RUN"
	AuditActionPayrollReopen  AuditAction = "PAYROLL_REOPEN"
)

// AuditLog records a single audited action in the system.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	UserID       *uuid.UUID  `json:"user_id,omitempty"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	IPAddress    string      `json:"ip_address"`
	CreatedAt    time.Time   `json:"created_at"`
}
