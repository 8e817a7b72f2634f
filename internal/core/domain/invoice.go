package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceStatus is the stored lifecycle state. OVERDUE is never stored, see EffectiveStatus.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "DRAFT"
	InvoiceStatusSent      InvoiceStatus = "SENT"
	InvoiceStatusPaid      InvoiceStatus = "PAID"
	InvoiceStatusOverdue   InvoiceStatus = "OVERDUE"
	InvoiceStatusCancelled InvoiceStatus = "CANCELLED"
)

var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusDraft: {InvoiceStatusSent, InvoiceStatusCancelled},
	InvoiceStatusSent:  {InvoiceStatusPaid, InvoiceStatusCancelled},
}

// CanTransitionInvoice reports whether from -> to is a legal stored transition.
func CanTransitionInvoice(from, to InvoiceStatus) bool {
	for _, next := range invoiceTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Contact identifies the issuing or receiving party of an invoice.
type Contact struct {
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

// LineItem is one billed line. LineTotal is derived from Quantity and UnitPrice.
type LineItem struct {
	ID          uuid.UUID       `json:"id"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Unit        string          `json:"unit,omitempty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// Invoice is a bill issued by a farm organisation.
type Invoice struct {
	ID               uuid.UUID       `json:"id"`
	OrgID            uuid.UUID       `json:"org_id"`
	InvoiceNumber    string          `json:"invoice_number"`
	From             Contact         `json:"from"`
	To               Contact         `json:"to"`
	Items            []LineItem      `json:"items"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	TaxRate          decimal.Decimal `json:"tax_rate"`
	TaxAmount        decimal.Decimal `json:"tax_amount"`
	Total            decimal.Decimal `json:"total"`
	Currency         string          `json:"currency"`
	Status           InvoiceStatus   `json:"status"`
	Overdue          bool            `json:"overdue"` // Derived at read time
	IssueDate        time.Time       `json:"issue_date"`
	DueDate          time.Time       `json:"due_date"`
	PaymentTermsDays int             `json:"payment_terms_days"`
	PaymentDate      *time.Time      `json:"payment_date,omitempty"`
	PaymentMethod    *string         `json:"payment_method,omitempty"`
	PaymentReference *string         `json:"payment_reference,omitempty"`
	Notes            string          `json:"notes,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`

	// Version increases on every stored write and guards read-modify-write cycles.
	Version int64 `json:"version"`
}

// Recalculate recomputes every line total and the invoice totals from scratch.
func (inv *Invoice) Recalculate() {
	subtotal := decimal.Zero
	for i := range inv.Items {
		inv.Items[i].LineTotal = inv.Items[i].Quantity.Mul(inv.Items[i].UnitPrice).Round(2)
		subtotal = subtotal.Add(inv.Items[i].LineTotal)
	}
	inv.Subtotal = subtotal
	inv.TaxAmount = subtotal.Mul(inv.TaxRate).Round(2)
	inv.Total = inv.Subtotal.Add(inv.TaxAmount)
}

// CheckTotals verifies subtotal == sum(lineTotal) and total == subtotal + taxAmount.
func (inv *Invoice) CheckTotals() error {
	sum := decimal.Zero
	for _, item := range inv.Items {
		sum = sum.Add(item.LineTotal)
	}
	if !sum.Equal(inv.Subtotal) {
		return fmt.Errorf("invoice %s: subtotal %s != line sum %s", inv.ID, inv.Subtotal, sum)
	}
	if !inv.Subtotal.Add(inv.TaxAmount).Equal(inv.Total) {
		return fmt.Errorf("invoice %s: total %s != subtotal %s + tax %s", inv.ID, inv.Total, inv.Subtotal, inv.TaxAmount)
	}
	return nil
}

// IsOverdue reports whether a sent invoice has passed its due date at now.
func (inv *Invoice) IsOverdue(now time.Time) bool {
	return inv.Status == InvoiceStatusSent && now.After(inv.DueDate)
}

// EffectiveStatus is the status a reader sees: SENT invoices past due read as OVERDUE.
func (inv *Invoice) EffectiveStatus(now time.Time) InvoiceStatus {
	if inv.IsOverdue(now) {
		return InvoiceStatusOverdue
	}
	return inv.Status
}

// InvoiceFilter narrows invoice listings.
type InvoiceFilter struct {
	OrgID    uuid.UUID
	Status   *InvoiceStatus // OVERDUE matches SENT invoices past due
	Page     int
	PageSize int
}
