package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"farm-payments/internal/core/domain"
	"farm-payments/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const invoiceColumns = `id, org_id, invoice_number, from_contact, to_contact, items,
		subtotal, tax_rate, tax_amount, total, currency, status, issue_date, due_date,
		payment_terms_days, payment_date, payment_method, payment_reference, notes,
		created_at, updated_at, version`

// InvoiceRepo implements ports.InvoiceRepository. Contacts and line items are stored as JSONB.
type InvoiceRepo struct {
	pool Pool
}

func NewInvoiceRepo(pool Pool) *InvoiceRepo {
	return &InvoiceRepo{pool: pool}
}

type invoiceDocs struct {
	from, to, items []byte
}

func encodeInvoice(inv *domain.Invoice) (invoiceDocs, error) {
	var d invoiceDocs
	var err error
	if d.from, err = json.Marshal(inv.From); err != nil {
		return d, fmt.Errorf("encode issuer: %w", err)
	}
	if d.to, err = json.Marshal(inv.To); err != nil {
		return d, fmt.Errorf("encode recipient: %w", err)
	}
	items := inv.Items
	if items == nil {
		items = []domain.LineItem{}
	}
	if d.items, err = json.Marshal(items); err != nil {
		return d, fmt.Errorf("encode line items: %w", err)
	}
	return d, nil
}

// Create inserts a draft. A reused invoice number yields ports.ErrDuplicateKey.
func (r *InvoiceRepo) Create(ctx context.Context, inv *domain.Invoice) error {
	docs, err := encodeInvoice(inv)
	if err != nil {
		return err
	}
	query := `INSERT INTO invoices (` + invoiceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`

	_, err = r.pool.Exec(ctx, query,
		inv.ID, inv.OrgID, inv.InvoiceNumber, docs.from, docs.to, docs.items,
		inv.Subtotal, inv.TaxRate, inv.TaxAmount, inv.Total, inv.Currency, inv.Status,
		inv.IssueDate, inv.DueDate, inv.PaymentTermsDays, inv.PaymentDate, inv.PaymentMethod,
		inv.PaymentReference, inv.Notes, inv.CreatedAt, inv.UpdatedAt, inv.Version,
	)
	if err != nil {
		return mapWriteErr("insert invoice", err)
	}
	return nil
}

func (r *InvoiceRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	return scanInvoice(r.pool.QueryRow(ctx, query, id))
}

func (r *InvoiceRepo) GetByPaymentReference(ctx context.Context, reference string) (*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE payment_reference = $1`
	return scanInvoice(r.pool.QueryRow(ctx, query, reference))
}

// Update rewrites the invoice guarded by its expected stored status and by
// inv.Version, which it advances on success.
func (r *InvoiceRepo) Update(ctx context.Context, inv *domain.Invoice, from domain.InvoiceStatus) error {
	docs, err := encodeInvoice(inv)
	if err != nil {
		return err
	}
	query := `UPDATE invoices SET from_contact = $1, to_contact = $2, items = $3,
		subtotal = $4, tax_rate = $5, tax_amount = $6, total = $7, status = $8, due_date = $9,
		payment_date = $10, payment_method = $11, payment_reference = $12, notes = $13, updated_at = $14,
		version = version + 1
		WHERE id = $15 AND status = $16 AND version = $17`

	tag, err := r.pool.Exec(ctx, query,
		docs.from, docs.to, docs.items,
		inv.Subtotal, inv.TaxRate, inv.TaxAmount, inv.Total, inv.Status, inv.DueDate,
		inv.PaymentDate, inv.PaymentMethod, inv.PaymentReference, inv.Notes, inv.UpdatedAt,
		inv.ID, from, inv.Version,
	)
	if err != nil {
		return mapWriteErr("update invoice", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrStaleState
	}
	inv.Version++
	return nil
}

// List pages the organisation's invoices. OVERDUE and SENT are split on due_date against now.
func (r *InvoiceRepo) List(ctx context.Context, f domain.InvoiceFilter, now time.Time) ([]domain.Invoice, int64, error) {
	where := "org_id = $1"
	args := []any{f.OrgID}
	if f.Status != nil {
		switch *f.Status {
		case domain.InvoiceStatusOverdue:
			where += " AND status = 'SENT' AND due_date < $2"
			args = append(args, now)
		case domain.InvoiceStatusSent:
			where += " AND status = 'SENT' AND due_date >= $2"
			args = append(args, now)
		default:
			where += " AND status = $2"
			args = append(args, *f.Status)
		}
	}

	var total int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM invoices WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}

	offset := 0
	if f.Page > 1 {
		offset = (f.Page - 1) * f.PageSize
	}
	query := fmt.Sprintf(`SELECT %s FROM invoices WHERE %s
		ORDER BY issue_date DESC, invoice_number DESC LIMIT $%d OFFSET $%d`,
		invoiceColumns, where, len(args)+1, len(args)+2)
	args = append(args, f.PageSize, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		invoices = append(invoices, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate invoice rows: %w", err)
	}
	return invoices, total, nil
}

func scanInvoice(row pgx.Row) (*domain.Invoice, error) {
	inv := &domain.Invoice{}
	var docs invoiceDocs
	err := row.Scan(
		&inv.ID, &inv.OrgID, &inv.InvoiceNumber, &docs.from, &docs.to, &docs.items,
		&inv.Subtotal, &inv.TaxRate, &inv.TaxAmount, &inv.Total, &inv.Currency, &inv.Status,
		&inv.IssueDate, &inv.DueDate, &inv.PaymentTermsDays, &inv.PaymentDate, &inv.PaymentMethod,
		&inv.PaymentReference, &inv.Notes, &inv.CreatedAt, &inv.UpdatedAt, &inv.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan invoice: %w", err)
	}
	if err := json.Unmarshal(docs.from, &inv.From); err != nil {
		return nil, fmt.Errorf("decode issuer: %w", err)
	}
	if err := json.Unmarshal(docs.to, &inv.To); err != nil {
		return nil, fmt.Errorf("decode recipient: %w", err)
	}
	if err := json.Unmarshal(docs.items, &inv.Items); err != nil {
		return nil, fmt.Errorf("decode line items: %w", err)
	}
	return inv, nil
}
