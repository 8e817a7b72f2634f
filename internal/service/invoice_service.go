package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"farm-payments/internal/core/domain"
	"farm-payments/internal/core/money"
	"farm-payments/internal/core/ports"
	"farm-payments/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	invoiceNumberAttempts = 3
	draftEditAttempts     = 5
	defaultPageSize       = 20
	maxPageSize           = 100
)

// InvoiceManager implements ports.InvoiceService.
type InvoiceManager struct {
	repo         ports.InvoiceRepository
	txRepo       ports.TransactionRepository
	seq          ports.SequenceGenerator
	engine       ports.TransactionEngine
	audit        ports.AuditService
	money        *money.Toolkit
	defaultTerms int
	log          zerolog.Logger
}

func NewInvoiceManager(
	repo ports.InvoiceRepository,
	txRepo ports.TransactionRepository,
	seq ports.SequenceGenerator,
	engine ports.TransactionEngine,
	audit ports.AuditService,
	toolkit *money.Toolkit,
	defaultTerms int,
	log zerolog.Logger,
) *InvoiceManager {
	return &InvoiceManager{
		repo:         repo,
		txRepo:       txRepo,
		seq:          seq,
		engine:       engine,
		audit:        audit,
		money:        toolkit,
		defaultTerms: defaultTerms,
		log:          log,
	}
}

func validateLineItem(i int, item ports.LineItemInput) []string {
	var problems []string
	label := fmt.Sprintf("item %d", i+1)
	if strings.TrimSpace(item.Description) == "" {
		problems = append(problems, label+": description is required")
	}
	if !item.Quantity.IsPositive() {
		problems = append(problems, label+": quantity must be greater than 0")
	}
	if item.UnitPrice.IsNegative() {
		problems = append(problems, label+": unit price cannot be negative")
	}
	return problems
}

func validateTaxRate(rate decimal.Decimal) []string {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return []string{"tax rate must be between 0 and 1"}
	}
	return nil
}

func newLineItem(item ports.LineItemInput) domain.LineItem {
	return domain.LineItem{
		ID:          uuid.New(),
		Description: strings.TrimSpace(item.Description),
		Quantity:    item.Quantity,
		Unit:        item.Unit,
		UnitPrice:   item.UnitPrice,
	}
}

// Create opens a DRAFT invoice numbered from the issue month's sequence.
func (m *InvoiceManager) Create(ctx context.Context, req ports.CreateInvoiceRequest) (*domain.Invoice, error) {
	var problems []string
	if strings.TrimSpace(req.From.Name) == "" {
		problems = append(problems, "issuer name is required")
	}
	if strings.TrimSpace(req.To.Name) == "" {
		problems = append(problems, "recipient name is required")
	}
	if _, ok := m.money.Registry().Currency(req.Currency); !ok {
		problems = append(problems, fmt.Sprintf("unsupported currency %s", req.Currency))
	}
	problems = append(problems, validateTaxRate(req.TaxRate)...)
	terms := m.defaultTerms
	if req.PaymentTermsDays != nil {
		terms = *req.PaymentTermsDays
		if terms < 0 {
			problems = append(problems, "payment terms cannot be negative")
		}
	}
	for i, item := range req.Items {
		problems = append(problems, validateLineItem(i, item)...)
	}
	if len(problems) > 0 {
		return nil, apperror.ValidationFailed(problems)
	}

	now := m.money.Now()
	inv := &domain.Invoice{
		ID:               uuid.New(),
		OrgID:            req.OrgID,
		From:             req.From,
		To:               req.To,
		Items:            make([]domain.LineItem, 0, len(req.Items)),
		TaxRate:          req.TaxRate,
		Currency:         req.Currency,
		Status:           domain.InvoiceStatusDraft,
		IssueDate:        now,
		DueDate:          money.CalculateDueDate(now, terms),
		PaymentTermsDays: terms,
		Notes:            req.Notes,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for _, item := range req.Items {
		inv.Items = append(inv.Items, newLineItem(item))
	}
	if err := m.recalculate(inv); err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		n, err := m.seq.Next(ctx, money.InvoiceSequenceScope(now))
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("next invoice number: %w", err))
		}
		inv.InvoiceNumber = money.FormatInvoiceNumber(now, n)

		err = m.repo.Create(ctx, inv)
		if err == nil {
			break
		}
		if !errors.Is(err, ports.ErrDuplicateKey) || attempt == invoiceNumberAttempts {
			return nil, apperror.InternalError(fmt.Errorf("create invoice: %w", err))
		}
		m.log.Warn().Str("invoice_number", inv.InvoiceNumber).Msg("invoice number taken, drawing next")
	}

	m.auditLog(ctx, inv, domain.AuditActionInvoiceCreate)
	m.log.Info().
		Str("invoice_id", inv.ID.String()).
		Str("invoice_number", inv.InvoiceNumber).
		Str("total", inv.Total.String()).
		Msg("invoice created")
	return inv, nil
}

// recalculate rebuilds totals from the line items and checks they reconcile.
func (m *InvoiceManager) recalculate(inv *domain.Invoice) error {
	inv.Recalculate()
	if err := inv.CheckTotals(); err != nil {
		m.log.Error().Err(err).Str("invoice_id", inv.ID.String()).Msg("invoice totals do not reconcile")
		return apperror.ErrInvariantViolation(err)
	}
	return nil
}

func (m *InvoiceManager) load(ctx context.Context, orgID, id uuid.UUID) (*domain.Invoice, error) {
	inv, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get invoice: %w", err))
	}
	if inv == nil || inv.OrgID != orgID {
		return nil, apperror.ErrNotFound("invoice")
	}
	inv.Overdue = inv.IsOverdue(m.money.Now())
	return inv, nil
}

func (m *InvoiceManager) Get(ctx context.Context, orgID, id uuid.UUID) (*domain.Invoice, error) {
	return m.load(ctx, orgID, id)
}

func (m *InvoiceManager) List(ctx context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, int64, error) {
	filter.Page, filter.PageSize = normalizePage(filter.Page, filter.PageSize)
	now := m.money.Now()
	invoices, total, err := m.repo.List(ctx, filter, now)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list invoices: %w", err))
	}
	for i := range invoices {
		invoices[i].Overdue = invoices[i].IsOverdue(now)
	}
	return invoices, total, nil
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}

// editDraft applies mutate to a DRAFT invoice and stores it with fresh totals.
// A concurrent write to the same invoice makes it reload and reapply mutate.
func (m *InvoiceManager) editDraft(ctx context.Context, orgID, id uuid.UUID, mutate func(inv *domain.Invoice) error) (*domain.Invoice, error) {
	for attempt := 1; ; attempt++ {
		inv, err := m.load(ctx, orgID, id)
		if err != nil {
			return nil, err
		}
		if inv.Status != domain.InvoiceStatusDraft {
			return nil, apperror.ErrInvoiceNotEditable(string(inv.Status))
		}
		if err := mutate(inv); err != nil {
			return nil, err
		}
		if err := m.recalculate(inv); err != nil {
			return nil, err
		}
		inv.UpdatedAt = m.money.Now()

		err = m.repo.Update(ctx, inv, domain.InvoiceStatusDraft)
		switch {
		case err == nil:
			m.auditLog(ctx, inv, domain.AuditActionInvoiceUpdate)
			return inv, nil
		case !errors.Is(err, ports.ErrStaleState):
			return nil, apperror.InternalError(fmt.Errorf("update invoice: %w", err))
		case attempt == draftEditAttempts:
			return nil, apperror.ErrInvoiceConflict()
		}
		m.log.Debug().Str("invoice_id", id.String()).Int("attempt", attempt).Msg("draft changed underneath edit, retrying")
	}
}

func (m *InvoiceManager) AddItem(ctx context.Context, orgID, id uuid.UUID, item ports.LineItemInput) (*domain.Invoice, error) {
	if problems := validateLineItem(0, item); len(problems) > 0 {
		return nil, apperror.ValidationFailed(problems)
	}
	return m.editDraft(ctx, orgID, id, func(inv *domain.Invoice) error {
		inv.Items = append(inv.Items, newLineItem(item))
		return nil
	})
}

func (m *InvoiceManager) RemoveItem(ctx context.Context, orgID, id, itemID uuid.UUID) (*domain.Invoice, error) {
	return m.editDraft(ctx, orgID, id, func(inv *domain.Invoice) error {
		for i, item := range inv.Items {
			if item.ID == itemID {
				inv.Items = append(inv.Items[:i], inv.Items[i+1:]...)
				return nil
			}
		}
		return apperror.ErrNotFound("line item")
	})
}

func (m *InvoiceManager) SetTaxRate(ctx context.Context, orgID, id uuid.UUID, rate decimal.Decimal) (*domain.Invoice, error) {
	if problems := validateTaxRate(rate); len(problems) > 0 {
		return nil, apperror.ValidationFailed(problems)
	}
	return m.editDraft(ctx, orgID, id, func(inv *domain.Invoice) error {
		inv.TaxRate = rate
		return nil
	})
}

// transition moves the invoice to status via compare-and-set on from.
func (m *InvoiceManager) transition(ctx context.Context, inv *domain.Invoice, to domain.InvoiceStatus) error {
	from := inv.Status
	if !domain.CanTransitionInvoice(from, to) {
		return apperror.ErrInvalidTransition("invoice", string(from), string(to))
	}
	inv.Status = to
	inv.UpdatedAt = m.money.Now()
	err := m.repo.Update(ctx, inv, from)
	switch {
	case err == nil:
		inv.Overdue = inv.IsOverdue(inv.UpdatedAt)
		return nil
	case errors.Is(err, ports.ErrStaleState):
		return apperror.ErrInvalidTransition("invoice", string(from), string(to))
	case errors.Is(err, ports.ErrDuplicateKey):
		return apperror.ErrInvoicePayment("payment reference already settles another invoice")
	default:
		return apperror.InternalError(fmt.Errorf("update invoice: %w", err))
	}
}

// Send issues a DRAFT invoice that has at least one line and a positive total.
func (m *InvoiceManager) Send(ctx context.Context, orgID, id uuid.UUID) (*domain.Invoice, error) {
	inv, err := m.load(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if inv.Status == domain.InvoiceStatusDraft {
		var problems []string
		if len(inv.Items) == 0 {
			problems = append(problems, "invoice has no line items")
		}
		if !inv.Total.IsPositive() {
			problems = append(problems, "invoice total must be greater than 0")
		}
		if len(problems) > 0 {
			return nil, apperror.ValidationFailed(problems)
		}
	}
	if err := m.transition(ctx, inv, domain.InvoiceStatusSent); err != nil {
		return nil, err
	}
	m.auditLog(ctx, inv, domain.AuditActionInvoiceSend)
	m.log.Info().Str("invoice_id", inv.ID.String()).Str("invoice_number", inv.InvoiceNumber).Msg("invoice sent")
	return inv, nil
}

func (m *InvoiceManager) Cancel(ctx context.Context, orgID, id uuid.UUID) (*domain.Invoice, error) {
	inv, err := m.load(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if err := m.transition(ctx, inv, domain.InvoiceStatusCancelled); err != nil {
		return nil, err
	}
	m.auditLog(ctx, inv, domain.AuditActionInvoiceCancel)
	return inv, nil
}

// RecordPayment marks a SENT (or overdue) invoice PAID against a completed
// transaction that covers its total in the same currency. A transaction
// reference settles at most one invoice.
func (m *InvoiceManager) RecordPayment(ctx context.Context, orgID, id uuid.UUID, reference string) (*domain.Invoice, error) {
	inv, err := m.load(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if inv.Status != domain.InvoiceStatusSent {
		return nil, apperror.ErrInvalidTransition("invoice", string(inv.Status), string(domain.InvoiceStatusPaid))
	}

	txn, err := m.txRepo.GetByReference(ctx, reference)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get transaction: %w", err))
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}

	switch {
	case txn.Status != domain.TransactionStatusCompleted:
		return nil, apperror.ErrInvoicePayment(fmt.Sprintf("transaction %s is %s, not COMPLETED", reference, txn.Status))
	case txn.Type != domain.TransactionTypePayment && txn.Type != domain.TransactionTypeTopup:
		return nil, apperror.ErrInvoicePayment(fmt.Sprintf("%s transactions cannot pay invoices", txn.Type))
	case txn.Currency != inv.Currency:
		return nil, apperror.ErrInvoicePayment(fmt.Sprintf("transaction currency %s does not match invoice currency %s", txn.Currency, inv.Currency))
	case txn.Amount.LessThan(inv.Total):
		return nil, apperror.ErrInvoicePayment(fmt.Sprintf("transaction amount %s is less than invoice total %s",
			m.money.FormatCurrency(txn.Amount, txn.Currency), m.money.FormatCurrency(inv.Total, inv.Currency)))
	}

	other, err := m.repo.GetByPaymentReference(ctx, reference)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("check payment reference: %w", err))
	}
	if other != nil {
		return nil, apperror.ErrInvoicePayment("payment reference already settles another invoice")
	}

	paidAt := m.money.Now()
	if txn.CompletedAt != nil {
		paidAt = *txn.CompletedAt
	}
	method := txn.PaymentMethod
	inv.PaymentDate = &paidAt
	inv.PaymentMethod = &method
	inv.PaymentReference = &txn.Reference

	if err := m.transition(ctx, inv, domain.InvoiceStatusPaid); err != nil {
		return nil, err
	}
	m.auditLog(ctx, inv, domain.AuditActionInvoicePay)
	m.log.Info().
		Str("invoice_id", inv.ID.String()).
		Str("reference", txn.Reference).
		Msg("invoice paid")
	return inv, nil
}

// Collect pushes the invoice total to the payer's phone as a topup into the
// organisation's wallet and records the payment once it completes. The
// transaction is returned whatever its outcome.
func (m *InvoiceManager) Collect(ctx context.Context, req ports.CollectRequest) (*domain.Invoice, *domain.PaymentTransaction, error) {
	inv, err := m.load(ctx, req.OrgID, req.InvoiceID)
	if err != nil {
		return nil, nil, err
	}
	if inv.Status != domain.InvoiceStatusSent {
		return nil, nil, apperror.ErrInvalidTransition("invoice", string(inv.Status), string(domain.InvoiceStatusPaid))
	}

	txn, err := m.engine.Initiate(ctx, ports.InitiateRequest{
		UserID:      inv.OrgID,
		Type:        domain.TransactionTypeTopup,
		Amount:      inv.Total,
		Currency:    inv.Currency,
		Provider:    req.Provider,
		Phone:       req.Phone,
		Description: "Payment for " + inv.InvoiceNumber,
	})
	if err != nil {
		return nil, nil, err
	}

	txn, err = m.engine.Process(ctx, txn.ID)
	if err != nil {
		return nil, nil, err
	}
	if txn.Status != domain.TransactionStatusCompleted {
		m.log.Info().
			Str("invoice_id", inv.ID.String()).
			Str("reference", txn.Reference).
			Str("status", string(txn.Status)).
			Msg("invoice collection did not complete")
		return inv, txn, nil
	}

	paid, err := m.RecordPayment(ctx, req.OrgID, inv.ID, txn.Reference)
	if err != nil {
		return nil, txn, err
	}
	return paid, txn, nil
}

func (m *InvoiceManager) auditLog(ctx context.Context, inv *domain.Invoice, action domain.AuditAction) {
	orgID := inv.OrgID
	m.audit.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		UserID:       &orgID,
		Action:       action,
		ResourceType: "invoice",
		ResourceID:   inv.ID.String(),
		Details:      inv.InvoiceNumber,
		CreatedAt:    m.money.Now(),
	})
}
