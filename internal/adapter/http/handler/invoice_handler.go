package handler

import (
	"context"

	"farm-payments/internal/adapter/http/dto"
	"farm-payments/internal/core/domain"
	"farm-payments/internal/core/ports"
	"farm-payments/pkg/apperror"
	"farm-payments/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// InvoiceHandler handles the organisation's invoices.
type InvoiceHandler struct {
	invoiceSvc ports.InvoiceService
}

func NewInvoiceHandler(invoiceSvc ports.InvoiceService) *InvoiceHandler {
	return &InvoiceHandler{invoiceSvc: invoiceSvc}
}

// Create handles POST /api/v1/invoices.
func (h *InvoiceHandler) Create(c *gin.Context) {
	orgID, ok := currentOrg(c)
	if !ok {
		return
	}

	var req dto.CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	items := make([]ports.LineItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, toLineItemInput(item))
	}
	inv, err := h.invoiceSvc.Create(c.Request.Context(), ports.CreateInvoiceRequest{
		OrgID:            orgID,
		From:             toContact(req.From),
		To:               toContact(req.To),
		Items:            items,
		TaxRate:          req.TaxRate,
		Currency:         req.Currency,
		PaymentTermsDays: req.PaymentTermsDays,
		Notes:            req.Notes,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, inv)
}

// List handles GET /api/v1/invoices?status=.
func (h *InvoiceHandler) List(c *gin.Context) {
	orgID, ok := currentOrg(c)
	if !ok {
		return
	}

	page, pageSize := pagination(c)
	filter := domain.InvoiceFilter{OrgID: orgID, Page: page, PageSize: pageSize}
	if s := c.Query("status"); s != "" {
		status := domain.InvoiceStatus(s)
		filter.Status = &status
	}

	invoices, total, err := h.invoiceSvc.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	if invoices == nil {
		invoices = []domain.Invoice{}
	}
	response.OK(c, dto.ListResponse[domain.Invoice]{
		Items:      invoices,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages(total, pageSize),
	})
}

// Get handles GET /api/v1/invoices/:id.
func (h *InvoiceHandler) Get(c *gin.Context) {
	h.withInvoice(c, h.invoiceSvc.Get)
}

// Send handles POST /api/v1/invoices/:id/send.
func (h *InvoiceHandler) Send(c *gin.Context) {
	h.withInvoice(c, h.invoiceSvc.Send)
}

// Cancel handles POST /api/v1/invoices/:id/cancel.
func (h *InvoiceHandler) Cancel(c *gin.Context) {
	h.withInvoice(c, h.invoiceSvc.Cancel)
}

// AddItem handles POST /api/v1/invoices/:id/items.
func (h *InvoiceHandler) AddItem(c *gin.Context) {
	var req dto.LineItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	h.withInvoice(c, func(ctx context.Context, orgID, id uuid.UUID) (*domain.Invoice, error) {
		return h.invoiceSvc.AddItem(ctx, orgID, id, toLineItemInput(req))
	})
}

// RemoveItem handles DELETE /api/v1/invoices/:id/items/:itemId.
func (h *InvoiceHandler) RemoveItem(c *gin.Context) {
	itemID, ok := pathID(c, "itemId")
	if !ok {
		return
	}
	h.withInvoice(c, func(ctx context.Context, orgID, id uuid.UUID) (*domain.Invoice, error) {
		return h.invoiceSvc.RemoveItem(ctx, orgID, id, itemID)
	})
}

// SetTaxRate handles PUT /api/v1/invoices/:id/tax-rate.
func (h *InvoiceHandler) SetTaxRate(c *gin.Context) {
	var req dto.SetTaxRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	h.withInvoice(c, func(ctx context.Context, orgID, id uuid.UUID) (*domain.Invoice, error) {
		return h.invoiceSvc.SetTaxRate(ctx, orgID, id, req.TaxRate)
	})
}

// RecordPayment handles POST /api/v1/invoices/:id/payments with the
// reference of a completed transaction.
func (h *InvoiceHandler) RecordPayment(c *gin.Context) {
	var req dto.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	h.withInvoice(c, func(ctx context.Context, orgID, id uuid.UUID) (*domain.Invoice, error) {
		return h.invoiceSvc.RecordPayment(ctx, orgID, id, req.Reference)
	})
}

// Collect handles POST /api/v1/invoices/:id/collect. The invoice total is
// pushed to the payer's phone and the request waits for the outcome; the
// invoice is returned paid only when the transaction completed.
func (h *InvoiceHandler) Collect(c *gin.Context) {
	orgID, ok := currentOrg(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req dto.CollectInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	inv, txn, err := h.invoiceSvc.Collect(c.Request.Context(), ports.CollectRequest{
		OrgID:     orgID,
		InvoiceID: id,
		Provider:  req.Provider,
		Phone:     req.Phone,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.InvoiceCollectResponse{Invoice: inv, Transaction: toTransactionResponse(txn)})
}

type invoiceOp func(ctx context.Context, orgID, id uuid.UUID) (*domain.Invoice, error)

// withInvoice resolves the caller's organisation and the :id parameter, then runs op.
func (h *InvoiceHandler) withInvoice(c *gin.Context, op invoiceOp) {
	orgID, ok := currentOrg(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	inv, err := op(c.Request.Context(), orgID, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, inv)
}

func toContact(r dto.ContactRequest) domain.Contact {
	return domain.Contact{Name: r.Name, Email: r.Email, Phone: r.Phone, Address: r.Address}
}

func toLineItemInput(r dto.LineItemRequest) ports.LineItemInput {
	return ports.LineItemInput{
		Description: r.Description,
		Quantity:    r.Quantity,
		Unit:        r.Unit,
		UnitPrice:   r.UnitPrice,
	}
}
