package handler

import (
	"time"

	"farm-payments/internal/adapter/http/dto"
	"farm-payments/internal/core/domain"
	"farm-payments/internal/core/ports"
	"farm-payments/pkg/apperror"
	"farm-payments/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderIdempotencyKey lets clients retry an initiation safely.
const HeaderIdempotencyKey = "Idempotency-Key"

// TransactionHandler handles payment transaction endpoints.
type TransactionHandler struct {
	engine       ports.TransactionEngine
	reportingSvc ports.ReportingService
}

// NewTransactionHandler creates a new TransactionHandler.
func NewTransactionHandler(engine ports.TransactionEngine, reportingSvc ports.ReportingService) *TransactionHandler {
	return &TransactionHandler{engine: engine, reportingSvc: reportingSvc}
}

// Initiate handles POST /api/v1/transactions. The transaction is returned
// pending and driven to a terminal state in the background.
func (h *TransactionHandler) Initiate(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req dto.InitiateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	idemKey := c.GetHeader(HeaderIdempotencyKey)
	if len(idemKey) > 64 {
		response.Error(c, apperror.Validation("Idempotency-Key must be at most 64 characters"))
		return
	}

	in := ports.InitiateRequest{
		UserID:         userID,
		Type:           domain.TransactionType(req.Type),
		Amount:         req.Amount,
		Currency:       req.Currency,
		Provider:       req.Provider,
		Phone:          req.Phone,
		Description:    req.Description,
		IdempotencyKey: idemKey,
	}
	if req.CounterpartWalletID != nil {
		id := uuid.MustParse(*req.CounterpartWalletID)
		in.CounterpartWalletID = &id
	}

	txn, err := h.engine.Submit(c.Request.Context(), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, toTransactionResponse(txn))
}

// Get handles GET /api/v1/transactions/:id.
func (h *TransactionHandler) Get(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	txn, err := h.engine.Get(c.Request.Context(), userID, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toTransactionResponse(txn))
}

// GetByReference handles GET /api/v1/transactions/reference/:reference.
func (h *TransactionHandler) GetByReference(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	txn, err := h.engine.GetByReference(c.Request.Context(), userID, c.Param("reference"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toTransactionResponse(txn))
}

// Cancel handles POST /api/v1/transactions/:id/cancel.
func (h *TransactionHandler) Cancel(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	txn, err := h.engine.Cancel(c.Request.Context(), userID, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toTransactionResponse(txn))
}

// Refund handles POST /api/v1/transactions/:id/refund.
func (h *TransactionHandler) Refund(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req dto.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	refund, err := h.engine.Refund(c.Request.Context(), ports.RefundRequest{
		UserID:        userID,
		TransactionID: id,
		Reason:        req.Reason,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, toTransactionResponse(refund))
}

// List handles GET /api/v1/transactions.
func (h *TransactionHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	page, pageSize := pagination(c)
	filter := domain.TransactionFilter{UserID: &userID, Page: page, PageSize: pageSize}

	if s := c.Query("status"); s != "" {
		status := domain.TransactionStatus(s)
		filter.Status = &status
	}
	if t := c.Query("type"); t != "" {
		txType := domain.TransactionType(t)
		filter.Type = &txType
	}
	if w := c.Query("wallet_id"); w != "" {
		walletID, err := uuid.Parse(w)
		if err != nil {
			response.Error(c, apperror.Validation("invalid wallet_id"))
			return
		}
		filter.WalletID = &walletID
	}
	var err error
	if filter.From, err = queryTime(c, "from"); err != nil {
		response.Error(c, err)
		return
	}
	if filter.To, err = queryTime(c, "to"); err != nil {
		response.Error(c, err)
		return
	}

	txns, total, err := h.reportingSvc.ListTransactions(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.TransactionResponse, 0, len(txns))
	for i := range txns {
		items = append(items, toTransactionResponse(&txns[i]))
	}
	response.OK(c, dto.ListResponse[dto.TransactionResponse]{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages(total, pageSize),
	})
}

// toTransactionResponse converts domain.PaymentTransaction to DTO.
func toTransactionResponse(t *domain.PaymentTransaction) dto.TransactionResponse {
	resp := dto.TransactionResponse{
		ID:            t.ID.String(),
		WalletID:      t.WalletID.String(),
		Type:          string(t.Type),
		Status:        string(t.Status),
		Amount:        t.Amount.String(),
		Currency:      t.Currency,
		PlatformFee:   t.Fees.PlatformFee.String(),
		ProviderFee:   t.Fees.ProviderFee.String(),
		TotalFees:     t.Fees.Total.String(),
		Reference:     t.Reference,
		Provider:      t.PaymentMethod,
		Counterpart:   t.Counterpart,
		Description:   t.Description,
		FailureReason: t.FailureReason,
		CreatedAt:     t.CreatedAt.Format(time.RFC3339),
	}
	if t.CounterpartWalletID != nil {
		s := t.CounterpartWalletID.String()
		resp.CounterpartWalletID = &s
	}
	if t.OriginalTransactionID != nil {
		s := t.OriginalTransactionID.String()
		resp.OriginalTransactionID = &s
	}
	if t.CompletedAt != nil {
		s := t.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &s
	}
	return resp
}
