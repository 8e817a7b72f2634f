package handler

import (
	"farm-payments/internal/adapter/http/dto"
	"farm-payments/internal/adapter/http/middleware"
	"farm-payments/internal/core/ports"
	"farm-payments/pkg/apperror"
	"farm-payments/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// CallbackHandler receives provider authorization results.
type CallbackHandler struct {
	engine ports.TransactionEngine
	log    zerolog.Logger
}

func NewCallbackHandler(engine ports.TransactionEngine, log zerolog.Logger) *CallbackHandler {
	return &CallbackHandler{engine: engine, log: log}
}

// MobileMoney handles POST /api/v1/callbacks/mobile-money. Late results for
// transactions that are already terminal are acknowledged and dropped.
func (h *CallbackHandler) MobileMoney(c *gin.Context) {
	var req dto.CallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	result := ports.AuthorizationResult{
		PushID:    req.PushID,
		Reference: req.Reference,
		Outcome:   ports.AuthorizationOutcome(req.Outcome),
		Reason:    req.Reason,
	}
	if err := h.engine.HandleAuthorizationResult(c.Request.Context(), result); err != nil {
		h.log.Error().Err(err).
			Str("provider", c.GetString(middleware.CtxProvider)).
			Str("push_id", req.PushID).
			Msg("authorization callback failed")
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"received": true})
}
