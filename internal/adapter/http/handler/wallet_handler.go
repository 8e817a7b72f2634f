package handler

import (
	"farm-payments/internal/adapter/http/dto"
	"farm-payments/internal/core/ports"
	"farm-payments/pkg/apperror"
	"farm-payments/pkg/response"

	"github.com/gin-gonic/gin"
)

// WalletHandler handles wallet-related endpoints.
type WalletHandler struct {
	walletSvc ports.WalletService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(walletSvc ports.WalletService) *WalletHandler {
	return &WalletHandler{walletSvc: walletSvc}
}

// List handles GET /api/v1/wallets.
func (h *WalletHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	wallets, err := h.walletSvc.List(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, wallets)
}

// Create handles POST /api/v1/wallets. Opening a currency twice returns the existing wallet.
func (h *WalletHandler) Create(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req dto.CreateWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	wallet, err := h.walletSvc.GetOrCreate(c.Request.Context(), userID, req.Currency)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, wallet)
}

// Get handles GET /api/v1/wallets/:id.
func (h *WalletHandler) Get(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	walletID, ok := pathID(c, "id")
	if !ok {
		return
	}

	wallet, err := h.walletSvc.Get(c.Request.Context(), userID, walletID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, wallet)
}

// Suspend handles POST /api/v1/wallets/:id/suspend.
func (h *WalletHandler) Suspend(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	walletID, ok := pathID(c, "id")
	if !ok {
		return
	}

	wallet, err := h.walletSvc.Suspend(c.Request.Context(), userID, walletID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, wallet)
}

// Activate handles POST /api/v1/wallets/:id/activate.
func (h *WalletHandler) Activate(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	walletID, ok := pathID(c, "id")
	if !ok {
		return
	}

	wallet, err := h.walletSvc.Activate(c.Request.Context(), userID, walletID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, wallet)
}

// LinkAccount handles POST /api/v1/wallets/:id/accounts.
func (h *WalletHandler) LinkAccount(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	walletID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req dto.LinkAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	account, err := h.walletSvc.LinkAccount(c.Request.Context(), ports.LinkAccountRequest{
		UserID:   userID,
		WalletID: walletID,
		Provider: req.Provider,
		Number:   req.Number,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, account)
}

// VerifyAccount handles POST /api/v1/wallets/:id/accounts/:accountId/verify.
func (h *WalletHandler) VerifyAccount(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	walletID, ok := pathID(c, "id")
	if !ok {
		return
	}
	accountID, ok := pathID(c, "accountId")
	if !ok {
		return
	}

	if err := h.walletSvc.VerifyLinkedAccount(c.Request.Context(), userID, walletID, accountID); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"verified": true})
}
