package handler

import (
	"farm-payments/internal/adapter/http/dto"
	"farm-payments/internal/core/ports"
	"farm-payments/pkg/response"

	"github.com/gin-gonic/gin"
)

// DashboardHandler handles reporting endpoints.
type DashboardHandler struct {
	reportingSvc ports.ReportingService
}

// NewDashboardHandler creates a new DashboardHandler.
func NewDashboardHandler(reportingSvc ports.ReportingService) *DashboardHandler {
	return &DashboardHandler{reportingSvc: reportingSvc}
}

// GetStats handles GET /api/v1/dashboard/stats?period=day|week|month|all.
func (h *DashboardHandler) GetStats(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	period := c.DefaultQuery("period", "all")
	stats, err := h.reportingSvc.GetDashboardStats(c.Request.Context(), userID, period)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.DashboardStatsResponse{Period: period, Currencies: stats})
}

// GetBalances handles GET /api/v1/dashboard/balances.
func (h *DashboardHandler) GetBalances(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	balances, err := h.reportingSvc.GetWalletBalances(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, balances)
}
