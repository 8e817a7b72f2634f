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

// PayrollHandler handles payroll periods and their salary batches.
type PayrollHandler struct {
	payrollSvc ports.PayrollService
}

func NewPayrollHandler(payrollSvc ports.PayrollService) *PayrollHandler {
	return &PayrollHandler{payrollSvc: payrollSvc}
}

// OpenPeriod handles POST /api/v1/payroll/periods. Salaries are drawn from
// the caller's wallet unless funding_user_id names another user.
func (h *PayrollHandler) OpenPeriod(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	orgID, ok := currentOrg(c)
	if !ok {
		return
	}

	var req dto.OpenPayrollPeriodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	funding := userID
	if req.FundingUserID != nil {
		funding = uuid.MustParse(*req.FundingUserID)
	}
	// binding has already checked the date layout
	start, _ := time.Parse(time.DateOnly, req.StartDate)
	end, _ := time.Parse(time.DateOnly, req.EndDate)
	pay, _ := time.Parse(time.DateOnly, req.PayDate)

	period, err := h.payrollSvc.OpenPeriod(c.Request.Context(), ports.OpenPeriodRequest{
		OrgID:         orgID,
		FundingUserID: funding,
		StartDate:     start,
		EndDate:       end,
		PayDate:       pay,
		Currency:      req.Currency,
		TaxRate:       req.TaxRate,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, period)
}

// ListPeriods handles GET /api/v1/payroll/periods.
func (h *PayrollHandler) ListPeriods(c *gin.Context) {
	orgID, ok := currentOrg(c)
	if !ok {
		return
	}

	periods, err := h.payrollSvc.List(c.Request.Context(), orgID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if periods == nil {
		periods = []domain.PayrollPeriod{}
	}
	response.OK(c, periods)
}

// GetPeriod handles GET /api/v1/payroll/periods/:id.
func (h *PayrollHandler) GetPeriod(c *gin.Context) {
	orgID, id, ok := h.scope(c)
	if !ok {
		return
	}

	period, payments, err := h.payrollSvc.Get(c.Request.Context(), orgID, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.PayrollPeriodResponse{Period: period, Payments: payments})
}

// Prepare handles POST /api/v1/payroll/periods/:id/entries.
func (h *PayrollHandler) Prepare(c *gin.Context) {
	orgID, id, ok := h.scope(c)
	if !ok {
		return
	}

	var req dto.PreparePayrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	entries := make([]ports.PayrollEntry, 0, len(req.Entries))
	for _, e := range req.Entries {
		empID := uuid.MustParse(e.EmployeeID)
		entries = append(entries, ports.PayrollEntry{
			Employee: domain.Employee{
				ID:           empID,
				Name:         e.Name,
				Phone:        e.Phone,
				Provider:     e.Provider,
				DailyRate:    e.DailyRate,
				OvertimeRate: e.OvertimeRate,
			},
			Attendance: domain.AttendanceRecord{
				EmployeeID:    empID,
				DaysWorked:    e.DaysWorked,
				OvertimeHours: e.OvertimeHours,
				Bonuses:       e.Bonuses,
				Deductions:    e.Deductions,
			},
		})
	}

	period, payments, err := h.payrollSvc.Prepare(c.Request.Context(), orgID, id, entries)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.PayrollPeriodResponse{Period: period, Payments: payments})
}

// Run handles POST /api/v1/payroll/periods/:id/run. The batch keeps going
// after the response; poll GetPeriod for progress.
func (h *PayrollHandler) Run(c *gin.Context) {
	orgID, id, ok := h.scope(c)
	if !ok {
		return
	}

	period, err := h.payrollSvc.Start(c.Request.Context(), orgID, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, period)
}

// Reopen handles POST /api/v1/payroll/periods/:id/reopen so a failed
// period can be run again for its unpaid employees.
func (h *PayrollHandler) Reopen(c *gin.Context) {
	orgID, id, ok := h.scope(c)
	if !ok {
		return
	}

	period, err := h.payrollSvc.Reopen(c.Request.Context(), orgID, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, period)
}

func (h *PayrollHandler) scope(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	orgID, ok := currentOrg(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	id, ok := pathID(c, "id")
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return orgID, id, true
}
