package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PayrollStatus is the lifecycle of a payroll period.
type PayrollStatus string

const (
	PayrollStatusDraft      PayrollStatus = "DRAFT"
	PayrollStatusProcessing PayrollStatus = "PROCESSING"
	PayrollStatusCompleted  PayrollStatus = "COMPLETED"
	PayrollStatusFailed     PayrollStatus = "FAILED"
)

var payrollTransitions = map[PayrollStatus][]PayrollStatus{
	PayrollStatusDraft:      {PayrollStatusProcessing},
	PayrollStatusProcessing: {PayrollStatusCompleted, PayrollStatusFailed},
	PayrollStatusFailed:     {PayrollStatusDraft},
}

// CanTransitionPayroll reports whether from -> to is a legal period transition.
func CanTransitionPayroll(from, to PayrollStatus) bool {
	for _, next := range payrollTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PayrollPeriod groups one salary payment per employee for a date range.
type PayrollPeriod struct {
	ID             uuid.UUID       `json:"id"`
	OrgID          uuid.UUID       `json:"org_id"`
	FundingUserID  uuid.UUID       `json:"funding_user_id"` // Owner of the wallet salaries are drawn from
	StartDate      time.Time       `json:"start_date"`
	EndDate        time.Time       `json:"end_date"`
	PayDate        time.Time       `json:"pay_date"`
	Status         PayrollStatus   `json:"status"`
	Currency       string          `json:"currency"`
	TaxRate        decimal.Decimal `json:"tax_rate"`
	TotalAmount    decimal.Decimal `json:"total_amount"` // Sum of gross amounts
	EmployeeCount  int             `json:"employee_count"`
	CompletedCount int             `json:"completed_count"`
	FailedCount    int             `json:"failed_count"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Days returns the inclusive number of calendar days in the period.
func (p *PayrollPeriod) Days() int {
	return int(p.EndDate.Sub(p.StartDate).Hours()/24) + 1
}

// Employee is a farm worker paid through mobile money.
type Employee struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Phone        string          `json:"phone"`
	Provider     string          `json:"provider"`
	DailyRate    decimal.Decimal `json:"daily_rate"`
	OvertimeRate decimal.Decimal `json:"overtime_rate"` // Per hour
}

// AttendanceRecord is the attendance summary of one employee for a period.
type AttendanceRecord struct {
	EmployeeID    uuid.UUID       `json:"employee_id"`
	DaysWorked    decimal.Decimal `json:"days_worked"`
	OvertimeHours decimal.Decimal `json:"overtime_hours"`
	Bonuses       decimal.Decimal `json:"bonuses"`
	Deductions    decimal.Decimal `json:"deductions"`
}

// Validate returns every problem with the record for a period of periodDays days.
func (a AttendanceRecord) Validate(periodDays int) []string {
	var errs []string
	if a.DaysWorked.IsNegative() {
		errs = append(errs, fmt.Sprintf("employee %s: days worked cannot be negative", a.EmployeeID))
	}
	if a.DaysWorked.GreaterThan(decimal.NewFromInt(int64(periodDays))) {
		errs = append(errs, fmt.Sprintf("employee %s: days worked %s exceeds period length %d", a.EmployeeID, a.DaysWorked, periodDays))
	}
	if a.OvertimeHours.IsNegative() {
		errs = append(errs, fmt.Sprintf("employee %s: overtime hours cannot be negative", a.EmployeeID))
	}
	if a.Bonuses.IsNegative() {
		errs = append(errs, fmt.Sprintf("employee %s: bonuses cannot be negative", a.EmployeeID))
	}
	if a.Deductions.IsNegative() {
		errs = append(errs, fmt.Sprintf("employee %s: deductions cannot be negative", a.EmployeeID))
	}
	return errs
}

// SalaryPayment is one employee's pay for a period and the transaction that pays it.
type SalaryPayment struct {
	ID              uuid.UUID         `json:"id"`
	PayrollPeriodID uuid.UUID         `json:"payroll_period_id"`
	EmployeeID      uuid.UUID         `json:"employee_id"`
	EmployeeName    string            `json:"employee_name"`
	Phone           string            `json:"phone"`
	PaymentMethod   string            `json:"payment_method"`
	DaysWorked      decimal.Decimal   `json:"days_worked"`
	OvertimeHours   decimal.Decimal   `json:"overtime_hours"`
	BaseSalary      decimal.Decimal   `json:"base_salary"`
	OvertimePay     decimal.Decimal   `json:"overtime_pay"`
	Bonuses         decimal.Decimal   `json:"bonuses"`
	Deductions      decimal.Decimal   `json:"deductions"`
	GrossAmount     decimal.Decimal   `json:"gross_amount"`
	TaxAmount       decimal.Decimal   `json:"tax_amount"`
	NetAmount       decimal.Decimal   `json:"net_amount"`
	Currency        string            `json:"currency"`
	Status          TransactionStatus `json:"status"`
	TransactionID   *uuid.UUID        `json:"transaction_id,omitempty"`
	FailureReason   *string           `json:"failure_reason,omitempty"`
	PayDate         time.Time         `json:"pay_date"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// ComputeSalary derives gross, tax and net pay from attendance.
// gross = dailyRate*days + overtimeRate*hours + bonuses - deductions; tax = round(gross*taxRate, 2).
func ComputeSalary(period *PayrollPeriod, emp Employee, att AttendanceRecord, now time.Time) (*SalaryPayment, error) {
	base := emp.DailyRate.Mul(att.DaysWorked).Round(2)
	overtime := emp.OvertimeRate.Mul(att.OvertimeHours).Round(2)
	gross := base.Add(overtime).Add(att.Bonuses).Sub(att.Deductions)
	if gross.IsNegative() {
		return nil, fmt.Errorf("employee %s: deductions %s exceed earnings %s", emp.ID, att.Deductions, base.Add(overtime).Add(att.Bonuses))
	}
	tax := gross.Mul(period.TaxRate).Round(2)

	return &SalaryPayment{
		ID:              uuid.New(),
		PayrollPeriodID: period.ID,
		EmployeeID:      emp.ID,
		EmployeeName:    emp.Name,
		Phone:           emp.Phone,
		PaymentMethod:   emp.Provider,
		DaysWorked:      att.DaysWorked,
		OvertimeHours:   att.OvertimeHours,
		BaseSalary:      base,
		OvertimePay:     overtime,
		Bonuses:         att.Bonuses,
		Deductions:      att.Deductions,
		GrossAmount:     gross,
		TaxAmount:       tax,
		NetAmount:       gross.Sub(tax),
		Currency:        period.Currency,
		Status:          TransactionStatusPending,
		PayDate:         period.PayDate,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}
