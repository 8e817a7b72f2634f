package postgres

import (
	"context"
	"errors"
	"fmt"

	"farm-payments/internal/core/domain"
	"farm-payments/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const periodColumns = `id, org_id, funding_user_id, start_date, end_date, pay_date, status, currency,
		tax_rate, total_amount, employee_count, completed_count, failed_count, created_at, updated_at`

const salaryColumns = `id, payroll_period_id, employee_id, employee_name, phone, payment_method,
		days_worked, overtime_hours, base_salary, overtime_pay, bonuses, deductions,
		gross_amount, tax_amount, net_amount, currency, status, transaction_id, failure_reason,
		pay_date, created_at, updated_at`

// PayrollRepo implements ports.PayrollRepository.
type PayrollRepo struct {
	pool Pool
}

func NewPayrollRepo(pool Pool) *PayrollRepo {
	return &PayrollRepo{pool: pool}
}

func (r *PayrollRepo) CreatePeriod(ctx context.Context, p *domain.PayrollPeriod) error {
	query := `INSERT INTO payroll_periods (` + periodColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.pool.Exec(ctx, query,
		p.ID, p.OrgID, p.FundingUserID, p.StartDate, p.EndDate, p.PayDate, p.Status, p.Currency,
		p.TaxRate, p.TotalAmount, p.EmployeeCount, p.CompletedCount, p.FailedCount, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return mapWriteErr("insert payroll period", err)
	}
	return nil
}

func (r *PayrollRepo) GetPeriod(ctx context.Context, id uuid.UUID) (*domain.PayrollPeriod, error) {
	query := `SELECT ` + periodColumns + ` FROM payroll_periods WHERE id = $1`
	return scanPeriod(r.pool.QueryRow(ctx, query, id))
}

func (r *PayrollRepo) ListPeriods(ctx context.Context, orgID uuid.UUID) ([]domain.PayrollPeriod, error) {
	query := `SELECT ` + periodColumns + ` FROM payroll_periods WHERE org_id = $1 ORDER BY start_date DESC`

	rows, err := r.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("list payroll periods: %w", err)
	}
	defer rows.Close()

	var periods []domain.PayrollPeriod
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, *p)
	}
	return periods, rows.Err()
}

// UpdatePeriod writes status and counters guarded by the expected stored status.
func (r *PayrollRepo) UpdatePeriod(ctx context.Context, tx pgx.Tx, p *domain.PayrollPeriod, from domain.PayrollStatus) error {
	query := `UPDATE payroll_periods SET status = $1, total_amount = $2, employee_count = $3,
		completed_count = $4, failed_count = $5, updated_at = $6
		WHERE id = $7 AND status = $8`

	tag, err := on(r.pool, tx).Exec(ctx, query,
		p.Status, p.TotalAmount, p.EmployeeCount, p.CompletedCount, p.FailedCount, p.UpdatedAt, p.ID, from,
	)
	if err != nil {
		return fmt.Errorf("update payroll period: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrStaleState
	}
	return nil
}

// CreateSalaryPayments inserts one row per employee. (period, employee) is unique.
func (r *PayrollRepo) CreateSalaryPayments(ctx context.Context, tx pgx.Tx, payments []domain.SalaryPayment) error {
	query := `INSERT INTO salary_payments (` + salaryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`

	q := on(r.pool, tx)
	for _, sp := range payments {
		_, err := q.Exec(ctx, query,
			sp.ID, sp.PayrollPeriodID, sp.EmployeeID, sp.EmployeeName, sp.Phone, sp.PaymentMethod,
			sp.DaysWorked, sp.OvertimeHours, sp.BaseSalary, sp.OvertimePay, sp.Bonuses, sp.Deductions,
			sp.GrossAmount, sp.TaxAmount, sp.NetAmount, sp.Currency, sp.Status, sp.TransactionID, sp.FailureReason,
			sp.PayDate, sp.CreatedAt, sp.UpdatedAt,
		)
		if err != nil {
			return mapWriteErr("insert salary payment", err)
		}
	}
	return nil
}

func (r *PayrollRepo) ListSalaryPayments(ctx context.Context, periodID uuid.UUID) ([]domain.SalaryPayment, error) {
	query := `SELECT ` + salaryColumns + ` FROM salary_payments WHERE payroll_period_id = $1 ORDER BY employee_name, id`

	rows, err := r.pool.Query(ctx, query, periodID)
	if err != nil {
		return nil, fmt.Errorf("list salary payments: %w", err)
	}
	defer rows.Close()

	var payments []domain.SalaryPayment
	for rows.Next() {
		var sp domain.SalaryPayment
		if err := rows.Scan(
			&sp.ID, &sp.PayrollPeriodID, &sp.EmployeeID, &sp.EmployeeName, &sp.Phone, &sp.PaymentMethod,
			&sp.DaysWorked, &sp.OvertimeHours, &sp.BaseSalary, &sp.OvertimePay, &sp.Bonuses, &sp.Deductions,
			&sp.GrossAmount, &sp.TaxAmount, &sp.NetAmount, &sp.Currency, &sp.Status, &sp.TransactionID, &sp.FailureReason,
			&sp.PayDate, &sp.CreatedAt, &sp.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan salary payment: %w", err)
		}
		payments = append(payments, sp)
	}
	return payments, rows.Err()
}

func (r *PayrollRepo) UpdateSalaryPayment(ctx context.Context, sp *domain.SalaryPayment) error {
	query := `UPDATE salary_payments SET status = $1, transaction_id = $2, failure_reason = $3, updated_at = $4
		WHERE id = $5`

	tag, err := r.pool.Exec(ctx, query, sp.Status, sp.TransactionID, sp.FailureReason, sp.UpdatedAt, sp.ID)
	if err != nil {
		return fmt.Errorf("update salary payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("salary payment not found: %s", sp.ID)
	}
	return nil
}

func scanPeriod(row pgx.Row) (*domain.PayrollPeriod, error) {
	p := &domain.PayrollPeriod{}
	err := row.Scan(
		&p.ID, &p.OrgID, &p.FundingUserID, &p.StartDate, &p.EndDate, &p.PayDate, &p.Status, &p.Currency,
		&p.TaxRate, &p.TotalAmount, &p.EmployeeCount, &p.CompletedCount, &p.FailedCount, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payroll period: %w", err)
	}
	return p, nil
}
