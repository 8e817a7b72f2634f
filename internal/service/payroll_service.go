package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"farm-payments/internal/core/domain"
	"farm-payments/internal/core/money"
	"farm-payments/internal/core/ports"
	"farm-payments/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// PayrollProcessor implements ports.PayrollService. Salaries are paid from
// the period's funding wallet through the transaction engine.
type PayrollProcessor struct {
	repo        ports.PayrollRepository
	txRepo      ports.TransactionRepository
	engine      ports.TransactionEngine
	transactor  ports.DBTransactor
	audit       ports.AuditService
	money       *money.Toolkit
	concurrency int
	defaultTax  decimal.Decimal
	wg          sync.WaitGroup
	log         zerolog.Logger
}

func NewPayrollProcessor(
	repo ports.PayrollRepository,
	txRepo ports.TransactionRepository,
	engine ports.TransactionEngine,
	transactor ports.DBTransactor,
	audit ports.AuditService,
	toolkit *money.Toolkit,
	concurrency int,
	defaultTax decimal.Decimal,
	log zerolog.Logger,
) *PayrollProcessor {
	if concurrency < 1 {
		concurrency = 1
	}
	return &PayrollProcessor{
		repo:        repo,
		txRepo:      txRepo,
		engine:      engine,
		transactor:  transactor,
		audit:       audit,
		money:       toolkit,
		concurrency: concurrency,
		defaultTax:  defaultTax,
		log:         log,
	}
}

func (p *PayrollProcessor) OpenPeriod(ctx context.Context, req ports.OpenPeriodRequest) (*domain.PayrollPeriod, error) {
	taxRate := p.defaultTax
	if req.TaxRate != nil {
		taxRate = *req.TaxRate
	}

	var problems []string
	if req.StartDate.IsZero() || req.EndDate.IsZero() || req.PayDate.IsZero() {
		problems = append(problems, "start, end and pay dates are required")
	} else {
		if req.EndDate.Before(req.StartDate) {
			problems = append(problems, "end date is before start date")
		}
		if req.PayDate.Before(req.StartDate) {
			problems = append(problems, "pay date is before start date")
		}
	}
	if _, ok := p.money.Registry().Currency(req.Currency); !ok {
		problems = append(problems, fmt.Sprintf("unsupported currency %s", req.Currency))
	}
	problems = append(problems, validateTaxRate(taxRate)...)
	if len(problems) > 0 {
		return nil, apperror.ErrPayrollInput(problems)
	}

	now := p.money.Now()
	period := &domain.PayrollPeriod{
		ID:            uuid.New(),
		OrgID:         req.OrgID,
		FundingUserID: req.FundingUserID,
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		PayDate:       req.PayDate,
		Status:        domain.PayrollStatusDraft,
		Currency:      req.Currency,
		TaxRate:       taxRate,
		TotalAmount:   decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := p.repo.CreatePeriod(ctx, period); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create payroll period: %w", err))
	}
	p.auditLog(ctx, period, domain.AuditActionPayrollOpen)
	return period, nil
}

func (p *PayrollProcessor) load(ctx context.Context, orgID, periodID uuid.UUID) (*domain.PayrollPeriod, error) {
	period, err := p.repo.GetPeriod(ctx, periodID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get payroll period: %w", err))
	}
	if period == nil || period.OrgID != orgID {
		return nil, apperror.ErrNotFound("payroll period")
	}
	return period, nil
}

func (p *PayrollProcessor) payments(ctx context.Context, periodID uuid.UUID) ([]domain.SalaryPayment, error) {
	payments, err := p.repo.ListSalaryPayments(ctx, periodID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list salary payments: %w", err))
	}
	return payments, nil
}

// Prepare computes one salary payment per entry. It runs once per period;
// every input problem is reported together and nothing is stored on failure.
func (p *PayrollProcessor) Prepare(ctx context.Context, orgID, periodID uuid.UUID, entries []ports.PayrollEntry) (*domain.PayrollPeriod, []domain.SalaryPayment, error) {
	period, err := p.load(ctx, orgID, periodID)
	if err != nil {
		return nil, nil, err
	}
	if period.Status != domain.PayrollStatusDraft {
		return nil, nil, apperror.ErrPayrollState(fmt.Sprintf("period is %s, salaries can only be prepared in DRAFT", period.Status))
	}
	existing, err := p.payments(ctx, period.ID)
	if err != nil {
		return nil, nil, err
	}
	if len(existing) > 0 {
		return nil, nil, apperror.ErrPayrollState("salaries already prepared for this period")
	}

	payments, problems := p.compute(period, entries)
	if len(problems) > 0 {
		return nil, nil, apperror.ErrPayrollInput(problems)
	}

	total := decimal.Zero
	for _, sp := range payments {
		total = total.Add(sp.GrossAmount)
	}
	prepared := *period
	prepared.TotalAmount = total
	prepared.EmployeeCount = len(payments)
	prepared.UpdatedAt = p.money.Now()

	dbTx, err := p.transactor.Begin(ctx)
	if err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := p.repo.CreateSalaryPayments(ctx, dbTx, payments); err != nil {
		return nil, nil, p.prepareConflict(err)
	}
	if err := p.repo.UpdatePeriod(ctx, dbTx, &prepared, domain.PayrollStatusDraft); err != nil {
		return nil, nil, p.prepareConflict(err)
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, nil, p.prepareConflict(err)
	}

	p.auditLog(ctx, &prepared, domain.AuditActionPayrollPrepare)
	p.log.Info().
		Str("period_id", prepared.ID.String()).
		Int("employees", prepared.EmployeeCount).
		Str("total", prepared.TotalAmount.String()).
		Msg("payroll prepared")
	return &prepared, payments, nil
}

func (p *PayrollProcessor) prepareConflict(err error) error {
	if errors.Is(err, ports.ErrDuplicateKey) {
		return apperror.ErrPayrollState("salaries already prepared for this period")
	}
	if errors.Is(err, ports.ErrStaleState) {
		return apperror.ErrPayrollState("period left DRAFT while preparing")
	}
	return apperror.InternalError(fmt.Errorf("prepare payroll: %w", err))
}

func (p *PayrollProcessor) compute(period *domain.PayrollPeriod, entries []ports.PayrollEntry) ([]domain.SalaryPayment, []string) {
	if len(entries) == 0 {
		return nil, []string{"at least one employee is required"}
	}

	var problems []string
	days := period.Days()
	now := p.money.Now()
	seen := make(map[uuid.UUID]bool, len(entries))
	payments := make([]domain.SalaryPayment, 0, len(entries))

	for _, entry := range entries {
		emp, att := entry.Employee, entry.Attendance
		label := "employee " + emp.ID.String()

		if emp.ID == uuid.Nil {
			problems = append(problems, "employee id is required")
			continue
		}
		if seen[emp.ID] {
			problems = append(problems, label+": listed more than once")
			continue
		}
		seen[emp.ID] = true

		if att.EmployeeID != emp.ID {
			problems = append(problems, label+": attendance belongs to a different employee")
		}
		if strings.TrimSpace(emp.Name) == "" {
			problems = append(problems, label+": name is required")
		}
		if prov, ok := p.money.Registry().Provider(emp.Provider); ok {
			emp.Provider = prov.ID
		}
		if !p.money.ValidateMoMoNumber(emp.Phone, emp.Provider) {
			problems = append(problems, fmt.Sprintf("%s: %q is not a valid %s number", label, emp.Phone, emp.Provider))
		} else if prov, _ := p.money.Registry().Provider(emp.Provider); !prov.Supports(period.Currency) {
			problems = append(problems, fmt.Sprintf("%s: provider %s does not pay out %s", label, emp.Provider, period.Currency))
		}
		if emp.DailyRate.IsNegative() || emp.OvertimeRate.IsNegative() {
			problems = append(problems, label+": rates cannot be negative")
		}
		errs := att.Validate(days)
		problems = append(problems, errs...)
		if len(errs) > 0 {
			continue
		}

		sp, err := domain.ComputeSalary(period, emp, att, now)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		sp.Phone = money.NormalizePhone(sp.Phone)
		payments = append(payments, *sp)
	}
	return payments, problems
}

// begin moves a prepared DRAFT period to PROCESSING.
func (p *PayrollProcessor) begin(ctx context.Context, orgID, periodID uuid.UUID) (*domain.PayrollPeriod, []domain.SalaryPayment, error) {
	period, err := p.load(ctx, orgID, periodID)
	if err != nil {
		return nil, nil, err
	}
	if !domain.CanTransitionPayroll(period.Status, domain.PayrollStatusProcessing) {
		return nil, nil, apperror.ErrPayrollState(fmt.Sprintf("period is %s, only DRAFT periods can run", period.Status))
	}
	payments, err := p.payments(ctx, period.ID)
	if err != nil {
		return nil, nil, err
	}
	if len(payments) == 0 {
		return nil, nil, apperror.ErrPayrollState("no salaries prepared for this period")
	}

	running := *period
	running.Status = domain.PayrollStatusProcessing
	running.UpdatedAt = p.money.Now()
	if err := p.repo.UpdatePeriod(ctx, nil, &running, domain.PayrollStatusDraft); err != nil {
		if errors.Is(err, ports.ErrStaleState) {
			return nil, nil, apperror.ErrPayrollState("period is already running")
		}
		return nil, nil, apperror.InternalError(fmt.Errorf("start payroll: %w", err))
	}
	p.auditLog(ctx, &running, domain.AuditActionPayrollRun)
	return &running, payments, nil
}

func (p *PayrollProcessor) Run(ctx context.Context, orgID, periodID uuid.UUID) (*domain.PayrollPeriod, []domain.SalaryPayment, error) {
	period, payments, err := p.begin(ctx, orgID, periodID)
	if err != nil {
		return nil, nil, err
	}
	return p.drive(ctx, period, payments)
}

func (p *PayrollProcessor) Start(ctx context.Context, orgID, periodID uuid.UUID) (*domain.PayrollPeriod, error) {
	period, payments, err := p.begin(ctx, orgID, periodID)
	if err != nil {
		return nil, err
	}
	bg := context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if _, _, err := p.drive(bg, period, payments); err != nil {
			p.log.Error().Err(err).Str("period_id", period.ID.String()).Msg("payroll run failed")
		}
	}()
	return period, nil
}

// Wait blocks until background runs started by Start have finished.
func (p *PayrollProcessor) Wait() {
	p.wg.Wait()
}

// drive pays every salary that has not completed yet, then closes the period.
func (p *PayrollProcessor) drive(ctx context.Context, period *domain.PayrollPeriod, payments []domain.SalaryPayment) (*domain.PayrollPeriod, []domain.SalaryPayment, error) {
	started := time.Now()
	var g errgroup.Group
	g.SetLimit(p.concurrency)

	attempted := 0
	for i := range payments {
		if payments[i].Status == domain.TransactionStatusCompleted {
			continue
		}
		attempted++
		sp := &payments[i]
		g.Go(func() error {
			p.pay(ctx, period, sp)
			return nil
		})
	}
	_ = g.Wait()

	done := *period
	done.CompletedCount, done.FailedCount = 0, 0
	for _, sp := range payments {
		if sp.Status == domain.TransactionStatusCompleted {
			done.CompletedCount++
		} else {
			done.FailedCount++
		}
	}
	done.Status = domain.PayrollStatusCompleted
	if done.FailedCount > 0 {
		done.Status = domain.PayrollStatusFailed
	}
	done.UpdatedAt = p.money.Now()

	if err := p.repo.UpdatePeriod(context.WithoutCancel(ctx), nil, &done, domain.PayrollStatusProcessing); err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("close payroll period: %w", err))
	}

	p.log.Info().
		Str("period_id", done.ID.String()).
		Str("status", string(done.Status)).
		Int("attempted", attempted).
		Int("completed", done.CompletedCount).
		Int("failed", done.FailedCount).
		Dur("elapsed", time.Since(started)).
		Msg("payroll run finished")
	return &done, payments, nil
}

// pay settles one salary. A payment already tied to a transaction resumes that
// transaction; only a failed one gets a fresh attempt.
func (p *PayrollProcessor) pay(ctx context.Context, period *domain.PayrollPeriod, sp *domain.SalaryPayment) {
	if !sp.NetAmount.IsPositive() {
		p.settle(ctx, sp, domain.TransactionStatusCompleted, "")
		return
	}

	txn, err := p.resume(ctx, sp)
	if err != nil {
		p.settle(ctx, sp, domain.TransactionStatusFailed, failureReason(err))
		return
	}
	if txn == nil {
		txn, err = p.engine.Initiate(ctx, ports.InitiateRequest{
			UserID:   period.FundingUserID,
			Type:     domain.TransactionTypeSalary,
			Amount:   sp.NetAmount,
			Currency: sp.Currency,
			Provider: sp.PaymentMethod,
			Phone:    sp.Phone,
			Description: fmt.Sprintf("Salary %s %s to %s", sp.EmployeeName,
				period.StartDate.Format(time.DateOnly), period.EndDate.Format(time.DateOnly)),
		})
		if err != nil {
			p.settle(ctx, sp, domain.TransactionStatusFailed, failureReason(err))
			return
		}
		sp.TransactionID = &txn.ID
		sp.Status = domain.TransactionStatusProcessing
		sp.FailureReason = nil
		sp.UpdatedAt = p.money.Now()
		if err := p.repo.UpdateSalaryPayment(ctx, sp); err != nil {
			p.log.Error().Err(err).Str("payment_id", sp.ID.String()).Msg("failed to link salary transaction")
		}
	}

	if !txn.IsTerminal() {
		txn, err = p.engine.Process(ctx, txn.ID)
		if err != nil {
			p.settle(ctx, sp, domain.TransactionStatusFailed, failureReason(err))
			return
		}
	}

	switch {
	case txn.Status == domain.TransactionStatusCompleted:
		p.settle(ctx, sp, domain.TransactionStatusCompleted, "")
	case txn.IsTerminal():
		reason := string(txn.Status)
		if txn.FailureReason != nil {
			reason = *txn.FailureReason
		}
		p.settle(ctx, sp, txn.Status, reason)
	default:
		p.settle(ctx, sp, domain.TransactionStatusFailed, "transaction "+txn.Reference+" still in flight")
	}
}

// resume returns the payment's current transaction unless it must be retried.
func (p *PayrollProcessor) resume(ctx context.Context, sp *domain.SalaryPayment) (*domain.PaymentTransaction, error) {
	if sp.TransactionID == nil {
		return nil, nil
	}
	txn, err := p.txRepo.GetByID(ctx, *sp.TransactionID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get salary transaction: %w", err))
	}
	if txn == nil {
		return nil, nil
	}
	if txn.IsTerminal() && txn.Status != domain.TransactionStatusCompleted {
		return nil, nil
	}
	return txn, nil
}

func (p *PayrollProcessor) settle(ctx context.Context, sp *domain.SalaryPayment, status domain.TransactionStatus, reason string) {
	sp.Status = status
	sp.FailureReason = nil
	if reason != "" {
		sp.FailureReason = &reason
	}
	sp.UpdatedAt = p.money.Now()
	if err := p.repo.UpdateSalaryPayment(context.WithoutCancel(ctx), sp); err != nil {
		p.log.Error().Err(err).Str("payment_id", sp.ID.String()).Msg("failed to record salary payment")
	}

	evt := p.log.Info()
	if status != domain.TransactionStatusCompleted {
		evt = p.log.Warn().Str("reason", reason)
	}
	evt.Str("payment_id", sp.ID.String()).
		Str("employee_id", sp.EmployeeID.String()).
		Str("status", string(status)).
		Msg("salary payment settled")
}

// Reopen returns a FAILED period to DRAFT so its unpaid salaries can run again.
func (p *PayrollProcessor) Reopen(ctx context.Context, orgID, periodID uuid.UUID) (*domain.PayrollPeriod, error) {
	period, err := p.load(ctx, orgID, periodID)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransitionPayroll(period.Status, domain.PayrollStatusDraft) {
		return nil, apperror.ErrPayrollState(fmt.Sprintf("period is %s, only FAILED periods can be reopened", period.Status))
	}
	reopened := *period
	reopened.Status = domain.PayrollStatusDraft
	reopened.UpdatedAt = p.money.Now()
	if err := p.repo.UpdatePeriod(ctx, nil, &reopened, domain.PayrollStatusFailed); err != nil {
		if errors.Is(err, ports.ErrStaleState) {
			return nil, apperror.ErrPayrollState("period was reopened concurrently")
		}
		return nil, apperror.InternalError(fmt.Errorf("reopen payroll period: %w", err))
	}
	p.auditLog(ctx, &reopened, domain.AuditActionPayrollReopen)
	return &reopened, nil
}

func (p *PayrollProcessor) Get(ctx context.Context, orgID, periodID uuid.UUID) (*domain.PayrollPeriod, []domain.SalaryPayment, error) {
	period, err := p.load(ctx, orgID, periodID)
	if err != nil {
		return nil, nil, err
	}
	payments, err := p.payments(ctx, period.ID)
	if err != nil {
		return nil, nil, err
	}
	return period, payments, nil
}

func (p *PayrollProcessor) List(ctx context.Context, orgID uuid.UUID) ([]domain.PayrollPeriod, error) {
	periods, err := p.repo.ListPeriods(ctx, orgID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list payroll periods: %w", err))
	}
	return periods, nil
}

func (p *PayrollProcessor) auditLog(ctx context.Context, period *domain.PayrollPeriod, action domain.AuditAction) {
	orgID := period.OrgID
	p.audit.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		UserID:       &orgID,
		Action:       action,
		ResourceType: "payroll_period",
		ResourceID:   period.ID.String(),
		Details:      string(period.Status),
		CreatedAt:    p.money.Now(),
	})
}
