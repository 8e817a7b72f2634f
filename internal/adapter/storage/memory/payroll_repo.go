package memory

import (
	"context"
	"fmt"
	"sort"

	"farm-payments/internal/core/domain"
	"farm-payments/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type PayrollRepo struct{ s *Store }

func NewPayrollRepo(s *Store) *PayrollRepo { return &PayrollRepo{s: s} }

func (r *PayrollRepo) CreatePeriod(_ context.Context, p *domain.PayrollPeriod) error {
	stored := *p
	return r.s.run(op{
		check: func(_ *scratch) error {
			if _, ok := r.s.periods[stored.ID]; ok {
				return ports.ErrDuplicateKey
			}
			return nil
		},
		apply: func() { r.s.periods[stored.ID] = stored },
	})
}

func (r *PayrollRepo) GetPeriod(_ context.Context, id uuid.UUID) (*domain.PayrollPeriod, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.periods[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *PayrollRepo) ListPeriods(_ context.Context, orgID uuid.UUID) ([]domain.PayrollPeriod, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.PayrollPeriod
	for _, p := range r.s.periods {
		if p.OrgID == orgID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.After(out[j].StartDate) })
	return out, nil
}

func (r *PayrollRepo) UpdatePeriod(_ context.Context, tx pgx.Tx, p *domain.PayrollPeriod, from domain.PayrollStatus) error {
	stored := *p
	return r.s.exec(tx, op{
		check: func(_ *scratch) error {
			current, ok := r.s.periods[stored.ID]
			if !ok {
				return fmt.Errorf("payroll period %s not found", stored.ID)
			}
			if current.Status != from {
				return ports.ErrStaleState
			}
			return nil
		},
		apply: func() { r.s.periods[stored.ID] = stored },
	})
}

func (r *PayrollRepo) CreateSalaryPayments(_ context.Context, tx pgx.Tx, payments []domain.SalaryPayment) error {
	if len(payments) == 0 {
		return nil
	}
	periodID := payments[0].PayrollPeriodID
	stored := make([]domain.SalaryPayment, len(payments))
	copy(stored, payments)
	return r.s.exec(tx, op{
		check: func(_ *scratch) error {
			existing := r.s.payments[periodID]
			for _, p := range stored {
				if p.PayrollPeriodID != periodID {
					return fmt.Errorf("salary payment %s belongs to another period", p.ID)
				}
				for _, e := range existing {
					if e.EmployeeID == p.EmployeeID {
						return ports.ErrDuplicateKey
					}
				}
			}
			return nil
		},
		apply: func() { r.s.payments[periodID] = append(r.s.payments[periodID], stored...) },
	})
}

func (r *PayrollRepo) ListSalaryPayments(_ context.Context, periodID uuid.UUID) ([]domain.SalaryPayment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	src := r.s.payments[periodID]
	out := make([]domain.SalaryPayment, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool { return out[i].EmployeeName < out[j].EmployeeName })
	return out, nil
}

func (r *PayrollRepo) UpdateSalaryPayment(_ context.Context, p *domain.SalaryPayment) error {
	stored := *p
	idx := -1
	return r.s.run(op{
		check: func(_ *scratch) error {
			for i, e := range r.s.payments[stored.PayrollPeriodID] {
				if e.ID == stored.ID {
					idx = i
					return nil
				}
			}
			return fmt.Errorf("salary payment %s not found", stored.ID)
		},
		apply: func() { r.s.payments[stored.PayrollPeriodID][idx] = stored },
	})
}
