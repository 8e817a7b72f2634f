package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"farm-payments/internal/core/domain"
	"farm-payments/internal/core/ports"

	"github.com/google/uuid"
)

type InvoiceRepo struct{ s *Store }

func NewInvoiceRepo(s *Store) *InvoiceRepo { return &InvoiceRepo{s: s} }

func cloneInvoice(inv domain.Invoice) domain.Invoice {
	items := make([]domain.LineItem, len(inv.Items))
	copy(items, inv.Items)
	inv.Items = items
	inv.Overdue = false
	return inv
}

func (r *InvoiceRepo) Create(_ context.Context, inv *domain.Invoice) error {
	stored := cloneInvoice(*inv)
	return r.s.run(op{
		check: func(_ *scratch) error {
			for _, existing := range r.s.invoices {
				if existing.InvoiceNumber == stored.InvoiceNumber {
					return ports.ErrDuplicateKey
				}
			}
			return nil
		},
		apply: func() { r.s.invoices[stored.ID] = stored },
	})
}

func (r *InvoiceRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Invoice, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	inv, ok := r.s.invoices[id]
	if !ok {
		return nil, nil
	}
	out := cloneInvoice(inv)
	return &out, nil
}

func (r *InvoiceRepo) GetByPaymentReference(_ context.Context, reference string) (*domain.Invoice, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, inv := range r.s.invoices {
		if inv.PaymentReference != nil && *inv.PaymentReference == reference {
			out := cloneInvoice(inv)
			return &out, nil
		}
	}
	return nil, nil
}

func (r *InvoiceRepo) Update(_ context.Context, inv *domain.Invoice, from domain.InvoiceStatus) error {
	expected := inv.Version
	stored := cloneInvoice(*inv)
	stored.Version++
	err := r.s.run(op{
		check: func(_ *scratch) error {
			current, ok := r.s.invoices[stored.ID]
			if !ok {
				return fmt.Errorf("invoice %s not found", stored.ID)
			}
			if current.Status != from || current.Version != expected {
				return ports.ErrStaleState
			}
			if stored.PaymentReference == nil {
				return nil
			}
			for id, other := range r.s.invoices {
				if id != stored.ID && other.PaymentReference != nil && *other.PaymentReference == *stored.PaymentReference {
					return ports.ErrDuplicateKey
				}
			}
			return nil
		},
		apply: func() { r.s.invoices[stored.ID] = stored },
	})
	if err == nil {
		inv.Version = stored.Version
	}
	return err
}

func (r *InvoiceRepo) List(_ context.Context, f domain.InvoiceFilter, now time.Time) ([]domain.Invoice, int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Invoice
	for _, inv := range r.s.invoices {
		if inv.OrgID != f.OrgID {
			continue
		}
		if f.Status != nil && inv.EffectiveStatus(now) != *f.Status {
			continue
		}
		out = append(out, cloneInvoice(inv))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IssueDate.Equal(out[j].IssueDate) {
			return out[i].InvoiceNumber > out[j].InvoiceNumber
		}
		return out[i].IssueDate.After(out[j].IssueDate)
	})
	return paginate(out, f.Page, f.PageSize), int64(len(out)), nil
}
