package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"farm-payments/internal/core/domain"
	"farm-payments/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type TransactionRepo struct{ s *Store }

func NewTransactionRepo(s *Store) *TransactionRepo { return &TransactionRepo{s: s} }

func (r *TransactionRepo) Create(_ context.Context, tx pgx.Tx, txn *domain.PaymentTransaction) error {
	stored := *txn
	return r.s.exec(tx, op{
		check: func(sc *scratch) error {
			if _, ok := r.s.refs[stored.Reference]; ok {
				return ports.ErrDuplicateKey
			}
			if _, ok := r.s.txns[stored.ID]; ok {
				return ports.ErrDuplicateKey
			}
			sc.txnStatus[stored.ID] = stored.Status
			return nil
		},
		apply: func() {
			r.s.txns[stored.ID] = stored
			r.s.refs[stored.Reference] = stored.ID
			if stored.PushID != nil {
				r.s.pushes[*stored.PushID] = stored.ID
			}
		},
	})
}

func (r *TransactionRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.PaymentTransaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t, ok := r.s.txns[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (r *TransactionRepo) GetByReference(ctx context.Context, reference string) (*domain.PaymentTransaction, error) {
	r.s.mu.RLock()
	id, ok := r.s.refs[reference]
	r.s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return r.GetByID(ctx, id)
}

func (r *TransactionRepo) GetByPushID(ctx context.Context, pushID string) (*domain.PaymentTransaction, error) {
	r.s.mu.RLock()
	id, ok := r.s.pushes[pushID]
	r.s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return r.GetByID(ctx, id)
}

func (r *TransactionRepo) Update(_ context.Context, tx pgx.Tx, txn *domain.PaymentTransaction, from domain.TransactionStatus) error {
	stored := *txn
	return r.s.exec(tx, op{
		check: func(sc *scratch) error {
			status, ok := sc.txnStatus[stored.ID]
			if !ok {
				current, found := r.s.txns[stored.ID]
				if !found {
					return fmt.Errorf("transaction %s not found", stored.ID)
				}
				status = current.Status
			}
			if status != from {
				return ports.ErrStaleState
			}
			sc.txnStatus[stored.ID] = stored.Status
			return nil
		},
		apply: func() {
			r.s.txns[stored.ID] = stored
			if stored.PushID != nil {
				r.s.pushes[*stored.PushID] = stored.ID
			}
		},
	})
}

func (r *TransactionRepo) ListStale(_ context.Context, cutoff time.Time, limit int) ([]domain.PaymentTransaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.PaymentTransaction
	for _, t := range r.s.txns {
		if t.Status != domain.TransactionStatusPending && t.Status != domain.TransactionStatusProcessing {
			continue
		}
		if t.CreatedAt.Before(cutoff) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *TransactionRepo) List(_ context.Context, f domain.TransactionFilter) ([]domain.PaymentTransaction, int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.PaymentTransaction
	for _, t := range r.s.txns {
		if matchesFilter(&t, f) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, f.Page, f.PageSize), int64(len(out)), nil
}

func matchesFilter(t *domain.PaymentTransaction, f domain.TransactionFilter) bool {
	switch {
	case f.UserID != nil && t.UserID != *f.UserID:
		return false
	case f.WalletID != nil && t.WalletID != *f.WalletID:
		return false
	case f.Type != nil && t.Type != *f.Type:
		return false
	case f.Status != nil && t.Status != *f.Status:
		return false
	case f.From != nil && t.CreatedAt.Before(*f.From):
		return false
	case f.To != nil && !t.CreatedAt.Before(*f.To):
		return false
	}
	return true
}

func (r *TransactionRepo) GetStats(_ context.Context, userID uuid.UUID, since *time.Time) ([]domain.TransactionStats, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	byCurrency := make(map[string]*domain.TransactionStats)
	for _, t := range r.s.txns {
		if t.UserID != userID || (since != nil && t.CreatedAt.Before(*since)) {
			continue
		}
		st, ok := byCurrency[t.Currency]
		if !ok {
			st = &domain.TransactionStats{Currency: t.Currency, CompletedVolume: decimal.Zero, FeesCollected: decimal.Zero}
			byCurrency[t.Currency] = st
		}
		st.TotalCount++
		switch t.Status {
		case domain.TransactionStatusCompleted:
			st.CompletedCount++
			st.CompletedVolume = st.CompletedVolume.Add(t.Amount)
			st.FeesCollected = st.FeesCollected.Add(t.Fees.Total)
		case domain.TransactionStatusFailed:
			st.FailedCount++
		case domain.TransactionStatusExpired:
			st.ExpiredCount++
		}
	}
	out := make([]domain.TransactionStats, 0, len(byCurrency))
	for _, st := range byCurrency {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}
