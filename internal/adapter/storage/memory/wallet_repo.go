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
)

type WalletRepo struct{ s *Store }

func NewWalletRepo(s *Store) *WalletRepo { return &WalletRepo{s: s} }

func (r *WalletRepo) Create(_ context.Context, w *domain.Wallet) error {
	stored := *w
	stored.LinkedAccounts = nil
	return r.s.run(op{
		check: func(_ *scratch) error {
			for _, existing := range r.s.wallets {
				if existing.UserID == w.UserID && existing.Currency == w.Currency {
					return ports.ErrDuplicateKey
				}
			}
			return nil
		},
		apply: func() { r.s.wallets[w.ID] = stored },
	})
}

func (r *WalletRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Wallet, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	w, ok := r.s.wallets[id]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (r *WalletRepo) GetByUser(_ context.Context, userID uuid.UUID, currency string) (*domain.Wallet, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, w := range r.s.wallets {
		if w.UserID == userID && w.Currency == currency {
			return &w, nil
		}
	}
	return nil, nil
}

func (r *WalletRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]domain.Wallet, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Wallet
	for _, w := range r.s.wallets {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

// GetByIDForUpdate reads committed state. Callers serialize per wallet.
func (r *WalletRepo) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*domain.Wallet, error) {
	return r.GetByID(ctx, id)
}

func (r *WalletRepo) UpdateBalance(_ context.Context, tx pgx.Tx, w *domain.Wallet) error {
	id := w.ID
	balance, available, reserved := w.Balance, w.AvailableBalance, w.ReservedBalance
	hash, updated := w.LastAuditHash, w.UpdatedAt
	return r.s.exec(tx, op{
		check: func(_ *scratch) error {
			if _, ok := r.s.wallets[id]; !ok {
				return fmt.Errorf("wallet %s not found", id)
			}
			return nil
		},
		apply: func() {
			stored := r.s.wallets[id]
			stored.Balance = balance
			stored.AvailableBalance = available
			stored.ReservedBalance = reserved
			stored.LastAuditHash = hash
			stored.UpdatedAt = updated
			r.s.wallets[id] = stored
		},
	})
}

func (r *WalletRepo) UpdateStatus(_ context.Context, id uuid.UUID, status domain.WalletStatus, updatedAt time.Time) error {
	return r.s.run(op{
		check: func(_ *scratch) error {
			if _, ok := r.s.wallets[id]; !ok {
				return fmt.Errorf("wallet %s not found", id)
			}
			return nil
		},
		apply: func() {
			stored := r.s.wallets[id]
			stored.Status = status
			stored.UpdatedAt = updatedAt
			r.s.wallets[id] = stored
		},
	})
}

func (r *WalletRepo) AddLinkedAccount(_ context.Context, a *domain.LinkedAccount) error {
	stored := *a
	return r.s.run(op{
		apply: func() { r.s.accounts[a.WalletID] = append(r.s.accounts[a.WalletID], stored) },
	})
}

func (r *WalletRepo) ListLinkedAccounts(_ context.Context, walletID uuid.UUID) ([]domain.LinkedAccount, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	src := r.s.accounts[walletID]
	out := make([]domain.LinkedAccount, len(src))
	copy(out, src)
	return out, nil
}

func (r *WalletRepo) VerifyLinkedAccount(_ context.Context, walletID, accountID uuid.UUID) error {
	idx := -1
	return r.s.run(op{
		check: func(_ *scratch) error {
			for i, a := range r.s.accounts[walletID] {
				if a.ID == accountID {
					idx = i
					return nil
				}
			}
			return fmt.Errorf("linked account %s not found", accountID)
		},
		apply: func() { r.s.accounts[walletID][idx].Verified = true },
	})
}
