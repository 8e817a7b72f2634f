// Package memory is a process-local storage backend. It implements every
// repository port over maps guarded by one lock, with staged transactions
// that apply atomically on Commit. Used for development and tests.
package memory

import (
	"context"
	"errors"
	"sync"

	"farm-payments/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var errTxClosed = errors.New("memory: transaction already closed")

// Store holds all in-memory state.
type Store struct {
	mu sync.RWMutex

	wallets  map[uuid.UUID]domain.Wallet
	accounts map[uuid.UUID][]domain.LinkedAccount

	txns   map[uuid.UUID]domain.PaymentTransaction
	refs   map[string]uuid.UUID
	pushes map[string]uuid.UUID

	invoices map[uuid.UUID]domain.Invoice

	periods  map[uuid.UUID]domain.PayrollPeriod
	payments map[uuid.UUID][]domain.SalaryPayment

	sequences map[string]int64
	idem      map[string]domain.IdempotencyLog
	audits    []domain.AuditLog
	webhooks  map[uuid.UUID]domain.WebhookDeliveryLog
}

func NewStore() *Store {
	return &Store{
		wallets:   make(map[uuid.UUID]domain.Wallet),
		accounts:  make(map[uuid.UUID][]domain.LinkedAccount),
		txns:      make(map[uuid.UUID]domain.PaymentTransaction),
		refs:      make(map[string]uuid.UUID),
		pushes:    make(map[string]uuid.UUID),
		invoices:  make(map[uuid.UUID]domain.Invoice),
		periods:   make(map[uuid.UUID]domain.PayrollPeriod),
		payments:  make(map[uuid.UUID][]domain.SalaryPayment),
		sequences: make(map[string]int64),
		idem:      make(map[string]domain.IdempotencyLog),
		webhooks:  make(map[uuid.UUID]domain.WebhookDeliveryLog),
	}
}

// Ping implements ports.HealthChecker.
func (s *Store) Ping(_ context.Context) error { return nil }

func (s *Store) Name() string { return "memory" }

// Begin implements ports.DBTransactor.
func (s *Store) Begin(_ context.Context) (pgx.Tx, error) {
	return &memTx{store: s}, nil
}

// op is one staged write. check runs under the store lock before any apply.
type op struct {
	check func(sc *scratch) error
	apply func()
}

// scratch tracks statuses written by earlier ops of the same commit so a
// transaction may move one record through several states.
type scratch struct {
	txnStatus map[uuid.UUID]domain.TransactionStatus
}

// memTx stages writes until Commit. Only Commit and Rollback are
// implemented; the embedded pgx.Tx is nil.
type memTx struct {
	pgx.Tx
	store  *Store
	ops    []op
	closed bool
}

func (t *memTx) Commit(_ context.Context) error {
	if t.closed {
		return errTxClosed
	}
	t.closed = true
	return t.store.run(t.ops...)
}

func (t *memTx) Rollback(_ context.Context) error {
	t.closed = true
	t.ops = nil
	return nil
}

// run checks then applies ops atomically.
func (s *Store) run(ops ...op) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc := &scratch{txnStatus: make(map[uuid.UUID]domain.TransactionStatus)}
	for _, o := range ops {
		if o.check == nil {
			continue
		}
		if err := o.check(sc); err != nil {
			return err
		}
	}
	for _, o := range ops {
		o.apply()
	}
	return nil
}

// exec stages o on tx, or runs it now when tx is nil.
func (s *Store) exec(tx pgx.Tx, o op) error {
	if tx == nil {
		return s.run(o)
	}
	mt, ok := tx.(*memTx)
	if !ok || mt.store != s {
		return errors.New("memory: foreign transaction")
	}
	if mt.closed {
		return errTxClosed
	}
	mt.ops = append(mt.ops, o)
	return nil
}

func paginate[T any](items []T, page, size int) []T {
	if size <= 0 {
		return items
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * size
	if start >= len(items) {
		return []T{}
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
