package memory

import (
	"context"
	"sort"

	"farm-payments/internal/core/domain"
	"farm-payments/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SequenceGenerator counts per scope from 1.
type SequenceGenerator struct{ s *Store }

func NewSequenceGenerator(s *Store) *SequenceGenerator { return &SequenceGenerator{s: s} }

func (g *SequenceGenerator) Next(_ context.Context, scope string) (int64, error) {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	g.s.sequences[scope]++
	return g.s.sequences[scope], nil
}

type IdempotencyRepo struct{ s *Store }

func NewIdempotencyRepo(s *Store) *IdempotencyRepo { return &IdempotencyRepo{s: s} }

func (r *IdempotencyRepo) Create(_ context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error {
	stored := *log
	return r.s.exec(tx, op{
		check: func(_ *scratch) error {
			if prev, ok := r.s.idem[stored.Key]; ok && !prev.Expired(stored.CreatedAt) {
				return ports.ErrDuplicateKey
			}
			return nil
		},
		apply: func() { r.s.idem[stored.Key] = stored },
	})
}

func (r *IdempotencyRepo) Get(_ context.Context, key string) (*domain.IdempotencyLog, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	l, ok := r.s.idem[key]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

type AuditRepo struct{ s *Store }

func NewAuditRepo(s *Store) *AuditRepo { return &AuditRepo{s: s} }

func (r *AuditRepo) Create(_ context.Context, log *domain.AuditLog) error {
	stored := *log
	return r.s.run(op{apply: func() { r.s.audits = append(r.s.audits, stored) }})
}

// Entries returns a copy of every audit entry in insertion order.
func (r *AuditRepo) Entries() []domain.AuditLog {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]domain.AuditLog, len(r.s.audits))
	copy(out, r.s.audits)
	return out
}

type WebhookRepo struct{ s *Store }

func NewWebhookRepo(s *Store) *WebhookRepo { return &WebhookRepo{s: s} }

func (r *WebhookRepo) Create(_ context.Context, log *domain.WebhookDeliveryLog) error {
	stored := *log
	return r.s.run(op{apply: func() { r.s.webhooks[stored.ID] = stored }})
}

func (r *WebhookRepo) Update(ctx context.Context, log *domain.WebhookDeliveryLog) error {
	return r.Create(ctx, log)
}

func (r *WebhookRepo) GetByTransactionID(_ context.Context, txID uuid.UUID) ([]domain.WebhookDeliveryLog, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.WebhookDeliveryLog
	for _, l := range r.s.webhooks {
		if l.TransactionID == txID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
