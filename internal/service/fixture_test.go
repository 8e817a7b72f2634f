package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"farm-payments/internal/adapter/storage/memory"
	"farm-payments/internal/core/domain"
	"farm-payments/internal/core/money"
	"farm-payments/internal/core/ports"
	"farm-payments/internal/core/registry"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeGateway answers pushes through the engine's callback path. Phones
// ending in 0000 are declined, phones ending in 9999 never answer. A phone in
// flaky is declined until its count runs out.
type fakeGateway struct {
	mu      sync.Mutex
	engine  *PaymentEngine
	err     error
	delay   time.Duration
	flaky   map[string]int
	pushes  []ports.AuthorizationRequest
	pending sync.WaitGroup
}

func (g *fakeGateway) InitiateAuthorization(_ context.Context, req ports.AuthorizationRequest) (string, error) {
	g.mu.Lock()
	g.pushes = append(g.pushes, req)
	err := g.err
	flaky := g.flaky[req.Phone] > 0
	if flaky {
		g.flaky[req.Phone]--
	}
	g.mu.Unlock()
	if err != nil {
		return "", err
	}

	pushID := "push-" + req.Reference
	if strings.HasSuffix(req.Phone, "9999") {
		return pushID, nil
	}
	outcome := ports.OutcomeApproved
	if flaky || strings.HasSuffix(req.Phone, "0000") {
		outcome = ports.OutcomeDeclined
	}

	g.pending.Add(1)
	go func() {
		defer g.pending.Done()
		time.Sleep(g.delay)
		_ = g.engine.HandleAuthorizationResult(context.Background(), ports.AuthorizationResult{
			PushID:    pushID,
			Reference: req.Reference,
			Outcome:   outcome,
			Reason:    strings.ToLower(string(outcome)) + " by payer",
		})
	}()
	return pushID, nil
}

func (g *fakeGateway) Pushes() []ports.AuthorizationRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]ports.AuthorizationRequest(nil), g.pushes...)
}

type recordingWebhooks struct {
	mu     sync.Mutex
	events []domain.PaymentTransaction
}

func (r *recordingWebhooks) EnqueueWebhook(_ context.Context, txn *domain.PaymentTransaction) error {
	r.mu.Lock()
	r.events = append(r.events, *txn)
	r.mu.Unlock()
	return nil
}

func (r *recordingWebhooks) Statuses() []domain.TransactionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.TransactionStatus, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Status)
	}
	return out
}

type engineFixture struct {
	store      *memory.Store
	clock      *testClock
	money      *money.Toolkit
	walletRepo *memory.WalletRepo
	txRepo     *memory.TransactionRepo
	audit      *AuditLogger
	ledger     *Ledger
	gateway    *fakeGateway
	webhooks   *recordingWebhooks
	engine     *PaymentEngine
}

func newEngineFixture(t *testing.T, authTimeout time.Duration) *engineFixture {
	t.Helper()

	store := memory.NewStore()
	clock := newTestClock()
	toolkit := money.NewToolkit(registry.Default(), clock)
	enc, err := NewAESEncryptionService(testAESKey)
	require.NoError(t, err)
	hasher, err := NewBlake2bHashService([]byte("ledger-test-key"))
	require.NoError(t, err)

	f := &engineFixture{
		store:      store,
		clock:      clock,
		money:      toolkit,
		walletRepo: memory.NewWalletRepo(store),
		txRepo:     memory.NewTransactionRepo(store),
		audit:      NewAuditService(memory.NewAuditRepo(store), newTestLogger()),
		gateway:    &fakeGateway{delay: 5 * time.Millisecond, flaky: map[string]int{}},
		webhooks:   &recordingWebhooks{},
	}
	f.ledger = NewLedger(f.walletRepo, store, enc, hasher, f.audit, toolkit, newTestLogger())
	f.engine = NewPaymentEngine(
		f.txRepo,
		f.walletRepo,
		memory.NewIdempotencyRepo(store),
		memory.NewCache(),
		store,
		f.ledger,
		f.gateway,
		f.webhooks,
		f.audit,
		toolkit,
		authTimeout,
		newTestLogger(),
	)
	f.gateway.engine = f.engine

	t.Cleanup(func() {
		f.engine.Wait()
		f.gateway.pending.Wait()
		f.audit.Flush()
	})
	return f
}

// fund credits a fresh wallet for a new user and returns both.
func (f *engineFixture) fund(t *testing.T, currency, amount string) (uuid.UUID, *domain.Wallet) {
	t.Helper()
	userID := uuid.New()
	w, err := f.ledger.GetOrCreate(context.Background(), userID, currency)
	require.NoError(t, err)
	if amount != "0" {
		w, err = f.ledger.Settle(context.Background(), w.ID, dec(amount))
		require.NoError(t, err)
	}
	return userID, w
}

func (f *engineFixture) wallet(t *testing.T, id uuid.UUID) *domain.Wallet {
	t.Helper()
	w, err := f.walletRepo.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, w)
	require.NoError(t, w.CheckInvariant())
	return w
}
