package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"farm-payments/internal/adapter/storage/memory"
	"farm-payments/internal/core/domain"
	"farm-payments/internal/core/ports"
	"farm-payments/internal/core/ports/mocks"
	"farm-payments/pkg/apperror"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type invoiceFixture struct {
	*engineFixture
	invoices *InvoiceManager
	orgID    uuid.UUID
}

func newInvoiceFixture(t *testing.T) *invoiceFixture {
	f := newEngineFixture(t, time.Second)
	return &invoiceFixture{
		engineFixture: f,
		invoices: NewInvoiceManager(
			memory.NewInvoiceRepo(f.store),
			f.txRepo,
			memory.NewSequenceGenerator(f.store),
			f.engine,
			f.audit,
			f.money,
			14,
			newTestLogger(),
		),
		orgID: uuid.New(),
	}
}

func (f *invoiceFixture) draft(t *testing.T, items ...ports.LineItemInput) *domain.Invoice {
	t.Helper()
	inv, err := f.invoices.Create(context.Background(), ports.CreateInvoiceRequest{
		OrgID:    f.orgID,
		From:     domain.Contact{Name: "Green Valley Farm"},
		To:       domain.Contact{Name: "Nakuru Grocers", Phone: payerPhone},
		Items:    items,
		TaxRate:  dec("0.16"),
		Currency: "KES",
	})
	require.NoError(t, err)
	return inv
}

var (
	maize    = ports.LineItemInput{Description: "Maize", Quantity: dec("10"), Unit: "bag", UnitPrice: dec("250")}
	tomatoes = ports.LineItemInput{Description: "Tomatoes", Quantity: dec("2.5"), Unit: "crate", UnitPrice: dec("99.99")}
)

func assertTotalsReconcile(t *testing.T, inv *domain.Invoice) {
	t.Helper()
	require.NoError(t, inv.CheckTotals())
	assert.True(t, inv.Total.Equal(inv.Subtotal.Add(inv.TaxAmount)))
}

func TestInvoiceManager_Create(t *testing.T) {
	f := newInvoiceFixture(t)

	inv := f.draft(t, maize, tomatoes)

	assert.Equal(t, domain.InvoiceStatusDraft, inv.Status)
	assert.Equal(t, "INV-202407-0001", inv.InvoiceNumber)
	assert.True(t, inv.Subtotal.Equal(dec("2749.98")), inv.Subtotal.String())
	assert.True(t, inv.TaxAmount.Equal(dec("440")), inv.TaxAmount.String())
	assert.True(t, inv.Total.Equal(dec("3189.98")))
	assert.Equal(t, time.Date(2024, 7, 15, 9, 0, 0, 0, time.UTC), inv.DueDate)
	assertTotalsReconcile(t, inv)

	second := f.draft(t)
	assert.Equal(t, "INV-202407-0002", second.InvoiceNumber, "numbers come from a monotonic monthly counter")

	f.clock.Advance(31 * 24 * time.Hour)
	third := f.draft(t)
	assert.Equal(t, "INV-202408-0001", third.InvoiceNumber)
}

func TestInvoiceManager_Create_ReportsEveryProblem(t *testing.T) {
	f := newInvoiceFixture(t)
	negative := -3

	_, err := f.invoices.Create(context.Background(), ports.CreateInvoiceRequest{
		OrgID:            f.orgID,
		Currency:         "XYZ",
		TaxRate:          dec("1.5"),
		PaymentTermsDays: &negative,
		Items:            []ports.LineItemInput{{Quantity: dec("0"), UnitPrice: dec("-1")}},
	})

	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperror.CodeValidation, appErr.Code)
	assert.Len(t, appErr.Details, 8)
}

func TestInvoiceManager_DraftEditsRecalculate(t *testing.T) {
	f := newInvoiceFixture(t)
	ctx := context.Background()
	inv := f.draft(t, maize)

	inv, err := f.invoices.AddItem(ctx, f.orgID, inv.ID, tomatoes)
	require.NoError(t, err)
	require.Len(t, inv.Items, 2)
	assertTotalsReconcile(t, inv)

	inv, err = f.invoices.RemoveItem(ctx, f.orgID, inv.ID, inv.Items[0].ID)
	require.NoError(t, err)
	require.Len(t, inv.Items, 1)
	assert.True(t, inv.Subtotal.Equal(dec("249.98")))
	assertTotalsReconcile(t, inv)

	inv, err = f.invoices.SetTaxRate(ctx, f.orgID, inv.ID, dec("0"))
	require.NoError(t, err)
	assert.True(t, inv.Total.Equal(dec("249.98")))
	assertTotalsReconcile(t, inv)

	_, err = f.invoices.RemoveItem(ctx, f.orgID, inv.ID, uuid.New())
	assert.True(t, apperror.HasCode(err, apperror.CodeNotFound))

	stored, err := f.invoices.Get(ctx, f.orgID, inv.ID)
	require.NoError(t, err)
	assert.True(t, stored.Total.Equal(inv.Total))
}

// lockstepInvoiceRepo holds the first two loads until both have happened, so
// two edits start from the same stored draft.
type lockstepInvoiceRepo struct {
	ports.InvoiceRepository
	loads   atomic.Int32
	arrived sync.WaitGroup
}

func (r *lockstepInvoiceRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Invoice, error) {
	inv, err := r.InvoiceRepository.GetByID(ctx, id)
	if r.loads.Add(1) <= 2 {
		r.arrived.Done()
		r.arrived.Wait()
	}
	return inv, err
}

type staleInvoiceRepo struct{ ports.InvoiceRepository }

func (staleInvoiceRepo) Update(context.Context, *domain.Invoice, domain.InvoiceStatus) error {
	return ports.ErrStaleState
}

func (f *invoiceFixture) withRepo(repo ports.InvoiceRepository) *InvoiceManager {
	return NewInvoiceManager(repo, f.txRepo, memory.NewSequenceGenerator(f.store),
		f.engine, f.audit, f.money, 14, newTestLogger())
}

func TestInvoiceManager_ConcurrentDraftEditsKeepEveryItem(t *testing.T) {
	f := newInvoiceFixture(t)
	ctx := context.Background()
	inv := f.draft(t, maize)

	repo := &lockstepInvoiceRepo{InvoiceRepository: memory.NewInvoiceRepo(f.store)}
	repo.arrived.Add(2)
	invoices := f.withRepo(repo)

	beans := ports.LineItemInput{Description: "Beans", Quantity: dec("4"), Unit: "bag", UnitPrice: dec("600")}
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, item := range []ports.LineItemInput{tomatoes, beans} {
		wg.Add(1)
		go func(i int, item ports.LineItemInput) {
			defer wg.Done()
			_, errs[i] = invoices.AddItem(ctx, f.orgID, inv.ID, item)
		}(i, item)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	stored, err := f.invoices.Get(ctx, f.orgID, inv.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Items, 3)
	assert.True(t, stored.Subtotal.Equal(dec("5149.98")), stored.Subtotal.String())
	assertTotalsReconcile(t, stored)
	assert.Equal(t, int64(2), stored.Version)
}

func TestInvoiceManager_DraftEditGivesUpWhenAlwaysStale(t *testing.T) {
	f := newInvoiceFixture(t)
	inv := f.draft(t, maize)

	invoices := f.withRepo(staleInvoiceRepo{memory.NewInvoiceRepo(f.store)})
	_, err := invoices.SetTaxRate(context.Background(), f.orgID, inv.ID, dec("0.1"))
	assert.True(t, apperror.HasCode(err, apperror.CodeInvoiceNotEditable))

	stored, err := f.invoices.Get(context.Background(), f.orgID, inv.ID)
	require.NoError(t, err)
	assert.True(t, stored.TaxRate.Equal(dec("0.16")))
}

func TestInvoiceManager_OnlyDraftsAreEditable(t *testing.T) {
	f := newInvoiceFixture(t)
	ctx := context.Background()
	inv := f.draft(t, maize)

	_, err := f.invoices.Send(ctx, f.orgID, inv.ID)
	require.NoError(t, err)

	_, err = f.invoices.AddItem(ctx, f.orgID, inv.ID, tomatoes)
	assert.True(t, apperror.HasCode(err, apperror.CodeInvoiceNotEditable))
	_, err = f.invoices.SetTaxRate(ctx, f.orgID, inv.ID, dec("0.1"))
	assert.True(t, apperror.HasCode(err, apperror.CodeInvoiceNotEditable))
}

func TestInvoiceManager_SendRequiresItems(t *testing.T) {
	f := newInvoiceFixture(t)
	inv := f.draft(t)

	_, err := f.invoices.Send(context.Background(), f.orgID, inv.ID)

	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}

func TestInvoiceManager_OverdueIsDerived(t *testing.T) {
	f := newInvoiceFixture(t)
	ctx := context.Background()
	inv := f.draft(t, maize)
	inv, err := f.invoices.Send(ctx, f.orgID, inv.ID)
	require.NoError(t, err)
	assert.False(t, inv.Overdue)

	f.clock.Advance(15 * 24 * time.Hour)

	got, err := f.invoices.Get(ctx, f.orgID, inv.ID)
	require.NoError(t, err)
	assert.True(t, got.Overdue)
	assert.Equal(t, domain.InvoiceStatusSent, got.Status, "overdue is never stored")

	overdue := domain.InvoiceStatusOverdue
	list, total, err := f.invoices.List(ctx, domain.InvoiceFilter{OrgID: f.orgID, Status: &overdue})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, list, 1)
	assert.True(t, list[0].Overdue)

	sent := domain.InvoiceStatusSent
	_, total, err = f.invoices.List(ctx, domain.InvoiceFilter{OrgID: f.orgID, Status: &sent})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestInvoiceManager_RecordPayment(t *testing.T) {
	f := newInvoiceFixture(t)
	ctx := context.Background()
	inv := f.draft(t, maize) // total 2900.00
	_, err := f.invoices.Send(ctx, f.orgID, inv.ID)
	require.NoError(t, err)

	short := f.run(t, ports.InitiateRequest{
		UserID: f.orgID, Type: domain.TransactionTypeTopup, Amount: dec("2000"),
		Currency: "KES", Provider: "mpesa", Phone: payerPhone,
	})
	_, err = f.invoices.RecordPayment(ctx, f.orgID, inv.ID, short.Reference)
	assert.True(t, apperror.HasCode(err, apperror.CodeInvoicePayment))

	full := f.run(t, ports.InitiateRequest{
		UserID: f.orgID, Type: domain.TransactionTypeTopup, Amount: dec("2900"),
		Currency: "KES", Provider: "mpesa", Phone: payerPhone,
	})
	paid, err := f.invoices.RecordPayment(ctx, f.orgID, inv.ID, full.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusPaid, paid.Status)
	require.NotNil(t, paid.PaymentReference)
	assert.Equal(t, full.Reference, *paid.PaymentReference)
	assert.Equal(t, *full.CompletedAt, *paid.PaymentDate)
	assert.Equal(t, "mpesa", *paid.PaymentMethod)

	other := f.draft(t, maize)
	_, err = f.invoices.Send(ctx, f.orgID, other.ID)
	require.NoError(t, err)
	_, err = f.invoices.RecordPayment(ctx, f.orgID, other.ID, full.Reference)
	assert.True(t, apperror.HasCode(err, apperror.CodeInvoicePayment), "a reference settles one invoice")

	_, err = f.invoices.Cancel(ctx, f.orgID, inv.ID)
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidTransition), "paid is terminal")
}

func TestInvoiceManager_RecordPayment_RejectsUnsettledTransaction(t *testing.T) {
	f := newInvoiceFixture(t)
	ctx := context.Background()
	inv := f.draft(t, maize)
	_, err := f.invoices.Send(ctx, f.orgID, inv.ID)
	require.NoError(t, err)

	failed := f.run(t, ports.InitiateRequest{
		UserID: f.orgID, Type: domain.TransactionTypeTopup, Amount: dec("5000"),
		Currency: "KES", Provider: "mpesa", Phone: declinedPhone,
	})
	require.Equal(t, domain.TransactionStatusFailed, failed.Status)

	_, err = f.invoices.RecordPayment(ctx, f.orgID, inv.ID, failed.Reference)
	assert.True(t, apperror.HasCode(err, apperror.CodeInvoicePayment))

	_, err = f.invoices.RecordPayment(ctx, f.orgID, inv.ID, "PAY_MISSING")
	assert.True(t, apperror.HasCode(err, apperror.CodeNotFound))
}

func TestInvoiceManager_Collect(t *testing.T) {
	f := newInvoiceFixture(t)
	ctx := context.Background()
	inv := f.draft(t, maize, tomatoes)
	_, err := f.invoices.Send(ctx, f.orgID, inv.ID)
	require.NoError(t, err)

	paid, txn, err := f.invoices.Collect(ctx, ports.CollectRequest{
		OrgID: f.orgID, InvoiceID: inv.ID, Provider: "mpesa", Phone: payerPhone,
	})

	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCompleted, txn.Status)
	assert.True(t, txn.Amount.Equal(inv.Total))
	assert.Equal(t, domain.InvoiceStatusPaid, paid.Status)

	w, err := f.ledger.GetOrCreate(ctx, f.orgID, "KES")
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(inv.Total))
}

func TestInvoiceManager_Collect_DeclinedLeavesInvoiceSent(t *testing.T) {
	f := newInvoiceFixture(t)
	ctx := context.Background()
	inv := f.draft(t, maize)
	_, err := f.invoices.Send(ctx, f.orgID, inv.ID)
	require.NoError(t, err)

	got, txn, err := f.invoices.Collect(ctx, ports.CollectRequest{
		OrgID: f.orgID, InvoiceID: inv.ID, Provider: "mpesa", Phone: declinedPhone,
	})

	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusFailed, txn.Status)
	assert.Equal(t, domain.InvoiceStatusSent, got.Status)
}

func TestInvoiceManager_Get_OtherOrganisation(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockInvoiceRepository(ctrl)
	f := newEngineFixture(t, time.Second)
	mgr := NewInvoiceManager(repo, f.txRepo, memory.NewSequenceGenerator(f.store), f.engine, f.audit, f.money, 14, newTestLogger())

	id := uuid.New()
	repo.EXPECT().GetByID(gomock.Any(), id).Return(&domain.Invoice{ID: id, OrgID: uuid.New()}, nil)

	_, err := mgr.Get(context.Background(), uuid.New(), id)

	assert.True(t, apperror.HasCode(err, apperror.CodeNotFound))
}
