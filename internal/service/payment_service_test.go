package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"farm-payments/internal/core/domain"
	"farm-payments/internal/core/money"
	"farm-payments/internal/core/ports"
	"farm-payments/internal/core/ports/mocks"
	"farm-payments/internal/core/registry"
	"farm-payments/pkg/apperror"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const (
	payerPhone    = "0712345678"
	declinedPhone = "0712340000"
	silentPhone   = "0712349999"
)

type paymentTestDeps struct {
	engine     *PaymentEngine
	txRepo     *mocks.MockTransactionRepository
	walletRepo *mocks.MockWalletRepository
	idempRepo  *mocks.MockIdempotencyRepository
	idempCache *mocks.MockIdempotencyCache
}

func setupPaymentEngineMocks(t *testing.T) *paymentTestDeps {
	ctrl := gomock.NewController(t)
	d := &paymentTestDeps{
		txRepo:     mocks.NewMockTransactionRepository(ctrl),
		walletRepo: mocks.NewMockWalletRepository(ctrl),
		idempRepo:  mocks.NewMockIdempotencyRepository(ctrl),
		idempCache: mocks.NewMockIdempotencyCache(ctrl),
	}
	d.engine = NewPaymentEngine(
		d.txRepo, d.walletRepo, d.idempRepo, d.idempCache,
		mocks.NewMockDBTransactor(ctrl), nil,
		mocks.NewMockProviderGateway(ctrl), mocks.NewMockWebhookService(ctrl), mocks.NewMockAuditService(ctrl),
		money.NewToolkit(registry.Default(), newTestClock()), time.Second, newTestLogger(),
	)
	return d
}

func TestPaymentEngine_Initiate_ReportsEveryProblem(t *testing.T) {
	d := setupPaymentEngineMocks(t)

	_, err := d.engine.Initiate(context.Background(), ports.InitiateRequest{
		UserID:   uuid.New(),
		Type:     domain.TransactionTypeWithdrawal,
		Amount:   decimal.Zero,
		Currency: "KES",
		Provider: "mpesa",
		Phone:    "12345",
	})

	require.Error(t, err)
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperror.CodeValidation, appErr.Code)
	assert.Contains(t, appErr.Details, "amount must be greater than 0")
	assert.Contains(t, appErr.Details, "12345 is not a valid mpesa number")
	assert.GreaterOrEqual(t, len(appErr.Details), 3, "below-minimum check also fires")
}

func TestPaymentEngine_Initiate_IdempotentRedisHit(t *testing.T) {
	d := setupPaymentEngineMocks(t)
	userID := uuid.New()
	existing := &domain.PaymentTransaction{ID: uuid.New(), UserID: userID, Status: domain.TransactionStatusPending}
	key := domain.BuildIdempotencyKey(userID, "order-42")

	d.idempCache.EXPECT().Get(gomock.Any(), key).Return([]byte(existing.ID.String()), nil)
	d.txRepo.EXPECT().GetByID(gomock.Any(), existing.ID).Return(existing, nil)

	txn, err := d.engine.Initiate(context.Background(), ports.InitiateRequest{
		UserID:         userID,
		Type:           domain.TransactionTypeTopup,
		Amount:         dec("100"),
		Currency:       "KES",
		Provider:       "mpesa",
		Phone:          payerPhone,
		IdempotencyKey: "order-42",
	})

	require.NoError(t, err)
	assert.Equal(t, existing.ID, txn.ID)
}

func TestPaymentEngine_Initiate_IdempotentDBFallback(t *testing.T) {
	d := setupPaymentEngineMocks(t)
	userID := uuid.New()
	existing := &domain.PaymentTransaction{ID: uuid.New(), UserID: userID}
	key := domain.BuildIdempotencyKey(userID, "order-43")

	d.idempCache.EXPECT().Get(gomock.Any(), key).Return(nil, errors.New("redis down"))
	d.idempRepo.EXPECT().Get(gomock.Any(), key).Return(&domain.IdempotencyLog{
		Key: key, TransactionID: existing.ID, ExpiresAt: time.Date(2024, 7, 2, 9, 0, 0, 0, time.UTC),
	}, nil)
	d.txRepo.EXPECT().GetByID(gomock.Any(), existing.ID).Return(existing, nil)

	txn, err := d.engine.Initiate(context.Background(), ports.InitiateRequest{
		UserID: userID, Type: domain.TransactionTypeTopup, Amount: dec("100"),
		Currency: "KES", Provider: "mpesa", Phone: payerPhone, IdempotencyKey: "order-43",
	})

	require.NoError(t, err)
	assert.Equal(t, existing.ID, txn.ID)
}

func withdraw(userID uuid.UUID, amount, phone string) ports.InitiateRequest {
	return ports.InitiateRequest{
		UserID:   userID,
		Type:     domain.TransactionTypeWithdrawal,
		Amount:   dec(amount),
		Currency: "KES",
		Provider: "mpesa",
		Phone:    phone,
	}
}

func (f *engineFixture) run(t *testing.T, req ports.InitiateRequest) *domain.PaymentTransaction {
	t.Helper()
	txn, err := f.engine.Initiate(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, domain.TransactionStatusPending, txn.Status)
	txn, err = f.engine.Process(context.Background(), txn.ID)
	require.NoError(t, err)
	return txn
}

func TestPaymentEngine_Withdrawal_Completes(t *testing.T) {
	f := newEngineFixture(t, time.Second)
	userID, w := f.fund(t, "KES", "1000")

	txn := f.run(t, withdraw(userID, "500", payerPhone))

	assert.Equal(t, domain.TransactionStatusCompleted, txn.Status)
	require.NotNil(t, txn.CompletedAt)
	assert.True(t, txn.Fees.PlatformFee.Equal(dec("7.5")))
	assert.True(t, txn.Fees.ProviderFee.Equal(dec("5")))
	assert.True(t, txn.Fees.Total.Equal(dec("12.5")))
	assert.Regexp(t, `^WDR_[0-9A-Z]+_[0-9A-F]{8}$`, txn.Reference)

	after := f.wallet(t, w.ID)
	assert.True(t, after.Balance.Equal(dec("487.5")), after.Balance.String())
	assert.True(t, after.ReservedBalance.IsZero())
	assert.NotNil(t, after.LastAuditHash)

	pushes := f.gateway.Pushes()
	require.Len(t, pushes, 1)
	assert.True(t, pushes[0].Amount.Equal(dec("500")), "payouts push the bare amount")
	assert.Equal(t, []domain.TransactionStatus{domain.TransactionStatusCompleted}, f.webhooks.Statuses())
}

func TestPaymentEngine_Topup_CreditsAmountAndChargesFees(t *testing.T) {
	f := newEngineFixture(t, time.Second)
	userID, w := f.fund(t, "KES", "0")

	txn := f.run(t, ports.InitiateRequest{
		UserID: userID, Type: domain.TransactionTypeTopup, Amount: dec("1000"),
		Currency: "KES", Provider: "mpesa", Phone: payerPhone,
	})

	assert.Equal(t, domain.TransactionStatusCompleted, txn.Status)
	assert.True(t, f.wallet(t, w.ID).Balance.Equal(dec("1000")))
	pushes := f.gateway.Pushes()
	require.Len(t, pushes, 1)
	assert.True(t, pushes[0].Amount.Equal(dec("1025")), pushes[0].Amount.String())
}

func TestPaymentEngine_Declined_FailsWithoutMovingMoney(t *testing.T) {
	f := newEngineFixture(t, time.Second)
	userID, w := f.fund(t, "KES", "1000")

	txn := f.run(t, withdraw(userID, "500", declinedPhone))

	assert.Equal(t, domain.TransactionStatusFailed, txn.Status)
	require.NotNil(t, txn.FailureReason)
	assert.Equal(t, "declined by payer", *txn.FailureReason)
	after := f.wallet(t, w.ID)
	assert.True(t, after.Balance.Equal(dec("1000")))
	assert.True(t, after.AvailableBalance.Equal(dec("1000")))
}

func TestPaymentEngine_AuthorizationTimeout_Expires(t *testing.T) {
	f := newEngineFixture(t, 50*time.Millisecond)
	userID, w := f.fund(t, "KES", "1000")
	before := f.wallet(t, w.ID).AvailableBalance

	txn := f.run(t, withdraw(userID, "500", silentPhone))

	assert.Equal(t, domain.TransactionStatusExpired, txn.Status)
	after := f.wallet(t, w.ID)
	assert.True(t, after.AvailableBalance.Equal(before))
	assert.True(t, after.ReservedBalance.IsZero())

	// a confirmation arriving after the window is ignored
	err := f.engine.HandleAuthorizationResult(context.Background(), ports.AuthorizationResult{
		Reference: txn.Reference, Outcome: ports.OutcomeApproved,
	})
	require.NoError(t, err)
	assert.True(t, f.wallet(t, w.ID).Balance.Equal(dec("1000")))
}

func TestPaymentEngine_GatewayError_Fails(t *testing.T) {
	f := newEngineFixture(t, time.Second)
	f.gateway.err = errors.New("connection refused")
	userID, w := f.fund(t, "KES", "1000")

	txn := f.run(t, withdraw(userID, "500", payerPhone))

	assert.Equal(t, domain.TransactionStatusFailed, txn.Status)
	require.NotNil(t, txn.FailureReason)
	assert.Contains(t, *txn.FailureReason, "connection refused")
	assert.True(t, f.wallet(t, w.ID).AvailableBalance.Equal(dec("1000")))
}

func TestPaymentEngine_WalletPayment_ConservesMoney(t *testing.T) {
	f := newEngineFixture(t, time.Second)
	payerID, payer := f.fund(t, "KES", "1000")
	_, payee := f.fund(t, "KES", "0")

	txn := f.run(t, ports.InitiateRequest{
		UserID: payerID, Type: domain.TransactionTypePayment, Amount: dec("400"),
		Currency: "KES", CounterpartWalletID: &payee.ID,
	})

	require.Equal(t, domain.TransactionStatusCompleted, txn.Status)
	assert.Equal(t, "wallet", txn.PaymentMethod)
	assert.Empty(t, f.gateway.Pushes(), "wallet payments skip the provider")

	payerDelta := f.wallet(t, payer.ID).Balance.Sub(dec("1000"))
	payeeDelta := f.wallet(t, payee.ID).Balance
	assert.True(t, payerDelta.Neg().Equal(txn.Amount.Add(txn.Fees.Total)))
	assert.True(t, payeeDelta.Equal(txn.Amount))
	assert.True(t, payerDelta.Add(payeeDelta).Neg().Equal(txn.Fees.Total))
}

func TestPaymentEngine_DuplicateCompletionSettlesOnce(t *testing.T) {
	f := newEngineFixture(t, time.Second)
	userID, w := f.fund(t, "KES", "1000")
	txn := f.run(t, withdraw(userID, "500", payerPhone))
	require.Equal(t, domain.TransactionStatusCompleted, txn.Status)

	for i := 0; i < 3; i++ {
		err := f.engine.HandleAuthorizationResult(context.Background(), ports.AuthorizationResult{
			PushID: "push-" + txn.Reference, Outcome: ports.OutcomeApproved,
		})
		require.NoError(t, err)
	}

	assert.True(t, f.wallet(t, w.ID).Balance.Equal(dec("487.5")))
}

func TestPaymentEngine_HandleAuthorizationResult_Rejects(t *testing.T) {
	f := newEngineFixture(t, time.Second)

	err := f.engine.HandleAuthorizationResult(context.Background(), ports.AuthorizationResult{Reference: "X", Outcome: "MAYBE"})
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	err = f.engine.HandleAuthorizationResult(context.Background(), ports.AuthorizationResult{Outcome: ports.OutcomeApproved})
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	err = f.engine.HandleAuthorizationResult(context.Background(), ports.AuthorizationResult{Reference: "PAY_NOPE", Outcome: ports.OutcomeApproved})
	assert.True(t, apperror.HasCode(err, apperror.CodeNotFound))
}

func TestPaymentEngine_InsufficientFunds(t *testing.T) {
	f := newEngineFixture(t, time.Second)
	userID, _ := f.fund(t, "KES", "100")

	_, err := f.engine.Initiate(context.Background(), withdraw(userID, "100", payerPhone))

	assert.True(t, apperror.HasCode(err, apperror.CodeInsufficientFunds), "amount plus fees exceeds balance")
	txns, total, lerr := f.txRepo.List(context.Background(), domain.TransactionFilter{UserID: &userID, Page: 1, PageSize: 10})
	require.NoError(t, lerr)
	assert.Zero(t, total)
	assert.Empty(t, txns)
}

func TestPaymentEngine_HoldLostToConcurrentSpend_Fails(t *testing.T) {
	f := newEngineFixture(t, time.Second)
	userID, w := f.fund(t, "KES", "1000")

	first, err := f.engine.Initiate(context.Background(), withdraw(userID, "600", payerPhone))
	require.NoError(t, err)
	second, err := f.engine.Initiate(context.Background(), withdraw(userID, "600", payerPhone))
	require.NoError(t, err)

	first, err = f.engine.Process(context.Background(), first.ID)
	require.NoError(t, err)
	second, err = f.engine.Process(context.Background(), second.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.TransactionStatusCompleted, first.Status)
	assert.Equal(t, domain.TransactionStatusFailed, second.Status)
	require.NotNil(t, second.FailureReason)
	assert.Equal(t, apperror.ErrInsufficientFunds().Message, *second.FailureReason)
	assert.True(t, f.wallet(t, w.ID).Balance.Equal(dec("385")))
}

func TestPaymentEngine_ConcurrentPaymentsNeverOverdraw(t *testing.T) {
	f := newEngineFixture(t, time.Second)
	payerID, payer := f.fund(t, "KES", "1000")
	_, payee := f.fund(t, "KES", "0")

	var wg sync.WaitGroup
	var mu sync.Mutex
	completed := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			txn, err := f.engine.Initiate(context.Background(), ports.InitiateRequest{
				UserID: payerID, Type: domain.TransactionTypePayment, Amount: dec("100"),
				Currency: "KES", CounterpartWalletID: &payee.ID,
			})
			if err != nil {
				return
			}
			txn, err = f.engine.Process(context.Background(), txn.ID)
			if err == nil && txn.Status == domain.TransactionStatusCompleted {
				mu.Lock()
				completed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 9, completed, "each payment costs 101.50")
	payerAfter := f.wallet(t, payer.ID)
	payeeAfter := f.wallet(t, payee.ID)
	assert.True(t, payerAfter.Balance.Equal(dec("86.5")), payerAfter.Balance.String())
	assert.True(t, payeeAfter.Balance.Equal(dec("900")))
}

func TestPaymentEngine_Idempotency_ReturnsSameTransaction(t *testing.T) {
	f := newEngineFixture(t, time.Second)
	userID, _ := f.fund(t, "KES", "1000")
	req := withdraw(userID, "100", payerPhone)
	req.IdempotencyKey = "payout-7"

	first, err := f.engine.Initiate(context.Background(), req)
	require.NoError(t, err)
	second, err := f.engine.Initiate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Reference, second.Reference)
}

func TestPaymentEngine_Cancel(t *testing.T) {
	f := newEngineFixture(t, time.Second)
	userID, _ := f.fund(t, "KES", "1000")

	pending, err := f.engine.Initiate(context.Background(), withdraw(userID, "100", payerPhone))
	require.NoError(t, err)

	_, err = f.engine.Cancel(context.Background(), uuid.New(), pending.ID)
	assert.True(t, apperror.HasCode(err, apperror.CodeNotFound), "other users cannot see it")

	cancelled, err := f.engine.Cancel(context.Background(), userID, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCancelled, cancelled.Status)

	_, err = f.engine.Cancel(context.Background(), userID, pending.ID)
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidTransition))

	processed, err := f.engine.Process(context.Background(), pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCancelled, processed.Status, "cancelled transactions are not processed")
	assert.Empty(t, f.gateway.Pushes())
}

func TestPaymentEngine_Refund(t *testing.T) {
	f := newEngineFixture(t, time.Second)
	payerID, payer := f.fund(t, "KES", "1000")
	_, payee := f.fund(t, "KES", "0")

	orig := f.run(t, ports.InitiateRequest{
		UserID: payerID, Type: domain.TransactionTypePayment, Amount: dec("400"),
		Currency: "KES", CounterpartWalletID: &payee.ID,
	})
	require.Equal(t, domain.TransactionStatusCompleted, orig.Status)

	refund, err := f.engine.Refund(context.Background(), ports.RefundRequest{
		UserID: payerID, TransactionID: orig.ID, Reason: "crate returned",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionTypeRefund, refund.Type)
	assert.Equal(t, domain.TransactionStatusCompleted, refund.Status)
	require.NotNil(t, refund.OriginalTransactionID)
	assert.Equal(t, orig.ID, *refund.OriginalTransactionID)

	stored, err := f.engine.Get(context.Background(), payerID, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusRefunded, stored.Status)

	assert.True(t, f.wallet(t, payer.ID).Balance.Equal(dec("994")), "fees are retained")
	assert.True(t, f.wallet(t, payee.ID).Balance.IsZero())

	_, err = f.engine.Refund(context.Background(), ports.RefundRequest{UserID: payerID, TransactionID: orig.ID})
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidRefund))
}

func TestPaymentEngine_ExpireStale(t *testing.T) {
	f := newEngineFixture(t, time.Minute)
	userID, _ := f.fund(t, "KES", "1000")

	pending, err := f.engine.Initiate(context.Background(), withdraw(userID, "100", payerPhone))
	require.NoError(t, err)

	n, err := f.engine.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "still inside the window")

	f.clock.Advance(2 * time.Minute)
	n, err = f.engine.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := f.engine.Get(context.Background(), userID, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusExpired, stored.Status)
}

func TestPaymentEngine_SuspendedWalletRejected(t *testing.T) {
	f := newEngineFixture(t, time.Second)
	userID, w := f.fund(t, "KES", "1000")
	_, err := f.ledger.Suspend(context.Background(), userID, w.ID)
	require.NoError(t, err)

	_, err = f.engine.Initiate(context.Background(), withdraw(userID, "100", payerPhone))

	assert.True(t, apperror.HasCode(err, apperror.CodeWalletSuspended))
}

func TestPaymentEngine_Submit_FinishesInBackground(t *testing.T) {
	f := newEngineFixture(t, time.Second)
	userID, _ := f.fund(t, "KES", "1000")

	txn, err := f.engine.Submit(context.Background(), withdraw(userID, "100", payerPhone))
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPending, txn.Status)

	f.engine.Wait()
	stored, err := f.engine.GetByReference(context.Background(), userID, txn.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCompleted, stored.Status)
}

func TestPaymentEngine_TopupRespectsWalletCeiling(t *testing.T) {
	f := newEngineFixture(t, time.Second)
	userID, _ := f.fund(t, "KES", "6400000")

	topup := func(amount string) ports.InitiateRequest {
		return ports.InitiateRequest{
			UserID: userID, Type: domain.TransactionTypeTopup, Amount: dec(amount),
			Currency: "KES", Provider: "mpesa", Phone: payerPhone,
		}
	}

	_, err := f.engine.Initiate(context.Background(), topup("100000"))
	assert.True(t, apperror.HasCode(err, apperror.CodeLimitExceeded), "got %v", err)

	txn, err := f.engine.Initiate(context.Background(), topup("90000"))
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPending, txn.Status)
}

func TestPaymentEngine_GetByReference(t *testing.T) {
	f := newEngineFixture(t, time.Second)
	userID, _ := f.fund(t, "KES", "1000")

	txn, err := f.engine.Initiate(context.Background(), withdraw(userID, "100", payerPhone))
	require.NoError(t, err)

	got, err := f.engine.GetByReference(context.Background(), userID, txn.Reference)
	require.NoError(t, err)
	assert.Equal(t, txn.ID, got.ID)

	_, err = f.engine.GetByReference(context.Background(), uuid.New(), txn.Reference)
	assert.True(t, apperror.HasCode(err, apperror.CodeNotFound))

	_, err = f.engine.GetByReference(context.Background(), userID, "PAY-UNKNOWN")
	assert.True(t, apperror.HasCode(err, apperror.CodeNotFound))
}

func TestPaymentEngine_Initiate_UpperCaseProvider(t *testing.T) {
	f := newEngineFixture(t, time.Second)
	userID, _ := f.fund(t, "KES", "1000")
	req := withdraw(userID, "100", payerPhone)
	req.Provider = "MPESA"

	txn, err := f.engine.Initiate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "mpesa", txn.PaymentMethod)
	assert.True(t, txn.Fees.ProviderFee.Equal(dec("1")), txn.Fees.ProviderFee.String())
}

// answeringGateway delivers the payer's answer before returning, then holds
// the push open until the authorization window closes.
type answeringGateway struct {
	engine *PaymentEngine
}

func (g *answeringGateway) InitiateAuthorization(ctx context.Context, req ports.AuthorizationRequest) (string, error) {
	err := g.engine.HandleAuthorizationResult(context.Background(), ports.AuthorizationResult{
		Reference: req.Reference,
		Outcome:   ports.OutcomeApproved,
	})
	if err != nil {
		return "", err
	}
	<-ctx.Done()
	return "push-" + req.Reference, nil
}

func TestPaymentEngine_ResultReadyAtDeadlineWins(t *testing.T) {
	f := newEngineFixture(t, 20*time.Millisecond)
	f.engine.gateway = &answeringGateway{engine: f.engine}

	for i := 0; i < 20; i++ {
		userID, w := f.fund(t, "KES", "1000")

		txn := f.run(t, withdraw(userID, "100", payerPhone))

		require.Equal(t, domain.TransactionStatusCompleted, txn.Status, "attempt %d", i)
		after := f.wallet(t, w.ID)
		assert.True(t, after.ReservedBalance.IsZero())
		assert.True(t, after.Balance.LessThan(dec("1000")))
	}
}
