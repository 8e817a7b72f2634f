package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"farm-payments/internal/adapter/http/middleware"
	"farm-payments/internal/core/domain"
	"farm-payments/internal/core/ports"
	"farm-payments/internal/core/ports/mocks"
	"farm-payments/internal/core/registry"
	"farm-payments/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var (
	testUserID = uuid.MustParse("6b1f0f55-2f0c-4c0e-9d53-3c4f4a1b2a01")
	testOrgID  = uuid.MustParse("0d7e8b1c-5a2e-4f6b-8c3d-9e1f2a3b4c5d")
)

// newContext builds an authenticated test context with an optional JSON body.
func newContext(method, path string, body any) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			_ = json.NewEncoder(&buf).Encode(body)
		}
	}
	c.Request = httptest.NewRequest(method, path, &buf)
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set(middleware.CtxUserID, testUserID)
	c.Set(middleware.CtxOrgID, testOrgID)
	return c, w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data, ok := resp["data"].(map[string]any)
	require.True(t, ok, "data envelope: %s", w.Body.String())
	return data
}

func decodeErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	code, _ := resp["error_code"].(string)
	return code
}

func sampleTxn(status domain.TransactionStatus) *domain.PaymentTransaction {
	now := time.Date(2024, 7, 1, 9, 30, 0, 0, time.UTC)
	return &domain.PaymentTransaction{
		ID:            uuid.New(),
		WalletID:      uuid.New(),
		UserID:        testUserID,
		Type:          domain.TransactionTypeTopup,
		Amount:        decimal.RequireFromString("1500.50"),
		Currency:      "KES",
		Status:        status,
		PaymentMethod: "mpesa",
		Counterpart:   "+254712345678",
		Reference:     "TOP_LXQ2A1_8F3K",
		Fees:          domain.NewFees(decimal.RequireFromString("22.51"), decimal.RequireFromString("7.50")),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// --- Transaction Handler Tests ---

func TestTransactionHandler_Initiate(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockTransactionEngine(ctrl)
	h := NewTransactionHandler(engine, mocks.NewMockReportingService(ctrl))

	pending := sampleTxn(domain.TransactionStatusPending)
	engine.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req ports.InitiateRequest) (*domain.PaymentTransaction, error) {
			assert.Equal(t, testUserID, req.UserID)
			assert.Equal(t, domain.TransactionTypeTopup, req.Type)
			assert.True(t, req.Amount.Equal(decimal.RequireFromString("1500.50")))
			assert.Equal(t, "mpesa", req.Provider)
			assert.Equal(t, "+254712345678", req.Phone)
			assert.Equal(t, "client-key-1", req.IdempotencyKey)
			return pending, nil
		})

	c, w := newContext(http.MethodPost, "/api/v1/transactions",
		`{"type":"TOPUP","amount":"1500.50","currency":"KES","provider":"mpesa","phone":"+254712345678"}`)
	c.Request.Header.Set(HeaderIdempotencyKey, "client-key-1")

	h.Initiate(c)

	assert.Equal(t, http.StatusAccepted, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "PENDING", data["status"])
	assert.Equal(t, "TOP_LXQ2A1_8F3K", data["reference"])
	assert.Equal(t, "30.01", data["total_fees"])
}

func TestTransactionHandler_Initiate_Validation(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := NewTransactionHandler(mocks.NewMockTransactionEngine(ctrl), mocks.NewMockReportingService(ctrl))

	tests := []struct {
		name string
		body string
	}{
		{"empty body", `{}`},
		{"zero amount", `{"type":"PAYMENT","amount":"0","currency":"KES"}`},
		{"bad currency", `{"type":"PAYMENT","amount":"10","currency":"shillings"}`},
		{"refund is not initiable", `{"type":"REFUND","amount":"10","currency":"KES"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := newContext(http.MethodPost, "/api/v1/transactions", tt.body)
			h.Initiate(c)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, apperror.CodeValidation, decodeErrorCode(t, w))
		})
	}
}

func TestTransactionHandler_Initiate_ServiceError(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockTransactionEngine(ctrl)
	h := NewTransactionHandler(engine, mocks.NewMockReportingService(ctrl))

	engine.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(nil, apperror.ErrInsufficientFunds())

	c, w := newContext(http.MethodPost, "/", `{"type":"WITHDRAWAL","amount":"50","currency":"KES","provider":"mpesa","phone":"+254712345678"}`)
	h.Initiate(c)

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "PAY_001", decodeErrorCode(t, w))
}

func TestTransactionHandler_RequiresUser(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := NewTransactionHandler(mocks.NewMockTransactionEngine(ctrl), mocks.NewMockReportingService(ctrl))

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	h.List(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTransactionHandler_Get(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockTransactionEngine(ctrl)
	h := NewTransactionHandler(engine, mocks.NewMockReportingService(ctrl))

	txn := sampleTxn(domain.TransactionStatusCompleted)
	completed := txn.CreatedAt.Add(time.Minute)
	txn.CompletedAt = &completed
	engine.EXPECT().Get(gomock.Any(), testUserID, txn.ID).Return(txn, nil)
	missing := uuid.New()
	engine.EXPECT().Get(gomock.Any(), testUserID, missing).Return(nil, apperror.ErrNotFound("transaction"))

	c, w := newContext(http.MethodGet, "/", nil)
	c.Params = gin.Params{{Key: "id", Value: txn.ID.String()}}
	h.Get(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2024-07-01T09:31:00Z", decodeData(t, w)["completed_at"])

	c, w = newContext(http.MethodGet, "/", nil)
	c.Params = gin.Params{{Key: "id", Value: missing.String()}}
	h.Get(c)
	assert.Equal(t, http.StatusNotFound, w.Code)

	c, w = newContext(http.MethodGet, "/", nil)
	c.Params = gin.Params{{Key: "id", Value: "not-a-uuid"}}
	h.Get(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTransactionHandler_CancelAndRefund(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockTransactionEngine(ctrl)
	h := NewTransactionHandler(engine, mocks.NewMockReportingService(ctrl))

	id := uuid.New()
	engine.EXPECT().Cancel(gomock.Any(), testUserID, id).
		Return(nil, apperror.ErrInvalidTransition("transaction", "PROCESSING", "CANCELLED"))

	c, w := newContext(http.MethodPost, "/", nil)
	c.Params = gin.Params{{Key: "id", Value: id.String()}}
	h.Cancel(c)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "PAY_007", decodeErrorCode(t, w))

	refund := sampleTxn(domain.TransactionStatusCompleted)
	refund.Type = domain.TransactionTypeRefund
	refund.OriginalTransactionID = &id
	engine.EXPECT().Refund(gomock.Any(), ports.RefundRequest{
		UserID:        testUserID,
		TransactionID: id,
		Reason:        "damaged produce",
	}).Return(refund, nil)

	c, w = newContext(http.MethodPost, "/", map[string]string{"reason": "  damaged produce "})
	c.Params = gin.Params{{Key: "id", Value: id.String()}}
	h.Refund(c)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, id.String(), decodeData(t, w)["original_transaction_id"])
}

func TestTransactionHandler_List(t *testing.T) {
	ctrl := gomock.NewController(t)
	reporting := mocks.NewMockReportingService(ctrl)
	h := NewTransactionHandler(mocks.NewMockTransactionEngine(ctrl), reporting)

	reporting.EXPECT().ListTransactions(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, f domain.TransactionFilter) ([]domain.PaymentTransaction, int64, error) {
			require.NotNil(t, f.UserID)
			assert.Equal(t, testUserID, *f.UserID)
			require.NotNil(t, f.Status)
			assert.Equal(t, domain.TransactionStatusCompleted, *f.Status)
			require.NotNil(t, f.From)
			assert.Equal(t, 2024, f.From.Year())
			assert.Equal(t, 2, f.Page)
			assert.Equal(t, 10, f.PageSize)
			return []domain.PaymentTransaction{*sampleTxn(domain.TransactionStatusCompleted)}, 11, nil
		})

	c, w := newContext(http.MethodGet, "/api/v1/transactions?status=COMPLETED&from=2024-07-01&page=2&page_size=10", nil)
	h.List(c)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(11), data["total"])
	assert.Equal(t, float64(2), data["total_pages"])
	assert.Len(t, data["items"], 1)

	c, w = newContext(http.MethodGet, "/api/v1/transactions?from=yesterday", nil)
	h.List(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- Callback Handler Tests ---

func TestCallbackHandler_MobileMoney(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockTransactionEngine(ctrl)
	h := NewCallbackHandler(engine, zerolog.Nop())

	engine.EXPECT().HandleAuthorizationResult(gomock.Any(), ports.AuthorizationResult{
		PushID:  "ws_CO_1",
		Outcome: ports.OutcomeDeclined,
		Reason:  "insufficient balance",
	}).Return(nil)

	c, w := newContext(http.MethodPost, "/", `{"push_id":"ws_CO_1","outcome":"DECLINED","reason":"insufficient balance"}`)
	h.MobileMoney(c)
	assert.Equal(t, http.StatusOK, w.Code)

	engine.EXPECT().HandleAuthorizationResult(gomock.Any(), gomock.Any()).Return(apperror.ErrNotFound("transaction"))
	c, w = newContext(http.MethodPost, "/", `{"push_id":"ws_CO_2","outcome":"APPROVED"}`)
	h.MobileMoney(c)
	assert.Equal(t, http.StatusNotFound, w.Code)

	c, w = newContext(http.MethodPost, "/", `{"push_id":"ws_CO_3","outcome":"MAYBE"}`)
	h.MobileMoney(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- Wallet Handler Tests ---

func TestWalletHandler_CreateAndLink(t *testing.T) {
	ctrl := gomock.NewController(t)
	wallets := mocks.NewMockWalletService(ctrl)
	h := NewWalletHandler(wallets)

	wallet := domain.NewWallet(testUserID, "UGX", time.Now())
	wallets.EXPECT().GetOrCreate(gomock.Any(), testUserID, "UGX").Return(wallet, nil)

	c, w := newContext(http.MethodPost, "/", `{"currency":"UGX"}`)
	h.Create(c)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, wallet.ID.String(), decodeData(t, w)["id"])

	wallets.EXPECT().LinkAccount(gomock.Any(), ports.LinkAccountRequest{
		UserID:   testUserID,
		WalletID: wallet.ID,
		Provider: "mtn",
		Number:   "256772123456",
	}).Return(&domain.LinkedAccount{ID: uuid.New(), WalletID: wallet.ID, Provider: "mtn", Number: "********3456"}, nil)

	c, w = newContext(http.MethodPost, "/", `{"provider":"mtn","number":"256772123456"}`)
	c.Params = gin.Params{{Key: "id", Value: wallet.ID.String()}}
	h.LinkAccount(c)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "********3456", decodeData(t, w)["number"])
}

func TestWalletHandler_Suspend(t *testing.T) {
	ctrl := gomock.NewController(t)
	wallets := mocks.NewMockWalletService(ctrl)
	h := NewWalletHandler(wallets)

	wallet := domain.NewWallet(testUserID, "KES", time.Now())
	wallet.Status = domain.WalletStatusSuspended
	wallets.EXPECT().Suspend(gomock.Any(), testUserID, wallet.ID).Return(wallet, nil)

	c, w := newContext(http.MethodPost, "/", nil)
	c.Params = gin.Params{{Key: "id", Value: wallet.ID.String()}}
	h.Suspend(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(domain.WalletStatusSuspended), decodeData(t, w)["status"])
}

// --- Invoice Handler Tests ---

func TestInvoiceHandler_Create(t *testing.T) {
	ctrl := gomock.NewController(t)
	invoices := mocks.NewMockInvoiceService(ctrl)
	h := NewInvoiceHandler(invoices)

	invoices.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req ports.CreateInvoiceRequest) (*domain.Invoice, error) {
			assert.Equal(t, testOrgID, req.OrgID)
			assert.Equal(t, "Green Acres", req.From.Name)
			require.Len(t, req.Items, 1)
			assert.True(t, req.Items[0].Quantity.Equal(decimal.NewFromInt(3)))
			assert.True(t, req.TaxRate.Equal(decimal.RequireFromString("0.16")))
			assert.Nil(t, req.PaymentTermsDays)
			return &domain.Invoice{ID: uuid.New(), OrgID: req.OrgID, InvoiceNumber: "INV-202407-0001", Status: domain.InvoiceStatusDraft}, nil
		})

	c, w := newContext(http.MethodPost, "/", `{
		"from": {"name": " Green Acres "},
		"to": {"name": "Mama Mboga", "phone": "+254712345678"},
		"items": [{"description": "Maize, 90kg", "quantity": "3", "unit": "bag", "unit_price": "3500"}],
		"tax_rate": "0.16",
		"currency": "KES"
	}`)
	h.Create(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "INV-202407-0001", decodeData(t, w)["invoice_number"])
}

func TestInvoiceHandler_DraftOnlyEdits(t *testing.T) {
	ctrl := gomock.NewController(t)
	invoices := mocks.NewMockInvoiceService(ctrl)
	h := NewInvoiceHandler(invoices)

	id := uuid.New()
	invoices.EXPECT().AddItem(gomock.Any(), testOrgID, id, gomock.Any()).Return(nil, apperror.ErrInvoiceNotEditable("SENT"))

	c, w := newContext(http.MethodPost, "/", `{"description":"Beans","quantity":"1","unit_price":"200"}`)
	c.Params = gin.Params{{Key: "id", Value: id.String()}}
	h.AddItem(c)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INV_001", decodeErrorCode(t, w))
}

func TestInvoiceHandler_Collect(t *testing.T) {
	ctrl := gomock.NewController(t)
	invoices := mocks.NewMockInvoiceService(ctrl)
	h := NewInvoiceHandler(invoices)

	id := uuid.New()
	ref := "TOP_LXQ2A1_8F3K"
	paid := &domain.Invoice{ID: id, OrgID: testOrgID, Status: domain.InvoiceStatusPaid, PaymentReference: &ref}
	invoices.EXPECT().Collect(gomock.Any(), ports.CollectRequest{
		OrgID:     testOrgID,
		InvoiceID: id,
		Provider:  "mpesa",
		Phone:     "+254712345678",
	}).Return(paid, sampleTxn(domain.TransactionStatusCompleted), nil)

	c, w := newContext(http.MethodPost, "/", `{"provider":"mpesa","phone":"+254712345678"}`)
	c.Params = gin.Params{{Key: "id", Value: id.String()}}
	h.Collect(c)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "PAID", data["invoice"].(map[string]any)["status"])
	assert.Equal(t, "COMPLETED", data["transaction"].(map[string]any)["status"])
}

func TestInvoiceHandler_ListOverdue(t *testing.T) {
	ctrl := gomock.NewController(t)
	invoices := mocks.NewMockInvoiceService(ctrl)
	h := NewInvoiceHandler(invoices)

	overdue := domain.InvoiceStatusOverdue
	invoices.EXPECT().List(gomock.Any(), domain.InvoiceFilter{
		OrgID: testOrgID, Status: &overdue, Page: 1, PageSize: 20,
	}).Return(nil, int64(0), nil)

	c, w := newContext(http.MethodGet, "/api/v1/invoices?status=OVERDUE", nil)
	h.List(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{}, decodeData(t, w)["items"])
}

// --- Payroll Handler Tests ---

func TestPayrollHandler_OpenPeriod(t *testing.T) {
	ctrl := gomock.NewController(t)
	payroll := mocks.NewMockPayrollService(ctrl)
	h := NewPayrollHandler(payroll)

	payroll.EXPECT().OpenPeriod(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req ports.OpenPeriodRequest) (*domain.PayrollPeriod, error) {
			assert.Equal(t, testOrgID, req.OrgID)
			assert.Equal(t, testUserID, req.FundingUserID, "defaults to the caller")
			assert.Equal(t, time.Date(2024, 7, 31, 0, 0, 0, 0, time.UTC), req.EndDate)
			assert.Nil(t, req.TaxRate)
			return &domain.PayrollPeriod{ID: uuid.New(), Status: domain.PayrollStatusDraft}, nil
		})

	c, w := newContext(http.MethodPost, "/", `{"start_date":"2024-07-01","end_date":"2024-07-31","pay_date":"2024-08-01","currency":"KES"}`)
	h.OpenPeriod(c)
	assert.Equal(t, http.StatusCreated, w.Code)

	c, w = newContext(http.MethodPost, "/", `{"start_date":"July 1","end_date":"2024-07-31","pay_date":"2024-08-01","currency":"KES"}`)
	h.OpenPeriod(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPayrollHandler_PrepareAndRun(t *testing.T) {
	ctrl := gomock.NewController(t)
	payroll := mocks.NewMockPayrollService(ctrl)
	h := NewPayrollHandler(payroll)

	periodID, empID := uuid.New(), uuid.New()
	period := &domain.PayrollPeriod{ID: periodID, OrgID: testOrgID, Status: domain.PayrollStatusDraft}

	payroll.EXPECT().Prepare(gomock.Any(), testOrgID, periodID, gomock.Any()).DoAndReturn(
		func(_ context.Context, _, _ uuid.UUID, entries []ports.PayrollEntry) (*domain.PayrollPeriod, []domain.SalaryPayment, error) {
			require.Len(t, entries, 1)
			assert.Equal(t, empID, entries[0].Employee.ID)
			assert.Equal(t, empID, entries[0].Attendance.EmployeeID)
			assert.True(t, entries[0].Attendance.DaysWorked.Equal(decimal.NewFromInt(22)))
			return period, []domain.SalaryPayment{{ID: uuid.New(), EmployeeID: empID}}, nil
		})

	body := map[string]any{"entries": []map[string]any{{
		"employee_id": empID.String(), "name": "Wanjiku", "phone": "+254712345678", "provider": "mpesa",
		"daily_rate": "800", "overtime_rate": "150", "days_worked": "22", "overtime_hours": "4",
		"bonuses": "0", "deductions": "0",
	}}}
	c, w := newContext(http.MethodPost, "/", body)
	c.Params = gin.Params{{Key: "id", Value: periodID.String()}}
	h.Prepare(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeData(t, w)["payments"], 1)

	processing := *period
	processing.Status = domain.PayrollStatusProcessing
	payroll.EXPECT().Start(gomock.Any(), testOrgID, periodID).Return(&processing, nil)

	c, w = newContext(http.MethodPost, "/", nil)
	c.Params = gin.Params{{Key: "id", Value: periodID.String()}}
	h.Run(c)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "PROCESSING", decodeData(t, w)["status"])
}

// --- Dashboard, Registry and Health ---

func TestDashboardHandler_GetStats(t *testing.T) {
	ctrl := gomock.NewController(t)
	reporting := mocks.NewMockReportingService(ctrl)
	h := NewDashboardHandler(reporting)

	reporting.EXPECT().GetDashboardStats(gomock.Any(), testUserID, "week").Return([]domain.TransactionStats{
		{Currency: "KES", TotalCount: 3, CompletedCount: 2, CompletedVolume: decimal.NewFromInt(2500), FormattedVolume: "KSh 2,500.00"},
	}, nil)

	c, w := newContext(http.MethodGet, "/api/v1/dashboard/stats?period=week", nil)
	h.GetStats(c)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "week", data["period"])
	assert.Len(t, data["currencies"], 1)
}

func TestRegistryHandler(t *testing.T) {
	c, w := newContext(http.MethodGet, "/api/v1/registry", nil)
	Registry(registry.Default())(c)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, registry.ReferenceCurrency, data["reference_currency"])
	assert.NotEmpty(t, data["providers"])
	assert.NotEmpty(t, data["currencies"])
}

func TestHealthCheck(t *testing.T) {
	ctrl := gomock.NewController(t)
	db := mocks.NewMockHealthChecker(ctrl)
	cache := mocks.NewMockHealthChecker(ctrl)
	db.EXPECT().Name().Return("postgres").AnyTimes()
	cache.EXPECT().Name().Return("redis").AnyTimes()

	db.EXPECT().Ping(gomock.Any()).Return(nil).Times(2)
	cache.EXPECT().Ping(gomock.Any()).Return(nil)
	cache.EXPECT().Ping(gomock.Any()).Return(errors.New("connection refused"))

	handler := HealthCheck(db, cache)

	c, w := newContext(http.MethodGet, "/health", nil)
	handler(c)
	assert.Equal(t, http.StatusOK, w.Code)

	c, w = newContext(http.MethodGet, "/health", nil)
	handler(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

// --- Router ---

func TestSetupRouter(t *testing.T) {
	ctrl := gomock.NewController(t)
	tokens := mocks.NewMockTokenService(ctrl)
	wallets := mocks.NewMockWalletService(ctrl)

	r := SetupRouter(RouterDeps{
		Engine:         mocks.NewMockTransactionEngine(ctrl),
		WalletSvc:      wallets,
		InvoiceSvc:     mocks.NewMockInvoiceService(ctrl),
		PayrollSvc:     mocks.NewMockPayrollService(ctrl),
		ReportingSvc:   mocks.NewMockReportingService(ctrl),
		Registry:       registry.Default(),
		SigSvc:         mocks.NewMockSignatureService(ctrl),
		NonceStore:     mocks.NewMockNonceStore(ctrl),
		CallbackSecret: "cb-secret",
		TokenSvc:       tokens,
		Logger:         zerolog.Nop(),
	})

	tokens.EXPECT().Validate("valid").Return(&ports.TokenClaims{UserID: testUserID, OrgID: testOrgID}, nil)
	wallets.EXPECT().List(gomock.Any(), testUserID).Return([]domain.Wallet{}, nil)

	tests := []struct {
		name   string
		method string
		path   string
		auth   string
		want   int
	}{
		{"registry is public", http.MethodGet, "/api/v1/registry", "", http.StatusOK},
		{"openapi spec", http.MethodGet, "/swagger/spec", "", http.StatusOK},
		{"wallets need a token", http.MethodGet, "/api/v1/wallets", "", http.StatusUnauthorized},
		{"wallets with a token", http.MethodGet, "/api/v1/wallets", "Bearer valid", http.StatusOK},
		{"callbacks need a signature", http.MethodPost, "/api/v1/callbacks/mobile-money", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			assert.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID))
		})
	}
}

func TestOpenAPISpec_Revalidation(t *testing.T) {
	r := gin.New()
	r.GET("/swagger/spec", OpenAPISpec)
	r.GET("/swagger", APIDocs)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/spec", nil))
	require.Equal(t, http.StatusOK, w.Code)
	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)
	assert.Contains(t, w.Body.String(), "openapi:")

	req := httptest.NewRequest(http.MethodGet, "/swagger/spec", nil)
	req.Header.Set("If-None-Match", etag)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotModified, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger", nil))
	assert.Contains(t, w.Body.String(), "/swagger/spec")
}
