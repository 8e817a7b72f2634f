package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"farm-payments/config"
	"farm-payments/internal/service"
	"farm-payments/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAESKey         = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	testJWTSecret      = "test-jwt-secret-key-32bytes!!"
	testIssuer         = "farm-identity"
	testCallbackSecret = "provider-callback-secret"
	callbackPath       = "/api/v1/callbacks/mobile-money"
)

type testApp struct {
	*App
	server *httptest.Server
}

func testConfig() *config.Config {
	return &config.Config{
		Storage:   config.StorageConfig{Driver: "memory"},
		JWT:       config.JWTConfig{Secret: testJWTSecret, Issuer: testIssuer},
		AES:       config.AESConfig{Key: testAESKey},
		RateLimit: config.RateLimitConfig{Requests: 1000, Window: time.Minute},
		Payments: config.PaymentsConfig{
			AuthTimeout:        5 * time.Second,
			PayrollConcurrency: 2,
			PayrollTaxRate:     "0",
			PaymentTermsDays:   30,
		},
		Gateway: config.GatewayConfig{
			Mode:           "sandbox",
			CallbackSecret: testCallbackSecret,
			SandboxDelay:   5 * time.Millisecond,
		},
	}
}

// withRedis points the config at a fresh miniredis.
func withRedis(t *testing.T, cfg *config.Config) {
	t.Helper()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	cfg.Redis = config.RedisConfig{Enabled: true, Host: mr.Host(), Port: port}
}

func newTestApp(t *testing.T, cfg *config.Config) *testApp {
	t.Helper()
	a, err := New(context.Background(), cfg, logger.New("error", false))
	require.NoError(t, err)

	server := httptest.NewServer(a.Router)
	t.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		assert.NoError(t, a.Shutdown(ctx))
	})
	return &testApp{App: a, server: server}
}

func mintToken(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID.String(),
		"iss": testIssuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

type envelope struct {
	Data      json.RawMessage `json:"data"`
	ErrorCode string          `json:"error_code"`
}

func (a *testApp) do(t *testing.T, method, path, token string, body any, headers map[string]string) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, ok := body.([]byte)
		if !ok {
			var err error
			raw, err = json.Marshal(body)
			require.NoError(t, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp.StatusCode, env
}

type txnView struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Amount    string `json:"amount"`
	TotalFees string `json:"total_fees"`
}

func (a *testApp) initiate(t *testing.T, token string, body map[string]any, headers map[string]string) (int, txnView, string) {
	t.Helper()
	status, env := a.do(t, http.MethodPost, "/api/v1/transactions", token, body, headers)
	var txn txnView
	if status == http.StatusAccepted {
		require.NoError(t, json.Unmarshal(env.Data, &txn))
	}
	return status, txn, env.ErrorCode
}

func (a *testApp) transaction(t *testing.T, token, id string) txnView {
	t.Helper()
	status, env := a.do(t, http.MethodGet, "/api/v1/transactions/"+id, token, nil, nil)
	require.Equal(t, http.StatusOK, status)
	var txn txnView
	require.NoError(t, json.Unmarshal(env.Data, &txn))
	return txn
}

type walletView struct {
	Currency         string          `json:"currency"`
	Balance          decimal.Decimal `json:"balance"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	ReservedBalance  decimal.Decimal `json:"reserved_balance"`
}

func (a *testApp) wallet(t *testing.T, token, currency string) walletView {
	t.Helper()
	status, env := a.do(t, http.MethodGet, "/api/v1/wallets", token, nil, nil)
	require.Equal(t, http.StatusOK, status)
	var wallets []walletView
	require.NoError(t, json.Unmarshal(env.Data, &wallets))
	for _, w := range wallets {
		if w.Currency == currency {
			return w
		}
	}
	t.Fatalf("no %s wallet", currency)
	return walletView{}
}

func (a *testApp) topup(t *testing.T, token, amount string) {
	t.Helper()
	status, txn, code := a.initiate(t, token, map[string]any{
		"type": "TOPUP", "amount": amount, "currency": "KES", "provider": "mpesa", "phone": "0712345678",
	}, nil)
	require.Equal(t, http.StatusAccepted, status, code)
	a.engine.Wait()
	require.Equal(t, "COMPLETED", a.transaction(t, token, txn.ID).Status)
}

func TestApp_HealthAndRegistry(t *testing.T) {
	cfg := testConfig()
	withRedis(t, cfg)
	app := newTestApp(t, cfg)

	resp, err := http.Get(app.server.URL + "/health")
	require.NoError(t, err)
	var health struct {
		Status       string                       `json:"status"`
		Dependencies map[string]map[string]string `json:"dependencies"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", health.Status)
	assert.Contains(t, health.Dependencies, "memory")
	assert.Contains(t, health.Dependencies, "redis")

	status, env := app.do(t, http.MethodGet, "/api/v1/registry", "", nil, nil)
	require.Equal(t, http.StatusOK, status)
	var reg struct {
		Currencies []struct {
			Code string `json:"code"`
		} `json:"currencies"`
		ReferenceCurrency string `json:"reference_currency"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &reg))
	assert.NotEmpty(t, reg.Currencies)
	assert.Equal(t, "USD", reg.ReferenceCurrency)

	status, env = app.do(t, http.MethodGet, "/api/v1/wallets", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "AUTH_003", env.ErrorCode)
}

func TestApp_ConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	cfg := testConfig()
	withRedis(t, cfg)
	app := newTestApp(t, cfg)
	token := mintToken(t, uuid.New())

	app.topup(t, token, "10000")

	// each withdrawal holds 1000 plus 25 in fees, so nine fit in 10000
	const attempts = 20
	body := `{"type":"WITHDRAWAL","amount":"1000","currency":"KES","provider":"mpesa","phone":"0722000111"}`
	var wg sync.WaitGroup
	var accepted, rejected atomic.Int64
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodPost, app.server.URL+"/api/v1/transactions", bytes.NewBufferString(body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+token)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return
			}
			defer resp.Body.Close()
			_, _ = io.Copy(io.Discard, resp.Body)

			switch resp.StatusCode {
			case http.StatusAccepted:
				accepted.Add(1)
			case http.StatusPaymentRequired:
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()
	app.engine.Wait()

	assert.Equal(t, int64(attempts), accepted.Load()+rejected.Load())

	status, env := app.do(t, http.MethodGet, "/api/v1/transactions?type=WITHDRAWAL&status=COMPLETED", token, nil, nil)
	require.Equal(t, http.StatusOK, status)
	var page struct {
		Total int64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, int64(9), page.Total)

	w := app.wallet(t, token, "KES")
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(775)), w.Balance.String())
	assert.True(t, w.AvailableBalance.Equal(w.Balance))
	assert.True(t, w.ReservedBalance.IsZero())
}

func TestApp_IdempotentInitiation(t *testing.T) {
	app := newTestApp(t, testConfig())
	token := mintToken(t, uuid.New())
	body := map[string]any{
		"type": "TOPUP", "amount": "500", "currency": "KES", "provider": "mpesa", "phone": "0712345678",
	}
	key := map[string]string{"Idempotency-Key": "order-42"}

	status, first, _ := app.initiate(t, token, body, key)
	require.Equal(t, http.StatusAccepted, status)
	status, second, _ := app.initiate(t, token, body, key)
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Reference, second.Reference)

	// the same key from another user is a different request
	status, other, _ := app.initiate(t, mintToken(t, uuid.New()), body, key)
	require.Equal(t, http.StatusAccepted, status)
	assert.NotEqual(t, first.ID, other.ID)

	app.engine.Wait()
	w := app.wallet(t, token, "KES")
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(500)), w.Balance.String())
}

func signedCallback(t *testing.T, app *testApp, nonce string, body []byte) (int, envelope) {
	t.Helper()
	sigSvc := service.NewHMACSignatureService()
	ts := time.Now().Unix()
	signature := sigSvc.Sign(testCallbackSecret, sigSvc.BuildCanonicalString(http.MethodPost, callbackPath, ts, nonce, string(body)))
	return app.do(t, http.MethodPost, callbackPath, "", body, map[string]string{
		"X-Signature": signature,
		"X-Timestamp": strconv.FormatInt(ts, 10),
		"X-Nonce":     nonce,
		"X-Provider":  "mpesa",
	})
}

func TestApp_SignedCallbackSettlesUnansweredPush(t *testing.T) {
	cfg := testConfig()
	withRedis(t, cfg)
	app := newTestApp(t, cfg)
	token := mintToken(t, uuid.New())

	// the sandbox never answers numbers ending in 9999
	status, txn, _ := app.initiate(t, token, map[string]any{
		"type": "TOPUP", "amount": "2500", "currency": "KES", "provider": "mpesa", "phone": "0712349999",
	}, nil)
	require.Equal(t, http.StatusAccepted, status)
	require.Eventually(t, func() bool {
		return app.transaction(t, token, txn.ID).Status == "PROCESSING"
	}, 2*time.Second, 10*time.Millisecond)

	body := []byte(fmt.Sprintf(`{"reference":%q,"outcome":"APPROVED"}`, txn.Reference))
	status, env := signedCallback(t, app, "nonce-1", body)
	require.Equal(t, http.StatusOK, status, env.ErrorCode)

	app.engine.Wait()
	assert.Equal(t, "COMPLETED", app.transaction(t, token, txn.ID).Status)
	assert.True(t, app.wallet(t, token, "KES").Balance.Equal(decimal.NewFromInt(2500)))

	_, env = signedCallback(t, app, "nonce-1", body)
	assert.Equal(t, "SEC_004", env.ErrorCode)

	status, env = app.do(t, http.MethodPost, callbackPath, "", body, map[string]string{
		"X-Signature": "sha256=00", "X-Timestamp": strconv.FormatInt(time.Now().Unix(), 10),
		"X-Nonce": "nonce-2", "X-Provider": "mpesa",
	})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "SEC_002", env.ErrorCode)

	missing := []byte(`{"reference":"TOP_UNKNOWN","outcome":"APPROVED"}`)
	status, _ = signedCallback(t, app, "nonce-3", missing)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestApp_DeclinedTopupLeavesWalletEmpty(t *testing.T) {
	app := newTestApp(t, testConfig())
	token := mintToken(t, uuid.New())

	status, txn, _ := app.initiate(t, token, map[string]any{
		"type": "TOPUP", "amount": "800", "currency": "KES", "provider": "mpesa", "phone": "0712340000",
	}, nil)
	require.Equal(t, http.StatusAccepted, status)
	app.engine.Wait()

	assert.Equal(t, "FAILED", app.transaction(t, token, txn.ID).Status)
	assert.True(t, app.wallet(t, token, "KES").Balance.IsZero())
}

func TestApp_InvalidConfig(t *testing.T) {
	log := logger.New("error", false)

	cfg := testConfig()
	cfg.AES.Key = "short"
	_, err := New(context.Background(), cfg, log)
	assert.ErrorContains(t, err, "encryption service")

	cfg = testConfig()
	cfg.Payments.PayrollTaxRate = "five percent"
	_, err = New(context.Background(), cfg, log)
	assert.ErrorContains(t, err, "payroll_tax_rate")

	cfg = testConfig()
	cfg.Redis = config.RedisConfig{Enabled: true, Host: "127.0.0.1", Port: 1}
	_, err = New(context.Background(), cfg, log)
	assert.ErrorContains(t, err, "connecting to redis")
}

func TestApp_SweeperStopsWithContext(t *testing.T) {
	cfg := testConfig()
	cfg.Payments.SweepInterval = 5 * time.Millisecond
	app := newTestApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		app.RunSweeper(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
