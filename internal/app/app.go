// Package app wires storage, gateways and services into the HTTP router.
package app

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"farm-payments/config"
	"farm-payments/internal/adapter/gateway"
	"farm-payments/internal/adapter/http/handler"
	"farm-payments/internal/adapter/http/middleware"
	"farm-payments/internal/adapter/storage/memory"
	pgStorage "farm-payments/internal/adapter/storage/postgres"
	redisStorage "farm-payments/internal/adapter/storage/redis"
	"farm-payments/internal/core/money"
	"farm-payments/internal/core/ports"
	"farm-payments/internal/core/registry"
	"farm-payments/internal/service"
	"farm-payments/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const webhookClientTimeout = 10 * time.Second

// App is the running service graph.
type App struct {
	Router *gin.Engine

	engine   *service.PaymentEngine
	payroll  *service.PayrollProcessor
	webhooks *service.WebhookNotifier
	audit    *service.AuditLogger
	sandbox  *gateway.SandboxGateway

	sweepEvery time.Duration
	closers    []func()
	log        zerolog.Logger
}

// repositories is one storage backend's implementation of every port.
type repositories struct {
	wallets    ports.WalletRepository
	txns       ports.TransactionRepository
	invoices   ports.InvoiceRepository
	payroll    ports.PayrollRepository
	sequences  ports.SequenceGenerator
	idempotent ports.IdempotencyRepository
	audit      ports.AuditRepository
	webhooks   ports.WebhookRepository
	transactor ports.DBTransactor
	health     ports.HealthChecker
	close      func()
}

// caches backs idempotency replay, callback nonces and rate limits.
type caches struct {
	idempotency ports.IdempotencyCache
	nonces      ports.NonceStore
	limits      ports.RateLimitStore
	sequences   ports.SequenceGenerator // nil keeps the storage sequence
	health      ports.HealthChecker
	close       func()
}

// New builds the graph described by cfg. Call Shutdown to release it.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	encSvc, err := service.NewAESEncryptionService(cfg.AES.Key)
	if err != nil {
		return nil, fmt.Errorf("encryption service: %w", err)
	}
	// the audit chain is keyed with the same secret material as field encryption
	hashKey, _ := hex.DecodeString(cfg.AES.Key)
	hashSvc, err := service.NewBlake2bHashService(hashKey)
	if err != nil {
		return nil, fmt.Errorf("hash service: %w", err)
	}
	taxRate, err := decimal.NewFromString(cfg.Payments.PayrollTaxRate)
	if err != nil {
		return nil, fmt.Errorf("payments.payroll_tax_rate: %w", err)
	}

	a := &App{
		sweepEvery: cfg.Payments.SweepInterval,
		log:        logger.WithComponent(log, "app"),
	}

	repos, err := openStorage(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, repos.close)

	cache, err := openCaches(ctx, cfg, log)
	if err != nil {
		a.release()
		return nil, err
	}
	a.closers = append(a.closers, cache.close)
	if cache.sequences != nil && cfg.Storage.Driver == "memory" {
		repos.sequences = cache.sequences
	}

	checkers := []ports.HealthChecker{repos.health}
	if cache.health != nil {
		checkers = append(checkers, cache.health)
	}

	reg := registry.Default()
	toolkit := money.NewToolkit(reg, ports.SystemClock{})
	sigSvc := service.NewHMACSignatureService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Issuer)

	a.audit = service.NewAuditService(repos.audit, log)
	a.webhooks = service.NewWebhookService(
		repos.webhooks,
		sigSvc,
		&http.Client{Timeout: webhookClientTimeout},
		cfg.Notifications.WebhookURL,
		cfg.Notifications.Secret,
		log,
	)

	ledger := service.NewLedger(repos.wallets, repos.transactor, encSvc, hashSvc, a.audit, toolkit, log)

	var gw ports.ProviderGateway
	switch cfg.Gateway.Mode {
	case "http":
		gw = gateway.NewHTTPGateway(nil, cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.Timeout)
	default:
		a.sandbox = gateway.NewSandboxGateway(cfg.Gateway.SandboxDelay, log)
		gw = a.sandbox
	}

	a.engine = service.NewPaymentEngine(
		repos.txns,
		repos.wallets,
		repos.idempotent,
		cache.idempotency,
		repos.transactor,
		ledger,
		gw,
		a.webhooks,
		a.audit,
		toolkit,
		cfg.Payments.AuthTimeout,
		log,
	)
	if a.sandbox != nil {
		a.sandbox.Bind(a.engine)
	}

	invoices := service.NewInvoiceManager(
		repos.invoices, repos.txns, repos.sequences, a.engine, a.audit, toolkit, cfg.Payments.PaymentTermsDays, log,
	)
	a.payroll = service.NewPayrollProcessor(
		repos.payroll, repos.txns, a.engine, repos.transactor, a.audit, toolkit,
		cfg.Payments.PayrollConcurrency, taxRate, log,
	)
	reporting := service.NewReportingService(repos.txns, repos.wallets, toolkit)

	a.Router = handler.SetupRouter(handler.RouterDeps{
		Engine:         a.engine,
		WalletSvc:      ledger,
		InvoiceSvc:     invoices,
		PayrollSvc:     a.payroll,
		ReportingSvc:   reporting,
		Registry:       reg,
		SigSvc:         sigSvc,
		NonceStore:     cache.nonces,
		CallbackSecret: cfg.Gateway.CallbackSecret,
		TokenSvc:       tokenSvc,
		RateLimitStore: cache.limits,
		RateLimits:     middleware.DefaultRateLimitRules(cfg.RateLimit.Requests, cfg.RateLimit.Window),
		HealthCheckers: checkers,
		Logger:         log,
	})

	a.log.Info().
		Str("storage", cfg.Storage.Driver).
		Bool("redis", cfg.Redis.Enabled).
		Str("gateway", cfg.Gateway.Mode).
		Msg("service graph ready")
	return a, nil
}

func openStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*repositories, error) {
	if cfg.Storage.Driver == "postgres" {
		pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		return &repositories{
			wallets:    pgStorage.NewWalletRepo(pool),
			txns:       pgStorage.NewTransactionRepo(pool),
			invoices:   pgStorage.NewInvoiceRepo(pool),
			payroll:    pgStorage.NewPayrollRepo(pool),
			sequences:  pgStorage.NewSequenceGenerator(pool),
			idempotent: pgStorage.NewIdempotencyRepo(pool),
			audit:      pgStorage.NewAuditRepo(pool),
			webhooks:   pgStorage.NewWebhookRepo(pool),
			transactor: pgStorage.NewTransactor(pool),
			health:     pgStorage.NewHealthCheck(pool),
			close:      pool.Close,
		}, nil
	}

	store := memory.NewStore()
	log.Warn().Msg("using in-memory storage, data is lost on restart")
	return &repositories{
		wallets:    memory.NewWalletRepo(store),
		txns:       memory.NewTransactionRepo(store),
		invoices:   memory.NewInvoiceRepo(store),
		payroll:    memory.NewPayrollRepo(store),
		sequences:  memory.NewSequenceGenerator(store),
		idempotent: memory.NewIdempotencyRepo(store),
		audit:      memory.NewAuditRepo(store),
		webhooks:   memory.NewWebhookRepo(store),
		transactor: store,
		health:     store,
		close:      func() {},
	}, nil
}

func openCaches(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*caches, error) {
	if !cfg.Redis.Enabled {
		c := memory.NewCache()
		return &caches{idempotency: c, nonces: c, limits: c, close: func() {}}, nil
	}

	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &caches{
		idempotency: redisStorage.NewIdempotencyCache(rdb),
		nonces:      redisStorage.NewNonceStore(rdb),
		limits:      redisStorage.NewRateLimitStore(rdb),
		sequences:   redisStorage.NewSequenceGenerator(rdb),
		health:      redisStorage.NewHealthCheck(rdb),
		close:       func() { _ = rdb.Close() },
	}, nil
}

// RunSweeper expires stale transactions every sweep interval until ctx ends.
func (a *App) RunSweeper(ctx context.Context) {
	if a.sweepEvery <= 0 {
		return
	}
	ticker := time.NewTicker(a.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.engine.ExpireStale(ctx); err != nil {
				a.log.Error().Err(err).Msg("expiry sweep failed")
			}
		}
	}
}

// Shutdown waits for in-flight payments and payroll runs, bounded by ctx,
// then drains webhooks and audit writes and closes storage.
func (a *App) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.engine.Wait()
		a.payroll.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("waiting for in-flight payments: %w", ctx.Err())
	}

	if a.sandbox != nil {
		a.sandbox.Close()
	}
	a.webhooks.Shutdown()
	a.audit.Flush()
	a.release()
	return err
}

func (a *App) release() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
