package handler

import (
	"farm-payments/internal/adapter/http/middleware"
	"farm-payments/internal/core/ports"
	"farm-payments/internal/core/registry"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	Engine         ports.TransactionEngine
	WalletSvc      ports.WalletService
	InvoiceSvc     ports.InvoiceService
	PayrollSvc     ports.PayrollService
	ReportingSvc   ports.ReportingService
	Registry       *registry.Registry
	SigSvc         ports.SignatureService
	NonceStore     ports.NonceStore
	CallbackSecret string
	TokenSvc       ports.TokenService
	RateLimitStore ports.RateLimitStore // nil = rate limiting disabled
	RateLimits     map[string]middleware.RateLimitRule
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	// Global middleware
	r.Use(middleware.RequestContext())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit
	r.Use(middleware.RequireJSON())

	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	swagger := r.Group("/swagger")
	{
		swagger.GET("", APIDocs)
		swagger.GET("/spec", OpenAPISpec)
	}

	rules := deps.RateLimits
	if rules == nil {
		rules = middleware.DefaultRateLimitRules(0, 0)
	}

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		rule, ok := rules[group]
		if deps.RateLimitStore == nil || !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	v1 := r.Group("/api/v1")

	// --- Public ---
	v1.GET("/registry", rl("reads"), Registry(deps.Registry))

	// --- HMAC-signed provider callbacks ---
	callbackHandler := NewCallbackHandler(deps.Engine, deps.Logger)
	callbacks := v1.Group("/callbacks", rl("callbacks"),
		middleware.CallbackAuth(deps.SigSvc, deps.NonceStore, deps.CallbackSecret, deps.Logger))
	{
		callbacks.POST("/mobile-money", callbackHandler.MobileMoney)
	}

	// --- JWT-authenticated ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)

	txHandler := NewTransactionHandler(deps.Engine, deps.ReportingSvc)
	transactions := v1.Group("/transactions", jwtAuth)
	{
		transactions.GET("", rl("reads"), txHandler.List)
		transactions.POST("", rl("transactions"), txHandler.Initiate)
		transactions.GET("/reference/:reference", rl("reads"), txHandler.GetByReference)
		transactions.GET("/:id", rl("reads"), txHandler.Get)
		transactions.POST("/:id/cancel", rl("transactions"), txHandler.Cancel)
		transactions.POST("/:id/refund", rl("refunds"), txHandler.Refund)
	}

	walletHandler := NewWalletHandler(deps.WalletSvc)
	wallets := v1.Group("/wallets", jwtAuth)
	{
		wallets.GET("", rl("reads"), walletHandler.List)
		wallets.POST("", rl("transactions"), walletHandler.Create)
		wallets.GET("/:id", rl("reads"), walletHandler.Get)
		wallets.POST("/:id/suspend", rl("transactions"), walletHandler.Suspend)
		wallets.POST("/:id/activate", rl("transactions"), walletHandler.Activate)
		wallets.POST("/:id/accounts", rl("transactions"), walletHandler.LinkAccount)
		wallets.POST("/:id/accounts/:accountId/verify", rl("transactions"), walletHandler.VerifyAccount)
	}

	invoiceHandler := NewInvoiceHandler(deps.InvoiceSvc)
	invoices := v1.Group("/invoices", jwtAuth)
	{
		invoices.GET("", rl("reads"), invoiceHandler.List)
		invoices.POST("", rl("invoices"), invoiceHandler.Create)
		invoices.GET("/:id", rl("reads"), invoiceHandler.Get)
		invoices.POST("/:id/items", rl("invoices"), invoiceHandler.AddItem)
		invoices.DELETE("/:id/items/:itemId", rl("invoices"), invoiceHandler.RemoveItem)
		invoices.PUT("/:id/tax-rate", rl("invoices"), invoiceHandler.SetTaxRate)
		invoices.POST("/:id/send", rl("invoices"), invoiceHandler.Send)
		invoices.POST("/:id/cancel", rl("invoices"), invoiceHandler.Cancel)
		invoices.POST("/:id/payments", rl("invoices"), invoiceHandler.RecordPayment)
		invoices.POST("/:id/collect", rl("transactions"), invoiceHandler.Collect)
	}

	payrollHandler := NewPayrollHandler(deps.PayrollSvc)
	payroll := v1.Group("/payroll/periods", jwtAuth)
	{
		payroll.GET("", rl("reads"), payrollHandler.ListPeriods)
		payroll.POST("", rl("payroll"), payrollHandler.OpenPeriod)
		payroll.GET("/:id", rl("reads"), payrollHandler.GetPeriod)
		payroll.POST("/:id/entries", rl("payroll"), payrollHandler.Prepare)
		payroll.POST("/:id/run", rl("payroll"), payrollHandler.Run)
		payroll.POST("/:id/reopen", rl("payroll"), payrollHandler.Reopen)
	}

	dashboardHandler := NewDashboardHandler(deps.ReportingSvc)
	dashboard := v1.Group("/dashboard", jwtAuth)
	{
		dashboard.GET("/stats", rl("reads"), dashboardHandler.GetStats)
		dashboard.GET("/balances", rl("reads"), dashboardHandler.GetBalances)
	}

	return r
}
