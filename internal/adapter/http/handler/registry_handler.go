package handler

import (
	"farm-payments/internal/core/registry"
	"farm-payments/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type registryView struct {
	Currencies []registry.Currency        `json:"currencies"`
	Providers  []registry.Provider        `json:"providers"`
	Fees       map[string]decimal.Decimal `json:"fees"`
	Limits     registry.Limits            `json:"limits"`
	Reference  string                     `json:"reference_currency"`
}

// Registry handles GET /api/v1/registry. The registry is immutable, so the
// view is built once.
func Registry(reg *registry.Registry) gin.HandlerFunc {
	view := registryView{
		Currencies: reg.Currencies(),
		Providers:  reg.Providers(),
		Fees:       reg.Fees(),
		Limits:     reg.Limits(),
		Reference:  registry.ReferenceCurrency,
	}
	return func(c *gin.Context) {
		response.OK(c, view)
	}
}
