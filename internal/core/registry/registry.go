// Package registry holds the read-only payment configuration: currencies,
// mobile-money providers, the fee schedule and transaction limits.
// A Registry is built once at startup and shared by every goroutine.
package registry

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// ReferenceCurrency is the currency global limits are expressed in.
const ReferenceCurrency = "USD"

// FeePlatform is the fee kind charged by the platform on every transaction.
// Every provider id is also a fee kind.
const FeePlatform = "platform"

// Currency describes a supported currency.
type Currency struct {
	Code            string          `json:"code"`
	Symbol          string          `json:"symbol"`
	Name            string          `json:"name"`
	Spaced          bool            `json:"-"` // Symbol is followed by a space when formatting
	RateToReference decimal.Decimal `json:"rate_to_reference"`
}

// Provider describes a mobile-money provider.
type Provider struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Country        string          `json:"country"`
	Currencies     []string        `json:"currencies"`
	MinAmount      decimal.Decimal `json:"min_amount"`
	MaxAmount      decimal.Decimal `json:"max_amount"`
	ProcessingTime string          `json:"processing_time"`
	PhonePattern   string          `json:"phone_pattern"`

	phone *regexp.Regexp
}

// Supports reports whether the provider moves money in currency.
func (p Provider) Supports(currency string) bool {
	for _, c := range p.Currencies {
		if c == currency {
			return true
		}
	}
	return false
}

// MatchPhone reports whether phone is a number on this provider's network.
func (p Provider) MatchPhone(phone string) bool {
	if p.phone == nil {
		return false
	}
	return p.phone.MatchString(phone)
}

// Limits are global ceilings expressed in ReferenceCurrency.
type Limits struct {
	MaxTransaction   decimal.Decimal `json:"max_transaction"`
	MaxWalletBalance decimal.Decimal `json:"max_wallet_balance"`
}

// Registry is immutable after New returns.
type Registry struct {
	currencies map[string]Currency
	providers  map[string]Provider
	fees       map[string]decimal.Decimal
	limits     Limits
}

// New validates and indexes the given configuration.
func New(currencies []Currency, providers []Provider, fees map[string]decimal.Decimal, limits Limits) (*Registry, error) {
	r := &Registry{
		currencies: make(map[string]Currency, len(currencies)),
		providers:  make(map[string]Provider, len(providers)),
		fees:       make(map[string]decimal.Decimal, len(fees)),
		limits:     limits,
	}

	for _, c := range currencies {
		if !c.RateToReference.IsPositive() {
			return nil, fmt.Errorf("registry: currency %s has non-positive reference rate", c.Code)
		}
		r.currencies[c.Code] = c
	}
	if _, ok := r.currencies[ReferenceCurrency]; !ok {
		return nil, fmt.Errorf("registry: reference currency %s is not registered", ReferenceCurrency)
	}

	for _, p := range providers {
		re, err := regexp.Compile(p.PhonePattern)
		if err != nil {
			return nil, fmt.Errorf("registry: provider %s phone pattern: %w", p.ID, err)
		}
		for _, c := range p.Currencies {
			if _, ok := r.currencies[c]; !ok {
				return nil, fmt.Errorf("registry: provider %s lists unknown currency %s", p.ID, c)
			}
		}
		if p.MaxAmount.LessThan(p.MinAmount) {
			return nil, fmt.Errorf("registry: provider %s max below min", p.ID)
		}
		p.ID = strings.ToLower(p.ID)
		p.phone = re
		p.Currencies = append([]string(nil), p.Currencies...)
		r.providers[p.ID] = p
	}

	for kind, rate := range fees {
		if rate.IsNegative() {
			return nil, fmt.Errorf("registry: fee %s is negative", kind)
		}
		r.fees[strings.ToLower(kind)] = rate
	}
	return r, nil
}

// Currency looks up a currency by ISO code.
func (r *Registry) Currency(code string) (Currency, bool) {
	c, ok := r.currencies[code]
	return c, ok
}

// Provider looks up a provider by id.
func (r *Registry) Provider(id string) (Provider, bool) {
	p, ok := r.providers[strings.ToLower(id)]
	return p, ok
}

// FeeRate returns the rate for a fee kind. Kinds match case-insensitively,
// like provider ids.
func (r *Registry) FeeRate(kind string) (decimal.Decimal, bool) {
	rate, ok := r.fees[strings.ToLower(kind)]
	return rate, ok
}

func (r *Registry) Limits() Limits {
	return r.limits
}

// ToReference converts amount in currency into ReferenceCurrency.
func (r *Registry) ToReference(amount decimal.Decimal, currency string) (decimal.Decimal, bool) {
	c, ok := r.currencies[currency]
	if !ok {
		return decimal.Zero, false
	}
	return amount.Mul(c.RateToReference), true
}

// FromReference converts an amount in ReferenceCurrency into currency.
func (r *Registry) FromReference(amount decimal.Decimal, currency string) (decimal.Decimal, bool) {
	c, ok := r.currencies[currency]
	if !ok {
		return decimal.Zero, false
	}
	return amount.Div(c.RateToReference), true
}

// Currencies returns all currencies ordered by code.
func (r *Registry) Currencies() []Currency {
	out := make([]Currency, 0, len(r.currencies))
	for _, c := range r.currencies {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Providers returns all providers ordered by id.
func (r *Registry) Providers() []Provider {
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Fees returns a copy of the fee schedule.
func (r *Registry) Fees() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(r.fees))
	for k, v := range r.fees {
		out[k] = v
	}
	return out
}
