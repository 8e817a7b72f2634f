// Package money implements currency formatting, fee arithmetic and amount
// validation against the provider registry. Nothing here holds state beyond
// the registry and clock it is built with.
package money

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"farm-payments/internal/core/ports"
	"farm-payments/internal/core/registry"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Toolkit bundles the registry-aware money helpers.
type Toolkit struct {
	reg     *registry.Registry
	clock   ports.Clock
	printer *message.Printer
}

func NewToolkit(reg *registry.Registry, clock ports.Clock) *Toolkit {
	return &Toolkit{
		reg:     reg,
		clock:   clock,
		printer: message.NewPrinter(language.English),
	}
}

func (t *Toolkit) Registry() *registry.Registry {
	return t.reg
}

// ValidationResult lists every failed check; IsValid is true only when Errors is empty.
type ValidationResult struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors"`
}

func newResult(errs []string) ValidationResult {
	return ValidationResult{IsValid: len(errs) == 0, Errors: errs}
}

// FormatCurrency renders amount with two decimals, thousands grouping and the
// currency symbol. Unknown codes fall back to the raw code.
func (t *Toolkit) FormatCurrency(amount decimal.Decimal, code string) string {
	rounded := amount.Round(2)
	whole, frac, _ := strings.Cut(rounded.Abs().StringFixed(2), ".")
	grouped := whole
	if len(whole) <= 18 {
		grouped = t.printer.Sprintf("%d", rounded.Abs().IntPart())
	}

	sign := ""
	if rounded.IsNegative() {
		sign = "-"
	}

	c, ok := t.reg.Currency(code)
	if !ok {
		return fmt.Sprintf("%s%s %s.%s", sign, code, grouped, frac)
	}
	if c.Spaced {
		return fmt.Sprintf("%s%s %s.%s", sign, c.Symbol, grouped, frac)
	}
	return fmt.Sprintf("%s%s%s.%s", sign, c.Symbol, grouped, frac)
}

// CalculateFee returns round(amount * rate[kind], 2).
func (t *Toolkit) CalculateFee(amount decimal.Decimal, kind string) (decimal.Decimal, error) {
	rate, ok := t.reg.FeeRate(kind)
	if !ok {
		return decimal.Zero, fmt.Errorf("unknown fee kind %q", kind)
	}
	return amount.Mul(rate).Round(2), nil
}

// ValidateAmount runs every applicable check and reports all failures.
// providerID may be empty.
func (t *Toolkit) ValidateAmount(amount decimal.Decimal, currency, providerID string) ValidationResult {
	var errs []string

	if !amount.IsPositive() {
		errs = append(errs, "amount must be greater than 0")
	}

	limits := t.reg.Limits()
	if ref, ok := t.reg.ToReference(amount, currency); !ok {
		errs = append(errs, fmt.Sprintf("unsupported currency %s", currency))
	} else if ref.GreaterThan(limits.MaxTransaction) {
		errs = append(errs, fmt.Sprintf("amount exceeds the maximum transaction limit of %s",
			t.limitText(limits.MaxTransaction, currency)))
	}

	if providerID != "" {
		p, ok := t.reg.Provider(providerID)
		switch {
		case !ok:
			errs = append(errs, fmt.Sprintf("unknown provider %s", providerID))
		default:
			if !p.Supports(currency) {
				errs = append(errs, fmt.Sprintf("%s does not support %s", p.Name, currency))
			}
			if amount.LessThan(p.MinAmount) {
				errs = append(errs, fmt.Sprintf("amount is below the %s minimum of %s",
					p.Name, t.FormatCurrency(p.MinAmount, currency)))
			}
			if amount.GreaterThan(p.MaxAmount) {
				errs = append(errs, fmt.Sprintf("amount exceeds the %s maximum of %s",
					p.Name, t.FormatCurrency(p.MaxAmount, currency)))
			}
		}
	}

	return newResult(errs)
}

// ValidateWalletCeiling checks that projected stays within the wallet balance limit.
func (t *Toolkit) ValidateWalletCeiling(projected decimal.Decimal, currency string) ValidationResult {
	ref, ok := t.reg.ToReference(projected, currency)
	if !ok {
		return newResult([]string{fmt.Sprintf("unsupported currency %s", currency)})
	}
	limit := t.reg.Limits().MaxWalletBalance
	if ref.GreaterThan(limit) {
		return newResult([]string{fmt.Sprintf("wallet balance would exceed the limit of %s",
			t.limitText(limit, currency))})
	}
	return newResult(nil)
}

// limitText formats a reference-currency limit, followed by its value in
// currency when the two differ.
func (t *Toolkit) limitText(limit decimal.Decimal, currency string) string {
	text := t.FormatCurrency(limit, registry.ReferenceCurrency)
	if currency == registry.ReferenceCurrency {
		return text
	}
	local, ok := t.reg.FromReference(limit, currency)
	if !ok {
		return text
	}
	return fmt.Sprintf("%s (%s)", text, t.FormatCurrency(local, currency))
}

// NormalizePhone strips spaces, dashes and parentheses.
func NormalizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')':
			return -1
		}
		return r
	}, phone)
}

// ValidateMoMoNumber matches phone against the provider's number pattern.
// Unknown providers never match.
func (t *Toolkit) ValidateMoMoNumber(phone, providerID string) bool {
	p, ok := t.reg.Provider(providerID)
	if !ok {
		return false
	}
	return p.MatchPhone(NormalizePhone(phone))
}

// GeneratePaymentRef returns {KIND}_{base36 millis}_{random}, uppercased.
// Uniqueness is advisory; storage enforces it.
func (t *Toolkit) GeneratePaymentRef(kind string) string {
	ts := strconv.FormatInt(t.clock.Now().UnixMilli(), 36)
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return strings.ToUpper(fmt.Sprintf("%s_%s_%s", kind, ts, random))
}

// InvoiceSequenceScope is the per-month counter scope an invoice issued at issue draws from.
func InvoiceSequenceScope(issue time.Time) string {
	return fmt.Sprintf("invoice:%04d%02d", issue.Year(), int(issue.Month()))
}

// FormatInvoiceNumber renders INV-YYYYMM-NNNN from the issue month and sequence.
func FormatInvoiceNumber(issue time.Time, seq int64) string {
	return fmt.Sprintf("INV-%04d%02d-%04d", issue.Year(), int(issue.Month()), seq)
}

// CalculateDueDate returns issue + termDays calendar days.
func CalculateDueDate(issue time.Time, termDays int) time.Time {
	return issue.AddDate(0, 0, termDays)
}

// IsOverdue reports whether now is past dueDate.
func (t *Toolkit) IsOverdue(dueDate time.Time) bool {
	return t.clock.Now().After(dueDate)
}

func (t *Toolkit) Now() time.Time {
	return t.clock.Now()
}
