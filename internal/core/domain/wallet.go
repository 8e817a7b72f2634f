package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WalletStatus represents whether a wallet may move money.
type WalletStatus string

const (
	WalletStatusActive    WalletStatus = "ACTIVE"
	WalletStatusSuspended WalletStatus = "SUSPENDED"
)

// Wallet is a per-user, per-currency balance record.
// Balance always equals AvailableBalance + ReservedBalance.
type Wallet struct {
	ID               uuid.UUID       `json:"id"`
	UserID           uuid.UUID       `json:"user_id"`
	Currency         string          `json:"currency"`
	Balance          decimal.Decimal `json:"balance"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	ReservedBalance  decimal.Decimal `json:"reserved_balance"`
	Status           WalletStatus    `json:"status"`
	LinkedAccounts   []LinkedAccount `json:"linked_accounts,omitempty"`
	LastAuditHash    *string         `json:"-"` // Integrity chain over balance mutations
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// NewWallet returns an empty active wallet.
func NewWallet(userID uuid.UUID, currency string, now time.Time) *Wallet {
	return &Wallet{
		ID:               uuid.New(),
		UserID:           userID,
		Currency:         currency,
		Balance:          decimal.Zero,
		AvailableBalance: decimal.Zero,
		ReservedBalance:  decimal.Zero,
		Status:           WalletStatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (w *Wallet) IsActive() bool {
	return w.Status == WalletStatusActive
}

// CheckInvariant verifies the balance equation and non-negative available funds.
func (w *Wallet) CheckInvariant() error {
	if !w.Balance.Equal(w.AvailableBalance.Add(w.ReservedBalance)) {
		return fmt.Errorf("wallet %s: balance %s != available %s + reserved %s",
			w.ID, w.Balance, w.AvailableBalance, w.ReservedBalance)
	}
	if w.AvailableBalance.IsNegative() {
		return fmt.Errorf("wallet %s: available balance %s is negative", w.ID, w.AvailableBalance)
	}
	if w.ReservedBalance.IsNegative() {
		return fmt.Errorf("wallet %s: reserved balance %s is negative", w.ID, w.ReservedBalance)
	}
	return nil
}

// LinkedAccount is an external mobile-money account attached to a wallet.
type LinkedAccount struct {
	ID              uuid.UUID `json:"id"`
	WalletID        uuid.UUID `json:"wallet_id"`
	Provider        string    `json:"provider"`
	Number          string    `json:"number"` // Masked on read
	EncryptedNumber string    `json:"-"`      // AES-256-GCM at rest
	Verified        bool      `json:"verified"`
	CreatedAt       time.Time `json:"created_at"`
}

// MaskNumber hides all but the last four digits of an MSISDN.
func MaskNumber(number string) string {
	if len(number) <= 4 {
		return number
	}
	masked := make([]byte, len(number))
	for i := range number {
		if i < len(number)-4 {
			masked[i] = '*'
		} else {
			masked[i] = number[i]
		}
	}
	return string(masked)
}
