package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerEntryKind is a single balance movement on one wallet.
type LedgerEntryKind string

const (
	// EntryReserve moves available funds into the reserved bucket.
	EntryReserve LedgerEntryKind = "RESERVE"
	// EntryRelease returns reserved funds to available.
	EntryRelease LedgerEntryKind = "RELEASE"
	// EntryCapture removes reserved funds from the wallet.
	EntryCapture LedgerEntryKind = "CAPTURE"
	EntryCredit  LedgerEntryKind = "CREDIT"
	EntryDebit   LedgerEntryKind = "DEBIT"
)

// LedgerEntry is applied with the other entries of its posting or not at all.
type LedgerEntry struct {
	WalletID uuid.UUID
	Kind     LedgerEntryKind
	Amount   decimal.Decimal
}
