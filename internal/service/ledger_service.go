package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"farm-payments/internal/core/domain"
	"farm-payments/internal/core/money"
	"farm-payments/internal/core/ports"
	"farm-payments/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// keyedMutex serializes work per wallet id.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[uuid.UUID]*refLock)}
}

// lock acquires every id in ascending order and returns the matching unlock.
func (k *keyedMutex) lock(ids []uuid.UUID) func() {
	sorted := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			sorted = append(sorted, id)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })

	held := make([]*refLock, 0, len(sorted))
	for _, id := range sorted {
		k.mu.Lock()
		l, ok := k.locks[id]
		if !ok {
			l = &refLock{}
			k.locks[id] = l
		}
		l.refs++
		k.mu.Unlock()

		l.mu.Lock()
		held = append(held, l)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			k.mu.Lock()
			held[i].refs--
			if held[i].refs == 0 {
				delete(k.locks, sorted[i])
			}
			k.mu.Unlock()
		}
	}
}

// WithinFunc runs inside a ledger posting's database transaction.
type WithinFunc func(ctx context.Context, tx pgx.Tx) error

// Ledger owns every wallet balance mutation. Postings touching the same
// wallet run one at a time, and each posting commits its balance changes
// together with the caller's own writes.
type Ledger struct {
	walletRepo ports.WalletRepository
	transactor ports.DBTransactor
	encSvc     ports.EncryptionService
	hashSvc    ports.HashService
	audit      ports.AuditService
	money      *money.Toolkit
	locks      *keyedMutex
	log        zerolog.Logger
}

func NewLedger(
	walletRepo ports.WalletRepository,
	transactor ports.DBTransactor,
	encSvc ports.EncryptionService,
	hashSvc ports.HashService,
	audit ports.AuditService,
	toolkit *money.Toolkit,
	log zerolog.Logger,
) *Ledger {
	return &Ledger{
		walletRepo: walletRepo,
		transactor: transactor,
		encSvc:     encSvc,
		hashSvc:    hashSvc,
		audit:      audit,
		money:      toolkit,
		locks:      newKeyedMutex(),
		log:        log,
	}
}

// Post applies entries atomically. within, when non-nil, runs in the same
// database transaction; an error from it aborts the whole posting.
// Returns the wallets as committed.
func (l *Ledger) Post(ctx context.Context, entries []domain.LedgerEntry, within WithinFunc) ([]*domain.Wallet, error) {
	ids := make([]uuid.UUID, 0, len(entries))
	byWallet := make(map[uuid.UUID][]domain.LedgerEntry, len(entries))
	for _, e := range entries {
		if !e.Amount.IsPositive() {
			return nil, apperror.ErrInvalidAmount()
		}
		if _, ok := byWallet[e.WalletID]; !ok {
			ids = append(ids, e.WalletID)
		}
		byWallet[e.WalletID] = append(byWallet[e.WalletID], e)
	}

	unlock := l.locks.lock(ids)
	defer unlock()

	dbTx, err := l.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if within != nil {
		if err := within(ctx, dbTx); err != nil {
			return nil, err
		}
	}

	now := l.money.Now()
	updated := make([]*domain.Wallet, 0, len(ids))
	for _, id := range ids {
		wallet, err := l.walletRepo.GetByIDForUpdate(ctx, dbTx, id)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("lock wallet: %w", err))
		}
		if wallet == nil {
			return nil, apperror.ErrNotFound("wallet")
		}

		for _, e := range byWallet[id] {
			if err := applyEntry(wallet, e); err != nil {
				return nil, err
			}
		}
		if err := wallet.CheckInvariant(); err != nil {
			l.log.Error().Err(err).Str("wallet_id", id.String()).Msg("ledger invariant violated, posting aborted")
			return nil, apperror.ErrInvariantViolation(err)
		}

		wallet.UpdatedAt = now
		prev := ""
		if wallet.LastAuditHash != nil {
			prev = *wallet.LastAuditHash
		}
		hash := l.hashSvc.Chain(prev, wallet)
		wallet.LastAuditHash = &hash

		if err := l.walletRepo.UpdateBalance(ctx, dbTx, wallet); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("update balance: %w", err))
		}
		updated = append(updated, wallet)
	}

	if err := dbTx.Commit(ctx); err != nil {
		if errors.Is(err, ports.ErrStaleState) || errors.Is(err, ports.ErrDuplicateKey) {
			return nil, err
		}
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	for _, w := range updated {
		l.log.Debug().
			Str("wallet_id", w.ID.String()).
			Str("balance", w.Balance.String()).
			Str("available", w.AvailableBalance.String()).
			Str("reserved", w.ReservedBalance.String()).
			Msg("ledger posting committed")
	}
	return updated, nil
}

func applyEntry(w *domain.Wallet, e domain.LedgerEntry) error {
	if !w.IsActive() && e.Kind != domain.EntryRelease {
		return apperror.ErrWalletSuspended()
	}

	switch e.Kind {
	case domain.EntryReserve:
		if w.AvailableBalance.LessThan(e.Amount) {
			return apperror.ErrInsufficientFunds()
		}
		w.AvailableBalance = w.AvailableBalance.Sub(e.Amount)
		w.ReservedBalance = w.ReservedBalance.Add(e.Amount)
	case domain.EntryRelease:
		if w.ReservedBalance.LessThan(e.Amount) {
			return apperror.ErrInvariantViolation(fmt.Errorf("wallet %s: release %s exceeds reserved %s", w.ID, e.Amount, w.ReservedBalance))
		}
		w.ReservedBalance = w.ReservedBalance.Sub(e.Amount)
		w.AvailableBalance = w.AvailableBalance.Add(e.Amount)
	case domain.EntryCapture:
		if w.ReservedBalance.LessThan(e.Amount) {
			return apperror.ErrInvariantViolation(fmt.Errorf("wallet %s: capture %s exceeds reserved %s", w.ID, e.Amount, w.ReservedBalance))
		}
		w.ReservedBalance = w.ReservedBalance.Sub(e.Amount)
		w.Balance = w.Balance.Sub(e.Amount)
	case domain.EntryCredit:
		w.Balance = w.Balance.Add(e.Amount)
		w.AvailableBalance = w.AvailableBalance.Add(e.Amount)
	case domain.EntryDebit:
		if w.Balance.LessThan(e.Amount) {
			return apperror.ErrInvariantViolation(fmt.Errorf("wallet %s: debit %s would make balance %s negative", w.ID, e.Amount, w.Balance))
		}
		if w.AvailableBalance.LessThan(e.Amount) {
			return apperror.ErrInsufficientFunds()
		}
		w.Balance = w.Balance.Sub(e.Amount)
		w.AvailableBalance = w.AvailableBalance.Sub(e.Amount)
	default:
		return apperror.InternalError(fmt.Errorf("unknown ledger entry kind %q", e.Kind))
	}
	return nil
}

// Reserve holds amount of the wallet's available funds.
func (l *Ledger) Reserve(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) (*domain.Wallet, error) {
	return l.postOne(ctx, domain.LedgerEntry{WalletID: walletID, Kind: domain.EntryReserve, Amount: amount})
}

// Release returns a previous hold to available funds.
func (l *Ledger) Release(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) (*domain.Wallet, error) {
	return l.postOne(ctx, domain.LedgerEntry{WalletID: walletID, Kind: domain.EntryRelease, Amount: amount})
}

// Settle credits a positive delta or debits a negative one against available funds.
func (l *Ledger) Settle(ctx context.Context, walletID uuid.UUID, delta decimal.Decimal) (*domain.Wallet, error) {
	e := domain.LedgerEntry{WalletID: walletID, Kind: domain.EntryCredit, Amount: delta}
	if delta.IsNegative() {
		e.Kind = domain.EntryDebit
		e.Amount = delta.Neg()
	}
	return l.postOne(ctx, e)
}

func (l *Ledger) postOne(ctx context.Context, e domain.LedgerEntry) (*domain.Wallet, error) {
	wallets, err := l.Post(ctx, []domain.LedgerEntry{e}, nil)
	if err != nil {
		return nil, err
	}
	return wallets[0], nil
}

// GetOrCreate returns the user's wallet in currency, creating an empty one on first use.
func (l *Ledger) GetOrCreate(ctx context.Context, userID uuid.UUID, currency string) (*domain.Wallet, error) {
	if _, ok := l.money.Registry().Currency(currency); !ok {
		return nil, apperror.ValidationFailed([]string{fmt.Sprintf("unsupported currency %s", currency)})
	}

	wallet, err := l.walletRepo.GetByUser(ctx, userID, currency)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
	}
	if wallet != nil {
		return wallet, nil
	}

	wallet = domain.NewWallet(userID, currency, l.money.Now())
	err = l.walletRepo.Create(ctx, wallet)
	if errors.Is(err, ports.ErrDuplicateKey) {
		// lost the race to a concurrent create
		wallet, err = l.walletRepo.GetByUser(ctx, userID, currency)
		if err == nil && wallet == nil {
			err = fmt.Errorf("wallet vanished after duplicate create")
		}
	}
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create wallet: %w", err))
	}

	l.log.Info().
		Str("wallet_id", wallet.ID.String()).
		Str("user_id", userID.String()).
		Str("currency", currency).
		Msg("wallet created")
	return wallet, nil
}

// owned loads walletID and checks it belongs to userID. Foreign wallets read as missing.
func (l *Ledger) owned(ctx context.Context, userID, walletID uuid.UUID) (*domain.Wallet, error) {
	wallet, err := l.walletRepo.GetByID(ctx, walletID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
	}
	if wallet == nil || wallet.UserID != userID {
		return nil, apperror.ErrNotFound("wallet")
	}
	return wallet, nil
}

func (l *Ledger) Get(ctx context.Context, userID, walletID uuid.UUID) (*domain.Wallet, error) {
	wallet, err := l.owned(ctx, userID, walletID)
	if err != nil {
		return nil, err
	}
	accounts, err := l.walletRepo.ListLinkedAccounts(ctx, walletID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list linked accounts: %w", err))
	}
	wallet.LinkedAccounts = accounts
	return wallet, nil
}

func (l *Ledger) List(ctx context.Context, userID uuid.UUID) ([]domain.Wallet, error) {
	wallets, err := l.walletRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list wallets: %w", err))
	}
	return wallets, nil
}

func (l *Ledger) Suspend(ctx context.Context, userID, walletID uuid.UUID) (*domain.Wallet, error) {
	return l.setStatus(ctx, userID, walletID, domain.WalletStatusSuspended, domain.AuditActionWalletSuspend)
}

func (l *Ledger) Activate(ctx context.Context, userID, walletID uuid.UUID) (*domain.Wallet, error) {
	return l.setStatus(ctx, userID, walletID, domain.WalletStatusActive, domain.AuditActionWalletActivate)
}

func (l *Ledger) setStatus(ctx context.Context, userID, walletID uuid.UUID, status domain.WalletStatus, action domain.AuditAction) (*domain.Wallet, error) {
	unlock := l.locks.lock([]uuid.UUID{walletID})
	defer unlock()

	wallet, err := l.owned(ctx, userID, walletID)
	if err != nil {
		return nil, err
	}
	if wallet.Status == status {
		return wallet, nil
	}
	now := l.money.Now()
	if err := l.walletRepo.UpdateStatus(ctx, walletID, status, now); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update wallet status: %w", err))
	}
	wallet.Status = status
	wallet.UpdatedAt = now

	l.audit.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		UserID:       &userID,
		Action:       action,
		ResourceType: "wallet",
		ResourceID:   walletID.String(),
		CreatedAt:    wallet.UpdatedAt,
	})
	l.log.Info().Str("wallet_id", walletID.String()).Str("status", string(status)).Msg("wallet status changed")
	return wallet, nil
}

// LinkAccount attaches a provider MSISDN to the wallet. The number is stored
// encrypted and only ever returned masked.
func (l *Ledger) LinkAccount(ctx context.Context, req ports.LinkAccountRequest) (*domain.LinkedAccount, error) {
	wallet, err := l.owned(ctx, req.UserID, req.WalletID)
	if err != nil {
		return nil, err
	}

	number := money.NormalizePhone(req.Number)
	provider, ok := l.money.Registry().Provider(req.Provider)
	var problems []string
	switch {
	case !ok:
		problems = append(problems, fmt.Sprintf("unknown provider %s", req.Provider))
	default:
		if !provider.Supports(wallet.Currency) {
			problems = append(problems, fmt.Sprintf("%s does not support %s", provider.Name, wallet.Currency))
		}
		if !provider.MatchPhone(number) {
			problems = append(problems, fmt.Sprintf("%s is not a valid %s number", req.Number, provider.Name))
		}
	}
	if len(problems) > 0 {
		return nil, apperror.ValidationFailed(problems)
	}

	existing, err := l.walletRepo.ListLinkedAccounts(ctx, wallet.ID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list linked accounts: %w", err))
	}
	for _, a := range existing {
		if a.Provider != provider.ID {
			continue
		}
		plain, err := l.encSvc.Decrypt(a.EncryptedNumber)
		if err != nil {
			return nil, apperror.ErrEncryptionFailure(fmt.Errorf("decrypt linked account: %w", err))
		}
		if plain == number {
			return nil, apperror.ErrDuplicateTransaction()
		}
	}

	encrypted, err := l.encSvc.Encrypt(number)
	if err != nil {
		return nil, apperror.ErrEncryptionFailure(fmt.Errorf("encrypt number: %w", err))
	}

	account := &domain.LinkedAccount{
		ID:              uuid.New(),
		WalletID:        wallet.ID,
		Provider:        provider.ID,
		Number:          domain.MaskNumber(number),
		EncryptedNumber: encrypted,
		CreatedAt:       l.money.Now(),
	}
	if err := l.walletRepo.AddLinkedAccount(ctx, account); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("add linked account: %w", err))
	}

	l.audit.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		UserID:       &req.UserID,
		Action:       domain.AuditActionLinkAccount,
		ResourceType: "linked_account",
		ResourceID:   account.ID.String(),
		CreatedAt:    account.CreatedAt,
	})
	return account, nil
}

func (l *Ledger) VerifyLinkedAccount(ctx context.Context, userID, walletID, accountID uuid.UUID) error {
	if _, err := l.owned(ctx, userID, walletID); err != nil {
		return err
	}
	accounts, err := l.walletRepo.ListLinkedAccounts(ctx, walletID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("list linked accounts: %w", err))
	}
	found := false
	for _, a := range accounts {
		if a.ID == accountID {
			found = true
			break
		}
	}
	if !found {
		return apperror.ErrNotFound("linked account")
	}
	if err := l.walletRepo.VerifyLinkedAccount(ctx, walletID, accountID); err != nil {
		return apperror.InternalError(fmt.Errorf("verify linked account: %w", err))
	}
	return nil
}
