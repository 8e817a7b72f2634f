package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"farm-payments/internal/core/domain"
	"farm-payments/internal/core/money"
	"farm-payments/internal/core/ports"
	"farm-payments/internal/core/registry"
	"farm-payments/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	idempotencyTTL     = 24 * time.Hour
	referenceAttempts  = 3
	staleSweepBatch    = 100
	reasonTimedOut     = "authorization timed out"
	reasonWindowPassed = "authorization window elapsed"
)

var referencePrefixes = map[domain.TransactionType]string{
	domain.TransactionTypePayment:    "PAY",
	domain.TransactionTypeTopup:      "TOP",
	domain.TransactionTypeWithdrawal: "WDR",
	domain.TransactionTypeSalary:     "SAL",
	domain.TransactionTypeRefund:     "REF",
}

// PaymentEngine implements ports.TransactionEngine.
type PaymentEngine struct {
	txRepo      ports.TransactionRepository
	walletRepo  ports.WalletRepository
	idempRepo   ports.IdempotencyRepository
	idempCache  ports.IdempotencyCache
	transactor  ports.DBTransactor
	ledger      *Ledger
	gateway     ports.ProviderGateway
	webhooks    ports.WebhookService
	audit       ports.AuditService
	money       *money.Toolkit
	authTimeout time.Duration
	broker      *authBroker
	inflight    sync.WaitGroup
	log         zerolog.Logger
}

func NewPaymentEngine(
	txRepo ports.TransactionRepository,
	walletRepo ports.WalletRepository,
	idempRepo ports.IdempotencyRepository,
	idempCache ports.IdempotencyCache,
	transactor ports.DBTransactor,
	ledger *Ledger,
	gateway ports.ProviderGateway,
	webhooks ports.WebhookService,
	audit ports.AuditService,
	toolkit *money.Toolkit,
	authTimeout time.Duration,
	log zerolog.Logger,
) *PaymentEngine {
	return &PaymentEngine{
		txRepo:      txRepo,
		walletRepo:  walletRepo,
		idempRepo:   idempRepo,
		idempCache:  idempCache,
		transactor:  transactor,
		ledger:      ledger,
		gateway:     gateway,
		webhooks:    webhooks,
		audit:       audit,
		money:       toolkit,
		authTimeout: authTimeout,
		broker:      newAuthBroker(),
		log:         log,
	}
}

// Initiate validates req and records a PENDING transaction with its fees and reference.
func (e *PaymentEngine) Initiate(ctx context.Context, req ports.InitiateRequest) (*domain.PaymentTransaction, error) {
	var idempKey string
	if req.IdempotencyKey != "" {
		idempKey = domain.BuildIdempotencyKey(req.UserID, req.IdempotencyKey)
		if txn, err := e.replay(ctx, idempKey); err != nil || txn != nil {
			return txn, err
		}
	}

	if prov, ok := e.money.Registry().Provider(req.Provider); ok {
		req.Provider = prov.ID
	}
	counterpart, err := e.validateInitiate(ctx, req)
	if err != nil {
		return nil, err
	}

	wallet, err := e.ledger.GetOrCreate(ctx, req.UserID, req.Currency)
	if err != nil {
		return nil, err
	}
	if !wallet.IsActive() {
		return nil, apperror.ErrWalletSuspended()
	}

	fees, err := e.fees(req.Amount, req.Provider)
	if err != nil {
		return nil, apperror.InternalError(err)
	}

	now := e.money.Now()
	txn := &domain.PaymentTransaction{
		ID:            uuid.New(),
		WalletID:      wallet.ID,
		UserID:        req.UserID,
		Type:          req.Type,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Status:        domain.TransactionStatusPending,
		Description:   req.Description,
		Counterpart:   money.NormalizePhone(req.Phone),
		PaymentMethod: req.Provider,
		Fees:          fees,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if counterpart != nil {
		txn.CounterpartWalletID = &counterpart.ID
		txn.PaymentMethod = "wallet"
	}

	if req.Type.IsDebit() && wallet.AvailableBalance.LessThan(txn.HoldAmount()) {
		return nil, apperror.ErrInsufficientFunds()
	}
	if req.Type == domain.TransactionTypeTopup {
		if res := e.money.ValidateWalletCeiling(wallet.Balance.Add(req.Amount), req.Currency); !res.IsValid {
			return nil, apperror.ErrLimitExceeded(res.Errors[0])
		}
	}

	existing, err := e.create(ctx, txn, idempKey)
	if err != nil || existing != nil {
		return existing, err
	}

	if idempKey != "" {
		if err := e.idempCache.Set(ctx, idempKey, []byte(txn.ID.String()), idempotencyTTL); err != nil {
			e.log.Warn().Err(err).Str("key", idempKey).Msg("failed to cache idempotency in redis")
		}
	}

	e.audit.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		UserID:       &req.UserID,
		Action:       domain.AuditActionInitiate,
		ResourceType: "transaction",
		ResourceID:   txn.ID.String(),
		CreatedAt:    now,
	})
	e.log.Info().
		Str("tx_id", txn.ID.String()).
		Str("reference", txn.Reference).
		Str("type", string(txn.Type)).
		Str("amount", txn.Amount.String()).
		Str("currency", txn.Currency).
		Msg("transaction initiated")

	return txn, nil
}

// replay returns the transaction an idempotency key already produced, if any.
func (e *PaymentEngine) replay(ctx context.Context, key string) (*domain.PaymentTransaction, error) {
	cached, err := e.idempCache.Get(ctx, key)
	if err != nil {
		e.log.Warn().Err(err).Str("key", key).Msg("redis idempotency check failed, falling through to DB")
	}
	if cached != nil {
		if id, perr := uuid.ParseBytes(cached); perr == nil {
			if txn, err := e.txRepo.GetByID(ctx, id); err == nil && txn != nil {
				return txn, nil
			}
		}
	}

	entry, err := e.idempRepo.Get(ctx, key)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("db idempotency check: %w", err))
	}
	if entry == nil || entry.Expired(e.money.Now()) {
		return nil, nil
	}
	txn, err := e.txRepo.GetByID(ctx, entry.TransactionID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load idempotent transaction: %w", err))
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	return txn, nil
}

func (e *PaymentEngine) validateInitiate(ctx context.Context, req ports.InitiateRequest) (*domain.Wallet, error) {
	var problems []string
	if !req.Type.Valid() {
		problems = append(problems, fmt.Sprintf("unsupported transaction type %s", req.Type))
	}

	res := e.money.ValidateAmount(req.Amount, req.Currency, req.Provider)
	problems = append(problems, res.Errors...)

	var counterpart *domain.Wallet
	if req.CounterpartWalletID != nil {
		if req.Type != domain.TransactionTypePayment {
			problems = append(problems, "only payments can target a wallet")
		}
		if req.Provider != "" {
			problems = append(problems, "wallet payments do not use a provider")
		}
		w, err := e.walletRepo.GetByID(ctx, *req.CounterpartWalletID)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("get counterpart wallet: %w", err))
		}
		switch {
		case w == nil:
			problems = append(problems, "counterpart wallet not found")
		case w.Currency != req.Currency:
			problems = append(problems, fmt.Sprintf("counterpart wallet holds %s, not %s", w.Currency, req.Currency))
		case w.UserID == req.UserID:
			problems = append(problems, "cannot pay your own wallet")
		case !w.IsActive():
			problems = append(problems, "counterpart wallet is suspended")
		}
		counterpart = w
	} else {
		if req.Provider == "" {
			problems = append(problems, "provider is required")
		}
		if req.Phone == "" {
			problems = append(problems, "phone is required")
		} else if req.Provider != "" && !e.money.ValidateMoMoNumber(req.Phone, req.Provider) {
			problems = append(problems, fmt.Sprintf("%s is not a valid %s number", req.Phone, req.Provider))
		}
	}

	if len(problems) > 0 {
		return nil, apperror.ValidationFailed(problems)
	}
	return counterpart, nil
}

// fees charges the platform rate always and the provider rate when a provider moves the money.
func (e *PaymentEngine) fees(amount decimal.Decimal, provider string) (domain.Fees, error) {
	platform, err := e.money.CalculateFee(amount, registry.FeePlatform)
	if err != nil {
		return domain.Fees{}, err
	}
	providerFee := decimal.Zero
	if provider != "" {
		if providerFee, err = e.money.CalculateFee(amount, provider); err != nil {
			return domain.Fees{}, err
		}
	}
	return domain.NewFees(platform, providerFee), nil
}

// create persists txn under a fresh reference, regenerating it on collision.
// A non-nil transaction return means a concurrent request with the same
// idempotency key won.
func (e *PaymentEngine) create(ctx context.Context, txn *domain.PaymentTransaction, idempKey string) (*domain.PaymentTransaction, error) {
	for attempt := 1; ; attempt++ {
		txn.Reference = e.money.GeneratePaymentRef(referencePrefixes[txn.Type])
		err := e.insert(ctx, txn, idempKey)
		if err == nil {
			return nil, nil
		}
		if !errors.Is(err, ports.ErrDuplicateKey) {
			return nil, apperror.InternalError(fmt.Errorf("create transaction: %w", err))
		}
		if idempKey != "" {
			if prior, rerr := e.replay(ctx, idempKey); rerr == nil && prior != nil {
				return prior, nil
			}
		}
		if attempt == referenceAttempts {
			return nil, apperror.InternalError(fmt.Errorf("reference collision after %d attempts: %w", attempt, err))
		}
		e.log.Warn().Str("reference", txn.Reference).Int("attempt", attempt).Msg("reference collision, regenerating")
	}
}

func (e *PaymentEngine) insert(ctx context.Context, txn *domain.PaymentTransaction, idempKey string) error {
	dbTx, err := e.transactor.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := e.txRepo.Create(ctx, dbTx, txn); err != nil {
		return err
	}
	if idempKey != "" {
		if err := e.idempRepo.Create(ctx, dbTx, &domain.IdempotencyLog{
			Key:           idempKey,
			TransactionID: txn.ID,
			CreatedAt:     txn.CreatedAt,
			ExpiresAt:     txn.CreatedAt.Add(idempotencyTTL),
		}); err != nil {
			return err
		}
	}
	return dbTx.Commit(ctx)
}

// Process drives a PENDING transaction through authorization and settlement
// and returns it in a terminal state. Transactions already past PENDING are
// returned as stored.
func (e *PaymentEngine) Process(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error) {
	txn, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.Status != domain.TransactionStatusPending {
		return txn, nil
	}

	processing := *txn
	processing.Status = domain.TransactionStatusProcessing
	processing.UpdatedAt = e.money.Now()

	var entries []domain.LedgerEntry
	if hold := txn.HoldAmount(); hold.IsPositive() {
		entries = append(entries, domain.LedgerEntry{WalletID: txn.WalletID, Kind: domain.EntryReserve, Amount: hold})
	}
	_, err = e.ledger.Post(ctx, entries, func(ctx context.Context, tx pgx.Tx) error {
		return e.txRepo.Update(ctx, tx, &processing, domain.TransactionStatusPending)
	})
	switch {
	case err == nil:
	case errors.Is(err, ports.ErrStaleState):
		return e.load(ctx, id)
	case apperror.HasCode(err, apperror.CodeInsufficientFunds), apperror.HasCode(err, apperror.CodeWalletSuspended):
		return e.rejectHold(ctx, txn, err)
	default:
		return nil, err
	}

	if txn.CounterpartWalletID != nil {
		return e.finalize(ctx, &processing, ports.OutcomeApproved, "")
	}
	return e.authorize(ctx, &processing)
}

// rejectHold records a transaction whose funds could not be reserved as FAILED.
func (e *PaymentEngine) rejectHold(ctx context.Context, txn *domain.PaymentTransaction, cause error) (*domain.PaymentTransaction, error) {
	now := e.money.Now()
	processing := *txn
	processing.Status = domain.TransactionStatusProcessing
	processing.UpdatedAt = now
	failed := processing
	failed.Fail(domain.TransactionStatusFailed, failureReason(cause), now)

	_, err := e.ledger.Post(ctx, nil, func(ctx context.Context, tx pgx.Tx) error {
		if err := e.txRepo.Update(ctx, tx, &processing, domain.TransactionStatusPending); err != nil {
			return err
		}
		return e.txRepo.Update(ctx, tx, &failed, domain.TransactionStatusProcessing)
	})
	if errors.Is(err, ports.ErrStaleState) {
		return e.load(ctx, txn.ID)
	}
	if err != nil {
		return nil, err
	}
	e.terminal(ctx, &failed)
	return &failed, nil
}

func (e *PaymentEngine) authorize(ctx context.Context, txn *domain.PaymentTransaction) (*domain.PaymentTransaction, error) {
	results, done := e.broker.register(txn.Reference)
	defer done()

	actx, cancel := context.WithTimeout(ctx, e.authTimeout)
	defer cancel()

	// topup payers are charged the fees on top; payouts send the bare amount
	charge := txn.Amount
	if txn.Type == domain.TransactionTypeTopup {
		charge = charge.Add(txn.Fees.Total)
	}
	pushID, err := e.gateway.InitiateAuthorization(actx, ports.AuthorizationRequest{
		Provider:  txn.PaymentMethod,
		Phone:     txn.Counterpart,
		Amount:    charge,
		Currency:  txn.Currency,
		Reference: txn.Reference,
	})
	if err != nil {
		if actx.Err() != nil && ctx.Err() == nil {
			return e.finalize(ctx, txn, outcomeExpired, reasonTimedOut)
		}
		e.log.Warn().Err(err).Str("reference", txn.Reference).Msg("provider rejected authorization request")
		return e.finalize(context.WithoutCancel(ctx), txn, ports.OutcomeFailed, "provider error: "+err.Error())
	}

	pushed := *txn
	pushed.PushID = &pushID
	pushed.UpdatedAt = e.money.Now()
	if err := e.txRepo.Update(ctx, nil, &pushed, domain.TransactionStatusProcessing); err != nil {
		if errors.Is(err, ports.ErrStaleState) {
			return e.load(ctx, txn.ID)
		}
		return nil, apperror.InternalError(fmt.Errorf("record push id: %w", err))
	}
	e.broker.bindPush(pushID, txn.Reference)
	e.log.Debug().Str("reference", txn.Reference).Str("push_id", pushID).Msg("authorization pushed")

	select {
	case res := <-results:
		return e.finalize(ctx, &pushed, res.Outcome, res.Reason)
	case <-actx.Done():
		// a result that arrived with the deadline still wins
		select {
		case res := <-results:
			return e.finalize(context.WithoutCancel(ctx), &pushed, res.Outcome, res.Reason)
		default:
		}
		if ctx.Err() != nil {
			// caller gave up; the sweeper or a late result finishes it
			return nil, ctx.Err()
		}
		return e.finalize(ctx, &pushed, outcomeExpired, reasonTimedOut)
	}
}

// outcomeExpired is the engine-internal outcome for an elapsed authorization window.
const outcomeExpired ports.AuthorizationOutcome = "EXPIRED"

// finalize settles or fails a PROCESSING transaction. The ledger movement and
// the terminal status write commit together.
func (e *PaymentEngine) finalize(ctx context.Context, txn *domain.PaymentTransaction, outcome ports.AuthorizationOutcome, reason string) (*domain.PaymentTransaction, error) {
	now := e.money.Now()
	final := *txn
	hold := txn.HoldAmount()

	var entries []domain.LedgerEntry
	switch outcome {
	case ports.OutcomeApproved:
		final.Complete(now)
		if hold.IsPositive() {
			entries = append(entries, domain.LedgerEntry{WalletID: txn.WalletID, Kind: domain.EntryCapture, Amount: hold})
		}
		if txn.Type == domain.TransactionTypeTopup {
			entries = append(entries, domain.LedgerEntry{WalletID: txn.WalletID, Kind: domain.EntryCredit, Amount: txn.Amount})
		}
		if txn.CounterpartWalletID != nil {
			entries = append(entries, domain.LedgerEntry{WalletID: *txn.CounterpartWalletID, Kind: domain.EntryCredit, Amount: txn.Amount})
		}
	case outcomeExpired:
		final.Fail(domain.TransactionStatusExpired, reason, now)
	default:
		if reason == "" {
			reason = "authorization " + string(outcome)
		}
		final.Fail(domain.TransactionStatusFailed, reason, now)
	}
	if outcome != ports.OutcomeApproved && hold.IsPositive() {
		entries = append(entries, domain.LedgerEntry{WalletID: txn.WalletID, Kind: domain.EntryRelease, Amount: hold})
	}

	_, err := e.ledger.Post(ctx, entries, func(ctx context.Context, tx pgx.Tx) error {
		return e.txRepo.Update(ctx, tx, &final, domain.TransactionStatusProcessing)
	})
	switch {
	case err == nil:
	case errors.Is(err, ports.ErrStaleState):
		// another path already finished it
		return e.load(ctx, txn.ID)
	case outcome == ports.OutcomeApproved &&
		(apperror.HasCode(err, apperror.CodeWalletSuspended) || apperror.HasCode(err, apperror.CodeInsufficientFunds)):
		e.log.Warn().Err(err).Str("reference", txn.Reference).Msg("settlement rejected, failing transaction")
		return e.finalize(ctx, txn, ports.OutcomeFailed, failureReason(err))
	default:
		e.log.Error().Err(err).Str("reference", txn.Reference).Msg("settlement failed")
		return nil, err
	}

	e.terminal(ctx, &final)
	return &final, nil
}

// terminal fans out side effects of a transaction reaching a terminal state.
func (e *PaymentEngine) terminal(ctx context.Context, txn *domain.PaymentTransaction) {
	ev := e.log.Info()
	if txn.FailureReason != nil {
		ev = ev.Str("reason", *txn.FailureReason)
	}
	ev.Str("tx_id", txn.ID.String()).
		Str("reference", txn.Reference).
		Str("status", string(txn.Status)).
		Msg("transaction finished")

	if err := e.webhooks.EnqueueWebhook(context.WithoutCancel(ctx), txn); err != nil {
		e.log.Warn().Err(err).Str("tx_id", txn.ID.String()).Msg("failed to enqueue notification")
	}
}

func failureReason(err error) string {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

// Submit initiates the transaction and authorizes it in the background.
func (e *PaymentEngine) Submit(ctx context.Context, req ports.InitiateRequest) (*domain.PaymentTransaction, error) {
	txn, err := e.Initiate(ctx, req)
	if err != nil {
		return nil, err
	}
	if txn.Status != domain.TransactionStatusPending {
		return txn, nil
	}

	e.inflight.Add(1)
	go func(id uuid.UUID) {
		defer e.inflight.Done()
		if _, err := e.Process(context.WithoutCancel(ctx), id); err != nil {
			e.log.Error().Err(err).Str("tx_id", id.String()).Msg("background processing failed")
		}
	}(txn.ID)
	return txn, nil
}

// Wait blocks until every transaction started by Submit has finished processing.
func (e *PaymentEngine) Wait() {
	e.inflight.Wait()
}

// HandleAuthorizationResult routes a provider result to its waiting
// processor, or settles directly when nobody waits any more. Results for
// terminal transactions are dropped.
func (e *PaymentEngine) HandleAuthorizationResult(ctx context.Context, res ports.AuthorizationResult) error {
	if !res.Outcome.Valid() {
		return apperror.ValidationFailed([]string{fmt.Sprintf("unknown outcome %q", res.Outcome)})
	}
	if res.Reference == "" && res.PushID == "" {
		return apperror.ValidationFailed([]string{"reference or push_id is required"})
	}

	if ref := e.broker.resolve(res); ref != "" && e.broker.deliver(ref, res) {
		return nil
	}

	var (
		txn *domain.PaymentTransaction
		err error
	)
	if res.Reference != "" {
		txn, err = e.txRepo.GetByReference(ctx, res.Reference)
	} else {
		txn, err = e.txRepo.GetByPushID(ctx, res.PushID)
	}
	if err != nil {
		return apperror.InternalError(fmt.Errorf("find transaction: %w", err))
	}
	if txn == nil {
		return apperror.ErrNotFound("transaction")
	}

	e.audit.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		UserID:       &txn.UserID,
		Action:       domain.AuditActionCallback,
		ResourceType: "transaction",
		ResourceID:   txn.ID.String(),
		Details:      string(res.Outcome),
		CreatedAt:    e.money.Now(),
	})

	// the waiter may have registered between resolve and the lookup
	if e.broker.deliver(txn.Reference, res) {
		return nil
	}
	if txn.Status != domain.TransactionStatusProcessing {
		e.log.Info().
			Str("reference", txn.Reference).
			Str("status", string(txn.Status)).
			Str("outcome", string(res.Outcome)).
			Msg("dropping result for transaction not awaiting authorization")
		return nil
	}
	_, err = e.finalize(ctx, txn, res.Outcome, res.Reason)
	return err
}

// Cancel stops a transaction that has not started authorization.
func (e *PaymentEngine) Cancel(ctx context.Context, userID, id uuid.UUID) (*domain.PaymentTransaction, error) {
	txn, err := e.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(txn.Status, domain.TransactionStatusCancelled) {
		return nil, apperror.ErrInvalidTransition("transaction", string(txn.Status), string(domain.TransactionStatusCancelled))
	}

	cancelled := *txn
	cancelled.Status = domain.TransactionStatusCancelled
	cancelled.UpdatedAt = e.money.Now()
	if err := e.txRepo.Update(ctx, nil, &cancelled, domain.TransactionStatusPending); err != nil {
		if errors.Is(err, ports.ErrStaleState) {
			current, lerr := e.load(ctx, id)
			if lerr != nil {
				return nil, lerr
			}
			return nil, apperror.ErrInvalidTransition("transaction", string(current.Status), string(domain.TransactionStatusCancelled))
		}
		return nil, apperror.InternalError(fmt.Errorf("cancel transaction: %w", err))
	}

	e.audit.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		UserID:       &userID,
		Action:       domain.AuditActionCancel,
		ResourceType: "transaction",
		ResourceID:   id.String(),
		CreatedAt:    cancelled.UpdatedAt,
	})
	e.terminal(ctx, &cancelled)
	return &cancelled, nil
}

// Refund compensates a completed payment with a new REFUND transaction.
// The original moves to REFUNDED in the same commit, so it refunds once.
// Fees are not returned.
func (e *PaymentEngine) Refund(ctx context.Context, req ports.RefundRequest) (*domain.PaymentTransaction, error) {
	orig, err := e.Get(ctx, req.UserID, req.TransactionID)
	if err != nil {
		return nil, err
	}
	if !orig.IsRefundable() {
		return nil, apperror.ErrInvalidRefund()
	}

	now := e.money.Now()
	refund := &domain.PaymentTransaction{
		ID:                    uuid.New(),
		WalletID:              orig.WalletID,
		UserID:                orig.UserID,
		Type:                  domain.TransactionTypeRefund,
		Amount:                orig.Amount,
		Currency:              orig.Currency,
		Status:                domain.TransactionStatusCompleted,
		Description:           req.Reason,
		Counterpart:           orig.Counterpart,
		CounterpartWalletID:   orig.CounterpartWalletID,
		PaymentMethod:         orig.PaymentMethod,
		Fees:                  domain.NewFees(decimal.Zero, decimal.Zero),
		OriginalTransactionID: &orig.ID,
		CreatedAt:             now,
		UpdatedAt:             now,
		CompletedAt:           &now,
	}
	refunded := *orig
	refunded.Status = domain.TransactionStatusRefunded
	refunded.UpdatedAt = now

	entries := []domain.LedgerEntry{{WalletID: orig.WalletID, Kind: domain.EntryCredit, Amount: orig.Amount}}
	if orig.CounterpartWalletID != nil {
		entries = append(entries, domain.LedgerEntry{WalletID: *orig.CounterpartWalletID, Kind: domain.EntryDebit, Amount: orig.Amount})
	}

	for attempt := 1; ; attempt++ {
		refund.Reference = e.money.GeneratePaymentRef(referencePrefixes[domain.TransactionTypeRefund])
		_, err = e.ledger.Post(ctx, entries, func(ctx context.Context, tx pgx.Tx) error {
			if err := e.txRepo.Create(ctx, tx, refund); err != nil {
				return err
			}
			return e.txRepo.Update(ctx, tx, &refunded, domain.TransactionStatusCompleted)
		})
		if errors.Is(err, ports.ErrDuplicateKey) && attempt < referenceAttempts {
			continue
		}
		break
	}
	switch {
	case err == nil:
	case errors.Is(err, ports.ErrStaleState):
		return nil, apperror.ErrInvalidRefund()
	case errors.Is(err, ports.ErrDuplicateKey):
		return nil, apperror.InternalError(fmt.Errorf("create refund: %w", err))
	default:
		return nil, err
	}

	e.audit.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		UserID:       &req.UserID,
		Action:       domain.AuditActionRefund,
		ResourceType: "transaction",
		ResourceID:   orig.ID.String(),
		Details:      refund.Reference,
		CreatedAt:    now,
	})
	e.terminal(ctx, refund)
	return refund, nil
}

func (e *PaymentEngine) load(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error) {
	txn, err := e.txRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get transaction: %w", err))
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	return txn, nil
}

// Get returns the user's transaction. Other users' transactions read as missing.
func (e *PaymentEngine) Get(ctx context.Context, userID, id uuid.UUID) (*domain.PaymentTransaction, error) {
	txn, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.UserID != userID {
		return nil, apperror.ErrNotFound("transaction")
	}
	return txn, nil
}

func (e *PaymentEngine) GetByReference(ctx context.Context, userID uuid.UUID, reference string) (*domain.PaymentTransaction, error) {
	txn, err := e.txRepo.GetByReference(ctx, reference)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get transaction: %w", err))
	}
	if txn == nil || txn.UserID != userID {
		return nil, apperror.ErrNotFound("transaction")
	}
	return txn, nil
}

// ExpireStale expires PENDING and PROCESSING transactions older than the
// authorization window that no live processor is waiting on, releasing holds.
func (e *PaymentEngine) ExpireStale(ctx context.Context) (int, error) {
	cutoff := e.money.Now().Add(-e.authTimeout)
	stale, err := e.txRepo.ListStale(ctx, cutoff, staleSweepBatch)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("list stale transactions: %w", err))
	}

	expired := 0
	for i := range stale {
		txn := &stale[i]
		if e.broker.waiting(txn.Reference) {
			continue
		}

		switch txn.Status {
		case domain.TransactionStatusPending:
			final := *txn
			final.Fail(domain.TransactionStatusExpired, reasonWindowPassed, e.money.Now())
			err = e.txRepo.Update(ctx, nil, &final, domain.TransactionStatusPending)
			if err == nil {
				e.terminal(ctx, &final)
			}
		case domain.TransactionStatusProcessing:
			var final *domain.PaymentTransaction
			final, err = e.finalize(ctx, txn, outcomeExpired, reasonWindowPassed)
			if err == nil && final.Status != domain.TransactionStatusExpired {
				continue
			}
		}

		switch {
		case err == nil:
			expired++
		case errors.Is(err, ports.ErrStaleState):
		default:
			e.log.Error().Err(err).Str("tx_id", txn.ID.String()).Msg("failed to expire transaction")
		}
	}

	if expired > 0 {
		e.log.Info().Int("count", expired).Msg("expired stale transactions")
	}
	return expired, nil
}
