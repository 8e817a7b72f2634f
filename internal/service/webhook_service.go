package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"farm-payments/internal/core/domain"
	"farm-payments/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// webhookRetryIntervals are the waits between delivery attempts.
var webhookRetryIntervals = []time.Duration{
	15 * time.Second,
	60 * time.Second,
	2 * time.Minute,
	5 * time.Minute,
	10 * time.Minute,
}

// Headers carried by outbound notifications.
const (
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
	HeaderNonce     = "X-Nonce"
)

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebhookNotifier posts terminal transaction events to one configured
// endpoint, signed with the shared notification secret.
type WebhookNotifier struct {
	repo       ports.WebhookRepository
	sigSvc     ports.SignatureService
	httpClient HTTPClient
	url        string
	secret     string
	retries    []time.Duration
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    zerolog.Logger
}

// NewWebhookService returns a notifier. An empty targetURL disables delivery.
func NewWebhookService(
	repo ports.WebhookRepository,
	sigSvc ports.SignatureService,
	httpClient HTTPClient,
	targetURL, secret string,
	log zerolog.Logger,
) *WebhookNotifier {
	ctx, cancel := context.WithCancel(context.Background())
	return &WebhookNotifier{
		repo:       repo,
		sigSvc:     sigSvc,
		httpClient: httpClient,
		url:        targetURL,
		secret:     secret,
		retries:    webhookRetryIntervals,
		now:        func() time.Time { return time.Now().UTC() },
		ctx:        ctx,
		cancel:     cancel,
		log:        log,
	}
}

func eventName(txn *domain.PaymentTransaction) string {
	return "transaction." + strings.ToLower(string(txn.Status))
}

// EnqueueWebhook records a delivery and sends it in the background.
func (s *WebhookNotifier) EnqueueWebhook(ctx context.Context, txn *domain.PaymentTransaction) error {
	if s.url == "" {
		s.log.Debug().Str("tx_id", txn.ID.String()).Msg("webhook: no webhook URL configured, skipping")
		return nil
	}

	now := s.now()
	body, err := json.Marshal(domain.TransactionEvent{
		Event:         eventName(txn),
		TransactionID: txn.ID,
		Reference:     txn.Reference,
		Type:          txn.Type,
		Status:        txn.Status,
		Amount:        txn.Amount.StringFixed(2),
		Currency:      txn.Currency,
		FailureReason: txn.FailureReason,
		Timestamp:     now.Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	delivery := &domain.WebhookDeliveryLog{
		ID:            uuid.New(),
		TransactionID: txn.ID,
		UserID:        txn.UserID,
		WebhookURL:    s.url,
		Payload:       string(body),
		Status:        domain.WebhookStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Create(ctx, delivery); err != nil {
		return fmt.Errorf("record webhook delivery: %w", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.deliverWithRetries(delivery, body)
	}()
	return nil
}

// deliverWithRetries posts body until a 2xx or the retry schedule runs out.
func (s *WebhookNotifier) deliverWithRetries(delivery *domain.WebhookDeliveryLog, body []byte) {
	txID := delivery.TransactionID.String()

	for attempt := 0; attempt <= len(s.retries); attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.retries[attempt-1]):
			case <-s.ctx.Done():
				s.log.Warn().Str("tx_id", txID).Msg("webhook: shutting down, delivery abandoned")
				return
			}
		}

		delivery.Attempt = attempt + 1
		status, err := s.post(delivery.ID.String(), body)
		delivery.UpdatedAt = s.now()
		delivery.HTTPStatus = nil
		if status != 0 {
			delivery.HTTPStatus = &status
		}

		if err == nil {
			delivery.Status = domain.WebhookStatusDelivered
			delivery.LastError = nil
			delivery.NextRetryAt = nil
			s.save(delivery)
			s.log.Info().Str("tx_id", txID).Int("attempt", delivery.Attempt).Int("status", status).Msg("webhook: delivered successfully")
			return
		}

		msg := err.Error()
		delivery.LastError = &msg
		if attempt < len(s.retries) {
			next := delivery.UpdatedAt.Add(s.retries[attempt])
			delivery.NextRetryAt = &next
		} else {
			delivery.Status = domain.WebhookStatusFailed
			delivery.NextRetryAt = nil
		}
		s.save(delivery)
		s.log.Warn().Err(err).Str("tx_id", txID).Int("attempt", delivery.Attempt).Msg("webhook: delivery failed")
	}

	s.log.Error().Str("tx_id", txID).Msg("webhook: all retry attempts exhausted")
}

func (s *WebhookNotifier) post(nonce string, body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	path := "/"
	if u, perr := url.Parse(s.url); perr == nil && u.Path != "" {
		path = u.Path
	}
	ts := s.now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderNonce, nonce)
	req.Header.Set(HeaderSignature, s.sigSvc.Sign(s.secret, s.sigSvc.BuildCanonicalString(http.MethodPost, path, ts, nonce, string(body))))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("non-2xx response: %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (s *WebhookNotifier) save(delivery *domain.WebhookDeliveryLog) {
	if err := s.repo.Update(context.Background(), delivery); err != nil {
		s.log.Warn().Err(err).Str("tx_id", delivery.TransactionID.String()).Msg("webhook: failed to update delivery log")
	}
}

// Shutdown stops pending retries and waits for in-flight deliveries.
func (s *WebhookNotifier) Shutdown() {
	s.cancel()
	s.wg.Wait()
}

// Wait blocks until every enqueued delivery has finished without cancelling retries.
func (s *WebhookNotifier) Wait() {
	s.wg.Wait()
}
