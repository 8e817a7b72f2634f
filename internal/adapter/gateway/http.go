package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"farm-payments/internal/core/ports"
)

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type authorizationBody struct {
	Provider  string `json:"provider"`
	Phone     string `json:"phone"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Reference string `json:"reference"`
}

type authorizationReply struct {
	PushID string `json:"push_id"`
	Error  string `json:"error,omitempty"`
}

// HTTPGateway pushes authorizations to a mobile-money aggregator over JSON.
// Results come back through the callback endpoint.
type HTTPGateway struct {
	client  Doer
	baseURL string
	apiKey  string
}

// NewHTTPGateway returns a gateway with its own client when client is nil.
func NewHTTPGateway(client Doer, baseURL, apiKey string, timeout time.Duration) *HTTPGateway {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPGateway{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

func (g *HTTPGateway) InitiateAuthorization(ctx context.Context, req ports.AuthorizationRequest) (string, error) {
	body, err := json.Marshal(authorizationBody{
		Provider:  req.Provider,
		Phone:     req.Phone,
		Amount:    req.Amount.StringFixed(2),
		Currency:  req.Currency,
		Reference: req.Reference,
	})
	if err != nil {
		return "", fmt.Errorf("encode authorization: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/authorizations", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build authorization request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	httpReq.Header.Set("Idempotency-Key", req.Reference)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("provider %s unreachable: %w", req.Provider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("read provider reply: %w", err)
	}

	var reply authorizationReply
	_ = json.Unmarshal(raw, &reply)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := reply.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", fmt.Errorf("provider %s rejected push (%d): %s", req.Provider, resp.StatusCode, msg)
	}
	if reply.PushID == "" {
		return "", fmt.Errorf("provider %s returned no push id", req.Provider)
	}
	return reply.PushID, nil
}
