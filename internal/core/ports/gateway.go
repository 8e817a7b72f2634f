package ports

//go:generate mockgen -source=gateway.go -destination=mocks/gateway.go -package=mocks

import (
	"context"

	"github.com/shopspring/decimal"
)

// AuthorizationRequest asks a provider to push a PIN prompt to a phone.
type AuthorizationRequest struct {
	Provider  string
	Phone     string
	Amount    decimal.Decimal
	Currency  string
	Reference string
}

// AuthorizationOutcome is the provider's verdict on a push.
type AuthorizationOutcome string

const (
	OutcomeApproved AuthorizationOutcome = "APPROVED"
	OutcomeDeclined AuthorizationOutcome = "DECLINED"
	OutcomeFailed   AuthorizationOutcome = "FAILED"
)

func (o AuthorizationOutcome) Valid() bool {
	return o == OutcomeApproved || o == OutcomeDeclined || o == OutcomeFailed
}

// AuthorizationResult is delivered asynchronously once the payer acts on a push.
// Reference may be empty when the provider only echoes the push id.
type AuthorizationResult struct {
	PushID    string               `json:"push_id"`
	Reference string               `json:"reference,omitempty"`
	Outcome   AuthorizationOutcome `json:"outcome"`
	Reason    string               `json:"reason,omitempty"`
}

// ProviderGateway starts mobile-money authorizations. Results arrive through
// TransactionEngine.HandleAuthorizationResult.
type ProviderGateway interface {
	InitiateAuthorization(ctx context.Context, req AuthorizationRequest) (pushID string, err error)
}
