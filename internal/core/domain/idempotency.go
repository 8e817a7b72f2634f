package domain

import (
	"time"

	"github.com/google/uuid"
)

// IdempotencyLog maps a client idempotency key to the transaction it created.
// Once expired the key may be claimed by a new transaction.
type IdempotencyLog struct {
	Key           string    `json:"key"` // user_id:client_key
	TransactionID uuid.UUID `json:"transaction_id"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func (l *IdempotencyLog) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

func BuildIdempotencyKey(userID uuid.UUID, clientKey string) string {
	return userID.String() + ":" + clientKey
}

// BuildRefundIdempotencyKey guards against a second refund of the same transaction.
func BuildRefundIdempotencyKey(userID uuid.UUID, originalReference string) string {
	return userID.String() + ":refund:" + originalReference
}
