package service

import (
	"encoding/hex"
	"fmt"

	"farm-payments/internal/core/domain"

	"golang.org/x/crypto/blake2b"
)

// Blake2bHashService chains wallet snapshots with keyed BLAKE2b-256.
// Each link covers the previous link, so rewriting one balance row
// breaks every later hash for that wallet.
type Blake2bHashService struct {
	key []byte
}

// NewBlake2bHashService keys the chain; key may be empty and must be at most 64 bytes.
func NewBlake2bHashService(key []byte) (*Blake2bHashService, error) {
	if len(key) > blake2b.Size {
		return nil, fmt.Errorf("blake2b key too long: %d bytes (max %d)", len(key), blake2b.Size)
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Blake2bHashService{key: k}, nil
}

func (s *Blake2bHashService) Chain(prev string, w *domain.Wallet) string {
	h, err := blake2b.New256(s.key)
	if err != nil {
		// key length is checked in the constructor
		panic(err)
	}
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s|%s|%d",
		prev,
		w.ID,
		w.Currency,
		w.Balance.StringFixed(2),
		w.AvailableBalance.StringFixed(2),
		w.ReservedBalance.StringFixed(2),
		w.Status,
		w.UpdatedAt.UnixNano(),
	)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyChain recomputes the chain over snapshots in order and reports
// whether it ends at want.
func (s *Blake2bHashService) VerifyChain(snapshots []domain.Wallet, want string) bool {
	prev := ""
	for i := range snapshots {
		prev = s.Chain(prev, &snapshots[i])
	}
	return prev == want
}
