package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"farm-payments/internal/core/ports"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu      sync.Mutex
	results []ports.AuthorizationResult
}

func (h *recordingHandler) HandleAuthorizationResult(_ context.Context, res ports.AuthorizationResult) error {
	h.mu.Lock()
	h.results = append(h.results, res)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) snapshot() []ports.AuthorizationResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ports.AuthorizationResult(nil), h.results...)
}

func TestSandboxGateway_Outcomes(t *testing.T) {
	tests := []struct {
		phone   string
		want    ports.AuthorizationOutcome
		answers bool
	}{
		{"0722334455", ports.OutcomeApproved, true},
		{"0722330000", ports.OutcomeDeclined, true},
		{"0722339999", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.phone, func(t *testing.T) {
			h := &recordingHandler{}
			gw := NewSandboxGateway(time.Millisecond, zerolog.Nop())
			gw.Bind(h)

			req := testRequest()
			req.Phone = tt.phone
			pushID, err := gw.InitiateAuthorization(context.Background(), req)
			require.NoError(t, err)
			assert.NotEmpty(t, pushID)

			if tt.answers {
				assert.Eventually(t, func() bool { return len(h.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
				res := h.snapshot()[0]
				assert.Equal(t, tt.want, res.Outcome)
				assert.Equal(t, pushID, res.PushID)
				assert.Equal(t, req.Reference, res.Reference)
			}
			gw.Close()
			if !tt.answers {
				assert.Empty(t, h.snapshot())
			}
		})
	}
}

func TestSandboxGateway_CloseDropsPending(t *testing.T) {
	h := &recordingHandler{}
	gw := NewSandboxGateway(time.Hour, zerolog.Nop())
	gw.Bind(h)

	_, err := gw.InitiateAuthorization(context.Background(), testRequest())
	require.NoError(t, err)
	gw.Close()

	assert.Empty(t, h.snapshot())
}
