package gateway

import (
	"context"
	"strings"
	"sync"
	"time"

	"farm-payments/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ResultHandler receives authorization results. The transaction engine implements it.
type ResultHandler interface {
	HandleAuthorizationResult(ctx context.Context, res ports.AuthorizationResult) error
}

// SandboxGateway answers its own pushes after a delay:
// numbers ending in 0000 are declined, numbers ending in 9999 never answer,
// everything else is approved.
type SandboxGateway struct {
	delay time.Duration
	log   zerolog.Logger

	mu      sync.RWMutex
	handler ResultHandler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSandboxGateway(delay time.Duration, log zerolog.Logger) *SandboxGateway {
	ctx, cancel := context.WithCancel(context.Background())
	return &SandboxGateway{
		delay:  delay,
		log:    log.With().Str("component", "sandbox_gateway").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Bind sets the receiver of results. Pushes made before Bind are never answered.
func (g *SandboxGateway) Bind(h ResultHandler) {
	g.mu.Lock()
	g.handler = h
	g.mu.Unlock()
}

func (g *SandboxGateway) InitiateAuthorization(_ context.Context, req ports.AuthorizationRequest) (string, error) {
	pushID := "sbx_" + uuid.NewString()
	if strings.HasSuffix(req.Phone, "9999") {
		g.log.Debug().Str("reference", req.Reference).Msg("push left unanswered")
		return pushID, nil
	}

	res := ports.AuthorizationResult{
		PushID:    pushID,
		Reference: req.Reference,
		Outcome:   ports.OutcomeApproved,
	}
	if strings.HasSuffix(req.Phone, "0000") {
		res.Outcome = ports.OutcomeDeclined
		res.Reason = "Payer declined the request"
	}

	g.mu.RLock()
	h := g.handler
	g.mu.RUnlock()
	if h == nil {
		return pushID, nil
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		select {
		case <-time.After(g.delay):
		case <-g.ctx.Done():
			return
		}
		if err := h.HandleAuthorizationResult(g.ctx, res); err != nil {
			g.log.Warn().Err(err).Str("push_id", pushID).Msg("sandbox result rejected")
		}
	}()
	return pushID, nil
}

// Close drops unanswered pushes and waits for in-flight deliveries.
func (g *SandboxGateway) Close() {
	g.cancel()
	g.wg.Wait()
}
