package service

import (
	"context"
	"sync"

	"farm-payments/internal/core/domain"
	"farm-payments/internal/core/ports"

	"github.com/rs/zerolog"
)

// AuditLogger implements ports.AuditService.
type AuditLogger struct {
	repo ports.AuditRepository
	wg   sync.WaitGroup
	log  zerolog.Logger
}

// NewAuditService creates a new audit service.
// If repo is nil, audit logs are only written to the logger.
func NewAuditService(repo ports.AuditRepository, log zerolog.Logger) *AuditLogger {
	return &AuditLogger{repo: repo, log: log}
}

// Log records an audit entry asynchronously (fire-and-forget).
// Entries without an address take the one carried by ctx.
func (s *AuditLogger) Log(ctx context.Context, entry *domain.AuditLog) {
	if entry.IPAddress == "" {
		entry.IPAddress = ports.ClientIP(ctx)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ev := s.log.Info().
			Str("action", string(entry.Action)).
			Str("resource_type", entry.ResourceType).
			Str("resource_id", entry.ResourceID)
		if entry.UserID != nil {
			ev = ev.Str("user_id", entry.UserID.String())
		}
		if entry.IPAddress != "" {
			ev = ev.Str("ip", entry.IPAddress)
		}
		ev.Msg("audit")

		if s.repo != nil {
			if err := s.repo.Create(context.WithoutCancel(ctx), entry); err != nil {
				s.log.Warn().Err(err).Str("action", string(entry.Action)).Msg("failed to persist audit log")
			}
		}
	}()
}

// Flush waits for pending audit writes.
func (s *AuditLogger) Flush() {
	s.wg.Wait()
}
