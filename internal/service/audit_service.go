package service

import (
	"context"
	"sync"

	"anchor-payout/internal/core/domain"
	"anchor-payout/internal/core/ports"

	"github.com/rs/zerolog"
)

// AuditServiceImpl writes operator actions to the log and, when a
// repository is configured, to the audit_logs table.
type AuditServiceImpl struct {
	repo ports.AuditRepository
	wg   sync.WaitGroup
	log  zerolog.Logger
}

// NewAuditService creates a new audit service.
// If repo is nil, audit logs are only written to the logger.
func NewAuditService(repo ports.AuditRepository, log zerolog.Logger) *AuditServiceImpl {
	return &AuditServiceImpl{repo: repo, log: log}
}

// Log records an audit entry asynchronously (fire-and-forget).
func (s *AuditServiceImpl) Log(ctx context.Context, entry *domain.AuditLog) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.log.Info().
			Str("actor", entry.Actor).
			Str("action", string(entry.Action)).
			Str("resource_type", entry.ResourceType).
			Str("resource_id", entry.ResourceID).
			Str("ip", entry.IPAddress).
			Msg("audit")

		if s.repo != nil {
			if err := s.repo.Create(context.WithoutCancel(ctx), entry); err != nil {
				s.log.Warn().Err(err).Str("action", string(entry.Action)).Msg("failed to persist audit log")
			}
		}
	}()
}

// Wait blocks until every pending audit write has finished. Short-lived
// callers such as opsctl call it before exiting.
func (s *AuditServiceImpl) Wait() {
	s.wg.Wait()
}
