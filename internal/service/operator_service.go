package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"anchor-payout/internal/core/domain"
	"anchor-payout/internal/core/ports"
	"anchor-payout/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultListLimit  = 50
	maxListLimit      = 500
	defaultStuckAfter = 15 * time.Minute
)

// OperatorServiceImpl implements ports.OperatorService.
type OperatorServiceImpl struct {
	inbox      ports.InboxRepository
	txRepo     ports.TransactionRepository
	transactor ports.DBTransactor
	audit      ports.AuditService
	log        zerolog.Logger
}

// NewOperatorService creates the operator service. audit may be nil.
func NewOperatorService(
	inbox ports.InboxRepository,
	txRepo ports.TransactionRepository,
	transactor ports.DBTransactor,
	audit ports.AuditService,
	log zerolog.Logger,
) *OperatorServiceImpl {
	return &OperatorServiceImpl{
		inbox:      inbox,
		txRepo:     txRepo,
		transactor: transactor,
		audit:      audit,
		log:        log,
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func (s *OperatorServiceImpl) ListEntries(ctx context.Context, params ports.InboxListParams) ([]domain.InboxEntry, error) {
	if params.Status != nil && !params.Status.Valid() {
		return nil, apperror.Validation(fmt.Sprintf("unknown inbox status %q", *params.Status))
	}
	if params.Offset < 0 {
		params.Offset = 0
	}
	params.Limit = clampLimit(params.Limit)
	params.Reference = strings.TrimSpace(params.Reference)

	entries, err := s.inbox.List(ctx, params)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return entries, nil
}

func (s *OperatorServiceImpl) GetEntry(ctx context.Context, id int64) (*domain.InboxEntry, error) {
	entry, err := s.inbox.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if entry == nil {
		return nil, apperror.ErrNotFound("Inbox entry")
	}
	return entry, nil
}

// ListStuck returns entries that have been processing for longer than
// olderThan. They are never released automatically: the worker that
// claimed them may have submitted a transfer before dying.
func (s *OperatorServiceImpl) ListStuck(ctx context.Context, olderThan time.Duration, limit int) ([]domain.InboxEntry, error) {
	if olderThan <= 0 {
		olderThan = defaultStuckAfter
	}
	entries, err := s.inbox.ListStuck(ctx, time.Now().UTC().Add(-olderThan), clampLimit(limit))
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return entries, nil
}

func (s *OperatorServiceImpl) Stats(ctx context.Context) (*ports.PipelineStats, error) {
	inbox, err := s.inbox.CountByStatus(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	txns, err := s.txRepo.CountByStatus(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return &ports.PipelineStats{Inbox: inbox, Transactions: txns}, nil
}

// RetryEntry moves a failed entry back to pending so the processor picks
// it up again.
func (s *OperatorServiceImpl) RetryEntry(ctx context.Context, actor ports.Actor, id int64) (*domain.InboxEntry, error) {
	entry, err := s.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if !entry.Status.CanTransitionTo(domain.InboxStatusPending) {
		return nil, apperror.ErrInvalidTransition("Inbox entry", string(entry.Status), string(domain.InboxStatusPending))
	}

	reset, err := s.inbox.ResetFailed(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if !reset {
		// Raced with another operator.
		return nil, apperror.ErrInvalidTransition("Inbox entry", string(entry.Status), string(domain.InboxStatusPending))
	}
	entry.Status = domain.InboxStatusPending

	s.log.Info().Int64("entry_id", id).Str("actor", actor.Subject).Msg("inbox entry reset for retry")
	s.record(ctx, actor, domain.AuditActionRetryEntry, "inbox", strconv.FormatInt(id, 10), map[string]any{
		"reference":   entry.TransactionReference,
		"retry_count": entry.RetryCount,
	})
	return entry, nil
}

// RetryFailed resets up to limit failed entries whose transaction can
// still move. Entries for completed or failed transactions stay failed.
func (s *OperatorServiceImpl) RetryFailed(ctx context.Context, actor ports.Actor, limit int) (*ports.RetrySummary, error) {
	ids, err := s.inbox.ResetRetryable(ctx, clampLimit(limit))
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	counts, err := s.inbox.CountByStatus(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}

	summary := &ports.RetrySummary{
		Reset:   len(ids),
		IDs:     ids,
		Skipped: counts[domain.InboxStatusFailed],
	}
	if summary.IDs == nil {
		summary.IDs = []int64{}
	}

	s.log.Info().Int("reset", summary.Reset).Int64("skipped", summary.Skipped).Str("actor", actor.Subject).Msg("bulk retry")
	s.record(ctx, actor, domain.AuditActionRetryFailed, "inbox", "", map[string]any{
		"reset":   summary.Reset,
		"ids":     summary.IDs,
		"skipped": summary.Skipped,
	})
	return summary, nil
}

func (s *OperatorServiceImpl) GetTransaction(ctx context.Context, reference string) (*domain.Transaction, error) {
	txn, err := s.txRepo.GetByReference(ctx, strings.TrimSpace(reference))
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("Transaction")
	}
	return txn, nil
}

// ReopenTransaction moves a failed transaction back to PENDING_ANCHOR so a
// retried APPROVED entry can pay it out.
func (s *OperatorServiceImpl) ReopenTransaction(ctx context.Context, actor ports.Actor, reference string) (*domain.Transaction, error) {
	reference = strings.TrimSpace(reference)

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	txn, err := s.txRepo.GetByReferenceForUpdate(ctx, dbTx, reference)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("Transaction")
	}
	if !txn.Status.CanTransitionTo(domain.TransactionStatusPendingAnchor) {
		return nil, apperror.ErrInvalidTransition("Transaction", string(txn.Status), string(domain.TransactionStatusPendingAnchor))
	}

	moved, err := s.txRepo.UpdateStatus(ctx, dbTx, txn.ID, txn.Status, domain.TransactionStatusPendingAnchor)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if !moved {
		return nil, apperror.ErrInvalidTransition("Transaction", string(txn.Status), string(domain.TransactionStatusPendingAnchor))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}

	previous := txn.Status
	txn.Status = domain.TransactionStatusPendingAnchor

	s.log.Info().Str("reference", reference).Str("actor", actor.Subject).Msg("transaction reopened")
	s.record(ctx, actor, domain.AuditActionReopenTransaction, "transaction", reference, map[string]any{
		"from": previous,
		"to":   txn.Status,
	})
	return txn, nil
}

func (s *OperatorServiceImpl) record(ctx context.Context, actor ports.Actor, action domain.AuditAction, resourceType, resourceID string, details map[string]any) {
	if s.audit == nil {
		return
	}
	raw, _ := json.Marshal(details)
	s.audit.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		Actor:        actor.Subject,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      string(raw),
		IPAddress:    actor.IP,
		CreatedAt:    time.Now().UTC(),
	})
}
