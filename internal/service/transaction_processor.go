package service

import (
	"context"
	"fmt"
	"time"

	"anchor-payout/internal/core/domain"
	"anchor-payout/internal/core/ports"
	"anchor-payout/internal/metrics"
	"anchor-payout/pkg/apperror"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// ProcessSummary counts what one processor cycle did.
type ProcessSummary struct {
	Listed    int
	Claimed   int
	Completed int
	Failed    int
	Skipped   int
}

// TransactionProcessor drives transactions forward from inbox entries.
// Each entry is claimed before it is touched, and a payout holds the
// transaction row lock from the status check until the outcome commits,
// so concurrent processors never pay the same transaction twice.
type TransactionProcessor struct {
	inbox      ports.InboxRepository
	txRepo     ports.TransactionRepository
	transactor ports.DBTransactor
	chain      ports.ChainClient
	mints      domain.MintTable
	notifier   ports.StatusNotifier
	batchSize  int
	metrics    *metrics.Metrics
	log        zerolog.Logger
}

// NewTransactionProcessor creates a TransactionProcessor.
func NewTransactionProcessor(
	inbox ports.InboxRepository,
	txRepo ports.TransactionRepository,
	transactor ports.DBTransactor,
	chain ports.ChainClient,
	mints domain.MintTable,
	notifier ports.StatusNotifier,
	batchSize int,
	m *metrics.Metrics,
	log zerolog.Logger,
) *TransactionProcessor {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &TransactionProcessor{
		inbox:      inbox,
		txRepo:     txRepo,
		transactor: transactor,
		chain:      chain,
		mints:      mints,
		notifier:   notifier,
		batchSize:  batchSize,
		metrics:    m,
		log:        log,
	}
}

// RunCycle processes one batch of pending entries, oldest first. Errors
// returned from RunCycle mean the store can no longer be trusted and the
// process should exit.
func (p *TransactionProcessor) RunCycle(ctx context.Context) (*ProcessSummary, error) {
	summary := &ProcessSummary{}

	entries, err := p.inbox.ListPending(ctx, p.batchSize)
	if err != nil {
		return summary, apperror.ErrDatabaseError(fmt.Errorf("list pending entries: %w", err))
	}
	summary.Listed = len(entries)

	for i := range entries {
		if ctx.Err() != nil {
			break
		}
		entry := &entries[i]

		claimed, err := p.inbox.Claim(ctx, entry.ID)
		if err != nil {
			return summary, apperror.ErrDatabaseError(fmt.Errorf("claim entry %d: %w", entry.ID, err))
		}
		if !claimed {
			p.metrics.ProcessorEntries.WithLabelValues(metrics.OutcomeSkipped, "").Inc()
			summary.Skipped++
			continue
		}
		summary.Claimed++

		// A claimed entry runs to completion even during shutdown.
		failed, err := p.processEntry(context.WithoutCancel(ctx), entry)
		if err != nil {
			return summary, err
		}
		if failed {
			summary.Failed++
		} else {
			summary.Completed++
		}
	}
	return summary, nil
}

// processEntry handles one claimed entry. It reports whether the entry
// ended up failed; a non-nil error is fatal.
func (p *TransactionProcessor) processEntry(ctx context.Context, entry *domain.InboxEntry) (bool, error) {
	log := p.log.With().
		Int64("entry_id", entry.ID).
		Str("message_id", entry.MessageID).
		Str("reference", entry.TransactionReference).
		Logger()

	dbTx, err := p.transactor.Begin(ctx)
	if err != nil {
		return false, apperror.ErrDatabaseError(fmt.Errorf("begin: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	msg, err := domain.ParseInboundMessage(entry.MessageBody)
	if err != nil {
		return true, p.fail(ctx, dbTx, entry, apperror.ErrMalformedMessage("stored body cannot be decoded", err), log)
	}
	log = log.With().Str("lifecycle_status", string(msg.Payload.Status)).Logger()

	txn, err := p.txRepo.GetByReferenceForUpdate(ctx, dbTx, msg.Payload.Reference)
	if err != nil {
		return false, apperror.ErrDatabaseError(fmt.Errorf("load transaction: %w", err))
	}
	if txn == nil {
		return true, p.fail(ctx, dbTx, entry, apperror.ErrReferenceNotFound(msg.Payload.Reference), log)
	}
	log = log.With().Str("transaction_id", txn.ID.String()).Str("status", string(txn.Status)).Logger()

	switch msg.Payload.Status {
	case domain.LifecycleFundsReceived:
		return false, p.markFunded(ctx, dbTx, entry, txn, log)
	case domain.LifecycleApproved:
		if !txn.AwaitingPayout() {
			log.Info().Str("type", string(txn.TransactionType)).Msg("transaction not awaiting payout; nothing to do")
			return false, p.complete(ctx, dbTx, entry, log)
		}
		return p.payout(ctx, dbTx, entry, txn, log)
	default:
		log.Info().Msg("no action for lifecycle status")
		return false, p.complete(ctx, dbTx, entry, log)
	}
}

func (p *TransactionProcessor) markFunded(ctx context.Context, dbTx pgx.Tx, entry *domain.InboxEntry, txn *domain.Transaction, log zerolog.Logger) error {
	if txn.Status == domain.TransactionStatusPendingFunding {
		moved, err := p.txRepo.UpdateStatus(ctx, dbTx, txn.ID,
			domain.TransactionStatusPendingFunding, domain.TransactionStatusPendingAnchor)
		if err != nil {
			return apperror.ErrDatabaseError(fmt.Errorf("mark funded: %w", err))
		}
		if moved {
			log.Info().Msg("funds received; transaction pending anchor")
		}
	} else {
		log.Info().Msg("funds already recorded; nothing to do")
	}
	return p.complete(ctx, dbTx, entry, log)
}

// payout transfers value - fee to the transaction's wallet. The row lock
// taken by GetByReferenceForUpdate is held until the outcome commits.
func (p *TransactionProcessor) payout(ctx context.Context, dbTx pgx.Tx, entry *domain.InboxEntry, txn *domain.Transaction, log zerolog.Logger) (bool, error) {
	net, err := txn.ValidatePayout()
	if err != nil {
		return true, p.rejectPayout(ctx, dbTx, entry, txn, apperror.ErrInvalidPayout(err.Error()), log)
	}

	mint, ok := p.mints.Resolve(txn.OutgoingCurrency)
	if !ok {
		// A missing mint is a configuration gap; once the table is fixed the
		// entry can be retried without reopening the transaction.
		return true, p.fail(ctx, dbTx, entry, apperror.ErrUnsupportedCurrency(txn.OutgoingCurrency), log)
	}
	if _, err := mint.BaseUnits(net); err != nil {
		return true, p.rejectPayout(ctx, dbTx, entry, txn, apperror.ErrInvalidPayout(err.Error()), log)
	}

	log.Info().Str("net", net.String()).Str("currency", mint.Currency).Msg("submitting payout")
	signature, err := p.chain.Transfer(ctx, mint, txn.Wallet(), net)
	if err != nil {
		p.metrics.ChainTransfers.WithLabelValues(metrics.ResultError, mint.Currency).Inc()
		// No funds moved, including for a rejected destination: the
		// transaction stays PENDING_ANCHOR so an operator can retry.
		return true, p.fail(ctx, dbTx, entry, apperror.ErrChainTransfer(err), log)
	}
	p.metrics.ChainTransfers.WithLabelValues(metrics.ResultSuccess, mint.Currency).Inc()
	log = log.With().Str("signature", signature).Logger()

	if err := p.settle(ctx, dbTx, entry, txn, signature); err != nil {
		settleErr := apperror.ErrSettlementCommit(signature, err)
		log.Error().Err(settleErr).Msg("payout submitted but settlement not recorded; reconcile manually")
		return false, settleErr
	}
	p.metrics.ProcessorEntries.WithLabelValues(metrics.OutcomeCompleted, "").Inc()
	log.Info().Msg("payout completed")

	txn.Status = domain.TransactionStatusCompleted
	txn.ChainTxSignature = &signature
	txn.UpdatedAt = time.Now().UTC()
	p.notify(ctx, txn, log)
	return false, nil
}

func (p *TransactionProcessor) settle(ctx context.Context, dbTx pgx.Tx, entry *domain.InboxEntry, txn *domain.Transaction, signature string) error {
	if err := p.txRepo.Complete(ctx, dbTx, txn.ID, signature); err != nil {
		return err
	}
	if err := p.inbox.MarkCompleted(ctx, dbTx, entry.ID); err != nil {
		return err
	}
	return dbTx.Commit(ctx)
}

// rejectPayout fails both the transaction and the entry. The ledger row
// itself is unpayable, so a retry would fail the same way.
func (p *TransactionProcessor) rejectPayout(ctx context.Context, dbTx pgx.Tx, entry *domain.InboxEntry, txn *domain.Transaction, cause *apperror.AppError, log zerolog.Logger) error {
	moved, err := p.txRepo.UpdateStatus(ctx, dbTx, txn.ID,
		domain.TransactionStatusPendingAnchor, domain.TransactionStatusFailed)
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("fail transaction: %w", err))
	}
	if err := p.fail(ctx, dbTx, entry, cause, log); err != nil {
		return err
	}
	if moved {
		txn.Status = domain.TransactionStatusFailed
		txn.UpdatedAt = time.Now().UTC()
		p.notify(ctx, txn, log)
	}
	return nil
}

// fail records cause on the entry and commits.
func (p *TransactionProcessor) fail(ctx context.Context, dbTx pgx.Tx, entry *domain.InboxEntry, cause *apperror.AppError, log zerolog.Logger) error {
	if err := p.inbox.MarkFailed(ctx, dbTx, entry.ID, cause.Error()); err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("mark entry failed: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("commit: %w", err))
	}
	p.metrics.ProcessorEntries.WithLabelValues(metrics.OutcomeFailed, cause.Code).Inc()
	log.Warn().Err(cause).Str("code", cause.Code).Msg("entry failed")
	return nil
}

func (p *TransactionProcessor) complete(ctx context.Context, dbTx pgx.Tx, entry *domain.InboxEntry, log zerolog.Logger) error {
	if err := p.inbox.MarkCompleted(ctx, dbTx, entry.ID); err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("mark entry completed: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("commit: %w", err))
	}
	p.metrics.ProcessorEntries.WithLabelValues(metrics.OutcomeCompleted, "").Inc()
	log.Debug().Msg("entry completed")
	return nil
}

// notify is best effort: the settlement is already committed.
func (p *TransactionProcessor) notify(ctx context.Context, txn *domain.Transaction, log zerolog.Logger) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Notify(ctx, txn); err != nil {
		log.Warn().Err(err).Str("code", apperror.CodeNotification).Msg("status update not delivered")
	}
}
