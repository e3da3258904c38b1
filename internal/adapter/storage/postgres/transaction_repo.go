package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"anchor-payout/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// value and fee are read as text so numeric precision survives the trip.
const transactionColumns = `id, reference, idempotency_key, transaction_type, status,
		incoming_currency, outgoing_currency, value::text, fee::text,
		wallet_address, chain_tx_signature, created_at, updated_at`

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// GetByReference fetches a transaction by its upstream reference.
func (r *TransactionRepo) GetByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE reference = $1`
	return r.scanTransaction(r.pool.QueryRow(ctx, query, reference))
}

// GetByReferenceForUpdate fetches a transaction and holds its row lock
// until tx ends.
func (r *TransactionRepo) GetByReferenceForUpdate(ctx context.Context, tx pgx.Tx, reference string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE reference = $1 FOR UPDATE`
	return r.scanTransaction(tx.QueryRow(ctx, query, reference))
}

// UpdateStatus moves a transaction from one status to another. It reports
// false when the row was not in the expected status.
func (r *TransactionRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to domain.TransactionStatus) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("transaction %s: illegal transition %s -> %s", id, from, to)
	}

	query := `UPDATE transactions SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`

	tag, err := tx.Exec(ctx, query, id, from, to, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("update transaction status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Complete marks a PENDING_ANCHOR transaction completed and stores the
// chain signature of its payout.
func (r *TransactionRepo) Complete(ctx context.Context, tx pgx.Tx, id uuid.UUID, signature string) error {
	query := `UPDATE transactions SET status = $1, chain_tx_signature = $2, updated_at = $3
		WHERE id = $4 AND status = $5`

	tag, err := tx.Exec(ctx, query,
		domain.TransactionStatusCompleted, signature, time.Now().UTC(), id, domain.TransactionStatusPendingAnchor,
	)
	if err != nil {
		return fmt.Errorf("complete transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction %s is not %s", id, domain.TransactionStatusPendingAnchor)
	}
	return nil
}

// CountByStatus returns the number of transactions per status.
func (r *TransactionRepo) CountByStatus(ctx context.Context) (map[domain.TransactionStatus]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM transactions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count transactions: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.TransactionStatus]int64)
	for rows.Next() {
		var status domain.TransactionStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan transaction count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction counts: %w", err)
	}
	return counts, nil
}

// scanTransaction returns nil, nil when the row does not exist.
func (r *TransactionRepo) scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	var value, fee string
	err := row.Scan(
		&t.ID, &t.Reference, &t.IdempotencyKey, &t.TransactionType, &t.Status,
		&t.IncomingCurrency, &t.OutgoingCurrency, &value, &fee,
		&t.WalletAddress, &t.ChainTxSignature, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	if t.Value, err = decimal.NewFromString(value); err != nil {
		return nil, fmt.Errorf("parse value of %s: %w", t.Reference, err)
	}
	if t.Fee, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("parse fee of %s: %w", t.Reference, err)
	}
	return t, nil
}
