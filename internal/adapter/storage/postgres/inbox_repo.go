package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"anchor-payout/internal/core/domain"
	"anchor-payout/internal/core/ports"

	"github.com/jackc/pgx/v5"
)

const inboxColumns = `id, message_id, receipt_handle, message_body, status, transaction_reference,
		retry_count, last_error, received_at, processing_started_at, processed_at, updated_at`

// InboxRepo implements ports.InboxRepository.
type InboxRepo struct {
	pool Pool
}

// NewInboxRepo creates a new InboxRepo.
func NewInboxRepo(pool Pool) *InboxRepo {
	return &InboxRepo{pool: pool}
}

// Insert stores entry as pending. The unique message_id makes redelivered
// messages a no-op that reports false.
func (r *InboxRepo) Insert(ctx context.Context, entry *domain.InboxEntry) (bool, error) {
	query := `INSERT INTO inbox (message_id, receipt_handle, message_body, status, transaction_reference,
		retry_count, received_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $6)
		ON CONFLICT (message_id) DO NOTHING
		RETURNING id`

	err := r.pool.QueryRow(ctx, query,
		entry.MessageID, entry.ReceiptHandle, entry.MessageBody,
		domain.InboxStatusPending, entry.TransactionReference, entry.ReceivedAt,
	).Scan(&entry.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("insert inbox entry: %w", err)
	}
	entry.Status = domain.InboxStatusPending
	return true, nil
}

// GetByID fetches one entry.
func (r *InboxRepo) GetByID(ctx context.Context, id int64) (*domain.InboxEntry, error) {
	query := `SELECT ` + inboxColumns + ` FROM inbox WHERE id = $1`
	return r.scanEntry(r.pool.QueryRow(ctx, query, id))
}

// ListPending returns pending entries, oldest first.
func (r *InboxRepo) ListPending(ctx context.Context, limit int) ([]domain.InboxEntry, error) {
	query := `SELECT ` + inboxColumns + ` FROM inbox
		WHERE status = $1 ORDER BY received_at ASC, id ASC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, domain.InboxStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending inbox entries: %w", err)
	}
	return r.collect(rows)
}

// Claim moves a pending entry to processing with a single conditional
// update, so exactly one worker wins.
func (r *InboxRepo) Claim(ctx context.Context, id int64) (bool, error) {
	query := `UPDATE inbox SET status = $1, processing_started_at = $2, updated_at = $2
		WHERE id = $3 AND status = $4`

	tag, err := r.pool.Exec(ctx, query, domain.InboxStatusProcessing, time.Now().UTC(), id, domain.InboxStatusPending)
	if err != nil {
		return false, fmt.Errorf("claim inbox entry %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkCompleted finishes a processing entry inside tx.
func (r *InboxRepo) MarkCompleted(ctx context.Context, tx pgx.Tx, id int64) error {
	query := `UPDATE inbox SET status = $1, processed_at = $2, updated_at = $2
		WHERE id = $3 AND status = $4`

	tag, err := tx.Exec(ctx, query, domain.InboxStatusCompleted, time.Now().UTC(), id, domain.InboxStatusProcessing)
	if err != nil {
		return fmt.Errorf("complete inbox entry %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("inbox entry %d is not processing", id)
	}
	return nil
}

// MarkFailed records reason and bumps retry_count on a processing entry.
func (r *InboxRepo) MarkFailed(ctx context.Context, tx pgx.Tx, id int64, reason string) error {
	query := `UPDATE inbox SET status = $1, retry_count = retry_count + 1, last_error = $2,
		processed_at = $3, updated_at = $3
		WHERE id = $4 AND status = $5`

	tag, err := tx.Exec(ctx, query, domain.InboxStatusFailed, reason, time.Now().UTC(), id, domain.InboxStatusProcessing)
	if err != nil {
		return fmt.Errorf("fail inbox entry %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("inbox entry %d is not processing", id)
	}
	return nil
}

// ResetFailed returns one failed entry to pending. retry_count and
// last_error are kept as history.
func (r *InboxRepo) ResetFailed(ctx context.Context, id int64) (bool, error) {
	query := `UPDATE inbox SET status = $1, processing_started_at = NULL, processed_at = NULL, updated_at = $2
		WHERE id = $3 AND status = $4`

	tag, err := r.pool.Exec(ctx, query, domain.InboxStatusPending, time.Now().UTC(), id, domain.InboxStatusFailed)
	if err != nil {
		return false, fmt.Errorf("reset inbox entry %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ResetRetryable returns failed entries to pending unless their
// transaction already reached a terminal status.
func (r *InboxRepo) ResetRetryable(ctx context.Context, limit int) ([]int64, error) {
	query := `UPDATE inbox SET status = $1, processing_started_at = NULL, processed_at = NULL, updated_at = $2
		WHERE status = $3 AND id IN (
			SELECT i.id FROM inbox i
			LEFT JOIN transactions t ON t.reference = i.transaction_reference
			WHERE i.status = $3 AND (t.status IS NULL OR t.status NOT IN ($4, $5))
			ORDER BY i.received_at ASC
			LIMIT $6)
		RETURNING id`

	rows, err := r.pool.Query(ctx, query,
		domain.InboxStatusPending, time.Now().UTC(), domain.InboxStatusFailed,
		domain.TransactionStatusCompleted, domain.TransactionStatusFailed, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("reset retryable inbox entries: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan reset inbox id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reset inbox ids: %w", err)
	}
	return ids, nil
}

// List fetches entries with optional filters, newest first.
func (r *InboxRepo) List(ctx context.Context, params ports.InboxListParams) ([]domain.InboxEntry, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}
	if params.Reference != "" {
		conditions = append(conditions, fmt.Sprintf("transaction_reference = $%d", argIdx))
		args = append(args, params.Reference)
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`SELECT %s FROM inbox %s ORDER BY received_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		inboxColumns, where, argIdx, argIdx+1)
	args = append(args, params.Limit, params.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list inbox entries: %w", err)
	}
	return r.collect(rows)
}

// ListStuck returns entries that entered processing before startedBefore.
func (r *InboxRepo) ListStuck(ctx context.Context, startedBefore time.Time, limit int) ([]domain.InboxEntry, error) {
	query := `SELECT ` + inboxColumns + ` FROM inbox
		WHERE status = $1 AND processing_started_at < $2
		ORDER BY processing_started_at ASC LIMIT $3`

	rows, err := r.pool.Query(ctx, query, domain.InboxStatusProcessing, startedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list stuck inbox entries: %w", err)
	}
	return r.collect(rows)
}

// CountByStatus returns the number of entries per status.
func (r *InboxRepo) CountByStatus(ctx context.Context) (map[domain.InboxStatus]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM inbox GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count inbox entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.InboxStatus]int64)
	for rows.Next() {
		var status domain.InboxStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan inbox count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inbox counts: %w", err)
	}
	return counts, nil
}

func (r *InboxRepo) collect(rows pgx.Rows) ([]domain.InboxEntry, error) {
	defer rows.Close()

	var entries []domain.InboxEntry
	for rows.Next() {
		e, err := r.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inbox rows: %w", err)
	}
	return entries, nil
}

// scanEntry returns nil, nil when the row does not exist.
func (r *InboxRepo) scanEntry(row pgx.Row) (*domain.InboxEntry, error) {
	e := &domain.InboxEntry{}
	err := row.Scan(
		&e.ID, &e.MessageID, &e.ReceiptHandle, &e.MessageBody, &e.Status, &e.TransactionReference,
		&e.RetryCount, &e.LastError, &e.ReceivedAt, &e.ProcessingStartedAt, &e.ProcessedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan inbox entry: %w", err)
	}
	return e, nil
}
