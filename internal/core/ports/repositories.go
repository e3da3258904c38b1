package ports

import (
	"context"
	"time"

	"anchor-payout/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// InboxRepository defines persistence operations for inbox entries.
// Methods accepting pgx.Tx record a processing outcome inside the same
// database transaction that holds the transaction row lock.
type InboxRepository interface {
	// Insert stores a new pending entry. It reports false without error when
	// an entry with the same message ID already exists.
	Insert(ctx context.Context, entry *domain.InboxEntry) (bool, error)
	GetByID(ctx context.Context, id int64) (*domain.InboxEntry, error)
	ListPending(ctx context.Context, limit int) ([]domain.InboxEntry, error)
	// Claim atomically moves a pending entry to processing. False means
	// another worker owns it.
	Claim(ctx context.Context, id int64) (bool, error)
	MarkCompleted(ctx context.Context, tx pgx.Tx, id int64) error
	MarkFailed(ctx context.Context, tx pgx.Tx, id int64, reason string) error
	// ResetFailed moves one failed entry back to pending.
	ResetFailed(ctx context.Context, id int64) (bool, error)
	// ResetRetryable moves up to limit failed entries whose transaction is
	// missing or still open back to pending and returns their IDs.
	ResetRetryable(ctx context.Context, limit int) ([]int64, error)
	List(ctx context.Context, params InboxListParams) ([]domain.InboxEntry, error)
	ListStuck(ctx context.Context, startedBefore time.Time, limit int) ([]domain.InboxEntry, error)
	CountByStatus(ctx context.Context) (map[domain.InboxStatus]int64, error)
}

// InboxListParams filters operator listings of the inbox.
type InboxListParams struct {
	Status    *domain.InboxStatus
	Reference string
	Limit     int
	Offset    int
}

// TransactionRepository defines the operations this system performs on
// ledger transactions. Rows are created upstream.
type TransactionRepository interface {
	GetByReference(ctx context.Context, reference string) (*domain.Transaction, error)
	// GetByReferenceForUpdate locks the row until tx ends.
	GetByReferenceForUpdate(ctx context.Context, tx pgx.Tx, reference string) (*domain.Transaction, error)
	// UpdateStatus moves id from one status to another and reports false
	// when the row was not in the expected status.
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to domain.TransactionStatus) (bool, error)
	// Complete records a successful payout and its chain signature.
	Complete(ctx context.Context, tx pgx.Tx, id uuid.UUID, signature string) error
	CountByStatus(ctx context.Context) (map[domain.TransactionStatus]int64, error)
}

// AuditRepository persists operator audit logs.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
