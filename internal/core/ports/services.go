package ports

import (
	"context"
	"time"

	"anchor-payout/internal/core/domain"

	"github.com/shopspring/decimal"
)

// --- Driven ports (infrastructure) ---

// QueueMessage is one delivery from the inbound queue.
type QueueMessage struct {
	ID            string
	ReceiptHandle string
	Body          []byte
}

// QueueReceiver reads and acknowledges inbound messages.
type QueueReceiver interface {
	Receive(ctx context.Context, maxMessages int, visibility time.Duration) ([]QueueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// StatusPublisher sends status updates to the outbound queue.
type StatusPublisher interface {
	Publish(ctx context.Context, msg domain.OutboundStatusMessage) error
}

// ChainClient submits token transfers. It creates the destination's
// associated token account when missing and returns the transaction
// signature.
type ChainClient interface {
	Transfer(ctx context.Context, mint domain.Mint, destination string, amount decimal.Decimal) (string, error)
}

// ScopeCheck is the identity service's answer to a scope query.
type ScopeCheck struct {
	Authorised bool
	Message    string
}

// IdentityClient talks to the identity service.
type IdentityClient interface {
	ServiceToken(ctx context.Context) (string, error)
	CheckScope(ctx context.Context, serviceToken, subjectToken, scope string) (*ScopeCheck, error)
}

// TokenCache stores service tokens between cycles.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, error) // "" when absent
	Set(ctx context.Context, key string, token string, ttl time.Duration) error
}

// TokenService issues and validates operator JWTs.
type TokenService interface {
	Generate(subject string, role string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	Subject string
	Role    string
}

// --- Driving ports (business logic) ---

// StatusNotifier reports a terminal transition upstream.
type StatusNotifier interface {
	Notify(ctx context.Context, txn *domain.Transaction) error
}

// AuditService records operator actions.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}

// OperatorService is the manual recovery surface shared by the HTTP API
// and opsctl.
type OperatorService interface {
	ListEntries(ctx context.Context, params InboxListParams) ([]domain.InboxEntry, error)
	GetEntry(ctx context.Context, id int64) (*domain.InboxEntry, error)
	ListStuck(ctx context.Context, olderThan time.Duration, limit int) ([]domain.InboxEntry, error)
	Stats(ctx context.Context) (*PipelineStats, error)
	RetryEntry(ctx context.Context, actor Actor, id int64) (*domain.InboxEntry, error)
	RetryFailed(ctx context.Context, actor Actor, limit int) (*RetrySummary, error)
	GetTransaction(ctx context.Context, reference string) (*domain.Transaction, error)
	ReopenTransaction(ctx context.Context, actor Actor, reference string) (*domain.Transaction, error)
}

// Actor identifies who triggered an operator action.
type Actor struct {
	Subject string
	IP      string
}

// PipelineStats aggregates inbox and transaction counts.
type PipelineStats struct {
	Inbox        map[domain.InboxStatus]int64       `json:"inbox"`
	Transactions map[domain.TransactionStatus]int64 `json:"transactions"`
}

// RetrySummary reports the outcome of a bulk retry.
type RetrySummary struct {
	Reset   int     `json:"reset"`
	IDs     []int64 `json:"ids"`
	Skipped int64   `json:"skipped"` // entries still failed after the reset
}
