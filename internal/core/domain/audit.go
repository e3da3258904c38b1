package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited operator action.
type AuditAction string

const (
	AuditActionRetryEntry        AuditAction = "RETRY_ENTRY"
	AuditActionRetryFailed       AuditAction = "RETRY_FAILED"
	AuditActionReopenTransaction AuditAction = "REOPEN_TRANSACTION"
	AuditActionIssueToken        AuditAction = "ISSUE_TOKEN"
	AuditActionRejectedRequest   AuditAction = "REJECTED_REQUEST"
)

// AuditLog records a single operator action against the pipeline state.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	Actor        string      `json:"actor"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	IPAddress    string      `json:"ip_address"`
	CreatedAt    time.Time   `json:"created_at"`
}

// RoleOperator is the JWT role allowed to use the operator API.
const RoleOperator = "operator"
