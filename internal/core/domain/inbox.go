package domain

import (
	"encoding/json"
	"time"
)

// InboxStatus is the processing state of a persisted inbound message.
type InboxStatus string

const (
	InboxStatusPending    InboxStatus = "pending"
	InboxStatusProcessing InboxStatus = "processing"
	InboxStatusCompleted  InboxStatus = "completed"
	InboxStatusFailed     InboxStatus = "failed"
)

// Allowed inbox moves. failed -> pending is reserved for operator reset;
// processing is never released automatically.
var inboxTransitions = map[InboxStatus][]InboxStatus{
	InboxStatusPending:    {InboxStatusProcessing},
	InboxStatusProcessing: {InboxStatusCompleted, InboxStatusFailed},
	InboxStatusFailed:     {InboxStatusPending},
}

// Valid reports whether s is a known inbox status.
func (s InboxStatus) Valid() bool {
	switch s {
	case InboxStatusPending, InboxStatusProcessing, InboxStatusCompleted, InboxStatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether an entry in state s may move to next.
func (s InboxStatus) CanTransitionTo(next InboxStatus) bool {
	for _, allowed := range inboxTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// InboxEntry is the durable record of one uniquely keyed inbound message.
type InboxEntry struct {
	ID                   int64           `json:"id"`
	MessageID            string          `json:"message_id"` // the message's idempotency key
	ReceiptHandle        string          `json:"receipt_handle"`
	MessageBody          json.RawMessage `json:"message_body"`
	Status               InboxStatus     `json:"status"`
	TransactionReference string          `json:"transaction_reference"`
	RetryCount           int             `json:"retry_count"`
	LastError            *string         `json:"last_error,omitempty"`
	ReceivedAt           time.Time       `json:"received_at"`
	ProcessingStartedAt  *time.Time      `json:"processing_started_at,omitempty"`
	ProcessedAt          *time.Time      `json:"processed_at,omitempty"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// IsStuck reports whether the entry has been processing for longer than
// threshold. Stuck entries need manual investigation: the worker that
// claimed them may have crashed after submitting a transfer.
func (e *InboxEntry) IsStuck(now time.Time, threshold time.Duration) bool {
	if e.Status != InboxStatusProcessing || e.ProcessingStartedAt == nil {
		return false
	}
	return now.Sub(*e.ProcessingStartedAt) > threshold
}
