package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LifecycleStatus is the upstream payment status carried by an inbound message.
type LifecycleStatus string

const (
	LifecycleFundsReceived LifecycleStatus = "FUNDS_RECEIVED"
	LifecycleApproved      LifecycleStatus = "APPROVED"
)

// EventStatusUpdate is the event name of every outbound message.
const EventStatusUpdate = "STATUS_UPDATE"

// MessageTimeFormat is the created_at layout used on both queues.
const MessageTimeFormat = "2006-01-02T15:04:05Z"

var (
	ErrMissingIdempotencyKey = errors.New("meta_data.idempotency_key is required")
	ErrMissingReference      = errors.New("payload.reference is required")
)

// MessageMeta is the envelope header shared by inbound and outbound messages.
type MessageMeta struct {
	IdempotencyKey string `json:"idempotency_key"`
	Event          string `json:"event,omitempty"`
	Source         string `json:"source,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
	Token          string `json:"token,omitempty"`
}

type InboundPayload struct {
	Reference     string          `json:"reference"`
	Status        LifecycleStatus `json:"status"`
	TransactionID string          `json:"transaction_id,omitempty"`
}

// InboundMessage is a payment lifecycle event read from the inbound queue.
// Unknown fields are ignored.
type InboundMessage struct {
	MetaData MessageMeta    `json:"meta_data"`
	Payload  InboundPayload `json:"payload"`
}

// ParseInboundMessage decodes raw and checks the two fields the pipeline
// cannot work without.
func ParseInboundMessage(raw []byte) (*InboundMessage, error) {
	var msg InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	msg.MetaData.IdempotencyKey = strings.TrimSpace(msg.MetaData.IdempotencyKey)
	msg.Payload.Reference = strings.TrimSpace(msg.Payload.Reference)

	if msg.MetaData.IdempotencyKey == "" {
		return nil, ErrMissingIdempotencyKey
	}
	if msg.Payload.Reference == "" {
		return nil, ErrMissingReference
	}
	return &msg, nil
}

// StatusPayload is the transaction snapshot sent upstream after a terminal
// transition.
type StatusPayload struct {
	Reference        string            `json:"reference"`
	Status           TransactionStatus `json:"status"`
	TransactionType  TransactionType   `json:"transaction_type"`
	Value            string            `json:"value"`
	Fee              string            `json:"fee"`
	IncomingCurrency string            `json:"incoming_currency"`
	OutgoingCurrency string            `json:"outgoing_currency"`
	WalletAddress    *string           `json:"wallet_address"`
	ChainTxSignature *string           `json:"chain_tx_signature"`
	UpdatedAt        string            `json:"updated_at"`
}

// OutboundStatusMessage is published once per terminal transition.
type OutboundStatusMessage struct {
	MetaData MessageMeta   `json:"meta_data"`
	Payload  StatusPayload `json:"payload"`
}

// NewStatusMessage builds the STATUS_UPDATE message for t with a fresh
// idempotency key.
func NewStatusMessage(t *Transaction, source, token string, now time.Time) OutboundStatusMessage {
	now = now.UTC()
	return OutboundStatusMessage{
		MetaData: MessageMeta{
			IdempotencyKey: uuid.NewString(),
			Event:          EventStatusUpdate,
			Source:         source,
			CreatedAt:      now.Format(MessageTimeFormat),
			Token:          token,
		},
		Payload: StatusPayload{
			Reference:        t.Reference,
			Status:           t.Status,
			TransactionType:  t.TransactionType,
			Value:            t.Value.String(),
			Fee:              t.Fee.String(),
			IncomingCurrency: t.IncomingCurrency,
			OutgoingCurrency: t.OutgoingCurrency,
			WalletAddress:    t.WalletAddress,
			ChainTxSignature: t.ChainTxSignature,
			UpdatedAt:        t.UpdatedAt.UTC().Format(MessageTimeFormat),
		},
	}
}
