package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType is the direction of the fiat/stablecoin movement.
type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "DEPOSIT"
	TransactionTypeWithdrawal TransactionType = "WITHDRAWAL"
)

// TransactionStatus is the payout lifecycle state. The terminal values are
// lower case to match the upstream ledger.
type TransactionStatus string

const (
	TransactionStatusPendingFunding TransactionStatus = "PENDING_FUNDING"
	TransactionStatusPendingAnchor  TransactionStatus = "PENDING_ANCHOR"
	TransactionStatusCompleted      TransactionStatus = "completed"
	TransactionStatusFailed         TransactionStatus = "failed"
)

// failed -> PENDING_ANCHOR is an operator reopen.
var transactionTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPendingFunding: {TransactionStatusPendingAnchor},
	TransactionStatusPendingAnchor:  {TransactionStatusCompleted, TransactionStatusFailed},
	TransactionStatusFailed:         {TransactionStatusPendingAnchor},
}

// CanTransitionTo reports whether a transaction in state s may move to next.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	for _, allowed := range transactionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal is true for states the processor never leaves on its own.
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusFailed
}

var (
	ErrNonPositiveValue = errors.New("value must be positive")
	ErrNegativeFee      = errors.New("fee must not be negative")
	ErrFeeExceedsValue  = errors.New("fee exceeds value")
	ErrNonPositiveNet   = errors.New("net amount must be positive")
	ErrMissingWallet    = errors.New("wallet address is missing")
)

// Transaction is a payment owned by the upstream ledger. This system only
// advances its status and records the chain signature.
type Transaction struct {
	ID               uuid.UUID         `json:"id"`
	Reference        string            `json:"reference"`
	IdempotencyKey   string            `json:"idempotency_key"`
	TransactionType  TransactionType   `json:"transaction_type"`
	Status           TransactionStatus `json:"status"`
	IncomingCurrency string            `json:"incoming_currency"`
	OutgoingCurrency string            `json:"outgoing_currency"`
	Value            decimal.Decimal   `json:"value"`
	Fee              decimal.Decimal   `json:"fee"`
	WalletAddress    *string           `json:"wallet_address,omitempty"`
	ChainTxSignature *string           `json:"chain_tx_signature,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// AwaitingPayout is true only for withdrawals that have been funded and
// not yet paid out.
func (t *Transaction) AwaitingPayout() bool {
	return t.TransactionType == TransactionTypeWithdrawal &&
		t.Status == TransactionStatusPendingAnchor
}

// Wallet returns the trimmed destination wallet or "".
func (t *Transaction) Wallet() string {
	if t.WalletAddress == nil {
		return ""
	}
	return strings.TrimSpace(*t.WalletAddress)
}

// NetAmount returns value - fee using exact decimal arithmetic.
func (t *Transaction) NetAmount() decimal.Decimal {
	return t.Value.Sub(t.Fee)
}

// ValidatePayout checks the amount invariants and the destination and
// returns the net amount to transfer.
func (t *Transaction) ValidatePayout() (decimal.Decimal, error) {
	if !t.Value.IsPositive() {
		return decimal.Zero, ErrNonPositiveValue
	}
	if t.Fee.IsNegative() {
		return decimal.Zero, ErrNegativeFee
	}
	if t.Fee.GreaterThan(t.Value) {
		return decimal.Zero, ErrFeeExceedsValue
	}
	net := t.NetAmount()
	if !net.IsPositive() {
		return decimal.Zero, ErrNonPositiveNet
	}
	if t.Wallet() == "" {
		return decimal.Zero, ErrMissingWallet
	}
	return net, nil
}
