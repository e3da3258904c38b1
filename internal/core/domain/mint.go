package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNegativeAmount  = errors.New("amount must not be negative")
	ErrExcessPrecision = errors.New("amount has more decimal places than the mint supports")
	ErrAmountOverflow  = errors.New("amount does not fit in a token amount")

	// ErrInvalidDestination is returned by chain clients for a wallet
	// address the chain cannot accept.
	ErrInvalidDestination = errors.New("destination is not a valid address")
)

// Mint is a supported token on the payout chain.
type Mint struct {
	Currency string
	Address  string
	Decimals uint8
}

// BaseUnits converts a human amount into the mint's integer base units.
// Amounts are never rounded: extra precision is an error.
func (m Mint) BaseUnits(amount decimal.Decimal) (uint64, error) {
	if amount.IsNegative() {
		return 0, ErrNegativeAmount
	}
	scaled := amount.Shift(int32(m.Decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s with %d decimals", ErrExcessPrecision, amount, m.Decimals)
	}
	bi := scaled.BigInt()
	if !bi.IsUint64() {
		return 0, ErrAmountOverflow
	}
	return bi.Uint64(), nil
}

// MintTable maps currency codes to mints.
type MintTable map[string]Mint

// NewMintTable indexes mints by upper-cased currency code.
func NewMintTable(mints ...Mint) MintTable {
	t := make(MintTable, len(mints))
	for _, m := range mints {
		code := strings.ToUpper(strings.TrimSpace(m.Currency))
		m.Currency = code
		t[code] = m
	}
	return t
}

// Resolve looks up the mint for currency, case-insensitively.
func (t MintTable) Resolve(currency string) (Mint, bool) {
	m, ok := t[strings.ToUpper(strings.TrimSpace(currency))]
	return m, ok
}
