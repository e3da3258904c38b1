// Package solana pays out SPL tokens from the distribution wallet.
package solana

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"anchor-payout/config"
	"anchor-payout/internal/core/domain"
	"anchor-payout/pkg/breaker"
	"anchor-payout/pkg/logger"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

// RPC is the subset of *rpc.Client the transfer path needs.
type RPC interface {
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
}

// Client implements ports.ChainClient.
type Client struct {
	rpc        RPC
	signer     solana.PrivateKey
	commitment rpc.CommitmentType
	cb         *gobreaker.CircuitBreaker
	log        zerolog.Logger
}

// NewClient loads the distribution key and connects to cfg.RPCURL.
func NewClient(cfg config.SolanaConfig, log zerolog.Logger) (*Client, error) {
	return NewClientWithRPC(rpc.New(cfg.RPCURL), cfg, log)
}

// NewClientWithRPC is NewClient over an existing RPC implementation.
func NewClientWithRPC(api RPC, cfg config.SolanaConfig, log zerolog.Logger) (*Client, error) {
	key := strings.TrimSpace(cfg.DistributionPrivateKey)
	if key == "" {
		return nil, errors.New("solana distribution private key is not configured")
	}
	signer, err := solana.PrivateKeyFromBase58(key)
	if err != nil {
		return nil, fmt.Errorf("parse distribution private key: %w", err)
	}

	commitment := rpc.CommitmentType(cfg.Commitment)
	if commitment == "" {
		commitment = rpc.CommitmentFinalized
	}

	log = logger.Component(log, "solana")
	return &Client{
		rpc:        api,
		signer:     signer,
		commitment: commitment,
		cb:         breaker.New("solana-rpc", log),
		log:        log,
	}, nil
}

// Address is the distribution wallet's public key.
func (c *Client) Address() string {
	return c.signer.PublicKey().String()
}

// Transfer sends amount of mint to the destination wallet's associated
// token account, creating that account first when it does not exist.
func (c *Client) Transfer(ctx context.Context, mint domain.Mint, destination string, amount decimal.Decimal) (string, error) {
	units, err := mint.BaseUnits(amount)
	if err != nil {
		return "", fmt.Errorf("convert %s %s: %w", amount, mint.Currency, err)
	}
	if units == 0 {
		return "", fmt.Errorf("convert %s %s: amount is zero", amount, mint.Currency)
	}

	owner, err := solana.PublicKeyFromBase58(strings.TrimSpace(destination))
	if err != nil {
		return "", fmt.Errorf("%w: %s", domain.ErrInvalidDestination, destination)
	}
	mintKey, err := solana.PublicKeyFromBase58(mint.Address)
	if err != nil {
		return "", fmt.Errorf("parse mint address for %s: %w", mint.Currency, err)
	}

	out, err := c.cb.Execute(func() (interface{}, error) {
		return c.send(ctx, mintKey, mint.Decimals, owner, units)
	})
	if err != nil {
		if breaker.IsOpen(err) {
			return "", fmt.Errorf("solana rpc unavailable: %w", err)
		}
		return "", err
	}

	sig := out.(solana.Signature).String()
	c.log.Info().
		Str("mint", mint.Currency).
		Str("destination", owner.String()).
		Uint64("amount", units).
		Str("signature", sig).
		Msg("Token transfer submitted")
	return sig, nil
}

func (c *Client) send(ctx context.Context, mint solana.PublicKey, decimals uint8, owner solana.PublicKey, units uint64) (solana.Signature, error) {
	payer := c.signer.PublicKey()

	source, _, err := solana.FindAssociatedTokenAddress(payer, mint)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("derive source token account: %w", err)
	}
	dest, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("derive destination token account: %w", err)
	}

	var instructions []solana.Instruction

	exists, err := c.accountExists(ctx, dest)
	if err != nil {
		return solana.Signature{}, err
	}
	if !exists {
		c.log.Info().
			Str("owner", owner.String()).
			Str("token_account", dest.String()).
			Msg("Creating destination token account")
		instructions = append(instructions,
			associatedtokenaccount.NewCreateInstruction(payer, owner, mint).Build())
	}

	instructions = append(instructions,
		token.NewTransferCheckedInstruction(units, decimals, source, mint, dest, payer, []solana.PublicKey{}).Build())

	latest, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("get latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(instructions, latest.Value.Blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build transaction: %w", err)
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer) {
			return &c.signer
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: c.commitment,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}
	return sig, nil
}

func (c *Client) accountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	_, err := c.rpc.GetAccountInfo(ctx, account)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get account %s: %w", account, err)
	}
	return true, nil
}
