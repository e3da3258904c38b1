package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"time"

	"anchor-payout/internal/core/domain"
	"anchor-payout/internal/core/ports"
	"anchor-payout/pkg/apperror"

	"github.com/google/uuid"
)

const usage = `usage: opsctl <command> [flags]

commands:
  list [-status S] [-reference R] [-limit N] [-offset N]
  show <id>
  stats
  stuck [-older-than D] [-limit N]
  retry <id>
  retry-all [-limit N]
  tx <reference>
  reopen <reference>
  token <subject>
`

var errUsage = errors.New("invalid usage")

// CLI dispatches opsctl commands. Output is JSON on Out.
type CLI struct {
	Ops    ports.OperatorService
	Tokens ports.TokenService
	Audit  ports.AuditService
	Actor  ports.Actor
	Out    io.Writer
}

// Run executes args and returns the process exit code.
func (c *CLI) Run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(c.Out, usage)
		return 2
	}

	result, err := c.dispatch(ctx, args[0], args[1:])
	if err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(c.Out, usage)
			return 2
		}
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			fmt.Fprintf(c.Out, "error: [%s] %s\n", appErr.Code, appErr.Message)
		} else {
			fmt.Fprintf(c.Out, "error: %v\n", err)
		}
		return 1
	}

	enc := json.NewEncoder(c.Out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		fmt.Fprintf(c.Out, "error: %v\n", err)
		return 1
	}
	return 0
}

func (c *CLI) dispatch(ctx context.Context, cmd string, args []string) (any, error) {
	switch cmd {
	case "list":
		fs := newFlagSet(cmd)
		status := fs.String("status", "", "inbox status filter")
		reference := fs.String("reference", "", "transaction reference filter")
		limit := fs.Int("limit", 0, "maximum rows")
		offset := fs.Int("offset", 0, "rows to skip")
		if err := parseFlags(fs, args); err != nil {
			return nil, err
		}
		params := ports.InboxListParams{Reference: *reference, Limit: *limit, Offset: *offset}
		if *status != "" {
			s := domain.InboxStatus(*status)
			params.Status = &s
		}
		return c.Ops.ListEntries(ctx, params)

	case "show":
		id, err := entryID(args)
		if err != nil {
			return nil, err
		}
		return c.Ops.GetEntry(ctx, id)

	case "stats":
		return c.Ops.Stats(ctx)

	case "stuck":
		fs := newFlagSet(cmd)
		olderThan := fs.Duration("older-than", 0, "processing age threshold")
		limit := fs.Int("limit", 0, "maximum rows")
		if err := parseFlags(fs, args); err != nil {
			return nil, err
		}
		return c.Ops.ListStuck(ctx, *olderThan, *limit)

	case "retry":
		id, err := entryID(args)
		if err != nil {
			return nil, err
		}
		return c.Ops.RetryEntry(ctx, c.Actor, id)

	case "retry-all":
		fs := newFlagSet(cmd)
		limit := fs.Int("limit", 0, "maximum entries to reset")
		if err := parseFlags(fs, args); err != nil {
			return nil, err
		}
		return c.Ops.RetryFailed(ctx, c.Actor, *limit)

	case "tx":
		if len(args) != 1 {
			return nil, errUsage
		}
		return c.Ops.GetTransaction(ctx, args[0])

	case "reopen":
		if len(args) != 1 {
			return nil, errUsage
		}
		return c.Ops.ReopenTransaction(ctx, c.Actor, args[0])

	case "token":
		if len(args) != 1 {
			return nil, errUsage
		}
		return c.issueToken(ctx, args[0])
	}
	return nil, errUsage
}

type tokenResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (c *CLI) issueToken(ctx context.Context, subject string) (*tokenResult, error) {
	token, expiry, err := c.Tokens.Generate(subject, domain.RoleOperator)
	if err != nil {
		return nil, err
	}
	if c.Audit != nil {
		details, _ := json.Marshal(map[string]any{"expires_at": expiry})
		c.Audit.Log(ctx, &domain.AuditLog{
			ID:           uuid.New(),
			Actor:        c.Actor.Subject,
			Action:       domain.AuditActionIssueToken,
			ResourceType: "operator",
			ResourceID:   subject,
			Details:      string(details),
			IPAddress:    c.Actor.IP,
			CreatedAt:    time.Now().UTC(),
		})
	}
	return &tokenResult{Token: token, ExpiresAt: expiry}, nil
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}

func entryID(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, errUsage
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id < 1 {
		return 0, apperror.Validation("id must be a positive integer")
	}
	return id, nil
}
