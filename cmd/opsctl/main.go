// Command opsctl is the operator CLI for inspecting and recovering the
// payout pipeline. It shares the operator service with the HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"syscall"

	"anchor-payout/config"
	pgStorage "anchor-payout/internal/adapter/storage/postgres"
	"anchor-payout/internal/core/ports"
	"anchor-payout/internal/service"
	"anchor-payout/pkg/logger"
)

func main() {
	cfg, err := config.Load(os.Getenv("PAYOUT_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Logs go to stderr so command output stays parseable.
	log := logger.NewWithWriter("opsctl", cfg.Log.Level, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to PostgreSQL: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	auditSvc := service.NewAuditService(pgStorage.NewAuditRepo(pool), log)
	opsSvc := service.NewOperatorService(
		pgStorage.NewInboxRepo(pool),
		pgStorage.NewTransactionRepo(pool),
		pgStorage.NewTransactor(pool),
		auditSvc,
		log,
	)

	cli := &CLI{
		Ops:    opsSvc,
		Tokens: service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer),
		Audit:  auditSvc,
		Actor:  ports.Actor{Subject: "opsctl:" + currentUser(), IP: "local"},
		Out:    os.Stdout,
	}
	code := cli.Run(ctx, os.Args[1:])
	auditSvc.Wait()
	if code != 0 {
		pool.Close()
		os.Exit(code)
	}
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}
