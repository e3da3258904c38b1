package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"anchor-payout/config"
	httpHandler "anchor-payout/internal/adapter/http/handler"
	pgStorage "anchor-payout/internal/adapter/storage/postgres"
	redisStorage "anchor-payout/internal/adapter/storage/redis"
	"anchor-payout/internal/core/ports"
	"anchor-payout/internal/metrics"
	"anchor-payout/internal/service"
	"anchor-payout/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load(os.Getenv("PAYOUT_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("api", cfg.Log.Level, cfg.Log.Pretty)
	if cfg.JWT.Secret == "" {
		log.Fatal().Msg("jwt.secret is required")
	}
	gin.SetMode(cfg.Server.Mode)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting operator API")

	ctx := context.Background()

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	auditSvc := service.NewAuditService(pgStorage.NewAuditRepo(pool), log)
	defer auditSvc.Wait()

	opsSvc := service.NewOperatorService(
		pgStorage.NewInboxRepo(pool),
		pgStorage.NewTransactionRepo(pool),
		pgStorage.NewTransactor(pool),
		auditSvc,
		log,
	)

	reg := prometheus.NewRegistry()
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		OperatorSvc:    opsSvc,
		TokenSvc:       service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer),
		RateLimitStore: redisStorage.NewRateLimitStore(rdb),
		HealthCheckers: []ports.HealthChecker{pgStorage.NewHealthCheck(pool), redisStorage.NewHealthCheck(rdb)},
		AuditSvc:       auditSvc,
		Metrics:        metrics.New(reg),
		Gatherer:       reg,
		Logger:         log,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
