package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"anchor-payout/config"
	"anchor-payout/internal/adapter/identity"
	"anchor-payout/internal/adapter/queue/sqs"
	pgStorage "anchor-payout/internal/adapter/storage/postgres"
	redisStorage "anchor-payout/internal/adapter/storage/redis"
	"anchor-payout/internal/core/ports"
	"anchor-payout/internal/metrics"
	"anchor-payout/internal/service"
	"anchor-payout/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load(os.Getenv("PAYOUT_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("consumer", cfg.Log.Level, cfg.Log.Pretty)
	if cfg.Queue.InboundQueueURL == "" {
		log.Fatal().Msg("queue.inbound_queue_url is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	sqsClient, err := sqs.NewClient(ctx, cfg.Queue)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create SQS client")
	}

	var identityClient ports.IdentityClient
	if cfg.Consumer.VerifySource {
		rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		identityClient = identity.NewClient(cfg.Identity, redisStorage.NewTokenCache(rdb), log)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, reg, log); err != nil {
				log.Error().Err(err).Msg("Metrics listener failed")
			}
		}()
	}

	consumer := service.NewInboxConsumer(
		sqs.NewReceiver(sqsClient, cfg.Queue.InboundQueueURL, cfg.Queue.WaitTime),
		pgStorage.NewInboxRepo(pool),
		pgStorage.NewHealthCheck(pool),
		identityClient,
		service.ConsumerOptions{
			BatchSize:         cfg.Consumer.BatchSize,
			VisibilityTimeout: cfg.Queue.VisibilityTimeout,
			VerifySource:      cfg.Consumer.VerifySource,
			RequiredScope:     cfg.Consumer.RequiredScope,
		},
		m,
		logger.Component(log, "inbox_consumer"),
	)

	log.Info().Str("queue", cfg.Queue.InboundQueueURL).Msg("Starting inbox consumer")
	err = service.RunPoller(ctx, "consumer", cfg.Consumer.PollInterval, func(ctx context.Context) error {
		_, err := consumer.RunCycle(ctx)
		return err
	}, m, log)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Consumer stopped")
		stop()
		pool.Close()
		os.Exit(1)
	}
	log.Info().Msg("Consumer exited")
}
