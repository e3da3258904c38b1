package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"anchor-payout/config"
	"anchor-payout/internal/adapter/chain/solana"
	"anchor-payout/internal/adapter/identity"
	"anchor-payout/internal/adapter/queue/rabbitmq"
	"anchor-payout/internal/adapter/queue/sqs"
	pgStorage "anchor-payout/internal/adapter/storage/postgres"
	redisStorage "anchor-payout/internal/adapter/storage/redis"
	"anchor-payout/internal/core/domain"
	"anchor-payout/internal/core/ports"
	"anchor-payout/internal/metrics"
	"anchor-payout/internal/service"
	"anchor-payout/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load(os.Getenv("PAYOUT_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("processor", cfg.Log.Level, cfg.Log.Pretty)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	chain, err := solana.NewClient(cfg.Solana, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise Solana client")
	}

	var identityClient ports.IdentityClient
	if cfg.Identity.BaseURL != "" {
		rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		identityClient = identity.NewClient(cfg.Identity, redisStorage.NewTokenCache(rdb), log)
	}

	publisher, closePublisher, err := newPublisher(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise outbound publisher")
	}
	defer closePublisher()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, reg, log); err != nil {
				log.Error().Err(err).Msg("Metrics listener failed")
			}
		}()
	}

	processor := service.NewTransactionProcessor(
		pgStorage.NewInboxRepo(pool),
		pgStorage.NewTransactionRepo(pool),
		pgStorage.NewTransactor(pool),
		chain,
		mintTable(cfg.Solana),
		service.NewStatusNotifier(publisher, identityClient, cfg.Outbound.Source, m, logger.Component(log, "status_notifier")),
		cfg.Processor.BatchSize,
		m,
		logger.Component(log, "transaction_processor"),
	)

	log.Info().Str("outbound", cfg.Outbound.Driver).Int("mints", len(cfg.Solana.Mints)).Msg("Starting transaction processor")
	err = service.RunPoller(ctx, "processor", cfg.Processor.PollInterval, func(ctx context.Context) error {
		_, err := processor.RunCycle(ctx)
		return err
	}, m, log)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Processor stopped")
		closePublisher()
		pool.Close()
		os.Exit(1)
	}
	log.Info().Msg("Processor exited")
}

// newPublisher returns an untyped nil publisher when the driver is "none"
// so the notifier sees notifications as disabled.
func newPublisher(ctx context.Context, cfg *config.Config, log zerolog.Logger) (ports.StatusPublisher, func(), error) {
	noop := func() {}
	switch cfg.Outbound.Driver {
	case "none":
		log.Warn().Msg("Outbound driver is none; status updates are disabled")
		return nil, noop, nil
	case "rabbitmq":
		p, err := rabbitmq.NewPublisher(cfg.RabbitMQ, log)
		if err != nil {
			return nil, noop, err
		}
		return p, p.Close, nil
	case "sqs", "":
		if cfg.Queue.OutboundQueueURL == "" {
			return nil, noop, errors.New("queue.outbound_queue_url is required for the sqs outbound driver")
		}
		client, err := sqs.NewClient(ctx, cfg.Queue)
		if err != nil {
			return nil, noop, err
		}
		return sqs.NewPublisher(client, cfg.Queue.OutboundQueueURL), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown outbound driver %q", cfg.Outbound.Driver)
	}
}

func mintTable(cfg config.SolanaConfig) domain.MintTable {
	mints := make([]domain.Mint, 0, len(cfg.Mints))
	for code, m := range cfg.Mints {
		mints = append(mints, domain.Mint{Currency: code, Address: m.Address, Decimals: m.Decimals})
	}
	return domain.NewMintTable(mints...)
}
