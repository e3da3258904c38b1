package service

import (
	"context"
	"time"

	"anchor-payout/internal/metrics"

	"github.com/rs/zerolog"
)

// CycleFunc runs one polling cycle. A returned error stops the poller.
type CycleFunc func(ctx context.Context) error

// RunPoller runs cycle immediately and then every interval until ctx is
// cancelled or a cycle fails. Cycles never overlap.
func RunPoller(ctx context.Context, name string, interval time.Duration, cycle CycleFunc, m *metrics.Metrics, log zerolog.Logger) error {
	log = log.With().Str("worker", name).Logger()
	log.Info().Dur("interval", interval).Msg("poller started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		start := time.Now()
		err := cycle(ctx)
		if m != nil {
			m.CycleDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		}
		if err != nil {
			log.Error().Err(err).Msg("cycle failed; stopping")
			return err
		}

		if ctx.Err() != nil {
			log.Info().Msg("poller stopped")
			return nil
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}
