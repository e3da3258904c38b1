// Package metrics holds the Prometheus collectors shared by the workers and
// the operator API.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "payout"

// Consumer outcomes.
const (
	OutcomeStored       = "stored"
	OutcomeDuplicate    = "duplicate"
	OutcomeMalformed    = "malformed"
	OutcomeUnauthorized = "unauthorized"
	OutcomeDeferred     = "deferred"
	OutcomeStoreError   = "store_error"
)

// Processor outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// Results for calls to external systems.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

type Metrics struct {
	ConsumerMessages *prometheus.CounterVec
	ProcessorEntries *prometheus.CounterVec
	ChainTransfers   *prometheus.CounterVec
	Notifications    *prometheus.CounterVec
	CycleDuration    *prometheus.HistogramVec
	HTTPRequests     *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ConsumerMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "messages_total",
			Help:      "Inbound queue messages by outcome.",
		}, []string{"outcome"}),
		ProcessorEntries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "entries_total",
			Help:      "Inbox entries processed by outcome and error code.",
		}, []string{"outcome", "code"}),
		ChainTransfers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "transfers_total",
			Help:      "Token transfers submitted by result and currency.",
		}, []string{"result", "currency"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "status_updates_total",
			Help:      "Outbound status updates by result.",
		}, []string{"result"}),
		CycleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one poll cycle.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"worker"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Operator API requests by method, route and status.",
		}, []string{"method", "route", "status"}),
	}
}

// Handler exposes the collectors gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve runs a /metrics listener on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Metrics listener started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
