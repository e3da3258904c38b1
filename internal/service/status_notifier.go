package service

import (
	"context"
	"time"

	"anchor-payout/internal/core/domain"
	"anchor-payout/internal/core/ports"
	"anchor-payout/internal/metrics"
	"anchor-payout/pkg/apperror"

	"github.com/rs/zerolog"
)

// StatusNotifierImpl implements ports.StatusNotifier. It stamps each update
// with the service token so the receiver can authenticate it.
type StatusNotifierImpl struct {
	publisher ports.StatusPublisher
	identity  ports.IdentityClient
	source    string
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

// NewStatusNotifier creates a notifier. A nil publisher disables
// notifications; a nil identity client sends updates without a token.
func NewStatusNotifier(
	publisher ports.StatusPublisher,
	identity ports.IdentityClient,
	source string,
	m *metrics.Metrics,
	log zerolog.Logger,
) *StatusNotifierImpl {
	return &StatusNotifierImpl{
		publisher: publisher,
		identity:  identity,
		source:    source,
		metrics:   m,
		log:       log,
	}
}

// Notify publishes a STATUS_UPDATE for txn. Errors are NotificationErrors;
// callers log them and carry on.
func (n *StatusNotifierImpl) Notify(ctx context.Context, txn *domain.Transaction) error {
	if n.publisher == nil {
		n.log.Warn().Str("reference", txn.Reference).Msg("outbound queue not configured; status update skipped")
		return nil
	}

	var token string
	if n.identity != nil {
		var err error
		token, err = n.identity.ServiceToken(ctx)
		if err != nil {
			n.metrics.Notifications.WithLabelValues(metrics.ResultError).Inc()
			return apperror.ErrNotification(err)
		}
	}

	msg := domain.NewStatusMessage(txn, n.source, token, time.Now())
	if err := n.publisher.Publish(ctx, msg); err != nil {
		n.metrics.Notifications.WithLabelValues(metrics.ResultError).Inc()
		return apperror.ErrNotification(err)
	}

	n.metrics.Notifications.WithLabelValues(metrics.ResultSuccess).Inc()
	n.log.Info().
		Str("reference", txn.Reference).
		Str("status", string(txn.Status)).
		Str("idempotency_key", msg.MetaData.IdempotencyKey).
		Msg("status update published")
	return nil
}
