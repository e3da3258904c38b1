package service

import (
	"context"
	"encoding/json"
	"time"

	"anchor-payout/internal/core/domain"
	"anchor-payout/internal/core/ports"
	"anchor-payout/internal/metrics"
	"anchor-payout/pkg/apperror"

	"github.com/rs/zerolog"
)

// ConsumerOptions tunes one InboxConsumer.
type ConsumerOptions struct {
	BatchSize         int
	VisibilityTimeout time.Duration
	// VerifySource enables the identity scope check on meta_data.token.
	VerifySource  bool
	RequiredScope string
}

// ConsumeSummary counts what one cycle did with the received messages.
type ConsumeSummary struct {
	Received   int
	Stored     int
	Duplicates int
	Malformed  int
	Rejected   int
	Deferred   int
}

// InboxConsumer moves messages from the inbound queue into the inbox.
// A message is deleted from the queue only once its entry is durable.
type InboxConsumer struct {
	receiver ports.QueueReceiver
	inbox    ports.InboxRepository
	store    ports.HealthChecker
	identity ports.IdentityClient
	opts     ConsumerOptions
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// NewInboxConsumer creates an InboxConsumer. store is pinged after a failed
// insert to tell a bad row from an unreachable database.
func NewInboxConsumer(
	receiver ports.QueueReceiver,
	inbox ports.InboxRepository,
	store ports.HealthChecker,
	identity ports.IdentityClient,
	opts ConsumerOptions,
	m *metrics.Metrics,
	log zerolog.Logger,
) *InboxConsumer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	return &InboxConsumer{
		receiver: receiver,
		inbox:    inbox,
		store:    store,
		identity: identity,
		opts:     opts,
		metrics:  m,
		log:      log,
	}
}

// RunCycle receives one batch and handles each message. It returns an error
// only when the inbox store is unreachable.
func (c *InboxConsumer) RunCycle(ctx context.Context) (*ConsumeSummary, error) {
	summary := &ConsumeSummary{}

	msgs, err := c.receiver.Receive(ctx, c.opts.BatchSize, c.opts.VisibilityTimeout)
	if err != nil {
		c.log.Error().Err(err).Msg("receive from inbound queue failed")
		return summary, nil
	}
	summary.Received = len(msgs)

	for _, m := range msgs {
		if ctx.Err() != nil {
			c.log.Info().Int("left", summary.Received-c.handled(summary)).Msg("shutdown requested; leaving remaining messages in queue")
			break
		}
		if err := c.handle(context.WithoutCancel(ctx), m, summary); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

func (c *InboxConsumer) handled(s *ConsumeSummary) int {
	return s.Stored + s.Duplicates + s.Malformed + s.Rejected + s.Deferred
}

func (c *InboxConsumer) handle(ctx context.Context, m ports.QueueMessage, summary *ConsumeSummary) error {
	log := c.log.With().Str("queue_message_id", m.ID).Logger()

	msg, err := domain.ParseInboundMessage(m.Body)
	if err != nil {
		appErr := apperror.ErrMalformedMessage("cannot decode inbound message", err)
		log.Warn().Err(appErr).Msg("malformed message left in queue")
		c.metrics.ConsumerMessages.WithLabelValues(metrics.OutcomeMalformed).Inc()
		summary.Malformed++
		return nil
	}
	log = log.With().
		Str("message_id", msg.MetaData.IdempotencyKey).
		Str("reference", msg.Payload.Reference).
		Logger()

	if c.opts.VerifySource && c.identity != nil {
		allowed, verr := c.verify(ctx, msg)
		if verr != nil {
			log.Warn().Err(verr).Msg("source verification unavailable; message left in queue")
			c.metrics.ConsumerMessages.WithLabelValues(metrics.OutcomeDeferred).Inc()
			summary.Deferred++
			return nil
		}
		if !allowed.Authorised {
			appErr := apperror.ErrUnauthorizedSource(allowed.Message)
			log.Warn().Err(appErr).Msg("message rejected")
			c.metrics.ConsumerMessages.WithLabelValues(metrics.OutcomeUnauthorized).Inc()
			summary.Rejected++
			c.ack(ctx, m, log)
			return nil
		}
	}

	entry := &domain.InboxEntry{
		MessageID:            msg.MetaData.IdempotencyKey,
		ReceiptHandle:        m.ReceiptHandle,
		MessageBody:          json.RawMessage(m.Body),
		TransactionReference: msg.Payload.Reference,
		ReceivedAt:           time.Now().UTC(),
	}

	created, err := c.inbox.Insert(ctx, entry)
	if err != nil {
		log.Error().Err(err).Msg("inbox insert failed; message left in queue")
		c.metrics.ConsumerMessages.WithLabelValues(metrics.OutcomeStoreError).Inc()
		if pingErr := c.store.Ping(ctx); pingErr != nil {
			return apperror.ErrDatabaseError(pingErr)
		}
		summary.Deferred++
		return nil
	}

	if created {
		log.Info().Int64("entry_id", entry.ID).Msg("message stored in inbox")
		c.metrics.ConsumerMessages.WithLabelValues(metrics.OutcomeStored).Inc()
		summary.Stored++
	} else {
		log.Info().Str("code", apperror.CodeDuplicateMessage).Msg("duplicate message acknowledged")
		c.metrics.ConsumerMessages.WithLabelValues(metrics.OutcomeDuplicate).Inc()
		summary.Duplicates++
	}

	c.ack(ctx, m, log)
	return nil
}

func (c *InboxConsumer) verify(ctx context.Context, msg *domain.InboundMessage) (*ports.ScopeCheck, error) {
	serviceToken, err := c.identity.ServiceToken(ctx)
	if err != nil {
		return nil, err
	}
	return c.identity.CheckScope(ctx, serviceToken, msg.MetaData.Token, c.opts.RequiredScope)
}

// ack deletes the message. A failed delete only means a redelivery, which
// the inbox deduplicates.
func (c *InboxConsumer) ack(ctx context.Context, m ports.QueueMessage, log zerolog.Logger) {
	if err := c.receiver.Delete(ctx, m.ReceiptHandle); err != nil {
		log.Warn().Err(err).Msg("delete from inbound queue failed")
	}
}
