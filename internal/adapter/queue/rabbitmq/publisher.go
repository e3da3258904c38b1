// Package rabbitmq publishes status updates to a topic exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"anchor-payout/config"
	"anchor-payout/internal/core/domain"
	"anchor-payout/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Publisher implements ports.StatusPublisher on a durable topic exchange.
type Publisher struct {
	mu         sync.Mutex
	conn       *amqp091.Connection
	channel    *amqp091.Channel
	exchange   string
	routingKey string
	log        zerolog.Logger
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("parse AMQP URL: %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewPublisher dials the broker and declares the exchange.
func NewPublisher(cfg config.RabbitMQConfig, log zerolog.Logger) (*Publisher, error) {
	cleanURL, err := sanitizeAMQPURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	p := &Publisher{
		conn:       conn,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		log:        logger.Component(log, "rabbitmq_publisher"),
	}
	if err := p.reopen(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return p, nil
}

// reopen replaces the channel and re-declares the exchange. Callers hold mu
// or own p exclusively.
func (p *Publisher) reopen() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}
	if p.channel != nil {
		_ = p.channel.Close()
	}
	p.channel = ch
	return nil
}

// Publish sends msg as persistent JSON. A failed publish reopens the
// channel once and retries.
func (p *Publisher) Publish(ctx context.Context, msg domain.OutboundStatusMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal status message: %w", err)
	}

	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    msg.MetaData.IdempotencyKey,
		Timestamp:    time.Now(),
		Type:         msg.MetaData.Event,
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, publishing)
	if err == nil {
		return nil
	}

	p.log.Warn().Err(err).
		Str("exchange", p.exchange).
		Str("routing_key", p.routingKey).
		Msg("publish failed; reopening channel")

	if reErr := p.reopen(); reErr != nil {
		return fmt.Errorf("publish %s: %w", msg.Payload.Reference, errors.Join(err, reErr))
	}
	if err := p.channel.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, publishing); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Payload.Reference, err)
	}
	return nil
}

// Close closes the channel and connection.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
