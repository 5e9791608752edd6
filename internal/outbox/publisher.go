package outbox

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"chathub_backend/platform/config"
	"chathub_backend/platform/logger"
)

// Publisher pushes stored events to a RabbitMQ topic exchange. The event
// name doubles as the routing key and the outbox row id as the message id,
// so consumers can deduplicate redeliveries.
type Publisher struct {
	url      string
	exchange string
	log      *logger.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher creates a broker publisher. The connection is established
// lazily on first publish and re-established after failures.
func NewPublisher(cfg config.BrokerConfig, log *logger.Logger) *Publisher {
	return &Publisher{
		url:      cfg.GetBrokerURL(),
		exchange: cfg.GetBrokerExchange(),
		log:      log,
	}
}

func (p *Publisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}

	if p.conn == nil || p.conn.IsClosed() {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return nil, fmt.Errorf("broker dial: %w", err)
		}
		p.conn = conn
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("broker channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", p.exchange, err)
	}

	p.ch = ch
	return ch, nil
}

// Publish sends one outbox record to the exchange as a persistent JSON
// message.
func (p *Publisher) Publish(ctx context.Context, rec Record) error {
	if p == nil {
		return fmt.Errorf("outbox publisher not configured")
	}

	ch, err := p.channel()
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx, p.exchange, rec.EventName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    rec.ID.String(),
		Timestamp:    rec.CreatedAt,
		Type:         rec.EventName,
		AppId:        "chathub-backend",
		Body:         rec.Payload,
	})
	if err != nil {
		// Drop the channel so the next publish redials.
		p.mu.Lock()
		p.ch = nil
		p.mu.Unlock()
		return fmt.Errorf("publish %s: %w", rec.EventName, err)
	}
	return nil
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}
