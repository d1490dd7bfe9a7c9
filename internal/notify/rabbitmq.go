package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"agri-token-ledger/internal/logger"
)

// RabbitPublisher publishes events to a durable topic exchange. The event
// type is the routing key.
type RabbitPublisher struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	log      *logger.Logger
}

// NewRabbitPublisher dials amqpURL and declares exchange.
func NewRabbitPublisher(amqpURL, exchange string, log *logger.Logger) (*RabbitPublisher, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	// Bounded dial so startup does not hang
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	p := &RabbitPublisher{conn: conn, exchange: exchange, log: logger.OrNop(log)}
	if err := p.reopen(); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

// reopen opens a fresh channel and declares the exchange. Caller holds mu
// or has exclusive access.
func (p *RabbitPublisher) reopen() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		p.exchange, // name
		"topic",    // type
		true,       // durable
		false,      // autoDelete
		false,      // internal
		false,      // noWait
		nil,        // args
	); err != nil {
		ch.Close()
		return fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}
	p.channel = ch
	return nil
}

// Publish sends the event, reopening the channel once on failure.
func (p *RabbitPublisher) Publish(ctx context.Context, eventType string, payload any) error {
	body, err := json.Marshal(NewEvent(eventType, payload))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx, p.exchange, eventType, false, false, msg)
	if err == nil {
		return nil
	}

	p.log.Warn("publish failed; reopening channel", "exchange", p.exchange, "routing_key", eventType, "error", err)
	if reopenErr := p.reopen(); reopenErr != nil {
		return errors.Join(err, reopenErr)
	}
	return p.channel.PublishWithContext(ctx, p.exchange, eventType, false, false, msg)
}

// Close closes the channel and connection.
func (p *RabbitPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("parse amqp url: %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// Verify interface compliance at compile time.
var (
	_ Notifier = (*RabbitPublisher)(nil)
	_ Notifier = Nop{}
	_ Notifier = (*Recorder)(nil)
)
