// Package amqp publishes outbox messages to a RabbitMQ exchange.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/syssam/strata/outbox"
)

// Publish errors.
var (
	ErrChannelRequired = errors.New("outbox/amqp: channel is required")
	ErrNacked          = errors.New("outbox/amqp: message was nacked by broker")
	ErrConfirmTimeout  = errors.New("outbox/amqp: confirmation timed out")
	ErrClosed          = errors.New("outbox/amqp: confirmation stream closed")
)

// DefaultConfirmTimeout is the default time to wait for a broker confirmation.
const DefaultConfirmTimeout = 5 * time.Second

// Channel is the part of *amqp.Channel the publisher uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher implements outbox.Publisher. The routing key is the message
// topic; the target function travels in headers.
type Publisher struct {
	ch       Channel
	exchange string
	timeout  time.Duration
	confirms <-chan amqp.Confirmation
	mu       sync.Mutex
}

var _ outbox.Publisher = (*Publisher)(nil)

// Option configures a Publisher.
type Option func(*Publisher)

// WithExchange sets the exchange messages are published to. It defaults
// to the default exchange, which routes on queue names.
func WithExchange(name string) Option {
	return func(p *Publisher) { p.exchange = name }
}

// WithConfirms makes Publish wait for the broker confirmation of every
// message on confirms, as returned by Channel.NotifyPublish on a channel
// in confirm mode.
func WithConfirms(confirms <-chan amqp.Confirmation, timeout time.Duration) Option {
	return func(p *Publisher) {
		p.confirms = confirms
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// NewPublisher returns a publisher on ch.
func NewPublisher(ch Channel, opts ...Option) (*Publisher, error) {
	if ch == nil {
		return nil, ErrChannelRequired
	}
	p := &Publisher{ch: ch, timeout: DefaultConfirmTimeout}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Dial connects to url and returns a publisher on a new channel in
// confirm mode. Closing the returned connection closes the channel.
func Dial(url string, opts ...Option) (*Publisher, *amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("outbox/amqp: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, errors.Join(fmt.Errorf("outbox/amqp: open channel: %w", err), conn.Close())
	}
	if err := ch.Confirm(false); err != nil {
		return nil, nil, errors.Join(fmt.Errorf("outbox/amqp: confirm mode: %w", err), conn.Close())
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 256))
	p, err := NewPublisher(ch, append([]Option{WithConfirms(confirms, DefaultConfirmTimeout)}, opts...)...)
	if err != nil {
		return nil, nil, errors.Join(err, conn.Close())
	}
	return p, conn, nil
}

// Publish implements outbox.Publisher. Calls are serialized so that
// confirmations arrive in publish order.
func (p *Publisher) Publish(ctx context.Context, m *outbox.Message) error {
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    m.ID,
		Timestamp:    m.CreatedAt,
		Type:         m.Service + "." + m.Function,
		Headers: amqp.Table{
			"service":        m.Service,
			"function":       m.Function,
			"transaction_id": m.TransactionID,
			"retry_count":    int32(m.RetryCount),
		},
		Body: m.Payload,
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, p.exchange, m.Topic, false, false, msg); err != nil {
		var aerr *amqp.Error
		if errors.As(err, &aerr) && !aerr.Recover && aerr.Code == amqp.AccessRefused {
			return outbox.Permanent(fmt.Errorf("outbox/amqp: publish: %w", err))
		}
		return fmt.Errorf("outbox/amqp: publish: %w", err)
	}
	if p.confirms == nil {
		return nil
	}
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case c, ok := <-p.confirms:
		if !ok {
			return ErrClosed
		}
		if !c.Ack {
			return ErrNacked
		}
		return nil
	case <-timer.C:
		return ErrConfirmTimeout
	case <-ctx.Done():
		return fmt.Errorf("outbox/amqp: waiting for confirmation: %w", ctx.Err())
	}
}
