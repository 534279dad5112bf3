package amqp

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata/outbox"
)

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	pubs     []published
	err      error
	confirms chan amqp.Confirmation
	ack      bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.pubs = append(f.pubs, published{exchange, key, msg})
	if f.confirms != nil {
		f.confirms <- amqp.Confirmation{DeliveryTag: uint64(len(f.pubs)), Ack: f.ack}
	}
	return nil
}

func message() *outbox.Message {
	m := outbox.NewMessage(outbox.Target{Topic: "billing", Service: "invoices", Function: "createInvoice"},
		[]byte(`{"orderId":1}`), "tx-1", time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	m.RetryCount = 2
	return m
}

func TestPublish(t *testing.T) {
	ch := &fakeChannel{}
	p, err := NewPublisher(ch, WithExchange("events"))
	require.NoError(t, err)
	m := message()
	require.NoError(t, p.Publish(context.Background(), m))

	require.Len(t, ch.pubs, 1)
	got := ch.pubs[0]
	assert.Equal(t, "events", got.exchange)
	assert.Equal(t, "billing", got.key)
	assert.Equal(t, m.ID, got.msg.MessageId)
	assert.Equal(t, "invoices.createInvoice", got.msg.Type)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	assert.Equal(t, `{"orderId":1}`, string(got.msg.Body))
	assert.Equal(t, amqp.Table{
		"service": "invoices", "function": "createInvoice", "transaction_id": "tx-1", "retry_count": int32(2),
	}, got.msg.Headers)
	assert.NoError(t, got.msg.Headers.Validate())
}

func TestPublishConfirms(t *testing.T) {
	confirms := make(chan amqp.Confirmation, 1)
	ch := &fakeChannel{confirms: confirms, ack: true}
	p, err := NewPublisher(ch, WithConfirms(confirms, time.Second))
	require.NoError(t, err)
	require.NoError(t, p.Publish(context.Background(), message()))

	ch.ack = false
	assert.ErrorIs(t, p.Publish(context.Background(), message()), ErrNacked)

	ch.confirms = nil
	p.timeout = time.Millisecond
	assert.ErrorIs(t, p.Publish(context.Background(), message()), ErrConfirmTimeout)

	close(confirms)
	assert.ErrorIs(t, p.Publish(context.Background(), message()), ErrClosed)
}

func TestPublishErrors(t *testing.T) {
	_, err := NewPublisher(nil)
	assert.ErrorIs(t, err, ErrChannelRequired)

	ch := &fakeChannel{err: amqp.ErrClosed}
	p, err := NewPublisher(ch)
	require.NoError(t, err)
	err = p.Publish(context.Background(), message())
	assert.ErrorIs(t, err, amqp.ErrClosed)
	assert.False(t, outbox.IsPermanent(err))

	ch.err = &amqp.Error{Code: amqp.AccessRefused, Reason: "no access to exchange"}
	err = p.Publish(context.Background(), message())
	assert.True(t, outbox.IsPermanent(err))

	ch.err = errors.New("write: broken pipe")
	assert.False(t, outbox.IsPermanent(p.Publish(context.Background(), message())))
}
