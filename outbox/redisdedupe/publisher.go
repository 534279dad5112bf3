package redisdedupe

import (
	"context"

	"github.com/syssam/strata/outbox"
)

// Publisher wraps an outbox publisher so that a message already published
// is not published again when the relay retries it, as happens when the
// relay stops between a publish and the status update that follows it.
type Publisher struct {
	guard *Guard
	next  outbox.Publisher
}

// NewPublisher returns a publisher recording published ids in g.
func NewPublisher(g *Guard, next outbox.Publisher) *Publisher {
	return &Publisher{guard: g, next: next}
}

// Publish implements outbox.Publisher.
func (p *Publisher) Publish(ctx context.Context, m *outbox.Message) error {
	seen, err := p.guard.Seen(ctx, m.ID)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}
	if err := p.next.Publish(ctx, m); err != nil {
		return err
	}
	// Not recording the id only risks a duplicate publish.
	_, _ = p.guard.FirstDelivery(ctx, m.ID)
	return nil
}

var _ outbox.Publisher = (*Publisher)(nil)
