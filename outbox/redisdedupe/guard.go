// Package redisdedupe makes outbox consumers idempotent.
//
// The relay delivers every message at least once, so a consumer may see
// the same message id more than once. A Guard remembers the ids a
// consumer has handled:
//
//	first, err := guard.FirstDelivery(ctx, delivery.MessageId)
//	if err != nil || !first {
//		return err
//	}
//	if err := handle(delivery); err != nil {
//		// Let a redelivery try again.
//		return errors.Join(err, guard.Forget(ctx, delivery.MessageId))
//	}
package redisdedupe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a handled message id is remembered. It must
	// exceed the longest delivery retry window of the relay.
	DefaultTTL = 7 * 24 * time.Hour
	// DefaultPrefix prefixes every key written by a Guard.
	DefaultPrefix = "strata:outbox:seen:"
)

// ErrEmptyID is returned for an empty message id.
var ErrEmptyID = errors.New("redisdedupe: message id is required")

// Guard records handled message ids in Redis.
type Guard struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// Option configures a Guard.
type Option func(*Guard)

// WithPrefix sets the key prefix, for example one per consumer group.
func WithPrefix(p string) Option {
	return func(g *Guard) { g.prefix = p }
}

// WithTTL sets how long ids are remembered.
func WithTTL(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.ttl = d
		}
	}
}

// New returns a guard on client.
func New(client redis.Cmdable, opts ...Option) *Guard {
	g := &Guard{client: client, prefix: DefaultPrefix, ttl: DefaultTTL}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// FirstDelivery records id and reports whether this is the first time it
// was seen. Concurrent consumers racing on the same id see exactly one true.
func (g *Guard) FirstDelivery(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, ErrEmptyID
	}
	ok, err := g.client.SetNX(ctx, g.prefix+id, time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redisdedupe: record %s: %w", id, err)
	}
	return ok, nil
}

// Seen reports whether id was recorded.
func (g *Guard) Seen(ctx context.Context, id string) (bool, error) {
	n, err := g.client.Exists(ctx, g.prefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("redisdedupe: lookup %s: %w", id, err)
	}
	return n == 1, nil
}

// Forget removes id, so that its next delivery is handled again.
func (g *Guard) Forget(ctx context.Context, id string) error {
	if err := g.client.Del(ctx, g.prefix+id).Err(); err != nil {
		return fmt.Errorf("redisdedupe: forget %s: %w", id, err)
	}
	return nil
}
