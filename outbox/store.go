package outbox

import (
	"context"
	"time"

	"github.com/syssam/strata/dialect"
)

// Store persists messages. Save runs on the session carried by ctx, so the
// message is written in the caller's transaction; the other methods are
// used by the relay outside any transaction.
type Store interface {
	// Save persists a new message.
	Save(ctx context.Context, m *Message) error
	// MarkEligible marks the messages of a committed transaction deliverable.
	MarkEligible(ctx context.Context, txID string) (int64, error)
	// PromoteOrphans marks deliverable the persisted messages created
	// before the given time that were never marked eligible. Messages of
	// rolled back transactions are never persisted, so every such message
	// belongs to a committed transaction whose commit hook did not run.
	PromoteOrphans(ctx context.Context, createdBefore time.Time) (int64, error)
	// ListDeliverable returns up to limit eligible pending messages due at
	// now and not leased, oldest first.
	ListDeliverable(ctx context.Context, now time.Time, limit int) ([]*Message, error)
	// Claim leases a message until the given time. It reports false if the
	// message is leased by another relay or no longer pending.
	Claim(ctx context.Context, id string, now, until time.Time) (bool, error)
	// MarkSent records a successful delivery.
	MarkSent(ctx context.Context, id string, at time.Time) error
	// MarkRetry records a failed attempt and schedules the next one.
	MarkRetry(ctx context.Context, id string, retryCount int, next time.Time, lastErr string) error
	// MarkFailed records the final failed attempt.
	MarkFailed(ctx context.Context, id string, retryCount int, lastErr string) error
}

// AdapterStore is a Store writing through an adapter. The Coordinator only
// accepts stores on the adapter of its transaction manager, so Save runs in
// the transaction the manager started.
type AdapterStore interface {
	Store
	Adapter() dialect.Adapter
}
