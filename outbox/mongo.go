package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/schema"
)

// MongoStore is a Store on a MongoDB adapter. Messages are documents of
// one collection keyed by message id, with the field names of the SQL
// table.
type MongoStore struct {
	adapter    dialect.Adapter
	collection string
}

// NewMongoStore returns a store on the adapter's database. The collection
// defaults to DefaultTable and is set with WithTable.
func NewMongoStore(a dialect.Adapter, opts ...SQLOption) (*MongoStore, error) {
	if a.Dialect() != dialect.Mongo {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDialect, a.Dialect())
	}
	cfg := &SQLStore{table: DefaultTable}
	for _, opt := range opts {
		opt(cfg)
	}
	if !schema.IsIdentifier(cfg.table) {
		return nil, fmt.Errorf("outbox: invalid collection name %q", cfg.table)
	}
	return &MongoStore{adapter: a, collection: cfg.table}, nil
}

// Adapter returns the adapter the store writes through.
func (s *MongoStore) Adapter() dialect.Adapter {
	return s.adapter
}

// Collection returns the collection name.
func (s *MongoStore) Collection() string {
	return s.collection
}

// CreateIndexes creates the index used by ListDeliverable.
func (s *MongoStore) CreateIndexes(ctx context.Context) error {
	cmd := `{"createIndexes": "` + s.collection + `", "indexes": [{"key": {"status": 1, "eligible": 1, "next_attempt_at": 1}, "name": "` +
		s.collection + `_deliverable"}]}`
	if _, err := s.adapter.ExecuteCommand(ctx, cmd, nil); err != nil {
		return fmt.Errorf("outbox: create indexes: %w", err)
	}
	return nil
}

// Save implements Store.
func (s *MongoStore) Save(ctx context.Context, m *Message) error {
	var sentAt any
	if m.SentAt != nil {
		sentAt = m.SentAt.UTC()
	}
	b := &args{a: s.adapter}
	cmd := `{"insert": "` + s.collection + `", "documents": [{` +
		`"_id": ` + b.add(m.ID) + `, "topic": ` + b.add(m.Topic) + `, "service": ` + b.add(m.Service) +
		`, "function_name": ` + b.add(m.Function) + `, "payload": ` + b.add(string(m.Payload)) +
		`, "transaction_id": ` + b.add(m.TransactionID) + `, "status": ` + b.add(string(m.Status)) +
		`, "eligible": ` + b.add(m.Eligible) + `, "retry_count": ` + b.add(m.RetryCount) +
		`, "last_error": ` + b.add(m.LastError) + `, "next_attempt_at": ` + b.add(m.NextAttemptAt.UTC()) +
		`, "lease_until": null, "created_at": ` + b.add(m.CreatedAt.UTC()) + `, "updated_at": ` + b.add(m.UpdatedAt.UTC()) +
		`, "sent_at": ` + b.add(sentAt) + `}]}`
	if _, err := s.adapter.ExecuteCommand(ctx, cmd, b.vals); err != nil {
		return fmt.Errorf("outbox: save message %s: %w", m.ID, err)
	}
	return nil
}

// update renders a single update command.
func (s *MongoStore) update(filter, set string, multi bool) string {
	return `{"update": "` + s.collection + `", "updates": [{"q": ` + filter + `, "u": {"$set": ` + set +
		`}, "multi": ` + fmt.Sprint(multi) + `}]}`
}

// MarkEligible implements Store.
func (s *MongoStore) MarkEligible(ctx context.Context, txID string) (int64, error) {
	b := &args{a: s.adapter}
	cmd := s.update(
		`{"transaction_id": `+b.add(txID)+`, "eligible": false}`,
		`{"eligible": true, "updated_at": `+b.add(time.Now().UTC())+`}`,
		true,
	)
	n, err := s.adapter.ExecuteCommand(ctx, cmd, b.vals)
	if err != nil {
		return 0, fmt.Errorf("outbox: mark transaction %s eligible: %w", txID, err)
	}
	return n, nil
}

// PromoteOrphans implements Store.
func (s *MongoStore) PromoteOrphans(ctx context.Context, createdBefore time.Time) (int64, error) {
	b := &args{a: s.adapter}
	cmd := s.update(
		`{"eligible": false, "status": `+b.add(string(StatusPending))+`, "created_at": {"$lt": `+b.add(createdBefore.UTC())+`}}`,
		`{"eligible": true, "updated_at": `+b.add(time.Now().UTC())+`}`,
		true,
	)
	n, err := s.adapter.ExecuteCommand(ctx, cmd, b.vals)
	if err != nil {
		return 0, fmt.Errorf("outbox: promote orphans: %w", err)
	}
	return n, nil
}

// ListDeliverable implements Store.
func (s *MongoStore) ListDeliverable(ctx context.Context, now time.Time, limit int) ([]*Message, error) {
	b := &args{a: s.adapter}
	now = now.UTC()
	cmd := `{"find": "` + s.collection + `", "filter": {"status": ` + b.add(string(StatusPending)) +
		`, "eligible": true, "next_attempt_at": {"$lte": ` + b.add(now) + `}, "$or": [{"lease_until": null}, {"lease_until": {"$lt": ` +
		b.add(now) + `}}]}, "sort": {"created_at": 1, "_id": 1}, "limit": ` + b.add(limit) + `}`
	res, err := s.adapter.ExecuteQuery(ctx, cmd, b.vals)
	if err != nil {
		return nil, fmt.Errorf("outbox: list deliverable: %w", err)
	}
	rows, err := s.adapter.ResultRows(res)
	if err != nil {
		return nil, fmt.Errorf("outbox: list deliverable: %w", err)
	}
	msgs := make([]*Message, 0, len(rows))
	for _, r := range rows {
		r["id"] = r["_id"]
		m, err := scan(r)
		if err != nil {
			return nil, fmt.Errorf("outbox: list deliverable: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Claim implements Store.
func (s *MongoStore) Claim(ctx context.Context, id string, now, until time.Time) (bool, error) {
	b := &args{a: s.adapter}
	now = now.UTC()
	cmd := s.update(
		`{"_id": `+b.add(id)+`, "status": `+b.add(string(StatusPending))+
			`, "$or": [{"lease_until": null}, {"lease_until": {"$lt": `+b.add(now)+`}}]}`,
		`{"lease_until": `+b.add(until.UTC())+`, "updated_at": `+b.add(now)+`}`,
		false,
	)
	n, err := s.adapter.ExecuteCommand(ctx, cmd, b.vals)
	if err != nil {
		return false, fmt.Errorf("outbox: claim message %s: %w", id, err)
	}
	return n == 1, nil
}

// MarkSent implements Store.
func (s *MongoStore) MarkSent(ctx context.Context, id string, at time.Time) error {
	b := &args{a: s.adapter}
	at = at.UTC()
	cmd := s.update(
		`{"_id": `+b.add(id)+`, "status": `+b.add(string(StatusPending))+`, "eligible": true}`,
		`{"status": `+b.add(string(StatusSent))+`, "sent_at": `+b.add(at)+`, "updated_at": `+b.add(at)+`, "lease_until": null}`,
		false,
	)
	return s.transition(ctx, id, StatusSent, cmd, b.vals)
}

// MarkRetry implements Store.
func (s *MongoStore) MarkRetry(ctx context.Context, id string, retryCount int, next time.Time, lastErr string) error {
	b := &args{a: s.adapter}
	cmd := s.update(
		`{"_id": `+b.add(id)+`, "status": `+b.add(string(StatusPending))+`}`,
		`{"retry_count": `+b.add(retryCount)+`, "next_attempt_at": `+b.add(next.UTC())+`, "last_error": `+b.add(lastErr)+
			`, "updated_at": `+b.add(time.Now().UTC())+`, "lease_until": null}`,
		false,
	)
	return s.transition(ctx, id, StatusPending, cmd, b.vals)
}

// MarkFailed implements Store.
func (s *MongoStore) MarkFailed(ctx context.Context, id string, retryCount int, lastErr string) error {
	b := &args{a: s.adapter}
	cmd := s.update(
		`{"_id": `+b.add(id)+`, "status": `+b.add(string(StatusPending))+`}`,
		`{"status": `+b.add(string(StatusFailed))+`, "retry_count": `+b.add(retryCount)+`, "last_error": `+b.add(lastErr)+
			`, "updated_at": `+b.add(time.Now().UTC())+`, "lease_until": null}`,
		false,
	)
	return s.transition(ctx, id, StatusFailed, cmd, b.vals)
}

func (s *MongoStore) transition(ctx context.Context, id string, to Status, cmd string, vals []any) error {
	n, err := s.adapter.ExecuteCommand(ctx, cmd, vals)
	if err != nil {
		return fmt.Errorf("outbox: mark message %s %s: %w", id, to, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: message %s is not pending", ErrInvalidTransition, id)
	}
	return nil
}

var (
	_ Store = (*SQLStore)(nil)
	_ Store = (*MongoStore)(nil)
)
