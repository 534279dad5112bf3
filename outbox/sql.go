package outbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/materialize"
	"github.com/syssam/strata/schema"
)

// DefaultTable is the name of the outbox table.
const DefaultTable = "strata_outbox"

const columns = "id, topic, service, function_name, payload, transaction_id, status, eligible, " +
	"retry_count, last_error, next_attempt_at, lease_until, created_at, updated_at, sent_at"

// SQLStore is a Store on a relational adapter. Messages live in one table
// created by CreateTable.
type SQLStore struct {
	adapter dialect.Adapter
	table   string
}

// SQLOption configures an SQLStore.
type SQLOption func(*SQLStore)

// WithTable sets the table name. It defaults to DefaultTable.
func WithTable(name string) SQLOption {
	return func(s *SQLStore) { s.table = name }
}

// NewSQLStore returns a store on the adapter's schema.
func NewSQLStore(a dialect.Adapter, opts ...SQLOption) (*SQLStore, error) {
	if a.Dialect() == dialect.Mongo {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDialect, a.Dialect())
	}
	s := &SQLStore{adapter: a, table: DefaultTable}
	for _, opt := range opts {
		opt(s)
	}
	if !schema.IsIdentifier(s.table) {
		return nil, fmt.Errorf("outbox: invalid table name %q", s.table)
	}
	return s, nil
}

// Adapter returns the adapter the store writes through.
func (s *SQLStore) Adapter() dialect.Adapter {
	return s.adapter
}

// Table returns the qualified table name.
func (s *SQLStore) Table() string {
	return schema.QualifiedTable(s.adapter.SchemaName(), s.table)
}

// DDL returns the statements creating the outbox table and its index.
func (s *SQLStore) DDL() []string {
	ts, text, boolean := "TIMESTAMP", "TEXT", "BOOLEAN"
	switch s.adapter.Dialect() {
	case dialect.Postgres:
		ts = "TIMESTAMPTZ"
	case dialect.MySQL:
		ts, text = "DATETIME(6)", "LONGTEXT"
	}
	create := "CREATE TABLE IF NOT EXISTS " + s.Table() + " (" +
		"id VARCHAR(36) NOT NULL PRIMARY KEY, " +
		"topic VARCHAR(255) NOT NULL, " +
		"service VARCHAR(255) NOT NULL, " +
		"function_name VARCHAR(255) NOT NULL, " +
		"payload " + text + " NOT NULL, " +
		"transaction_id VARCHAR(36) NOT NULL, " +
		"status VARCHAR(16) NOT NULL, " +
		"eligible " + boolean + " NOT NULL, " +
		"retry_count INTEGER NOT NULL, " +
		"last_error " + text + ", " +
		"next_attempt_at " + ts + " NOT NULL, " +
		"lease_until " + ts + ", " +
		"created_at " + ts + " NOT NULL, " +
		"updated_at " + ts + " NOT NULL, " +
		"sent_at " + ts + ")"
	index := "CREATE INDEX " + s.table + "_deliverable ON " + s.Table() + " (status, eligible, next_attempt_at)"
	if s.adapter.Dialect() != dialect.MySQL {
		index = "CREATE INDEX IF NOT EXISTS " + s.table + "_deliverable ON " + s.Table() + " (status, eligible, next_attempt_at)"
	}
	return []string{create, index}
}

// CreateTable executes DDL.
func (s *SQLStore) CreateTable(ctx context.Context) error {
	for _, stmt := range s.DDL() {
		if _, err := s.adapter.ExecuteCommand(ctx, stmt, nil); err != nil {
			return fmt.Errorf("outbox: create table: %w", err)
		}
	}
	return nil
}

// args collects statement arguments and renders their placeholders.
type args struct {
	a    dialect.Adapter
	vals []any
}

func (b *args) add(v any) string {
	b.vals = append(b.vals, v)
	return b.a.ValuePlaceholder(len(b.vals))
}

// Save implements Store.
func (s *SQLStore) Save(ctx context.Context, m *Message) error {
	var sentAt any
	if m.SentAt != nil {
		sentAt = m.SentAt.UTC()
	}
	b := &args{a: s.adapter}
	vals := []string{
		b.add(m.ID), b.add(m.Topic), b.add(m.Service), b.add(m.Function), b.add(string(m.Payload)),
		b.add(m.TransactionID), b.add(string(m.Status)), b.add(m.Eligible), b.add(m.RetryCount),
		b.add(m.LastError), b.add(m.NextAttemptAt), b.add(nil), b.add(m.CreatedAt), b.add(m.UpdatedAt),
		b.add(sentAt),
	}
	text := "INSERT INTO " + s.Table() + " (" + columns + ") VALUES (" + strings.Join(vals, ", ") + ")"
	if _, err := s.adapter.ExecuteCommand(ctx, text, b.vals); err != nil {
		return fmt.Errorf("outbox: save message %s: %w", m.ID, err)
	}
	return nil
}

// MarkEligible implements Store.
func (s *SQLStore) MarkEligible(ctx context.Context, txID string) (int64, error) {
	b := &args{a: s.adapter}
	text := "UPDATE " + s.Table() + " SET eligible = " + b.add(true) + ", updated_at = " + b.add(time.Now().UTC()) +
		" WHERE transaction_id = " + b.add(txID) + " AND eligible = " + b.add(false)
	n, err := s.adapter.ExecuteCommand(ctx, text, b.vals)
	if err != nil {
		return 0, fmt.Errorf("outbox: mark transaction %s eligible: %w", txID, err)
	}
	return n, nil
}

// PromoteOrphans implements Store.
func (s *SQLStore) PromoteOrphans(ctx context.Context, createdBefore time.Time) (int64, error) {
	b := &args{a: s.adapter}
	text := "UPDATE " + s.Table() + " SET eligible = " + b.add(true) + ", updated_at = " + b.add(time.Now().UTC()) +
		" WHERE eligible = " + b.add(false) + " AND status = " + b.add(string(StatusPending)) +
		" AND created_at < " + b.add(createdBefore.UTC())
	n, err := s.adapter.ExecuteCommand(ctx, text, b.vals)
	if err != nil {
		return 0, fmt.Errorf("outbox: promote orphans: %w", err)
	}
	return n, nil
}

// ListDeliverable implements Store.
func (s *SQLStore) ListDeliverable(ctx context.Context, now time.Time, limit int) ([]*Message, error) {
	b := &args{a: s.adapter}
	now = now.UTC()
	text := "SELECT " + columns + " FROM " + s.Table() +
		" WHERE status = " + b.add(string(StatusPending)) + " AND eligible = " + b.add(true) +
		" AND next_attempt_at <= " + b.add(now) +
		" AND (lease_until IS NULL OR lease_until < " + b.add(now) + ")" +
		" ORDER BY created_at, id LIMIT " + b.add(limit)
	res, err := s.adapter.ExecuteQuery(ctx, text, b.vals)
	if err != nil {
		return nil, fmt.Errorf("outbox: list deliverable: %w", err)
	}
	rows, err := s.adapter.ResultRows(res)
	if err != nil {
		return nil, fmt.Errorf("outbox: list deliverable: %w", err)
	}
	msgs := make([]*Message, 0, len(rows))
	for _, r := range rows {
		m, err := scan(r)
		if err != nil {
			return nil, fmt.Errorf("outbox: list deliverable: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Claim implements Store.
func (s *SQLStore) Claim(ctx context.Context, id string, now, until time.Time) (bool, error) {
	b := &args{a: s.adapter}
	now = now.UTC()
	text := "UPDATE " + s.Table() + " SET lease_until = " + b.add(until.UTC()) + ", updated_at = " + b.add(now) +
		" WHERE id = " + b.add(id) + " AND status = " + b.add(string(StatusPending)) +
		" AND (lease_until IS NULL OR lease_until < " + b.add(now) + ")"
	n, err := s.adapter.ExecuteCommand(ctx, text, b.vals)
	if err != nil {
		return false, fmt.Errorf("outbox: claim message %s: %w", id, err)
	}
	return n == 1, nil
}

// MarkSent implements Store.
func (s *SQLStore) MarkSent(ctx context.Context, id string, at time.Time) error {
	b := &args{a: s.adapter}
	at = at.UTC()
	text := "UPDATE " + s.Table() + " SET status = " + b.add(string(StatusSent)) + ", sent_at = " + b.add(at) +
		", updated_at = " + b.add(at) + ", lease_until = NULL" +
		" WHERE id = " + b.add(id) + " AND status = " + b.add(string(StatusPending)) + " AND eligible = " + b.add(true)
	return s.transition(ctx, id, StatusSent, text, b.vals)
}

// MarkRetry implements Store.
func (s *SQLStore) MarkRetry(ctx context.Context, id string, retryCount int, next time.Time, lastErr string) error {
	b := &args{a: s.adapter}
	text := "UPDATE " + s.Table() + " SET retry_count = " + b.add(retryCount) + ", next_attempt_at = " + b.add(next.UTC()) +
		", last_error = " + b.add(lastErr) + ", updated_at = " + b.add(time.Now().UTC()) + ", lease_until = NULL" +
		" WHERE id = " + b.add(id) + " AND status = " + b.add(string(StatusPending))
	return s.transition(ctx, id, StatusPending, text, b.vals)
}

// MarkFailed implements Store.
func (s *SQLStore) MarkFailed(ctx context.Context, id string, retryCount int, lastErr string) error {
	b := &args{a: s.adapter}
	text := "UPDATE " + s.Table() + " SET status = " + b.add(string(StatusFailed)) + ", retry_count = " + b.add(retryCount) +
		", last_error = " + b.add(lastErr) + ", updated_at = " + b.add(time.Now().UTC()) + ", lease_until = NULL" +
		" WHERE id = " + b.add(id) + " AND status = " + b.add(string(StatusPending))
	return s.transition(ctx, id, StatusFailed, text, b.vals)
}

// transition executes a status update guarded by the current status.
// No affected row means the message is gone or already final.
func (s *SQLStore) transition(ctx context.Context, id string, to Status, text string, vals []any) error {
	n, err := s.adapter.ExecuteCommand(ctx, text, vals)
	if err != nil {
		return fmt.Errorf("outbox: mark message %s %s: %w", id, to, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: message %s is not pending", ErrInvalidTransition, id)
	}
	return nil
}

func scan(r dialect.Row) (*Message, error) {
	str := func(k string) string {
		v, _ := materialize.Coerce(schema.TypeString, r[k])
		s, _ := v.(string)
		return s
	}
	m := &Message{
		ID:            str("id"),
		Topic:         str("topic"),
		Service:       str("service"),
		Function:      str("function_name"),
		Payload:       []byte(str("payload")),
		TransactionID: str("transaction_id"),
		LastError:     str("last_error"),
	}
	status, err := ParseStatus(str("status"))
	if err != nil {
		return nil, err
	}
	m.Status = status
	eligible, err := materialize.Coerce(schema.TypeBoolean, r["eligible"])
	if err != nil {
		return nil, fmt.Errorf("eligible: %w", err)
	}
	m.Eligible, _ = eligible.(bool)
	retries, err := materialize.Coerce(schema.TypeInteger, r["retry_count"])
	if err != nil {
		return nil, fmt.Errorf("retry_count: %w", err)
	}
	if n, ok := retries.(int64); ok {
		m.RetryCount = int(n)
	}
	for k, dst := range map[string]*time.Time{
		"next_attempt_at": &m.NextAttemptAt,
		"created_at":      &m.CreatedAt,
		"updated_at":      &m.UpdatedAt,
	} {
		v, err := materialize.Coerce(schema.TypeTime, r[k])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		if t, ok := v.(time.Time); ok {
			*dst = t
		}
	}
	if v, err := materialize.Coerce(schema.TypeTime, r["sent_at"]); err != nil {
		return nil, fmt.Errorf("sent_at: %w", err)
	} else if t, ok := v.(time.Time); ok {
		m.SentAt = &t
	}
	return m, nil
}
