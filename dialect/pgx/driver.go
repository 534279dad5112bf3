package pgx

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/syssam/strata/dialect"
)

// Querier runs statements. It is implemented by *pgxpool.Pool,
// *pgxpool.Conn and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Conn is a connection acquired from a Pool.
type Conn interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
	Release()
}

// Pool is the connection pool of an Adapter.
type Pool interface {
	Querier
	Acquire(ctx context.Context) (Conn, error)
	Close()
}

// Adapter is a dialect.Adapter on a pgx pool.
type Adapter struct {
	pool   Pool
	schema string
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithSchema sets the schema qualifying every storage name.
func WithSchema(name string) Option {
	return func(a *Adapter) {
		a.schema = name
	}
}

// Open creates a pgxpool pool for the connection string and returns its
// Adapter.
func Open(ctx context.Context, connString string, opts ...Option) (*Adapter, error) {
	p, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("dialect/pgx: open: %w", err)
	}
	return New(FromPool(p), opts...), nil
}

// New returns an Adapter on the given pool.
func New(p Pool, opts ...Option) *Adapter {
	a := &Adapter{pool: p}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Close closes the pool.
func (a *Adapter) Close() { a.pool.Close() }

// Dialect implements the dialect.Adapter method.
func (a *Adapter) Dialect() string { return dialect.Postgres }

// SchemaName implements the dialect.Adapter method.
func (a *Adapter) SchemaName() string { return a.schema }

// ValuePlaceholder implements the dialect.Adapter method.
func (a *Adapter) ValuePlaceholder(i int) string { return "$" + strconv.Itoa(i) }

// RowLockingClause implements the dialect.Adapter method.
func (a *Adapter) RowLockingClause(alias string) string { return "FOR UPDATE OF " + alias }

// StartSession acquires a connection for the caller.
func (a *Adapter) StartSession(ctx context.Context) (dialect.Session, error) {
	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("dialect/pgx: start session: %w", err)
	}
	return &Session{conn: conn, adapter: a}, nil
}

// ExecuteQuery implements the dialect.Adapter method. Rows are read
// eagerly so the connection is free for the next statement.
func (a *Adapter) ExecuteQuery(ctx context.Context, query string, args []any) (dialect.Result, error) {
	rows, err := a.querier(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dialect/pgx: query: %w", err)
	}
	defer rows.Close()
	var out []dialect.Row
	fields := rows.FieldDescriptions()
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("dialect/pgx: query: %w", err)
		}
		row := make(dialect.Row, len(fields))
		for i, f := range fields {
			if row[f.Name], err = plain(values[i]); err != nil {
				return nil, fmt.Errorf("dialect/pgx: query: column %s: %w", f.Name, err)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dialect/pgx: query: %w", err)
	}
	return out, nil
}

// ResultRows implements the dialect.Adapter method.
func (a *Adapter) ResultRows(res dialect.Result) ([]dialect.Row, error) {
	rows, ok := res.([]dialect.Row)
	if !ok {
		return nil, fmt.Errorf("dialect/pgx: invalid type %T. expect []dialect.Row", res)
	}
	return rows, nil
}

// ExecuteCommand implements the dialect.Adapter method.
func (a *Adapter) ExecuteCommand(ctx context.Context, query string, args []any) (int64, error) {
	tag, err := a.querier(ctx).Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("dialect/pgx: exec: %w", err)
	}
	return tag.RowsAffected(), nil
}

// OwnsSession reports whether s was started by a.
func (a *Adapter) OwnsSession(s dialect.Session) bool {
	x, ok := dialect.UnwrapSession(s).(*Session)
	return ok && x.adapter == a
}

func (a *Adapter) querier(ctx context.Context) Querier {
	if s, ok := dialect.UnwrapSession(dialect.SessionFrom(ctx)).(*Session); ok && s.adapter == a {
		if s.tx != nil {
			return s.tx
		}
		return s.conn
	}
	return a.pool
}

// plain converts the pgtype values pgx decodes without a Go counterpart.
func plain(v any) (any, error) {
	switch v := v.(type) {
	case [16]byte:
		return uuid.UUID(v).String(), nil
	case driver.Valuer:
		return v.Value()
	}
	return v, nil
}

// Session is a dialect.Session holding one acquired connection.
type Session struct {
	conn    Conn
	tx      pgx.Tx
	adapter *Adapter
}

// BeginTransaction starts a transaction on the session connection.
func (s *Session) BeginTransaction(ctx context.Context) error {
	if s.tx != nil {
		return errors.New("dialect/pgx: transaction already started on session")
	}
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("dialect/pgx: begin: %w", err)
	}
	s.tx = tx
	return nil
}

// Commit commits the session transaction.
func (s *Session) Commit(ctx context.Context) error {
	if s.tx == nil {
		return errors.New("dialect/pgx: commit: no transaction on session")
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("dialect/pgx: commit: %w", err)
	}
	return nil
}

// Rollback rolls back the session transaction.
func (s *Session) Rollback(ctx context.Context) error {
	if s.tx == nil {
		return errors.New("dialect/pgx: rollback: no transaction on session")
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("dialect/pgx: rollback: %w", err)
	}
	return nil
}

// End rolls back any transaction left open and releases the connection.
func (s *Session) End(ctx context.Context) error {
	var err error
	if s.tx != nil {
		err = s.Rollback(ctx)
	}
	s.conn.Release()
	return err
}

// FromPool adapts a *pgxpool.Pool to Pool.
func FromPool(p *pgxpool.Pool) Pool {
	return pool{p}
}

type pool struct {
	*pgxpool.Pool
}

func (p pool) Acquire(ctx context.Context) (Conn, error) {
	c, err := p.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return c, nil
}

var (
	_ dialect.Adapter      = (*Adapter)(nil)
	_ dialect.SessionOwner = (*Adapter)(nil)
	_ dialect.Session      = (*Session)(nil)
	_ Conn                 = (*pgxpool.Conn)(nil)
)
