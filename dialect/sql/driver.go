package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/syssam/strata/dialect"
)

// Adapter is a dialect.Adapter implementation for database/sql backends.
type Adapter struct {
	db      *sql.DB
	dialect string
	schema  string
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithSchema sets the schema qualifying every storage name.
func WithSchema(name string) Option {
	return func(a *Adapter) {
		a.schema = name
	}
}

// driverNames maps dialect names to the database/sql driver names
// registered by lib/pq, go-sql-driver/mysql and modernc.org/sqlite.
var driverNames = map[string]string{
	dialect.Postgres: "postgres",
	dialect.MySQL:    "mysql",
	dialect.SQLite:   "sqlite",
}

// Open wraps the database/sql.Open method and returns an Adapter.
// The driver for the dialect must be registered by the caller's imports.
func Open(name, source string, opts ...Option) (*Adapter, error) {
	driverName, ok := driverNames[name]
	if !ok {
		return nil, fmt.Errorf("dialect/sql: unsupported dialect %q", name)
	}
	db, err := sql.Open(driverName, source)
	if err != nil {
		return nil, err
	}
	return OpenDB(name, db, opts...), nil
}

// OpenDB wraps the given database/sql.DB with an Adapter.
func OpenDB(name string, db *sql.DB, opts ...Option) *Adapter {
	a := &Adapter{db: db, dialect: name}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// DB returns the underlying *sql.DB instance.
func (a *Adapter) DB() *sql.DB {
	return a.db
}

// Close closes the underlying connection pool.
func (a *Adapter) Close() error { return a.db.Close() }

// Dialect implements the dialect.Adapter method.
func (a *Adapter) Dialect() string {
	// If the underlying driver is wrapped with a telemetry driver.
	for _, name := range []string{dialect.MySQL, dialect.SQLite, dialect.Postgres} {
		if strings.HasPrefix(a.dialect, name) {
			return name
		}
	}
	return a.dialect
}

// SchemaName implements the dialect.Adapter method.
func (a *Adapter) SchemaName() string {
	return a.schema
}

// ValuePlaceholder implements the dialect.Adapter method.
func (a *Adapter) ValuePlaceholder(i int) string {
	if a.Dialect() == dialect.Postgres {
		return "$" + strconv.Itoa(i)
	}
	return "?"
}

// RowLockingClause implements the dialect.Adapter method.
// SQLite serializes writers at the database level and has no row locks.
func (a *Adapter) RowLockingClause(alias string) string {
	switch a.Dialect() {
	case dialect.Postgres:
		return "FOR UPDATE OF " + alias
	case dialect.MySQL:
		return "FOR UPDATE"
	default:
		return ""
	}
}

// StartSession reserves a connection from the pool for the caller.
func (a *Adapter) StartSession(ctx context.Context) (dialect.Session, error) {
	conn, err := a.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: start session: %w", err)
	}
	return &Session{conn: conn, adapter: a}, nil
}

// ExecuteQuery implements the dialect.Adapter method. Rows are read
// eagerly so the session is free for the next statement.
func (a *Adapter) ExecuteQuery(ctx context.Context, query string, args []any) (dialect.Result, error) {
	rows, err := a.querier(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: query: %w", err)
	}
	defer rows.Close()
	rs, err := ScanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: query: %w", err)
	}
	return rs, nil
}

// ResultRows implements the dialect.Adapter method.
func (a *Adapter) ResultRows(res dialect.Result) ([]dialect.Row, error) {
	rs, ok := res.(*ResultSet)
	if !ok {
		return nil, fmt.Errorf("dialect/sql: invalid type %T. expect *sql.ResultSet", res)
	}
	return rs.Rows, nil
}

// ExecuteCommand implements the dialect.Adapter method.
func (a *Adapter) ExecuteCommand(ctx context.Context, query string, args []any) (int64, error) {
	res, err := a.querier(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("dialect/sql: exec: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("dialect/sql: exec: rows affected: %w", err)
	}
	return n, nil
}

// OwnsSession reports whether s was started by a.
func (a *Adapter) OwnsSession(s dialect.Session) bool {
	x, ok := dialect.UnwrapSession(s).(*Session)
	return ok && x.adapter == a
}

// querier returns what a statement runs on: the transaction or connection
// of the session in ctx, or the pool. Sessions of other adapters are ignored.
func (a *Adapter) querier(ctx context.Context) ExecQuerier {
	if s, ok := dialect.UnwrapSession(dialect.SessionFrom(ctx)).(*Session); ok && a.OwnsSession(s) {
		if s.tx != nil {
			return s.tx
		}
		return s.conn
	}
	return a.db
}

// Session is a dialect.Session holding one pooled connection and at most
// one transaction on it.
type Session struct {
	conn    *sql.Conn
	tx      *sql.Tx
	adapter *Adapter
}

// BeginTransaction starts a transaction on the session connection.
func (s *Session) BeginTransaction(ctx context.Context) error {
	if s.tx != nil {
		return errors.New("dialect/sql: transaction already started on session")
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dialect/sql: begin: %w", err)
	}
	s.tx = tx
	return nil
}

// Commit commits the session transaction.
func (s *Session) Commit(context.Context) error {
	if s.tx == nil {
		return errors.New("dialect/sql: commit: no transaction on session")
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dialect/sql: commit: %w", err)
	}
	return nil
}

// Rollback rolls back the session transaction.
func (s *Session) Rollback(context.Context) error {
	if s.tx == nil {
		return errors.New("dialect/sql: rollback: no transaction on session")
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("dialect/sql: rollback: %w", err)
	}
	return nil
}

// End rolls back any transaction left open and returns the connection to
// the pool.
func (s *Session) End(ctx context.Context) error {
	var err error
	if s.tx != nil {
		err = s.Rollback(ctx)
	}
	return errors.Join(err, s.conn.Close())
}

// ExecQuerier wraps the standard Exec and Query methods.
type ExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// ResultSet is the raw result of ExecuteQuery.
type ResultSet struct {
	Columns []string
	Rows    []dialect.Row
}

// ColumnScanner is the interface that wraps the standard
// sql.Rows methods used for scanning database rows.
type ColumnScanner interface {
	Close() error
	Columns() ([]string, error)
	Err() error
	Next() bool
	Scan(dest ...any) error
}

// ScanRows reads every row of rows into a ResultSet keyed by column label.
// Byte slices are copied since drivers may reuse them.
func ScanRows(rows ColumnScanner) (*ResultSet, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	rs := &ResultSet{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := make(dialect.Row, len(columns))
		for i, c := range columns {
			if b, ok := values[i].([]byte); ok {
				values[i] = append([]byte(nil), b...)
			}
			row[c] = values[i]
		}
		rs.Rows = append(rs.Rows, row)
	}
	return rs, rows.Err()
}

var (
	_ dialect.Adapter      = (*Adapter)(nil)
	_ dialect.SessionOwner = (*Adapter)(nil)
	_ dialect.Session      = (*Session)(nil)
)
