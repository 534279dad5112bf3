package dialect

import (
	"context"
	"fmt"
	"reflect"
	"strings"
)

// Dialect names.
const (
	Postgres = "postgres"
	MySQL    = "mysql"
	SQLite   = "sqlite"
	Mongo    = "mongo"
)

// Row is one result row keyed by column label.
type Row map[string]any

// Result is the raw result of ExecuteQuery. Only the adapter that produced
// it can turn it into rows.
type Result any

// Adapter is the capability interface every concrete backend implements.
type Adapter interface {
	// Dialect returns the dialect name of the backend.
	Dialect() string
	// SchemaName returns the schema (or database) qualifying storage names.
	// It may be empty.
	SchemaName() string
	// StartSession opens an exclusive session. The caller owns it until End.
	StartSession(ctx context.Context) (Session, error)
	// ExecuteQuery runs a statement returning rows, on the session carried
	// by ctx if there is one.
	ExecuteQuery(ctx context.Context, text string, args []any) (Result, error)
	// ResultRows returns the rows of a raw result.
	ResultRows(res Result) ([]Row, error)
	// ExecuteCommand runs a statement that returns no rows and reports the
	// number of affected rows.
	ExecuteCommand(ctx context.Context, text string, args []any) (int64, error)
	// ValuePlaceholder returns the positional placeholder for the i-th
	// parameter, counting from 1.
	ValuePlaceholder(i int) string
	// RowLockingClause returns the fragment that locks the rows selected
	// through alias, or an empty string if the backend has none.
	RowLockingClause(alias string) string
}

// Session is an exclusive connection to the store.
type Session interface {
	BeginTransaction(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	// End releases the session. It must be called exactly once.
	End(ctx context.Context) error
}

// SessionHolder exposes the session currently owned by a call chain.
// Session returns nil while the chain owns none.
type SessionHolder interface {
	Session() Session
}

// StaticSession is a SessionHolder for a fixed session.
type StaticSession struct{ S Session }

// Session returns the held session.
func (s StaticSession) Session() Session { return s.S }

type holderKey struct{}

// NewContext returns a new context carrying the session holder.
func NewContext(ctx context.Context, h SessionHolder) context.Context {
	return context.WithValue(ctx, holderKey{}, h)
}

// SessionFrom returns the active session carried by ctx, or nil.
func SessionFrom(ctx context.Context) Session {
	h, _ := ctx.Value(holderKey{}).(SessionHolder)
	if h == nil {
		return nil
	}
	return h.Session()
}

// UnwrapSession returns the innermost session of a chain of session
// decorators implementing Unwrap() Session.
func UnwrapSession(s Session) Session {
	for {
		u, ok := s.(interface{ Unwrap() Session })
		if !ok {
			return s
		}
		s = u.Unwrap()
	}
}

// SessionOwner is implemented by adapters that run statements only on the
// sessions they started and ignore any other session in the context.
type SessionOwner interface {
	OwnsSession(s Session) bool
}

// UnwrapAdapter returns the innermost adapter of a chain of adapter
// decorators implementing Unwrap() Adapter.
func UnwrapAdapter(a Adapter) Adapter {
	for {
		u, ok := a.(interface{ Unwrap() Adapter })
		if !ok {
			return a
		}
		a = u.Unwrap()
	}
}

// SameAdapter reports whether a and b reach the same backend adapter once
// their decorators are removed.
func SameAdapter(a, b Adapter) bool {
	a, b = UnwrapAdapter(a), UnwrapAdapter(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	t := reflect.TypeOf(a)
	if t != reflect.TypeOf(b) || !t.Comparable() {
		return false
	}
	return a == b
}

// OwnsSession reports whether statements executed through a run on s.
// Adapters that do not implement SessionOwner are assumed to use any
// session.
func OwnsSession(a Adapter, s Session) bool {
	o, ok := UnwrapAdapter(a).(SessionOwner)
	return !ok || o.OwnsSession(UnwrapSession(s))
}

// PlaceholderCount returns the number of positional placeholders in a
// statement produced for the adapter's dialect.
func PlaceholderCount(a Adapter, text string) int {
	switch a.Dialect() {
	case Mongo:
		return strings.Count(text, `"__param"`)
	case Postgres:
		n := 0
		for i := 1; ; i++ {
			if !containsToken(text, fmt.Sprintf("$%d", i)) {
				return n
			}
			n++
		}
	default:
		return strings.Count(text, "?")
	}
}

// containsToken reports whether tok occurs in text not followed by a digit.
func containsToken(text, tok string) bool {
	for i := 0; i+len(tok) <= len(text); i++ {
		if text[i:i+len(tok)] != tok {
			continue
		}
		if j := i + len(tok); j == len(text) || text[j] < '0' || text[j] > '9' {
			return true
		}
	}
	return false
}
