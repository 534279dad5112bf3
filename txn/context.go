package txn

import (
	"context"
	"sync"

	"github.com/syssam/strata/dialect"
)

// Mode is the transaction mode of a call chain.
type Mode uint8

// Transaction modes.
const (
	ModeNone Mode = iota
	ModeLocal
	ModeGlobal
)

// String returns the name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeLocal:
		return "local"
	case ModeGlobal:
		return "global"
	default:
		return "none"
	}
}

// Committer is the interface that wraps the Commit method.
type Committer interface {
	Commit(context.Context, *Context) error
}

// CommitFunc is an adapter to allow the use of ordinary function as Committer.
type CommitFunc func(context.Context, *Context) error

// Commit calls f(ctx, c).
func (f CommitFunc) Commit(ctx context.Context, c *Context) error {
	return f(ctx, c)
}

// CommitHook defines the "commit middleware". A function that gets a Committer
// and returns a Committer. For example:
//
//	hook := func(next txn.Committer) txn.Committer {
//		return txn.CommitFunc(func(ctx context.Context, c *txn.Context) error {
//			// Do some stuff before.
//			if err := next.Commit(ctx, c); err != nil {
//				return err
//			}
//			// Do some stuff after.
//			return nil
//		})
//	}
type CommitHook func(Committer) Committer

// Rollbacker is the interface that wraps the Rollback method.
type Rollbacker interface {
	Rollback(context.Context, *Context) error
}

// RollbackFunc is an adapter to allow the use of ordinary function as Rollbacker.
type RollbackFunc func(context.Context, *Context) error

// Rollback calls f(ctx, c).
func (f RollbackFunc) Rollback(ctx context.Context, c *Context) error {
	return f(ctx, c)
}

// RollbackHook defines the "rollback middleware". A function that gets a Rollbacker
// and returns a Rollbacker.
type RollbackHook func(Rollbacker) Rollbacker

// Context is the transaction state of one call chain. A nil *Context
// reports ModeNone.
type Context struct {
	mu         sync.Mutex
	id         string
	mode       Mode
	statements int64
	session    dialect.Session
	values     map[string]any
	onCommit   []CommitHook
	onRollback []RollbackHook
}

type ctxKey struct{}

// Start returns a context carrying a new chain Context, or ctx itself if it
// already carries one.
func Start(ctx context.Context) context.Context {
	if FromContext(ctx) != nil {
		return ctx
	}
	c := &Context{}
	ctx = context.WithValue(ctx, ctxKey{}, c)
	return dialect.NewContext(ctx, c)
}

// FromContext returns the chain Context carried by ctx, or nil.
func FromContext(ctx context.Context) *Context {
	c, _ := ctx.Value(ctxKey{}).(*Context)
	return c
}

// ID returns the identity of the active transaction, or an empty string.
func (c *Context) ID() string {
	if c == nil {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Mode returns the transaction mode of the chain.
func (c *Context) Mode() Mode {
	if c == nil {
		return ModeNone
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Locking reports whether reads of the chain must lock the rows they return.
func (c *Context) Locking() bool {
	return c.Mode() != ModeNone
}

// Statements returns the statement counter of the chain.
func (c *Context) Statements() int64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statements
}

// Session returns the session of the active transaction, or nil.
// It makes Context a dialect.SessionHolder.
func (c *Context) Session() dialect.Session {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Set stores a named value for the lifetime of the active transaction.
func (c *Context) Set(key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = make(map[string]any)
	}
	c.values[key] = v
}

// Get returns a value stored by Set.
func (c *Context) Get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}

// SetOnce stores v under key unless a value is already present, and
// reports whether it did.
func (c *Context) SetOnce(key string, v any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[key]; ok {
		return false
	}
	if c.values == nil {
		c.values = make(map[string]any)
	}
	c.values[key] = v
	return true
}

// OnCommit adds a hook to call on commit of the active transaction.
func (c *Context) OnCommit(h CommitHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCommit = append(c.onCommit, h)
}

// OnRollback adds a hook to call on rollback of the active transaction.
func (c *Context) OnRollback(h RollbackHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRollback = append(c.onRollback, h)
}

func (c *Context) record() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statements++
	return c.statements
}

// escalate moves the chain from ModeNone to mode. It reports false if the
// chain already has a transaction.
func (c *Context) escalate(mode Mode, id string, sess dialect.Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeNone {
		return false
	}
	c.mode, c.id, c.session = mode, id, sess
	c.statements++
	return true
}

// hooks returns the session and the hooks of the active transaction.
func (c *Context) hooks() (dialect.Session, []CommitHook, []RollbackHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session, append([]CommitHook(nil), c.onCommit...), append([]RollbackHook(nil), c.onRollback...)
}

// clear drops the transaction state. The statement counter is kept.
func (c *Context) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode, c.id, c.session = ModeNone, "", nil
	c.values, c.onCommit, c.onRollback = nil, nil, nil
}

// detach returns a context that starts a new chain, so that work done by
// hooks after the store call never runs on the ended session.
func detach(ctx context.Context) context.Context {
	return Start(context.WithValue(ctx, ctxKey{}, (*Context)(nil)))
}
