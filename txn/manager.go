package txn

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/log"
)

var (
	// ErrNoCallChain is returned when a context carries no chain Context.
	ErrNoCallChain = errors.New("txn: context has no call chain; use txn.Start")

	// ErrEscalation is returned when a chain owning a local transaction
	// asks for a global one.
	ErrEscalation = errors.New("txn: global transaction requested inside a local transaction")
)

// Manager begins and ends the transactions of call chains on one adapter.
// It is safe for concurrent use.
type Manager struct {
	adapter dialect.Adapter
	logger  log.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger of the manager.
func WithLogger(l log.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager returns a Manager beginning transactions on a.
func NewManager(a dialect.Adapter, opts ...Option) *Manager {
	m := &Manager{adapter: a}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = log.OrNop(m.logger)
	return m
}

// Adapter returns the adapter of the manager.
func (m *Manager) Adapter() dialect.Adapter {
	return m.adapter
}

// Logger returns the logger of the manager.
func (m *Manager) Logger() log.Logger {
	return m.logger
}

// EnsureLocal makes sure the chain carried by ctx has a transaction. It
// reports true only if this call started it, in which case the caller owns
// the transaction and must pass true to End. A chain already in a local or
// global transaction is left unchanged.
func (m *Manager) EnsureLocal(ctx context.Context) (bool, error) {
	c := FromContext(ctx)
	if c == nil {
		return false, ErrNoCallChain
	}
	if c.Mode() != ModeNone {
		return false, nil
	}
	return m.begin(ctx, c, ModeLocal)
}

// RecordStatement increments the statement counter of the chain and
// returns its new value.
func (m *Manager) RecordStatement(ctx context.Context) int64 {
	c := FromContext(ctx)
	if c == nil {
		return 0
	}
	return c.record()
}

// End ends the transaction owned by the caller: it commits when outcome is
// nil and rolls back otherwise. It is a no-op when started is false, so it
// is safe to call from every cleanup path. The session is always released
// and the chain cleared; End returns the commit or rollback failure, if any.
func (m *Manager) End(ctx context.Context, started bool, outcome error) error {
	if !started {
		return nil
	}
	c := FromContext(ctx)
	if c == nil || c.Mode() == ModeNone {
		return nil
	}
	return m.finish(ctx, c, outcome)
}

// RunGlobal runs fn in a global transaction spanning every operation fn
// calls with the context it receives. It commits if fn returns nil, and
// rolls back if fn returns an error or panics. Inside an enclosing global
// transaction, fn simply joins it.
func (m *Manager) RunGlobal(ctx context.Context, fn func(context.Context) error) (err error) {
	ctx = Start(ctx)
	c := FromContext(ctx)
	switch c.Mode() {
	case ModeGlobal:
		return fn(ctx)
	case ModeLocal:
		return strata.TransactionFailure("begin global", ErrEscalation)
	}
	started, err := m.begin(ctx, c, ModeGlobal)
	if err != nil {
		return err
	}
	if !started {
		return strata.TransactionFailure("begin global", ErrEscalation)
	}
	defer func() {
		if v := recover(); v != nil {
			if rerr := m.finish(ctx, c, fmt.Errorf("txn: panic: %v", v)); rerr != nil {
				m.logger.Log(ctx, log.LevelError, "rollback after panic failed", log.Err(rerr))
			}
			panic(v)
		}
	}()
	if err := fn(ctx); err != nil {
		if rerr := m.finish(ctx, c, err); rerr != nil {
			err = fmt.Errorf("%w: rolling back transaction: %v", err, rerr)
		}
		return err
	}
	return m.finish(ctx, c, nil)
}

func (m *Manager) begin(ctx context.Context, c *Context, mode Mode) (bool, error) {
	sess, err := m.adapter.StartSession(ctx)
	if err != nil {
		return false, strata.TransactionFailure("start session", err)
	}
	if err := sess.BeginTransaction(ctx); err != nil {
		m.endSession(ctx, sess)
		return false, strata.TransactionFailure("begin", err)
	}
	id := uuid.NewString()
	if !c.escalate(mode, id, sess) {
		// Another goroutine of the chain won the race.
		if err := sess.Rollback(ctx); err != nil {
			m.logger.Log(ctx, log.LevelWarn, "rollback of discarded transaction failed", log.Err(err))
		}
		m.endSession(ctx, sess)
		return false, nil
	}
	m.logger.Log(ctx, log.LevelDebug, "transaction started",
		log.String("tx_id", id), log.String("mode", mode.String()))
	return true, nil
}

func (m *Manager) finish(ctx context.Context, c *Context, outcome error) error {
	sess, onCommit, onRollback := c.hooks()
	id := c.ID()
	defer c.clear()
	defer m.endSession(ctx, sess)

	hctx := detach(ctx)
	if outcome == nil {
		var fn Committer = CommitFunc(func(context.Context, *Context) error {
			if err := sess.Commit(ctx); err != nil {
				if rerr := sess.Rollback(ctx); rerr != nil {
					m.logger.Log(ctx, log.LevelWarn, "rollback after failed commit failed",
						log.String("tx_id", id), log.Err(rerr))
				}
				return strata.TransactionFailure("commit", err)
			}
			return nil
		})
		for i := len(onCommit) - 1; i >= 0; i-- {
			fn = onCommit[i](fn)
		}
		if err := fn.Commit(hctx, c); err != nil {
			m.logger.Log(ctx, log.LevelError, "transaction commit failed",
				log.String("tx_id", id), log.Err(err))
			return err
		}
		m.logger.Log(ctx, log.LevelDebug, "transaction committed",
			log.String("tx_id", id), log.Int64("statements", c.Statements()))
		return nil
	}
	var fn Rollbacker = RollbackFunc(func(context.Context, *Context) error {
		if err := sess.Rollback(ctx); err != nil {
			return strata.TransactionFailure("rollback", err)
		}
		return nil
	})
	for i := len(onRollback) - 1; i >= 0; i-- {
		fn = onRollback[i](fn)
	}
	if err := fn.Rollback(hctx, c); err != nil {
		m.logger.Log(ctx, log.LevelError, "transaction rollback failed",
			log.String("tx_id", id), log.Err(err))
		return err
	}
	m.logger.Log(ctx, log.LevelDebug, "transaction rolled back",
		log.String("tx_id", id), log.Err(outcome))
	return nil
}

func (m *Manager) endSession(ctx context.Context, sess dialect.Session) {
	if sess == nil {
		return
	}
	if err := sess.End(ctx); err != nil {
		m.logger.Log(ctx, log.LevelWarn, "ending session failed", log.Err(err))
	}
}
