package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/log"
	"github.com/syssam/strata/txn"
	"github.com/syssam/strata/validate"
)

// hookedKey marks a transaction whose commit hook is registered.
const hookedKey = "outbox.hooked"

// Coordinator persists outbound calls within the caller's transaction.
type Coordinator struct {
	store     AdapterStore
	validator validate.Validator
	manager   *txn.Manager
	logger    log.Logger
	now       func() time.Time
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorLogger sets the logger of the coordinator.
func WithCoordinatorLogger(l log.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = log.OrNop(l) }
}

// NewCoordinator returns a coordinator saving messages to store within the
// transactions of m. Every argument is checked with v first.
//
// The store must be an AdapterStore on the adapter of m, decorators such as
// dialect.StatsAdapter aside. Otherwise its writes would commit on their own
// and a rolled back message would still be delivered.
func NewCoordinator(store Store, v validate.Validator, m *txn.Manager, opts ...CoordinatorOption) (*Coordinator, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if v == nil || m == nil {
		return nil, fmt.Errorf("outbox: validator and transaction manager are required")
	}
	as, ok := store.(AdapterStore)
	if !ok {
		return nil, fmt.Errorf("%w: %T does not expose its adapter", ErrAdapterMismatch, store)
	}
	if !dialect.SameAdapter(as.Adapter(), m.Adapter()) {
		return nil, ErrAdapterMismatch
	}
	c := &Coordinator{store: as, validator: v, manager: m, logger: log.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SendWithinTransaction persists a call of the remote function named by
// target with argument, to be delivered only if the current transaction
// commits. Without an active transaction the call owns a local one.
//
// An argument failing validation is an INVALID_ARGUMENT error and nothing
// is persisted. SendWithinTransaction never delivers synchronously.
func (c *Coordinator) SendWithinTransaction(ctx context.Context, target string, argument any) (*Message, error) {
	t, err := ParseTarget(target)
	if err != nil {
		return nil, err
	}
	reasons := c.validator.ValidateArgument(ctx, validate.Target{Service: t.Service, Function: t.Function}, argument)
	if err := validate.Error(target, reasons); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(argument)
	if err != nil {
		return nil, strata.InvalidArgument("%s: argument cannot be encoded: %v", target, err)
	}

	ctx = txn.Start(ctx)
	started, err := c.manager.EnsureLocal(ctx)
	if err != nil {
		return nil, err
	}
	msg, err := c.save(ctx, t, payload)
	if eerr := c.manager.End(ctx, started, err); eerr != nil && err == nil {
		err = eerr
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (c *Coordinator) save(ctx context.Context, t Target, payload []byte) (*Message, error) {
	tc := txn.FromContext(ctx)
	// A transaction begun by another manager leaves its session in ctx,
	// which the store's adapter would ignore.
	if sess := tc.Session(); sess == nil || !dialect.OwnsSession(c.store.Adapter(), sess) {
		return nil, strata.TransactionFailure("save outbox message", ErrForeignSession)
	}
	msg := NewMessage(t, payload, tc.ID(), c.now())
	c.manager.RecordStatement(ctx)
	if err := c.store.Save(ctx, msg); err != nil {
		return nil, strata.StoreFailure("save outbox message", err)
	}
	if tc.SetOnce(hookedKey, true) {
		tc.OnCommit(c.markEligible)
	}
	c.logger.Log(ctx, log.LevelDebug, "outbox message saved",
		log.String("message_id", msg.ID), log.String("tx_id", msg.TransactionID),
		log.String("target", t.String()))
	return msg, nil
}

// markEligible runs after the store commit. A failure to mark the
// messages does not fail the committed transaction; the relay promotes
// them later as orphans.
func (c *Coordinator) markEligible(next txn.Committer) txn.Committer {
	return txn.CommitFunc(func(ctx context.Context, tc *txn.Context) error {
		id := tc.ID()
		if err := next.Commit(ctx, tc); err != nil {
			return err
		}
		n, err := c.store.MarkEligible(ctx, id)
		if err != nil {
			c.logger.Log(ctx, log.LevelWarn, "marking outbox messages eligible failed",
				log.String("tx_id", id), log.Err(err))
			return nil
		}
		c.logger.Log(ctx, log.LevelDebug, "outbox messages eligible",
			log.String("tx_id", id), log.Int64("messages", n))
		return nil
	})
}
