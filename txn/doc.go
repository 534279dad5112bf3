// Package txn manages the transaction state of a call chain.
//
// A call chain is one logical service invocation together with every
// operation it calls. Start attaches a Context to a context.Context; every
// operation reached through that context.Context shares it, while
// unrelated chains never observe each other's state.
//
// # Ownership
//
// Only the call that newly started a transaction may end it:
//
//	ctx = txn.Start(ctx)
//	started, err := m.EnsureLocal(ctx)
//	if err != nil {
//	    return err
//	}
//	err = doWork(ctx)
//	if eerr := m.End(ctx, started, err); eerr != nil && err == nil {
//	    err = eerr
//	}
//
// Nested calls get started == false, so their End is a no-op and the
// transaction is committed or rolled back by its owner.
//
// # Global transactions
//
// RunGlobal composes several operations into one transaction. It must wrap
// the operations before any of them starts a local transaction:
//
//	err := m.RunGlobal(ctx, func(ctx context.Context) error {
//	    if err := createOrder(ctx); err != nil {
//	        return err
//	    }
//	    return reserveStock(ctx)
//	})
//
// # Hooks
//
// Commit and rollback hooks are middlewares around the store call:
//
//	c.OnCommit(func(next txn.Committer) txn.Committer {
//	    return txn.CommitFunc(func(ctx context.Context, c *txn.Context) error {
//	        if err := next.Commit(ctx, c); err != nil {
//	            return err
//	        }
//	        // Committed; ctx no longer carries the session.
//	        return notify(ctx, c.ID())
//	    })
//	})
package txn
