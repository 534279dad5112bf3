package crud

import (
	"context"

	"github.com/syssam/strata"
	"github.com/syssam/strata/txn"
)

// RunInTransaction runs fn in a global transaction: every operation fn
// runs with the context it receives joins that transaction instead of
// owning a local one, and every read locks the rows it returns. The
// transaction commits when fn returns nil and rolls back otherwise. A
// panic in fn rolls back and becomes a failed result.
//
// Called inside another RunInTransaction, fn joins the enclosing
// transaction. Called from an operation that already owns a local
// transaction, it fails with TRANSACTION_FAILURE.
func RunInTransaction[T any](ctx context.Context, m *txn.Manager, fn func(context.Context) (T, error)) (res strata.Result[T]) {
	defer recoverResult(ctx, m.Logger(), "run in transaction", &res)
	var out T
	err := m.RunGlobal(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	if err != nil {
		return strata.Fail[T](err)
	}
	return strata.OK(out, strata.Metadata{})
}
