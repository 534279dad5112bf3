package outbox_test

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/outbox"
	"github.com/syssam/strata/txn"
	"github.com/syssam/strata/validate"
)

const invoiceURL = "billing/invoices.createInvoice"

type fixture struct {
	mock        sqlmock.Sqlmock
	manager     *txn.Manager
	store       *outbox.SQLStore
	coordinator *outbox.Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	a := sql.OpenDB(dialect.Postgres, db, sql.WithSchema("public"))
	store, err := outbox.NewSQLStore(a)
	require.NoError(t, err)

	r := validate.NewRegistry()
	require.NoError(t, r.Register("invoices", "createInvoice",
		validate.Param{Name: "orderId", Kind: validate.KindInteger, Required: true},
	))
	m := txn.NewManager(a)
	c, err := outbox.NewCoordinator(store, r, m)
	require.NoError(t, err)
	return &fixture{mock: mock, manager: m, store: store, coordinator: c}
}

func (f *fixture) expectInsert() *sqlmock.ExpectedExec {
	return f.mock.ExpectExec(`INSERT INTO public\.strata_outbox \(id, topic, service, function_name, payload, transaction_id, status, eligible`).
		WithArgs(sqlmock.AnyArg(), "billing", "invoices", "createInvoice", `{"orderId":1}`, sqlmock.AnyArg(), "pending", false,
			0, "", sqlmock.AnyArg(), nil, sqlmock.AnyArg(), sqlmock.AnyArg(), nil)
}

func (f *fixture) expectEligible() *sqlmock.ExpectedExec {
	return f.mock.ExpectExec(`UPDATE public\.strata_outbox SET eligible = \$1, updated_at = \$2 WHERE transaction_id = \$3 AND eligible = \$4`).
		WithArgs(true, sqlmock.AnyArg(), sqlmock.AnyArg(), false)
}

func TestSendWithinTransactionOwnsLocal(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectBegin()
	f.expectInsert().WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()
	f.expectEligible().WillReturnResult(sqlmock.NewResult(0, 1))

	msg, err := f.coordinator.SendWithinTransaction(context.Background(), invoiceURL, map[string]any{"orderId": 1})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.NotEmpty(t, msg.TransactionID)
	assert.Equal(t, outbox.StatusPending, msg.Status)
	assert.JSONEq(t, `{"orderId":1}`, string(msg.Payload))
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSendWithinTransactionInvalidArgument(t *testing.T) {
	f := newFixture(t)
	for _, arg := range []any{map[string]any{}, map[string]any{"orderId": "one"}, map[string]any{"orderId": 1, "x": 2}} {
		_, err := f.coordinator.SendWithinTransaction(context.Background(), invoiceURL, arg)
		require.Error(t, err)
		assert.True(t, strata.IsInvalidArgument(err), "%v", err)
		assert.Contains(t, err.Error(), invoiceURL)
	}
	_, err := f.coordinator.SendWithinTransaction(context.Background(), "billing/invoices.refund", map[string]any{})
	assert.True(t, strata.IsInvalidArgument(err))
	_, err = f.coordinator.SendWithinTransaction(context.Background(), "invoices.createInvoice", map[string]any{"orderId": 1})
	assert.True(t, strata.IsInvalidArgument(err))
	// Nothing reached the store.
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSendWithinTransactionRolledBack(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectBegin()
	f.expectInsert().WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectRollback()

	failure := errors.New("stock reservation failed")
	err := f.manager.RunGlobal(context.Background(), func(ctx context.Context) error {
		msg, err := f.coordinator.SendWithinTransaction(ctx, invoiceURL, map[string]any{"orderId": 1})
		require.NoError(t, err)
		assert.Equal(t, txn.FromContext(ctx).ID(), msg.TransactionID)
		return failure
	})
	require.ErrorIs(t, err, failure)
	// No eligibility update follows the rollback.
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSendWithinTransactionHooksOnce(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectBegin()
	f.expectInsert().WillReturnResult(sqlmock.NewResult(0, 1))
	f.expectInsert().WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()
	f.expectEligible().WillReturnResult(sqlmock.NewResult(0, 2))

	var ids []string
	err := f.manager.RunGlobal(context.Background(), func(ctx context.Context) error {
		for range 2 {
			msg, err := f.coordinator.SendWithinTransaction(ctx, invoiceURL, map[string]any{"orderId": 1})
			if err != nil {
				return err
			}
			ids = append(ids, msg.TransactionID)
		}
		assert.EqualValues(t, 3, txn.FromContext(ctx).Statements(), "begin and two saves")
		return nil
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, ids[0], ids[1])
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSendWithinTransactionEligibleFailure(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectBegin()
	f.expectInsert().WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()
	f.expectEligible().WillReturnError(errors.New("connection reset"))

	// The transaction committed; the relay promotes the message later.
	_, err := f.coordinator.SendWithinTransaction(context.Background(), invoiceURL, map[string]any{"orderId": 1})
	require.NoError(t, err)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSendWithinTransactionSaveFailure(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectBegin()
	f.expectInsert().WillReturnError(errors.New(`relation "strata_outbox" does not exist`))
	f.mock.ExpectRollback()

	_, err := f.coordinator.SendWithinTransaction(context.Background(), invoiceURL, map[string]any{"orderId": 1})
	require.Error(t, err)
	assert.True(t, strata.IsStoreFailure(err))
	assert.Contains(t, err.Error(), "does not exist")
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestNewCoordinator(t *testing.T) {
	_, err := outbox.NewCoordinator(nil, validate.NewRegistry(), &txn.Manager{})
	assert.ErrorIs(t, err, outbox.ErrStoreRequired)
	f := newFixture(t)
	_, err = outbox.NewCoordinator(f.store, nil, f.manager)
	assert.Error(t, err)

	// Decorators around the same adapter are accepted.
	stats, err := outbox.NewSQLStore(dialect.NewStatsAdapter(f.store.Adapter()))
	require.NoError(t, err)
	_, err = outbox.NewCoordinator(stats, validate.NewRegistry(), txn.NewManager(dialect.NewDebugAdapter(f.store.Adapter(), nil)))
	assert.NoError(t, err)
}

// otherAdapter returns a second adapter on its own mock database.
func otherAdapter(t *testing.T) (dialect.Adapter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sql.OpenDB(dialect.Postgres, db, sql.WithSchema("public")), mock
}

func TestNewCoordinatorAdapterMismatch(t *testing.T) {
	f := newFixture(t)
	other, _ := otherAdapter(t)
	_, err := outbox.NewCoordinator(f.store, validate.NewRegistry(), txn.NewManager(other))
	assert.ErrorIs(t, err, outbox.ErrAdapterMismatch)

	_, err = outbox.NewCoordinator(memoryStore{}, validate.NewRegistry(), f.manager)
	assert.ErrorIs(t, err, outbox.ErrAdapterMismatch)
}

// memoryStore is a Store without an adapter.
type memoryStore struct{ outbox.Store }

func TestSendWithinForeignTransaction(t *testing.T) {
	f := newFixture(t)
	other, otherMock := otherAdapter(t)
	otherMock.ExpectBegin()
	otherMock.ExpectRollback()

	failure := errors.New("business failure")
	err := txn.NewManager(other).RunGlobal(context.Background(), func(ctx context.Context) error {
		_, err := f.coordinator.SendWithinTransaction(ctx, invoiceURL, map[string]any{"orderId": 1})
		require.Error(t, err)
		assert.True(t, strata.IsTransactionFailure(err))
		assert.ErrorIs(t, err, outbox.ErrForeignSession)
		return failure
	})
	require.ErrorIs(t, err, failure)
	// The message was never inserted outside the rolled back transaction.
	require.NoError(t, f.mock.ExpectationsWereMet())
	require.NoError(t, otherMock.ExpectationsWereMet())
}

func TestSendWithinTransactionDecoratedStore(t *testing.T) {
	f := newFixture(t)
	stats := dialect.NewStatsAdapter(f.store.Adapter())
	store, err := outbox.NewSQLStore(stats)
	require.NoError(t, err)
	r := validate.NewRegistry()
	require.NoError(t, r.Register("invoices", "createInvoice",
		validate.Param{Name: "orderId", Kind: validate.KindInteger, Required: true},
	))
	c, err := outbox.NewCoordinator(store, r, f.manager)
	require.NoError(t, err)

	f.mock.ExpectBegin()
	f.expectInsert().WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectRollback()
	err = f.manager.RunGlobal(context.Background(), func(ctx context.Context) error {
		if _, err := c.SendWithinTransaction(ctx, invoiceURL, map[string]any{"orderId": 1}); err != nil {
			return err
		}
		return errors.New("business failure")
	})
	require.EqualError(t, err, "business failure")
	assert.EqualValues(t, 1, stats.QueryStats().TotalCommands.Load())
	require.NoError(t, f.mock.ExpectationsWereMet())
}
