package outbox_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/outbox"
)

func sqlStore(t *testing.T, name string, opts ...sql.Option) (*outbox.SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s, err := outbox.NewSQLStore(sql.OpenDB(name, db, opts...))
	require.NoError(t, err)
	return s, mock
}

func TestSQLStoreDDL(t *testing.T) {
	tests := []struct {
		dialect string
		ts      string
		index   string
	}{
		{dialect.Postgres, "next_attempt_at TIMESTAMPTZ NOT NULL", "CREATE INDEX IF NOT EXISTS"},
		{dialect.MySQL, "next_attempt_at DATETIME(6) NOT NULL", "CREATE INDEX strata_outbox_deliverable"},
		{dialect.SQLite, "next_attempt_at TIMESTAMP NOT NULL", "CREATE INDEX IF NOT EXISTS"},
	}
	for _, tt := range tests {
		t.Run(tt.dialect, func(t *testing.T) {
			s, mock := sqlStore(t, tt.dialect)
			ddl := s.DDL()
			require.Len(t, ddl, 2)
			assert.Contains(t, ddl[0], "CREATE TABLE IF NOT EXISTS strata_outbox (id VARCHAR(36) NOT NULL PRIMARY KEY")
			assert.Contains(t, ddl[0], tt.ts)
			assert.Contains(t, ddl[1], tt.index)

			mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectExec("CREATE INDEX").WillReturnResult(sqlmock.NewResult(0, 0))
			require.NoError(t, s.CreateTable(context.Background()))
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestNewSQLStore(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	_, err = outbox.NewSQLStore(sql.OpenDB(dialect.Postgres, db), outbox.WithTable("outbox; DROP"))
	assert.Error(t, err)

	s, err := outbox.NewSQLStore(sql.OpenDB(dialect.Postgres, db, sql.WithSchema("app")), outbox.WithTable("events_outbox"))
	require.NoError(t, err)
	assert.Equal(t, "app.events_outbox", s.Table())

	_, err = outbox.NewSQLStore(mongoAdapter{})
	assert.ErrorIs(t, err, outbox.ErrUnsupportedDialect)
}

type mongoAdapter struct{ dialect.Adapter }

func (mongoAdapter) Dialect() string { return dialect.Mongo }

func TestSQLStoreListDeliverable(t *testing.T) {
	s, mock := sqlStore(t, dialect.Postgres)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	cols := []string{"id", "topic", "service", "function_name", "payload", "transaction_id", "status", "eligible",
		"retry_count", "last_error", "next_attempt_at", "lease_until", "created_at", "updated_at", "sent_at"}
	mock.ExpectQuery(`SELECT id, topic, .* FROM strata_outbox WHERE status = \$1 AND eligible = \$2 AND next_attempt_at <= \$3 AND \(lease_until IS NULL OR lease_until < \$4\) ORDER BY created_at, id LIMIT \$5`).
		WithArgs("pending", true, now, now, 10).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("m1", "billing", "invoices", "createInvoice", []byte(`{"orderId":1}`), "tx1", "pending", true,
				int64(2), nil, now, nil, now.Add(-time.Hour), now, nil).
			AddRow("m2", "billing", "invoices", "createInvoice", `{}`, "tx2", "pending", int64(1),
				int64(0), "boom", "2025-03-01 11:00:00", nil, now, now, nil))

	msgs, err := s.ListDeliverable(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	m := msgs[0]
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, outbox.Target{Topic: "billing", Service: "invoices", Function: "createInvoice"}, m.Target())
	assert.Equal(t, `{"orderId":1}`, string(m.Payload))
	assert.Equal(t, outbox.StatusPending, m.Status)
	assert.True(t, m.Eligible)
	assert.Equal(t, 2, m.RetryCount)
	assert.Equal(t, now.Add(-time.Hour), m.CreatedAt)
	assert.Nil(t, m.SentAt)
	assert.True(t, msgs[1].Eligible)
	assert.Equal(t, "boom", msgs[1].LastError)
	assert.Equal(t, time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC), msgs[1].NextAttemptAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreListDeliverableBadStatus(t *testing.T) {
	s, mock := sqlStore(t, dialect.SQLite)
	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow("m1", "lost"))
	_, err := s.ListDeliverable(context.Background(), time.Now(), 1)
	assert.ErrorIs(t, err, outbox.ErrInvalidStatus)
}

func TestSQLStoreClaim(t *testing.T) {
	s, mock := sqlStore(t, dialect.MySQL)
	now := time.Now().UTC()
	mock.ExpectExec(`UPDATE strata_outbox SET lease_until = \?, updated_at = \? WHERE id = \? AND status = \? AND \(lease_until IS NULL OR lease_until < \?\)`).
		WithArgs(now.Add(time.Minute), now, "m1", "pending", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE strata_outbox SET lease_until").WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.Claim(context.Background(), "m1", now, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Claim(context.Background(), "m1", now, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "leased by another relay")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreTransitions(t *testing.T) {
	s, mock := sqlStore(t, dialect.Postgres)
	ctx := context.Background()
	at := time.Now().UTC()

	mock.ExpectExec(`UPDATE strata_outbox SET status = \$1, sent_at = \$2, updated_at = \$3, lease_until = NULL WHERE id = \$4 AND status = \$5 AND eligible = \$6`).
		WithArgs("sent", at, at, "m1", "pending", true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.MarkSent(ctx, "m1", at))

	mock.ExpectExec("UPDATE strata_outbox SET status").WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, s.MarkSent(ctx, "m1", at), outbox.ErrInvalidTransition)

	mock.ExpectExec(`UPDATE strata_outbox SET retry_count = \$1, next_attempt_at = \$2, last_error = \$3`).
		WithArgs(3, at, "timeout", sqlmock.AnyArg(), "m2", "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.MarkRetry(ctx, "m2", 3, at, "timeout"))

	mock.ExpectExec(`UPDATE strata_outbox SET status = \$1, retry_count = \$2, last_error = \$3`).
		WithArgs("failed", 10, "timeout", sqlmock.AnyArg(), "m2", "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.MarkFailed(ctx, "m2", 10, "timeout"))

	mock.ExpectExec(`UPDATE strata_outbox SET eligible = \$1, updated_at = \$2 WHERE eligible = \$3 AND status = \$4 AND created_at < \$5`).
		WithArgs(true, sqlmock.AnyArg(), false, "pending", at).
		WillReturnResult(sqlmock.NewResult(0, 4))
	n, err := s.PromoteOrphans(ctx, at)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)

	mock.ExpectExec("UPDATE strata_outbox SET eligible").WillReturnError(errors.New("bad connection"))
	_, err = s.MarkEligible(ctx, "tx1")
	assert.ErrorContains(t, err, "bad connection")
	require.NoError(t, mock.ExpectationsWereMet())
}
