package pgx

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata/dialect"
)

type call struct {
	on, sql string
	args    []any
}

type recorder struct {
	calls []call
	rows  [][]any
	cols  []string
	err   error
}

func (r *recorder) exec(on, sql string, args []any) (pgconn.CommandTag, error) {
	r.calls = append(r.calls, call{on, sql, args})
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	return pgconn.NewCommandTag("UPDATE 2"), nil
}

func (r *recorder) query(on, sql string, args []any) (pgx.Rows, error) {
	r.calls = append(r.calls, call{on, sql, args})
	if r.err != nil {
		return nil, r.err
	}
	return &fakeRows{cols: r.cols, rows: r.rows, i: -1}, nil
}

type fakeRows struct {
	pgx.Rows
	cols   []string
	rows   [][]any
	i      int
	closed bool
}

func (f *fakeRows) Close()     { f.closed = true }
func (f *fakeRows) Err() error { return nil }
func (f *fakeRows) Next() bool { f.i++; return f.i < len(f.rows) }

func (f *fakeRows) FieldDescriptions() []pgconn.FieldDescription {
	fds := make([]pgconn.FieldDescription, len(f.cols))
	for i, c := range f.cols {
		fds[i].Name = c
	}
	return fds
}

func (f *fakeRows) Values() ([]any, error) { return f.rows[f.i], nil }

type fakeTx struct {
	pgx.Tx
	r                     *recorder
	committed, rolledBack bool
}

func (t *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.r.exec("tx", sql, args)
}

func (t *fakeTx) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.r.query("tx", sql, args)
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	t.rolledBack = true
	return nil
}

type fakeConn struct {
	r        *recorder
	tx       *fakeTx
	released bool
}

func (c *fakeConn) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return c.r.exec("conn", sql, args)
}

func (c *fakeConn) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	return c.r.query("conn", sql, args)
}

func (c *fakeConn) Begin(context.Context) (pgx.Tx, error) {
	c.tx = &fakeTx{r: c.r}
	return c.tx, nil
}

func (c *fakeConn) Release() { c.released = true }

type fakePool struct {
	r       *recorder
	conns   []*fakeConn
	closed  bool
	acquire error
}

func (p *fakePool) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return p.r.exec("pool", sql, args)
}

func (p *fakePool) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	return p.r.query("pool", sql, args)
}

func (p *fakePool) Acquire(context.Context) (Conn, error) {
	if p.acquire != nil {
		return nil, p.acquire
	}
	c := &fakeConn{r: p.r}
	p.conns = append(p.conns, c)
	return c, nil
}

func (p *fakePool) Close() { p.closed = true }

func TestAdapter(t *testing.T) {
	p := &fakePool{r: &recorder{}}
	a := New(p, WithSchema("public"))
	assert.Equal(t, dialect.Postgres, a.Dialect())
	assert.Equal(t, "public", a.SchemaName())
	assert.Equal(t, "$2", a.ValuePlaceholder(2))
	assert.Equal(t, "FOR UPDATE OF public_order", a.RowLockingClause("public_order"))
	a.Close()
	assert.True(t, p.closed)
}

func TestExecuteQuery(t *testing.T) {
	var num pgtype.Numeric
	require.NoError(t, num.Scan("19.90"))
	r := &recorder{
		cols: []string{"id", "total", "ref"},
		rows: [][]any{
			{int64(1), num, [16]byte{0x6b, 0xa7, 0xb8, 0x10, 0x9d, 0xad, 0x11, 0xd1, 0x80, 0xb4, 0x00, 0xc0, 0x4f, 0xd4, 0x30, 0xc8}},
			{int64(2), nil, nil},
		},
	}
	a := New(&fakePool{r: r})
	res, err := a.ExecuteQuery(context.Background(), "SELECT id, total, ref FROM orders WHERE id IN ($1, $2)", []any{int64(1), int64(2)})
	require.NoError(t, err)
	rows, err := a.ResultRows(res)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0]["id"])
	assert.Equal(t, "19.90", rows[0]["total"])
	assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", rows[0]["ref"])
	assert.Nil(t, rows[1]["total"])
	require.Len(t, r.calls, 1)
	assert.Equal(t, "pool", r.calls[0].on)
	assert.Equal(t, []any{int64(1), int64(2)}, r.calls[0].args)

	_, err = a.ResultRows("rows")
	assert.Error(t, err)
}

func TestExecuteErrors(t *testing.T) {
	r := &recorder{err: &pgconn.PgError{Code: "23505"}}
	a := New(&fakePool{r: r})
	_, err := a.ExecuteQuery(context.Background(), "SELECT 1", nil)
	assert.ErrorContains(t, err, "dialect/pgx: query")
	_, err = a.ExecuteCommand(context.Background(), "DELETE FROM orders", nil)
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "23505", pgErr.SQLState())
}

func TestSession(t *testing.T) {
	r := &recorder{}
	p := &fakePool{r: r}
	a := New(p)
	ctx := context.Background()

	sess, err := a.StartSession(ctx)
	require.NoError(t, err)
	sctx := dialect.NewContext(ctx, dialect.StaticSession{S: sess})

	_, err = a.ExecuteCommand(sctx, "SET lock_timeout = '1s'", nil)
	require.NoError(t, err)
	require.NoError(t, sess.BeginTransaction(ctx))
	assert.Error(t, sess.BeginTransaction(ctx))
	n, err := a.ExecuteCommand(sctx, "UPDATE orders SET paid = $1", []any{true})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	_, err = a.ExecuteQuery(ctx, "SELECT 1", nil)
	require.NoError(t, err)

	require.NoError(t, sess.Commit(ctx))
	assert.Error(t, sess.Commit(ctx))
	require.NoError(t, sess.End(ctx))

	require.Len(t, p.conns, 1)
	c := p.conns[0]
	assert.True(t, c.tx.committed)
	assert.False(t, c.tx.rolledBack)
	assert.True(t, c.released)
	var on []string
	for _, cl := range r.calls {
		on = append(on, cl.on)
	}
	assert.Equal(t, []string{"conn", "tx", "pool"}, on)
}

func TestSessionEndRollsBack(t *testing.T) {
	p := &fakePool{r: &recorder{}}
	a := New(p)
	ctx := context.Background()
	sess, err := a.StartSession(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.BeginTransaction(ctx))
	require.NoError(t, sess.End(ctx))
	assert.True(t, p.conns[0].tx.rolledBack)
	assert.True(t, p.conns[0].released)
}

func TestForeignSessionIgnored(t *testing.T) {
	r1, r2 := &recorder{}, &recorder{}
	a1, a2 := New(&fakePool{r: r1}), New(&fakePool{r: r2})
	ctx := context.Background()
	sess, err := a1.StartSession(ctx)
	require.NoError(t, err)
	_, err = a2.ExecuteCommand(dialect.NewContext(ctx, dialect.StaticSession{S: sess}), "DELETE FROM orders", nil)
	require.NoError(t, err)
	assert.Empty(t, r1.calls)
	require.Len(t, r2.calls, 1)
	assert.Equal(t, "pool", r2.calls[0].on)
}

func TestStartSessionError(t *testing.T) {
	a := New(&fakePool{r: &recorder{}, acquire: errors.New("pool closed")})
	_, err := a.StartSession(context.Background())
	assert.ErrorContains(t, err, "pool closed")
}
