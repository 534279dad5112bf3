package mongo

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/syssam/strata/dialect"
)

const paramKey = "__param"

// ErrSessionsUnsupported is returned by StartSession on adapters created
// without a session starter.
var ErrSessionsUnsupported = errors.New("dialect/mongo: adapter has no session starter")

// Database runs database commands. It is implemented by *mongo.Database.
type Database interface {
	Name() string
	RunCommand(ctx context.Context, cmd any, opts ...*options.RunCmdOptions) *mongo.SingleResult
	RunCommandCursor(ctx context.Context, cmd any, opts ...*options.RunCmdOptions) (*mongo.Cursor, error)
}

// TxnSession is the part of mongo.Session an adapter session uses.
type TxnSession interface {
	StartTransaction(opts ...*options.TransactionOptions) error
	CommitTransaction(ctx context.Context) error
	AbortTransaction(ctx context.Context) error
	EndSession(ctx context.Context)
}

// Adapter is a dialect.Adapter on one MongoDB database.
type Adapter struct {
	db    Database
	start func() (TxnSession, error)
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithSessionStarter sets the function starting driver sessions.
func WithSessionStarter(fn func() (TxnSession, error)) Option {
	return func(a *Adapter) {
		a.start = fn
	}
}

// Open connects to the deployment at uri and returns the Adapter of the
// named database together with its client.
func Open(ctx context.Context, uri, database string) (*Adapter, *mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("dialect/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, nil, errors.Join(fmt.Errorf("dialect/mongo: ping: %w", err), client.Disconnect(ctx))
	}
	return FromClient(client, database), client, nil
}

// FromClient returns the Adapter of the named database of client.
func FromClient(client *mongo.Client, database string) *Adapter {
	return New(client.Database(database), WithSessionStarter(func() (TxnSession, error) {
		return client.StartSession()
	}))
}

// New returns an Adapter running commands on db.
func New(db Database, opts ...Option) *Adapter {
	a := &Adapter{db: db}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Dialect implements the dialect.Adapter method.
func (a *Adapter) Dialect() string { return dialect.Mongo }

// SchemaName returns the database name.
func (a *Adapter) SchemaName() string { return a.db.Name() }

// ValuePlaceholder implements the dialect.Adapter method.
func (a *Adapter) ValuePlaceholder(i int) string {
	return `{"` + paramKey + `": ` + strconv.Itoa(i) + `}`
}

// RowLockingClause implements the dialect.Adapter method. MongoDB has none.
func (a *Adapter) RowLockingClause(string) string { return "" }

// StartSession starts a driver session.
func (a *Adapter) StartSession(context.Context) (dialect.Session, error) {
	if a.start == nil {
		return nil, ErrSessionsUnsupported
	}
	s, err := a.start()
	if err != nil {
		return nil, fmt.Errorf("dialect/mongo: start session: %w", err)
	}
	return &Session{sess: s, adapter: a}, nil
}

// ExecuteQuery implements the dialect.Adapter method.
func (a *Adapter) ExecuteQuery(ctx context.Context, text string, args []any) (dialect.Result, error) {
	cmd, err := Bind(text, args)
	if err != nil {
		return nil, err
	}
	ctx = a.sessionContext(ctx)
	switch cmd[0].Key {
	case "find", "aggregate", "listCollections", "listIndexes":
		cur, err := a.db.RunCommandCursor(ctx, cmd)
		if err != nil {
			return nil, fmt.Errorf("dialect/mongo: query: %w", err)
		}
		var docs []bson.M
		if err := cur.All(ctx, &docs); err != nil {
			return nil, fmt.Errorf("dialect/mongo: query: %w", err)
		}
		rows := make([]dialect.Row, len(docs))
		for i, d := range docs {
			rows[i] = row(d)
		}
		return rows, nil
	}
	var reply bson.M
	if err := a.db.RunCommand(ctx, cmd).Decode(&reply); err != nil {
		return nil, fmt.Errorf("dialect/mongo: query: %w", err)
	}
	return []dialect.Row{row(reply)}, nil
}

// ResultRows implements the dialect.Adapter method.
func (a *Adapter) ResultRows(res dialect.Result) ([]dialect.Row, error) {
	rows, ok := res.([]dialect.Row)
	if !ok {
		return nil, fmt.Errorf("dialect/mongo: invalid type %T. expect []dialect.Row", res)
	}
	return rows, nil
}

// ExecuteCommand implements the dialect.Adapter method.
func (a *Adapter) ExecuteCommand(ctx context.Context, text string, args []any) (int64, error) {
	cmd, err := Bind(text, args)
	if err != nil {
		return 0, err
	}
	var reply bson.M
	if err := a.db.RunCommand(a.sessionContext(ctx), cmd).Decode(&reply); err != nil {
		return 0, fmt.Errorf("dialect/mongo: exec: %w", err)
	}
	if werrs, ok := reply["writeErrors"].(bson.A); ok && len(werrs) > 0 {
		return 0, fmt.Errorf("dialect/mongo: exec: %v", werrs[0])
	}
	n, _ := plain(reply["n"]).(int64)
	return n, nil
}

// OwnsSession reports whether s was started by a.
func (a *Adapter) OwnsSession(s dialect.Session) bool {
	x, ok := dialect.UnwrapSession(s).(*Session)
	return ok && x.adapter == a
}

func (a *Adapter) sessionContext(ctx context.Context) context.Context {
	s, ok := dialect.UnwrapSession(dialect.SessionFrom(ctx)).(*Session)
	if !ok || s.adapter != a {
		return ctx
	}
	if ms, ok := s.sess.(mongo.Session); ok {
		return mongo.NewSessionContext(ctx, ms)
	}
	return ctx
}

// Bind parses an Extended JSON command and replaces its parameters with
// args.
func Bind(text string, args []any) (bson.D, error) {
	var cmd bson.D
	if err := bson.UnmarshalExtJSON([]byte(text), false, &cmd); err != nil {
		return nil, fmt.Errorf("dialect/mongo: parse command: %w", err)
	}
	if len(cmd) == 0 {
		return nil, errors.New("dialect/mongo: empty command")
	}
	v, err := bind(cmd, args)
	if err != nil {
		return nil, err
	}
	return v.(bson.D), nil
}

func bind(v any, args []any) (any, error) {
	switch v := v.(type) {
	case bson.D:
		if len(v) == 1 && v[0].Key == paramKey {
			n, ok := paramIndex(v[0].Value)
			if !ok || n < 1 || n > len(args) {
				return nil, fmt.Errorf("dialect/mongo: parameter %v out of range [1, %d]", v[0].Value, len(args))
			}
			return args[n-1], nil
		}
		out := make(bson.D, len(v))
		for i, e := range v {
			bv, err := bind(e.Value, args)
			if err != nil {
				return nil, err
			}
			out[i] = bson.E{Key: e.Key, Value: bv}
		}
		return out, nil
	case bson.A:
		out := make(bson.A, len(v))
		for i, e := range v {
			bv, err := bind(e, args)
			if err != nil {
				return nil, err
			}
			out[i] = bv
		}
		return out, nil
	}
	return v, nil
}

func paramIndex(v any) (int, bool) {
	switch v := v.(type) {
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return int(v), v == float64(int(v))
	}
	return 0, false
}

func row(d bson.M) dialect.Row {
	r := make(dialect.Row, len(d))
	for k, v := range d {
		r[k] = plain(v)
	}
	return r
}

// plain converts BSON values to the Go values the materializer coerces.
func plain(v any) any {
	switch v := v.(type) {
	case int32:
		return int64(v)
	case primitive.DateTime:
		return v.Time().UTC()
	case primitive.ObjectID:
		return v.Hex()
	case primitive.Decimal128:
		return v.String()
	case bson.A:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = plain(e)
		}
		return out
	}
	return v
}

// Session is a dialect.Session on a driver session.
type Session struct {
	sess    TxnSession
	adapter *Adapter
	inTx    bool
}

// BeginTransaction starts a transaction on the session.
func (s *Session) BeginTransaction(context.Context) error {
	if s.inTx {
		return errors.New("dialect/mongo: transaction already started on session")
	}
	if err := s.sess.StartTransaction(); err != nil {
		return fmt.Errorf("dialect/mongo: begin: %w", err)
	}
	s.inTx = true
	return nil
}

// Commit commits the session transaction.
func (s *Session) Commit(ctx context.Context) error {
	if !s.inTx {
		return errors.New("dialect/mongo: commit: no transaction on session")
	}
	s.inTx = false
	if err := s.sess.CommitTransaction(ctx); err != nil {
		return fmt.Errorf("dialect/mongo: commit: %w", err)
	}
	return nil
}

// Rollback aborts the session transaction.
func (s *Session) Rollback(ctx context.Context) error {
	if !s.inTx {
		return errors.New("dialect/mongo: rollback: no transaction on session")
	}
	s.inTx = false
	if err := s.sess.AbortTransaction(ctx); err != nil {
		return fmt.Errorf("dialect/mongo: rollback: %w", err)
	}
	return nil
}

// End aborts any transaction left open and ends the driver session.
func (s *Session) End(ctx context.Context) error {
	var err error
	if s.inTx {
		err = s.Rollback(ctx)
	}
	s.sess.EndSession(ctx)
	return err
}

var (
	_ dialect.Adapter      = (*Adapter)(nil)
	_ dialect.SessionOwner = (*Adapter)(nil)
	_ dialect.Session      = (*Session)(nil)
	_ Database             = (*mongo.Database)(nil)
	_ TxnSession           = (mongo.Session)(nil)
)
