// Package dialect defines the Data Store Adapter contract strata compiles
// against.
//
// Each backend implements Adapter. The core never talks to a driver
// directly: it asks the adapter for placeholder and row-locking syntax while
// compiling, executes the compiled text through it, and starts sessions on
// it when a call chain needs a transaction.
//
// # Supported Dialects
//
//	dialect.Postgres = "postgres"
//	dialect.MySQL    = "mysql"
//	dialect.SQLite   = "sqlite"
//	dialect.Mongo    = "mongo"
//
// # Adapter Interface
//
//	type Adapter interface {
//	    Dialect() string
//	    SchemaName() string
//	    StartSession(ctx context.Context) (Session, error)
//	    ExecuteQuery(ctx context.Context, text string, args []any) (Result, error)
//	    ResultRows(res Result) ([]Row, error)
//	    ExecuteCommand(ctx context.Context, text string, args []any) (int64, error)
//	    ValuePlaceholder(i int) string
//	    RowLockingClause(alias string) string
//	}
//
// # Sessions
//
// A Session is an exclusive connection. The session of the running call
// chain travels in the context; adapters execute on it when present:
//
//	sess, err := adapter.StartSession(ctx)
//	if err != nil {
//	    return err
//	}
//	if err := sess.BeginTransaction(ctx); err != nil {
//	    return err
//	}
//	ctx = dialect.NewContext(ctx, dialect.StaticSession(sess))
//	rows, err := adapter.ExecuteQuery(ctx, "SELECT 1", nil)
//
// Backends live in sub-packages: dialect/sql (database/sql for postgres,
// mysql and sqlite), dialect/pgx (native postgres) and dialect/mongo.
package dialect
