// Package sql implements the dialect.Adapter contract on database/sql.
//
// One Adapter serves PostgreSQL (github.com/lib/pq), MySQL
// (github.com/go-sql-driver/mysql) and SQLite (modernc.org/sqlite). The
// driver must be registered by the program, usually with a blank import:
//
//	import (
//	    _ "github.com/lib/pq"
//
//	    "github.com/syssam/strata/dialect"
//	    "github.com/syssam/strata/dialect/sql"
//	)
//
//	adapter, err := sql.Open(dialect.Postgres, dsn, sql.WithSchema("public"))
//
// # Placeholders and Locking
//
//	dialect   placeholder   row locking
//	postgres  $1, $2, ...   FOR UPDATE OF <alias>
//	mysql     ?             FOR UPDATE
//	sqlite    ?             (none)
//
// # Sessions
//
// StartSession reserves a *sql.Conn from the pool. While the session is in
// the context, ExecuteQuery and ExecuteCommand run on its transaction, or
// on the bare connection before BeginTransaction. Statements without a
// session run on the pool.
//
// # Constraint Errors
//
// IsUniqueConstraintError, IsForeignKeyConstraintError and
// IsCheckConstraintError classify driver errors by SQLSTATE (lib/pq, pgx),
// MySQL error number, or message for SQLite.
package sql
