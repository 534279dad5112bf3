// Package pgx implements the dialect.Adapter contract natively on
// github.com/jackc/pgx/v5, without database/sql.
//
//	adapter, err := pgx.Open(ctx, "postgres://localhost/shop", pgx.WithSchema("public"))
//	if err != nil {
//		return err
//	}
//	defer adapter.Close()
//
// A session acquires one connection from the pgxpool pool and holds at most
// one transaction on it. Values pgx decodes into pgtype structs (numeric,
// uuid) are returned in their textual form so the materializer can coerce
// them like values read through database/sql.
package pgx
