// Package strata is the data-access core of a service framework.
//
// It compiles per-entity schema and query specifications into statements for
// relational and document stores, tracks the scope and ownership of
// transactions across nested service calls, and persists outbound messages
// so they are delivered only when the enclosing transaction commits.
//
// The root package holds what every other package shares: the error
// taxonomy, the Result envelope returned by public operations, and the
// capability interfaces services declare.
package strata
