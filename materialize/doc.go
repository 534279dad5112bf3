// Package materialize folds the flat rows of a compiled select into nested
// entities.
//
// Rows are grouped by root identifier in the order they are returned, so
// the order of the statement is the order of the entities. Each group is
// folded level by level following the join plan: a to-one relationship
// becomes an entity or nil, a to-many relationship a list, empty when no
// related row was joined.
//
// Counts and page tokens are returned as strata.Metadata, never as entity
// fields.
package materialize
