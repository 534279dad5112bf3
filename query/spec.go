package query

import (
	"strings"
)

// Direction is the direction of a sort key.
type Direction uint8

// Sort directions.
const (
	Asc Direction = iota
	Desc
)

// String returns the SQL keyword of the direction.
func (d Direction) String() string {
	if d == Desc {
		return "DESC"
	}
	return "ASC"
}

func (d Direction) reverse() Direction {
	if d == Desc {
		return Asc
	}
	return Desc
}

// Sort is one sort key. Field is a property name, prefixed with the
// relationship path for sub-entity sorts ("items.quantity").
type Sort struct {
	Field     string
	Direction Direction
}

// OrderAsc returns an ascending sort on field.
func OrderAsc(field string) Sort { return Sort{Field: field, Direction: Asc} }

// OrderDesc returns a descending sort on field.
func OrderDesc(field string) Sort { return Sort{Field: field, Direction: Desc} }

// Page restricts the root entities returned. After and Before are page
// tokens returned in the metadata of a previous page; at most one may be
// set, and neither can be combined with Offset.
//
// Token conditions compare sort keys with < and >, so rows whose root sort
// key is NULL are not reached by paging past them.
type Page struct {
	Size   int
	Offset int
	After  string
	Before string
}

// Spec is a query specification.
type Spec struct {
	// Where predicates are combined with AND. Predicates on a relationship
	// path restrict which related entities are returned, not which roots.
	Where []*Predicate

	// Sorts are applied in order. Root sorts are tie-broken by the root
	// identifier and every relationship level by its own identifier.
	Sorts []Sort

	Page *Page

	// Fields projects the result on property paths. A relationship path
	// selects the related entity with its scalar properties. Identifiers
	// are always selected. Empty means every property, following
	// relationships until an entity type repeats.
	Fields []string

	// Counts lists the paths to count entities at: "" or "*" for the root,
	// a relationship path otherwise. Reads in a locking transaction count
	// the root with a subquery instead of a window function, which
	// PostgreSQL rejects next to FOR UPDATE.
	Counts []string
}

// Options tune a compilation.
type Options struct {
	// OnlyPreviousOrNextPage requires exactly one of Page.After and
	// Page.Before.
	OnlyPreviousOrNextPage bool
}

// IsRootPath reports whether a count path designates the root entity.
func IsRootPath(path string) bool {
	return path == "" || path == "*"
}

// splitField splits "items.product.name" into ("items.product", "name").
func splitField(field string) (path, name string) {
	i := strings.LastIndexByte(field, '.')
	if i < 0 {
		return "", field
	}
	return field[:i], field[i+1:]
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}
