package query

import (
	"strings"

	"github.com/syssam/strata"
	"github.com/syssam/strata/schema"
)

// Plan is the join plan of a compiled select. The Materializer walks it to
// fold flat rows back into nested entities.
type Plan struct {
	Root *Node

	// SortKeys is the root sort in consumer order, ending with the root
	// identifier unless the caller sorted on it already.
	SortKeys []SortKey

	// Page is the root pagination of the statement, or nil.
	Page *Page

	// Cursor is the direction of the page token applied, if any.
	Cursor PageDirection

	// OnlyPreviousOrNextPage is set when the statement was compiled for
	// fetching a neighbouring page only.
	OnlyPreviousOrNextPage bool
}

// SortKey is a resolved root sort key.
type SortKey struct {
	Field     string
	Column    string
	Label     string
	Direction Direction
}

// Signature returns the sort signature page tokens are bound to.
func (p *Plan) Signature() []string {
	keys := make([]string, len(p.SortKeys))
	for i, k := range p.SortKeys {
		keys[i] = k.Field + ":" + k.Direction.String()
	}
	return keys
}

// Paginated reports whether the root entities of the statement are paged.
func (p *Plan) Paginated() bool {
	return p.Page != nil && (p.Page.Size > 0 || p.Cursor != 0)
}

// Node is one entity level of a Plan: the root, or a joined relationship.
type Node struct {
	// Path is the relationship path from the root, empty for the root.
	Path string
	// Property is the relationship property of the parent, empty for the root.
	Property string
	Entity   *schema.Entity
	Relation schema.Relation
	Alias    string
	// Projected is false for relationships joined only to sort, filter or
	// count on them; they are not part of the returned entities.
	Projected bool
	// Columns selected for this level. The identifier comes first.
	Columns []Column
	// CountLabel labels the count column of this level, if one was requested.
	CountLabel string
	Children   []*Node

	parent *Node
	sorts  []SortKey
	where  []*Predicate
}

// Column is a selected property.
type Column struct {
	Property *schema.Property
	Label    string
	// Hidden columns are selected to sort or page on but not returned.
	Hidden bool
}

// IDLabel returns the label of the identifier column.
func (n *Node) IDLabel() string {
	return n.Columns[0].Label
}

// Many reports whether the node holds many entities per parent.
func (n *Node) Many() bool {
	return n.Relation.Many
}

// Walk calls fn for n and all its descendants, depth-first.
func (n *Node) Walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

func newNode(e *schema.Entity, alias string) *Node {
	n := &Node{Entity: e, Alias: alias}
	n.Columns = []Column{{Property: e.ID(), Label: label(alias, e.ID().Column())}}
	return n
}

func label(alias, column string) string {
	return strings.ToLower(alias + "_" + column)
}

// column adds the scalar property to the node unless it is present. A
// visible column replaces a hidden one.
func (n *Node) column(p *schema.Property, hidden bool) Column {
	for i, c := range n.Columns {
		if c.Property.Name() == p.Name() {
			if !hidden {
				n.Columns[i].Hidden = false
			}
			return n.Columns[i]
		}
	}
	c := Column{Property: p, Label: label(n.Alias, p.Column()), Hidden: hidden}
	n.Columns = append(n.Columns, c)
	return c
}

// child returns the node of the relationship property p, adding it if needed.
func (n *Node) child(p *schema.Property, projected bool) *Node {
	for _, c := range n.Children {
		if c.Property == p.Name() {
			c.Projected = c.Projected || projected
			return c
		}
	}
	rel, _ := p.Relation()
	c := newNode(rel.Target, strings.ToLower(n.Alias+"_"+p.Name()))
	c.Path, c.Property, c.Relation, c.Projected, c.parent = joinPath(n.Path, p.Name()), p.Name(), rel, projected, n
	n.Children = append(n.Children, c)
	return c
}

// node returns the node at path, joining every relationship on the way.
func (n *Node) node(path string, projected bool) (*Node, error) {
	if path == "" {
		return n, nil
	}
	cur := n
	for _, name := range strings.Split(path, ".") {
		p, ok := cur.Entity.Property(name)
		if !ok || !p.Type().IsRelation() {
			return nil, strata.InvalidArgument("unknown relationship %q of %s", name, cur.Entity.Name())
		}
		cur = cur.child(p, projected)
	}
	return cur, nil
}

// project selects every scalar of n, and every relationship whose target
// type does not appear on the path from the root.
func (n *Node) project(seen map[string]bool) {
	n.Projected = true
	for _, p := range n.Entity.Scalars() {
		n.column(p, false)
	}
	seen[n.Entity.Name()] = true
	defer delete(seen, n.Entity.Name())
	for _, p := range n.Entity.Relations() {
		rel, _ := p.Relation()
		if seen[rel.Target.Name()] {
			continue
		}
		n.child(p, true).project(seen)
	}
}

func buildPlan(e *schema.Entity, schemaName string, spec *Spec) (*Plan, error) {
	root := newNode(e, e.Alias(schemaName))
	root.Projected = true
	plan := &Plan{Root: root, Page: spec.Page}

	if len(spec.Fields) == 0 {
		root.project(make(map[string]bool))
	}
	for _, f := range spec.Fields {
		path, name := splitField(f)
		n, err := root.node(path, true)
		if err != nil {
			return nil, err
		}
		p, ok := n.Entity.Property(name)
		if !ok {
			return nil, strata.InvalidArgument("unknown field %q of %s", f, e.Name())
		}
		if !p.Type().IsRelation() {
			n.column(p, false)
			continue
		}
		c := n.child(p, true)
		for _, s := range c.Entity.Scalars() {
			c.column(s, false)
		}
	}

	for _, s := range spec.Sorts {
		path, name := splitField(s.Field)
		n, err := root.node(path, false)
		if err != nil {
			return nil, err
		}
		p, ok := n.Entity.Property(name)
		if !ok || p.Type().IsRelation() {
			return nil, strata.InvalidArgument("cannot sort on %q of %s", s.Field, e.Name())
		}
		col := n.column(p, true)
		n.sorts = append(n.sorts, SortKey{Field: s.Field, Column: p.Column(), Label: col.Label, Direction: s.Direction})
	}
	plan.SortKeys = append(plan.SortKeys, root.sorts...)
	if !hasSort(root.sorts, e.IDField()) {
		id := root.Columns[0]
		plan.SortKeys = append(plan.SortKeys, SortKey{Field: e.IDField(), Column: id.Property.Column(), Label: id.Label, Direction: Asc})
	}

	for _, w := range spec.Where {
		if w == nil {
			return nil, strata.InvalidArgument("nil predicate")
		}
		path, err := w.Path()
		if err != nil {
			return nil, err
		}
		n, err := root.node(path, false)
		if err != nil {
			return nil, err
		}
		n.where = append(n.where, w)
	}

	for _, path := range spec.Counts {
		n := root
		if !IsRootPath(path) {
			var err error
			if n, err = root.node(path, false); err != nil {
				return nil, err
			}
		}
		n.CountLabel = strings.ToLower(n.Alias + "_" + countColumn)
	}
	return plan, nil
}

func hasSort(keys []SortKey, field string) bool {
	for _, k := range keys {
		if k.Field == field {
			return true
		}
	}
	return false
}
