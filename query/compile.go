package query

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/schema"
	"github.com/syssam/strata/txn"
)

// countColumn is the name of the window count column added to counted
// levels. Definitions cannot use it.
const countColumn = "_count"

// ErrUnsupportedDialect is returned when compiling for a backend without a
// relational query language.
var ErrUnsupportedDialect = errors.New("query: dialect has no relational compiler")

// Statement is a compiled statement. Args holds one value per placeholder
// of Text, in the order the placeholders appear.
type Statement struct {
	Text string
	Args []any

	// RootCount is set when a root count column was requested.
	RootCount bool
	// Locked is set when the statement locks the rows it selects.
	Locked bool
	// Plan is the join plan of select statements.
	Plan *Plan

	// Returning is set for inserts returning the generated identifier as
	// a row. LastInsertID, if set, is the query reading the generated
	// identifier after the insert, on the same session.
	Returning    bool
	LastInsertID string
}

// Compiler compiles query specifications into statements for one adapter.
// It holds no state besides the adapter and is safe for concurrent use.
type Compiler struct {
	adapter dialect.Adapter
}

// NewCompiler returns a compiler for the adapter's dialect.
func NewCompiler(a dialect.Adapter) *Compiler {
	return &Compiler{adapter: a}
}

// CompileByIDs compiles the fetch of the entities with the given ids. On
// numeric keys every id must be an integer; otherwise nothing is compiled
// and an INVALID_ARGUMENT error is returned.
func (c *Compiler) CompileByIDs(ctx context.Context, e *schema.Entity, ids []string, spec *Spec, opts Options) (*Statement, error) {
	if len(ids) == 0 {
		return nil, strata.InvalidArgument("no ids given")
	}
	vs, err := idValues(e, ids)
	if err != nil {
		return nil, err
	}
	return c.compileSelect(ctx, e, vs, spec, opts)
}

// Compile compiles the fetch of the entities matching spec.
func (c *Compiler) Compile(ctx context.Context, e *schema.Entity, spec *Spec, opts Options) (*Statement, error) {
	return c.compileSelect(ctx, e, nil, spec, opts)
}

func (c *Compiler) compileSelect(ctx context.Context, e *schema.Entity, ids []any, spec *Spec, opts Options) (*Statement, error) {
	if err := c.relational(); err != nil {
		return nil, err
	}
	if spec == nil {
		spec = &Spec{}
	}
	if err := checkPage(spec.Page, opts); err != nil {
		return nil, err
	}
	plan, err := buildPlan(e, c.adapter.SchemaName(), spec)
	if err != nil {
		return nil, err
	}
	plan.OnlyPreviousOrNextPage = opts.OnlyPreviousOrNextPage
	var cursor *Token
	if p := spec.Page; p != nil && (p.After != "" || p.Before != "") {
		s, dir := p.After, PageNext
		if p.Before != "" {
			s, dir = p.Before, PagePrevious
		}
		t, err := checkToken(s, dir, plan.Signature())
		if err != nil {
			return nil, err
		}
		cursor, plan.Cursor = &t, dir
	}

	root := plan.Root
	b := &builder{placeholder: c.adapter.ValuePlaceholder}
	b.WriteString("SELECT ")
	first := true
	root.Walk(func(n *Node) {
		for _, col := range n.Columns {
			if !first {
				b.WriteString(", ")
			}
			first = false
			b.WriteString(n.Alias + "." + col.Property.Column() + " AS " + col.Label)
		}
		if n.CountLabel != "" {
			b.WriteString(", " + n.Alias + "." + countColumn + " AS " + n.CountLabel)
		}
	})

	table := e.Table()
	from := schema.QualifiedTable(c.adapter.SchemaName(), table)
	locked := txn.FromContext(ctx).Locking() && c.adapter.RowLockingClause(root.Alias) != ""
	where := func() error {
		conds := len(root.where)
		if ids != nil {
			conds++
		}
		if cursor != nil {
			conds++
		}
		if conds == 0 {
			return nil
		}
		b.WriteString(" WHERE ")
		sep := false
		and := func() {
			if sep {
				b.WriteString(" AND ")
			}
			sep = true
		}
		if ids != nil {
			and()
			b.WriteString(e.ID().Column() + " IN (")
			for i, id := range ids {
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString(b.Arg(id))
			}
			b.WriteByte(')')
		}
		for _, w := range root.where {
			and()
			if err := w.render(b, e, ""); err != nil {
				return err
			}
		}
		if cursor != nil {
			and()
			writeKeyset(b, plan.SortKeys, cursor)
		}
		return nil
	}

	b.WriteString(" FROM (SELECT " + table + ".*")
	switch {
	case root.CountLabel == "":
	case locked:
		// Row locks cannot be combined with window functions, so a locked
		// read counts with a scalar subquery on the same conditions.
		b.WriteString(", (SELECT COUNT(*) FROM " + from)
		if err := where(); err != nil {
			return nil, err
		}
		b.WriteString(") AS " + countColumn)
	default:
		b.WriteString(", COUNT(*) OVER() AS " + countColumn)
	}
	b.WriteString(" FROM " + from)
	if err := where(); err != nil {
		return nil, err
	}
	b.WriteString(" ORDER BY ")
	for i, k := range plan.SortKeys {
		if i > 0 {
			b.WriteString(", ")
		}
		dir := k.Direction
		if plan.Cursor == PagePrevious {
			dir = dir.reverse()
		}
		b.WriteString(k.Column + " " + dir.String())
	}
	c.writeLimit(b, spec.Page)
	b.WriteString(") AS " + root.Alias)

	for _, child := range root.Children {
		if err := c.writeJoin(b, root, child); err != nil {
			return nil, err
		}
	}

	b.WriteString(" ORDER BY ")
	for i, k := range plan.SortKeys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(root.Alias + "." + k.Column + " " + k.Direction.String())
	}
	root.Walk(func(n *Node) {
		if n == root {
			return
		}
		for _, k := range n.sorts {
			b.WriteString(", " + n.Alias + "." + k.Column + " " + k.Direction.String())
		}
		b.WriteString(", " + n.Alias + "." + n.Entity.ID().Column() + " ASC")
	})

	st := &Statement{RootCount: root.CountLabel != "", Plan: plan, Locked: locked}
	if locked {
		b.WriteString(" " + c.adapter.RowLockingClause(root.Alias))
	}
	st.Text, st.Args = b.String(), b.args
	return st, nil
}

func (c *Compiler) relational() error {
	if d := c.adapter.Dialect(); d == dialect.Mongo {
		return fmt.Errorf("%w: %s", ErrUnsupportedDialect, d)
	}
	return nil
}

// writeKeyset writes the condition selecting the rows after (or before) the
// token's sort key:
//
//	(k1 > v1 OR (k1 = v1 AND k2 > v2) OR ...)
func writeKeyset(b *builder, keys []SortKey, t *Token) {
	b.WriteByte('(')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(" OR ")
		}
		if i > 0 {
			b.WriteByte('(')
		}
		for j := 0; j < i; j++ {
			b.WriteString(keys[j].Column + " = " + b.Arg(t.Values[j]) + " AND ")
		}
		op := ">"
		if (k.Direction == Desc) != (t.Direction == PagePrevious) {
			op = "<"
		}
		b.WriteString(k.Column + " " + op + " " + b.Arg(t.Values[i]))
		if i > 0 {
			b.WriteByte(')')
		}
	}
	b.WriteByte(')')
}

func (c *Compiler) writeLimit(b *builder, p *Page) {
	if p == nil || (p.Size == 0 && p.Offset == 0) {
		return
	}
	switch {
	case p.Size > 0:
		b.WriteString(" LIMIT " + strconv.Itoa(p.Size))
	case c.adapter.Dialect() == dialect.MySQL:
		b.WriteString(" LIMIT 18446744073709551615")
	case c.adapter.Dialect() == dialect.SQLite:
		b.WriteString(" LIMIT -1")
	}
	if p.Offset > 0 {
		b.WriteString(" OFFSET " + strconv.Itoa(p.Offset))
	}
}

// writeJoin joins the relationship n to its parent. Relationships that are
// filtered or counted are joined through a derived table applying the
// filter and computing the per-parent count.
func (c *Compiler) writeJoin(b *builder, parent, n *Node) error {
	sc := c.adapter.SchemaName()
	rel := n.Relation
	target := n.Entity
	parentID := parent.Alias + "." + parent.Entity.ID().Column()
	if rel.JoinTable != "" {
		b.WriteString(" LEFT JOIN (SELECT jt." + rel.JoinOwnerColumn + " AS _owner, t.*")
		if n.CountLabel != "" {
			b.WriteString(", COUNT(*) OVER (PARTITION BY jt." + rel.JoinOwnerColumn + ") AS " + countColumn)
		}
		b.WriteString(" FROM " + schema.QualifiedTable(sc, rel.JoinTable) + " AS jt INNER JOIN " +
			schema.QualifiedTable(sc, target.Table()) + " AS t ON t." + target.ID().Column() + " = jt." + rel.JoinTargetColumn)
		if err := writeWhere(b, target, n.where, "t"); err != nil {
			return err
		}
		b.WriteString(") AS " + n.Alias + " ON " + n.Alias + "._owner = " + parentID)
	} else {
		b.WriteString(" LEFT JOIN ")
		if n.CountLabel != "" || len(n.where) > 0 {
			b.WriteString("(SELECT " + target.Table() + ".*")
			if n.CountLabel != "" {
				b.WriteString(", COUNT(*) OVER (PARTITION BY " + rel.ForeignKey + ") AS " + countColumn)
			}
			b.WriteString(" FROM " + schema.QualifiedTable(sc, target.Table()))
			if err := writeWhere(b, target, n.where, ""); err != nil {
				return err
			}
			b.WriteByte(')')
		} else {
			b.WriteString(schema.QualifiedTable(sc, target.Table()))
		}
		b.WriteString(" AS " + n.Alias + " ON " + n.Alias + "." + rel.ForeignKey + " = " + parentID)
	}
	for _, child := range n.Children {
		if err := c.writeJoin(b, n, child); err != nil {
			return err
		}
	}
	return nil
}

func writeWhere(b *builder, e *schema.Entity, preds []*Predicate, qualifier string) error {
	for i, p := range preds {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		if err := p.render(b, e, qualifier); err != nil {
			return err
		}
	}
	return nil
}

func checkPage(p *Page, opts Options) error {
	if opts.OnlyPreviousOrNextPage && (p == nil || (p.After == "") == (p.Before == "")) {
		return strata.InvalidArgument("exactly one of the previous and next page tokens must be given")
	}
	if p == nil {
		return nil
	}
	switch {
	case p.After != "" && p.Before != "":
		return strata.InvalidArgument("previous and next page tokens cannot be combined")
	case p.Size < 0 || p.Offset < 0:
		return strata.InvalidArgument("page size and offset cannot be negative")
	case p.Offset > 0 && (p.After != "" || p.Before != ""):
		return strata.InvalidArgument("page offset cannot be combined with a page token")
	}
	return nil
}

func idValues(e *schema.Entity, ids []string) ([]any, error) {
	vs := make([]any, len(ids))
	for i, id := range ids {
		if e.IDKind() == schema.IDString {
			vs[i] = id
			continue
		}
		n, err := parseID(id)
		if err != nil {
			return nil, err
		}
		vs[i] = n
	}
	return vs, nil
}

func parseID(id string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil {
		return 0, strata.InvalidArgument("all ids must be numeric values, got %q", id)
	}
	return n, nil
}
