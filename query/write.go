package query

import (
	"context"
	"sort"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/schema"
)

// CompileInsert compiles the insert of one entity. Values are keyed by
// property name; relationships cannot be written. Numeric identifiers are
// generated by the store and read back: through RETURNING on postgres and
// sqlite, and through LAST_INSERT_ID() on mysql.
func (c *Compiler) CompileInsert(_ context.Context, e *schema.Entity, values map[string]any) (*Statement, error) {
	if err := c.relational(); err != nil {
		return nil, err
	}
	props, err := writable(e, values, true)
	if err != nil {
		return nil, err
	}
	b := &builder{placeholder: c.adapter.ValuePlaceholder}
	b.WriteString("INSERT INTO " + schema.QualifiedTable(c.adapter.SchemaName(), e.Table()))
	if len(props) == 0 {
		switch c.adapter.Dialect() {
		case dialect.MySQL:
			b.WriteString(" () VALUES ()")
		default:
			b.WriteString(" DEFAULT VALUES")
		}
	} else {
		b.WriteString(" (")
		for i, p := range props {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(p.Column())
		}
		b.WriteString(") VALUES (")
		for i, p := range props {
			if i > 0 {
				b.WriteString(", ")
			}
			v, err := fieldValue(e, p, values[p.Name()])
			if err != nil {
				return nil, err
			}
			b.WriteString(b.Arg(v))
		}
		b.WriteByte(')')
	}
	st := &Statement{}
	if _, ok := values[e.IDField()]; !ok && e.IDKind() == schema.IDNumeric {
		switch c.adapter.Dialect() {
		case dialect.MySQL:
			st.LastInsertID = "SELECT LAST_INSERT_ID() AS " + e.ID().Column()
		default:
			b.WriteString(" RETURNING " + e.ID().Column())
			st.Returning = true
		}
	}
	st.Text, st.Args = b.String(), b.args
	return st, nil
}

// CompileUpdate compiles the update of the entity with the given id.
func (c *Compiler) CompileUpdate(_ context.Context, e *schema.Entity, id string, values map[string]any) (*Statement, error) {
	if err := c.relational(); err != nil {
		return nil, err
	}
	vs, err := idValues(e, []string{id})
	if err != nil {
		return nil, err
	}
	props, err := writable(e, values, false)
	if err != nil {
		return nil, err
	}
	if len(props) == 0 {
		return nil, strata.InvalidArgument("nothing to update")
	}
	b := &builder{placeholder: c.adapter.ValuePlaceholder}
	b.WriteString("UPDATE " + schema.QualifiedTable(c.adapter.SchemaName(), e.Table()) + " SET ")
	for i, p := range props {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Column() + " = " + b.Arg(values[p.Name()]))
	}
	b.WriteString(" WHERE " + e.ID().Column() + " = " + b.Arg(vs[0]))
	return &Statement{Text: b.String(), Args: b.args}, nil
}

// CompileDelete compiles the delete of the entities with the given ids.
func (c *Compiler) CompileDelete(_ context.Context, e *schema.Entity, ids []string) (*Statement, error) {
	if err := c.relational(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, strata.InvalidArgument("no ids given")
	}
	vs, err := idValues(e, ids)
	if err != nil {
		return nil, err
	}
	b := &builder{placeholder: c.adapter.ValuePlaceholder}
	b.WriteString("DELETE FROM " + schema.QualifiedTable(c.adapter.SchemaName(), e.Table()) + " WHERE " + e.ID().Column() + " IN (")
	for i, v := range vs {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(b.Arg(v))
	}
	b.WriteByte(')')
	return &Statement{Text: b.String(), Args: b.args}, nil
}

// writable returns the properties of values in definition order.
func writable(e *schema.Entity, values map[string]any, withID bool) ([]*schema.Property, error) {
	index := make(map[string]int, len(values))
	props := make([]*schema.Property, 0, len(values))
	for i, p := range e.Properties() {
		index[p.Name()] = i
	}
	for name := range values {
		p, ok := e.Property(name)
		switch {
		case !ok:
			return nil, strata.InvalidArgument("unknown field %q of %s", name, e.Name())
		case p.Type().IsRelation():
			return nil, strata.InvalidArgument("relationship %q of %s cannot be written", name, e.Name())
		case name == e.IDField() && !withID:
			return nil, strata.InvalidArgument("identifier of %s cannot be updated", e.Name())
		}
		props = append(props, p)
	}
	sort.Slice(props, func(i, j int) bool {
		return index[props[i].Name()] < index[props[j].Name()]
	})
	return props, nil
}
