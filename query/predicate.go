package query

import (
	"strings"

	"github.com/syssam/strata"
	"github.com/syssam/strata/schema"
)

// Op is the operator of a Predicate.
type Op uint8

// Predicate operators.
const (
	OpEQ Op = iota + 1
	OpNEQ
	OpGT
	OpGTE
	OpLT
	OpLTE
	OpIn
	OpNotIn
	OpLike
	OpIsNull
	OpNotNull
	OpAnd
	OpOr
	OpNot
)

var opText = [...]string{
	OpEQ:      "=",
	OpNEQ:     "<>",
	OpGT:      ">",
	OpGTE:     ">=",
	OpLT:      "<",
	OpLTE:     "<=",
	OpIn:      "IN",
	OpNotIn:   "NOT IN",
	OpLike:    "LIKE",
	OpIsNull:  "IS NULL",
	OpNotNull: "IS NOT NULL",
	OpAnd:     "AND",
	OpOr:      "OR",
	OpNot:     "NOT",
}

// Predicate is a filter on property values. Leaf predicates name a field,
// optionally prefixed with a relationship path; compound predicates combine
// predicates on the same path.
type Predicate struct {
	op       Op
	field    string
	values   []any
	children []*Predicate
}

// FieldEQ returns a predicate that checks if the field equals the given value.
func FieldEQ(field string, v any) *Predicate { return leaf(OpEQ, field, v) }

// FieldNEQ returns a predicate that checks if the field does not equal the given value.
func FieldNEQ(field string, v any) *Predicate { return leaf(OpNEQ, field, v) }

// FieldGT returns a predicate that checks if the field is greater than the given value.
func FieldGT(field string, v any) *Predicate { return leaf(OpGT, field, v) }

// FieldGTE returns a predicate that checks if the field is greater than or equal to the given value.
func FieldGTE(field string, v any) *Predicate { return leaf(OpGTE, field, v) }

// FieldLT returns a predicate that checks if the field is less than the given value.
func FieldLT(field string, v any) *Predicate { return leaf(OpLT, field, v) }

// FieldLTE returns a predicate that checks if the field is less than or equal to the given value.
func FieldLTE(field string, v any) *Predicate { return leaf(OpLTE, field, v) }

// FieldIn returns a predicate that checks if the field value is in the given list.
func FieldIn(field string, vs ...any) *Predicate { return leaf(OpIn, field, vs...) }

// FieldNotIn returns a predicate that checks if the field value is not in the given list.
func FieldNotIn(field string, vs ...any) *Predicate { return leaf(OpNotIn, field, vs...) }

// FieldLike returns a predicate that matches the field against a LIKE pattern.
func FieldLike(field, pattern string) *Predicate { return leaf(OpLike, field, pattern) }

// FieldHasPrefix returns a predicate that checks if the field has the given prefix.
// The prefix is used as a LIKE pattern.
func FieldHasPrefix(field, prefix string) *Predicate { return leaf(OpLike, field, prefix+"%") }

// FieldIsNull returns a predicate that checks if the field is NULL.
func FieldIsNull(field string) *Predicate { return leaf(OpIsNull, field) }

// FieldNotNull returns a predicate that checks if the field is not NULL.
func FieldNotNull(field string) *Predicate { return leaf(OpNotNull, field) }

// And groups predicates with the AND operator.
func And(ps ...*Predicate) *Predicate { return &Predicate{op: OpAnd, children: ps} }

// Or groups predicates with the OR operator.
func Or(ps ...*Predicate) *Predicate { return &Predicate{op: OpOr, children: ps} }

// Not negates the given predicate.
func Not(p *Predicate) *Predicate { return &Predicate{op: OpNot, children: []*Predicate{p}} }

func leaf(op Op, field string, vs ...any) *Predicate {
	return &Predicate{op: op, field: field, values: vs}
}

// Op returns the operator of the predicate.
func (p *Predicate) Op() Op { return p.op }

// Path returns the relationship path the predicate applies to. It fails if
// the children of a compound predicate apply to different paths.
func (p *Predicate) Path() (string, error) {
	if p.op < OpAnd {
		path, _ := splitField(p.field)
		return path, nil
	}
	if len(p.children) == 0 {
		return "", strata.InvalidArgument("empty %s predicate", opText[p.op])
	}
	var path string
	for i, c := range p.children {
		if c == nil {
			return "", strata.InvalidArgument("nil predicate in %s", opText[p.op])
		}
		cp, err := c.Path()
		if err != nil {
			return "", err
		}
		if i > 0 && cp != path {
			return "", strata.InvalidArgument("predicate mixes paths %q and %q", path, cp)
		}
		path = cp
	}
	return path, nil
}

// render writes the predicate for entity e. Columns are qualified with
// qualifier when it is not empty.
func (p *Predicate) render(b *builder, e *schema.Entity, qualifier string) error {
	switch p.op {
	case OpAnd, OpOr:
		b.WriteByte('(')
		for i, c := range p.children {
			if i > 0 {
				b.WriteString(" " + opText[p.op] + " ")
			}
			if err := c.render(b, e, qualifier); err != nil {
				return err
			}
		}
		b.WriteByte(')')
		return nil
	case OpNot:
		b.WriteString("NOT (")
		if err := p.children[0].render(b, e, qualifier); err != nil {
			return err
		}
		b.WriteByte(')')
		return nil
	}
	_, name := splitField(p.field)
	prop, ok := e.Property(name)
	if !ok || prop.Type().IsRelation() {
		return strata.InvalidArgument("unknown field %q of %s", p.field, e.Name())
	}
	col := qualify(qualifier, prop.Column())
	switch p.op {
	case OpIsNull, OpNotNull:
		b.WriteString(col + " " + opText[p.op])
	case OpIn, OpNotIn:
		if len(p.values) == 0 {
			// IN () is not valid SQL; an empty list matches nothing.
			if p.op == OpIn {
				b.WriteString("1 = 0")
			} else {
				b.WriteString("1 = 1")
			}
			return nil
		}
		b.WriteString(col + " " + opText[p.op] + " (")
		for i, v := range p.values {
			if i > 0 {
				b.WriteString(", ")
			}
			v, err := fieldValue(e, prop, v)
			if err != nil {
				return err
			}
			b.WriteString(b.Arg(v))
		}
		b.WriteByte(')')
	default:
		if len(p.values) != 1 {
			return strata.InvalidArgument("predicate on %q requires one value", p.field)
		}
		v, err := fieldValue(e, prop, p.values[0])
		if err != nil {
			return err
		}
		b.WriteString(col + " " + opText[p.op] + " " + b.Arg(v))
	}
	return nil
}

// fieldValue converts identifiers given as strings for numeric keys.
func fieldValue(e *schema.Entity, prop *schema.Property, v any) (any, error) {
	s, ok := v.(string)
	if !ok || prop.Name() != e.IDField() || e.IDKind() != schema.IDNumeric {
		return v, nil
	}
	return parseID(s)
}

func qualify(qualifier, col string) string {
	if qualifier == "" {
		return col
	}
	return qualifier + "." + col
}

// builder accumulates statement text and its arguments. Arguments are
// numbered in the order they are written.
type builder struct {
	strings.Builder
	args        []any
	placeholder func(int) string
}

// Arg records v and returns its placeholder.
func (b *builder) Arg(v any) string {
	b.args = append(b.args, v)
	return b.placeholder(len(b.args))
}

// Pad writes a space unless the text is empty or ends with one.
func (b *builder) Pad() *builder {
	if s := b.String(); s != "" && !strings.HasSuffix(s, " ") {
		b.WriteByte(' ')
	}
	return b
}
