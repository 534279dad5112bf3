package schema

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/syssam/strata"
)

// Builder collects definitions and freezes them into a Registry.
type Builder struct {
	defs []*Definition
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add appends definitions to the builder.
func (b *Builder) Add(defs ...*Definition) *Builder {
	b.defs = append(b.defs, defs...)
	return b
}

// Build validates the definitions and returns the immutable registry.
// Warnings do not fail the build; they are kept on the registry.
func (b *Builder) Build() (*Registry, error) {
	res := Validate(b.defs)
	if res.HasErrors() {
		return nil, fmt.Errorf("schema: invalid definitions:\n%s", res)
	}
	r := &Registry{entities: make(map[string]*Entity, len(b.defs)), warnings: res.Warnings}
	for _, d := range b.defs {
		if d == nil {
			continue
		}
		e := freeze(d)
		r.entities[e.name] = e
		r.order = append(r.order, e)
	}
	// Relations are linked once every entity exists.
	for _, d := range b.defs {
		if d == nil {
			continue
		}
		e := r.entities[d.Name]
		for _, pd := range d.Properties {
			if !pd.Type.IsRelation() {
				continue
			}
			p := e.byName[pd.Name]
			p.relation = &Relation{
				Target:           r.entities[pd.Target],
				Many:             pd.Type == TypeEntityArray,
				ForeignKey:       pd.ForeignKey,
				JoinTable:        pd.JoinTable,
				JoinOwnerColumn:  pd.JoinOwnerColumn,
				JoinTargetColumn: pd.JoinTargetColumn,
			}
		}
	}
	return r, nil
}

func freeze(d *Definition) *Entity {
	e := &Entity{
		name:    d.Name,
		table:   d.Table,
		idField: idFieldOf(d),
		idKind:  d.IDKind,
		byName:  make(map[string]*Property, len(d.Properties)+1),
	}
	if e.table == "" {
		e.table = TableName(d.Name)
	}
	idType := TypeInteger
	if e.idKind == IDString {
		idType = TypeString
	}
	id := &Property{name: e.idField, column: e.idField, typ: idType, unique: true}
	for _, pd := range d.Properties {
		if pd.Name == e.idField {
			id.column = columnOf(pd)
		}
	}
	e.props = append(e.props, id)
	e.byName[id.name] = id
	for _, pd := range d.Properties {
		if pd.Name == e.idField {
			continue
		}
		p := &Property{
			name:     pd.Name,
			column:   columnOf(pd),
			typ:      pd.Type,
			unique:   pd.Unique,
			optional: pd.Optional || pd.Type.IsRelation(),
		}
		if pd.Type.IsRelation() {
			p.column = ""
		}
		e.props = append(e.props, p)
		e.byName[p.name] = p
	}
	for _, idx := range d.Indexes {
		cols := make([]string, len(idx.Properties))
		for i, name := range idx.Properties {
			cols[i] = e.byName[name].column
		}
		name := idx.Name
		if name == "" {
			name = e.table + "_" + strings.Join(cols, "_")
		}
		e.indexes = append(e.indexes, Index{Name: name, Columns: cols, Unique: idx.Unique})
	}
	return e
}

func columnOf(pd PropertyDef) string {
	if pd.Column != "" {
		return pd.Column
	}
	return pd.Name
}

// Registry maps entity type names to their schemas. It is read-only and
// safe for concurrent use.
type Registry struct {
	entities map[string]*Entity
	order    []*Entity
	warnings []*ValidationError
}

// Resolve returns the schema of the named entity type.
func (r *Registry) Resolve(name string) (*Entity, error) {
	if e, ok := r.entities[name]; ok {
		return e, nil
	}
	return nil, strata.InvalidArgument("unknown entity type %q", name)
}

// Entities returns every registered entity in definition order.
func (r *Registry) Entities() []*Entity {
	out := make([]*Entity, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered entities.
func (r *Registry) Len() int { return len(r.order) }

// Warnings returns the validation warnings reported while building.
func (r *Registry) Warnings() []*ValidationError {
	out := make([]*ValidationError, len(r.warnings))
	copy(out, r.warnings)
	return out
}

// file is the layout of a YAML definitions file.
type file struct {
	Entities []*Definition `yaml:"entities"`
}

// LoadYAML reads definitions from a YAML document of the form:
//
//	entities:
//	  - name: Order
//	    properties:
//	      - {name: customerName, type: string}
//	      - {name: items, type: "entity[]", target: OrderItem, foreignKey: order_id}
func LoadYAML(r io.Reader) ([]*Definition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f file
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("schema: decode definitions: %w", err)
	}
	return f.Entities, nil
}
