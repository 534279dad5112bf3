package schema

import (
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

// Type is the semantic type of a property.
type Type uint8

// Semantic types.
const (
	TypeInvalid Type = iota
	TypeString
	TypeInteger
	TypeNumber
	TypeDecimal
	TypeBoolean
	TypeTime
	TypeEntity
	TypeEntityArray
)

var typeNames = [...]string{
	TypeInvalid:     "invalid",
	TypeString:      "string",
	TypeInteger:     "integer",
	TypeNumber:      "number",
	TypeDecimal:     "decimal",
	TypeBoolean:     "boolean",
	TypeTime:        "time",
	TypeEntity:      "entity",
	TypeEntityArray: "entity[]",
}

// String returns the name of the type.
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", t)
}

// IsRelation reports whether the type refers to other entities.
func (t Type) IsRelation() bool {
	return t == TypeEntity || t == TypeEntityArray
}

// ParseType returns the type with the given name.
func ParseType(s string) (Type, error) {
	for i, name := range typeNames {
		if i > 0 && name == s {
			return Type(i), nil
		}
	}
	return TypeInvalid, fmt.Errorf("schema: unknown type %q", s)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *Type) UnmarshalYAML(value *yaml.Node) error {
	v, err := ParseType(value.Value)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (t Type) MarshalYAML() (any, error) {
	return t.String(), nil
}

// IDKind tells how identifiers of an entity are represented.
type IDKind uint8

// Identifier kinds.
const (
	// IDNumeric identifiers are integer surrogate keys. Requested ids must
	// parse as integers.
	IDNumeric IDKind = iota
	// IDString identifiers are opaque strings such as uuids or object ids.
	IDString
)

// String returns the name of the kind.
func (k IDKind) String() string {
	if k == IDString {
		return "string"
	}
	return "numeric"
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (k *IDKind) UnmarshalYAML(value *yaml.Node) error {
	switch value.Value {
	case "", "numeric":
		*k = IDNumeric
	case "string":
		*k = IDString
	default:
		return fmt.Errorf("schema: unknown id kind %q", value.Value)
	}
	return nil
}

// Definition describes an entity before it is registered.
type Definition struct {
	Name       string        `yaml:"name"`
	Table      string        `yaml:"table,omitempty"`
	ID         string        `yaml:"id,omitempty"` // "id" (default) or "_id"
	IDKind     IDKind        `yaml:"idKind,omitempty"`
	Properties []PropertyDef `yaml:"properties"`
	Indexes    []IndexDef    `yaml:"indexes,omitempty"`
}

// PropertyDef describes one property of a Definition.
type PropertyDef struct {
	Name     string `yaml:"name"`
	Column   string `yaml:"column,omitempty"`
	Type     Type   `yaml:"type"`
	Unique   bool   `yaml:"unique,omitempty"`
	Optional bool   `yaml:"optional,omitempty"`

	// Relationship options, for entity and entity[] properties.
	Target           string `yaml:"target,omitempty"`
	ForeignKey       string `yaml:"foreignKey,omitempty"` // column of the target referencing the owner id
	JoinTable        string `yaml:"joinTable,omitempty"`
	JoinOwnerColumn  string `yaml:"joinOwnerColumn,omitempty"`
	JoinTargetColumn string `yaml:"joinTargetColumn,omitempty"`
}

// IndexDef declares an index over properties of a Definition.
type IndexDef struct {
	Name       string   `yaml:"name,omitempty"`
	Properties []string `yaml:"properties"`
	Unique     bool     `yaml:"unique,omitempty"`
}

// Entity is the registered, immutable schema of an entity type.
type Entity struct {
	name    string
	table   string
	idField string
	idKind  IDKind
	props   []*Property
	byName  map[string]*Property
	indexes []Index
}

// Name returns the entity type name.
func (e *Entity) Name() string { return e.name }

// Table returns the storage name of the entity.
func (e *Entity) Table() string { return e.table }

// IDField returns the identifier field name, `id` or `_id`.
func (e *Entity) IDField() string { return e.idField }

// IDKind returns how identifiers are represented.
func (e *Entity) IDKind() IDKind { return e.idKind }

// ID returns the identifier property.
func (e *Entity) ID() *Property { return e.byName[e.idField] }

// Properties returns the properties in declaration order, identifier first.
func (e *Entity) Properties() []*Property { return slices.Clone(e.props) }

// Property returns the property with the given name.
func (e *Entity) Property(name string) (*Property, bool) {
	p, ok := e.byName[name]
	return p, ok
}

// Scalars returns the non-relationship properties in declaration order.
func (e *Entity) Scalars() []*Property {
	var ps []*Property
	for _, p := range e.props {
		if !p.typ.IsRelation() {
			ps = append(ps, p)
		}
	}
	return ps
}

// Relations returns the relationship properties in declaration order.
func (e *Entity) Relations() []*Property {
	var ps []*Property
	for _, p := range e.props {
		if p.typ.IsRelation() {
			ps = append(ps, p)
		}
	}
	return ps
}

// Indexes returns the index declarations.
func (e *Entity) Indexes() []Index { return slices.Clone(e.indexes) }

// Property is a registered, immutable property.
type Property struct {
	name     string
	column   string
	typ      Type
	unique   bool
	optional bool
	relation *Relation
}

// Name returns the property name.
func (p *Property) Name() string { return p.name }

// Column returns the storage column of a scalar property.
func (p *Property) Column() string { return p.column }

// Type returns the semantic type.
func (p *Property) Type() Type { return p.typ }

// Unique reports whether values are unique across the entity.
func (p *Property) Unique() bool { return p.unique }

// Optional reports whether the value may be absent.
func (p *Property) Optional() bool { return p.optional }

// Relation returns the relationship of an entity or entity[] property.
func (p *Property) Relation() (Relation, bool) {
	if p.relation == nil {
		return Relation{}, false
	}
	return *p.relation, true
}

// Relation describes how a relationship property is joined.
type Relation struct {
	Target *Entity
	Many   bool

	// ForeignKey is the column of the target table referencing the owner id.
	ForeignKey string

	// JoinTable links owner and target ids for many-to-many relationships.
	JoinTable        string
	JoinOwnerColumn  string
	JoinTargetColumn string
}

// Index is a registered index declaration.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}
