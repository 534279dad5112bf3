package schema_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata"
	"github.com/syssam/strata/schema"
)

func orderDefs() []*schema.Definition {
	return []*schema.Definition{
		{
			Name: "Order",
			Properties: []schema.PropertyDef{
				{Name: "customerName", Column: "customer_name", Type: schema.TypeString},
				{Name: "total", Type: schema.TypeDecimal},
				{Name: "items", Type: schema.TypeEntityArray, Target: "OrderItem", ForeignKey: "order_id"},
				{Name: "tags", Type: schema.TypeEntityArray, Target: "Tag", JoinTable: "order_tags", JoinOwnerColumn: "order_id", JoinTargetColumn: "tag_id"},
			},
			Indexes: []schema.IndexDef{{Properties: []string{"customerName"}}},
		},
		{
			Name: "OrderItem",
			Properties: []schema.PropertyDef{
				{Name: "sku", Type: schema.TypeString, Unique: true},
				{Name: "quantity", Type: schema.TypeInteger},
			},
		},
		{
			Name:   "Tag",
			IDKind: schema.IDString,
			Properties: []schema.PropertyDef{
				{Name: "_id", Type: schema.TypeString},
				{Name: "label", Type: schema.TypeString},
			},
		},
	}
}

func TestBuild(t *testing.T) {
	r, err := schema.NewBuilder().Add(orderDefs()...).Build()
	require.NoError(t, err)
	assert.Equal(t, 3, r.Len())
	assert.Empty(t, r.Warnings())

	order, err := r.Resolve("Order")
	require.NoError(t, err)
	assert.Equal(t, "orders", order.Table())
	assert.Equal(t, "id", order.IDField())
	assert.Equal(t, schema.IDNumeric, order.IDKind())
	assert.Equal(t, schema.TypeInteger, order.ID().Type())

	props := order.Properties()
	require.Len(t, props, 5)
	assert.Equal(t, "id", props[0].Name())
	assert.Len(t, order.Scalars(), 3)
	assert.Len(t, order.Relations(), 2)

	name, ok := order.Property("customerName")
	require.True(t, ok)
	assert.Equal(t, "customer_name", name.Column())

	items, _ := order.Property("items")
	rel, ok := items.Relation()
	require.True(t, ok)
	assert.True(t, rel.Many)
	assert.Equal(t, "order_id", rel.ForeignKey)
	assert.Equal(t, "OrderItem", rel.Target.Name())
	assert.Equal(t, "order_items", rel.Target.Table())

	idx := order.Indexes()
	require.Len(t, idx, 1)
	assert.Equal(t, "orders_customer_name", idx[0].Name)

	assert.Equal(t, "public_order", order.Alias("public"))
	assert.Equal(t, "orders", order.Alias(""))
	assert.Equal(t, "sales_orderitem", rel.Target.Alias("Sales"))

	tag, err := r.Resolve("Tag")
	require.NoError(t, err)
	assert.Equal(t, "_id", tag.IDField())
	assert.Equal(t, schema.TypeString, tag.ID().Type())

	_, ok = name.Relation()
	assert.False(t, ok)
}

func TestRegistryIsImmutable(t *testing.T) {
	r, err := schema.NewBuilder().Add(orderDefs()...).Build()
	require.NoError(t, err)
	order, _ := r.Resolve("Order")
	props := order.Properties()
	props[0] = nil
	assert.NotNil(t, order.Properties()[0])
	es := r.Entities()
	es[0] = nil
	assert.NotNil(t, r.Entities()[0])
}

func TestResolveUnknown(t *testing.T) {
	r, err := schema.NewBuilder().Add(orderDefs()...).Build()
	require.NoError(t, err)
	_, err = r.Resolve("Invoice")
	assert.True(t, strata.IsInvalidArgument(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		defs []*schema.Definition
		want string
	}{
		{
			name: "duplicate entity",
			defs: []*schema.Definition{
				{Name: "A", Properties: []schema.PropertyDef{{Name: "x", Type: schema.TypeString}}},
				{Name: "A", Properties: []schema.PropertyDef{{Name: "x", Type: schema.TypeString}}},
			},
			want: "entity defined more than once",
		},
		{
			name: "unknown target",
			defs: []*schema.Definition{
				{Name: "A", Properties: []schema.PropertyDef{{Name: "bs", Type: schema.TypeEntityArray, Target: "B", ForeignKey: "a_id"}}},
			},
			want: `relationship target "B" is not defined`,
		},
		{
			name: "relation without key",
			defs: []*schema.Definition{
				{Name: "A", Properties: []schema.PropertyDef{{Name: "b", Type: schema.TypeEntity, Target: "A"}}},
			},
			want: "requires foreignKey or joinTable",
		},
		{
			name: "reserved column",
			defs: []*schema.Definition{
				{Name: "A", Properties: []schema.PropertyDef{{Name: "_count", Type: schema.TypeInteger}}},
			},
			want: "_count is reserved",
		},
		{
			name: "injection in column",
			defs: []*schema.Definition{
				{Name: "A", Properties: []schema.PropertyDef{{Name: "x", Column: "x; DROP TABLE a", Type: schema.TypeString}}},
			},
			want: "is not an identifier",
		},
		{
			name: "missing type",
			defs: []*schema.Definition{
				{Name: "A", Properties: []schema.PropertyDef{{Name: "x"}}},
			},
			want: "missing or unknown type",
		},
		{
			name: "unknown index property",
			defs: []*schema.Definition{
				{Name: "A", Properties: []schema.PropertyDef{{Name: "x", Type: schema.TypeString}}, Indexes: []schema.IndexDef{{Properties: []string{"y"}}}},
			},
			want: "index references unknown property",
		},
		{
			name: "bad id field",
			defs: []*schema.Definition{
				{Name: "A", ID: "pk", Properties: []schema.PropertyDef{{Name: "x", Type: schema.TypeString}}},
			},
			want: "identifier field must be id or _id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := schema.Validate(tt.defs)
			require.True(t, res.HasErrors(), res.String())
			assert.Contains(t, res.String(), tt.want)

			_, err := schema.NewBuilder().Add(tt.defs...).Build()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateWarnings(t *testing.T) {
	res := schema.Validate([]*schema.Definition{{Name: "Empty"}})
	assert.False(t, res.HasErrors())
	assert.True(t, res.HasWarnings())
	assert.Contains(t, res.String(), "no properties besides its identifier")

	assert.Equal(t, "No issues found", schema.Validate(orderDefs()).String())
}

func TestNaming(t *testing.T) {
	assert.Equal(t, "order_items", schema.TableName("OrderItem"))
	assert.Equal(t, "people", schema.TableName("Person"))
	assert.Equal(t, "public.orders", schema.QualifiedTable("public", "orders"))
	assert.Equal(t, "orders", schema.QualifiedTable("", "orders"))
}

func TestTypes(t *testing.T) {
	for _, name := range []string{"string", "integer", "number", "decimal", "boolean", "time", "entity", "entity[]"} {
		typ, err := schema.ParseType(name)
		require.NoError(t, err)
		assert.Equal(t, name, typ.String())
	}
	_, err := schema.ParseType("invalid")
	assert.Error(t, err)
	assert.True(t, schema.TypeEntityArray.IsRelation())
	assert.False(t, schema.TypeString.IsRelation())
}

func TestLoadYAML(t *testing.T) {
	doc := `
entities:
  - name: Order
    properties:
      - {name: customerName, type: string}
      - {name: items, type: "entity[]", target: OrderItem, foreignKey: order_id}
  - name: OrderItem
    idKind: string
    properties:
      - {name: sku, type: string, unique: true}
`
	defs, err := schema.LoadYAML(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, schema.TypeEntityArray, defs[0].Properties[1].Type)
	assert.Equal(t, schema.IDString, defs[1].IDKind)

	r, err := schema.NewBuilder().Add(defs...).Build()
	require.NoError(t, err)
	item, err := r.Resolve("OrderItem")
	require.NoError(t, err)
	assert.Equal(t, schema.TypeString, item.ID().Type())

	_, err = schema.LoadYAML(strings.NewReader("entities:\n  - name: A\n    colour: red\n"))
	assert.Error(t, err)
	_, err = schema.LoadYAML(strings.NewReader("entities:\n  - name: A\n    properties:\n      - {name: x, type: blob}\n"))
	assert.Error(t, err)
}
