// Package schema holds the entity metadata strata compiles queries from.
//
// Definitions are plain values, written in Go or loaded from YAML, that a
// Builder validates and freezes into a Registry once at startup. The
// Registry and the Entities it returns are immutable and safe for
// concurrent reads.
//
// # Quick Start
//
//	b := schema.NewBuilder()
//	b.Add(
//	    &schema.Definition{
//	        Name: "Order",
//	        Properties: []schema.PropertyDef{
//	            {Name: "customerName", Type: schema.TypeString},
//	            {Name: "total", Type: schema.TypeDecimal},
//	            {Name: "items", Type: schema.TypeEntityArray, Target: "OrderItem", ForeignKey: "order_id"},
//	        },
//	        Indexes: []schema.IndexDef{{Properties: []string{"customerName"}}},
//	    },
//	    &schema.Definition{
//	        Name: "OrderItem",
//	        Properties: []schema.PropertyDef{
//	            {Name: "sku", Type: schema.TypeString},
//	            {Name: "quantity", Type: schema.TypeInteger},
//	        },
//	    },
//	)
//	registry, err := b.Build()
//
// # Types
//
//	string     text
//	integer    64-bit integer
//	number     64-bit float
//	decimal    arbitrary precision decimal (github.com/shopspring/decimal)
//	boolean    boolean
//	time       timestamp
//	entity     one related entity
//	entity[]   many related entities
//
// # Identifiers
//
// An entity is identified by `id`, or by `_id` when its definition says so.
// Identifiers are numeric surrogate keys unless IDKind is IDString.
//
// # Naming
//
// The storage name of an entity is its pluralized, underscored type name
// (OrderItem is stored in order_items) unless Table overrides it. Columns
// default to the property name.
package schema
