package schema

import (
	"github.com/go-openapi/inflect"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var lower = cases.Lower(language.Und)

// TableName returns the storage name derived from an entity type name.
func TableName(entity string) string {
	return inflect.Underscore(inflect.Pluralize(entity))
}

// Alias returns the alias the entity is selected under in compiled
// statements: the lowered type name prefixed by the schema name. Without a
// schema the storage name is used, as bare type names are often keywords
// (order, user).
func (e *Entity) Alias(schemaName string) string {
	if schemaName == "" {
		return lower.String(e.table)
	}
	return lower.String(schemaName + "_" + e.name)
}

// QualifiedTable returns the storage name qualified by the schema name.
func QualifiedTable(schemaName, table string) string {
	if schemaName == "" {
		return table
	}
	return schemaName + "." + table
}
