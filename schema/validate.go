package schema

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationError represents a definition validation error.
type ValidationError struct {
	Entity   string
	Property string
	Message  string
}

func (e *ValidationError) Error() string {
	if e.Property != "" {
		return fmt.Sprintf("%s.%s: %s", e.Entity, e.Property, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Entity, e.Message)
}

// ValidationResult holds the results of definition validation.
type ValidationResult struct {
	Errors   []*ValidationError
	Warnings []*ValidationError
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings.
func (r *ValidationResult) HasWarnings() bool {
	return len(r.Warnings) > 0
}

// String returns a human-readable summary of the validation result.
func (r *ValidationResult) String() string {
	var sb strings.Builder
	if len(r.Errors) > 0 {
		sb.WriteString("Errors:\n")
		for _, e := range r.Errors {
			sb.WriteString("  - ")
			sb.WriteString(e.Error())
			sb.WriteString("\n")
		}
	}
	if len(r.Warnings) > 0 {
		sb.WriteString("Warnings:\n")
		for _, w := range r.Warnings {
			sb.WriteString("  - ")
			sb.WriteString(w.Error())
			sb.WriteString("\n")
		}
	}
	if !r.HasErrors() && !r.HasWarnings() {
		sb.WriteString("No issues found")
	}
	return sb.String()
}

func (r *ValidationResult) errorf(entity, prop, format string, args ...any) {
	r.Errors = append(r.Errors, &ValidationError{Entity: entity, Property: prop, Message: fmt.Sprintf(format, args...)})
}

func (r *ValidationResult) warnf(entity, prop, format string, args ...any) {
	r.Warnings = append(r.Warnings, &ValidationError{Entity: entity, Property: prop, Message: fmt.Sprintf(format, args...)})
}

// countColumn is the column label compiled statements use for window counts.
const countColumn = "_count"

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// IsIdentifier reports whether s can be used unquoted as a name or column.
func IsIdentifier(s string) bool {
	return s != "" && len(s) <= 63 && identRe.MatchString(s)
}

// Validate checks a set of definitions for consistency. Names, tables and
// columns must be plain identifiers since compiled statements embed them.
//
// Example:
//
//	result := schema.Validate(defs)
//	if result.HasErrors() {
//	    log.Fatal("invalid definitions:\n", result)
//	}
func Validate(defs []*Definition) *ValidationResult {
	r := &ValidationResult{}
	names := make(map[string]bool, len(defs))
	for _, d := range defs {
		if d == nil {
			continue
		}
		switch {
		case !IsIdentifier(d.Name):
			r.errorf(d.Name, "", "entity name must be an identifier")
		case names[d.Name]:
			r.errorf(d.Name, "", "entity defined more than once")
		}
		names[d.Name] = true
	}
	for _, d := range defs {
		if d == nil {
			continue
		}
		validateDefinition(r, d, names)
	}
	return r
}

func validateDefinition(r *ValidationResult, d *Definition, names map[string]bool) {
	if d.Table != "" && !IsIdentifier(d.Table) {
		r.errorf(d.Name, "", "table %q is not an identifier", d.Table)
	}
	if d.ID != "" && d.ID != "id" && d.ID != "_id" {
		r.errorf(d.Name, "", "identifier field must be id or _id, got %q", d.ID)
	}
	idField := idFieldOf(d)
	seen := make(map[string]PropertyDef, len(d.Properties))
	fields := 0
	for _, p := range d.Properties {
		switch {
		case !IsIdentifier(p.Name):
			r.errorf(d.Name, p.Name, "property name must be an identifier")
			continue
		case p.Name == countColumn || p.Column == countColumn:
			r.errorf(d.Name, p.Name, "%s is reserved", countColumn)
			continue
		}
		if _, ok := seen[p.Name]; ok {
			r.errorf(d.Name, p.Name, "property defined more than once")
			continue
		}
		seen[p.Name] = p
		if p.Name != idField {
			fields++
		}
		if p.Column != "" && !IsIdentifier(p.Column) {
			r.errorf(d.Name, p.Name, "column %q is not an identifier", p.Column)
		}
		if p.Type == TypeInvalid || int(p.Type) >= len(typeNames) {
			r.errorf(d.Name, p.Name, "missing or unknown type")
			continue
		}
		if p.Name == idField && p.Type.IsRelation() {
			r.errorf(d.Name, p.Name, "identifier cannot be a relationship")
			continue
		}
		if p.Type.IsRelation() {
			validateRelation(r, d, p, names)
		} else if p.Target != "" || p.ForeignKey != "" || p.JoinTable != "" {
			r.warnf(d.Name, p.Name, "relationship options ignored on %s property", p.Type)
		}
	}
	if fields == 0 {
		r.warnf(d.Name, "", "entity has no properties besides its identifier")
	}
	for i, idx := range d.Indexes {
		if len(idx.Properties) == 0 {
			r.errorf(d.Name, "", "index %d has no properties", i)
		}
		for _, name := range idx.Properties {
			p, ok := seen[name]
			if !ok && name != idField {
				r.errorf(d.Name, name, "index references unknown property")
				continue
			}
			if p.Type.IsRelation() {
				r.errorf(d.Name, name, "index cannot include a relationship")
			}
		}
	}
}

func validateRelation(r *ValidationResult, d *Definition, p PropertyDef, names map[string]bool) {
	switch {
	case p.Target == "":
		r.errorf(d.Name, p.Name, "relationship has no target")
	case !names[p.Target]:
		r.errorf(d.Name, p.Name, "relationship target %q is not defined", p.Target)
	}
	switch {
	case p.ForeignKey != "" && p.JoinTable != "":
		r.errorf(d.Name, p.Name, "relationship declares both foreignKey and joinTable")
	case p.ForeignKey != "":
		if !IsIdentifier(p.ForeignKey) {
			r.errorf(d.Name, p.Name, "foreign key %q is not an identifier", p.ForeignKey)
		}
	case p.JoinTable != "":
		if p.Type != TypeEntityArray {
			r.errorf(d.Name, p.Name, "join tables are only supported on entity[] properties")
		}
		for _, s := range []string{p.JoinTable, p.JoinOwnerColumn, p.JoinTargetColumn} {
			if !IsIdentifier(s) {
				r.errorf(d.Name, p.Name, "join table requires table, owner and target columns as identifiers")
				break
			}
		}
	default:
		r.errorf(d.Name, p.Name, "relationship requires foreignKey or joinTable")
	}
}

func idFieldOf(d *Definition) string {
	if d.ID == "_id" {
		return "_id"
	}
	for _, p := range d.Properties {
		if p.Name == "_id" && d.ID == "" {
			return "_id"
		}
	}
	return "id"
}
