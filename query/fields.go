package query

import "time"

// Field is a property name with typed predicate constructors. The name may
// carry a relationship path, as in "items.quantity".
//
//	var Quantity = query.Field[int64]("items.quantity")
//	spec.Where = append(spec.Where, Quantity.GTE(2))
type Field[T any] string

// Name returns the field name.
func (f Field[T]) Name() string { return string(f) }

// EQ returns a predicate that checks if the field equals the given value.
func (f Field[T]) EQ(v T) *Predicate { return FieldEQ(string(f), v) }

// NEQ returns a predicate that checks if the field does not equal the given value.
func (f Field[T]) NEQ(v T) *Predicate { return FieldNEQ(string(f), v) }

// GT returns a predicate that checks if the field is greater than the given value.
func (f Field[T]) GT(v T) *Predicate { return FieldGT(string(f), v) }

// GTE returns a predicate that checks if the field is greater than or equal to the given value.
func (f Field[T]) GTE(v T) *Predicate { return FieldGTE(string(f), v) }

// LT returns a predicate that checks if the field is less than the given value.
func (f Field[T]) LT(v T) *Predicate { return FieldLT(string(f), v) }

// LTE returns a predicate that checks if the field is less than or equal to the given value.
func (f Field[T]) LTE(v T) *Predicate { return FieldLTE(string(f), v) }

// In returns a predicate that checks if the field value is in the given list.
func (f Field[T]) In(vs ...T) *Predicate { return FieldIn(string(f), anys(vs)...) }

// NotIn returns a predicate that checks if the field value is not in the given list.
func (f Field[T]) NotIn(vs ...T) *Predicate { return FieldNotIn(string(f), anys(vs)...) }

// IsNull returns a predicate that checks if the field is NULL.
func (f Field[T]) IsNull() *Predicate { return FieldIsNull(string(f)) }

// NotNull returns a predicate that checks if the field is not NULL.
func (f Field[T]) NotNull() *Predicate { return FieldNotNull(string(f)) }

// StringField adds pattern predicates to Field.
type StringField string

// Typed returns the field with the predicates shared by every type.
func (f StringField) Typed() Field[string] { return Field[string](f) }

// EQ returns a predicate that checks if the field equals the given value.
func (f StringField) EQ(v string) *Predicate { return FieldEQ(string(f), v) }

// In returns a predicate that checks if the field value is in the given list.
func (f StringField) In(vs ...string) *Predicate { return f.Typed().In(vs...) }

// Like returns a predicate that matches the field against a LIKE pattern.
func (f StringField) Like(pattern string) *Predicate { return FieldLike(string(f), pattern) }

// HasPrefix returns a predicate that checks if the field has the given prefix.
func (f StringField) HasPrefix(prefix string) *Predicate { return FieldHasPrefix(string(f), prefix) }

// IsNull returns a predicate that checks if the field is NULL.
func (f StringField) IsNull() *Predicate { return FieldIsNull(string(f)) }

// Common field types.
type (
	IntField   = Field[int64]
	FloatField = Field[float64]
	BoolField  = Field[bool]
	TimeField  = Field[time.Time]
)

func anys[T any](vs []T) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}
