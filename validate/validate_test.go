package validate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata"
	"github.com/syssam/strata/validate"
)

var invoice = validate.Target{Service: "billing", Function: "createInvoice"}

func registry(t *testing.T) *validate.Registry {
	t.Helper()
	r := validate.NewRegistry()
	require.NoError(t, r.Register("billing", "createInvoice",
		validate.Param{Name: "orderId", Kind: validate.KindInteger, Required: true},
		validate.Param{Name: "email", Kind: validate.KindString, Format: "email"},
		validate.Param{Name: "currency", Kind: validate.KindString, Pattern: `^[A-Z]{3}$`},
		validate.Param{Name: "note", Kind: validate.KindString, MinLength: 2, MaxLength: 5},
		validate.Param{Name: "lines", Kind: validate.KindArray, MinLength: 1},
		validate.Param{Name: "total", Kind: validate.KindNumber},
		validate.Param{Name: "draft", Kind: validate.KindBoolean},
		validate.Param{Name: "address", Kind: validate.KindObject, Fields: []validate.Param{
			{Name: "city", Kind: validate.KindString, Required: true},
		}},
	))
	return r
}

func TestValidateArgument(t *testing.T) {
	tests := []struct {
		name string
		arg  any
		want []validate.Reason
	}{
		{
			name: "valid",
			arg: map[string]any{
				"orderId": float64(7), "email": "ada@example.com", "currency": "EUR", "note": "abc",
				"lines": []any{"x"}, "total": 9.5, "draft": true, "address": map[string]any{"city": "Turin"},
			},
		},
		{
			name: "struct argument",
			arg: struct {
				OrderID int64 `json:"orderId"`
			}{7},
		},
		{
			name: "missing required",
			arg:  map[string]any{"email": "ada@example.com"},
			want: []validate.Reason{{Path: "orderId", Message: "is required"}},
		},
		{
			name: "null required",
			arg:  map[string]any{"orderId": nil},
			want: []validate.Reason{{Path: "orderId", Message: "is required"}},
		},
		{
			name: "wrong kinds",
			arg:  map[string]any{"orderId": 1.5, "total": "9", "draft": "yes", "lines": "x"},
			want: []validate.Reason{
				{Path: "orderId", Message: "must be an integer"},
				{Path: "lines", Message: "must be an array"},
				{Path: "total", Message: "must be a number"},
				{Path: "draft", Message: "must be a boolean"},
			},
		},
		{
			name: "string constraints",
			arg:  map[string]any{"orderId": 1, "email": "nope", "currency": "eur", "note": "toolong"},
			want: []validate.Reason{
				{Path: "email", Message: "must be a valid email"},
				{Path: "currency", Message: "must match ^[A-Z]{3}$"},
				{Path: "note", Message: "must be at most 5 characters"},
			},
		},
		{
			name: "nested object",
			arg:  map[string]any{"orderId": 1, "address": map[string]any{"zip": "10100"}},
			want: []validate.Reason{
				{Path: "address.city", Message: "is required"},
				{Path: "address.zip", Message: "is not a declared parameter"},
			},
		},
		{
			name: "undeclared parameters",
			arg:  map[string]any{"orderId": 1, "b": 1, "a": 2},
			want: []validate.Reason{
				{Path: "a", Message: "is not a declared parameter"},
				{Path: "b", Message: "is not a declared parameter"},
			},
		},
		{
			name: "not an object",
			arg:  []int{1},
			want: []validate.Reason{{Message: "argument must be an object"}},
		},
	}
	r := registry(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.ValidateArgument(context.Background(), invoice, tt.arg))
		})
	}
}

func TestValidateArgumentConstraints(t *testing.T) {
	r := validate.NewRegistry()
	require.NoError(t, r.Register("shipping", "createParcel",
		validate.Param{Name: "label", Kind: validate.KindString, MinLength: 3, MaxLength: 4},
		validate.Param{Name: "code", Kind: validate.KindString, Pattern: `^[A-Z]{3}$`},
		validate.Param{Name: "origin", Kind: validate.KindString, Pattern: `^[A-Z]{3}$`},
		validate.Param{Name: "shippedAt", Kind: validate.KindString, Format: "date-time"},
		validate.Param{Name: "trackingId", Kind: validate.KindString, Format: "uuid"},
		validate.Param{Name: "items", Kind: validate.KindArray, MinLength: 1, MaxLength: 2},
		validate.Param{Name: "weight", Kind: validate.KindInteger},
		validate.Param{Name: "tag", Pattern: `^x`},
	))
	target := validate.Target{Service: "shipping", Function: "createParcel"}

	tests := []struct {
		name string
		arg  map[string]any
		want []validate.Reason
	}{
		{
			name: "lengths count characters",
			arg:  map[string]any{"label": "été", "items": []any{1}},
		},
		{
			name: "valid formats",
			arg: map[string]any{
				"shippedAt": "2024-05-01T10:00:00Z", "trackingId": "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
				"weight": 12, "tag": 7,
			},
		},
		{
			name: "too short",
			arg:  map[string]any{"label": "ab", "items": []any{}},
			want: []validate.Reason{
				{Path: "label", Message: "must be at least 3 characters"},
				{Path: "items", Message: "must have at least 1 items"},
			},
		},
		{
			name: "too long",
			arg:  map[string]any{"label": "abcde", "items": []any{1, 2, 3}},
			want: []validate.Reason{
				{Path: "label", Message: "must be at most 4 characters"},
				{Path: "items", Message: "must have at most 2 items"},
			},
		},
		{
			name: "shared pattern",
			arg:  map[string]any{"code": "ABC", "origin": "abc"},
			want: []validate.Reason{{Path: "origin", Message: "must match ^[A-Z]{3}$"}},
		},
		{
			name: "invalid formats",
			arg:  map[string]any{"shippedAt": "yesterday", "trackingId": "42", "weight": int64(3)},
			want: []validate.Reason{
				{Path: "shippedAt", Message: "must be a valid date-time"},
				{Path: "trackingId", Message: "must be a valid uuid"},
			},
		},
		{
			name: "kind before length",
			arg:  map[string]any{"label": 12345, "items": "abc"},
			want: []validate.Reason{
				{Path: "label", Message: "must be a string"},
				{Path: "items", Message: "must be an array"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.ValidateArgument(context.Background(), target, tt.arg))
		})
	}
}

func TestUnknownFunction(t *testing.T) {
	reasons := registry(t).ValidateArgument(context.Background(), validate.Target{Service: "billing", Function: "refund"}, nil)
	require.Len(t, reasons, 1)
	assert.Equal(t, "unknown remote function billing.refund", reasons[0].String())
}

func TestRegisterErrors(t *testing.T) {
	r := validate.NewRegistry()
	assert.Error(t, r.Register("", "f"))
	assert.Error(t, r.Register("s", "f", validate.Param{}))
	assert.Error(t, r.Register("s", "f", validate.Param{Name: "a"}, validate.Param{Name: "a"}))
	assert.ErrorIs(t, r.Register("s", "f", validate.Param{Name: "a", Format: "shoe-size"}), validate.ErrUnknownFormat)
	assert.Error(t, r.Register("s", "f", validate.Param{Name: "a", Pattern: "("}))
	assert.Error(t, r.Register("s", "f", validate.Param{Name: "a", Kind: "date"}))
	assert.Error(t, r.Register("s", "f", validate.Param{Name: "a", Kind: validate.KindObject, Fields: []validate.Param{{}}}))
}

type orders struct{}

func (orders) EntityType() string { return "Order" }

func TestRegisterService(t *testing.T) {
	r := validate.NewRegistry()
	err := r.RegisterService(orders{}, "orders", map[string][]validate.Param{
		"createOrder": {{Name: "customerName", Kind: validate.KindString}},
		"shipOrder":   nil,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "orders.shipOrder")

	require.NoError(t, r.RegisterService(struct{}{}, "shipping", map[string][]validate.Param{
		"shipOrder": nil,
	}))
	assert.Empty(t, r.ValidateArgument(context.Background(), validate.Target{Service: "shipping", Function: "shipOrder"}, nil))

	require.NoError(t, r.RegisterService(orders{}, "orders", map[string][]validate.Param{
		"createOrder": {{Name: "customerName", Kind: validate.KindString}},
		"getOrder":    nil,
	}))
}

func TestError(t *testing.T) {
	assert.NoError(t, validate.Error("x", nil))
	err := validate.Error("orders/billing.createInvoice", []validate.Reason{
		{Path: "orderId", Message: "is required"},
		{Message: "unknown"},
	})
	assert.True(t, strata.IsInvalidArgument(err))
	assert.Equal(t, "strata: INVALID_ARGUMENT: orders/billing.createInvoice: invalid argument: orderId: is required; unknown", err.Error())
}

func TestValidatorFunc(t *testing.T) {
	var v validate.Validator = validate.ValidatorFunc(func(_ context.Context, target validate.Target, _ any) []validate.Reason {
		return []validate.Reason{{Message: target.String()}}
	})
	assert.Equal(t, "billing.createInvoice", v.ValidateArgument(context.Background(), invoice, nil)[0].Message)
}
