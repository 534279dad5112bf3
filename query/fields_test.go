package query_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata/query"
)

func TestTypedFields(t *testing.T) {
	var (
		customer = query.StringField("customerName")
		quantity = query.IntField("items.quantity")
	)
	assert.Equal(t, "items.quantity", quantity.Name())

	c := postgres(t)
	st, err := c.Compile(context.Background(), entity(t, "Order"), &query.Spec{
		Fields: []string{"customerName", "items.sku"},
		Where: []*query.Predicate{
			query.Or(customer.HasPrefix("A"), customer.IsNull()),
			query.And(quantity.GTE(2), quantity.NotIn(7, 9)),
		},
	}, query.Options{})
	require.NoError(t, err)
	assert.Contains(t, st.Text, "WHERE (customer_name LIKE $1 OR customer_name IS NULL)")
	assert.Contains(t, st.Text, "WHERE (quantity >= $2 AND quantity NOT IN ($3, $4))")
	assert.Equal(t, []any{"A%", int64(2), int64(7), int64(9)}, st.Args)
}

func TestFieldOperators(t *testing.T) {
	at := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	placed := query.TimeField("placedAt")
	tests := []struct {
		pred *query.Predicate
		op   query.Op
	}{
		{placed.EQ(at), query.OpEQ},
		{placed.NEQ(at), query.OpNEQ},
		{placed.GT(at), query.OpGT},
		{placed.LT(at), query.OpLT},
		{placed.LTE(at), query.OpLTE},
		{placed.In(at), query.OpIn},
		{placed.NotNull(), query.OpNotNull},
		{query.BoolField("paid").IsNull(), query.OpIsNull},
		{query.StringField("sku").Like("A_%"), query.OpLike},
		{query.StringField("sku").In("a", "b"), query.OpIn},
		{query.StringField("sku").EQ("a"), query.OpEQ},
		{query.FloatField("weight").GTE(1.5), query.OpGTE},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.op, tt.pred.Op())
	}
}
