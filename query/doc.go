// Package query compiles query specifications into store statements.
//
// A select is compiled in two levels. Root entities are filtered, sorted and
// paged in a subquery before any join multiplies rows; relationships are
// then joined to it and the flattened rows sorted for the Materializer:
//
//	SELECT <columns>
//	FROM (SELECT orders.*[, COUNT(*) OVER() AS _count] FROM public.orders
//	      WHERE ... ORDER BY ... LIMIT n) AS public_order
//	LEFT JOIN public.order_items AS public_order_items
//	  ON public_order_items.order_id = public_order.id
//	ORDER BY public_order.id ASC, public_order_items.id ASC
//	[FOR UPDATE OF public_order]
//
// Reads compiled while the call chain has a transaction lock the rows
// they return.
//
// Every column is labelled <alias>_<column> and every level is aliased
// after its relationship path, so one row carries all levels unambiguously.
//
// # Pagination
//
// Page tokens encode the root sort key of the first or last root entity of
// a page. A token is bound to the sort it was produced under; reusing it
// with another sort is an INVALID_ARGUMENT error.
package query
