package materialize

// KeyFunc extracts a key from a value.
type KeyFunc[K comparable, V any] func(V) (K, bool)

// GroupByKey groups values by key. Keys are returned in the order they are
// first encountered; values for which keyFn reports false are skipped.
//
// Example:
//
//	keys, groups := GroupByKey(rows, func(r dialect.Row) (string, bool) {
//	    return idString(r["public_order_id"])
//	})
//	// groups[keys[0]] holds every row of the first order
func GroupByKey[K comparable, V any](values []V, keyFn KeyFunc[K, V]) ([]K, map[K][]V) {
	var keys []K
	groups := make(map[K][]V)
	for _, v := range values {
		key, ok := keyFn(v)
		if !ok {
			continue
		}
		if _, seen := groups[key]; !seen {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], v)
	}
	return keys, groups
}
