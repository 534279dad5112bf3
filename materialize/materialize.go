package materialize

import (
	"fmt"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/query"
	"github.com/syssam/strata/schema"
)

// Entity is a materialized entity keyed by property name. Identifiers are
// strings; relationships hold an Entity, nil, or a []Entity.
type Entity = map[string]any

// Materialize folds rows returned by the statement compiled with plan.
// Failures to convert a value are STORE_FAILURE errors.
func Materialize(plan *query.Plan, rows []dialect.Row) ([]Entity, strata.Metadata, error) {
	var md strata.Metadata
	root := plan.Root
	keys, groups := GroupByKey(rows, byLabel(root.IDLabel()))

	f := &folder{seen: make(map[countKey]bool)}
	entities := make([]Entity, 0, len(keys))
	for _, k := range keys {
		e, err := f.fold(root, k, groups[k])
		if err != nil {
			return nil, md, strata.StoreFailure("materialize", err)
		}
		entities = append(entities, e)
	}

	if root.CountLabel != "" {
		var n int64
		if len(rows) > 0 {
			var err error
			if n, err = count(rows[0][root.CountLabel]); err != nil {
				return nil, md, strata.StoreFailure("materialize", err)
			}
		}
		md.Counts = append(md.Counts, strata.EntityCount{Count: n})
	}
	md.Counts = append(md.Counts, f.counts...)

	if len(keys) > 0 {
		tokens, err := pageTokens(plan, groups[keys[0]][0], groups[keys[len(keys)-1]][0], len(keys))
		if err != nil {
			return nil, md, strata.StoreFailure("materialize", err)
		}
		md.PageTokens = tokens
	}
	return entities, md, nil
}

type countKey struct{ path, id string }

type folder struct {
	counts []strata.EntityCount
	seen   map[countKey]bool
}

// fold builds the entity of node n with identifier id from its rows.
func (f *folder) fold(n *query.Node, id string, rows []dialect.Row) (Entity, error) {
	e := make(Entity, len(n.Columns)+len(n.Children))
	first := rows[0]
	for i, c := range n.Columns {
		if c.Hidden {
			continue
		}
		if i == 0 {
			e[c.Property.Name()] = id
			continue
		}
		v, err := Coerce(c.Property.Type(), first[c.Label])
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", n.Entity.Name(), c.Property.Name(), err)
		}
		e[c.Property.Name()] = v
	}
	for _, child := range n.Children {
		keys, groups := GroupByKey(rows, byLabel(child.IDLabel()))
		if child.CountLabel != "" {
			if err := f.count(child, id, keys, groups); err != nil {
				return nil, err
			}
		}
		related := make([]Entity, 0, len(keys))
		for _, k := range keys {
			ce, err := f.fold(child, k, groups[k])
			if err != nil {
				return nil, err
			}
			related = append(related, ce)
		}
		if !child.Projected {
			continue
		}
		switch {
		case child.Many():
			e[child.Property] = related
		case len(related) == 0:
			e[child.Property] = nil
		default:
			e[child.Property] = related[0]
		}
	}
	return e, nil
}

// count records the number of entities at child for the parent with the
// given id. The window count is the same on every joined row.
func (f *folder) count(child *query.Node, parentID string, keys []string, groups map[string][]dialect.Row) error {
	k := countKey{child.Path, parentID}
	if f.seen[k] {
		return nil
	}
	f.seen[k] = true
	var n int64
	if len(keys) > 0 {
		var err error
		if n, err = count(groups[keys[0]][0][child.CountLabel]); err != nil {
			return err
		}
	}
	f.counts = append(f.counts, strata.EntityCount{SubEntityPath: child.Path, EntityID: parentID, Count: n})
	return nil
}

func count(v any) (int64, error) {
	if v == nil {
		return 0, nil
	}
	n, err := Coerce(schema.TypeInteger, v)
	if err != nil {
		return 0, err
	}
	return n.(int64), nil
}

func byLabel(label string) KeyFunc[string, dialect.Row] {
	return func(r dialect.Row) (string, bool) {
		return idString(r[label])
	}
}

// pageTokens returns the tokens of the pages around the current one. A
// page shorter than its size has no page beyond it in its direction, and
// the first page has no previous page.
func pageTokens(plan *query.Plan, first, last dialect.Row, n int) (*strata.PageTokens, error) {
	if !plan.Paginated() && !plan.OnlyPreviousOrNextPage {
		return nil, nil
	}
	var size, offset int
	if p := plan.Page; p != nil {
		size, offset = p.Size, p.Offset
	}
	short := size > 0 && n < size
	tokens := &strata.PageTokens{}
	var err error
	if !(short && plan.Cursor != query.PagePrevious) {
		if tokens.Next, err = token(plan, query.PageNext, last); err != nil {
			return nil, err
		}
	}
	firstPage := plan.Cursor == 0 && offset == 0
	if !firstPage && !(short && plan.Cursor == query.PagePrevious) {
		if tokens.Previous, err = token(plan, query.PagePrevious, first); err != nil {
			return nil, err
		}
	}
	if tokens.Next == "" && tokens.Previous == "" {
		return nil, nil
	}
	return tokens, nil
}

func token(plan *query.Plan, dir query.PageDirection, row dialect.Row) (string, error) {
	t := query.Token{Direction: dir, Keys: plan.Signature(), Values: make([]any, len(plan.SortKeys))}
	for i, k := range plan.SortKeys {
		v := row[k.Label]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		t.Values[i] = v
	}
	return t.Encode()
}
