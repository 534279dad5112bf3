package strata

import "encoding/json"

// EntityCount is a count computed alongside a fetch.
type EntityCount struct {
	// SubEntityPath is empty for the root entity, or the relationship path
	// the count was computed for.
	SubEntityPath string `json:"subEntityPath"`
	// EntityID is the id of the entity owning the counted relationship.
	// It is empty for the root count.
	EntityID string `json:"entityId,omitempty"`
	Count    int64  `json:"count"`
}

// PageTokens holds the opaque cursors of the neighbouring pages.
type PageTokens struct {
	Previous string `json:"previous,omitempty"`
	Next     string `json:"next,omitempty"`
}

// Metadata is attached to successful read results. Counts never appear as
// entity fields, so the entity shape does not depend on the requested counts.
type Metadata struct {
	Counts     []EntityCount `json:"counts,omitempty"`
	PageTokens *PageTokens   `json:"pageTokens,omitempty"`
}

// RootCount returns the root-level count, if one was computed.
func (m Metadata) RootCount() (int64, bool) {
	for _, c := range m.Counts {
		if c.SubEntityPath == "" && c.EntityID == "" {
			return c.Count, true
		}
	}
	return 0, false
}

// Result is the envelope returned by every public operation: either data
// with metadata, or an error. It never carries both.
type Result[T any] struct {
	Data     T
	Metadata Metadata
	Err      *Error
}

// OK returns a successful result.
func OK[T any](data T, md Metadata) Result[T] {
	return Result[T]{Data: data, Metadata: md}
}

// Fail returns a failed result. Errors without a Kind become store failures.
func Fail[T any](err error) Result[T] {
	return Result[T]{Err: AsError(err)}
}

// Failed reports whether the result carries an error.
func (r Result[T]) Failed() bool {
	return r.Err != nil
}

// Unwrap returns the data and the error as a pair.
func (r Result[T]) Unwrap() (T, error) {
	if r.Err != nil {
		var zero T
		return zero, r.Err
	}
	return r.Data, nil
}

type errorBody struct {
	Kind       Kind     `json:"kind"`
	Message    string   `json:"message"`
	RelatedIDs []string `json:"relatedIds,omitempty"`
}

// MarshalJSON encodes the result as {data, metadata} or {error}.
func (r Result[T]) MarshalJSON() ([]byte, error) {
	if r.Err != nil {
		msg := r.Err.Message
		if r.Err.Err != nil {
			if msg != "" {
				msg += ": "
			}
			msg += r.Err.Err.Error()
		}
		return json.Marshal(struct {
			Error errorBody `json:"error"`
		}{errorBody{Kind: r.Err.Kind, Message: msg, RelatedIDs: r.Err.RelatedIDs}})
	}
	return json.Marshal(struct {
		Data     T        `json:"data"`
		Metadata Metadata `json:"metadata"`
	}{r.Data, r.Metadata})
}
