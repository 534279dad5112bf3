package query

import (
	"encoding/base64"
	"math"
	"slices"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/syssam/strata"
)

// PageDirection tells which neighbouring page a token leads to.
type PageDirection uint8

// Page directions.
const (
	PageNext PageDirection = iota + 1
	PagePrevious
)

// Token is the decoded form of a page token: the root sort key of the row
// at the page boundary.
type Token struct {
	Direction PageDirection `msgpack:"d"`
	// Keys is the signature of the sort the token was produced under.
	Keys   []string `msgpack:"k"`
	Values []any    `msgpack:"v"`
}

// Encode returns the opaque, URL-safe form of the token.
func (t Token) Encode() (string, error) {
	b, err := msgpack.Marshal(&t)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodeToken decodes a token produced by Encode.
func DecodeToken(s string) (Token, error) {
	var t Token
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return t, strata.InvalidArgument("malformed page token")
	}
	if err := msgpack.Unmarshal(b, &t); err != nil {
		return t, strata.InvalidArgument("malformed page token")
	}
	if t.Direction != PageNext && t.Direction != PagePrevious || len(t.Keys) != len(t.Values) {
		return t, strata.InvalidArgument("malformed page token")
	}
	for i, v := range t.Values {
		t.Values[i] = widen(v)
	}
	return t, nil
}

// widen undoes the compact number encoding of msgpack, so that decoded
// values have the types the drivers scanned them as.
func widen(v any) any {
	switch v := v.(type) {
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		if v <= math.MaxInt64 {
			return int64(v)
		}
		return v
	case float32:
		return float64(v)
	default:
		return v
	}
}

// checkToken decodes s and verifies it was produced for direction under
// the sort signature keys.
func checkToken(s string, direction PageDirection, keys []string) (Token, error) {
	t, err := DecodeToken(s)
	if err != nil {
		return t, err
	}
	if t.Direction != direction {
		return t, strata.InvalidArgument("page token does not lead to the requested page direction")
	}
	if !slices.Equal(t.Keys, keys) {
		return t, strata.InvalidArgument("page token is not compatible with the current sort")
	}
	return t, nil
}
