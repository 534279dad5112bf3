package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata"
)

func TestTokenRoundTrip(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	in := Token{
		Direction: PagePrevious,
		Keys:      []string{"createdAt:DESC", "total:ASC", "id:ASC"},
		Values:    []any{at, 12.5, int64(300)},
	}
	s, err := in.Encode()
	require.NoError(t, err)
	assert.NotContains(t, s, "=")
	assert.NotContains(t, s, "+")

	out, err := DecodeToken(s)
	require.NoError(t, err)
	assert.Equal(t, in.Direction, out.Direction)
	assert.Equal(t, in.Keys, out.Keys)
	require.Len(t, out.Values, 3)
	assert.True(t, at.Equal(out.Values[0].(time.Time)))
	assert.Equal(t, 12.5, out.Values[1])
	assert.Equal(t, int64(300), out.Values[2])
}

func TestCheckToken(t *testing.T) {
	keys := []string{"id:ASC"}
	s, err := Token{Direction: PageNext, Keys: keys, Values: []any{int64(1)}}.Encode()
	require.NoError(t, err)

	_, err = checkToken(s, PageNext, keys)
	assert.NoError(t, err)
	_, err = checkToken(s, PagePrevious, keys)
	assert.True(t, strata.IsInvalidArgument(err))
	_, err = checkToken(s, PageNext, []string{"id:DESC"})
	assert.True(t, strata.IsInvalidArgument(err))

	bad, err := Token{Direction: PageNext, Keys: keys}.Encode()
	require.NoError(t, err)
	_, err = DecodeToken(bad)
	assert.True(t, strata.IsInvalidArgument(err), "keys and values must pair up")
	_, err = DecodeToken("bm90IG1zZ3BhY2s")
	assert.True(t, strata.IsInvalidArgument(err))
}

func TestWiden(t *testing.T) {
	tests := []struct {
		in, want any
	}{
		{int8(3), int64(3)},
		{uint16(300), int64(300)},
		{uint64(1) << 63, uint64(1) << 63},
		{float32(1.5), float64(1.5)},
		{"s", "s"},
		{nil, nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, widen(tt.in))
	}
}
