package materialize

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/syssam/strata/schema"
)

// timeLayouts are the textual timestamp formats returned by drivers that
// do not parse timestamps themselves.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// Coerce converts a value scanned by a driver to the Go type of the
// semantic type t:
//
//	string   string
//	integer  int64
//	number   float64
//	decimal  decimal.Decimal
//	boolean  bool
//	time     time.Time
//
// nil stays nil.
func Coerce(t schema.Type, v any) (any, error) {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if v == nil {
		return nil, nil
	}
	switch t {
	case schema.TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	case schema.TypeInteger:
		return toInt(v)
	case schema.TypeNumber:
		return toFloat(v)
	case schema.TypeDecimal:
		return toDecimal(v)
	case schema.TypeBoolean:
		return toBool(v)
	case schema.TypeTime:
		return toTime(v)
	}
	return nil, fmt.Errorf("materialize: cannot coerce to %s", t)
}

func toInt(v any) (int64, error) {
	switch v := v.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("materialize: %d overflows int64", v)
		}
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("materialize: %v is not an integer", v)
		}
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("materialize: %q is not an integer", v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("materialize: cannot convert %T to integer", v)
}

func toFloat(v any) (float64, error) {
	switch v := v.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("materialize: %q is not a number", v)
		}
		return f, nil
	case decimal.Decimal:
		return v.InexactFloat64(), nil
	}
	n, err := toInt(v)
	if err != nil {
		return 0, fmt.Errorf("materialize: cannot convert %T to number", v)
	}
	return float64(n), nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch v := v.(type) {
	case decimal.Decimal:
		return v, nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("materialize: %q is not a decimal", v)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	}
	n, err := toInt(v)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("materialize: cannot convert %T to decimal", v)
	}
	return decimal.NewFromInt(n), nil
}

func toBool(v any) (bool, error) {
	switch v := v.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("materialize: %q is not a boolean", v)
		}
		return b, nil
	}
	n, err := toInt(v)
	if err != nil || (n != 0 && n != 1) {
		return false, fmt.Errorf("materialize: cannot convert %v to boolean", v)
	}
	return n == 1, nil
}

func toTime(v any) (time.Time, error) {
	switch v := v.(type) {
	case time.Time:
		return v, nil
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("materialize: %q is not a timestamp", v)
	case int64:
		return time.Unix(v, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("materialize: cannot convert %T to time", v)
}

// idString returns the external form of an identifier value.
func idString(v any) (string, bool) {
	switch v := v.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case []byte:
		return string(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	}
	if n, err := toInt(v); err == nil {
		return strconv.FormatInt(n, 10), true
	}
	return fmt.Sprint(v), true
}
