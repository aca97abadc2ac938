package store

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"strategykit/pkg/exception"
)

// ColumnType pins the type of a column for InsertMany.
type ColumnType string

const (
	TypeString   ColumnType = "string"
	TypeText     ColumnType = "text"
	TypeInteger  ColumnType = "integer"
	TypeBigInt   ColumnType = "bigint"
	TypeFloat    ColumnType = "float"
	TypeDecimal  ColumnType = "decimal"
	TypeBoolean  ColumnType = "boolean"
	TypeDateTime ColumnType = "datetime"
	TypeDate     ColumnType = "date"
)

// Coerce converts v to the Go type backing t. nil stays nil.
func (t ColumnType) Coerce(v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	var (
		out any
		err error
	)
	switch t {
	case TypeString, TypeText:
		out, err = toString(v)
	case TypeInteger:
		var n int64
		if n, err = toInt64(v); err == nil {
			if n < math.MinInt32 || n > math.MaxInt32 {
				err = fmt.Errorf("%d overflows int32", n)
			}
			out = int32(n)
		}
	case TypeBigInt:
		out, err = toInt64(v)
	case TypeFloat:
		out, err = cast.ToFloat64E(v)
	case TypeDecimal:
		out, err = toDecimal(v)
	case TypeBoolean:
		out, err = cast.ToBoolE(v)
	case TypeDateTime:
		out, err = cast.ToTimeE(v)
	case TypeDate:
		var ts time.Time
		ts, err = cast.ToTimeE(v)
		out = ts.Truncate(24 * time.Hour)
	default:
		return nil, serializationError(fmt.Errorf("%w: column type %q", exception.ErrTypeUnsupported, string(t)))
	}
	if err != nil {
		return nil, serializationError(fmt.Errorf("coerce %v to %s: %w", v, t, err))
	}
	return out, nil
}

func coerceRecords(records []Record, types map[string]ColumnType) ([]Record, error) {
	if len(types) == 0 {
		return records, nil
	}

	out := make([]Record, len(records))
	for i, record := range records {
		coerced := record.Clone()
		for field, typ := range types {
			value, ok := coerced[field]
			if !ok {
				continue
			}
			v, err := typ.Coerce(value)
			if err != nil {
				return nil, fmt.Errorf("row %d field %s: %w", i, field, err)
			}
			coerced[field] = v
		}
		out[i] = coerced
	}
	return out, nil
}

// toString renders v the way it is stored in the key-value backend.
func toString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case decimal.Decimal:
		return x.String(), nil
	case time.Time:
		return x.Format(time.RFC3339Nano), nil
	case fmt.Stringer:
		return x.String(), nil
	}
	if s, err := cast.ToStringE(v); err == nil {
		return s, nil
	}
	return fmt.Sprint(v), nil
}

// toInt64 reads strings in base 10; cast would treat "010" as octal.
func toInt64(v any) (int64, error) {
	if s, ok := v.(string); ok {
		return AsInt(s)
	}
	return cast.ToInt64E(v)
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, nil
	case string:
		return decimal.NewFromString(x)
	case float64:
		return decimal.NewFromFloat(x), nil
	case float32:
		return decimal.NewFromFloat32(x), nil
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromInt(n), nil
}

// Converter turns a stored string into T.
type Converter[T any] func(string) (T, error)

// AnyConverter is a Converter with its result type erased.
type AnyConverter func(string) (any, error)

// Erase adapts conv for use in GetAllHashFields.
func Erase[T any](conv Converter[T]) AnyConverter {
	return func(s string) (any, error) {
		return conv(s)
	}
}

// AsString returns the stored string unchanged.
func AsString(s string) (string, error) {
	return s, nil
}

// AsInt parses a base 10 integer; a zero fraction such as ".0" is accepted.
// Leading zeros do not switch the base.
func AsInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if whole, frac, ok := strings.Cut(s, "."); ok && frac != "" && strings.Trim(frac, "0") == "" {
		s = whole
	}
	return strconv.ParseInt(s, 10, 64)
}

// AsFloat parses a float.
func AsFloat(s string) (float64, error) {
	return cast.ToFloat64E(s)
}

// AsDecimal parses an exact decimal.
func AsDecimal(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// AsBool parses a boolean (1, t, true, 0, f, false, ...).
func AsBool(s string) (bool, error) {
	return cast.ToBoolE(s)
}

// AsTime parses a timestamp in any layout spf13/cast recognises.
func AsTime(s string) (time.Time, error) {
	return cast.ToTimeE(s)
}
