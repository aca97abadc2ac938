package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
)

// EncodeRecord renders r as a JSON object. Decimal values are written as
// bare JSON numbers carrying their exact text.
func EncodeRecord(r Record) ([]byte, error) {
	if r == nil {
		r = Record{}
	}
	data, err := json.Marshal(exactNumbers(map[string]any(r)))
	if err != nil {
		return nil, serializationError(fmt.Errorf("encode record: %w", err))
	}
	return data, nil
}

// DecodeRecord parses a JSON object. Integral numbers become int64, all
// other numbers become decimal.Decimal, so no value passes through float64.
func DecodeRecord(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, serializationError(fmt.Errorf("decode record: %w", err))
	}
	if raw == nil {
		return nil, serializationError(fmt.Errorf("decode record: payload is not an object: %q", truncate(data)))
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, serializationError(fmt.Errorf("decode record: trailing data after object: %q", truncate(data)))
	}

	out, err := restoreNumbers(raw)
	if err != nil {
		return nil, serializationError(fmt.Errorf("decode record: %w", err))
	}
	return Record(out.(map[string]any)), nil
}

func exactNumbers(v any) any {
	switch x := v.(type) {
	case decimal.Decimal:
		return json.Number(x.String())
	case *decimal.Decimal:
		if x == nil {
			return nil
		}
		return json.Number(x.String())
	case Record:
		return exactNumbers(map[string]any(x))
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = exactNumbers(item)
		}
		return out
	case map[string]Record:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = exactNumbers(item)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = exactNumbers(item)
		}
		return out
	case []Record:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = exactNumbers(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = exactNumbers(item)
		}
		return out
	default:
		return v
	}
}

func restoreNumbers(v any) (any, error) {
	switch x := v.(type) {
	case json.Number:
		return parseNumber(x)
	case map[string]any:
		for k, item := range x {
			restored, err := restoreNumbers(item)
			if err != nil {
				return nil, err
			}
			x[k] = restored
		}
		return x, nil
	case []any:
		for i, item := range x {
			restored, err := restoreNumbers(item)
			if err != nil {
				return nil, err
			}
			x[i] = restored
		}
		return x, nil
	default:
		return v, nil
	}
}

func parseNumber(n json.Number) (any, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("number %s: %w", s, err)
	}
	return d, nil
}

func truncate(data []byte) string {
	const limit = 64
	if len(data) <= limit {
		return string(data)
	}
	return string(data[:limit]) + "..."
}
