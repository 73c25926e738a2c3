package corosql

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// detectType maps a single bound value to the type-string character MySQL's
// prepared-statement binding expects, following the total, order-sensitive
// rules of spec.md §4.D step 2. Bytes containing a NUL are treated as a
// binary handle rather than text, since a NUL cannot round-trip through a
// text column.
func detectType(v any) byte {
	switch val := v.(type) {
	case nil:
		return 's'
	case bool:
		return 'i'
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return 'i'
	case float32, float64:
		return 'd'
	case []byte:
		if bytes.IndexByte(val, 0) >= 0 {
			return 'b'
		}
		return 's'
	default:
		return 's'
	}
}

// detectTypes derives a types string for params with no caller-supplied
// override, one character per param. With no params at all it returns the
// empty string.
func detectTypes(params []any) string {
	if len(params) == 0 {
		return ""
	}
	buf := make([]byte, len(params))
	for i, p := range params {
		buf[i] = detectType(p)
	}
	return string(buf)
}

// stringCaster is satisfied by any value that knows how to render itself as
// a bind-safe string; fmt.Stringer is the common case.
type stringCaster interface {
	String() string
}

// preprocessValue transforms a single value for binding per spec.md §4.D
// step 3. Sequences and records with no string form serialize to canonical
// JSON so the driver always receives a scalar it understands.
func preprocessValue(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
		float32, float64, []byte, string:
		return val, nil
	}

	if sc, ok := v.(stringCaster); ok {
		return sc.String(), nil
	}

	switch v.(type) {
	case []any, map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal param: %w", err)
		}
		return string(b), nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal param: %w", err)
	}
	return string(b), nil
}

// preprocessValues runs preprocessValue over every param, in order.
func preprocessValues(params []any) ([]any, error) {
	out := make([]any, len(params))
	for i, p := range params {
		pv, err := preprocessValue(p)
		if err != nil {
			return nil, err
		}
		out[i] = pv
	}
	return out, nil
}
