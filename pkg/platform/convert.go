package platform

import (
	"fmt"
	"math"

	"github.com/samber/mo"
)

// toInt64 converts various numeric types to int64. Fractional floats are
// rejected so a bad index is not silently truncated.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		return floatToInt64(float64(n))
	case float64:
		return floatToInt64(n)
	default:
		return 0, false
	}
}

func floatToInt64(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

// toFloat64 converts various numeric types to float64.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// parseMap extracts a map[string]any from an any value.
func parseMap(value any) map[string]any {
	if value == nil {
		return nil
	}
	if m, ok := value.(map[string]any); ok {
		return m
	}
	if m, ok := value.(map[any]any); ok {
		converted := make(map[string]any, len(m))
		for key, val := range m {
			if keyString, ok := key.(string); ok {
				converted[keyString] = val
			}
		}
		return converted
	}
	return nil
}

// arguments wraps the decoded argument map of a method call.
type arguments map[string]any

func newArguments(v any) (arguments, error) {
	if v == nil {
		return arguments{}, nil
	}
	m := parseMap(v)
	if m == nil {
		return nil, fmt.Errorf("%w: arguments must be a map, got %T", ErrInvalidArguments, v)
	}
	return arguments(m), nil
}

func (a arguments) int64Value(key string) (int64, error) {
	v, ok := a[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", ErrInvalidArguments, key)
	}
	n, ok := toInt64(v)
	if !ok {
		return 0, fmt.Errorf("%w: %q must be an integer, got %v", ErrInvalidArguments, key, v)
	}
	return n, nil
}

func (a arguments) intValue(key string) (int, error) {
	n, err := a.int64Value(key)
	return int(n), err
}

func (a arguments) floatValue(key string) (float64, error) {
	v, ok := a[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", ErrInvalidArguments, key)
	}
	f, ok := toFloat64(v)
	if !ok {
		return 0, fmt.Errorf("%w: %q must be a number, got %v", ErrInvalidArguments, key, v)
	}
	return f, nil
}

func (a arguments) boolValue(key string) (bool, error) {
	b, ok := a[key].(bool)
	if !ok {
		return false, fmt.Errorf("%w: %q must be a bool", ErrInvalidArguments, key)
	}
	return b, nil
}

// optionalString returns the string at key; a missing or null key is None.
func (a arguments) optionalString(key string) (mo.Option[string], error) {
	v, ok := a[key]
	if !ok || v == nil {
		return mo.None[string](), nil
	}
	s, ok := v.(string)
	if !ok {
		return mo.None[string](), fmt.Errorf("%w: %q must be a string", ErrInvalidArguments, key)
	}
	return mo.Some(s), nil
}

// stringMap returns a string-to-string map at key; missing means empty.
func (a arguments) stringMap(key string) (map[string]string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return map[string]string{}, nil
	}
	m := parseMap(v)
	if m == nil {
		return nil, fmt.Errorf("%w: %q must be a map", ErrInvalidArguments, key)
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		s, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %q[%q] must be a string", ErrInvalidArguments, key, k)
		}
		out[k] = s
	}
	return out, nil
}
