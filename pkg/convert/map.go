package convert

import (
	"encoding/json"
	"fmt"
)

// ToStringMap coerces a decoded mapping into map[string]any.
// Returns (map, true) on success, (nil, false) when the value is not a
// mapping or carries non-string keys that cannot be stringified.
func ToStringMap(v interface{}) (map[string]interface{}, bool) {
	switch val := v.(type) {
	case map[string]interface{}:
		return val, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			s, ok := k.(string)
			if !ok {
				s = fmt.Sprintf("%v", k)
			}
			out[s] = item
		}
		return out, true
	case json.RawMessage:
		var out map[string]interface{}
		if err := json.Unmarshal(val, &out); err == nil {
			return out, true
		}
	}
	return nil, false
}

// Normalize recursively rewrites a decoded value into canonical shapes:
// json.Number becomes int64 when integral (float64 otherwise), maps become
// map[string]any, and slices are normalized element-wise. Scalars pass
// through unchanged.
func Normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = Normalize(item)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[fmt.Sprintf("%v", k)] = Normalize(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = Normalize(item)
		}
		return out
	default:
		return v
	}
}

// Flatten collapses nested maps into a single level using dotted-path keys.
//
// Example:
//
//	Flatten(map[string]any{"a": map[string]any{"b": 1}, "c": 2})
//	// Returns: {"a.b": 1, "c": 2}
//
// Slices are treated as leaf values. The input is not modified.
func Flatten(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	flattenInto(out, "", m)
	return out
}

func flattenInto(out map[string]interface{}, prefix string, m map[string]interface{}) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := ToStringMap(v); ok {
			flattenInto(out, key, nested)
			continue
		}
		out[key] = v
	}
}
