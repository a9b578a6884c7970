// Package convert provides type normalization for decoded record payloads.
//
// Records arrive from the broker with values already decoded from JSON or a
// schema registry envelope. Depending on the decoder, numbers can surface as
// json.Number, float64, or int64, and maps can surface with interface{} keys.
// This package consolidates the conversions so the strategy handlers always
// see the same shapes.
//
// Key Functions:
//   - ToFloat64 / ToInt64: numeric coercion with an ok flag
//   - ToStringMap: coerce any decoded mapping into map[string]any
//   - Normalize: recursively normalize numbers and nested containers
//   - Flatten: collapse nested maps into dotted-path keys
//
// All conversion functions return a success boolean (or nil) instead of an
// error so callers can fall through gracefully.
package convert

import (
	"encoding/json"
	"strconv"
)

// ToFloat64 converts various numeric types to float64.
// Returns (value, true) on success, (0, false) on failure.
//
// Supported types:
//   - float64, float32
//   - int, int32, int64, uint, uint32, uint64
//   - json.Number
//   - string (parsed as decimal, supports scientific notation)
func ToFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint64:
		return float64(val), true
	case uint32:
		return float64(val), true
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f, true
		}
	case string:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// ToInt64 converts various numeric types to int64.
// Returns (value, true) on success, (0, false) on failure.
// Floats are truncated toward zero.
func ToInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	case int32:
		return int64(val), true
	case uint:
		return int64(val), true
	case uint32:
		return int64(val), true
	case uint64:
		return int64(val), true
	case float64:
		return int64(val), true
	case float32:
		return int64(val), true
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, true
		}
		if f, err := val.Float64(); err == nil {
			return int64(f), true
		}
	case string:
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return int64(f), true
		}
	}
	return 0, false
}
