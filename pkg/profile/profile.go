// SPDX-License-Identifier: Apache-2.0

// Package profile models the free-form profile claim carried in access
// tokens: a recursive JSON value over numbers, strings, bools, null, arrays
// and objects, with typed accessors.
package profile

import "encoding/json"

// Value is a dynamic JSON value. The zero Value is null.
type Value struct {
	raw any
}

// FromAny wraps an arbitrary decoded-JSON value.
func FromAny(v any) Value {
	return Value{raw: v}
}

// FromMap wraps a string-keyed map, the common shape returned by provider
// scripts.
func FromMap(m map[string]any) Value {
	if m == nil {
		return Value{}
	}
	return Value{raw: m}
}

// IsNull reports whether the value is JSON null.
func (v Value) IsNull() bool {
	return v.raw == nil
}

// String returns the value as a string.
func (v Value) String() (string, bool) {
	s, ok := v.raw.(string)
	return s, ok
}

// Number returns the value as a float64.
func (v Value) Number() (float64, bool) {
	switch n := v.raw.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Bool returns the value as a bool.
func (v Value) Bool() (bool, bool) {
	b, ok := v.raw.(bool)
	return b, ok
}

// Array returns the value's elements.
func (v Value) Array() ([]Value, bool) {
	arr, ok := v.raw.([]any)
	if !ok {
		return nil, false
	}
	out := make([]Value, len(arr))
	for i, el := range arr {
		out[i] = Value{raw: el}
	}
	return out, true
}

// Object returns the value's members.
func (v Value) Object() (map[string]Value, bool) {
	obj, ok := v.raw.(map[string]any)
	if !ok {
		return nil, false
	}
	out := make(map[string]Value, len(obj))
	for k, el := range obj {
		out[k] = Value{raw: el}
	}
	return out, true
}

// Get looks up a member of an object value. Returns null for non-objects
// and missing keys.
func (v Value) Get(key string) Value {
	obj, ok := v.raw.(map[string]any)
	if !ok {
		return Value{}
	}
	return Value{raw: obj[key]}
}

// Interface exposes the underlying decoded-JSON value.
func (v Value) Interface() any {
	return v.raw
}

// MarshalJSON encodes the wrapped value.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.raw)
}

// UnmarshalJSON decodes any JSON value.
func (v *Value) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &v.raw)
}
