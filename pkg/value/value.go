// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package value defines the attribute value model shared by step
// params, step returns, task payloads, and workflow inputs/outputs.
package value

import "fmt"

// Attribute is a (name, value, type_hint) triple. type_hint is a
// free-form diagnostic label; the runtime never inspects it.
type Attribute struct {
	Name     string `json:"name"`
	Value    any    `json:"value"`
	TypeHint string `json:"type_hint,omitempty"`
}

// Map is an attribute collection keyed by name, the shape used for
// step params, step returns, and task payloads.
type Map map[string]Attribute

// NewMap constructs an empty attribute map.
func NewMap() Map {
	return make(Map)
}

// Set stores a value under name, preserving any existing type hint
// unless a new one is supplied.
func (m Map) Set(name string, val any, typeHint string) {
	if typeHint == "" {
		typeHint = m[name].TypeHint
	}
	m[name] = Attribute{Name: name, Value: val, TypeHint: typeHint}
}

// Get returns the raw value stored under name.
func (m Map) Get(name string) (any, bool) {
	a, ok := m[name]
	if !ok {
		return nil, false
	}
	return a.Value, true
}

// Clone returns a shallow copy of the map; Attribute values are not
// deep-copied, matching the engine's treatment of values as immutable
// once produced by the reducer or a handler.
func (m Map) Clone() Map {
	cp := make(Map, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// ToPlain converts the attribute map to a plain JSON-compatible map,
// the shape handed to dispatchers as a task payload and expected back
// as a handler result (spec.md §6).
func (m Map) ToPlain() map[string]any {
	out := make(map[string]any, len(m))
	for k, a := range m {
		out[k] = a.Value
	}
	return out
}

// FromPlain builds an attribute map from a plain JSON-compatible map,
// the mirror of ToPlain used when ingesting handler results.
func FromPlain(plain map[string]any) Map {
	m := make(Map, len(plain))
	for k, v := range plain {
		m[k] = Attribute{Name: k, Value: v}
	}
	return m
}

// AsInt64 coerces a reduced numeric value to int64, accepting the
// numeric types that arrive via JSON decoding and arithmetic.
func AsInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// AsFloat64 coerces a reduced numeric value to float64.
func AsFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

// IsNumeric reports whether v is one of the numeric types the reducer
// accepts.
func IsNumeric(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	default:
		return false
	}
}

// IsInteger reports whether v is an integral numeric type (as opposed
// to floating-point), used to select integer-division semantics.
func IsInteger(v any) bool {
	switch v.(type) {
	case int, int32, int64:
		return true
	default:
		return false
	}
}

// TypeName returns a diagnostic type name for v, used in error
// messages; it never includes the value itself.
func TypeName(v any) string {
	if v == nil {
		return "null"
	}
	switch v.(type) {
	case bool:
		return "bool"
	case string:
		return "string"
	case int, int32, int64:
		return "int"
	case float32, float64:
		return "float"
	case []any:
		return "array"
	case map[string]any:
		return "map"
	default:
		return fmt.Sprintf("%T", v)
	}
}
