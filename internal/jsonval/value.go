// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package jsonval provides a closed tagged-variant representation of JSON
// values used for untyped tool arguments and schema trees.
package jsonval

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// =============================================================================
// KIND
// =============================================================================

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// =============================================================================
// VALUE
// =============================================================================

// Value is a single JSON value. The zero value is JSON null.
//
// Exactly one of the payload fields is meaningful, selected by Kind.
// Object member order is not preserved; marshaling sorts keys for stable
// output.
type Value struct {
	kind Kind
	b    bool
	num  float64
	str  string
	arr  []Value
	obj  map[string]Value
}

// Null returns the JSON null value.
func Null() Value { return Value{} }

// Bool returns a JSON boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number returns a JSON number.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// String returns a JSON string.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Array returns a JSON array over the given elements.
func Array(elems ...Value) Value {
	return Value{kind: KindArray, arr: elems}
}

// Object returns a JSON object over the given members.
func Object(members map[string]Value) Value {
	if members == nil {
		members = map[string]Value{}
	}
	return Value{kind: KindObject, obj: members}
}

// EmptyObject returns {}, the neutral placeholder result used throughout
// the tool bridge.
func EmptyObject() Value { return Object(nil) }

// Kind reports which variant the value holds.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is JSON null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// =============================================================================
// ACCESSORS
// =============================================================================

// AsBool returns the boolean payload. ok is false for other kinds.
func (v Value) AsBool() (b bool, ok bool) {
	return v.b, v.kind == KindBool
}

// AsNumber returns the numeric payload. ok is false for other kinds.
func (v Value) AsNumber() (f float64, ok bool) {
	return v.num, v.kind == KindNumber
}

// AsString returns the string payload. ok is false for other kinds.
func (v Value) AsString() (s string, ok bool) {
	return v.str, v.kind == KindString
}

// AsArray returns the element slice. ok is false for other kinds.
// The returned slice must not be mutated.
func (v Value) AsArray() (elems []Value, ok bool) {
	return v.arr, v.kind == KindArray
}

// AsObject returns the member map. ok is false for other kinds.
// The returned map must not be mutated.
func (v Value) AsObject() (members map[string]Value, ok bool) {
	return v.obj, v.kind == KindObject
}

// Field returns the named member of an object value.
// ok is false if the value is not an object or the member is absent.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	m, ok := v.obj[name]
	return m, ok
}

// StringField returns the named member as a string, or "" if absent or not
// a string.
func (v Value) StringField(name string) string {
	f, ok := v.Field(name)
	if !ok {
		return ""
	}
	s, _ := f.AsString()
	return s
}

// NumberField returns the named member as a float64.
// ok is false if absent or not a number.
func (v Value) NumberField(name string) (float64, bool) {
	f, ok := v.Field(name)
	if !ok {
		return 0, false
	}
	return f.AsNumber()
}

// Len returns the element count for arrays, the member count for objects,
// and 0 otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.arr)
	case KindObject:
		return len(v.obj)
	default:
		return 0
	}
}

// =============================================================================
// DECODING
// =============================================================================

// ErrInvalidJSON indicates the input was not well-formed JSON.
var ErrInvalidJSON = errors.New("invalid JSON")

// Decode parses raw JSON bytes into a Value.
func Decode(data []byte) (Value, error) {
	var raw interface{}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	// Reject trailing garbage after the first value
	if dec.More() {
		return Value{}, fmt.Errorf("%w: trailing data", ErrInvalidJSON)
	}
	return fromInterface(raw)
}

// DecodeString parses a JSON string into a Value.
func DecodeString(s string) (Value, error) {
	return Decode([]byte(s))
}

func fromInterface(raw interface{}) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: number %q", ErrInvalidJSON, t.String())
		}
		return Number(f), nil
	case string:
		return String(t), nil
	case []interface{}:
		elems := make([]Value, len(t))
		for i, e := range t {
			v, err := fromInterface(e)
			if err != nil {
				return Value{}, err
			}
			elems[i] = v
		}
		return Array(elems...), nil
	case map[string]interface{}:
		members := make(map[string]Value, len(t))
		for k, e := range t {
			v, err := fromInterface(e)
			if err != nil {
				return Value{}, err
			}
			members[k] = v
		}
		return Object(members), nil
	default:
		return Value{}, fmt.Errorf("%w: unsupported value %T", ErrInvalidJSON, raw)
	}
}

// =============================================================================
// ENCODING
// =============================================================================

// MarshalJSON implements json.Marshaler with sorted object keys.
func (v Value) MarshalJSON() ([]byte, error) {
	var sb strings.Builder
	v.encode(&sb)
	return []byte(sb.String()), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := Decode(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Encode returns the canonical JSON encoding of the value.
func (v Value) Encode() []byte {
	var sb strings.Builder
	v.encode(&sb)
	return []byte(sb.String())
}

// String returns the canonical JSON encoding as a string.
func (v Value) String() string {
	var sb strings.Builder
	v.encode(&sb)
	return sb.String()
}

func (v Value) encode(sb *strings.Builder) {
	switch v.kind {
	case KindNull:
		sb.WriteString("null")
	case KindBool:
		sb.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		// Integral values print without a trailing ".0", matching encoding/json.
		sb.WriteString(strconv.FormatFloat(v.num, 'g', -1, 64))
	case KindString:
		quoted, _ := json.Marshal(v.str)
		sb.Write(quoted)
	case KindArray:
		sb.WriteByte('[')
		for i, e := range v.arr {
			if i > 0 {
				sb.WriteByte(',')
			}
			e.encode(sb)
		}
		sb.WriteByte(']')
	case KindObject:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			quoted, _ := json.Marshal(k)
			sb.Write(quoted)
			sb.WriteByte(':')
			m := v.obj[k]
			m.encode(sb)
		}
		sb.WriteByte('}')
	}
}
