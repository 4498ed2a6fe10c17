// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package jsonval provides a closed tagged-variant representation of JSON
// values used for untyped tool arguments and schema trees.
package jsonval

import (
	"errors"
	"testing"
)

// =============================================================================
// DECODE TESTS
// =============================================================================

func TestDecode_Kinds(t *testing.T) {
	tests := []struct {
		name  string
		input string
		kind  Kind
	}{
		{"null", `null`, KindNull},
		{"bool", `true`, KindBool},
		{"number", `3.5`, KindNumber},
		{"integer", `42`, KindNumber},
		{"string", `"hello"`, KindString},
		{"array", `[1,2,3]`, KindArray},
		{"object", `{"a":1}`, KindObject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := DecodeString(tt.input)
			if err != nil {
				t.Fatalf("Decode(%q) error: %v", tt.input, err)
			}
			if v.Kind() != tt.kind {
				t.Errorf("Kind = %v, want %v", v.Kind(), tt.kind)
			}
		})
	}
}

func TestDecode_Invalid(t *testing.T) {
	inputs := []string{``, `{`, `[1,`, `"unterminated`, `{"a":1} extra`}
	for _, in := range inputs {
		if _, err := DecodeString(in); err == nil {
			t.Errorf("Decode(%q) should fail", in)
		} else if !errors.Is(err, ErrInvalidJSON) {
			t.Errorf("Decode(%q) error should wrap ErrInvalidJSON, got %v", in, err)
		}
	}
}

func TestDecode_Nested(t *testing.T) {
	v, err := DecodeString(`{"tools":[{"name":"add","args":{"a":2,"b":3}}],"ok":true}`)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}

	toolsVal, ok := v.Field("tools")
	if !ok {
		t.Fatal("missing tools field")
	}
	tools, ok := toolsVal.AsArray()
	if !ok || len(tools) != 1 {
		t.Fatalf("tools should be a 1-element array")
	}
	if got := tools[0].StringField("name"); got != "add" {
		t.Errorf("name = %q, want add", got)
	}
	args, _ := tools[0].Field("args")
	if a, ok := args.NumberField("a"); !ok || a != 2 {
		t.Errorf("args.a = %v, want 2", a)
	}
}

// =============================================================================
// ENCODE TESTS
// =============================================================================

func TestEncode_SortedKeys(t *testing.T) {
	v := Object(map[string]Value{
		"b": Number(2),
		"a": Number(1),
		"c": String("x"),
	})
	if got := v.String(); got != `{"a":1,"b":2,"c":"x"}` {
		t.Errorf("Encode = %s, want sorted keys", got)
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	const input = `{"a":[1,2.5,"s",null,true],"b":{"c":{}}}`
	v, err := DecodeString(input)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if got := v.String(); got != input {
		t.Errorf("round trip = %s, want %s", got, input)
	}
}

func TestEmptyObject(t *testing.T) {
	v := EmptyObject()
	if v.Kind() != KindObject || v.Len() != 0 {
		t.Errorf("EmptyObject should be an empty object, got %s", v.String())
	}
	if v.String() != "{}" {
		t.Errorf("EmptyObject encodes to %s, want {}", v.String())
	}
}

func TestZeroValueIsNull(t *testing.T) {
	var v Value
	if !v.IsNull() {
		t.Error("zero Value should be null")
	}
	if v.String() != "null" {
		t.Errorf("zero Value encodes to %s, want null", v.String())
	}
}
