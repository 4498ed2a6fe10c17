// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package schema compiles a JSON-Schema subset into the dynamic schema
// representation consumed by the model runtime.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jeranaias/rigserve/internal/jsonval"
)

// =============================================================================
// ERRORS
// =============================================================================

// Error reports a schema compilation failure.
type Error struct {
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return "schema: " + e.Message + ": " + e.Cause.Error()
	}
	return "schema: " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func errorf(format string, args ...interface{}) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

// =============================================================================
// COMPILER
// =============================================================================

const definitionsPrefix = "#/definitions/"

// Compile parses and compiles a JSON schema document.
// Fails with *Error on malformed JSON or unsupported constructs.
func Compile(raw []byte) (*Compiled, error) {
	doc, err := jsonval.Decode(raw)
	if err != nil {
		return nil, &Error{Message: "malformed schema JSON", Cause: err}
	}
	return CompileValue(doc)
}

// CompileValue compiles an already-decoded schema document.
func CompileValue(doc jsonval.Value) (*Compiled, error) {
	if doc.Kind() != jsonval.KindObject {
		return nil, errorf("schema document must be an object, got %s", doc.Kind())
	}

	defs, hasDefs := doc.Field("definitions")
	defNames := definitionNames(defs, hasDefs)

	// A root "$ref": "#/definitions/Name" selects one definition as the
	// root schema; every other definition becomes a dependency.
	if ref, ok := doc.Field("$ref"); ok {
		refStr, isStr := ref.AsString()
		if !isStr {
			return nil, errorf("$ref must be a string")
		}
		name, ok := refTarget(refStr)
		if !ok {
			return nil, errorf("unsupported $ref %q", refStr)
		}
		if !hasDefs {
			return nil, errorf("$ref %q with no definitions map", refStr)
		}
		rootDef, ok := defs.Field(name)
		if !ok {
			return nil, errorf("$ref %q does not resolve", refStr)
		}

		root, err := compileNode(rootDef, defNames)
		if err != nil {
			return nil, err
		}
		root.Name = name

		deps, err := compileDependencies(defs, defNames, name)
		if err != nil {
			return nil, err
		}
		return &Compiled{Root: root, Dependencies: deps}, nil
	}

	// No root reference: the document itself is the root schema and every
	// definition is a dependency.
	root, err := compileNode(doc, defNames)
	if err != nil {
		return nil, err
	}
	deps, err := compileDependencies(defs, defNames, "")
	if err != nil {
		return nil, err
	}
	return &Compiled{Root: root, Dependencies: deps}, nil
}

func definitionNames(defs jsonval.Value, has bool) map[string]bool {
	names := map[string]bool{}
	if !has {
		return names
	}
	if members, ok := defs.AsObject(); ok {
		for name := range members {
			names[name] = true
		}
	}
	return names
}

func compileDependencies(defs jsonval.Value, defNames map[string]bool, skip string) ([]*Dynamic, error) {
	members, ok := defs.AsObject()
	if !ok {
		return nil, nil
	}
	names := make([]string, 0, len(members))
	for name := range members {
		if name != skip {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	deps := make([]*Dynamic, 0, len(names))
	for _, name := range names {
		d, err := compileNode(members[name], defNames)
		if err != nil {
			return nil, err
		}
		d.Name = name
		deps = append(deps, d)
	}
	return deps, nil
}

// refTarget extracts the definition name from a "#/definitions/<Name>" ref.
func refTarget(ref string) (string, bool) {
	if !strings.HasPrefix(ref, definitionsPrefix) {
		return "", false
	}
	name := strings.TrimPrefix(ref, definitionsPrefix)
	if name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

// =============================================================================
// NODE COMPILATION
// =============================================================================

func compileNode(node jsonval.Value, defNames map[string]bool) (*Dynamic, error) {
	if node.Kind() != jsonval.KindObject {
		return nil, errorf("schema node must be an object, got %s", node.Kind())
	}

	out := &Dynamic{Description: node.StringField("description")}

	// Inner references stay symbolic so mutually referential definitions
	// can point at each other.
	if ref, ok := node.Field("$ref"); ok {
		refStr, isStr := ref.AsString()
		if !isStr {
			return nil, errorf("$ref must be a string")
		}
		name, ok := refTarget(refStr)
		if !ok {
			return nil, errorf("unsupported $ref %q", refStr)
		}
		if len(defNames) > 0 && !defNames[name] {
			return nil, errorf("$ref %q does not resolve", refStr)
		}
		out.Kind = KindRef
		out.RefName = name
		return out, nil
	}

	if enum, ok := node.Field("enum"); ok {
		choices, err := stringEnum(enum)
		if err != nil {
			return nil, err
		}
		out.Kind = KindStringChoice
		out.Choices = choices
		return out, nil
	}

	if anyOf, ok := node.Field("anyOf"); ok {
		return compileAnyOf(out, anyOf, defNames)
	}

	switch node.StringField("type") {
	case "string":
		out.Kind = KindString
	case "number":
		out.Kind = KindDouble
	case "integer":
		out.Kind = KindInt
	case "boolean":
		out.Kind = KindBool
	case "array":
		return compileArray(out, node, defNames)
	case "object":
		return compileObject(out, node, defNames)
	default:
		// Missing or unrecognized type: permissive string fallback.
		out.Kind = KindString
	}
	return out, nil
}

func stringEnum(enum jsonval.Value) ([]string, error) {
	elems, ok := enum.AsArray()
	if !ok || len(elems) == 0 {
		return nil, errorf("enum must be a non-empty array")
	}
	choices := make([]string, len(elems))
	for i, e := range elems {
		s, ok := e.AsString()
		if !ok {
			return nil, errorf("non-string enum value %s", e.String())
		}
		choices[i] = s
	}
	return choices, nil
}

func compileAnyOf(out *Dynamic, anyOf jsonval.Value, defNames map[string]bool) (*Dynamic, error) {
	elems, ok := anyOf.AsArray()
	if !ok || len(elems) == 0 {
		return nil, errorf("anyOf must be a non-empty array")
	}

	// An anyOf whose branches are all single-value string enums collapses
	// into one closed string choice.
	choices := make([]string, 0, len(elems))
	collapsible := true
	for _, e := range elems {
		enum, ok := e.Field("enum")
		if !ok {
			collapsible = false
			break
		}
		vals, err := stringEnum(enum)
		if err != nil || len(vals) != 1 {
			collapsible = false
			break
		}
		choices = append(choices, vals[0])
	}
	if collapsible {
		out.Kind = KindStringChoice
		out.Choices = choices
		return out, nil
	}

	variants := make([]*Dynamic, len(elems))
	for i, e := range elems {
		v, err := compileNode(e, defNames)
		if err != nil {
			return nil, err
		}
		variants[i] = v
	}
	out.Kind = KindUnion
	out.Variants = variants
	return out, nil
}

func compileArray(out *Dynamic, node jsonval.Value, defNames map[string]bool) (*Dynamic, error) {
	out.Kind = KindList

	if items, ok := node.Field("items"); ok {
		item, err := compileNode(items, defNames)
		if err != nil {
			return nil, err
		}
		out.Item = item
	} else {
		out.Item = &Dynamic{Kind: KindString}
	}

	if min, ok := node.NumberField("minItems"); ok {
		out.MinItems = int(min)
	}
	if max, ok := node.NumberField("maxItems"); ok {
		out.MaxItems = int(max)
	}
	return out, nil
}

func compileObject(out *Dynamic, node jsonval.Value, defNames map[string]bool) (*Dynamic, error) {
	out.Kind = KindObject

	required := map[string]bool{}
	if req, ok := node.Field("required"); ok {
		elems, isArr := req.AsArray()
		if !isArr {
			return nil, errorf("required must be an array")
		}
		for _, e := range elems {
			s, ok := e.AsString()
			if !ok {
				return nil, errorf("non-string required entry %s", e.String())
			}
			required[s] = true
		}
	}

	props, hasProps := node.Field("properties")
	if !hasProps {
		return out, nil
	}
	members, ok := props.AsObject()
	if !ok {
		return nil, errorf("properties must be an object")
	}

	names := make([]string, 0, len(members))
	for name := range members {
		names = append(names, name)
	}
	sort.Strings(names)

	out.Fields = make([]Field, 0, len(names))
	for _, name := range names {
		fs, err := compileNode(members[name], defNames)
		if err != nil {
			return nil, err
		}
		out.Fields = append(out.Fields, Field{
			Name:        name,
			Description: fs.Description,
			Schema:      fs,
			Required:    required[name],
		})
	}
	return out, nil
}
