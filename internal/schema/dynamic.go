// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package schema compiles a JSON-Schema subset into the dynamic schema
// representation consumed by the model runtime.
package schema

// =============================================================================
// DYNAMIC SCHEMA REPRESENTATION
// =============================================================================

// Kind identifies the shape of a dynamic schema node.
type Kind int

const (
	KindString Kind = iota
	KindDouble
	KindInt
	KindBool
	KindList
	KindObject
	KindStringChoice
	KindUnion
	KindRef
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindDouble:
		return "double"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindObject:
		return "object"
	case KindStringChoice:
		return "string-choice"
	case KindUnion:
		return "union"
	case KindRef:
		return "ref"
	default:
		return "unknown"
	}
}

// Field is a single property of an object schema.
type Field struct {
	Name        string
	Description string
	Schema      *Dynamic

	// Required controls whether the generated value must carry the field.
	Required bool
}

// Dynamic is one node of the runtime's dynamic schema tree.
//
// Exactly the fields relevant to Kind are populated:
//
//	KindList:         Item, MinItems, MaxItems (0 = unbounded)
//	KindObject:       Fields (sorted by name)
//	KindStringChoice: Choices
//	KindUnion:        Variants
//	KindRef:          RefName (resolved against Compiled.Dependencies)
type Dynamic struct {
	// Name is set on named dependency schemas, empty on anonymous nodes.
	Name        string
	Description string

	Kind Kind

	Item     *Dynamic
	MinItems int
	MaxItems int

	Fields []Field

	Choices []string

	Variants []*Dynamic

	RefName string
}

// Compiled is the result of compiling a schema document: a root schema plus
// the named dependency schemas it may reference.
type Compiled struct {
	Root         *Dynamic
	Dependencies []*Dynamic
}

// Dependency returns the named dependency schema, or nil if absent.
func (c *Compiled) Dependency(name string) *Dynamic {
	for _, d := range c.Dependencies {
		if d.Name == name {
			return d
		}
	}
	return nil
}

// Resolve follows a KindRef node to its dependency schema. Non-ref nodes
// resolve to themselves. Returns nil for a dangling reference.
func (c *Compiled) Resolve(d *Dynamic) *Dynamic {
	if d == nil || d.Kind != KindRef {
		return d
	}
	return c.Dependency(d.RefName)
}
