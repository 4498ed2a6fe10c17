// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tools provides the host-side tool system for rigserve.
package tools

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/jeranaias/rigserve/internal/jsonval"
)

// =============================================================================
// DEFINITION
// =============================================================================

// Handler executes a tool locally with decoded arguments.
type Handler func(ctx context.Context, args jsonval.Value) (jsonval.Value, error)

// Definition describes one tool offered to the model.
type Definition struct {
	// Name uniquely identifies the tool within a request.
	Name string `json:"name"`

	// Description tells the model when to call the tool.
	Description string `json:"description"`

	// Parameters is the JSON-Schema parameter object for the tool.
	Parameters jsonval.Value `json:"parameters"`

	// Handler is the local implementation. Nil for caller-orchestrated
	// tools whose results arrive from outside the process.
	Handler Handler `json:"-"`
}

// Valid reports whether the definition can be bound into a request.
func (d Definition) Valid() bool {
	return d.Name != ""
}

// =============================================================================
// REGISTRY
// =============================================================================

// ErrDuplicateTool is returned when registering a name twice.
var ErrDuplicateTool = errors.New("tools: duplicate tool name")

// ErrUnknownTool is returned when looking up an unregistered name.
var ErrUnknownTool = errors.New("tools: unknown tool")

// Registry holds the host's named tool definitions.
// Safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds a definition. Names must be unique.
func (r *Registry) Register(def Definition) error {
	if !def.Valid() {
		return errors.New("tools: definition has no name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name]; exists {
		return ErrDuplicateTool
	}
	r.defs[def.Name] = def
	return nil
}

// Get returns the definition for a name.
func (r *Registry) Get(name string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	if !ok {
		return Definition{}, ErrUnknownTool
	}
	return def, nil
}

// List returns all definitions sorted by name.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}
