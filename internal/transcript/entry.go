// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transcript converts an ordered chat conversation into the typed
// transcript consumed by the model runtime.
package transcript

import (
	"github.com/jeranaias/rigserve/internal/model"
	"github.com/jeranaias/rigserve/internal/schema"
)

// =============================================================================
// ENTRY KINDS
// =============================================================================

// Kind identifies the type of a transcript entry.
type Kind int

const (
	KindInstructions Kind = iota
	KindPrompt
	KindResponse
	KindToolCalls
	KindToolOutput
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInstructions:
		return "instructions"
	case KindPrompt:
		return "prompt"
	case KindResponse:
		return "response"
	case KindToolCalls:
		return "tool-calls"
	case KindToolOutput:
		return "tool-output"
	default:
		return "unknown"
	}
}

// =============================================================================
// TOOL DEFINITION
// =============================================================================

// ToolDef is a compiled tool definition attached to an instructions entry
// and bound into the runtime session.
type ToolDef struct {
	// ID is 1-based and stable for the request's lifetime.
	ID int

	Name        string
	Description string

	// Parameters is the compiled parameter schema.
	Parameters *schema.Dynamic
}

// =============================================================================
// ENTRY
// =============================================================================

// Entry is one element of a transcript. The fields populated depend on Kind:
//
//	KindInstructions: Segments (+ Tools when the dispatcher injects them)
//	KindPrompt:       Segments
//	KindResponse:     Segments
//	KindToolCalls:    Calls
//	KindToolOutput:   ToolID, ToolName, Segments
type Entry struct {
	Kind Kind

	Segments []string

	Tools []ToolDef

	Calls []model.ToolCallRef

	ToolID   string
	ToolName string
}

// Instructions builds an instructions entry from text segments and tool
// definitions. Used by the dispatcher to prepend the tool-mode preamble.
func Instructions(segments []string, tools []ToolDef) Entry {
	return Entry{Kind: KindInstructions, Segments: segments, Tools: tools}
}

// Text returns the concatenated segments of the entry.
func (e Entry) Text() string {
	switch len(e.Segments) {
	case 0:
		return ""
	case 1:
		return e.Segments[0]
	}
	out := e.Segments[0]
	for _, s := range e.Segments[1:] {
		out += "\n" + s
	}
	return out
}

// =============================================================================
// CONTEXT
// =============================================================================

// Options are the generation parameters carried alongside a transcript.
// Zero values mean "runtime default".
type Options struct {
	Temperature     float64
	MaxOutputTokens int
}

// Context is the compiled conversation handed to the dispatcher: prior
// transcript entries plus the live prompt. Immutable after Build.
type Context struct {
	// CurrentPrompt is the extracted trailing user message, or "" when the
	// conversation does not end with a user turn.
	CurrentPrompt string

	// Entries is the chronological prior context.
	Entries []Entry

	// GenerationOptions is filled in by the dispatcher from the request.
	GenerationOptions Options
}
