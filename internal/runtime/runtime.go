// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package runtime defines the opaque model runtime capability the generation
// engine drives.
package runtime

import (
	"context"
	"errors"

	"github.com/jeranaias/rigserve/internal/jsonval"
	"github.com/jeranaias/rigserve/internal/schema"
	"github.com/jeranaias/rigserve/internal/transcript"
)

// =============================================================================
// AVAILABILITY
// =============================================================================

// Availability reports whether the underlying model can serve requests.
type Availability struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason"`
}

// =============================================================================
// SESSION CONFIGURATION
// =============================================================================

// ToolCallback is invoked by the runtime whenever the model decides to call
// a tool during generation. It must return a JSON result within bounded
// time; the runtime's generation task blocks on it.
type ToolCallback func(toolID int, argumentsJSON []byte) (resultJSON []byte)

// SessionConfig binds a session to its prior context and capabilities.
type SessionConfig struct {
	// Transcript is the prior conversation context.
	Transcript []transcript.Entry

	// Tools are the definitions bound for this session, if any.
	Tools []transcript.ToolDef

	// Schema constrains structured generation, if set.
	Schema *schema.Compiled

	// OnToolCall routes model tool invocations. Required when Tools is
	// non-empty.
	OnToolCall ToolCallback
}

// Options are per-generation parameters. Zero values select runtime
// defaults.
type Options struct {
	Temperature     float64
	MaxOutputTokens int
}

// =============================================================================
// SESSION
// =============================================================================

// ErrBusy is returned when a second generation is started on a session that
// already has one in flight.
var ErrBusy = errors.New("runtime: session already has a generation in flight")

// StreamFunc receives cumulative text snapshots from a streaming
// generation. It is called from the session's generation goroutine in
// snapshot order. A call with err != nil or done == true is terminal; no
// further calls follow it.
type StreamFunc func(cumulative string, err error, done bool)

// Session is one unit of model runtime state bound to a transcript, live
// for exactly one request.
type Session interface {
	// Respond generates a complete response to the prompt, blocking until
	// the runtime's generation task finishes.
	Respond(ctx context.Context, prompt string, opts Options) (string, error)

	// RespondStructured generates a response constrained by the session's
	// schema, returning both the text form and the decoded value.
	RespondStructured(ctx context.Context, prompt string, opts Options) (string, jsonval.Value, error)

	// Stream starts a generation that reports cumulative snapshots to fn
	// from a detached task. It returns once the generation has been
	// started; delivery continues until a terminal fn call.
	Stream(ctx context.Context, prompt string, opts Options, fn StreamFunc) error

	// Close releases the session. Idempotent.
	Close() error
}

// =============================================================================
// MODEL RUNTIME
// =============================================================================

// ModelRuntime is the opaque on-device model backend.
type ModelRuntime interface {
	// Availability reports whether generation can be served at all.
	// Checked once per request before any mode logic runs.
	Availability(ctx context.Context) Availability

	// SupportedLanguages lists the languages the model was trained to
	// converse in.
	SupportedLanguages(ctx context.Context) []string

	// NewSession opens a session over the given context and capabilities.
	NewSession(ctx context.Context, cfg SessionConfig) (Session, error)
}
