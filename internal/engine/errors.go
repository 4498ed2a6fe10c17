// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine implements the unified generation dispatcher.
package engine

import "errors"

// =============================================================================
// ERROR TYPES
// =============================================================================

// Kind categorizes dispatcher errors for handling and HTTP mapping.
type Kind int

const (
	KindUnknown Kind = iota

	// KindModelUnavailable: the underlying model capability cannot serve
	// requests at all. Checked before any mode logic runs.
	KindModelUnavailable

	// KindInvalidInput: malformed or empty messages, bad JSON anywhere in
	// message or tool parsing.
	KindInvalidInput

	// KindSchemaError: schema compilation failed.
	KindSchemaError

	// KindStreamingUnsupported: streaming requested in structured mode.
	KindStreamingUnsupported

	// KindToolExecutionFailed: a local tool handler failed. Always
	// recovered at the bridge boundary, never surfaced to callers; the
	// kind exists for logging and audit records.
	KindToolExecutionFailed

	// KindGenerationFailed: opaque runtime failure.
	KindGenerationFailed
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindModelUnavailable:
		return "model-unavailable"
	case KindInvalidInput:
		return "invalid-input"
	case KindSchemaError:
		return "schema-error"
	case KindStreamingUnsupported:
		return "streaming-unsupported"
	case KindToolExecutionFailed:
		return "tool-execution-failed"
	case KindGenerationFailed:
		return "generation-failed"
	default:
		return "unknown"
	}
}

// Error is the dispatcher's typed error.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrStreamingUnsupported is returned when a structured-mode request asks
// to stream. Structured output arrives whole or not at all; there is no
// silent fallback to non-streaming.
var ErrStreamingUnsupported = &Error{
	Kind:    KindStreamingUnsupported,
	Message: "structured generation does not support streaming",
}

func modelUnavailable(reason string) *Error {
	return &Error{Kind: KindModelUnavailable, Message: "model unavailable: " + reason}
}

func invalidInput(msg string, cause error) *Error {
	return &Error{Kind: KindInvalidInput, Message: msg, Cause: cause}
}

func schemaError(cause error) *Error {
	return &Error{Kind: KindSchemaError, Message: "schema compilation failed", Cause: cause}
}

func generationFailed(cause error) *Error {
	return &Error{Kind: KindGenerationFailed, Message: "generation failed", Cause: cause}
}

// =============================================================================
// ERROR INSPECTION
// =============================================================================

// KindOf extracts the dispatcher error kind, or KindUnknown for foreign
// errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsModelUnavailable reports whether the error is an availability failure.
func IsModelUnavailable(err error) bool { return KindOf(err) == KindModelUnavailable }

// IsInvalidInput reports whether the error is a caller-input failure.
func IsInvalidInput(err error) bool { return KindOf(err) == KindInvalidInput }

// IsSchemaError reports whether the error is a schema compilation failure.
func IsSchemaError(err error) bool { return KindOf(err) == KindSchemaError }

// IsBadRequest reports whether the error maps to a caller mistake
// (invalid input, bad schema, or unsupported streaming).
func IsBadRequest(err error) bool {
	switch KindOf(err) {
	case KindInvalidInput, KindSchemaError, KindStreamingUnsupported:
		return true
	default:
		return false
	}
}
