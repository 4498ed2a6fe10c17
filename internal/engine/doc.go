// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine implements the unified generation dispatcher.
//
// A request carries a conversation plus optional tool definitions and an
// optional output schema. The dispatcher compiles the conversation into a
// transcript, selects exactly one mode (tools beat schema beat basic),
// opens a runtime session, and produces either a single result or a FIFO
// stream of chunks.
//
// Streaming with tools is coordinated for early termination: once any tool
// has completed and the request asked to stop after tool calls, the stream
// is abandoned mid-flight instead of generating prose the orchestrator
// would discard.
//
// The dispatcher never retries; every failure surfaces as a typed Error
// and retry policy belongs to the caller.
package engine
