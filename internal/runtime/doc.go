// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package runtime defines the opaque model runtime capability the generation
// engine drives, plus the deterministic simulated runtime the daemon falls
// back to when no real backend is configured.
//
// A runtime hands out sessions. A session is bound to one transcript and is
// live for exactly one request; only one generation may be in flight per
// session, while independent sessions run concurrently. Streaming sessions
// report cumulative text snapshots through a push callback; the engine
// adapts that into a pull-based channel.
//
// Tool invocation is callback-driven: the runtime calls the session's
// configured ToolCallback mid-generation and consumes whatever result it
// returns. The callback contract is that it always returns a result within
// bounded time.
package runtime
