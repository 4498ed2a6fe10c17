// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package toolbridge mediates between the model runtime's tool-invocation
// callback and the host-side tool handlers.
//
// Exactly one bridge is live per in-flight request. Bridges are scoped
// through a registry keyed by request id rather than a process-wide
// callback slot, so concurrent requests with live tools never interfere.
//
// A bridge operates in one of three modes:
//
//   - Collect: record the call and return a neutral placeholder at once,
//     handing execution off to an outer orchestrator.
//   - Local: run the registered handler and return its serialized result.
//   - External: park the call under a correlation id and wait for a result
//     injected from outside the process.
//
// The hard invariant across all modes and all failure paths: every
// invocation returns some result to the runtime within bounded time. The
// runtime's single-threaded generation task blocks on the callback, so a
// dropped result would wedge the session permanently.
package toolbridge
