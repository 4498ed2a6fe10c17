// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine implements the unified generation dispatcher.
package engine

import "sync"

// =============================================================================
// STREAMING COORDINATOR
// =============================================================================

// StreamingCoordinator tracks tool completion during one streaming
// generation so the stream loop can terminate early.
//
// Termination triggers on the first completed tool, not on all expected
// tools. Once a tool has fired, further prose is headed for the
// orchestrator's wastebasket; cutting the stream at the first completion
// favors responsiveness over completeness. This is intended behavior, not
// a counting bug.
//
// One coordinator serves exactly one in-flight stream; it is reset at the
// start of every streaming request and never shared across requests.
type StreamingCoordinator struct {
	mu        sync.Mutex
	expected  int
	completed int
	stopAfter bool
}

// NewStreamingCoordinator creates a coordinator armed for one stream with
// expectedTools bound tools.
func NewStreamingCoordinator(expectedTools int, stopAfterToolCalls bool) *StreamingCoordinator {
	return &StreamingCoordinator{expected: expectedTools, stopAfter: stopAfterToolCalls}
}

// Reset arms the coordinator for a new stream.
func (c *StreamingCoordinator) Reset(expectedTools int, stopAfterToolCalls bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expected = expectedTools
	c.completed = 0
	c.stopAfter = stopAfterToolCalls
}

// NotifyToolCompleted records one finished tool call.
func (c *StreamingCoordinator) NotifyToolCompleted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed++
}

// ShouldTerminate reports whether the stream should be abandoned.
// Monotonic: once true it stays true until the next Reset.
func (c *StreamingCoordinator) ShouldTerminate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopAfter && c.completed >= 1
}

// Completed returns the number of completed tool calls.
func (c *StreamingCoordinator) Completed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed
}

// Expected returns the number of tools bound for the stream.
func (c *StreamingCoordinator) Expected() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expected
}
