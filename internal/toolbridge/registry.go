// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package toolbridge mediates between the model runtime's tool-invocation
// callback and the host-side tool handlers.
package toolbridge

import (
	"errors"
	"sync"
)

// =============================================================================
// BRIDGE REGISTRY
// =============================================================================

// ErrNoSuchCall indicates an injection for a correlation id no live bridge
// knows about.
var ErrNoSuchCall = errors.New("toolbridge: no pending call for correlation id")

// Registry maps request ids to their live bridges. It replaces the
// process-wide callback slot of callback-style runtimes: every invocation
// is routed through its own request's bridge, so concurrent requests with
// live tools cannot cross wires.
type Registry struct {
	mu      sync.RWMutex
	bridges map[string]*Bridge
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{bridges: make(map[string]*Bridge)}
}

// Register arms a bridge for its request. Registering a second bridge for
// the same request id replaces the first.
func (r *Registry) Register(b *Bridge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bridges[b.RequestID()] = b
}

// Unregister disarms the request's bridge. Must be paired with Register on
// every request path.
func (r *Registry) Unregister(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bridges, requestID)
}

// Get returns the live bridge for a request, or nil.
func (r *Registry) Get(requestID string) *Bridge {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bridges[requestID]
}

// Count returns the number of live bridges.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bridges)
}

// Inject routes an externally produced tool result to whichever live
// bridge issued the correlation id.
func (r *Registry) Inject(correlationID string, resultJSON []byte) error {
	r.mu.RLock()
	bridges := make([]*Bridge, 0, len(r.bridges))
	for _, b := range r.bridges {
		bridges = append(bridges, b)
	}
	r.mu.RUnlock()

	for _, b := range bridges {
		if b.Inject(correlationID, resultJSON) {
			return nil
		}
	}
	return ErrNoSuchCall
}
