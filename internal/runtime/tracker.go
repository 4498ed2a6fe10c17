// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package runtime defines the opaque model runtime capability the generation
// engine drives.
package runtime

import (
	"sort"
	"sync"
	"time"
)

// =============================================================================
// SESSION TRACKER
// =============================================================================

// SessionInfo describes one live session for observability.
type SessionInfo struct {
	RequestID string    `json:"request_id"`
	Mode      string    `json:"mode"`
	Streaming bool      `json:"streaming"`
	StartedAt time.Time `json:"started_at"`
}

// Tracker records the sessions currently in flight. The engine registers a
// session when a request opens one and removes it on every termination
// path; the server's stats endpoint reads the snapshot.
type Tracker struct {
	mu      sync.Mutex
	active  map[string]SessionInfo
	started int64
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{active: make(map[string]SessionInfo)}
}

// Add registers a live session under its request id.
func (t *Tracker) Add(info SessionInfo) {
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[info.RequestID] = info
	t.started++
}

// Remove drops a session. Unknown ids are ignored.
func (t *Tracker) Remove(requestID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, requestID)
}

// Active returns a snapshot of live sessions ordered by start time.
func (t *Tracker) Active() []SessionInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]SessionInfo, 0, len(t.active))
	for _, info := range t.active {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Count returns the number of live sessions.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// TotalStarted returns the number of sessions ever registered.
func (t *Tracker) TotalStarted() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}
