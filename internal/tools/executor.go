// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tools provides the host-side tool system for rigserve.
package tools

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jeranaias/rigserve/internal/jsonval"
)

// =============================================================================
// EXECUTION RECORD
// =============================================================================

// ExecutionRecord tracks one handler invocation for audit purposes.
type ExecutionRecord struct {
	ToolName  string
	Timestamp time.Time
	Duration  time.Duration
	Err       error
}

// =============================================================================
// EXECUTOR
// =============================================================================

// DefaultTimeout bounds a single handler call.
const DefaultTimeout = 10 * time.Second

// Executor runs tool handlers with a timeout and panic recovery.
type Executor struct {
	timeout time.Duration

	mu      sync.Mutex
	history []ExecutionRecord
}

// NewExecutor creates an executor with the given per-call timeout.
// A zero timeout uses DefaultTimeout.
func NewExecutor(timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{timeout: timeout}
}

// Execute invokes the definition's handler with the decoded arguments.
//
// A nil handler, a handler error, a panic, or a timeout all surface as an
// error return; the caller (the tool call bridge) substitutes the
// empty-object result so the runtime is never left waiting.
func (e *Executor) Execute(ctx context.Context, def Definition, args jsonval.Value) (jsonval.Value, error) {
	start := time.Now()
	result, err := e.run(ctx, def, args)
	e.record(ExecutionRecord{
		ToolName:  def.Name,
		Timestamp: start,
		Duration:  time.Since(start),
		Err:       err,
	})
	return result, err
}

func (e *Executor) run(ctx context.Context, def Definition, args jsonval.Value) (jsonval.Value, error) {
	if def.Handler == nil {
		return jsonval.EmptyObject(), fmt.Errorf("tools: %s has no local handler", def.Name)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		result jsonval.Value
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("TOOLS: handler %s panicked: %v", def.Name, r)
				done <- outcome{jsonval.EmptyObject(), fmt.Errorf("tools: %s panicked: %v", def.Name, r)}
			}
		}()
		result, err := def.Handler(callCtx, args)
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return jsonval.EmptyObject(), out.err
		}
		return out.result, nil
	case <-callCtx.Done():
		return jsonval.EmptyObject(), fmt.Errorf("tools: %s timed out after %s", def.Name, e.timeout)
	}
}

func (e *Executor) record(rec ExecutionRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, rec)
}

// History returns a copy of the execution records.
func (e *Executor) History() []ExecutionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ExecutionRecord, len(e.history))
	copy(out, e.history)
	return out
}
