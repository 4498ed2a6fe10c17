// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine implements the unified generation dispatcher.
package engine

import (
	"context"
	"log"
	"strings"

	"github.com/jeranaias/rigserve/internal/runtime"
	"github.com/jeranaias/rigserve/internal/toolbridge"
)

// =============================================================================
// STREAMING GENERATION
// =============================================================================

// snapshot is one cumulative-text report from the runtime.
type snapshot struct {
	cumulative string
	err        error
	done       bool
}

// GenerateStream runs one streaming request. The returned channel delivers
// text deltas, external tool call events, and exactly one terminal chunk
// (Err or Done), then closes. Resources are released before the channel
// closes.
//
// Structured mode cannot stream; such requests fail fast with
// ErrStreamingUnsupported before any session opens.
func (d *Dispatcher) GenerateStream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	p, err := d.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if p.mode == ModeStructured {
		return nil, ErrStreamingUnsupported
	}

	d.tracker.Add(runtime.SessionInfo{RequestID: p.requestID, Mode: p.mode.String(), Streaming: true})

	out := make(chan Chunk, 32)
	go d.runStream(ctx, p, req, out)
	return out, nil
}

// runStream owns the request from session open to channel close. It is the
// only goroutine that sends on out.
func (d *Dispatcher) runStream(ctx context.Context, p *prepared, req *Request, out chan<- Chunk) {
	defer close(out)
	defer d.tracker.Remove(p.requestID)

	// consumerDone lets the callback stop blocking once this goroutine has
	// decided to abandon the stream, so the runtime's generation task can
	// drain to completion without a stranded sender.
	consumerDone := make(chan struct{})
	defer close(consumerDone)
	snapshots := make(chan snapshot, 32)

	// Tool call events ride the same output channel as text. Buffered so
	// the bridge's non-blocking send rarely drops.
	var events chan toolbridge.CallEvent
	var coord *StreamingCoordinator
	var bridge *toolbridge.Bridge

	cfg := runtime.SessionConfig{Transcript: p.context.Entries}
	if p.mode == ModeTools {
		events = make(chan toolbridge.CallEvent, 16)
		coord = NewStreamingCoordinator(len(p.bound), req.stopAfterToolCalls())
		bridge = toolbridge.New(toolbridge.Config{
			RequestID:       p.requestID,
			Mode:            req.ToolMode,
			Tools:           p.bound,
			Executor:        d.executor,
			Events:          events,
			OnToolCompleted: coord.NotifyToolCompleted,
			ResultWait:      d.toolResultWait,
		})
		d.bridges.Register(bridge)
		defer func() {
			bridge.Close()
			d.bridges.Unregister(p.requestID)
		}()
		cfg.Tools = toolDefs(p.bound)
		cfg.OnToolCall = bridge.Invoke
	}

	session, err := d.runtime.NewSession(ctx, cfg)
	if err != nil {
		out <- Chunk{Err: generationFailed(err)}
		return
	}
	defer session.Close()

	// genCtx lets an early termination cancel the runtime's generation task
	// while the request context stays live for cleanup.
	genCtx, cancelGen := context.WithCancel(ctx)
	defer cancelGen()

	err = session.Stream(genCtx, p.context.CurrentPrompt, p.options(), func(cumulative string, err error, done bool) {
		select {
		case snapshots <- snapshot{cumulative, err, done}:
		case <-consumerDone:
		}
	})
	if err != nil {
		out <- Chunk{Err: generationFailed(err)}
		return
	}

	d.forward(ctx, p, out, snapshots, events, coord, cancelGen)
}

// forward relays snapshots and tool events to the consumer until a terminal
// condition. Deltas are the suffix growth between consecutive cumulative
// snapshots; a non-growing snapshot emits nothing.
func (d *Dispatcher) forward(
	ctx context.Context,
	p *prepared,
	out chan<- Chunk,
	snapshots <-chan snapshot,
	events <-chan toolbridge.CallEvent,
	coord *StreamingCoordinator,
	cancelGen context.CancelFunc,
) {
	var previous string
	for {
		select {
		case <-ctx.Done():
			cancelGen()
			out <- Chunk{Err: generationFailed(ctx.Err())}
			return

		case ev := <-events:
			out <- Chunk{ToolCall: &ev}

		case snap := <-snapshots:
			if snap.err != nil {
				out <- Chunk{Err: generationFailed(snap.err)}
				return
			}
			if snap.done {
				drainEvents(events, out)
				out <- Chunk{Done: true}
				return
			}

			// A completed tool call ends the stream before the snapshot in
			// hand is delivered; its text is dropped deliberately.
			if coord != nil && coord.ShouldTerminate() {
				cancelGen()
				drainEvents(events, out)
				out <- Chunk{Done: true}
				return
			}

			if delta, ok := suffixGrowth(previous, snap.cumulative); ok {
				previous = snap.cumulative
				if delta != "" {
					out <- Chunk{Text: delta}
				}
			} else {
				// Snapshot regressed; the runtime replaced its text wholesale.
				log.Printf("ENGINE: non-monotonic snapshot for request %s, resetting", p.requestID)
				previous = snap.cumulative
				if snap.cumulative != "" {
					out <- Chunk{Text: snap.cumulative}
				}
			}
		}
	}
}

// drainEvents flushes already-queued tool call events before the terminal
// chunk so announced correlation ids are never silently lost.
func drainEvents(events <-chan toolbridge.CallEvent, out chan<- Chunk) {
	for {
		select {
		case ev := <-events:
			out <- Chunk{ToolCall: &ev}
		default:
			return
		}
	}
}

// suffixGrowth returns the delta when next extends previous, and ok=false
// when it does not.
func suffixGrowth(previous, next string) (string, bool) {
	if strings.HasPrefix(next, previous) {
		return next[len(previous):], true
	}
	return "", false
}
