// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package toolbridge mediates between the model runtime's tool-invocation
// callback and the host-side tool handlers.
package toolbridge

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/rigserve/internal/jsonval"
	"github.com/jeranaias/rigserve/internal/tools"
	"github.com/jeranaias/rigserve/internal/transcript"
)

// =============================================================================
// MODES
// =============================================================================

// Mode selects the bridge's dispatch behavior for a request.
type Mode int

const (
	// ModeCollect records calls and returns placeholders immediately.
	ModeCollect Mode = iota

	// ModeLocal executes the registered handler in process.
	ModeLocal

	// ModeExternal parks calls awaiting result injection by correlation id.
	ModeExternal
)

// String returns the name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeCollect:
		return "collect"
	case ModeLocal:
		return "local"
	case ModeExternal:
		return "external"
	default:
		return "unknown"
	}
}

// =============================================================================
// TYPES
// =============================================================================

// BoundTool pairs a compiled definition with its local handler, if any.
type BoundTool struct {
	Def     transcript.ToolDef
	Handler tools.Handler
}

// CollectedCall is one recorded invocation in collect mode.
type CollectedCall struct {
	ToolID    int
	ToolName  string
	Arguments jsonval.Value
}

// CallEvent announces an external-orchestration tool call on the request's
// output stream.
type CallEvent struct {
	CorrelationID string
	ToolID        int
	ToolName      string
	ArgumentsJSON string
}

// PendingToolCall tracks an external-orchestration invocation awaiting its
// injected result.
type PendingToolCall struct {
	ToolID        int
	CorrelationID string
	CreatedAt     time.Time
}

// DefaultResultWait bounds how long an invocation waits for a handler
// result or an external injection before substituting the empty object.
const DefaultResultWait = 10 * time.Second

// emptyResult is the neutral placeholder delivered whenever no real result
// is available.
var emptyResult = []byte("{}")

// =============================================================================
// CONFIG
// =============================================================================

// Config assembles a bridge for one request.
type Config struct {
	// RequestID scopes the bridge in the registry.
	RequestID string

	Mode  Mode
	Tools []BoundTool

	// Executor runs local handlers. Required for ModeLocal.
	Executor *tools.Executor

	// Events receives CallEvents in ModeExternal. The send is
	// non-blocking; a full channel drops the event and the call resolves
	// by timeout.
	Events chan<- CallEvent

	// OnToolCompleted is signaled once per completed tool call. Wired to
	// the streaming coordinator; nil outside streaming requests.
	OnToolCompleted func()

	// ResultWait overrides DefaultResultWait.
	ResultWait time.Duration
}

// =============================================================================
// BRIDGE
// =============================================================================

type pendingCall struct {
	info   PendingToolCall
	result chan []byte
}

// Bridge routes one request's tool invocations. Safe for concurrent use:
// the runtime invokes from its generation task while injections and
// shutdown arrive from other goroutines.
type Bridge struct {
	requestID  string
	mode       Mode
	byID       map[int]BoundTool
	executor   *tools.Executor
	events     chan<- CallEvent
	onComplete func()
	resultWait time.Duration

	mu        sync.Mutex
	collected []CollectedCall
	pending   map[string]*pendingCall
	closed    bool
	closedCh  chan struct{}
}

// New builds a bridge from the config.
func New(cfg Config) *Bridge {
	byID := make(map[int]BoundTool, len(cfg.Tools))
	for _, bt := range cfg.Tools {
		byID[bt.Def.ID] = bt
	}
	wait := cfg.ResultWait
	if wait <= 0 {
		wait = DefaultResultWait
	}
	return &Bridge{
		requestID:  cfg.RequestID,
		mode:       cfg.Mode,
		byID:       byID,
		executor:   cfg.Executor,
		events:     cfg.Events,
		onComplete: cfg.OnToolCompleted,
		resultWait: wait,
		pending:    make(map[string]*pendingCall),
		closedCh:   make(chan struct{}),
	}
}

// RequestID returns the owning request's id.
func (b *Bridge) RequestID() string { return b.requestID }

// Mode returns the bridge's dispatch mode.
func (b *Bridge) Mode() Mode { return b.mode }

// =============================================================================
// INVOCATION
// =============================================================================

// Invoke handles one tool invocation from the runtime. It always returns a
// JSON result within bounded time, no matter what goes wrong.
func (b *Bridge) Invoke(toolID int, argumentsJSON []byte) (result []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("TOOLBRIDGE: recovered panic handling tool %d: %v", toolID, r)
			result = emptyResult
		}
	}()

	bound, ok := b.byID[toolID]
	if !ok {
		// Unknown tool: answer immediately, record nothing.
		return emptyResult
	}

	args, err := jsonval.Decode(argumentsJSON)
	if err != nil {
		return emptyResult
	}

	switch b.mode {
	case ModeCollect:
		return b.invokeCollect(bound, args)
	case ModeLocal:
		return b.invokeLocal(bound, args)
	case ModeExternal:
		return b.invokeExternal(bound, argumentsJSON)
	default:
		return emptyResult
	}
}

func (b *Bridge) invokeCollect(bound BoundTool, args jsonval.Value) []byte {
	b.mu.Lock()
	b.collected = append(b.collected, CollectedCall{
		ToolID:    bound.Def.ID,
		ToolName:  bound.Def.Name,
		Arguments: args,
	})
	b.mu.Unlock()

	b.notifyCompleted()
	return emptyResult
}

func (b *Bridge) invokeLocal(bound BoundTool, args jsonval.Value) []byte {
	result := jsonval.EmptyObject()
	if b.executor != nil {
		out, err := b.executor.Execute(context.Background(), tools.Definition{
			Name:    bound.Def.Name,
			Handler: bound.Handler,
		}, args)
		if err != nil {
			// Tool failures never propagate to the runtime; substitute {}.
			log.Printf("TOOLBRIDGE: tool %s failed: %v", bound.Def.Name, err)
		} else {
			result = out
		}
	}

	b.notifyCompleted()
	return result.Encode()
}

func (b *Bridge) invokeExternal(bound BoundTool, argumentsJSON []byte) []byte {
	p := &pendingCall{
		info: PendingToolCall{
			ToolID:        bound.Def.ID,
			CorrelationID: uuid.NewString(),
			CreatedAt:     time.Now(),
		},
		result: make(chan []byte, 1),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return syntheticError("request terminated")
	}
	b.pending[p.info.CorrelationID] = p
	b.mu.Unlock()

	if b.events != nil {
		select {
		case b.events <- CallEvent{
			CorrelationID: p.info.CorrelationID,
			ToolID:        bound.Def.ID,
			ToolName:      bound.Def.Name,
			ArgumentsJSON: string(argumentsJSON),
		}:
		default:
			log.Printf("TOOLBRIDGE: event channel full, dropping call %s", p.info.CorrelationID)
		}
	}

	timer := time.NewTimer(b.resultWait)
	defer timer.Stop()

	var out []byte
	select {
	case res := <-p.result:
		out = res
		b.notifyCompleted()
	case <-b.closedCh:
		out = syntheticError("request terminated")
	case <-timer.C:
		out = emptyResult
	}

	b.mu.Lock()
	delete(b.pending, p.info.CorrelationID)
	b.mu.Unlock()
	return out
}

func (b *Bridge) notifyCompleted() {
	if b.onComplete != nil {
		b.onComplete()
	}
}

func syntheticError(reason string) []byte {
	return jsonval.Object(map[string]jsonval.Value{
		"error": jsonval.String(reason),
	}).Encode()
}

// =============================================================================
// RESULTS AND INTROSPECTION
// =============================================================================

// Inject delivers an externally produced result for a pending call.
// Returns false if the correlation id is unknown (already resolved, timed
// out, or never issued by this bridge).
func (b *Bridge) Inject(correlationID string, resultJSON []byte) bool {
	b.mu.Lock()
	p, ok := b.pending[correlationID]
	b.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case p.result <- resultJSON:
		return true
	default:
		// Result already delivered.
		return false
	}
}

// Collected returns the calls recorded in collect mode, in invocation
// order.
func (b *Bridge) Collected() []CollectedCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]CollectedCall, len(b.collected))
	copy(out, b.collected)
	return out
}

// Pending returns a snapshot of unresolved external calls.
func (b *Bridge) Pending() []PendingToolCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PendingToolCall, 0, len(b.pending))
	for _, p := range b.pending {
		out = append(out, p.info)
	}
	return out
}

// Close tears the bridge down. Every unresolved pending call is answered
// with a synthetic error so the runtime is never left waiting. Idempotent,
// but every request path must reach it exactly once.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.closedCh)
	b.mu.Unlock()
}
