// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine implements the unified generation dispatcher.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/rigserve/internal/jsonval"
	"github.com/jeranaias/rigserve/internal/model"
	"github.com/jeranaias/rigserve/internal/runtime"
	"github.com/jeranaias/rigserve/internal/schema"
	"github.com/jeranaias/rigserve/internal/toolbridge"
	"github.com/jeranaias/rigserve/internal/tools"
	"github.com/jeranaias/rigserve/internal/transcript"
)

// =============================================================================
// REQUEST AND RESULT TYPES
// =============================================================================

// Mode is the dispatcher's generation mode, selected by input presence.
type Mode int

const (
	ModeBasic Mode = iota
	ModeStructured
	ModeTools
)

// String returns the name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeBasic:
		return "basic"
	case ModeStructured:
		return "structured"
	case ModeTools:
		return "tools"
	default:
		return "unknown"
	}
}

// Request is one generation request against the dispatcher.
type Request struct {
	// RequestID scopes the request's tool bridge. Assigned when empty.
	RequestID string

	// Messages is the caller-owned conversation. Must be non-empty.
	Messages []model.Message

	// Tools switches the request into tools mode when non-empty.
	Tools []tools.Definition

	// SchemaJSON switches the request into structured mode when set
	// (and Tools is empty; tools beat schema).
	SchemaJSON []byte

	// Temperature and MaxOutputTokens are generation options; zero values
	// select runtime defaults.
	Temperature     float64
	MaxOutputTokens int

	// ToolMode selects the bridge behavior in tools mode.
	ToolMode toolbridge.Mode

	// StopAfterToolCalls controls streaming early termination in tools
	// mode. Nil defaults to true.
	StopAfterToolCalls *bool
}

// Mode selects the generation mode by input presence.
// Priority: tools beat schema beat basic.
func (r *Request) Mode() Mode {
	switch {
	case len(r.Tools) > 0:
		return ModeTools
	case len(r.SchemaJSON) > 0:
		return ModeStructured
	default:
		return ModeBasic
	}
}

func (r *Request) stopAfterToolCalls() bool {
	if r.StopAfterToolCalls == nil {
		return true
	}
	return *r.StopAfterToolCalls
}

// ToolCall is one collected tool invocation returned from tools mode.
type ToolCall struct {
	ToolID    int           `json:"tool_id"`
	ToolName  string        `json:"tool_name"`
	Arguments jsonval.Value `json:"arguments"`
}

// Result is a completed non-streaming generation.
type Result struct {
	RequestID string `json:"request_id"`

	// Text is the generated text. Empty when the request ended in
	// collected tool calls awaiting orchestrator execution.
	Text string `json:"text"`

	// Object is the decoded structured value. Nil outside structured
	// mode.
	Object *jsonval.Value `json:"object,omitempty"`

	// ToolCalls are the calls collected during tools mode.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Chunk is one element of a generation stream.
type Chunk struct {
	// Text is the delta since the previous chunk.
	Text string

	// ToolCall announces an external-orchestration tool invocation.
	ToolCall *toolbridge.CallEvent

	// Err terminates the stream with a failure. Chunks delivered before
	// the failure are not rolled back.
	Err error

	// Done marks the terminal chunk of a successful (or deliberately
	// abandoned) stream.
	Done bool
}

// =============================================================================
// DISPATCHER
// =============================================================================

// Dispatcher drives the model runtime for both native and OpenAI-style
// surfaces. Independent requests run concurrently on independent sessions;
// the dispatcher holds no cross-request lock.
type Dispatcher struct {
	runtime  runtime.ModelRuntime
	bridges  *toolbridge.Registry
	tracker  *runtime.Tracker
	executor *tools.Executor

	// toolResultWait bounds bridge waits for handler results and external
	// injections.
	toolResultWait time.Duration
}

// NewDispatcher creates a dispatcher over the given runtime.
func NewDispatcher(rt runtime.ModelRuntime) *Dispatcher {
	return &Dispatcher{
		runtime:        rt,
		bridges:        toolbridge.NewRegistry(),
		tracker:        runtime.NewTracker(),
		executor:       tools.NewExecutor(0),
		toolResultWait: toolbridge.DefaultResultWait,
	}
}

// WithExecutor replaces the local tool executor.
func (d *Dispatcher) WithExecutor(e *tools.Executor) *Dispatcher {
	d.executor = e
	return d
}

// WithToolResultWait bounds tool result waits.
func (d *Dispatcher) WithToolResultWait(wait time.Duration) *Dispatcher {
	d.toolResultWait = wait
	return d
}

// Bridges exposes the bridge registry so the serving layer can inject
// external tool results by correlation id.
func (d *Dispatcher) Bridges() *toolbridge.Registry {
	return d.bridges
}

// Tracker exposes live-session observability.
func (d *Dispatcher) Tracker() *runtime.Tracker {
	return d.tracker
}

// Availability reports the runtime's availability.
func (d *Dispatcher) Availability(ctx context.Context) runtime.Availability {
	return d.runtime.Availability(ctx)
}

// SupportedLanguages reports the runtime's supported languages.
func (d *Dispatcher) SupportedLanguages(ctx context.Context) []string {
	return d.runtime.SupportedLanguages(ctx)
}

// =============================================================================
// REQUEST PREPARATION
// =============================================================================

// prepared is the per-request state assembled before any session opens.
type prepared struct {
	requestID string
	mode      Mode
	context   *transcript.Context
	compiled  *schema.Compiled       // structured mode
	bound     []toolbridge.BoundTool // tools mode
}

// prepare runs the availability check and compiles everything the selected
// mode needs. No session is opened and no bridge armed yet.
func (d *Dispatcher) prepare(ctx context.Context, req *Request) (*prepared, error) {
	// Availability is checked once per request, before any mode logic.
	if avail := d.runtime.Availability(ctx); !avail.Available {
		return nil, modelUnavailable(avail.Reason)
	}

	p := &prepared{requestID: req.RequestID, mode: req.Mode()}
	if p.requestID == "" {
		p.requestID = uuid.NewString()
	}

	tctx, err := transcript.Build(req.Messages)
	if err != nil {
		return nil, invalidInput("cannot build transcript", err)
	}
	tctx.GenerationOptions = transcript.Options{
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxOutputTokens,
	}
	p.context = tctx

	switch p.mode {
	case ModeStructured:
		compiled, err := schema.Compile(req.SchemaJSON)
		if err != nil {
			return nil, schemaError(err)
		}
		p.compiled = compiled

	case ModeTools:
		bound, err := bindTools(req.Tools)
		if err != nil {
			return nil, err
		}
		p.bound = bound
		p.context = withToolInstructions(tctx, bound)
	}

	return p, nil
}

// bindTools compiles caller tool specs into 1-based stable bindings.
func bindTools(defs []tools.Definition) ([]toolbridge.BoundTool, error) {
	seen := make(map[string]bool, len(defs))
	bound := make([]toolbridge.BoundTool, 0, len(defs))

	for i, def := range defs {
		if !def.Valid() {
			return nil, invalidInput(fmt.Sprintf("tool %d has no name", i), nil)
		}
		if seen[def.Name] {
			return nil, invalidInput("duplicate tool name "+def.Name, nil)
		}
		seen[def.Name] = true

		var params *schema.Dynamic
		if !def.Parameters.IsNull() {
			compiled, err := schema.CompileValue(def.Parameters)
			if err != nil {
				return nil, schemaError(err)
			}
			params = compiled.Root
		}

		bound = append(bound, toolbridge.BoundTool{
			Def: transcript.ToolDef{
				ID:          i + 1,
				Name:        def.Name,
				Description: def.Description,
				Parameters:  params,
			},
			Handler: def.Handler,
		})
	}
	return bound, nil
}

// withToolInstructions lifts the system-message segments out of the
// transcript and prepends a single instructions entry carrying them plus
// the tool definitions.
func withToolInstructions(tctx *transcript.Context, bound []toolbridge.BoundTool) *transcript.Context {
	var segments []string
	rest := make([]transcript.Entry, 0, len(tctx.Entries))
	for _, e := range tctx.Entries {
		if e.Kind == transcript.KindInstructions {
			segments = append(segments, e.Segments...)
			continue
		}
		rest = append(rest, e)
	}

	out := &transcript.Context{
		CurrentPrompt:     tctx.CurrentPrompt,
		GenerationOptions: tctx.GenerationOptions,
		Entries:           make([]transcript.Entry, 0, len(rest)+1),
	}
	out.Entries = append(out.Entries, transcript.Instructions(segments, toolDefs(bound)))
	out.Entries = append(out.Entries, rest...)
	return out
}

func (p *prepared) options() runtime.Options {
	return runtime.Options{
		Temperature:     p.context.GenerationOptions.Temperature,
		MaxOutputTokens: p.context.GenerationOptions.MaxOutputTokens,
	}
}

func toolDefs(bound []toolbridge.BoundTool) []transcript.ToolDef {
	defs := make([]transcript.ToolDef, len(bound))
	for i, bt := range bound {
		defs[i] = bt.Def
	}
	return defs
}

// =============================================================================
// NON-STREAMING GENERATION
// =============================================================================

// Generate runs one non-streaming request, blocking until the runtime's
// generation task completes or fails. The wait has no implicit timeout;
// cancellation is the caller's context.
func (d *Dispatcher) Generate(ctx context.Context, req *Request) (*Result, error) {
	p, err := d.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	d.tracker.Add(runtime.SessionInfo{RequestID: p.requestID, Mode: p.mode.String()})
	defer d.tracker.Remove(p.requestID)

	switch p.mode {
	case ModeBasic:
		return d.generateBasic(ctx, p)
	case ModeStructured:
		return d.generateStructured(ctx, p)
	default:
		return d.generateTools(ctx, p, req)
	}
}

func (d *Dispatcher) generateBasic(ctx context.Context, p *prepared) (*Result, error) {
	session, err := d.runtime.NewSession(ctx, runtime.SessionConfig{
		Transcript: p.context.Entries,
	})
	if err != nil {
		return nil, generationFailed(err)
	}
	defer session.Close()

	text, err := session.Respond(ctx, p.context.CurrentPrompt, p.options())
	if err != nil {
		return nil, generationFailed(err)
	}
	return &Result{RequestID: p.requestID, Text: text}, nil
}

func (d *Dispatcher) generateStructured(ctx context.Context, p *prepared) (*Result, error) {
	session, err := d.runtime.NewSession(ctx, runtime.SessionConfig{
		Transcript: p.context.Entries,
		Schema:     p.compiled,
	})
	if err != nil {
		return nil, generationFailed(err)
	}
	defer session.Close()

	text, value, err := session.RespondStructured(ctx, p.context.CurrentPrompt, p.options())
	if err != nil {
		return nil, generationFailed(err)
	}
	return &Result{RequestID: p.requestID, Text: text, Object: &value}, nil
}

func (d *Dispatcher) generateTools(ctx context.Context, p *prepared, req *Request) (*Result, error) {
	bridge := toolbridge.New(toolbridge.Config{
		RequestID:  p.requestID,
		Mode:       req.ToolMode,
		Tools:      p.bound,
		Executor:   d.executor,
		ResultWait: d.toolResultWait,
	})
	d.bridges.Register(bridge)
	defer func() {
		bridge.Close()
		d.bridges.Unregister(p.requestID)
	}()

	session, err := d.runtime.NewSession(ctx, runtime.SessionConfig{
		Transcript: p.context.Entries,
		Tools:      toolDefs(p.bound),
		OnToolCall: bridge.Invoke,
	})
	if err != nil {
		return nil, generationFailed(err)
	}
	defer session.Close()

	text, err := session.Respond(ctx, p.context.CurrentPrompt, p.options())
	if err != nil {
		return nil, generationFailed(err)
	}

	// Collected calls hand execution back to the orchestrator: the text is
	// dropped and the caller is expected to run the tools and re-invoke.
	if collected := bridge.Collected(); len(collected) > 0 {
		calls := make([]ToolCall, len(collected))
		for i, c := range collected {
			calls[i] = ToolCall{ToolID: c.ToolID, ToolName: c.ToolName, Arguments: c.Arguments}
		}
		return &Result{RequestID: p.requestID, Text: "", ToolCalls: calls}, nil
	}
	return &Result{RequestID: p.requestID, Text: text}, nil
}
