// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine implements the unified generation dispatcher.
package engine

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigserve/internal/jsonval"
	"github.com/jeranaias/rigserve/internal/model"
	"github.com/jeranaias/rigserve/internal/runtime"
	"github.com/jeranaias/rigserve/internal/toolbridge"
	"github.com/jeranaias/rigserve/internal/tools"
)

// =============================================================================
// HELPERS
// =============================================================================

func chat(pairs ...string) []model.Message {
	msgs := make([]model.Message, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		msgs = append(msgs, model.Message{Role: model.Role(pairs[i]), Content: pairs[i+1]})
	}
	return msgs
}

func echoTool(calls *atomic.Int64) tools.Definition {
	params, _ := jsonval.Decode([]byte(`{"type":"object","properties":{"text":{"type":"string"}}}`))
	return tools.Definition{
		Name:        "echo",
		Description: "Echoes the input text.",
		Parameters:  params,
		Handler: func(ctx context.Context, args jsonval.Value) (jsonval.Value, error) {
			if calls != nil {
				calls.Add(1)
			}
			text := args.StringField("text")
			return jsonval.Object(map[string]jsonval.Value{"echoed": jsonval.String(text)}), nil
		},
	}
}

func collectStream(t *testing.T, ch <-chan Chunk) (text string, toolEvents []toolbridge.CallEvent, terminal Chunk) {
	t.Helper()
	var b strings.Builder
	for chunk := range ch {
		switch {
		case chunk.Err != nil || chunk.Done:
			terminal = chunk
		case chunk.ToolCall != nil:
			toolEvents = append(toolEvents, *chunk.ToolCall)
		default:
			b.WriteString(chunk.Text)
		}
	}
	if terminal.Err == nil && !terminal.Done {
		t.Fatal("stream closed without a terminal chunk")
	}
	return b.String(), toolEvents, terminal
}

// =============================================================================
// MODE SELECTION
// =============================================================================

func TestRequestModePriority(t *testing.T) {
	schemaJSON := []byte(`{"type":"string"}`)
	toolDefs := []tools.Definition{{Name: "echo"}}

	tests := []struct {
		name string
		req  Request
		want Mode
	}{
		{"basic", Request{}, ModeBasic},
		{"structured", Request{SchemaJSON: schemaJSON}, ModeStructured},
		{"tools", Request{Tools: toolDefs}, ModeTools},
		{"tools beat schema", Request{Tools: toolDefs, SchemaJSON: schemaJSON}, ModeTools},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.req.Mode(); got != tt.want {
				t.Errorf("mode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStopAfterToolCallsDefaultsTrue(t *testing.T) {
	var req Request
	if !req.stopAfterToolCalls() {
		t.Error("nil StopAfterToolCalls should default to true")
	}
	f := false
	req.StopAfterToolCalls = &f
	if req.stopAfterToolCalls() {
		t.Error("explicit false should stick")
	}
}

// =============================================================================
// NON-STREAMING
// =============================================================================

func TestGenerateBasic(t *testing.T) {
	d := NewDispatcher(runtime.NewSim(runtime.SimConfig{}))

	result, err := d.Generate(context.Background(), &Request{
		Messages: chat("system", "Be terse.", "user", "What is the heading?"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.RequestID, "request id should be assigned")
	assert.Contains(t, result.Text, "What is the heading?")
	assert.Nil(t, result.Object)
	assert.Empty(t, result.ToolCalls)
	assert.Equal(t, 0, d.Tracker().Count(), "session should be untracked after completion")
}

func TestGenerateKeepsCallerRequestID(t *testing.T) {
	d := NewDispatcher(runtime.NewSim(runtime.SimConfig{}))

	result, err := d.Generate(context.Background(), &Request{
		RequestID: "req-42",
		Messages:  chat("user", "hello"),
	})
	require.NoError(t, err)
	assert.Equal(t, "req-42", result.RequestID)
}

func TestGenerateModelUnavailable(t *testing.T) {
	d := NewDispatcher(runtime.NewSim(runtime.SimConfig{
		Unavailable: true,
		Reason:      "assets not downloaded",
	}))

	_, err := d.Generate(context.Background(), &Request{Messages: chat("user", "hi")})
	require.Error(t, err)
	assert.True(t, IsModelUnavailable(err))
	assert.Contains(t, err.Error(), "assets not downloaded")
}

func TestGenerateEmptyConversation(t *testing.T) {
	d := NewDispatcher(runtime.NewSim(runtime.SimConfig{}))

	_, err := d.Generate(context.Background(), &Request{})
	require.Error(t, err)
	assert.True(t, IsInvalidInput(err))
}

func TestGenerateRuntimeFailure(t *testing.T) {
	boom := errors.New("inference crashed")
	d := NewDispatcher(runtime.NewSim(runtime.SimConfig{FailWith: boom}))

	_, err := d.Generate(context.Background(), &Request{Messages: chat("user", "hi")})
	require.Error(t, err)
	assert.Equal(t, KindGenerationFailed, KindOf(err))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, d.Tracker().Count())
}

// =============================================================================
// STRUCTURED MODE
// =============================================================================

func TestGenerateStructured(t *testing.T) {
	d := NewDispatcher(runtime.NewSim(runtime.SimConfig{}))

	result, err := d.Generate(context.Background(), &Request{
		Messages: chat("user", "Classify this."),
		SchemaJSON: []byte(`{
			"type": "object",
			"properties": {
				"label": {"type": "string", "enum": ["safe", "unsafe"]},
				"score": {"type": "number"}
			},
			"required": ["label"]
		}`),
	})
	require.NoError(t, err)
	require.NotNil(t, result.Object)

	assert.Equal(t, "safe", result.Object.StringField("label"))
	assert.NotEmpty(t, result.Text, "structured results carry the text form too")
}

func TestGenerateSchemaError(t *testing.T) {
	d := NewDispatcher(runtime.NewSim(runtime.SimConfig{}))

	_, err := d.Generate(context.Background(), &Request{
		Messages:   chat("user", "Classify this."),
		SchemaJSON: []byte(`{"type": "object", "properties": {`),
	})
	require.Error(t, err)
	assert.True(t, IsSchemaError(err))
	assert.True(t, IsBadRequest(err))
}

// =============================================================================
// TOOLS MODE
// =============================================================================

func TestGenerateToolsLocal(t *testing.T) {
	var calls atomic.Int64
	sim := runtime.NewSim(runtime.SimConfig{
		ToolScript: []runtime.ScriptedCall{{Tool: "echo", ArgumentsJSON: `{"text":"ping"}`}},
	})
	d := NewDispatcher(sim)

	result, err := d.Generate(context.Background(), &Request{
		Messages: chat("system", "Use tools when helpful.", "user", "Echo ping."),
		Tools:    []tools.Definition{echoTool(&calls)},
		ToolMode: toolbridge.ModeLocal,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls.Load(), "handler should have run")
	assert.NotEmpty(t, result.Text)
	assert.Empty(t, result.ToolCalls, "local mode resolves calls in process")
	assert.Equal(t, 0, d.Bridges().Count(), "bridge should be unregistered")
}

func TestGenerateToolsCollect(t *testing.T) {
	sim := runtime.NewSim(runtime.SimConfig{
		ToolScript: []runtime.ScriptedCall{{Tool: "echo", ArgumentsJSON: `{"text":"ping"}`}},
	})
	d := NewDispatcher(sim)

	result, err := d.Generate(context.Background(), &Request{
		Messages: chat("user", "Echo ping."),
		Tools:    []tools.Definition{echoTool(nil)},
		ToolMode: toolbridge.ModeCollect,
	})
	require.NoError(t, err)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "echo", result.ToolCalls[0].ToolName)
	assert.Equal(t, 1, result.ToolCalls[0].ToolID)
	assert.Equal(t, "ping", result.ToolCalls[0].Arguments.StringField("text"))
	assert.Empty(t, result.Text, "collected calls supersede the text")
}

func TestGenerateDuplicateToolName(t *testing.T) {
	d := NewDispatcher(runtime.NewSim(runtime.SimConfig{}))

	_, err := d.Generate(context.Background(), &Request{
		Messages: chat("user", "hi"),
		Tools:    []tools.Definition{echoTool(nil), echoTool(nil)},
	})
	require.Error(t, err)
	assert.True(t, IsInvalidInput(err))
}

func TestGenerateUnnamedTool(t *testing.T) {
	d := NewDispatcher(runtime.NewSim(runtime.SimConfig{}))

	_, err := d.Generate(context.Background(), &Request{
		Messages: chat("user", "hi"),
		Tools:    []tools.Definition{{Description: "nameless"}},
	})
	require.Error(t, err)
	assert.True(t, IsInvalidInput(err))
}

// =============================================================================
// STREAMING
// =============================================================================

func TestGenerateStreamBasic(t *testing.T) {
	d := NewDispatcher(runtime.NewSim(runtime.SimConfig{}))

	ch, err := d.GenerateStream(context.Background(), &Request{
		Messages: chat("user", "Stream something please."),
	})
	require.NoError(t, err)

	text, events, terminal := collectStream(t, ch)
	assert.True(t, terminal.Done)
	assert.NoError(t, terminal.Err)
	assert.Empty(t, events)
	assert.Contains(t, text, "Stream something please.")
	assert.Equal(t, 0, d.Tracker().Count())
}

func TestGenerateStreamMatchesNonStreaming(t *testing.T) {
	d := NewDispatcher(runtime.NewSim(runtime.SimConfig{}))
	req := &Request{Messages: chat("user", "Same text both ways.")}

	whole, err := d.Generate(context.Background(), req)
	require.NoError(t, err)

	ch, err := d.GenerateStream(context.Background(), req)
	require.NoError(t, err)
	text, _, terminal := collectStream(t, ch)

	assert.True(t, terminal.Done)
	assert.Equal(t, whole.Text, text, "concatenated deltas should equal the whole response")
}

func TestGenerateStreamStructuredRefused(t *testing.T) {
	d := NewDispatcher(runtime.NewSim(runtime.SimConfig{}))

	_, err := d.GenerateStream(context.Background(), &Request{
		Messages:   chat("user", "Classify this."),
		SchemaJSON: []byte(`{"type": "string"}`),
	})
	require.Error(t, err)
	assert.Equal(t, KindStreamingUnsupported, KindOf(err))
	assert.True(t, IsBadRequest(err))
	assert.Equal(t, 0, d.Tracker().Count(), "refusal happens before any session opens")
}

func TestGenerateStreamFailure(t *testing.T) {
	boom := errors.New("inference crashed")
	d := NewDispatcher(runtime.NewSim(runtime.SimConfig{FailWith: boom}))

	ch, err := d.GenerateStream(context.Background(), &Request{Messages: chat("user", "hi")})
	require.NoError(t, err)

	_, _, terminal := collectStream(t, ch)
	require.Error(t, terminal.Err)
	assert.Equal(t, KindGenerationFailed, KindOf(terminal.Err))
	assert.Equal(t, 0, d.Tracker().Count())
}

func TestGenerateStreamToolStopsAfterFirstCall(t *testing.T) {
	var calls atomic.Int64
	sim := runtime.NewSim(runtime.SimConfig{
		ToolScript: []runtime.ScriptedCall{{Tool: "echo", ArgumentsJSON: `{"text":"ping"}`}},
	})
	d := NewDispatcher(sim)

	ch, err := d.GenerateStream(context.Background(), &Request{
		Messages: chat("user", "Echo ping."),
		Tools:    []tools.Definition{echoTool(&calls)},
		ToolMode: toolbridge.ModeLocal,
	})
	require.NoError(t, err)

	text, _, terminal := collectStream(t, ch)
	assert.True(t, terminal.Done)
	assert.Equal(t, int64(1), calls.Load())
	// The tool completes before the first snapshot, so the stream is cut
	// before any prose is delivered.
	assert.Empty(t, text)
	assert.Equal(t, 0, d.Bridges().Count())
}

func TestGenerateStreamToolNoEarlyStop(t *testing.T) {
	var calls atomic.Int64
	sim := runtime.NewSim(runtime.SimConfig{
		ToolScript: []runtime.ScriptedCall{{Tool: "echo", ArgumentsJSON: `{"text":"ping"}`}},
	})
	d := NewDispatcher(sim)

	noStop := false
	ch, err := d.GenerateStream(context.Background(), &Request{
		Messages:           chat("user", "Echo ping and keep talking."),
		Tools:              []tools.Definition{echoTool(&calls)},
		ToolMode:           toolbridge.ModeLocal,
		StopAfterToolCalls: &noStop,
	})
	require.NoError(t, err)

	text, _, terminal := collectStream(t, ch)
	assert.True(t, terminal.Done)
	assert.Equal(t, int64(1), calls.Load())
	assert.NotEmpty(t, text, "with early stop disabled the prose streams through")
}

func TestGenerateStreamExternalToolEvent(t *testing.T) {
	sim := runtime.NewSim(runtime.SimConfig{
		ToolScript: []runtime.ScriptedCall{{Tool: "echo", ArgumentsJSON: `{"text":"ping"}`}},
	})
	d := NewDispatcher(sim).WithToolResultWait(100 * time.Millisecond)

	noStop := false
	ch, err := d.GenerateStream(context.Background(), &Request{
		Messages:           chat("user", "Echo ping."),
		Tools:              []tools.Definition{echoTool(nil)},
		ToolMode:           toolbridge.ModeExternal,
		StopAfterToolCalls: &noStop,
	})
	require.NoError(t, err)

	_, events, terminal := collectStream(t, ch)
	assert.True(t, terminal.Done)
	require.Len(t, events, 1)
	assert.Equal(t, "echo", events[0].ToolName)
	assert.NotEmpty(t, events[0].CorrelationID)
	assert.JSONEq(t, `{"text":"ping"}`, events[0].ArgumentsJSON)
}

func TestGenerateStreamCancellation(t *testing.T) {
	d := NewDispatcher(runtime.NewSim(runtime.SimConfig{
		ChunkDelay: 20 * time.Millisecond,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := d.GenerateStream(ctx, &Request{
		Messages: chat("user", "A long and slowly streamed answer."),
	})
	require.NoError(t, err)

	cancel()
	_, _, terminal := collectStream(t, ch)
	require.Error(t, terminal.Err)
	assert.Equal(t, 0, d.Tracker().Count())
}

// =============================================================================
// DELTA COMPUTATION
// =============================================================================

func TestSuffixGrowth(t *testing.T) {
	tests := []struct {
		previous, next string
		delta          string
		ok             bool
	}{
		{"", "Hello", "Hello", true},
		{"Hello", "Hello there", " there", true},
		{"Hello", "Hello", "", true},
		{"Hello there", "Hello", "", false},
		{"Hello", "Goodbye", "", false},
	}
	for _, tt := range tests {
		delta, ok := suffixGrowth(tt.previous, tt.next)
		if delta != tt.delta || ok != tt.ok {
			t.Errorf("suffixGrowth(%q, %q) = (%q, %v), want (%q, %v)",
				tt.previous, tt.next, delta, ok, tt.delta, tt.ok)
		}
	}
}
