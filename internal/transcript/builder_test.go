// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transcript converts an ordered chat conversation into the typed
// transcript consumed by the model runtime.
package transcript

import (
	"errors"
	"testing"

	"github.com/jeranaias/rigserve/internal/model"
)

// =============================================================================
// TRAILING PROMPT TESTS
// =============================================================================

func TestBuild_TrailingUserBecomesPrompt(t *testing.T) {
	ctx, err := Build([]model.Message{
		{Role: model.RoleSystem, Content: "be brief"},
		{Role: model.RoleUser, Content: "first question"},
		{Role: model.RoleAssistant, Content: "first answer"},
		{Role: model.RoleUser, Content: "2+2?"},
	})
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}

	if ctx.CurrentPrompt != "2+2?" {
		t.Errorf("CurrentPrompt = %q, want 2+2?", ctx.CurrentPrompt)
	}
	if len(ctx.Entries) != 3 {
		t.Fatalf("entries = %d, want 3 (trailing user excluded)", len(ctx.Entries))
	}
	for _, e := range ctx.Entries {
		if e.Kind == KindPrompt && e.Text() == "2+2?" {
			t.Error("trailing user message must not appear in entries")
		}
	}
	wantKinds := []Kind{KindInstructions, KindPrompt, KindResponse}
	for i, k := range wantKinds {
		if ctx.Entries[i].Kind != k {
			t.Errorf("entry %d kind = %v, want %v", i, ctx.Entries[i].Kind, k)
		}
	}
}

func TestBuild_TrailingNonUserKeepsAll(t *testing.T) {
	tests := []struct {
		name string
		last model.Message
	}{
		{"assistant", model.Message{Role: model.RoleAssistant, Content: "done"}},
		{"tool", model.Message{Role: model.RoleTool, Content: `[{"id":"t1","toolName":"add","segments":["4"]}]`}},
		{"unknown", model.Message{Role: "critic", Content: "hm"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, err := Build([]model.Message{
				{Role: model.RoleUser, Content: "question"},
				tt.last,
			})
			if err != nil {
				t.Fatalf("Build error: %v", err)
			}
			if ctx.CurrentPrompt != "" {
				t.Errorf("CurrentPrompt = %q, want empty", ctx.CurrentPrompt)
			}
			if len(ctx.Entries) != 2 {
				t.Errorf("entries = %d, want 2 (all messages kept)", len(ctx.Entries))
			}
		})
	}
}

func TestBuild_SingleUserMessage(t *testing.T) {
	ctx, err := Build([]model.Message{{Role: model.RoleUser, Content: "hello"}})
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if ctx.CurrentPrompt != "hello" || len(ctx.Entries) != 0 {
		t.Errorf("single user message should become the prompt with no entries, got %q / %d", ctx.CurrentPrompt, len(ctx.Entries))
	}
}

func TestBuild_Empty(t *testing.T) {
	_, err := Build(nil)
	if !errors.Is(err, ErrEmptyConversation) {
		t.Errorf("Build(nil) error = %v, want ErrEmptyConversation", err)
	}
}

// =============================================================================
// ROLE SEGMENTATION TESTS
// =============================================================================

func TestBuild_AssistantToolCalls(t *testing.T) {
	calls := []model.ToolCallRef{{ID: "c1", ToolName: "add", ArgumentsJSON: `{"a":2,"b":3}`}}
	ctx, err := Build([]model.Message{
		{Role: model.RoleAssistant, ToolCalls: calls},
		{Role: model.RoleUser, Content: "go on"},
	})
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if len(ctx.Entries) != 1 || ctx.Entries[0].Kind != KindToolCalls {
		t.Fatalf("assistant with tool calls should emit one tool-calls entry")
	}
	if got := ctx.Entries[0].Calls[0].ToolName; got != "add" {
		t.Errorf("call name = %q, want add", got)
	}
}

func TestBuild_AssistantMalformedToolCallsFallsBack(t *testing.T) {
	// A tool call without a name is not well-formed; the message falls back
	// to a plain response entry.
	ctx, err := Build([]model.Message{
		{Role: model.RoleAssistant, Content: "text", ToolCalls: []model.ToolCallRef{{ID: "c1"}}},
		{Role: model.RoleUser, Content: "next"},
	})
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if ctx.Entries[0].Kind != KindResponse || ctx.Entries[0].Text() != "text" {
		t.Errorf("malformed tool calls should fall back to response, got %v", ctx.Entries[0].Kind)
	}
}

func TestBuild_UnknownRoleIsPrompt(t *testing.T) {
	ctx, err := Build([]model.Message{
		{Role: "narrator", Content: "scene opens"},
		{Role: model.RoleUser, Content: "q"},
	})
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if ctx.Entries[0].Kind != KindPrompt {
		t.Errorf("unknown role kind = %v, want prompt", ctx.Entries[0].Kind)
	}
}

// =============================================================================
// TOOL OUTPUT TESTS
// =============================================================================

func TestBuild_ToolOutputs(t *testing.T) {
	ctx, err := Build([]model.Message{
		{Role: model.RoleTool, Content: `[
			{"id":"t1","toolName":"add","segments":["5"]},
			{"id":"t2","toolName":"clock","segments":["noon","utc"]}
		]`},
		{Role: model.RoleUser, Content: "and?"},
	})
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if len(ctx.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(ctx.Entries))
	}
	e := ctx.Entries[1]
	if e.Kind != KindToolOutput || e.ToolID != "t2" || e.ToolName != "clock" {
		t.Errorf("entry = %+v", e)
	}
	if len(e.Segments) != 2 || e.Segments[1] != "utc" {
		t.Errorf("segments = %v", e.Segments)
	}
}

func TestBuild_ToolOutputDedup(t *testing.T) {
	// The same id submitted twice (across messages) must emit exactly one
	// tool-output entry.
	ctx, err := Build([]model.Message{
		{Role: model.RoleTool, Content: `[{"id":"t1","toolName":"add","segments":["5"]}]`},
		{Role: model.RoleTool, Content: `[{"id":"t1","toolName":"add","segments":["5"]},{"id":"t3","toolName":"add","segments":["6"]}]`},
		{Role: model.RoleUser, Content: "ok"},
	})
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}

	count := 0
	for _, e := range ctx.Entries {
		if e.Kind == KindToolOutput && e.ToolID == "t1" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("tool output t1 emitted %d times, want 1", count)
	}
	if len(ctx.Entries) != 2 {
		t.Errorf("entries = %d, want 2 (t1 once + t3)", len(ctx.Entries))
	}
}

func TestBuild_BadToolPayload(t *testing.T) {
	tests := []string{
		`not json`,
		`{"id":"t1"}`,
		`[{"toolName":"add"}]`,
		`[{"id":"t1","segments":"oops"}]`,
	}
	for _, content := range tests {
		_, err := Build([]model.Message{
			{Role: model.RoleTool, Content: content},
			{Role: model.RoleUser, Content: "q"},
		})
		if !errors.Is(err, ErrBadToolPayload) {
			t.Errorf("Build with payload %q error = %v, want ErrBadToolPayload", content, err)
		}
	}
}
