// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Known reports whether the role is one of the four recognized roles.
// Unknown roles are accepted by the transcript builder and treated as
// user-equivalent.
func (r Role) Known() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	default:
		return false
	}
}

// =============================================================================
// TOOL CALL REFERENCE
// =============================================================================

// ToolCallRef references a tool invocation encoded in an assistant message,
// in the OpenAI wire shape.
type ToolCallRef struct {
	// ID is the caller-visible call identifier.
	ID string `json:"id"`

	// ToolName is the name of the invoked tool.
	ToolName string `json:"tool_name"`

	// ArgumentsJSON is the raw JSON-encoded argument object.
	ArgumentsJSON string `json:"arguments_json"`
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
// Messages are immutable once constructed.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`

	// Name optionally identifies the sender (tool name for tool messages).
	Name string `json:"name,omitempty"`

	// ToolCallID links a tool message to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolCalls lists tool invocations requested by an assistant message.
	ToolCalls []ToolCallRef `json:"tool_calls,omitempty"`
}

// HasToolCalls reports whether the message carries well-formed tool calls:
// a non-empty list where every entry names a tool.
func (m Message) HasToolCalls() bool {
	if len(m.ToolCalls) == 0 {
		return false
	}
	for _, tc := range m.ToolCalls {
		if tc.ToolName == "" {
			return false
		}
	}
	return true
}
