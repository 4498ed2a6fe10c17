// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// This package defines the core domain types shared by the generation engine
// and the HTTP surface for representing chat messages and tool calls.
//
// # Key Types
//
//   - Message: Single message with role, content, and optional tool calls
//   - Role: Message role enumeration (user, assistant, system, tool)
//   - ToolCallRef: Tool invocation reference produced by the model runtime
//
// Messages are immutable once constructed. A conversation is an ordered
// caller-owned slice of messages; the trailing message has special meaning
// to the transcript builder (see internal/transcript).
package model
