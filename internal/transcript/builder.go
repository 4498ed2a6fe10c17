// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transcript converts an ordered chat conversation into the typed
// transcript consumed by the model runtime.
package transcript

import (
	"errors"
	"fmt"

	"github.com/jeranaias/rigserve/internal/jsonval"
	"github.com/jeranaias/rigserve/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrEmptyConversation is returned when Build receives no messages.
var ErrEmptyConversation = errors.New("transcript: conversation has no messages")

// ErrBadToolPayload wraps a tool message whose content is not a valid
// tool-output record array.
var ErrBadToolPayload = errors.New("transcript: malformed tool message payload")

// =============================================================================
// BUILDER
// =============================================================================

// Build compiles an ordered message list into a Context.
//
// Ordering is preserved. The only transformations applied are the
// trailing-prompt extraction and the tool-output id de-duplication
// documented on the package.
func Build(messages []model.Message) (*Context, error) {
	if len(messages) == 0 {
		return nil, ErrEmptyConversation
	}

	ctx := &Context{}
	seenToolOutputs := map[string]bool{}

	last := len(messages) - 1
	for i, msg := range messages {
		// Trailing user message becomes the live prompt, not an entry.
		if i == last && msg.Role == model.RoleUser {
			ctx.CurrentPrompt = msg.Content
			break
		}

		switch msg.Role {
		case model.RoleSystem:
			ctx.Entries = append(ctx.Entries, Entry{
				Kind:     KindInstructions,
				Segments: []string{msg.Content},
			})

		case model.RoleAssistant:
			if msg.HasToolCalls() {
				ctx.Entries = append(ctx.Entries, Entry{
					Kind:  KindToolCalls,
					Calls: msg.ToolCalls,
				})
			} else {
				ctx.Entries = append(ctx.Entries, Entry{
					Kind:     KindResponse,
					Segments: []string{msg.Content},
				})
			}

		case model.RoleTool:
			outputs, err := parseToolOutputs(msg.Content)
			if err != nil {
				return nil, err
			}
			for _, out := range outputs {
				if seenToolOutputs[out.ToolID] {
					continue
				}
				seenToolOutputs[out.ToolID] = true
				ctx.Entries = append(ctx.Entries, out)
			}

		default:
			// Unknown roles are user-equivalent.
			ctx.Entries = append(ctx.Entries, Entry{
				Kind:     KindPrompt,
				Segments: []string{msg.Content},
			})
		}
	}

	return ctx, nil
}

// parseToolOutputs decodes the embedded record array of a tool message:
// [{"id": "...", "toolName": "...", "segments": ["..."]}, ...].
func parseToolOutputs(content string) ([]Entry, error) {
	doc, err := jsonval.DecodeString(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadToolPayload, err)
	}
	records, ok := doc.AsArray()
	if !ok {
		return nil, fmt.Errorf("%w: expected a record array, got %s", ErrBadToolPayload, doc.Kind())
	}

	entries := make([]Entry, 0, len(records))
	for i, rec := range records {
		if rec.Kind() != jsonval.KindObject {
			return nil, fmt.Errorf("%w: record %d is %s", ErrBadToolPayload, i, rec.Kind())
		}
		id := rec.StringField("id")
		if id == "" {
			return nil, fmt.Errorf("%w: record %d has no id", ErrBadToolPayload, i)
		}

		entry := Entry{
			Kind:     KindToolOutput,
			ToolID:   id,
			ToolName: rec.StringField("toolName"),
		}
		if segs, ok := rec.Field("segments"); ok {
			elems, isArr := segs.AsArray()
			if !isArr {
				return nil, fmt.Errorf("%w: record %d segments is %s", ErrBadToolPayload, i, segs.Kind())
			}
			for _, e := range elems {
				if s, isStr := e.AsString(); isStr {
					entry.Segments = append(entry.Segments, s)
				} else {
					// Non-string segments keep their JSON form.
					entry.Segments = append(entry.Segments, e.String())
				}
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
