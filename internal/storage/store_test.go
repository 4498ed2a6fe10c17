// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides SQLite-backed conversation persistence for
// rigserve.
package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigserve/internal/model"
)

func openTestStore(t *testing.T, limit int) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "conversations.db"), limit)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAppendAndGet(t *testing.T) {
	store := openTestStore(t, 0)
	ctx := context.Background()

	id, err := store.Append(ctx, "",
		model.Message{Role: model.RoleSystem, Content: "Be terse."},
		model.Message{Role: model.RoleUser, Content: "What is the heading?"},
		model.Message{Role: model.RoleAssistant, Content: "042 degrees."},
	)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	conv, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "What is the heading?", conv.Title)
	require.Len(t, conv.Messages, 3)
	assert.Equal(t, model.RoleSystem, conv.Messages[0].Role)
	assert.Equal(t, "042 degrees.", conv.Messages[2].Content)
}

func TestAppendPreservesOrderAcrossCalls(t *testing.T) {
	store := openTestStore(t, 0)
	ctx := context.Background()

	id, err := store.Append(ctx, "", model.Message{Role: model.RoleUser, Content: "first"})
	require.NoError(t, err)
	_, err = store.Append(ctx, id, model.Message{Role: model.RoleAssistant, Content: "second"})
	require.NoError(t, err)
	_, err = store.Append(ctx, id, model.Message{Role: model.RoleUser, Content: "third"})
	require.NoError(t, err)

	conv, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 3)
	assert.Equal(t, "first", conv.Messages[0].Content)
	assert.Equal(t, "second", conv.Messages[1].Content)
	assert.Equal(t, "third", conv.Messages[2].Content)
}

func TestToolCallsRoundTrip(t *testing.T) {
	store := openTestStore(t, 0)
	ctx := context.Background()

	id, err := store.Append(ctx, "",
		model.Message{Role: model.RoleUser, Content: "What time is it?"},
		model.Message{Role: model.RoleAssistant, ToolCalls: []model.ToolCallRef{
			{ID: "call-1", ToolName: "clock", ArgumentsJSON: `{}`},
		}},
		model.Message{Role: model.RoleTool, ToolCallID: "call-1", Name: "clock", Content: `{"time":"12:00"}`},
	)
	require.NoError(t, err)

	conv, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 3)
	require.Len(t, conv.Messages[1].ToolCalls, 1)
	assert.Equal(t, "clock", conv.Messages[1].ToolCalls[0].ToolName)
	assert.Equal(t, "call-1", conv.Messages[2].ToolCallID)
}

func TestGetUnknownConversation(t *testing.T) {
	store := openTestStore(t, 0)

	_, err := store.Get(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAndCount(t *testing.T) {
	store := openTestStore(t, 0)
	ctx := context.Background()

	for _, text := range []string{"alpha", "bravo", "charlie"} {
		_, err := store.Append(ctx, "", model.Message{Role: model.RoleUser, Content: text})
		require.NoError(t, err)
	}

	metas, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 3)
	assert.Equal(t, 1, metas[0].MessageCount)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestDelete(t *testing.T) {
	store := openTestStore(t, 0)
	ctx := context.Background()

	id, err := store.Append(ctx, "", model.Message{Role: model.RoleUser, Content: "ephemeral"})
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, id))
	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.Delete(ctx, id), ErrNotFound)
}

func TestSearch(t *testing.T) {
	store := openTestStore(t, 0)
	ctx := context.Background()

	_, err := store.Append(ctx, "", model.Message{Role: model.RoleUser, Content: "tell me about compasses"})
	require.NoError(t, err)
	_, err = store.Append(ctx, "", model.Message{Role: model.RoleUser, Content: "weather report"})
	require.NoError(t, err)

	metas, err := store.Search(ctx, "compass")
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Contains(t, metas[0].Title, "compasses")

	metas, err = store.Search(ctx, "no-match-at-all")
	require.NoError(t, err)
	assert.Empty(t, metas)
}

func TestHistoryLimitPrunesOldest(t *testing.T) {
	store := openTestStore(t, 2)
	ctx := context.Background()

	var ids []string
	for _, text := range []string{"one", "two", "three"} {
		id, err := store.Append(ctx, "", model.Message{Role: model.RoleUser, Content: text})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// The most recent two survive.
	_, err = store.Get(ctx, ids[2])
	assert.NoError(t, err)
}

func TestSetTitle(t *testing.T) {
	store := openTestStore(t, 0)
	ctx := context.Background()

	id, err := store.Append(ctx, "", model.Message{Role: model.RoleUser, Content: "original"})
	require.NoError(t, err)

	require.NoError(t, store.SetTitle(ctx, id, "renamed"))
	conv, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "renamed", conv.Title)

	assert.ErrorIs(t, store.SetTitle(ctx, "missing", "x"), ErrNotFound)
}
