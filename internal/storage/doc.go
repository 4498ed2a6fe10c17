// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides SQLite-backed conversation persistence for
// rigserve.
//
// # Key Types
//
//   - Store: the database handle with all conversation operations
//   - Conversation: a persisted conversation with its messages
//   - Meta: lightweight metadata for listing
//
// # Usage
//
// Open a store and append an exchange:
//
//	store, err := storage.Open(path, 1000)
//	err = store.Append(ctx, convID, messages...)
//
// List and load conversations:
//
//	metas, err := store.List(ctx)
//	conv, err := store.Get(ctx, metas[0].ID)
//
// The history limit passed to Open caps the number of stored
// conversations; the oldest are pruned as new ones arrive.
package storage
