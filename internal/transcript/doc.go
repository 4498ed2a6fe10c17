// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transcript converts an ordered chat conversation into the typed
// transcript consumed by the model runtime.
//
// The runtime takes prior context and the live prompt as two separate
// inputs, so the builder special-cases the trailing message: a final user
// message is extracted as the current prompt and omitted from the entries;
// any other trailing role leaves the prompt empty and keeps every message
// in the transcript.
//
// Tool messages carry an embedded JSON array of tool-output records.
// Records whose id was already seen in the same build are dropped, guarding
// against duplicate tool-result submission by callers.
package transcript
