// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tools provides the host-side tool system for rigserve.
//
// A tool is a named capability with a JSON-Schema parameter description and
// an optional local handler. Definitions are registered once on the host
// registry; the generation engine binds them per request and routes model
// tool invocations through the tool call bridge.
//
// The executor wraps handler calls with a timeout and panic recovery so a
// misbehaving tool can never crash or stall a generation.
package tools
