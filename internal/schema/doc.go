// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package schema compiles a JSON-Schema subset into the dynamic schema
// representation consumed by the model runtime.
//
// Supported constructs: string, number, integer, boolean, array (with
// minItems/maxItems), object (properties + required), string enums, anyOf
// unions, and "#/definitions/<Name>" references with a sibling definitions
// map. A missing or unrecognized "type" falls back to string rather than
// failing.
//
// Compilation resolves an optional root $ref against the definitions map;
// the remaining definitions become named dependency schemas so mutually
// referential definitions compile cleanly.
package schema
