// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the generation dispatcher over HTTP.
//
// Endpoints:
//   - POST /chat                 - native chat API (SSE when stream:true)
//   - POST /v1/chat/completions  - OpenAI-compatible chat completions
//   - GET  /v1/models            - list available models
//   - GET  /health               - health and model availability
//   - GET  /stats                - usage statistics and live sessions
//   - GET  /tools                - registered tool definitions
//   - POST /tools/result         - inject an external tool result
//   - GET  /conversations        - list stored conversations
//   - GET  /conversations/{id}   - fetch one conversation
//   - DELETE /conversations/{id} - delete a conversation
//
// The middleware chain applies panic recovery, request logging, security
// headers, optional CORS, bearer-token auth with an IP allowlist, and
// per-client rate limiting.
package server
