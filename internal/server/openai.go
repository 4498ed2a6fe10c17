// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the generation dispatcher over HTTP.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/rigserve/internal/engine"
	"github.com/jeranaias/rigserve/internal/jsonval"
	"github.com/jeranaias/rigserve/internal/model"
	"github.com/jeranaias/rigserve/internal/toolbridge"
	"github.com/jeranaias/rigserve/internal/tools"
)

// ============================================================================
// OPENAI-COMPATIBLE TYPES
// ============================================================================

// ChatMessage is a message on the OpenAI wire.
type ChatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []WireToolCall `json:"tool_calls,omitempty"`
}

// WireToolCall is a tool invocation on the OpenAI wire.
type WireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the called function name and JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// WireTool declares a callable tool on the OpenAI wire.
type WireTool struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef is the function declaration inside a WireTool.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ResponseFormat selects structured output on the OpenAI wire.
type ResponseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *JSONSchemaFormat `json:"json_schema,omitempty"`
}

// JSONSchemaFormat carries the schema for response_format json_schema.
type JSONSchemaFormat struct {
	Name   string          `json:"name,omitempty"`
	Schema json.RawMessage `json:"schema"`
}

// ChatCompletionRequest is the OpenAI-compatible chat completion request.
type ChatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []ChatMessage   `json:"messages"`
	Stream         bool            `json:"stream"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Tools          []WireTool      `json:"tools,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// ChatChoice is a single choice in the completion response.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// Usage contains token usage information. The on-device runtime does not
// report token counts, so all fields are zero.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionResponse is the OpenAI-compatible completion response.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   Usage        `json:"usage"`
}

// StreamDelta is the incremental payload of a streaming choice.
type StreamDelta struct {
	Role      string         `json:"role,omitempty"`
	Content   string         `json:"content,omitempty"`
	ToolCalls []WireToolCall `json:"tool_calls,omitempty"`
}

// StreamChoice is a single choice in a streaming chunk.
type StreamChoice struct {
	Index        int         `json:"index"`
	Delta        StreamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

// StreamChunk is one chunk of an OpenAI-compatible streaming response.
type StreamChunk struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []StreamChoice `json:"choices"`
}

// validRoles is the set of acceptable message roles on the OpenAI wire.
var validRoles = map[string]bool{
	"user":      true,
	"assistant": true,
	"system":    true,
	"tool":      true,
}

// ============================================================================
// CHAT COMPLETIONS HANDLER
// ============================================================================

// handleChatCompletions handles POST /v1/chat/completions.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeDecodeError(w, err)
		return
	}

	for i, msg := range req.Messages {
		if !validRoles[msg.Role] {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid role %q at message %d", msg.Role, i))
			return
		}
	}

	engReq, errMsg := s.buildCompletionRequest(&req)
	if errMsg != "" {
		s.writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if msg := validateMessages(engReq.Messages); msg != "" {
		s.writeError(w, http.StatusBadRequest, msg)
		return
	}
	if req.MaxTokens < 0 || req.MaxTokens > MaxTokensLimit {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("max_tokens must be between 0 and %d", MaxTokensLimit))
		return
	}
	if req.Temperature < 0 || req.Temperature > 2 {
		s.writeError(w, http.StatusBadRequest, "temperature must be between 0 and 2")
		return
	}

	// Tool calls stay inside the engine on the streaming path, so tool
	// requests are generated whole and replayed as a short chunk sequence.
	if req.Stream && len(engReq.Tools) == 0 {
		s.streamCompletion(w, r, &req, engReq)
		return
	}

	res, err := s.engine.Generate(r.Context(), engReq)
	s.stats.Record(engReq.Mode(), req.Stream, err != nil)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	if req.Stream {
		s.replayCompletion(w, req.Model, res)
		return
	}

	s.writeJSON(w, http.StatusOK, ChatCompletionResponse{
		ID:      completionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []ChatChoice{completionChoice(res)},
	})
}

// buildCompletionRequest maps an OpenAI-wire request onto an engine
// request. Declared tools run in collect mode: the caller executes them and
// replies with tool-role messages, per the OpenAI protocol.
func (s *Server) buildCompletionRequest(req *ChatCompletionRequest) (*engine.Request, string) {
	msgs := make([]model.Message, len(req.Messages))
	for i, wm := range req.Messages {
		msg := model.Message{
			Role:       model.Role(wm.Role),
			Content:    wm.Content,
			Name:       wm.Name,
			ToolCallID: wm.ToolCallID,
		}
		for _, tc := range wm.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, model.ToolCallRef{
				ID:            tc.ID,
				ToolName:      tc.Function.Name,
				ArgumentsJSON: tc.Function.Arguments,
			})
		}
		msgs[i] = msg
	}

	var defs []tools.Definition
	for _, wt := range req.Tools {
		if wt.Type != "" && wt.Type != "function" {
			return nil, fmt.Sprintf("unsupported tool type %q", wt.Type)
		}
		params := jsonval.Null()
		if len(wt.Function.Parameters) > 0 {
			v, err := jsonval.Decode(wt.Function.Parameters)
			if err != nil {
				return nil, fmt.Sprintf("tool %q: invalid parameters: %v", wt.Function.Name, err)
			}
			params = v
		}
		defs = append(defs, tools.Definition{
			Name:        wt.Function.Name,
			Description: wt.Function.Description,
			Parameters:  params,
		})
	}

	var schemaJSON []byte
	if rf := req.ResponseFormat; rf != nil {
		switch rf.Type {
		case "json_schema":
			if rf.JSONSchema == nil || len(rf.JSONSchema.Schema) == 0 {
				return nil, "response_format json_schema requires a schema"
			}
			schemaJSON = []byte(rf.JSONSchema.Schema)
		case "json_object":
			schemaJSON = []byte(`{"type":"object"}`)
		case "", "text":
		default:
			return nil, fmt.Sprintf("unsupported response_format type %q", rf.Type)
		}
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = s.cfg.Model.DefaultTemperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = s.cfg.Model.DefaultMaxTokens
	}

	return &engine.Request{
		Messages:        msgs,
		Tools:           defs,
		SchemaJSON:      schemaJSON,
		Temperature:     temperature,
		MaxOutputTokens: maxTokens,
		ToolMode:        toolbridge.ModeCollect,
	}, ""
}

// streamCompletion streams a completion as OpenAI-style SSE chunks.
func (s *Server) streamCompletion(w http.ResponseWriter, r *http.Request, req *ChatCompletionRequest, engReq *engine.Request) {
	// Flusher check comes first: once a stream is open its channel must be
	// consumed, and a non-flushable writer has no way to deliver it.
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch, err := s.engine.GenerateStream(r.Context(), engReq)
	if err != nil {
		s.stats.Record(engReq.Mode(), true, true)
		s.writeEngineError(w, err)
		return
	}
	s.setSSEHeaders(w)

	id := completionID()
	created := time.Now().Unix()

	s.sendEvent(w, flusher, StreamChunk{
		ID: id, Object: "chat.completion.chunk", Created: created, Model: req.Model,
		Choices: []StreamChoice{{Delta: StreamDelta{Role: "assistant"}}},
	})

	failed := false
	for chunk := range ch {
		switch {
		case chunk.Err != nil:
			failed = true
			s.sendEvent(w, flusher, map[string]any{
				"error": map[string]any{"message": chunk.Err.Error()},
			})
		case chunk.Done:
		default:
			if chunk.Text != "" {
				s.sendEvent(w, flusher, StreamChunk{
					ID: id, Object: "chat.completion.chunk", Created: created, Model: req.Model,
					Choices: []StreamChoice{{Delta: StreamDelta{Content: chunk.Text}}},
				})
			}
		}
	}

	finish := "stop"
	s.sendEvent(w, flusher, StreamChunk{
		ID: id, Object: "chat.completion.chunk", Created: created, Model: req.Model,
		Choices: []StreamChoice{{FinishReason: &finish}},
	})
	fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()

	s.stats.Record(engReq.Mode(), true, failed)
}

// replayCompletion emits a completed result as a short chunk sequence.
func (s *Server) replayCompletion(w http.ResponseWriter, modelName string, res *engine.Result) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	s.setSSEHeaders(w)

	id := completionID()
	created := time.Now().Unix()
	choice := completionChoice(res)

	s.sendEvent(w, flusher, StreamChunk{
		ID: id, Object: "chat.completion.chunk", Created: created, Model: modelName,
		Choices: []StreamChoice{{Delta: StreamDelta{
			Role:      "assistant",
			Content:   choice.Message.Content,
			ToolCalls: choice.Message.ToolCalls,
		}}},
	})
	s.sendEvent(w, flusher, StreamChunk{
		ID: id, Object: "chat.completion.chunk", Created: created, Model: modelName,
		Choices: []StreamChoice{{FinishReason: &choice.FinishReason}},
	})
	fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// completionChoice converts a generation result into the wire choice.
func completionChoice(res *engine.Result) ChatChoice {
	msg := ChatMessage{Role: "assistant", Content: res.Text}
	finish := "stop"
	for _, tc := range res.ToolCalls {
		args, err := json.Marshal(tc.Arguments)
		if err != nil {
			args = []byte("{}")
		}
		msg.ToolCalls = append(msg.ToolCalls, WireToolCall{
			ID:   "call_" + uuid.NewString(),
			Type: "function",
			Function: FunctionCall{
				Name:      tc.ToolName,
				Arguments: string(args),
			},
		})
	}
	if len(msg.ToolCalls) > 0 {
		finish = "tool_calls"
	}
	return ChatChoice{Message: msg, FinishReason: finish}
}

// setSSEHeaders prepares the response for server-sent events.
func (s *Server) setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// completionID generates a unique response id.
func completionID() string {
	return "chatcmpl-" + uuid.NewString()
}

// ============================================================================
// MODELS HANDLER
// ============================================================================

// ModelInfo describes one available model.
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelsResponse is the OpenAI-compatible models list response.
type ModelsResponse struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

// handleModels handles GET /v1/models.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, ModelsResponse{
		Object: "list",
		Data: []ModelInfo{
			{ID: s.cfg.Model.Name, Object: "model", OwnedBy: "rigserve"},
		},
	})
}
