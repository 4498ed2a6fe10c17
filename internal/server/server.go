// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the generation dispatcher over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/rigserve/internal/config"
	"github.com/jeranaias/rigserve/internal/engine"
	"github.com/jeranaias/rigserve/internal/jsonval"
	"github.com/jeranaias/rigserve/internal/model"
	"github.com/jeranaias/rigserve/internal/runtime"
	"github.com/jeranaias/rigserve/internal/storage"
	"github.com/jeranaias/rigserve/internal/toolbridge"
	"github.com/jeranaias/rigserve/internal/tools"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// Version is the server version reported by /health.
	Version = "0.1.0"

	// MaxRequestBodySize caps request bodies at 1MB.
	MaxRequestBodySize = 1 * 1024 * 1024

	// MaxMessageCount is the maximum number of messages in a request.
	MaxMessageCount = 100

	// MaxMessageLength is the maximum content length of a single message.
	MaxMessageLength = 100000

	// MaxTokensLimit bounds the max_tokens parameter.
	MaxTokensLimit = 128000
)

// ============================================================================
// SERVER STATS
// ============================================================================

// Stats tracks request counts by generation mode.
type Stats struct {
	mu sync.Mutex

	total      int64
	byMode     map[string]int64
	streamed   int64
	failed     int64
	injections int64
	startTime  time.Time
}

// NewStats creates an empty Stats with the start time set to now.
func NewStats() *Stats {
	return &Stats{
		byMode:    make(map[string]int64),
		startTime: time.Now(),
	}
}

// Record counts one finished request.
func (s *Stats) Record(mode engine.Mode, streamed, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	s.byMode[mode.String()]++
	if streamed {
		s.streamed++
	}
	if failed {
		s.failed++
	}
}

// RecordInjection counts one accepted tool-result injection.
func (s *Stats) RecordInjection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.injections++
}

// Uptime returns the time elapsed since the stats started.
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.startTime)
}

func (s *Stats) snapshot() StatsResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	byMode := make(map[string]int64, len(s.byMode))
	for k, v := range s.byMode {
		byMode[k] = v
	}
	return StatsResponse{
		TotalRequests:    s.total,
		RequestsByMode:   byMode,
		StreamedRequests: s.streamed,
		FailedRequests:   s.failed,
		ToolInjections:   s.injections,
		UptimeSeconds:    int64(time.Since(s.startTime).Seconds()),
	}
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the HTTP front end over the generation dispatcher.
type Server struct {
	cfg    *config.Config
	engine *engine.Dispatcher
	store  *storage.Store
	tools  *tools.Registry
	stats  *Stats

	mux *http.ServeMux
	srv *http.Server
}

// NewServer creates a Server over the given dispatcher. The tool registry
// and conversation store are optional; install them with WithToolRegistry
// and WithStore before Start.
func NewServer(cfg *config.Config, eng *engine.Dispatcher) *Server {
	s := &Server{
		cfg:    cfg,
		engine: eng,
		stats:  NewStats(),
		mux:    http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

// WithStore sets the conversation store.
func (s *Server) WithStore(store *storage.Store) *Server {
	s.store = store
	return s
}

// WithToolRegistry sets the host tool registry used to resolve tool names
// in native requests.
func (s *Server) WithToolRegistry(r *tools.Registry) *Server {
	s.tools = r
	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("POST /chat", s.handleChat)

	// OpenAI-compatible endpoints
	s.mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	s.mux.HandleFunc("GET /v1/models", s.handleModels)

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /stats", s.handleStats)

	s.mux.HandleFunc("GET /tools", s.handleToolList)
	s.mux.HandleFunc("POST /tools/result", s.handleToolResult)

	s.mux.HandleFunc("GET /conversations", s.handleConversationList)
	s.mux.HandleFunc("GET /conversations/{id}", s.handleConversationGet)
	s.mux.HandleFunc("DELETE /conversations/{id}", s.handleConversationDelete)
}

// Handler returns the full handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	handler := Chain(
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(log.Default()),
	)(s.mux)

	if s.cfg.Server.RateLimitRPS > 0 {
		limiter := NewRateLimiter(s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst)
		handler = RateLimitMiddleware(limiter)(handler)
	}
	if s.cfg.Server.AuthToken != "" || len(s.cfg.Server.AllowedIPs) > 0 {
		handler = AuthMiddleware(s.cfg.Server.AuthToken, s.cfg.Server.AllowedIPs)(handler)
	}
	if s.cfg.Server.CORSEnabled {
		handler = CORSMiddleware()(handler)
	}
	return handler
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.Handler(),
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSecs) * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	log.Printf("SERVER: listening | addr=%s version=%s", s.cfg.Addr(), Version)
	return s.srv.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	log.Printf("SERVER: shutting down")
	return s.srv.Shutdown(ctx)
}

// ============================================================================
// NATIVE CHAT API
// ============================================================================

// ToolDefinition is an inline tool definition in a native chat request.
// Inline tools carry no local handler; they suit collect and external
// orchestration modes.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ChatRequest is the native chat request body.
type ChatRequest struct {
	RequestID      string          `json:"request_id,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Messages       []model.Message `json:"messages"`

	// Tools names tools from the host registry.
	Tools []string `json:"tools,omitempty"`

	// ToolDefinitions declares request-scoped tools inline.
	ToolDefinitions []ToolDefinition `json:"tool_definitions,omitempty"`

	// Schema switches the request into structured mode.
	Schema json.RawMessage `json:"schema,omitempty"`

	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Stream      bool    `json:"stream,omitempty"`

	// ToolMode is "collect", "local", or "external". Empty selects local
	// when every tool has a handler, collect otherwise. External mode
	// requires Stream: correlation ids only travel as stream events.
	ToolMode string `json:"tool_mode,omitempty"`

	StopAfterToolCalls *bool `json:"stop_after_tool_calls,omitempty"`
}

// ChatResponse is the native non-streaming chat response body.
type ChatResponse struct {
	RequestID      string            `json:"request_id"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Text           string            `json:"text"`
	Object         *jsonval.Value    `json:"object,omitempty"`
	ToolCalls      []engine.ToolCall `json:"tool_calls,omitempty"`
}

// ChatStreamEvent is one SSE event on the native streaming surface.
type ChatStreamEvent struct {
	Text           string         `json:"text,omitempty"`
	ToolCall       *ToolCallEvent `json:"tool_call,omitempty"`
	Error          string         `json:"error,omitempty"`
	Done           bool           `json:"done,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
}

// ToolCallEvent announces an external-orchestration tool call in a stream.
type ToolCallEvent struct {
	CorrelationID string          `json:"correlation_id"`
	ToolID        int             `json:"tool_id"`
	ToolName      string          `json:"tool_name"`
	Arguments     json.RawMessage `json:"arguments"`
}

// handleChat handles POST /chat.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeDecodeError(w, err)
		return
	}
	if msg := validateMessages(req.Messages); msg != "" {
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

	engReq, errMsg := s.buildEngineRequest(&req)
	if errMsg != "" {
		s.writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	// External orchestration announces correlation ids through stream
	// events; a buffered response has nowhere to surface them, so every
	// call would stall until the result wait expires.
	if engReq.ToolMode == toolbridge.ModeExternal && !req.Stream {
		s.writeError(w, http.StatusBadRequest, "tool_mode \"external\" requires stream")
		return
	}

	if req.Stream {
		s.streamChat(w, r, &req, engReq)
		return
	}

	res, err := s.engine.Generate(r.Context(), engReq)
	s.stats.Record(engReq.Mode(), false, err != nil)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	convID := s.persistExchange(r.Context(), &req, assistantMessage(res))
	s.writeJSON(w, http.StatusOK, ChatResponse{
		RequestID:      res.RequestID,
		ConversationID: convID,
		Text:           res.Text,
		Object:         res.Object,
		ToolCalls:      res.ToolCalls,
	})
}

// streamChat streams a native chat request as SSE events.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, req *ChatRequest, engReq *engine.Request) {
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

	var text strings.Builder
	failed := false
	for chunk := range ch {
		switch {
		case chunk.Err != nil:
			failed = true
			s.sendEvent(w, flusher, ChatStreamEvent{Error: chunk.Err.Error()})
		case chunk.ToolCall != nil:
			s.sendEvent(w, flusher, ChatStreamEvent{ToolCall: &ToolCallEvent{
				CorrelationID: chunk.ToolCall.CorrelationID,
				ToolID:        chunk.ToolCall.ToolID,
				ToolName:      chunk.ToolCall.ToolName,
				Arguments:     json.RawMessage(chunk.ToolCall.ArgumentsJSON),
			}})
		case chunk.Done:
			assistant := model.Message{Role: model.RoleAssistant, Content: text.String()}
			convID := s.persistExchange(r.Context(), req, assistant)
			s.sendEvent(w, flusher, ChatStreamEvent{Done: true, ConversationID: convID})
		default:
			if chunk.Text != "" {
				text.WriteString(chunk.Text)
				s.sendEvent(w, flusher, ChatStreamEvent{Text: chunk.Text})
			}
		}
	}

	fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
	s.stats.Record(engReq.Mode(), true, failed)
}

// buildEngineRequest maps a native chat request onto an engine request.
// The second return is a client-facing error message, empty on success.
func (s *Server) buildEngineRequest(req *ChatRequest) (*engine.Request, string) {
	var defs []tools.Definition

	for _, name := range req.Tools {
		if s.tools == nil {
			return nil, "no tool registry configured"
		}
		def, err := s.tools.Get(name)
		if err != nil {
			return nil, fmt.Sprintf("unknown tool %q", name)
		}
		defs = append(defs, def)
	}
	for _, td := range req.ToolDefinitions {
		params := jsonval.Null()
		if len(td.Parameters) > 0 {
			v, err := jsonval.Decode(td.Parameters)
			if err != nil {
				return nil, fmt.Sprintf("tool %q: invalid parameters: %v", td.Name, err)
			}
			params = v
		}
		defs = append(defs, tools.Definition{
			Name:        td.Name,
			Description: td.Description,
			Parameters:  params,
		})
	}

	toolMode, msg := resolveToolMode(req.ToolMode, defs)
	if msg != "" {
		return nil, msg
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
		RequestID:          req.RequestID,
		Messages:           req.Messages,
		Tools:              defs,
		SchemaJSON:         []byte(req.Schema),
		Temperature:        temperature,
		MaxOutputTokens:    maxTokens,
		ToolMode:           toolMode,
		StopAfterToolCalls: req.StopAfterToolCalls,
	}, ""
}

// resolveToolMode parses the wire tool mode. The empty mode defaults to
// local when every tool carries a handler, collect otherwise.
func resolveToolMode(mode string, defs []tools.Definition) (toolbridge.Mode, string) {
	switch mode {
	case "collect":
		return toolbridge.ModeCollect, ""
	case "local":
		return toolbridge.ModeLocal, ""
	case "external":
		return toolbridge.ModeExternal, ""
	case "":
		for _, def := range defs {
			if def.Handler == nil {
				return toolbridge.ModeCollect, ""
			}
		}
		return toolbridge.ModeLocal, ""
	default:
		return 0, fmt.Sprintf("invalid tool_mode %q: must be collect, local, or external", mode)
	}
}

// persistExchange records the completed exchange in the conversation store.
// New conversations keep the full request transcript; follow-ups append
// only the newest turn. Returns the conversation id, or "" without a store.
func (s *Server) persistExchange(ctx context.Context, req *ChatRequest, assistant model.Message) string {
	if s.store == nil {
		return ""
	}

	var msgs []model.Message
	if req.ConversationID == "" {
		msgs = append(msgs, req.Messages...)
	} else if len(req.Messages) > 0 {
		msgs = append(msgs, req.Messages[len(req.Messages)-1])
	}
	msgs = append(msgs, assistant)

	id, err := s.store.Append(ctx, req.ConversationID, msgs...)
	if err != nil {
		log.Printf("SERVER: persist failed | conversation=%s error=%v", req.ConversationID, err)
		return ""
	}
	return id
}

// assistantMessage converts a generation result into a storable message.
func assistantMessage(res *engine.Result) model.Message {
	msg := model.Message{Role: model.RoleAssistant, Content: res.Text}
	for _, tc := range res.ToolCalls {
		args, err := json.Marshal(tc.Arguments)
		if err != nil {
			args = []byte("{}")
		}
		msg.ToolCalls = append(msg.ToolCalls, model.ToolCallRef{
			ID:            uuid.NewString(),
			ToolName:      tc.ToolName,
			ArgumentsJSON: string(args),
		})
	}
	return msg
}

// validateMessages applies the shared size limits. Returns a client-facing
// message, empty when valid.
func validateMessages(msgs []model.Message) string {
	if len(msgs) == 0 {
		return "request must contain at least one message"
	}
	if len(msgs) > MaxMessageCount {
		return fmt.Sprintf("too many messages: maximum is %d", MaxMessageCount)
	}
	for i, msg := range msgs {
		if len(msg.Content) > MaxMessageLength {
			return fmt.Sprintf("message %d exceeds maximum length of %d", i, MaxMessageLength)
		}
	}
	return ""
}

// ============================================================================
// TOOL ENDPOINTS
// ============================================================================

// ToolResultRequest injects an externally executed tool result.
type ToolResultRequest struct {
	CorrelationID string          `json:"correlation_id"`
	Result        json.RawMessage `json:"result"`
}

// handleToolList handles GET /tools.
func (s *Server) handleToolList(w http.ResponseWriter, r *http.Request) {
	var defs []tools.Definition
	if s.tools != nil {
		defs = s.tools.List()
	}
	if defs == nil {
		defs = []tools.Definition{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tools": defs})
}

// handleToolResult handles POST /tools/result.
func (s *Server) handleToolResult(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req ToolResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeDecodeError(w, err)
		return
	}
	if req.CorrelationID == "" {
		s.writeError(w, http.StatusBadRequest, "correlation_id is required")
		return
	}

	if err := s.engine.Bridges().Inject(req.CorrelationID, req.Result); err != nil {
		if errors.Is(err, toolbridge.ErrNoSuchCall) {
			s.writeError(w, http.StatusNotFound, "no pending call for correlation id")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "injection failed")
		return
	}

	s.stats.RecordInjection()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ============================================================================
// HEALTH AND STATS
// ============================================================================

// HealthResponse is the GET /health response body.
type HealthResponse struct {
	Status         string   `json:"status"`
	Version        string   `json:"version"`
	ModelName      string   `json:"model_name"`
	ModelAvailable bool     `json:"model_available"`
	ModelReason    string   `json:"model_reason,omitempty"`
	Languages      []string `json:"languages,omitempty"`
	StorageEnabled bool     `json:"storage_enabled"`
	ActiveSessions int      `json:"active_sessions"`
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	avail := s.engine.Availability(ctx)
	health := HealthResponse{
		Status:         "ok",
		Version:        Version,
		ModelName:      s.cfg.Model.Name,
		ModelAvailable: avail.Available,
		ModelReason:    avail.Reason,
		StorageEnabled: s.store != nil,
		ActiveSessions: s.engine.Tracker().Count(),
	}
	if avail.Available {
		health.Languages = s.engine.SupportedLanguages(ctx)
	} else {
		health.Status = "degraded"
	}

	s.writeJSON(w, http.StatusOK, health)
}

// StatsResponse is the GET /stats response body.
type StatsResponse struct {
	TotalRequests    int64                 `json:"total_requests"`
	RequestsByMode   map[string]int64      `json:"requests_by_mode"`
	StreamedRequests int64                 `json:"streamed_requests"`
	FailedRequests   int64                 `json:"failed_requests"`
	ToolInjections   int64                 `json:"tool_injections"`
	UptimeSeconds    int64                 `json:"uptime_seconds"`
	ActiveSessions   []runtime.SessionInfo `json:"active_sessions"`
	TotalStarted     int64                 `json:"total_sessions_started"`
	PendingBridges   int                   `json:"pending_bridges"`
}

// handleStats handles GET /stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := s.stats.snapshot()
	resp.ActiveSessions = s.engine.Tracker().Active()
	resp.TotalStarted = s.engine.Tracker().TotalStarted()
	resp.PendingBridges = s.engine.Bridges().Count()
	if resp.ActiveSessions == nil {
		resp.ActiveSessions = []runtime.SessionInfo{}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// ============================================================================
// CONVERSATION ENDPOINTS
// ============================================================================

// handleConversationList handles GET /conversations. An optional ?q= term
// searches titles and message content.
func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "conversation storage is disabled")
		return
	}

	var (
		metas []storage.Meta
		err   error
	)
	if q := r.URL.Query().Get("q"); q != "" {
		metas, err = s.store.Search(r.Context(), q)
	} else {
		metas, err = s.store.List(r.Context())
	}
	if err != nil {
		log.Printf("SERVER: conversation list failed | error=%v", err)
		s.writeError(w, http.StatusInternalServerError, "listing conversations failed")
		return
	}
	if metas == nil {
		metas = []storage.Meta{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"conversations": metas})
}

// handleConversationGet handles GET /conversations/{id}.
func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "conversation storage is disabled")
		return
	}

	conv, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		log.Printf("SERVER: conversation get failed | error=%v", err)
		s.writeError(w, http.StatusInternalServerError, "fetching conversation failed")
		return
	}
	s.writeJSON(w, http.StatusOK, conv)
}

// handleConversationDelete handles DELETE /conversations/{id}.
func (s *Server) handleConversationDelete(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "conversation storage is disabled")
		return
	}

	if err := s.store.Delete(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		log.Printf("SERVER: conversation delete failed | error=%v", err)
		s.writeError(w, http.StatusInternalServerError, "deleting conversation failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ============================================================================
// HELPERS
// ============================================================================

// sendEvent writes one SSE data event and flushes it.
func (s *Server) sendEvent(w http.ResponseWriter, flusher http.Flusher, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    status,
		},
	})
}

// writeDecodeError maps a body decode failure to a client error.
func (s *Server) writeDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", MaxRequestBodySize))
		return
	}
	log.Printf("SERVER: invalid request body | error=%v", err)
	s.writeError(w, http.StatusBadRequest, "invalid request format")
}

// writeEngineError maps a dispatcher error onto an HTTP status.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case engine.IsModelUnavailable(err):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	case engine.IsBadRequest(err):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("SERVER: generation failed | error=%v", err)
		s.writeError(w, http.StatusInternalServerError, "generation failed")
	}
}
