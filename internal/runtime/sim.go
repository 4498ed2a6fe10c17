// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package runtime defines the opaque model runtime capability the generation
// engine drives.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/rigserve/internal/jsonval"
	"github.com/jeranaias/rigserve/internal/schema"
	"github.com/jeranaias/rigserve/internal/transcript"
)

// =============================================================================
// SIMULATED RUNTIME
// =============================================================================

// ScriptedCall makes the simulated model invoke a bound tool during
// generation, matched by tool name.
type ScriptedCall struct {
	Tool          string
	ArgumentsJSON string
}

// SimConfig controls the simulated runtime's behavior.
type SimConfig struct {
	// Unavailable forces the availability check to fail with Reason.
	Unavailable bool
	Reason      string

	// Languages reported by SupportedLanguages. Defaults to English.
	Languages []string

	// Reply computes the response text for a prompt. Defaults to a canned
	// deterministic reply.
	Reply func(prompt string, prior []transcript.Entry) string

	// FailWith makes every generation fail with the given error.
	FailWith error

	// ToolScript is replayed against the bound tools once per generation
	// when the session has tools attached.
	ToolScript []ScriptedCall

	// ChunkDelay paces streaming snapshots. Zero streams immediately.
	ChunkDelay time.Duration
}

// Sim is a deterministic in-process ModelRuntime used by tests and by the
// daemon when no real backend is configured.
type Sim struct {
	cfg SimConfig
}

// NewSim creates a simulated runtime.
func NewSim(cfg SimConfig) *Sim {
	if cfg.Reply == nil {
		cfg.Reply = func(prompt string, prior []transcript.Entry) string {
			if prompt == "" {
				return "Understood."
			}
			return fmt.Sprintf("Considering %q, here is the on-device answer.", prompt)
		}
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"en-US"}
	}
	return &Sim{cfg: cfg}
}

// Availability implements ModelRuntime.
func (s *Sim) Availability(ctx context.Context) Availability {
	if s.cfg.Unavailable {
		reason := s.cfg.Reason
		if reason == "" {
			reason = "model assets not present"
		}
		return Availability{Available: false, Reason: reason}
	}
	return Availability{Available: true, Reason: "Available"}
}

// SupportedLanguages implements ModelRuntime.
func (s *Sim) SupportedLanguages(ctx context.Context) []string {
	out := make([]string, len(s.cfg.Languages))
	copy(out, s.cfg.Languages)
	return out
}

// NewSession implements ModelRuntime.
func (s *Sim) NewSession(ctx context.Context, cfg SessionConfig) (Session, error) {
	if len(cfg.Tools) > 0 && cfg.OnToolCall == nil {
		return nil, errors.New("runtime: tools bound without a tool callback")
	}
	return &simSession{runtime: s, cfg: cfg}, nil
}

// =============================================================================
// SIMULATED SESSION
// =============================================================================

type simSession struct {
	runtime *Sim
	cfg     SessionConfig

	mu     sync.Mutex
	busy   bool
	closed bool
}

func (ss *simSession) begin() error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.closed {
		return errors.New("runtime: session closed")
	}
	if ss.busy {
		return ErrBusy
	}
	ss.busy = true
	return nil
}

func (ss *simSession) end() {
	ss.mu.Lock()
	ss.busy = false
	ss.mu.Unlock()
}

// fireToolScript replays the scripted tool calls against the bound tools.
// The callback runs on the generation's goroutine, exactly as the native
// runtime would invoke it from its cooperative task.
func (ss *simSession) fireToolScript() {
	if len(ss.cfg.Tools) == 0 {
		return
	}
	for _, call := range ss.runtime.cfg.ToolScript {
		for _, def := range ss.cfg.Tools {
			if def.Name == call.Tool {
				ss.cfg.OnToolCall(def.ID, []byte(call.ArgumentsJSON))
				break
			}
		}
	}
}

func (ss *simSession) Respond(ctx context.Context, prompt string, opts Options) (string, error) {
	if err := ss.begin(); err != nil {
		return "", err
	}
	defer ss.end()

	if err := ss.runtime.cfg.FailWith; err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ss.fireToolScript()
	return ss.runtime.cfg.Reply(prompt, ss.cfg.Transcript), nil
}

func (ss *simSession) RespondStructured(ctx context.Context, prompt string, opts Options) (string, jsonval.Value, error) {
	if err := ss.begin(); err != nil {
		return "", jsonval.Null(), err
	}
	defer ss.end()

	if err := ss.runtime.cfg.FailWith; err != nil {
		return "", jsonval.Null(), err
	}
	if ss.cfg.Schema == nil {
		return "", jsonval.Null(), errors.New("runtime: structured generation without a schema")
	}

	value := synthesize(ss.cfg.Schema, ss.cfg.Schema.Root, 0)
	return value.String(), value, nil
}

func (ss *simSession) Stream(ctx context.Context, prompt string, opts Options, fn StreamFunc) error {
	if err := ss.begin(); err != nil {
		return err
	}

	go func() {
		defer ss.end()

		if err := ss.runtime.cfg.FailWith; err != nil {
			fn("", err, false)
			return
		}

		ss.fireToolScript()

		reply := ss.runtime.cfg.Reply(prompt, ss.cfg.Transcript)
		words := strings.Fields(reply)
		var cumulative strings.Builder
		for i, w := range words {
			if ctx.Err() != nil {
				fn("", ctx.Err(), false)
				return
			}
			if i > 0 {
				cumulative.WriteByte(' ')
			}
			cumulative.WriteString(w)
			fn(cumulative.String(), nil, false)
			if d := ss.runtime.cfg.ChunkDelay; d > 0 {
				time.Sleep(d)
			}
		}
		// Empty-snapshot end sentinel.
		fn("", nil, true)
	}()

	return nil
}

func (ss *simSession) Close() error {
	ss.mu.Lock()
	ss.closed = true
	ss.mu.Unlock()
	return nil
}

// =============================================================================
// STRUCTURED VALUE SYNTHESIS
// =============================================================================

const maxSynthDepth = 8

// synthesize produces a deterministic value conforming to the compiled
// schema. Cycles through references bottom out at null.
func synthesize(c *schema.Compiled, d *schema.Dynamic, depth int) jsonval.Value {
	if d == nil || depth > maxSynthDepth {
		return jsonval.Null()
	}
	switch d.Kind {
	case schema.KindString:
		return jsonval.String("sample")
	case schema.KindDouble:
		return jsonval.Number(0.5)
	case schema.KindInt:
		return jsonval.Number(1)
	case schema.KindBool:
		return jsonval.Bool(true)
	case schema.KindStringChoice:
		if len(d.Choices) > 0 {
			return jsonval.String(d.Choices[0])
		}
		return jsonval.String("")
	case schema.KindList:
		n := d.MinItems
		if n < 1 {
			n = 1
		}
		elems := make([]jsonval.Value, n)
		for i := range elems {
			elems[i] = synthesize(c, d.Item, depth+1)
		}
		return jsonval.Array(elems...)
	case schema.KindObject:
		members := make(map[string]jsonval.Value, len(d.Fields))
		for _, f := range d.Fields {
			members[f.Name] = synthesize(c, f.Schema, depth+1)
		}
		return jsonval.Object(members)
	case schema.KindUnion:
		if len(d.Variants) > 0 {
			return synthesize(c, d.Variants[0], depth+1)
		}
		return jsonval.Null()
	case schema.KindRef:
		return synthesize(c, c.Resolve(d), depth+1)
	default:
		return jsonval.Null()
	}
}
