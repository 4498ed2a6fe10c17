// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package runtime defines the opaque model runtime capability the generation
// engine drives.
package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jeranaias/rigserve/internal/schema"
	"github.com/jeranaias/rigserve/internal/transcript"
)

// =============================================================================
// AVAILABILITY TESTS
// =============================================================================

func TestSim_Availability(t *testing.T) {
	s := NewSim(SimConfig{})
	got := s.Availability(context.Background())
	if !got.Available {
		t.Errorf("default sim should be available, got %+v", got)
	}

	s = NewSim(SimConfig{Unavailable: true, Reason: "device unsupported"})
	got = s.Availability(context.Background())
	if got.Available || got.Reason != "device unsupported" {
		t.Errorf("unavailable sim = %+v", got)
	}
}

func TestSim_SupportedLanguages(t *testing.T) {
	s := NewSim(SimConfig{})
	if langs := s.SupportedLanguages(context.Background()); len(langs) == 0 {
		t.Error("should report at least one language")
	}
}

// =============================================================================
// GENERATION TESTS
// =============================================================================

func TestSimSession_Respond(t *testing.T) {
	s := NewSim(SimConfig{})
	sess, err := s.NewSession(context.Background(), SessionConfig{})
	if err != nil {
		t.Fatalf("NewSession error: %v", err)
	}
	defer sess.Close()

	text, err := sess.Respond(context.Background(), "2+2?", Options{})
	if err != nil {
		t.Fatalf("Respond error: %v", err)
	}
	if text == "" {
		t.Error("response should be non-empty")
	}
}

func TestSimSession_SingleGenerationPerSession(t *testing.T) {
	block := make(chan struct{})
	s := NewSim(SimConfig{
		Reply: func(prompt string, prior []transcript.Entry) string {
			<-block
			return "done"
		},
	})
	sess, _ := s.NewSession(context.Background(), SessionConfig{})
	defer sess.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sess.Respond(context.Background(), "first", Options{})
	}()

	// Give the first generation time to take the session.
	time.Sleep(20 * time.Millisecond)
	_, err := sess.Respond(context.Background(), "second", Options{})
	if !errors.Is(err, ErrBusy) {
		t.Errorf("second concurrent generation = %v, want ErrBusy", err)
	}
	close(block)
	wg.Wait()
}

func TestSimSession_Stream(t *testing.T) {
	s := NewSim(SimConfig{
		Reply: func(prompt string, prior []transcript.Entry) string {
			return "alpha beta gamma"
		},
	})
	sess, _ := s.NewSession(context.Background(), SessionConfig{})
	defer sess.Close()

	type snap struct {
		text string
		done bool
	}
	snaps := make(chan snap, 16)
	err := sess.Stream(context.Background(), "q", Options{}, func(cumulative string, err error, done bool) {
		if err != nil {
			t.Errorf("unexpected stream error: %v", err)
		}
		snaps <- snap{cumulative, done}
	})
	if err != nil {
		t.Fatalf("Stream error: %v", err)
	}

	var got []snap
	deadline := time.After(5 * time.Second)
	for {
		select {
		case sn := <-snaps:
			got = append(got, sn)
			if sn.done {
				goto drained
			}
		case <-deadline:
			t.Fatal("stream did not complete")
		}
	}
drained:
	// Cumulative snapshots grow monotonically, then an empty done sentinel.
	if len(got) != 4 {
		t.Fatalf("snapshots = %d, want 4", len(got))
	}
	want := []string{"alpha", "alpha beta", "alpha beta gamma", ""}
	for i, w := range want {
		if got[i].text != w {
			t.Errorf("snapshot %d = %q, want %q", i, got[i].text, w)
		}
	}
	if !got[3].done {
		t.Error("final snapshot should be the done sentinel")
	}
}

func TestSimSession_ToolScript(t *testing.T) {
	s := NewSim(SimConfig{
		ToolScript: []ScriptedCall{{Tool: "add", ArgumentsJSON: `{"a":2,"b":3}`}},
	})

	var gotID int
	var gotArgs string
	sess, err := s.NewSession(context.Background(), SessionConfig{
		Tools: []transcript.ToolDef{{ID: 1, Name: "add"}},
		OnToolCall: func(toolID int, argumentsJSON []byte) []byte {
			gotID = toolID
			gotArgs = string(argumentsJSON)
			return []byte(`{"result":5}`)
		},
	})
	if err != nil {
		t.Fatalf("NewSession error: %v", err)
	}
	defer sess.Close()

	if _, err := sess.Respond(context.Background(), "add 2 and 3", Options{}); err != nil {
		t.Fatalf("Respond error: %v", err)
	}
	if gotID != 1 || gotArgs != `{"a":2,"b":3}` {
		t.Errorf("tool callback got (%d, %s)", gotID, gotArgs)
	}
}

func TestSim_ToolsRequireCallback(t *testing.T) {
	s := NewSim(SimConfig{})
	_, err := s.NewSession(context.Background(), SessionConfig{
		Tools: []transcript.ToolDef{{ID: 1, Name: "add"}},
	})
	if err == nil {
		t.Error("tools without callback should fail")
	}
}

// =============================================================================
// STRUCTURED SYNTHESIS TESTS
// =============================================================================

func TestSimSession_RespondStructured(t *testing.T) {
	compiled, err := schema.Compile([]byte(`{
		"type": "object",
		"properties": {
			"name":  {"type": "string"},
			"count": {"type": "integer"},
			"tags":  {"type": "array", "items": {"enum": ["a", "b"]}, "minItems": 2}
		},
		"required": ["name"]
	}`))
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}

	s := NewSim(SimConfig{})
	sess, _ := s.NewSession(context.Background(), SessionConfig{Schema: compiled})
	defer sess.Close()

	text, value, err := sess.RespondStructured(context.Background(), "fill it in", Options{})
	if err != nil {
		t.Fatalf("RespondStructured error: %v", err)
	}
	if text == "" {
		t.Error("text form should be non-empty")
	}
	name, ok := value.Field("name")
	if !ok {
		t.Fatal("value should carry name")
	}
	if _, isStr := name.AsString(); !isStr {
		t.Error("name should be a string")
	}
	tags, _ := value.Field("tags")
	if tags.Len() != 2 {
		t.Errorf("tags length = %d, want minItems 2", tags.Len())
	}
}

// =============================================================================
// TRACKER TESTS
// =============================================================================

func TestTracker(t *testing.T) {
	tr := NewTracker()
	tr.Add(SessionInfo{RequestID: "r1", Mode: "basic"})
	tr.Add(SessionInfo{RequestID: "r2", Mode: "tools", Streaming: true})

	if tr.Count() != 2 {
		t.Errorf("Count = %d, want 2", tr.Count())
	}
	tr.Remove("r1")
	tr.Remove("never-registered")
	if tr.Count() != 1 {
		t.Errorf("Count after remove = %d, want 1", tr.Count())
	}
	if tr.TotalStarted() != 2 {
		t.Errorf("TotalStarted = %d, want 2", tr.TotalStarted())
	}
	active := tr.Active()
	if len(active) != 1 || active[0].RequestID != "r2" {
		t.Errorf("Active = %+v", active)
	}
}
