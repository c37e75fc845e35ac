package agent

import (
	"errors"
	"reflect"
	"testing"

	"github.com/opal-agent/opal/pkg/ai"
)

type recordedEvent struct {
	typ     string
	payload map[string]any
}

func collectEmit(events *[]recordedEvent) emitFn {
	return func(typ string, payload map[string]any) {
		*events = append(*events, recordedEvent{typ, payload})
	}
}

func applyAll(t *testing.T, ts *turnState, emit emitFn, evs ...ai.StreamEvent) {
	t.Helper()
	for _, ev := range evs {
		ts.apply(ev, emit)
	}
}

func eventTypes(events []recordedEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.typ
	}
	return out
}

func TestDispatch_TextAccumulation(t *testing.T) {
	var events []recordedEvent
	ts := &turnState{}
	applyAll(t, ts, collectEmit(&events),
		ai.StreamEvent{Type: ai.StreamTextStart},
		ai.StreamEvent{Type: ai.StreamTextDelta, Delta: "hel"},
		ai.StreamEvent{Type: ai.StreamTextDelta, Delta: "lo"},
		ai.StreamEvent{Type: ai.StreamResponseDone},
	)
	if ts.text != "hello" {
		t.Errorf("text = %q", ts.text)
	}
	want := []string{EventMessageStart, EventMessageDelta, EventMessageDelta}
	if !reflect.DeepEqual(eventTypes(events), want) {
		t.Errorf("events = %v, want %v", eventTypes(events), want)
	}
}

func TestDispatch_SynthesizedMessageStart(t *testing.T) {
	var events []recordedEvent
	ts := &turnState{}
	applyAll(t, ts, collectEmit(&events),
		ai.StreamEvent{Type: ai.StreamTextDelta, Delta: "x"},
	)
	if got := eventTypes(events); !reflect.DeepEqual(got, []string{EventMessageStart, EventMessageDelta}) {
		t.Errorf("events = %v", got)
	}
}

func TestDispatch_ThinkingSeparateFromText(t *testing.T) {
	var events []recordedEvent
	ts := &turnState{}
	applyAll(t, ts, collectEmit(&events),
		ai.StreamEvent{Type: ai.StreamThinkingDelta, Delta: "mull"},
		ai.StreamEvent{Type: ai.StreamThinkingDone, Text: "mulling it over"},
		ai.StreamEvent{Type: ai.StreamTextDelta, Delta: "answer"},
	)
	if ts.thinking != "mulling it over" {
		t.Errorf("thinking = %q", ts.thinking)
	}
	if ts.text != "answer" {
		t.Errorf("text = %q", ts.text)
	}
	want := []string{EventThinkingStart, EventThinkingDelta, EventMessageStart, EventMessageDelta}
	if !reflect.DeepEqual(eventTypes(events), want) {
		t.Errorf("events = %v", eventTypes(events))
	}
}

func TestDispatch_StatusTagsBecomeEvents(t *testing.T) {
	var events []recordedEvent
	ts := &turnState{}
	applyAll(t, ts, collectEmit(&events),
		ai.StreamEvent{Type: ai.StreamTextDelta, Delta: "a <status>compiling</status> b"},
	)
	if ts.text != "a  b" {
		t.Errorf("text = %q", ts.text)
	}
	var sawStatus bool
	for _, e := range events {
		if e.typ == EventStatusUpdate {
			sawStatus = true
			if e.payload["message"] != "compiling" {
				t.Errorf("status payload = %v", e.payload)
			}
		}
	}
	if !sawStatus {
		t.Error("no status_update emitted")
	}
}

func TestDispatch_ToolCallMatchByCallID(t *testing.T) {
	ts := &turnState{}
	emit := func(string, map[string]any) {}
	ts.apply(ai.StreamEvent{Type: ai.StreamToolCallStart, CallID: "c1", Name: "grep"}, emit)
	ts.apply(ai.StreamEvent{Type: ai.StreamToolCallDelta, CallID: "c1", Delta: `{"pattern":`}, emit)
	ts.apply(ai.StreamEvent{Type: ai.StreamToolCallDelta, CallID: "c1", Delta: `"x"}`}, emit)
	ts.apply(ai.StreamEvent{Type: ai.StreamToolCallDone, CallID: "c1"}, emit)

	calls := ts.toolCalls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d", len(calls))
	}
	if calls[0].Name != "grep" || calls[0].Arguments["pattern"] != "x" {
		t.Errorf("call = %+v", calls[0])
	}
}

func TestDispatch_ToolCallMatchByItemIDThenIndex(t *testing.T) {
	ts := &turnState{}
	emit := func(string, map[string]any) {}
	ts.apply(ai.StreamEvent{Type: ai.StreamToolCallStart, ItemID: "i1", Name: "ls"}, emit)
	ts.apply(ai.StreamEvent{Type: ai.StreamToolCallStart, CallIndex: 1, HasCallIndex: true, Name: "bash"}, emit)

	// Deltas identified only by ItemID and only by index route to the right
	// partials.
	ts.apply(ai.StreamEvent{Type: ai.StreamToolCallDelta, ItemID: "i1", Delta: `{"path":"."}`}, emit)
	ts.apply(ai.StreamEvent{Type: ai.StreamToolCallDelta, CallIndex: 1, HasCallIndex: true, Delta: `{"command":"true"}`}, emit)
	ts.apply(ai.StreamEvent{Type: ai.StreamToolCallDone, ItemID: "i1"}, emit)
	ts.apply(ai.StreamEvent{Type: ai.StreamToolCallDone, CallIndex: 1, HasCallIndex: true}, emit)

	calls := ts.toolCalls()
	if len(calls) != 2 {
		t.Fatalf("calls = %d", len(calls))
	}
	if calls[0].Arguments["path"] != "." {
		t.Errorf("first call args = %v", calls[0].Arguments)
	}
	if calls[1].Arguments["command"] != "true" {
		t.Errorf("second call args = %v", calls[1].Arguments)
	}
}

func TestDispatch_StructuredArgumentsWin(t *testing.T) {
	ts := &turnState{}
	emit := func(string, map[string]any) {}
	ts.apply(ai.StreamEvent{Type: ai.StreamToolCallStart, CallID: "c1", Name: "read_file"}, emit)
	ts.apply(ai.StreamEvent{Type: ai.StreamToolCallDelta, CallID: "c1", Delta: `{"path":"bro`}, emit)
	ts.apply(ai.StreamEvent{
		Type: ai.StreamToolCallDone, CallID: "c1",
		Arguments: map[string]any{"path": "main.go"},
	}, emit)

	calls := ts.toolCalls()
	if calls[0].Arguments["path"] != "main.go" {
		t.Errorf("args = %v", calls[0].Arguments)
	}
}

func TestDispatch_MalformedArgumentsYieldEmptyMap(t *testing.T) {
	ts := &turnState{}
	emit := func(string, map[string]any) {}
	ts.apply(ai.StreamEvent{Type: ai.StreamToolCallStart, CallID: "c1", Name: "bash"}, emit)
	ts.apply(ai.StreamEvent{Type: ai.StreamToolCallDelta, CallID: "c1", Delta: `{"command": truncat`}, emit)
	ts.apply(ai.StreamEvent{Type: ai.StreamToolCallDone, CallID: "c1"}, emit)

	calls := ts.toolCalls()
	if len(calls[0].Arguments) != 0 {
		t.Errorf("args = %v, want empty map", calls[0].Arguments)
	}
}

func TestDispatch_TerminalEvents(t *testing.T) {
	emit := func(string, map[string]any) {}

	ts := &turnState{}
	if done := ts.apply(ai.StreamEvent{Type: ai.StreamTextDelta, Delta: "x"}, emit); done {
		t.Error("text_delta should not be terminal")
	}
	if done := ts.apply(ai.StreamEvent{Type: ai.StreamResponseDone, Usage: &ai.Usage{PromptTokens: 7}}, emit); !done {
		t.Error("response_done should be terminal")
	}
	if ts.usage == nil || ts.usage.PromptTokens != 7 {
		t.Errorf("usage = %+v", ts.usage)
	}

	ts2 := &turnState{}
	werr := errors.New("boom")
	if done := ts2.apply(ai.StreamEvent{Type: ai.StreamError, Err: werr}, emit); !done {
		t.Error("error should be terminal")
	}
	if ts2.err != werr {
		t.Errorf("err = %v", ts2.err)
	}
}

func TestDispatch_BufferedTagFlushedOnDone(t *testing.T) {
	var events []recordedEvent
	ts := &turnState{}
	applyAll(t, ts, collectEmit(&events),
		ai.StreamEvent{Type: ai.StreamTextDelta, Delta: "end <sta"},
		ai.StreamEvent{Type: ai.StreamResponseDone},
	)
	if ts.text != "end <sta" {
		t.Errorf("text = %q", ts.text)
	}
}

func TestDispatch_AssistantMessage(t *testing.T) {
	ts := &turnState{}
	emit := func(string, map[string]any) {}
	applyAll(t, ts, emit,
		ai.StreamEvent{Type: ai.StreamThinkingDelta, Delta: "hm"},
		ai.StreamEvent{Type: ai.StreamTextDelta, Delta: "done"},
		ai.StreamEvent{Type: ai.StreamToolCallStart, CallID: "c1", Name: "ls"},
		ai.StreamEvent{Type: ai.StreamToolCallDone, CallID: "c1"},
		ai.StreamEvent{Type: ai.StreamResponseDone},
	)
	m := ts.assistantMessage()
	if m.Role != ai.RoleAssistant || m.Content != "done" || m.Thinking != "hm" {
		t.Errorf("message = %+v", m)
	}
	if len(m.ToolCalls) != 1 || m.ToolCalls[0].Name != "ls" {
		t.Errorf("tool calls = %+v", m.ToolCalls)
	}
}
