package openai

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/opal-agent/opal/pkg/ai"
)

func collect(t *testing.T, p ai.Provider, req ai.Request) []ai.StreamEvent {
	t.Helper()
	stream, err := p.Stream(t.Context(), "gpt-test", req)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	var out []ai.StreamEvent
	for ev := range stream.Events {
		out = append(out, ev)
	}
	return out
}

func sseHandler(lines ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range lines {
			io.WriteString(w, "data: "+l+"\n\n")
		}
	}
}

// ── Chat completions ──

func TestCompletions_TextThenToolCall(t *testing.T) {
	srv := httptest.NewServer(sseHandler(
		`{"choices":[{"delta":{"role":"assistant","content":"Hi"}}]}`,
		`{"choices":[{"delta":{"content":" there"}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"grep"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"pattern\":\"x\"}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		`{"choices":[],"usage":{"prompt_tokens":7,"completion_tokens":3,"total_tokens":10}}`,
		`[DONE]`,
	))
	defer srv.Close()

	evs := collect(t, New(srv.URL), ai.Request{Messages: []ai.Message{ai.UserMessage("hi")}})

	want := []ai.StreamEventType{
		ai.StreamTextStart, ai.StreamTextDelta, ai.StreamTextDelta,
		ai.StreamTextDone,
		ai.StreamToolCallStart, ai.StreamToolCallDelta, ai.StreamToolCallDone,
		ai.StreamUsage,
		ai.StreamResponseDone,
	}
	if len(evs) != len(want) {
		t.Fatalf("got %d events: %+v", len(evs), evs)
	}
	for i, w := range want {
		if evs[i].Type != w {
			t.Errorf("event[%d].Type = %q, want %q", i, evs[i].Type, w)
		}
	}

	if evs[3].Text != "Hi there" {
		t.Errorf("text_done.Text = %q", evs[3].Text)
	}
	start := evs[4]
	if start.CallID != "call_1" || !start.HasCallIndex || start.CallIndex != 0 || start.Name != "grep" {
		t.Errorf("tool_call_start = %+v", start)
	}
	if evs[5].Delta != `{"pattern":"x"}` {
		t.Errorf("tool_call_delta = %+v", evs[5])
	}
	u := evs[8].Usage
	if u == nil || u.PromptTokens != 7 || u.TotalTokens != 10 {
		t.Errorf("usage = %+v", u)
	}
}

func TestCompletions_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	evs := collect(t, New(srv.URL), ai.Request{Messages: []ai.Message{ai.UserMessage("hi")}})
	if len(evs) != 1 || evs[0].Type != ai.StreamError {
		t.Fatalf("events = %+v", evs)
	}
	if !strings.Contains(evs[0].Err.Error(), "401") {
		t.Errorf("err = %v", evs[0].Err)
	}
}

func TestCompletions_RequestShape(t *testing.T) {
	var got wireRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	req := ai.Request{
		SystemPrompt: "be terse",
		Messages: []ai.Message{
			ai.UserMessage("go"),
			{Role: ai.RoleAssistant, ToolCalls: []ai.ToolCall{
				{CallID: "call_1", Name: "ls", Arguments: map[string]any{"path": "."}},
			}},
			ai.ToolResultMessage("call_1", "ls", "a.txt", false),
		},
		Tools:   []ai.ToolDefinition{{Name: "ls", Description: "list", Parameters: json.RawMessage(`{"type":"object"}`)}},
		Options: ai.StreamOptions{APIKey: "sk-test", MaxTokens: 64},
	}
	collect(t, New(srv.URL), req)

	if auth != "Bearer sk-test" {
		t.Errorf("auth = %q", auth)
	}
	if len(got.Messages) != 4 {
		t.Fatalf("messages = %+v", got.Messages)
	}
	if got.Messages[0].Role != "system" || got.Messages[0].Content != "be terse" {
		t.Errorf("system = %+v", got.Messages[0])
	}
	asst := got.Messages[2]
	if len(asst.ToolCalls) != 1 || asst.ToolCalls[0].ID != "call_1" || asst.ToolCalls[0].Function.Name != "ls" {
		t.Errorf("assistant = %+v", asst)
	}
	res := got.Messages[3]
	if res.Role != "tool" || res.ToolCallID != "call_1" || res.Content != "a.txt" {
		t.Errorf("tool result = %+v", res)
	}
	if got.StreamOptions == nil || !got.StreamOptions.IncludeUsage {
		t.Errorf("stream_options = %+v", got.StreamOptions)
	}
}

// ── Responses API ──

func TestResponses_ItemLifecycle(t *testing.T) {
	srv := httptest.NewServer(sseHandler(
		`{"type":"response.output_item.added","item":{"id":"msg_1","type":"message"}}`,
		`{"type":"response.output_text.delta","item_id":"msg_1","delta":"Hey"}`,
		`{"type":"response.output_item.done","item":{"id":"msg_1","type":"message"}}`,
		`{"type":"response.output_item.added","item":{"id":"fc_1","type":"function_call","call_id":"call_9","name":"bash"}}`,
		`{"type":"response.function_call_arguments.delta","item_id":"fc_1","delta":"{\"command\":\"ls\"}"}`,
		`{"type":"response.output_item.done","item":{"id":"fc_1","type":"function_call","call_id":"call_9","name":"bash","arguments":"{\"command\":\"ls\"}"}}`,
		`{"type":"response.completed","response":{"status":"completed","usage":{"input_tokens":12,"output_tokens":4,"total_tokens":16,"input_tokens_details":{"cached_tokens":3}}}}`,
	))
	defer srv.Close()

	evs := collect(t, NewResponses(srv.URL), ai.Request{Messages: []ai.Message{ai.UserMessage("hi")}})

	want := []ai.StreamEventType{
		ai.StreamTextStart, ai.StreamTextDelta, ai.StreamTextDone,
		ai.StreamToolCallStart, ai.StreamToolCallDelta, ai.StreamToolCallDone,
		ai.StreamUsage, ai.StreamResponseDone,
	}
	if len(evs) != len(want) {
		t.Fatalf("got %d events: %+v", len(evs), evs)
	}
	for i, w := range want {
		if evs[i].Type != w {
			t.Errorf("event[%d].Type = %q, want %q", i, evs[i].Type, w)
		}
	}

	if evs[2].Text != "Hey" {
		t.Errorf("text_done.Text = %q", evs[2].Text)
	}
	start := evs[3]
	if start.CallID != "call_9" || start.ItemID != "fc_1" || start.Name != "bash" {
		t.Errorf("tool_call_start = %+v", start)
	}
	done := evs[5]
	if done.CallID != "call_9" || done.Arguments["command"] != "ls" {
		t.Errorf("tool_call_done = %+v", done)
	}
	u := evs[7].Usage
	if u == nil || u.PromptTokens != 12 || u.CacheReadTokens != 3 {
		t.Errorf("usage = %+v", u)
	}
}

func TestResponses_ReasoningItem(t *testing.T) {
	srv := httptest.NewServer(sseHandler(
		`{"type":"response.output_item.added","item":{"id":"rs_1","type":"reasoning"}}`,
		`{"type":"response.reasoning_summary_text.delta","item_id":"rs_1","delta":"thinking..."}`,
		`{"type":"response.output_item.done","item":{"id":"rs_1","type":"reasoning"}}`,
		`{"type":"response.completed","response":{"status":"completed","usage":{"input_tokens":1,"output_tokens":1,"total_tokens":2,"input_tokens_details":{"cached_tokens":0}}}}`,
	))
	defer srv.Close()

	evs := collect(t, NewResponses(srv.URL), ai.Request{Messages: []ai.Message{ai.UserMessage("hi")}})
	if len(evs) != 5 {
		t.Fatalf("got %d events: %+v", len(evs), evs)
	}
	if evs[0].Type != ai.StreamThinkingStart || evs[1].Type != ai.StreamThinkingDelta {
		t.Errorf("types = %q %q", evs[0].Type, evs[1].Type)
	}
	if evs[2].Type != ai.StreamThinkingDone || evs[2].Text != "thinking..." {
		t.Errorf("thinking_done = %+v", evs[2])
	}
}

func TestResponses_ErrorEvent(t *testing.T) {
	srv := httptest.NewServer(sseHandler(
		`{"type":"error","code":"rate_limit_exceeded","message":"slow down"}`,
	))
	defer srv.Close()

	evs := collect(t, NewResponses(srv.URL), ai.Request{Messages: []ai.Message{ai.UserMessage("hi")}})
	if len(evs) != 1 || evs[0].Type != ai.StreamError {
		t.Fatalf("events = %+v", evs)
	}
	if !strings.Contains(evs[0].Err.Error(), "slow down") {
		t.Errorf("err = %v", evs[0].Err)
	}
}

func TestResponses_RequestShape(t *testing.T) {
	var got respRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, `data: {"type":"response.completed","response":{"status":"completed","usage":{"input_tokens":0,"output_tokens":0,"total_tokens":0,"input_tokens_details":{"cached_tokens":0}}}}`+"\n\n")
	}))
	defer srv.Close()

	req := ai.Request{
		SystemPrompt: "sys",
		Messages: []ai.Message{
			ai.UserMessage("go"),
			{Role: ai.RoleAssistant, Content: "ok", ToolCalls: []ai.ToolCall{
				{CallID: "call_9", Name: "bash", Arguments: map[string]any{"command": "ls"}},
			}},
			ai.ToolResultMessage("call_9", "bash", "a.txt", false),
		},
		Options: ai.StreamOptions{MaxTokens: 128, ThinkingLevel: ai.ThinkingHigh},
	}
	collect(t, NewResponses(srv.URL), req)

	if got.MaxOutputTokens != 128 {
		t.Errorf("max_output_tokens = %d", got.MaxOutputTokens)
	}
	if got.Reasoning == nil || got.Reasoning.Effort != "high" {
		t.Errorf("reasoning = %+v", got.Reasoning)
	}
	// system + user + assistant text + function_call + function_call_output
	if len(got.Input) != 5 {
		t.Fatalf("input = %+v", got.Input)
	}
	fc := got.Input[3]
	if fc.Type != "function_call" || fc.CallID != "call_9" || fc.Name != "bash" {
		t.Errorf("function_call = %+v", fc)
	}
	out := got.Input[4]
	if out.Type != "function_call_output" || out.CallID != "call_9" || out.Output != "a.txt" {
		t.Errorf("function_call_output = %+v", out)
	}
}
