// Package ai defines the core types for LLM interactions: messages, tool
// calls, streaming event tuples, and the provider interface.
package ai

import (
	"encoding/json"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

type Role string

const (
	RoleSystem     Role = "system"
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolCall   Role = "tool_call"
	RoleToolResult Role = "tool_result"
)

// Message is the single record type for every conversation entry. Which
// fields are populated depends on Role: assistant messages may carry
// Thinking and ToolCalls; tool_call/tool_result messages carry CallID and
// Name; compaction summaries carry Metadata.
type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content,omitempty"`
	Thinking  string         `json:"thinking,omitempty"`
	ToolCalls []ToolCall     `json:"tool_calls,omitempty"`
	CallID    string         `json:"call_id,omitempty"`
	Name      string         `json:"name,omitempty"`
	ParentID  string         `json:"parent_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp int64          `json:"timestamp,omitempty"` // unix ms
}

// NewMessage returns a Message with a fresh id.
func NewMessage(role Role, content string) Message {
	return Message{ID: uuid.New().String(), Role: role, Content: content}
}

// UserMessage builds a user message with a fresh id.
func UserMessage(content string) Message { return NewMessage(RoleUser, content) }

// ToolResultMessage builds a tool_result message for the given call.
func ToolResultMessage(callID, name, content string, isErr bool) Message {
	m := NewMessage(RoleToolResult, content)
	m.CallID = callID
	m.Name = name
	if isErr {
		if m.Metadata == nil {
			m.Metadata = map[string]any{}
		}
		m.Metadata["is_error"] = true
	}
	return m
}

// IsError reports whether a tool_result message carries a failed result.
func (m Message) IsError() bool {
	v, ok := m.Metadata["is_error"].(bool)
	return ok && v
}

// ---------------------------------------------------------------------------
// Tool calls
// ---------------------------------------------------------------------------

// ToolCall is a finalized call emitted by the assistant.
type ToolCall struct {
	CallID    string         `json:"call_id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// PartialToolCall accumulates a tool call during streaming. Providers differ
// in how they identify calls across deltas, so three keys are carried:
// CallID, ItemID and CallIndex (matched in that priority order).
type PartialToolCall struct {
	CallID        string
	ItemID        string
	CallIndex     int
	HasCallIndex  bool
	Name          string
	ArgumentsJSON string
	Done          bool
}

// Finalize parses the accumulated arguments JSON. A parse failure yields an
// empty argument map rather than an error: the tool's own schema validation
// produces the user-visible message.
func (p *PartialToolCall) Finalize() ToolCall {
	args := map[string]any{}
	if p.ArgumentsJSON != "" {
		_ = json.Unmarshal([]byte(p.ArgumentsJSON), &args)
	}
	return ToolCall{CallID: p.CallID, Name: p.Name, Arguments: args}
}

// ---------------------------------------------------------------------------
// Models
// ---------------------------------------------------------------------------

// ThinkingLevel controls extended reasoning for models that support it.
type ThinkingLevel string

const (
	ThinkingOff    ThinkingLevel = "off"
	ThinkingLow    ThinkingLevel = "low"
	ThinkingMedium ThinkingLevel = "medium"
	ThinkingHigh   ThinkingLevel = "high"
	ThinkingMax    ThinkingLevel = "max"
)

// Model identifies a model on a provider.
type Model struct {
	Provider      string        `json:"provider"`
	ID            string        `json:"id"`
	ThinkingLevel ThinkingLevel `json:"thinking_level,omitempty"`
	ContextWindow int           `json:"context_window,omitempty"`
}

// ---------------------------------------------------------------------------
// Usage
// ---------------------------------------------------------------------------

// Usage is a per-response token accounting report from the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	CacheReadTokens  int `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int `json:"cache_write_tokens,omitempty"`
}

// ---------------------------------------------------------------------------
// Streaming event tuples
// ---------------------------------------------------------------------------

// StreamEventType enumerates the provider event tuples.
type StreamEventType string

const (
	StreamTextStart     StreamEventType = "text_start"
	StreamTextDelta     StreamEventType = "text_delta"
	StreamTextDone      StreamEventType = "text_done"
	StreamThinkingStart StreamEventType = "thinking_start"
	StreamThinkingDelta StreamEventType = "thinking_delta"
	StreamThinkingDone  StreamEventType = "thinking_done"
	StreamToolCallStart StreamEventType = "tool_call_start"
	StreamToolCallDelta StreamEventType = "tool_call_delta"
	StreamToolCallDone  StreamEventType = "tool_call_done"
	StreamUsage         StreamEventType = "usage"
	StreamResponseDone  StreamEventType = "response_done"
	StreamError         StreamEventType = "error"
)

// StreamEvent is one provider event tuple, shape-adapted from the wire.
type StreamEvent struct {
	Type StreamEventType

	// text_delta / thinking_delta / tool_call_delta
	Delta string
	// text_done / thinking_done: full accumulated text
	Text string

	// tool_call_* identification
	CallID       string
	ItemID       string
	CallIndex    int
	HasCallIndex bool
	Name         string
	// tool_call_done: structured arguments, if the provider sent them
	Arguments map[string]any

	// usage / response_done
	Usage *Usage

	// error
	Err error
}

// Stream is a live response stream handle. Events is closed when the stream
// ends (after a response_done or error tuple). Cancel aborts the underlying
// request; it is safe to call more than once.
type Stream struct {
	Events <-chan StreamEvent
	Cancel func()
}

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

// ToolDefinition describes a tool to the LLM.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema object
}

// Request holds everything for one LLM call.
type Request struct {
	SystemPrompt string
	Messages     []Message
	Tools        []ToolDefinition
	Options      StreamOptions
}

// StreamOptions are per-call provider options.
type StreamOptions struct {
	MaxTokens     int
	Temperature   *float64
	APIKey        string
	BaseURL       string
	ThinkingLevel ThinkingLevel
}
