// Package tools defines the Tool interface, the per-turn registry, and
// JSON-Schema argument validation.
package tools

import (
	"context"
	"encoding/json"

	"github.com/opal-agent/opal/pkg/ai"
)

// ---------------------------------------------------------------------------
// Tool interface
// ---------------------------------------------------------------------------

// Result is the outcome of a tool execution. Text is the wire representation
// sent back to the model; tools serialize structured output themselves.
// Details is arbitrary structured data for UIs and logging, never the model.
type Result struct {
	OK      bool   `json:"ok"`
	Text    string `json:"text"`
	Details any    `json:"details,omitempty"`
}

// Context carries per-session execution context into every tool call.
type Context struct {
	SessionID  string
	WorkingDir string

	// CallID identifies the tool call being executed.
	CallID string

	// Spawner lets tools start child agents (the sub_agent tool). Nil when
	// the session has sub-agents disabled.
	Spawner Spawner
}

// Spawner starts a child agent and runs a prompt to completion, returning
// the child's final assistant text. The concrete implementation lives in the
// agent package; tools only see this interface.
type Spawner interface {
	SpawnSubAgent(ctx context.Context, parentCallID string, opts SubAgentSpec) (string, error)
}

// SubAgentSpec is the sub_agent tool's request to the spawner.
type SubAgentSpec struct {
	Prompt       string
	SystemPrompt string
	Tools        []string // tool names to inherit; empty = parent's full set
}

// Tool is the interface every tool implements.
type Tool interface {
	// Name returns the identifier the model calls the tool by.
	Name() string
	// Description is the model-facing explanation of what the tool does.
	Description() string
	// Parameters returns the JSON-Schema object describing the arguments.
	Parameters() json.RawMessage
	// Meta returns a short human label for the call, e.g. "read main.go".
	Meta(args map[string]any) string
	// Execute runs the tool. ctx carries the agent's cancel signal. A non-nil
	// error or Result.OK=false both surface to the model as a failed call.
	Execute(ctx context.Context, args map[string]any, tc Context) (Result, error)
}

// Definition builds the wire definition handed to the provider.
func Definition(t Tool) ai.ToolDefinition {
	return ai.ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.Parameters(),
	}
}

// ---------------------------------------------------------------------------
// Result constructors
// ---------------------------------------------------------------------------

func TextResult(text string) Result {
	return Result{OK: true, Text: text}
}

func ErrorResult(err error) Result {
	return Result{OK: false, Text: "error: " + err.Error()}
}

// ---------------------------------------------------------------------------
// SimpleSchema is a helper for building JSON Schema objects inline.
// ---------------------------------------------------------------------------

type SimpleSchema struct {
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
}

// MustSchema returns a JSON Schema for the given SimpleSchema.
func MustSchema(s SimpleSchema) json.RawMessage {
	s2 := map[string]any{
		"type":       "object",
		"properties": s.Properties,
	}
	if len(s.Required) > 0 {
		s2["required"] = s.Required
	}
	b, err := json.Marshal(s2)
	if err != nil {
		panic("tools.MustSchema: " + err.Error())
	}
	return b
}
