// Package anthropic implements ai.Provider for the Anthropic Messages API
// (streaming via SSE).
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opal-agent/opal/pkg/ai"
	"github.com/opal-agent/opal/pkg/ai/sse"
)

const defaultBaseURL = "https://api.anthropic.com/v1"
const anthropicVersion = "2023-06-01"

// Provider is the Anthropic streaming provider.
type Provider struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New creates a Provider. Pass "" for baseURL to use the public endpoint.
func New(baseURL string) *Provider {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Provider{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

func (p *Provider) Name() string { return "anthropic" }

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type wireContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	// Tool use (assistant)
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
	// Tool result (user)
	ToolUseID string        `json:"tool_use_id,omitempty"`
	Content   []wireContent `json:"content,omitempty"`
	IsError   bool          `json:"is_error,omitempty"`
}

type wireMessage struct {
	Role    string        `json:"role"`
	Content []wireContent `json:"content"`
}

type wireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type wireThinking struct {
	Type         string `json:"type"` // "enabled"
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	System      string        `json:"system,omitempty"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	Stream      bool          `json:"stream"`
	Temperature *float64      `json:"temperature,omitempty"`
	Thinking    *wireThinking `json:"thinking,omitempty"`
}

// SSE event payloads
type evContentBlockStart struct {
	Index        int         `json:"index"`
	ContentBlock wireContent `json:"content_block"`
}

type evContentBlockDelta struct {
	Index int `json:"index"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
}

type evMessageStart struct {
	Message struct {
		Usage struct {
			InputTokens              int `json:"input_tokens"`
			OutputTokens             int `json:"output_tokens"`
			CacheReadInputTokens     int `json:"cache_read_input_tokens"`
			CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
		} `json:"usage"`
	} `json:"message"`
}

type evMessageDelta struct {
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type evError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// ---------------------------------------------------------------------------
// Thinking
// ---------------------------------------------------------------------------

// thinkingBudget maps a level to a token budget for budget-based thinking.
func thinkingBudget(level ai.ThinkingLevel) int {
	switch level {
	case ai.ThinkingLow:
		return 2048
	case ai.ThinkingMedium:
		return 8192
	case ai.ThinkingHigh:
		return 16384
	case ai.ThinkingMax:
		return 32768
	default:
		return 0
	}
}

func buildThinking(opts ai.StreamOptions) *wireThinking {
	budget := thinkingBudget(opts.ThinkingLevel)
	if budget == 0 {
		return nil
	}
	return &wireThinking{Type: "enabled", BudgetTokens: budget}
}

// ---------------------------------------------------------------------------
// Stream
// ---------------------------------------------------------------------------

func (p *Provider) Stream(ctx context.Context, model string, req ai.Request) (*ai.Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	events := make(chan ai.StreamEvent, 64)

	go func() {
		defer close(events)
		if err := p.stream(ctx, model, req, events); err != nil {
			events <- ai.StreamEvent{Type: ai.StreamError, Err: err}
		}
	}()

	return &ai.Stream{Events: events, Cancel: cancel}, nil
}

func (p *Provider) stream(ctx context.Context, model string, req ai.Request, events chan<- ai.StreamEvent) error {
	maxTokens := req.Options.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}

	wr := wireRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		System:      req.SystemPrompt,
		Stream:      true,
		Temperature: req.Options.Temperature,
		Thinking:    buildThinking(req.Options),
	}
	wr.Messages = convertMessages(req.Messages)

	for _, t := range req.Tools {
		wr.Tools = append(wr.Tools, wireTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}

	body, _ := json.Marshal(wr)
	baseURL := p.BaseURL
	if req.Options.BaseURL != "" {
		baseURL = req.Options.BaseURL
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", req.Options.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.HTTPClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("anthropic: HTTP %d: %s", resp.StatusCode, string(b))
	}

	// Per-index block state. Text and thinking accumulate so the done
	// tuple carries the full string; tool_use keeps its call id.
	type blockState struct {
		kind   string // "text" | "thinking" | "tool_use"
		callID string
		text   strings.Builder
	}
	blocks := map[int]*blockState{}
	usage := ai.Usage{}

	reader := sse.NewReader(resp.Body)
	for {
		ev, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("anthropic: sse read: %w", err)
		}
		if ev.Data == "" {
			continue
		}

		switch ev.Type {
		case "message_start":
			var ms evMessageStart
			if json.Unmarshal([]byte(ev.Data), &ms) == nil {
				usage.PromptTokens = ms.Message.Usage.InputTokens
				usage.CacheReadTokens = ms.Message.Usage.CacheReadInputTokens
				usage.CacheWriteTokens = ms.Message.Usage.CacheCreationInputTokens
				u := usage
				events <- ai.StreamEvent{Type: ai.StreamUsage, Usage: &u}
			}

		case "content_block_start":
			var cbs evContentBlockStart
			if json.Unmarshal([]byte(ev.Data), &cbs) != nil {
				continue
			}
			bs := &blockState{kind: cbs.ContentBlock.Type}
			blocks[cbs.Index] = bs
			switch cbs.ContentBlock.Type {
			case "text":
				events <- ai.StreamEvent{Type: ai.StreamTextStart}
			case "thinking":
				events <- ai.StreamEvent{Type: ai.StreamThinkingStart}
			case "tool_use":
				bs.callID = cbs.ContentBlock.ID
				if bs.callID == "" {
					bs.callID = "call_" + uuid.New().String()[:8]
				}
				events <- ai.StreamEvent{
					Type:   ai.StreamToolCallStart,
					CallID: bs.callID,
					Name:   cbs.ContentBlock.Name,
				}
			}

		case "content_block_delta":
			var cbd evContentBlockDelta
			if json.Unmarshal([]byte(ev.Data), &cbd) != nil {
				continue
			}
			bs := blocks[cbd.Index]
			if bs == nil {
				continue
			}
			switch cbd.Delta.Type {
			case "text_delta":
				bs.text.WriteString(cbd.Delta.Text)
				events <- ai.StreamEvent{Type: ai.StreamTextDelta, Delta: cbd.Delta.Text}
			case "thinking_delta":
				bs.text.WriteString(cbd.Delta.Thinking)
				events <- ai.StreamEvent{Type: ai.StreamThinkingDelta, Delta: cbd.Delta.Thinking}
			case "input_json_delta":
				events <- ai.StreamEvent{Type: ai.StreamToolCallDelta, CallID: bs.callID, Delta: cbd.Delta.PartialJSON}
			}

		case "content_block_stop":
			var idx struct {
				Index int `json:"index"`
			}
			if json.Unmarshal([]byte(ev.Data), &idx) != nil {
				continue
			}
			bs := blocks[idx.Index]
			if bs == nil {
				continue
			}
			switch bs.kind {
			case "text":
				events <- ai.StreamEvent{Type: ai.StreamTextDone, Text: bs.text.String()}
			case "thinking":
				events <- ai.StreamEvent{Type: ai.StreamThinkingDone, Text: bs.text.String()}
			case "tool_use":
				events <- ai.StreamEvent{Type: ai.StreamToolCallDone, CallID: bs.callID}
			}

		case "message_delta":
			var md evMessageDelta
			if json.Unmarshal([]byte(ev.Data), &md) == nil {
				usage.CompletionTokens = md.Usage.OutputTokens
				usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens +
					usage.CacheReadTokens + usage.CacheWriteTokens
			}

		case "message_stop":
			u := usage
			events <- ai.StreamEvent{Type: ai.StreamResponseDone, Usage: &u}
			return nil

		case "error":
			var ee evError
			_ = json.Unmarshal([]byte(ev.Data), &ee)
			return fmt.Errorf("anthropic: %s: %s", ee.Error.Type, ee.Error.Message)
		}
	}

	// Stream ended without message_stop; still terminate cleanly.
	u := usage
	events <- ai.StreamEvent{Type: ai.StreamResponseDone, Usage: &u}
	return nil
}

// ---------------------------------------------------------------------------
// Message conversion
// ---------------------------------------------------------------------------

func convertMessages(msgs []ai.Message) []wireMessage {
	var out []wireMessage
	for _, m := range msgs {
		switch m.Role {
		case ai.RoleUser, ai.RoleSystem:
			out = append(out, wireMessage{
				Role:    "user",
				Content: []wireContent{{Type: "text", Text: m.Content}},
			})

		case ai.RoleAssistant:
			var content []wireContent
			if m.Content != "" {
				content = append(content, wireContent{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				content = append(content, wireContent{
					Type:  "tool_use",
					ID:    tc.CallID,
					Name:  tc.Name,
					Input: tc.Arguments,
				})
			}
			if len(content) == 0 {
				continue
			}
			out = append(out, wireMessage{Role: "assistant", Content: content})

		case ai.RoleToolCall:
			out = append(out, wireMessage{
				Role: "assistant",
				Content: []wireContent{{
					Type: "tool_use",
					ID:   m.CallID,
					Name: m.Name,
				}},
			})

		case ai.RoleToolResult:
			block := wireContent{
				Type:      "tool_result",
				ToolUseID: m.CallID,
				Content:   []wireContent{{Type: "text", Text: m.Content}},
				IsError:   m.IsError(),
			}
			// All results for one assistant turn go in a single user message.
			if n := len(out); n > 0 && out[n-1].Role == "user" && len(out[n-1].Content) > 0 && out[n-1].Content[0].Type == "tool_result" {
				out[n-1].Content = append(out[n-1].Content, block)
			} else {
				out = append(out, wireMessage{Role: "user", Content: []wireContent{block}})
			}
		}
	}
	return out
}
