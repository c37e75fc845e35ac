// Package openai implements ai.Provider for the OpenAI chat-completions API
// (streaming). It also works against any OpenAI-compatible endpoint (Groq,
// OpenRouter, local inference servers) by setting BaseURL.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/opal-agent/opal/pkg/ai"
	"github.com/opal-agent/opal/pkg/ai/sse"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Provider is the OpenAI streaming provider (chat completions).
type Provider struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New creates a Provider. Pass "" for baseURL to use the default OpenAI endpoint.
func New(baseURL string) *Provider {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Provider{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

func (p *Provider) Name() string { return "openai" }

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"` // "function"
	Function wireToolFunc `json:"function"`
}

type wireToolFunc struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type wireToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"` // "function"
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"` // JSON string
	} `json:"function"`
}

type wireRequest struct {
	Model         string        `json:"model"`
	Messages      []wireMessage `json:"messages"`
	Tools         []wireTool    `json:"tools,omitempty"`
	Stream        bool          `json:"stream"`
	MaxTokens     int           `json:"max_tokens,omitempty"`
	Temperature   *float64      `json:"temperature,omitempty"`
	StreamOptions *struct {
		IncludeUsage bool `json:"include_usage"`
	} `json:"stream_options,omitempty"`
}

// SSE chunk types
type chunkDelta struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []wireToolCall `json:"tool_calls"`
}

type chunkChoice struct {
	Delta        chunkDelta `json:"delta"`
	FinishReason string     `json:"finish_reason"`
}

type chunkUsage struct {
	PromptTokens        int `json:"prompt_tokens"`
	CompletionTokens    int `json:"completion_tokens"`
	TotalTokens         int `json:"total_tokens"`
	PromptTokensDetails *struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details,omitempty"`
}

type streamChunk struct {
	Choices []chunkChoice `json:"choices"`
	Usage   *chunkUsage   `json:"usage"`
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
	wr := buildRequest(model, req)

	body, _ := json.Marshal(wr)
	baseURL := p.BaseURL
	if req.Options.BaseURL != "" {
		baseURL = req.Options.BaseURL
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.Options.APIKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.HTTPClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("openai: HTTP %d: %s", resp.StatusCode, string(b))
	}

	// Chat completions identifies tool calls by a per-choice index; the id
	// arrives on the first delta only, so both keys are carried.
	type tcState struct {
		callID string
		opened bool
	}
	calls := map[int]*tcState{}
	var text string
	textOpen := false
	usage := ai.Usage{}

	closeText := func() {
		if textOpen {
			events <- ai.StreamEvent{Type: ai.StreamTextDone, Text: text}
			textOpen = false
		}
	}
	closeCalls := func() {
		idxs := make([]int, 0, len(calls))
		for i := range calls {
			idxs = append(idxs, i)
		}
		sort.Ints(idxs)
		for _, i := range idxs {
			if calls[i].opened {
				events <- ai.StreamEvent{
					Type:         ai.StreamToolCallDone,
					CallID:       calls[i].callID,
					CallIndex:    i,
					HasCallIndex: true,
				}
				calls[i].opened = false
			}
		}
	}

	reader := sse.NewReader(resp.Body)
	for {
		ev, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("openai: sse read: %w", err)
		}
		if ev.Data == "" {
			continue
		}
		if ev.Data == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			continue
		}

		if chunk.Usage != nil {
			usage.PromptTokens = chunk.Usage.PromptTokens
			usage.CompletionTokens = chunk.Usage.CompletionTokens
			usage.TotalTokens = chunk.Usage.TotalTokens
			if chunk.Usage.PromptTokensDetails != nil {
				usage.CacheReadTokens = chunk.Usage.PromptTokensDetails.CachedTokens
			}
			u := usage
			events <- ai.StreamEvent{Type: ai.StreamUsage, Usage: &u}
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta

		if delta.Content != "" {
			if !textOpen {
				events <- ai.StreamEvent{Type: ai.StreamTextStart}
				textOpen = true
			}
			text += delta.Content
			events <- ai.StreamEvent{Type: ai.StreamTextDelta, Delta: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			st := calls[tc.Index]
			if st == nil {
				st = &tcState{}
				calls[tc.Index] = st
			}
			if tc.ID != "" {
				st.callID = tc.ID
			}
			if tc.Function.Name != "" {
				closeText()
				st.opened = true
				events <- ai.StreamEvent{
					Type:         ai.StreamToolCallStart,
					CallID:       st.callID,
					CallIndex:    tc.Index,
					HasCallIndex: true,
					Name:         tc.Function.Name,
				}
			}
			if tc.Function.Arguments != "" {
				events <- ai.StreamEvent{
					Type:         ai.StreamToolCallDelta,
					CallID:       st.callID,
					CallIndex:    tc.Index,
					HasCallIndex: true,
					Delta:        tc.Function.Arguments,
				}
			}
		}

		if chunk.Choices[0].FinishReason != "" {
			closeText()
			closeCalls()
		}
	}

	closeText()
	closeCalls()
	u := usage
	events <- ai.StreamEvent{Type: ai.StreamResponseDone, Usage: &u}
	return nil
}

// ---------------------------------------------------------------------------
// Request building
// ---------------------------------------------------------------------------

func buildRequest(model string, req ai.Request) wireRequest {
	wr := wireRequest{
		Model:       model,
		Stream:      true,
		MaxTokens:   req.Options.MaxTokens,
		Temperature: req.Options.Temperature,
		StreamOptions: &struct {
			IncludeUsage bool `json:"include_usage"`
		}{IncludeUsage: true},
	}

	if req.SystemPrompt != "" {
		wr.Messages = append(wr.Messages, wireMessage{Role: "system", Content: req.SystemPrompt})
	}

	for _, m := range req.Messages {
		switch m.Role {
		case ai.RoleSystem:
			wr.Messages = append(wr.Messages, wireMessage{Role: "system", Content: m.Content})

		case ai.RoleUser:
			wr.Messages = append(wr.Messages, wireMessage{Role: "user", Content: m.Content})

		case ai.RoleAssistant:
			wm := wireMessage{Role: "assistant", Content: m.Content}
			for _, tc := range m.ToolCalls {
				wm.ToolCalls = append(wm.ToolCalls, convertToolCall(tc))
			}
			wr.Messages = append(wr.Messages, wm)

		case ai.RoleToolCall:
			wr.Messages = append(wr.Messages, wireMessage{
				Role:      "assistant",
				ToolCalls: []wireToolCall{convertToolCall(ai.ToolCall{CallID: m.CallID, Name: m.Name})},
			})

		case ai.RoleToolResult:
			wr.Messages = append(wr.Messages, wireMessage{
				Role:       "tool",
				ToolCallID: m.CallID,
				Content:    m.Content,
			})
		}
	}

	for _, t := range req.Tools {
		wr.Tools = append(wr.Tools, wireTool{
			Type: "function",
			Function: wireToolFunc{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	return wr
}

func convertToolCall(tc ai.ToolCall) wireToolCall {
	wc := wireToolCall{ID: tc.CallID, Type: "function"}
	wc.Function.Name = tc.Name
	args := tc.Arguments
	if args == nil {
		args = map[string]any{}
	}
	raw, _ := json.Marshal(args)
	wc.Function.Arguments = string(raw)
	return wc
}
