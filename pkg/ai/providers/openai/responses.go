package openai

// ResponsesProvider implements the OpenAI Responses API (POST /responses).
//
// Key differences from chat completions:
//   - "input" items instead of "messages"; text uses "input_text"/"output_text"
//   - tool calls are "function_call" items with separate call_id and item id
//   - tool results are "function_call_output" items, not a "tool" role message
//   - reasoning arrives as "reasoning" items with summary text deltas
//   - "max_output_tokens" instead of "max_tokens"

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opal-agent/opal/pkg/ai"
	"github.com/opal-agent/opal/pkg/ai/sse"
)

// ResponsesProvider streams via the OpenAI Responses API. Set BaseURL for
// proxies that speak the Responses format.
type ResponsesProvider struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewResponses creates a ResponsesProvider. Pass "" for baseURL to use the
// default OpenAI endpoint.
func NewResponses(baseURL string) *ResponsesProvider {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &ResponsesProvider{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

func (p *ResponsesProvider) Name() string { return "openai" }

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

// Input item union; only the fields for the item's type are populated.
type respInputItem struct {
	Type string `json:"type"`
	Role string `json:"role,omitempty"`

	// role messages
	Content []respTextPart `json:"content,omitempty"`

	// type=function_call
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// type=function_call_output
	Output string `json:"output,omitempty"`
}

type respTextPart struct {
	Type string `json:"type"` // "input_text" | "output_text"
	Text string `json:"text"`
}

type respTool struct {
	Type        string          `json:"type"` // "function"
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
	Strict      bool            `json:"strict"`
}

type respReasoning struct {
	Effort  string `json:"effort,omitempty"`
	Summary string `json:"summary,omitempty"`
}

type respRequest struct {
	Model           string          `json:"model"`
	Input           []respInputItem `json:"input"`
	Tools           []respTool      `json:"tools,omitempty"`
	MaxOutputTokens int             `json:"max_output_tokens,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
	Stream          bool            `json:"stream"`
	Reasoning       *respReasoning  `json:"reasoning,omitempty"`
}

// SSE event shape; one struct covers all event types.
type respEvent struct {
	Type   string `json:"type"`
	ItemID string `json:"item_id,omitempty"`
	Delta  string `json:"delta,omitempty"`

	Item     *respItem      `json:"item,omitempty"`
	Response *respCompleted `json:"response,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type respItem struct {
	ID        string `json:"id"`
	Type      string `json:"type"` // "message" | "function_call" | "reasoning"
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type respCompleted struct {
	Status string `json:"status"`
	Usage  struct {
		InputTokens        int `json:"input_tokens"`
		OutputTokens       int `json:"output_tokens"`
		TotalTokens        int `json:"total_tokens"`
		InputTokensDetails struct {
			CachedTokens int `json:"cached_tokens"`
		} `json:"input_tokens_details"`
	} `json:"usage"`
}

// ---------------------------------------------------------------------------
// Stream
// ---------------------------------------------------------------------------

func (p *ResponsesProvider) Stream(ctx context.Context, model string, req ai.Request) (*ai.Stream, error) {
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

func (p *ResponsesProvider) stream(ctx context.Context, model string, req ai.Request, events chan<- ai.StreamEvent) error {
	wr := p.buildRequest(model, req)

	body, _ := json.Marshal(wr)
	baseURL := p.BaseURL
	if req.Options.BaseURL != "" {
		baseURL = req.Options.BaseURL
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.Options.APIKey)

	resp, err := p.HTTPClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("openai-responses: HTTP %d: %s", resp.StatusCode, string(b))
	}

	// Accumulated text per item id so done tuples carry full strings.
	type itemState struct {
		typ    string
		callID string
		name   string
		text   string
	}
	items := map[string]*itemState{}
	var usage *ai.Usage

	reader := sse.NewReader(resp.Body)
	for {
		ev, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("openai-responses: sse read: %w", err)
		}
		if ev.Data == "" || ev.Data == "[DONE]" {
			continue
		}

		var e respEvent
		if err := json.Unmarshal([]byte(ev.Data), &e); err != nil {
			continue
		}

		switch e.Type {
		case "response.output_item.added":
			if e.Item == nil {
				continue
			}
			st := &itemState{typ: e.Item.Type, callID: e.Item.CallID, name: e.Item.Name}
			items[e.Item.ID] = st
			switch e.Item.Type {
			case "message":
				events <- ai.StreamEvent{Type: ai.StreamTextStart, ItemID: e.Item.ID}
			case "reasoning":
				events <- ai.StreamEvent{Type: ai.StreamThinkingStart, ItemID: e.Item.ID}
			case "function_call":
				events <- ai.StreamEvent{
					Type:   ai.StreamToolCallStart,
					CallID: e.Item.CallID,
					ItemID: e.Item.ID,
					Name:   e.Item.Name,
				}
			}

		case "response.output_text.delta":
			if st := items[e.ItemID]; st != nil {
				st.text += e.Delta
			}
			events <- ai.StreamEvent{Type: ai.StreamTextDelta, ItemID: e.ItemID, Delta: e.Delta}

		case "response.reasoning_summary_text.delta":
			if st := items[e.ItemID]; st != nil {
				st.text += e.Delta
			}
			events <- ai.StreamEvent{Type: ai.StreamThinkingDelta, ItemID: e.ItemID, Delta: e.Delta}

		case "response.reasoning_summary_part.done":
			// Separator between summary parts.
			if st := items[e.ItemID]; st != nil {
				st.text += "\n\n"
			}

		case "response.function_call_arguments.delta":
			st := items[e.ItemID]
			callID := ""
			if st != nil {
				callID = st.callID
			}
			events <- ai.StreamEvent{
				Type:   ai.StreamToolCallDelta,
				CallID: callID,
				ItemID: e.ItemID,
				Delta:  e.Delta,
			}

		case "response.output_item.done":
			if e.Item == nil {
				continue
			}
			st := items[e.Item.ID]
			switch e.Item.Type {
			case "message":
				text := ""
				if st != nil {
					text = st.text
				}
				events <- ai.StreamEvent{Type: ai.StreamTextDone, ItemID: e.Item.ID, Text: text}
			case "reasoning":
				text := ""
				if st != nil {
					text = st.text
				}
				events <- ai.StreamEvent{Type: ai.StreamThinkingDone, ItemID: e.Item.ID, Text: text}
			case "function_call":
				var args map[string]any
				if e.Item.Arguments != "" {
					_ = json.Unmarshal([]byte(e.Item.Arguments), &args)
				}
				events <- ai.StreamEvent{
					Type:      ai.StreamToolCallDone,
					CallID:    e.Item.CallID,
					ItemID:    e.Item.ID,
					Name:      e.Item.Name,
					Arguments: args,
				}
			}

		case "response.completed":
			if e.Response != nil {
				u := &ai.Usage{
					PromptTokens:     e.Response.Usage.InputTokens,
					CompletionTokens: e.Response.Usage.OutputTokens,
					TotalTokens:      e.Response.Usage.TotalTokens,
					CacheReadTokens:  e.Response.Usage.InputTokensDetails.CachedTokens,
				}
				usage = u
				events <- ai.StreamEvent{Type: ai.StreamUsage, Usage: u}
			}

		case "response.failed", "error":
			msg := e.Message
			if msg == "" {
				msg = "response failed"
			}
			return fmt.Errorf("openai-responses: %s", msg)
		}
	}

	events <- ai.StreamEvent{Type: ai.StreamResponseDone, Usage: usage}
	return nil
}

// ---------------------------------------------------------------------------
// Request building
// ---------------------------------------------------------------------------

func (p *ResponsesProvider) buildRequest(model string, req ai.Request) respRequest {
	wr := respRequest{
		Model:           model,
		Stream:          true,
		MaxOutputTokens: req.Options.MaxTokens,
		Temperature:     req.Options.Temperature,
	}

	if level := req.Options.ThinkingLevel; level != "" && level != ai.ThinkingOff {
		wr.Reasoning = &respReasoning{Effort: mapEffort(level), Summary: "auto"}
	}

	if req.SystemPrompt != "" {
		wr.Input = append(wr.Input, respInputItem{
			Type:    "message",
			Role:    "system",
			Content: []respTextPart{{Type: "input_text", Text: req.SystemPrompt}},
		})
	}

	for _, m := range req.Messages {
		wr.Input = append(wr.Input, convertResponsesMessage(m)...)
	}

	for _, t := range req.Tools {
		wr.Tools = append(wr.Tools, respTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}

	return wr
}

func mapEffort(level ai.ThinkingLevel) string {
	switch level {
	case ai.ThinkingLow:
		return "low"
	case ai.ThinkingMedium:
		return "medium"
	default:
		return "high"
	}
}

func convertResponsesMessage(m ai.Message) []respInputItem {
	switch m.Role {
	case ai.RoleSystem:
		return []respInputItem{{
			Type:    "message",
			Role:    "system",
			Content: []respTextPart{{Type: "input_text", Text: m.Content}},
		}}

	case ai.RoleUser:
		return []respInputItem{{
			Type:    "message",
			Role:    "user",
			Content: []respTextPart{{Type: "input_text", Text: m.Content}},
		}}

	case ai.RoleAssistant:
		var items []respInputItem
		if m.Content != "" {
			items = append(items, respInputItem{
				Type:    "message",
				Role:    "assistant",
				Content: []respTextPart{{Type: "output_text", Text: m.Content}},
			})
		}
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			items = append(items, respInputItem{
				Type:      "function_call",
				CallID:    tc.CallID,
				Name:      tc.Name,
				Arguments: string(args),
			})
		}
		return items

	case ai.RoleToolCall:
		return []respInputItem{{
			Type:      "function_call",
			CallID:    m.CallID,
			Name:      m.Name,
			Arguments: "{}",
		}}

	case ai.RoleToolResult:
		return []respInputItem{{
			Type:   "function_call_output",
			CallID: m.CallID,
			Output: m.Content,
		}}
	}
	return nil
}
