// Package bedrock implements ai.Provider for Amazon Bedrock's ConverseStream API.
//
// Authentication goes through the AWS SDK v2 credential chain:
//  1. AWS_ACCESS_KEY_ID + AWS_SECRET_ACCESS_KEY (+ optional AWS_SESSION_TOKEN)
//  2. AWS_PROFILE, a named profile from ~/.aws/credentials
//  3. ~/.aws/credentials default profile
//  4. IAM instance roles / ECS task roles / IRSA
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brdoc "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/opal-agent/opal/pkg/ai"
)

// Provider is the Amazon Bedrock streaming provider.
type Provider struct {
	Region  string
	Profile string
}

func New(region, profile string) *Provider {
	return &Provider{Region: region, Profile: profile}
}

func (p *Provider) Name() string { return "bedrock" }

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
	client, err := p.newClient(ctx)
	if err != nil {
		return fmt.Errorf("bedrock: build client: %w", err)
	}

	input := p.buildInput(model, req)
	resp, err := client.ConverseStream(ctx, input)
	if err != nil {
		return fmt.Errorf("bedrock: ConverseStream: %w", err)
	}

	// Block index from the wire to the call id of an open tool_use block,
	// plus accumulated text for text blocks.
	type blockState struct {
		kind   string // "text" | "tool_use"
		callID string
		text   string
	}
	blocks := map[int32]*blockState{}
	usage := ai.Usage{}

	stream := resp.GetStream()
	defer stream.Close()

	for event := range stream.Events() {
		switch ev := event.(type) {

		case *types.ConverseStreamOutputMemberContentBlockStart:
			cbIdx := aws.ToInt32(ev.Value.ContentBlockIndex)
			switch s := ev.Value.Start.(type) {
			case *types.ContentBlockStartMemberToolUse:
				bs := &blockState{kind: "tool_use", callID: aws.ToString(s.Value.ToolUseId)}
				blocks[cbIdx] = bs
				events <- ai.StreamEvent{
					Type:   ai.StreamToolCallStart,
					CallID: bs.callID,
					Name:   aws.ToString(s.Value.Name),
				}
			default:
				blocks[cbIdx] = &blockState{kind: "text"}
				events <- ai.StreamEvent{Type: ai.StreamTextStart}
			}

		case *types.ConverseStreamOutputMemberContentBlockDelta:
			cbIdx := aws.ToInt32(ev.Value.ContentBlockIndex)
			bs := blocks[cbIdx]
			switch d := ev.Value.Delta.(type) {
			case *types.ContentBlockDeltaMemberText:
				// Bedrock can emit text deltas without a preceding block start.
				if bs == nil {
					bs = &blockState{kind: "text"}
					blocks[cbIdx] = bs
					events <- ai.StreamEvent{Type: ai.StreamTextStart}
				}
				bs.text += d.Value
				events <- ai.StreamEvent{Type: ai.StreamTextDelta, Delta: d.Value}

			case *types.ContentBlockDeltaMemberToolUse:
				if bs == nil {
					continue
				}
				events <- ai.StreamEvent{
					Type:   ai.StreamToolCallDelta,
					CallID: bs.callID,
					Delta:  aws.ToString(d.Value.Input),
				}
			}

		case *types.ConverseStreamOutputMemberContentBlockStop:
			cbIdx := aws.ToInt32(ev.Value.ContentBlockIndex)
			bs := blocks[cbIdx]
			if bs == nil {
				continue
			}
			switch bs.kind {
			case "text":
				events <- ai.StreamEvent{Type: ai.StreamTextDone, Text: bs.text}
			case "tool_use":
				events <- ai.StreamEvent{Type: ai.StreamToolCallDone, CallID: bs.callID}
			}

		case *types.ConverseStreamOutputMemberMetadata:
			if ev.Value.Usage != nil {
				u := ev.Value.Usage
				usage.PromptTokens = int(aws.ToInt32(u.InputTokens))
				usage.CompletionTokens = int(aws.ToInt32(u.OutputTokens))
				usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
				cp := usage
				events <- ai.StreamEvent{Type: ai.StreamUsage, Usage: &cp}
			}
		}
	}

	if err := stream.Err(); err != nil {
		return fmt.Errorf("bedrock: stream error: %w", err)
	}

	u := usage
	events <- ai.StreamEvent{Type: ai.StreamResponseDone, Usage: &u}
	return nil
}

// ---------------------------------------------------------------------------
// Client + input building
// ---------------------------------------------------------------------------

func (p *Provider) newClient(ctx context.Context) (*bedrockruntime.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if p.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(p.Region))
	}
	if p.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(p.Profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	return bedrockruntime.NewFromConfig(cfg), nil
}

func (p *Provider) buildInput(model string, req ai.Request) *bedrockruntime.ConverseStreamInput {
	input := &bedrockruntime.ConverseStreamInput{
		ModelId: aws.String(model),
	}

	if req.SystemPrompt != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.SystemPrompt},
		}
	}

	ic := &types.InferenceConfiguration{}
	if req.Options.MaxTokens > 0 {
		v := int32(req.Options.MaxTokens)
		ic.MaxTokens = &v
	}
	if req.Options.Temperature != nil {
		v := float32(*req.Options.Temperature)
		ic.Temperature = &v
	}
	input.InferenceConfig = ic

	input.Messages = convertMessages(req.Messages)

	if len(req.Tools) > 0 {
		toolList := make([]types.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			var schema map[string]any
			_ = json.Unmarshal(t.Parameters, &schema)
			toolList = append(toolList, &types.ToolMemberToolSpec{
				Value: types.ToolSpecification{
					Name:        aws.String(t.Name),
					Description: aws.String(t.Description),
					InputSchema: &types.ToolInputSchemaMemberJson{
						Value: brdoc.NewLazyDocument(schema),
					},
				},
			})
		}
		input.ToolConfig = &types.ToolConfiguration{
			Tools:      toolList,
			ToolChoice: &types.ToolChoiceMemberAuto{Value: types.AutoToolChoice{}},
		}
	}

	return input
}

// ---------------------------------------------------------------------------
// Message conversion
// ---------------------------------------------------------------------------

func convertMessages(msgs []ai.Message) []types.Message {
	var out []types.Message

	appendUser := func(block types.ContentBlock) {
		// Bedrock requires all tool results for a turn in one user message.
		if n := len(out); n > 0 && out[n-1].Role == types.ConversationRoleUser {
			if _, ok := out[n-1].Content[0].(*types.ContentBlockMemberToolResult); ok {
				out[n-1].Content = append(out[n-1].Content, block)
				return
			}
		}
		out = append(out, types.Message{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{block},
		})
	}

	for _, m := range msgs {
		switch m.Role {
		case ai.RoleUser, ai.RoleSystem:
			out = append(out, types.Message{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
			})

		case ai.RoleAssistant:
			var blocks []types.ContentBlock
			if m.Content != "" {
				blocks = append(blocks, &types.ContentBlockMemberText{Value: m.Content})
			}
			for _, tc := range m.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(tc.CallID),
						Name:      aws.String(tc.Name),
						Input:     brdoc.NewLazyDocument(args),
					},
				})
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, types.Message{Role: types.ConversationRoleAssistant, Content: blocks})

		case ai.RoleToolCall:
			out = append(out, types.Message{
				Role: types.ConversationRoleAssistant,
				Content: []types.ContentBlock{&types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(m.CallID),
						Name:      aws.String(m.Name),
						Input:     brdoc.NewLazyDocument(map[string]any{}),
					},
				}},
			})

		case ai.RoleToolResult:
			status := types.ToolResultStatusSuccess
			if m.IsError() {
				status = types.ToolResultStatusError
			}
			appendUser(&types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(m.CallID),
					Status:    status,
					Content: []types.ToolResultContentBlock{
						&types.ToolResultContentBlockMemberText{Value: m.Content},
					},
				},
			})
		}
	}
	return out
}
