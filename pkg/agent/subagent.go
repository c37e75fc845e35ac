package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/opal-agent/opal/pkg/bus"
	"github.com/opal-agent/opal/pkg/session"
	"github.com/opal-agent/opal/pkg/tools"
)

// Sub-agents are full agents on their own sessions. The parent observes the
// child only through its event stream: every child event is re-broadcast on
// the parent's channel wrapped in a sub_agent_event carrying the lineage
// (ancestor session ids, oldest first) and the tool call that spawned it.

// maxSubAgentDepth bounds nesting; a child at the limit gets no sub_agent
// tool.
const maxSubAgentDepth = 3

// subAgentSpawner is the built-in tools.Spawner wired when
// Features.SubAgents is on.
type subAgentSpawner struct {
	parent  *Agent
	lineage []string
}

// SpawnSubAgent runs a child agent to completion and returns its final
// assistant text. Called from a tool goroutine, never the parent's actor, so
// all parent state is read through GetState.
func (s *subAgentSpawner) SpawnSubAgent(ctx context.Context, parentCallID string, spec tools.SubAgentSpec) (string, error) {
	p := s.parent
	st := p.GetState()
	lineage := append(append([]string(nil), s.lineage...), p.id)

	reg := tools.NewRegistry()
	if p.registry != nil {
		for name, t := range p.registry.Snapshot().Subset(spec.Tools) {
			if name == "sub_agent" && len(lineage) >= maxSubAgentDepth {
				continue
			}
			reg.Register(t)
		}
	}

	systemPrompt := spec.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = st.SystemPrompt
	}

	child := New(Options{
		Model:        st.Model,
		Provider:     p.provider,
		SystemPrompt: systemPrompt,
		WorkingDir:   st.WorkingDir,
		Tools:        reg,
		Store:        session.NewInMemory(st.WorkingDir),
		Bus:          p.bus,
		Classifier:   p.classifier,
		Stream:       p.streamOpts,
		MaxRetries:   p.maxRetries,
		MaxTurns:     p.maxTurns,
		Compaction:   p.compaction,
		Logger:       p.logger,
		Tracer:       p.tracer,
		Spawner:      &subAgentSpawner{parent: p, lineage: lineage},
	})
	defer func() {
		child.Close()
		p.bus.DropSession(child.SessionID())
	}()

	stopOnCancel := make(chan struct{})
	defer close(stopOnCancel)
	go func() {
		select {
		case <-ctx.Done():
			child.Stop()
		case <-stopOnCancel:
		}
	}()

	events, _ := child.Stream(spec.Prompt)

	var finalText string
	var runErr error
	for e := range events {
		p.bus.Broadcast(p.id, bus.Event{
			Type: EventSubAgent,
			Payload: map[string]any{
				"lineage": lineage,
				"call_id": parentCallID,
				"event":   e,
			},
		})
		switch e.Type {
		case EventAgentEnd:
			finalText, _ = e.Payload["final_text"].(string)
		case EventAgentAbort:
			runErr = errors.New("sub-agent was stopped before finishing")
		case EventError:
			msg, _ := e.Payload["error"].(string)
			runErr = fmt.Errorf("sub-agent failed: %s", msg)
		}
	}
	if runErr != nil {
		return "", runErr
	}
	return finalText, nil
}

// ---------------------------------------------------------------------------
// sub_agent tool
// ---------------------------------------------------------------------------

// SubAgentTool delegates a self-contained task to a child agent.
type SubAgentTool struct{}

func (SubAgentTool) Name() string { return "sub_agent" }

func (SubAgentTool) Description() string {
	return "Run a child agent on a self-contained task and return its final answer. " +
		"The child starts with no conversation history: the prompt must stand alone."
}

func (SubAgentTool) Parameters() json.RawMessage {
	return tools.MustSchema(tools.SimpleSchema{
		Properties: map[string]tools.Property{
			"prompt": {
				Type:        "string",
				Description: "Complete, standalone task description for the child agent",
			},
			"system_prompt": {
				Type:        "string",
				Description: "Optional system prompt override for the child",
			},
			"tools": {
				Type:        "array",
				Description: "Tool names the child may use; omit to inherit all",
			},
		},
		Required: []string{"prompt"},
	})
}

func (SubAgentTool) Meta(args map[string]any) string {
	prompt, _ := args["prompt"].(string)
	prompt = strings.ReplaceAll(prompt, "\n", " ")
	if len(prompt) > 60 {
		prompt = prompt[:60] + "…"
	}
	return prompt
}

func (SubAgentTool) Execute(ctx context.Context, args map[string]any, tc tools.Context) (tools.Result, error) {
	if tc.Spawner == nil {
		return tools.Result{}, errors.New("sub-agents are disabled for this session")
	}
	prompt, _ := args["prompt"].(string)
	if strings.TrimSpace(prompt) == "" {
		return tools.Result{}, errors.New("prompt must not be empty")
	}

	spec := tools.SubAgentSpec{
		Prompt:       prompt,
		SystemPrompt: argString(args, "system_prompt"),
	}
	if names, ok := args["tools"].([]any); ok {
		for _, n := range names {
			if s, ok := n.(string); ok {
				spec.Tools = append(spec.Tools, s)
			}
		}
	}

	text, err := tc.Spawner.SpawnSubAgent(ctx, tc.CallID, spec)
	if err != nil {
		return tools.Result{}, err
	}
	if text == "" {
		text = "(sub-agent finished with no final text)"
	}
	return tools.TextResult(text), nil
}
