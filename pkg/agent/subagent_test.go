package agent_test

import (
	"testing"

	"github.com/opal-agent/opal/pkg/agent"
	"github.com/opal-agent/opal/pkg/ai"
	"github.com/opal-agent/opal/pkg/bus"
	"github.com/opal-agent/opal/pkg/tools"
)

// subAgentScript answers the parent with a sub_agent call, then echoes the
// child's answer; the child itself answers with plain text.
func subAgentScripts(childText string) [][]ai.StreamEvent {
	return [][]ai.StreamEvent{
		toolTurn("c1", "sub_agent", map[string]any{"prompt": "count the files"}),
		textTurn(childText), // child's single turn
		textTurn("parent done"),
	}
}

func newSubAgentParent(t *testing.T, prov ai.Provider) (*agent.Agent, *bus.Bus) {
	t.Helper()
	b := bus.New()
	reg := tools.NewRegistry()
	reg.Register(agent.SubAgentTool{})
	a := agent.New(agent.Options{
		Model:    ai.Model{Provider: "script", ID: "test", ContextWindow: 200000},
		Provider: prov,
		Tools:    reg,
		Bus:      b,
		Features: agent.Features{SubAgents: true},
	})
	t.Cleanup(a.Close)
	return a, b
}

func TestSubAgent_FinalTextBecomesToolResult(t *testing.T) {
	prov := &scriptProvider{scripts: subAgentScripts("42 files")}
	a, _ := newSubAgentParent(t, prov)

	events, _ := a.Stream("how many files?")
	got := drain(t, events)

	if got[len(got)-1].Type != agent.EventAgentEnd {
		t.Fatalf("terminal = %q; events %v", got[len(got)-1].Type, types(got))
	}

	// The parent's second request carries the child's answer as the result.
	req := prov.request(2)
	last := req.Messages[len(req.Messages)-1]
	if last.Role != ai.RoleToolResult || last.Content != "42 files" {
		t.Errorf("tool result = %+v", last)
	}
}

func TestSubAgent_EventsForwardedWithLineage(t *testing.T) {
	prov := &scriptProvider{scripts: subAgentScripts("child answer")}
	a, _ := newSubAgentParent(t, prov)

	events, _ := a.Stream("delegate")
	got := drain(t, events)

	var forwarded []bus.Event
	for _, e := range got {
		if e.Type == agent.EventSubAgent {
			forwarded = append(forwarded, e)
		}
	}
	if len(forwarded) == 0 {
		t.Fatal("no sub_agent_event on the parent channel")
	}

	first := forwarded[0]
	lineage, ok := first.Payload["lineage"].([]string)
	if !ok || len(lineage) != 1 || lineage[0] != a.SessionID() {
		t.Errorf("lineage = %v", first.Payload["lineage"])
	}
	if first.Payload["call_id"] != "c1" {
		t.Errorf("call_id = %v", first.Payload["call_id"])
	}

	// The wrapped child events include the child's own terminal.
	var childEnd bool
	for _, e := range forwarded {
		inner, ok := e.Payload["event"].(bus.Event)
		if !ok {
			t.Fatalf("inner event payload = %T", e.Payload["event"])
		}
		if inner.Type == agent.EventAgentEnd {
			childEnd = true
		}
		if inner.SessionID == a.SessionID() {
			t.Error("child event carries the parent session id")
		}
	}
	if !childEnd {
		t.Error("child agent_end never forwarded")
	}
}

func TestSubAgent_ChildFailureIsToolError(t *testing.T) {
	prov := &scriptProvider{
		scripts: [][]ai.StreamEvent{
			toolTurn("c1", "sub_agent", map[string]any{"prompt": "doomed"}),
			nil, // child's request fails
			textTurn("parent handles it"),
		},
		errs: []error{nil, errPermanent{}, nil},
	}
	a, _ := newSubAgentParent(t, prov)

	events, _ := a.Stream("go")
	got := drain(t, events)

	if got[len(got)-1].Type != agent.EventAgentEnd {
		t.Fatalf("parent did not survive child failure: %v", types(got))
	}
	req := prov.request(2)
	last := req.Messages[len(req.Messages)-1]
	if !last.IsError() {
		t.Errorf("child failure not surfaced as error result: %+v", last)
	}
}

type errPermanent struct{}

func (errPermanent) Error() string { return "invalid_api_key: authentication failed" }

func TestSubAgent_DisabledWithoutSpawner(t *testing.T) {
	prov := &scriptProvider{scripts: [][]ai.StreamEvent{
		toolTurn("c1", "sub_agent", map[string]any{"prompt": "x"}),
		textTurn("ok"),
	}}
	b := bus.New()
	reg := tools.NewRegistry()
	reg.Register(agent.SubAgentTool{})
	a := agent.New(agent.Options{
		Model:    ai.Model{Provider: "script", ID: "test"},
		Provider: prov,
		Tools:    reg,
		Bus:      b,
		// Features.SubAgents off: no spawner is wired.
	})
	t.Cleanup(a.Close)

	events, _ := a.Stream("try it")
	drain(t, events)

	req := prov.request(1)
	last := req.Messages[len(req.Messages)-1]
	if !last.IsError() {
		t.Errorf("expected a disabled error result, got %+v", last)
	}
}
