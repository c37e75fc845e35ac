package agent_test

import (
	"testing"
	"time"

	"github.com/opal-agent/opal/pkg/agent"
	"github.com/opal-agent/opal/pkg/ai"
	"github.com/opal-agent/opal/pkg/bus"
	"github.com/opal-agent/opal/pkg/session"
)

func TestSession_CleanClose(t *testing.T) {
	prov := &scriptProvider{scripts: [][]ai.StreamEvent{textTurn("ok")}}
	b := bus.New()
	s := agent.StartSession(agent.Options{
		Model:    ai.Model{Provider: "script", ID: "test"},
		Provider: prov,
		Bus:      b,
	}, "")

	events, _ := s.Agent().Stream("hi")
	got := drain(t, events)
	if got[len(got)-1].Type != agent.EventAgentEnd {
		t.Fatalf("terminal = %q", got[len(got)-1].Type)
	}

	s.Close()
	if n := b.SubscriberCount(s.Agent().SessionID()); n != 0 {
		t.Errorf("subscribers after close = %d", n)
	}
}

func TestSession_RestartAfterCrashEmitsRecovered(t *testing.T) {
	prov := &scriptProvider{scripts: [][]ai.StreamEvent{textTurn("ok")}}
	b := bus.New()
	store := session.NewInMemory(t.TempDir())

	s := agent.StartSession(agent.Options{
		Model:    ai.Model{Provider: "script", ID: "test"},
		Provider: prov,
		Store:    store,
		Bus:      b,
	}, "")
	defer s.Close()

	sub, detach := b.Subscribe(s.ID())
	defer detach()

	old := s.Agent()
	old.Kill("induced crash")

	waitFor(t, sub.Events, agent.EventAgentRecovered)

	// A new agent serves the same session, with the conversation intact.
	fresh := s.Agent()
	if fresh == old {
		t.Fatal("agent was not replaced")
	}
	if fresh.SessionID() != old.SessionID() {
		t.Errorf("session id changed: %s -> %s", old.SessionID(), fresh.SessionID())
	}

	events, _ := fresh.Stream("still there?")
	got := drain(t, events)
	if got[len(got)-1].Type != agent.EventAgentEnd {
		t.Fatalf("recovered agent cannot run: %v", types(got))
	}
}

func TestSession_RestartReloadsFileBackedStore(t *testing.T) {
	dir := t.TempDir()
	store, err := session.Create(dir, dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.AppendToLeaf(ai.UserMessage("before the crash")); err != nil {
		t.Fatal(err)
	}

	prov := &scriptProvider{scripts: [][]ai.StreamEvent{textTurn("ok")}}
	b := bus.New()
	s := agent.StartSession(agent.Options{
		Model:    ai.Model{Provider: "script", ID: "test"},
		Provider: prov,
		Store:    store,
		Bus:      b,
	}, "")
	defer s.Close()

	sub, detach := b.Subscribe(s.ID())
	defer detach()

	s.Agent().Kill("induced crash")
	waitFor(t, sub.Events, agent.EventAgentRecovered)

	msgs := s.Agent().GetState().Messages
	if len(msgs) != 1 || msgs[0].Content != "before the crash" {
		t.Errorf("reloaded path = %+v", msgs)
	}

	// The recovered agent must run on the reloaded file: appends go to the
	// session file the supervisor re-opened, not a closed handle.
	events, _ := s.Agent().Stream("after the crash")
	got := drain(t, events)
	if got[len(got)-1].Type != agent.EventAgentEnd {
		t.Fatalf("recovered agent cannot run: %v", types(got))
	}
	if msgs := s.Agent().GetState().Messages; len(msgs) != 3 {
		t.Errorf("path after the recovered run has %d messages, want 3", len(msgs))
	}
}

func TestSession_CloseDuringWatchDoesNotRestart(t *testing.T) {
	prov := &scriptProvider{scripts: [][]ai.StreamEvent{textTurn("ok")}}
	b := bus.New()
	s := agent.StartSession(agent.Options{
		Model:    ai.Model{Provider: "script", ID: "test"},
		Provider: prov,
		Bus:      b,
	}, "")

	id := s.ID()
	sub, detach := b.Subscribe(id)
	s.Close()
	detach()

	select {
	case e, ok := <-sub.Events:
		if ok && e.Type == agent.EventAgentRecovered {
			t.Error("restart after clean close")
		}
	case <-time.After(100 * time.Millisecond):
	}
}
