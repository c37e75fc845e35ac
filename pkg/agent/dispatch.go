package agent

import (
	"encoding/json"

	"github.com/opal-agent/opal/pkg/ai"
)

// turnState accumulates one provider response. It is created fresh for every
// request and discarded at the turn boundary, so the transient fields can
// never leak across turns.
type turnState struct {
	text     string
	thinking string
	partials []*ai.PartialToolCall
	usage    *ai.Usage // inline usage from usage/response_done tuples
	err      error

	messageStarted  bool
	thinkingStarted bool
	tags            tagScanner
}

// emitFn publishes one bus event from the dispatcher.
type emitFn func(eventType string, payload map[string]any)

// apply folds one provider tuple into the turn state, emitting public events
// as a side effect. Returns true when the tuple was terminal for the request.
func (t *turnState) apply(ev ai.StreamEvent, emit emitFn) (done bool) {
	switch ev.Type {
	case ai.StreamTextStart:
		t.messageStarted = true
		emit(EventMessageStart, nil)

	case ai.StreamTextDelta:
		if !t.messageStarted {
			t.messageStarted = true
			emit(EventMessageStart, nil)
		}
		clean, statuses := t.tags.Feed(ev.Delta)
		for _, s := range statuses {
			emit(EventStatusUpdate, map[string]any{"message": s})
		}
		if clean != "" {
			t.text += clean
			emit(EventMessageDelta, map[string]any{"delta": clean})
		}

	case ai.StreamTextDone:
		if tail := t.tags.Flush(); tail != "" {
			t.text += tail
			emit(EventMessageDelta, map[string]any{"delta": tail})
		}
		if ev.Text != "" {
			t.text = ev.Text
		}

	case ai.StreamThinkingStart:
		t.thinkingStarted = true
		emit(EventThinkingStart, nil)

	case ai.StreamThinkingDelta:
		// Providers differ on whether a thinking_start precedes the first
		// delta; synthesize one when absent.
		if !t.thinkingStarted {
			t.thinkingStarted = true
			emit(EventThinkingStart, nil)
		}
		t.thinking += ev.Delta
		emit(EventThinkingDelta, map[string]any{"delta": ev.Delta})

	case ai.StreamThinkingDone:
		if ev.Text != "" {
			t.thinking = ev.Text
		}

	case ai.StreamToolCallStart:
		p := t.findPartial(ev)
		if p == nil {
			p = &ai.PartialToolCall{}
			t.partials = append(t.partials, p)
		}
		p.CallID = ev.CallID
		p.ItemID = ev.ItemID
		if ev.HasCallIndex {
			p.CallIndex = ev.CallIndex
			p.HasCallIndex = true
		}
		if ev.Name != "" {
			p.Name = ev.Name
		}

	case ai.StreamToolCallDelta:
		p := t.findPartial(ev)
		if p == nil {
			p = t.lastIncomplete()
		}
		if p == nil {
			p = &ai.PartialToolCall{CallID: ev.CallID, ItemID: ev.ItemID, Name: ev.Name}
			if ev.HasCallIndex {
				p.CallIndex = ev.CallIndex
				p.HasCallIndex = true
			}
			t.partials = append(t.partials, p)
		}
		p.ArgumentsJSON += ev.Delta

	case ai.StreamToolCallDone:
		p := t.findPartial(ev)
		if p == nil {
			p = t.lastIncomplete()
		}
		if p == nil {
			p = &ai.PartialToolCall{CallID: ev.CallID, ItemID: ev.ItemID}
			t.partials = append(t.partials, p)
		}
		if ev.Name != "" {
			p.Name = ev.Name
		}
		if ev.Arguments != nil {
			// Structured arguments win over the accumulated JSON buffer.
			if j, ok := anyToJSON(ev.Arguments); ok {
				p.ArgumentsJSON = j
			}
		}
		p.Done = true

	case ai.StreamUsage:
		if ev.Usage != nil {
			t.usage = ev.Usage
		}

	case ai.StreamResponseDone:
		if ev.Usage != nil {
			t.usage = ev.Usage
		}
		if tail := t.tags.Flush(); tail != "" {
			t.text += tail
			emit(EventMessageDelta, map[string]any{"delta": tail})
		}
		return true

	case ai.StreamError:
		t.err = ev.Err
		return true
	}
	return false
}

// findPartial matches a tuple to an open partial by CallID, then ItemID,
// then CallIndex, in that priority.
func (t *turnState) findPartial(ev ai.StreamEvent) *ai.PartialToolCall {
	if ev.CallID != "" {
		for _, p := range t.partials {
			if p.CallID == ev.CallID {
				return p
			}
		}
	}
	if ev.ItemID != "" {
		for _, p := range t.partials {
			if p.ItemID == ev.ItemID {
				return p
			}
		}
	}
	if ev.HasCallIndex {
		for _, p := range t.partials {
			if p.HasCallIndex && p.CallIndex == ev.CallIndex {
				return p
			}
		}
	}
	return nil
}

func (t *turnState) lastIncomplete() *ai.PartialToolCall {
	for i := len(t.partials) - 1; i >= 0; i-- {
		if !t.partials[i].Done {
			return t.partials[i]
		}
	}
	return nil
}

// toolCalls finalizes the accumulated partials in declaration order.
func (t *turnState) toolCalls() []ai.ToolCall {
	if len(t.partials) == 0 {
		return nil
	}
	out := make([]ai.ToolCall, 0, len(t.partials))
	for _, p := range t.partials {
		out = append(out, p.Finalize())
	}
	return out
}

// assistantMessage flushes the turn into a path message.
func (t *turnState) assistantMessage() ai.Message {
	m := ai.NewMessage(ai.RoleAssistant, t.text)
	m.Thinking = t.thinking
	m.ToolCalls = t.toolCalls()
	return m
}

func anyToJSON(args map[string]any) (string, bool) {
	b, err := json.Marshal(args)
	if err != nil {
		return "", false
	}
	return string(b), true
}
