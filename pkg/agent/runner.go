package agent

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/opal-agent/opal/pkg/ai"
	"github.com/opal-agent/opal/pkg/tools"
)

// toolOutcome carries one finished call back to the actor with its position
// in the declaration order.
type toolOutcome struct {
	idx int
	res tools.Result
}

// runTools executes every call of the turn concurrently and appends the
// results to the path in call order, regardless of completion order. Mailbox
// commands are serviced while waiting, but the steer queue is not drained
// between individual dispatches or completions: queued texts enter the path
// only at the next turn boundary, after all of the batch's results, keeping
// the tool_call/tool_result adjacency the providers require. Returns true on
// stop.
func (a *Agent) runTools(ctx context.Context, cancel context.CancelFunc, calls []ai.ToolCall, set tools.Set) bool {
	tctx, tcancel := context.WithCancel(ctx)
	defer tcancel()

	results := make([]tools.Result, len(calls))
	resCh := make(chan toolOutcome, len(calls))

	tc := tools.Context{
		SessionID:  a.id,
		WorkingDir: a.workingDir,
		Spawner:    a.spawner,
	}

	for i, call := range calls {
		a.pendingCallIDs = append(a.pendingCallIDs, call.CallID)
		meta := ""
		if t := set[call.Name]; t != nil {
			meta = t.Meta(call.Arguments)
		}
		a.emit(EventToolExecStart, map[string]any{
			"tool":    call.Name,
			"call_id": call.CallID,
			"args":    call.Arguments,
			"meta":    meta,
		})
		go a.executeTool(tctx, i, call, set, tc, resCh)
	}

	for remaining := len(calls); remaining > 0; {
		select {
		case r := <-resCh:
			remaining--
			results[r.idx] = r.res
			call := calls[r.idx]
			a.emit(EventToolExecEnd, map[string]any{
				"tool":    call.Name,
				"call_id": call.CallID,
				"ok":      r.res.OK,
				"result":  r.res.Text,
			})

		case cmd := <-a.mailbox:
			if a.handleBusy(cmd, cancel) {
				// Stop abandons the in-flight tasks; their results are
				// discarded and never reach the path.
				tcancel()
				return true
			}
		}
	}

	for i, call := range calls {
		msg := ai.ToolResultMessage(call.CallID, call.Name, results[i].Text, !results[i].OK)
		if _, err := a.store.AppendToLeaf(msg); err != nil {
			a.logger.Error("append tool result", "call_id", call.CallID, "error", err)
		}
	}
	a.pendingCallIDs = nil

	if a.taskDB != nil {
		if err := a.taskDB.IncrTasks(ctx, a.id, int64(len(calls))); err != nil {
			a.logger.Warn("taskdb task counter", "error", err)
		}
	}
	return false
}

// executeTool runs one call in its own goroutine. A panic is confined to the
// call: the run keeps going and the model sees a failed result.
func (a *Agent) executeTool(ctx context.Context, idx int, call ai.ToolCall, set tools.Set, tc tools.Context, out chan<- toolOutcome) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("tool panicked",
				"tool", call.Name, "call_id", call.CallID,
				"panic", r, "stack", string(debug.Stack()))
			out <- toolOutcome{idx, tools.Result{OK: false, Text: fmt.Sprintf("error: tool %s panicked: %v", call.Name, r)}}
		}
	}()

	out <- toolOutcome{idx, a.invokeTool(ctx, call, set, tc)}
}

func (a *Agent) invokeTool(ctx context.Context, call ai.ToolCall, set tools.Set, tc tools.Context) tools.Result {
	tc.CallID = call.CallID
	t := set[call.Name]
	if t == nil {
		return tools.Result{OK: false, Text: fmt.Sprintf("error: unknown tool %q", call.Name)}
	}

	args, err := tools.ValidateAndCoerce(t, call.Arguments)
	if err != nil {
		return tools.ErrorResult(err)
	}

	ctx, endSpan := a.startSpan(ctx, "tool."+call.Name)
	res, err := t.Execute(ctx, args, tc)
	endSpan(err)
	if err != nil {
		return tools.ErrorResult(err)
	}
	return res
}
