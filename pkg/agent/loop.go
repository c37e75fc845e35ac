package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/opal-agent/opal/pkg/ai"
	"github.com/opal-agent/opal/pkg/tools"
)

// runPrompt executes one prompt to completion inside the actor goroutine.
// A panic inside the run is confined to it; the actor stays alive and the
// session surfaces an error event.
func (a *Agent) runPrompt(text string) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("agent run panicked", "panic", r, "stack", string(debug.Stack()))
			a.status = StatusIdle
			a.current = nil
			a.pendingCallIDs = nil
			a.emit(EventError, map[string]any{"error": fmt.Sprintf("internal error: %v", r)})
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.stopping = false
	a.retryAttempt = 0
	a.flushAnnouncements()

	if _, err := a.store.AppendToLeaf(ai.UserMessage(text)); err != nil {
		a.emit(EventError, map[string]any{"error": err.Error()})
		return
	}

	a.status = StatusRunning
	a.emit(EventAgentStart, nil)

	finalText, aborted, failed := a.turnLoop(ctx, cancel)

	a.status = StatusIdle
	a.current = nil
	a.pendingCallIDs = nil
	a.retryAttempt = 0

	switch {
	case aborted:
		a.emit(EventAgentAbort, nil)
	case failed:
		// The error event was already emitted where the failure was decided.
	default:
		a.emit(EventAgentEnd, map[string]any{
			"usage":      a.usage.snapshot(a.store.Path(), a.model.ContextWindow),
			"final_text": finalText,
		})
	}
}

// turnLoop runs provider-call turns until the model stops asking for tools,
// the run is stopped, or an unrecoverable error surfaces.
func (a *Agent) turnLoop(ctx context.Context, cancel context.CancelFunc) (finalText string, aborted, failed bool) {
	turns := 0
	for {
		if a.stopping || ctx.Err() != nil {
			return "", true, false
		}

		// Turn boundary: the only place steering enters the path and the
		// only place compaction rewrites it. Commands already sitting in the
		// mailbox are serviced first so a steer sent before the previous
		// tool finished is guaranteed to make this request.
		a.status = StatusRunning
		if a.drainMailbox(cancel) {
			return "", true, false
		}
		a.drainSteers()

		if a.overflowDetected {
			if !a.recoverOverflow(ctx) {
				return "", false, true
			}
		}
		a.maybeAutoCompact(ctx)

		if a.maxTurns > 0 && turns >= a.maxTurns {
			a.emit(EventStatusUpdate, map[string]any{
				"message": fmt.Sprintf("stopping: reached the %d-turn limit", a.maxTurns),
			})
			return finalText, false, false
		}
		turns++
		if a.taskDB != nil {
			if err := a.taskDB.IncrTurns(ctx, a.id); err != nil {
				a.logger.Warn("taskdb turn counter", "error", err)
			}
		}

		set := a.snapshotTools()
		ts, stopped, err := a.streamOnce(ctx, cancel, set)
		if stopped {
			return "", true, false
		}
		if err == nil && ts.err != nil {
			err = ts.err
		}
		if err != nil {
			retry, fail := a.handleRequestError(ctx, cancel, err)
			if fail {
				return "", false, true
			}
			if retry {
				continue
			}
			return "", true, false // stopped during backoff
		}
		a.retryAttempt = 0

		if ts.usage != nil && ai.UsageOverflow(ts.usage.PromptTokens, a.model.ContextWindow) {
			a.overflowDetected = true
		}

		msg := ts.assistantMessage()
		if _, err := a.store.AppendToLeaf(msg); err != nil {
			a.emit(EventError, map[string]any{"error": err.Error()})
			return "", false, true
		}
		a.emit(EventUsageUpdate, map[string]any{
			"usage": a.usage.snapshot(a.store.Path(), a.model.ContextWindow),
		})

		calls := ts.toolCalls()
		if len(calls) == 0 {
			a.emit(EventTurnEnd, nil)
			// A steer that arrived too late for this request starts another
			// turn instead of ending the run.
			if len(a.steerQueue) > 0 {
				finalText = ts.text
				continue
			}
			return ts.text, false, false
		}

		a.status = StatusExecutingTools
		if a.runTools(ctx, cancel, calls, set) {
			return "", true, false
		}
		a.emit(EventTurnEnd, nil)
	}
}

// streamOnce issues one provider request and folds its stream into a fresh
// turn state. Mailbox commands are serviced between stream events; a stop
// cancels the request and drains the stream.
func (a *Agent) streamOnce(ctx context.Context, cancel context.CancelFunc, set tools.Set) (*turnState, bool, error) {
	path := a.store.Path()

	var defs []ai.ToolDefinition
	for _, t := range set.Definitions() {
		defs = append(defs, tools.Definition(t))
	}

	ctx, endSpan := a.startSpan(ctx, "llm.stream")
	stream, err := a.provider.Stream(ctx, a.model.ID, ai.Request{
		SystemPrompt: a.systemPrompt,
		Messages:     path,
		Tools:        defs,
		Options:      a.streamOpts,
	})
	if err != nil {
		endSpan(err)
		return nil, false, err
	}

	a.status = StatusStreaming
	ts := &turnState{}
	a.current = ts
	defer func() {
		a.current = nil
		endSpan(ts.err)
	}()

	for {
		select {
		case ev, ok := <-stream.Events:
			if !ok {
				return ts, false, ts.err
			}
			if ev.Usage != nil && (ev.Type == ai.StreamUsage || ev.Type == ai.StreamResponseDone) {
				a.usage.record(*ev.Usage, len(path))
			}
			ts.apply(ev, a.emit)

		case cmd := <-a.mailbox:
			if a.handleBusy(cmd, cancel) {
				stream.Cancel()
				for range stream.Events {
				}
				return ts, true, nil
			}
		}
	}
}

// handleRequestError classifies a provider failure and decides the loop's
// next move: retry the request, fail the run, or neither (stopped while
// waiting out the backoff).
func (a *Agent) handleRequestError(ctx context.Context, cancel context.CancelFunc, err error) (retry, fail bool) {
	switch a.classifier.Classify(err.Error()) {
	case ai.ErrorOverflow:
		a.overflowDetected = true
		// No error event: overflow is recovered locally through compaction.
		a.logger.Info("context overflow, compacting", "error", err)
		if !a.recoverOverflow(ctx) {
			return false, true
		}
		return true, false

	case ai.ErrorPermanent:
		a.emit(EventError, map[string]any{"error": err.Error(), "class": "permanent"})
		return false, true

	default: // transient
		a.retryAttempt++
		if a.retryAttempt > a.maxRetries {
			a.emit(EventError, map[string]any{
				"error": fmt.Sprintf("giving up after %d retries: %v", a.maxRetries, err),
				"class": "transient",
			})
			return false, true
		}
		delay := retryDelay(a.retryAttempt)
		a.logger.Warn("transient provider error, retrying",
			"attempt", a.retryAttempt, "delay", delay, "error", err)
		a.emit(EventStatusUpdate, map[string]any{
			"message": fmt.Sprintf("retrying in %s (attempt %d/%d)", delay, a.retryAttempt, a.maxRetries),
		})
		if !a.sleep(ctx, cancel, delay) {
			return false, false
		}
		return true, false
	}
}

// recoverOverflow runs a forced compaction with the aggressive overflow keep
// budget. Returns false when the run cannot continue; in that case the error
// event has been emitted.
func (a *Agent) recoverOverflow(ctx context.Context) bool {
	keep := DefaultKeepRecentTokens
	if w := a.model.ContextWindow; w > 0 {
		keep = w / overflowKeepDivisor
	}
	compacted, err := a.compact(ctx, keep, true)
	if err != nil {
		a.emit(EventError, map[string]any{"error": fmt.Sprintf("overflow recovery: %v", err)})
		return false
	}
	if !compacted {
		a.emit(EventError, map[string]any{"error": "context overflow: conversation cannot be compacted further"})
		return false
	}
	a.overflowDetected = false
	return true
}

// drainMailbox services queued commands without blocking. Returns true on
// stop.
func (a *Agent) drainMailbox(cancel context.CancelFunc) bool {
	for {
		select {
		case cmd := <-a.mailbox:
			if a.handleBusy(cmd, cancel) {
				return true
			}
		default:
			return false
		}
	}
}

// sleep waits out a backoff while still servicing the mailbox. Returns false
// when the run was stopped.
func (a *Agent) sleep(ctx context.Context, cancel context.CancelFunc, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			return true
		case <-ctx.Done():
			return false
		case cmd := <-a.mailbox:
			if a.handleBusy(cmd, cancel) {
				return false
			}
		}
	}
}
