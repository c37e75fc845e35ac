package agent

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/opal-agent/opal/pkg/ai"
	"github.com/opal-agent/opal/pkg/bus"
	"github.com/opal-agent/opal/pkg/session"
	"github.com/opal-agent/opal/pkg/taskdb"
	"github.com/opal-agent/opal/pkg/tools"

	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Agent is a single-goroutine actor. All state below the mailbox is owned
// exclusively by the actor goroutine; the public verbs only post commands.
// The actor suspends at exactly three points: waiting for a mailbox command,
// waiting for a stream event, and waiting for a tool result.
type Agent struct {
	mailbox chan command
	done    chan struct{}

	// actor-owned state
	id           string
	model        ai.Model
	provider     ai.Provider
	systemPrompt string
	workingDir   string
	registry     *tools.Registry
	store        *session.Store
	bus          *bus.Bus
	classifier   *ai.Classifier
	streamOpts   ai.StreamOptions
	maxRetries   int
	maxTurns     int
	compaction   CompactionConfig
	features     Features
	taskDB       *taskdb.DB
	spawner      tools.Spawner
	logger       *slog.Logger
	tracer       trace.Tracer

	crash error // set before done closes when the actor dies by panic

	status              Status
	announcements       []bus.Event
	steerQueue          []string
	promptQueue         []string
	retryAttempt        int
	overflowDetected    bool
	compactionSuspended bool
	usage               *usageTracker
	current             *turnState
	pendingCallIDs      []string
	stopping            bool
	debugRing           *debugRing
}

// New creates the agent and starts its actor goroutine. Callers stop it with
// Close (or Stop for just the in-flight run).
func New(opts Options) *Agent {
	store := opts.Store
	if store == nil {
		store = session.NewInMemory(opts.WorkingDir)
	}
	logger := opts.Logger
	if logger == nil {
		logger = defaultLogger()
	}
	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}
	classifier := opts.Classifier
	if classifier == nil {
		classifier = ai.DefaultClassifier()
	}

	a := &Agent{
		mailbox:      make(chan command, mailboxSize),
		done:         make(chan struct{}),
		id:           store.ID(),
		model:        opts.Model,
		provider:     opts.Provider,
		systemPrompt: opts.SystemPrompt,
		workingDir:   opts.WorkingDir,
		registry:     opts.Tools,
		store:        store,
		bus:          opts.Bus,
		classifier:   classifier,
		streamOpts:   opts.Stream,
		maxRetries:   maxRetries,
		maxTurns:     opts.MaxTurns,
		compaction:   opts.Compaction,
		features:     opts.Features,
		taskDB:       opts.TaskDB,
		spawner:      opts.Spawner,
		logger:       logger.With("session_id", store.ID()),
		tracer:       opts.Tracer,
		status:       StatusIdle,
		usage:        &usageTracker{},
	}
	if opts.Features.Debug {
		a.debugRing = newDebugRing(debugRingSize)
	}
	if opts.Features.SubAgents && a.spawner == nil {
		a.spawner = &subAgentSpawner{parent: a}
	}
	if opts.Features.Context {
		a.discoverContext()
	}
	if opts.Features.Skills {
		a.discoverSkills()
	}

	go a.run()
	return a
}

// SessionID returns the owning session's id.
func (a *Agent) SessionID() string { return a.id }

// Done is closed when the actor goroutine exits, cleanly or by panic.
func (a *Agent) Done() <-chan struct{} { return a.done }

// CrashError reports why the actor died, or nil for a clean Close. Only
// meaningful after Done is closed.
func (a *Agent) CrashError() error {
	select {
	case <-a.done:
		return a.crash
	default:
		return nil
	}
}

// ---------------------------------------------------------------------------
// Verbs
// ---------------------------------------------------------------------------

// Prompt submits a user message. Never blocks on the run itself: the return
// value reports whether the agent was busy and queued the prompt for the
// next idle moment.
func (a *Agent) Prompt(text string) bool {
	reply := make(chan bool, 1)
	select {
	case a.mailbox <- promptCmd{text: text, reply: reply}:
		return <-reply
	case <-a.done:
		return false
	}
}

// Steer enqueues a mid-run user message. It never interrupts the in-flight
// request; the text is appended to the path at the next safe point and the
// model sees it on the following request.
func (a *Agent) Steer(text string) {
	select {
	case a.mailbox <- steerCmd{text: text}:
	case <-a.done:
	}
}

// Stop cancels the in-flight run: the provider stream is cancelled and every
// pending tool task is abandoned. The path keeps whatever was last appended.
func (a *Agent) Stop() {
	select {
	case a.mailbox <- stopCmd{}:
	case <-a.done:
	}
}

// SetModel switches the model used from the next request onward.
func (a *Agent) SetModel(m ai.Model) {
	select {
	case a.mailbox <- setModelCmd{model: m}:
	case <-a.done:
	}
}

// Reconfigure applies runtime-safe knobs from a config reload: model, stream
// options, and the turn cap. Takes effect from the next provider request.
func (a *Agent) Reconfigure(m ai.Model, stream ai.StreamOptions, maxTurns int) {
	select {
	case a.mailbox <- reconfigureCmd{model: m, stream: stream, maxTurns: maxTurns}:
	case <-a.done:
	}
}

// GetState returns a transition-consistent snapshot.
func (a *Agent) GetState() State {
	reply := make(chan State, 1)
	select {
	case a.mailbox <- stateCmd{reply: reply}:
		return <-reply
	case <-a.done:
		return State{SessionID: a.id, Status: StatusIdle}
	}
}

// Stream submits a prompt and returns a finite event sequence for it. The
// channel closes after agent_end, agent_abort, or error.
func (a *Agent) Stream(text string) (<-chan bus.Event, bool) {
	sub, detach := a.bus.Subscribe(a.id)
	queued := a.Prompt(text)

	out := make(chan bus.Event, bus.DefaultMailbox)
	go func() {
		defer close(out)
		defer detach()
		for e := range sub.Events {
			out <- e
			switch e.Type {
			case EventAgentEnd, EventAgentAbort, EventError:
				return
			}
		}
	}()
	return out, queued
}

// Kill makes the actor die abnormally, as an in-flight bug would. The
// session supervisor observes the death and restarts the agent; used to
// exercise recovery.
func (a *Agent) Kill(reason string) {
	select {
	case a.mailbox <- killCmd{reason: reason}:
	case <-a.done:
	}
}

// DebugEvents returns the ring of recently emitted events, oldest first.
// Nil unless Features.Debug was enabled.
func (a *Agent) DebugEvents() []bus.Event {
	reply := make(chan []bus.Event, 1)
	select {
	case a.mailbox <- debugCmd{reply: reply}:
		return <-reply
	case <-a.done:
		return nil
	}
}

// Close terminates the actor goroutine. An in-flight run is cancelled first.
func (a *Agent) Close() {
	a.Stop()
	close(a.mailbox)
	<-a.done
}

// ---------------------------------------------------------------------------
// Actor
// ---------------------------------------------------------------------------

func (a *Agent) run() {
	defer close(a.done)
	defer func() {
		if r := recover(); r != nil {
			a.crash = fmt.Errorf("agent actor panicked: %v", r)
			a.logger.Error("agent actor died", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	for cmd := range a.mailbox {
		switch c := cmd.(type) {
		case promptCmd:
			c.reply <- false
			a.runPrompt(c.text)
			// Drain prompts queued while busy.
			for len(a.promptQueue) > 0 && !a.stopping {
				next := a.promptQueue[0]
				a.promptQueue = a.promptQueue[1:]
				a.runPrompt(next)
			}
		case steerCmd:
			a.steerQueue = append(a.steerQueue, c.text)
		case stopCmd:
			// Idle: nothing in flight.
		case setModelCmd:
			a.model = c.model
		case reconfigureCmd:
			a.applyReconfigure(c)
		case stateCmd:
			c.reply <- a.stateSnapshot()
		case debugCmd:
			c.reply <- a.debugEvents()
		case killCmd:
			panic(c.reason)
		}
	}
}

func (a *Agent) applyReconfigure(c reconfigureCmd) {
	a.model = c.model
	a.streamOpts = c.stream
	a.maxTurns = c.maxTurns
	a.emit(EventStatusUpdate, map[string]any{"message": "configuration reloaded"})
}

// handleBusy processes a command received while a run is in flight. cancel
// aborts the current provider request / tool tasks. Returns true on stop.
func (a *Agent) handleBusy(cmd command, cancel context.CancelFunc) bool {
	switch c := cmd.(type) {
	case promptCmd:
		a.promptQueue = append(a.promptQueue, c.text)
		c.reply <- true
	case steerCmd:
		a.steerQueue = append(a.steerQueue, c.text)
	case stopCmd:
		a.stopping = true
		cancel()
		return true
	case setModelCmd:
		a.model = c.model
	case reconfigureCmd:
		a.applyReconfigure(c)
	case stateCmd:
		c.reply <- a.stateSnapshot()
	case debugCmd:
		c.reply <- a.debugEvents()
	}
	return false
}

func (a *Agent) debugEvents() []bus.Event {
	if a.debugRing == nil {
		return nil
	}
	return a.debugRing.events()
}

func (a *Agent) stateSnapshot() State {
	path := a.store.Path()
	st := State{
		SessionID:        a.id,
		Status:           a.status,
		Model:            a.model,
		WorkingDir:       a.workingDir,
		SystemPrompt:     a.systemPrompt,
		Messages:         path,
		RetryAttempt:     a.retryAttempt,
		OverflowDetected: a.overflowDetected,
		Usage:            a.usage.snapshot(path, a.model.ContextWindow),
	}
	if a.current != nil {
		st.CurrentText = a.current.text
		st.CurrentThinking = a.current.thinking
	}
	st.PendingToolCalls = append([]string(nil), a.pendingCallIDs...)
	return st
}

// announce records a construction-time event (context_discovered,
// skill_loaded) for emission at the start of the first run. Emitting during
// New would race every subscriber: the bus keeps no history, and callers can
// only subscribe once New returns.
func (a *Agent) announce(eventType string, payload map[string]any) {
	a.announcements = append(a.announcements, bus.Event{Type: eventType, Payload: payload})
}

func (a *Agent) flushAnnouncements() {
	for _, e := range a.announcements {
		a.emit(e.Type, e.Payload)
	}
	a.announcements = nil
}

// emit broadcasts one event on the session channel.
func (a *Agent) emit(eventType string, payload map[string]any) {
	e := bus.Event{Type: eventType, SessionID: a.id, Payload: payload}
	if a.debugRing != nil {
		a.debugRing.add(e)
	}
	a.bus.Broadcast(a.id, e)
}

// drainSteers appends queued steering texts to the path as user messages,
// ahead of the next request.
func (a *Agent) drainSteers() {
	for _, text := range a.steerQueue {
		if _, err := a.store.AppendToLeaf(ai.UserMessage(text)); err != nil {
			a.logger.Error("append steering message", "error", err)
		}
	}
	a.steerQueue = nil
}

// snapshotTools builds the immutable tool set one turn sees.
func (a *Agent) snapshotTools() tools.Set {
	if a.registry == nil {
		return tools.Set{}
	}
	return a.registry.Snapshot()
}
