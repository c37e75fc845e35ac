// Package agent implements the per-session agent loop: a single-goroutine
// actor that drives provider requests, streams responses, executes tool
// calls, and keeps the session path within the model's context window.
package agent

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/opal-agent/opal/pkg/ai"
	"github.com/opal-agent/opal/pkg/bus"
	"github.com/opal-agent/opal/pkg/mcp"
	"github.com/opal-agent/opal/pkg/session"
	"github.com/opal-agent/opal/pkg/taskdb"
	"github.com/opal-agent/opal/pkg/tools"
)

// ---------------------------------------------------------------------------
// Status
// ---------------------------------------------------------------------------

// Status is the agent's lifecycle state.
type Status string

const (
	StatusIdle           Status = "idle"
	StatusRunning        Status = "running"
	StatusStreaming      Status = "streaming"
	StatusExecutingTools Status = "executing_tools"
)

// ---------------------------------------------------------------------------
// Bus event names
// ---------------------------------------------------------------------------

// Event type strings broadcast on the session bus. Payload fields use
// snake_case keys.
const (
	EventAgentStart        = "agent_start"
	EventAgentEnd          = "agent_end"
	EventAgentAbort        = "agent_abort"
	EventAgentRecovered    = "agent_recovered"
	EventMessageStart      = "message_start"
	EventMessageDelta      = "message_delta"
	EventThinkingStart     = "thinking_start"
	EventThinkingDelta     = "thinking_delta"
	EventToolExecStart     = "tool_execution_start"
	EventToolExecEnd       = "tool_execution_end"
	EventTurnEnd           = "turn_end"
	EventStatusUpdate      = "status_update"
	EventUsageUpdate       = "usage_update"
	EventContextDiscovered = "context_discovered"
	EventSkillLoaded       = "skill_loaded"
	EventCompactionStart   = "compaction_start"
	EventCompactionEnd     = "compaction_end"
	EventSubAgent          = "sub_agent_event"
	EventError             = "error"
)

// ---------------------------------------------------------------------------
// State snapshot
// ---------------------------------------------------------------------------

// State is a read-only snapshot of the agent, taken inside the actor so it is
// always transition-consistent.
type State struct {
	SessionID        string
	Status           Status
	Model            ai.Model
	WorkingDir       string
	SystemPrompt     string
	Messages         []ai.Message
	CurrentText      string
	CurrentThinking  string
	PendingToolCalls []string
	RetryAttempt     int
	OverflowDetected bool
	Usage            UsageSnapshot
}

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Features gates optional subsystems. A disabled feature leaves no resident
// state behind (no goroutine, no supervisor child).
type Features struct {
	SubAgents bool
	Context   bool // AGENTS.md discovery into the system prompt
	Skills    bool
	MCP       bool
	Debug     bool // in-memory event ring buffer
}

// Options configures a new Agent.
type Options struct {
	Model        ai.Model
	Provider     ai.Provider
	SystemPrompt string
	WorkingDir   string

	// Tools is the session's live registry. The agent snapshots it into an
	// immutable set before each turn. Nil means no tools.
	Tools *tools.Registry

	// Store holds the session path. Nil creates an in-memory store.
	Store *session.Store

	// Bus receives every lifecycle event, keyed by the session id. Required.
	Bus *bus.Bus

	// Classifier decides transient vs permanent vs overflow for provider
	// errors. Nil uses ai.DefaultClassifier().
	Classifier *ai.Classifier

	// Stream options passed through to the provider on every call.
	Stream ai.StreamOptions

	// MaxRetries bounds transient-error retries per request. 0 uses
	// DefaultMaxRetries.
	MaxRetries int

	// MaxTurns caps provider calls per prompt. 0 = unlimited.
	MaxTurns int

	Compaction CompactionConfig
	Features   Features

	// TaskDB, when set, receives per-session task counters.
	TaskDB *taskdb.DB

	// MCPServers are external tool servers bridged into the registry.
	// Honoured by StartSession when Features.MCP is on; a bare New ignores
	// them (no supervisor to own the processes).
	MCPServers []mcp.ServerSpec

	// Spawner overrides the sub-agent spawner handed to tools. Nil with
	// Features.SubAgents enabled uses the built-in spawner.
	Spawner tools.Spawner

	Logger *slog.Logger
	Tracer trace.Tracer
}

// DefaultMaxRetries bounds transient retries when Options.MaxRetries is 0.
const DefaultMaxRetries = 5

// defaultLogger discards everything; embedders pass a real logger.
func defaultLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// ---------------------------------------------------------------------------
// Mailbox commands
// ---------------------------------------------------------------------------

type command interface{ isCommand() }

type promptCmd struct {
	text  string
	reply chan bool // true when the agent was busy and the prompt was queued
}

type steerCmd struct{ text string }

type stopCmd struct{}

type setModelCmd struct{ model ai.Model }

// reconfigureCmd applies the runtime-safe knobs from a config reload.
type reconfigureCmd struct {
	model    ai.Model
	stream   ai.StreamOptions
	maxTurns int
}

type stateCmd struct{ reply chan State }

type debugCmd struct{ reply chan []bus.Event }

// killCmd makes the actor die by panic, exercising supervision.
type killCmd struct{ reason string }

func (promptCmd) isCommand()      {}
func (steerCmd) isCommand()       {}
func (stopCmd) isCommand()        {}
func (setModelCmd) isCommand()    {}
func (reconfigureCmd) isCommand() {}
func (stateCmd) isCommand()       {}
func (debugCmd) isCommand()       {}
func (killCmd) isCommand()        {}

// mailboxSize bounds the command channel. Steer and Stop are fire-and-forget;
// the buffer keeps them from blocking callers while the actor is mid-select.
const mailboxSize = 128

// summaryTimeout bounds one summarisation call during compaction.
const summaryTimeout = 30 * time.Second
