package agent

import (
	"path/filepath"
	"sync"

	"github.com/opal-agent/opal/pkg/bus"
	"github.com/opal-agent/opal/pkg/mcp"
	"github.com/opal-agent/opal/pkg/session"
	"github.com/opal-agent/opal/pkg/tools"
)

// Session supervises one agent and the helpers tied to it. The restart
// policy is rest-for-one in start order (MCP client set, store, agent,
// config reloader): when the agent dies, it and everything started after it
// are rebuilt; the store and MCP set below it are kept, so the conversation
// and tool-server processes survive. Subscribers keep their bus channels
// across restarts because the session id does not change.
type Session struct {
	mu       sync.Mutex
	opts     Options
	agent    *Agent
	mcpSet   *mcp.Set
	reloader *ConfigReloader
	confPath string

	closing chan struct{}
	wg      sync.WaitGroup
}

// StartSession builds the session's supervision tree and starts watching the
// agent. configPath is optional; non-empty enables hot reload.
func StartSession(opts Options, configPath string) *Session {
	s := &Session{
		opts:     opts,
		confPath: configPath,
		closing:  make(chan struct{}),
	}
	s.startMCP()
	s.agent = New(s.opts)
	s.startReloader()

	s.wg.Add(1)
	go s.watch()
	return s
}

// startMCP launches the configured tool servers and bridges their tools into
// the registry. Gated on the mcp feature flag: disabled means no processes
// and no resident state.
func (s *Session) startMCP() {
	if !s.opts.Features.MCP || len(s.opts.MCPServers) == 0 {
		return
	}
	if s.opts.Tools == nil {
		s.opts.Tools = tools.NewRegistry()
	}
	logger := s.opts.Logger
	if logger == nil {
		logger = defaultLogger()
	}
	s.mcpSet = mcp.NewSet(s.opts.MCPServers, logger)
	s.mcpSet.Register(s.opts.Tools)
}

// Agent returns the live agent. After a restart this is a new value; callers
// that hold an Agent across restarts should re-fetch it on agent_recovered.
func (s *Session) Agent() *Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agent
}

// ID returns the supervised session's id, stable across restarts.
func (s *Session) ID() string {
	return s.Agent().SessionID()
}

// Close tears the session down in reverse start order and detaches its bus
// subscribers.
func (s *Session) Close() {
	close(s.closing)

	s.mu.Lock()
	reloader, ag := s.reloader, s.agent
	s.mu.Unlock()

	if reloader != nil {
		reloader.Stop()
	}
	ag.Close()
	s.wg.Wait()

	if ag.store != nil {
		ag.store.Close()
	}
	if s.mcpSet != nil {
		s.mcpSet.Close()
	}
	if s.opts.Bus != nil {
		s.opts.Bus.DropSession(ag.SessionID())
	}
}

func (s *Session) startReloader() {
	if s.confPath == "" {
		return
	}
	s.reloader = NewConfigReloader(s.confPath, s.agent, s.agent.logger)
	s.reloader.Start()
}

// watch waits for the agent actor to die and restarts the crashed subtree.
// A clean Close ends the watch instead.
func (s *Session) watch() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		ag := s.agent
		s.mu.Unlock()

		select {
		case <-ag.Done():
		case <-s.closing:
			return
		}

		err := ag.CrashError()
		if err == nil {
			return // clean shutdown
		}

		select {
		case <-s.closing:
			return
		default:
		}
		s.restart(ag, err)
	}
}

// restart rebuilds the agent and the children above it. The store is
// reloaded from its operation log when file-backed, so a crash mid-write
// costs at most the partial trailing record.
func (s *Session) restart(dead *Agent, crashErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reloader != nil {
		s.reloader.Stop()
		s.reloader = nil
	}

	opts := s.opts
	opts.Store = s.reloadStore(dead)

	s.agent = New(opts)
	if s.confPath != "" {
		s.reloader = NewConfigReloader(s.confPath, s.agent, s.agent.logger)
		s.reloader.Start()
	}

	if opts.Bus != nil {
		opts.Bus.Broadcast(s.agent.SessionID(), bus.Event{
			Type:    EventAgentRecovered,
			Payload: map[string]any{"error": crashErr.Error()},
		})
	}
}

func (s *Session) reloadStore(dead *Agent) *session.Store {
	st := dead.store
	fp := st.FilePath()
	if fp == "" {
		return st // in-memory stores survive the actor as-is
	}
	// Reload first: the old store stays usable as the fallback until the
	// replacement holds the file.
	reloaded, err := session.Load(filepath.Dir(fp), dead.SessionID())
	if err != nil {
		dead.logger.Error("session reload after crash failed, continuing with the in-memory tree",
			"error", err)
		return st
	}
	st.Close()
	return reloaded
}
