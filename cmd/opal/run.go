package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.opentelemetry.io/otel"

	"github.com/opal-agent/opal/pkg/agent"
	"github.com/opal-agent/opal/pkg/ai"
	"github.com/opal-agent/opal/pkg/ai/models"
	"github.com/opal-agent/opal/pkg/bus"
	"github.com/opal-agent/opal/pkg/mcp"
	"github.com/opal-agent/opal/pkg/prompts"
	"github.com/opal-agent/opal/pkg/session"
	"github.com/opal-agent/opal/pkg/taskdb"
	"github.com/opal-agent/opal/pkg/tools"
	"github.com/opal-agent/opal/pkg/tools/builtin"
)

func run(ctx context.Context) error {
	cfg, err := agent.LoadFileConfig(flagConfig)
	if err != nil {
		return err
	}
	logger := newLogger()
	features := cfg.FeatureFlags()

	cwd := cfg.Tools.WorkDir
	if flagCwd != "" {
		cwd = flagCwd
	}
	if cwd == "" {
		if cwd, err = os.Getwd(); err != nil {
			return err
		}
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	registry := tools.NewRegistry()
	builtin.Register(registry, builtin.Preset(cfg.ToolPreset()), cwd)

	// MCP servers are owned by the session's supervision tree, not the CLI.
	mcpServers := make([]mcp.ServerSpec, 0, len(cfg.MCPServers))
	for _, s := range cfg.MCPServers {
		mcpServers = append(mcpServers, mcp.ServerSpec{Name: s.Name, Path: s.Path, Args: s.Args})
	}

	spOpts := agent.SystemPromptOptions{
		CustomPrompt: cfg.SystemPrompt,
		ActiveTools:  registry.Names(),
		Cwd:          cwd,
	}
	if features.Context {
		// The agent discovers context files itself; keep them out of the
		// base prompt so they are not injected twice.
		spOpts.ContextFiles = []agent.ContextFile{}
	}
	systemPrompt := agent.BuildSystemPrompt(spOpts)

	var store *session.Store
	if flagSession != "" {
		dir := cfg.SessionsDir
		if dir == "" {
			dir = session.DefaultSessionsDir()
		}
		store, err = session.Load(dir, flagSession)
		if err != nil {
			return err
		}
		fmt.Printf("[opal] resumed session %s (%d messages)\n", store.ID()[:8], store.Len())
	} else if cfg.SessionsDir != "" {
		store, err = session.Create(cfg.SessionsDir, cwd)
		if err != nil {
			// Non-fatal: the agent can run with an in-memory tree.
			fmt.Fprintf(os.Stderr, "[warn] session persistence disabled: %v\n", err)
			store = nil
		} else {
			fmt.Printf("[opal] session %s\n", store.ID()[:8])
		}
	}

	var db *taskdb.DB
	if cfg.TaskDB != "" {
		db, err = taskdb.Open(ctx, cfg.TaskDB)
		if err != nil {
			return fmt.Errorf("taskdb: %w", err)
		}
		defer db.Close()
	}

	window := cfg.ContextWindow
	if window == 0 {
		window = models.ContextWindowFor(cfg.Model)
	}

	eventBus := bus.New()
	sess := agent.StartSession(agent.Options{
		Model: ai.Model{
			Provider:      cfg.Provider,
			ID:            cfg.Model,
			ThinkingLevel: ai.ThinkingLevel(cfg.ThinkingLevel),
			ContextWindow: window,
		},
		Provider:     provider,
		SystemPrompt: systemPrompt,
		WorkingDir:   cwd,
		Tools:        registry,
		Store:        store,
		Bus:          eventBus,
		Stream: ai.StreamOptions{
			APIKey:        cfg.APIKey,
			MaxTokens:     cfg.MaxTokens,
			Temperature:   cfg.Temperature,
			ThinkingLevel: ai.ThinkingLevel(cfg.ThinkingLevel),
		},
		MaxRetries: cfg.MaxRetries,
		MaxTurns:   cfg.MaxTurns,
		Compaction: cfg.CompactionConfig(),
		Features:   features,
		TaskDB:     db,
		MCPServers: mcpServers,
		Logger:     logger,
		Tracer:     otel.Tracer("opal"),
	}, flagConfig)
	defer sess.Close()

	sub, detach := eventBus.Subscribe(sess.ID())
	defer detach()

	idle := make(chan struct{}, 1)
	go printEvents(sub, idle)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	if flagPrompt != "" {
		return oneShot(sess, flagPrompt, idle, sigs)
	}
	return repl(sess, cfg, prompts.LoadLibrary(cwd), idle, sigs)
}

// oneShot runs a single prompt to completion. An interrupt cancels the run;
// the agent's abort event still ends the wait.
func oneShot(sess *agent.Session, text string, idle <-chan struct{}, sigs <-chan os.Signal) error {
	sess.Agent().Prompt(text)
	for {
		select {
		case <-idle:
			return nil
		case <-sigs:
			sess.Agent().Stop()
		}
	}
}

// repl is the interactive loop. One goroutine owns stdin; while a run is
// live, plain input steers it and an interrupt stops it. Slash input that
// names a prompt template expands before it reaches the agent.
func repl(sess *agent.Session, cfg *agent.FileConfig, lib *prompts.Library, idle <-chan struct{}, sigs <-chan os.Signal) error {
	fmt.Printf("[opal] provider=%s model=%s session=%s\n", cfg.Provider, cfg.Model, sess.ID()[:8])
	fmt.Println("[opal] type a prompt and press enter; input during a run steers it. Commands: /state /usage /model /sessions /templates /stop exit")

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	busy := false
	for {
		if !busy {
			fmt.Print("> ")
		}
		select {
		case <-idle:
			busy = false

		case <-sigs:
			if !busy {
				fmt.Println()
				return nil
			}
			sess.Agent().Stop()

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			switch {
			case line == "exit" || line == "quit":
				return nil
			case line == "/stop":
				sess.Agent().Stop()
			case line == "/state":
				printState(sess.Agent().GetState())
			case line == "/usage":
				u := sess.Agent().GetState().Usage
				fmt.Printf("[usage] prompt=%d completion=%d context=%d/%d\n",
					u.PromptTokens, u.CompletionTokens, u.CurrentContextTokens, u.ContextWindow)
			case line == "/model" || strings.HasPrefix(line, "/model "):
				handleModel(sess.Agent(), strings.TrimSpace(strings.TrimPrefix(line, "/model")))
			case line == "/sessions":
				if err := printSessions(resolveSessionsDir(cfg), 10); err != nil {
					fmt.Fprintf(os.Stderr, "sessions: %v\n", err)
				}
			case line == "/templates":
				printTemplates(lib)
			default:
				text := line
				if expanded, ok := lib.Expand(line); ok {
					text = expanded
				} else if strings.HasPrefix(line, "/") {
					fmt.Printf("[opal] unknown command %s\n", line)
					continue
				}
				ag := sess.Agent()
				if busy {
					ag.Steer(text)
					fmt.Println("[steering queued]")
					continue
				}
				busy = true
				if queued := ag.Prompt(text); queued {
					fmt.Println("[queued]")
				}
			}
		}
	}
}

func printTemplates(lib *prompts.Library) {
	ts := lib.Templates()
	if len(ts) == 0 {
		fmt.Println("[opal] no prompt templates found")
		return
	}
	for _, t := range ts {
		fmt.Printf("  /%s (%s): %s\n", t.Name, t.Source, t.Description)
	}
}

func printState(st agent.State) {
	fmt.Printf("[state] session=%s status=%s model=%s messages=%d pending_tools=%d retry=%d overflow=%v\n",
		st.SessionID[:8], st.Status, st.Model.ID, len(st.Messages),
		len(st.PendingToolCalls), st.RetryAttempt, st.OverflowDetected)
}

// handleModel prints the current model's registry entry, or switches the
// model when an id is given.
func handleModel(ag *agent.Agent, arg string) {
	if arg == "" {
		st := ag.GetState()
		info := models.Lookup(st.Model.ID)
		if info == nil {
			fmt.Printf("[model] %s (not in registry)\n", st.Model.ID)
			return
		}
		fmt.Printf("[model] %s — context=%d out=%d thinking=%v in=$%.2f/1M out=$%.2f/1M\n",
			info.DisplayName, info.ContextWindow, info.MaxOutputTokens,
			info.SupportsThinking, info.InputCostPer1M, info.OutputCostPer1M)
		return
	}

	st := ag.GetState()
	next := ai.Model{
		Provider:      st.Model.Provider,
		ID:            arg,
		ThinkingLevel: st.Model.ThinkingLevel,
		ContextWindow: models.ContextWindowFor(arg),
	}
	if next.ContextWindow == 0 {
		next.ContextWindow = st.Model.ContextWindow
	}
	ag.SetModel(next)
	fmt.Printf("[model] switched to %s (context=%d)\n", next.ID, next.ContextWindow)
}

func resolveSessionsDir(cfg *agent.FileConfig) string {
	if cfg != nil && cfg.SessionsDir != "" {
		return cfg.SessionsDir
	}
	return session.DefaultSessionsDir()
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
