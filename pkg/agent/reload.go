package agent

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/opal-agent/opal/pkg/ai"
)

// ConfigReloader watches a YAML config file and applies the runtime-safe
// fields to a running Agent: model, max_tokens, temperature, thinking_level,
// max_turns. Provider, tool, and feature changes require a restart and are
// ignored.
type ConfigReloader struct {
	path   string
	agent  *Agent
	logger *slog.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	lastMod time.Time

	// OnReload is called after a successful reload with the new config.
	OnReload func(cfg *FileConfig)
}

// reloadPollInterval is how often the config file's mtime is checked.
const reloadPollInterval = 2 * time.Second

// NewConfigReloader creates a reloader. Call Start to begin watching.
func NewConfigReloader(path string, agent *Agent, logger *slog.Logger) *ConfigReloader {
	if logger == nil {
		logger = defaultLogger()
	}
	return &ConfigReloader{path: path, agent: agent, logger: logger}
}

// Start begins polling the config file for changes. The current mtime is the
// baseline; only later edits trigger a reload.
func (r *ConfigReloader) Start() {
	if info, err := os.Stat(r.path); err == nil {
		r.lastMod = info.ModTime()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(1)
	go r.poll(ctx)
}

// Stop ends the polling goroutine and waits for it to finish.
func (r *ConfigReloader) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *ConfigReloader) poll(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(reloadPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.check()
		}
	}
}

func (r *ConfigReloader) check() {
	info, err := os.Stat(r.path)
	if err != nil {
		return // file may be mid-rewrite
	}

	r.mu.Lock()
	if !info.ModTime().After(r.lastMod) {
		r.mu.Unlock()
		return
	}
	r.lastMod = info.ModTime()
	r.mu.Unlock()

	cfg, err := LoadFileConfig(r.path)
	if err != nil {
		r.logger.Warn("config reload: parse error", "path", r.path, "error", err)
		return
	}
	r.apply(cfg)
}

func (r *ConfigReloader) apply(cfg *FileConfig) {
	model := ai.Model{
		Provider:      cfg.Provider,
		ID:            cfg.Model,
		ThinkingLevel: ai.ThinkingLevel(cfg.ThinkingLevel),
		ContextWindow: cfg.ContextWindow,
	}
	stream := ai.StreamOptions{
		MaxTokens:     cfg.MaxTokens,
		Temperature:   cfg.Temperature,
		APIKey:        cfg.APIKey,
		BaseURL:       cfg.BaseURL,
		ThinkingLevel: ai.ThinkingLevel(cfg.ThinkingLevel),
	}
	r.agent.Reconfigure(model, stream, cfg.MaxTurns)

	r.logger.Info("config reloaded",
		"path", r.path,
		"model", cfg.Model,
		"max_tokens", cfg.MaxTokens,
	)

	if r.OnReload != nil {
		r.OnReload(cfg)
	}
}

// ReloadOnce reads the config file and applies changes immediately.
func (r *ConfigReloader) ReloadOnce() error {
	cfg, err := LoadFileConfig(r.path)
	if err != nil {
		return err
	}
	r.apply(cfg)
	return nil
}
