package agent

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

// FileConfig is the YAML structure of the opal config file.
type FileConfig struct {
	// Provider: "anthropic" | "openai" | "bedrock" (or any openai-compatible
	// endpoint via BaseURL).
	Provider string `yaml:"provider"`

	// Model ID (e.g. "claude-sonnet-4-5", "gpt-4o").
	Model string `yaml:"model"`

	// ContextWindow is the model's window in tokens, used for compaction and
	// overflow detection.
	ContextWindow int `yaml:"context_window"`

	// BaseURL overrides the provider endpoint (OpenRouter, local Ollama, ...).
	BaseURL string `yaml:"base_url"`

	// APIKey can be a literal key or "${ENV_VAR}".
	APIKey string `yaml:"api_key"`

	// SystemPrompt replaces the default preamble when non-empty.
	SystemPrompt string `yaml:"system_prompt"`

	// MaxTokens caps the response length (0 = provider default).
	MaxTokens int `yaml:"max_tokens"`

	// Temperature controls randomness (nil = provider default).
	Temperature *float64 `yaml:"temperature"`

	// ThinkingLevel: "off" | "low" | "medium" | "high" | "max".
	ThinkingLevel string `yaml:"thinking_level"`

	// Region and Profile configure Amazon Bedrock authentication.
	Region  string `yaml:"region"`
	Profile string `yaml:"profile"`

	// MaxTurns caps LLM calls per prompt (0 = unlimited).
	MaxTurns int `yaml:"max_turns"`

	// MaxRetries bounds transient-error retries per request (0 = default).
	MaxRetries int `yaml:"max_retries"`

	Compaction CompactionFileConfig `yaml:"compaction"`
	Features   FeaturesFileConfig   `yaml:"features"`
	Tools      ToolsConfig          `yaml:"tools"`

	// SessionsDir holds the per-session JSONL files. Empty = in-memory only.
	SessionsDir string `yaml:"sessions_dir"`

	// TaskDB is the path of the session stats database. Empty = disabled.
	TaskDB string `yaml:"taskdb"`

	// MCPServers lists external tool servers to bridge at startup.
	MCPServers []MCPServerConfig `yaml:"mcp_servers"`
}

// CompactionFileConfig mirrors CompactionConfig with YAML tags.
type CompactionFileConfig struct {
	Enabled          bool    `yaml:"enabled"`
	KeepRecentTokens int     `yaml:"keep_recent_tokens"`
	AutoCompactRatio float64 `yaml:"auto_compact_ratio"`
}

// FeaturesFileConfig mirrors Features with YAML tags.
type FeaturesFileConfig struct {
	SubAgents bool `yaml:"sub_agents"`
	Context   bool `yaml:"context"`
	Skills    bool `yaml:"skills"`
	MCP       bool `yaml:"mcp"`
	Debug     bool `yaml:"debug"`
}

// ToolsConfig controls which built-in tools are registered.
type ToolsConfig struct {
	// Preset: "coding" (default) | "readonly" | "all" | "none".
	Preset string `yaml:"preset"`

	// WorkDir is the working directory for file tools. Defaults to the
	// process working directory.
	WorkDir string `yaml:"work_dir"`
}

// MCPServerConfig describes one external tool server process.
type MCPServerConfig struct {
	Name string   `yaml:"name"`
	Path string   `yaml:"path"`
	Args []string `yaml:"args"`
}

// ToolPreset returns the resolved preset, defaulting to "coding".
func (c *FileConfig) ToolPreset() string {
	p := strings.ToLower(strings.TrimSpace(c.Tools.Preset))
	if p == "" {
		return "coding"
	}
	return p
}

// CompactionConfig converts the file section to the runtime config.
func (c *FileConfig) CompactionConfig() CompactionConfig {
	return CompactionConfig{
		Enabled:          c.Compaction.Enabled,
		KeepRecentTokens: c.Compaction.KeepRecentTokens,
		AutoCompactRatio: c.Compaction.AutoCompactRatio,
	}
}

// FeatureFlags converts the file section to the runtime flags.
func (c *FileConfig) FeatureFlags() Features {
	return Features{
		SubAgents: c.Features.SubAgents,
		Context:   c.Features.Context,
		Skills:    c.Features.Skills,
		MCP:       c.Features.MCP,
		Debug:     c.Features.Debug,
	}
}

// LoadFileConfig reads and parses a YAML config file, expanding ${ENV_VAR}
// references before parsing.
func LoadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg FileConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := validateFileConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validateFileConfig(cfg *FileConfig) error {
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	if cfg.Provider == "" {
		return fmt.Errorf("config: provider is required")
	}
	if cfg.Model == "" {
		return fmt.Errorf("config: model is required")
	}
	if r := cfg.Compaction.AutoCompactRatio; r < 0 || r > 1 {
		return fmt.Errorf("config: auto_compact_ratio must be in [0, 1]")
	}
	return nil
}
