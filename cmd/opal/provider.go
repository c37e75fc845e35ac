package main

import (
	"fmt"

	"github.com/opal-agent/opal/pkg/agent"
	"github.com/opal-agent/opal/pkg/ai"
	"github.com/opal-agent/opal/pkg/ai/providers/anthropic"
	"github.com/opal-agent/opal/pkg/ai/providers/bedrock"
	"github.com/opal-agent/opal/pkg/ai/providers/openai"
)

// buildProvider maps the config's provider name to a wire implementation.
// Three wire shapes cover everything: Anthropic SSE, the two OpenAI APIs,
// and Bedrock's Converse stream. Known OpenAI-compatible hosts get their
// default base URL filled in.
func buildProvider(cfg *agent.FileConfig) (ai.Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.New(cfg.BaseURL), nil

	// "openai" means the Responses API; completions is the explicit opt-out
	// for proxies that never adopted it.
	case "openai":
		return openai.NewResponses(cfg.BaseURL), nil
	case "openai-completions", "openai-legacy":
		return openai.New(cfg.BaseURL), nil

	case "bedrock", "amazon-bedrock":
		return bedrock.New(cfg.Region, cfg.Profile), nil

	case "openrouter":
		return openai.New(orDefault(cfg.BaseURL, "https://openrouter.ai/api/v1")), nil
	case "groq":
		return openai.New(orDefault(cfg.BaseURL, "https://api.groq.com/openai/v1")), nil
	case "xai", "grok":
		return openai.New(orDefault(cfg.BaseURL, "https://api.x.ai/v1")), nil
	case "mistral":
		return openai.New(orDefault(cfg.BaseURL, "https://api.mistral.ai/v1")), nil
	case "cerebras":
		return openai.New(orDefault(cfg.BaseURL, "https://api.cerebras.ai/v1")), nil

	case "minimax":
		return anthropic.New(orDefault(cfg.BaseURL, "https://api.minimax.io/anthropic")), nil

	default:
		if cfg.BaseURL != "" {
			fmt.Printf("[opal] unknown provider %q, using OpenAI completions against base_url\n", cfg.Provider)
			return openai.New(cfg.BaseURL), nil
		}
		return nil, fmt.Errorf("unknown provider %q (set base_url to use it as openai-compatible)", cfg.Provider)
	}
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
