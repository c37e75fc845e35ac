// Package models is a static registry of model metadata for the providers
// opal can route to. It resolves context windows when the config omits them
// and backs the `opal models` listing.
package models

import (
	"sort"
	"strings"
)

// ModelInfo holds static metadata for one known model.
type ModelInfo struct {
	// ID is the canonical model identifier.
	ID string

	// Provider is the canonical provider name ("anthropic", "openai", ...).
	Provider string

	// DisplayName is a short human-readable name.
	DisplayName string

	// ContextWindow is the maximum prompt size in tokens.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens generated in one response.
	MaxOutputTokens int

	// SupportsThinking is true when the model has an extended-reasoning mode.
	SupportsThinking bool

	// InputCostPer1M and OutputCostPer1M are USD per 1M tokens. Zero means
	// unknown (Bedrock pricing varies by region).
	InputCostPer1M  float64
	OutputCostPer1M float64

	// CacheReadCostPer1M is USD per 1M cache-read tokens.
	CacheReadCostPer1M float64
}

// Lookup returns the entry for id, or nil when unknown. Exact match wins;
// otherwise a prefix match in either direction, so a versioned id like
// "claude-sonnet-4-5-20251219" resolves against the "claude-sonnet-4-5"
// entry.
func Lookup(id string) *ModelInfo {
	for i := range known {
		if known[i].ID == id {
			return &known[i]
		}
	}
	lower := strings.ToLower(id)
	for i := range known {
		k := strings.ToLower(known[i].ID)
		if strings.HasPrefix(lower, k) || strings.HasPrefix(k, lower) {
			return &known[i]
		}
	}
	return nil
}

// ContextWindowFor returns the context window for id, or 0 if unknown.
func ContextWindowFor(id string) int {
	if m := Lookup(id); m != nil {
		return m.ContextWindow
	}
	return 0
}

// MaxOutputFor returns the max output tokens for id, or 0 if unknown.
func MaxOutputFor(id string) int {
	if m := Lookup(id); m != nil {
		return m.MaxOutputTokens
	}
	return 0
}

// All returns every entry, sorted by provider then id.
func All() []*ModelInfo {
	out := make([]*ModelInfo, 0, len(known))
	for i := range known {
		out = append(out, &known[i])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].ID < out[j].ID
	})
	return out
}

var known = []ModelInfo{
	// Anthropic
	{
		ID: "claude-opus-4-5", Provider: "anthropic", DisplayName: "Claude Opus 4.5",
		ContextWindow: 200000, MaxOutputTokens: 32000, SupportsThinking: true,
		InputCostPer1M: 15, OutputCostPer1M: 75, CacheReadCostPer1M: 1.5,
	},
	{
		ID: "claude-sonnet-4-5", Provider: "anthropic", DisplayName: "Claude Sonnet 4.5",
		ContextWindow: 200000, MaxOutputTokens: 64000, SupportsThinking: true,
		InputCostPer1M: 3, OutputCostPer1M: 15, CacheReadCostPer1M: 0.3,
	},
	{
		ID: "claude-haiku-4-5", Provider: "anthropic", DisplayName: "Claude Haiku 4.5",
		ContextWindow: 200000, MaxOutputTokens: 16000,
		InputCostPer1M: 0.8, OutputCostPer1M: 4, CacheReadCostPer1M: 0.08,
	},
	{
		ID: "claude-3-7-sonnet-20250219", Provider: "anthropic", DisplayName: "Claude 3.7 Sonnet",
		ContextWindow: 200000, MaxOutputTokens: 64000, SupportsThinking: true,
		InputCostPer1M: 3, OutputCostPer1M: 15, CacheReadCostPer1M: 0.3,
	},
	{
		ID: "claude-3-5-haiku-20241022", Provider: "anthropic", DisplayName: "Claude 3.5 Haiku",
		ContextWindow: 200000, MaxOutputTokens: 8192,
		InputCostPer1M: 0.8, OutputCostPer1M: 4, CacheReadCostPer1M: 0.08,
	},

	// OpenAI
	{
		ID: "gpt-4o", Provider: "openai", DisplayName: "GPT-4o",
		ContextWindow: 128000, MaxOutputTokens: 16384,
		InputCostPer1M: 2.5, OutputCostPer1M: 10, CacheReadCostPer1M: 1.25,
	},
	{
		ID: "gpt-4o-mini", Provider: "openai", DisplayName: "GPT-4o Mini",
		ContextWindow: 128000, MaxOutputTokens: 16384,
		InputCostPer1M: 0.15, OutputCostPer1M: 0.6, CacheReadCostPer1M: 0.075,
	},
	{
		ID: "o3", Provider: "openai", DisplayName: "o3",
		ContextWindow: 200000, MaxOutputTokens: 100000, SupportsThinking: true,
		InputCostPer1M: 10, OutputCostPer1M: 40, CacheReadCostPer1M: 2.5,
	},
	{
		ID: "o3-mini", Provider: "openai", DisplayName: "o3-mini",
		ContextWindow: 200000, MaxOutputTokens: 100000, SupportsThinking: true,
		InputCostPer1M: 1.1, OutputCostPer1M: 4.4, CacheReadCostPer1M: 0.55,
	},
	{
		ID: "o4-mini", Provider: "openai", DisplayName: "o4-mini",
		ContextWindow: 200000, MaxOutputTokens: 100000, SupportsThinking: true,
		InputCostPer1M: 1.1, OutputCostPer1M: 4.4, CacheReadCostPer1M: 0.275,
	},

	// Groq
	{
		ID: "llama-3.3-70b-versatile", Provider: "groq", DisplayName: "Llama 3.3 70B",
		ContextWindow: 128000, MaxOutputTokens: 32768,
		InputCostPer1M: 0.59, OutputCostPer1M: 0.79,
	},
	{
		ID: "llama-3.1-8b-instant", Provider: "groq", DisplayName: "Llama 3.1 8B",
		ContextWindow: 128000, MaxOutputTokens: 8000,
		InputCostPer1M: 0.05, OutputCostPer1M: 0.08,
	},
	{
		ID: "deepseek-r1-distill-llama-70b", Provider: "groq", DisplayName: "DeepSeek R1 Distill 70B",
		ContextWindow: 128000, MaxOutputTokens: 16000, SupportsThinking: true,
		InputCostPer1M: 0.75, OutputCostPer1M: 0.99,
	},

	// xAI
	{
		ID: "grok-3", Provider: "xai", DisplayName: "Grok 3",
		ContextWindow: 131072, MaxOutputTokens: 131072,
		InputCostPer1M: 3, OutputCostPer1M: 15,
	},
	{
		ID: "grok-3-mini", Provider: "xai", DisplayName: "Grok 3 Mini",
		ContextWindow: 131072, MaxOutputTokens: 131072, SupportsThinking: true,
		InputCostPer1M: 0.3, OutputCostPer1M: 0.5,
	},

	// Mistral
	{
		ID: "mistral-large-latest", Provider: "mistral", DisplayName: "Mistral Large",
		ContextWindow: 131072, MaxOutputTokens: 4096,
		InputCostPer1M: 2, OutputCostPer1M: 6,
	},
	{
		ID: "mistral-small-latest", Provider: "mistral", DisplayName: "Mistral Small",
		ContextWindow: 32768, MaxOutputTokens: 4096,
		InputCostPer1M: 0.1, OutputCostPer1M: 0.3,
	},

	// Bedrock (Claude on AWS)
	{
		ID: "us.anthropic.claude-sonnet-4-5-20250929-v1:0", Provider: "bedrock", DisplayName: "Claude Sonnet 4.5 (Bedrock)",
		ContextWindow: 200000, MaxOutputTokens: 64000, SupportsThinking: true,
	},
	{
		ID: "us.anthropic.claude-3-7-sonnet-20250219-v1:0", Provider: "bedrock", DisplayName: "Claude 3.7 Sonnet (Bedrock)",
		ContextWindow: 200000, MaxOutputTokens: 64000, SupportsThinking: true,
	},
}
