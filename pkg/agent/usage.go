package agent

import (
	"encoding/json"

	"github.com/opal-agent/opal/pkg/ai"
)

// charsPerToken is the estimation heuristic for text without provider
// accounting.
const charsPerToken = 4

// UsageSnapshot is the externally visible accounting state.
type UsageSnapshot struct {
	PromptTokens         int `json:"prompt_tokens"`
	CompletionTokens     int `json:"completion_tokens"`
	TotalTokens          int `json:"total_tokens"`
	CurrentContextTokens int `json:"current_context_tokens"`
	ContextWindow        int `json:"context_window"`
}

// usageTracker accumulates provider token reports and estimates the current
// context size. Estimation is hybrid: the last reported prompt_tokens gives
// an exact base for the path up to the snapshot index, and messages appended
// since then are estimated at chars/4. The base keeps estimates calibrated
// to the provider's real accounting.
type usageTracker struct {
	totals ai.Usage

	// last prompt-tokens report and the path length it covered
	lastPromptTokens int
	lastIndex        int
	calibrated       bool
}

// record folds one provider usage report into the running totals and resets
// the estimation base. pathLen is the message count the report accounted for.
func (t *usageTracker) record(u ai.Usage, pathLen int) {
	t.totals.PromptTokens += u.PromptTokens
	t.totals.CompletionTokens += u.CompletionTokens
	total := u.TotalTokens
	if total == 0 {
		total = u.PromptTokens + u.CompletionTokens
	}
	t.totals.TotalTokens += total
	t.totals.CacheReadTokens += u.CacheReadTokens
	t.totals.CacheWriteTokens += u.CacheWriteTokens

	if u.PromptTokens > 0 {
		t.lastPromptTokens = u.PromptTokens
		t.lastIndex = pathLen
		t.calibrated = true
	}
}

// invalidate drops the estimation base. Called after compaction rewrites the
// path: the old snapshot index no longer lines up.
func (t *usageTracker) invalidate() {
	t.calibrated = false
	t.lastPromptTokens = 0
	t.lastIndex = 0
}

// estimate returns the estimated context size for the given path.
func (t *usageTracker) estimate(path []ai.Message) int {
	if !t.calibrated || t.lastIndex > len(path) {
		total := 0
		for i := range path {
			total += estimateMessageTokens(path[i])
		}
		return total
	}
	trailing := 0
	for _, m := range path[t.lastIndex:] {
		trailing += estimateMessageTokens(m)
	}
	return t.lastPromptTokens + trailing
}

// snapshot packages the current accounting for events and state reads.
func (t *usageTracker) snapshot(path []ai.Message, window int) UsageSnapshot {
	return UsageSnapshot{
		PromptTokens:         t.totals.PromptTokens,
		CompletionTokens:     t.totals.CompletionTokens,
		TotalTokens:          t.totals.TotalTokens,
		CurrentContextTokens: t.estimate(path),
		ContextWindow:        window,
	}
}

// estimateMessageTokens estimates one message at chars/4, counting content,
// thinking, and serialized tool calls. Deliberately overestimates slightly.
func estimateMessageTokens(m ai.Message) int {
	chars := len(m.Content) + len(m.Thinking)
	for _, tc := range m.ToolCalls {
		chars += len(tc.Name)
		if j, err := json.Marshal(tc.Arguments); err == nil {
			chars += len(j)
		}
	}
	if chars == 0 {
		return 0
	}
	n := chars / charsPerToken
	if n == 0 {
		n = 1
	}
	return n
}
