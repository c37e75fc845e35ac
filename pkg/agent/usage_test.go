package agent

import (
	"strings"
	"testing"

	"github.com/opal-agent/opal/pkg/ai"
)

func msgWithChars(role ai.Role, chars int) ai.Message {
	return ai.NewMessage(role, strings.Repeat("x", chars))
}

func TestUsageTracker_UncalibratedFullScan(t *testing.T) {
	tr := &usageTracker{}
	path := []ai.Message{
		msgWithChars(ai.RoleUser, 400),      // 100 tokens
		msgWithChars(ai.RoleAssistant, 800), // 200 tokens
	}
	if got := tr.estimate(path); got != 300 {
		t.Errorf("estimate = %d, want 300", got)
	}
}

func TestUsageTracker_CalibratedBasePlusTrailing(t *testing.T) {
	tr := &usageTracker{}
	path := []ai.Message{
		msgWithChars(ai.RoleUser, 400),
		msgWithChars(ai.RoleAssistant, 800),
	}
	tr.record(ai.Usage{PromptTokens: 5000, CompletionTokens: 100}, len(path))

	// Two more messages after the report: base + chars/4 of the tail.
	path = append(path,
		msgWithChars(ai.RoleUser, 40),       // 10 tokens
		msgWithChars(ai.RoleAssistant, 120), // 30 tokens
	)
	if got := tr.estimate(path); got != 5040 {
		t.Errorf("estimate = %d, want 5040", got)
	}
}

func TestUsageTracker_InvalidateFallsBackToFullScan(t *testing.T) {
	tr := &usageTracker{}
	path := []ai.Message{msgWithChars(ai.RoleUser, 400)}
	tr.record(ai.Usage{PromptTokens: 9000}, 1)
	tr.invalidate()
	if got := tr.estimate(path); got != 100 {
		t.Errorf("estimate after invalidate = %d, want 100", got)
	}
}

func TestUsageTracker_StaleIndexAfterShrink(t *testing.T) {
	tr := &usageTracker{}
	tr.record(ai.Usage{PromptTokens: 9000}, 10)

	// Path shrank below the snapshot index (compaction without invalidate
	// cannot happen, but the tracker still degrades safely).
	path := []ai.Message{msgWithChars(ai.RoleUser, 400)}
	if got := tr.estimate(path); got != 100 {
		t.Errorf("estimate = %d, want 100", got)
	}
}

func TestUsageTracker_TotalsAccumulate(t *testing.T) {
	tr := &usageTracker{}
	tr.record(ai.Usage{PromptTokens: 100, CompletionTokens: 20}, 2)
	tr.record(ai.Usage{PromptTokens: 150, CompletionTokens: 30, TotalTokens: 180}, 4)

	snap := tr.snapshot(nil, 200000)
	if snap.PromptTokens != 250 || snap.CompletionTokens != 50 {
		t.Errorf("totals = %+v", snap)
	}
	// First report had no explicit total: derived as prompt+completion.
	if snap.TotalTokens != 120+180 {
		t.Errorf("TotalTokens = %d, want 300", snap.TotalTokens)
	}
	if snap.ContextWindow != 200000 {
		t.Errorf("ContextWindow = %d", snap.ContextWindow)
	}
}

func TestEstimateMessageTokens(t *testing.T) {
	m := ai.NewMessage(ai.RoleAssistant, strings.Repeat("a", 10))
	if got := estimateMessageTokens(m); got != 2 {
		t.Errorf("tokens = %d, want 2", got)
	}

	// Tiny but non-empty content still counts as one token.
	small := ai.NewMessage(ai.RoleUser, "hi")
	if got := estimateMessageTokens(small); got != 1 {
		t.Errorf("tokens = %d, want 1", got)
	}

	empty := ai.NewMessage(ai.RoleUser, "")
	if got := estimateMessageTokens(empty); got != 0 {
		t.Errorf("tokens = %d, want 0", got)
	}
}
