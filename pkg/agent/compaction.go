package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/opal-agent/opal/pkg/ai"
	"github.com/opal-agent/opal/pkg/prompts"
)

// Compaction replaces an old prefix of the session path with a single
// summary message so the conversation stays inside the context window.
// Predictive compaction fires at turn boundaries when the estimated context
// reaches AutoCompactRatio of the window; reactive compaction fires after an
// overflow error with force=true and an aggressive keep budget.

// CompactionConfig controls automatic compaction.
type CompactionConfig struct {
	Enabled bool

	// KeepRecentTokens is the budget of recent conversation to keep.
	// 0 uses DefaultKeepRecentTokens.
	KeepRecentTokens int

	// AutoCompactRatio triggers predictive compaction when the estimate
	// reaches this fraction of the window. 0 uses DefaultAutoCompactRatio.
	AutoCompactRatio float64
}

const (
	DefaultKeepRecentTokens = 20000
	DefaultAutoCompactRatio = 0.80

	// overflowKeepDivisor: reactive compaction keeps window/5.
	overflowKeepDivisor = 5

	// splitTurnMinMessages: a turn straddling the cut point is summarised in
	// two segments only when its prefix has at least this many messages.
	splitTurnMinMessages = 5

	toolCallArgsTruncate = 200
	toolResultTruncate   = 500

	summaryMetadataType = "compaction_summary"
)

// summaryMarker prefixes every compaction replacement message. The wording
// is a wire contract with UIs and with the update-summary prompt.
const summaryMarker = "[Conversation summary — older messages were compacted]\n\n"

func (c CompactionConfig) keepTokens() int {
	if c.KeepRecentTokens > 0 {
		return c.KeepRecentTokens
	}
	return DefaultKeepRecentTokens
}

func (c CompactionConfig) ratio() float64 {
	if c.AutoCompactRatio > 0 {
		return c.AutoCompactRatio
	}
	return DefaultAutoCompactRatio
}

// ---------------------------------------------------------------------------
// Cut point
// ---------------------------------------------------------------------------

// findCutPoint returns how many leading path messages to compact. Walks from
// the leaf backwards accumulating estimated tokens; once the keep budget is
// reached it snaps forward to the nearest user message (a turn boundary).
// Returns 0 when nothing should be compacted. Under force, falls back to
// compacting everything but the last two messages.
func findCutPoint(path []ai.Message, keepTokens int, force bool) int {
	if len(path) < 3 {
		return 0
	}

	acc := 0
	boundary := -1
	for i := len(path) - 1; i >= 1; i-- {
		acc += estimateMessageTokens(path[i])
		if acc >= keepTokens {
			boundary = i
			break
		}
	}

	cut := -1
	if boundary >= 1 {
		for i := boundary; i < len(path); i++ {
			if path[i].Role == ai.RoleUser {
				cut = i
				break
			}
		}
	}

	if cut < 1 || cut >= len(path) {
		if force {
			// The floor is measured in messages: keep the last two.
			if fb := len(path) - 2; fb >= 1 {
				return fb
			}
		}
		return 0
	}
	return cut
}

// splitTurnIndex detects a turn straddling the cut point. When the first
// kept message is not a user message, the containing turn began inside the
// compacted prefix; if that prefix portion has >= splitTurnMinMessages
// messages, the summary gets a separate segment for it. Returns the index of
// the user message opening the split turn, or -1.
func splitTurnIndex(path []ai.Message, cut int) int {
	if cut <= 0 || cut >= len(path) || path[cut].Role == ai.RoleUser {
		return -1
	}
	for i := cut - 1; i >= 0; i-- {
		if path[i].Role == ai.RoleUser {
			if cut-i >= splitTurnMinMessages {
				return i
			}
			return -1
		}
	}
	return -1
}

// ---------------------------------------------------------------------------
// Transcript serialization
// ---------------------------------------------------------------------------

// serializeTranscript renders messages as the [Role]: line format fed to the
// summariser.
func serializeTranscript(msgs []ai.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case ai.RoleSystem:
			fmt.Fprintf(&sb, "[System]: %s\n", m.Content)
		case ai.RoleUser:
			fmt.Fprintf(&sb, "[User]: %s\n", m.Content)
		case ai.RoleAssistant:
			if m.Content != "" {
				fmt.Fprintf(&sb, "[Assistant]: %s\n", m.Content)
			}
			if len(m.ToolCalls) > 0 {
				calls := make([]string, 0, len(m.ToolCalls))
				for _, tc := range m.ToolCalls {
					args, _ := json.Marshal(tc.Arguments)
					calls = append(calls, fmt.Sprintf("%s(%s)", tc.Name, truncate(string(args), toolCallArgsTruncate)))
				}
				fmt.Fprintf(&sb, "[Assistant tool calls]: %s\n", strings.Join(calls, ", "))
			}
		case ai.RoleToolResult:
			fmt.Fprintf(&sb, "[Tool result (%s/%s)]: %s\n", m.Name, m.CallID, truncate(m.Content, toolResultTruncate))
		}
	}
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// ---------------------------------------------------------------------------
// File-op tracking
// ---------------------------------------------------------------------------

// fileOpTools maps tool names to whether they modify the file.
var fileOpTools = map[string]bool{
	"read_file":       false,
	"write_file":      true,
	"edit_file":       true,
	"edit_file_lines": true,
}

// extractFileOps collects file paths from file-op tool calls in the segment,
// unions them with the carried-over lists from a prior summary, and dedupes
// with "modified wins": a file both read and modified appears only as
// modified.
func extractFileOps(segment []ai.Message, prevRead, prevModified []string) (read, modified []string) {
	readSet := map[string]bool{}
	modSet := map[string]bool{}
	for _, p := range prevRead {
		readSet[p] = true
	}
	for _, p := range prevModified {
		modSet[p] = true
	}

	for _, m := range segment {
		for _, tc := range m.ToolCalls {
			modifies, ok := fileOpTools[tc.Name]
			if !ok {
				continue
			}
			path := argString(tc.Arguments, "path")
			if path == "" {
				path = argString(tc.Arguments, "file_path")
			}
			if path == "" {
				continue
			}
			if modifies {
				modSet[path] = true
			} else {
				readSet[path] = true
			}
		}
	}

	for p := range modSet {
		delete(readSet, p)
		modified = append(modified, p)
	}
	for p := range readSet {
		read = append(read, p)
	}
	sort.Strings(read)
	sort.Strings(modified)
	return read, modified
}

func argString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// priorSummary extracts a previous compaction summary when the segment
// begins with one. Returns the summary body and its carried file lists.
func priorSummary(segment []ai.Message) (body string, read, modified []string, ok bool) {
	if len(segment) == 0 {
		return "", nil, nil, false
	}
	first := segment[0]
	if first.Role != ai.RoleUser {
		return "", nil, nil, false
	}
	if t, _ := first.Metadata["type"].(string); t != summaryMetadataType {
		return "", nil, nil, false
	}
	return strings.TrimPrefix(first.Content, summaryMarker),
		metadataStrings(first.Metadata, "read_files"),
		metadataStrings(first.Metadata, "modified_files"),
		true
}

func metadataStrings(md map[string]any, key string) []string {
	var out []string
	switch v := md[key].(type) {
	case []string:
		out = append(out, v...)
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Summary generation
// ---------------------------------------------------------------------------

// generateSummary asks the provider for a structured summary of transcript.
// prevSummary selects the incremental update template.
func (a *Agent) generateSummary(ctx context.Context, transcript, prevSummary string) (string, error) {
	var userPrompt string
	if prevSummary != "" {
		userPrompt = prompts.UpdateSummary(transcript, prevSummary)
	} else {
		userPrompt = prompts.FreshSummary(transcript)
	}

	opts := a.streamOpts
	opts.MaxTokens = 4096
	opts.ThinkingLevel = ai.ThinkingOff

	sctx, cancel := context.WithTimeout(ctx, summaryTimeout)
	defer cancel()

	stream, err := a.provider.Stream(sctx, a.model.ID, ai.Request{
		SystemPrompt: prompts.SummarySystem,
		Messages:     []ai.Message{ai.UserMessage(userPrompt)},
		Options:      opts,
	})
	if err != nil {
		return "", fmt.Errorf("compaction: summarise: %w", err)
	}
	defer stream.Cancel()

	var text strings.Builder
	for ev := range stream.Events {
		switch ev.Type {
		case ai.StreamTextDelta:
			text.WriteString(ev.Delta)
		case ai.StreamTextDone:
			if ev.Text != "" {
				text.Reset()
				text.WriteString(ev.Text)
			}
		case ai.StreamError:
			return "", fmt.Errorf("compaction: summarise: %w", ev.Err)
		}
	}

	out := strings.TrimSpace(text.String())
	if out == "" {
		return "", fmt.Errorf("compaction: summarise: empty response")
	}
	return out, nil
}

// truncationSummary is the LLM-failure fallback: message counts per role
// plus the file-op blocks, in the same outer shape as a real summary.
func truncationSummary(segment []ai.Message, read, modified []string) string {
	counts := map[ai.Role]int{}
	for _, m := range segment {
		counts[m.Role]++
	}
	var sb strings.Builder
	sb.WriteString("## Goal\n(unavailable: summarisation failed; older messages were truncated)\n\n")
	fmt.Fprintf(&sb, "## Critical Context\n- Truncated %d messages: %d user, %d assistant, %d tool results\n\n",
		len(segment), counts[ai.RoleUser], counts[ai.RoleAssistant], counts[ai.RoleToolResult])
	sb.WriteString("<read-files>\n")
	sb.WriteString(strings.Join(read, "\n"))
	sb.WriteString("\n</read-files>\n\n<modified-files>\n")
	sb.WriteString(strings.Join(modified, "\n"))
	sb.WriteString("\n</modified-files>")
	return sb.String()
}

// ---------------------------------------------------------------------------
// Compaction driver
// ---------------------------------------------------------------------------

// compact summarises and replaces the path prefix chosen by findCutPoint.
// Returns false when there was nothing to compact.
func (a *Agent) compact(ctx context.Context, keepTokens int, force bool) (bool, error) {
	path := a.store.Path()
	cut := findCutPoint(path, keepTokens, force)
	if cut < 1 {
		return false, nil
	}
	segment := path[:cut]

	a.emit(EventCompactionStart, map[string]any{"len": len(path)})

	prevSummary, prevRead, prevMod, _ := priorSummary(segment)
	read, modified := extractFileOps(segment, prevRead, prevMod)

	transcript := serializeTranscript(segment)
	if u := splitTurnIndex(path, cut); u >= 0 {
		transcript = serializeTranscript(path[:u]) +
			"\n[Note: the messages below are the unfinished prefix of the current turn]\n\n" +
			serializeTranscript(path[u:cut])
	}

	summary, err := a.generateSummary(ctx, transcript, prevSummary)
	if err != nil {
		a.logger.Warn("compaction summary failed, falling back to truncation", "error", err)
		summary = truncationSummary(segment, read, modified)
	}

	replacement := ai.UserMessage(summaryMarker + summary)
	replacement.Metadata = map[string]any{
		"type":           summaryMetadataType,
		"read_files":     read,
		"modified_files": modified,
	}

	removeIDs := make([]string, cut)
	for i := 0; i < cut; i++ {
		removeIDs[i] = segment[i].ID
	}
	if err := a.store.ReplacePathSegment(removeIDs, replacement); err != nil {
		return false, fmt.Errorf("compaction: commit: %w", err)
	}

	a.usage.invalidate()
	a.emit(EventCompactionEnd, map[string]any{"from": len(path), "to": len(path) - cut + 1})

	if a.taskDB != nil {
		if err := a.taskDB.IncrCompactions(ctx, a.id); err != nil {
			a.logger.Warn("taskdb compaction counter", "error", err)
		}
	}

	// Livelock guard: when the summary itself still fills the window, stop
	// predictive compactions until the next calibrated usage report.
	window := a.model.ContextWindow
	if window > 0 {
		est := a.usage.estimate(a.store.Path())
		if float64(est) >= a.compaction.ratio()*float64(window) {
			a.compactionSuspended = true
		}
	}
	return true, nil
}

// maybeAutoCompact runs predictive compaction at a turn boundary when the
// estimate crosses the ratio threshold.
func (a *Agent) maybeAutoCompact(ctx context.Context) {
	if !a.compaction.Enabled {
		return
	}
	window := a.model.ContextWindow
	if window <= 0 {
		return
	}
	if a.compactionSuspended {
		if !a.usage.calibrated {
			return
		}
		a.compactionSuspended = false
	}
	est := a.usage.estimate(a.store.Path())
	if float64(est) < a.compaction.ratio()*float64(window) {
		return
	}
	// Predictive keep budget: a quarter window, clamped to the configured
	// keep_recent_tokens when smaller.
	keep := a.compaction.keepTokens()
	if q := window / 4; q < keep {
		keep = q
	}
	if _, err := a.compact(ctx, keep, false); err != nil {
		// Predictive failure is non-fatal; the path stays as-is.
		a.logger.Warn("auto-compaction failed", "error", err)
	}
}
