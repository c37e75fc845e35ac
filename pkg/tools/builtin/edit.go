package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/opal-agent/opal/pkg/tools"
)

// EditFileTool performs surgical find-and-replace on files. CRLF and smart
// punctuation are normalised before matching, the search text must appear
// exactly once, and a contextual diff is returned in the result details.
type EditFileTool struct {
	cwd string
}

func NewEditFileTool(cwd string) *EditFileTool { return &EditFileTool{cwd: cwd} }

func (t *EditFileTool) Name() string { return "edit_file" }

func (t *EditFileTool) Description() string {
	return "Edit a file by replacing exact text. old_text must match exactly, including whitespace, and appear exactly once. Use this for precise, surgical edits."
}

func (t *EditFileTool) Parameters() json.RawMessage {
	return tools.MustSchema(tools.SimpleSchema{
		Properties: map[string]tools.Property{
			"path":     {Type: "string", Description: "Path to the file to edit (relative or absolute)"},
			"old_text": {Type: "string", Description: "Exact text to find and replace"},
			"new_text": {Type: "string", Description: "Replacement text"},
		},
		Required: []string{"path", "old_text", "new_text"},
	})
}

func (t *EditFileTool) Meta(args map[string]any) string {
	return "edit " + filepath.Base(pathArg(args))
}

// EditDetails accompanies a successful edit for UIs and logging.
type EditDetails struct {
	Diff             string `json:"diff"`
	FirstChangedLine int    `json:"first_changed_line,omitempty"`
}

func (t *EditFileTool) Execute(_ context.Context, args map[string]any, tc tools.Context) (tools.Result, error) {
	pathParam := pathArg(args)
	oldText, _ := args["old_text"].(string)
	newText, _ := args["new_text"].(string)
	if pathParam == "" {
		return tools.ErrorResult(fmt.Errorf("path is required")), nil
	}

	absPath := resolvePath(pathParam, workDir(tc, t.cwd))

	raw, err := os.ReadFile(absPath)
	if err != nil {
		return tools.ErrorResult(fmt.Errorf("cannot read %s: %w", pathParam, err)), nil
	}

	bom, rawText := stripBOM(string(raw))
	originalEnding := detectLineEnding(rawText)
	content := normalizeToLF(rawText)
	normOld := normalizeToLF(oldText)
	normNew := normalizeToLF(newText)

	match := fuzzyFindText(content, normOld)
	if !match.found {
		return tools.ErrorResult(fmt.Errorf(
			"could not find the exact text in %s. old_text must match exactly, including all whitespace and newlines",
			pathParam,
		)), nil
	}

	occurrences := strings.Count(normalizeForFuzzyMatch(match.base), normalizeForFuzzyMatch(normOld))
	if occurrences > 1 {
		return tools.ErrorResult(fmt.Errorf(
			"found %d occurrences of the text in %s. The text must be unique; provide more surrounding context",
			occurrences, pathParam,
		)), nil
	}

	base := match.base
	newContent := base[:match.index] + normNew + base[match.index+match.matchLen:]
	if base == newContent {
		return tools.ErrorResult(fmt.Errorf(
			"no changes made to %s. The replacement produced identical content", pathParam,
		)), nil
	}

	final := bom + restoreLineEndings(newContent, originalEnding)
	if err := os.WriteFile(absPath, []byte(final), 0o644); err != nil {
		return tools.ErrorResult(fmt.Errorf("cannot write %s: %w", pathParam, err)), nil
	}

	diff, firstLine := contextDiff(base, match.index, normOld, normNew)
	return tools.Result{
		OK:      true,
		Text:    fmt.Sprintf("Successfully replaced text in %s.", pathParam),
		Details: EditDetails{Diff: diff, FirstChangedLine: firstLine},
	}, nil
}

// ---------------------------------------------------------------------------
// Fuzzy matching
// ---------------------------------------------------------------------------

type matchResult struct {
	found    bool
	index    int
	matchLen int
	base     string // content the replacement indexes into
}

func fuzzyFindText(content, oldText string) matchResult {
	if idx := strings.Index(content, oldText); idx != -1 {
		return matchResult{found: true, index: idx, matchLen: len(oldText), base: content}
	}
	// Retry with both sides normalised.
	fc := normalizeForFuzzyMatch(content)
	fo := normalizeForFuzzyMatch(oldText)
	if idx := strings.Index(fc, fo); idx != -1 {
		return matchResult{found: true, index: idx, matchLen: len(fo), base: fc}
	}
	return matchResult{}
}

// normalizeForFuzzyMatch strips trailing whitespace per line and maps smart
// quotes, typographic dashes, and Unicode spaces to ASCII equivalents.
func normalizeForFuzzyMatch(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRightFunc(l, unicode.IsSpace)
	}
	s = strings.Join(lines, "\n")

	// Smart single quotes
	s = replaceRunes(s, []rune{'\u2018', '\u2019', '\u201A', '\u201B'}, '\'')
	// Smart double quotes
	s = replaceRunes(s, []rune{'\u201C', '\u201D', '\u201E', '\u201F'}, '"')
	// Typographic dashes
	s = replaceRunes(s, []rune{'\u2010', '\u2011', '\u2012', '\u2013', '\u2014', '\u2015', '\u2212'}, '-')
	// Unicode spaces
	s = replaceRunes(s, []rune{'\u00A0', '\u2002', '\u2003', '\u2004', '\u2005', '\u2006', '\u2007', '\u2008', '\u2009', '\u200A', '\u202F', '\u205F', '\u3000'}, ' ')
	return s
}

func replaceRunes(s string, from []rune, to rune) string {
	return strings.Map(func(r rune) rune {
		for _, f := range from {
			if r == f {
				return to
			}
		}
		return r
	}, s)
}

// ---------------------------------------------------------------------------
// Diff generation
// ---------------------------------------------------------------------------

// contextDiff renders the single replacement as a unified-style diff with a
// few lines of surrounding context. No LCS is needed: the change location and
// extent are already known.
func contextDiff(base string, matchIndex int, oldText, newText string) (diff string, firstChangedLine int) {
	allLines := strings.Split(base, "\n")
	oldLines := trimTrailingEmpty(strings.Split(oldText, "\n"))
	newLines := trimTrailingEmpty(strings.Split(newText, "\n"))

	startLineIdx := strings.Count(base[:matchIndex], "\n")
	firstChangedLine = startLineIdx + 1 // 1-indexed

	totalLines := len(allLines) + len(newLines) - len(oldLines)
	width := len(fmt.Sprintf("%d", max(len(allLines), totalLines)))
	pad := func(n int) string { return fmt.Sprintf("%*d", width, n) }

	var sb strings.Builder

	contextStart := max(0, startLineIdx-contextLines)
	if contextStart > 0 {
		fmt.Fprintf(&sb, " %s ...\n", strings.Repeat(" ", width))
	}
	for i := contextStart; i < startLineIdx && i < len(allLines); i++ {
		fmt.Fprintf(&sb, " %s %s\n", pad(i+1), allLines[i])
	}

	for i, line := range oldLines {
		fmt.Fprintf(&sb, "-%s %s\n", pad(startLineIdx+i+1), line)
	}
	for i, line := range newLines {
		fmt.Fprintf(&sb, "+%s %s\n", pad(startLineIdx+i+1), line)
	}

	afterStart := startLineIdx + len(oldLines)
	afterEnd := min(afterStart+contextLines, len(allLines))
	for i := afterStart; i < afterEnd; i++ {
		fmt.Fprintf(&sb, " %s %s\n", pad(i+1), allLines[i])
	}
	if afterEnd < len(allLines) {
		fmt.Fprintf(&sb, " %s ...\n", strings.Repeat(" ", width))
	}

	return strings.TrimRight(sb.String(), "\n"), firstChangedLine
}

func trimTrailingEmpty(lines []string) []string {
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		return lines[:len(lines)-1]
	}
	return lines
}
