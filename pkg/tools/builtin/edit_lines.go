package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opal-agent/opal/pkg/tools"
)

// EditFileLinesTool replaces a 1-indexed line range with new content. Useful
// when the target region is easier to address by position than by exact text,
// such as after read_file with offset/limit.
type EditFileLinesTool struct {
	cwd string
}

func NewEditFileLinesTool(cwd string) *EditFileLinesTool { return &EditFileLinesTool{cwd: cwd} }

func (t *EditFileLinesTool) Name() string { return "edit_file_lines" }

func (t *EditFileLinesTool) Description() string {
	return "Replace a range of lines in a file with new content. Lines are 1-indexed and the range is inclusive. " +
		"Read the file first so the line numbers are current; they shift after every edit."
}

func (t *EditFileLinesTool) Parameters() json.RawMessage {
	return tools.MustSchema(tools.SimpleSchema{
		Properties: map[string]tools.Property{
			"path":       {Type: "string", Description: "Path to the file to edit (relative or absolute)"},
			"start_line": {Type: "integer", Description: "First line to replace (1-indexed)"},
			"end_line":   {Type: "integer", Description: "Last line to replace (inclusive)"},
			"new_text":   {Type: "string", Description: "Replacement content for the range; empty deletes the lines"},
		},
		Required: []string{"path", "start_line", "end_line"},
	})
}

func (t *EditFileLinesTool) Meta(args map[string]any) string {
	start, _ := intArg(args, "start_line")
	end, _ := intArg(args, "end_line")
	return fmt.Sprintf("edit %s:%d-%d", filepath.Base(pathArg(args)), start, end)
}

func (t *EditFileLinesTool) Execute(_ context.Context, args map[string]any, tc tools.Context) (tools.Result, error) {
	pathParam := pathArg(args)
	if pathParam == "" {
		return tools.ErrorResult(fmt.Errorf("path is required")), nil
	}
	start, okStart := intArg(args, "start_line")
	end, okEnd := intArg(args, "end_line")
	newText, _ := args["new_text"].(string)
	if !okStart || !okEnd {
		return tools.ErrorResult(fmt.Errorf("start_line and end_line are required")), nil
	}

	absPath := resolvePath(pathParam, workDir(tc, t.cwd))

	raw, err := os.ReadFile(absPath)
	if err != nil {
		return tools.ErrorResult(fmt.Errorf("cannot read %s: %w", pathParam, err)), nil
	}

	bom, rawText := stripBOM(string(raw))
	originalEnding := detectLineEnding(rawText)
	lines := splitLines(normalizeToLF(rawText))

	if start < 1 || end < start || end > len(lines) {
		return tools.ErrorResult(fmt.Errorf(
			"invalid range %d-%d for %s (%d lines)", start, end, pathParam, len(lines),
		)), nil
	}

	oldSegment := joinLines(lines[start-1 : end])
	replacement := trimTrailingEmpty(splitLines(normalizeToLF(newText)))
	if newText == "" {
		replacement = nil
	}

	merged := make([]string, 0, len(lines)-(end-start+1)+len(replacement))
	merged = append(merged, lines[:start-1]...)
	merged = append(merged, replacement...)
	merged = append(merged, lines[end:]...)
	newContent := joinLines(merged)

	final := bom + restoreLineEndings(newContent, originalEnding)
	if err := os.WriteFile(absPath, []byte(final), 0o644); err != nil {
		return tools.ErrorResult(fmt.Errorf("cannot write %s: %w", pathParam, err)), nil
	}

	cut := len(joinLines(lines[:start-1]))
	if start > 1 {
		cut++ // the newline before the replaced range
	}
	diff, firstLine := contextDiff(joinLines(lines), cut, oldSegment, joinLines(replacement))

	return tools.Result{
		OK:      true,
		Text:    fmt.Sprintf("Replaced lines %d-%d in %s.", start, end, pathParam),
		Details: EditDetails{Diff: diff, FirstChangedLine: firstLine},
	}, nil
}
