package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/opal-agent/opal/pkg/tools"
)

// binaryExtensions lists file types read_file refuses; the model gets a hint
// to use bash for binary inspection instead.
var binaryExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".ico": true, ".pdf": true, ".zip": true, ".tar": true, ".gz": true,
	".exe": true, ".so": true, ".dylib": true, ".wasm": true,
}

// ReadFileTool reads text files with pagination and head truncation.
type ReadFileTool struct {
	cwd string
}

func NewReadFileTool(cwd string) *ReadFileTool { return &ReadFileTool{cwd: cwd} }

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return fmt.Sprintf(
		"Read the contents of a text file. Output is truncated to %d lines or %s "+
			"(whichever is hit first). Use offset/limit for large files; continue "+
			"with offset until you have read everything you need.",
		DefaultMaxLines, FormatSize(DefaultMaxBytes),
	)
}

func (t *ReadFileTool) Parameters() json.RawMessage {
	return tools.MustSchema(tools.SimpleSchema{
		Properties: map[string]tools.Property{
			"path":   {Type: "string", Description: "Path to the file to read (relative or absolute)"},
			"offset": {Type: "integer", Description: "Line number to start reading from (1-indexed)"},
			"limit":  {Type: "integer", Description: "Maximum number of lines to read"},
		},
		Required: []string{"path"},
	})
}

func (t *ReadFileTool) Meta(args map[string]any) string {
	return "read " + filepath.Base(pathArg(args))
}

func (t *ReadFileTool) Execute(_ context.Context, args map[string]any, tc tools.Context) (tools.Result, error) {
	pathParam := pathArg(args)
	if pathParam == "" {
		return tools.ErrorResult(fmt.Errorf("path is required")), nil
	}
	absPath := resolvePath(pathParam, workDir(tc, t.cwd))

	if binaryExtensions[strings.ToLower(filepath.Ext(absPath))] {
		return tools.ErrorResult(fmt.Errorf("%s is a binary file; use bash (e.g. file, xxd) to inspect it", pathParam)), nil
	}

	raw, err := os.ReadFile(absPath)
	if err != nil {
		return tools.ErrorResult(fmt.Errorf("cannot read %s: %w", pathParam, err)), nil
	}

	allLines := strings.Split(normalizeToLF(string(raw)), "\n")
	totalFileLines := len(allLines)

	offset, _ := intArg(args, "offset")
	limit, hasLimit := intArg(args, "limit")

	startLine := 0 // 0-indexed
	if offset > 0 {
		startLine = offset - 1
	}
	if startLine >= totalFileLines {
		return tools.ErrorResult(fmt.Errorf("offset %d is beyond end of file (%d lines total)", offset, totalFileLines)), nil
	}

	var selected string
	var userLimitedLines int
	if hasLimit && limit > 0 {
		endLine := min(startLine+limit, totalFileLines)
		selected = joinLines(allLines[startLine:endLine])
		userLimitedLines = endLine - startLine
	} else {
		selected = joinLines(allLines[startLine:])
	}

	tr := TruncateHead(selected, DefaultMaxLines, DefaultMaxBytes)
	startDisplay := startLine + 1 // 1-indexed for display

	var out string
	switch {
	case tr.FirstLineExceedsLimit:
		out = fmt.Sprintf(
			"[Line %d is %s, exceeds %s limit. Use bash: sed -n '%dp' %s | head -c %d]",
			startDisplay, FormatSize(len(allLines[startLine])), FormatSize(DefaultMaxBytes),
			startDisplay, pathParam, DefaultMaxBytes,
		)

	case tr.Truncated:
		endDisplay := startDisplay + tr.OutputLines - 1
		out = tr.Content
		if tr.TruncatedBy == "lines" {
			out += fmt.Sprintf(
				"\n\n[Showing lines %d-%d of %d. Use offset=%d to continue.]",
				startDisplay, endDisplay, totalFileLines, endDisplay+1,
			)
		} else {
			out += fmt.Sprintf(
				"\n\n[Showing lines %d-%d of %d (%s limit). Use offset=%d to continue.]",
				startDisplay, endDisplay, totalFileLines, FormatSize(DefaultMaxBytes), endDisplay+1,
			)
		}

	case hasLimit && userLimitedLines > 0 && startLine+userLimitedLines < totalFileLines:
		remaining := totalFileLines - (startLine + userLimitedLines)
		out = tr.Content + fmt.Sprintf(
			"\n\n[%d more lines in file. Use offset=%d to continue.]",
			remaining, startLine+userLimitedLines+1,
		)

	default:
		out = tr.Content
	}

	return tools.TextResult(out), nil
}
