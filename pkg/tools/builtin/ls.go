package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/opal-agent/opal/pkg/tools"
)

const lsDefaultLimit = 500

// LsTool lists directory contents sorted alphabetically, with a "/" suffix
// for subdirectories. Dotfiles are included.
type LsTool struct {
	cwd string
}

func NewLsTool(cwd string) *LsTool { return &LsTool{cwd: cwd} }

func (t *LsTool) Name() string { return "ls" }

func (t *LsTool) Description() string {
	return fmt.Sprintf(
		"List directory contents. Entries are sorted alphabetically with a '/' suffix for directories, "+
			"dotfiles included. Output is truncated to %d entries or %s (whichever is hit first).",
		lsDefaultLimit, FormatSize(DefaultMaxBytes),
	)
}

func (t *LsTool) Parameters() json.RawMessage {
	return tools.MustSchema(tools.SimpleSchema{
		Properties: map[string]tools.Property{
			"path":  {Type: "string", Description: "Directory to list (default: working directory)"},
			"limit": {Type: "integer", Description: fmt.Sprintf("Maximum number of entries to return (default: %d)", lsDefaultLimit)},
		},
	})
}

func (t *LsTool) Meta(args map[string]any) string {
	p := pathArg(args)
	if p == "" {
		p = "."
	}
	return "ls " + p
}

func (t *LsTool) Execute(_ context.Context, args map[string]any, tc tools.Context) (tools.Result, error) {
	pathParam := pathArg(args)
	limit := lsDefaultLimit
	if n, ok := intArg(args, "limit"); ok && n > 0 {
		limit = n
	}

	cwd := workDir(tc, t.cwd)
	dirPath := cwd
	if pathParam != "" {
		dirPath = resolvePath(pathParam, cwd)
	}

	info, err := os.Stat(dirPath)
	if err != nil {
		return tools.ErrorResult(fmt.Errorf("path not found: %s", pathParam)), nil
	}
	if !info.IsDir() {
		return tools.ErrorResult(fmt.Errorf("not a directory: %s", pathParam)), nil
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return tools.ErrorResult(fmt.Errorf("cannot read directory: %w", err)), nil
	}

	sort.Slice(entries, func(i, j int) bool {
		return strings.ToLower(entries[i].Name()) < strings.ToLower(entries[j].Name())
	})

	var results []string
	limitReached := false
	for _, e := range entries {
		if len(results) >= limit {
			limitReached = true
			break
		}
		name := e.Name()
		if e.IsDir() {
			name += "/"
		} else if e.Type()&os.ModeSymlink != 0 {
			// Symlinks to directories list as directories.
			if target, err := os.Stat(filepath.Join(dirPath, name)); err == nil && target.IsDir() {
				name += "/"
			}
		}
		results = append(results, name)
	}

	if len(results) == 0 {
		return tools.TextResult("(empty directory)"), nil
	}

	tr := TruncateHead(strings.Join(results, "\n"), maxInt, DefaultMaxBytes)
	out := tr.Content

	var notices []string
	if limitReached {
		notices = append(notices, fmt.Sprintf("%d entries limit reached. Use limit=%d for more", limit, limit*2))
	}
	if tr.Truncated {
		notices = append(notices, fmt.Sprintf("%s limit reached", FormatSize(DefaultMaxBytes)))
	}
	if len(notices) > 0 {
		out += "\n\n[" + strings.Join(notices, ". ") + "]"
	}

	return tools.TextResult(out), nil
}
