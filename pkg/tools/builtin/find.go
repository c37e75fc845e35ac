package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/opal-agent/opal/pkg/tools"
)

const findDefaultLimit = 1000

// FindTool locates files by glob pattern. Pure-Go walk; skips VCS
// directories and basic .gitignore patterns.
type FindTool struct {
	cwd string
}

func NewFindTool(cwd string) *FindTool { return &FindTool{cwd: cwd} }

func (t *FindTool) Name() string { return "find" }

func (t *FindTool) Description() string {
	return fmt.Sprintf(
		"Search for files by glob pattern. Returns matching paths relative to the search directory. "+
			"Respects .gitignore. Output is truncated to %d results or %s (whichever is hit first).",
		findDefaultLimit, FormatSize(DefaultMaxBytes),
	)
}

func (t *FindTool) Parameters() json.RawMessage {
	return tools.MustSchema(tools.SimpleSchema{
		Properties: map[string]tools.Property{
			"pattern": {Type: "string", Description: "Glob pattern, e.g. '*.go', '**/*.json', or 'src/**/*_test.go'"},
			"path":    {Type: "string", Description: "Directory to search in (default: working directory)"},
			"limit":   {Type: "integer", Description: fmt.Sprintf("Maximum number of results (default: %d)", findDefaultLimit)},
		},
		Required: []string{"pattern"},
	})
}

func (t *FindTool) Meta(args map[string]any) string {
	pattern, _ := args["pattern"].(string)
	return "find " + pattern
}

func (t *FindTool) Execute(ctx context.Context, args map[string]any, tc tools.Context) (tools.Result, error) {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return tools.ErrorResult(fmt.Errorf("pattern is required")), nil
	}

	pathParam := pathArg(args)
	limit := findDefaultLimit
	if n, ok := intArg(args, "limit"); ok && n > 0 {
		limit = n
	}

	cwd := workDir(tc, t.cwd)
	searchRoot := cwd
	if pathParam != "" {
		searchRoot = resolvePath(pathParam, cwd)
	}

	info, err := os.Stat(searchRoot)
	if err != nil || !info.IsDir() {
		return tools.ErrorResult(fmt.Errorf("path not found or not a directory: %s", searchRoot)), nil
	}

	gitIgnore := loadGitignore(searchRoot)

	var results []string
	limitReached := false

	walkErr := filepath.WalkDir(searchRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || ctx.Err() != nil {
			return walkErr
		}
		if d.IsDir() {
			name := d.Name()
			if name == ".git" || name == "node_modules" || name == ".hg" || name == ".svn" {
				return filepath.SkipDir
			}
			if gitIgnore.matchesDir(path, searchRoot) {
				return filepath.SkipDir
			}
			return nil
		}

		if gitIgnore.matchesFile(path, searchRoot) {
			return nil
		}

		matched, _ := matchGlob(pattern, d.Name(), path, searchRoot)
		if !matched {
			return nil
		}

		rel, _ := filepath.Rel(searchRoot, path)
		results = append(results, filepath.ToSlash(rel))
		if len(results) >= limit {
			limitReached = true
			return errLimitReached
		}
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, errLimitReached) {
		return tools.ErrorResult(walkErr), nil
	}

	if len(results) == 0 {
		return tools.TextResult("No files found matching pattern"), nil
	}

	tr := TruncateHead(strings.Join(results, "\n"), maxInt, DefaultMaxBytes)
	out := tr.Content

	var notices []string
	if limitReached {
		notices = append(notices, fmt.Sprintf("%d results limit reached. Use limit=%d for more, or refine pattern", limit, limit*2))
	}
	if tr.Truncated {
		notices = append(notices, fmt.Sprintf("%s limit reached", FormatSize(DefaultMaxBytes)))
	}
	if len(notices) > 0 {
		out += "\n\n[" + strings.Join(notices, ". ") + "]"
	}

	return tools.TextResult(out), nil
}
