package builtin

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/opal-agent/opal/pkg/tools"
)

const grepDefaultLimit = 100

// errLimitReached stops the walk once enough matches are collected.
var errLimitReached = errors.New("limit reached")

// GrepTool searches file contents with Go's regexp engine. The walk skips VCS
// directories, node_modules, and basic .gitignore patterns.
type GrepTool struct {
	cwd string
}

func NewGrepTool(cwd string) *GrepTool { return &GrepTool{cwd: cwd} }

func (t *GrepTool) Name() string { return "grep" }

func (t *GrepTool) Description() string {
	return fmt.Sprintf(
		"Search file contents for a pattern. Returns matching lines with file paths and line numbers. "+
			"Respects .gitignore. Output is truncated to %d matches or %s (whichever is hit first); "+
			"long lines are truncated to %d chars.",
		grepDefaultLimit, FormatSize(DefaultMaxBytes), GrepMaxLineLength,
	)
}

func (t *GrepTool) Parameters() json.RawMessage {
	return tools.MustSchema(tools.SimpleSchema{
		Properties: map[string]tools.Property{
			"pattern":     {Type: "string", Description: "Search pattern (regex or literal string)"},
			"path":        {Type: "string", Description: "Directory or file to search (default: working directory)"},
			"glob":        {Type: "string", Description: "Filter files by glob pattern, e.g. '*.go' or '**/*_test.go'"},
			"ignore_case": {Type: "boolean", Description: "Case-insensitive search (default: false)"},
			"literal":     {Type: "boolean", Description: "Treat pattern as a literal string instead of a regex (default: false)"},
			"context":     {Type: "integer", Description: "Lines of context around each match (default: 0)"},
			"limit":       {Type: "integer", Description: fmt.Sprintf("Maximum number of matches (default: %d)", grepDefaultLimit)},
		},
		Required: []string{"pattern"},
	})
}

func (t *GrepTool) Meta(args map[string]any) string {
	pattern, _ := args["pattern"].(string)
	return "grep " + pattern
}

type grepMatch struct {
	file    string // relative path
	lineNum int    // 1-indexed
	line    string
}

func (t *GrepTool) Execute(ctx context.Context, args map[string]any, tc tools.Context) (tools.Result, error) {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return tools.ErrorResult(fmt.Errorf("pattern is required")), nil
	}

	pathParam := pathArg(args)
	globParam, _ := args["glob"].(string)
	ignoreCase, _ := args["ignore_case"].(bool)
	literal, _ := args["literal"].(bool)
	ctxLines, _ := intArg(args, "context")
	limit := grepDefaultLimit
	if n, ok := intArg(args, "limit"); ok && n > 0 {
		limit = n
	}

	cwd := workDir(tc, t.cwd)
	searchRoot := cwd
	if pathParam != "" {
		searchRoot = resolvePath(pathParam, cwd)
	}

	patStr := pattern
	if literal {
		patStr = regexp.QuoteMeta(pattern)
	}
	if ignoreCase {
		patStr = "(?i)" + patStr
	}
	re, err := regexp.Compile(patStr)
	if err != nil {
		return tools.ErrorResult(fmt.Errorf("invalid pattern: %w", err)), nil
	}

	gitIgnore := loadGitignore(searchRoot)

	info, err := os.Stat(searchRoot)
	if err != nil {
		return tools.ErrorResult(fmt.Errorf("path not found: %s", searchRoot)), nil
	}

	var matches []grepMatch
	linesTruncated := false
	matchLimitReached := false

	if !info.IsDir() {
		rel, _ := filepath.Rel(cwd, searchRoot)
		ms, lt, err := searchFile(ctx, searchRoot, rel, re, limit)
		if err != nil {
			return tools.ErrorResult(err), nil
		}
		matches = ms
		linesTruncated = lt
		matchLimitReached = len(matches) >= limit
	} else {
		err = filepath.WalkDir(searchRoot, func(path string, d fs.DirEntry, walkErr error) error {
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

			if globParam != "" {
				if matched, _ := matchGlob(globParam, d.Name(), path, searchRoot); !matched {
					return nil
				}
			}
			if !isTextFile(d.Name()) || gitIgnore.matchesFile(path, searchRoot) {
				return nil
			}

			remaining := limit - len(matches)
			if remaining <= 0 {
				matchLimitReached = true
				return errLimitReached
			}

			rel, _ := filepath.Rel(searchRoot, path)
			ms, lt, err := searchFile(ctx, path, filepath.ToSlash(rel), re, remaining)
			if err != nil {
				return nil // unreadable file, skip
			}
			matches = append(matches, ms...)
			if lt {
				linesTruncated = true
			}
			if len(matches) >= limit {
				matchLimitReached = true
				return errLimitReached
			}
			return nil
		})
		if err != nil && !errors.Is(err, errLimitReached) {
			return tools.ErrorResult(err), nil
		}
	}

	if len(matches) == 0 {
		return tools.TextResult("No matches found"), nil
	}

	outputLines := formatMatches(matches, ctxLines, searchRoot)
	tr := TruncateHead(strings.Join(outputLines, "\n"), maxInt, DefaultMaxBytes)
	out := tr.Content

	var notices []string
	if matchLimitReached {
		notices = append(notices, fmt.Sprintf("%d matches limit reached. Use limit=%d for more, or refine pattern", limit, limit*2))
	}
	if tr.Truncated {
		notices = append(notices, fmt.Sprintf("%s limit reached", FormatSize(DefaultMaxBytes)))
	}
	if linesTruncated {
		notices = append(notices, fmt.Sprintf("Some lines truncated to %d chars. Use read_file to see full lines", GrepMaxLineLength))
	}
	if len(notices) > 0 {
		out += "\n\n[" + strings.Join(notices, ". ") + "]"
	}

	return tools.TextResult(out), nil
}

func searchFile(ctx context.Context, absPath, relPath string, re *regexp.Regexp, limit int) ([]grepMatch, bool, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	var matches []grepMatch
	linesTruncated := false
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	lineNum := 0

	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		lineNum++
		line := scanner.Text()
		if re.MatchString(line) {
			truncated, wasTruncated := TruncateLine(line, GrepMaxLineLength)
			if wasTruncated {
				linesTruncated = true
			}
			matches = append(matches, grepMatch{file: relPath, lineNum: lineNum, line: truncated})
			if len(matches) >= limit {
				break
			}
		}
	}
	return matches, linesTruncated, scanner.Err()
}

// formatMatches renders "file:line: content" lines, with optional context
// lines marked by "-" separators.
func formatMatches(matches []grepMatch, ctxLines int, searchRoot string) []string {
	if ctxLines <= 0 {
		out := make([]string, 0, len(matches))
		for _, m := range matches {
			out = append(out, fmt.Sprintf("%s:%d: %s", m.file, m.lineNum, m.line))
		}
		return out
	}

	// Context lines need the files re-read; cache per file.
	fileLines := map[string][]string{}
	getLines := func(absPath string) []string {
		if l, ok := fileLines[absPath]; ok {
			return l
		}
		data, err := os.ReadFile(absPath)
		if err != nil {
			fileLines[absPath] = nil
			return nil
		}
		lines := strings.Split(normalizeToLF(string(data)), "\n")
		fileLines[absPath] = lines
		return lines
	}

	var out []string
	for _, m := range matches {
		absPath := filepath.Join(searchRoot, filepath.FromSlash(m.file))
		lines := getLines(absPath)
		start := max(0, m.lineNum-1-ctxLines)
		end := min(len(lines), m.lineNum+ctxLines)
		for i := start; i < end; i++ {
			lineText, _ := TruncateLine(lines[i], GrepMaxLineLength)
			if i+1 == m.lineNum {
				out = append(out, fmt.Sprintf("%s:%d: %s", m.file, i+1, lineText))
			} else {
				out = append(out, fmt.Sprintf("%s-%d- %s", m.file, i+1, lineText))
			}
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Gitignore (basic)
// ---------------------------------------------------------------------------

type gitIgnoreRules struct {
	patterns []string
}

func loadGitignore(root string) gitIgnoreRules {
	data, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return gitIgnoreRules{}
	}
	var patterns []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		patterns = append(patterns, line)
	}
	return gitIgnoreRules{patterns: patterns}
}

func (g gitIgnoreRules) matchesDir(absPath, root string) bool {
	rel, _ := filepath.Rel(root, absPath)
	name := filepath.Base(absPath)
	for _, p := range g.patterns {
		clean := strings.TrimSuffix(p, "/")
		if matched, _ := filepath.Match(clean, name); matched {
			return true
		}
		if matched, _ := filepath.Match(clean, filepath.ToSlash(rel)); matched {
			return true
		}
	}
	return false
}

func (g gitIgnoreRules) matchesFile(absPath, root string) bool {
	rel, _ := filepath.Rel(root, absPath)
	name := filepath.Base(absPath)
	for _, p := range g.patterns {
		if strings.HasSuffix(p, "/") {
			continue // directory-only rule
		}
		if matched, _ := filepath.Match(p, name); matched {
			return true
		}
		if matched, _ := filepath.Match(p, filepath.ToSlash(rel)); matched {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Glob and text-file helpers
// ---------------------------------------------------------------------------

// matchGlob matches a file against a glob, supporting ** against the full
// relative path.
func matchGlob(pattern, name, absPath, root string) (bool, error) {
	if !strings.Contains(pattern, "**") {
		return filepath.Match(pattern, name)
	}
	rel, err := filepath.Rel(root, absPath)
	if err != nil {
		return false, err
	}
	return doubleStarMatch(pattern, filepath.ToSlash(rel))
}

// doubleStarMatch implements prefix/suffix ** matching, which covers the
// common shapes: **/*.go, src/**/*_test.go.
func doubleStarMatch(pattern, path string) (bool, error) {
	parts := strings.Split(pattern, "**")
	if len(parts) == 1 {
		return filepath.Match(pattern, path)
	}
	prefix := parts[0]
	suffix := parts[len(parts)-1]

	if prefix != "" {
		if !strings.HasPrefix(path, prefix) {
			return false, nil
		}
		path = path[len(prefix):]
	}
	if suffix != "" && !strings.HasSuffix(path, suffix) {
		m, _ := filepath.Match(suffix, filepath.Base(path))
		return m, nil
	}
	return true, nil
}

// isTextFile rejects well-known binary extensions.
func isTextFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	binary := map[string]bool{
		".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
		".ico": true, ".svg": true, ".pdf": true, ".zip": true, ".tar": true,
		".gz": true, ".bz2": true, ".xz": true, ".7z": true, ".rar": true,
		".exe": true, ".dll": true, ".so": true, ".dylib": true,
		".wasm": true, ".bin": true, ".db": true, ".sqlite": true,
		".mp3": true, ".mp4": true, ".mov": true, ".avi": true,
	}
	return !binary[ext]
}
