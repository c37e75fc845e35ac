package builtin

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/opal-agent/opal/pkg/tools"
)

// workDir picks the working directory for one call: the session's directory
// when set, otherwise the tool's construction-time fallback.
func workDir(tc tools.Context, fallback string) string {
	if tc.WorkingDir != "" {
		return tc.WorkingDir
	}
	if fallback != "" {
		return fallback
	}
	return "."
}

// pathArg reads the file path argument, accepting both "path" and the
// "file_path" alias some models emit.
func pathArg(args map[string]any) string {
	if p, _ := args["path"].(string); p != "" {
		return p
	}
	p, _ := args["file_path"].(string)
	return p
}

// resolvePath resolves a user-supplied path against cwd, with ~ expansion.
// A leading @ is stripped (file-mention convention).
func resolvePath(p, cwd string) string {
	p = strings.TrimSpace(p)
	p = strings.TrimPrefix(p, "@")

	if p == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
	}
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}

	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(cwd, p)
}

// intArg reads an integer argument. JSON numbers arrive as float64; schema
// coercion may have turned them into int already.
func intArg(args map[string]any, key string) (int, bool) {
	switch n := args[key].(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	return 0, false
}

// normalizeToLF replaces CRLF and lone CR with LF.
func normalizeToLF(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return s
}

// detectLineEnding reports "\r\n" when the first line break in the content is
// a Windows one, otherwise "\n".
func detectLineEnding(s string) string {
	crlfIdx := strings.Index(s, "\r\n")
	lfIdx := strings.Index(s, "\n")
	if lfIdx == -1 || crlfIdx == -1 {
		return "\n"
	}
	if crlfIdx < lfIdx {
		return "\r\n"
	}
	return "\n"
}

// restoreLineEndings converts LF back to the original line ending.
func restoreLineEndings(s, ending string) string {
	if ending == "\r\n" {
		return strings.ReplaceAll(s, "\n", "\r\n")
	}
	return s
}

// stripBOM removes a leading UTF-8 BOM, returning it separately so it can be
// restored on write.
func stripBOM(s string) (bom, text string) {
	if strings.HasPrefix(s, "\uFEFF") {
		return "\uFEFF", s[3:] // the BOM is 3 bytes in UTF-8
	}
	return "", s
}
