package builtin_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opal-agent/opal/pkg/tools/builtin"
)

func findDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.go"), nil, 0o644)
	os.WriteFile(filepath.Join(dir, "b.txt"), nil, 0o644)
	os.MkdirAll(filepath.Join(dir, "src", "deep"), 0o755)
	os.WriteFile(filepath.Join(dir, "src", "c.go"), nil, 0o644)
	os.WriteFile(filepath.Join(dir, "src", "deep", "d.go"), nil, 0o644)
	return dir
}

func TestFind_SimpleGlob(t *testing.T) {
	dir := findDir(t)
	out := runTool(t, builtin.NewFindTool(dir), map[string]any{"pattern": "*.go"}).Text
	for _, want := range []string{"a.go", "src/c.go", "src/deep/d.go"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s in %q", want, out)
		}
	}
	if strings.Contains(out, "b.txt") {
		t.Errorf("unexpected match: %q", out)
	}
}

func TestFind_DoubleStarGlob(t *testing.T) {
	dir := findDir(t)
	out := runTool(t, builtin.NewFindTool(dir), map[string]any{"pattern": "src/**/*.go"}).Text
	if !strings.Contains(out, "src/deep/d.go") {
		t.Errorf("missing deep match: %q", out)
	}
	if strings.Contains(out, "a.go\n") || out == "a.go" {
		t.Errorf("prefix not applied: %q", out)
	}
}

func TestFind_NoMatches(t *testing.T) {
	out := runTool(t, builtin.NewFindTool(t.TempDir()), map[string]any{"pattern": "*.rs"}).Text
	if out != "No files found matching pattern" {
		t.Errorf("output = %q", out)
	}
}

func TestFind_Limit(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"a.go", "b.go", "c.go"} {
		os.WriteFile(filepath.Join(dir, n), nil, 0o644)
	}

	out := runTool(t, builtin.NewFindTool(dir), map[string]any{
		"pattern": "*.go",
		"limit":   float64(2),
	}).Text
	if !strings.Contains(out, "2 results limit reached") {
		t.Errorf("limit notice missing: %q", out)
	}
}

func TestFind_SkipsGitDir(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, ".git"), 0o755)
	os.WriteFile(filepath.Join(dir, ".git", "config.go"), nil, 0o644)
	os.WriteFile(filepath.Join(dir, "real.go"), nil, 0o644)

	out := runTool(t, builtin.NewFindTool(dir), map[string]any{"pattern": "*.go"}).Text
	if strings.Contains(out, ".git") {
		t.Errorf(".git not skipped: %q", out)
	}
	if !strings.Contains(out, "real.go") {
		t.Errorf("real file missing: %q", out)
	}
}

func TestFind_MissingPattern(t *testing.T) {
	res := runTool(t, builtin.NewFindTool(t.TempDir()), map[string]any{})
	if res.OK {
		t.Errorf("expected failure, got %q", res.Text)
	}
}
