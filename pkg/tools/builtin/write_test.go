package builtin_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opal-agent/opal/pkg/tools"
	"github.com/opal-agent/opal/pkg/tools/builtin"
)

func TestWriteFile_CreatesFile(t *testing.T) {
	dir := t.TempDir()
	res := runTool(t, builtin.NewWriteFileTool(dir), map[string]any{
		"path":    "out.txt",
		"content": "hello",
	})
	if !res.OK {
		t.Fatalf("write failed: %q", res.Text)
	}
	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	if err != nil || string(data) != "hello" {
		t.Errorf("content = %q, err = %v", data, err)
	}
}

func TestWriteFile_CreatesParentDirs(t *testing.T) {
	dir := t.TempDir()
	res := runTool(t, builtin.NewWriteFileTool(dir), map[string]any{
		"path":    "a/b/c.txt",
		"content": "nested",
	})
	if !res.OK {
		t.Fatalf("write failed: %q", res.Text)
	}
	if _, err := os.Stat(filepath.Join(dir, "a", "b", "c.txt")); err != nil {
		t.Errorf("nested file missing: %v", err)
	}
}

func TestWriteFile_Overwrites(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "f.txt")
	os.WriteFile(f, []byte("old"), 0o644)

	runTool(t, builtin.NewWriteFileTool(dir), map[string]any{
		"path":    "f.txt",
		"content": "new",
	})
	data, _ := os.ReadFile(f)
	if string(data) != "new" {
		t.Errorf("content = %q", data)
	}
}

func TestWriteFile_MissingPath(t *testing.T) {
	res := runTool(t, builtin.NewWriteFileTool(t.TempDir()), map[string]any{"content": "x"})
	if res.OK {
		t.Errorf("expected failure, got %q", res.Text)
	}
}

func TestWriteFile_SessionWorkingDirWins(t *testing.T) {
	fallback := t.TempDir()
	session := t.TempDir()

	tool := builtin.NewWriteFileTool(fallback)
	res, err := tool.Execute(t.Context(), map[string]any{
		"path":    "scoped.txt",
		"content": "x",
	}, tools.Context{WorkingDir: session})
	if err != nil || !res.OK {
		t.Fatalf("write failed: %v %q", err, res.Text)
	}
	if _, err := os.Stat(filepath.Join(session, "scoped.txt")); err != nil {
		t.Errorf("file not under session dir: %v", err)
	}
	if _, err := os.Stat(filepath.Join(fallback, "scoped.txt")); err == nil {
		t.Error("file written under fallback dir")
	}
}

func TestWriteFile_ReportsBytes(t *testing.T) {
	res := runTool(t, builtin.NewWriteFileTool(t.TempDir()), map[string]any{
		"path":    "n.txt",
		"content": "12345",
	})
	if !strings.Contains(res.Text, "5 bytes") {
		t.Errorf("text = %q", res.Text)
	}
}
