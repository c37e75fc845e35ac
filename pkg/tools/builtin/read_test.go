package builtin_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opal-agent/opal/pkg/tools/builtin"
)

func readFile(t *testing.T, cwd string, args map[string]any) string {
	t.Helper()
	return runTool(t, builtin.NewReadFileTool(cwd), args).Text
}

func TestReadFile_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "test.txt"), []byte("line1\nline2\nline3\n"), 0o644)

	out := readFile(t, dir, map[string]any{"path": "test.txt"})
	if !strings.Contains(out, "line1") || !strings.Contains(out, "line3") {
		t.Errorf("missing content: %q", out)
	}
}

func TestReadFile_Offset(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "f.txt"), []byte("A\nB\nC\nD\n"), 0o644)

	out := readFile(t, dir, map[string]any{"path": "f.txt", "offset": float64(3)})
	if strings.Contains(out, "A") || strings.Contains(out, "B") {
		t.Errorf("offset not respected: %q", out)
	}
	if !strings.Contains(out, "C") {
		t.Errorf("expected line C from offset 3: %q", out)
	}
}

func TestReadFile_Limit(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "f.txt"), []byte("A\nB\nC\nD\nE\n"), 0o644)

	out := readFile(t, dir, map[string]any{"path": "f.txt", "limit": float64(2)})
	if strings.Contains(out, "C") || strings.Contains(out, "D") {
		t.Errorf("limit not respected: %q", out)
	}
	if !strings.Contains(out, "more lines in file") {
		t.Errorf("continuation hint missing: %q", out)
	}
}

func TestReadFile_OffsetBeyondEOF(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "f.txt"), []byte("one\n"), 0o644)

	res := runTool(t, builtin.NewReadFileTool(dir), map[string]any{"path": "f.txt", "offset": float64(99)})
	if res.OK {
		t.Errorf("expected failure, got %q", res.Text)
	}
}

func TestReadFile_FileNotFound(t *testing.T) {
	res := runTool(t, builtin.NewReadFileTool(t.TempDir()), map[string]any{"path": "missing.txt"})
	if res.OK {
		t.Errorf("expected failure, got %q", res.Text)
	}
}

func TestReadFile_FilePathAlias(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "alias.txt"), []byte("aliased\n"), 0o644)

	out := readFile(t, dir, map[string]any{"file_path": "alias.txt"})
	if !strings.Contains(out, "aliased") {
		t.Errorf("file_path alias not accepted: %q", out)
	}
}

func TestReadFile_AbsolutePath(t *testing.T) {
	dir := t.TempDir()
	abs := filepath.Join(dir, "abs.txt")
	os.WriteFile(abs, []byte("absolute content\n"), 0o644)

	out := readFile(t, "/some/other/cwd", map[string]any{"path": abs})
	if !strings.Contains(out, "absolute content") {
		t.Errorf("absolute path not resolved: %q", out)
	}
}

func TestReadFile_AtPrefixStripped(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "at.txt"), []byte("at content\n"), 0o644)

	out := readFile(t, dir, map[string]any{"path": "@at.txt"})
	if !strings.Contains(out, "at content") {
		t.Errorf("@ prefix not stripped: %q", out)
	}
}

func TestReadFile_BinaryRejected(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "img.png"), []byte{0x89, 0x50, 0x4E, 0x47}, 0o644)

	res := runTool(t, builtin.NewReadFileTool(dir), map[string]any{"path": "img.png"})
	if res.OK {
		t.Errorf("binary file should be rejected, got %q", res.Text)
	}
}

func TestReadFile_NameAndSchema(t *testing.T) {
	tool := builtin.NewReadFileTool(".")
	if tool.Name() != "read_file" {
		t.Errorf("name = %q", tool.Name())
	}
	if len(tool.Parameters()) == 0 {
		t.Error("parameters schema is empty")
	}
	if got := tool.Meta(map[string]any{"path": "src/main.go"}); got != "read main.go" {
		t.Errorf("meta = %q", got)
	}
}
