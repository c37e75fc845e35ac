package builtin_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opal-agent/opal/pkg/tools"
	"github.com/opal-agent/opal/pkg/tools/builtin"
)

func editFile(t *testing.T, cwd, path, oldText, newText string) tools.Result {
	t.Helper()
	return runTool(t, builtin.NewEditFileTool(cwd), map[string]any{
		"path":     path,
		"old_text": oldText,
		"new_text": newText,
	})
}

func TestEditFile_BasicReplace(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "f.go")
	os.WriteFile(f, []byte("func Hello() {}\n"), 0o644)

	res := editFile(t, dir, "f.go", "Hello", "World")
	if !res.OK {
		t.Fatalf("edit failed: %q", res.Text)
	}

	data, _ := os.ReadFile(f)
	if !strings.Contains(string(data), "World") || strings.Contains(string(data), "Hello") {
		t.Errorf("replacement not applied: %s", data)
	}
}

func TestEditFile_MultilineReplace(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "f.txt")
	os.WriteFile(f, []byte("line one\nline two\nline three\n"), 0o644)

	res := editFile(t, dir, "f.txt", "line one\nline two", "replaced")
	if !res.OK {
		t.Fatalf("edit failed: %q", res.Text)
	}
	data, _ := os.ReadFile(f)
	if !strings.Contains(string(data), "replaced\nline three") {
		t.Errorf("multiline replace: %s", data)
	}
}

func TestEditFile_NotFound(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "f.txt"), []byte("content"), 0o644)

	res := editFile(t, dir, "f.txt", "DOES_NOT_EXIST", "x")
	if res.OK {
		t.Errorf("expected not-found failure, got %q", res.Text)
	}
}

func TestEditFile_AmbiguousMatch(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "f.txt")
	os.WriteFile(f, []byte("foo\nfoo\n"), 0o644)

	res := editFile(t, dir, "f.txt", "foo", "bar")
	if res.OK {
		t.Fatalf("ambiguous match should fail: %q", res.Text)
	}
	// The file must be untouched.
	data, _ := os.ReadFile(f)
	if string(data) != "foo\nfoo\n" {
		t.Errorf("file modified on ambiguous match: %s", data)
	}
}

func TestEditFile_PreservesCRLF(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "win.txt")
	os.WriteFile(f, []byte("alpha\r\nbeta\r\n"), 0o644)

	res := editFile(t, dir, "win.txt", "beta", "gamma")
	if !res.OK {
		t.Fatalf("edit failed: %q", res.Text)
	}
	data, _ := os.ReadFile(f)
	if string(data) != "alpha\r\ngamma\r\n" {
		t.Errorf("line endings not preserved: %q", data)
	}
}

func TestEditFile_DiffInDetails(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "f.txt"), []byte("a\nb\nc\nd\ne\nf\ng\n"), 0o644)

	res := editFile(t, dir, "f.txt", "d", "D")
	details, ok := res.Details.(builtin.EditDetails)
	if !ok {
		t.Fatalf("details = %T", res.Details)
	}
	if !strings.Contains(details.Diff, "-4 d") || !strings.Contains(details.Diff, "+4 D") {
		t.Errorf("diff = %q", details.Diff)
	}
	if details.FirstChangedLine != 4 {
		t.Errorf("first changed line = %d", details.FirstChangedLine)
	}
}

func TestEditFile_FileNotFound(t *testing.T) {
	res := editFile(t, t.TempDir(), "missing.txt", "x", "y")
	if res.OK {
		t.Errorf("expected failure for missing file, got %q", res.Text)
	}
}

func TestEditFileLines_ReplaceRange(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "f.txt")
	os.WriteFile(f, []byte("one\ntwo\nthree\nfour\n"), 0o644)

	res := runTool(t, builtin.NewEditFileLinesTool(dir), map[string]any{
		"path":       "f.txt",
		"start_line": float64(2),
		"end_line":   float64(3),
		"new_text":   "TWO\nTHREE",
	})
	if !res.OK {
		t.Fatalf("edit failed: %q", res.Text)
	}
	data, _ := os.ReadFile(f)
	if string(data) != "one\nTWO\nTHREE\nfour\n" {
		t.Errorf("content = %q", data)
	}
}

func TestEditFileLines_DeleteRange(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "f.txt")
	os.WriteFile(f, []byte("one\ntwo\nthree\n"), 0o644)

	res := runTool(t, builtin.NewEditFileLinesTool(dir), map[string]any{
		"path":       "f.txt",
		"start_line": float64(2),
		"end_line":   float64(2),
		"new_text":   "",
	})
	if !res.OK {
		t.Fatalf("edit failed: %q", res.Text)
	}
	data, _ := os.ReadFile(f)
	if string(data) != "one\nthree\n" {
		t.Errorf("content = %q", data)
	}
}

func TestEditFileLines_InvalidRange(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "f.txt"), []byte("only\n"), 0o644)

	res := runTool(t, builtin.NewEditFileLinesTool(dir), map[string]any{
		"path":       "f.txt",
		"start_line": float64(3),
		"end_line":   float64(5),
	})
	if res.OK {
		t.Errorf("expected range failure, got %q", res.Text)
	}
}
