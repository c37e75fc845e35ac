package builtin_test

import (
	"strings"
	"testing"
	"time"

	"github.com/opal-agent/opal/pkg/tools/builtin"
)

func bashRun(t *testing.T, cmd string, extra ...map[string]any) string {
	t.Helper()
	args := map[string]any{"command": cmd}
	if len(extra) > 0 {
		for k, v := range extra[0] {
			args[k] = v
		}
	}
	return runTool(t, builtin.NewBashTool("."), args).Text
}

func TestBash_SimpleCommand(t *testing.T) {
	out := bashRun(t, "echo hello")
	if !strings.Contains(out, "hello") {
		t.Errorf("expected 'hello', got: %q", out)
	}
}

func TestBash_Stderr(t *testing.T) {
	out := bashRun(t, "echo err >&2")
	if !strings.Contains(out, "err") {
		t.Errorf("stderr not captured: %q", out)
	}
}

func TestBash_Multiline(t *testing.T) {
	out := bashRun(t, "echo one && echo two")
	if !strings.Contains(out, "one") || !strings.Contains(out, "two") {
		t.Errorf("multiline output: %q", out)
	}
}

func TestBash_NonZeroExit(t *testing.T) {
	// Non-zero exit is a command result, not a tool failure.
	out := bashRun(t, "sh -c 'exit 42'; echo \"exit:$?\"")
	if !strings.Contains(out, "42") {
		t.Errorf("expected exit code in output: %q", out)
	}
}

func TestBash_Timeout(t *testing.T) {
	start := time.Now()
	res := runTool(t, builtin.NewBashTool("."), map[string]any{
		"command": "sleep 10",
		"timeout": float64(1),
	})
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout not enforced, ran for %s", elapsed)
	}
	if res.OK {
		t.Errorf("timed-out command should fail: %q", res.Text)
	}
	if !strings.Contains(strings.ToLower(res.Text), "timed out") {
		t.Errorf("output = %q", res.Text)
	}
}

func TestBash_WorkingDir(t *testing.T) {
	dir := t.TempDir()
	out := runTool(t, builtin.NewBashTool(dir), map[string]any{"command": "pwd"}).Text
	if !strings.Contains(out, dir) {
		// macOS resolves /var to /private/var.
		t.Logf("pwd output %q (expected to contain %s)", out, dir)
	}
}

func TestBash_MissingCommand(t *testing.T) {
	res := runTool(t, builtin.NewBashTool("."), map[string]any{})
	if res.OK {
		t.Errorf("expected failure, got %q", res.Text)
	}
}

func TestBash_NoOutput(t *testing.T) {
	out := bashRun(t, "true")
	if out != "(no output)" {
		t.Errorf("output = %q", out)
	}
}

func TestBash_LargeOutputSpillsToTempFile(t *testing.T) {
	out := bashRun(t, "yes x | head -c 200000")
	if !strings.Contains(out, "Full output:") {
		t.Errorf("expected temp-file notice: %q", out)
	}
}
