package builtin_test

import (
	"context"
	"testing"

	"github.com/opal-agent/opal/pkg/tools"
	"github.com/opal-agent/opal/pkg/tools/builtin"
)

// runTool executes a tool with an empty session context and fails the test on
// a hard error. Result.OK=false is a tool-level outcome the caller inspects.
func runTool(t *testing.T, tool tools.Tool, args map[string]any) tools.Result {
	t.Helper()
	res, err := tool.Execute(context.Background(), args, tools.Context{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return res
}

func registeredNames(preset builtin.Preset) []string {
	reg := tools.NewRegistry()
	builtin.Register(reg, preset, ".")
	return reg.Names()
}

func TestRegister_CodingPreset(t *testing.T) {
	names := registeredNames(builtin.PresetCoding)
	want := []string{"bash", "edit_file", "edit_file_lines", "find", "grep", "ls", "read_file", "write_file"}
	if len(names) != len(want) {
		t.Fatalf("registered = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("registered[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestRegister_ReadOnlyPreset(t *testing.T) {
	names := registeredNames(builtin.PresetReadOnly)
	for _, n := range names {
		switch n {
		case "write_file", "edit_file", "edit_file_lines", "bash":
			t.Errorf("readonly preset registered %q", n)
		}
	}
	if len(names) != 4 {
		t.Errorf("registered = %v", names)
	}
}

func TestRegister_AllIncludesWebfetch(t *testing.T) {
	names := registeredNames(builtin.PresetAll)
	found := false
	for _, n := range names {
		if n == "webfetch" {
			found = true
		}
	}
	if !found {
		t.Errorf("webfetch missing from %v", names)
	}
}

func TestRegister_NonePreset(t *testing.T) {
	if names := registeredNames(builtin.PresetNone); len(names) != 0 {
		t.Errorf("none preset registered %v", names)
	}
}
