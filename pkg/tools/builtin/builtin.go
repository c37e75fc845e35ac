// Package builtin provides the standard tool set: read_file, write_file,
// edit_file, edit_file_lines, bash, grep, find, ls, and webfetch.
package builtin

import (
	"github.com/opal-agent/opal/pkg/tools"
)

// Preset selects which built-in tools are registered.
type Preset string

const (
	// PresetCoding registers the full file-editing set plus bash and the
	// read-only exploration tools. The default for a coding session.
	PresetCoding Preset = "coding"

	// PresetReadOnly registers read_file, grep, find, ls. Safe for
	// exploration without modification.
	PresetReadOnly Preset = "readonly"

	// PresetAll registers every built-in tool including webfetch.
	PresetAll Preset = "all"

	// PresetNone registers nothing; useful when only external tools are wanted.
	PresetNone Preset = "none"
)

// Register adds the tools for the given preset to the registry. cwd is the
// fallback working directory; the per-call tools.Context working directory
// wins when set. Empty cwd means the process working directory.
func Register(reg *tools.Registry, preset Preset, cwd string) {
	if cwd == "" {
		cwd = "."
	}

	switch preset {
	case PresetCoding:
		reg.Register(NewReadFileTool(cwd))
		reg.Register(NewWriteFileTool(cwd))
		reg.Register(NewEditFileTool(cwd))
		reg.Register(NewEditFileLinesTool(cwd))
		reg.Register(NewBashTool(cwd))
		reg.Register(NewGrepTool(cwd))
		reg.Register(NewFindTool(cwd))
		reg.Register(NewLsTool(cwd))

	case PresetReadOnly:
		reg.Register(NewReadFileTool(cwd))
		reg.Register(NewGrepTool(cwd))
		reg.Register(NewFindTool(cwd))
		reg.Register(NewLsTool(cwd))

	case PresetAll:
		reg.Register(NewReadFileTool(cwd))
		reg.Register(NewWriteFileTool(cwd))
		reg.Register(NewEditFileTool(cwd))
		reg.Register(NewEditFileLinesTool(cwd))
		reg.Register(NewBashTool(cwd))
		reg.Register(NewGrepTool(cwd))
		reg.Register(NewFindTool(cwd))
		reg.Register(NewLsTool(cwd))
		reg.Register(NewWebFetchTool())

	case PresetNone:
	}
}
