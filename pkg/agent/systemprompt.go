// Package agent — system prompt assembly and project context discovery.
package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opal-agent/opal/pkg/skills"
)

// toolDescriptions are the one-line descriptions listed in the default
// preamble. Tools without an entry are still callable, just not advertised
// in the prose.
var toolDescriptions = map[string]string{
	"read_file":  "Read file contents",
	"write_file": "Create or overwrite files",
	"edit_file":  "Make surgical edits to files (find exact text and replace)",
	"bash":       "Execute bash commands",
	"grep":       "Search file contents for patterns (respects .gitignore)",
	"find":       "Find files by glob pattern (respects .gitignore)",
	"ls":         "List directory contents",
	"webfetch":   "Fetch a URL and return its content as text",
	"sub_agent":  "Delegate a self-contained task to a child agent",
}

// SystemPromptOptions controls how the system prompt is assembled.
type SystemPromptOptions struct {
	// CustomPrompt replaces the default preamble when non-empty.
	CustomPrompt string

	// AppendPrompt is appended after the preamble, before project context.
	AppendPrompt string

	// ActiveTools is the list of registered tool names.
	ActiveTools []string

	// Cwd is the working directory reported to the model. Defaults to
	// os.Getwd().
	Cwd string

	// ContextFiles are pre-loaded project context files. Nil means
	// BuildSystemPrompt calls LoadContextFiles(Cwd) itself.
	ContextFiles []ContextFile

	// SkillsBlock is a pre-formatted <available_skills> XML block for callers
	// assembling prompts outside a running agent. Agents with Features.Skills
	// enabled build and append their own block instead.
	SkillsBlock string
}

// ContextFile holds one discovered AGENTS.md (or CLAUDE.md) file.
type ContextFile struct {
	Path    string
	Content string
}

// BuildSystemPrompt assembles the full system prompt: preamble, appended
// instructions, project context files, skills, then date and cwd.
func BuildSystemPrompt(opts SystemPromptOptions) string {
	cwd := opts.Cwd
	if cwd == "" {
		cwd, _ = os.Getwd()
	}

	now := time.Now()
	dateTime := fmt.Sprintf("%s, %s %d, %d at %s %s",
		now.Format("Monday"),
		now.Format("January"),
		now.Day(),
		now.Year(),
		now.Format("3:04:05 PM"),
		now.Format("MST"),
	)

	contextFiles := opts.ContextFiles
	if contextFiles == nil {
		contextFiles = LoadContextFiles(cwd)
	}

	var sb strings.Builder

	if opts.CustomPrompt != "" {
		sb.WriteString(opts.CustomPrompt)
		writeAppend(&sb, opts.AppendPrompt)
		writeContextFiles(&sb, contextFiles)
		writeSkills(&sb, opts.SkillsBlock)
		writeDateCwd(&sb, dateTime, cwd)
		return sb.String()
	}

	tools := filterKnownTools(opts.ActiveTools)

	sb.WriteString("You are an expert coding assistant. You help users by reading files, executing commands, editing code, and writing new files.\n")
	sb.WriteString("\nAvailable tools:\n")
	sb.WriteString(buildToolsList(tools))
	sb.WriteString("\nGuidelines:\n")
	sb.WriteString(buildGuidelines(tools))

	writeAppend(&sb, opts.AppendPrompt)
	writeContextFiles(&sb, contextFiles)
	writeSkills(&sb, opts.SkillsBlock)
	writeDateCwd(&sb, dateTime, cwd)

	return sb.String()
}

func filterKnownTools(names []string) []string {
	var out []string
	for _, n := range names {
		if _, ok := toolDescriptions[n]; ok {
			out = append(out, n)
		}
	}
	return out
}

func buildToolsList(tools []string) string {
	if len(tools) == 0 {
		return "- (none)\n"
	}
	var sb strings.Builder
	for _, t := range tools {
		fmt.Fprintf(&sb, "- %s: %s\n", t, toolDescriptions[t])
	}
	return sb.String()
}

func buildGuidelines(tools []string) string {
	has := func(name string) bool {
		for _, t := range tools {
			if t == name {
				return true
			}
		}
		return false
	}

	var lines []string

	if has("bash") && !has("grep") && !has("find") && !has("ls") {
		lines = append(lines, "Use bash for file operations like ls, rg, find")
	} else if has("bash") {
		lines = append(lines, "Prefer grep/find/ls tools over bash for file exploration (faster, respects .gitignore)")
	}
	if has("read_file") && has("edit_file") {
		lines = append(lines, "Use read_file to examine files before editing. You must use this tool instead of cat or sed.")
	}
	if has("edit_file") {
		lines = append(lines, "Use edit_file for precise changes (old text must match exactly)")
	}
	if has("write_file") {
		lines = append(lines, "Use write_file only for new files or complete rewrites")
	}
	if has("edit_file") || has("write_file") {
		lines = append(lines, "When summarizing your actions, output plain text directly - do NOT use cat or bash to display what you did")
	}
	if has("sub_agent") {
		lines = append(lines, "Use sub_agent for large self-contained subtasks; give it a complete, standalone prompt")
	}

	lines = append(lines, "Be concise in your responses")
	lines = append(lines, "Show file paths clearly when working with files")

	var sb strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&sb, "- %s\n", l)
	}
	return sb.String()
}

func writeAppend(sb *strings.Builder, s string) {
	if s != "" {
		sb.WriteString("\n\n")
		sb.WriteString(s)
	}
}

func writeContextFiles(sb *strings.Builder, files []ContextFile) {
	if len(files) == 0 {
		return
	}
	sb.WriteString("\n\n# Project Context\n\nProject-specific instructions and guidelines:\n\n")
	for _, f := range files {
		fmt.Fprintf(sb, "## %s\n\n%s\n\n", f.Path, f.Content)
	}
}

func writeSkills(sb *strings.Builder, block string) {
	if block == "" {
		return
	}
	sb.WriteString("\n\n")
	sb.WriteString(block)
}

func writeDateCwd(sb *strings.Builder, dateTime, cwd string) {
	fmt.Fprintf(sb, "\nCurrent date and time: %s", dateTime)
	fmt.Fprintf(sb, "\nCurrent working directory: %s", cwd)
}

// ---------------------------------------------------------------------------
// Context file discovery
// ---------------------------------------------------------------------------

// contextFileNames are looked up in order; the first match per directory
// wins.
var contextFileNames = []string{"AGENTS.md", "CLAUDE.md"}

// LoadContextFiles reads project context files from the global config
// directory and the working directory, at most one file per directory.
func LoadContextFiles(cwd string) []ContextFile {
	dirs := []string{globalConfigDir(), cwd}
	var files []ContextFile
	seen := map[string]bool{}

	for _, dir := range dirs {
		if dir == "" || seen[dir] {
			continue
		}
		seen[dir] = true
		if f := readFirstContextFile(dir); f != nil {
			files = append(files, *f)
		}
	}
	return files
}

func readFirstContextFile(dir string) *ContextFile {
	for _, name := range contextFileNames {
		p := filepath.Join(dir, name)
		data, err := os.ReadFile(p)
		if err == nil {
			return &ContextFile{Path: p, Content: string(data)}
		}
	}
	return nil
}

// globalConfigDir follows XDG, falling back to ~/.config/opal.
func globalConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "opal")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "opal")
}

// discoverSkills loads skill files for the working directory, registers each
// as a tool, folds the index into the system prompt, and announces the loads.
func (a *Agent) discoverSkills() {
	loaded := skills.Discover(a.workingDir)
	if len(loaded) == 0 {
		return
	}
	for _, s := range loaded {
		if a.registry != nil {
			a.registry.RegisterOrReplace(skills.NewTool(s))
		}
		a.announce(EventSkillLoaded, map[string]any{"name": s.Name, "description": s.Description})
	}
	a.systemPrompt += "\n\n" + skills.PromptBlock(loaded)
}

// discoverContext folds project context files into the agent's system prompt
// at construction time and announces what was found.
func (a *Agent) discoverContext() {
	files := LoadContextFiles(a.workingDir)
	if len(files) == 0 {
		return
	}
	var sb strings.Builder
	sb.WriteString(a.systemPrompt)
	writeContextFiles(&sb, files)
	a.systemPrompt = sb.String()

	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	a.announce(EventContextDiscovered, map[string]any{"files": paths})
}
