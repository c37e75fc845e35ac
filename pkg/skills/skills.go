// Package skills turns markdown skill files into agent tools.
//
// A skill file is markdown with YAML frontmatter carrying a name and a
// description. Each discovered skill becomes a tool named skill_<name>; the
// model invokes it to load the skill's instructions before attempting the
// matching task. The system prompt carries an <available_skills> index so the
// model knows what exists without loading anything.
//
// Search order, first name wins:
//
//	$XDG_CONFIG_HOME/opal/skills/  (or ~/.config/opal/skills/)
//	{cwd}/.opal/skills/
//	any extra directories passed to Discover
//
// Within a directory, both root-level *.md files and <subdir>/SKILL.md are
// recognized; the subdirectory name (or the filename) must match the
// frontmatter name when one is declared.
package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/opal-agent/opal/pkg/tools"
)

const (
	maxNameLen        = 64
	maxDescriptionLen = 1024
)

// Skill is one discovered skill file.
type Skill struct {
	Name        string
	Description string
	Path        string // absolute path to the markdown file
	Source      string // "user" | "project" | "path"
}

type frontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// nameRe: lowercase words joined by single hyphens.
var nameRe = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Discover scans the user, project, and any extra skill directories. On a
// name collision the earlier directory wins, so user skills shadow project
// ones. Invalid files are skipped silently.
func Discover(cwd string, extra ...string) []Skill {
	dirs := []struct{ dir, source string }{
		{userSkillsDir(), "user"},
		{filepath.Join(cwd, ".opal", "skills"), "project"},
	}
	for _, d := range extra {
		dirs = append(dirs, struct{ dir, source string }{d, "path"})
	}

	var out []Skill
	seen := map[string]bool{}
	for _, d := range dirs {
		for _, s := range scanDir(d.dir, d.source) {
			if seen[s.Name] {
				continue
			}
			seen[s.Name] = true
			out = append(out, s)
		}
	}
	return out
}

func scanDir(dir, source string) []Skill {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var out []Skill
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		var file, want string
		switch {
		case e.IsDir():
			file = filepath.Join(dir, name, "SKILL.md")
			want = name
		case strings.HasSuffix(name, ".md"):
			file = filepath.Join(dir, name)
			want = strings.TrimSuffix(name, ".md")
		default:
			continue
		}
		if s, ok := parseFile(file, want, source); ok {
			out = append(out, s)
		}
	}
	return out
}

// parseFile reads one skill file and validates its frontmatter. The bool
// result reports whether the file is a usable skill.
func parseFile(path, fallbackName, source string) (Skill, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Skill{}, false
	}

	header, _ := splitFrontmatter(string(data))
	var fm frontmatter
	if header != "" {
		if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
			return Skill{}, false
		}
	}
	if fm.Name == "" {
		fm.Name = fallbackName
	}

	if fm.Description == "" || len(fm.Description) > maxDescriptionLen {
		return Skill{}, false
	}
	if len(fm.Name) > maxNameLen || !nameRe.MatchString(fm.Name) {
		return Skill{}, false
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return Skill{Name: fm.Name, Description: fm.Description, Path: abs, Source: source}, true
}

// splitFrontmatter separates the YAML header (between --- fences) from the
// markdown body. Files without a fence are all body.
func splitFrontmatter(content string) (header, body string) {
	rest, found := strings.CutPrefix(content, "---\n")
	if !found {
		return "", content
	}
	header, body, found = strings.Cut(rest, "\n---")
	if !found {
		return "", content
	}
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		body = ""
	}
	return header, body
}

// ---------------------------------------------------------------------------
// Prompt index
// ---------------------------------------------------------------------------

// PromptBlock renders the <available_skills> index appended to the system
// prompt. Empty when no skills are loaded.
func PromptBlock(list []Skill) string {
	if len(list) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("The following skills provide specialized instructions for specific tasks.\n")
	sb.WriteString("When a task matches a skill's description, invoke its tool first and follow the instructions it returns.\n")
	sb.WriteString("Relative paths inside a skill resolve against the skill file's directory.\n")
	sb.WriteString("\n<available_skills>\n")
	for _, s := range list {
		sb.WriteString("  <skill>\n")
		fmt.Fprintf(&sb, "    <name>%s</name>\n", xmlEscape(s.Name))
		fmt.Fprintf(&sb, "    <tool>%s</tool>\n", xmlEscape(ToolName(s.Name)))
		fmt.Fprintf(&sb, "    <description>%s</description>\n", xmlEscape(s.Description))
		sb.WriteString("  </skill>\n")
	}
	sb.WriteString("</available_skills>")
	return sb.String()
}

func xmlEscape(s string) string {
	return strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	).Replace(s)
}

// ---------------------------------------------------------------------------
// Skill tool
// ---------------------------------------------------------------------------

// ToolName maps a skill name to its tool name.
func ToolName(skillName string) string {
	return "skill_" + strings.ReplaceAll(skillName, "-", "_")
}

// NewTool wraps a skill as a tool whose execution returns the skill's
// instructions (the markdown body, frontmatter stripped).
func NewTool(s Skill) tools.Tool {
	return &skillTool{skill: s}
}

type skillTool struct {
	skill Skill
}

func (t *skillTool) Name() string { return ToolName(t.skill.Name) }

func (t *skillTool) Description() string {
	return fmt.Sprintf("Load the %q skill: %s", t.skill.Name, t.skill.Description)
}

func (t *skillTool) Parameters() json.RawMessage {
	return tools.MustSchema(tools.SimpleSchema{Properties: map[string]tools.Property{}})
}

func (t *skillTool) Meta(map[string]any) string {
	return "load skill " + t.skill.Name
}

func (t *skillTool) Execute(_ context.Context, _ map[string]any, _ tools.Context) (tools.Result, error) {
	data, err := os.ReadFile(t.skill.Path)
	if err != nil {
		return tools.Result{}, fmt.Errorf("skill %s: %w", t.skill.Name, err)
	}
	_, body := splitFrontmatter(string(data))
	body = strings.TrimSpace(body)
	if body == "" {
		return tools.Result{}, fmt.Errorf("skill %s: empty instructions", t.skill.Name)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Skill %q (%s):\n\n", t.skill.Name, filepath.Dir(t.skill.Path))
	sb.WriteString(body)
	return tools.TextResult(sb.String()), nil
}

func userSkillsDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "opal", "skills")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "opal", "skills")
}
