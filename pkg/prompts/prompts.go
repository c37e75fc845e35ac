// Package prompts holds the fixed compaction summary prompts (summary.go)
// and the user-defined prompt template library.
//
// A template is a markdown file in a prompts directory; typing /name arg1
// arg2 in the REPL expands it before the text reaches the agent. Lookup
// order:
//
//	$XDG_CONFIG_HOME/opal/prompts/  (or ~/.config/opal/prompts/)
//	{cwd}/.opal/prompts/
//
// Optional YAML frontmatter may carry a description; otherwise the first
// non-empty body line serves as one. Placeholders inside a template body:
//
//	$1, $2, …    positional arguments
//	$@           all arguments joined with spaces
//	$ARGUMENTS   alias for $@
//	${@:N}       arguments from the Nth onwards (1-indexed)
//	${@:N:L}     L arguments starting at the Nth
package prompts

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
)

const maxAutoDescription = 60

// Template is one loaded prompt template.
type Template struct {
	Name        string
	Description string
	Body        string
	Source      string // "user" | "project" | "path"
	Path        string
}

// Library is the set of templates visible to one session.
type Library struct {
	byName map[string]Template
	names  []string // discovery order
}

// LoadLibrary discovers templates from the user and project prompt
// directories plus any extra directories. On a name collision the earlier
// directory wins.
func LoadLibrary(cwd string, extra ...string) *Library {
	dirs := []struct{ dir, source string }{
		{userPromptsDir(), "user"},
		{filepath.Join(cwd, ".opal", "prompts"), "project"},
	}
	for _, d := range extra {
		dirs = append(dirs, struct{ dir, source string }{d, "path"})
	}

	lib := &Library{byName: map[string]Template{}}
	for _, d := range dirs {
		for _, t := range scanDir(d.dir, d.source) {
			if _, dup := lib.byName[t.Name]; dup {
				continue
			}
			lib.byName[t.Name] = t
			lib.names = append(lib.names, t.Name)
		}
	}
	return lib
}

// Templates returns the loaded templates in discovery order.
func (l *Library) Templates() []Template {
	out := make([]Template, 0, len(l.names))
	for _, n := range l.names {
		out = append(out, l.byName[n])
	}
	return out
}

// Expand checks whether input invokes a template (/name args…) and expands
// it. The bool result reports whether a template matched; on false the input
// is returned unchanged.
func (l *Library) Expand(input string) (string, bool) {
	after, ok := strings.CutPrefix(input, "/")
	if !ok {
		return input, false
	}
	name, rest, _ := strings.Cut(after, " ")
	t, ok := l.byName[name]
	if !ok {
		return input, false
	}
	return substitute(t.Body, splitArgs(rest)), true
}

// ---------------------------------------------------------------------------
// Placeholder expansion
// ---------------------------------------------------------------------------

// One pattern for every placeholder form, expanded in a single pass so
// text introduced by an argument is never re-expanded.
var placeholderRe = regexp.MustCompile(`\$(?:(\d+)|ARGUMENTS|@|\{@:(\d+)(?::(\d+))?\})`)

func substitute(body string, args []string) string {
	return placeholderRe.ReplaceAllStringFunc(body, func(m string) string {
		sub := placeholderRe.FindStringSubmatch(m)
		switch {
		case sub[1] != "": // $N
			i, _ := strconv.Atoi(sub[1])
			if i < 1 || i > len(args) {
				return ""
			}
			return args[i-1]
		case sub[2] != "": // ${@:N} / ${@:N:L}
			start, _ := strconv.Atoi(sub[2])
			if start < 1 {
				start = 1
			}
			if start > len(args) {
				return ""
			}
			end := len(args)
			if sub[3] != "" {
				l, _ := strconv.Atoi(sub[3])
				if e := start - 1 + l; e < end {
					end = e
				}
			}
			return strings.Join(args[start-1:end], " ")
		default: // $@ / $ARGUMENTS
			return strings.Join(args, " ")
		}
	})
}

// splitArgs tokenizes bash-style: whitespace separates, single or double
// quotes group.
func splitArgs(s string) []string {
	var (
		args  []string
		cur   strings.Builder
		quote rune
		open  bool
	)
	flush := func() {
		if open || cur.Len() > 0 {
			args = append(args, cur.String())
			cur.Reset()
			open = false
		}
	}
	for _, c := range s {
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				cur.WriteRune(c)
			}
		case c == '"' || c == '\'':
			quote = c
			open = true
		case c == ' ' || c == '\t':
			flush()
		default:
			cur.WriteRune(c)
		}
	}
	flush()
	return args
}

// ---------------------------------------------------------------------------
// Discovery
// ---------------------------------------------------------------------------

func scanDir(dir, source string) []Template {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var out []Template
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		desc, body := parseTemplate(string(data))
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		out = append(out, Template{
			Name:        strings.TrimSuffix(e.Name(), ".md"),
			Description: desc,
			Body:        body,
			Source:      source,
			Path:        abs,
		})
	}
	return out
}

// parseTemplate splits optional frontmatter from the body and derives a
// description: the frontmatter field if present, else the first non-empty
// body line truncated to 60 characters.
func parseTemplate(content string) (description, body string) {
	body = content
	if rest, found := strings.CutPrefix(content, "---\n"); found {
		if header, after, ok := strings.Cut(rest, "\n---"); ok {
			var fm struct {
				Description string `yaml:"description"`
			}
			if yaml.Unmarshal([]byte(header), &fm) == nil {
				description = strings.TrimSpace(fm.Description)
			}
			body = after
			if i := strings.IndexByte(body, '\n'); i >= 0 {
				body = body[i+1:]
			} else {
				body = ""
			}
		}
	}

	if description == "" {
		for _, line := range strings.Split(body, "\n") {
			if t := strings.TrimSpace(line); t != "" {
				if len(t) > maxAutoDescription {
					t = t[:maxAutoDescription-3] + "..."
				}
				description = t
				break
			}
		}
	}
	return description, body
}

func userPromptsDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "opal", "prompts")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "opal", "prompts")
}
