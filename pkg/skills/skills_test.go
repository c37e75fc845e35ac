package skills

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opal-agent/opal/pkg/tools"
)

func writeSkill(t *testing.T, dir, name, description, body string) string {
	t.Helper()
	sub := filepath.Join(dir, name)
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	content := "---\nname: " + name + "\ndescription: " + description + "\n---\n" + body
	path := filepath.Join(sub, "SKILL.md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDiscover(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cwd := t.TempDir()
	dir := filepath.Join(cwd, ".opal", "skills")
	writeSkill(t, dir, "review-pr", "Review a pull request carefully.", "Read the diff first.")

	// Root-level .md file without a frontmatter name falls back to the filename.
	root := "---\ndescription: Formats commit messages.\n---\nUse imperative mood."
	if err := os.WriteFile(filepath.Join(dir, "commit-style.md"), []byte(root), 0o644); err != nil {
		t.Fatal(err)
	}

	got := Discover(cwd)
	if len(got) != 2 {
		t.Fatalf("Discover returned %d skills, want 2", len(got))
	}
	byName := map[string]Skill{}
	for _, s := range got {
		byName[s.Name] = s
	}
	if _, ok := byName["review-pr"]; !ok {
		t.Error("review-pr not discovered")
	}
	if s, ok := byName["commit-style"]; !ok || s.Source != "project" {
		t.Errorf("commit-style = %+v, want project source", s)
	}
}

func TestDiscoverExtraDirShadowedByProject(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cwd := t.TempDir()
	writeSkill(t, filepath.Join(cwd, ".opal", "skills"), "deploy", "Project deploy steps.", "project body")

	extra := t.TempDir()
	writeSkill(t, extra, "deploy", "Extra deploy steps.", "extra body")

	got := Discover(cwd, extra)
	if len(got) != 1 {
		t.Fatalf("Discover returned %d skills, want 1", len(got))
	}
	if got[0].Description != "Project deploy steps." {
		t.Errorf("collision resolved to %q, want the project skill", got[0].Description)
	}
}

func TestDiscoverRejectsInvalid(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cwd := t.TempDir()
	dir := filepath.Join(cwd, ".opal", "skills")

	writeSkill(t, dir, "BadName", "Has an invalid name.", "x")
	writeSkill(t, dir, "no-desc", "", "x")
	writeSkill(t, dir, "long-desc", strings.Repeat("d", maxDescriptionLen+1), "x")

	if got := Discover(cwd); len(got) != 0 {
		t.Fatalf("Discover accepted %d invalid skills", len(got))
	}
}

func TestSplitFrontmatter(t *testing.T) {
	header, body := splitFrontmatter("---\nname: x\n---\nbody here")
	if header != "name: x" {
		t.Errorf("header = %q", header)
	}
	if body != "body here" {
		t.Errorf("body = %q", body)
	}

	header, body = splitFrontmatter("no fences at all")
	if header != "" || body != "no fences at all" {
		t.Errorf("unfenced: header=%q body=%q", header, body)
	}
}

func TestPromptBlock(t *testing.T) {
	block := PromptBlock([]Skill{{Name: "review-pr", Description: "Review & merge.", Path: "/s/SKILL.md"}})
	if !strings.Contains(block, "<available_skills>") {
		t.Error("missing <available_skills> wrapper")
	}
	if !strings.Contains(block, "<tool>skill_review_pr</tool>") {
		t.Errorf("missing tool reference in block:\n%s", block)
	}
	if !strings.Contains(block, "Review &amp; merge.") {
		t.Error("description not XML-escaped")
	}
	if PromptBlock(nil) != "" {
		t.Error("PromptBlock(nil) should be empty")
	}
}

func TestSkillToolExecute(t *testing.T) {
	dir := t.TempDir()
	path := writeSkill(t, dir, "tidy-imports", "Tidy Go imports.", "Run goimports on changed files.")

	tool := NewTool(Skill{Name: "tidy-imports", Description: "Tidy Go imports.", Path: path})
	if tool.Name() != "skill_tidy_imports" {
		t.Errorf("tool name = %q", tool.Name())
	}

	res, err := tool.Execute(context.Background(), nil, tools.Context{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK {
		t.Error("result not ok")
	}
	if !strings.Contains(res.Text, "Run goimports on changed files.") {
		t.Errorf("result text missing body: %q", res.Text)
	}
	if strings.Contains(res.Text, "description:") {
		t.Error("frontmatter leaked into tool output")
	}
}
