// Package session — listing and locating session files.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/opal-agent/opal/pkg/ai"
)

// DefaultSessionsDir returns the platform-appropriate directory for session
// files. Follows XDG on Linux/Mac; falls back to ~/.config/opal/sessions.
func DefaultSessionsDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "opal", "sessions")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "opal", "sessions")
}

// Info is a lightweight summary of a session, used for listing.
type Info struct {
	ID           string    // session UUID (full)
	Path         string    // absolute path to the JSONL file
	CWD          string    // working directory at creation
	Created      time.Time // parsed from the header timestamp
	MessageCount int       // number of append records
	FirstMessage string    // text of the first user message (truncated)
}

// List returns summary info for all sessions in dir, sorted newest-first.
func List(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: read dir %s: %w", dir, err)
	}

	var infos []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		info, err := summarize(path)
		if err != nil {
			continue // unreadable file, skip
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Created.After(infos[j].Created) })
	return infos, nil
}

// Latest returns the most recently created session in dir.
func Latest(dir string) (Info, error) {
	infos, err := List(dir)
	if err != nil {
		return Info{}, err
	}
	if len(infos) == 0 {
		return Info{}, fmt.Errorf("session: no sessions in %s", dir)
	}
	return infos[0], nil
}

func summarize(path string) (Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}, err
	}

	info := Info{Path: path}
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		op, raw, err := ParseLine([]byte(line))
		if err != nil {
			continue
		}
		switch op {
		case OpHeader:
			var h Header
			if json.Unmarshal(raw, &h) == nil {
				info.ID = h.ID
				info.CWD = h.CWD
				if t, err := time.Parse(time.RFC3339, h.Timestamp); err == nil {
					info.Created = t
				}
			}
		case OpAppend:
			var r AppendRecord
			if json.Unmarshal(raw, &r) == nil {
				info.MessageCount++
				if info.FirstMessage == "" && r.Message.Role == ai.RoleUser {
					info.FirstMessage = truncate(r.Message.Content, 80)
				}
			}
		}
	}
	if info.ID == "" {
		return Info{}, fmt.Errorf("session: %s has no header", path)
	}
	return info, nil
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
