// Package session — JSONL session file record types.
package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/opal-agent/opal/pkg/ai"
)

const currentVersion = 1

// Op identifies the kind of JSONL line.
type Op string

const (
	OpHeader  Op = "session"
	OpAppend  Op = "append"
	OpReplace Op = "replace"
)

// Header is the first line written to every session file.
type Header struct {
	Op        Op     `json:"op"`        // "session"
	ID        string `json:"id"`        // session UUID
	Version   int    `json:"version"`   // format version
	Timestamp string `json:"timestamp"` // ISO 8601
	CWD       string `json:"cwd"`       // working directory at creation
}

// AppendRecord logs one message appended to the tree.
type AppendRecord struct {
	Op      Op         `json:"op"` // "append"
	Message ai.Message `json:"message"`
}

// ReplaceRecord logs a path-segment replacement (compaction commit).
type ReplaceRecord struct {
	Op        Op         `json:"op"` // "replace"
	RemoveIDs []string   `json:"remove_ids"`
	Message   ai.Message `json:"message"`
}

func newHeader(id, cwd string) Header {
	return Header{
		Op:        OpHeader,
		ID:        id,
		Version:   currentVersion,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		CWD:       cwd,
	}
}

// ParseLine peeks at the "op" field of a JSONL line and returns it with the
// raw record for a second, typed unmarshal.
func ParseLine(line []byte) (Op, json.RawMessage, error) {
	var probe struct {
		Op Op `json:"op"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return "", nil, fmt.Errorf("parse record op: %w", err)
	}
	return probe.Op, json.RawMessage(line), nil
}
