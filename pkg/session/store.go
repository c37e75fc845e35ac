// Package session stores a conversation as an append-only message tree with
// a current-leaf pointer, persisted as a JSONL operation log.
//
// Two representations coexist: the in-memory tree serving the live agent,
// and one JSONL file per session for resume:
//   - Line 1: Header (op=session, id, version, cwd, timestamp)
//   - Lines 2+: AppendRecord or ReplaceRecord, one per line
//
// The "path" is the message sequence from the root to the current leaf; it
// is what the model sees. The structure is a tree rather than a list so the
// store can branch, but appends to the current leaf simply extend the path.
// Reload is O(n) playback of the operation log; a partial trailing record
// (crash mid-write) is discarded.
package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opal-agent/opal/pkg/ai"
)

// Store is one session's message tree. All writes are serialized through the
// store's mutex; the agent actor is the expected single writer.
type Store struct {
	mu    sync.Mutex
	id    string
	cwd   string
	nodes map[string]ai.Message
	leaf  string

	// nil for in-memory stores
	f *os.File
	w *bufio.Writer
}

// NewInMemory returns a store with no backing file.
func NewInMemory(cwd string) *Store {
	return &Store{
		id:    uuid.New().String(),
		cwd:   cwd,
		nodes: make(map[string]ai.Message),
	}
}

// Create opens a new session file in dir, writes the header, and returns the
// store. cwd is the working directory at session start.
func Create(dir, cwd string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session: mkdir %s: %w", dir, err)
	}

	id := uuid.New().String()
	name := fmt.Sprintf("%s-%s.jsonl",
		time.Now().UTC().Format("20060102-150405"),
		id[:8],
	)
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("session: create %s: %w", path, err)
	}

	s := &Store{
		id:    id,
		cwd:   cwd,
		nodes: make(map[string]ai.Message),
		f:     f,
		w:     bufio.NewWriter(f),
	}
	if err := s.writeLine(newHeader(id, cwd)); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// Load opens an existing session file by ID prefix — anything from the first
// 8 chars of the UUID up to the full UUID — replays its operation log, and
// returns a store ready for appending.
func Load(dir, idPrefix string) (*Store, error) {
	path, err := findSessionFile(dir, idPrefix)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("session: read %s: %w", path, err)
	}

	s := &Store{nodes: make(map[string]ai.Message)}
	if err := s.replay(data); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(s.id, idPrefix) {
		return nil, fmt.Errorf("session: %s holds session %s, not %q", path, s.id, idPrefix)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("session: open %s for append: %w", path, err)
	}
	s.f = f
	s.w = bufio.NewWriter(f)
	return s, nil
}

// ID returns the session's UUID.
func (s *Store) ID() string { return s.id }

// CWD returns the working directory the session was created in.
func (s *Store) CWD() string { return s.cwd }

// FilePath returns the path of the backing JSONL file, or "" for in-memory
// stores.
func (s *Store) FilePath() string {
	if s.f == nil {
		return ""
	}
	return s.f.Name()
}

// Leaf returns the id of the current leaf message ("" while empty).
func (s *Store) Leaf() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaf
}

// Len returns the number of messages in the tree (all branches).
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

// Append adds msg as a child of parentID and logs the operation. A missing
// msg.ID is assigned. parentID "" is only valid for the first message (the
// root). When parentID is the current leaf, the leaf pointer advances to the
// new message.
func (s *Store) Append(parentID string, msg ai.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.applyAppend(parentID, &msg); err != nil {
		return "", err
	}
	if s.w != nil {
		if err := s.writeLine(AppendRecord{Op: OpAppend, Message: msg}); err != nil {
			return "", err
		}
	}
	return msg.ID, nil
}

// AppendToLeaf appends msg as a child of the current leaf.
func (s *Store) AppendToLeaf(msg ai.Message) (string, error) {
	return s.Append(s.Leaf(), msg)
}

// Path returns the message sequence from the root to the current leaf.
func (s *Store) Path() []ai.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pathLocked()
}

func (s *Store) pathLocked() []ai.Message {
	var rev []ai.Message
	for id := s.leaf; id != ""; {
		m, ok := s.nodes[id]
		if !ok {
			break
		}
		rev = append(rev, m)
		id = m.ParentID
	}
	out := make([]ai.Message, len(rev))
	for i, m := range rev {
		out[len(rev)-1-i] = m
	}
	return out
}

// ReplacePathSegment removes removeIDs — which must be a contiguous prefix
// of the current path — and inserts replacement in their place. The
// replacement inherits the parent of the first removed message; the first
// kept message is re-parented onto the replacement. The leaf pointer moves
// only if the removed segment contained it.
func (s *Store) ReplacePathSegment(removeIDs []string, replacement ai.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.applyReplace(removeIDs, &replacement); err != nil {
		return err
	}
	if s.w != nil {
		return s.writeLine(ReplaceRecord{Op: OpReplace, RemoveIDs: removeIDs, Message: replacement})
	}
	return nil
}

// Close flushes and closes the backing file, if any.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.f.Close()
}

// ---------------------------------------------------------------------------
// Tree mutation (shared by live ops and log replay)
// ---------------------------------------------------------------------------

func (s *Store) applyAppend(parentID string, msg *ai.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if _, dup := s.nodes[msg.ID]; dup {
		return fmt.Errorf("session: duplicate message id %s", msg.ID)
	}
	if parentID == "" {
		if len(s.nodes) > 0 {
			return fmt.Errorf("session: parent id required (store is not empty)")
		}
	} else if _, ok := s.nodes[parentID]; !ok {
		return fmt.Errorf("session: parent %s does not exist", parentID)
	}
	msg.ParentID = parentID
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	s.nodes[msg.ID] = *msg
	if parentID == s.leaf {
		s.leaf = msg.ID
	}
	return nil
}

func (s *Store) applyReplace(removeIDs []string, replacement *ai.Message) error {
	if len(removeIDs) == 0 {
		return fmt.Errorf("session: replace: empty segment")
	}
	path := s.pathLocked()
	if len(removeIDs) > len(path) {
		return fmt.Errorf("session: replace: segment longer than path")
	}
	for i, id := range removeIDs {
		if path[i].ID != id {
			return fmt.Errorf("session: replace: %s is not a contiguous path prefix at %d", id, i)
		}
	}

	if replacement.ID == "" {
		replacement.ID = uuid.New().String()
	}
	if _, dup := s.nodes[replacement.ID]; dup {
		return fmt.Errorf("session: duplicate message id %s", replacement.ID)
	}
	replacement.ParentID = path[0].ParentID
	if replacement.Timestamp == 0 {
		replacement.Timestamp = time.Now().UnixMilli()
	}

	for _, id := range removeIDs {
		delete(s.nodes, id)
	}
	s.nodes[replacement.ID] = *replacement

	if len(removeIDs) == len(path) {
		// Whole path replaced.
		s.leaf = replacement.ID
		return nil
	}
	// Re-parent the first kept message onto the replacement.
	kept := path[len(removeIDs)]
	kept.ParentID = replacement.ID
	s.nodes[kept.ID] = kept
	return nil
}

// ---------------------------------------------------------------------------
// Persistence
// ---------------------------------------------------------------------------

func (s *Store) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("session: marshal record: %w", err)
	}
	if _, err := s.w.Write(data); err != nil {
		return fmt.Errorf("session: write: %w", err)
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("session: write newline: %w", err)
	}
	return s.w.Flush()
}

// replay applies the operation log in order. A record that fails to parse or
// apply on any line but the last aborts the load; a broken final line is the
// expected crash-mid-write shape and is dropped.
func (s *Store) replay(data []byte) error {
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	for i, line := range lines {
		if line == "" {
			continue
		}
		last := i == len(lines)-1
		if err := s.replayLine([]byte(line)); err != nil {
			if last {
				return nil
			}
			return fmt.Errorf("session: replay line %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *Store) replayLine(line []byte) error {
	op, raw, err := ParseLine(line)
	if err != nil {
		return err
	}
	switch op {
	case OpHeader:
		var h Header
		if err := json.Unmarshal(raw, &h); err != nil {
			return err
		}
		s.id = h.ID
		s.cwd = h.CWD
		return nil
	case OpAppend:
		var r AppendRecord
		if err := json.Unmarshal(raw, &r); err != nil {
			return err
		}
		msg := r.Message
		return s.applyAppend(msg.ParentID, &msg)
	case OpReplace:
		var r ReplaceRecord
		if err := json.Unmarshal(raw, &r); err != nil {
			return err
		}
		msg := r.Message
		return s.applyReplace(r.RemoveIDs, &msg)
	default:
		return fmt.Errorf("unknown op %q", op)
	}
}

// findSessionFile locates a session file matching the given ID prefix. File
// names embed only the first 8 chars of the UUID, so longer prefixes (a full
// session id) are truncated before matching; Load verifies the full prefix
// against the file's header.
func findSessionFile(dir, idPrefix string) (string, error) {
	short := idPrefix
	if len(short) > 8 {
		short = short[:8]
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("session: read dir %s: %w", dir, err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), short) && strings.HasSuffix(e.Name(), ".jsonl") {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("session: no session found matching %q in %s", idPrefix, dir)
}
