package agent

import "strings"

// The model may emit <status>...</status> tags inline in ordinary text.
// They are surfaced as status_update events and stripped from the public
// deltas. Tags can split across deltas, so the scanner buffers any suffix
// that could still turn into a tag.

const (
	statusOpen  = "<status>"
	statusClose = "</status>"
)

// tagScanner filters status tags out of a delta stream.
type tagScanner struct {
	buf string
}

// Feed runs one delta through the scanner. It returns the cleaned text to
// publish and the contents of any complete status tags found, in order.
func (s *tagScanner) Feed(delta string) (clean string, statuses []string) {
	work := s.buf + delta
	s.buf = ""

	var out strings.Builder
	for {
		i := strings.Index(work, statusOpen)
		if i < 0 {
			break
		}
		j := strings.Index(work[i:], statusClose)
		if j < 0 {
			// Open tag still streaming: hold everything from the tag on.
			out.WriteString(work[:i])
			s.buf = work[i:]
			return out.String(), statuses
		}
		out.WriteString(work[:i])
		statuses = append(statuses, strings.TrimSpace(work[i+len(statusOpen):i+j]))
		work = work[i+j+len(statusClose):]
	}

	// No complete opening tag left. If the tail could be the start of one,
	// keep it buffered and publish only the clean prefix.
	k := len(work) - suspiciousSuffixLen(work)
	out.WriteString(work[:k])
	s.buf = work[k:]
	return out.String(), statuses
}

// Flush returns whatever is still buffered. Called at stream end: a prefix
// that never completed into a tag is ordinary text after all.
func (s *tagScanner) Flush() string {
	out := s.buf
	s.buf = ""
	return out
}

// suspiciousSuffixLen returns the length of the longest suffix of work that
// is a strict prefix of "<status>".
func suspiciousSuffixLen(work string) int {
	max := len(statusOpen) - 1
	if len(work) < max {
		max = len(work)
	}
	for n := max; n > 0; n-- {
		if strings.HasPrefix(statusOpen, work[len(work)-n:]) {
			return n
		}
	}
	return 0
}
