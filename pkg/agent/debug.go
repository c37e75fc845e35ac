package agent

import "github.com/opal-agent/opal/pkg/bus"

// debugRingSize bounds the in-memory event history kept when Features.Debug
// is on.
const debugRingSize = 400

// debugRing keeps the last N emitted events. Only the actor goroutine
// touches it (writes in emit, reads via the debug command), so no lock is
// needed.
type debugRing struct {
	buf   []bus.Event
	next  int
	wrapd bool
}

func newDebugRing(n int) *debugRing {
	return &debugRing{buf: make([]bus.Event, n)}
}

func (r *debugRing) add(e bus.Event) {
	r.buf[r.next] = e
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.wrapd = true
	}
}

// events returns the buffered history, oldest first.
func (r *debugRing) events() []bus.Event {
	if !r.wrapd {
		return append([]bus.Event(nil), r.buf[:r.next]...)
	}
	out := make([]bus.Event, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}
