// Package bus is the per-session event fan-out registry.
//
// Every session owns a logical channel on a process-wide Bus; subscribers of
// different sessions never interfere. Delivery is at-most-once and ordered
// per subscriber. The bus never blocks the emitter: each subscriber has a
// buffered mailbox, and when it fills the oldest buffered event is dropped
// to make room (slow observers lose their own history, nobody else's).
package bus

import "sync"

// Event is a tagged record delivered on a session's channel. Type is the
// event name ("message_delta", "agent_end", ...); event-specific fields live
// in the payload map with snake_case keys.
type Event struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// DefaultMailbox is the per-subscriber buffer size.
const DefaultMailbox = 256

// Subscription is a live subscriber handle. Receive on Events; call the
// unsubscribe function returned by Subscribe to detach.
type Subscription struct {
	Events <-chan Event

	id  int
	ch  chan Event
	sid string
}

// Bus is a process-wide registry of per-session subscriber sets.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]map[int]*Subscription // session id → subscriber set
	nextID  int
	mailbox int
}

// New returns a Bus with the default per-subscriber mailbox size.
func New() *Bus { return NewWithMailbox(DefaultMailbox) }

// NewWithMailbox returns a Bus whose subscribers buffer up to n events.
func NewWithMailbox(n int) *Bus {
	if n < 1 {
		n = 1
	}
	return &Bus{subs: make(map[string]map[int]*Subscription), mailbox: n}
}

// Subscribe attaches a new subscriber to the session's channel and returns
// the subscription plus a detach function. Detaching closes Events.
func (b *Bus) Subscribe(sessionID string) (*Subscription, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &Subscription{id: id, ch: make(chan Event, b.mailbox), sid: sessionID}
	sub.Events = sub.ch

	set := b.subs[sessionID]
	if set == nil {
		set = make(map[int]*Subscription)
		b.subs[sessionID] = set
	}
	set[id] = sub

	return sub, func() { b.unsubscribe(sessionID, id) }
}

func (b *Bus) unsubscribe(sessionID string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.subs[sessionID]
	sub, ok := set[id]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(b.subs, sessionID)
	}
	close(sub.ch)
}

// Broadcast fans the event out to every live subscriber of the session.
// Never blocks: a full subscriber mailbox drops its oldest event first.
// The read lock is held across the sends so a concurrent unsubscribe cannot
// close a channel mid-send; the sends themselves never block.
func (b *Bus) Broadcast(sessionID string, e Event) {
	e.SessionID = sessionID

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs[sessionID] {
		for {
			select {
			case sub.ch <- e:
			default:
				// Mailbox full: drop the oldest event and retry. The retry can
				// still race another drain, hence the loop.
				select {
				case <-sub.ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// SubscriberCount returns the number of live subscribers for a session.
func (b *Bus) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[sessionID])
}

// DropSession detaches every subscriber of the session, closing their
// channels. Used during session teardown.
func (b *Bus) DropSession(sessionID string) {
	b.mu.Lock()
	set := b.subs[sessionID]
	delete(b.subs, sessionID)
	b.mu.Unlock()
	for _, sub := range set {
		close(sub.ch)
	}
}
