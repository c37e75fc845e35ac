package bus

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcast_OrderPerSubscriber(t *testing.T) {
	b := New()
	sub, done := b.Subscribe("s1")
	defer done()

	for i := 0; i < 10; i++ {
		b.Broadcast("s1", Event{Type: fmt.Sprintf("e%d", i)})
	}

	for i := 0; i < 10; i++ {
		e := <-sub.Events
		assert.Equal(t, fmt.Sprintf("e%d", i), e.Type)
		assert.Equal(t, "s1", e.SessionID)
	}
}

func TestBroadcast_SessionIsolation(t *testing.T) {
	b := New()
	s1, done1 := b.Subscribe("s1")
	defer done1()
	s2, done2 := b.Subscribe("s2")
	defer done2()

	b.Broadcast("s1", Event{Type: "only_s1"})

	e := <-s1.Events
	assert.Equal(t, "only_s1", e.Type)
	select {
	case e := <-s2.Events:
		t.Fatalf("s2 received foreign event %q", e.Type)
	default:
	}
}

func TestBroadcast_SlowSubscriberDropsOldest(t *testing.T) {
	b := NewWithMailbox(2)
	sub, done := b.Subscribe("s1")
	defer done()

	// Nobody draining: the third broadcast must not block, and must evict e0.
	b.Broadcast("s1", Event{Type: "e0"})
	b.Broadcast("s1", Event{Type: "e1"})
	b.Broadcast("s1", Event{Type: "e2"})

	got := []string{(<-sub.Events).Type, (<-sub.Events).Type}
	assert.Equal(t, []string{"e1", "e2"}, got)
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	b := New()
	sub, done := b.Subscribe("s1")
	require.Equal(t, 1, b.SubscriberCount("s1"))

	done()
	_, open := <-sub.Events
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount("s1"))

	// Detaching twice is harmless.
	done()
}

func TestDropSession(t *testing.T) {
	b := New()
	s1, _ := b.Subscribe("s1")
	s2, _ := b.Subscribe("s1")

	b.DropSession("s1")
	_, open1 := <-s1.Events
	_, open2 := <-s2.Events
	assert.False(t, open1)
	assert.False(t, open2)
	assert.Equal(t, 0, b.SubscriberCount("s1"))
}
