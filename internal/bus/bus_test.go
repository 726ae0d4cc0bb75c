package bus_test

import (
	"testing"
	"time"

	"github.com/fleethub/fleethub/internal/bus"
)

type note struct {
	ID   string
	Text string
}

func newNoteBus(cap int) *bus.Bus[note] {
	return bus.New[note](cap, func(n note) string { return n.ID })
}

func collect(t *testing.T, ch <-chan note, n int) []note {
	t.Helper()
	out := make([]note, 0, n)
	for len(out) < n {
		select {
		case ev := <-ch:
			out = append(out, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d of %d", len(out)+1, n)
		}
	}
	return out
}

func TestPublish_FillsRingOldestFirst(t *testing.T) {
	b := newNoteBus(10)
	for _, id := range []string{"e1", "e2", "e3"} {
		b.Publish(note{ID: id})
	}
	ring := b.Ring()
	if len(ring) != 3 {
		t.Fatalf("Ring() len = %d, want 3", len(ring))
	}
	if ring[0].ID != "e1" || ring[2].ID != "e3" {
		t.Errorf("Ring() order = %v, want e1..e3", ring)
	}
}

func TestPublish_RingDropsOldest(t *testing.T) {
	b := newNoteBus(2)
	for _, id := range []string{"e1", "e2", "e3"} {
		b.Publish(note{ID: id})
	}
	ring := b.Ring()
	if len(ring) != 2 {
		t.Fatalf("Ring() len = %d, want 2", len(ring))
	}
	if ring[0].ID != "e2" || ring[1].ID != "e3" {
		t.Errorf("Ring() = %v, want [e2 e3]", ring)
	}
}

// A subscriber connecting with a sinceID must receive every ring event
// after that id as replay, then live events, with no gap or duplicate.
func TestSubscribe_ReplayThenLive(t *testing.T) {
	b := newNoteBus(100)
	for _, id := range []string{"e1", "e2", "e3"} {
		b.Publish(note{ID: id})
	}

	replay, sub := b.Subscribe(nil, "e1")
	defer sub.Cancel()

	if len(replay) != 2 || replay[0].ID != "e2" || replay[1].ID != "e3" {
		t.Fatalf("replay = %v, want [e2 e3]", replay)
	}

	b.Publish(note{ID: "e4"})
	live := collect(t, sub.C(), 1)
	if live[0].ID != "e4" {
		t.Errorf("live event = %v, want e4", live[0])
	}
}

func TestSubscribe_NoSinceSkipsReplay(t *testing.T) {
	b := newNoteBus(100)
	b.Publish(note{ID: "e1"})

	replay, sub := b.Subscribe(nil, "")
	defer sub.Cancel()
	if len(replay) != 0 {
		t.Errorf("replay without since = %v, want empty", replay)
	}
}

func TestSubscribe_SinceBeforeRingReplaysEverything(t *testing.T) {
	b := newNoteBus(100)
	b.Publish(note{ID: "e1"})
	b.Publish(note{ID: "e2"})

	replay, sub := b.Subscribe(nil, "a0")
	defer sub.Cancel()
	if len(replay) != 2 {
		t.Errorf("replay len = %d, want 2", len(replay))
	}
}

func TestSubscribe_FilterApplies(t *testing.T) {
	b := newNoteBus(100)
	_, sub := b.Subscribe(func(n note) bool { return n.Text == "keep" }, "")
	defer sub.Cancel()

	b.Publish(note{ID: "e1", Text: "drop"})
	b.Publish(note{ID: "e2", Text: "keep"})

	got := collect(t, sub.C(), 1)
	if got[0].ID != "e2" {
		t.Errorf("filtered event = %v, want e2", got[0])
	}
}

func TestCancel_RemovesSubscriber(t *testing.T) {
	b := newNoteBus(100)
	_, sub := b.Subscribe(nil, "")
	if n := b.Subscribers(); n != 1 {
		t.Fatalf("Subscribers() = %d, want 1", n)
	}
	sub.Cancel()
	if n := b.Subscribers(); n != 0 {
		t.Errorf("Subscribers() after Cancel = %d, want 0", n)
	}
	// Cancel is idempotent.
	sub.Cancel()
}

func TestSlowSubscriber_DropsOldestNotNewest(t *testing.T) {
	b := newNoteBus(1000)
	_, sub := b.Subscribe(nil, "")
	defer sub.Cancel()

	// Overflow the 64-event channel without draining it.
	for i := 0; i < 100; i++ {
		b.Publish(note{ID: string(rune('a' + i%26))})
	}
	if sub.Dropped() == 0 {
		t.Error("Dropped() = 0, want > 0 after overflow")
	}
}
