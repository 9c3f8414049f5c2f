package events

import (
	"testing"
	"time"
)

func collect(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestBroadcastOrderPreserved(t *testing.T) {
	c := New()
	sub, cancel := c.Subscribe()
	defer cancel()

	c.Publish(Event{Type: TypePhase, Payload: "drafting"})
	c.Publish(Event{Type: TypeOutput, Payload: "line 1"})
	c.Publish(Event{Type: TypeComplete})

	got := collect(sub)
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].Payload != "drafting" || got[1].Payload != "line 1" || got[2].Type != TypeComplete {
		t.Fatalf("events out of order: %+v", got)
	}
}

func TestTerminalThenSilence(t *testing.T) {
	c := New()
	sub, cancel := c.Subscribe()
	defer cancel()

	c.Publish(Event{Type: TypeError, Payload: "boom"})
	c.Publish(Event{Type: TypeOutput, Payload: "after"})
	c.Publish(Event{Type: TypeComplete})

	got := collect(sub)
	if len(got) != 1 {
		t.Fatalf("expected only the terminal event, got %d: %+v", len(got), got)
	}
	if got[0].Type != TypeError {
		t.Fatalf("expected error event, got %s", got[0].Type)
	}
	if !c.Closed() {
		t.Fatal("channel should be closed after terminal event")
	}
}

func TestFanOutIndependentCopies(t *testing.T) {
	c := New()
	sub1, cancel1 := c.Subscribe()
	sub2, cancel2 := c.Subscribe()
	defer cancel1()
	defer cancel2()

	c.Publish(Event{Type: TypePhase, Payload: "reviewing"})
	c.Publish(Event{Type: TypeComplete})

	for i, got := range [][]Event{collect(sub1), collect(sub2)} {
		if len(got) != 2 {
			t.Fatalf("subscriber %d: expected 2 events, got %d", i+1, len(got))
		}
		if got[0].Type != TypePhase || got[0].Payload != "reviewing" || got[1].Type != TypeComplete {
			t.Fatalf("subscriber %d: unexpected events %+v", i+1, got)
		}
	}
}

func TestUnsubscribeDoesNotAffectOthers(t *testing.T) {
	c := New()
	sub1, cancel1 := c.Subscribe()
	sub2, cancel2 := c.Subscribe()
	defer cancel2()

	cancel1()
	if _, ok := <-sub1; ok {
		t.Fatal("cancelled subscriber channel should be closed")
	}

	c.Publish(Event{Type: TypeOutput, Payload: "still here"})
	select {
	case ev := <-sub2:
		if ev.Payload != "still here" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("remaining subscriber did not receive event")
	}
}

func TestLateSubscriberSeesClosedChannel(t *testing.T) {
	c := New()
	c.Publish(Event{Type: TypeComplete})

	sub, cancel := c.Subscribe()
	if _, ok := <-sub; ok {
		t.Fatal("late subscriber should get a closed channel")
	}

	cancel()
	if !c.Observed() {
		t.Fatal("terminal state should count as observed after late unsubscribe")
	}
}

func TestSlowSubscriberDropped(t *testing.T) {
	c := New()
	sub, cancel := c.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		c.Publish(Event{Type: TypeOutput, Payload: "flood"})
	}

	// The subscriber never read; its channel must have been closed after
	// the buffer filled, with exactly subscriberBuffer events queued.
	n := 0
	for range sub {
		n++
	}
	if n != subscriberBuffer {
		t.Fatalf("expected %d buffered events, got %d", subscriberBuffer, n)
	}
}

func TestObservedAfterTerminalUnsubscribe(t *testing.T) {
	c := New()
	sub, cancel := c.Subscribe()

	c.Publish(Event{Type: TypeComplete})
	collect(sub)

	if c.Observed() {
		t.Fatal("observed should not be set before unsubscribe")
	}
	cancel()
	if !c.Observed() {
		t.Fatal("observed should be set after a subscriber saw the terminal event")
	}
}

func TestPublishStampsTime(t *testing.T) {
	c := New()
	sub, cancel := c.Subscribe()
	defer cancel()

	c.Publish(Event{Type: TypeOutput, Payload: "x"})
	ev := <-sub
	if ev.Time.IsZero() {
		t.Fatal("expected publish to stamp the event time")
	}
}
