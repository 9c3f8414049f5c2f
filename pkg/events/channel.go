// Package events provides the in-process broadcast channel that carries a
// job's lifecycle events from its watcher to any number of subscribers.
package events

import (
	"sync"
	"time"
)

// Type classifies an event.
type Type string

const (
	// TypePhase reports a phase change (or the key announcement).
	TypePhase Type = "phase"
	// TypeOutput carries one line of process output.
	TypeOutput Type = "output"
	// TypeComplete is terminal: the job finished cleanly.
	TypeComplete Type = "complete"
	// TypeError is terminal: the job failed or was cancelled.
	TypeError Type = "error"
)

// Terminal reports whether the type ends the channel.
func (t Type) Terminal() bool {
	return t == TypeComplete || t == TypeError
}

// Event is one broadcast message.
type Event struct {
	Type     Type      `json:"type"`
	Key      string    `json:"key,omitempty"`
	Payload  string    `json:"payload,omitempty"`
	Progress int       `json:"progress,omitempty"`
	Time     time.Time `json:"time"`
}

// subscriberBuffer bounds each subscriber's queue. A subscriber that falls
// this far behind is dropped rather than allowed to stall the publisher.
const subscriberBuffer = 64

// Channel is an ordered, at-least-once broadcast channel for one job
// instance. It is owned by the manager that created it; subscribers hold
// only receive channels. Once a terminal event is published the channel
// closes and never emits again.
type Channel struct {
	mu       sync.Mutex
	subs     map[uint64]chan Event
	nextID   uint64
	closed   bool
	observed bool
}

// New creates an open channel.
func New() *Channel {
	return &Channel{subs: make(map[uint64]chan Event)}
}

// Subscribe registers a new subscriber and returns its receive channel and a
// cancel function. Subscribing after close yields an already-closed channel;
// the subscriber must treat that as terminal.
func (c *Channel) Subscribe() (<-chan Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if c.closed {
		close(ch)
		return ch, func() { c.markObserved() }
	}

	id := c.nextID
	c.nextID++
	c.subs[id] = ch

	return ch, func() { c.unsubscribe(id) }
}

func (c *Channel) unsubscribe(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ch, ok := c.subs[id]; ok {
		delete(c.subs, id)
		close(ch)
	}
	if c.closed {
		c.observed = true
	}
}

func (c *Channel) markObserved() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.observed = true
	}
}

// Publish broadcasts ev to every subscriber in order. Publishing a terminal
// event closes the channel; publishes after close are no-ops. A subscriber
// whose buffer is full is dropped.
func (c *Channel) Publish(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	for id, ch := range c.subs {
		select {
		case ch <- ev:
		default:
			delete(c.subs, id)
			close(ch)
		}
	}

	if ev.Type.Terminal() {
		c.closed = true
		for id, ch := range c.subs {
			delete(c.subs, id)
			close(ch)
		}
	}
}

// Closed reports whether a terminal event has been published.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Observed reports whether at least one subscriber unsubscribed after the
// channel closed, i.e. the terminal state has been seen.
func (c *Channel) Observed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observed
}
