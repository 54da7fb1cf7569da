package events

import (
	"sync"
)

const defaultBufSize = 256

// Bus is a channel-based pub-sub event bus.
// Events are routed by their Topic; SubscribeAll receives every topic.
// A nil *Bus accepts and drops every event.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string][]chan Event // topic -> subscriber channels
	allSubs []chan Event            // channels subscribed to all topics
	dropped map[string]int          // topic -> events dropped on full channels
	closed  bool
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subs:    make(map[string][]chan Event),
		dropped: make(map[string]int),
	}
}

// Subscribe returns a channel receiving events published on topic.
// bufSize defaults to 256 if <= 0.
func (b *Bus) Subscribe(topic string, bufSize int) <-chan Event {
	ch := newChannel(bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	b.subs[topic] = append(b.subs[topic], ch)
	return ch
}

// SubscribeAll returns a channel receiving events from every topic.
func (b *Bus) SubscribeAll(bufSize int) <-chan Event {
	ch := newChannel(bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	b.allSubs = append(b.allSubs, ch)
	return ch
}

// Publish delivers event to subscribers of its topic and to all-topic
// subscribers. Non-blocking: a full subscriber channel drops the event for
// that subscriber and the drop is counted.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	topic := event.Topic()
	for _, ch := range b.subs[topic] {
		b.send(topic, ch, event)
	}
	for _, ch := range b.allSubs {
		b.send(topic, ch, event)
	}
}

// Dropped returns how many events on topic were dropped on full channels.
func (b *Bus) Dropped(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped[topic]
}

// Close closes the bus and all subscriber channels.
// Safe to call multiple times.
func (b *Bus) Close() {
	if b == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, channels := range b.subs {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range b.allSubs {
		close(ch)
	}
}

// send must be called with b.mu held.
func (b *Bus) send(topic string, ch chan Event, event Event) {
	select {
	case ch <- event:
	default:
		b.dropped[topic]++
	}
}

func newChannel(bufSize int) chan Event {
	if bufSize <= 0 {
		bufSize = defaultBufSize
	}
	return make(chan Event, bufSize)
}
