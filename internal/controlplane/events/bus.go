package events

import (
	"encoding/json"
	"sync"
)

// Bus is a simple in-process pub/sub fan-out for published events. It backs
// the outbound event socket and any other live subscriber; the trigger
// engine is fed synchronously by the ingest path, not through the bus, so
// evaluation never loses events to a full buffer.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	bufferSize  int
}

// NewBus creates an event bus.
func NewBus(bufferSize int) *Bus {
	if bufferSize < 1 {
		bufferSize = 64
	}
	return &Bus{
		subscribers: make(map[string]chan Event),
		bufferSize:  bufferSize,
	}
}

// Publish sends an event to all subscribers.
// Non-blocking: drops events for slow subscribers.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			// Drop for slow subscriber — better than blocking
		}
	}
}

// Subscribe returns a channel of events. Call Unsubscribe with the same id
// when done.
func (b *Bus) Subscribe(id string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[id] = ch
	return ch
}

// Unsubscribe removes a subscriber.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// JSON returns the event as a JSON byte slice.
func (e Event) JSON() []byte {
	data, _ := json.Marshal(e)
	return data
}
