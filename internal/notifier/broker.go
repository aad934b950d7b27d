package notifier

import (
	"log"
	"sync"

	"SpotSentinel/internal/cache"
)

const subscriberBuffer = 16

// Broker fans cache events out to browser connections. It implements
// cache.Sink on the write side and hands each subscriber a buffered channel
// on the read side. A subscriber that falls behind is dropped rather than
// allowed to block the cache writer.
type Broker struct {
	mu     sync.Mutex
	subs   map[int]chan cache.Event
	next   int
	closed bool
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan cache.Event)}
}

// Subscribe registers a new listener and returns its id and event channel.
// The channel is closed on Unsubscribe, on falling behind, or on Close.
func (b *Broker) Subscribe() (int, <-chan cache.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan cache.Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subs[id] = ch
	log.Printf("[INFO] event subscriber %d connected, total %d", id, len(b.subs))
	return id, ch
}

// Unsubscribe removes a listener and closes its channel.
func (b *Broker) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
		log.Printf("[INFO] event subscriber %d disconnected, remaining %d", id, len(b.subs))
	}
}

// Notify implements cache.Sink. Delivery is non-blocking; a subscriber whose
// buffer is full is dropped.
func (b *Broker) Notify(evt cache.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			delete(b.subs, id)
			close(ch)
			log.Printf("[WARN] event subscriber %d too slow, dropped", id)
		}
	}
	return nil
}

// Close drops every subscriber. Further Subscribe calls get a closed channel.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// Subscribers returns the current listener count.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
