// Package event provides the single publish/subscribe utility shared by
// the sync engine, the network monitor, and the control API. One generic
// bus replaces the per-component emitter pattern; the signal vocabulary is
// closed.
package event

import (
	"sync"
	"time"
)

// Signal names the things subscribers can react to.
type Signal string

const (
	SyncComplete    Signal = "syncComplete"
	SyncError       Signal = "syncError"
	NetworkRestored Signal = "networkRestored"
	NetworkLost     Signal = "networkLost"
)

// Event is one published occurrence.
type Event struct {
	Signal Signal    `json:"signal"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Bus fans events out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the event. Signals carry state
// transitions, not data, so a missed one is recovered by the next.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: map[int]chan Event{}}
}

// Subscribe registers a buffered subscription. The returned cancel func
// unregisters and closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers the signal to every current subscriber.
func (b *Bus) Publish(sig Signal, detail string) {
	ev := Event{Signal: sig, Detail: detail, At: time.Now().UTC()}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
