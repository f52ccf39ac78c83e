// Package events fans session notifications out to the presentation layer:
// the CLI prints them and the websocket bridge streams them to a UI.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/Masparrito/lactokeeper-sub001/internal/client/status"
)

type Type string

const (
	// DataChanged means the local store of Kind changed because of remote
	// deltas and views of it should be re-read.
	DataChanged Type = "data_changed"
	StatusChanged Type = "status_changed"
)

type Event struct {
	Type   Type         `json:"type"`
	Kind   string       `json:"kind,omitempty"`
	Status status.State `json:"status,omitempty"`
	At     time.Time    `json:"at"`
}

const DefaultBuffer = 64

// Broker delivers every published event to all subscribers. A subscriber
// whose buffer is full misses the event.
type Broker struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	now    func() time.Time
}

func NewBroker() *Broker {
	return &Broker{subs: map[int]chan Event{}, now: time.Now}
}

// Subscribe returns a channel of events and a func that closes it.
func (b *Broker) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Broker) Publish(e Event) {
	if e.At.IsZero() {
		e.At = b.now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// LocalDataChanged implements subscriber.Notifier.
func (b *Broker) LocalDataChanged(kind string) {
	b.Publish(Event{Type: DataChanged, Kind: kind})
}

// ForwardStatus publishes every state read from states until ctx is done
// or states is closed.
func (b *Broker) ForwardStatus(ctx context.Context, states <-chan status.State) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-states:
			if !ok {
				return
			}
			b.Publish(Event{Type: StatusChanged, Status: s})
		}
	}
}
