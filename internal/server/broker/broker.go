// Package broker fans committed document changes out to live subscriptions.
//
// Writes of one owner go through Commit and are published in commit order.
// Subscribe takes its snapshot under the same per-owner lock, so the snapshot
// plus the following deltas never miss or reorder a change.
package broker

import (
	"sync"
)

// Change types.
const (
	Added    = "added"
	Modified = "modified"
	Removed  = "removed"
)

type Change struct {
	Type   string
	Record map[string]any
}

// Delta is one message to subscribers of Kind. OpID is the client operation
// that produced it and is empty for snapshots.
type Delta struct {
	Kind     string
	OpID     string
	Snapshot bool
	Changes  []Change
}

// DefaultBuffer is the per-subscription queue length.
const DefaultBuffer = 64

type Broker struct {
	mu     sync.Mutex
	owners map[string]*hub
	buffer int
}

type hub struct {
	commit sync.Mutex

	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
}

// New returns a broker whose subscriptions queue up to buffer deltas before
// they are dropped.
func New(buffer int) *Broker {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	return &Broker{owners: map[string]*hub{}, buffer: buffer}
}

func (b *Broker) hub(owner string) *hub {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.owners[owner]
	if !ok {
		h = &hub{subs: map[string]map[*Subscription]struct{}{}}
		b.owners[owner] = h
	}
	return h
}

// Commit runs fn under the owner's commit lock and publishes the deltas it
// returns before releasing the lock. Nothing is published when fn fails.
func (b *Broker) Commit(owner string, fn func() ([]Delta, error)) error {
	h := b.hub(owner)
	h.commit.Lock()
	defer h.commit.Unlock()

	deltas, err := fn()
	if err != nil {
		return err
	}
	for _, d := range deltas {
		h.publish(d)
	}
	return nil
}

// Subscribe registers a subscription for owner and kind. snapshot runs under
// the commit lock and its result is the first delta delivered.
func (b *Broker) Subscribe(owner, kind string, snapshot func() (Delta, error)) (*Subscription, error) {
	h := b.hub(owner)
	h.commit.Lock()
	defer h.commit.Unlock()

	first, err := snapshot()
	if err != nil {
		return nil, err
	}
	first.Kind = kind
	first.Snapshot = true

	s := &Subscription{hub: h, kind: kind, ch: make(chan Delta, b.buffer+1)}
	s.ch <- first

	h.mu.Lock()
	if h.subs[kind] == nil {
		h.subs[kind] = map[*Subscription]struct{}{}
	}
	h.subs[kind][s] = struct{}{}
	h.mu.Unlock()

	return s, nil
}

// Subscribers returns the number of live subscriptions of owner.
func (b *Broker) Subscribers(owner string) int {
	h := b.hub(owner)
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}

func (h *hub) publish(d Delta) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[d.Kind] {
		select {
		case s.ch <- d:
		default:
			s.lagged = true
			h.removeLocked(s)
		}
	}
}

func (h *hub) removeLocked(s *Subscription) {
	if _, ok := h.subs[s.kind][s]; !ok {
		return
	}
	delete(h.subs[s.kind], s)
	if len(h.subs[s.kind]) == 0 {
		delete(h.subs, s.kind)
	}
	close(s.ch)
}

// Subscription is one live stream. C is closed by Cancel or when the
// subscriber falls behind; Lagged tells the two apart.
type Subscription struct {
	hub    *hub
	kind   string
	ch     chan Delta
	lagged bool
}

func (s *Subscription) C() <-chan Delta { return s.ch }

// Lagged reports whether the subscription was dropped for falling behind.
// Valid once C is closed.
func (s *Subscription) Lagged() bool {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.lagged
}

// Cancel unregisters the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.hub.removeLocked(s)
}
