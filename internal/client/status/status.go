// Package status derives the single sync health signal of a session.
//
// Offline wins whenever connectivity last reported disconnected. While
// online the state is syncing from the first enqueue (or a remote batch with
// pending writes) until the queue has drained and no operation completed for
// the debounce window; then it settles to idle.
package status

import (
	"sync"
	"time"
)

type State string

const (
	Idle    State = "idle"
	Syncing State = "syncing"
	Offline State = "offline"
)

const DefaultDebounce = 2 * time.Second

type Reporter struct {
	debounce time.Duration

	mu        sync.Mutex
	online    bool
	busy      bool
	active    bool
	timer     *time.Timer
	gen       uint64
	state     State
	listeners map[int]chan State
	nextID    int
}

// New returns a Reporter that starts offline until SetOnline is called.
func New(debounce time.Duration) *Reporter {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Reporter{debounce: debounce, state: Offline, listeners: map[int]chan State{}}
}

func (r *Reporter) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Subscribe returns a channel that receives the latest state after each
// change. Slow readers only see the most recent value.
func (r *Reporter) Subscribe() (<-chan State, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	ch := make(chan State, 1)
	r.listeners[id] = ch
	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.listeners, id)
	}
}

func (r *Reporter) SetOnline(online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.online = online
	r.publish()
}

// Enqueued marks the queue non-empty.
func (r *Reporter) Enqueued() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.busy = true
	r.active = true
	r.stopTimer()
	r.publish()
}

// Completed restarts the settle window.
func (r *Reporter) Completed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.busy {
		r.armTimer()
	}
}

// Drained marks the queue empty and starts the settle window.
func (r *Reporter) Drained() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.busy = false
	r.armTimer()
}

// RemotePending reports a remote batch that still carries unconfirmed writes.
func (r *Reporter) RemotePending() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = true
	if !r.busy {
		r.armTimer()
	}
	r.publish()
}

func (r *Reporter) stopTimer() {
	r.gen++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Reporter) armTimer() {
	r.stopTimer()
	gen := r.gen
	r.timer = time.AfterFunc(r.debounce, func() { r.settle(gen) })
}

func (r *Reporter) settle(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen || r.busy {
		return
	}
	r.timer = nil
	r.active = false
	r.publish()
}

func (r *Reporter) publish() {
	next := Idle
	switch {
	case !r.online:
		next = Offline
	case r.active:
		next = Syncing
	}
	if next == r.state {
		return
	}
	r.state = next
	for _, ch := range r.listeners {
		select {
		case <-ch:
		default:
		}
		ch <- next
	}
}
