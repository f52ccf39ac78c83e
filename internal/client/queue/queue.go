// Package queue holds the pending outbound operations of a session and the
// processor that pushes them to the remote store one at a time.
package queue

import (
	"sync"

	"github.com/Masparrito/lactokeeper-sub001/internal/client/models"
)

// Item is one queued operation. Seq is the outbox sequence number, zero for
// operations that are not journaled (the reconcile sweep rebuilds those from
// unsynced rows).
type Item struct {
	Seq int64
	Op  models.Operation
}

// Queue is a FIFO with many producers and a single consumer.
type Queue struct {
	mu       sync.Mutex
	items    []Item
	inflight *Item
	idle     chan struct{}
	wake     chan struct{}
}

func New() *Queue {
	idle := make(chan struct{})
	close(idle)
	return &Queue{idle: idle, wake: make(chan struct{}, 1)}
}

// Push appends items. Journaled items are kept in seq order so a replay after
// restart and a live session see the same order.
func (q *Queue) Push(items ...Item) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	if q.empty() {
		q.idle = make(chan struct{})
	}
	for _, it := range items {
		q.items = append(q.items, it)
		if it.Seq == 0 {
			continue
		}
		for i := len(q.items) - 1; i > 0; i-- {
			prev := q.items[i-1].Seq
			if prev == 0 || prev < it.Seq {
				break
			}
			q.items[i-1], q.items[i] = q.items[i], q.items[i-1]
		}
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Pop moves the head to in-flight. Only the processor calls it.
func (q *Queue) Pop() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inflight != nil || len(q.items) == 0 {
		return Item{}, false
	}
	it := q.items[0]
	q.items[0] = Item{}
	q.items = q.items[1:]
	q.inflight = &it
	return it, true
}

// Done clears the in-flight item.
func (q *Queue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inflight = nil
	if q.empty() {
		close(q.idle)
	}
}

func (q *Queue) empty() bool {
	return q.inflight == nil && len(q.items) == 0
}

// Len counts queued and in-flight items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	if q.inflight != nil {
		n++
	}
	return n
}

// Pending counts queued or in-flight operations touching key.
func (q *Queue) Pending(key models.Key) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, it := range q.all() {
		for _, k := range it.Op.Keys() {
			if k == key {
				n++
				break
			}
		}
	}
	return n
}

// Contains reports whether the journaled entry seq is queued or in flight.
func (q *Queue) Contains(seq int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.all() {
		if it.Seq == seq {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the pending items, in-flight first.
func (q *Queue) Snapshot() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Item(nil), q.all()...)
}

func (q *Queue) all() []Item {
	if q.inflight == nil {
		return q.items
	}
	return append([]Item{*q.inflight}, q.items...)
}

// Idle returns a channel closed while the queue is empty.
func (q *Queue) Idle() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.idle
}
