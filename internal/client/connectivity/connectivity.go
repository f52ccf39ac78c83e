// Package connectivity turns reachability of the sync server into
// became-online / became-offline events.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/Masparrito/lactokeeper-sub001/internal/logging"
)

const PingTimeout = 3 * time.Second

// Signal is a connectivity source.
type Signal interface {
	Online() bool
	// OnChange registers fn for every transition. The returned func removes it.
	OnChange(fn func(online bool)) func()
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// listeners is the shared transition bookkeeping of Watcher and Manual.
type listeners struct {
	mu     sync.Mutex
	online bool
	known  bool
	fns    map[int]func(bool)
	next   int
}

func (l *listeners) Online() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.online
}

func (l *listeners) OnChange(fn func(bool)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = map[int]func(bool){}
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.fns, id)
	}
}

// set records online and returns true when it is a transition. The first
// observation always counts as one.
func (l *listeners) set(online bool) bool {
	l.mu.Lock()
	if l.known && l.online == online {
		l.mu.Unlock()
		return false
	}
	l.known = true
	l.online = online
	fns := make([]func(bool), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
	return true
}

// Watcher pings the server on an interval.
type Watcher struct {
	listeners
	pinger   Pinger
	interval time.Duration
	logger   logging.Logger
}

func NewWatcher(p Pinger, interval time.Duration, logger logging.Logger) *Watcher {
	return &Watcher{pinger: p, interval: interval, logger: logger.With("module", "connectivity")}
}

// Run checks once immediately, then every interval, until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.check(ctx)
	for {
		select {
		case <-ticker.C:
			w.check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) check(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, PingTimeout)
	err := w.pinger.Ping(pctx)
	cancel()
	if ctx.Err() != nil {
		return
	}

	if w.set(err == nil) {
		if err != nil {
			w.logger.Info(ctx, "became offline", "error", err)
		} else {
			w.logger.Info(ctx, "became online")
		}
	}
}

// Manual is a Signal driven by Set.
type Manual struct {
	listeners
}

func NewManual(online bool) *Manual {
	m := &Manual{}
	m.online = online
	m.known = true
	return m
}

func (m *Manual) Set(online bool) {
	m.set(online)
}
