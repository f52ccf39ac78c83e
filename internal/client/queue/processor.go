package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Masparrito/lactokeeper-sub001/internal/client/client"
	"github.com/Masparrito/lactokeeper-sub001/internal/client/models"
	"github.com/Masparrito/lactokeeper-sub001/internal/logging"
)

const DefaultOperationTimeout = 15 * time.Second

// Pusher is the write half of client.RemoteStore.
type Pusher interface {
	Upsert(ctx context.Context, opID, kind, id string, record map[string]any) error
	Delete(ctx context.Context, opID, kind, id string) error
	BatchCommit(ctx context.Context, opID string, mutations []client.Mutation) error
}

// Marker flips the synced flag of a row once its push is accepted.
type Marker interface {
	MarkSynced(ctx context.Context, kind, id string, rev int64) (bool, error)
}

// Journal is the persisted copy of the queue.
type Journal interface {
	Complete(ctx context.Context, seq int64) error
	Park(ctx context.Context, seq int64, op models.Operation) error
}

// Observer is told about queue activity. status.Reporter implements it.
type Observer interface {
	Enqueued()
	Completed()
	Drained()
}

type Options struct {
	Timeout  time.Duration
	Marker   Marker
	Journal  Journal
	Observer Observer
	Logger   logging.Logger
}

// Processor drains a Queue strictly serially while online.
type Processor struct {
	q        *Queue
	remote   Pusher
	marker   Marker
	journal  Journal
	observer Observer
	timeout  time.Duration
	logger   logging.Logger

	mu         sync.Mutex
	online     bool
	onlineWake chan struct{}

	// enqueueMu serializes commits and enqueues, and orders Enqueued and
	// Drained with the queue changes they report.
	enqueueMu sync.Mutex
}

func NewProcessor(q *Queue, remote Pusher, opts Options) *Processor {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOperationTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Processor{
		q:          q,
		remote:     remote,
		marker:     opts.Marker,
		journal:    opts.Journal,
		observer:   opts.Observer,
		timeout:    opts.Timeout,
		logger:     opts.Logger.With("module", "queue"),
		onlineWake: make(chan struct{}, 1),
	}
}

// Enqueue pushes items and wakes the processor.
func (p *Processor) Enqueue(items ...Item) {
	if len(items) == 0 {
		return
	}
	p.enqueueMu.Lock()
	defer p.enqueueMu.Unlock()
	p.enqueueLocked(items)
}

// Commit runs fn, normally a local transaction that journals operations, and
// enqueues the items it returns once it succeeded. Commits run one at a time
// so the queue sees them in commit order.
func (p *Processor) Commit(fn func() ([]Item, error)) error {
	p.enqueueMu.Lock()
	defer p.enqueueMu.Unlock()
	items, err := fn()
	if err != nil {
		return err
	}
	p.enqueueLocked(items)
	return nil
}

func (p *Processor) enqueueLocked(items []Item) {
	if len(items) == 0 {
		return
	}
	p.q.Push(items...)
	if p.observer != nil {
		p.observer.Enqueued()
	}
}

// SetOnline gates network work. Going offline never drops anything.
func (p *Processor) SetOnline(online bool) {
	p.mu.Lock()
	p.online = online
	p.mu.Unlock()
	if online {
		select {
		case p.onlineWake <- struct{}{}:
		default:
		}
	}
}

func (p *Processor) isOnline() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

// Queue returns the queue drained by p.
func (p *Processor) Queue() *Queue {
	return p.q
}

// Run drains the queue until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if p.isOnline() {
			if item, ok := p.q.Pop(); ok {
				p.process(ctx, item)
				p.q.Done()
				p.drained()
				continue
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-p.q.wake:
		case <-p.onlineWake:
		}
	}
}

func (p *Processor) drained() {
	if p.observer == nil {
		return
	}
	p.enqueueMu.Lock()
	defer p.enqueueMu.Unlock()
	if p.q.Len() == 0 {
		p.observer.Drained()
	}
}

// WaitIdle blocks until the queue is empty or ctx is done.
func (p *Processor) WaitIdle(ctx context.Context) error {
	select {
	case <-p.q.Idle():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Processor) process(ctx context.Context, item Item) {
	opCtx, cancel := context.WithTimeout(ctx, p.timeout)
	err := p.push(opCtx, item.Op)
	cancel()

	if ctx.Err() != nil {
		// Session is closing; the journal still has the entry for the next start.
		return
	}
	if p.observer != nil {
		defer p.observer.Completed()
	}

	if err != nil {
		p.logger.Warn(ctx, "push failed", "op_id", item.Op.OpID, "type", item.Op.Type, "error", err)
		p.fail(ctx, item)
		return
	}

	for _, leaf := range item.Op.Flatten() {
		if leaf.Type != models.OpUpsert || p.marker == nil {
			continue
		}
		ok, err := p.marker.MarkSynced(ctx, leaf.Kind, leaf.ID, leaf.Record.Rev)
		switch {
		case err != nil:
			p.logger.Error(ctx, "mark synced failed", "kind", leaf.Kind, "id", leaf.ID, "error", err)
		case !ok:
			p.logger.Debug(ctx, "row changed since push", "kind", leaf.Kind, "id", leaf.ID)
		}
	}
	p.complete(ctx, item)
}

// fail parks what a later sweep could not rebuild from unsynced rows:
// deletes, which leave no row behind, and batches, which must go out again as
// one unit. A lone failed upsert is dropped; its row stays unsynced and the
// sweep pushes the current content.
func (p *Processor) fail(ctx context.Context, item Item) {
	if item.Op.Type == models.OpUpsert || p.journal == nil || item.Seq == 0 {
		p.complete(ctx, item)
		return
	}
	if err := p.journal.Park(ctx, item.Seq, item.Op); err != nil {
		p.logger.Error(ctx, "park failed", "seq", item.Seq, "error", err)
	}
}

func (p *Processor) complete(ctx context.Context, item Item) {
	if p.journal == nil || item.Seq == 0 {
		return
	}
	if err := p.journal.Complete(ctx, item.Seq); err != nil {
		p.logger.Error(ctx, "journal complete failed", "seq", item.Seq, "error", err)
	}
}

func (p *Processor) push(ctx context.Context, op models.Operation) error {
	switch op.Type {
	case models.OpUpsert:
		return p.remote.Upsert(ctx, op.OpID, op.Kind, op.ID, op.Record.Wire())
	case models.OpDelete:
		return p.remote.Delete(ctx, op.OpID, op.Kind, op.ID)
	case models.OpBatch:
		muts := make([]client.Mutation, 0, len(op.Ops))
		for _, leaf := range op.Flatten() {
			m := client.Mutation{Kind: leaf.Kind, ID: leaf.ID}
			if leaf.Type == models.OpUpsert {
				m.Record = leaf.Record.Wire()
			}
			muts = append(muts, m)
		}
		return p.remote.BatchCommit(ctx, op.OpID, muts)
	default:
		return fmt.Errorf("unknown operation type %q", op.Type)
	}
}
