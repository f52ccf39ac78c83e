// Package session owns the sync machinery of one logged-in owner: the local
// store, the outbound queue and its processor, the change subscriptions, the
// status reporter and the reconcile sweeper. A session is created on login and
// closed on logout; nothing here is process-wide.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Masparrito/lactokeeper-sub001/internal/client/client"
	"github.com/Masparrito/lactokeeper-sub001/internal/client/connectivity"
	"github.com/Masparrito/lactokeeper-sub001/internal/client/models"
	"github.com/Masparrito/lactokeeper-sub001/internal/client/queue"
	"github.com/Masparrito/lactokeeper-sub001/internal/client/services"
	"github.com/Masparrito/lactokeeper-sub001/internal/client/status"
	"github.com/Masparrito/lactokeeper-sub001/internal/client/store"
	"github.com/Masparrito/lactokeeper-sub001/internal/client/subscriber"
	"github.com/Masparrito/lactokeeper-sub001/internal/filex"
	"github.com/Masparrito/lactokeeper-sub001/internal/logging"
)

const (
	DefaultSweepBase = 5 * time.Second
	DefaultSweepMax  = 5 * time.Minute
)

type Options struct {
	DataDir string
	OwnerID string
	// Kinds are subscribed at start. Kinds already present in the local
	// store are subscribed too.
	Kinds     []string
	AuditKind string

	Remote       client.RemoteStore
	Connectivity connectivity.Signal
	Notifier     subscriber.Notifier

	OperationTimeout time.Duration
	StatusDebounce   time.Duration
	SweepBase        time.Duration
	SweepMax         time.Duration

	Logger logging.Logger
}

type Engine struct {
	opts   Options
	logger logging.Logger

	store    *store.Store
	queue    *queue.Queue
	proc     *queue.Processor
	status   *status.Reporter
	echo     *subscriber.EchoFilter
	sub      *subscriber.Subscriber
	entities *services.EntityService

	sweepNow chan struct{}
	stopConn func()
	runCtx   context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// New opens the owner's store, replays its outbox and starts the session.
// ctx bounds the lifetime of the background work; Close stops it as well.
func New(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Remote == nil || opts.Connectivity == nil {
		return nil, errors.New("session needs a remote store and a connectivity signal")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.SweepBase <= 0 {
		opts.SweepBase = DefaultSweepBase
	}
	if opts.SweepMax < opts.SweepBase {
		opts.SweepMax = max(DefaultSweepMax, opts.SweepBase)
	}
	logger := opts.Logger.With("module", "session", "owner", opts.OwnerID)

	path, err := filex.OwnerDBPath(opts.DataDir, opts.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("local store path: %w", err)
	}
	st, err := store.Open(ctx, path, opts.Logger, opts.Kinds...)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	e := &Engine{
		opts:     opts,
		logger:   logger,
		store:    st,
		queue:    queue.New(),
		status:   status.New(opts.StatusDebounce),
		echo:     subscriber.NewEchoFilter(0),
		sweepNow: make(chan struct{}, 1),
	}
	e.proc = queue.NewProcessor(e.queue, opts.Remote, queue.Options{
		Timeout:  opts.OperationTimeout,
		Marker:   st,
		Journal:  st,
		Observer: e.status,
		Logger:   opts.Logger,
	})
	e.entities = services.NewEntityService(st, e.proc, services.EntityConfig{
		OwnerID:   opts.OwnerID,
		AuditKind: opts.AuditKind,
		Echo:      e.echo,
		Logger:    opts.Logger,
	})
	e.sub = subscriber.New(opts.Remote, st, opts.OwnerID, subscriber.Options{
		Echo:      e.echo,
		Pending:   e.queue.Pending,
		Notifier:  opts.Notifier,
		Observer:  e.status,
		Snapshots: st.Metadata(),
		Logger:    opts.Logger,
	})

	if err := e.replay(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}

	kinds, err := st.Kinds(ctx)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.runCtx, e.cancel = runCtx, cancel
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.proc.Run(runCtx)
	}()
	go func() {
		defer e.wg.Done()
		e.sweepLoop(runCtx)
	}()

	if _, err := e.Sweep(ctx); err != nil {
		logger.Warn(ctx, "startup sweep failed", "error", err)
	}

	online := opts.Connectivity.Online()
	e.proc.SetOnline(online)
	e.status.SetOnline(online)
	e.stopConn = opts.Connectivity.OnChange(e.setOnline)

	if err := e.sub.Start(runCtx, kinds...); err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	logger.Info(ctx, "session started", "kinds", len(kinds), "replayed", e.queue.Len())
	return e, nil
}

// replay loads the queued outbox entries left by a previous run.
func (e *Engine) replay(ctx context.Context) error {
	pending, err := e.store.Pending(ctx)
	if err != nil {
		return fmt.Errorf("replay outbox: %w", err)
	}
	items := make([]queue.Item, 0, len(pending))
	for _, p := range pending {
		e.echo.Add(p.Op.OpID)
		items = append(items, queue.Item{Seq: p.Seq, Op: p.Op})
	}
	e.proc.Enqueue(items...)
	return nil
}

func (e *Engine) setOnline(online bool) {
	e.proc.SetOnline(online)
	e.status.SetOnline(online)
	if online {
		e.Retry()
	}
}

// Entities is the mutation API of the session.
func (e *Engine) Entities() *services.EntityService {
	return e.entities
}

func (e *Engine) OwnerID() string {
	return e.opts.OwnerID
}

func (e *Engine) Status() status.State {
	return e.status.State()
}

// SubscribeStatus streams status changes until the returned func is called.
func (e *Engine) SubscribeStatus() (<-chan status.State, func()) {
	return e.status.Subscribe()
}

// Pending lists the operations waiting to be pushed, in order.
func (e *Engine) Pending() []queue.Item {
	return e.queue.Snapshot()
}

// Parked lists failed deletes and batches waiting for the next sweep.
func (e *Engine) Parked(ctx context.Context) ([]models.Operation, error) {
	entries, err := e.store.Parked(ctx)
	if err != nil {
		return nil, err
	}
	ops := make([]models.Operation, 0, len(entries))
	for _, en := range entries {
		ops = append(ops, en.Op)
	}
	return ops, nil
}

// Subscribe adds subscriptions for kinds not subscribed yet. They live as
// long as the session.
func (e *Engine) Subscribe(kinds ...string) error {
	return e.sub.Start(e.runCtx, kinds...)
}

// Retry asks for a reconcile sweep as soon as possible.
func (e *Engine) Retry() {
	select {
	case e.sweepNow <- struct{}{}:
	default:
	}
}

// WaitIdle blocks until the queue is empty.
func (e *Engine) WaitIdle(ctx context.Context) error {
	return e.proc.WaitIdle(ctx)
}

// Close stops every background task and closes the store. In-flight pushes
// are abandoned; their outbox entries are replayed by the next session.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.sub.Stop()
		if e.stopConn != nil {
			e.stopConn()
		}
		e.cancel()
		e.wg.Wait()
		e.closeErr = e.store.Close()
		e.logger.Info(context.Background(), "session closed")
	})
	return e.closeErr
}
