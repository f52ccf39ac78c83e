// Package subscriber keeps the local store in step with the remote store:
// one subscription per entity kind, deltas applied in a local transaction.
package subscriber

import (
	"context"
	"errors"
	"maps"
	"reflect"
	"sync"
	"time"

	"github.com/Masparrito/lactokeeper-sub001/internal/client/client"
	"github.com/Masparrito/lactokeeper-sub001/internal/client/models"
	"github.com/Masparrito/lactokeeper-sub001/internal/client/store"
	"github.com/Masparrito/lactokeeper-sub001/internal/common"
	"github.com/Masparrito/lactokeeper-sub001/internal/logging"
)

type Source interface {
	Subscribe(ctx context.Context, kind, ownerID string, onDelta func(models.DeltaBatch)) (client.Unsubscribe, error)
}

type Store interface {
	Transaction(ctx context.Context, kinds []string, fn func(ctx context.Context, tx store.Tx) error) error
}

// Notifier is the domain layer hook: re-read kind.
type Notifier interface {
	LocalDataChanged(kind string)
}

// PendingObserver is told about echoes of writes still settling.
type PendingObserver interface {
	RemotePending()
}

type SnapshotRecorder interface {
	SetSnapshotAt(ctx context.Context, kind string, at time.Time) error
}

type Options struct {
	Echo      *EchoFilter
	// Pending counts queued operations for a record.
	Pending   func(models.Key) int
	Notifier  Notifier
	Observer  PendingObserver
	Snapshots SnapshotRecorder
	Logger    logging.Logger
}

type Subscriber struct {
	source Source
	store  Store
	owner  string
	opts   Options
	logger logging.Logger

	mu   sync.Mutex
	subs map[string]client.Unsubscribe
}

func New(source Source, st Store, ownerID string, opts Options) *Subscriber {
	if opts.Echo == nil {
		opts.Echo = NewEchoFilter(0)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Subscriber{
		source: source,
		store:  st,
		owner:  ownerID,
		opts:   opts,
		logger: opts.Logger.With("module", "subscriber"),
		subs:   map[string]client.Unsubscribe{},
	}
}

// Start subscribes to every kind not subscribed yet.
func (s *Subscriber) Start(ctx context.Context, kinds ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kind := range kinds {
		if _, ok := s.subs[kind]; ok {
			continue
		}
		unsub, err := s.source.Subscribe(ctx, kind, s.owner, func(b models.DeltaBatch) {
			s.Handle(ctx, b)
		})
		if err != nil {
			return err
		}
		s.subs[kind] = unsub
	}
	return nil
}

// Stop cancels every subscription.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	subs := s.subs
	s.subs = map[string]client.Unsubscribe{}
	s.mu.Unlock()

	for _, unsub := range subs {
		unsub()
	}
}

// Handle applies one delta batch. Failures are logged and the batch dropped:
// the next snapshot brings the store back in line.
func (s *Subscriber) Handle(ctx context.Context, b models.DeltaBatch) {
	if s.opts.Echo.Seen(b.OpID) {
		if s.opts.Observer != nil {
			s.opts.Observer.RemotePending()
		}
		return
	}

	changed, err := s.apply(ctx, b)
	if err != nil {
		s.logger.Error(ctx, "delta dropped", "kind", b.Kind, "op_id", b.OpID, "error", err)
		return
	}
	if b.Snapshot && s.opts.Snapshots != nil {
		if err := s.opts.Snapshots.SetSnapshotAt(ctx, b.Kind, time.Now()); err != nil {
			s.logger.Warn(ctx, "snapshot time not saved", "kind", b.Kind, "error", err)
		}
	}
	if changed && s.opts.Notifier != nil {
		s.opts.Notifier.LocalDataChanged(b.Kind)
	}
}

// pending reports whether kind/id has a local push that is not confirmed yet:
// queued in memory, journaled but not handed to the queue, or parked after a
// failed attempt.
func (s *Subscriber) pending(ctx context.Context, tx store.Tx, kind, id string) (bool, error) {
	if s.opts.Pending != nil && s.opts.Pending(models.Key{Kind: kind, ID: id}) > 0 {
		return true, nil
	}
	return tx.Journaled(ctx, kind, id)
}

func (s *Subscriber) apply(ctx context.Context, b models.DeltaBatch) (bool, error) {
	changed := false
	err := s.store.Transaction(ctx, []string{b.Kind}, func(ctx context.Context, tx store.Tx) error {
		changed = false
		seen := make(map[string]bool, len(b.Changes))

		for _, c := range b.Changes {
			id := c.Record.ID
			seen[id] = true

			local, err := tx.Get(ctx, b.Kind, id)
			if err != nil && !errors.Is(err, common.ErrorNotFound) {
				return err
			}
			// An unconfirmed local write wins over whatever the server says.
			if local != nil && !local.Synced {
				continue
			}
			pending, err := s.pending(ctx, tx, b.Kind, id)
			if err != nil {
				return err
			}
			if pending {
				continue
			}

			switch c.Type {
			case models.ChangeAdded, models.ChangeModified:
				if local != nil && sameContent(local, c.Record) {
					continue
				}
				rec := c.Record.Clone()
				rec.Synced = true
				if _, err := tx.Put(ctx, b.Kind, rec); err != nil {
					return err
				}
				changed = true
			case models.ChangeRemoved:
				if local == nil {
					continue
				}
				if err := tx.Delete(ctx, b.Kind, id); err != nil {
					return err
				}
				changed = true
			}
		}

		if !b.Snapshot {
			return nil
		}
		all, err := tx.QueryAll(ctx, b.Kind)
		if err != nil {
			return err
		}
		for _, r := range all {
			if seen[r.ID] || !r.Synced {
				continue
			}
			pending, err := s.pending(ctx, tx, b.Kind, r.ID)
			if err != nil {
				return err
			}
			if pending {
				continue
			}
			if err := tx.Delete(ctx, b.Kind, r.ID); err != nil {
				return err
			}
			changed = true
		}
		return nil
	})
	return changed, err
}

func sameContent(local, remote *models.Record) bool {
	if local.OwnerID != remote.OwnerID {
		return false
	}
	if remote.CreatedAt != 0 && local.CreatedAt == 0 {
		return false
	}
	return maps.EqualFunc(local.Payload, remote.Payload, func(a, b any) bool {
		return reflect.DeepEqual(a, b)
	})
}
