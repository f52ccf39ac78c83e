package session

import (
	"context"
	"errors"
	"time"

	"github.com/Masparrito/lactokeeper-sub001/internal/client/models"
	"github.com/Masparrito/lactokeeper-sub001/internal/client/queue"
	"github.com/Masparrito/lactokeeper-sub001/internal/client/store"
	"github.com/Masparrito/lactokeeper-sub001/internal/common"
	"github.com/google/uuid"
)

func (e *Engine) sweepLoop(ctx context.Context) {
	delay := e.opts.SweepBase
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.sweepNow:
		case <-timer.C:
		}

		n, err := e.Sweep(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			e.logger.Error(ctx, "reconcile sweep failed", "error", err)
		}
		if err != nil || n > 0 {
			delay = min(delay*2, e.opts.SweepMax)
		} else {
			delay = e.opts.SweepBase
		}
		timer.Reset(delay)
	}
}

// Sweep re-enqueues everything that lost its push. Parked entries are
// requeued under their own op id with upserts refreshed from the rows'
// current content, so a failed batch goes out again as one batch. Unsynced
// rows with no journaled operation are pushed as plain upserts. It returns
// the number of operations enqueued.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	kinds, err := e.store.Kinds(ctx)
	if err != nil {
		return 0, err
	}

	var items []queue.Item
	err = e.proc.Commit(func() ([]queue.Item, error) {
		err := e.store.Transaction(ctx, kinds, func(ctx context.Context, tx store.Tx) error {
			var err error
			items, err = e.collect(ctx, tx, kinds)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			e.echo.Add(it.Op.OpID)
		}
		return items, nil
	})
	if err != nil {
		return 0, err
	}
	if len(items) > 0 {
		e.logger.Debug(ctx, "reconcile sweep", "enqueued", len(items))
	}
	return len(items), nil
}

// collect requeues the parked entries and lists the unsynced rows to push.
func (e *Engine) collect(ctx context.Context, tx store.Tx, kinds []string) ([]queue.Item, error) {
	var items []queue.Item

	parked, err := tx.Parked(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range parked {
		if e.queue.Contains(p.Seq) {
			continue
		}
		op, ok, err := rebuild(ctx, tx, p.Op)
		if err != nil {
			return nil, err
		}
		if !ok {
			if err := tx.Complete(ctx, p.Seq); err != nil {
				return nil, err
			}
			continue
		}
		if err := tx.Requeue(ctx, p.Seq, op); err != nil {
			return nil, err
		}
		items = append(items, queue.Item{Seq: p.Seq, Op: op})
	}

	for _, kind := range kinds {
		rows, err := tx.QueryUnsynced(ctx, kind)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			if e.queue.Pending(models.Key{Kind: kind, ID: r.ID}) > 0 {
				continue
			}
			// Covered by an entry of its own, such as a batch requeued above.
			journaled, err := tx.Journaled(ctx, kind, r.ID)
			if err != nil {
				return nil, err
			}
			if journaled {
				continue
			}
			items = append(items, queue.Item{Op: models.NewUpsert(uuid.NewString(), kind, r)})
		}
	}
	return items, nil
}

// rebuild refreshes the upserts of a parked operation from the stored rows.
// Upserts of rows deleted since are dropped: the delete carries on in its own
// entry. It reports false when nothing is left to push.
func rebuild(ctx context.Context, tx store.Tx, op models.Operation) (models.Operation, bool, error) {
	var keep []models.Operation
	for _, leaf := range op.Flatten() {
		if leaf.Type == models.OpUpsert {
			r, err := tx.Get(ctx, leaf.Kind, leaf.ID)
			if errors.Is(err, common.ErrorNotFound) {
				continue
			}
			if err != nil {
				return models.Operation{}, false, err
			}
			leaf = models.NewUpsert(op.OpID, leaf.Kind, r)
		}
		keep = append(keep, leaf)
	}
	if len(keep) == 0 {
		return models.Operation{}, false, nil
	}
	if op.Type != models.OpBatch {
		return keep[0], true, nil
	}
	return models.NewBatch(op.OpID, keep...), true, nil
}
