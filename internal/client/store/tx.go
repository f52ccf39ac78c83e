package store

import (
	"context"
	"fmt"

	"github.com/Masparrito/lactokeeper-sub001/internal/client/models"
	"github.com/Masparrito/lactokeeper-sub001/internal/client/repositories/outbox"
	"github.com/Masparrito/lactokeeper-sub001/internal/client/repositories/records"
)

// Tx is the view of the store inside a Transaction.
type Tx interface {
	Get(ctx context.Context, kind, id string) (*models.Record, error)
	Put(ctx context.Context, kind string, r *models.Record) (*models.Record, error)
	// Update merges partial into the stored payload and marks the row unsynced.
	Update(ctx context.Context, kind, id string, partial models.Payload) (*models.Record, error)
	Delete(ctx context.Context, kind, id string) error
	QueryAll(ctx context.Context, kind string) ([]*models.Record, error)
	QueryUnsynced(ctx context.Context, kind string) ([]*models.Record, error)

	// Enqueue appends op to the outbox and returns its sequence number. The
	// entry becomes visible only if the transaction commits.
	Enqueue(ctx context.Context, op models.Operation) (int64, error)
	// Journaled reports whether a queued or parked outbox entry touches
	// kind/id, committed or not yet handed to the queue.
	Journaled(ctx context.Context, kind, id string) (bool, error)
	// CancelParked forgets parked writes of kind/id.
	CancelParked(ctx context.Context, kind, id string) error
	Parked(ctx context.Context) ([]outbox.Entry, error)
	// Requeue moves the parked entry seq back to queued with op as its body.
	Requeue(ctx context.Context, seq int64, op models.Operation) error
	Complete(ctx context.Context, seq int64) error
}

type scopedTx struct {
	scope   map[string]bool
	records *records.SQLiteRepository
	outbox  *outbox.SQLiteRepository
}

func (t *scopedTx) check(kind string) error {
	if !t.scope[kind] {
		return fmt.Errorf("%w: %s", ErrKindNotInScope, kind)
	}
	return nil
}

func (t *scopedTx) Get(ctx context.Context, kind, id string) (*models.Record, error) {
	if err := t.check(kind); err != nil {
		return nil, err
	}
	return t.records.Get(ctx, kind, id)
}

func (t *scopedTx) Put(ctx context.Context, kind string, r *models.Record) (*models.Record, error) {
	if err := t.check(kind); err != nil {
		return nil, err
	}
	return t.records.Put(ctx, kind, r)
}

func (t *scopedTx) Update(ctx context.Context, kind, id string, partial models.Payload) (*models.Record, error) {
	cur, err := t.Get(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	cur.Payload = cur.Payload.Merge(partial)
	cur.Synced = false
	return t.records.Put(ctx, kind, cur)
}

func (t *scopedTx) Delete(ctx context.Context, kind, id string) error {
	if err := t.check(kind); err != nil {
		return err
	}
	return t.records.Delete(ctx, kind, id)
}

func (t *scopedTx) QueryAll(ctx context.Context, kind string) ([]*models.Record, error) {
	if err := t.check(kind); err != nil {
		return nil, err
	}
	return t.records.QueryAll(ctx, kind)
}

func (t *scopedTx) QueryUnsynced(ctx context.Context, kind string) ([]*models.Record, error) {
	if err := t.check(kind); err != nil {
		return nil, err
	}
	return t.records.QueryUnsynced(ctx, kind)
}

func (t *scopedTx) Enqueue(ctx context.Context, op models.Operation) (int64, error) {
	for _, k := range op.Kinds() {
		if err := t.check(k); err != nil {
			return 0, err
		}
	}
	return t.outbox.Append(ctx, op)
}

func (t *scopedTx) CancelParked(ctx context.Context, kind, id string) error {
	return t.outbox.CancelParked(ctx, models.Key{Kind: kind, ID: id})
}

func (t *scopedTx) Journaled(ctx context.Context, kind, id string) (bool, error) {
	return t.outbox.Journaled(ctx, models.Key{Kind: kind, ID: id})
}

func (t *scopedTx) Parked(ctx context.Context) ([]outbox.Entry, error) {
	return t.outbox.List(ctx, outbox.StateParked)
}

func (t *scopedTx) Requeue(ctx context.Context, seq int64, op models.Operation) error {
	for _, k := range op.Kinds() {
		if err := t.check(k); err != nil {
			return err
		}
	}
	return t.outbox.Requeue(ctx, seq, op)
}

func (t *scopedTx) Complete(ctx context.Context, seq int64) error {
	return t.outbox.Complete(ctx, seq)
}
