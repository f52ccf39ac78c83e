// Package outbox persists the sync queue so pending pushes survive restarts.
//
// Rows move through two states: queued (waiting for the processor, replayed
// in seq order on startup) and parked (a failed delete or batch that nothing
// else would rediscover; the reconcile sweep requeues it). Completed rows are
// removed.
package outbox

import (
	"context"

	"github.com/Masparrito/lactokeeper-sub001/internal/client/models"
)

const (
	StateQueued = "queued"
	StateParked = "parked"
)

// Entry is one persisted operation.
type Entry struct {
	Seq      int64
	Op       models.Operation
	State    string
	Attempts int
}

type Repository interface {
	// Append stores op as queued and returns its sequence number.
	Append(ctx context.Context, op models.Operation) (int64, error)
	// List returns the entries in state, ordered by seq.
	List(ctx context.Context, state string) ([]Entry, error)
	// Complete removes the entry.
	Complete(ctx context.Context, seq int64) error
	// Park replaces the entry body with op and moves it to parked.
	Park(ctx context.Context, seq int64, op models.Operation) error
	// Requeue replaces the body of a parked entry with op and moves it back
	// to queued.
	Requeue(ctx context.Context, seq int64, op models.Operation) error
	// Journaled reports whether a queued or parked entry touches key.
	Journaled(ctx context.Context, key models.Key) (bool, error)
	// CancelParked drops key from every parked entry, removing entries left empty.
	CancelParked(ctx context.Context, key models.Key) error
}
