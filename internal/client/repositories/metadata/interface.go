// Package metadata stores small per-owner facts of the local store, such as
// the signed-in user and the time each kind last received a snapshot.
package metadata

import (
	"context"
	"time"
)

const (
	KeyOwnerID  = "owner_id"
	KeyUsername = "username"

	snapshotPrefix = "snapshot_at:"
)

type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) (map[string][]byte, error)

	// SnapshotAt returns when kind last applied a remote snapshot, zero if never.
	SnapshotAt(ctx context.Context, kind string) (time.Time, error)
	SetSnapshotAt(ctx context.Context, kind string, at time.Time) error
}
