package records

import (
	"context"

	"github.com/Masparrito/lactokeeper-sub001/internal/client/models"
)

// Repository persists records of every entity kind, one table per kind.
type Repository interface {
	// EnsureKind creates the table of kind when it does not exist yet.
	EnsureKind(ctx context.Context, kind string) error

	// Kinds lists every kind that has a table.
	Kinds(ctx context.Context) ([]string, error)

	// Get returns common.ErrorNotFound when the record is absent.
	Get(ctx context.Context, kind, id string) (*models.Record, error)

	// Put writes the full record. Rev is bumped and an existing CreatedAt is
	// kept. The stored row is returned.
	Put(ctx context.Context, kind string, r *models.Record) (*models.Record, error)

	// Delete removes the row. common.ErrorNotFound when it was absent.
	Delete(ctx context.Context, kind, id string) error

	// QueryAll returns every record of kind ordered by creation time.
	QueryAll(ctx context.Context, kind string) ([]*models.Record, error)

	// QueryUnsynced returns the dirty records of kind.
	QueryUnsynced(ctx context.Context, kind string) ([]*models.Record, error)

	// MarkSynced flips the synced flag when the row still has revision rev.
	MarkSynced(ctx context.Context, kind, id string, rev int64) (bool, error)
}
