// Package documents declares the document repository and its PostgreSQL
// implementation. Documents are keyed by (kind, id) across all owners; every
// write is scoped to the owner that created the document.
package documents

import (
	"context"

	"github.com/Masparrito/lactokeeper-sub001/internal/server/models"
)

type Repository interface {
	// Upsert inserts or replaces doc and reports whether it was inserted.
	// A document held by another owner yields common.ErrOwnershipConflict.
	Upsert(ctx context.Context, doc *models.Document) (inserted bool, err error)

	// Delete removes the owner's document and reports whether it existed.
	// Missing documents are not an error.
	Delete(ctx context.Context, ownerID, kind, id string) (bool, error)

	// List returns the owner's documents of one kind ordered by created_at, id.
	List(ctx context.Context, ownerID, kind string) ([]*models.Document, error)

	// ListAll returns every document of the owner ordered by kind, created_at, id.
	ListAll(ctx context.Context, ownerID string) ([]*models.Document, error)

	// Owners returns the ids of owners holding at least one document.
	Owners(ctx context.Context) ([]string, error)
}
