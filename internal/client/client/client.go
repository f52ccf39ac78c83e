package client

import (
	"context"

	"github.com/Masparrito/lactokeeper-sub001/internal/client/models"
)

// Client is the account and transport surface of the sync server.
type Client interface {
	Close() error
	Register(ctx context.Context, username string, password []byte) error
	// Login authenticates and returns the owner id of the account.
	Login(ctx context.Context, username string, password []byte) (string, error)
	Ping(ctx context.Context) error
}

// Mutation is one member of a batch commit. A nil Record deletes the document.
type Mutation struct {
	Kind   string
	ID     string
	Record map[string]any
}

// Unsubscribe stops a subscription and waits for its delivery goroutine.
type Unsubscribe func()

// RemoteStore is the per-kind document store of the sync server. Records are
// wire maps (see models.Record.Wire). Every write carries the client
// operation id, which the server echoes on the resulting deltas.
type RemoteStore interface {
	Upsert(ctx context.Context, opID, kind, id string, record map[string]any) error
	Delete(ctx context.Context, opID, kind, id string) error
	// BatchCommit applies all mutations atomically.
	BatchCommit(ctx context.Context, opID string, mutations []Mutation) error
	// Subscribe streams the owner's documents of kind: a snapshot batch first,
	// increments after it. The subscription reconnects on its own until
	// unsubscribed; every reconnect starts with a fresh snapshot.
	Subscribe(ctx context.Context, kind, ownerID string, onDelta func(models.DeltaBatch)) (Unsubscribe, error)
}
