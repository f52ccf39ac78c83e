// Package repomanager binds the repositories to a backing store and runs
// units of work against it. PostgresStore runs them in SQL transactions,
// MemoryStore against a copy-on-write snapshot of in-process maps.
package repomanager

import (
	"context"

	"github.com/Masparrito/lactokeeper-sub001/internal/dbx"
	"github.com/Masparrito/lactokeeper-sub001/internal/server/repositories/documents"
	"github.com/Masparrito/lactokeeper-sub001/internal/server/repositories/refreshtokens"
	"github.com/Masparrito/lactokeeper-sub001/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a DBTX.
type RepositoryManager interface {
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Documents(db dbx.DBTX) documents.Repository
}

// Repositories is one consistent view of the store.
type Repositories interface {
	Users() users.Repository
	RefreshTokens() refreshtokens.Repository
	Documents() documents.Repository
}

// Store is what the services run against. Repositories outside InTx act
// immediately; inside InTx every change made through repos commits together
// when fn returns nil and is discarded otherwise. fn must not use the outer
// Store.
type Store interface {
	Repositories
	InTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
	Close() error
}
