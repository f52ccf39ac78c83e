// Package store is the local durable store of the sync core: one SQLite file
// per owner with a table per entity kind, the persisted outbox and the
// metadata table.
//
// The database runs on a single connection so every transaction is exclusive.
// Inside a Transaction callback only the supplied Tx may be used; calling the
// Store itself from there blocks until the transaction ends.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/Masparrito/lactokeeper-sub001/internal/client/migrations"
	"github.com/Masparrito/lactokeeper-sub001/internal/client/models"
	"github.com/Masparrito/lactokeeper-sub001/internal/client/repositories/metadata"
	"github.com/Masparrito/lactokeeper-sub001/internal/client/repositories/outbox"
	"github.com/Masparrito/lactokeeper-sub001/internal/client/repositories/records"
	"github.com/Masparrito/lactokeeper-sub001/internal/dbx"
	"github.com/Masparrito/lactokeeper-sub001/internal/logging"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

// ErrKindNotInScope is returned when a transaction touches a kind it did not declare.
var ErrKindNotInScope = errors.New("kind not in transaction scope")

type Store struct {
	db      *sql.DB
	records *records.SQLiteRepository
	outbox  *outbox.SQLiteRepository
	meta    *metadata.SQLiteRepository
	logger  logging.Logger

	mu    sync.Mutex
	known map[string]bool
}

// Open opens (creating when needed) the database at path, applies the
// migrations and registers kinds.
func Open(ctx context.Context, path string, logger logging.Logger, kinds ...string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:      db,
		records: records.NewSQLiteRepository(db),
		outbox:  outbox.NewSQLiteRepository(db),
		meta:    metadata.NewSQLiteRepository(db),
		logger:  logger.With("module", "store"),
		known:   map[string]bool{},
	}
	existing, err := s.records.Kinds(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, k := range existing {
		s.known[k] = true
	}
	if err := s.ensureKinds(ctx, kinds); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.logger.Debug(ctx, "local store opened", "path", path, "kinds", len(s.known))
	return s, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	p, err := goose.NewProvider(goose.DialectSQLite3, db, migrations.Migrations)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ensureKinds creates missing kind tables outside of any transaction.
func (s *Store) ensureKinds(ctx context.Context, kinds []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range kinds {
		if s.known[k] {
			continue
		}
		if err := s.records.EnsureKind(ctx, k); err != nil {
			return err
		}
		s.known[k] = true
	}
	return nil
}

// Kinds lists every kind the store has a table for.
func (s *Store) Kinds(ctx context.Context) ([]string, error) {
	return s.records.Kinds(ctx)
}

// Transaction runs fn atomically over the declared kinds together with the
// outbox. Any error from fn rolls everything back.
func (s *Store) Transaction(ctx context.Context, kinds []string, fn func(ctx context.Context, tx Tx) error) error {
	if err := s.ensureKinds(ctx, kinds); err != nil {
		return err
	}
	scope := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		scope[k] = true
	}
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, q dbx.DBTX) error {
		return fn(ctx, &scopedTx{
			scope:   scope,
			records: records.NewSQLiteRepository(q),
			outbox:  outbox.NewSQLiteRepository(q),
		})
	})
}

func (s *Store) Get(ctx context.Context, kind, id string) (*models.Record, error) {
	if err := s.ensureKinds(ctx, []string{kind}); err != nil {
		return nil, err
	}
	return s.records.Get(ctx, kind, id)
}

func (s *Store) QueryAll(ctx context.Context, kind string) ([]*models.Record, error) {
	if err := s.ensureKinds(ctx, []string{kind}); err != nil {
		return nil, err
	}
	return s.records.QueryAll(ctx, kind)
}

func (s *Store) QueryUnsynced(ctx context.Context, kind string) ([]*models.Record, error) {
	if err := s.ensureKinds(ctx, []string{kind}); err != nil {
		return nil, err
	}
	return s.records.QueryUnsynced(ctx, kind)
}

func (s *Store) Put(ctx context.Context, kind string, r *models.Record) (*models.Record, error) {
	var stored *models.Record
	err := s.Transaction(ctx, []string{kind}, func(ctx context.Context, tx Tx) error {
		var err error
		stored, err = tx.Put(ctx, kind, r)
		return err
	})
	return stored, err
}

func (s *Store) Update(ctx context.Context, kind, id string, partial models.Payload) (*models.Record, error) {
	var merged *models.Record
	err := s.Transaction(ctx, []string{kind}, func(ctx context.Context, tx Tx) error {
		var err error
		merged, err = tx.Update(ctx, kind, id, partial)
		return err
	})
	return merged, err
}

func (s *Store) Delete(ctx context.Context, kind, id string) error {
	return s.Transaction(ctx, []string{kind}, func(ctx context.Context, tx Tx) error {
		return tx.Delete(ctx, kind, id)
	})
}

// MarkSynced flips the synced flag of kind/id if its revision is still rev.
func (s *Store) MarkSynced(ctx context.Context, kind, id string, rev int64) (bool, error) {
	if err := s.ensureKinds(ctx, []string{kind}); err != nil {
		return false, err
	}
	return s.records.MarkSynced(ctx, kind, id, rev)
}

// Pending returns the queued outbox entries in the order they were enqueued.
func (s *Store) Pending(ctx context.Context) ([]outbox.Entry, error) {
	return s.outbox.List(ctx, outbox.StateQueued)
}

// Parked returns the failed entries waiting for the reconcile sweep.
func (s *Store) Parked(ctx context.Context) ([]outbox.Entry, error) {
	return s.outbox.List(ctx, outbox.StateParked)
}

func (s *Store) Complete(ctx context.Context, seq int64) error {
	return s.outbox.Complete(ctx, seq)
}

func (s *Store) Park(ctx context.Context, seq int64, op models.Operation) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, q dbx.DBTX) error {
		return outbox.NewSQLiteRepository(q).Park(ctx, seq, op)
	})
}

// Metadata exposes the key/value table of the store.
func (s *Store) Metadata() metadata.Repository {
	return s.meta
}
