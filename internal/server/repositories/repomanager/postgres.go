package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masparrito/lactokeeper-sub001/internal/dbx"
	"github.com/Masparrito/lactokeeper-sub001/internal/server/migrations"
	"github.com/Masparrito/lactokeeper-sub001/internal/server/repositories/documents"
	"github.com/Masparrito/lactokeeper-sub001/internal/server/repositories/refreshtokens"
	"github.com/Masparrito/lactokeeper-sub001/internal/server/repositories/users"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations.
type PostgresRepositoryManager struct{}

func (m *PostgresRepositoryManager) Users(db dbx.DBTX) users.Repository {
	return users.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) RefreshTokens(db dbx.DBTX) refreshtokens.Repository {
	return refreshtokens.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Documents(db dbx.DBTX) documents.Repository {
	return documents.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return err
	}
	return nil
}

// PostgresStore is a Store over one *sql.DB.
type PostgresStore struct {
	db      *sql.DB
	manager RepositoryManager
}

// NewPostgresStore wraps an open database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, manager: &PostgresRepositoryManager{}}
}

// OpenPostgres opens dsn with the pgx driver, checks the connection and
// migrates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return NewPostgresStore(db), nil
}

func (s *PostgresStore) Users() users.Repository { return s.manager.Users(s.db) }

func (s *PostgresStore) RefreshTokens() refreshtokens.Repository {
	return s.manager.RefreshTokens(s.db)
}

func (s *PostgresStore) Documents() documents.Repository { return s.manager.Documents(s.db) }

func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, txRepositories{tx: tx, manager: s.manager})
	})
}

func (s *PostgresStore) Close() error { return s.db.Close() }

type txRepositories struct {
	tx      dbx.DBTX
	manager RepositoryManager
}

func (r txRepositories) Users() users.Repository { return r.manager.Users(r.tx) }

func (r txRepositories) RefreshTokens() refreshtokens.Repository {
	return r.manager.RefreshTokens(r.tx)
}

func (r txRepositories) Documents() documents.Repository { return r.manager.Documents(r.tx) }
