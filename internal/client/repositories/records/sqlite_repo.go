package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Masparrito/lactokeeper-sub001/internal/client/models"
	"github.com/Masparrito/lactokeeper-sub001/internal/common"
	"github.com/Masparrito/lactokeeper-sub001/internal/dbx"
)

// ErrInvalidKind is returned for kind names that cannot name a table.
var ErrInvalidKind = common.ErrInvalidKind

// ValidateKind checks that kind can be used as a table suffix.
func ValidateKind(kind string) error {
	return common.ValidateKind(kind)
}

func table(kind string) string { return "kind_" + kind }

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) EnsureKind(ctx context.Context, kind string) error {
	if err := ValidateKind(kind); err != nil {
		return err
	}
	t := table(kind)
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + t + ` (
			id         TEXT    PRIMARY KEY,
			owner_id   TEXT    NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL DEFAULT 0,
			payload    TEXT    NOT NULL DEFAULT '{}',
			synced     INTEGER NOT NULL DEFAULT 0,
			rev        INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS ` + t + `_synced ON ` + t + ` (synced)`,
		`INSERT OR IGNORE INTO kinds (name) VALUES ('` + kind + `')`,
	}
	for _, q := range stmts {
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to create table for %s: %w", kind, err)
		}
	}
	return nil
}

func (r *SQLiteRepository) Kinds(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name FROM kinds ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list kinds: %w", err)
	}
	defer rows.Close()

	var kinds []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, rows.Err()
}

func (r *SQLiteRepository) Get(ctx context.Context, kind, id string) (*models.Record, error) {
	if err := ValidateKind(kind); err != nil {
		return nil, err
	}
	row := r.db.QueryRowContext(ctx,
		`SELECT id, owner_id, created_at, payload, synced, rev FROM `+table(kind)+` WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", kind, id, err)
	}
	return rec, nil
}

func (r *SQLiteRepository) Put(ctx context.Context, kind string, rec *models.Record) (*models.Record, error) {
	if err := ValidateKind(kind); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(nonNil(rec.Payload))
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	t := table(kind)
	query := `
		INSERT INTO ` + t + ` (id, owner_id, created_at, payload, synced, rev)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT(id) DO UPDATE SET
			owner_id   = excluded.owner_id,
			created_at = CASE WHEN ` + t + `.created_at = 0 THEN excluded.created_at ELSE ` + t + `.created_at END,
			payload    = excluded.payload,
			synced     = excluded.synced,
			rev        = ` + t + `.rev + 1
		RETURNING created_at, rev
	`
	stored := rec.Clone()
	if stored.Payload == nil {
		stored.Payload = models.Payload{}
	}
	err = r.db.QueryRowContext(ctx, query, rec.ID, rec.OwnerID, rec.CreatedAt, string(payload), boolToInt(rec.Synced)).
		Scan(&stored.CreatedAt, &stored.Rev)
	if err != nil {
		return nil, fmt.Errorf("failed to put %s/%s: %w", kind, rec.ID, err)
	}
	return stored, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, kind, id string) error {
	if err := ValidateKind(kind); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM `+table(kind)+` WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", kind, id, err)
	}
	n, err := dbx.RowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *SQLiteRepository) QueryAll(ctx context.Context, kind string) ([]*models.Record, error) {
	return r.query(ctx, kind, "")
}

func (r *SQLiteRepository) QueryUnsynced(ctx context.Context, kind string) ([]*models.Record, error) {
	return r.query(ctx, kind, "WHERE synced = 0")
}

func (r *SQLiteRepository) MarkSynced(ctx context.Context, kind, id string, rev int64) (bool, error) {
	if err := ValidateKind(kind); err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE `+table(kind)+` SET synced = 1 WHERE id = ? AND rev = ?`, id, rev)
	if err != nil {
		return false, fmt.Errorf("failed to mark %s/%s synced: %w", kind, id, err)
	}
	n, err := dbx.RowsAffected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *SQLiteRepository) query(ctx context.Context, kind, where string) ([]*models.Record, error) {
	if err := ValidateKind(kind); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, owner_id, created_at, payload, synced, rev FROM `+table(kind)+` `+where+` ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", kind, err)
	}
	defer rows.Close()

	result := []*models.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*models.Record, error) {
	var (
		rec     models.Record
		payload string
		synced  int
	)
	if err := s.Scan(&rec.ID, &rec.OwnerID, &rec.CreatedAt, &payload, &synced, &rec.Rev); err != nil {
		return nil, err
	}
	rec.Synced = synced == 1
	rec.Payload = models.Payload{}
	if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload of %s: %w", rec.ID, err)
	}
	return &rec, nil
}

func nonNil(p models.Payload) models.Payload {
	if p == nil {
		return models.Payload{}
	}
	return p
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
