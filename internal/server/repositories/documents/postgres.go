package documents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Masparrito/lactokeeper-sub001/internal/common"
	"github.com/Masparrito/lactokeeper-sub001/internal/dbx"
	"github.com/Masparrito/lactokeeper-sub001/internal/server/models"
)

// PostgresRepository implements document storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Upsert writes doc. The conflict branch only fires for the same owner, so a
// row held by another tenant produces no result row.
func (r *PostgresRepository) Upsert(ctx context.Context, doc *models.Document) (bool, error) {
	payload, err := json.Marshal(payloadOrEmpty(doc.Payload))
	if err != nil {
		return false, fmt.Errorf("encode payload: %w", err)
	}

	query := `
		INSERT INTO documents (kind, id, owner_id, created_at, payload, op_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (kind, id) DO UPDATE SET
			created_at = COALESCE(documents.created_at, EXCLUDED.created_at),
			payload    = EXCLUDED.payload,
			op_id      = EXCLUDED.op_id,
			updated_at = NOW()
		WHERE documents.owner_id = EXCLUDED.owner_id
		RETURNING (xmax = 0) AS inserted, COALESCE(created_at, 0), updated_at
	`

	var (
		inserted  bool
		createdAt int64
	)
	err = r.db.QueryRowContext(ctx, query,
		doc.Kind, doc.ID, doc.OwnerID, nullableMillis(doc.CreatedAt), string(payload), doc.OpID,
	).Scan(&inserted, &createdAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: %s/%s", common.ErrOwnershipConflict, doc.Kind, doc.ID)
	}
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	doc.CreatedAt = createdAt
	return inserted, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, ownerID, kind, id string) (bool, error) {
	query := `
		DELETE FROM documents
		WHERE kind = $1 AND id = $2 AND owner_id = $3
	`
	res, err := r.db.ExecContext(ctx, query, kind, id, ownerID)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := dbx.RowsAffected(res)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const selectColumns = `SELECT kind, id, owner_id, COALESCE(created_at, 0), payload, op_id, updated_at FROM documents`

func (r *PostgresRepository) List(ctx context.Context, ownerID, kind string) ([]*models.Document, error) {
	return r.query(ctx, selectColumns+`
		WHERE owner_id = $1 AND kind = $2
		ORDER BY created_at NULLS FIRST, id`, ownerID, kind)
}

func (r *PostgresRepository) ListAll(ctx context.Context, ownerID string) ([]*models.Document, error) {
	return r.query(ctx, selectColumns+`
		WHERE owner_id = $1
		ORDER BY kind, created_at NULLS FIRST, id`, ownerID)
}

func (r *PostgresRepository) Owners(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT owner_id FROM documents ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		owners = append(owners, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return owners, nil
}

func (r *PostgresRepository) query(ctx context.Context, query string, args ...any) ([]*models.Document, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	result := []*models.Document{}
	for rows.Next() {
		var (
			doc     models.Document
			payload []byte
		)
		if err := rows.Scan(&doc.Kind, &doc.ID, &doc.OwnerID, &doc.CreatedAt, &payload, &doc.OpID, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		if err := json.Unmarshal(payload, &doc.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of %s/%s: %w", doc.Kind, doc.ID, err)
		}
		result = append(result, &doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func nullableMillis(ms int64) any {
	if ms == 0 {
		return nil
	}
	return ms
}

func payloadOrEmpty(p map[string]any) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	return p
}
