package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/Masparrito/lactokeeper-sub001/internal/client/models"
	"github.com/Masparrito/lactokeeper-sub001/internal/common"
	"github.com/Masparrito/lactokeeper-sub001/internal/dbx"
)

type SQLiteRepository struct {
	db  dbx.DBTX
	now func() time.Time
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

func (r *SQLiteRepository) Append(ctx context.Context, op models.Operation) (int64, error) {
	if err := op.Validate(); err != nil {
		return 0, fmt.Errorf("invalid operation: %w", err)
	}
	body, err := op.MarshalJSON()
	if err != nil {
		return 0, err
	}
	now := r.now().UnixMilli()

	var seq int64
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO outbox (op_id, body, state, attempts, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)
		RETURNING seq
	`, op.OpID, string(body), StateQueued, now, now).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to append operation %s: %w", op.OpID, err)
	}
	if err := r.writeKeys(ctx, seq, op); err != nil {
		return 0, err
	}
	return seq, nil
}

func (r *SQLiteRepository) List(ctx context.Context, state string) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, body, state, attempts FROM outbox WHERE state = ? ORDER BY seq`, state)
	if err != nil {
		return nil, fmt.Errorf("failed to list outbox: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e    Entry
			body string
		)
		if err := rows.Scan(&e.Seq, &body, &e.State, &e.Attempts); err != nil {
			return nil, err
		}
		e.Op, err = models.UnmarshalOperation([]byte(body))
		if err != nil {
			return nil, fmt.Errorf("outbox entry %d: %w", e.Seq, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *SQLiteRepository) Complete(ctx context.Context, seq int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM outbox_keys WHERE seq = ?`, seq); err != nil {
		return fmt.Errorf("failed to complete %d: %w", seq, err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM outbox WHERE seq = ?`, seq); err != nil {
		return fmt.Errorf("failed to complete %d: %w", seq, err)
	}
	return nil
}

func (r *SQLiteRepository) Park(ctx context.Context, seq int64, op models.Operation) error {
	body, err := op.MarshalJSON()
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox SET body = ?, state = ?, attempts = attempts + 1, updated_at = ?
		WHERE seq = ?
	`, string(body), StateParked, r.now().UnixMilli(), seq)
	if err != nil {
		return fmt.Errorf("failed to park %d: %w", seq, err)
	}
	n, err := dbx.RowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM outbox_keys WHERE seq = ?`, seq); err != nil {
		return fmt.Errorf("failed to park %d: %w", seq, err)
	}
	return r.writeKeys(ctx, seq, op)
}

func (r *SQLiteRepository) Requeue(ctx context.Context, seq int64, op models.Operation) error {
	if err := op.Validate(); err != nil {
		return fmt.Errorf("invalid operation: %w", err)
	}
	body, err := op.MarshalJSON()
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE outbox SET body = ?, state = ?, updated_at = ? WHERE seq = ? AND state = ?`,
		string(body), StateQueued, r.now().UnixMilli(), seq, StateParked)
	if err != nil {
		return fmt.Errorf("failed to requeue %d: %w", seq, err)
	}
	n, err := dbx.RowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM outbox_keys WHERE seq = ?`, seq); err != nil {
		return fmt.Errorf("failed to requeue %d: %w", seq, err)
	}
	return r.writeKeys(ctx, seq, op)
}

func (r *SQLiteRepository) Journaled(ctx context.Context, key models.Key) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM outbox o
		JOIN outbox_keys k ON k.seq = o.seq
		WHERE o.state IN (?, ?) AND k.kind = ? AND k.id = ?
	`, StateQueued, StateParked, key.Kind, key.ID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up %s: %w", key, err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) CancelParked(ctx context.Context, key models.Key) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT o.seq, o.body FROM outbox o
		JOIN outbox_keys k ON k.seq = o.seq
		WHERE o.state = ? AND k.kind = ? AND k.id = ?
		ORDER BY o.seq
	`, StateParked, key.Kind, key.ID)
	if err != nil {
		return fmt.Errorf("failed to find parked %s: %w", key, err)
	}

	type parked struct {
		seq int64
		op  models.Operation
	}
	var found []parked
	for rows.Next() {
		var (
			p    parked
			body string
		)
		if err := rows.Scan(&p.seq, &body); err != nil {
			rows.Close()
			return err
		}
		if p.op, err = models.UnmarshalOperation([]byte(body)); err != nil {
			rows.Close()
			return err
		}
		found = append(found, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, p := range found {
		var keep []models.Operation
		for _, leaf := range p.op.Flatten() {
			if leaf.Kind != key.Kind || leaf.ID != key.ID {
				keep = append(keep, leaf)
			}
		}
		switch len(keep) {
		case 0:
			err = r.Complete(ctx, p.seq)
		case 1:
			err = r.rewrite(ctx, p.seq, keep[0])
		default:
			err = r.rewrite(ctx, p.seq, models.NewBatch(p.op.OpID, keep...))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLiteRepository) rewrite(ctx context.Context, seq int64, op models.Operation) error {
	body, err := op.MarshalJSON()
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, `UPDATE outbox SET body = ? WHERE seq = ?`, string(body), seq); err != nil {
		return fmt.Errorf("failed to rewrite %d: %w", seq, err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM outbox_keys WHERE seq = ?`, seq); err != nil {
		return err
	}
	return r.writeKeys(ctx, seq, op)
}

func (r *SQLiteRepository) writeKeys(ctx context.Context, seq int64, op models.Operation) error {
	for _, k := range op.Keys() {
		_, err := r.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO outbox_keys (seq, kind, id) VALUES (?, ?, ?)`, seq, k.Kind, k.ID)
		if err != nil {
			return fmt.Errorf("failed to index operation %d: %w", seq, err)
		}
	}
	return nil
}
