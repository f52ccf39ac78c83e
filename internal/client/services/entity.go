package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masparrito/lactokeeper-sub001/internal/client/models"
	"github.com/Masparrito/lactokeeper-sub001/internal/client/queue"
	"github.com/Masparrito/lactokeeper-sub001/internal/client/store"
	"github.com/Masparrito/lactokeeper-sub001/internal/common"
	"github.com/Masparrito/lactokeeper-sub001/internal/logging"
	"github.com/google/uuid"
)

const maxIDSuffix = 1000

type Store interface {
	Transaction(ctx context.Context, kinds []string, fn func(ctx context.Context, tx store.Tx) error) error
	Get(ctx context.Context, kind, id string) (*models.Record, error)
	QueryAll(ctx context.Context, kind string) ([]*models.Record, error)
}

// Enqueuer runs a local commit and queues what it journaled, in commit order.
// queue.Processor implements it.
type Enqueuer interface {
	Commit(fn func() ([]queue.Item, error)) error
}

// EchoRecorder learns the operation ids this session pushes.
type EchoRecorder interface {
	Add(opID string)
}

type EntityConfig struct {
	OwnerID string
	// AuditKind, when set, receives one audit record per mutation, pushed in
	// the same batch as the mutation itself.
	AuditKind string
	Echo      EchoRecorder
	Logger    logging.Logger
}

// Draft is a record to be created.
type Draft struct {
	Kind    string
	ID      string
	Payload models.Payload
}

type AddOption func(*Draft)

// WithID asks for a specific id. A taken id gets a -2, -3, ... suffix.
func WithID(id string) AddOption {
	return func(d *Draft) { d.ID = id }
}

// EntityService is the write path of the domain layer: every mutation
// commits locally first and is pushed in the background.
type EntityService struct {
	store  Store
	queue  Enqueuer
	cfg    EntityConfig
	logger logging.Logger
	now    func() time.Time
	newID  func() string
}

func NewEntityService(st Store, q Enqueuer, cfg EntityConfig) *EntityService {
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	return &EntityService{
		store:  st,
		queue:  q,
		cfg:    cfg,
		logger: cfg.Logger.With("module", "entities"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

func (s *EntityService) AddEntity(ctx context.Context, kind string, payload models.Payload, opts ...AddOption) (string, error) {
	d := Draft{Kind: kind, Payload: payload}
	for _, o := range opts {
		o(&d)
	}
	ids, err := s.AddWithSecondary(ctx, d)
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// AddWithSecondary creates primary and secondary in one local transaction and
// pushes them as one batch. The ids are returned in argument order.
func (s *EntityService) AddWithSecondary(ctx context.Context, primary Draft, secondary ...Draft) ([]string, error) {
	drafts := append([]Draft{primary}, secondary...)
	kinds := make([]string, 0, len(drafts))
	for _, d := range drafts {
		kinds = append(kinds, d.Kind)
	}

	var ids []string
	err := s.commit(ctx, kinds, func(ctx context.Context, tx store.Tx, opID string) ([]models.Operation, error) {
		ids = ids[:0]
		ops := make([]models.Operation, 0, len(drafts))
		for _, d := range drafts {
			rec, err := s.insert(ctx, tx, d)
			if err != nil {
				return nil, err
			}
			ids = append(ids, rec.ID)
			ops = append(ops, models.NewUpsert(opID, d.Kind, rec))
		}
		audit, err := s.audit(ctx, tx, opID, "add", primary.Kind, ids[0])
		if err != nil {
			return nil, err
		}
		return append(ops, audit...), nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// UpdateEntity merges partial into the record. Keys mapped to nil become
// explicit nulls.
func (s *EntityService) UpdateEntity(ctx context.Context, kind, id string, partial models.Payload) (*models.Record, error) {
	partial, err := partial.Normalize()
	if err != nil {
		return nil, err
	}
	var merged *models.Record
	err = s.commit(ctx, []string{kind}, func(ctx context.Context, tx store.Tx, opID string) ([]models.Operation, error) {
		var err error
		merged, err = tx.Update(ctx, kind, id, partial)
		if err != nil {
			return nil, err
		}
		if err := tx.CancelParked(ctx, kind, id); err != nil {
			return nil, err
		}
		audit, err := s.audit(ctx, tx, opID, "update", kind, id)
		if err != nil {
			return nil, err
		}
		return append([]models.Operation{models.NewUpsert(opID, kind, merged)}, audit...), nil
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

func (s *EntityService) DeleteEntity(ctx context.Context, kind, id string) error {
	return s.commit(ctx, []string{kind}, func(ctx context.Context, tx store.Tx, opID string) ([]models.Operation, error) {
		if err := tx.Delete(ctx, kind, id); err != nil {
			return nil, err
		}
		audit, err := s.audit(ctx, tx, opID, "delete", kind, id)
		if err != nil {
			return nil, err
		}
		return append([]models.Operation{models.NewDelete(opID, kind, id)}, audit...), nil
	})
}

func (s *EntityService) Get(ctx context.Context, kind, id string) (*models.Record, error) {
	return s.store.Get(ctx, kind, id)
}

func (s *EntityService) List(ctx context.Context, kind string) ([]*models.Record, error) {
	return s.store.QueryAll(ctx, kind)
}

type mutation func(ctx context.Context, tx store.Tx, opID string) ([]models.Operation, error)

// commit runs fn and journals its operations in one transaction, then hands
// them to the queue.
func (s *EntityService) commit(ctx context.Context, kinds []string, fn mutation) error {
	if s.cfg.AuditKind != "" {
		kinds = append(kinds, s.cfg.AuditKind)
	}
	opID := uuid.NewString()

	var item queue.Item
	err := s.queue.Commit(func() ([]queue.Item, error) {
		err := s.store.Transaction(ctx, kinds, func(ctx context.Context, tx store.Tx) error {
			ops, err := fn(ctx, tx, opID)
			if err != nil {
				return err
			}
			op := ops[0]
			if len(ops) > 1 {
				op = models.NewBatch(opID, ops...)
			}
			seq, err := tx.Enqueue(ctx, op)
			if err != nil {
				return err
			}
			item = queue.Item{Seq: seq, Op: op}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if s.cfg.Echo != nil {
			s.cfg.Echo.Add(opID)
		}
		return []queue.Item{item}, nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug(ctx, "mutation committed", "op_id", opID, "type", item.Op.Type)
	return nil
}

func (s *EntityService) insert(ctx context.Context, tx store.Tx, d Draft) (*models.Record, error) {
	payload, err := d.Payload.Normalize()
	if err != nil {
		return nil, err
	}
	id := d.ID
	if id == "" {
		id = s.newID()
	}
	id, err = freeID(ctx, tx, d.Kind, id)
	if err != nil {
		return nil, err
	}

	rec, err := tx.Put(ctx, d.Kind, &models.Record{
		ID:        id,
		OwnerID:   s.cfg.OwnerID,
		CreatedAt: s.now().UnixMilli(),
		Payload:   payload,
	})
	if err != nil {
		return nil, err
	}
	if err := tx.CancelParked(ctx, d.Kind, id); err != nil {
		return nil, err
	}
	return rec, nil
}

func freeID(ctx context.Context, tx store.Tx, kind, id string) (string, error) {
	candidate := id
	for n := 2; n <= maxIDSuffix; n++ {
		_, err := tx.Get(ctx, kind, candidate)
		if errors.Is(err, common.ErrorNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		candidate = fmt.Sprintf("%s-%d", id, n)
	}
	return "", fmt.Errorf("%w: no free id for %s/%s", common.ErrInvalidInput, kind, id)
}

func (s *EntityService) audit(ctx context.Context, tx store.Tx, opID, action, kind, id string) ([]models.Operation, error) {
	if s.cfg.AuditKind == "" || kind == s.cfg.AuditKind {
		return nil, nil
	}
	now := s.now().UnixMilli()
	rec, err := tx.Put(ctx, s.cfg.AuditKind, &models.Record{
		ID:        s.newID(),
		OwnerID:   s.cfg.OwnerID,
		CreatedAt: now,
		Payload: models.Payload{
			"action":   action,
			"kind":     kind,
			"entityId": id,
			"at":       float64(now),
		},
	})
	if err != nil {
		return nil, err
	}
	return []models.Operation{models.NewUpsert(opID, s.cfg.AuditKind, rec)}, nil
}
