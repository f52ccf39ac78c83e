package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masparrito/lactokeeper-sub001/internal/common"
	"github.com/Masparrito/lactokeeper-sub001/internal/logging"
	"github.com/Masparrito/lactokeeper-sub001/internal/server/broker"
	"github.com/Masparrito/lactokeeper-sub001/internal/server/models"
	"github.com/Masparrito/lactokeeper-sub001/internal/server/repositories/repomanager"
)

// MaxBatchSize bounds the mutations of one BatchCommit.
const MaxBatchSize = 500

// Mutation is one write of a batch. A nil Record deletes the document.
type Mutation struct {
	Kind   string
	ID     string
	Record map[string]any
}

type DocumentService struct {
	store  repomanager.Store
	broker *broker.Broker
	logger logging.Logger
}

func NewDocumentService(store repomanager.Store, b *broker.Broker, logger logging.Logger) *DocumentService {
	return &DocumentService{store: store, broker: b, logger: logger.With("module", "documents")}
}

func (s *DocumentService) Upsert(ctx context.Context, owner, opID, kind, id string, record map[string]any) error {
	if record == nil {
		return fmt.Errorf("%w: upsert without record", common.ErrInvalidInput)
	}
	return s.Batch(ctx, owner, opID, []Mutation{{Kind: kind, ID: id, Record: record}})
}

func (s *DocumentService) Delete(ctx context.Context, owner, opID, kind, id string) error {
	return s.Batch(ctx, owner, opID, []Mutation{{Kind: kind, ID: id}})
}

// Batch applies muts atomically for owner. Either every mutation commits and
// the resulting deltas are published, or nothing changes.
func (s *DocumentService) Batch(ctx context.Context, owner, opID string, muts []Mutation) error {
	if owner == "" {
		return common.ErrorUnauthorized
	}
	if len(muts) == 0 || len(muts) > MaxBatchSize {
		return fmt.Errorf("%w: batch of %d mutations", common.ErrInvalidInput, len(muts))
	}

	docs := make([]*models.Document, len(muts))
	for i, m := range muts {
		doc, err := toDocument(owner, opID, m)
		if err != nil {
			return err
		}
		docs[i] = doc
	}

	err := s.broker.Commit(owner, func() ([]broker.Delta, error) {
		var changes []kindChange
		err := s.store.InTx(ctx, func(ctx context.Context, repos repomanager.Repositories) error {
			changes = changes[:0]
			for i, m := range muts {
				doc := docs[i]
				if m.Record == nil {
					existed, err := repos.Documents().Delete(ctx, owner, m.Kind, m.ID)
					if err != nil {
						return err
					}
					if existed {
						changes = append(changes, kindChange{m.Kind, broker.Change{Type: broker.Removed, Record: doc.Tombstone()}})
					}
					continue
				}
				inserted, err := repos.Documents().Upsert(ctx, doc)
				if err != nil {
					return err
				}
				t := broker.Modified
				if inserted {
					t = broker.Added
				}
				changes = append(changes, kindChange{m.Kind, broker.Change{Type: t, Record: doc.Wire()}})
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return groupByKind(opID, changes), nil
	})
	if err != nil {
		if errors.Is(err, common.ErrOwnershipConflict) {
			s.logger.Warn(ctx, "write rejected", "owner", owner, "op_id", opID, "error", err)
			return err
		}
		return fmt.Errorf("commit %s: %w", opID, err)
	}

	s.logger.Debug(ctx, "committed", "owner", owner, "op_id", opID, "mutations", len(muts))
	return nil
}

// Subscribe opens a change stream for owner and kind. The first delta is a
// snapshot of every current document.
func (s *DocumentService) Subscribe(ctx context.Context, owner, kind string) (*broker.Subscription, error) {
	if err := validateKind(kind); err != nil {
		return nil, err
	}
	return s.broker.Subscribe(owner, kind, func() (broker.Delta, error) {
		docs, err := s.store.Documents().List(ctx, owner, kind)
		if err != nil {
			return broker.Delta{}, err
		}
		d := broker.Delta{Changes: make([]broker.Change, 0, len(docs))}
		for _, doc := range docs {
			d.Changes = append(d.Changes, broker.Change{Type: broker.Added, Record: doc.Wire()})
		}
		return d, nil
	})
}

// Owners returns every owner holding documents.
func (s *DocumentService) Owners(ctx context.Context) ([]string, error) {
	return s.store.Documents().Owners(ctx)
}

// Documents returns every document of owner.
func (s *DocumentService) Documents(ctx context.Context, owner string) ([]*models.Document, error) {
	return s.store.Documents().ListAll(ctx, owner)
}

type kindChange struct {
	kind   string
	change broker.Change
}

// groupByKind builds one delta per kind, kinds in first-seen order.
func groupByKind(opID string, changes []kindChange) []broker.Delta {
	var deltas []broker.Delta
	index := map[string]int{}
	for _, c := range changes {
		i, ok := index[c.kind]
		if !ok {
			i = len(deltas)
			index[c.kind] = i
			deltas = append(deltas, broker.Delta{Kind: c.kind, OpID: opID})
		}
		deltas[i].Changes = append(deltas[i].Changes, c.change)
	}
	return deltas
}

func validateKind(kind string) error {
	if err := common.ValidateKind(kind); err != nil {
		return fmt.Errorf("%w: %w", common.ErrInvalidInput, err)
	}
	return nil
}

// toDocument validates m and splits its record into reserved fields and payload.
func toDocument(owner, opID string, m Mutation) (*models.Document, error) {
	if err := validateKind(m.Kind); err != nil {
		return nil, err
	}
	if m.ID == "" {
		return nil, fmt.Errorf("%w: empty id", common.ErrInvalidInput)
	}
	doc := &models.Document{Kind: m.Kind, ID: m.ID, OwnerID: owner, OpID: opID, Payload: map[string]any{}}
	if m.Record == nil {
		return doc, nil
	}

	if id, ok := m.Record[common.FieldID]; ok && id != m.ID {
		return nil, fmt.Errorf("%w: record id %v does not match %s", common.ErrInvalidInput, id, m.ID)
	}
	if o, ok := m.Record[common.FieldOwnerID]; ok && o != "" && o != owner {
		return nil, fmt.Errorf("%w: %s/%s", common.ErrOwnershipConflict, m.Kind, m.ID)
	}
	switch ts := m.Record[common.FieldCreatedAt].(type) {
	case float64:
		doc.CreatedAt = int64(ts)
	case int64:
		doc.CreatedAt = ts
	case nil:
	default:
		return nil, fmt.Errorf("%w: createdAt must be epoch milliseconds", common.ErrInvalidInput)
	}

	for k, v := range m.Record {
		switch k {
		case common.FieldID, common.FieldOwnerID, common.FieldCreatedAt:
			continue
		}
		doc.Payload[k] = v
	}
	return doc, nil
}
