package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// OpType tags the Operation variant.
type OpType string

const (
	OpUpsert OpType = "upsert"
	OpDelete OpType = "delete"
	OpBatch  OpType = "batch"
)

// Operation is one pending outbound push: Upsert{Kind, ID, Record},
// Delete{Kind, ID} or Batch{Ops}. OpID is generated by the client and echoed
// back by the server on the resulting deltas.
type Operation struct {
	Type   OpType
	OpID   string
	Kind   string
	ID     string
	Record *Record
	Ops    []Operation
}

// Key identifies a record across kinds.
type Key struct {
	Kind string
	ID   string
}

func (k Key) String() string { return k.Kind + "/" + k.ID }

func NewUpsert(opID, kind string, r *Record) Operation {
	return Operation{Type: OpUpsert, OpID: opID, Kind: kind, ID: r.ID, Record: r.Clone()}
}

func NewDelete(opID, kind, id string) Operation {
	return Operation{Type: OpDelete, OpID: opID, Kind: kind, ID: id}
}

// NewBatch groups ops into one atomic push. The members share the batch OpID.
func NewBatch(opID string, ops ...Operation) Operation {
	members := make([]Operation, 0, len(ops))
	for _, op := range ops {
		for _, leaf := range op.Flatten() {
			leaf.OpID = opID
			members = append(members, leaf)
		}
	}
	return Operation{Type: OpBatch, OpID: opID, Ops: members}
}

// Flatten returns the leaf upserts and deletes of op in order.
func (op Operation) Flatten() []Operation {
	if op.Type != OpBatch {
		return []Operation{op}
	}
	var out []Operation
	for _, m := range op.Ops {
		out = append(out, m.Flatten()...)
	}
	return out
}

// Keys returns the records touched by op.
func (op Operation) Keys() []Key {
	leaves := op.Flatten()
	keys := make([]Key, 0, len(leaves))
	for _, l := range leaves {
		keys = append(keys, Key{Kind: l.Kind, ID: l.ID})
	}
	return keys
}

// Kinds returns the distinct kinds touched by op, in first-seen order.
func (op Operation) Kinds() []string {
	seen := map[string]bool{}
	var kinds []string
	for _, k := range op.Keys() {
		if !seen[k.Kind] {
			seen[k.Kind] = true
			kinds = append(kinds, k.Kind)
		}
	}
	return kinds
}

// Validate checks the variant invariants.
func (op Operation) Validate() error {
	switch op.Type {
	case OpUpsert:
		if op.Record == nil || op.Kind == "" || op.ID == "" || op.Record.ID != op.ID {
			return errors.New("upsert needs kind, id and a matching record")
		}
	case OpDelete:
		if op.Kind == "" || op.ID == "" {
			return errors.New("delete needs kind and id")
		}
	case OpBatch:
		if len(op.Ops) == 0 {
			return errors.New("empty batch")
		}
		for _, m := range op.Ops {
			if m.Type == OpBatch {
				return errors.New("nested batch")
			}
			if err := m.Validate(); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown operation type %q", op.Type)
	}
	return nil
}

type recordJSON struct {
	ID        string  `json:"id"`
	OwnerID   string  `json:"owner_id"`
	CreatedAt int64   `json:"created_at"`
	Rev       int64   `json:"rev"`
	Payload   Payload `json:"payload"`
}

type operationJSON struct {
	Type   OpType          `json:"type"`
	OpID   string          `json:"op_id"`
	Kind   string          `json:"kind,omitempty"`
	ID     string          `json:"id,omitempty"`
	Record *recordJSON     `json:"record,omitempty"`
	Ops    []operationJSON `json:"ops,omitempty"`
}

func (op Operation) toJSON() operationJSON {
	j := operationJSON{Type: op.Type, OpID: op.OpID, Kind: op.Kind, ID: op.ID}
	if op.Record != nil {
		j.Record = &recordJSON{
			ID: op.Record.ID, OwnerID: op.Record.OwnerID, CreatedAt: op.Record.CreatedAt,
			Rev: op.Record.Rev, Payload: op.Record.Payload,
		}
	}
	for _, m := range op.Ops {
		j.Ops = append(j.Ops, m.toJSON())
	}
	return j
}

func (j operationJSON) toOperation() Operation {
	op := Operation{Type: j.Type, OpID: j.OpID, Kind: j.Kind, ID: j.ID}
	if j.Record != nil {
		op.Record = &Record{
			ID: j.Record.ID, OwnerID: j.Record.OwnerID, CreatedAt: j.Record.CreatedAt,
			Rev: j.Record.Rev, Payload: j.Record.Payload,
		}
	}
	for _, m := range j.Ops {
		op.Ops = append(op.Ops, m.toOperation())
	}
	return op
}

// MarshalJSON encodes op for the persisted outbox.
func (op Operation) MarshalJSON() ([]byte, error) {
	return json.Marshal(op.toJSON())
}

// UnmarshalOperation decodes an outbox body written by MarshalJSON.
func UnmarshalOperation(b []byte) (Operation, error) {
	var j operationJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return Operation{}, fmt.Errorf("decode operation: %w", err)
	}
	op := j.toOperation()
	if err := op.Validate(); err != nil {
		return Operation{}, fmt.Errorf("decode operation: %w", err)
	}
	return op, nil
}
