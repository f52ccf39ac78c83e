// Package models defines the client-side data model of the sync core: entity
// records, the outbound operations that push them, and remote deltas.
package models

import (
	"encoding/json"
	"fmt"
	"maps"

	"github.com/Masparrito/lactokeeper-sub001/internal/common"
)

// Payload holds the domain fields of a record. A key mapped to nil is an
// explicit null and differs from an absent key.
type Payload map[string]any

// Record is one entity of some kind (animals, weighings, lots, ...).
type Record struct {
	// ID is unique within the kind and never changes.
	ID string
	// OwnerID is the tenant the record belongs to.
	OwnerID string
	// CreatedAt is epoch milliseconds; zero means unknown.
	CreatedAt int64
	// Synced is local-only: true once the current content was accepted remotely.
	Synced bool
	// Rev is local-only and grows with every local write of the row.
	Rev int64

	Payload Payload
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Payload = r.Payload.Clone()
	return &c
}

// Wire returns the flat map sent to the remote store: the payload plus id,
// ownerId and createdAt. Synced and Rev are never part of it.
func (r *Record) Wire() map[string]any {
	m := make(map[string]any, len(r.Payload)+3)
	for k, v := range r.Payload {
		m[k] = cloneValue(v)
	}
	m[common.FieldID] = r.ID
	m[common.FieldOwnerID] = r.OwnerID
	if r.CreatedAt != 0 {
		m[common.FieldCreatedAt] = float64(r.CreatedAt)
	}
	return m
}

// RecordFromWire is the inverse of Wire. The result is marked synced.
func RecordFromWire(m map[string]any) (*Record, error) {
	id, _ := m[common.FieldID].(string)
	if id == "" {
		return nil, fmt.Errorf("wire record without id")
	}
	r := &Record{ID: id, Synced: true, Payload: Payload{}}
	r.OwnerID, _ = m[common.FieldOwnerID].(string)
	switch ts := m[common.FieldCreatedAt].(type) {
	case float64:
		r.CreatedAt = int64(ts)
	case int64:
		r.CreatedAt = ts
	case int:
		r.CreatedAt = int64(ts)
	}
	for k, v := range m {
		if IsReserved(k) {
			continue
		}
		r.Payload[k] = v
	}
	return r, nil
}

// IsReserved reports whether key is one of the fields carried beside the payload.
func IsReserved(key string) bool {
	switch key {
	case common.FieldID, common.FieldOwnerID, common.FieldCreatedAt:
		return true
	}
	return false
}

// Clone returns a deep copy of p.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

// Merge returns a copy of p with partial applied on top. Keys in partial
// mapped to nil become explicit nulls.
func (p Payload) Merge(partial Payload) Payload {
	out := p.Clone()
	if out == nil {
		out = Payload{}
	}
	maps.Copy(out, partial.Clone())
	return out
}

// Normalize returns p converted to the JSON value space (numbers become
// float64, nested values become []any and map[string]any) so local storage
// and the wire carry identical values. Reserved keys are rejected.
func (p Payload) Normalize() (Payload, error) {
	for k := range p {
		if IsReserved(k) {
			return nil, fmt.Errorf("%w: payload key %q is reserved", common.ErrInvalidInput, k)
		}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidInput, err)
	}
	out := Payload{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidInput, err)
	}
	return out, nil
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, x := range t {
			m[k] = cloneValue(x)
		}
		return m
	case Payload:
		return t.Clone()
	case []any:
		s := make([]any, len(t))
		for i, x := range t {
			s[i] = cloneValue(x)
		}
		return s
	default:
		return v
	}
}
