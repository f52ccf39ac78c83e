package models

import (
	"time"

	"github.com/Masparrito/lactokeeper-sub001/internal/common"
)

// Document is one stored entity. Kind and ID form the key; OwnerID is fixed
// by the first write.
type Document struct {
	Kind    string
	ID      string
	OwnerID string
	// CreatedAt is epoch milliseconds; zero means unknown.
	CreatedAt int64
	// Payload holds the domain fields, without the reserved ones.
	Payload map[string]any
	// OpID is the client operation that last wrote the document.
	OpID      string
	UpdatedAt time.Time
}

// Clone returns a copy of d safe to hand out of a repository.
func (d *Document) Clone() *Document {
	c := *d
	c.Payload = deepCopy(d.Payload)
	return &c
}

// Wire returns the flat record carried by deltas and archives.
func (d *Document) Wire() map[string]any {
	m := deepCopy(d.Payload)
	if m == nil {
		m = map[string]any{}
	}
	m[common.FieldID] = d.ID
	m[common.FieldOwnerID] = d.OwnerID
	if d.CreatedAt != 0 {
		m[common.FieldCreatedAt] = float64(d.CreatedAt)
	}
	return m
}

// Tombstone returns the record carried by a removal delta.
func (d *Document) Tombstone() map[string]any {
	return map[string]any{common.FieldID: d.ID, common.FieldOwnerID: d.OwnerID}
}

func deepCopy(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopy(t)
	case []any:
		s := make([]any, len(t))
		for i, x := range t {
			s[i] = copyValue(x)
		}
		return s
	default:
		return v
	}
}
