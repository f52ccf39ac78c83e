package models

import (
	"errors"
	"testing"

	"github.com/Masparrito/lactokeeper-sub001/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_WireStripsLocalState(t *testing.T) {
	r := &Record{ID: "A1", OwnerID: "o1", CreatedAt: 1700000000000, Synced: true, Rev: 7,
		Payload: Payload{"kg": 3.2, "note": nil}}

	w := r.Wire()
	assert.Equal(t, map[string]any{
		"id": "A1", "ownerId": "o1", "createdAt": float64(1700000000000), "kg": 3.2, "note": nil,
	}, w)
	_, hasSynced := w["synced"]
	assert.False(t, hasSynced)

	back, err := RecordFromWire(w)
	require.NoError(t, err)
	assert.Equal(t, &Record{ID: "A1", OwnerID: "o1", CreatedAt: 1700000000000, Synced: true,
		Payload: Payload{"kg": 3.2, "note": nil}}, back)
}

func TestRecordFromWire_RequiresID(t *testing.T) {
	_, err := RecordFromWire(map[string]any{"kg": 1.0})
	require.Error(t, err)
}

func TestPayload_NullDiffersFromAbsent(t *testing.T) {
	p, err := Payload{"weaned": nil}.Normalize()
	require.NoError(t, err)

	v, ok := p["weaned"]
	assert.True(t, ok)
	assert.Nil(t, v)
	_, ok = p["missing"]
	assert.False(t, ok)
}

func TestPayload_NormalizeAndReserved(t *testing.T) {
	p, err := Payload{"n": 3, "tags": []string{"a"}}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, Payload{"n": float64(3), "tags": []any{"a"}}, p)

	_, err = Payload{"id": "x"}.Normalize()
	require.True(t, errors.Is(err, common.ErrInvalidInput))

	_, err = Payload{"bad": make(chan int)}.Normalize()
	require.Error(t, err)
}

func TestPayload_MergeDoesNotAlias(t *testing.T) {
	base := Payload{"name": "North", "nested": map[string]any{"a": 1.0}}
	merged := base.Merge(Payload{"name": "South", "area": nil})

	assert.Equal(t, Payload{"name": "South", "area": nil, "nested": map[string]any{"a": 1.0}}, merged)
	merged["nested"].(map[string]any)["a"] = 2.0
	assert.Equal(t, 1.0, base["nested"].(map[string]any)["a"])
	assert.Equal(t, "North", base["name"])

	var empty Payload
	assert.Equal(t, Payload{"x": 1.0}, empty.Merge(Payload{"x": 1.0}))
}

func TestOperation_JSONRoundTrip(t *testing.T) {
	up := NewUpsert("op1", "weighings", &Record{ID: "A1", OwnerID: "o1", CreatedAt: 5, Rev: 2, Payload: Payload{"kg": 3.2}})
	del := NewDelete("x", "events", "E1")
	batch := NewBatch("op2", up, del)

	for _, op := range []Operation{up, del, batch} {
		b, err := op.MarshalJSON()
		require.NoError(t, err)
		got, err := UnmarshalOperation(b)
		require.NoError(t, err)
		assert.Equal(t, op, got)
	}
}

func TestUnmarshalOperation_Rejects(t *testing.T) {
	_, err := UnmarshalOperation([]byte(`{`))
	require.Error(t, err)

	_, err = UnmarshalOperation([]byte(`{"type":"upsert","op_id":"1","kind":"k","id":"a"}`))
	require.Error(t, err, "upsert without record")

	_, err = UnmarshalOperation([]byte(`{"type":"teleport"}`))
	require.Error(t, err)
}

func TestOperation_BatchHelpers(t *testing.T) {
	up := NewUpsert("a", "lots", &Record{ID: "L1"})
	d1 := NewDelete("b", "events", "E1")
	d2 := NewDelete("c", "lots", "L2")
	batch := NewBatch("op", up, d1, d2)

	for _, m := range batch.Ops {
		assert.Equal(t, "op", m.OpID)
	}
	assert.Equal(t, []Key{{"lots", "L1"}, {"events", "E1"}, {"lots", "L2"}}, batch.Keys())
	assert.Equal(t, []string{"lots", "events"}, batch.Kinds())

	nested := Operation{Type: OpBatch, OpID: "n", Ops: []Operation{batch}}
	require.Error(t, nested.Validate())
}
