package subscriber

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Masparrito/lactokeeper-sub001/internal/client/client"
	"github.com/Masparrito/lactokeeper-sub001/internal/client/models"
	"github.com/Masparrito/lactokeeper-sub001/internal/client/store"
	"github.com/Masparrito/lactokeeper-sub001/internal/common"
	"github.com/Masparrito/lactokeeper-sub001/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu       sync.Mutex
	handlers map[string]func(models.DeltaBatch)
	owners   map[string]string
	stopped  map[string]bool
}

func newSource() *fakeSource {
	return &fakeSource{
		handlers: map[string]func(models.DeltaBatch){},
		owners:   map[string]string{},
		stopped:  map[string]bool{},
	}
}

func (f *fakeSource) Subscribe(_ context.Context, kind, owner string, onDelta func(models.DeltaBatch)) (client.Unsubscribe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[kind] = onDelta
	f.owners[kind] = owner
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.stopped[kind] = true
	}, nil
}

func (f *fakeSource) deliver(b models.DeltaBatch) {
	f.mu.Lock()
	h := f.handlers[b.Kind]
	f.mu.Unlock()
	h(b)
}

type notices struct {
	mu    sync.Mutex
	kinds []string
}

func (n *notices) LocalDataChanged(kind string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, kind)
}

type pendingCounter struct{ n int }

func (p *pendingCounter) RemotePending() { p.n++ }

type snapshots struct{ kinds []string }

func (s *snapshots) SetSnapshotAt(_ context.Context, kind string, _ time.Time) error {
	s.kinds = append(s.kinds, kind)
	return nil
}

type fixture struct {
	store    *store.Store
	source   *fakeSource
	sub      *Subscriber
	echo     *EchoFilter
	notices  *notices
	observer *pendingCounter
	snaps    *snapshots
	pending  map[models.Key]int
}

func setup(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "o.db"), logging.Nop(), "animals")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{
		store: st, source: newSource(), echo: NewEchoFilter(0), notices: &notices{},
		observer: &pendingCounter{}, snaps: &snapshots{}, pending: map[models.Key]int{},
	}
	f.sub = New(f.source, st, "owner-1", Options{
		Echo:      f.echo,
		Pending:   func(k models.Key) int { return f.pending[k] },
		Notifier:  f.notices,
		Observer:  f.observer,
		Snapshots: f.snaps,
	})
	require.NoError(t, f.sub.Start(context.Background(), "animals"))
	return f
}

func wire(id string, payload models.Payload) *models.Record {
	return &models.Record{ID: id, OwnerID: "owner-1", CreatedAt: 1000, Synced: true, Payload: payload}
}

func TestStart_SubscribesPerKindForOwner(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.sub.Start(context.Background(), "animals", "weighings"))

	assert.Equal(t, map[string]string{"animals": "owner-1", "weighings": "owner-1"}, f.source.owners)

	f.sub.Stop()
	assert.Equal(t, map[string]bool{"animals": true, "weighings": true}, f.source.stopped)
}

func TestHandle_AddedAndModifiedArePutSynced(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.source.deliver(models.DeltaBatch{Kind: "animals", OpID: "other", Changes: []models.Change{
		{Type: models.ChangeAdded, Record: wire("A1", models.Payload{"name": "Luna", "weaned": nil})},
	}})
	got, err := f.store.Get(ctx, "animals", "A1")
	require.NoError(t, err)
	assert.True(t, got.Synced)
	assert.Equal(t, models.Payload{"name": "Luna", "weaned": nil}, got.Payload)
	assert.Equal(t, int64(1000), got.CreatedAt)

	f.source.deliver(models.DeltaBatch{Kind: "animals", Changes: []models.Change{
		{Type: models.ChangeModified, Record: &models.Record{ID: "A1", OwnerID: "owner-1", CreatedAt: 2000, Payload: models.Payload{"name": "Estrella"}}},
	}})
	got, err = f.store.Get(ctx, "animals", "A1")
	require.NoError(t, err)
	assert.Equal(t, "Estrella", got.Payload["name"])
	assert.Equal(t, int64(1000), got.CreatedAt, "createdAt is only filled when absent")

	assert.Equal(t, []string{"animals", "animals"}, f.notices.kinds)
}

func TestHandle_SameDeltaTwiceIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	b := models.DeltaBatch{Kind: "animals", Changes: []models.Change{
		{Type: models.ChangeAdded, Record: wire("A1", models.Payload{"kg": 3.2})},
	}}

	f.source.deliver(b)
	first, err := f.store.Get(ctx, "animals", "A1")
	require.NoError(t, err)
	f.source.deliver(b)
	second, err := f.store.Get(ctx, "animals", "A1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, f.notices.kinds, 1)
}

func TestHandle_RemovedDeletesAndNotifies(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.store.Put(ctx, "animals", wire("A1", nil))
	require.NoError(t, err)

	f.source.deliver(models.DeltaBatch{Kind: "animals", Changes: []models.Change{
		{Type: models.ChangeRemoved, Record: &models.Record{ID: "A1"}},
	}})

	_, err = f.store.Get(ctx, "animals", "A1")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.Equal(t, []string{"animals"}, f.notices.kinds)

	f.source.deliver(models.DeltaBatch{Kind: "animals", Changes: []models.Change{
		{Type: models.ChangeRemoved, Record: &models.Record{ID: "A1"}},
	}})
	assert.Len(t, f.notices.kinds, 1, "removing an absent row changes nothing")
}

func TestHandle_UnsyncedLocalEditWins(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.store.Put(ctx, "animals", &models.Record{ID: "A1", Payload: models.Payload{"name": "Local"}})
	require.NoError(t, err)

	f.source.deliver(models.DeltaBatch{Kind: "animals", Changes: []models.Change{
		{Type: models.ChangeModified, Record: wire("A1", models.Payload{"name": "Stale"})},
		{Type: models.ChangeAdded, Record: wire("A2", models.Payload{"name": "Other"})},
	}})

	got, err := f.store.Get(ctx, "animals", "A1")
	require.NoError(t, err)
	assert.Equal(t, "Local", got.Payload["name"])
	assert.False(t, got.Synced)

	_, err = f.store.Get(ctx, "animals", "A2")
	require.NoError(t, err)
}

func TestHandle_QueuedDeleteIsNotResurrected(t *testing.T) {
	f := setup(t)
	f.pending[models.Key{Kind: "animals", ID: "A1"}] = 1

	f.source.deliver(models.DeltaBatch{Kind: "animals", Snapshot: true, Changes: []models.Change{
		{Type: models.ChangeAdded, Record: wire("A1", nil)},
	}})

	_, err := f.store.Get(context.Background(), "animals", "A1")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

// deleteLocally removes a synced A1 and journals the delete the way the
// entity service does, without handing it to an in-memory queue.
func deleteLocally(t *testing.T, f *fixture) int64 {
	t.Helper()
	ctx := context.Background()
	_, err := f.store.Put(ctx, "animals", wire("A1", models.Payload{"name": "Luna"}))
	require.NoError(t, err)

	var seq int64
	err = f.store.Transaction(ctx, []string{"animals"}, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Delete(ctx, "animals", "A1"); err != nil {
			return err
		}
		seq, err = tx.Enqueue(ctx, models.NewDelete("del-1", "animals", "A1"))
		return err
	})
	require.NoError(t, err)
	return seq
}

func TestHandle_ParkedDeleteIsNotResurrected(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seq := deleteLocally(t, f)
	require.NoError(t, f.store.Park(ctx, seq, models.NewDelete("del-1", "animals", "A1")))

	f.source.deliver(models.DeltaBatch{Kind: "animals", Snapshot: true, Changes: []models.Change{
		{Type: models.ChangeAdded, Record: wire("A1", models.Payload{"name": "Luna"})},
	}})
	_, err := f.store.Get(ctx, "animals", "A1")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	f.source.deliver(models.DeltaBatch{Kind: "animals", OpID: "other-session", Changes: []models.Change{
		{Type: models.ChangeModified, Record: wire("A1", models.Payload{"name": "Estrella"})},
	}})
	_, err = f.store.Get(ctx, "animals", "A1")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.Empty(t, f.notices.kinds)
}

func TestHandle_JournaledDeleteIsNotResurrected(t *testing.T) {
	f := setup(t)
	deleteLocally(t, f)

	f.source.deliver(models.DeltaBatch{Kind: "animals", Changes: []models.Change{
		{Type: models.ChangeModified, Record: wire("A1", models.Payload{"name": "Estrella"})},
	}})

	_, err := f.store.Get(context.Background(), "animals", "A1")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestHandle_SnapshotKeepsSyncedRowWithJournaledWrite(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	rec, err := f.store.Put(ctx, "animals", wire("A1", nil))
	require.NoError(t, err)
	err = f.store.Transaction(ctx, []string{"animals"}, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Enqueue(ctx, models.NewUpsert("up-1", "animals", rec))
		return err
	})
	require.NoError(t, err)

	f.source.deliver(models.DeltaBatch{Kind: "animals", Snapshot: true})

	_, err = f.store.Get(ctx, "animals", "A1")
	require.NoError(t, err)
}

func TestHandle_EchoIsSkipped(t *testing.T) {
	f := setup(t)
	f.echo.Add("mine")

	f.source.deliver(models.DeltaBatch{Kind: "animals", OpID: "mine", Changes: []models.Change{
		{Type: models.ChangeAdded, Record: wire("A1", nil)},
	}})

	_, err := f.store.Get(context.Background(), "animals", "A1")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.Equal(t, 1, f.observer.n)
	assert.Empty(t, f.notices.kinds)
}

func TestHandle_SnapshotDropsSyncedRowsMissingRemotely(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.store.Put(ctx, "animals", wire("gone", nil))
	require.NoError(t, err)
	_, err = f.store.Put(ctx, "animals", &models.Record{ID: "dirty"})
	require.NoError(t, err)

	f.source.deliver(models.DeltaBatch{Kind: "animals", Snapshot: true, Changes: []models.Change{
		{Type: models.ChangeAdded, Record: wire("kept", nil)},
	}})

	all, err := f.store.QueryAll(ctx, "animals")
	require.NoError(t, err)
	ids := []string{}
	for _, r := range all {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{"dirty", "kept"}, ids)
	assert.Equal(t, []string{"animals"}, f.snaps.kinds)
}

type failingStore struct{}

func (failingStore) Transaction(context.Context, []string, func(context.Context, store.Tx) error) error {
	return errors.New("disk full")
}

func TestHandle_FailureIsDropped(t *testing.T) {
	n := &notices{}
	s := New(newSource(), failingStore{}, "o", Options{Notifier: n})

	assert.NotPanics(t, func() {
		s.Handle(context.Background(), models.DeltaBatch{Kind: "animals", Changes: []models.Change{
			{Type: models.ChangeAdded, Record: wire("A1", nil)},
		}})
	})
	assert.Empty(t, n.kinds)
}

func TestEchoFilter_Evicts(t *testing.T) {
	e := NewEchoFilter(2)
	e.Add("a")
	e.Add("b")
	e.Add("c")
	assert.False(t, e.Seen("a"))
	assert.True(t, e.Seen("b"))
	assert.True(t, e.Seen("c"))
	assert.False(t, e.Seen(""))
}
