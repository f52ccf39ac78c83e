package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Masparrito/lactokeeper-sub001/internal/client/client"
	"github.com/Masparrito/lactokeeper-sub001/internal/client/connectivity"
	"github.com/Masparrito/lactokeeper-sub001/internal/client/models"
	"github.com/Masparrito/lactokeeper-sub001/internal/client/services"
	"github.com/Masparrito/lactokeeper-sub001/internal/client/status"
	"github.com/Masparrito/lactokeeper-sub001/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---- fake remote ----

type call struct {
	Method    string
	OpID      string
	Kind      string
	ID        string
	Record    map[string]any
	Mutations []client.Mutation
}

type fakeRemote struct {
	mu       sync.Mutex
	calls    []call
	docs     map[string]map[string]any
	failNext int
	handlers map[string]func(models.DeltaBatch)
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{docs: map[string]map[string]any{}, handlers: map[string]func(models.DeltaBatch){}}
}

func (f *fakeRemote) fail() error {
	if f.failNext > 0 {
		f.failNext--
		return client.ErrUnavailable
	}
	return nil
}

func (f *fakeRemote) Upsert(ctx context.Context, opID, kind, id string, record map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{Method: "upsert", OpID: opID, Kind: kind, ID: id, Record: record})
	if err := f.fail(); err != nil {
		return err
	}
	f.docs[kind+"/"+id] = record
	return nil
}

func (f *fakeRemote) Delete(ctx context.Context, opID, kind, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{Method: "delete", OpID: opID, Kind: kind, ID: id})
	if err := f.fail(); err != nil {
		return err
	}
	delete(f.docs, kind+"/"+id)
	return nil
}

func (f *fakeRemote) BatchCommit(ctx context.Context, opID string, muts []client.Mutation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{Method: "batch", OpID: opID, Mutations: muts})
	if err := f.fail(); err != nil {
		return err
	}
	for _, m := range muts {
		if m.Record == nil {
			delete(f.docs, m.Kind+"/"+m.ID)
		} else {
			f.docs[m.Kind+"/"+m.ID] = m.Record
		}
	}
	return nil
}

func (f *fakeRemote) Subscribe(ctx context.Context, kind, owner string, onDelta func(models.DeltaBatch)) (client.Unsubscribe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[kind] = onDelta
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, kind)
	}, nil
}

func (f *fakeRemote) deliver(b models.DeltaBatch) {
	f.mu.Lock()
	h := f.handlers[b.Kind]
	f.mu.Unlock()
	if h != nil {
		h(b)
	}
}

func (f *fakeRemote) snapshot() ([]call, map[string]map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	docs := make(map[string]map[string]any, len(f.docs))
	for k, v := range f.docs {
		docs[k] = v
	}
	return append([]call(nil), f.calls...), docs
}

type countingNotifier struct {
	mu    sync.Mutex
	kinds []string
}

func (n *countingNotifier) LocalDataChanged(kind string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, kind)
}

func (n *countingNotifier) seen() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.kinds...)
}

// ---- helpers ----

type harness struct {
	dir    string
	remote *fakeRemote
	conn   *connectivity.Manual
	notify *countingNotifier
}

func newHarness(t *testing.T, online bool) *harness {
	return &harness{
		dir:    t.TempDir(),
		remote: newFakeRemote(),
		conn:   connectivity.NewManual(online),
		notify: &countingNotifier{},
	}
}

func (h *harness) start(t *testing.T) *Engine {
	t.Helper()
	e, err := New(context.Background(), Options{
		DataDir:          h.dir,
		OwnerID:          "owner-1",
		Kinds:            []string{"weighings", "lots", "animals"},
		Remote:           h.remote,
		Connectivity:     h.conn,
		Notifier:         h.notify,
		OperationTimeout: time.Second,
		StatusDebounce:   20 * time.Millisecond,
		SweepBase:        time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func waitIdle(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.WaitIdle(ctx))
}

func eventuallySynced(t *testing.T, e *Engine, kind, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		r, err := e.Entities().Get(context.Background(), kind, id)
		return err == nil && r.Synced
	}, 2*time.Second, 5*time.Millisecond)
}

// ---- TESTS ----

func TestOfflineWrite_VisibleImmediatelyAndPushedOnReconnect(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	e := h.start(t)

	id, err := e.Entities().AddEntity(ctx, "weighings", models.Payload{"kg": 3.2}, services.WithID("A1"))
	require.NoError(t, err)

	got, err := e.Entities().Get(ctx, "weighings", id)
	require.NoError(t, err)
	assert.Equal(t, 3.2, got.Payload["kg"])
	assert.False(t, got.Synced)
	assert.Equal(t, status.Offline, e.Status())
	assert.Len(t, e.Pending(), 1)

	calls, _ := h.remote.snapshot()
	assert.Empty(t, calls)

	h.conn.Set(true)
	waitIdle(t, e)
	eventuallySynced(t, e, "weighings", "A1")

	_, docs := h.remote.snapshot()
	require.Contains(t, docs, "weighings/A1")
	assert.Equal(t, 3.2, docs["weighings/A1"]["kg"])
	_, leaked := docs["weighings/A1"]["synced"]
	assert.False(t, leaked)

	require.Eventually(t, func() bool { return e.Status() == status.Idle }, 2*time.Second, 5*time.Millisecond)
}

func TestOfflineEdits_ReplayInIssueOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	e := h.start(t)

	_, err := e.Entities().AddEntity(ctx, "lots", models.Payload{"name": "North"}, services.WithID("L1"))
	require.NoError(t, err)
	_, err = e.Entities().UpdateEntity(ctx, "lots", "L1", models.Payload{"name": "South"})
	require.NoError(t, err)

	h.conn.Set(true)
	waitIdle(t, e)
	eventuallySynced(t, e, "lots", "L1")

	calls, docs := h.remote.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, "North", calls[0].Record["name"])
	assert.Equal(t, "South", calls[1].Record["name"])
	assert.Equal(t, "South", docs["lots/L1"]["name"])
}

func TestRestart_ReplaysPersistedOutboxOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	e := h.start(t)

	_, err := e.Entities().AddEntity(ctx, "weighings", models.Payload{"kg": 3.2}, services.WithID("A1"))
	require.NoError(t, err)
	require.NoError(t, e.Entities().DeleteEntity(ctx, "weighings", "A1"))
	_, err = e.Entities().AddEntity(ctx, "lots", models.Payload{"name": "North"}, services.WithID("L1"))
	require.NoError(t, err)
	require.NoError(t, e.Close())

	e2 := h.start(t)
	pending := e2.Pending()
	require.Len(t, pending, 3)
	assert.Equal(t, models.OpUpsert, pending[0].Op.Type)
	assert.Equal(t, models.OpDelete, pending[1].Op.Type)

	h.conn.Set(true)
	waitIdle(t, e2)
	eventuallySynced(t, e2, "lots", "L1")

	calls, docs := h.remote.snapshot()
	assert.Len(t, calls, 3)
	assert.NotContains(t, docs, "weighings/A1")
	assert.Contains(t, docs, "lots/L1")
}

func TestFailedPush_RetriedBySweep(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.remote.failNext = 1
	e := h.start(t)

	_, err := e.Entities().AddEntity(ctx, "animals", models.Payload{"name": "Luna"}, services.WithID("A7"))
	require.NoError(t, err)
	waitIdle(t, e)

	r, err := e.Entities().Get(ctx, "animals", "A7")
	require.NoError(t, err)
	assert.False(t, r.Synced, "failed push keeps the row unsynced")

	n, err := e.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	waitIdle(t, e)
	eventuallySynced(t, e, "animals", "A7")

	n, err = e.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFailedDelete_ParkedAndRequeued(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	e := h.start(t)

	_, err := e.Entities().AddEntity(ctx, "animals", models.Payload{}, services.WithID("A9"))
	require.NoError(t, err)
	waitIdle(t, e)

	h.remote.mu.Lock()
	h.remote.failNext = 1
	h.remote.mu.Unlock()
	require.NoError(t, e.Entities().DeleteEntity(ctx, "animals", "A9"))
	waitIdle(t, e)

	parked, err := e.Parked(ctx)
	require.NoError(t, err)
	require.Len(t, parked, 1)

	e.Retry()
	require.Eventually(t, func() bool {
		_, docs := h.remote.snapshot()
		_, ok := docs["animals/A9"]
		return !ok
	}, 2*time.Second, 5*time.Millisecond)
	waitIdle(t, e)

	parked, err = e.Parked(ctx)
	require.NoError(t, err)
	assert.Empty(t, parked)
}

func TestFailedBatch_RetriedAsOneBatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.remote.failNext = 1
	e := h.start(t)

	_, err := e.Entities().AddWithSecondary(ctx,
		services.Draft{Kind: "animals", ID: "A1", Payload: models.Payload{"name": "Luna"}},
		services.Draft{Kind: "weighings", ID: "W1", Payload: models.Payload{"animalId": "A1", "kg": 31.5}},
	)
	require.NoError(t, err)
	waitIdle(t, e)

	parked, err := e.Parked(ctx)
	require.NoError(t, err)
	require.Len(t, parked, 1)
	assert.Equal(t, models.OpBatch, parked[0].Type)

	h.conn.Set(false)
	_, err = e.Entities().UpdateEntity(ctx, "weighings", "W1", models.Payload{"kg": 32.0})
	require.NoError(t, err)

	n, err := e.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the parked batch, the update is queued already")

	h.conn.Set(true)
	waitIdle(t, e)
	eventuallySynced(t, e, "animals", "A1")
	eventuallySynced(t, e, "weighings", "W1")

	calls, docs := h.remote.snapshot()
	require.Len(t, calls, 3)
	assert.Equal(t, "batch", calls[0].Method)
	assert.Equal(t, "batch", calls[1].Method)
	assert.Equal(t, calls[0].OpID, calls[1].OpID)
	require.Len(t, calls[1].Mutations, 2)
	assert.Equal(t, "A1", calls[1].Mutations[0].ID)
	assert.Equal(t, "W1", calls[1].Mutations[1].ID)
	assert.Equal(t, 32.0, calls[1].Mutations[1].Record["kg"], "retried from the current row")
	assert.Equal(t, "upsert", calls[2].Method)
	assert.Equal(t, "Luna", docs["animals/A1"]["name"])

	parked, err = e.Parked(ctx)
	require.NoError(t, err)
	assert.Empty(t, parked)

	n, err = e.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRemoteRemoved_DeletesLocalRowAndNotifies(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	e := h.start(t)

	h.remote.deliver(models.DeltaBatch{Kind: "weighings", Snapshot: true, Changes: []models.Change{
		{Type: models.ChangeAdded, Record: &models.Record{ID: "A1", OwnerID: "owner-1", Payload: models.Payload{"kg": 3.2}}},
	}})
	r, err := e.Entities().Get(ctx, "weighings", "A1")
	require.NoError(t, err)
	assert.True(t, r.Synced)

	h.remote.deliver(models.DeltaBatch{Kind: "weighings", Changes: []models.Change{
		{Type: models.ChangeRemoved, Record: &models.Record{ID: "A1"}},
	}})
	_, err = e.Entities().Get(ctx, "weighings", "A1")
	require.True(t, errors.Is(err, common.ErrorNotFound))
	assert.Equal(t, []string{"weighings", "weighings"}, h.notify.seen())
}

func TestOwnEcho_IsIgnored(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	e := h.start(t)

	_, err := e.Entities().AddEntity(ctx, "lots", models.Payload{"name": "North"}, services.WithID("L1"))
	require.NoError(t, err)
	waitIdle(t, e)
	calls, _ := h.remote.snapshot()
	require.Len(t, calls, 1)

	h.remote.deliver(models.DeltaBatch{Kind: "lots", OpID: calls[0].OpID, Changes: []models.Change{
		{Type: models.ChangeModified, Record: &models.Record{ID: "L1", OwnerID: "owner-1", Payload: models.Payload{"name": "stale"}}},
	}})
	r, err := e.Entities().Get(ctx, "lots", "L1")
	require.NoError(t, err)
	assert.Equal(t, "North", r.Payload["name"])
	assert.Empty(t, h.notify.seen())
}

func TestClose_IsIdempotentAndStopsSubscriptions(t *testing.T) {
	h := newHarness(t, true)
	e := h.start(t)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	h.remote.mu.Lock()
	defer h.remote.mu.Unlock()
	assert.Empty(t, h.remote.handlers)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(context.Background(), Options{DataDir: t.TempDir(), OwnerID: "o"})
	require.Error(t, err)
}
