package syncer

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"qfleet/internal/store"
	"qfleet/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeApplier scripts remote behavior per record key.
type fakeApplier struct {
	mu       sync.Mutex
	applied  []types.SyncOp
	errs     map[string][]error // per opKey queue, popped per Apply call
	pingErr  error
	remoteTS map[string]time.Time
}

func newFakeApplier() *fakeApplier {
	return &fakeApplier{
		errs:     make(map[string][]error),
		remoteTS: make(map[string]time.Time),
	}
}

func (f *fakeApplier) failNext(table, recordID string, errors ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := table + "/" + recordID
	f.errs[key] = append(f.errs[key], errors...)
}

func (f *fakeApplier) setPingErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

func (f *fakeApplier) Apply(ctx context.Context, op types.SyncOp) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := op.Table + "/" + op.RecordID
	if queue := f.errs[key]; len(queue) > 0 {
		err := queue[0]
		f.errs[key] = queue[1:]
		return err
	}
	f.applied = append(f.applied, op)
	return nil
}

func (f *fakeApplier) RecordTimestamp(ctx context.Context, table, recordID string) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ts, ok := f.remoteTS[table+"/"+recordID]
	return ts, ok, nil
}

func (f *fakeApplier) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeApplier) appliedOps() []types.SyncOp {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.SyncOp(nil), f.applied...)
}

func newDurable(t *testing.T) *store.LocalStore {
	t.Helper()
	s := store.NewLocalStore(filepath.Join(t.TempDir(), "qfleet.db"))
	require.NoError(t, s.Initialize(context.Background()))
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s
}

func fastOptions() Options {
	return Options{
		Debounce:      5 * time.Millisecond,
		Interval:      time.Hour, // ticker out of the way, tests drive flushes
		MaxQueueSize:  100,
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
		Strategy:      StrategyNewest,
	}
}

func startEngine(t *testing.T, durable *store.LocalStore, applier Applier, opts Options) *Engine {
	t.Helper()
	e := NewEngine(durable, applier, opts)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { e.Shutdown(context.Background()) })
	return e
}

func memOp(recordID, payload string) types.SyncOp {
	return types.SyncOp{
		OpType:   types.OpUpdate,
		Table:    store.TableMemoryEntries,
		RecordID: recordID,
		Payload:  []byte(payload),
	}
}

func TestEnqueueFlushesAfterDebounce(t *testing.T) {
	applier := newFakeApplier()
	e := startEngine(t, newDurable(t), applier, fastOptions())

	e.Enqueue(memOp("p/a", `{"v":1}`))
	e.Enqueue(memOp("p/b", `{"v":2}`))

	require.Eventually(t, func() bool {
		return len(applier.appliedOps()) == 2 && e.PendingCount() == 0
	}, 2*time.Second, 5*time.Millisecond)

	applied := applier.appliedOps()
	assert.Equal(t, "p/a", applied[0].RecordID, "queue order preserved")
	assert.Equal(t, "p/b", applied[1].RecordID)
}

func TestEnqueueCoalescesPerRecord(t *testing.T) {
	applier := newFakeApplier()
	applier.setPingErr(types.NewError(types.KindRemoteUnavailable, "down"))
	e := startEngine(t, newDurable(t), applier, fastOptions())
	require.False(t, e.Online())

	e.Enqueue(memOp("p/a", `{"v":1}`))
	e.Enqueue(memOp("p/a", `{"v":2}`))
	e.Enqueue(memOp("p/a", `{"v":3}`))
	assert.Equal(t, 1, e.PendingCount())

	applier.setPingErr(nil)
	e.SetOnlineStatus(true)

	require.Eventually(t, func() bool {
		return e.PendingCount() == 0
	}, 2*time.Second, 5*time.Millisecond)

	applied := applier.appliedOps()
	require.Len(t, applied, 1, "coalesced to the newest write")
	assert.JSONEq(t, `{"v":3}`, string(applied[0].Payload))
}

func TestQueuePressureTriggersImmediateFlush(t *testing.T) {
	applier := newFakeApplier()
	opts := fastOptions()
	opts.Debounce = time.Hour // only pressure can trigger the flush
	opts.MaxQueueSize = 3
	e := startEngine(t, newDurable(t), applier, opts)

	e.Enqueue(memOp("p/a", `{}`))
	e.Enqueue(memOp("p/b", `{}`))
	assert.Equal(t, 2, e.PendingCount())

	e.Enqueue(memOp("p/c", `{}`))
	require.Eventually(t, func() bool {
		return e.PendingCount() == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, applier.appliedOps(), 3)
}

func TestOfflineQueuesAndReplaysOnReconnect(t *testing.T) {
	applier := newFakeApplier()
	applier.setPingErr(types.NewError(types.KindRemoteUnavailable, "down"))
	e := startEngine(t, newDurable(t), applier, fastOptions())

	e.Enqueue(memOp("p/a", `{}`))
	e.Enqueue(memOp("p/b", `{}`))

	// Debounce fires but the flush refuses to run while offline.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 2, e.PendingCount())
	assert.Empty(t, applier.appliedOps())

	applier.setPingErr(nil)
	e.SetOnlineStatus(true)
	require.Eventually(t, func() bool {
		return e.PendingCount() == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, applier.appliedOps(), 2)
}

func TestRemoteFailureMarksOffline(t *testing.T) {
	applier := newFakeApplier()
	applier.failNext(store.TableMemoryEntries, "p/a",
		types.NewError(types.KindRemoteUnavailable, "connection refused"))
	e := startEngine(t, newDurable(t), applier, fastOptions())
	require.True(t, e.Online())

	e.Enqueue(memOp("p/a", `{}`))

	require.Eventually(t, func() bool {
		return !e.Online()
	}, 2*time.Second, 5*time.Millisecond)
	// Op kept for the next reconnect.
	assert.Equal(t, 1, e.PendingCount())

	e.SetOnlineStatus(true)
	require.Eventually(t, func() bool {
		return e.PendingCount() == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestTransientErrorRetriesThenSucceeds(t *testing.T) {
	applier := newFakeApplier()
	applier.failNext(store.TableMemoryEntries, "p/a",
		types.NewError(types.KindCorruptState, "transient"))
	e := startEngine(t, newDurable(t), applier, fastOptions())

	e.Enqueue(memOp("p/a", `{}`))
	require.Eventually(t, func() bool {
		return len(applier.appliedOps()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, e.PendingCount())
}

func TestExhaustedRetriesDropsOp(t *testing.T) {
	applier := newFakeApplier()
	applier.failNext(store.TableMemoryEntries, "p/a",
		types.NewError(types.KindCorruptState, "broken"),
		types.NewError(types.KindCorruptState, "still broken"))
	e := startEngine(t, newDurable(t), applier, fastOptions())

	e.Enqueue(memOp("p/a", `{}`))
	e.Enqueue(memOp("p/b", `{}`))

	require.Eventually(t, func() bool {
		return e.PendingCount() == 0
	}, 2*time.Second, 5*time.Millisecond)

	// The poisoned op is abandoned after its attempts; the rest still sync.
	applied := applier.appliedOps()
	require.Len(t, applied, 1)
	assert.Equal(t, "p/b", applied[0].RecordID)
}

func TestMalformedOpDroppedWithoutRetry(t *testing.T) {
	applier := newFakeApplier()
	applier.failNext(store.TableMemoryEntries, "p/a",
		types.NewError(types.KindInvalidInput, "undecodable payload"))
	e := startEngine(t, newDurable(t), applier, fastOptions())

	e.Enqueue(memOp("p/a", `not json`))
	require.Eventually(t, func() bool {
		return e.PendingCount() == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, applier.appliedOps())
}

func TestConflictStrategyLocalForces(t *testing.T) {
	applier := newFakeApplier()
	applier.failNext(store.TableMemoryEntries, "p/a",
		types.NewError(types.KindConflict, "concurrent write"))
	opts := fastOptions()
	opts.Strategy = StrategyLocal
	e := startEngine(t, newDurable(t), applier, opts)

	e.Enqueue(memOp("p/a", `{"v":"local"}`))
	require.Eventually(t, func() bool {
		return len(applier.appliedOps()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, e.PendingCount())
}

func TestConflictStrategyRemoteDrops(t *testing.T) {
	applier := newFakeApplier()
	applier.failNext(store.TableMemoryEntries, "p/a",
		types.NewError(types.KindDuplicate, "exists"))
	opts := fastOptions()
	opts.Strategy = StrategyRemote
	e := startEngine(t, newDurable(t), applier, opts)

	e.Enqueue(memOp("p/a", `{"v":"local"}`))
	require.Eventually(t, func() bool {
		return e.PendingCount() == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, applier.appliedOps())
}

func TestConflictStrategyNewest(t *testing.T) {
	t.Run("remote newer drops local", func(t *testing.T) {
		applier := newFakeApplier()
		applier.failNext(store.TableMemoryEntries, "p/a",
			types.NewError(types.KindConflict, "concurrent write"))
		applier.remoteTS[store.TableMemoryEntries+"/p/a"] = time.Now().Add(time.Hour)
		e := startEngine(t, newDurable(t), applier, fastOptions())

		e.Enqueue(memOp("p/a", `{"v":"local"}`))
		require.Eventually(t, func() bool {
			return e.PendingCount() == 0
		}, 2*time.Second, 5*time.Millisecond)
		assert.Empty(t, applier.appliedOps())
	})

	t.Run("local newer forces", func(t *testing.T) {
		applier := newFakeApplier()
		applier.failNext(store.TableMemoryEntries, "p/a",
			types.NewError(types.KindConflict, "concurrent write"))
		applier.remoteTS[store.TableMemoryEntries+"/p/a"] = time.Now().Add(-time.Hour)
		e := startEngine(t, newDurable(t), applier, fastOptions())

		e.Enqueue(memOp("p/a", `{"v":"local"}`))
		require.Eventually(t, func() bool {
			return len(applier.appliedOps()) == 1
		}, 2*time.Second, 5*time.Millisecond)
	})

	t.Run("no remote timestamp forces", func(t *testing.T) {
		applier := newFakeApplier()
		applier.failNext(store.TableMemoryEntries, "p/a",
			types.NewError(types.KindConflict, "concurrent write"))
		e := startEngine(t, newDurable(t), applier, fastOptions())

		e.Enqueue(memOp("p/a", `{"v":"local"}`))
		require.Eventually(t, func() bool {
			return len(applier.appliedOps()) == 1
		}, 2*time.Second, 5*time.Millisecond)
	})
}

func TestRestartRestoresDurableQueue(t *testing.T) {
	durable := newDurable(t)
	ctx := context.Background()

	offline := newFakeApplier()
	offline.setPingErr(types.NewError(types.KindRemoteUnavailable, "down"))
	e := NewEngine(durable, offline, fastOptions())
	require.NoError(t, e.Start(ctx))
	e.Enqueue(memOp("p/a", `{"v":1}`))
	e.Enqueue(memOp("p/b", `{"v":2}`))
	require.NoError(t, e.Shutdown(ctx))

	n, err := durable.CountSyncOps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "undelivered ops survive shutdown")

	healthy := newFakeApplier()
	startEngine(t, durable, healthy, fastOptions())
	require.Eventually(t, func() bool {
		return len(healthy.appliedOps()) == 2
	}, 2*time.Second, 5*time.Millisecond)

	n, err = durable.CountSyncOps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestShutdownFlushesRemaining(t *testing.T) {
	applier := newFakeApplier()
	opts := fastOptions()
	opts.Debounce = time.Hour // nothing flushes until shutdown
	durable := newDurable(t)
	e := NewEngine(durable, applier, opts)
	require.NoError(t, e.Start(context.Background()))

	e.Enqueue(memOp("p/a", `{}`))
	require.NoError(t, e.Shutdown(context.Background()))

	assert.Len(t, applier.appliedOps(), 1)
	assert.Equal(t, 0, e.PendingCount())
}

func TestEnqueueAfterShutdownIsIgnored(t *testing.T) {
	applier := newFakeApplier()
	e := NewEngine(newDurable(t), applier, fastOptions())
	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Shutdown(context.Background()))

	e.Enqueue(memOp("p/a", `{}`))
	assert.Equal(t, 0, e.PendingCount())
}
