package consensus

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/concordkv/concord/pkg/storage"
	"github.com/concordkv/concord/pkg/types"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFSM(t *testing.T) (*FSM, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewFSM(store), store
}

func apply(t *testing.T, f *FSM, op string, payload interface{}) interface{} {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	cmd, err := json.Marshal(Command{Op: op, Data: data})
	require.NoError(t, err)
	return f.Apply(&raft.Log{Data: cmd})
}

func testConfig(content string) *types.ConfigItem {
	sum := md5.Sum([]byte(content))
	return &types.ConfigItem{
		ID:         types.ConfigID{Namespace: "public", Group: "DEFAULT", DataID: "app"},
		Content:    []byte(content),
		MD5:        hex.EncodeToString(sum[:]),
		CreatedAt:  time.Now(),
		ModifiedAt: time.Now(),
	}
}

func TestApplyPutConfigWithHistory(t *testing.T) {
	f, store := newTestFSM(t)
	item := testConfig("x=1")

	res := apply(t, f, OpPutConfig, putConfigArgs{
		Item: item,
		History: &types.HistoryEntry{
			ID: item.ID, Version: 1, Content: item.Content,
			Op: types.HistoryPublish, Timestamp: time.Now(), Actor: "tester",
		},
	})
	require.Nil(t, res)

	got, err := store.GetConfig(item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.Content, got.Content)
	assert.Equal(t, item.MD5, got.MD5)

	history, err := store.ListHistory(item.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, types.HistoryPublish, history[0].Op)
}

func TestApplyDeleteConfig(t *testing.T) {
	f, store := newTestFSM(t)
	item := testConfig("x=1")
	require.Nil(t, apply(t, f, OpPutConfig, putConfigArgs{Item: item}))
	require.Nil(t, apply(t, f, OpDeleteConfig, item.ID))

	_, err := store.GetConfig(item.ID)
	require.Error(t, err)
	assert.Equal(t, types.KindNotFound, types.KindOf(err))
}

func TestApplyRollbackRestoresSnapshotContent(t *testing.T) {
	f, store := newTestFSM(t)
	item := testConfig("v1")
	require.Nil(t, apply(t, f, OpPutConfig, putConfigArgs{
		Item: item,
		History: &types.HistoryEntry{ID: item.ID, Version: 1, Content: []byte("v1"), Op: types.HistoryPublish, Timestamp: time.Now()},
	}))

	item2 := testConfig("v2")
	require.Nil(t, apply(t, f, OpPutConfig, putConfigArgs{
		Item: item2,
		History: &types.HistoryEntry{ID: item.ID, Version: 2, Content: []byte("v2"), Op: types.HistoryUpdate, Timestamp: time.Now()},
	}))

	require.Nil(t, apply(t, f, OpRollback, rollbackArgs{ID: item.ID, Version: 1}))

	got, err := store.GetConfig(item.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got.Content)
}

func TestApplyRollbackUnknownVersion(t *testing.T) {
	f, _ := newTestFSM(t)
	item := testConfig("v1")
	require.Nil(t, apply(t, f, OpPutConfig, putConfigArgs{Item: item}))

	res := apply(t, f, OpRollback, rollbackArgs{ID: item.ID, Version: 99})
	err, ok := res.(error)
	require.True(t, ok)
	assert.Equal(t, types.KindNotFound, types.KindOf(err))
}

func TestApplyLockAcquireConflictAndRelease(t *testing.T) {
	f, store := newTestFSM(t)
	now := time.Now()

	res := apply(t, f, OpAcquireLock, &types.Lock{Key: "L", Owner: "A", AcquiredAt: now, TTL: time.Minute})
	require.Nil(t, res)

	// A second owner cannot take a held, unexpired lock.
	res = apply(t, f, OpAcquireLock, &types.Lock{Key: "L", Owner: "B", AcquiredAt: now, TTL: time.Minute})
	err, ok := res.(error)
	require.True(t, ok)
	assert.Equal(t, types.KindConflict, types.KindOf(err))

	// Release by a non-owner is refused; by the owner it clears the entry.
	res = apply(t, f, OpReleaseLock, lockArgs{Key: "L", Owner: "B"})
	err, ok = res.(error)
	require.True(t, ok)
	assert.Equal(t, types.KindPermissionDenied, types.KindOf(err))

	require.Nil(t, apply(t, f, OpReleaseLock, lockArgs{Key: "L", Owner: "A"}))
	got, getErr := store.GetLock("L")
	require.NoError(t, getErr)
	assert.Nil(t, got)

	// Once released, any owner may acquire.
	require.Nil(t, apply(t, f, OpAcquireLock, &types.Lock{Key: "L", Owner: "B", AcquiredAt: time.Now(), TTL: time.Minute}))
}

func TestApplyLockAcquireSucceedsAfterExpiry(t *testing.T) {
	f, _ := newTestFSM(t)
	past := time.Now().Add(-time.Hour)
	require.Nil(t, apply(t, f, OpAcquireLock, &types.Lock{Key: "L", Owner: "A", AcquiredAt: past, TTL: time.Second}))

	res := apply(t, f, OpAcquireLock, &types.Lock{Key: "L", Owner: "B", AcquiredAt: time.Now(), TTL: time.Minute})
	assert.Nil(t, res, "an expired lock is acquirable without an explicit release")
}

func TestApplyRenewLockRequiresOwnerMatch(t *testing.T) {
	f, _ := newTestFSM(t)
	require.Nil(t, apply(t, f, OpAcquireLock, &types.Lock{Key: "L", Owner: "A", AcquiredAt: time.Now(), TTL: time.Minute}))

	res := apply(t, f, OpRenewLock, &types.Lock{Key: "L", Owner: "B", AcquiredAt: time.Now(), TTL: time.Minute})
	err, ok := res.(error)
	require.True(t, ok)
	assert.Equal(t, types.KindPermissionDenied, types.KindOf(err))

	require.Nil(t, apply(t, f, OpRenewLock, &types.Lock{Key: "L", Owner: "A", AcquiredAt: time.Now(), TTL: time.Minute}))
}

func TestApplyInstanceRegisterDeregister(t *testing.T) {
	f, store := newTestFSM(t)
	inst := &types.Instance{
		Service: types.ServiceID{Namespace: "public", Group: "DEFAULT", Name: "web"},
		Cluster: "c1", IP: "10.0.0.1", Port: 80,
		Weight: 1, Enabled: true, Healthy: true,
	}
	require.Nil(t, apply(t, f, OpRegister, inst))

	got, err := store.GetInstance(inst.InstanceKey())
	require.NoError(t, err)
	assert.Equal(t, inst.IP, got.IP)

	require.Nil(t, apply(t, f, OpDeregister, inst.InstanceKey()))
	listed, err := store.ListInstances()
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestApplySessionLifecycle(t *testing.T) {
	f, store := newTestFSM(t)
	s := &types.Session{ID: "s1", TTL: time.Minute, Behavior: types.SessionRelease, CreatedAt: time.Now(), RenewedAt: time.Now()}
	require.Nil(t, apply(t, f, OpPutSession, s))

	got, err := store.GetSession("s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, types.SessionRelease, got.Behavior)

	require.Nil(t, apply(t, f, OpDeleteSession, "s1"))
	got, err = store.GetSession("s1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestApplyUnknownCommand(t *testing.T) {
	f, _ := newTestFSM(t)
	res := apply(t, f, "no_such_op", struct{}{})
	_, ok := res.(error)
	assert.True(t, ok)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	f, _ := newTestFSM(t)
	item := testConfig("x=1")
	require.Nil(t, apply(t, f, OpPutConfig, putConfigArgs{
		Item:    item,
		History: &types.HistoryEntry{ID: item.ID, Version: 1, Content: item.Content, Op: types.HistoryPublish, Timestamp: time.Now()},
	}))
	require.Nil(t, apply(t, f, OpAcquireLock, &types.Lock{Key: "L", Owner: "A", AcquiredAt: time.Now(), TTL: time.Minute}))
	require.Nil(t, apply(t, f, OpPutSession, &types.Session{ID: "s1", TTL: time.Minute, Behavior: types.SessionDelete, RenewedAt: time.Now()}))

	snap, err := f.Snapshot()
	require.NoError(t, err)
	sink := &memorySink{}
	require.NoError(t, snap.Persist(sink))

	restored, restoredStore := newTestFSM(t)
	require.NoError(t, restored.Restore(io.NopCloser(bytes.NewReader(sink.Bytes()))))

	got, err := restoredStore.GetConfig(item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.Content, got.Content)

	history, err := restoredStore.ListHistory(item.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	lock, err := restoredStore.GetLock("L")
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, "A", lock.Owner)

	sess, err := restoredStore.GetSession("s1")
	require.NoError(t, err)
	require.NotNil(t, sess)
}

// memorySink is an in-memory raft.SnapshotSink for round-trip tests.
type memorySink struct {
	bytes.Buffer
	canceled bool
}

func (s *memorySink) ID() string    { return "test" }
func (s *memorySink) Close() error  { return nil }
func (s *memorySink) Cancel() error { s.canceled = true; return nil }
