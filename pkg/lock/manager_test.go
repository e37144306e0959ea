package lock

import (
	"testing"
	"time"

	"github.com/concordkv/concord/pkg/consensus"
	"github.com/concordkv/concord/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExpirer struct {
	released []string
	deleted  []string
}

func (r *recordingExpirer) ExpireKey(key string, delete bool) error {
	if delete {
		r.deleted = append(r.deleted, key)
	} else {
		r.released = append(r.released, key)
	}
	return nil
}

func newTestManager(t *testing.T, keys KeyExpirer) *Manager {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping raft-backed integration test in short mode")
	}

	mgr, err := consensus.NewManager(&consensus.Config{
		NodeID:   "test-node",
		BindAddr: "127.0.0.1:0",
		DataDir:  t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Shutdown() })
	require.NoError(t, mgr.Bootstrap())

	for i := 0; i < 50; i++ {
		if mgr.IsLeader() {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	require.True(t, mgr.IsLeader(), "manager failed to become leader")

	return NewManager(mgr, nil, keys)
}

func TestAcquireSucceedsWhenAbsent(t *testing.T) {
	m := newTestManager(t, nil)

	result, err := m.Acquire("k1", "alice", time.Minute, true)
	require.NoError(t, err)
	assert.True(t, result.Acquired)
}

func TestAcquireFailsWhenHeldByOther(t *testing.T) {
	m := newTestManager(t, nil)

	_, err := m.Acquire("k1", "alice", time.Minute, true)
	require.NoError(t, err)

	result, err := m.Acquire("k1", "bob", time.Minute, true)
	require.NoError(t, err)
	assert.False(t, result.Acquired)
	assert.Equal(t, "alice", result.CurrentOwner)
}

func TestReleaseByNonOwnerIsDenied(t *testing.T) {
	m := newTestManager(t, nil)

	_, err := m.Acquire("k1", "alice", time.Minute, true)
	require.NoError(t, err)

	err = m.Release("k1", "bob")
	assert.Equal(t, types.KindPermissionDenied, types.KindOf(err))
}

func TestRenewExtendsTTLForOwner(t *testing.T) {
	m := newTestManager(t, nil)

	_, err := m.Acquire("k1", "alice", 50*time.Millisecond, true)
	require.NoError(t, err)

	err = m.Renew("k1", "alice", time.Minute)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	l, err := m.Get("k1")
	require.NoError(t, err)
	assert.False(t, l.Expired(time.Now()))
}

func TestStaleRenewAfterExpiryIsRejected(t *testing.T) {
	m := newTestManager(t, nil)

	_, err := m.Acquire("k1", "alice", 20*time.Millisecond, true)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	err = m.Renew("k1", "alice", time.Minute)
	assert.Equal(t, types.KindConflict, types.KindOf(err))
}

func TestSessionExpiryRunsDeleteBehaviorAgainstAssociatedKeys(t *testing.T) {
	expirer := &recordingExpirer{}
	m := newTestManager(t, expirer)

	s, err := m.CreateSession(20*time.Millisecond, types.SessionDelete)
	require.NoError(t, err)
	require.NoError(t, m.AssociateKey(s.ID, "config/a"))

	time.Sleep(50 * time.Millisecond)
	m.SweepExpiredSessions()

	assert.Equal(t, []string{"config/a"}, expirer.deleted)
	assert.Empty(t, expirer.released)

	info, err := m.Info(s.ID)
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestSessionExpiryRunsReleaseBehavior(t *testing.T) {
	expirer := &recordingExpirer{}
	m := newTestManager(t, expirer)

	s, err := m.CreateSession(20*time.Millisecond, types.SessionRelease)
	require.NoError(t, err)
	require.NoError(t, m.AssociateKey(s.ID, "config/b"))

	time.Sleep(50 * time.Millisecond)
	m.SweepExpiredSessions()

	assert.Equal(t, []string{"config/b"}, expirer.released)
	assert.Empty(t, expirer.deleted)
}
