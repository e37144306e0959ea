package configstore

import (
	"testing"
	"time"

	"github.com/concordkv/concord/pkg/consensus"
	"github.com/concordkv/concord/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore bootstraps a single-node replicated log and waits for
// leadership before handing the store to the test.
func newTestStore(t *testing.T) *Store {
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

	return NewStore(mgr, nil)
}

func TestPublishAndGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	id := types.ConfigID{Namespace: "public", Group: "DEFAULT", DataID: "a"}

	_, err := s.Publish(id, []byte("x"), "text", "alice", nil, "", "")
	require.NoError(t, err)

	item, content, err := s.Get(id, ClientIdentity{})
	require.NoError(t, err)
	assert.Equal(t, "x", string(content))
	assert.Equal(t, md5Hex([]byte("x")), item.MD5)
}

func TestPublishSameContentIsNoop(t *testing.T) {
	s := newTestStore(t)
	id := types.ConfigID{Namespace: "public", Group: "DEFAULT", DataID: "b"}

	first, err := s.Publish(id, []byte("same"), "text", "alice", nil, "", "")
	require.NoError(t, err)

	second, err := s.Publish(id, []byte("same"), "text", "alice", nil, "", "")
	require.NoError(t, err)

	assert.Equal(t, first.MD5, second.MD5)
	history, err := s.History(id)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRemoveThenGetNotFound(t *testing.T) {
	s := newTestStore(t)
	id := types.ConfigID{Namespace: "public", Group: "DEFAULT", DataID: "c"}

	_, err := s.Publish(id, []byte("x"), "text", "alice", nil, "", "")
	require.NoError(t, err)
	require.NoError(t, s.Remove(id, "alice"))

	_, _, err = s.Get(id, ClientIdentity{})
	assert.Equal(t, types.KindNotFound, types.KindOf(err))
}

func TestRollbackRestoresContentAndAppendsHistory(t *testing.T) {
	s := newTestStore(t)
	id := types.ConfigID{Namespace: "public", Group: "DEFAULT", DataID: "d"}

	v1, err := s.Publish(id, []byte("v1"), "text", "alice", nil, "", "")
	require.NoError(t, err)
	_, err = s.Publish(id, []byte("v2"), "text", "alice", nil, "", "")
	require.NoError(t, err)
	_, err = s.Publish(id, []byte("v3"), "text", "alice", nil, "", "")
	require.NoError(t, err)

	history, err := s.History(id)
	require.NoError(t, err)
	require.Len(t, history, 3)

	var v1Version uint64
	for _, h := range history {
		if string(h.Content) == "v1" {
			v1Version = h.Version
		}
	}
	require.NotZero(t, v1Version)

	rolled, err := s.Rollback(id, v1Version, "bob")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(rolled.Content))
	assert.Equal(t, v1.MD5, rolled.MD5)

	history, err = s.History(id)
	require.NoError(t, err)
	assert.Len(t, history, 4)
	assert.Equal(t, types.HistoryRollback, history[len(history)-1].Op)
}

func TestPublishRejectsOversizedContent(t *testing.T) {
	s := newTestStore(t)
	s.maxContentSize = 4
	id := types.ConfigID{Namespace: "public", Group: "DEFAULT", DataID: "e"}

	_, err := s.Publish(id, []byte("1234"), "text", "alice", nil, "", "")
	assert.NoError(t, err)

	_, err = s.Publish(id, []byte("12345"), "text", "alice", nil, "", "")
	assert.Equal(t, types.KindValidation, types.KindOf(err))
}

func TestSearchFuzzyMatchesCompositeKey(t *testing.T) {
	s := newTestStore(t)
	id := types.ConfigID{Namespace: "public", Group: "DEFAULT", DataID: "service-a"}
	_, err := s.Publish(id, []byte("x"), "text", "alice", nil, "", "")
	require.NoError(t, err)

	matches, err := s.SearchFuzzy("public/DEFAULT/service-*")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, id, matches[0].ID)
}

func TestExpireKeyDeletesOnlyWhenToldTo(t *testing.T) {
	s := newTestStore(t)
	id := types.ConfigID{Namespace: "public", Group: "DEFAULT", DataID: "session-key"}
	_, err := s.Publish(id, []byte("x"), "text", "alice", nil, "", "")
	require.NoError(t, err)

	require.NoError(t, s.ExpireKey("public/DEFAULT/session-key", false))
	_, _, err = s.Get(id, ClientIdentity{})
	require.NoError(t, err, "release behavior must not delete the item")

	require.NoError(t, s.ExpireKey("public/DEFAULT/session-key", true))
	_, _, err = s.Get(id, ClientIdentity{})
	assert.Equal(t, types.KindNotFound, types.KindOf(err))
}
