package distro

import (
	"context"
	"testing"
	"time"

	"github.com/concordkv/concord/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticRoster []string

func (r staticRoster) LiveMemberIDs() []string { return r }

// fakePeer records Sync pushes and answers Verify from a canned stale set.
type fakePeer struct {
	synced   map[string][]*types.DistroItem // peerID -> items received
	stale    []string
	verifyed map[string]map[string]uint64 // peerID -> last digest seen
	err      error
}

func newFakePeer() *fakePeer {
	return &fakePeer{
		synced:   make(map[string][]*types.DistroItem),
		verifyed: make(map[string]map[string]uint64),
	}
}

func (p *fakePeer) Sync(_ context.Context, peerID string, items []*types.DistroItem) error {
	if p.err != nil {
		return p.err
	}
	p.synced[peerID] = append(p.synced[peerID], items...)
	return nil
}

func (p *fakePeer) Verify(_ context.Context, peerID string, digest map[string]uint64) ([]string, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.verifyed[peerID] = digest
	return p.stale, nil
}

func (p *fakePeer) Snapshot(_ context.Context, peerID string) ([]*types.DistroItem, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.synced[peerID], nil
}

func TestOwnerOfIsDeterministic(t *testing.T) {
	roster := []string{"n3", "n1", "n2"}
	owner := OwnerOf("some/key", roster)
	assert.Contains(t, roster, owner)

	// Order of the roster slice must not matter.
	assert.Equal(t, owner, OwnerOf("some/key", []string{"n1", "n2", "n3"}))
	assert.Equal(t, owner, OwnerOf("some/key", []string{"n2", "n3", "n1"}))
}

func TestOwnerOfStableUnderChurn(t *testing.T) {
	roster := []string{"n1", "n2", "n3", "n4"}
	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h"}

	before := make(map[string]string)
	for _, k := range keys {
		before[k] = OwnerOf(k, roster)
	}

	// Removing n4 may only re-home keys n4 owned; everything else stays.
	shrunk := []string{"n1", "n2", "n3"}
	for _, k := range keys {
		if before[k] != "n4" {
			assert.Equal(t, before[k], OwnerOf(k, shrunk), "key %s moved without its owner leaving", k)
		} else {
			assert.Contains(t, shrunk, OwnerOf(k, shrunk))
		}
	}
}

func TestOwnerOfEmptyRoster(t *testing.T) {
	assert.Equal(t, "", OwnerOf("k", nil))
}

// ownedKey returns a key the given node owns under roster, so tests can
// exercise the owner-only paths without hardcoding hash outcomes.
func ownedKey(t *testing.T, selfID string, roster []string) string {
	t.Helper()
	candidates := []string{"alpha", "beta", "gamma", "delta", "epsilon", "zeta", "eta", "theta", "iota", "kappa"}
	for _, k := range candidates {
		if OwnerOf(k, roster) == selfID {
			return k
		}
	}
	t.Fatalf("no candidate key owned by %s", selfID)
	return ""
}

func TestPutLocalRejectsNonOwner(t *testing.T) {
	roster := staticRoster{"n1", "n2"}
	d := NewDistro("n1", NewMemoryStore(), roster, newFakePeer())

	foreign := ownedKey(t, "n2", roster)
	_, err := d.PutLocal(foreign, "x", true)
	require.Error(t, err)
	assert.Equal(t, types.KindPermissionDenied, types.KindOf(err))
}

func TestPutLocalMintsMonotonicVersions(t *testing.T) {
	roster := staticRoster{"n1"}
	d := NewDistro("n1", NewMemoryStore(), roster, newFakePeer())

	key := ownedKey(t, "n1", roster)
	first, err := d.PutLocal(key, "v1", true)
	require.NoError(t, err)
	second, err := d.PutLocal(key, "v2", true)
	require.NoError(t, err)

	assert.Greater(t, second.Version, first.Version)

	got, ok := d.Get(key)
	require.True(t, ok)
	assert.Equal(t, "v2", got.Content)
}

func TestMemoryStoreDropsOlderVersions(t *testing.T) {
	s := NewMemoryStore()
	require.True(t, s.Put(&types.DistroItem{Key: "k", Content: "new", Version: 10}))
	assert.False(t, s.Put(&types.DistroItem{Key: "k", Content: "old", Version: 9}), "older version must be discarded")
	assert.False(t, s.Put(&types.DistroItem{Key: "k", Content: "same", Version: 10}), "equal version must not supersede")

	got, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, "new", got.Content)
}

func TestHandleSyncAppliesSupersedingOnly(t *testing.T) {
	roster := staticRoster{"n1", "n2"}
	d := NewDistro("n1", NewMemoryStore(), roster, newFakePeer())

	d.HandleSync([]*types.DistroItem{{Key: "k", Content: "a", Version: 5, Origin: "n2"}})
	d.HandleSync([]*types.DistroItem{{Key: "k", Content: "stale", Version: 3, Origin: "n2"}})

	got, ok := d.Get("k")
	require.True(t, ok)
	assert.Equal(t, "a", got.Content)
	assert.EqualValues(t, 5, got.Version)
}

func TestHandleVerifyReportsStaleAndMissing(t *testing.T) {
	d := NewDistro("n1", NewMemoryStore(), staticRoster{"n1"}, newFakePeer())
	d.HandleSync([]*types.DistroItem{{Key: "fresh", Version: 7}})

	stale := d.HandleVerify(map[string]uint64{
		"fresh":   9, // peer digest newer than ours
		"missing": 1, // we have nothing, peer should resend
	})
	assert.ElementsMatch(t, []string{"fresh", "missing"}, stale)

	assert.Empty(t, d.HandleVerify(map[string]uint64{"fresh": 3}), "older peer digest: we already hold a newer version")

	assert.Empty(t, d.HandleVerify(map[string]uint64{"fresh": 7}), "up-to-date digest resolves to nothing")
}

func TestVerifyRoundSyncsStaleKeysToPeer(t *testing.T) {
	roster := staticRoster{"n1"}
	peer := newFakePeer()
	d := NewDistro("n1", NewMemoryStore(), roster, peer)

	key := ownedKey(t, "n1", roster)
	_, err := d.PutLocal(key, "content", true)
	require.NoError(t, err)

	peer.stale = []string{key}
	resynced, err := d.VerifyRound(context.Background(), "n2")
	require.NoError(t, err)
	assert.Equal(t, 1, resynced)

	require.Len(t, peer.synced["n2"], 1)
	assert.Equal(t, key, peer.synced["n2"][0].Key)
	assert.Contains(t, peer.verifyed["n2"], key)
}

func TestVerifyRoundNothingOwnedIsNoop(t *testing.T) {
	peer := newFakePeer()
	d := NewDistro("n1", NewMemoryStore(), staticRoster{"n1"}, peer)

	resynced, err := d.VerifyRound(context.Background(), "n2")
	require.NoError(t, err)
	assert.Zero(t, resynced)
	assert.Empty(t, peer.verifyed)
}

func TestTombstoneSupersedesAndSweeps(t *testing.T) {
	roster := staticRoster{"n1"}
	d := NewDistro("n1", NewMemoryStore(), roster, newFakePeer())

	key := ownedKey(t, "n1", roster)
	item, err := d.PutLocal(key, "x", true)
	require.NoError(t, err)

	require.NoError(t, d.Tombstone(key))
	got, ok := d.Get(key)
	require.True(t, ok)
	assert.True(t, got.Tombstone)
	assert.Greater(t, got.Version, item.Version, "tombstone must supersede the live item")

	// A peer replaying the pre-delete version must not resurrect it.
	d.HandleSync([]*types.DistroItem{{Key: key, Content: "x", Version: item.Version}})
	got, _ = d.Get(key)
	assert.True(t, got.Tombstone)

	d.SweepTombstones(time.Nanosecond)
	time.Sleep(time.Millisecond)
	d.SweepTombstones(time.Nanosecond)
	_, ok = d.Get(key)
	assert.False(t, ok, "aged tombstone should be swept")
}

func TestTombstoneUnknownKeyIsNoop(t *testing.T) {
	d := NewDistro("n1", NewMemoryStore(), staticRoster{"n1"}, newFakePeer())
	assert.NoError(t, d.Tombstone("never-written"))
}
