package cluster

import (
	"testing"

	"github.com/concordkv/concord/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func member(id, dc string) *types.Member {
	return &types.Member{ID: id, Host: "10.0.0." + id[len(id)-1:], Port: 7946, Locality: types.Locality{Datacenter: dc}}
}

func TestJoinStartsInStarting(t *testing.T) {
	r := NewRegistry(nil, 2, 4)
	r.Join(member("n1", "dc1"))

	m := r.Get("n1")
	require.NotNil(t, m)
	assert.Equal(t, types.MemberStarting, m.State)
	assert.Empty(t, r.Live(), "Starting members receive snapshots but not traffic")
}

func TestHeartbeatPromotesToUp(t *testing.T) {
	r := NewRegistry(nil, 2, 4)
	r.Join(member("n1", "dc1"))
	r.Heartbeat("n1")

	assert.Equal(t, types.MemberUp, r.Get("n1").State)
	assert.Len(t, r.Live(), 1)
}

func TestMissedHeartbeatsWalkThroughSuspiciousToDown(t *testing.T) {
	r := NewRegistry(nil, 2, 4)
	r.Join(member("n1", "dc1"))
	r.Heartbeat("n1")

	r.MissedHeartbeat("n1")
	assert.Equal(t, types.MemberUp, r.Get("n1").State, "one miss is below the suspicious threshold")

	r.MissedHeartbeat("n1")
	assert.Equal(t, types.MemberSuspicious, r.Get("n1").State)
	assert.Len(t, r.Live(), 1, "Suspicious members still take replication traffic")

	r.MissedHeartbeat("n1")
	r.MissedHeartbeat("n1")
	assert.Equal(t, types.MemberDown, r.Get("n1").State)
	assert.Empty(t, r.Live())
}

func TestSuspiciousRecoversOnHeartbeat(t *testing.T) {
	r := NewRegistry(nil, 2, 4)
	r.Join(member("n1", "dc1"))
	r.Heartbeat("n1")
	r.MissedHeartbeat("n1")
	r.MissedHeartbeat("n1")
	require.Equal(t, types.MemberSuspicious, r.Get("n1").State)

	r.Heartbeat("n1")
	assert.Equal(t, types.MemberUp, r.Get("n1").State)
	assert.Zero(t, r.Get("n1").ConsecutiveFailures)
}

func TestDownRequiresRejoinToComeBack(t *testing.T) {
	r := NewRegistry(nil, 1, 2)
	r.Join(member("n1", "dc1"))
	r.Heartbeat("n1")
	r.MissedHeartbeat("n1")
	r.MissedHeartbeat("n1")
	require.Equal(t, types.MemberDown, r.Get("n1").State)

	// Down -> Up only via a new join, not a stray heartbeat.
	r.Heartbeat("n1")
	assert.Equal(t, types.MemberDown, r.Get("n1").State)

	r.Join(member("n1", "dc1"))
	assert.Equal(t, types.MemberStarting, r.Get("n1").State)
	r.Heartbeat("n1")
	assert.Equal(t, types.MemberUp, r.Get("n1").State)
}

func TestIsolatedExcludedFromTrafficAndStaysIsolated(t *testing.T) {
	r := NewRegistry(nil, 2, 4)
	r.Join(member("n1", "dc1"))
	r.Heartbeat("n1")
	r.Isolate("n1")

	assert.Equal(t, types.MemberIsolated, r.Get("n1").State)
	assert.Empty(t, r.Live())

	// A heartbeat reaching a minority-partitioned member must not promote
	// it; only a new Join resets its state.
	r.Heartbeat("n1")
	assert.Equal(t, types.MemberIsolated, r.Get("n1").State)
}

func TestLiveMemberIDs(t *testing.T) {
	r := NewRegistry(nil, 2, 4)
	for _, id := range []string{"n1", "n2", "n3"} {
		r.Join(member(id, "dc1"))
		r.Heartbeat(id)
	}
	r.Isolate("n3")

	assert.ElementsMatch(t, []string{"n1", "n2"}, r.LiveMemberIDs())
}

func TestUpdateLocality(t *testing.T) {
	r := NewRegistry(nil, 2, 4)
	r.Join(member("n1", "dc1"))
	r.UpdateLocality("n1", 0.75)
	assert.Equal(t, 0.75, r.Get("n1").Locality.Weight)
}
