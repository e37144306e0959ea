package cluster

import (
	"testing"

	"github.com/concordkv/concord/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plannerFixture(t *testing.T) (*Registry, *Planner) {
	t.Helper()
	r := NewRegistry(nil, 2, 4)
	members := []*types.Member{
		{ID: "self", Host: "10.0.0.1", Port: 7946, Locality: types.Locality{Datacenter: "dc1", Weight: 1.0}},
		{ID: "local-heavy", Host: "10.0.0.2", Port: 7946, Locality: types.Locality{Datacenter: "dc1", Weight: 0.9}},
		{ID: "local-light", Host: "10.0.0.3", Port: 7946, Locality: types.Locality{Datacenter: "dc1", Weight: 0.2}},
		{ID: "remote-a", Host: "10.1.0.1", Port: 7946, Locality: types.Locality{Datacenter: "dc2", Weight: 0.8, LatencyMS: 40}},
		{ID: "remote-b", Host: "10.1.0.2", Port: 7946, Locality: types.Locality{Datacenter: "dc2", Weight: 0.5, LatencyMS: 12}},
		{ID: "remote-c", Host: "10.2.0.1", Port: 7946, Locality: types.Locality{Datacenter: "dc3", Weight: 0.5, LatencyMS: 90}},
	}
	for _, m := range members {
		r.Join(m)
		r.Heartbeat(m.ID)
	}
	return r, NewPlanner(r, "dc1")
}

func ids(members []*types.Member) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		out = append(out, m.ID)
	}
	return out
}

func TestSelectReplicationTargetsLocalFirst(t *testing.T) {
	_, p := plannerFixture(t)

	got := p.SelectReplicationTargets("self", 0)
	require.Len(t, got, 5)
	assert.Equal(t, []string{"local-heavy", "local-light"}, ids(got[:2]), "local DC first, descending weight")
	for _, m := range got[2:] {
		assert.NotEqual(t, "dc1", m.Locality.Datacenter)
	}
}

func TestSelectReplicationTargetsCap(t *testing.T) {
	_, p := plannerFixture(t)

	got := p.SelectReplicationTargets("self", 2)
	assert.Equal(t, []string{"local-heavy", "local-light"}, ids(got))
}

func TestSelectReplicationTargetsExcludesDownMembers(t *testing.T) {
	r, p := plannerFixture(t)
	for i := 0; i < 4; i++ {
		r.MissedHeartbeat("local-heavy")
	}
	require.Equal(t, types.MemberDown, r.Get("local-heavy").State)

	got := p.SelectReplicationTargets("self", 0)
	assert.NotContains(t, ids(got), "local-heavy")
}

func TestSelectReplicationTargetsTieBreaksOnAddress(t *testing.T) {
	r := NewRegistry(nil, 2, 4)
	for _, m := range []*types.Member{
		{ID: "b", Host: "10.0.0.9", Port: 7946, Locality: types.Locality{Datacenter: "dc1", Weight: 0.5}},
		{ID: "a", Host: "10.0.0.8", Port: 7946, Locality: types.Locality{Datacenter: "dc1", Weight: 0.5}},
	} {
		r.Join(m)
		r.Heartbeat(m.ID)
	}
	p := NewPlanner(r, "dc1")

	got := p.SelectReplicationTargets("", 0)
	assert.Equal(t, []string{"a", "b"}, ids(got), "equal weights order lexicographically by address")
}

func TestSelectCrossDCTargetsOnePerDCPreferringLatency(t *testing.T) {
	_, p := plannerFixture(t)

	got := p.SelectCrossDCTargets("self")
	require.Len(t, got, 2)
	assert.Equal(t, []string{"remote-b", "remote-c"}, ids(got), "lowest latency wins within dc2; one member per remote DC")
	for _, m := range got {
		assert.NotEqual(t, "dc1", m.Locality.Datacenter)
	}
}
