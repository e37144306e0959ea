package cluster

import (
	"sort"

	"github.com/concordkv/concord/pkg/types"
)

// Planner selects replication targets across datacenters, preferring
// local-DC members by locality weight and then remote-DC members;
// SelectCrossDCTargets picks one representative per remote DC.
type Planner struct {
	registry *Registry
	localDC  string
}

// NewPlanner creates a Planner for the given node's home datacenter.
func NewPlanner(registry *Registry, localDC string) *Planner {
	return &Planner{registry: registry, localDC: localDC}
}

// SelectReplicationTargets returns local-DC members first (descending
// locality weight), then remote-DC members, capped at maxCount. Ties
// break lexicographically on address for determinism.
func (p *Planner) SelectReplicationTargets(excludeSelf string, maxCount int) []*types.Member {
	live := p.registry.Live()

	var local, remote []*types.Member
	for _, m := range live {
		if m.ID == excludeSelf {
			continue
		}
		if m.Locality.Datacenter == p.localDC {
			local = append(local, m)
		} else {
			remote = append(remote, m)
		}
	}

	sort.Slice(local, func(i, j int) bool {
		if local[i].Locality.Weight != local[j].Locality.Weight {
			return local[i].Locality.Weight > local[j].Locality.Weight
		}
		return local[i].Address() < local[j].Address()
	})
	sort.Slice(remote, func(i, j int) bool {
		if remote[i].Locality.Weight != remote[j].Locality.Weight {
			return remote[i].Locality.Weight > remote[j].Locality.Weight
		}
		return remote[i].Address() < remote[j].Address()
	})

	out := append(local, remote...)
	if maxCount > 0 && len(out) > maxCount {
		out = out[:maxCount]
	}
	return out
}

// SelectCrossDCTargets returns at most one member per remote datacenter,
// preferring the lowest stated latency, tie-breaking lexicographically on
// address.
func (p *Planner) SelectCrossDCTargets(excludeSelf string) []*types.Member {
	live := p.registry.Live()

	bestByDC := make(map[string]*types.Member)
	for _, m := range live {
		if m.ID == excludeSelf || m.Locality.Datacenter == p.localDC {
			continue
		}
		best, ok := bestByDC[m.Locality.Datacenter]
		if !ok {
			bestByDC[m.Locality.Datacenter] = m
			continue
		}
		if m.Locality.LatencyMS < best.Locality.LatencyMS ||
			(m.Locality.LatencyMS == best.Locality.LatencyMS && m.Address() < best.Address()) {
			bestByDC[m.Locality.Datacenter] = m
		}
	}

	dcs := make([]string, 0, len(bestByDC))
	for dc := range bestByDC {
		dcs = append(dcs, dc)
	}
	sort.Strings(dcs)

	out := make([]*types.Member, 0, len(dcs))
	for _, dc := range dcs {
		out = append(out, bestByDC[dc])
	}
	return out
}
