package metrics

import (
	"time"

	"github.com/concordkv/concord/pkg/types"
)

// MemberSource is the minimal view the collector needs of the Member
// Registry. Kept as an interface here (rather than importing pkg/cluster)
// to avoid a metrics<->cluster import cycle.
type MemberSource interface {
	ListMembers() []*types.Member
}

// InstanceSource is the minimal view the collector needs of the Instance
// Registry.
type InstanceSource interface {
	ListAllInstances() []*types.Instance
}

// ConfigSource is the minimal view the collector needs of the Config
// Store.
type ConfigSource interface {
	CountConfigItems() int
}

// Collector periodically samples process-wide registries into gauges.
type Collector struct {
	members   MemberSource
	instances InstanceSource
	configs   ConfigSource
	interval  time.Duration
	stopCh    chan struct{}
}

// NewCollector creates a metrics collector over the given sources. Any
// source may be nil, in which case that sample is skipped.
func NewCollector(members MemberSource, instances InstanceSource, configs ConfigSource, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{members: members, instances: instances, configs: configs, interval: interval, stopCh: make(chan struct{})}
}

// Start begins the collection loop.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collection loop.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.members != nil {
		counts := map[types.MemberState]int{}
		for _, m := range c.members.ListMembers() {
			counts[m.State]++
		}
		for _, state := range []types.MemberState{
			types.MemberStarting, types.MemberUp, types.MemberSuspicious,
			types.MemberDown, types.MemberIsolated,
		} {
			MembersTotal.WithLabelValues(string(state)).Set(float64(counts[state]))
		}
	}

	if c.instances != nil {
		var healthyEph, unhealthyEph, healthyPers, unhealthyPers float64
		for _, inst := range c.instances.ListAllInstances() {
			switch {
			case inst.Ephemeral && inst.Healthy:
				healthyEph++
			case inst.Ephemeral && !inst.Healthy:
				unhealthyEph++
			case !inst.Ephemeral && inst.Healthy:
				healthyPers++
			default:
				unhealthyPers++
			}
		}
		InstancesTotal.WithLabelValues("true", "true").Set(healthyEph)
		InstancesTotal.WithLabelValues("false", "true").Set(unhealthyEph)
		InstancesTotal.WithLabelValues("true", "false").Set(healthyPers)
		InstancesTotal.WithLabelValues("false", "false").Set(unhealthyPers)
	}

	if c.configs != nil {
		ConfigItemsTotal.Set(float64(c.configs.CountConfigItems()))
	}
}
