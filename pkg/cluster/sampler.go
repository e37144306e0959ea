package cluster

import (
	"time"

	"github.com/concordkv/concord/pkg/clog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Sampler periodically measures local spare capacity and feeds it into
// the Registry as this node's locality weight, so the Planner prefers
// less-loaded members within a datacenter.
type Sampler struct {
	registry *Registry
	selfID   string
	interval time.Duration
	stopCh   chan struct{}
}

// NewSampler creates a sampler for the local node's entry in registry.
func NewSampler(registry *Registry, selfID string, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Sampler{registry: registry, selfID: selfID, interval: interval, stopCh: make(chan struct{})}
}

// Start begins the sampling loop.
func (s *Sampler) Start() {
	ticker := time.NewTicker(s.interval)
	go func() {
		s.sample()
		for {
			select {
			case <-ticker.C:
				s.sample()
			case <-s.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the sampling loop.
func (s *Sampler) Stop() {
	close(s.stopCh)
}

func (s *Sampler) sample() {
	weight, err := spareCapacityWeight()
	if err != nil {
		clog.Logger.Warn().Err(err).Msg("failed to sample local resource usage")
		return
	}
	s.registry.UpdateLocality(s.selfID, weight)
}

// spareCapacityWeight returns a 0-1 score where higher means more spare
// CPU and memory headroom, used directly as Locality.Weight.
func spareCapacityWeight() (float64, error) {
	cpuPercents, err := cpu.Percent(0, false)
	if err != nil {
		return 0, err
	}
	var cpuUsed float64
	if len(cpuPercents) > 0 {
		cpuUsed = cpuPercents[0] / 100
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	memUsed := vm.UsedPercent / 100

	spareCPU := 1 - cpuUsed
	spareMem := 1 - memUsed
	weight := (spareCPU + spareMem) / 2
	if weight < 0 {
		weight = 0
	}
	return weight, nil
}
