// Package registry implements the Instance Registry: service discovery
// over both persistent instances (CP, through the replicated log) and
// ephemeral instances (AP, through the eventual-replication protocol),
// unified behind one read API with protection-threshold fallback.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/concordkv/concord/pkg/clog"
	"github.com/concordkv/concord/pkg/consensus"
	"github.com/concordkv/concord/pkg/distro"
	"github.com/concordkv/concord/pkg/events"
	"github.com/concordkv/concord/pkg/health"
	"github.com/concordkv/concord/pkg/types"
)

// Registry ties persistent and ephemeral instance registration together.
type Registry struct {
	mu       sync.RWMutex
	cp       *consensus.Manager
	ap       *distro.Distro
	health   *health.Scheduler
	broker   *events.Broker
	services map[types.ServiceID]*types.Service

	ephemeralTTL     time.Duration
	ephemeralLast    map[string]time.Time
	evictAfterMisses int
}

// NewRegistry creates an Instance Registry bridging cp (persistent
// instances) and ap (ephemeral instances).
func NewRegistry(cp *consensus.Manager, ap *distro.Distro, healthScheduler *health.Scheduler, broker *events.Broker, ephemeralTTL time.Duration) *Registry {
	if ephemeralTTL <= 0 {
		ephemeralTTL = 15 * time.Second
	}
	return &Registry{
		cp:               cp,
		ap:               ap,
		health:           healthScheduler,
		broker:           broker,
		services:         make(map[types.ServiceID]*types.Service),
		ephemeralTTL:     ephemeralTTL,
		ephemeralLast:    make(map[string]time.Time),
		evictAfterMisses: 3,
	}
}

// DefineService registers a service's metadata (protection threshold,
// selector). Idempotent.
func (r *Registry) DefineService(svc *types.Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[svc.ID] = svc
}

func ephemeralKey(inst *types.Instance) string {
	return fmt.Sprintf("%s/%s/%s", inst.Service.String(), inst.Cluster, inst.InstanceKey())
}

// Register inserts or updates an instance. Ephemeral instances go
// through the eventual-replication protocol; persistent instances go
// through the replicated log.
func (r *Registry) Register(inst *types.Instance) error {
	if inst.Ephemeral {
		data, err := marshalInstance(inst)
		if err != nil {
			return err
		}
		if _, err := r.ap.PutLocal(ephemeralKey(inst), data, true); err != nil {
			return err
		}
		r.mu.Lock()
		r.ephemeralLast[ephemeralKey(inst)] = time.Now()
		r.mu.Unlock()
	} else {
		if err := r.cp.Apply(consensus.OpRegister, inst); err != nil {
			return err
		}
	}

	if r.health != nil && !inst.Ephemeral {
		r.health.Register(inst.InstanceKey(), checkerFor(inst), health.Probe{}) //nolint:errcheck // defaulted Probe specs always parse
	}

	r.publish(events.EventInstanceRegistered, inst)
	return nil
}

// Deregister removes an instance. An ephemeral deregister stamps a
// tombstone so an older peer's copy cannot resurrect it.
func (r *Registry) Deregister(inst *types.Instance) error {
	if inst.Ephemeral {
		if err := r.ap.Tombstone(ephemeralKey(inst)); err != nil {
			return err
		}
		r.mu.Lock()
		delete(r.ephemeralLast, ephemeralKey(inst))
		r.mu.Unlock()
	} else {
		if err := r.cp.Apply(consensus.OpDeregister, inst.InstanceKey()); err != nil {
			return err
		}
	}

	if r.health != nil {
		r.health.Unregister(inst.InstanceKey())
	}

	r.publish(events.EventInstanceDeregistered, inst)
	return nil
}

// Heartbeat records a liveness signal for an ephemeral instance,
// resetting its TTL clock.
func (r *Registry) Heartbeat(inst *types.Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ephemeralLast[ephemeralKey(inst)] = time.Now()
}

// ApplyHealthTransition is the health.Scheduler OnTransition callback:
// it flips the Healthy flag an active checker owns for a persistent
// instance (ephemeral instances are never registered with the
// Scheduler; their Healthy flag is heartbeat/probe-driven per
// SweepExpiredEphemeral).
func (r *Registry) ApplyHealthTransition(key string, healthy bool) {
	inst, err := r.cp.Store().GetInstance(key)
	if err != nil || inst == nil {
		return
	}
	if inst.Healthy == healthy {
		return
	}
	inst.Healthy = healthy
	if err := r.cp.Apply(consensus.OpRegister, inst); err != nil {
		clog.Logger.Warn().Err(err).Str("instance", key).Msg("failed to apply health transition")
		return
	}
	r.publish(events.EventInstanceHealthChanged, inst)
}

// SweepExpiredEphemeral marks ephemeral instances unhealthy once their
// heartbeat TTL elapses and evicts them after evictAfterMisses
// consecutive windows of silence.
func (r *Registry) SweepExpiredEphemeral() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.ephemeralTTL)
	evictCutoff := time.Now().Add(-time.Duration(r.evictAfterMisses) * r.ephemeralTTL)

	for key, last := range r.ephemeralLast {
		if last.Before(evictCutoff) {
			r.ap.Tombstone(key) //nolint:errcheck // best-effort eviction sweep
			delete(r.ephemeralLast, key)
			continue
		}
		if last.Before(cutoff) {
			if item, ok := r.ap.Get(key); ok {
				inst, err := unmarshalInstance(item.Content)
				if err == nil {
					inst.Healthy = false
					if data, err := marshalInstance(inst); err == nil {
						r.ap.PutLocal(key, data, true) //nolint:errcheck
					}
				}
			}
		}
	}
}

// ListInstances returns instances for a service/cluster, applying the
// protection threshold: if the healthy ratio falls below the service's
// configured threshold, every instance (including unhealthy) is
// returned rather than just the healthy subset.
func (r *Registry) ListInstances(id types.ServiceID, cluster string) ([]*types.Instance, error) {
	all, err := r.listAll(id, cluster)
	if err != nil {
		return nil, err
	}

	threshold := r.protectionThreshold(id)
	if threshold <= 0 {
		return filterHealthy(all), nil
	}

	healthyCount := 0
	for _, inst := range all {
		if inst.Healthy {
			healthyCount++
		}
	}
	if len(all) > 0 && float64(healthyCount)/float64(len(all)) < threshold {
		clog.Logger.Warn().Str("service", id.String()).Msg("protection threshold engaged, returning all instances")
		return all, nil
	}

	return filterHealthy(all), nil
}

func (r *Registry) protectionThreshold(id types.ServiceID) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if svc, ok := r.services[id]; ok {
		return svc.ProtectionThreshold
	}
	return 0
}

func filterHealthy(all []*types.Instance) []*types.Instance {
	out := make([]*types.Instance, 0, len(all))
	for _, inst := range all {
		if inst.Healthy {
			out = append(out, inst)
		}
	}
	return out
}

func (r *Registry) listAll(id types.ServiceID, cluster string) ([]*types.Instance, error) {
	var out []*types.Instance

	persistent, err := r.cp.Store().ListInstances()
	if err != nil {
		return nil, err
	}
	for _, inst := range persistent {
		if inst.Service == id && (cluster == "" || inst.Cluster == cluster) {
			out = append(out, inst)
		}
	}

	for _, item := range r.ap.HandleSnapshot() {
		if item.Tombstone {
			continue
		}
		inst, err := unmarshalInstance(item.Content)
		if err != nil {
			continue
		}
		if inst.Service == id && (cluster == "" || inst.Cluster == cluster) {
			out = append(out, inst)
		}
	}

	return out, nil
}

// ListAllInstances returns every instance across all services. Implements
// metrics.InstanceSource.
func (r *Registry) ListAllInstances() []*types.Instance {
	var out []*types.Instance

	if persistent, err := r.cp.Store().ListInstances(); err == nil {
		out = append(out, persistent...)
	}
	for _, item := range r.ap.HandleSnapshot() {
		if item.Tombstone {
			continue
		}
		if inst, err := unmarshalInstance(item.Content); err == nil {
			out = append(out, inst)
		}
	}
	return out
}

func (r *Registry) publish(t events.EventType, inst *types.Instance) {
	if r.broker == nil {
		return
	}
	r.broker.Publish(&events.Event{
		Type:    t,
		Message: fmt.Sprintf("instance %s for service %s", inst.InstanceKey(), inst.Service.String()),
		Metadata: map[string]string{
			"service": inst.Service.String(),
			"cluster": inst.Cluster,
		},
	})
}
