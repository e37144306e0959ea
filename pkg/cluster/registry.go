// Package cluster tracks live membership and plans locality-aware
// replication across datacenters. Member state follows the same
// consecutive-failure counting pkg/health applies to instance checks,
// driven by member heartbeats instead.
package cluster

import (
	"sync"
	"time"

	"github.com/concordkv/concord/pkg/events"
	"github.com/concordkv/concord/pkg/types"
)

// Registry tracks every member's state, applying the same consecutive-
// failure/success thresholds pkg/health uses for instance checks.
type Registry struct {
	mu              sync.RWMutex
	members         map[string]*memberEntry
	suspiciousAfter int
	downAfter       int
	broker          *events.Broker
}

type memberEntry struct {
	member               *types.Member
	consecutiveFailures  int
	consecutiveSuccesses int
}

// NewRegistry creates a Member Registry. suspiciousAfter/downAfter are the
// consecutive missed-heartbeat thresholds for Up→Suspicious and
// Suspicious→Down.
func NewRegistry(broker *events.Broker, suspiciousAfter, downAfter int) *Registry {
	if suspiciousAfter <= 0 {
		suspiciousAfter = 3
	}
	if downAfter <= 0 {
		downAfter = 6
	}
	return &Registry{
		members:         make(map[string]*memberEntry),
		suspiciousAfter: suspiciousAfter,
		downAfter:       downAfter,
		broker:          broker,
	}
}

// Join admits a new member in the Starting state, or re-admits a
// previously-removed one. Down members come back only through a new
// Join, never through a late heartbeat.
func (r *Registry) Join(m *types.Member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m.State = types.MemberStarting
	m.JoinedAt = time.Now()
	r.members[m.ID] = &memberEntry{member: m}
	r.publish(events.EventMemberJoined, m.ID, "member joined")
}

// Leave removes a member, e.g. on graceful leave or admin force-remove.
func (r *Registry) Leave(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[id]; ok {
		delete(r.members, id)
		r.publish(events.EventMemberLeft, id, "member left")
	}
}

// Heartbeat records a successful heartbeat, moving Starting/Suspicious
// members back to Up.
func (r *Registry) Heartbeat(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.members[id]
	if !ok {
		return
	}

	e.consecutiveFailures = 0
	e.consecutiveSuccesses++
	e.member.LastHeartbeat = time.Now()
	e.member.ConsecutiveSuccesses = e.consecutiveSuccesses
	e.member.ConsecutiveFailures = 0

	// Down -> Up is only reachable via a new Join; a stray heartbeat from
	// a member already declared Down or Isolated must not resurrect it.
	if e.member.State == types.MemberIsolated || e.member.State == types.MemberDown {
		return
	}
	if e.member.State != types.MemberUp {
		r.transition(e, types.MemberUp)
	}
}

// MissedHeartbeat records a failed heartbeat check, moving the member
// through Suspicious and then Down as the configured thresholds are
// crossed.
func (r *Registry) MissedHeartbeat(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.members[id]
	if !ok {
		return
	}

	e.consecutiveSuccesses = 0
	e.consecutiveFailures++
	e.member.ConsecutiveFailures = e.consecutiveFailures
	e.member.ConsecutiveSuccesses = 0

	switch {
	case e.consecutiveFailures >= r.downAfter:
		if e.member.State != types.MemberDown {
			r.transition(e, types.MemberDown)
		}
	case e.consecutiveFailures >= r.suspiciousAfter:
		if e.member.State == types.MemberUp || e.member.State == types.MemberStarting {
			r.transition(e, types.MemberSuspicious)
		}
	}
}

// Isolate marks a member reachable only by a minority partition.
func (r *Registry) Isolate(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.members[id]; ok && e.member.State != types.MemberIsolated {
		r.transition(e, types.MemberIsolated)
	}
}

func (r *Registry) transition(e *memberEntry, to types.MemberState) {
	e.member.State = to
	r.publish(events.EventMemberStateChanged, e.member.ID, string(to))
}

func (r *Registry) publish(t events.EventType, id, msg string) {
	if r.broker == nil {
		return
	}
	r.broker.Publish(&events.Event{
		Type:     t,
		Message:  msg,
		Metadata: map[string]string{"member_id": id},
	})
}

// Get returns a copy of one member's state, or nil if unknown.
func (r *Registry) Get(id string) *types.Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.members[id]
	if !ok {
		return nil
	}
	cp := *e.member
	return &cp
}

// ListMembers returns a snapshot of all tracked members. Implements
// metrics.MemberSource.
func (r *Registry) ListMembers() []*types.Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.Member, 0, len(r.members))
	for _, e := range r.members {
		cp := *e.member
		out = append(out, &cp)
	}
	return out
}

// Live returns members eligible for replication traffic: Up and
// Suspicious, excluding Down, Isolated, and Starting.
func (r *Registry) Live() []*types.Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*types.Member
	for _, e := range r.members {
		if e.member.State == types.MemberUp || e.member.State == types.MemberSuspicious {
			cp := *e.member
			out = append(out, &cp)
		}
	}
	return out
}

// LiveMemberIDs returns the ids of Up/Suspicious members, sorted is not
// required here since distro.OwnerOf sorts internally. Implements
// distro.RosterSource.
func (r *Registry) LiveMemberIDs() []string {
	live := r.Live()
	ids := make([]string, 0, len(live))
	for _, m := range live {
		ids = append(ids, m.ID)
	}
	return ids
}

// UpdateLocality refreshes a member's locality weight, typically from the
// local resource sampler.
func (r *Registry) UpdateLocality(id string, weight float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.members[id]; ok {
		e.member.Locality.Weight = weight
	}
}
