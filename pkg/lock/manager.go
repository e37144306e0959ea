package lock

import (
	"time"

	"github.com/concordkv/concord/pkg/clog"
	"github.com/concordkv/concord/pkg/consensus"
	"github.com/concordkv/concord/pkg/events"
	"github.com/concordkv/concord/pkg/metrics"
	"github.com/concordkv/concord/pkg/types"
	"github.com/google/uuid"
)

// KeyExpirer disassociates or deletes a key on behalf of an expiring
// session, depending on the session's configured SessionBehavior. The
// Config Store implements this for KV-backed session associations.
type KeyExpirer interface {
	ExpireKey(key string, delete bool) error
}

// Manager is the Distributed Lock and Session Manager: acquire/release/
// renew for locks, and create/destroy/renew/info for sessions, both
// backed by log commands through the replicated log.
type Manager struct {
	consensus *consensus.Manager
	broker    *events.Broker
	keys      KeyExpirer
}

// NewManager creates a Distributed Lock and Session Manager over mgr's
// replicated log. keys may be nil if no KV-session association is wired.
func NewManager(mgr *consensus.Manager, broker *events.Broker, keys KeyExpirer) *Manager {
	return &Manager{consensus: mgr, broker: broker, keys: keys}
}

// AcquireResult reports whether the acquire succeeded and, if not, who
// currently holds the lock.
type AcquireResult struct {
	Acquired     bool
	CurrentOwner string
}

// Acquire attempts to take key for owner. Succeeds iff the entry is
// absent or expired.
func (m *Manager) Acquire(key, owner string, ttl time.Duration, renewable bool) (*AcquireResult, error) {
	l := types.Lock{
		Key:        key,
		Owner:      owner,
		AcquiredAt: time.Now(),
		TTL:        ttl,
		Renewable:  renewable,
	}

	if err := m.consensus.Apply(consensus.OpAcquireLock, l); err != nil {
		if types.KindOf(err) == types.KindConflict {
			existing, getErr := m.consensus.Store().GetLock(key)
			if getErr == nil && existing != nil {
				return &AcquireResult{Acquired: false, CurrentOwner: existing.Owner}, nil
			}
		}
		return nil, err
	}

	metrics.LocksHeld.Inc()
	m.publish(events.EventLockAcquired, key, owner)
	return &AcquireResult{Acquired: true, CurrentOwner: owner}, nil
}

// lockArgs mirrors pkg/consensus's unexported release/renew argument
// shape so Apply's JSON payload matches what fsm.go expects.
type lockArgs struct {
	Key   string `json:"key"`
	Owner string `json:"owner"`
	TTL   int64  `json:"ttl_ms"`
}

// Release drops key if owner currently holds it. Once the lock's TTL has
// elapsed, any release is stale and returns a Conflict error; a release
// of a live lock by anyone other than its current owner returns a
// PermissionDenied error.
func (m *Manager) Release(key, owner string) error {
	existing, err := m.consensus.Store().GetLock(key)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	if existing.Expired(time.Now()) {
		return types.NewError(types.KindConflict, "lock %s expired, release is stale", key)
	}

	if err := m.consensus.Apply(consensus.OpReleaseLock, lockArgs{Key: key, Owner: owner}); err != nil {
		return err
	}

	metrics.LocksHeld.Dec()
	m.publish(events.EventLockReleased, key, owner)
	return nil
}

// Renew extends key's TTL for owner. A renew by a stale (expired) owner
// fails the same way a stale release does.
func (m *Manager) Renew(key, owner string, ttl time.Duration) error {
	existing, err := m.consensus.Store().GetLock(key)
	if err != nil {
		return err
	}
	if existing == nil || existing.Owner != owner {
		return types.NewError(types.KindPermissionDenied, "cannot renew lock %s", key)
	}
	if existing.Expired(time.Now()) {
		return types.NewError(types.KindConflict, "lock %s expired, renew is stale", key)
	}

	l := types.Lock{
		Key:        key,
		Owner:      owner,
		AcquiredAt: time.Now(),
		TTL:        ttl,
		Renewable:  existing.Renewable,
	}
	return m.consensus.Apply(consensus.OpRenewLock, l)
}

// Get returns the current lock entry for key, or nil if absent.
func (m *Manager) Get(key string) (*types.Lock, error) {
	return m.consensus.Store().GetLock(key)
}

// CreateSession starts a new TTL session bound to this node, associated
// with no keys yet.
func (m *Manager) CreateSession(ttl time.Duration, behavior types.SessionBehavior) (*types.Session, error) {
	now := time.Now()
	s := &types.Session{
		ID:        uuid.NewString(),
		TTL:       ttl,
		Node:      m.consensus.NodeID(),
		Behavior:  behavior,
		CreatedAt: now,
		RenewedAt: now,
	}
	if err := m.consensus.Apply(consensus.OpPutSession, s); err != nil {
		return nil, err
	}
	metrics.SessionsActive.Inc()
	return s, nil
}

// Destroy ends a session immediately, running its expiry behavior
// against every associated key as if the TTL had elapsed.
func (m *Manager) Destroy(id string) error {
	s, err := m.consensus.Store().GetSession(id)
	if err != nil {
		return err
	}
	if s == nil {
		return nil
	}
	m.expire(s)
	return m.consensus.Apply(consensus.OpDeleteSession, id)
}

// RenewSession extends a session's TTL and resets its clock.
func (m *Manager) RenewSession(id string, ttl time.Duration) (*types.Session, error) {
	s, err := m.consensus.Store().GetSession(id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, types.NewError(types.KindNotFound, "session %s not found", id)
	}

	s.TTL = ttl
	s.RenewedAt = time.Now()
	if err := m.consensus.Apply(consensus.OpPutSession, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Info returns a session's current state.
func (m *Manager) Info(id string) (*types.Session, error) {
	return m.consensus.Store().GetSession(id)
}

// AssociateKey records that key is held by session id, via a KV put with
// ?acquire=session.
func (m *Manager) AssociateKey(id, key string) error {
	s, err := m.consensus.Store().GetSession(id)
	if err != nil {
		return err
	}
	if s == nil {
		return types.NewError(types.KindNotFound, "session %s not found", id)
	}
	for _, k := range s.Keys {
		if k == key {
			return nil
		}
	}
	s.Keys = append(s.Keys, key)
	return m.consensus.Apply(consensus.OpPutSession, s)
}

// DisassociateKey removes key from session id, via ?release=session.
func (m *Manager) DisassociateKey(id, key string) error {
	s, err := m.consensus.Store().GetSession(id)
	if err != nil {
		return err
	}
	if s == nil {
		return nil
	}
	kept := s.Keys[:0]
	for _, k := range s.Keys {
		if k != key {
			kept = append(kept, k)
		}
	}
	s.Keys = kept
	return m.consensus.Apply(consensus.OpPutSession, s)
}

// SweepExpiredSessions runs expiry behavior against every session whose
// TTL has elapsed since its last renewal. Intended to be called on a
// cron tick by the owning component.
func (m *Manager) SweepExpiredSessions() {
	sessions, err := m.consensus.Store().ListSessions()
	if err != nil {
		clog.Logger.Warn().Err(err).Msg("failed to list sessions for expiry sweep")
		return
	}

	now := time.Now()
	for _, s := range sessions {
		if !s.Expired(now) {
			continue
		}
		m.expire(s)
		if err := m.consensus.Apply(consensus.OpDeleteSession, s.ID); err != nil {
			clog.Logger.Warn().Err(err).Str("session", s.ID).Msg("failed to delete expired session")
		}
	}
}

func (m *Manager) expire(s *types.Session) {
	metrics.SessionsActive.Dec()
	if m.keys == nil {
		return
	}
	deleteKeys := s.Behavior == types.SessionDelete
	for _, key := range s.Keys {
		if err := m.keys.ExpireKey(key, deleteKeys); err != nil {
			clog.Logger.Warn().Err(err).Str("key", key).Msg("failed to run session expiry behavior")
		}
	}
}

func (m *Manager) publish(t events.EventType, key, owner string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{
		Type:    t,
		Message: "lock " + key,
		Metadata: map[string]string{
			"key":   key,
			"owner": owner,
		},
	})
}
