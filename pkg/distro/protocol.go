package distro

import (
	"context"
	"sync"
	"time"

	"github.com/concordkv/concord/pkg/clog"
	"github.com/concordkv/concord/pkg/types"
)

// PeerClient is the outbound half of the protocol: how a node reaches
// another member to exchange Sync/Verify/Snapshot messages. Implemented
// by pkg/transport over the gRPC connection registry; kept as a narrow
// interface here so pkg/distro never imports pkg/transport.
type PeerClient interface {
	Sync(ctx context.Context, peerID string, items []*types.DistroItem) error
	Verify(ctx context.Context, peerID string, digest map[string]uint64) ([]string, error)
	Snapshot(ctx context.Context, peerID string) ([]*types.DistroItem, error)
}

// RosterSource supplies the live member id list ownership hashing
// partitions over.
type RosterSource interface {
	LiveMemberIDs() []string
}

// TargetSelector picks which peers a fresh write fans out to immediately,
// ahead of the lazy convergence loop's next verify round. *cluster.Planner
// satisfies this; kept as a narrow interface here so pkg/distro never
// imports pkg/cluster.
type TargetSelector interface {
	SelectReplicationTargets(excludeSelf string, maxCount int) []*types.Member
}

// Distro implements the eventually-consistent replication protocol over
// an ItemStore: put_local/get/on_roster_change plus the Sync/Verify/
// Snapshot peer exchange that drives convergence.
type Distro struct {
	selfID string
	store  ItemStore
	roster RosterSource
	peers  PeerClient

	verMu   sync.Mutex
	lastVer map[string]uint64

	planner TargetSelector
	fanout  int
}

// NewDistro creates a Distro protocol instance for this node.
func NewDistro(selfID string, store ItemStore, roster RosterSource, peers PeerClient) *Distro {
	return &Distro{
		selfID:  selfID,
		store:   store,
		roster:  roster,
		peers:   peers,
		lastVer: make(map[string]uint64),
		fanout:  3,
	}
}

// SetPlanner wires a Datacenter Planner in, so every local write pushes
// immediately to its local-DC-first target selection instead of waiting
// for the next lazy verify round. fanout caps how many peers one write
// pushes to; zero keeps the default of 3.
func (d *Distro) SetPlanner(p TargetSelector, fanout int) {
	d.planner = p
	if fanout > 0 {
		d.fanout = fanout
	}
}

// isOwner reports whether this node currently owns key.
func (d *Distro) isOwner(key string) bool {
	return OwnerOf(key, d.roster.LiveMemberIDs()) == d.selfID
}

// PutLocal stamps a new version and stores it, but only if this node owns
// the key; owners mint versions as max(wall-clock, last-version+1).
func (d *Distro) PutLocal(key, content string, ephemeral bool) (*types.DistroItem, error) {
	if !d.isOwner(key) {
		return nil, types.NewError(types.KindPermissionDenied, "node %s does not own key %s", d.selfID, key)
	}

	d.verMu.Lock()
	now := uint64(time.Now().UnixNano())
	next := d.lastVer[key] + 1
	version := now
	if next > version {
		version = next
	}
	d.lastVer[key] = version
	d.verMu.Unlock()

	item := &types.DistroItem{
		Key:         key,
		Content:     content,
		Version:     version,
		Origin:      d.selfID,
		IsEphemeral: ephemeral,
		UpdatedAt:   time.Now(),
	}
	d.store.Put(item)
	d.pushToTargets(item)
	return item, nil
}

// pushToTargets fans item out to the Planner's selected replication
// targets in the background; a failed push is not fatal to the write,
// since the next verify round will resync it lazily.
func (d *Distro) pushToTargets(item *types.DistroItem) {
	if d.planner == nil {
		return
	}
	targets := d.planner.SelectReplicationTargets(d.selfID, d.fanout)
	if len(targets) == 0 {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, m := range targets {
			if err := d.peers.Sync(ctx, m.ID, []*types.DistroItem{item}); err != nil {
				clog.Logger.Warn().Str("peer_id", m.ID).Str("key", item.Key).Err(err).
					Msg("immediate replication push failed, will resync lazily via verify")
			}
		}
	}()
}

// Get reads a key from the local store regardless of ownership; AP reads
// are served from whatever the local node has, possibly stale.
func (d *Distro) Get(key string) (*types.DistroItem, bool) {
	return d.store.Get(key)
}

// Tombstone marks a key deleted without physically removing it, so the
// deletion itself can propagate before the tombstone is swept by age.
func (d *Distro) Tombstone(key string) error {
	existing, ok := d.store.Get(key)
	if !ok {
		return nil
	}
	if !d.isOwner(key) {
		return types.NewError(types.KindPermissionDenied, "node %s does not own key %s", d.selfID, key)
	}

	tombstone := &types.DistroItem{
		Key:         key,
		Content:     "",
		Version:     existing.Version + 1,
		Origin:      d.selfID,
		IsEphemeral: existing.IsEphemeral,
		Tombstone:   true,
		UpdatedAt:   time.Now(),
	}
	d.store.Put(tombstone)
	return nil
}

// HandleSync applies an incoming batch of peer writes, silently dropping
// any item whose version does not supersede what is already stored.
func (d *Distro) HandleSync(items []*types.DistroItem) {
	for _, item := range items {
		d.store.Put(item)
	}
}

// HandleVerify compares a peer's digest (key -> version) against the
// local store and returns the keys this node lags on: those it holds at
// an older version than the peer, or does not hold at all.
func (d *Distro) HandleVerify(digest map[string]uint64) []string {
	var stale []string
	for key, version := range digest {
		local, ok := d.store.Get(key)
		if !ok || local.Version < version {
			stale = append(stale, key)
		}
	}
	return stale
}

// HandleSnapshot returns the full local item set, used on join or
// suspected divergence.
func (d *Distro) HandleSnapshot() []*types.DistroItem {
	return d.store.List()
}

// localDigest returns key->version for every key this node owns, the
// payload a Verify round sends to peers.
func (d *Distro) localDigest() map[string]uint64 {
	digest := make(map[string]uint64)
	for _, item := range d.store.List() {
		if d.isOwner(item.Key) {
			digest[item.Key] = item.Version
		}
	}
	return digest
}

// VerifyRound sends this node's digest to peerID and follows up with a
// Sync of any keys the peer reports as stale. Returns the number of keys
// resynced.
func (d *Distro) VerifyRound(ctx context.Context, peerID string) (int, error) {
	digest := d.localDigest()
	if len(digest) == 0 {
		return 0, nil
	}

	stale, err := d.peers.Verify(ctx, peerID, digest)
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	var items []*types.DistroItem
	for _, key := range stale {
		if item, ok := d.store.Get(key); ok {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return 0, nil
	}

	if err := d.peers.Sync(ctx, peerID, items); err != nil {
		return 0, err
	}
	return len(items), nil
}

// OnRosterChange re-partitions ownership: keys newly owned by this node
// are recovered via Snapshot from a reachable previous owner, falling
// back to lazy recovery through the normal Verify loop.
func (d *Distro) OnRosterChange(ctx context.Context, previousMemberIDs []string) {
	newRoster := d.roster.LiveMemberIDs()

	for _, item := range d.store.List() {
		oldOwner := OwnerOf(item.Key, previousMemberIDs)
		newOwner := OwnerOf(item.Key, newRoster)
		if newOwner != d.selfID || oldOwner == d.selfID {
			continue
		}

		snap, err := d.peers.Snapshot(ctx, oldOwner)
		if err != nil {
			clog.Logger.Warn().Str("key", item.Key).Str("previous_owner", oldOwner).Err(err).
				Msg("snapshot from previous owner failed, will recover lazily via verify")
			continue
		}
		d.HandleSync(snap)
	}
}

// SweepTombstones removes tombstones older than retention, run by the
// same convergence-loop cron job as VerifyRound.
func (d *Distro) SweepTombstones(retention time.Duration) {
	cutoff := time.Now().Add(-retention)
	for _, item := range d.store.List() {
		if item.Tombstone && item.UpdatedAt.Before(cutoff) {
			d.store.Delete(item.Key)
		}
	}
}
