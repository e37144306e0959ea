// Package consensus wraps HashiCorp Raft into Concord's replicated log: the
// CP half of the system, serializing writes to configuration items,
// persistent instances, locks, and sessions through a single FSM so every
// voter converges on identical state.
package consensus

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/concordkv/concord/pkg/clog"
	"github.com/concordkv/concord/pkg/events"
	"github.com/concordkv/concord/pkg/metrics"
	"github.com/concordkv/concord/pkg/storage"
	"github.com/concordkv/concord/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Manager owns a node's Raft instance and its durable CP store.
type Manager struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft        *raft.Raft
	fsm         *FSM
	store       storage.Store
	eventBroker *events.Broker

	joinMu     sync.Mutex
	joinGrants map[string]joinGrant
}

// Config holds the parameters needed to create a Manager.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// NewManager constructs a Manager with its durable store and event broker,
// but does not start Raft; call Bootstrap or JoinSelf for that.
func NewManager(cfg *Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	fsm := NewFSM(store)

	eventBroker := events.NewBroker()
	eventBroker.Start()

	return &Manager{
		nodeID:      cfg.NodeID,
		bindAddr:    cfg.BindAddr,
		dataDir:     cfg.DataDir,
		fsm:         fsm,
		store:       store,
		eventBroker: eventBroker,
		joinGrants:  make(map[string]joinGrant),
	}, nil
}

func (m *Manager) raftConfig() *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(m.nodeID)

	// Tuned down from hashicorp/raft's WAN-oriented defaults for
	// sub-10s failover on a LAN-scale cluster.
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond
	return config
}

func (m *Manager) newRaft(config *raft.Config) (*raft.Raft, *raft.NetworkTransport, error) {
	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stable store: %w", err)
	}

	r, err := raft.NewRaft(config, m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create raft: %w", err)
	}

	return r, transport, nil
}

// Bootstrap initializes a new single-node Raft cluster with this node as
// the sole voter.
func (m *Manager) Bootstrap() error {
	config := m.raftConfig()
	r, transport, err := m.newRaft(config)
	if err != nil {
		return err
	}
	m.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{ID: config.LocalID, Address: transport.LocalAddr()},
		},
	}

	future := m.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %w", err)
	}

	logger := clog.WithNode(m.nodeID)
	logger.Info().Msg("bootstrapped single-node cluster")
	return nil
}

// JoinSelf starts Raft without bootstrapping, for a node that will be
// added to an existing cluster via the leader's AddVoter call.
func (m *Manager) JoinSelf() error {
	config := m.raftConfig()
	r, _, err := m.newRaft(config)
	if err != nil {
		return err
	}
	m.raft = r
	return nil
}

// AddVoter adds a new node to the Raft cluster. Must be called on the
// leader.
func (m *Manager) AddVoter(nodeID, address string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return types.NotLeader(m.LeaderAddr())
	}

	future := m.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to add voter: %w", err)
	}

	logger := clog.WithNode(nodeID)
	logger.Info().Str("address", address).Msg("added voter")
	return nil
}

// RemoveServer removes a node from the Raft cluster. Must be called on the
// leader.
func (m *Manager) RemoveServer(nodeID string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return types.NotLeader(m.LeaderAddr())
	}

	future := m.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to remove server: %w", err)
	}
	return nil
}

// GetClusterServers returns the voters currently in the Raft configuration.
func (m *Manager) GetClusterServers() ([]raft.Server, error) {
	if m.raft == nil {
		return nil, fmt.Errorf("raft not initialized")
	}
	future := m.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}
	return future.Configuration().Servers, nil
}

// IsLeader reports whether this node is the current Raft leader.
func (m *Manager) IsLeader() bool {
	if m.raft == nil {
		return false
	}
	return m.raft.State() == raft.Leader
}

// LeaderAddr returns the bind address of the current Raft leader.
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	return string(m.raft.Leader())
}

// GetRaftStats returns a snapshot of Raft's internal counters, also used
// to feed pkg/metrics.
func (m *Manager) GetRaftStats() map[string]interface{} {
	if m.raft == nil {
		return nil
	}

	stats := map[string]interface{}{
		"state":          m.raft.State().String(),
		"last_log_index": m.raft.LastIndex(),
		"applied_index":  m.raft.AppliedIndex(),
		"leader":         string(m.raft.Leader()),
	}

	if cf := m.raft.GetConfiguration(); cf.Error() == nil {
		stats["peers"] = uint64(len(cf.Configuration().Servers))
	} else {
		stats["peers"] = uint64(0)
	}

	return stats
}

// CollectRaftMetrics publishes current Raft state into pkg/metrics each
// time it is called; pkg/metrics.Collector does not call it.
func (m *Manager) CollectRaftMetrics() {
	if m.IsLeader() {
		metrics.RaftLeader.Set(1)
	} else {
		metrics.RaftLeader.Set(0)
	}

	stats := m.GetRaftStats()
	if stats == nil {
		return
	}
	if idx, ok := stats["applied_index"].(uint64); ok {
		metrics.RaftAppliedIndex.Set(float64(idx))
	}
	if peers, ok := stats["peers"].(uint64); ok {
		metrics.RaftPeers.Set(float64(peers))
	}
}

// GetEventBroker returns the manager's event broker.
func (m *Manager) GetEventBroker() *events.Broker {
	return m.eventBroker
}

// PublishEvent publishes an event to all subscribers.
func (m *Manager) PublishEvent(event *events.Event) {
	if m.eventBroker != nil {
		m.eventBroker.Publish(event)
	}
}

// Apply submits a command to the Raft log and blocks until it is applied.
func (m *Manager) Apply(op string, payload interface{}) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftApplyDuration)

	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return types.NotLeader(m.LeaderAddr())
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	cmdData, err := json.Marshal(Command{Op: op, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	future := m.raft.Apply(cmdData, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to apply command: %w", err)
	}

	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}

	return nil
}

// Store exposes the local read path (reads never go through Raft).
func (m *Manager) Store() storage.Store {
	return m.store
}

// NodeID returns this manager's Raft server ID.
func (m *Manager) NodeID() string {
	return m.nodeID
}

// Shutdown gracefully stops Raft, the event broker, and closes the store.
func (m *Manager) Shutdown() error {
	if m.eventBroker != nil {
		m.eventBroker.Stop()
	}

	if m.raft != nil {
		future := m.raft.Shutdown()
		if err := future.Error(); err != nil {
			return fmt.Errorf("failed to shutdown raft: %w", err)
		}
	}

	if m.store != nil {
		if err := m.store.Close(); err != nil {
			return fmt.Errorf("failed to close store: %w", err)
		}
	}

	return nil
}
