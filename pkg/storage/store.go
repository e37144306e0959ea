// Package storage defines Concord's durable CP storage: configuration
// items and history, persistent instances, locks, and sessions. It backs
// the replicated-log state machine in pkg/consensus.
package storage

import "github.com/concordkv/concord/pkg/types"

// Store is the interface the FSM applies committed commands against. It is
// implemented by BoltStore (bbolt-backed, durable across restart).
type Store interface {
	// Configuration items
	PutConfig(item *types.ConfigItem) error
	GetConfig(id types.ConfigID) (*types.ConfigItem, error)
	DeleteConfig(id types.ConfigID) error
	ListConfigs(namespace, group string) ([]*types.ConfigItem, error)
	CountConfigs() (int, error)

	// History
	AppendHistory(entry *types.HistoryEntry) error
	ListHistory(id types.ConfigID) ([]*types.HistoryEntry, error)
	CompactHistory(id types.ConfigID, keep int) error

	// Persistent (CP) instances
	PutInstance(inst *types.Instance) error
	DeleteInstance(key string) error
	GetInstance(key string) (*types.Instance, error)
	ListInstances() ([]*types.Instance, error)

	// Locks
	PutLock(lock *types.Lock) error
	DeleteLock(key string) error
	GetLock(key string) (*types.Lock, error)
	ListLocks() ([]*types.Lock, error)

	// Sessions
	PutSession(s *types.Session) error
	DeleteSession(id string) error
	GetSession(id string) (*types.Session, error)
	ListSessions() ([]*types.Session, error)

	Close() error
}
