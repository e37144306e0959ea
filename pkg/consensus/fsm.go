package consensus

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/concordkv/concord/pkg/storage"
	"github.com/concordkv/concord/pkg/types"
	"github.com/hashicorp/raft"
)

// FSM implements the Raft finite state machine over the CP entities:
// configuration items and history, persistent instances, locks, and
// sessions. Apply is single-threaded by Raft itself; the mutex here only
// guards against concurrent Snapshot/Restore racing with Apply.
type FSM struct {
	mu    sync.RWMutex
	store storage.Store
}

// NewFSM creates an FSM over the given durable store.
func NewFSM(store storage.Store) *FSM {
	return &FSM{store: store}
}

// Command represents a state change operation in the Raft log.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

const (
	OpPutConfig      = "put_config"
	OpDeleteConfig   = "delete_config"
	OpRollback       = "rollback"
	OpCompactHistory = "compact_history"
	OpRegister       = "register_instance"
	OpDeregister     = "deregister_instance"
	OpAcquireLock    = "acquire_lock"
	OpReleaseLock    = "release_lock"
	OpRenewLock      = "renew_lock"
	OpPutSession     = "put_session"
	OpDeleteSession  = "delete_session"
	OpAppendHistory  = "append_history"
)

// putConfigArgs carries both the item and its history entry so the two are
// applied atomically in a single log entry.
type putConfigArgs struct {
	Item    *types.ConfigItem   `json:"item"`
	History *types.HistoryEntry `json:"history"`
}

type rollbackArgs struct {
	ID      types.ConfigID `json:"id"`
	Version uint64         `json:"version"`
}

type compactHistoryArgs struct {
	ID   types.ConfigID `json:"id"`
	Keep int            `json:"keep"`
}

type lockArgs struct {
	Key   string `json:"key"`
	Owner string `json:"owner"`
	TTL   int64  `json:"ttl_ms"`
}

// Apply applies one committed Raft log entry to the FSM.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case OpPutConfig:
		var args putConfigArgs
		if err := json.Unmarshal(cmd.Data, &args); err != nil {
			return err
		}
		if err := f.store.PutConfig(args.Item); err != nil {
			return err
		}
		if args.History != nil {
			if err := f.store.AppendHistory(args.History); err != nil {
				return err
			}
		}
		return nil

	case OpDeleteConfig:
		var id types.ConfigID
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteConfig(id)

	case OpRollback:
		var args rollbackArgs
		if err := json.Unmarshal(cmd.Data, &args); err != nil {
			return err
		}
		entries, err := f.store.ListHistory(args.ID)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Version == args.Version {
				item, err := f.store.GetConfig(args.ID)
				if err != nil {
					return err
				}
				item.Content = e.Content
				item.ModifiedAt = e.Timestamp
				return f.store.PutConfig(item)
			}
		}
		return types.NewError(types.KindNotFound, "history version %d not found for %s", args.Version, args.ID)

	case OpCompactHistory:
		var args compactHistoryArgs
		if err := json.Unmarshal(cmd.Data, &args); err != nil {
			return err
		}
		return f.store.CompactHistory(args.ID, args.Keep)

	case OpRegister:
		var inst types.Instance
		if err := json.Unmarshal(cmd.Data, &inst); err != nil {
			return err
		}
		return f.store.PutInstance(&inst)

	case OpDeregister:
		var key string
		if err := json.Unmarshal(cmd.Data, &key); err != nil {
			return err
		}
		return f.store.DeleteInstance(key)

	case OpAcquireLock:
		var l types.Lock
		if err := json.Unmarshal(cmd.Data, &l); err != nil {
			return err
		}
		existing, err := f.store.GetLock(l.Key)
		if err != nil {
			return err
		}
		if existing != nil && !existing.Expired(l.AcquiredAt) && existing.Owner != l.Owner {
			return types.NewError(types.KindConflict, "lock %s already held by %s", l.Key, existing.Owner)
		}
		return f.store.PutLock(&l)

	case OpReleaseLock:
		var args lockArgs
		if err := json.Unmarshal(cmd.Data, &args); err != nil {
			return err
		}
		existing, err := f.store.GetLock(args.Key)
		if err != nil {
			return err
		}
		if existing == nil {
			return nil
		}
		if existing.Owner != args.Owner {
			return types.NewError(types.KindPermissionDenied, "lock %s owned by %s, not %s", args.Key, existing.Owner, args.Owner)
		}
		return f.store.DeleteLock(args.Key)

	case OpRenewLock:
		var l types.Lock
		if err := json.Unmarshal(cmd.Data, &l); err != nil {
			return err
		}
		existing, err := f.store.GetLock(l.Key)
		if err != nil {
			return err
		}
		if existing == nil || existing.Owner != l.Owner {
			return types.NewError(types.KindPermissionDenied, "cannot renew lock %s", l.Key)
		}
		return f.store.PutLock(&l)

	case OpAppendHistory:
		var entry types.HistoryEntry
		if err := json.Unmarshal(cmd.Data, &entry); err != nil {
			return err
		}
		return f.store.AppendHistory(&entry)

	case OpPutSession:
		var s types.Session
		if err := json.Unmarshal(cmd.Data, &s); err != nil {
			return err
		}
		return f.store.PutSession(&s)

	case OpDeleteSession:
		var id string
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteSession(id)

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// Snapshot creates a point-in-time snapshot of the FSM state.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	configs, err := f.store.ListConfigs("", "")
	if err != nil {
		return nil, fmt.Errorf("failed to list configs: %w", err)
	}
	instances, err := f.store.ListInstances()
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	locks, err := f.store.ListLocks()
	if err != nil {
		return nil, fmt.Errorf("failed to list locks: %w", err)
	}
	sessions, err := f.store.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	var history []*types.HistoryEntry
	for _, c := range configs {
		h, err := f.store.ListHistory(c.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list history for %s: %w", c.ID, err)
		}
		history = append(history, h...)
	}

	return &snapshot{
		Configs:   configs,
		History:   history,
		Instances: instances,
		Locks:     locks,
		Sessions:  sessions,
	}, nil
}

// Restore replaces FSM state from a snapshot read at node start or join.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap snapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, c := range snap.Configs {
		if err := f.store.PutConfig(c); err != nil {
			return fmt.Errorf("failed to restore config: %w", err)
		}
	}
	for _, h := range snap.History {
		if err := f.store.AppendHistory(h); err != nil {
			return fmt.Errorf("failed to restore history: %w", err)
		}
	}
	for _, inst := range snap.Instances {
		if err := f.store.PutInstance(inst); err != nil {
			return fmt.Errorf("failed to restore instance: %w", err)
		}
	}
	for _, l := range snap.Locks {
		if err := f.store.PutLock(l); err != nil {
			return fmt.Errorf("failed to restore lock: %w", err)
		}
	}
	for _, s := range snap.Sessions {
		if err := f.store.PutSession(s); err != nil {
			return fmt.Errorf("failed to restore session: %w", err)
		}
	}

	return nil
}

type snapshot struct {
	Configs   []*types.ConfigItem   `json:"configs"`
	History   []*types.HistoryEntry `json:"history"`
	Instances []*types.Instance     `json:"instances"`
	Locks     []*types.Lock         `json:"locks"`
	Sessions  []*types.Session      `json:"sessions"`
}

// Persist writes the snapshot to the given sink.
func (s *snapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

// Release is a no-op; the snapshot holds no external resources.
func (s *snapshot) Release() {}
