package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/concordkv/concord/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketConfigs   = []byte("configs")
	bucketHistory   = []byte("history")
	bucketInstances = []byte("instances")
	bucketLocks     = []byte("locks")
	bucketSessions  = []byte("sessions")
)

// BoltStore implements Store using bbolt, one bucket per entity kind.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the CP state database under
// dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "concord.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketConfigs, bucketHistory, bucketInstances, bucketLocks, bucketSessions} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

// --- Configuration items ---

func (s *BoltStore) PutConfig(item *types.ConfigItem) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(item)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketConfigs).Put([]byte(item.ID.String()), data)
	})
}

func (s *BoltStore) GetConfig(id types.ConfigID) (*types.ConfigItem, error) {
	var item types.ConfigItem
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketConfigs).Get([]byte(id.String()))
		if data == nil {
			return &types.Error{Kind: types.KindNotFound, Message: fmt.Sprintf("config not found: %s", id)}
		}
		return json.Unmarshal(data, &item)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *BoltStore) DeleteConfig(id types.ConfigID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConfigs).Delete([]byte(id.String()))
	})
}

func (s *BoltStore) ListConfigs(namespace, group string) ([]*types.ConfigItem, error) {
	var items []*types.ConfigItem
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConfigs).ForEach(func(k, v []byte) error {
			var item types.ConfigItem
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			if namespace != "" && item.ID.Namespace != namespace {
				return nil
			}
			if group != "" && item.ID.Group != group {
				return nil
			}
			items = append(items, &item)
			return nil
		})
	})
	return items, err
}

func (s *BoltStore) CountConfigs() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketConfigs).Stats().KeyN
		return nil
	})
	return n, err
}

// --- History ---

func historyKey(id types.ConfigID, version uint64) []byte {
	return []byte(fmt.Sprintf("%s@%020d", id.String(), version))
}

func (s *BoltStore) AppendHistory(entry *types.HistoryEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketHistory).Put(historyKey(entry.ID, entry.Version), data)
	})
}

func (s *BoltStore) ListHistory(id types.ConfigID) ([]*types.HistoryEntry, error) {
	prefix := []byte(id.String() + "@")
	var entries []*types.HistoryEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketHistory).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var e types.HistoryEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			entries = append(entries, &e)
		}
		return nil
	})
	return entries, err
}

func (s *BoltStore) CompactHistory(id types.ConfigID, keep int) error {
	entries, err := s.ListHistory(id)
	if err != nil {
		return err
	}
	if len(entries) <= keep {
		return nil
	}
	toDrop := entries[:len(entries)-keep]
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistory)
		for _, e := range toDrop {
			if err := b.Delete(historyKey(e.ID, e.Version)); err != nil {
				return err
			}
		}
		return nil
	})
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// --- Persistent instances ---

func (s *BoltStore) PutInstance(inst *types.Instance) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(inst)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketInstances).Put([]byte(inst.InstanceKey()), data)
	})
}

func (s *BoltStore) DeleteInstance(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInstances).Delete([]byte(key))
	})
}

func (s *BoltStore) GetInstance(key string) (*types.Instance, error) {
	var inst types.Instance
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketInstances).Get([]byte(key))
		if data == nil {
			return &types.Error{Kind: types.KindNotFound, Message: fmt.Sprintf("instance not found: %s", key)}
		}
		return json.Unmarshal(data, &inst)
	})
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (s *BoltStore) ListInstances() ([]*types.Instance, error) {
	var instances []*types.Instance
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInstances).ForEach(func(k, v []byte) error {
			var inst types.Instance
			if err := json.Unmarshal(v, &inst); err != nil {
				return err
			}
			instances = append(instances, &inst)
			return nil
		})
	})
	return instances, err
}

// --- Locks ---

func (s *BoltStore) PutLock(lock *types.Lock) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(lock)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketLocks).Put([]byte(lock.Key), data)
	})
}

func (s *BoltStore) DeleteLock(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLocks).Delete([]byte(key))
	})
}

func (s *BoltStore) GetLock(key string) (*types.Lock, error) {
	var lock types.Lock
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketLocks).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &lock)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &lock, nil
}

func (s *BoltStore) ListLocks() ([]*types.Lock, error) {
	var locks []*types.Lock
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLocks).ForEach(func(k, v []byte) error {
			var l types.Lock
			if err := json.Unmarshal(v, &l); err != nil {
				return err
			}
			locks = append(locks, &l)
			return nil
		})
	})
	return locks, err
}

// --- Sessions ---

func (s *BoltStore) PutSession(sess *types.Session) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketSessions).Put([]byte(sess.ID), data)
	})
}

func (s *BoltStore) DeleteSession(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).Delete([]byte(id))
	})
}

func (s *BoltStore) GetSession(id string) (*types.Session, error) {
	var sess types.Session
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSessions).Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &sess)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &sess, nil
}

func (s *BoltStore) ListSessions() ([]*types.Session, error) {
	var sessions []*types.Session
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).ForEach(func(k, v []byte) error {
			var sess types.Session
			if err := json.Unmarshal(v, &sess); err != nil {
				return err
			}
			sessions = append(sessions, &sess)
			return nil
		})
	})
	return sessions, err
}
