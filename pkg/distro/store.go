package distro

import (
	"sync"

	"github.com/concordkv/concord/pkg/types"
)

// ItemStore holds the AP (eventually-consistent) item set. MemoryStore is
// the default; RedisStore backs the same interface with go-redis for a
// shared second process.
type ItemStore interface {
	Get(key string) (*types.DistroItem, bool)
	Put(item *types.DistroItem) bool // returns true if item superseded what was stored
	List() []*types.DistroItem
	Delete(key string)
}

// MemoryStore is an in-memory ItemStore, the default backing for AP data.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*types.DistroItem
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*types.DistroItem)}
}

func (s *MemoryStore) Get(key string) (*types.DistroItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[key]
	return item, ok
}

func (s *MemoryStore) Put(item *types.DistroItem) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.items[item.Key]
	if ok && !item.Supersedes(existing) {
		return false
	}
	s.items[item.Key] = item
	return true
}

func (s *MemoryStore) List() []*types.DistroItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.DistroItem, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	return out
}

func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
}
