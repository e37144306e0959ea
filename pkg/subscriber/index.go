package subscriber

import (
	"path"
	"sort"
	"sync"
)

// MD5Source resolves the current server-side md5 for a key. BatchListen
// uses it to tell a reconnecting client which of its cached entries are
// stale.
type MD5Source interface {
	MD5For(key string) (md5 string, ok bool)
}

// Index tracks exact subscriptions and glob watches, keyed by connection
// id, the way pkg/events tracks one channel per subscriber.
type Index struct {
	mu sync.RWMutex

	subsByKey  map[string]map[string]bool // key -> connection ids
	watchByPat map[string]map[string]bool // pattern -> connection ids
	keysByConn map[string]map[string]bool // connection id -> subscribed keys
	patsByConn map[string]map[string]bool // connection id -> watched patterns
}

// NewIndex creates an empty Subscriber/Watcher Index.
func NewIndex() *Index {
	return &Index{
		subsByKey:  make(map[string]map[string]bool),
		watchByPat: make(map[string]map[string]bool),
		keysByConn: make(map[string]map[string]bool),
		patsByConn: make(map[string]map[string]bool),
	}
}

// Subscribe registers connID for exact-match notifications on key.
func (idx *Index) Subscribe(connID, key string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	addTo(idx.subsByKey, key, connID)
	addTo(idx.keysByConn, connID, key)
}

// Unsubscribe removes connID's interest in key.
func (idx *Index) Unsubscribe(connID, key string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	removeFrom(idx.subsByKey, key, connID)
	removeFrom(idx.keysByConn, connID, key)
}

// Watch registers connID for notifications on every key matching pattern.
func (idx *Index) Watch(connID, pattern string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	addTo(idx.watchByPat, pattern, connID)
	addTo(idx.patsByConn, connID, pattern)
}

// Unwatch removes connID's interest in pattern.
func (idx *Index) Unwatch(connID, pattern string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	removeFrom(idx.watchByPat, pattern, connID)
	removeFrom(idx.patsByConn, connID, pattern)
}

// SubscribersFor returns every connection exactly subscribed to key.
func (idx *Index) SubscribersFor(key string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return sortedKeys(idx.subsByKey[key])
}

// WatchersFor returns every connection whose watched pattern matches key.
// Pattern matching is case-sensitive glob via stdlib path.Match.
func (idx *Index) WatchersFor(key string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	seen := make(map[string]bool)
	for pattern, conns := range idx.watchByPat {
		ok, err := path.Match(pattern, key)
		if err != nil || !ok {
			continue
		}
		for conn := range conns {
			seen[conn] = true
		}
	}
	return sortedKeys(seen)
}

// Unregister atomically removes every subscription and watch held by
// connID, the cleanup that must run when its connection closes.
func (idx *Index) Unregister(connID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for key := range idx.keysByConn[connID] {
		removeFrom(idx.subsByKey, key, connID)
	}
	delete(idx.keysByConn, connID)

	for pattern := range idx.patsByConn[connID] {
		removeFrom(idx.watchByPat, pattern, connID)
	}
	delete(idx.patsByConn, connID)
}

// StaleEntry is one member of a BatchListen response: a key whose
// server-side content no longer matches the md5 the client presented.
type StaleEntry struct {
	Key string
	MD5 string
}

// BatchListen registers connID's subscription for every key in entries
// and reports, from source, the subset whose current md5 differs from
// what the client holds. This is the warm-start reconciliation path: a
// client resubscribes after reconnecting and immediately learns what
// changed while it was away.
func (idx *Index) BatchListen(connID string, entries map[string]string, source MD5Source) []StaleEntry {
	idx.mu.Lock()
	for key := range entries {
		addTo(idx.subsByKey, key, connID)
		addTo(idx.keysByConn, connID, key)
	}
	idx.mu.Unlock()

	var stale []StaleEntry
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		clientMD5 := entries[key]
		serverMD5, ok := source.MD5For(key)
		if !ok || serverMD5 != clientMD5 {
			stale = append(stale, StaleEntry{Key: key, MD5: serverMD5})
		}
	}
	return stale
}

func addTo(m map[string]map[string]bool, outer, inner string) {
	set, ok := m[outer]
	if !ok {
		set = make(map[string]bool)
		m[outer] = set
	}
	set[inner] = true
}

func removeFrom(m map[string]map[string]bool, outer, inner string) {
	set, ok := m[outer]
	if !ok {
		return
	}
	delete(set, inner)
	if len(set) == 0 {
		delete(m, outer)
	}
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
