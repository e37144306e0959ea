package distro

import (
	"hash/fnv"
	"sort"
)

// OwnerOf deterministically maps key to exactly one of the sorted live
// member ids via rendezvous (highest-random-weight) hashing: the member
// whose combined hash with key is largest owns it. Rendezvous hashing
// keeps ownership stable under roster churn — only keys owned by a
// member that leaves or joins change hands, unlike modulo hashing.
func OwnerOf(key string, liveMemberIDs []string) string {
	if len(liveMemberIDs) == 0 {
		return ""
	}

	sorted := make([]string, len(liveMemberIDs))
	copy(sorted, liveMemberIDs)
	sort.Strings(sorted)

	var owner string
	var best uint64
	for _, id := range sorted {
		h := fnv1a(key + "\x00" + id)
		if owner == "" || h > best {
			owner, best = id, h
		}
	}
	return owner
}

func fnv1a(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
