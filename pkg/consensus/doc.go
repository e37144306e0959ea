// Package consensus replicates Concord's strongly-consistent state —
// configuration items and history, persistent service instances, locks,
// and sessions — across the cluster using HashiCorp Raft.
//
// Manager owns one node's *raft.Raft and durable storage.Store. Writes go
// through Apply, which marshals a Command and submits it to the Raft log;
// FSM.Apply is the single place committed commands mutate the store, so
// every voter's store converges on identical state regardless of which
// node accepted the write. Reads never cross Raft: callers read directly
// from the local store, which is safe for followers serving
// read-your-own-writes-tolerant queries and required for the leader to
// avoid round-tripping every read through consensus.
//
// A node that is not the leader rejects Apply with a types.Error of kind
// KindNotLeader carrying the current leader's address as a hint, so the
// transport layer can redirect the client without retry storms.
package consensus
