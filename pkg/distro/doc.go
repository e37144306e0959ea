// Package distro implements Concord's eventually-consistent replication
// protocol for ephemeral data: service instance heartbeats and anything
// else that tolerates brief staleness in exchange for availability during
// a partition.
//
// Each key maps to exactly one owner via a rendezvous hash over the
// sorted live member roster (OwnerOf); only the owner mints new versions.
// Distro.PutLocal/Get/Tombstone are the local-node API; HandleSync,
// HandleVerify, and HandleSnapshot answer the three peer messages
// (Sync/Verify/Snapshot) the protocol exchanges. ConvergenceLoop drives
// the periodic Verify-then-Sync round against every live peer on a
// robfig/cron schedule and sweeps tombstones past their retention
// window, grounded on the same ticker-loop shape pkg/health's Scheduler
// uses for health checks.
//
// ItemStore is pluggable: MemoryStore is the default, RedisStore backs
// the same interface with a shared go-redis/v8 instance for a
// multi-process deployment where the AP set must survive a restart.
package distro
