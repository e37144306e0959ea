// Package cluster tracks cluster membership and plans locality-aware
// replication.
//
// Registry runs a per-member state machine (Starting -> Up -> Suspicious
// -> Down, with Isolated reachable from any state via partition
// detection) using the same consecutive-failure/success counting pattern
// pkg/health applies to instance checks. Planner answers "which members
// should receive this write" by preferring local-datacenter members in
// descending locality weight, then remote-datacenter members by weight;
// SelectCrossDCTargets instead picks one member per remote datacenter by
// lowest latency. Sampler periodically measures local spare
// CPU/memory via gopsutil and feeds it back into the Registry as this
// node's locality weight.
package cluster
