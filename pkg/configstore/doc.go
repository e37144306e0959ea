// Package configstore implements the Config Store: CRUD over configuration
// items identified by (namespace, group, data-id), an append-only history
// with retention/compaction, gray-release matching, and fuzzy-pattern
// listing. Writes go through the replicated log (pkg/consensus) so every
// voter converges on identical configuration state; reads are served
// locally from the log's durable store.
package configstore
