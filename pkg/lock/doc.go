// Package lock implements the Distributed Lock and Session Manager: a
// TTL-based mutual-exclusion primitive and a session abstraction that ties
// a TTL context to a set of associated keys, releasing or deleting them on
// expiry per the session's configured behavior. Acquire/release/renew are
// log commands through the replicated log (pkg/consensus), so every
// voter agrees on the current owner and expiry of each entry.
package lock
