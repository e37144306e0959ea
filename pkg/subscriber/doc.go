// Package subscriber implements the Subscriber/Watcher Index: per-key exact
// subscriptions and glob-pattern watches, keyed off connection id the way
// pkg/events tracks a channel per subscriber. It backs change-listening for
// all three wire-protocol fronts, including Apollo-style long-poll
// reconciliation via batch listen.
package subscriber
