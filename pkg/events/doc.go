// Package events provides an in-memory, non-blocking pub/sub broker used
// to push state changes (config publishes, instance registrations, member
// state transitions) to connected clients without coupling the publisher
// to any particular transport.
//
// Publish enqueues onto a buffered channel; a single broadcast goroutine
// fans each event out to every subscriber's own buffered channel. A full
// subscriber buffer drops the event rather than blocking the broker.
package events
