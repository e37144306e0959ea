// Package health implements pluggable health checking for registered
// service instances. Checkers (tcp, http, exec; pkg/registry picks one
// per instance from its metadata, and unknown types fall back to an
// always-healthy checker) probe one instance and report a Result with
// the observed round-trip time.
//
// Scheduler drives one Checker per instance on a robfig/cron loop under
// a Probe policy: a per-check timeout, a consecutive-failure threshold
// before the instance flips unhealthy, and a post-registration grace
// window so slow-starting instances are not flagged while booting. On
// every flip it invokes a callback, which pkg/registry uses to update
// the Instance Registry and emit instance.health_changed events.
package health
