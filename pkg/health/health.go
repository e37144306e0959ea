package health

import (
	"context"
	"time"
)

// Checker probes one registered service instance. Implementations are
// looked up by type string through the checker factory in pkg/registry;
// unknown types degrade to the always-healthy NONE checker there.
type Checker interface {
	// Check probes the instance once. The context carries the per-check
	// deadline the Scheduler's Probe imposes.
	Check(ctx context.Context) Result

	// Type is the factory string this checker registered under
	// ("tcp", "http", "exec", "none", or a custom type).
	Type() string
}

// Result is one probe outcome: whether the instance answered, a detail
// line for operators, and the observed round-trip time.
type Result struct {
	Healthy bool
	Message string
	RTT     time.Duration
}

// Probe controls how the Scheduler drives one instance's checker. The
// zero value is usable; missing fields fall back to the defaults below
// at registration time.
type Probe struct {
	// Every is the cadence between checks.
	Every time.Duration

	// Timeout bounds a single check.
	Timeout time.Duration

	// FailAfter is how many consecutive failed checks flip the instance
	// to unhealthy. A single success flips it back.
	FailAfter int

	// Grace suppresses checks for a window after registration, so a
	// slow-starting instance is not declared unhealthy while it boots.
	Grace time.Duration
}

func (p Probe) withDefaults() Probe {
	if p.Every <= 0 {
		p.Every = 30 * time.Second
	}
	if p.Timeout <= 0 {
		p.Timeout = 10 * time.Second
	}
	if p.FailAfter <= 0 {
		p.FailAfter = 3
	}
	return p
}
