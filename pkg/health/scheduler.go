package health

import (
	"context"
	"sync"
	"time"

	"github.com/concordkv/concord/pkg/clog"
	"github.com/concordkv/concord/pkg/metrics"
	"github.com/robfig/cron/v3"
)

// InstanceKey identifies the instance a checker result belongs to.
type InstanceKey = string

// OnTransition is called whenever an instance's healthy flag flips.
type OnTransition func(key InstanceKey, healthy bool, result Result)

// State is a snapshot of one instance's tracked health, as of its most
// recent check.
type State struct {
	Healthy             bool
	ConsecutiveFailures int
	LastChecked         time.Time
	LastResult          Result
}

// Scheduler runs one Checker per registered instance on a cron schedule
// and reports transitions to the registry via OnTransition. An instance
// starts healthy and stays so until Probe.FailAfter consecutive checks
// fail; one success flips it back.
type Scheduler struct {
	mu       sync.Mutex
	checks   map[InstanceKey]*scheduledCheck
	cron     *cron.Cron
	onChange OnTransition
}

type scheduledCheck struct {
	checker Checker
	probe   Probe
	entryID cron.EntryID

	registeredAt time.Time
	healthy      bool
	failures     int
	lastChecked  time.Time
	lastResult   Result
}

// NewScheduler creates a scheduler that invokes onChange whenever a
// checker flips an instance's healthy flag.
func NewScheduler(onChange OnTransition) *Scheduler {
	return &Scheduler{
		checks:   make(map[InstanceKey]*scheduledCheck),
		cron:     cron.New(cron.WithSeconds()),
		onChange: onChange,
	}
}

// Start begins the cron loop.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Register schedules periodic checks for an instance, replacing any
// existing check for the same key. Unset Probe fields take defaults.
func (s *Scheduler) Register(key InstanceKey, checker Checker, probe Probe) error {
	s.Unregister(key)

	sc := &scheduledCheck{
		checker:      checker,
		probe:        probe.withDefaults(),
		registeredAt: time.Now(),
		healthy:      true,
	}

	entryID, err := s.cron.AddFunc(intervalSpec(sc.probe.Every), func() { s.run(key) })
	if err != nil {
		return err
	}
	sc.entryID = entryID

	s.mu.Lock()
	s.checks[key] = sc
	s.mu.Unlock()
	return nil
}

// Unregister stops checking an instance.
func (s *Scheduler) Unregister(key InstanceKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sc, ok := s.checks[key]; ok {
		s.cron.Remove(sc.entryID)
		delete(s.checks, key)
	}
}

// Status returns the tracked health snapshot for an instance.
func (s *Scheduler) Status(key InstanceKey) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.checks[key]
	if !ok {
		return State{}, false
	}
	return State{
		Healthy:             sc.healthy,
		ConsecutiveFailures: sc.failures,
		LastChecked:         sc.lastChecked,
		LastResult:          sc.lastResult,
	}, true
}

func (s *Scheduler) run(key InstanceKey) {
	s.mu.Lock()
	sc, ok := s.checks[key]
	s.mu.Unlock()
	if !ok || time.Since(sc.registeredAt) < sc.probe.Grace {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sc.probe.Timeout)
	result := sc.checker.Check(ctx)
	cancel()

	outcome := "success"
	if !result.Healthy {
		outcome = "failure"
	}
	metrics.HealthChecksTotal.WithLabelValues(sc.checker.Type(), outcome).Inc()
	metrics.HealthCheckDuration.WithLabelValues(sc.checker.Type()).Observe(result.RTT.Seconds())

	s.mu.Lock()
	if s.checks[key] != sc { // unregistered or replaced while the check ran
		s.mu.Unlock()
		return
	}
	wasHealthy := sc.healthy
	sc.lastChecked = time.Now()
	sc.lastResult = result
	if result.Healthy {
		sc.failures = 0
		sc.healthy = true
	} else {
		sc.failures++
		if sc.failures >= sc.probe.FailAfter {
			sc.healthy = false
		}
	}
	nowHealthy := sc.healthy
	s.mu.Unlock()

	if nowHealthy != wasHealthy {
		logger := clog.WithKey(key)
		logger.Info().Bool("healthy", nowHealthy).Str("detail", result.Message).Msg("instance health transition")
		if s.onChange != nil {
			s.onChange(key, nowHealthy, result)
		}
	}
}

// intervalSpec converts a plain interval into a robfig/cron "@every"
// spec, clamped to the scheduler's 1s granularity.
func intervalSpec(d time.Duration) string {
	if d < time.Second {
		d = time.Second
	}
	return "@every " + d.Truncate(time.Second).String()
}
