// Package metrics exposes Concord's Prometheus metrics: replicated-log
// health, AP convergence lag, config/instance counts, and health-check
// outcomes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster / membership metrics
	MembersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "concord_members_total",
			Help: "Total number of cluster members by state",
		},
		[]string{"state"},
	)

	// Replicated log (CP) metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "concord_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "concord_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "concord_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "concord_raft_apply_duration_seconds",
			Help:    "Time taken to apply a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Eventual-replication (AP) metrics
	DistroItemsOwned = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "concord_distro_items_owned",
			Help: "Number of AP items this node currently owns",
		},
	)

	DistroVerifyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "concord_distro_verify_duration_seconds",
			Help:    "Time taken for one Verify convergence round in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	DistroStaleResolved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "concord_distro_stale_resolved_total",
			Help: "Total number of stale keys resolved via Sync after Verify",
		},
	)

	// Config store metrics
	ConfigItemsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "concord_config_items_total",
			Help: "Total number of configuration items",
		},
	)

	ConfigPublishDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "concord_config_publish_duration_seconds",
			Help:    "Time taken to publish a configuration item in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Instance registry / health-check metrics
	InstancesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "concord_instances_total",
			Help: "Total number of registered instances by health and ephemeral flag",
		},
		[]string{"healthy", "ephemeral"},
	)

	HealthChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concord_health_checks_total",
			Help: "Total number of health checks run by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	HealthCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "concord_health_check_duration_seconds",
			Help:    "Health check duration in seconds by type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	// Transport metrics
	ConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "concord_connections_active",
			Help: "Number of currently registered stream connections",
		},
	)

	PushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concord_pushes_total",
			Help: "Total number of server pushes by outcome",
		},
		[]string{"outcome"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concord_requests_total",
			Help: "Total number of handled requests by type and status",
		},
		[]string{"type", "status"},
	)

	// Lock / session metrics
	LocksHeld = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "concord_locks_held",
			Help: "Number of currently held locks",
		},
	)

	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "concord_sessions_active",
			Help: "Number of currently active sessions",
		},
	)
)

func init() {
	prometheus.MustRegister(
		MembersTotal,
		RaftLeader,
		RaftPeers,
		RaftAppliedIndex,
		RaftApplyDuration,
		DistroItemsOwned,
		DistroVerifyDuration,
		DistroStaleResolved,
		ConfigItemsTotal,
		ConfigPublishDuration,
		InstancesTotal,
		HealthChecksTotal,
		HealthCheckDuration,
		ConnectionsActive,
		PushesTotal,
		RequestsTotal,
		LocksHeld,
		SessionsActive,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
