package distro

import (
	"context"
	"time"

	"github.com/concordkv/concord/pkg/clog"
	"github.com/concordkv/concord/pkg/metrics"
	"github.com/robfig/cron/v3"
)

// ConvergenceLoop periodically runs VerifyRound against every live peer
// and sweeps aged tombstones, on a robfig/cron schedule.
type ConvergenceLoop struct {
	distro             *Distro
	roster             RosterSource
	selfID             string
	tombstoneRetention time.Duration
	cron               *cron.Cron
}

// NewConvergenceLoop creates a convergence loop. verifyInterval controls
// how often each peer is verified; tombstoneRetention controls how long
// a deleted key's tombstone survives before being swept (default 24h if
// zero).
func NewConvergenceLoop(d *Distro, roster RosterSource, selfID string, verifyInterval, tombstoneRetention time.Duration) *ConvergenceLoop {
	if tombstoneRetention <= 0 {
		tombstoneRetention = 24 * time.Hour
	}
	if verifyInterval <= 0 {
		verifyInterval = 10 * time.Second
	}

	c := &ConvergenceLoop{
		distro:             d,
		roster:             roster,
		selfID:             selfID,
		tombstoneRetention: tombstoneRetention,
		cron:               cron.New(),
	}

	spec := "@every " + verifyInterval.String()
	_, _ = c.cron.AddFunc(spec, c.runRound)
	return c
}

// Start begins the cron loop.
func (c *ConvergenceLoop) Start() {
	c.cron.Start()
}

// Stop halts the cron loop.
func (c *ConvergenceLoop) Stop() {
	<-c.cron.Stop().Done()
}

func (c *ConvergenceLoop) runRound() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DistroVerifyDuration)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, peerID := range c.roster.LiveMemberIDs() {
		if peerID == c.selfID {
			continue
		}
		resolved, err := c.distro.VerifyRound(ctx, peerID)
		if err != nil {
			clog.Logger.Warn().Str("peer_id", peerID).Err(err).Msg("verify round failed")
			continue
		}
		metrics.DistroStaleResolved.Add(float64(resolved))
	}

	c.distro.SweepTombstones(c.tombstoneRetention)
	metrics.DistroItemsOwned.Set(float64(len(c.distro.localDigest())))
}
