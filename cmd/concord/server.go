package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/concordkv/concord/pkg/authgate"
	"github.com/concordkv/concord/pkg/clog"
	"github.com/concordkv/concord/pkg/cluster"
	"github.com/concordkv/concord/pkg/configstore"
	"github.com/concordkv/concord/pkg/consensus"
	"github.com/concordkv/concord/pkg/distro"
	"github.com/concordkv/concord/pkg/health"
	"github.com/concordkv/concord/pkg/lock"
	"github.com/concordkv/concord/pkg/metrics"
	"github.com/concordkv/concord/pkg/registry"
	"github.com/concordkv/concord/pkg/subscriber"
	"github.com/concordkv/concord/pkg/transport"
	"github.com/concordkv/concord/pkg/types"
	goredis "github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"
)

// node bundles every wired component so shutdown can unwind them in the
// reverse order they were started.
type node struct {
	mgr         *consensus.Manager
	clusterReg  *cluster.Registry
	sampler     *cluster.Sampler
	healthSched *health.Scheduler
	convergence *distro.ConvergenceLoop
	notifier    *transport.Notifier
	server      *transport.Server
	healthSrv   *transport.HealthServer
	collector   *metrics.Collector
	sweeper     *cron.Cron
}

func runServer(cfg config) error {
	clog.Init(clog.Config{Level: clog.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	log := clog.WithComponent("cmd")

	if cfg.Mode == "console-only" {
		log.Warn().Msg("console-only mode requested, but the management console is an external collaborator this build does not implement; exiting")
		return nil
	}

	n, err := bootstrapNode(cfg)
	if err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}

	errCh := make(chan error, 3)
	go func() { errCh <- n.server.Start(cfg.ClientAddr) }()
	go func() { errCh <- n.server.StartInternal(cfg.InternalAddr) }()
	go func() { errCh <- n.healthSrv.Start(cfg.HealthAddr) }()

	log.Info().
		Str("node_id", cfg.NodeID).
		Str("client_addr", cfg.ClientAddr).
		Str("internal_addr", cfg.InternalAddr).
		Str("health_addr", cfg.HealthAddr).
		Str("mode", cfg.Mode).
		Msg("concord node ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)

	for {
		select {
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("shutting down")
			shutdown(n)
			return nil
		case <-hupCh:
			reload(cfg)
		case err := <-errCh:
			if err != nil {
				log.Error().Err(err).Msg("a listener stopped unexpectedly")
				shutdown(n)
				return &runtimeError{err: err}
			}
		}
	}
}

// reload reapplies the log level from the configuration loaded at
// startup. It does not read the config file or the environment again,
// and it leaves health-check intervals unchanged. Identity, ports, and
// storage paths require a restart.
func reload(cfg config) {
	clog.SetLevel(clog.Level(cfg.LogLevel))
	clog.Logger.Info().Msg("reloaded log level on SIGHUP")
}

func shutdown(n *node) {
	n.server.Stop()
	<-n.sweeper.Stop().Done()
	n.notifier.Stop()
	n.convergence.Stop()
	n.healthSched.Stop()
	n.sampler.Stop()
	n.collector.Stop()
	if err := n.mgr.Shutdown(); err != nil {
		clog.Logger.Warn().Err(err).Msg("error during replicated log shutdown")
	}
}

func bootstrapNode(cfg config) (*node, error) {
	log := clog.WithComponent("cmd")

	mgr, err := consensus.NewManager(&consensus.Config{NodeID: cfg.NodeID, BindAddr: cfg.BindAddr, DataDir: cfg.DataDir})
	if err != nil {
		return nil, fmt.Errorf("failed to create replicated log: %w", err)
	}

	if cfg.Join == "" {
		if err := mgr.Bootstrap(); err != nil {
			return nil, fmt.Errorf("failed to bootstrap cluster: %w", err)
		}
	} else {
		if err := mgr.JoinSelf(); err != nil {
			return nil, fmt.Errorf("failed to start raft for join: %w", err)
		}
		if err := requestJoin(cfg); err != nil {
			return nil, fmt.Errorf("failed to join cluster through %s: %w", cfg.Join, err)
		}
	}

	broker := mgr.GetEventBroker()

	configStore := configstore.NewStore(mgr, broker,
		configstore.WithMaxContentSize(cfg.MaxContentSize),
		configstore.WithHistoryRetention(cfg.HistoryRetention),
	)

	clusterReg := cluster.NewRegistry(broker, cfg.SuspiciousAfter, cfg.DownAfter)
	selfHost, selfPort := splitHostPort(cfg.BindAddr)
	clusterReg.Join(&types.Member{ID: cfg.NodeID, Host: selfHost, Port: selfPort, Locality: types.Locality{Datacenter: cfg.LocalDC}})
	clusterReg.Heartbeat(cfg.NodeID)

	planner := cluster.NewPlanner(clusterReg, cfg.LocalDC)
	sampler := cluster.NewSampler(clusterReg, cfg.NodeID, cfg.SampleInterval)
	sampler.Start()

	itemStore := newItemStore(cfg)
	peerClient := transport.NewPeerClient(clusterReg, cfg.ClusterIdentity)
	distroInst := distro.NewDistro(cfg.NodeID, itemStore, clusterReg, peerClient)
	distroInst.SetPlanner(planner, 3)

	convergence := distro.NewConvergenceLoop(distroInst, clusterReg, cfg.NodeID, cfg.VerifyInterval, cfg.TombstoneRetention)
	convergence.Start()

	var instReg *registry.Registry
	healthSched := health.NewScheduler(func(key health.InstanceKey, healthy bool, result health.Result) {
		if instReg != nil {
			instReg.ApplyHealthTransition(key, healthy)
		}
	})
	healthSched.Start()

	instReg = registry.NewRegistry(mgr, distroInst, healthSched, broker, cfg.EphemeralTTL)
	lockMgr := lock.NewManager(mgr, broker, configStore)
	index := subscriber.NewIndex()
	conns := transport.NewConnectionRegistry()
	gate := authgate.NewGate(cfg.AuthSecret, cfg.ClusterIdentity)
	dispatcher := transport.NewDispatcher(gate)

	handlers := &transport.Handlers{
		Config:    configStore,
		Instances: instReg,
		Locks:     lockMgr,
		Distro:    distroInst,
		Index:     index,
		Conns:     conns,
		Cluster:   mgr,
	}
	handlers.RegisterAll(dispatcher)

	notifier := transport.NewNotifier(broker, index, conns, configStore)
	notifier.Start()

	server := transport.NewServer(dispatcher, conns)
	healthSrv := transport.NewHealthServer(mgr)

	collector := metrics.NewCollector(clusterReg, instReg, configStore, 15*time.Second)
	collector.Start()

	// Ephemeral-TTL and session-expiry sweeps share one cron scheduler,
	// the same cadence mechanism the convergence loop runs on.
	sweeper := cron.New()
	sweeper.AddFunc("@every "+cfg.EphemeralTTL.String(), instReg.SweepExpiredEphemeral)        //nolint:errcheck // built from a valid Duration
	sweeper.AddFunc("@every "+cfg.SessionSweepInterval.String(), lockMgr.SweepExpiredSessions) //nolint:errcheck
	sweeper.Start()

	log.Info().Str("node_id", cfg.NodeID).Msg("components wired")

	return &node{
		mgr:         mgr,
		clusterReg:  clusterReg,
		sampler:     sampler,
		healthSched: healthSched,
		convergence: convergence,
		notifier:    notifier,
		server:      server,
		healthSrv:   healthSrv,
		collector:   collector,
		sweeper:     sweeper,
	}, nil
}

func newItemStore(cfg config) distro.ItemStore {
	if cfg.RedisAddr == "" {
		return distro.NewMemoryStore()
	}
	client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
	return distro.NewRedisStore(client, cfg.RedisPrefix)
}

func requestJoin(cfg config) error {
	client, conn, err := dialTransport(cfg.Join)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = unaryCall[struct{}](client, cfg.ClusterIdentity, transport.TypeClusterJoin, transport.ClusterJoinRequest{
		NodeID:  cfg.NodeID,
		Address: cfg.BindAddr,
		Token:   cfg.JoinToken,
	})
	return err
}

func splitHostPort(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	return host, atoiPortOrZero(portStr)
}

func atoiPortOrZero(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}
